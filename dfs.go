package dexstruct

import (
	"iter"

	"github.com/bits-and-blooms/bitset"
)

// DFS yields the blocks reachable from start in depth-first preorder,
// each exactly once. succ supplies the outgoing edges of a block; successors
// are visited left to right.
func DFS(start int, succ func(int) []int) iter.Seq[int] {
	return func(yield func(int) bool) {
		visited := bitset.New(64)
		stack := newBlockStack(16)
		stack.push(start)
		for !stack.empty() {
			id := stack.pop()
			if visited.Test(uint(id)) {
				continue
			}
			visited.Set(uint(id))
			if !yield(id) {
				return
			}
			stack.pushReversed(succ(id))
		}
	}
}

// PostOrder returns the blocks reachable from start in depth-first
// postorder, following succ left to right.
func PostOrder(start int, succ func(int) []int) []int {
	visited := bitset.New(64)
	var out []int
	type frame struct {
		id   int
		next int
	}
	stack := []frame{{id: start}}
	visited.Set(uint(start))
	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		succs := succ(top.id)
		if top.next < len(succs) {
			s := succs[top.next]
			top.next++
			if !visited.Test(uint(s)) {
				visited.Set(uint(s))
				stack = append(stack, frame{id: s})
			}
			continue
		}
		out = append(out, top.id)
		stack = stack[:len(stack)-1]
	}
	return out
}
