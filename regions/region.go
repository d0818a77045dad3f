// Package regions rebuilds structured control flow from a method's block
// graph: sequences, conditions, switches, loops, synchronized blocks and
// try/catch regions.
package regions

import (
	ds "github.com/dexstruct/dexstruct"
)

// Region is a node of the region tree. The set of implementations is
// closed: *Sequence, *Leaf, *Condition, *Switch, *Loop, *Break,
// *Synchronized and *TryCatch.
type Region interface {
	region()
}

// Sequence runs its items in order.
type Sequence struct {
	Items []Region
}

// Leaf is one basic block emitted as straight-line code.
type Leaf struct {
	Block int
}

// Condition is an if/else over the branch ending block Header. Then runs
// when the branch condition holds, or when it fails if Inverted is set.
// Else may be nil.
//
// A compound condition lists its branch blocks in Terms, Header first,
// joined by Op.
type Condition struct {
	Header   int
	Terms    []CondTerm
	Op       CondOp
	Then     *Sequence
	Else     *Sequence
	Inverted bool
}

// CondOp joins the terms of a compound condition.
type CondOp uint8

const (
	CondAnd CondOp = iota
	CondOr
)

func (o CondOp) String() string {
	if o == CondOr {
		return "||"
	}
	return "&&"
}

// CondTerm is the branch ending Block, negated when Negated is set.
type CondTerm struct {
	Block   int
	Negated bool
}

func (c *Condition) hasTerm(b int) bool {
	for _, t := range c.Terms {
		if t.Block == b {
			return true
		}
	}
	return false
}

func (c *Condition) lastBlock() int {
	if len(c.Terms) == 0 {
		return c.Header
	}
	return c.Terms[len(c.Terms)-1].Block
}

func (c *Condition) terms() []int {
	out := make([]int, len(c.Terms))
	for i, t := range c.Terms {
		out[i] = t.Block
	}
	return out
}

// normalize pushes the inversion of a compound condition into its terms.
func (c *Condition) normalize() {
	if len(c.Terms) == 0 || !c.Inverted {
		return
	}
	c.Inverted = false
	if c.Op == CondAnd {
		c.Op = CondOr
	} else {
		c.Op = CondAnd
	}
	for i := range c.Terms {
		c.Terms[i].Negated = !c.Terms[i].Negated
	}
}

// Case is one arm of a switch. Keys keep their order in the switch table.
type Case struct {
	Keys []int64
	Body *Sequence
}

// Switch dispatches on the switch ending block Header.
type Switch struct {
	Header  int
	Cases   []*Case
	Default *Sequence
}

// LoopType is the reconstructed shape of a loop.
type LoopType uint8

const (
	// LoopWhile is a plain pre- or post-tested loop, or an endless one.
	LoopWhile LoopType = iota
	// LoopFor has its induction init and update hoisted into the header.
	LoopFor
	// LoopIndexed matches the for shape but keeps explicit index
	// bookkeeping because the induction variable escapes.
	LoopIndexed
	// LoopForEach iterates an array or an Iterable.
	LoopForEach
)

func (t LoopType) String() string {
	switch t {
	case LoopWhile:
		return "while"
	case LoopFor:
		return "for"
	case LoopIndexed:
		return "indexed"
	case LoopForEach:
		return "foreach"
	default:
		return "loop?"
	}
}

// ForInfo describes the induction variable of a for or indexed loop.
type ForInfo struct {
	Var  ds.VarID
	Init *ds.Insn
	Incr *ds.Insn
}

// ForEachInfo describes a for-each loop. Iterable is the array or
// collection operand; Skipped are the bookkeeping instructions the loop
// header absorbs.
type ForEachInfo struct {
	Item     ds.VarID
	Iterable *ds.Arg
	Array    bool
	Skipped  []*ds.Insn
}

// Loop is a natural loop. Header is the block holding the loop test, or -1
// for an endless loop; Start is the loop's entry block. PreCondition lists
// instructions of the test block executed every iteration before the test,
// and Condition the instructions folded into the test, the branch last.
// When ConditionAtEnd is set the test block closes the body, so
// PreCondition runs after Body.
type Loop struct {
	Type           LoopType
	Start          int
	Header         int
	PreCondition   []*ds.Insn
	Condition      []*ds.Insn
	ConditionAtEnd bool
	Inverted       bool
	Body           *Sequence
	For            *ForInfo
	ForEach        *ForEachInfo
}

// Break leaves the loop entered at block Loop from the middle of its body.
// Labeled is set when inner loops are left along with it.
type Break struct {
	Loop    int
	Labeled bool
}

// Synchronized holds the code run while the monitor taken by Enter is
// held. Exit is the release on the normal path; Handler, when set, is the
// compiler-made catch-all that releases the monitor and rethrows.
type Synchronized struct {
	Enter   *ds.Insn
	Exit    *ds.Insn
	Body    *Sequence
	Handler *Sequence
}

// Catch is one handler of a try region.
type Catch struct {
	Handler *ds.Handler
	Body    *Sequence
}

// TryCatch wraps the protected region of a try block with its handlers.
// Finally is set when the catch-all handler was recognised as a finally
// block and its inlined copies removed.
type TryCatch struct {
	TryBlock *ds.TryBlock
	Try      *Sequence
	Handlers []*Catch
	Finally  *Catch
}

func (*Sequence) region()     {}
func (*Leaf) region()         {}
func (*Condition) region()    {}
func (*Switch) region()       {}
func (*Loop) region()         {}
func (*Break) region()        {}
func (*Synchronized) region() {}
func (*TryCatch) region()     {}

// Walk visits r and its descendants depth first. Returning false from fn
// skips the children of the visited region.
func Walk(r Region, fn func(Region) bool) {
	if r == nil || !fn(r) {
		return
	}
	switch n := r.(type) {
	case *Sequence:
		if n == nil {
			return
		}
		for _, it := range n.Items {
			Walk(it, fn)
		}
	case *Leaf, *Break:
	case *Condition:
		walkSeq(n.Then, fn)
		walkSeq(n.Else, fn)
	case *Switch:
		for _, c := range n.Cases {
			walkSeq(c.Body, fn)
		}
		walkSeq(n.Default, fn)
	case *Loop:
		walkSeq(n.Body, fn)
	case *Synchronized:
		walkSeq(n.Body, fn)
		walkSeq(n.Handler, fn)
	case *TryCatch:
		walkSeq(n.Try, fn)
		for _, c := range n.Handlers {
			walkSeq(c.Body, fn)
		}
		if n.Finally != nil {
			walkSeq(n.Finally.Body, fn)
		}
	default:
		panic("unknown region type")
	}
}

func walkSeq(s *Sequence, fn func(Region) bool) {
	if s != nil {
		Walk(s, fn)
	}
}

// OwnedBlocks returns the blocks r itself stands for, excluding children:
// the block of a leaf, the branch blocks of a condition and the branch
// block of a switch or tested loop.
func OwnedBlocks(r Region) []int {
	switch n := r.(type) {
	case *Leaf:
		return []int{n.Block}
	case *Condition:
		if len(n.Terms) == 0 {
			return []int{n.Header}
		}
		return n.terms()
	case *Switch:
		return []int{n.Header}
	case *Loop:
		if n.Header >= 0 {
			return []int{n.Header}
		}
	}
	return nil
}

// Entry returns the first block control reaches in r, or -1 for an empty
// region.
func Entry(r Region) int {
	switch n := r.(type) {
	case *Sequence:
		for _, it := range n.Items {
			if e := Entry(it); e >= 0 {
				return e
			}
		}
		return -1
	case *Leaf:
		return n.Block
	case *Condition:
		return n.Header
	case *Switch:
		return n.Header
	case *Loop:
		return n.Start
	case *Synchronized:
		return Entry(n.Body)
	case *TryCatch:
		return Entry(n.Try)
	}
	return -1
}

// Loops returns every loop region in r in preorder.
func Loops(r Region) []*Loop {
	var out []*Loop
	Walk(r, func(x Region) bool {
		if l, ok := x.(*Loop); ok {
			out = append(out, l)
		}
		return true
	})
	return out
}
