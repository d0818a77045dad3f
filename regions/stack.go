package regions

import (
	mapset "github.com/deckarep/golang-set/v2"
)

// regionStack tracks the blocks where traversal of the current region must
// stop. Entering a region pushes a copy of the exit set; leaving restores
// the outer one.
type regionStack struct {
	exits  mapset.Set[int]
	loops  []int
	states []stackState
}

type stackState struct {
	exits mapset.Set[int]
	loops int
}

func newRegionStack() *regionStack {
	return &regionStack{exits: mapset.NewThreadUnsafeSet[int]()}
}

func (s *regionStack) push() {
	s.states = append(s.states, stackState{exits: s.exits, loops: len(s.loops)})
	s.exits = s.exits.Clone()
}

func (s *regionStack) pop() {
	top := s.states[len(s.states)-1]
	s.states = s.states[:len(s.states)-1]
	s.exits = top.exits
	s.loops = s.loops[:top.loops]
}

func (s *regionStack) addExit(b int) {
	if b >= 0 {
		s.exits.Add(b)
	}
}

func (s *regionStack) containsExit(b int) bool {
	return b >= 0 && s.exits.Contains(b)
}

// enterLoop records a loop whose body is being built.
func (s *regionStack) enterLoop(header int) {
	s.loops = append(s.loops, header)
}

func (s *regionStack) inLoop(header int) bool {
	for _, h := range s.loops {
		if h == header {
			return true
		}
	}
	return false
}
