package dexstruct

// blockStack implements a simple stack of block ids.
type blockStack struct {
	data []int
}

func newBlockStack(capacity int) *blockStack {
	return &blockStack{
		data: make([]int, 0, capacity),
	}
}

// push adds a block to the top of the stack.
func (s *blockStack) push(id int) {
	s.data = append(s.data, id)
}

// pushReversed pushes ids so that ids[0] ends on top.
func (s *blockStack) pushReversed(ids []int) {
	for i := len(ids) - 1; i >= 0; i-- {
		s.data = append(s.data, ids[i])
	}
}

// pop removes and returns the top block.
// Panics if stack is empty.
func (s *blockStack) pop() int {
	if len(s.data) == 0 {
		panic("block stack underflow")
	}
	v := s.data[len(s.data)-1]
	s.data = s.data[:len(s.data)-1]
	return v
}

// empty checks if the stack is empty.
func (s *blockStack) empty() bool {
	return len(s.data) == 0
}
