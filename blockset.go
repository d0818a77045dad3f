package dexstruct

import (
	"iter"
	"strconv"
	"strings"

	"github.com/bits-and-blooms/bitset"
)

// BlockSet is a set of block ids sized to a method's block count.
// Iteration is always in ascending id order.
type BlockSet struct {
	bits *bitset.BitSet
}

// NewBlockSet returns an empty set able to hold ids in [0, n).
func NewBlockSet(n int) BlockSet {
	return BlockSet{bits: bitset.New(uint(n))}
}

// BlockSetOf returns a set of capacity n holding ids.
func BlockSetOf(n int, ids ...int) BlockSet {
	s := NewBlockSet(n)
	for _, id := range ids {
		s.Add(id)
	}
	return s
}

func (s BlockSet) Add(id int) { s.bits.Set(uint(id)) }

func (s BlockSet) Remove(id int) { s.bits.Clear(uint(id)) }

func (s BlockSet) Contains(id int) bool {
	return s.bits != nil && s.bits.Test(uint(id))
}

// AddChecked adds id and reports whether it was absent.
func (s BlockSet) AddChecked(id int) bool {
	if s.bits.Test(uint(id)) {
		return false
	}
	s.bits.Set(uint(id))
	return true
}

func (s BlockSet) AddAll(ids []int) {
	for _, id := range ids {
		s.bits.Set(uint(id))
	}
}

// Union adds every member of o.
func (s BlockSet) Union(o BlockSet) {
	s.bits.InPlaceUnion(o.bits)
}

// Intersect keeps only members also in o.
func (s BlockSet) Intersect(o BlockSet) {
	s.bits.InPlaceIntersection(o.bits)
}

// Subtract removes every member of o.
func (s BlockSet) Subtract(o BlockSet) {
	s.bits.InPlaceDifference(o.bits)
}

// Intersects reports whether the sets share a member.
func (s BlockSet) Intersects(o BlockSet) bool {
	return s.bits.IntersectionCardinality(o.bits) > 0
}

func (s BlockSet) Len() int {
	if s.bits == nil {
		return 0
	}
	return int(s.bits.Count())
}

func (s BlockSet) Empty() bool { return s.Len() == 0 }

// First returns the smallest member or -1.
func (s BlockSet) First() int {
	if s.bits == nil {
		return -1
	}
	i, ok := s.bits.NextSet(0)
	if !ok {
		return -1
	}
	return int(i)
}

// One returns the only member, or -1 if the set does not hold exactly one.
func (s BlockSet) One() int {
	if s.Len() != 1 {
		return -1
	}
	return s.First()
}

func (s BlockSet) Clone() BlockSet {
	return BlockSet{bits: s.bits.Clone()}
}

func (s BlockSet) Equal(o BlockSet) bool {
	return s.bits.Equal(o.bits)
}

func (s BlockSet) ForEach(fn func(id int)) {
	if s.bits == nil {
		return
	}
	for i, ok := s.bits.NextSet(0); ok; i, ok = s.bits.NextSet(i + 1) {
		fn(int(i))
	}
}

func (s BlockSet) ToList() []int {
	out := make([]int, 0, s.Len())
	s.ForEach(func(id int) { out = append(out, id) })
	return out
}

// All yields members in ascending order.
func (s BlockSet) All() iter.Seq[int] {
	return func(yield func(int) bool) {
		if s.bits == nil {
			return
		}
		for i, ok := s.bits.NextSet(0); ok; i, ok = s.bits.NextSet(i + 1) {
			if !yield(int(i)) {
				return
			}
		}
	}
}

func (s BlockSet) String() string {
	var b strings.Builder
	b.WriteByte('{')
	for i, id := range s.ToList() {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Itoa(id))
	}
	b.WriteByte('}')
	return b.String()
}
