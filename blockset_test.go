package dexstruct

import (
	"slices"
	"testing"

	"github.com/google/go-cmp/cmp"
	"pgregory.net/rapid"
)

func TestBlockSet_Basics(t *testing.T) {
	s := BlockSetOf(8, 5, 1, 3)
	if diff := cmp.Diff([]int{1, 3, 5}, s.ToList()); diff != "" {
		t.Errorf("ToList mismatch (-want +got):\n%s", diff)
	}
	if s.String() != "{1,3,5}" || s.First() != 1 || s.One() != -1 {
		t.Errorf("unexpected set %s first=%d one=%d", s, s.First(), s.One())
	}
	if s.AddChecked(3) || !s.AddChecked(4) {
		t.Error("AddChecked should report only new members")
	}

	o := BlockSetOf(8, 4, 6)
	if !s.Intersects(o) {
		t.Error("sets share 4")
	}
	c := s.Clone()
	c.Subtract(o)
	if c.Contains(4) || !s.Contains(4) {
		t.Error("Clone must not share storage")
	}

	var zero BlockSet
	if zero.Len() != 0 || zero.First() != -1 || zero.Contains(0) {
		t.Error("zero set should be empty")
	}
	for range zero.All() {
		t.Fatal("zero set has no members")
	}
}

func TestBlockSet_Model(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		const n = 64
		a, b := NewBlockSet(n), NewBlockSet(n)
		ma, mb := map[int]bool{}, map[int]bool{}
		for _, id := range rapid.SliceOf(rapid.IntRange(0, n-1)).Draw(t, "a") {
			a.Add(id)
			ma[id] = true
		}
		for _, id := range rapid.SliceOf(rapid.IntRange(0, n-1)).Draw(t, "b") {
			b.Add(id)
			mb[id] = true
		}

		var union, inter, diff []int
		for i := 0; i < n; i++ {
			if ma[i] || mb[i] {
				union = append(union, i)
			}
			if ma[i] && mb[i] {
				inter = append(inter, i)
			}
			if ma[i] && !mb[i] {
				diff = append(diff, i)
			}
		}

		u := a.Clone()
		u.Union(b)
		in := a.Clone()
		in.Intersect(b)
		d := a.Clone()
		d.Subtract(b)
		check := func(name string, s BlockSet, want []int) {
			got := slices.Collect(s.All())
			if !slices.Equal(got, want) {
				t.Fatalf("%s: got %v want %v", name, got, want)
			}
			if s.Len() != len(want) {
				t.Fatalf("%s: Len %d want %d", name, s.Len(), len(want))
			}
		}
		check("union", u, union)
		check("intersection", in, inter)
		check("difference", d, diff)
		if a.Intersects(b) != (len(inter) > 0) {
			t.Fatal("Intersects disagrees with the model")
		}
	})
}
