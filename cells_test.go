package dexstruct

import (
	"testing"

	"pgregory.net/rapid"
)

func TestCells_MergeAndUnion(t *testing.T) {
	var c Cells
	a := c.New(Type{})
	b := c.New(UnknownIntegral)

	if got := c.Type(a); got != Unknown {
		t.Fatalf("zero type should start as Unknown, got %s", got)
	}
	if changed, ok := c.Merge(a, UnknownNarrow); !changed || !ok {
		t.Fatalf("narrowing should change the cell: changed=%v ok=%v", changed, ok)
	}
	if changed, ok := c.Merge(b, Float); changed || ok {
		t.Fatalf("float conflicts with integral: changed=%v ok=%v", changed, ok)
	}
	if got := c.Type(b); got != UnknownIntegral {
		t.Fatalf("inconsistent merge must leave the cell untouched, got %s", got)
	}

	if changed, ok := c.Union(a, b); !changed || !ok {
		t.Fatalf("union should join: changed=%v ok=%v", changed, ok)
	}
	if c.Find(a) != c.Find(b) || c.Type(a) != UnknownIntegral {
		t.Fatalf("joined cells should share UnknownIntegral, got %s", c.Type(a))
	}
	if changed, _ := c.Union(b, a); changed {
		t.Error("second union should be a no-op")
	}
	if len(c.Roots()) != 1 {
		t.Errorf("expected one root, got %v", c.Roots())
	}

	if !c.Force(b, Long) || c.Type(a) != Long {
		t.Errorf("Force should overwrite the shared constraint, got %s", c.Type(a))
	}
	if c.Type(NoCell) != (Type{}) {
		t.Error("NoCell has no type")
	}
}

func TestCells_UnionConflictKeepsFirst(t *testing.T) {
	var c Cells
	a := c.New(Int)
	b := c.New(StringType)
	if changed, ok := c.Union(a, b); !changed || ok {
		t.Fatalf("conflicting union joins but reports inconsistency: changed=%v ok=%v", changed, ok)
	}
	if c.Type(b) != Int {
		t.Errorf("conflicting union should keep the first constraint, got %s", c.Type(b))
	}
}

// Union-find classes match a naive partition under any union order.
func TestCells_Partition(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 40).Draw(t, "n")
		var c Cells
		label := make([]int, n)
		for i := range label {
			c.New(Unknown)
			label[i] = i
		}
		ops := rapid.SliceOf(rapid.IntRange(0, n*n-1)).Draw(t, "ops")
		for _, op := range ops {
			x, y := op/n, op%n
			c.Union(CellID(x), CellID(y))
			from, to := label[y], label[x]
			for i := range label {
				if label[i] == from {
					label[i] = to
				}
			}
		}
		for i := 0; i < n; i++ {
			for j := 0; j < n; j++ {
				same := c.Find(CellID(i)) == c.Find(CellID(j))
				if same != (label[i] == label[j]) {
					t.Fatalf("cells %d and %d: union-find says %v", i, j, same)
				}
			}
		}
	})
}
