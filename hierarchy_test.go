package dexstruct_test

import (
	"sync"
	"testing"

	"golang.org/x/sync/errgroup"

	ds "github.com/dexstruct/dexstruct"
)

func TestHierarchy(t *testing.T) {
	h := ds.NewHierarchy()
	h.Add("t.Base", "")
	h.Add("t.A", "t.Base", "java.lang.Runnable")
	h.Add("t.B", "t.Base")
	h.Add("t.C", "t.A")

	if s, ok := h.Super("t.Base"); !ok || s != ds.ObjectClass {
		t.Errorf("root class should extend Object, got %q", s)
	}
	if !h.Implements("t.C", "java.lang.Runnable") || h.Implements("t.B", "java.lang.Runnable") {
		t.Error("interfaces are inherited from superclasses only")
	}
	if !h.IsSubclass("t.C", "t.Base") || h.IsSubclass("t.B", "t.A") || !h.IsSubclass("t.Unknown", ds.ObjectClass) {
		t.Error("unexpected subclass relation")
	}

	tests := []struct{ a, b, want string }{
		{"t.C", "t.B", "t.Base"},
		{"t.B", "t.C", "t.Base"},
		{"t.C", "t.A", "t.A"},
		{"t.A", "t.A", "t.A"},
		{"t.A", "t.Other", ds.ObjectClass},
	}
	var g errgroup.Group
	var mu sync.Mutex
	var failures []string
	for i := 0; i < 8; i++ {
		g.Go(func() error {
			for _, tt := range tests {
				if got, ok := h.CommonAncestor(tt.a, tt.b); !ok || got != tt.want {
					mu.Lock()
					failures = append(failures, tt.a+"/"+tt.b+" -> "+got)
					mu.Unlock()
				}
			}
			return nil
		})
	}
	_ = g.Wait()
	if len(failures) > 0 {
		t.Errorf("common ancestor mismatches: %v", failures)
	}
}

func TestHierarchy_MergesObjects(t *testing.T) {
	h := ds.NewHierarchy()
	h.Add("t.A", "t.Base")
	h.Add("t.B", "t.Base")
	cells := &ds.Cells{Hierarchy: h}
	a := cells.New(ds.Object("t.A"))
	b := cells.New(ds.Object("t.B"))
	if _, ok := cells.Union(a, b); !ok || cells.Type(a) != ds.Object("t.Base") {
		t.Errorf("siblings should meet at their parent, got %s", cells.Type(a))
	}
}

func TestHierarchy_Cycles(t *testing.T) {
	h := ds.NewHierarchy()
	h.Add("t.A", "t.B", "t.I")
	h.Add("t.B", "t.A")
	h.Add("t.I", "", "t.J")
	h.Add("t.J", "", "t.I")

	if h.IsSubclass("t.A", "t.Other") {
		t.Error("a superclass loop should not reach unrelated classes")
	}
	if !h.IsSubclass("t.B", "t.A") {
		t.Error("t.B extends t.A")
	}
	if !h.Implements("t.B", "t.J") || h.Implements("t.A", "t.K") {
		t.Error("interfaces should be followed through the loop without repeating")
	}
	if got, _ := h.CommonAncestor("t.A", "t.Other"); got != ds.ObjectClass {
		t.Errorf("got %s, want %s", got, ds.ObjectClass)
	}
}

func TestHierarchy_AssignableTo(t *testing.T) {
	h := ds.NewHierarchy()
	h.Add("java.util.Collection", "", "java.lang.Iterable")
	h.Add("java.util.List", "", "java.util.Collection")
	h.Add("t.MyList", "", "java.util.List")

	tests := []struct {
		class, target string
		want          bool
	}{
		{"t.MyList", "java.lang.Iterable", true},
		{"t.MyList", ds.ObjectClass, true},
		{"t.MyList", "java.lang.Runnable", false},
		{"t.Unregistered", "java.lang.Runnable", true},
	}
	for _, tt := range tests {
		if got := h.AssignableTo(tt.class, tt.target); got != tt.want {
			t.Errorf("AssignableTo(%s, %s) = %v, want %v", tt.class, tt.target, got, tt.want)
		}
	}
}
