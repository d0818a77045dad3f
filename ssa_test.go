package dexstruct_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	ds "github.com/dexstruct/dexstruct"
	"github.com/dexstruct/dexstruct/internal/fixtures"
)

func prepared(t *testing.T, m *ds.Method) *ds.Method {
	t.Helper()
	if err := fixtures.Prepare(m); err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}
	if err := ds.CheckSSA(m); err != nil {
		t.Fatalf("CheckSSA failed: %v", err)
	}
	return m
}

func TestSSA_LoopMerge(t *testing.T) {
	m := prepared(t, fixtures.CountingLoop(false))
	cond := m.Insns[1]
	incr := m.Insns[2]

	merge := m.VarOf(cond.Args[0])
	if merge == nil || !merge.IsMerge() || merge.Block != 1 {
		t.Fatalf("loop test should read a merge version in B1, got %v", merge)
	}
	if len(merge.Sources) != 2 {
		t.Fatalf("expected init and update as sources, got %v", merge.Sources)
	}
	if m.VarOf(incr.Args[0]) != merge {
		t.Error("the update reads the same version as the test")
	}
	root := m.Cells.Find(merge.Cell)
	for _, in := range []*ds.Insn{m.Insns[0], incr} {
		if m.Cells.Find(m.VarOf(in.Result).Cell) != root {
			t.Errorf("%s should share the loop variable's cell", in)
		}
	}
	if merge.UseCount() != 2 {
		t.Errorf("merge is read twice, got %d", merge.UseCount())
	}
}

func TestSSA_DiamondJoin(t *testing.T) {
	m := prepared(t, fixtures.Diamond())
	ret := m.Insns[4]
	v := m.VarOf(ret.Args[0])
	if v == nil || !v.IsMerge() {
		t.Fatalf("return should read a merge version, got %v", v)
	}
	want := []ds.VarID{m.Insns[1].Result.Var, m.Insns[3].Result.Var}
	if diff := cmp.Diff(want, v.Sources); diff != "" {
		t.Errorf("sources mismatch (-want +got):\n%s", diff)
	}
	param := m.VarOf(m.Insns[0].Args[0])
	if param == nil || !param.Param || param.Name != "flag" {
		t.Errorf("branch should read the flag parameter, got %v", param)
	}
	if got := m.TypeOf(m.Insns[0].Args[0]); got != ds.Boolean {
		t.Errorf("parameter cell should start from its declared type, got %s", got)
	}
}

func TestSSA_UnboundRead(t *testing.T) {
	m := &ds.Method{Class: "t.X", Name: "bad", RegCount: 1, Return: ds.Int,
		Insns: []*ds.Insn{ds.Return(0, 0)}}
	if err := fixtures.Prepare(m); err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}
	if err := ds.CheckSSA(m); err == nil {
		t.Fatal("a read of a never-written register should fail the check")
	}
}

func TestFingerprint(t *testing.T) {
	a := prepared(t, fixtures.ArrayForEach())
	b := prepared(t, fixtures.ArrayForEach())
	if ds.Fingerprint(a) != ds.Fingerprint(b) {
		t.Fatal("same input should give the same fingerprint")
	}
	if diff := cmp.Diff(ds.TypeSnapshot(a), ds.TypeSnapshot(b)); diff != "" {
		t.Fatalf("snapshots differ (-a +b):\n%s", diff)
	}
	b.Cells.Force(b.Vars[0].Cell, ds.Long)
	if ds.Fingerprint(a) == ds.Fingerprint(b) {
		t.Error("a type change should change the fingerprint")
	}
}
