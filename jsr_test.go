package dexstruct_test

import (
	"testing"

	"github.com/containerd/errdefs"
	"github.com/google/go-cmp/cmp"

	ds "github.com/dexstruct/dexstruct"
)

func TestNormalizeSubroutines(t *testing.T) {
	m := &ds.Method{Class: "t.X", Name: "legacy", Return: ds.Void, Insns: []*ds.Insn{
		ds.Jsr(0, 2),
		ds.ReturnVoid(1),
		ds.Nop(2),
		ds.Ret(3),
	}}
	if err := ds.NormalizeSubroutines(m); err != nil {
		t.Fatalf("NormalizeSubroutines failed: %v", err)
	}
	for i, want := range map[int]int{0: 2, 3: 1} {
		in := m.Insns[i]
		if t2, ok := in.Jump(); in.Op != ds.OpGoto || !ok || t2 != want {
			t.Errorf("insn %d should jump to %d, got %s", i, want, in)
		}
	}
	if err := m.Build(); err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if diff := cmp.Diff([][]int{{2}, nil, {1}}, succs(m)); diff != "" {
		t.Errorf("edges mismatch (-want +got):\n%s", diff)
	}
}

func TestNormalizeSubroutines_Shared(t *testing.T) {
	m := &ds.Method{Class: "t.X", Name: "shared", Return: ds.Void, Insns: []*ds.Insn{
		ds.Jsr(0, 4),
		ds.Jsr(1, 4),
		ds.ReturnVoid(2),
		ds.Nop(4),
		ds.IfZero(5, ds.IfEq, 4, 0),
		ds.Ret(6),
	}}
	if err := ds.NormalizeSubroutines(m); err != nil {
		t.Fatalf("NormalizeSubroutines failed: %v", err)
	}
	// the second caller runs its own copy of the body at 7..9
	var got []string
	for _, in := range m.Insns {
		got = append(got, in.String())
	}
	want := []string{
		"0x0000: goto",
		"0x0001: goto",
		"0x0002: return",
		"0x0004: nop",
		"0x0005: if == r0 -> 0x0004",
		"0x0006: goto",
		"0x0007: nop",
		"0x0008: if == r0 -> 0x0007",
		"0x0009: goto",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("instructions mismatch (-want +got):\n%s", diff)
	}
	for i, want := range map[int]int{0: 4, 1: 7, 5: 1, 8: 2} {
		if t2, _ := m.Insns[i].Jump(); t2 != want {
			t.Errorf("insn %d should jump to 0x%04x, got %s", i, want, m.Insns[i])
		}
	}
	if err := m.Build(); err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if m.Insns[4].If() == m.Insns[7].If() {
		t.Error("the copy must not share branch payloads with the original")
	}
}

func TestNormalizeSubroutines_StopsAtNextEntry(t *testing.T) {
	// the first subroutine rethrows and never reaches the second one's ret
	m := &ds.Method{Class: "t.X", Name: "pair", RegCount: 1, Return: ds.Void, Insns: []*ds.Insn{
		ds.Jsr(0, 4),
		ds.Jsr(1, 7),
		ds.ReturnVoid(2),
		ds.Nop(4),
		ds.Throw(5, 0),
		ds.Nop(7),
		ds.Ret(8),
	}}
	if err := ds.NormalizeSubroutines(m); err != nil {
		t.Fatalf("NormalizeSubroutines failed: %v", err)
	}
	for i, want := range map[int]int{0: 4, 1: 7, 6: 2} {
		in := m.Insns[i]
		if t2, ok := in.Jump(); in.Op != ds.OpGoto || !ok || t2 != want {
			t.Errorf("insn %d should jump to 0x%04x, got %s", i, want, in)
		}
	}
}

func TestNormalizeSubroutines_Errors(t *testing.T) {
	nested := &ds.Method{Class: "t.X", Name: "nested", Return: ds.Void, Insns: []*ds.Insn{
		ds.Jsr(0, 3),
		ds.Jsr(1, 3),
		ds.ReturnVoid(2),
		ds.Jsr(3, 6),
		ds.Ret(4),
		ds.Nop(6),
		ds.Ret(7),
	}}
	if err := ds.NormalizeSubroutines(nested); !errdefs.IsNotImplemented(err) {
		t.Fatalf("expected not implemented, got %v", err)
	}
	if nested.Insns[0].Op != ds.OpJsr || nested.Insns[1].Op != ds.OpJsr {
		t.Error("callers of the outer subroutine must be left in place")
	}

	bad := &ds.Method{Class: "t.X", Name: "bad", Insns: []*ds.Insn{{Op: ds.OpJsr}}}
	if err := ds.NormalizeSubroutines(bad); !errdefs.IsInvalidArgument(err) {
		t.Errorf("jsr without target should be invalid, got %v", err)
	}
}
