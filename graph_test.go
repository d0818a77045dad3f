package dexstruct_test

import (
	"slices"
	"testing"

	"github.com/containerd/errdefs"
	"github.com/google/go-cmp/cmp"

	ds "github.com/dexstruct/dexstruct"
	"github.com/dexstruct/dexstruct/internal/fixtures"
)

func built(t *testing.T, m *ds.Method) *ds.Method {
	t.Helper()
	if err := m.Build(); err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	return m
}

func succs(m *ds.Method) [][]int {
	out := make([][]int, len(m.Blocks))
	for i, b := range m.Blocks {
		out[i] = b.Succs
	}
	return out
}

func TestBuild_Diamond(t *testing.T) {
	m := built(t, fixtures.Diamond())
	if diff := cmp.Diff([][]int{{1, 2}, {3}, {3}, nil}, succs(m)); diff != "" {
		t.Errorf("edges mismatch (-want +got):\n%s", diff)
	}
	if !m.Blocks[3].Has(ds.BlockReturn) {
		t.Error("B3 should be a return block")
	}
	if id, ok := m.BlockAt(3); !ok || id != 2 {
		t.Errorf("BlockAt(3) = %d, %v", id, ok)
	}
	if got := m.InsnBlock(m.Insns[2]); got != 1 {
		t.Errorf("goto at 2 should live in B1, got B%d", got)
	}
}

func TestBuild_ExceptionEdges(t *testing.T) {
	m := built(t, fixtures.TryFinally(false))
	if len(m.Blocks) != 6 {
		t.Fatalf("expected 6 blocks, got %d", len(m.Blocks))
	}
	if diff := cmp.Diff([]int{2, 3, 4}, m.Blocks[0].ExcSuccs); diff != "" {
		t.Errorf("handler edges mismatch (-want +got):\n%s", diff)
	}
	for _, id := range []int{2, 3, 4} {
		if !m.Blocks[id].Has(ds.BlockHandlerEntry) {
			t.Errorf("B%d should be a handler entry", id)
		}
	}
	if diff := cmp.Diff([]int{0, 1, 2, 3, 4, 5}, m.Reachable().ToList()); diff != "" {
		t.Errorf("reachable mismatch (-want +got):\n%s", diff)
	}

	tb := m.TryBlocks[0]
	h := tb.FinallyHandler()
	m.RemoveHandler(tb, h)
	if len(tb.Handlers) != 2 || slices.Contains(m.Blocks[0].ExcSuccs, 4) || len(m.Blocks[4].ExcPreds) != 0 {
		t.Errorf("handler not detached: %d handlers, B0 exc %v, B4 preds %v", len(tb.Handlers), m.Blocks[0].ExcSuccs, m.Blocks[4].ExcPreds)
	}

	m.RemoveEdge(0, 1)
	if len(m.Blocks[0].Succs) != 0 || len(m.Blocks[1].Preds) != 0 {
		t.Error("edge B0->B1 should be gone")
	}
}

func TestBuild_Errors(t *testing.T) {
	tests := []struct {
		name  string
		insns []*ds.Insn
	}{
		{"empty", nil},
		{"offsets", []*ds.Insn{ds.Nop(2), ds.ReturnVoid(1)}},
		{"target", []*ds.Insn{ds.Goto(0, 9), ds.ReturnVoid(1)}},
		{"if at end", []*ds.Insn{ds.Nop(0), ds.IfZero(1, ds.IfEq, 0, 0)}},
		{"falls off", []*ds.Insn{ds.Nop(0)}},
		{"switch", []*ds.Insn{ds.Switch(0, 0, []int64{1, 2}, []int{1}, 1), ds.ReturnVoid(1)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &ds.Method{Class: "t.X", Name: "m", RegCount: 1, Insns: tt.insns}
			err := m.Build()
			if !errdefs.IsInvalidArgument(err) {
				t.Errorf("expected invalid argument, got %v", err)
			}
		})
	}
}

func TestDFS(t *testing.T) {
	graph := [][]int{{1, 2}, {3}, {3}, {0}}
	var order []int
	for id := range ds.DFS(0, func(b int) []int { return graph[b] }) {
		order = append(order, id)
	}
	if diff := cmp.Diff([]int{0, 1, 3, 2}, order); diff != "" {
		t.Errorf("DFS order mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int{3, 1, 2, 0}, ds.PostOrder(0, func(b int) []int { return graph[b] })); diff != "" {
		t.Errorf("post order mismatch (-want +got):\n%s", diff)
	}

	var first []int
	for id := range ds.DFS(0, func(b int) []int { return graph[b] }) {
		first = append(first, id)
		break
	}
	if len(first) != 1 {
		t.Error("DFS must stop when the consumer stops")
	}
}

func TestDominators_Diamond(t *testing.T) {
	m := built(t, fixtures.Diamond())
	d := ds.ComputeDominators(m)
	for b := 1; b < 4; b++ {
		if d.IDom(b) != 0 {
			t.Errorf("idom(B%d) = %d, want 0", b, d.IDom(b))
		}
	}
	if d.IDom(0) != -1 {
		t.Error("entry has no immediate dominator")
	}
	if diff := cmp.Diff([]int{0, 2, 1, 3}, d.RPO()); diff != "" {
		t.Errorf("RPO mismatch (-want +got):\n%s", diff)
	}
	if d.Frontier(1).String() != "{3}" || d.Frontier(2).String() != "{3}" || !d.Frontier(0).Empty() {
		t.Errorf("unexpected frontiers %s %s %s", d.Frontier(0), d.Frontier(1), d.Frontier(2))
	}
	if !m.Dominates(0, 3) || m.Dominates(1, 3) {
		t.Error("only the entry dominates the join")
	}
	if diff := cmp.Diff([]int{1, 2, 3}, d.Children(0)); diff != "" {
		t.Errorf("children mismatch (-want +got):\n%s", diff)
	}
}

func TestLoops_CountingLoop(t *testing.T) {
	m := built(t, fixtures.CountingLoop(false))
	d := ds.ComputeDominators(m)
	if d.Frontier(1).String() != "{1}" || d.Frontier(2).String() != "{1}" {
		t.Errorf("loop frontiers %s %s", d.Frontier(1), d.Frontier(2))
	}
	if diff := cmp.Diff([]int{1, 2, 3}, d.Dominated(1).ToList()); diff != "" {
		t.Errorf("dominated mismatch (-want +got):\n%s", diff)
	}

	loops := ds.ComputeLoops(m)
	if len(loops) != 1 {
		t.Fatalf("expected one loop, got %d", len(loops))
	}
	l := loops[0]
	if l.Header != 1 || l.End() != 2 || l.Blocks.String() != "{1,2}" || l.Depth() != 1 {
		t.Errorf("unexpected loop header=%d end=%d blocks=%s depth=%d", l.Header, l.End(), l.Blocks, l.Depth())
	}
	if diff := cmp.Diff([]int{1}, l.Exits); diff != "" {
		t.Errorf("exits mismatch (-want +got):\n%s", diff)
	}
	if m.LoopAt(1) != l || m.InnermostLoop(2) != l || m.InnermostLoop(3) != nil {
		t.Error("loop lookups disagree")
	}
}

func TestLoops_None(t *testing.T) {
	m := built(t, fixtures.Diamond())
	ds.ComputeDominators(m)
	if loops := ds.ComputeLoops(m); len(loops) != 0 {
		t.Errorf("diamond has no loops, got %d", len(loops))
	}
}

func TestLoops_MultiEntry(t *testing.T) {
	m := built(t, fixtures.MultiEntryLoop())
	ds.ComputeDominators(m)
	if loops := ds.ComputeLoops(m); len(loops) != 0 {
		t.Errorf("a cycle with two entries is not a natural loop, got %d loops", len(loops))
	}
	edges := ds.MultiEntryEdges(m)
	if len(edges) != 1 {
		t.Fatalf("expected one edge, got %v", edges)
	}
	e := edges[0]
	if !(e == [2]int{1, 2} || e == [2]int{2, 1}) {
		t.Errorf("edge %v should join B1 and B2", e)
	}

	m = built(t, fixtures.CountingLoop(false))
	ds.ComputeDominators(m)
	if edges := ds.MultiEntryEdges(m); len(edges) != 0 {
		t.Errorf("natural loop reported as multi-entry: %v", edges)
	}
}

func TestBuild_MonitorBoundaries(t *testing.T) {
	m := built(t, fixtures.Synchronized())
	var starts []int
	for _, b := range m.Blocks {
		starts = append(starts, b.Offset)
	}
	if diff := cmp.Diff([]int{0, 2, 3, 5, 6}, starts); diff != "" {
		t.Errorf("block starts mismatch (-want +got):\n%s", diff)
	}
}
