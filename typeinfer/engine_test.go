package typeinfer

import (
	"context"
	"slices"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
	"pgregory.net/rapid"

	ds "github.com/dexstruct/dexstruct"
	"github.com/dexstruct/dexstruct/internal/fixtures"
)

func prepare(t testing.TB, m *ds.Method) {
	t.Helper()
	if err := fixtures.Prepare(m); err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}
}

func run(t *testing.T, m *ds.Method, opts Options) *Result {
	t.Helper()
	prepare(t, m)
	res, err := Run(context.Background(), m, opts)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	return res
}

func typeOfReg(m *ds.Method, reg int) []string {
	var out []string
	for _, v := range m.Vars {
		if v.Reg == reg {
			out = append(out, m.Cells.Type(v.Cell).String())
		}
	}
	return out
}

func TestRun_DiamondMergesThroughJoin(t *testing.T) {
	m := fixtures.Diamond()
	res := run(t, m, DefaultOptions())

	if !res.Converged || res.Unresolved != 0 {
		t.Fatalf("unexpected result: %s", res)
	}
	for _, got := range typeOfReg(m, 1) {
		if got != "int" {
			t.Errorf("expected int for every version of r1, got %s", got)
		}
	}
	if diff := cmp.Diff([]string{"boolean"}, typeOfReg(m, 0)); diff != "" {
		t.Errorf("r0 mismatch (-want +got):\n%s", diff)
	}
}

func TestRun_ArrayElementFromArray(t *testing.T) {
	m := fixtures.ArrayForEach()
	res := run(t, m, DefaultOptions())

	if res.Unresolved != 0 {
		t.Fatalf("unexpected unresolved operands: %v", m.Errors())
	}
	if diff := cmp.Diff([]string{"int"}, typeOfReg(m, 4)); diff != "" {
		t.Errorf("element mismatch (-want +got):\n%s", diff)
	}
}

func TestRun_ObjectLiteralConflation(t *testing.T) {
	m := &ds.Method{Class: "t.C", Name: "flag", Static: true, RegCount: 1, Return: ds.Object("t.Obj")}
	m.Insns = []*ds.Insn{
		ds.Const(0, 0, 1, ds.UnknownNarrow),
		ds.Return(1, 0),
	}
	res := run(t, m, DefaultOptions())

	if diff := cmp.Diff([]string{"boolean"}, typeOfReg(m, 0)); diff != "" {
		t.Fatalf("r0 mismatch (-want +got):\n%s", diff)
	}
	if len(res.Warnings) == 0 {
		t.Error("expected the conflation to be reported")
	}
	if m.Degraded {
		t.Error("a recovered conflict must not degrade the method")
	}
}

func TestRun_OverloadResolvedByArgument(t *testing.T) {
	call := &ds.InvokeData{Class: "t.U", Name: "f", Kind: ds.InvokeStatic, Resolved: -1,
		Candidates: []ds.Signature{
			{Params: []ds.Type{ds.Int}, Return: ds.Void},
			{Params: []ds.Type{ds.StringType}, Return: ds.Void},
		}}
	m := &ds.Method{Class: "t.C", Name: "call", Static: true, RegCount: 1, Return: ds.Void}
	m.Insns = []*ds.Insn{
		ds.ConstString(0, 0, "x"),
		ds.Invoke(1, -1, call, 0),
		ds.ReturnVoid(2),
	}
	run(t, m, DefaultOptions())

	if call.Resolved != 1 {
		t.Fatalf("expected the String overload, got %d", call.Resolved)
	}
}

func TestRun_OverloadResolvedByHierarchy(t *testing.T) {
	h := ds.NewHierarchy()
	h.Add("t.Animal", "")
	h.Add("t.Cat", "t.Animal")
	newCall := func() *ds.InvokeData {
		return &ds.InvokeData{Class: "t.U", Name: "feed", Kind: ds.InvokeStatic, Resolved: -1,
			Candidates: []ds.Signature{
				{Params: []ds.Type{ds.Object("java.lang.Runnable")}, Return: ds.Void},
				{Params: []ds.Type{ds.Object("t.Animal")}, Return: ds.Void},
			}}
	}
	newMethod := func(call *ds.InvokeData) *ds.Method {
		m := &ds.Method{Class: "t.C", Name: "feedCat", Static: true, RegCount: 1, Return: ds.Void,
			Params: []ds.Param{{Reg: 0, Type: ds.Object("t.Cat"), Name: "cat"}}}
		m.Insns = []*ds.Insn{
			ds.Invoke(0, -1, call, 0),
			ds.ReturnVoid(1),
		}
		return m
	}

	call := newCall()
	opts := DefaultOptions()
	opts.Hierarchy = h
	run(t, newMethod(call), opts)
	if call.Resolved != 1 {
		t.Errorf("a Cat is an Animal and not a Runnable, got overload %d", call.Resolved)
	}

	// without a hierarchy both formals merge with t.Cat
	call = newCall()
	m := newMethod(call)
	prepare(t, m)
	if _, err := Run(context.Background(), m, DefaultOptions()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if call.Resolved != -1 {
		t.Errorf("overload should stay ambiguous, got %d", call.Resolved)
	}
}

func TestRun_OverloadResolvedAfterSelection(t *testing.T) {
	call := &ds.InvokeData{Class: "t.U", Name: "f", Kind: ds.InvokeStatic, Resolved: -1,
		Candidates: []ds.Signature{
			{Params: []ds.Type{ds.Int}, Return: ds.Void},
			{Params: []ds.Type{ds.StringType}, Return: ds.Void},
		}}
	m := &ds.Method{Class: "t.C", Name: "call", Static: true, RegCount: 1, Return: ds.Void}
	m.Insns = []*ds.Insn{
		ds.Const(0, 0, 0, ds.UnknownNarrow),
		ds.Invoke(1, -1, call, 0),
		ds.ReturnVoid(2),
	}
	res := run(t, m, DefaultOptions())

	if call.Resolved != 0 {
		t.Fatalf("expected the int overload once r0 is selected, got %d", call.Resolved)
	}
	if res.Unresolved != 0 {
		t.Errorf("unexpected unresolved operands: %v", m.Errors())
	}
}

func TestRun_DebugInfoPrior(t *testing.T) {
	m := &ds.Method{Class: "t.C", Name: "local", Static: true, RegCount: 2, Return: ds.Void}
	m.Insns = []*ds.Insn{
		ds.Const(0, 0, 0, ds.UnknownNarrow),
		ds.Const(1, 1, 0, ds.UnknownNarrow),
		ds.ReturnVoid(2),
	}
	m.Locals = []ds.Local{
		{Reg: 0, Name: "done", Type: ds.Boolean, Start: 0, End: 3},
		// a wide hint cannot describe a narrow literal
		{Reg: 1, Name: "count", Type: ds.Long, Start: 0, End: 3},
	}
	run(t, m, DefaultOptions())

	if diff := cmp.Diff([]string{"boolean"}, typeOfReg(m, 0)); diff != "" {
		t.Errorf("r0 mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"int"}, typeOfReg(m, 1)); diff != "" {
		t.Errorf("r1 mismatch (-want +got):\n%s", diff)
	}
	if m.Vars[0].Name != "done" {
		t.Errorf("expected r0 named from debug info, got %q", m.Vars[0].Name)
	}
}

func TestRun_SweepCap(t *testing.T) {
	m := fixtures.Diamond()
	opts := DefaultOptions()
	opts.MaxSweeps = 1
	res := run(t, m, opts)

	if res.Converged {
		t.Error("expected the sweep cap to stop propagation")
	}
	if res.Sweeps != 1 {
		t.Errorf("expected 1 sweep, got %d", res.Sweeps)
	}
	if res.Unresolved != 0 {
		t.Errorf("selection should still resolve everything: %v", m.Errors())
	}
}

func TestRun_UnboundOperandDegradesMethod(t *testing.T) {
	m := &ds.Method{Class: "t.C", Name: "broken", Static: true, RegCount: 1, Return: ds.Int}
	m.Insns = []*ds.Insn{ds.Return(0, 0)}
	res := run(t, m, DefaultOptions())

	if res.Unresolved != 1 {
		t.Fatalf("expected 1 unresolved operand, got %d", res.Unresolved)
	}
	if !m.Degraded {
		t.Error("method should be degraded")
	}
	if errs := m.Errors(); len(errs) != 1 || !errors.Is(errs[0].Cause, ErrUnresolved) {
		t.Errorf("unexpected errors: %v", errs)
	}
}

func TestRun_RequiresSSA(t *testing.T) {
	m := fixtures.Diamond()
	if _, err := Run(context.Background(), m, DefaultOptions()); err == nil {
		t.Fatal("expected an error without SSA versions")
	}
}

func TestRun_Cancelled(t *testing.T) {
	m := fixtures.Diamond()
	prepare(t, m)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Run(ctx, m, DefaultOptions()); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

// genMethod draws a chain of blocks over narrow literals, moves, int
// arithmetic and comparisons. A block's closing branch may jump back to the
// start of any block drawn so far. With conflicts the draw also includes
// literals with incompatible hints, string constants and overloaded calls,
// so constraints on one cell can disagree.
func genMethod(t *rapid.T, conflicts bool) *ds.Method {
	const regs = 4
	hints := []ds.Type{ds.UnknownNarrow, ds.UnknownNarrowNumbers, ds.UnknownIntegral}
	ops := 3
	if conflicts {
		hints = append(hints, ds.Boolean, ds.Float, ds.Long)
		ops = 5
	}
	m := &ds.Method{Class: "t.Gen", Name: "m", Static: true, RegCount: regs, Return: ds.Void}

	off := 0
	for r := 0; r < regs; r++ {
		m.Insns = append(m.Insns, ds.Const(off, r, int64(r), rapid.SampledFrom(hints).Draw(t, "init")))
		off++
	}
	var starts []int
	blocks := rapid.IntRange(1, 5).Draw(t, "blocks")
	for b := 0; b < blocks; b++ {
		starts = append(starts, off)
		n := rapid.IntRange(1, 4).Draw(t, "insns")
		for i := 0; i < n; i++ {
			dst := rapid.IntRange(0, regs-1).Draw(t, "dst")
			a := rapid.IntRange(0, regs-1).Draw(t, "a")
			c := rapid.IntRange(0, regs-1).Draw(t, "b")
			var in *ds.Insn
			switch rapid.IntRange(0, ops).Draw(t, "op") {
			case 0:
				in = ds.Const(off, dst, int64(i), rapid.SampledFrom(hints).Draw(t, "hint"))
			case 1:
				in = ds.Move(off, dst, a)
			case 2:
				in = ds.Arith(off, dst, ds.ArithAdd, ds.Type{}, ds.Reg(a, ds.Type{}), ds.Reg(c, ds.Type{}))
			case 3:
				in = ds.Arith(off, dst, ds.ArithMul, ds.Int, ds.Reg(a, ds.Type{}), ds.Lit(3, ds.Int))
			case 4:
				in = ds.ConstString(off, dst, "s")
			default:
				in = ds.Invoke(off, -1, overloaded(), a)
			}
			m.Insns = append(m.Insns, in)
			off++
		}
		target := off + 1
		if rapid.Bool().Draw(t, "back") {
			target = rapid.SampledFrom(starts).Draw(t, "loop")
		}
		a := rapid.IntRange(0, regs-1).Draw(t, "ifa")
		c := rapid.IntRange(0, regs-1).Draw(t, "ifb")
		m.Insns = append(m.Insns, ds.If(off, ds.IfLt, target, ds.Reg(a, ds.Type{}), ds.Reg(c, ds.Type{})))
		off++
	}
	m.Insns = append(m.Insns, ds.ReturnVoid(off))
	return m
}

// overloaded returns a fresh two-candidate call so that resolving one
// instruction never leaks into another.
func overloaded() *ds.InvokeData {
	return &ds.InvokeData{Class: "t.U", Name: "f", Kind: ds.InvokeStatic, Resolved: -1,
		Candidates: []ds.Signature{
			{Params: []ds.Type{ds.Int}, Return: ds.Void},
			{Params: []ds.Type{ds.Boolean}, Return: ds.Void},
		}}
}

func checkVisitOrder(t *rapid.T, base *ds.Method) {
	m1 := cloneMethod(base)
	if err := fixtures.Prepare(m1); err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}
	perm := rapid.Permutation(indices(len(m1.Blocks))).Draw(t, "perm")

	m2 := cloneMethod(base)
	if err := fixtures.Prepare(m2); err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}

	if _, err := Run(context.Background(), m1, DefaultOptions()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	opts := DefaultOptions()
	opts.BlockOrder = func(bs []*ds.Block) []*ds.Block {
		out := make([]*ds.Block, len(bs))
		for i, p := range perm {
			out[i] = bs[p]
		}
		return out
	}
	if _, err := Run(context.Background(), m2, opts); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if diff := cmp.Diff(ds.TypeSnapshot(m1), ds.TypeSnapshot(m2)); diff != "" {
		t.Fatalf("types depend on visit order %v (-in order +permuted):\n%s", perm, diff)
	}
	if ds.Fingerprint(m1) != ds.Fingerprint(m2) {
		t.Fatalf("fingerprints differ for order %v", perm)
	}
}

func TestRun_VisitOrderIndependent(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		checkVisitOrder(t, genMethod(t, false))
	})
}

func TestRun_VisitOrderIndependentWithConflicts(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		checkVisitOrder(t, genMethod(t, true))
	})
}

func TestRun_ForceConflictLowestOffsetWins(t *testing.T) {
	// two overloaded calls force r0 to different formals
	m := &ds.Method{Class: "t.C", Name: "two", Static: true, RegCount: 1, Return: ds.Void}
	first := &ds.InvokeData{Class: "t.U", Name: "f", Kind: ds.InvokeStatic, Resolved: 0,
		Candidates: []ds.Signature{{Params: []ds.Type{ds.Int}, Return: ds.Void}, {Params: []ds.Type{ds.Long}, Return: ds.Void}}}
	second := &ds.InvokeData{Class: "t.U", Name: "g", Kind: ds.InvokeStatic, Resolved: 0,
		Candidates: []ds.Signature{{Params: []ds.Type{ds.Boolean}, Return: ds.Void}, {Params: []ds.Type{ds.Long}, Return: ds.Void}}}
	m.Insns = []*ds.Insn{
		ds.Const(0, 0, 0, ds.UnknownNarrow),
		ds.Invoke(1, -1, first, 0),
		ds.Invoke(2, -1, second, 0),
		ds.ReturnVoid(3),
	}
	reversed := DefaultOptions()
	reversed.BlockOrder = func(bs []*ds.Block) []*ds.Block {
		slices.Reverse(bs)
		return bs
	}
	for _, opts := range []Options{DefaultOptions(), reversed} {
		c := cloneMethod(m)
		res := run(t, c, opts)
		if diff := cmp.Diff([]string{"int"}, typeOfReg(c, 0)); diff != "" {
			t.Errorf("r0 mismatch (-want +got):\n%s", diff)
		}
		if !res.Converged {
			t.Error("competing forces should settle")
		}
		if len(res.Warnings) == 0 {
			t.Error("the losing force should be reported")
		}
	}
}

func indices(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

// cloneMethod copies the raw input of m so two runs share no state.
func cloneMethod(m *ds.Method) *ds.Method {
	c := &ds.Method{Class: m.Class, Name: m.Name, Static: m.Static, RegCount: m.RegCount, Return: m.Return,
		Params: append([]ds.Param(nil), m.Params...), Locals: append([]ds.Local(nil), m.Locals...)}
	for _, in := range m.Insns {
		cp := in.Copy()
		if d := in.Invoke(); d != nil {
			dd := *d
			cp.Value = &dd
		}
		c.Insns = append(c.Insns, cp)
	}
	return c
}
