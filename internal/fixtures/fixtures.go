// Package fixtures builds small methods shared by the tests of several
// packages.
package fixtures

import (
	ds "github.com/dexstruct/dexstruct"
)

// CountingLoop is init -> header(a < 10) -> body(a = a + 1) -> exit.
//
//	0: const r0 = 0
//	1: if r0 >= 10 goto 5
//	3: r0 = r0 + 1
//	4: goto 1
//	5: return
//
// With usedAfter the exit returns r0, so the induction variable escapes
// the loop.
func CountingLoop(usedAfter bool) *ds.Method {
	m := &ds.Method{Class: "t.Loops", Name: "count", Static: true, RegCount: 1, Return: ds.Void}
	m.Insns = []*ds.Insn{
		ds.Const(0, 0, 0, ds.UnknownNarrow),
		ds.If(1, ds.IfGe, 5, ds.Reg(0, ds.Type{}), ds.Lit(10, ds.Int)),
		ds.Arith(3, 0, ds.ArithAdd, ds.Int, ds.Reg(0, ds.Type{}), ds.Lit(1, ds.Int)),
		ds.Goto(4, 1),
		ds.ReturnVoid(5),
	}
	if usedAfter {
		m.Name = "countEscapes"
		m.Return = ds.Int
		m.Insns[4] = ds.Return(5, 0)
	}
	return m
}

// WhileLoop is a loop whose condition depends on a call so no induction
// variable exists.
//
//	0: r0 = this.next()
//	1: if r0 == 0 goto 4
//	2: this.step()
//	3: goto 0
//	4: return
func WhileLoop() *ds.Method {
	m := &ds.Method{Class: "t.Loops", Name: "drain", RegCount: 2, Return: ds.Void,
		Params: []ds.Param{{Reg: 1, Type: ds.Object("t.Loops"), Name: "this"}}}
	m.Insns = []*ds.Insn{
		ds.Invoke(0, 0, ds.Call("t.Loops", "next", ds.InvokeVirtual, ds.Boolean), 1),
		ds.IfZero(1, ds.IfEq, 4, 0),
		ds.Invoke(2, -1, ds.Call("t.Loops", "step", ds.InvokeVirtual, ds.Void), 1),
		ds.Goto(3, 0),
		ds.ReturnVoid(4),
	}
	return m
}

// DoWhileLoop tests its condition in the last block of the loop.
//
//	0: const r0 = 0
//	1: this.step()
//	2: r0 = r0 + 1
//	3: if r0 < r1 goto 1
//	4: return
func DoWhileLoop() *ds.Method {
	m := &ds.Method{Class: "t.Loops", Name: "repeat", RegCount: 3, Return: ds.Void,
		Params: []ds.Param{{Reg: 2, Type: ds.Object("t.Loops"), Name: "this"}, {Reg: 1, Type: ds.Int, Name: "n"}}}
	m.Insns = []*ds.Insn{
		ds.Const(0, 0, 0, ds.UnknownNarrow),
		ds.Invoke(1, -1, ds.Call("t.Loops", "step", ds.InvokeVirtual, ds.Void), 2),
		ds.Arith(2, 0, ds.ArithAdd, ds.Int, ds.Reg(0, ds.Type{}), ds.Lit(1, ds.Int)),
		ds.If(3, ds.IfLt, 1, ds.Reg(0, ds.Type{}), ds.Reg(1, ds.Type{})),
		ds.ReturnVoid(4),
	}
	return m
}

// BreakLoop leaves a while loop from the middle of its body.
//
//	0: r0 = this.next()
//	1: if r0 == 0 goto 7
//	2: r1 = this.done()
//	3: if r1 != 0 goto 7
//	4: this.step()
//	5: goto 0
//	7: this.after()
//	8: return
func BreakLoop() *ds.Method {
	m := &ds.Method{Class: "t.Loops", Name: "scan", RegCount: 3, Return: ds.Void,
		Params: []ds.Param{{Reg: 2, Type: ds.Object("t.Loops"), Name: "this"}}}
	m.Insns = []*ds.Insn{
		ds.Invoke(0, 0, ds.Call("t.Loops", "next", ds.InvokeVirtual, ds.Boolean), 2),
		ds.IfZero(1, ds.IfEq, 7, 0),
		ds.Invoke(2, 1, ds.Call("t.Loops", "done", ds.InvokeVirtual, ds.Boolean), 2),
		ds.IfZero(3, ds.IfNe, 7, 1),
		ds.Invoke(4, -1, ds.Call("t.Loops", "step", ds.InvokeVirtual, ds.Void), 2),
		ds.Goto(5, 0),
		ds.Invoke(7, -1, ds.Call("t.Loops", "after", ds.InvokeVirtual, ds.Void), 2),
		ds.ReturnVoid(8),
	}
	return m
}

// NestedBreakLoop leaves both loops from the inner body.
//
//	0:  r0 = this.next()
//	1:  if r0 == 0 goto 9
//	2:  r1 = this.more()
//	3:  if r1 == 0 goto 0
//	4:  r1 = this.done()
//	5:  if r1 != 0 goto 9
//	6:  this.step()
//	7:  goto 2
//	9:  this.after()
//	10: return
func NestedBreakLoop() *ds.Method {
	m := &ds.Method{Class: "t.Loops", Name: "scanAll", RegCount: 3, Return: ds.Void,
		Params: []ds.Param{{Reg: 2, Type: ds.Object("t.Loops"), Name: "this"}}}
	m.Insns = []*ds.Insn{
		ds.Invoke(0, 0, ds.Call("t.Loops", "next", ds.InvokeVirtual, ds.Boolean), 2),
		ds.IfZero(1, ds.IfEq, 9, 0),
		ds.Invoke(2, 1, ds.Call("t.Loops", "more", ds.InvokeVirtual, ds.Boolean), 2),
		ds.IfZero(3, ds.IfEq, 0, 1),
		ds.Invoke(4, 1, ds.Call("t.Loops", "done", ds.InvokeVirtual, ds.Boolean), 2),
		ds.IfZero(5, ds.IfNe, 9, 1),
		ds.Invoke(6, -1, ds.Call("t.Loops", "step", ds.InvokeVirtual, ds.Void), 2),
		ds.Goto(7, 2),
		ds.Invoke(9, -1, ds.Call("t.Loops", "after", ds.InvokeVirtual, ds.Void), 2),
		ds.ReturnVoid(10),
	}
	return m
}

// ArrayForEach sums an int array with an index loop.
//
//	0: const r1 = 0          sum
//	1: const r2 = 0          i
//	2: r3 = length r0
//	3: if r2 >= r3 goto 8
//	4: r4 = r0[r2]
//	5: r1 = r1 + r4
//	6: r2 = r2 + 1
//	7: goto 2
//	8: return r1
func ArrayForEach() *ds.Method {
	m := &ds.Method{Class: "t.Loops", Name: "sum", Static: true, RegCount: 5, Return: ds.Int,
		Params: []ds.Param{{Reg: 0, Type: ds.ArrayOf(ds.Int), Name: "xs"}}}
	m.Insns = []*ds.Insn{
		ds.Const(0, 1, 0, ds.UnknownNarrow),
		ds.Const(1, 2, 0, ds.UnknownNarrow),
		ds.ArrayLength(2, 3, 0),
		ds.If(3, ds.IfGe, 8, ds.Reg(2, ds.Type{}), ds.Reg(3, ds.Type{})),
		ds.ArrayGet(4, 4, 0, 2),
		ds.Arith(5, 1, ds.ArithAdd, ds.Int, ds.Reg(1, ds.Type{}), ds.Reg(4, ds.Type{})),
		ds.Arith(6, 2, ds.ArithAdd, ds.Int, ds.Reg(2, ds.Type{}), ds.Lit(1, ds.Int)),
		ds.Goto(7, 2),
		ds.Return(8, 1),
	}
	return m
}

// IterableForEach walks a collection through its iterator.
//
//	0: r1 = r0.iterator()
//	1: r2 = r1.hasNext()
//	2: if r2 == 0 goto 6
//	3: r3 = r1.next()
//	4: this.use(r3)
//	5: goto 1
//	6: return
func IterableForEach() *ds.Method {
	m := &ds.Method{Class: "t.Loops", Name: "each", RegCount: 5, Return: ds.Void,
		Params: []ds.Param{{Reg: 4, Type: ds.Object("t.Loops"), Name: "this"}, {Reg: 0, Type: ds.Object("java.util.List"), Name: "items"}}}
	m.Insns = []*ds.Insn{
		ds.Invoke(0, 1, ds.Call("java.util.List", "iterator", ds.InvokeInterface, ds.Object("java.util.Iterator")), 0),
		ds.Invoke(1, 2, ds.Call("java.util.Iterator", "hasNext", ds.InvokeInterface, ds.Boolean), 1),
		ds.IfZero(2, ds.IfEq, 6, 2),
		ds.Invoke(3, 3, ds.Call("java.util.Iterator", "next", ds.InvokeInterface, ds.ObjectType), 1),
		ds.Invoke(4, -1, ds.Call("t.Loops", "use", ds.InvokeVirtual, ds.Void, ds.ObjectType), 4, 3),
		ds.Goto(5, 1),
		ds.ReturnVoid(6),
	}
	return m
}

// Diamond is if/else joining at a common return.
//
//	0: if r0 == 0 goto 3
//	1: const r1 = 1
//	2: goto 4
//	3: const r1 = 2
//	4: return r1
func Diamond() *ds.Method {
	m := &ds.Method{Class: "t.Branches", Name: "pick", Static: true, RegCount: 2, Return: ds.Int,
		Params: []ds.Param{{Reg: 0, Type: ds.Boolean, Name: "flag"}}}
	m.Insns = []*ds.Insn{
		ds.IfZero(0, ds.IfEq, 3, 0),
		ds.Const(1, 1, 1, ds.UnknownNarrow),
		ds.Goto(2, 4),
		ds.Const(3, 1, 2, ds.UnknownNarrow),
		ds.Return(4, 1),
	}
	return m
}

// SwitchMethod dispatches on r0 with cases 1 and 2 sharing a body and case 3
// falling through to the default.
//
//	0: switch r0 {1: 1, 2: 1, 3: 3} default 5
//	1: const r1 = 10
//	2: goto 6
//	3: const r1 = 30
//	4: goto 6
//	5: const r1 = 0
//	6: return r1
func SwitchMethod() *ds.Method {
	m := &ds.Method{Class: "t.Branches", Name: "table", Static: true, RegCount: 2, Return: ds.Int,
		Params: []ds.Param{{Reg: 0, Type: ds.Int, Name: "k"}}}
	m.Insns = []*ds.Insn{
		ds.Switch(0, 0, []int64{1, 2, 3}, []int{1, 1, 3}, 5),
		ds.Const(1, 1, 10, ds.UnknownNarrow),
		ds.Goto(2, 6),
		ds.Const(3, 1, 30, ds.UnknownNarrow),
		ds.Goto(4, 6),
		ds.Const(5, 1, 0, ds.UnknownNarrow),
		ds.Return(6, 1),
	}
	return m
}

// TryFinally has a protected call, two typed catch handlers and a
// catch-all finally handler. The finally body is "r5 = this.lock; monitor
// cleanup call" inlined on the normal exit and at the end of both catch
// handlers, each copy using different registers.
//
// With mismatch the second catch handler's copy calls a different method.
//
//	0:  this.work()                       try [0, 1)
//	1:  r1 = this.lock                    normal-exit copy
//	2:  r1.release()
//	3:  goto 17
//	4:  r2 = move-exception IOException
//	5:  r3 = this.lock                    copy in catch 1
//	6:  r3.release()
//	7:  goto 17
//	8:  r2 = move-exception RuntimeException
//	9:  r4 = this.lock                    copy in catch 2
//	10: r4.release()
//	11: goto 17
//	12: r2 = move-exception               finally handler
//	13: r5 = this.lock
//	14: r5.release()
//	15: throw r2
//	17: return
func TryFinally(mismatch bool) *ds.Method {
	lock := &ds.FieldData{Class: "t.Res", Name: "lock", Type: ds.Object("t.Lock")}
	release := ds.Call("t.Lock", "release", ds.InvokeVirtual, ds.Void)
	other := ds.Call("t.Lock", "reset", ds.InvokeVirtual, ds.Void)
	work := ds.Call("t.Res", "work", ds.InvokeVirtual, ds.Void)

	secondCall := release
	if mismatch {
		secondCall = other
	}
	m := &ds.Method{Class: "t.Res", Name: "guarded", RegCount: 7, Return: ds.Void,
		Params: []ds.Param{{Reg: 6, Type: ds.Object("t.Res"), Name: "this"}}}
	m.Insns = []*ds.Insn{
		ds.Invoke(0, -1, work, 6),
		ds.FieldGet(1, 1, 6, lock),
		ds.Invoke(2, -1, release, 1),
		ds.Goto(3, 17),
		ds.MoveException(4, 2, ds.Object("java.io.IOException")),
		ds.FieldGet(5, 3, 6, lock),
		ds.Invoke(6, -1, release, 3),
		ds.Goto(7, 17),
		ds.MoveException(8, 2, ds.Object("java.lang.RuntimeException")),
		ds.FieldGet(9, 4, 6, lock),
		ds.Invoke(10, -1, secondCall, 4),
		ds.Goto(11, 17),
		ds.MoveException(12, 2, ds.ThrowableType),
		ds.FieldGet(13, 5, 6, lock),
		ds.Invoke(14, -1, release, 5),
		ds.Throw(15, 2),
		ds.ReturnVoid(17),
	}
	m.TryBlocks = []*ds.TryBlock{{
		Start: 0, End: 1,
		Handlers: []*ds.Handler{
			{Types: []string{"java.io.IOException"}, Offset: 4},
			{Types: []string{"java.lang.RuntimeException"}, Offset: 8},
			{Offset: 12, Finally: true},
		},
	}}
	return m
}

// AndCondition is one body guarded by two tests sharing the skip target.
//
//	0: if r0 == 0 goto 3
//	1: if r1 == 0 goto 3
//	2: this.x()
//	3: this.y()
//	4: return
func AndCondition() *ds.Method {
	m := &ds.Method{Class: "t.Branches", Name: "both", RegCount: 3, Return: ds.Void,
		Params: []ds.Param{
			{Reg: 0, Type: ds.Boolean, Name: "a"},
			{Reg: 1, Type: ds.Boolean, Name: "b"},
			{Reg: 2, Type: ds.Object("t.Branches"), Name: "this"},
		}}
	m.Insns = []*ds.Insn{
		ds.IfZero(0, ds.IfEq, 3, 0),
		ds.IfZero(1, ds.IfEq, 3, 1),
		ds.Invoke(2, -1, ds.Call("t.Branches", "x", ds.InvokeVirtual, ds.Void), 2),
		ds.Invoke(3, -1, ds.Call("t.Branches", "y", ds.InvokeVirtual, ds.Void), 2),
		ds.ReturnVoid(4),
	}
	return m
}

// OrCondition runs the body when the first test jumps into it or the
// second one falls through.
//
//	0: if r0 != 0 goto 2
//	1: if r1 == 0 goto 3
//	2: this.x()
//	3: this.y()
//	4: return
func OrCondition() *ds.Method {
	m := AndCondition()
	m.Name = "either"
	m.Insns[0] = ds.IfZero(0, ds.IfNe, 2, 0)
	return m
}

// Synchronized holds a monitor around one call, with the catch-all that
// releases it on a throw.
//
//	0: r0 = this.lock
//	1: monitor-enter r0
//	2: this.work()          try [2, 3) catch-all 5
//	3: monitor-exit r0
//	4: return
//	5: r1 = move-exception
//	6: monitor-exit r0
//	7: throw r1
func Synchronized() *ds.Method {
	lock := &ds.FieldData{Class: "t.Res", Name: "lock", Type: ds.Object("java.lang.Object")}
	m := &ds.Method{Class: "t.Res", Name: "locked", RegCount: 3, Return: ds.Void,
		Params: []ds.Param{{Reg: 2, Type: ds.Object("t.Res"), Name: "this"}}}
	m.Insns = []*ds.Insn{
		ds.FieldGet(0, 0, 2, lock),
		ds.MonitorEnter(1, 0),
		ds.Invoke(2, -1, ds.Call("t.Res", "work", ds.InvokeVirtual, ds.Void), 2),
		ds.MonitorExit(3, 0),
		ds.ReturnVoid(4),
		ds.MoveException(5, 1, ds.ThrowableType),
		ds.MonitorExit(6, 0),
		ds.Throw(7, 1),
	}
	m.TryBlocks = []*ds.TryBlock{{Start: 2, End: 3, Handlers: []*ds.Handler{{Offset: 5}}}}
	return m
}

// MultiEntryLoop is a cycle between two blocks that the entry branches
// into at either block.
//
//	0: if r0 == 0 goto 3
//	1: r1 = this.a()
//	2: if r1 == 0 goto 5
//	3: r1 = this.b()
//	4: if r1 != 0 goto 1
//	5: return
func MultiEntryLoop() *ds.Method {
	m := &ds.Method{Class: "t.Loops", Name: "tangled", RegCount: 3, Return: ds.Void,
		Params: []ds.Param{
			{Reg: 0, Type: ds.Boolean, Name: "flag"},
			{Reg: 2, Type: ds.Object("t.Loops"), Name: "this"},
		}}
	m.Insns = []*ds.Insn{
		ds.IfZero(0, ds.IfEq, 3, 0),
		ds.Invoke(1, 1, ds.Call("t.Loops", "a", ds.InvokeVirtual, ds.Boolean), 2),
		ds.IfZero(2, ds.IfEq, 5, 1),
		ds.Invoke(3, 1, ds.Call("t.Loops", "b", ds.InvokeVirtual, ds.Boolean), 2),
		ds.IfZero(4, ds.IfNe, 1, 1),
		ds.ReturnVoid(5),
	}
	return m
}

// EmptyFinally is a try whose finally handler only rethrows.
//
//	0: this.work()          try [0, 1)
//	1: return
//	2: r0 = move-exception
//	3: throw r0
func EmptyFinally() *ds.Method {
	m := &ds.Method{Class: "t.Res", Name: "plain", RegCount: 2, Return: ds.Void,
		Params: []ds.Param{{Reg: 1, Type: ds.Object("t.Res"), Name: "this"}}}
	m.Insns = []*ds.Insn{
		ds.Invoke(0, -1, ds.Call("t.Res", "work", ds.InvokeVirtual, ds.Void), 1),
		ds.ReturnVoid(1),
		ds.MoveException(2, 0, ds.ThrowableType),
		ds.Throw(3, 0),
	}
	m.TryBlocks = []*ds.TryBlock{{Start: 0, End: 1, Handlers: []*ds.Handler{{Offset: 2, Finally: true}}}}
	return m
}

// Prepare builds blocks, dominators, loops and SSA versions for m.
func Prepare(m *ds.Method) error {
	if err := m.Build(); err != nil {
		return err
	}
	ds.ComputeDominators(m)
	ds.ComputeLoops(m)
	ds.BuildSSA(m)
	return nil
}
