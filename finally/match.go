package finally

import (
	"slices"

	ds "github.com/dexstruct/dexstruct"
)

// renaming is a one-to-one register substitution built while comparing
// two instruction runs.
type renaming struct {
	fwd  map[int]int
	back map[int]int
}

func newRenaming() *renaming {
	return &renaming{fwd: make(map[int]int), back: make(map[int]int)}
}

// bind maps register a to b, failing when either side is already bound
// elsewhere.
func (r *renaming) bind(a, b int) bool {
	if x, ok := r.fwd[a]; ok && x != b {
		return false
	}
	if y, ok := r.back[b]; ok && y != a {
		return false
	}
	r.fwd[a] = b
	r.back[b] = a
	return true
}

func (r *renaming) matchAll(a, b []*ds.Insn) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !r.match(a[i], b[i]) {
			return false
		}
	}
	return true
}

func (r *renaming) match(a, b *ds.Insn) bool {
	if a.Op != b.Op || !samePayload(a.Value, b.Value) {
		return false
	}
	if (a.Result == nil) != (b.Result == nil) {
		return false
	}
	if a.Result != nil && !r.matchArg(a.Result, b.Result) {
		return false
	}
	if len(a.Args) != len(b.Args) {
		return false
	}
	for i := range a.Args {
		if !r.matchArg(a.Args[i], b.Args[i]) {
			return false
		}
	}
	return true
}

func (r *renaming) matchArg(a, b *ds.Arg) bool {
	if a.Kind != b.Kind {
		return false
	}
	if a.Kind == ds.ArgLiteral {
		return a.Lit == b.Lit
	}
	return r.bind(a.Reg, b.Reg)
}

// samePayload compares instruction payloads by value. Branch targets are
// positions and never equal between copies, so conditional and switch
// payloads only compare their operator.
func samePayload(a, b any) bool {
	switch x := a.(type) {
	case nil:
		return b == nil
	case *ds.IfData:
		y, ok := b.(*ds.IfData)
		return ok && x.Op == y.Op && x.Zero == y.Zero
	case *ds.SwitchData:
		y, ok := b.(*ds.SwitchData)
		return ok && slices.Equal(x.Keys, y.Keys)
	case *ds.ArithData:
		y, ok := b.(*ds.ArithData)
		return ok && *x == *y
	case *ds.FieldData:
		y, ok := b.(*ds.FieldData)
		return ok && *x == *y
	case *ds.InvokeData:
		y, ok := b.(*ds.InvokeData)
		return ok && sameCall(x, y)
	case ds.Type:
		y, ok := b.(ds.Type)
		return ok && x == y
	case string:
		y, ok := b.(string)
		return ok && x == y
	case int:
		y, ok := b.(int)
		return ok && x == y
	}
	return false
}

func sameCall(a, b *ds.InvokeData) bool {
	if a.Class != b.Class || a.Name != b.Name || a.Kind != b.Kind || len(a.Candidates) != len(b.Candidates) {
		return false
	}
	for i, c := range a.Candidates {
		d := b.Candidates[i]
		if c.Return != d.Return || !slices.Equal(c.Params, d.Params) {
			return false
		}
	}
	return true
}
