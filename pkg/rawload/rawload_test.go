package rawload

import (
	"context"
	"strings"
	"testing"

	"github.com/containerd/errdefs"
	"github.com/google/go-cmp/cmp"

	ds "github.com/dexstruct/dexstruct"
	"github.com/dexstruct/dexstruct/internal/fixtures"
)

func listing(m *ds.Method) []string {
	var out []string
	for _, in := range m.Insns {
		out = append(out, in.String())
	}
	return out
}

func load(t *testing.T) []*ds.Class {
	t.Helper()
	l := &YAMLLoader{Paths: []string{"testdata/guarded.yaml"}}
	classes, err := l.Load(context.Background())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	return classes
}

func TestYAMLLoader_MatchesBuiltMethods(t *testing.T) {
	classes := load(t)
	if len(classes) != 2 {
		t.Fatalf("expected 2 classes, got %d", len(classes))
	}

	got := classes[0].Methods[0]
	want := fixtures.TryFinally(false)
	if diff := cmp.Diff(listing(want), listing(got)); diff != "" {
		t.Errorf("guarded mismatch (-want +got):\n%s", diff)
	}
	if len(got.TryBlocks) != 1 || len(got.TryBlocks[0].Handlers) != 3 {
		t.Fatalf("unexpected exception table: %+v", got.TryBlocks)
	}
	if h := got.TryBlocks[0].Handlers[2]; !h.Finally || !h.CatchAll() || h.Offset != 12 {
		t.Errorf("unexpected finally handler %+v", h)
	}
	if got.Params[0].Type != ds.Object("t.Res") {
		t.Errorf("unexpected receiver type %s", got.Params[0].Type)
	}

	count := classes[1].Methods[0]
	if diff := cmp.Diff(listing(fixtures.CountingLoop(false)), listing(count)); diff != "" {
		t.Errorf("count mismatch (-want +got):\n%s", diff)
	}
	if !count.Static || classes[1].Super != "" {
		t.Errorf("unexpected class shape: static=%v super=%q", count.Static, classes[1].Super)
	}
}

func TestDecode_FoldsMoveResult(t *testing.T) {
	drain := load(t)[1].Methods[1]
	if len(drain.Insns) != 5 {
		t.Fatalf("expected move-result folded away, got %d insns", len(drain.Insns))
	}
	call := drain.Insns[0]
	if call.Result == nil || call.Result.Reg != 0 {
		t.Fatalf("call should write r0: %s", call)
	}
	if diff := cmp.Diff([]ds.Local{{Reg: 0, Name: "more", Type: ds.Boolean, Start: 0, End: 4}}, drain.Locals,
		cmp.Comparer(func(a, b ds.Type) bool { return a == b })); diff != "" {
		t.Errorf("locals mismatch (-want +got):\n%s", diff)
	}
}

func TestDecode_Errors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{"unknown key", "classes: [{name: A, colour: red}]", "colour"},
		{"unknown opcode", "classes: [{name: A, methods: [{name: m, code: [{off: 0, op: jump}]}]}]", "unknown opcode"},
		{"missing dst", "classes: [{name: A, methods: [{name: m, code: [{off: 0, op: const, value: 1}]}]}]", "needs dst"},
		{"bad operand", "classes: [{name: A, methods: [{name: m, code: [{off: 0, op: throw, args: [x1]}]}]}]", "neither a register"},
		{"bad type", "classes: [{name: A, methods: [{name: m, return: 'int]', code: []}]}]", "bad type"},
		{"dangling move-result", "classes: [{name: A, methods: [{name: m, code: [{off: 0, op: move-result, dst: 0}]}]}]", "does not follow a call"},
		{"switch shape", "classes: [{name: A, methods: [{name: m, code: [{off: 0, op: switch, args: [r0], keys: [1], targets: []}]}]}]", "same length"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(strings.NewReader(tt.doc))
			if err == nil {
				t.Fatal("expected an error")
			}
			if !errdefs.IsInvalidArgument(err) {
				t.Errorf("expected invalid argument, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestDecode_Empty(t *testing.T) {
	classes, err := Decode(strings.NewReader(""))
	if err != nil || classes != nil {
		t.Fatalf("expected nothing, got %v, %v", classes, err)
	}
}

func TestYAMLLoader_MissingFile(t *testing.T) {
	l := &YAMLLoader{Paths: []string{"testdata/missing.yaml"}}
	if _, err := l.Load(context.Background()); err == nil {
		t.Fatal("expected an error for a missing file")
	}
}

func TestStatic(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := (Static{}).Load(ctx); err == nil {
		t.Fatal("expected the cancelled context to be reported")
	}
}
