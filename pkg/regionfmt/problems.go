package regionfmt

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/containerd/errdefs"
	"github.com/mattn/go-runewidth"
	"github.com/pkg/errors"

	ds "github.com/dexstruct/dexstruct"
	"github.com/dexstruct/dexstruct/finally"
	"github.com/dexstruct/dexstruct/regions"
	"github.com/dexstruct/dexstruct/typeinfer"
)

var blockRe = regexp.MustCompile(`\bB(\d+)\b`)

// Problems turns the problems recorded on m into a user-facing report: one
// entry per problem with a summary, its location and a hint where one is
// known.
func Problems(m *ds.Method) string {
	if len(m.Problems) == 0 {
		return ""
	}

	var b strings.Builder
	if m.Degraded {
		fmt.Fprintf(&b, "%s: decompiled in degraded mode.\n", m.FullName())
	} else {
		fmt.Fprintf(&b, "%s: decompiled with warnings.\n", m.FullName())
	}

	for _, p := range m.Problems {
		msg, hint := classifyAndHint(p)
		fmt.Fprintf(&b, "- %s %s\n", label(p.Level), msg)
		if loc := location(m, p); loc != "" {
			fmt.Fprintf(&b, "  %s %s\n", label("Location:"), loc)
		}
		if hint != "" {
			fmt.Fprintf(&b, "  %s %s\n", label("Hint:"), hint)
		}
		fmt.Fprintf(&b, "  %s %s\n", label("Details:"), details(p))
	}
	return b.String()
}

func label(v any) string {
	return runewidth.FillRight(fmt.Sprint(v), 9)
}

// location prefers the recorded offset; otherwise it falls back to a block
// named in the message.
func location(m *ds.Method, p ds.Problem) string {
	if p.Offset >= 0 {
		if id := blockOf(m, p.Offset); id >= 0 {
			return fmt.Sprintf("0x%04x in B%d", p.Offset, id)
		}
		return fmt.Sprintf("0x%04x", p.Offset)
	}
	if sm := blockRe.FindStringSubmatch(p.Message); len(sm) == 2 {
		return "B" + sm[1]
	}
	return ""
}

func blockOf(m *ds.Method, offset int) int {
	for _, b := range m.Blocks {
		if len(b.Insns) == 0 || b.Insns[0].Offset > offset {
			continue
		}
		if last := b.Insns[len(b.Insns)-1]; last.Offset >= offset {
			return b.ID
		}
	}
	return -1
}

func classifyAndHint(p ds.Problem) (msg, hint string) {
	switch cause := p.Cause; {
	case cause == nil:
	case errors.Is(cause, typeinfer.ErrUnresolved):
		msg = "A value has no concrete type."
		hint = "Usually follows unreachable or malformed code. Check the surrounding instructions for reads of never-written registers."
		return
	case errors.Is(cause, typeinfer.ErrConflict):
		msg = "Conflicting type constraints on one variable."
		hint = "The register is reused for unrelated values. The first constraint wins; add debug info to split the variable."
		return
	case errors.Is(cause, finally.ErrInconsistent):
		msg = "Finally copies differ, so the duplicated code is kept."
		hint = "The try paths inline different cleanup code. Output stays correct but repeats the finally body."
		return
	case errors.Is(cause, regions.ErrCoverage):
		msg = "Some blocks are not covered by the region tree."
		hint = "The control flow is irreducible or unusual. The method is printed as flat code with gotos."
		return
	case errdefs.IsNotImplemented(cause):
		msg = "Unsupported construct."
		hint = "Shared legacy subroutines are left unstructured."
		return
	case errdefs.IsInternal(cause):
		msg = "Internal failure while decompiling."
		return
	}
	if p.Level == ds.ProblemError {
		return "Decompilation error.", ""
	}
	return "Decompilation warning.", ""
}

func details(p ds.Problem) string {
	if p.Cause == nil {
		return strings.TrimSpace(p.Message)
	}
	return strings.TrimSpace(p.Message + ": " + p.Cause.Error())
}
