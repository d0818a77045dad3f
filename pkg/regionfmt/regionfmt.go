// Package regionfmt renders decompiled methods for the command line: the
// region tree as indented pseudo-code, a compact one-line shape of the
// tree, and the problems recorded on a method.
package regionfmt

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/mattn/go-runewidth"

	ds "github.com/dexstruct/dexstruct"
	"github.com/dexstruct/dexstruct/regions"
)

// Options controls rendering.
type Options struct {
	Indent int  // Spaces per nesting level (default: 2)
	Width  int  // Truncate lines wider than this many cells; 0 disables
	Color  bool // Highlight structure keywords with ANSI escapes
}

// DefaultOptions returns the options used by the command line.
func DefaultOptions() Options {
	return Options{Indent: 2}
}

const (
	bold  = "\x1b[1m"
	reset = "\x1b[0m"
)

type printer struct {
	m     *ds.Method
	opts  Options
	w     io.Writer
	depth int
	err   error
	// labels holds the entry blocks of loops left by a labeled break.
	labels map[int]bool
}

// Tree writes root as indented pseudo-code. Gotos, instructions removed by
// finally extraction and instructions absorbed into loop headers are not
// printed.
func Tree(w io.Writer, m *ds.Method, root regions.Region, opts Options) error {
	if opts.Indent <= 0 {
		opts.Indent = 2
	}
	p := &printer{m: m, opts: opts, w: w, labels: make(map[int]bool)}
	regions.Walk(root, func(r regions.Region) bool {
		if br, ok := r.(*regions.Break); ok && br.Labeled {
			p.labels[br.Loop] = true
		}
		return true
	})
	p.region(root)
	return p.err
}

func (p *printer) line(s string) {
	if p.err != nil {
		return
	}
	s = strings.Repeat(" ", p.depth*p.opts.Indent) + s
	if p.opts.Width > 0 && runewidth.StringWidth(s) > p.opts.Width {
		s = runewidth.Truncate(s, p.opts.Width, "…")
	}
	_, p.err = fmt.Fprintln(p.w, s)
}

func (p *printer) kw(s string) string {
	if p.opts.Color {
		return bold + s + reset
	}
	return s
}

func (p *printer) open(s string) {
	p.line(s + " {")
	p.depth++
}

func (p *printer) close() {
	p.depth--
	p.line("}")
}

func (p *printer) region(r regions.Region) {
	switch n := r.(type) {
	case *regions.Sequence:
		if n == nil {
			return
		}
		for _, it := range n.Items {
			p.region(it)
		}
	case *regions.Leaf:
		for _, in := range p.live(n.Block) {
			p.line(in.String())
		}
	case *regions.Condition:
		cond := p.header(n.Header)
		if len(n.Terms) > 0 {
			cond = p.compound(n, cond)
		}
		if n.Inverted {
			cond = "!(" + cond + ")"
		}
		p.open(p.kw("if") + " " + cond)
		p.region(n.Then)
		if n.Else != nil && len(n.Else.Items) > 0 {
			p.depth--
			p.open("} " + p.kw("else"))
			p.region(n.Else)
		}
		p.close()
	case *regions.Switch:
		p.open(p.kw("switch") + " " + p.header(n.Header))
		for _, c := range n.Cases {
			keys := make([]string, len(c.Keys))
			for i, k := range c.Keys {
				keys[i] = strconv.FormatInt(k, 10)
			}
			p.open(p.kw("case") + " " + strings.Join(keys, ", "))
			p.region(c.Body)
			p.close()
		}
		if n.Default != nil {
			p.open(p.kw("default"))
			p.region(n.Default)
			p.close()
		}
		p.close()
	case *regions.Loop:
		p.loop(n)
	case *regions.Break:
		if n.Labeled {
			p.line(fmt.Sprintf("%s loop%d", p.kw("break"), n.Loop))
		} else {
			p.line(p.kw("break"))
		}
	case *regions.Synchronized:
		p.open(fmt.Sprintf("%s (%s)", p.kw("synchronized"), n.Enter.Args[0]))
		p.region(n.Body)
		p.close()
	case *regions.TryCatch:
		p.open(p.kw("try"))
		p.region(n.Try)
		for _, c := range n.Handlers {
			p.depth--
			p.open("} " + p.kw(c.Handler.String()))
			p.region(c.Body)
		}
		if n.Finally != nil {
			p.depth--
			p.open("} " + p.kw("finally"))
			p.region(n.Finally.Body)
		}
		p.close()
	}
}

func (p *printer) loop(l *regions.Loop) {
	if p.labels[l.Start] {
		p.line(fmt.Sprintf("loop%d:", l.Start))
	}
	var head string
	switch {
	case l.ForEach != nil:
		head = fmt.Sprintf("%s (%s : %s)", p.kw("for"), p.varName(l.ForEach.Item), l.ForEach.Iterable)
	case l.For != nil:
		head = fmt.Sprintf("%s (%s; %s; %s)", p.kw(l.Type.String()), insnText(l.For.Init), p.condition(l), insnText(l.For.Incr))
	case l.Header < 0:
		head = p.kw("while") + " (true)"
	case l.ConditionAtEnd:
		p.open(p.kw("do"))
		p.region(l.Body)
		p.statements(l.PreCondition)
		p.depth--
		p.line("} " + p.kw("while") + " (" + p.condition(l) + ")")
		return
	case len(p.liveOf(l.PreCondition)) > 0:
		// statements ahead of the test run on every iteration
		p.open(p.kw("while") + " (true)")
		p.statements(l.PreCondition)
		p.open(p.kw("if") + " " + p.test(l, !l.Inverted))
		p.line(p.kw("break"))
		p.close()
		p.region(l.Body)
		p.close()
		return
	default:
		head = p.kw("while") + " (" + p.condition(l) + ")"
	}
	p.open(head)
	p.region(l.Body)
	p.close()
}

func (p *printer) statements(insns []*ds.Insn) {
	for _, in := range p.liveOf(insns) {
		p.line(in.String())
	}
}

func (p *printer) liveOf(insns []*ds.Insn) []*ds.Insn {
	var out []*ds.Insn
	for _, in := range insns {
		if in.Has(ds.FlagSkip) || in.Has(ds.FlagSyntheticDup) || in.Has(ds.FlagDontGenerate) || in.Op == ds.OpGoto {
			continue
		}
		out = append(out, in)
	}
	return out
}

func (p *printer) condition(l *regions.Loop) string {
	return p.test(l, l.Inverted)
}

// test renders the loop's branch, negated when invert is set.
func (p *printer) test(l *regions.Loop, invert bool) string {
	if len(l.Condition) == 0 {
		if invert {
			return "false"
		}
		return "true"
	}
	s := insnText(l.Condition[len(l.Condition)-1])
	if invert {
		s = "!(" + s + ")"
	}
	return s
}

// compound joins the branches of a multi-term condition. first is the
// already rendered branch of the header block.
func (p *printer) compound(c *regions.Condition, first string) string {
	parts := make([]string, len(c.Terms))
	for i, t := range c.Terms {
		s := first
		if i > 0 {
			s = "?"
			if live := p.live(t.Block); len(live) > 0 {
				s = insnText(live[len(live)-1])
			}
		}
		if t.Negated {
			parts[i] = "!(" + s + ")"
		} else {
			parts[i] = "(" + s + ")"
		}
	}
	return strings.Join(parts, " "+c.Op.String()+" ")
}

// header prints the instructions of a branching block ahead of the branch
// and returns the branch text.
func (p *printer) header(b int) string {
	live := p.live(b)
	if len(live) == 0 {
		return "?"
	}
	for _, in := range live[:len(live)-1] {
		p.line(in.String())
	}
	return insnText(live[len(live)-1])
}

func (p *printer) live(b int) []*ds.Insn {
	if b < 0 || b >= len(p.m.Blocks) {
		return nil
	}
	return p.liveOf(p.m.Blocks[b].Live())
}

func (p *printer) varName(id ds.VarID) string {
	if int(id) < 0 || int(id) >= len(p.m.Vars) {
		return "?"
	}
	return p.m.Vars[id].String()
}

// insnText drops the offset prefix of an instruction's listing form.
func insnText(in *ds.Insn) string {
	if in == nil {
		return ""
	}
	s := in.String()
	if _, rest, ok := strings.Cut(s, ": "); ok {
		return rest
	}
	return s
}

// Shape returns a compact one-line form of a region tree, naming blocks
// only: "[B0 while(B1 [B2]) B3]".
func Shape(r regions.Region) string {
	var b strings.Builder
	shape(&b, r)
	return b.String()
}

func shape(b *strings.Builder, r regions.Region) {
	switch n := r.(type) {
	case nil:
		b.WriteString("-")
	case *regions.Sequence:
		if n == nil {
			b.WriteString("-")
			return
		}
		b.WriteByte('[')
		for i, it := range n.Items {
			if i > 0 {
				b.WriteByte(' ')
			}
			shape(b, it)
		}
		b.WriteByte(']')
	case *regions.Leaf:
		fmt.Fprintf(b, "B%d", n.Block)
	case *regions.Condition:
		fmt.Fprintf(b, "if(B%d", n.Header)
		for _, t := range n.Terms[min(1, len(n.Terms)):] {
			fmt.Fprintf(b, "%sB%d", n.Op, t.Block)
		}
		b.WriteByte(' ')
		shape(b, n.Then)
		b.WriteByte(' ')
		shape(b, n.Else)
		b.WriteByte(')')
	case *regions.Switch:
		fmt.Fprintf(b, "switch(B%d", n.Header)
		for _, c := range n.Cases {
			b.WriteByte(' ')
			shape(b, c.Body)
		}
		b.WriteString(" default ")
		shape(b, n.Default)
		b.WriteByte(')')
	case *regions.Loop:
		fmt.Fprintf(b, "%s(B%d ", n.Type, n.Header)
		shape(b, n.Body)
		b.WriteByte(')')
	case *regions.Break:
		b.WriteString("break")
	case *regions.Synchronized:
		b.WriteString("sync(")
		shape(b, n.Body)
		b.WriteByte(')')
	case *regions.TryCatch:
		b.WriteString("try(")
		shape(b, n.Try)
		for _, c := range n.Handlers {
			b.WriteString(" " + c.Handler.String())
			shape(b, c.Body)
		}
		if n.Finally != nil {
			b.WriteString(" finally")
			shape(b, n.Finally.Body)
		}
		b.WriteByte(')')
	default:
		b.WriteString("?")
	}
}
