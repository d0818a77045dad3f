package rawload

import (
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	ds "github.com/dexstruct/dexstruct"
)

type fileDoc struct {
	Classes []classDoc `yaml:"classes"`
}

type classDoc struct {
	Name       string      `yaml:"name"`
	Super      string      `yaml:"super"`
	Interfaces []string    `yaml:"interfaces"`
	Methods    []methodDoc `yaml:"methods"`
}

type methodDoc struct {
	Name   string     `yaml:"name"`
	Static bool       `yaml:"static"`
	Regs   int        `yaml:"regs"`
	Return string     `yaml:"return"`
	Params []paramDoc `yaml:"params"`
	Code   []insnDoc  `yaml:"code"`
	Tries  []tryDoc   `yaml:"tries"`
	Locals []localDoc `yaml:"locals"`
}

type paramDoc struct {
	Reg  int    `yaml:"reg"`
	Type string `yaml:"type"`
	Name string `yaml:"name"`
}

type localDoc struct {
	Reg   int    `yaml:"reg"`
	Name  string `yaml:"name"`
	Type  string `yaml:"type"`
	Start int    `yaml:"start"`
	End   int    `yaml:"end"`
}

type tryDoc struct {
	Start    int          `yaml:"start"`
	End      int          `yaml:"end"`
	Handlers []handlerDoc `yaml:"handlers"`
}

type handlerDoc struct {
	Types   []string `yaml:"types"`
	Offset  int      `yaml:"offset"`
	Finally bool     `yaml:"finally"`
}

type insnDoc struct {
	Off  int      `yaml:"off"`
	Op   string   `yaml:"op"`
	Dst  *int     `yaml:"dst"`
	Args []argDoc `yaml:"args"`

	// Type is the payload type of typed opcodes, the width hint of const
	// and the operand type of arithmetic.
	Type    string    `yaml:"type"`
	Value   int64     `yaml:"value"`
	String  string    `yaml:"string"`
	Cmp     string    `yaml:"cmp"`
	Arith   string    `yaml:"arith"`
	Target  *int      `yaml:"target"`
	Keys    []int64   `yaml:"keys"`
	Targets []int     `yaml:"targets"`
	Default *int      `yaml:"default"`
	Call    *callDoc  `yaml:"call"`
	Field   *fieldDoc `yaml:"field"`
}

type callDoc struct {
	Class  string   `yaml:"class"`
	Name   string   `yaml:"name"`
	Kind   string   `yaml:"kind"`
	Params []string `yaml:"params"`
	Return string   `yaml:"return"`
	// Candidates lists the overloads of an ambiguous call site and
	// replaces Params/Return when set.
	Candidates []sigDoc `yaml:"candidates"`
}

type sigDoc struct {
	Params []string `yaml:"params"`
	Return string   `yaml:"return"`
}

type fieldDoc struct {
	Class  string `yaml:"class"`
	Name   string `yaml:"name"`
	Type   string `yaml:"type"`
	Static bool   `yaml:"static"`
}

// argDoc is one operand: "r3" or "r3:int" for a register with an optional
// hint, "#10" or "#10:long" for a literal. A bare integer is a literal.
type argDoc struct {
	arg *ds.Arg
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (a *argDoc) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return invalid("line %d: operand must be a scalar", node.Line)
	}
	s := strings.TrimSpace(node.Value)
	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		a.arg = ds.Lit(v, ds.Int)
		return nil
	}
	body, hint, _ := strings.Cut(s, ":")
	t := ds.Type{}
	if hint != "" {
		var ok bool
		if t, ok = ds.ParseType(hint); !ok {
			return invalid("line %d: bad type %q in operand %q", node.Line, hint, s)
		}
	}
	switch {
	case strings.HasPrefix(body, "r"):
		r, err := strconv.Atoi(body[1:])
		if err != nil || r < 0 {
			return invalid("line %d: bad register %q", node.Line, s)
		}
		a.arg = ds.Reg(r, t)
	case strings.HasPrefix(body, "#"):
		v, err := strconv.ParseInt(body[1:], 10, 64)
		if err != nil {
			return invalid("line %d: bad literal %q", node.Line, s)
		}
		if t.IsZero() {
			t = ds.Int
		}
		a.arg = ds.Lit(v, t)
	default:
		return invalid("line %d: operand %q is neither a register nor a literal", node.Line, s)
	}
	return nil
}

func (cd classDoc) class() (*ds.Class, error) {
	if cd.Name == "" {
		return nil, invalid("class without a name")
	}
	c := &ds.Class{Name: cd.Name, Super: cd.Super, Interfaces: cd.Interfaces}
	for _, md := range cd.Methods {
		m, err := md.method(cd.Name)
		if err != nil {
			return nil, err
		}
		c.Methods = append(c.Methods, m)
	}
	return c, nil
}

func (md methodDoc) method(class string) (*ds.Method, error) {
	m := &ds.Method{Class: class, Name: md.Name, Static: md.Static, RegCount: md.Regs}
	name := m.FullName()
	var err error
	if m.Return, err = parseType(md.Return, ds.Void); err != nil {
		return nil, invalid("%s: return: %v", name, err)
	}
	for _, p := range md.Params {
		t, err := parseType(p.Type, ds.Type{})
		if err != nil {
			return nil, invalid("%s: param %s: %v", name, p.Name, err)
		}
		m.Params = append(m.Params, ds.Param{Reg: p.Reg, Type: t, Name: p.Name})
	}
	for _, l := range md.Locals {
		t, err := parseType(l.Type, ds.Type{})
		if err != nil {
			return nil, invalid("%s: local %s: %v", name, l.Name, err)
		}
		m.Locals = append(m.Locals, ds.Local{Reg: l.Reg, Name: l.Name, Type: t, Start: l.Start, End: l.End})
	}
	for _, td := range md.Tries {
		tb := &ds.TryBlock{Start: td.Start, End: td.End}
		for _, h := range td.Handlers {
			tb.Handlers = append(tb.Handlers, &ds.Handler{Types: h.Types, Offset: h.Offset, Finally: h.Finally})
		}
		m.TryBlocks = append(m.TryBlocks, tb)
	}
	for _, id := range md.Code {
		in, err := id.insn()
		if err != nil {
			return nil, invalid("%s: 0x%04x: %v", name, id.Off, err)
		}
		if in.Op == ds.OpMoveResult {
			// folded into the preceding call
			prev := len(m.Insns) - 1
			if prev < 0 || m.Insns[prev].Op != ds.OpInvoke || m.Insns[prev].Result != nil {
				return nil, invalid("%s: 0x%04x: move-result does not follow a call", name, id.Off)
			}
			m.Insns[prev].Result = in.Result
			continue
		}
		m.Insns = append(m.Insns, in)
	}
	return m, nil
}
