package dexstruct

import (
	"fmt"
	"slices"
	"strings"

	"github.com/pkg/errors"
)

// BuildSSA assigns an SSA version to every register operand and allocates
// one typed-variable cell per version.
//
// Each block is scanned once: reads take the version current in the block,
// results create a new version, and a read with no earlier write in the
// block creates a merge version live on entry. Incoming edges are then
// relaxed to a fixed point: a merge version collects the end version of
// every predecessor, and a predecessor lacking one gets a merge version of
// its own. Merge versions that see a single distinct source collapse into
// it; the rest are unioned with their sources so loop-carried values share
// one constraint. Reads that no definition reaches are left unbound.
func BuildSSA(m *Method) {
	b := &ssaBuilder{m: m, versions: make(map[int]int)}
	b.scan()
	b.relax()
	b.collapse()
	b.allocateCells()
}

type ssaBuilder struct {
	m        *Method
	vars     []*Var
	versions map[int]int
	pending  []VarID
}

func (s *ssaBuilder) newVar(reg, block int, def *Insn) *Var {
	v := &Var{ID: VarID(len(s.vars)), Reg: reg, Version: s.versions[reg], Def: def, Block: block, Cell: NoCell}
	s.versions[reg]++
	s.vars = append(s.vars, v)
	return v
}

func (s *ssaBuilder) newMerge(b *Block, reg int) *Var {
	v := s.newVar(reg, b.ID, nil)
	b.Start[reg] = v.ID
	s.pending = append(s.pending, v.ID)
	return v
}

func (s *ssaBuilder) scan() {
	for _, b := range s.m.Blocks {
		b.Start = make(map[int]VarID)
		cur := make(map[int]VarID)
		if b.ID == 0 {
			for _, p := range s.m.Params {
				v := s.newVar(p.Reg, 0, nil)
				v.Param = true
				v.Name = p.Name
				b.Start[p.Reg] = v.ID
				cur[p.Reg] = v.ID
			}
		}
		for _, in := range b.Insns {
			for _, a := range in.Args {
				if !a.IsRegister() {
					continue
				}
				id, ok := cur[a.Reg]
				if !ok {
					id = s.newMerge(b, a.Reg).ID
					cur[a.Reg] = id
				}
				a.Var = id
			}
			if in.Result != nil {
				v := s.newVar(in.Result.Reg, b.ID, in)
				in.Result.Var = v.ID
				cur[in.Result.Reg] = v.ID
			}
		}
		b.End = cur
	}
}

func (s *ssaBuilder) relax() {
	for len(s.pending) > 0 {
		id := s.pending[0]
		s.pending = s.pending[1:]
		v := s.vars[id]
		for _, p := range s.m.AllPreds(v.Block) {
			pb := s.m.Blocks[p]
			src, ok := pb.End[v.Reg]
			if !ok {
				src = s.newMerge(pb, v.Reg).ID
				pb.End[v.Reg] = src
			}
			if !slices.Contains(v.Sources, src) {
				v.Sources = append(v.Sources, src)
			}
		}
	}
}

func (s *ssaBuilder) collapse() {
	alias := make(map[VarID]VarID)
	var resolve func(VarID) VarID
	resolve = func(id VarID) VarID {
		for {
			to, ok := alias[id]
			if !ok || to == NoVar {
				if ok {
					return NoVar
				}
				return id
			}
			id = to
		}
	}
	for changed := true; changed; {
		changed = false
		for _, v := range s.vars {
			if !v.IsMerge() {
				continue
			}
			if _, done := alias[v.ID]; done {
				continue
			}
			var distinct []VarID
			for _, src := range v.Sources {
				r := resolve(src)
				if r == NoVar || r == v.ID || slices.Contains(distinct, r) {
					continue
				}
				distinct = append(distinct, r)
			}
			switch len(distinct) {
			case 0:
				alias[v.ID] = NoVar
				changed = true
			case 1:
				alias[v.ID] = distinct[0]
				changed = true
			}
		}
	}

	remap := make([]VarID, len(s.vars))
	var live []*Var
	for _, v := range s.vars {
		if _, ok := alias[v.ID]; ok {
			continue
		}
		remap[v.ID] = VarID(len(live))
		live = append(live, v)
	}
	for _, v := range s.vars {
		if _, ok := alias[v.ID]; ok {
			if r := resolve(v.ID); r == NoVar {
				remap[v.ID] = NoVar
			} else {
				remap[v.ID] = remap[r]
			}
		}
	}

	versions := make(map[int]int)
	for i, v := range live {
		v.ID = VarID(i)
		v.Version = versions[v.Reg]
		versions[v.Reg]++
		var srcs []VarID
		for _, src := range v.Sources {
			r := remap[src]
			if r != NoVar && r != v.ID && !slices.Contains(srcs, r) {
				srcs = append(srcs, r)
			}
		}
		v.Sources = srcs
	}
	for _, b := range s.m.Blocks {
		remapState(b.Start, remap)
		remapState(b.End, remap)
		for _, in := range b.Insns {
			if in.Result != nil && in.Result.Var != NoVar {
				in.Result.Var = remap[in.Result.Var]
			}
			for _, a := range in.Args {
				if a.IsRegister() && a.Var != NoVar {
					a.Var = remap[a.Var]
					if a.Var != NoVar {
						live[a.Var].Uses = append(live[a.Var].Uses, a)
					}
				}
			}
		}
	}
	s.m.Vars = live
}

func remapState(state map[int]VarID, remap []VarID) {
	for reg, id := range state {
		if r := remap[id]; r == NoVar {
			delete(state, reg)
		} else {
			state[reg] = r
		}
	}
}

func (s *ssaBuilder) allocateCells() {
	m := s.m
	m.Cells = &Cells{}
	for _, v := range m.Vars {
		var hint Type
		switch {
		case v.Param:
			hint = m.paramType(v.Reg)
		case v.Def != nil && v.Def.Result != nil:
			hint = v.Def.Result.Type
		}
		v.Cell = m.Cells.New(hint)
	}
	for _, v := range m.Vars {
		for _, src := range v.Sources {
			m.Cells.Union(v.Cell, m.Vars[src].Cell)
			m.Vars[src].MergedInto = append(m.Vars[src].MergedInto, v.ID)
		}
	}
}

func (m *Method) paramType(reg int) Type {
	for _, p := range m.Params {
		if p.Reg == reg {
			return p.Type
		}
	}
	return Type{}
}

// CheckSSA verifies that every register read in a reachable block is bound
// to exactly one reaching version, and that every merge version is closed:
// each incoming edge supplies one of its sources and all sources share its
// typed-variable cell.
func CheckSSA(m *Method) error {
	var problems []string
	reach := m.Reachable()
	reach.ForEach(func(id int) {
		for _, in := range m.Blocks[id].Insns {
			for _, a := range in.Args {
				if a.IsRegister() && m.VarOf(a) == nil {
					problems = append(problems, fmt.Sprintf("%s: r%d read before any definition", in, a.Reg))
				}
			}
		}
	})
	for _, v := range m.Vars {
		if !v.IsMerge() || !reach.Contains(v.Block) {
			continue
		}
		root := m.Cells.Find(v.Cell)
		for _, p := range m.AllPreds(v.Block) {
			if !reach.Contains(p) {
				continue
			}
			src, ok := m.Blocks[p].End[v.Reg]
			if !ok {
				problems = append(problems, fmt.Sprintf("%s: no version of r%d on edge B%d->B%d", v, v.Reg, p, v.Block))
				continue
			}
			if src != v.ID && !slices.Contains(v.Sources, src) {
				problems = append(problems, fmt.Sprintf("%s: edge B%d->B%d supplies %s outside the merge", v, p, v.Block, m.Vars[src]))
			}
		}
		for _, src := range v.Sources {
			if m.Cells.Find(m.Vars[src].Cell) != root {
				problems = append(problems, fmt.Sprintf("%s: source %s not unified", v, m.Vars[src]))
			}
		}
	}
	if len(problems) > 0 {
		return errors.Errorf("ssa check failed: %s", strings.Join(problems, "; "))
	}
	return nil
}
