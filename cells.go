package dexstruct

// CellID indexes a typed-variable cell in a Cells arena.
type CellID int32

const NoCell CellID = -1

// Cells is a union-find arena of type-constraint cells. Every SSA version
// owns one cell; versions that must hold the same value (loop merges) are
// unioned so they share a single constraint. Operands refer to cells by id.
type Cells struct {
	parent []CellID
	rank   []uint8
	types  []Type

	// Hierarchy resolves object merges. Nil merges unrelated classes to
	// java.lang.Object.
	Hierarchy Ancestry
}

// New allocates a cell holding t. The zero Type starts as Unknown.
func (c *Cells) New(t Type) CellID {
	if t.IsZero() {
		t = Unknown
	}
	id := CellID(len(c.parent))
	c.parent = append(c.parent, id)
	c.rank = append(c.rank, 0)
	c.types = append(c.types, t)
	return id
}

// Len returns the number of allocated cells.
func (c *Cells) Len() int { return len(c.parent) }

// Find returns the representative of id's class.
func (c *Cells) Find(id CellID) CellID {
	for c.parent[id] != id {
		c.parent[id] = c.parent[c.parent[id]]
		id = c.parent[id]
	}
	return id
}

// IsRoot reports whether id represents its class.
func (c *Cells) IsRoot(id CellID) bool {
	return c.parent[id] == id
}

// Type returns the current constraint of id's class.
func (c *Cells) Type(id CellID) Type {
	if id == NoCell {
		return Type{}
	}
	return c.types[c.Find(id)]
}

// Merge narrows id's class with t. It reports whether the stored type
// changed and whether the merge was consistent; an inconsistent merge leaves
// the stored type untouched.
func (c *Cells) Merge(id CellID, t Type) (changed, ok bool) {
	r := c.Find(id)
	cur := c.types[r]
	m, ok := MergeTypes(cur, t, c.Hierarchy)
	if !ok {
		return false, false
	}
	if m == cur {
		return false, true
	}
	c.types[r] = m
	return true, true
}

// Force overwrites id's class constraint regardless of consistency.
func (c *Cells) Force(id CellID, t Type) bool {
	r := c.Find(id)
	if c.types[r] == t {
		return false
	}
	c.types[r] = t
	return true
}

// Union joins the classes of a and b and merges their constraints. When
// the constraints conflict the classes are still joined and a's constraint
// is kept. Union is idempotent and commutative up to the chosen
// representative.
func (c *Cells) Union(a, b CellID) (changed, ok bool) {
	ra, rb := c.Find(a), c.Find(b)
	if ra == rb {
		return false, true
	}
	ta, tb := c.types[ra], c.types[rb]
	m, ok := MergeTypes(ta, tb, c.Hierarchy)
	if !ok {
		m = ta
	}
	if c.rank[ra] < c.rank[rb] {
		ra, rb = rb, ra
	}
	c.parent[rb] = ra
	if c.rank[ra] == c.rank[rb] {
		c.rank[ra]++
	}
	c.types[ra] = m
	return true, ok
}

// Roots returns every class representative in ascending id order.
func (c *Cells) Roots() []CellID {
	var out []CellID
	for i := range c.parent {
		if c.Find(CellID(i)) == CellID(i) {
			out = append(out, CellID(i))
		}
	}
	return out
}
