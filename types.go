package dexstruct

import (
	"math/bits"
	"strings"
)

// Primitive is a kind of value a register may hold. Declaration order is the
// selection priority used when an unresolved candidate set must be narrowed
// to one kind, so do not reorder.
type Primitive uint8

const (
	PrimNone Primitive = iota
	PrimInt
	PrimFloat
	PrimBoolean
	PrimShort
	PrimByte
	PrimChar
	PrimObject
	PrimArray
	PrimLong
	PrimDouble
	PrimVoid
)

var primNames = [...]string{
	PrimNone:    "none",
	PrimInt:     "int",
	PrimFloat:   "float",
	PrimBoolean: "boolean",
	PrimShort:   "short",
	PrimByte:    "byte",
	PrimChar:    "char",
	PrimObject:  "object",
	PrimArray:   "array",
	PrimLong:    "long",
	PrimDouble:  "double",
	PrimVoid:    "void",
}

func (p Primitive) String() string {
	if int(p) < len(primNames) {
		return primNames[p]
	}
	return "invalid"
}

// narrowRank orders primitives for same-width merges: the lower rank wins.
var narrowRank = [...]int{
	PrimBoolean: 0,
	PrimChar:    1,
	PrimByte:    2,
	PrimShort:   3,
	PrimInt:     4,
	PrimFloat:   5,
	PrimLong:    6,
	PrimDouble:  7,
}

// PrimSet is a bit set of candidate primitives.
type PrimSet uint16

func setOf(ps ...Primitive) PrimSet {
	var s PrimSet
	for _, p := range ps {
		s |= 1 << p
	}
	return s
}

func (s PrimSet) Has(p Primitive) bool { return s&(1<<p) != 0 }

func (s PrimSet) Len() int { return bits.OnesCount16(uint16(s)) }

// First returns the highest priority member.
func (s PrimSet) First() Primitive {
	if s == 0 {
		return PrimNone
	}
	return Primitive(bits.TrailingZeros16(uint16(s)))
}

func (s PrimSet) List() []Primitive {
	var out []Primitive
	for p := PrimInt; p <= PrimVoid; p++ {
		if s.Has(p) {
			out = append(out, p)
		}
	}
	return out
}

const ObjectClass = "java.lang.Object"

// Type is a point in the type lattice: either a resolved kind (primitive,
// object of a named class, array of a resolved element) or a set of
// candidate primitives still under consideration. Types are comparable
// values. The zero Type carries no information.
type Type struct {
	prim  Primitive
	cands PrimSet
	class string
	dims  uint8
}

var (
	Unknown              = Type{cands: setOf(PrimInt, PrimFloat, PrimBoolean, PrimShort, PrimByte, PrimChar, PrimObject, PrimArray, PrimLong, PrimDouble)}
	UnknownNarrow        = Type{cands: setOf(PrimInt, PrimFloat, PrimBoolean, PrimShort, PrimByte, PrimChar, PrimObject, PrimArray)}
	UnknownNarrowNumbers = Type{cands: setOf(PrimInt, PrimFloat, PrimBoolean, PrimShort, PrimByte, PrimChar)}
	UnknownIntegral      = Type{cands: setOf(PrimInt, PrimBoolean, PrimShort, PrimByte, PrimChar)}
	UnknownWide          = Type{cands: setOf(PrimLong, PrimDouble)}
	UnknownObject        = Type{cands: setOf(PrimObject, PrimArray)}

	Int     = Type{prim: PrimInt}
	Float   = Type{prim: PrimFloat}
	Boolean = Type{prim: PrimBoolean}
	Short   = Type{prim: PrimShort}
	Byte    = Type{prim: PrimByte}
	Char    = Type{prim: PrimChar}
	Long    = Type{prim: PrimLong}
	Double  = Type{prim: PrimDouble}
	Void    = Type{prim: PrimVoid}

	ObjectType    = Object(ObjectClass)
	StringType    = Object("java.lang.String")
	ClassType     = Object("java.lang.Class")
	ThrowableType = Object("java.lang.Throwable")
)

// PrimitiveType returns the resolved type of a primitive kind.
func PrimitiveType(p Primitive) Type {
	switch p {
	case PrimObject:
		return ObjectType
	case PrimArray:
		return ArrayOf(Unknown)
	}
	return Type{prim: p}
}

// Object returns the reference type of the named class.
func Object(class string) Type {
	return Type{prim: PrimObject, class: class}
}

// ArrayOf returns the array type with the given element type.
func ArrayOf(elem Type) Type {
	if elem.IsZero() {
		elem = Unknown
	}
	elem.dims++
	return elem
}

// UnknownOf returns an unresolved type with the given candidates. A single
// non-reference candidate collapses to that primitive.
func UnknownOf(ps ...Primitive) Type {
	return unknownOf(setOf(ps...))
}

func unknownOf(s PrimSet) Type {
	if s.Len() == 1 {
		p := s.First()
		if p != PrimObject && p != PrimArray {
			return Type{prim: p}
		}
	}
	return Type{cands: s}
}

func (t Type) IsZero() bool { return t == Type{} }

// IsKnown reports whether the type, including any array element, is resolved.
func (t Type) IsKnown() bool {
	return !t.IsZero() && t.cands == 0
}

func (t Type) IsPrimitive() bool {
	return t.dims == 0 && t.cands == 0 && t.prim >= PrimInt && t.prim <= PrimDouble &&
		t.prim != PrimObject && t.prim != PrimArray
}

func (t Type) IsObject() bool { return t.dims == 0 && t.cands == 0 && t.prim == PrimObject }

func (t Type) IsArray() bool { return t.dims > 0 }

// IsReference reports whether the type is an object or array.
func (t Type) IsReference() bool { return t.IsObject() || t.IsArray() }

func (t Type) IsVoid() bool { return t.dims == 0 && t.prim == PrimVoid }

// Candidates returns the candidate set of a top-level unresolved type.
func (t Type) Candidates() PrimSet {
	if t.dims > 0 {
		return 0
	}
	return t.cands
}

// Kind returns the primitive kind of a resolved top-level type.
func (t Type) Kind() Primitive {
	if t.dims > 0 {
		return PrimArray
	}
	if t.cands != 0 {
		return PrimNone
	}
	return t.prim
}

// Class returns the class name of an object type.
func (t Type) Class() string {
	if t.IsObject() {
		return t.class
	}
	return ""
}

// Elem returns the element type of an array type.
func (t Type) Elem() Type {
	if t.dims == 0 {
		return Type{}
	}
	t.dims--
	return t
}

// Width is the number of registers a value of this type occupies.
func (t Type) Width() int {
	if t.dims == 0 && t.cands == 0 && (t.prim == PrimLong || t.prim == PrimDouble) {
		return 2
	}
	if t.dims == 0 && t.cands != 0 && t.cands&UnknownWide.cands == t.cands {
		return 2
	}
	return 1
}

// CanBe reports whether a value of the type may turn out to be of kind p.
func (t Type) CanBe(p Primitive) bool {
	if t.IsZero() {
		return true
	}
	if t.dims == 0 && t.cands != 0 {
		return t.cands.Has(p)
	}
	return t.Kind() == p
}

func (t Type) String() string {
	if t.IsZero() {
		return "-"
	}
	var b strings.Builder
	switch {
	case t.cands == Unknown.cands:
		b.WriteString("?")
	case t.cands != 0:
		b.WriteString("?{")
		for i, p := range t.cands.List() {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(p.String())
		}
		b.WriteByte('}')
	case t.prim == PrimObject:
		b.WriteString(t.class)
	default:
		b.WriteString(t.prim.String())
	}
	for i := uint8(0); i < t.dims; i++ {
		b.WriteString("[]")
	}
	return b.String()
}

// ParseType parses the textual form used in fixtures and by String:
// primitive names, dotted class names, "?" for any type, "?narrow",
// "?wide", "?object", "?{int,float}" candidate lists, and a "[]" suffix per
// array dimension. The empty string yields the zero Type.
func ParseType(s string) (Type, bool) {
	s = strings.TrimSpace(s)
	if s == "" || s == "-" {
		return Type{}, true
	}
	dims := 0
	for strings.HasSuffix(s, "[]") {
		dims++
		s = strings.TrimSuffix(s, "[]")
	}
	var t Type
	switch s {
	case "?":
		t = Unknown
	case "?narrow":
		t = UnknownNarrow
	case "?number":
		t = UnknownNarrowNumbers
	case "?wide":
		t = UnknownWide
	case "?object":
		t = UnknownObject
	default:
		switch {
		case strings.HasPrefix(s, "?{") && strings.HasSuffix(s, "}"):
			var set PrimSet
			for _, name := range strings.Split(s[2:len(s)-1], ",") {
				p, ok := parsePrimitive(strings.TrimSpace(name))
				if !ok {
					return Type{}, false
				}
				set |= 1 << p
			}
			if set == 0 {
				return Type{}, false
			}
			t = unknownOf(set)
		default:
			if p, ok := parsePrimitive(s); ok && p != PrimObject && p != PrimArray && p != PrimNone {
				t = Type{prim: p}
			} else if isClassName(s) {
				t = Object(s)
			} else {
				return Type{}, false
			}
		}
	}
	for ; dims > 0; dims-- {
		t = ArrayOf(t)
	}
	return t, true
}

// MustParseType is ParseType for literals known to be well formed.
func MustParseType(s string) Type {
	t, ok := ParseType(s)
	if !ok {
		panic("invalid type " + s)
	}
	return t
}

func parsePrimitive(s string) (Primitive, bool) {
	for i, n := range primNames {
		if n == s {
			return Primitive(i), true
		}
	}
	return PrimNone, false
}

func isClassName(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r == ' ' || r == '?' || r == '[' || r == ']' || r == ',' {
			return false
		}
	}
	return true
}

// Ancestry resolves the closest common superclass of two classes.
type Ancestry interface {
	CommonAncestor(a, b string) (string, bool)
}

// Subtyping is an Ancestry that also knows which classes a value may be
// passed as. *Hierarchy implements it.
type Subtyping interface {
	Ancestry
	AssignableTo(class, target string) bool
}

// MergeTypes unifies two types. It reports false when the types cannot
// describe the same value, in which case the returned type is a.
//
// Unresolved types intersect their candidate sets. A resolved type is
// accepted by an unresolved one that lists its kind. Objects meet at their
// common ancestor, with java.lang.Object yielding to anything more specific.
// Arrays merge element-wise, except two different primitive element types
// which only agree on Object. Distinct primitives of the same width merge to
// the narrower kind.
func MergeTypes(a, b Type, h Ancestry) (Type, bool) {
	if a == b || b.IsZero() {
		return a, true
	}
	if a.IsZero() {
		return b, true
	}
	aUnknown := a.dims == 0 && a.cands != 0
	bUnknown := b.dims == 0 && b.cands != 0
	switch {
	case aUnknown && bUnknown:
		c := a.cands & b.cands
		if c == 0 {
			return a, false
		}
		return unknownOf(c), true
	case aUnknown:
		if a.cands.Has(b.Kind()) {
			return b, true
		}
		return a, false
	case bUnknown:
		if b.cands.Has(a.Kind()) {
			return a, true
		}
		return a, false
	}

	if a.dims > 0 && b.dims > 0 {
		ea, eb := a.Elem(), b.Elem()
		if ea.IsPrimitive() && eb.IsPrimitive() {
			return ObjectType, true
		}
		e, ok := MergeTypes(ea, eb, h)
		if !ok {
			return a, false
		}
		return ArrayOf(e), true
	}
	if a.dims > 0 {
		if b.IsObject() && b.class == ObjectClass {
			return a, true
		}
		return a, false
	}
	if b.dims > 0 {
		if a.IsObject() && a.class == ObjectClass {
			return b, true
		}
		return a, false
	}

	if a.IsObject() && b.IsObject() {
		switch {
		case a.class == ObjectClass:
			return b, true
		case b.class == ObjectClass:
			return a, true
		case h == nil:
			return ObjectType, true
		}
		anc, ok := h.CommonAncestor(a.class, b.class)
		if !ok {
			return a, false
		}
		return Object(anc), true
	}
	if a.IsPrimitive() && b.IsPrimitive() && a.Width() == b.Width() {
		if narrowRank[b.prim] < narrowRank[a.prim] {
			return b, true
		}
		return a, true
	}
	return a, false
}

// SelectType narrows an unresolved type to one concrete kind using the
// primitive priority order. Reference candidates select java.lang.Object.
// A type that rules nothing out selects boolean, the first kind in
// declaration order of the full unknown set; every narrower set starts at
// int.
func SelectType(t Type) Type {
	if t.IsZero() {
		return Type{}
	}
	if t.dims > 0 {
		e := SelectType(t.Elem())
		return ArrayOf(e)
	}
	if t.cands == 0 {
		return t
	}
	if t.cands == Unknown.cands {
		return Boolean
	}
	p := t.cands.First()
	if p == PrimObject || p == PrimArray {
		return ObjectType
	}
	return Type{prim: p}
}
