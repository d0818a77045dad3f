package dexstruct

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
)

// Fingerprint returns a deterministic hex digest of the method's typed
// state: every SSA version in id order with its register, version, merge
// sources and current type. Two runs over the same input that agree on
// every selected type produce the same fingerprint.
func Fingerprint(m *Method) string {
	h := sha256.New()

	binary.Write(h, binary.LittleEndian, uint64(len(m.Vars)))
	for _, v := range m.Vars {
		binary.Write(h, binary.LittleEndian, uint64(v.Reg))
		binary.Write(h, binary.LittleEndian, uint64(v.Version))
		binary.Write(h, binary.LittleEndian, uint64(len(v.Sources)))
		for _, s := range v.Sources {
			binary.Write(h, binary.LittleEndian, uint64(s))
		}
		h.Write([]byte(m.Cells.Type(v.Cell).String()))
		h.Write([]byte{0})
	}

	// Unbound register operands are part of the state too
	for _, b := range m.Blocks {
		for _, in := range b.Insns {
			for _, a := range in.Args {
				if a.IsRegister() && a.Var == NoVar {
					binary.Write(h, binary.LittleEndian, uint64(in.Offset))
					binary.Write(h, binary.LittleEndian, uint64(a.Reg))
				}
			}
		}
	}

	sum := h.Sum(nil)
	return fmt.Sprintf("%x", sum[:])
}

// TypeSnapshot maps every SSA version to its current type, keyed by its
// printed name.
func TypeSnapshot(m *Method) map[string]string {
	out := make(map[string]string, len(m.Vars))
	for _, v := range m.Vars {
		out[fmt.Sprintf("r%d_%d", v.Reg, v.Version)] = m.Cells.Type(v.Cell).String()
	}
	return out
}
