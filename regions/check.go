package regions

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"

	ds "github.com/dexstruct/dexstruct"
)

// ErrCoverage reports a region tree that does not place every reachable
// block exactly once.
var ErrCoverage = errors.New("region coverage")

// Check verifies that every reachable block of m, except blocks holding
// only removed finally copies, is owned by exactly one region of root.
func Check(m *ds.Method, root Region) error {
	owned := make(map[int]int)
	Walk(root, func(r Region) bool {
		for _, b := range OwnedBlocks(r) {
			owned[b]++
		}
		return true
	})

	var problems []string
	reach := m.Reachable()
	for _, b := range m.Blocks {
		n := owned[b.ID]
		switch {
		case !reach.Contains(b.ID) || b.Has(ds.BlockSyntheticDup):
			if n > 0 {
				problems = append(problems, fmt.Sprintf("%s placed but not emitted", b))
			}
		case n == 0:
			problems = append(problems, fmt.Sprintf("%s not placed", b))
		case n > 1:
			problems = append(problems, fmt.Sprintf("%s placed %d times", b, n))
		}
	}
	if len(problems) > 0 {
		return errors.Wrap(ErrCoverage, strings.Join(problems, "; "))
	}
	return nil
}
