package decompiler

import (
	"go/format"
	"os"
	"testing"

	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"
)

func TestOptions_Formatted(t *testing.T) {
	src, err := os.ReadFile("options.go")
	assert.NilError(t, err)
	got, err := format.Source(src)
	assert.NilError(t, err)
	assert.Check(t, is.Equal(string(src), string(got)), "options.go is not gofmt-formatted")
}

func TestDefaultOptions(t *testing.T) {
	o := DefaultOptions()
	assert.Check(t, o.Threads > 0)
	assert.Check(t, is.Equal(int64(2), o.MaxLoads))
	assert.Check(t, is.Equal(1000, o.MaxSweeps))
	assert.Check(t, o.UseDebugInfo && o.ExtractFinally && o.CheckRegions)
}
