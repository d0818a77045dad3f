package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/containerd/errdefs"
	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"
)

const listing = "../../pkg/rawload/testdata/guarded.yaml"

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := newRootCommand(&stdout, &stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), err
}

func TestInsns(t *testing.T) {
	out, err := execute(t, "insns", "--method", "guarded", listing)
	assert.NilError(t, err)
	assert.Check(t, is.Contains(out, "=== t.Res.guarded ==="))
	assert.Check(t, is.Contains(out, "  0: invoke"))
	assert.Check(t, !strings.Contains(out, "t.Loops"))
}

func TestInsns_Blocks(t *testing.T) {
	out, err := execute(t, "insns", "--blocks", "-m", "count", listing)
	assert.NilError(t, err)
	assert.Check(t, is.Contains(out, "B0@0x0000"))
	assert.Check(t, is.Contains(out, "B3@0x0005"))
}

func TestRegions_Shape(t *testing.T) {
	out, err := execute(t, "regions", "--shape", listing)
	assert.NilError(t, err)
	assert.Check(t, is.Contains(out,
		"[try([B0] catch(java.io.IOException)[B2] catch(java.lang.RuntimeException)[B3] finally[B4]) B5]"))
	assert.Check(t, is.Contains(out, "[B0 for(B1 [B2]) B3]"))
}

func TestRegions_NoFinally(t *testing.T) {
	out, err := execute(t, "regions", "--shape", "--no-finally", "-m", "guarded", listing)
	assert.NilError(t, err)
	assert.Check(t, is.Contains(out, "try([B0] "))
	assert.Check(t, is.Contains(out, ") B1 B5]"))
}

func TestRegions_Tree(t *testing.T) {
	out, err := execute(t, "regions", "--color", "never", "-m", "guarded", listing)
	assert.NilError(t, err)
	assert.Check(t, is.Contains(out, "try {"))
	assert.Check(t, is.Contains(out, "} finally {"))
	assert.Check(t, !strings.Contains(out, "\x1b["))
}

func TestLookup(t *testing.T) {
	out, err := execute(t, "lookup", "-m", "guarded", listing, "0x2")
	assert.NilError(t, err)
	assert.Check(t, is.Equal(out, "t.Res.guarded: 0x0000 insn invoke\n"))

	_, err = execute(t, "lookup", "-m", "guarded", listing, "x")
	assert.Check(t, errdefs.IsInvalidArgument(err))
}

func TestBadLogLevel(t *testing.T) {
	_, err := execute(t, "--log-level", "loud", "insns", listing)
	assert.ErrorContains(t, err, "invalid --log-level")
}

func TestMissingFile(t *testing.T) {
	_, err := execute(t, "regions", "testdata/none.yaml")
	assert.Check(t, err != nil)
}
