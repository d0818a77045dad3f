// Package rawload reads methods in their raw form: ordered instructions
// with code-unit offsets, a register count, the exception table and
// optional debug hints. It stands in for a bytecode reader and is used by
// the command line tool and tests.
package rawload

import (
	"context"
	"io"
	"os"

	"github.com/containerd/errdefs"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	ds "github.com/dexstruct/dexstruct"
)

// Loader produces the classes to decompile.
type Loader interface {
	Load(ctx context.Context) ([]*ds.Class, error)
}

// YAMLLoader reads one YAML document per path.
type YAMLLoader struct {
	Paths []string
}

// Load decodes every file in order and returns all their classes.
func (l *YAMLLoader) Load(ctx context.Context) ([]*ds.Class, error) {
	var out []*ds.Class
	for _, p := range l.Paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		classes, err := loadFile(p)
		if err != nil {
			return nil, err
		}
		out = append(out, classes...)
	}
	return out, nil
}

func loadFile(path string) ([]*ds.Class, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %s", path)
	}
	defer f.Close()
	classes, err := Decode(f)
	if err != nil {
		return nil, errors.Wrapf(err, "%s", path)
	}
	return classes, nil
}

// Static serves classes already in memory.
type Static []*ds.Class

func (s Static) Load(ctx context.Context) ([]*ds.Class, error) {
	return s, ctx.Err()
}

// Decode reads a YAML document of the form
//
//	classes:
//	  - name: t.Res
//	    super: java.lang.Object
//	    methods:
//	      - name: guarded
//	        regs: 7
//	        return: void
//	        params: [{reg: 6, type: t.Res, name: this}]
//	        code:
//	          - {off: 0, op: invoke, call: {class: t.Res, name: work}, args: [r6]}
//	          - {off: 1, op: return}
//	        tries:
//	          - {start: 0, end: 1, handlers: [{offset: 4, finally: true}]}
//
// Unknown keys are rejected. Malformed input is reported with
// errdefs.ErrInvalidArgument.
func Decode(r io.Reader) ([]*ds.Class, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var doc fileDoc
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, errors.Wrapf(errdefs.ErrInvalidArgument, "failed to parse YAML: %v", err)
	}

	out := make([]*ds.Class, 0, len(doc.Classes))
	for _, cd := range doc.Classes {
		c, err := cd.class()
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func invalid(format string, args ...any) error {
	return errors.Wrapf(errdefs.ErrInvalidArgument, format, args...)
}
