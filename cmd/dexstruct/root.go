package main

import (
	"context"
	"io"
	"os"
	"strings"

	"github.com/containerd/log"
	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	ds "github.com/dexstruct/dexstruct"
	"github.com/dexstruct/dexstruct/decompiler"
	"github.com/dexstruct/dexstruct/pkg/rawload"
	"github.com/dexstruct/dexstruct/pkg/regionfmt"
)

type rootOptions struct {
	logLevel   string
	timestamps bool
	threads    int
	color      string
	width      int
	method     string

	stdout io.Writer
	stderr io.Writer
}

func newRootCommand(stdout, stderr io.Writer) *cobra.Command {
	opts := &rootOptions{stdout: stdout, stderr: stderr}

	cmd := &cobra.Command{
		Use:           "dexstruct",
		Short:         "Rebuild structured control flow from bytecode listings",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := opts.logContext(cmd.Context())
			if err != nil {
				return err
			}
			cmd.SetContext(ctx)
			return nil
		},
	}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.logLevel, "log-level", "warn", "Log level (error, warn, info, debug)")
	flags.BoolVar(&opts.timestamps, "log-timestamps", false, "Prefix log lines with a timestamp")
	flags.IntVarP(&opts.threads, "threads", "j", decompiler.DefaultOptions().Threads, "Classes decompiled in parallel")
	flags.StringVar(&opts.color, "color", "auto", "Highlight output (auto, always, never)")
	flags.IntVar(&opts.width, "width", 0, "Truncate output lines to this many columns (0 disables)")
	flags.StringVarP(&opts.method, "method", "m", "", "Only show methods whose Class.name contains this string")

	cmd.AddCommand(
		newInsnsCommand(opts),
		newRegionsCommand(opts),
		newLookupCommand(opts),
	)
	return cmd
}

func (o *rootOptions) logContext(ctx context.Context) (context.Context, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	level, err := logrus.ParseLevel(o.logLevel)
	if err != nil {
		return nil, errors.Wrap(err, "invalid --log-level")
	}
	l := logrus.New()
	l.SetOutput(o.stderr)
	l.SetLevel(level)
	l.SetFormatter(&ds.TextFormatter{IncludeTimestamp: o.timestamps})
	return log.WithLogger(ctx, logrus.NewEntry(l)), nil
}

// useColor resolves --color against the output stream.
func (o *rootOptions) useColor() bool {
	switch o.color {
	case "always":
		return true
	case "never":
		return false
	}
	f, ok := o.stdout.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func (o *rootOptions) format() regionfmt.Options {
	f := regionfmt.DefaultOptions()
	f.Width = o.width
	f.Color = o.useColor()
	return f
}

func (o *rootOptions) decompilerOptions() decompiler.Options {
	d := decompiler.DefaultOptions()
	d.Threads = o.threads
	return d
}

func (o *rootOptions) selected(m *ds.Method) bool {
	return o.method == "" || strings.Contains(m.FullName(), o.method)
}

func loader(paths []string) rawload.Loader {
	return &rawload.YAMLLoader{Paths: paths}
}
