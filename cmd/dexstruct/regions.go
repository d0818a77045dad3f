package main

import (
	"fmt"

	"github.com/containerd/errdefs"
	"github.com/containerd/log"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/dexstruct/dexstruct/decompiler"
	"github.com/dexstruct/dexstruct/pkg/regionfmt"
)

type regionsOptions struct {
	shape     bool
	noFinally bool
	noDebug   bool
	strict    bool
}

func newRegionsCommand(root *rootOptions) *cobra.Command {
	var opts regionsOptions

	cmd := &cobra.Command{
		Use:   "regions FILE...",
		Short: "Decompile every method and print its region tree",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRegions(cmd, root, opts, args)
		},
	}

	flags := cmd.Flags()
	flags.BoolVar(&opts.shape, "shape", false, "Print only the compact block shape of each tree")
	flags.BoolVar(&opts.noFinally, "no-finally", false, "Keep inlined finally copies")
	flags.BoolVar(&opts.noDebug, "no-debug-info", false, "Ignore local variable tables during type inference")
	flags.BoolVar(&opts.strict, "strict", false, "Fail when any method is degraded")
	return cmd
}

func runRegions(cmd *cobra.Command, root *rootOptions, opts regionsOptions, paths []string) error {
	ctx := cmd.Context()
	dopts := root.decompilerOptions()
	dopts.ExtractFinally = !opts.noFinally
	dopts.UseDebugInfo = !opts.noDebug

	report, err := decompiler.New(dopts).Run(ctx, loader(paths))
	if err != nil {
		return err
	}
	log.G(ctx).Debug(report)

	out := cmd.OutOrStdout()
	format := root.format()
	for _, cr := range report.Classes {
		for _, res := range cr.Methods {
			if res == nil || !root.selected(res.Method) {
				continue
			}
			fmt.Fprintf(out, "=== %s ===\n", res.Method.FullName())
			switch {
			case res.Region == nil:
			case opts.shape:
				fmt.Fprintln(out, regionfmt.Shape(res.Region))
			default:
				if err := regionfmt.Tree(out, res.Method, res.Region, format); err != nil {
					return err
				}
			}
			if p := regionfmt.Problems(res.Method); p != "" {
				fmt.Fprint(out, p)
			}
		}
	}

	if opts.strict && report.Degraded+report.Failed > 0 {
		return errors.Wrapf(errdefs.ErrFailedPrecondition, "%d of %d methods degraded", report.Degraded+report.Failed, report.Methods)
	}
	return nil
}
