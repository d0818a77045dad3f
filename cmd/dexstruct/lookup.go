package main

import (
	"fmt"
	"strconv"

	"github.com/containerd/errdefs"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/dexstruct/dexstruct/decompiler"
)

func newLookupCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "lookup FILE OFFSET",
		Short: "Show the node an annotation at OFFSET attaches to",
		Long:  "Decompile the methods selected by --method and resolve OFFSET (decimal or 0x-prefixed) in each.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			offset, err := strconv.ParseInt(args[1], 0, 32)
			if err != nil {
				return errors.Wrapf(errdefs.ErrInvalidArgument, "bad offset %q", args[1])
			}
			report, err := decompiler.New(root.decompilerOptions()).Run(cmd.Context(), loader(args[:1]))
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			found := false
			for _, cr := range report.Classes {
				for _, res := range cr.Methods {
					if res == nil || res.Index == nil || !root.selected(res.Method) {
						continue
					}
					n, ok := res.Index.Lookup(int(offset))
					if !ok {
						continue
					}
					found = true
					fmt.Fprintf(out, "%s: %s\n", res.Method.FullName(), n)
				}
			}
			if !found {
				return errors.Wrapf(errdefs.ErrNotFound, "no node at 0x%04x", offset)
			}
			return nil
		},
	}
}
