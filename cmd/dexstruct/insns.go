package main

import (
	"fmt"

	"github.com/spf13/cobra"

	ds "github.com/dexstruct/dexstruct"
)

func newInsnsCommand(root *rootOptions) *cobra.Command {
	var blocks bool

	cmd := &cobra.Command{
		Use:   "insns FILE...",
		Short: "List the instructions of every method",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			classes, err := loader(args).Load(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, c := range classes {
				for _, m := range c.Methods {
					if !root.selected(m) {
						continue
					}
					fmt.Fprintf(out, "\n=== %s ===\n", m.FullName())
					if blocks {
						if err := m.Build(); err != nil {
							fmt.Fprintf(out, "Build error: %v\n", err)
							continue
						}
						listBlocks(cmd, m)
						continue
					}
					for i, in := range m.Insns {
						fmt.Fprintf(out, "%3d: %-15s %s\n", i, in.Op, in)
					}
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&blocks, "blocks", false, "Group instructions by basic block")
	return cmd
}

func listBlocks(cmd *cobra.Command, m *ds.Method) {
	out := cmd.OutOrStdout()
	for _, b := range m.Blocks {
		fmt.Fprintf(out, "%s succs=%v exc=%v\n", b, b.Succs, b.ExcSuccs)
		for _, in := range b.Insns {
			fmt.Fprintf(out, "    %s\n", in)
		}
	}
}
