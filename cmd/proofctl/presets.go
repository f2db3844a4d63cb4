package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newPresetsCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "presets",
		Short: "List the available scene presets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			catalog, err := opts.catalog()
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tSAMPLES\tLIGHTS\tDESCRIPTION")
			for _, p := range catalog.List() {
				fmt.Fprintf(w, "%s\t%d\t%d\t%s\n", p.Name, p.Samples, len(p.Lights), p.Description)
			}
			return w.Flush()
		},
	}
}
