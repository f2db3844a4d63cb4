package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"proofrender/internal/proof"
)

func newHashCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hash",
		Short: "Print the SHA-256 digests used in proofs",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "file PATH",
		Short: "Hash a file the way asset and output hashes are computed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sum, err := proof.HashFile(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), sum)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "scene PRESET",
		Short: "Hash a preset's scene configuration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			catalog, err := opts.catalog()
			if err != nil {
				return err
			}
			p, err := catalog.Get(args[0])
			if err != nil {
				return err
			}
			sum, err := proof.HashScene(p.Raw)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), sum)
			return nil
		},
	})
	return cmd
}
