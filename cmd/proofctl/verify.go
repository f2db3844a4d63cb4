package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"proofrender/internal/pkg/errors"
	"proofrender/internal/proof"
)

type verifyOptions struct {
	proofPath  string
	assetPath  string
	outputPath string
}

func newVerifyCommand(root *rootOptions) *cobra.Command {
	o := &verifyOptions{}
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Recompute a proof's hashes from the asset and output files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(o.proofPath)
			if err != nil {
				return err
			}
			defer f.Close()
			p, err := proof.Decode(f)
			if err != nil {
				return err
			}

			catalog, err := root.catalog()
			if err != nil {
				return err
			}
			mismatches, err := proof.NewGenerator(catalog, p.Metadata.Resolution, p.Metadata.BlenderVersion).
				Verify(p, o.assetPath, o.outputPath)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(mismatches) == 0 {
				fmt.Fprintf(out, "OK: proof matches (preset %s, output %s)\n", p.Metadata.PresetName, p.OutputHash)
				return nil
			}
			for _, m := range mismatches {
				fmt.Fprintf(out, "MISMATCH %s: proof %s, recomputed %s\n", m.Field, m.Expected, m.Actual)
			}
			return errors.Validationf("%d of 3 hashes do not match", len(mismatches))
		},
	}
	cmd.Flags().StringVar(&o.proofPath, "proof", "", "Path to proof.json")
	cmd.Flags().StringVar(&o.assetPath, "asset", "", "Path to the uploaded asset")
	cmd.Flags().StringVar(&o.outputPath, "output", "", "Path to the rendered PNG")
	for _, name := range []string{"proof", "asset", "output"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}
