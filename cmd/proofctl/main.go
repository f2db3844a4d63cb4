// Command proofctl inspects presets and checks render proofs offline.
package main

import (
	"io"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"proofrender/internal/presets"
)

func main() {
	if err := newRootCommand(os.Stdout).Execute(); err != nil {
		os.Exit(1)
	}
}

type rootOptions struct {
	presetsFile string
}

func (o *rootOptions) catalog() (*presets.Catalog, error) {
	return presets.Load(o.presetsFile)
}

func newRootCommand(out io.Writer) *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "proofctl",
		Short:         "proofctl inspects render presets and verifies proof-of-render documents.",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			_ = godotenv.Load()
			if opts.presetsFile == "" {
				opts.presetsFile = os.Getenv("PRESETS_FILE")
			}
		},
	}
	cmd.SetOut(out)
	cmd.PersistentFlags().StringVar(&opts.presetsFile, "presets", "", "Path to a presets.yaml (defaults to PRESETS_FILE, then the built-in catalog)")

	cmd.AddCommand(newPresetsCommand(opts))
	cmd.AddCommand(newHashCommand(opts))
	cmd.AddCommand(newVerifyCommand(opts))
	cmd.AddCommand(newGDriveAuthCommand())
	return cmd
}
