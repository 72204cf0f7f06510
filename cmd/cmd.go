package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	slogcontext "github.com/veqryn/slog-context"

	"extpack.software/extpack/cmd/inspect"
	"extpack.software/extpack/cmd/keys"
	"extpack.software/extpack/cmd/pack"
	"extpack.software/extpack/cmd/verify"
	"extpack.software/extpack/cmd/version"
	"extpack.software/extpack/internal/flags/log"
)

// Execute adds all child commands to the root command and sets flags
// appropriately. This is called by main.main(). It only needs to happen once.
func Execute() {
	if err := New().Execute(); err != nil {
		os.Exit(1)
	}
}

// New constructs the extpack root command.
func New() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "extpack [sub-command]",
		Short: "Package, sign, and verify extension bundles",
		Long: `extpack turns built extension bundles into tamper evident, signed artifacts.

It hashes the bundle tree deterministically, signs the content digest with an
Ed25519 key, embeds the signature in the canonical manifest, and can later
verify artifacts against the embedded or a pinned trusted public key.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
		PersistentPreRunE: setup,
		DisableAutoGenTag: true,
		SilenceUsage:      true,
	}

	log.RegisterLoggingFlags(cmd.PersistentFlags())

	cmd.AddCommand(keys.New())
	cmd.AddCommand(pack.New())
	cmd.AddCommand(verify.New())
	cmd.AddCommand(inspect.New())
	cmd.AddCommand(version.New())

	return cmd
}

// setup wires the configured logger as the process default and into the
// command context for the library packages.
func setup(cmd *cobra.Command, _ []string) error {
	logger, err := log.GetBaseLogger(cmd)
	if err != nil {
		return fmt.Errorf("could not retrieve logger: %w", err)
	}
	slog.SetDefault(logger)
	cmd.SetContext(slogcontext.NewCtx(cmd.Context(), logger))

	if parent := cmd.Parent(); parent != nil {
		cmd.SetOut(parent.OutOrStdout())
		cmd.SetErr(parent.ErrOrStderr())
	}
	return nil
}
