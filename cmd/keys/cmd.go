package keys

import (
	"github.com/spf13/cobra"

	"extpack.software/extpack/cmd/keys/generate"
	"extpack.software/extpack/cmd/keys/public"
)

// New represents any command related to signing key management.
func New() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "keys {generate|public}",
		Aliases: []string{"key"},
		Short:   "Manage Ed25519 signing keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	cmd.AddCommand(generate.New())
	cmd.AddCommand(public.New())
	return cmd
}
