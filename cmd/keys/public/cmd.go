package public

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"extpack.software/extpack/internal/flags/file"
	"extpack.software/extpack/signing"
)

const (
	FlagKey    = "key"
	FlagOutput = "output"
)

// New constructs the command to derive the public key from a private key file.
func New() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "public",
		Aliases: []string{"pub"},
		Short:   "Derive the public key from a private key file",
		Long: `Derive the public key from a private key file.

Ed25519 private key material fully determines the public key, so a lost
public key file can be regenerated at any time. The derived key is printed
as hex, or written as a key file when --output is given.`,
		Example: strings.TrimSpace(`
# Print the public key of the default private key file
extpack keys public

# Regenerate a lost public key file
extpack keys public --key ./extension.key --output ./extension.pub
`),
		Args:              cobra.NoArgs,
		RunE:              DerivePublicKey,
		DisableAutoGenTag: true,
	}

	file.VarP(cmd.Flags(), FlagKey, "k", signing.PrivateKeyFilename, "path to the private key file")
	cmd.Flags().StringP(FlagOutput, "o", "", "write the public key to this file instead of printing it")

	return cmd
}

// DerivePublicKey recovers the public half of a private key file.
func DerivePublicKey(cmd *cobra.Command, _ []string) error {
	keyFlag, err := file.Get(cmd.Flags(), FlagKey)
	if err != nil {
		return fmt.Errorf("getting key flag failed: %w", err)
	}
	privateKey, err := signing.LoadPrivateKey(keyFlag.String())
	if err != nil {
		return err
	}
	publicKey := signing.DerivePublicKey(privateKey)

	output, err := cmd.Flags().GetString(FlagOutput)
	if err != nil {
		return fmt.Errorf("getting output flag failed: %w", err)
	}
	if output == "" {
		fmt.Fprintf(cmd.OutOrStdout(), "%x\n", publicKey)
		return nil
	}
	if err := os.WriteFile(output, signing.EncodePublicKey(publicKey), 0o644); err != nil {
		return fmt.Errorf("writing public key %q failed: %w", output, err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), output)
	return nil
}
