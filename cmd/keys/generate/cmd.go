package generate

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"extpack.software/extpack/internal/flags/log"
	"extpack.software/extpack/signing"
)

const (
	FlagOutputDir = "output-dir"
	FlagForce     = "force"
)

// New constructs the command to generate a fresh signing keypair.
func New() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "generate",
		Aliases: []string{"gen"},
		Short:   "Generate a new Ed25519 signing keypair",
		Long: fmt.Sprintf(`Generate a new Ed25519 signing keypair.

Two independent hex encoded key files are written: %[1]s holds the
private key and must never leave the machine or enter an artifact, and
%[2]s holds the public key that ships with every signed bundle.

The public key can always be re-derived from the private key file with
"extpack keys public", so backing up %[1]s alone is enough.`,
			signing.PrivateKeyFilename, signing.PublicKeyFilename),
		Example: strings.TrimSpace(`
# Generate a keypair in the current directory
extpack keys generate

# Generate a keypair next to the bundle sources
extpack keys generate --output-dir ./my-extension

# Replace an existing keypair
extpack keys generate --output-dir ./my-extension --force
`),
		Args:              cobra.NoArgs,
		RunE:              GenerateKeypair,
		DisableAutoGenTag: true,
	}

	cmd.Flags().String(FlagOutputDir, ".", "directory the two key files are written to")
	cmd.Flags().Bool(FlagForce, false, "overwrite existing key files")

	return cmd
}

// GenerateKeypair creates and writes a fresh keypair.
func GenerateKeypair(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	logger, err := log.GetBaseLogger(cmd)
	if err != nil {
		return fmt.Errorf("getting base logger failed: %w", err)
	}

	outputDir, err := cmd.Flags().GetString(FlagOutputDir)
	if err != nil {
		return fmt.Errorf("getting output-dir flag failed: %w", err)
	}
	force, err := cmd.Flags().GetBool(FlagForce)
	if err != nil {
		return fmt.Errorf("getting force flag failed: %w", err)
	}

	keypair, err := signing.GenerateKeypair()
	if err != nil {
		return err
	}
	privateKeyPath, publicKeyPath, err := signing.WriteKeypair(outputDir, keypair, force)
	if err != nil {
		return err
	}

	logger.InfoContext(ctx, "generated signing keypair",
		slog.String("private", privateKeyPath),
		slog.String("public", publicKeyPath),
	)
	fmt.Fprintf(cmd.OutOrStdout(), "private key: %s\npublic key:  %s (%x)\n",
		privateKeyPath, publicKeyPath, keypair.Public)
	return nil
}
