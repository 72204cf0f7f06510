package pack

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"extpack.software/extpack/archive"
	"extpack.software/extpack/bundle"
	"extpack.software/extpack/config"
	"extpack.software/extpack/internal/flags/enum"
	"extpack.software/extpack/internal/flags/file"
	"extpack.software/extpack/internal/flags/log"
	"extpack.software/extpack/manifest"
	"extpack.software/extpack/signing"
)

const (
	FlagKey     = "key"
	FlagOutput  = "output"
	FlagFormat  = "format"
	FlagExclude = "exclude"
)

// New constructs the command to sign and package a bundle directory.
func New() *cobra.Command {
	cmd := &cobra.Command{
		Use:        "pack {bundle-directory}",
		Aliases:    []string{"package"},
		SuggestFor: []string{"sign", "build"},
		Short:      "Sign a built bundle and package it into a distributable artifact",
		Args:       cobra.MatchAll(cobra.ExactArgs(1), BundleDirectoryAsOnlyPositional),
		Long: fmt.Sprintf(`Sign a built bundle and package it into a distributable artifact.

The bundle directory is the build output of an extension and must contain a
%[1]s at its root. Packaging stages an isolated copy of the directory,
relocates the manifest to %[2]s inside the artifact, computes the
deterministic content digest of the staged tree, signs it with the private
key, and embeds the hex encoded signature and public key in the canonical
manifest before archiving.

The bundle directory itself is left exactly as it was found: the finalized
manifest only exists inside the artifact, and the developer's %[1]s is
restored byte for byte when packaging concludes, whether it succeeded or
failed.

Key material never enters the artifact. The private key in use, any *.key
file, and the machine local %[3]s are always excluded from staging; a
project %[4]s is shipped verbatim if present.`,
			manifest.Filename, bundle.ManifestPath, config.LocalFilename, config.Filename),
		Example: strings.TrimSpace(`
# Package ./dist with the default key file dist/extension.key
extpack pack ./dist

# Package with an explicit key and artifact path
extpack pack ./dist --key ~/keys/extension.key --output ./out/demo-1.0.0.zip

# Produce a compressed tarball instead of a zip
extpack pack ./dist --format tgz

# Leave source maps out of the artifact
extpack pack ./dist --exclude '**/*.map'
`),
		RunE:              PackBundle,
		DisableAutoGenTag: true,
	}

	file.VarP(cmd.Flags(), FlagKey, "k", "",
		"path to the private key file (defaults to "+signing.PrivateKeyFilename+" in the bundle directory)")
	cmd.Flags().StringP(FlagOutput, "o", "",
		"artifact path to write (defaults to <name>-<version> with the format extension)")
	enum.Var(cmd.Flags(), FlagFormat, []string{"zip", "tar", "tgz", "directory"},
		"artifact format to produce")
	cmd.Flags().StringArray(FlagExclude, nil,
		"glob pattern excluded from the artifact, may be given multiple times")

	return cmd
}

// BundleDirectoryAsOnlyPositional validates that the positional argument
// points at an existing directory.
func BundleDirectoryAsOnlyPositional(_ *cobra.Command, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("missing bundle directory as first positional argument")
	}
	info, err := os.Stat(args[0])
	if err != nil {
		return fmt.Errorf("bundle directory %q is not accessible: %w", args[0], err)
	}
	if !info.IsDir() {
		return fmt.Errorf("bundle path %q is not a directory", args[0])
	}
	return nil
}

// PackBundle signs and packages the bundle directory given as positional
// argument.
func PackBundle(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	logger, err := log.GetBaseLogger(cmd)
	if err != nil {
		return fmt.Errorf("getting base logger failed: %w", err)
	}

	bundleDir := args[0]
	cfg, err := config.Load(bundleDir)
	if err != nil {
		return err
	}

	keyPath, err := resolveKeyPath(cmd, cfg, bundleDir)
	if err != nil {
		return err
	}
	output, err := cmd.Flags().GetString(FlagOutput)
	if err != nil {
		return fmt.Errorf("getting output flag failed: %w", err)
	}
	format, err := resolveFormat(cmd, cfg, output)
	if err != nil {
		return err
	}
	excludes, err := cmd.Flags().GetStringArray(FlagExclude)
	if err != nil {
		return fmt.Errorf("getting exclude flag failed: %w", err)
	}
	excludes = append(excludes, cfg.Exclude...)

	// The default artifact name carries the extension identity, which needs
	// the manifest before the pipeline runs.
	doc, err := manifest.Load(filepath.Join(bundleDir, manifest.Filename))
	if err != nil {
		return err
	}
	if output == "" {
		outputDir := cfg.Output
		switch {
		case outputDir == "":
			outputDir = "."
		case !filepath.IsAbs(outputDir):
			outputDir = filepath.Join(bundleDir, outputDir)
		}
		output = filepath.Join(outputDir, fmt.Sprintf("%s-%s%s", doc.Name(), doc.Version(), format.Extension()))
	}

	packager := &bundle.Packager{
		Signer:   &signing.Signer{},
		Archiver: archive.Writer{Format: format},
	}
	result, err := packager.Package(ctx, bundle.PackageOptions{
		BundleDir:      bundleDir,
		PrivateKeyPath: keyPath,
		ArtifactPath:   output,
		Excludes:       excludes,
	})
	if err != nil {
		return fmt.Errorf("packaging %q failed: %w", bundleDir, err)
	}

	logger.InfoContext(ctx, "packaged successfully",
		slog.String("name", result.Manifest.Name()),
		slog.String("version", result.Manifest.Version()),
		slog.String("digest", result.Digest.String()),
		slog.String("publicKey", result.PublicKey),
	)
	fmt.Fprintln(cmd.OutOrStdout(), result.ArtifactPath)
	return nil
}

func resolveKeyPath(cmd *cobra.Command, cfg *config.Config, bundleDir string) (string, error) {
	keyFlag, err := file.Get(cmd.Flags(), FlagKey)
	if err != nil {
		return "", fmt.Errorf("getting key flag failed: %w", err)
	}
	if path := keyFlag.String(); path != "" {
		return path, nil
	}
	if cfg.KeyFile != "" {
		if filepath.IsAbs(cfg.KeyFile) {
			return cfg.KeyFile, nil
		}
		return filepath.Join(bundleDir, cfg.KeyFile), nil
	}
	return filepath.Join(bundleDir, signing.PrivateKeyFilename), nil
}

// resolveFormat picks the artifact format: an explicit --format wins, then
// the extension of an explicit --output, then the project configuration.
func resolveFormat(cmd *cobra.Command, cfg *config.Config, output string) (archive.Format, error) {
	name, err := enum.Get(cmd.Flags(), FlagFormat)
	if err != nil {
		return archive.FormatUnknown, fmt.Errorf("getting format flag failed: %w", err)
	}
	if !cmd.Flags().Changed(FlagFormat) {
		inferred := archive.FormatDirectory
		if output != "" {
			inferred = archive.FormatFromPath(output)
		}
		switch {
		case inferred != archive.FormatDirectory:
			name = inferred.String()
		case cfg.Format != "":
			name = cfg.Format
		}
	}
	format, err := archive.ParseFormat(name)
	if err != nil {
		return archive.FormatUnknown, err
	}
	return format, nil
}
