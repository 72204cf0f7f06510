package bundle

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/opencontainers/go-digest"
	slogcontext "github.com/veqryn/slog-context"

	"extpack.software/extpack/manifest"
	"extpack.software/extpack/signing"
)

// manifestBackupSuffix names the recovery copy of the developer manifest kept
// for the duration of a packaging run.
const manifestBackupSuffix = ".bak"

// Archiver turns a staged tree into an artifact at the given path. The
// pipeline treats archiving as a collaborator behind this boundary; the
// archive package provides the implementation.
type Archiver interface {
	Write(ctx context.Context, path string, root fs.FS) error
}

// Packager runs the packaging pipeline end to end.
//
// Package temporarily rewrites the bundle's manifest file to publish the
// finalized signature and restores its original bytes before returning, on
// success and failure alike. Concurrent Package calls against the same
// bundle directory are not synchronized; callers must serialize per bundle.
type Packager struct {
	// Signer signs the staged tree. A zero Signer is used when nil.
	Signer *signing.Signer
	// Archiver produces the artifact from the staged tree.
	Archiver Archiver
}

// PackageOptions parameterize one packaging run.
type PackageOptions struct {
	// BundleDir is the built bundle directory containing the manifest.
	BundleDir string
	// PrivateKeyPath points to the hex encoded private key file.
	PrivateKeyPath string
	// ArtifactPath is the artifact to produce.
	ArtifactPath string
	// Excludes lists additional staging exclude patterns.
	Excludes []string
}

// PackageResult describes a produced artifact.
type PackageResult struct {
	ArtifactPath string
	// Digest is the content digest of the staged tree in placeholder form.
	Digest digest.Digest
	// Signature is the hex encoded Ed25519 signature over the digest bytes.
	Signature string
	// PublicKey is the hex encoded signer identity.
	PublicKey string
	// Manifest is the finalized manifest embedded in the artifact.
	Manifest *manifest.Manifest
}

// Package stages, hashes, signs, and archives the bundle.
func (p *Packager) Package(ctx context.Context, opts PackageOptions) (_ *PackageResult, err error) {
	logger := slogcontext.FromCtx(ctx).With(slog.String("realm", "bundle"))

	if p.Archiver == nil {
		return nil, errors.New("packager has no archiver")
	}
	if opts.ArtifactPath == "" {
		return nil, errors.New("no artifact path given")
	}

	manifestPath := filepath.Join(opts.BundleDir, manifest.Filename)
	original, err := os.ReadFile(manifestPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", manifest.ErrManifestMissing, manifestPath)
	}
	if err != nil {
		return nil, fmt.Errorf("reading manifest %q failed: %w", manifestPath, err)
	}
	doc, err := manifest.Parse(original)
	if err != nil {
		return nil, fmt.Errorf("manifest %q: %w", manifestPath, err)
	}

	backupPath := manifestPath + manifestBackupSuffix
	if err := os.WriteFile(backupPath, original, 0o644); err != nil {
		return nil, fmt.Errorf("writing manifest recovery copy failed: %w", err)
	}

	artifactStarted := false
	defer func() {
		restoreManifest(ctx, logger, manifestPath, backupPath, original)
		if err == nil || !artifactStarted {
			return
		}
		if removeErr := os.RemoveAll(opts.ArtifactPath); removeErr != nil {
			logger.ErrorContext(ctx, "removing partial artifact failed",
				slog.String("path", opts.ArtifactPath), slog.String("error", removeErr.Error()))
		}
	}()

	privateKey, err := signing.LoadPrivateKey(opts.PrivateKeyPath)
	if err != nil {
		return nil, err
	}
	publicKey := signing.DerivePublicKey(privateKey)
	publicKeyHex := hex.EncodeToString(publicKey)

	placeholder := doc.WithPlaceholderSignature(publicKeyHex)
	placeholderBytes, err := placeholder.Canonical()
	if err != nil {
		return nil, err
	}

	staged, err := Stage(ctx, StageOptions{
		BundleDir:    opts.BundleDir,
		Manifest:     placeholderBytes,
		PublicKey:    signing.EncodePublicKey(publicKey),
		Excludes:     opts.Excludes,
		ExcludePaths: []string{opts.PrivateKeyPath, opts.ArtifactPath},
	})
	if err != nil {
		return nil, err
	}
	defer func() {
		if removeErr := staged.Remove(); removeErr != nil {
			logger.ErrorContext(ctx, "removing staging directory failed",
				slog.String("path", staged.Path()), slog.String("error", removeErr.Error()))
		}
	}()

	signer := p.Signer
	if signer == nil {
		signer = &signing.Signer{}
	}
	signed, err := signer.Sign(ctx, staged.FS(), privateKey)
	if err != nil {
		return nil, err
	}
	signatureHex := hex.EncodeToString(signed.Signature)

	final := placeholder.WithSignature(signatureHex)
	finalBytes, err := final.Canonical()
	if err != nil {
		return nil, err
	}

	// Publish the finalized manifest into the staged tree and at the bundle
	// location read by downstream tooling. The live copy reverts to its
	// original bytes when packaging concludes.
	if err := os.WriteFile(filepath.Join(staged.Path(), filepath.FromSlash(ManifestPath)), finalBytes, 0o644); err != nil {
		return nil, fmt.Errorf("writing finalized manifest to staged tree failed: %w", err)
	}
	if err := os.WriteFile(manifestPath, finalBytes, 0o644); err != nil {
		return nil, fmt.Errorf("writing finalized manifest failed: %w", err)
	}

	artifactStarted = true
	if err := p.Archiver.Write(ctx, opts.ArtifactPath, staged.FS()); err != nil {
		return nil, fmt.Errorf("archiving staged tree failed: %w", err)
	}

	logger.InfoContext(ctx, "bundle packaged",
		slog.String("name", doc.Name()),
		slog.String("version", doc.Version()),
		slog.String("digest", signed.Digest.String()),
		slog.String("artifact", opts.ArtifactPath),
	)

	return &PackageResult{
		ArtifactPath: opts.ArtifactPath,
		Digest:       signed.Digest,
		Signature:    signatureHex,
		PublicKey:    publicKeyHex,
		Manifest:     final,
	}, nil
}

// restoreManifest puts the original manifest bytes back and drops the
// recovery copy. Failures are logged and never override the pipeline error;
// the recovery copy is kept whenever restoration fails.
func restoreManifest(ctx context.Context, logger *slog.Logger, manifestPath, backupPath string, original []byte) {
	if err := os.WriteFile(manifestPath, original, 0o644); err != nil {
		logger.ErrorContext(ctx, "restoring manifest failed, original content kept in recovery copy",
			slog.String("manifest", manifestPath),
			slog.String("recovery", backupPath),
			slog.String("error", err.Error()),
		)
		return
	}
	if err := os.Remove(backupPath); err != nil {
		logger.ErrorContext(ctx, "removing manifest recovery copy failed",
			slog.String("recovery", backupPath), slog.String("error", err.Error()))
	}
}
