// Package bundle implements the packaging pipeline: staging a built bundle
// into its shippable shape, signing it, archiving it, and verifying packaged
// artifacts.
package bundle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"

	"github.com/gobwas/glob"
	slogcontext "github.com/veqryn/slog-context"

	"extpack.software/extpack/config"
	"extpack.software/extpack/manifest"
	"extpack.software/extpack/signing"
)

// Layout shared by staged trees and artifacts: the built bundle files live
// at the root, packaging metadata in a dedicated subdirectory.
const (
	MetadataDirectory = "metadata"
	// ManifestPath is the manifest location inside staged trees and artifacts.
	ManifestPath = MetadataDirectory + "/" + manifest.Filename
	// PublicKeyPath is the public key file location inside staged trees and artifacts.
	PublicKeyPath = MetadataDirectory + "/" + signing.PublicKeyFilename
)

// defaultExcludes are never staged, independent of user configuration. Key
// material and machine local configuration must not leak into artifacts, and
// a public key file at the bundle root is superseded by the canonical copy at
// PublicKeyPath.
var defaultExcludes = []string{
	"*.key",
	"**/*.key",
	signing.PublicKeyFilename,
	config.LocalFilename,
	manifest.Filename + manifestBackupSuffix,
}

// StageOptions control the composition of a staged tree.
type StageOptions struct {
	// BundleDir is the built bundle output to package.
	BundleDir string
	// Manifest is the canonical placeholder manifest written to ManifestPath.
	Manifest []byte
	// PublicKey is the encoded public key file written to PublicKeyPath.
	PublicKey []byte
	// Excludes lists additional glob patterns, slash separated and relative
	// to the bundle root, to leave out of the staged tree.
	Excludes []string
	// ExcludePaths lists file paths that must never be staged regardless of
	// patterns, such as the private key in use or a previously produced
	// artifact sitting inside the bundle directory.
	ExcludePaths []string
}

// StagedTree is an isolated copy of the bundle in its final shippable shape.
// Hashing and archiving operate on the staged tree only; the live bundle
// directory is never modified by staging.
type StagedTree struct {
	path string
}

// Path returns the staging directory.
func (t *StagedTree) Path() string { return t.path }

// FS returns the staged tree as a file system.
func (t *StagedTree) FS() fs.FS { return os.DirFS(t.path) }

// Remove deletes the staging directory.
func (t *StagedTree) Remove() error { return os.RemoveAll(t.path) }

// Stage copies the bundle into a fresh staging directory, leaving out the
// developer manifest (replaced by the canonical placeholder at ManifestPath),
// key material, machine local configuration, and any configured exclude
// patterns. File modes are normalized; symlinked content is staged as the
// file it resolves to.
func Stage(ctx context.Context, opts StageOptions) (_ *StagedTree, err error) {
	logger := slogcontext.FromCtx(ctx).With(slog.String("realm", "bundle"))

	globs, err := compileExcludes(append(slices.Clone(opts.Excludes), defaultExcludes...))
	if err != nil {
		return nil, err
	}
	excludePaths := make(map[string]struct{}, len(opts.ExcludePaths))
	for _, path := range opts.ExcludePaths {
		abs, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("resolving excluded path %q failed: %w", path, err)
		}
		excludePaths[abs] = struct{}{}
	}

	dir, err := os.MkdirTemp("", "extpack-stage-*")
	if err != nil {
		return nil, fmt.Errorf("unable to create staging directory: %w", err)
	}
	staged := &StagedTree{path: dir}
	defer func() {
		if err == nil {
			return
		}
		if removeErr := staged.Remove(); removeErr != nil {
			logger.ErrorContext(ctx, "removing staging directory failed",
				slog.String("path", dir), slog.String("error", removeErr.Error()))
		}
	}()

	err = filepath.WalkDir(opts.BundleDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if !d.Type().IsRegular() {
			// Symlinks are staged as the regular files they resolve to.
			info, statErr := os.Stat(path)
			if statErr != nil || !info.Mode().IsRegular() {
				logger.DebugContext(ctx, "skipping non regular file", slog.String("file", path))
				return nil
			}
		}
		rel, err := filepath.Rel(opts.BundleDir, path)
		if err != nil {
			return fmt.Errorf("resolving relative path of %q failed: %w", path, err)
		}
		name := filepath.ToSlash(rel)
		if name == manifest.Filename {
			// Relocated into the metadata directory in canonical form.
			return nil
		}
		if excluded(globs, name) {
			logger.DebugContext(ctx, "excluded from staging", slog.String("file", name))
			return nil
		}
		abs, err := filepath.Abs(path)
		if err != nil {
			return fmt.Errorf("resolving absolute path of %q failed: %w", path, err)
		}
		if _, skip := excludePaths[abs]; skip {
			logger.DebugContext(ctx, "path excluded from staging", slog.String("file", name))
			return nil
		}
		return copyFile(path, filepath.Join(dir, rel))
	})
	if err != nil {
		return nil, fmt.Errorf("staging bundle tree failed: %w", err)
	}

	if err := os.MkdirAll(filepath.Join(dir, MetadataDirectory), 0o755); err != nil {
		return nil, fmt.Errorf("creating metadata directory failed: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, filepath.FromSlash(ManifestPath)), opts.Manifest, 0o644); err != nil {
		return nil, fmt.Errorf("writing staged manifest failed: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, filepath.FromSlash(PublicKeyPath)), opts.PublicKey, 0o644); err != nil {
		return nil, fmt.Errorf("writing staged public key failed: %w", err)
	}

	return staged, nil
}

func compileExcludes(patterns []string) ([]glob.Glob, error) {
	globs := make([]glob.Glob, 0, len(patterns))
	for _, pattern := range patterns {
		compiled, err := glob.Compile(pattern, '/')
		if err != nil {
			return nil, fmt.Errorf("invalid exclude pattern %q: %w", pattern, err)
		}
		globs = append(globs, compiled)
	}
	return globs, nil
}

func excluded(globs []glob.Glob, name string) bool {
	for _, g := range globs {
		if g.Match(name) {
			return true
		}
	}
	return false
}

func copyFile(src, dst string) (err error) {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("creating directory for %q failed: %w", dst, err)
	}
	source, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening %q failed: %w", src, err)
	}
	defer func() {
		err = errors.Join(err, source.Close())
	}()
	target, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("creating %q failed: %w", dst, err)
	}
	defer func() {
		err = errors.Join(err, target.Close())
	}()
	if _, err := io.Copy(target, source); err != nil {
		return fmt.Errorf("copying %q failed: %w", src, err)
	}
	return nil
}
