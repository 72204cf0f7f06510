package signing

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"slices"

	"github.com/opencontainers/go-digest"
	"golang.org/x/sync/errgroup"
)

// ErrFileRead indicates a bundle file that disappeared or became unreadable
// while the tree was being hashed. Hashing is all or nothing; no digest is
// ever produced from a partially read tree.
var ErrFileRead = errors.New("unreadable bundle file")

// DefaultConcurrency bounds the parallel file reads performed while hashing.
const DefaultConcurrency = 4

// TreeDigest computes the content digest of a file tree: the SHA-256 digest
// over the raw bytes of every regular file, concatenated without delimiters
// in byte-wise lexicographic order of their slash separated paths. Only file
// contents enter the digest. An empty tree digests to the SHA-256 of zero
// bytes.
//
// File reads run concurrently, but the contents are reassembled strictly in
// sorted path order before digesting, so the result is independent of
// enumeration order, platform, and concurrency.
func TreeDigest(ctx context.Context, fsys fs.FS) (digest.Digest, error) {
	return treeDigest(ctx, fsys, DefaultConcurrency)
}

func treeDigest(ctx context.Context, fsys fs.FS, concurrency int) (digest.Digest, error) {
	paths, err := Files(fsys)
	if err != nil {
		return "", err
	}
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}

	contents := make([][]byte, len(paths))
	eg, egctx := errgroup.WithContext(ctx)
	eg.SetLimit(concurrency)
	for i, path := range paths {
		eg.Go(func() error {
			if err := egctx.Err(); err != nil {
				return err
			}
			data, err := fs.ReadFile(fsys, path)
			if err != nil {
				return fmt.Errorf("%w %q: %w", ErrFileRead, path, err)
			}
			contents[i] = data
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return "", err
	}

	digester := digest.SHA256.Digester()
	for _, data := range contents {
		if _, err := digester.Hash().Write(data); err != nil {
			return "", fmt.Errorf("hashing bundle content failed: %w", err)
		}
	}
	return digester.Digest(), nil
}

// Files enumerates the regular files of a tree as slash separated paths in
// digest order, which is byte-wise lexicographic. Directories, symlinks, and
// other non regular entries are not part of the digest and are skipped.
func Files(fsys fs.FS) ([]string, error) {
	var paths []string
	err := fs.WalkDir(fsys, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("%w %q: %w", ErrFileRead, path, err)
		}
		if d.Type().IsRegular() {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.Sort(paths)
	return paths, nil
}
