package archive

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	slogcontext "github.com/veqryn/slog-context"

	"extpack.software/extpack/signing"
)

// artifactEpoch is the fixed timestamp stamped on every artifact entry. Zip
// cannot represent times before 1980, and fixed timestamps keep artifacts
// byte-for-byte reproducible for identical input trees.
var artifactEpoch = time.Date(1980, time.January, 1, 0, 0, 0, 0, time.UTC)

const copyBufferSize = 512 * 1024

// Writer writes artifacts in a fixed format. It satisfies the archiver
// contract of the packaging pipeline.
type Writer struct {
	Format Format
}

func (w Writer) Write(ctx context.Context, path string, root fs.FS) error {
	return Write(ctx, path, root, w.Format)
}

// Write archives the tree rooted at root into an artifact at path. Entries
// are written in byte-wise lexicographic path order with normalized modes
// and timestamps, so archiving the same tree twice yields identical bytes.
func Write(ctx context.Context, path string, root fs.FS, format Format) (err error) {
	logger := slogcontext.FromCtx(ctx).With(slog.String("realm", "archive"))
	logger.DebugContext(ctx, "writing artifact", slog.String("path", path), slog.String("format", format.String()))

	switch format {
	case FormatZip, FormatTar, FormatTgz:
	case FormatDirectory:
		if err := writeDirectory(ctx, path, root); err != nil {
			return fmt.Errorf("%w: %w", ErrArchiveWrite, err)
		}
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("%w: opening %q failed: %w", ErrArchiveWrite, path, err)
	}
	defer func() {
		err = errors.Join(err, file.Close())
	}()

	switch format {
	case FormatZip:
		err = writeZip(ctx, file, root)
	case FormatTar, FormatTgz:
		err = writeTar(ctx, file, root, format == FormatTgz)
	}
	if err != nil {
		return fmt.Errorf("%w: %w", ErrArchiveWrite, err)
	}
	return nil
}

func writeZip(ctx context.Context, w io.Writer, root fs.FS) (err error) {
	paths, err := signing.Files(root)
	if err != nil {
		return err
	}

	zipWriter := zip.NewWriter(w)
	defer func() {
		err = errors.Join(err, zipWriter.Close())
	}()

	buf := make([]byte, copyBufferSize)
	for _, name := range paths {
		if err := ctx.Err(); err != nil {
			return err
		}
		header := &zip.FileHeader{
			Name:     name,
			Method:   zip.Deflate,
			Modified: artifactEpoch,
		}
		header.SetMode(0o644)
		entry, err := zipWriter.CreateHeader(header)
		if err != nil {
			return fmt.Errorf("creating zip entry %q failed: %w", name, err)
		}
		if err := copyEntry(entry, root, name, buf); err != nil {
			return err
		}
	}
	return nil
}

func writeTar(ctx context.Context, w io.Writer, root fs.FS, compress bool) (err error) {
	paths, err := signing.Files(root)
	if err != nil {
		return err
	}

	if compress {
		gzipWriter := gzip.NewWriter(w)
		defer func() {
			err = errors.Join(err, gzipWriter.Close())
		}()
		w = gzipWriter
	}
	tarWriter := tar.NewWriter(w)
	defer func() {
		err = errors.Join(err, tarWriter.Close())
	}()

	buf := make([]byte, copyBufferSize)
	for _, name := range paths {
		if err := ctx.Err(); err != nil {
			return err
		}
		info, err := fs.Stat(root, name)
		if err != nil {
			return fmt.Errorf("stat %q failed: %w", name, err)
		}
		header := &tar.Header{
			Name:    name,
			Mode:    0o644,
			Size:    info.Size(),
			ModTime: artifactEpoch,
		}
		if err := tarWriter.WriteHeader(header); err != nil {
			return fmt.Errorf("writing tar header %q failed: %w", name, err)
		}
		if err := copyEntry(tarWriter, root, name, buf); err != nil {
			return err
		}
	}
	return nil
}

func writeDirectory(ctx context.Context, path string, root fs.FS) error {
	paths, err := signing.Files(root)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating parent directory of %q failed: %w", path, err)
	}
	// Refuse to merge into an existing directory; a directory artifact is
	// always written from scratch.
	if err := os.Mkdir(path, 0o755); err != nil {
		return fmt.Errorf("creating artifact directory %q failed: %w", path, err)
	}

	buf := make([]byte, copyBufferSize)
	for _, name := range paths {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := writeDirectoryEntry(path, root, name, buf); err != nil {
			return err
		}
	}
	return nil
}

func writeDirectoryEntry(path string, root fs.FS, name string, buf []byte) (err error) {
	target := filepath.Join(path, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("creating directory for %q failed: %w", name, err)
	}
	file, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("creating %q failed: %w", target, err)
	}
	defer func() {
		err = errors.Join(err, file.Close())
	}()
	return copyEntry(file, root, name, buf)
}

func copyEntry(dst io.Writer, root fs.FS, name string, buf []byte) (err error) {
	file, err := root.Open(name)
	if err != nil {
		return fmt.Errorf("opening %q failed: %w", name, err)
	}
	defer func() {
		err = errors.Join(err, file.Close())
	}()
	if _, err := io.CopyBuffer(dst, file, buf); err != nil {
		return fmt.Errorf("writing entry %q failed: %w", name, err)
	}
	return nil
}
