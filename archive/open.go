package archive

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"slices"
	"strings"

	"github.com/nlepage/go-tarfs"
)

// Artifact provides read access to a packaged artifact as a file system.
type Artifact struct {
	fsys   fs.FS
	format Format
	closer io.Closer
}

// FS returns the artifact contents.
func (a *Artifact) FS() fs.FS { return a.fsys }

// Format returns the detected artifact format.
func (a *Artifact) Format() Format { return a.format }

func (a *Artifact) Close() error {
	if a.closer == nil {
		return nil
	}
	return a.closer.Close()
}

// Open opens an artifact for reading. Directory, zip, tar, and tgz artifacts
// are all exposed uniformly as an fs.FS. The caller must close the artifact
// when done with it.
func Open(path string) (*Artifact, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("opening artifact %q failed: %w", path, err)
	}
	if info.IsDir() {
		return &Artifact{fsys: os.DirFS(path), format: FormatDirectory}, nil
	}

	switch format := FormatFromPath(path); format {
	case FormatZip:
		return openZip(path)
	case FormatTar, FormatTgz:
		return openTar(path, format)
	default:
		return nil, fmt.Errorf("%w: %q is not a recognized artifact", ErrUnsupportedFormat, path)
	}
}

func openZip(path string) (*Artifact, error) {
	reader, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("opening zip artifact %q failed: %w", path, err)
	}
	for _, entry := range reader.File {
		if err := validateEntryName(entry.Name); err != nil {
			return nil, errors.Join(fmt.Errorf("zip artifact %q: %w", path, err), reader.Close())
		}
	}
	return &Artifact{fsys: reader, format: FormatZip, closer: reader}, nil
}

// openTar reads the whole archive into memory via tarfs, validating entry
// names in a first pass so hostile archives cannot address paths outside
// their own root.
func openTar(path string, format Format) (_ *Artifact, err error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening artifact %q failed: %w", path, err)
	}
	defer func() {
		err = errors.Join(err, file.Close())
	}()

	if err := validateTarEntries(file, format); err != nil {
		return nil, fmt.Errorf("tar artifact %q: %w", path, err)
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("rewinding artifact %q failed: %w", path, err)
	}

	reader, err := uncompressed(file, format)
	if err != nil {
		return nil, fmt.Errorf("reading artifact %q failed: %w", path, err)
	}
	fsys, err := tarfs.New(reader)
	if err != nil {
		return nil, fmt.Errorf("reading tar artifact %q failed: %w", path, err)
	}
	return &Artifact{fsys: fsys, format: format}, nil
}

func validateTarEntries(r io.Reader, format Format) error {
	reader, err := uncompressed(r, format)
	if err != nil {
		return err
	}
	tarReader := tar.NewReader(reader)
	for {
		header, err := tarReader.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading tar entry failed: %w", err)
		}
		if err := validateEntryName(header.Name); err != nil {
			return err
		}
	}
}

func uncompressed(r io.Reader, format Format) (io.Reader, error) {
	if format != FormatTgz {
		return r, nil
	}
	gzipReader, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("reading gzip stream failed: %w", err)
	}
	return gzipReader, nil
}

func validateEntryName(name string) error {
	if strings.HasPrefix(name, "/") || slices.Contains(strings.Split(name, "/"), "..") {
		return fmt.Errorf("invalid entry name %q escapes the artifact root", name)
	}
	return nil
}
