// Package archive writes staged bundle trees into distributable artifact
// files and opens existing artifacts for reading. Every supported format is
// exposed uniformly as an fs.FS, so hashing and verification never care how
// an artifact is stored.
package archive

import (
	"errors"
	"fmt"
	"strings"
)

// Format represents the on disk format of an artifact.
// The zero value is FormatUnknown.
type Format int

const (
	// FormatUnknown represents an unknown artifact format.
	FormatUnknown Format = iota
	// FormatDirectory represents an artifact laid out as a plain directory.
	FormatDirectory
	// FormatZip represents a zip artifact, the default.
	FormatZip
	// FormatTar represents an uncompressed tar artifact.
	FormatTar
	// FormatTgz represents a gzip compressed tar artifact.
	FormatTgz
)

var formats = [...]string{"unknown", "directory", "zip", "tar", "tgz"}

func (f Format) String() string {
	if int(f) < 0 || int(f) >= len(formats) {
		return formats[FormatUnknown]
	}
	return formats[f]
}

// Extension returns the file extension used for artifacts of the format.
func (f Format) Extension() string {
	switch f {
	case FormatZip:
		return ".zip"
	case FormatTar:
		return ".tar"
	case FormatTgz:
		return ".tgz"
	default:
		return ""
	}
}

var (
	// ErrArchiveWrite indicates a failure while producing an artifact file.
	ErrArchiveWrite = errors.New("cannot write artifact")
	// ErrUnsupportedFormat indicates an artifact format this tool cannot
	// produce or read.
	ErrUnsupportedFormat = errors.New("unsupported artifact format")
)

// ParseFormat maps a format name, as used on the command line and in project
// configuration, to a Format.
func ParseFormat(name string) (Format, error) {
	for i, known := range formats {
		if known == name && Format(i) != FormatUnknown {
			return Format(i), nil
		}
	}
	return FormatUnknown, fmt.Errorf("%w: %q", ErrUnsupportedFormat, name)
}

// FormatFromPath derives the artifact format from a path by its extension.
// Paths without a recognized archive extension are treated as directories.
func FormatFromPath(path string) Format {
	switch {
	case strings.HasSuffix(path, ".zip"):
		return FormatZip
	case strings.HasSuffix(path, ".tgz"), strings.HasSuffix(path, ".tar.gz"):
		return FormatTgz
	case strings.HasSuffix(path, ".tar"):
		return FormatTar
	default:
		return FormatDirectory
	}
}
