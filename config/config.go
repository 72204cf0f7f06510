// Package config loads the optional project configuration of a bundle
// directory.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"sigs.k8s.io/yaml"
)

// Configuration files at the root of a bundle directory. The project file
// ships inside artifacts verbatim; the local file carries machine specific
// overrides and is never staged.
const (
	Filename      = "extpack.yaml"
	LocalFilename = "extpack.local.yaml"
)

// Config carries project level packaging settings. Field semantics follow
// the pack command flags of the same name; flags take precedence over
// configuration.
type Config struct {
	// Output is the directory artifacts are written to, relative to the
	// bundle directory unless absolute.
	Output string `json:"output,omitempty"`
	// KeyFile points to the private key used for signing, relative to the
	// bundle directory unless absolute.
	KeyFile string `json:"keyFile,omitempty"`
	// Format names the artifact format to produce.
	Format string `json:"format,omitempty"`
	// Exclude lists glob patterns, slash separated and relative to the
	// bundle root, excluded from staging. Patterns of both configuration
	// files apply.
	Exclude []string `json:"exclude,omitempty"`
}

// Load reads the project configuration of a bundle directory, overlaying
// machine local settings from LocalFilename over Filename. Missing files are
// not an error; a zero config is returned when neither exists.
func Load(dir string) (*Config, error) {
	cfg := &Config{}
	for _, name := range []string{Filename, LocalFilename} {
		overlay, err := load(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		if overlay != nil {
			cfg.merge(overlay)
		}
	}
	return cfg, nil
}

func load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading config %q failed: %w", path, err)
	}
	cfg := &Config{}
	if err := yaml.UnmarshalStrict(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %q failed: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) merge(overlay *Config) {
	if overlay.Output != "" {
		c.Output = overlay.Output
	}
	if overlay.KeyFile != "" {
		c.KeyFile = overlay.KeyFile
	}
	if overlay.Format != "" {
		c.Format = overlay.Format
	}
	c.Exclude = append(c.Exclude, overlay.Exclude...)
}
