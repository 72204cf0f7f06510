package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func write(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestLoad(t *testing.T) {
	t.Run("no configuration files", func(t *testing.T) {
		cfg, err := Load(t.TempDir())
		require.NoError(t, err)
		assert.Equal(t, &Config{}, cfg)
	})

	t.Run("project file only", func(t *testing.T) {
		dir := t.TempDir()
		write(t, dir, Filename, "output: ../out\nformat: tgz\nexclude:\n  - '**/*.map'\n")

		cfg, err := Load(dir)
		require.NoError(t, err)
		assert.Equal(t, "../out", cfg.Output)
		assert.Equal(t, "tgz", cfg.Format)
		assert.Equal(t, []string{"**/*.map"}, cfg.Exclude)
		assert.Empty(t, cfg.KeyFile)
	})

	t.Run("local file overlays project file", func(t *testing.T) {
		dir := t.TempDir()
		write(t, dir, Filename, "output: ../out\nformat: tgz\nexclude:\n  - '**/*.map'\n")
		write(t, dir, LocalFilename, "keyFile: /home/dev/keys/extension.key\nformat: zip\nexclude:\n  - 'scratch/**'\n")

		cfg, err := Load(dir)
		require.NoError(t, err)
		assert.Equal(t, "../out", cfg.Output)
		assert.Equal(t, "/home/dev/keys/extension.key", cfg.KeyFile)
		// Scalars from the local file win, exclude patterns accumulate.
		assert.Equal(t, "zip", cfg.Format)
		assert.Equal(t, []string{"**/*.map", "scratch/**"}, cfg.Exclude)
	})

	t.Run("malformed yaml", func(t *testing.T) {
		dir := t.TempDir()
		write(t, dir, Filename, "output: [unclosed\n")

		_, err := Load(dir)
		require.Error(t, err)
	})

	t.Run("unknown fields rejected", func(t *testing.T) {
		dir := t.TempDir()
		write(t, dir, Filename, "outputs: typo\n")

		_, err := Load(dir)
		require.Error(t, err)
	})
}
