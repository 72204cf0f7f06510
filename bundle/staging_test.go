package bundle

import (
	"bytes"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"extpack.software/extpack/config"
)

func writeTree(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		path := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
}

func stagedPaths(t *testing.T, staged *StagedTree) []string {
	t.Helper()
	var paths []string
	err := fs.WalkDir(staged.FS(), ".", func(path string, d fs.DirEntry, err error) error {
		require.NoError(t, err)
		if d.Type().IsRegular() {
			paths = append(paths, path)
		}
		return nil
	})
	require.NoError(t, err)
	return paths
}

func TestStage(t *testing.T) {
	bundleDir := t.TempDir()
	writeTree(t, bundleDir, map[string]string{
		"manifest.json":      `{"name":"demo"}`,
		"manifest.json.bak":  `{"name":"stale recovery copy"}`,
		"index.html":         "hi",
		"assets/app.js":      "console.log(1)",
		"assets/app.js.map":  "sourcemap",
		"extension.key":      "deadbeef",
		"nested/other.key":   "deadbeef",
		"deploy-token":       "secret token",
		config.Filename:      "format: zip\n",
		config.LocalFilename: "keyFile: /home/dev/extension.key\n",
	})

	placeholder := []byte(`{"name":"demo","public_key":"ab","signature":""}`)
	publicKey := []byte("abcdef\n")

	staged, err := Stage(t.Context(), StageOptions{
		BundleDir:    bundleDir,
		Manifest:     placeholder,
		PublicKey:    publicKey,
		Excludes:     []string{"**/*.map", "*.map"},
		ExcludePaths: []string{filepath.Join(bundleDir, "deploy-token")},
	})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, staged.Remove()) })

	assert.ElementsMatch(t, []string{
		"index.html",
		"assets/app.js",
		config.Filename,
		ManifestPath,
		PublicKeyPath,
	}, stagedPaths(t, staged))

	stagedManifest, err := fs.ReadFile(staged.FS(), ManifestPath)
	require.NoError(t, err)
	assert.Equal(t, placeholder, stagedManifest)

	stagedKey, err := fs.ReadFile(staged.FS(), PublicKeyPath)
	require.NoError(t, err)
	assert.Equal(t, publicKey, stagedKey)
}

// Staged trees must never contain secret material, independent of where the
// private key lives or what it is called.
func TestStageNeverLeaksSecrets(t *testing.T) {
	bundleDir := t.TempDir()
	secret := "8a2f5e6d71c4b3a2918276554433221100ffeeddccbbaa998877665544332211"
	writeTree(t, bundleDir, map[string]string{
		"manifest.json": `{"name":"demo"}`,
		"index.html":    "hi",
		"my-backup.key": secret,
		"keys/ci.key":   secret,
	})
	externalKey := filepath.Join(t.TempDir(), "external.pem")
	require.NoError(t, os.WriteFile(externalKey, []byte(secret), 0o600))

	staged, err := Stage(t.Context(), StageOptions{
		BundleDir:    bundleDir,
		Manifest:     []byte(`{}`),
		PublicKey:    []byte("pub\n"),
		ExcludePaths: []string{externalKey},
	})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, staged.Remove()) })

	err = fs.WalkDir(staged.FS(), ".", func(path string, d fs.DirEntry, err error) error {
		require.NoError(t, err)
		if !d.Type().IsRegular() {
			return nil
		}
		data, err := fs.ReadFile(staged.FS(), path)
		require.NoError(t, err)
		assert.False(t, bytes.Contains(data, []byte(secret)), "staged file %s contains secret material", path)
		return nil
	})
	require.NoError(t, err)
}

func TestStageInvalidExcludePattern(t *testing.T) {
	bundleDir := t.TempDir()
	writeTree(t, bundleDir, map[string]string{"index.html": "hi"})

	_, err := Stage(t.Context(), StageOptions{
		BundleDir: bundleDir,
		Manifest:  []byte(`{}`),
		PublicKey: []byte("pub\n"),
		Excludes:  []string{"["},
	})
	require.ErrorContains(t, err, "invalid exclude pattern")
}

func TestStageDoesNotModifyBundleDir(t *testing.T) {
	bundleDir := t.TempDir()
	files := map[string]string{
		"manifest.json": `{"name":"demo"}`,
		"index.html":    "hi",
	}
	writeTree(t, bundleDir, files)

	staged, err := Stage(t.Context(), StageOptions{
		BundleDir: bundleDir,
		Manifest:  []byte(`{}`),
		PublicKey: []byte("pub\n"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, staged.Remove()) })

	for name, content := range files {
		data, err := os.ReadFile(filepath.Join(bundleDir, name))
		require.NoError(t, err)
		assert.Equal(t, content, string(data))
	}
}
