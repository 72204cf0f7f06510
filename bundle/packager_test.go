package bundle

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"extpack.software/extpack/archive"
	"extpack.software/extpack/manifest"
	"extpack.software/extpack/signing"
)

const testManifest = `{
  "name": "demo",
  "version": "1.0.0",
  "public_key": "",
  "signature": ""
}`

// newTestBundle lays out a built bundle with a keypair next to it, the way a
// developer workspace looks right before packaging.
func newTestBundle(t *testing.T) (bundleDir, keyPath string) {
	t.Helper()
	bundleDir = t.TempDir()
	writeTree(t, bundleDir, map[string]string{
		"manifest.json": testManifest,
		"index.html":    "hi",
		"style.css":     "body{}",
	})

	keypair, err := signing.GenerateKeypair()
	require.NoError(t, err)
	keyPath, _, err = signing.WriteKeypair(bundleDir, keypair, false)
	require.NoError(t, err)
	return bundleDir, keyPath
}

func newPackager(format archive.Format) *Packager {
	return &Packager{
		Signer:   &signing.Signer{},
		Archiver: archive.Writer{Format: format},
	}
}

func TestPackageRoundTrip(t *testing.T) {
	bundleDir, keyPath := newTestBundle(t)
	artifactPath := filepath.Join(t.TempDir(), "demo-1.0.0.zip")

	result, err := newPackager(archive.FormatZip).Package(t.Context(), PackageOptions{
		BundleDir:      bundleDir,
		PrivateKeyPath: keyPath,
		ArtifactPath:   artifactPath,
	})
	require.NoError(t, err)
	assert.Equal(t, artifactPath, result.ArtifactPath)
	assert.Regexp(t, "^[0-9a-f]{64}$", result.PublicKey)
	assert.Regexp(t, "^[0-9a-f]{128}$", result.Signature)

	// The developer manifest is restored byte for byte, the recovery copy
	// is gone, and no key material was touched.
	restored, err := os.ReadFile(filepath.Join(bundleDir, manifest.Filename))
	require.NoError(t, err)
	assert.Equal(t, testManifest, string(restored))
	assert.NoFileExists(t, filepath.Join(bundleDir, manifest.Filename+manifestBackupSuffix))

	artifact, err := archive.Open(artifactPath)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, artifact.Close()) })

	embedded, err := fs.ReadFile(artifact.FS(), ManifestPath)
	require.NoError(t, err)
	doc, err := manifest.Parse(embedded)
	require.NoError(t, err)
	assert.Equal(t, "demo", doc.Name())
	assert.Equal(t, "1.0.0", doc.Version())
	assert.Equal(t, result.PublicKey, doc.PublicKey())
	assert.Equal(t, result.Signature, doc.Signature())

	// No manifest at the artifact root, no private key anywhere, and the
	// public key only at its canonical metadata location.
	_, err = fs.Stat(artifact.FS(), manifest.Filename)
	require.ErrorIs(t, err, fs.ErrNotExist)
	_, err = fs.Stat(artifact.FS(), signing.PrivateKeyFilename)
	require.ErrorIs(t, err, fs.ErrNotExist)
	_, err = fs.Stat(artifact.FS(), signing.PublicKeyFilename)
	require.ErrorIs(t, err, fs.ErrNotExist)
	_, err = fs.Stat(artifact.FS(), PublicKeyPath)
	require.NoError(t, err)

	outcome, err := VerifyArtifact(t.Context(), artifact.FS(), VerifyOptions{})
	require.NoError(t, err)
	assert.True(t, outcome.OK)
	assert.Equal(t, OutcomeValid, outcome.Code)
	assert.Equal(t, result.Digest, outcome.Digest)
}

func TestPackageVerifiesAgainstTrustedKey(t *testing.T) {
	bundleDir, keyPath := newTestBundle(t)
	artifactPath := filepath.Join(t.TempDir(), "demo-1.0.0.zip")

	_, err := newPackager(archive.FormatZip).Package(t.Context(), PackageOptions{
		BundleDir:      bundleDir,
		PrivateKeyPath: keyPath,
		ArtifactPath:   artifactPath,
	})
	require.NoError(t, err)

	artifact, err := archive.Open(artifactPath)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, artifact.Close()) })

	trusted, err := signing.LoadPublicKey(filepath.Join(bundleDir, signing.PublicKeyFilename))
	require.NoError(t, err)
	outcome, err := VerifyArtifact(t.Context(), artifact.FS(), VerifyOptions{PublicKey: trusted})
	require.NoError(t, err)
	assert.True(t, outcome.OK)

	stranger, err := signing.GenerateKeypair()
	require.NoError(t, err)
	outcome, err = VerifyArtifact(t.Context(), artifact.FS(), VerifyOptions{PublicKey: stranger.Public})
	require.NoError(t, err)
	assert.False(t, outcome.OK)
	assert.Equal(t, OutcomeSignatureInvalid, outcome.Code)
}

func TestPackageDetectsTampering(t *testing.T) {
	bundleDir, keyPath := newTestBundle(t)
	artifactPath := filepath.Join(t.TempDir(), "demo-1.0.0")

	_, err := newPackager(archive.FormatDirectory).Package(t.Context(), PackageOptions{
		BundleDir:      bundleDir,
		PrivateKeyPath: keyPath,
		ArtifactPath:   artifactPath,
	})
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(artifactPath, "style.css"), []byte("body{color:red}"), 0o644))

	outcome, err := VerifyArtifact(t.Context(), os.DirFS(artifactPath), VerifyOptions{})
	require.NoError(t, err)
	assert.False(t, outcome.OK)
	assert.Equal(t, OutcomeSignatureInvalid, outcome.Code)
}

func TestPackageDeterministic(t *testing.T) {
	bundleDir, keyPath := newTestBundle(t)
	dir := t.TempDir()
	first := filepath.Join(dir, "first.zip")
	second := filepath.Join(dir, "second.zip")

	packager := newPackager(archive.FormatZip)
	for _, artifactPath := range []string{first, second} {
		_, err := packager.Package(t.Context(), PackageOptions{
			BundleDir:      bundleDir,
			PrivateKeyPath: keyPath,
			ArtifactPath:   artifactPath,
		})
		require.NoError(t, err)
	}

	firstBytes, err := os.ReadFile(first)
	require.NoError(t, err)
	secondBytes, err := os.ReadFile(second)
	require.NoError(t, err)
	assert.Equal(t, firstBytes, secondBytes)
}

// failingArchiver optionally leaves a partial artifact behind before failing.
type failingArchiver struct {
	partial bool
}

func (a failingArchiver) Write(_ context.Context, path string, _ fs.FS) error {
	if a.partial {
		if err := os.WriteFile(path, []byte("partial artifact"), 0o644); err != nil {
			return err
		}
	}
	return errors.New("archiver exploded")
}

func TestPackageRestoresManifestOnFailure(t *testing.T) {
	for _, partial := range []bool{false, true} {
		name := "clean failure"
		if partial {
			name = "partial artifact left behind"
		}
		t.Run(name, func(t *testing.T) {
			bundleDir, keyPath := newTestBundle(t)
			artifactPath := filepath.Join(t.TempDir(), "demo-1.0.0.zip")

			packager := &Packager{Archiver: failingArchiver{partial: partial}}
			_, err := packager.Package(t.Context(), PackageOptions{
				BundleDir:      bundleDir,
				PrivateKeyPath: keyPath,
				ArtifactPath:   artifactPath,
			})
			require.ErrorContains(t, err, "archiver exploded")

			restored, readErr := os.ReadFile(filepath.Join(bundleDir, manifest.Filename))
			require.NoError(t, readErr)
			assert.Equal(t, testManifest, string(restored))
			assert.NoFileExists(t, filepath.Join(bundleDir, manifest.Filename+manifestBackupSuffix))
			assert.NoFileExists(t, artifactPath)
		})
	}
}

func TestPackageMissingManifest(t *testing.T) {
	bundleDir := t.TempDir()
	writeTree(t, bundleDir, map[string]string{"index.html": "hi"})
	keypair, err := signing.GenerateKeypair()
	require.NoError(t, err)
	keyPath, _, err := signing.WriteKeypair(bundleDir, keypair, false)
	require.NoError(t, err)

	_, err = newPackager(archive.FormatZip).Package(t.Context(), PackageOptions{
		BundleDir:      bundleDir,
		PrivateKeyPath: keyPath,
		ArtifactPath:   filepath.Join(t.TempDir(), "demo.zip"),
	})
	require.ErrorIs(t, err, manifest.ErrManifestMissing)
}

func TestPackageInvalidKey(t *testing.T) {
	bundleDir, _ := newTestBundle(t)
	corrupt := filepath.Join(bundleDir, "corrupt.key")
	require.NoError(t, os.WriteFile(corrupt, []byte("not hex"), 0o600))

	_, err := newPackager(archive.FormatZip).Package(t.Context(), PackageOptions{
		BundleDir:      bundleDir,
		PrivateKeyPath: corrupt,
		ArtifactPath:   filepath.Join(t.TempDir(), "demo.zip"),
	})
	require.ErrorIs(t, err, signing.ErrKeyImport)

	// The manifest survives failed key imports untouched as well.
	restored, err := os.ReadFile(filepath.Join(bundleDir, manifest.Filename))
	require.NoError(t, err)
	assert.Equal(t, testManifest, string(restored))
}

func TestPackageInvalidManifest(t *testing.T) {
	bundleDir, keyPath := newTestBundle(t)
	require.NoError(t, os.WriteFile(filepath.Join(bundleDir, manifest.Filename), []byte(`{"name":"demo"}`), 0o644))

	_, err := newPackager(archive.FormatZip).Package(t.Context(), PackageOptions{
		BundleDir:      bundleDir,
		PrivateKeyPath: keyPath,
		ArtifactPath:   filepath.Join(t.TempDir(), "demo.zip"),
	})
	require.ErrorIs(t, err, manifest.ErrManifestInvalid)
}
