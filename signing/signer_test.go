package signing

import (
	"crypto/ed25519"
	"crypto/sha256"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSign(t *testing.T) {
	keypair, err := GenerateKeypair()
	require.NoError(t, err)

	fsys := fstest.MapFS{
		"index.html": &fstest.MapFile{Data: []byte("hi")},
		"style.css":  &fstest.MapFile{Data: []byte("body{}")},
	}

	signer := &Signer{}
	result, err := signer.Sign(t.Context(), fsys, keypair.Private)
	require.NoError(t, err)

	assert.Equal(t, sha256Digest([]byte("hibody{}")), result.Digest)
	assert.Len(t, result.Signature, ed25519.SignatureSize)
	assert.Equal(t, keypair.Public, result.PublicKey)

	// The signature covers the raw digest bytes, not their textual form.
	sum := sha256.Sum256([]byte("hibody{}"))
	assert.True(t, ed25519.Verify(keypair.Public, sum[:], result.Signature))

	ok, err := VerifyDigest(keypair.Public, result.Digest, result.Signature)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestVerifyDigestRejectsWrongKey(t *testing.T) {
	keypair, err := GenerateKeypair()
	require.NoError(t, err)
	other, err := GenerateKeypair()
	require.NoError(t, err)

	fsys := fstest.MapFS{"a.txt": &fstest.MapFile{Data: []byte("content")}}
	result, err := (&Signer{}).Sign(t.Context(), fsys, keypair.Private)
	require.NoError(t, err)

	ok, err := VerifyDigest(other.Public, result.Digest, result.Signature)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVerifyDigestRejectsTamperedDigest(t *testing.T) {
	keypair, err := GenerateKeypair()
	require.NoError(t, err)

	fsys := fstest.MapFS{"a.txt": &fstest.MapFile{Data: []byte("content")}}
	result, err := (&Signer{}).Sign(t.Context(), fsys, keypair.Private)
	require.NoError(t, err)

	ok, err := VerifyDigest(keypair.Public, sha256Digest([]byte("tampered")), result.Signature)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSignFailsOnUnreadableTree(t *testing.T) {
	keypair, err := GenerateKeypair()
	require.NoError(t, err)

	fsys := failFS{
		FS:   fstest.MapFS{"a.txt": &fstest.MapFile{Data: []byte("1")}},
		fail: "a.txt",
	}
	_, err = (&Signer{}).Sign(t.Context(), fsys, keypair.Private)
	require.ErrorIs(t, err, ErrFileRead)
}
