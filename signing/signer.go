// Package signing provides the Ed25519 identity handling and deterministic
// tree hashing that bundle signatures are built on. It is pure cryptography
// and file tree plumbing; manifest handling and artifact layout live in the
// manifest and bundle packages.
package signing

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/opencontainers/go-digest"
	slogcontext "github.com/veqryn/slog-context"
)

// Result carries everything produced by signing a bundle tree.
type Result struct {
	// Digest is the content digest the signature covers.
	Digest digest.Digest
	// Signature is the raw Ed25519 signature over the digest bytes.
	Signature []byte
	// PublicKey is the public half derived from the signing key.
	PublicKey ed25519.PublicKey
}

// Signer signs bundle trees with Ed25519 identities.
type Signer struct {
	// Concurrency bounds parallel file reads while hashing. Zero selects
	// DefaultConcurrency.
	Concurrency int
}

// Sign hashes the tree and signs the raw digest bytes with the private key.
// The tree must already be in its final shippable shape; in particular its
// manifest must be the canonical placeholder form, since that is what the
// signature covers.
func (s *Signer) Sign(ctx context.Context, bundle fs.FS, private ed25519.PrivateKey) (*Result, error) {
	logger := slogcontext.FromCtx(ctx).With(slog.String("realm", "signing"))

	dgst, err := treeDigest(ctx, bundle, s.Concurrency)
	if err != nil {
		return nil, fmt.Errorf("hashing bundle tree failed: %w", err)
	}

	raw, err := DigestBytes(dgst)
	if err != nil {
		return nil, err
	}
	signature := ed25519.Sign(private, raw)
	logger.DebugContext(ctx, "signed bundle tree", slog.String("digest", dgst.String()))

	return &Result{
		Digest:    dgst,
		Signature: signature,
		PublicKey: DerivePublicKey(private),
	}, nil
}

// DigestBytes returns the raw hash bytes a digest encodes. Signatures cover
// these bytes, not the textual digest form.
func DigestBytes(dgst digest.Digest) ([]byte, error) {
	raw, err := hex.DecodeString(dgst.Encoded())
	if err != nil {
		return nil, fmt.Errorf("decoding digest %q failed: %w", dgst, err)
	}
	return raw, nil
}

// VerifyDigest reports whether signature is a valid Ed25519 signature over
// the digest bytes under the given public key.
func VerifyDigest(public ed25519.PublicKey, dgst digest.Digest, signature []byte) (bool, error) {
	raw, err := DigestBytes(dgst)
	if err != nil {
		return false, err
	}
	return ed25519.Verify(public, raw, signature), nil
}
