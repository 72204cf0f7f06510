package bundle

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"time"

	"github.com/opencontainers/go-digest"
	slogcontext "github.com/veqryn/slog-context"

	"extpack.software/extpack/manifest"
	"extpack.software/extpack/signing"
)

// OutcomeCode classifies the result of a verification run.
type OutcomeCode string

const (
	// OutcomeValid means the signature covers the recomputed content digest.
	OutcomeValid OutcomeCode = "valid"
	// OutcomeSignatureInvalid means the signature does not match the
	// recomputed digest under the effective public key.
	OutcomeSignatureInvalid OutcomeCode = "signature-invalid"
	// OutcomeDigestMismatch means the recomputed digest differs from the
	// digest the caller pinned.
	OutcomeDigestMismatch OutcomeCode = "digest-mismatch"
)

// Outcome is the non error result of verifying an artifact. Invalid
// signatures and digest mismatches are expected, reportable outcomes; errors
// are reserved for unreadable or malformed artifacts.
type Outcome struct {
	OK        bool          `json:"ok"`
	Code      OutcomeCode   `json:"code"`
	Digest    digest.Digest `json:"digest"`
	PublicKey string        `json:"publicKey"`
	Reason    string        `json:"reason,omitempty"`
}

// VerifyOptions tune a verification run.
type VerifyOptions struct {
	// PublicKey verifies against a trusted key instead of the key embedded
	// in the artifact manifest. Verification against the embedded key proves
	// integrity; verification against a trusted key also proves identity.
	PublicKey ed25519.PublicKey
	// ExpectedDigest optionally pins the content digest the artifact must
	// carry.
	ExpectedDigest digest.Digest
}

// VerifyArtifact recomputes the content digest of an artifact tree and checks
// the embedded signature against it. The manifest is rebuilt into the
// placeholder form it had when the tree was hashed at packaging time, so
// verification mirrors signing byte for byte.
func VerifyArtifact(ctx context.Context, artifact fs.FS, opts VerifyOptions) (*Outcome, error) {
	logger := slogcontext.FromCtx(ctx).With(slog.String("realm", "bundle"))

	doc, err := readManifest(artifact)
	if err != nil {
		return nil, err
	}

	publicKey := opts.PublicKey
	if publicKey == nil {
		if publicKey, err = signing.ParsePublicKey([]byte(doc.PublicKey())); err != nil {
			return nil, fmt.Errorf("manifest public key: %w", err)
		}
	}
	signature, err := hex.DecodeString(doc.Signature())
	if err != nil {
		return nil, fmt.Errorf("decoding manifest signature failed: %w", err)
	}
	if len(signature) != ed25519.SignatureSize {
		return nil, fmt.Errorf("manifest signature must be %d bytes, got %d", ed25519.SignatureSize, len(signature))
	}

	dgst, err := placeholderDigest(ctx, artifact, doc)
	if err != nil {
		return nil, err
	}

	outcome := &Outcome{Digest: dgst, PublicKey: hex.EncodeToString(publicKey)}

	if opts.ExpectedDigest != "" && dgst != opts.ExpectedDigest {
		outcome.Code = OutcomeDigestMismatch
		outcome.Reason = fmt.Sprintf("content digest is %s, expected %s", dgst, opts.ExpectedDigest)
		logger.DebugContext(ctx, "content digest mismatch",
			slog.String("computed", dgst.String()), slog.String("expected", opts.ExpectedDigest.String()))
		return outcome, nil
	}

	ok, err := signing.VerifyDigest(publicKey, dgst, signature)
	if err != nil {
		return nil, err
	}
	if !ok {
		outcome.Code = OutcomeSignatureInvalid
		outcome.Reason = "signature does not match the content digest under the effective public key"
		return outcome, nil
	}

	outcome.OK = true
	outcome.Code = OutcomeValid
	return outcome, nil
}

// ArtifactDigest recomputes the content digest of an artifact tree without
// checking its signature.
func ArtifactDigest(ctx context.Context, artifact fs.FS) (digest.Digest, error) {
	doc, err := readManifest(artifact)
	if err != nil {
		return "", err
	}
	return placeholderDigest(ctx, artifact, doc)
}

func readManifest(artifact fs.FS) (*manifest.Manifest, error) {
	raw, err := fs.ReadFile(artifact, ManifestPath)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s failed: %w", manifest.ErrManifestMissing, ManifestPath, err)
	}
	doc, err := manifest.Parse(raw)
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// placeholderDigest hashes the artifact tree with its manifest replaced by
// the placeholder form carrying the embedded identity, which is the form the
// content digest covered at packaging time.
func placeholderDigest(ctx context.Context, artifact fs.FS, doc *manifest.Manifest) (digest.Digest, error) {
	placeholder, err := doc.WithPlaceholderSignature(doc.PublicKey()).Canonical()
	if err != nil {
		return "", err
	}
	tree := replaceFS{base: artifact, name: ManifestPath, data: placeholder}
	return signing.TreeDigest(ctx, tree)
}

// replaceFS serves one path from memory and delegates everything else.
type replaceFS struct {
	base fs.FS
	name string
	data []byte
}

func (f replaceFS) Open(name string) (fs.File, error) {
	if name == f.name {
		return &memFile{name: path.Base(f.name), reader: bytes.NewReader(f.data)}, nil
	}
	return f.base.Open(name)
}

type memFile struct {
	name   string
	reader *bytes.Reader
}

func (f *memFile) Stat() (fs.FileInfo, error) {
	return memFileInfo{name: f.name, size: f.reader.Size()}, nil
}

func (f *memFile) Read(p []byte) (int, error) { return f.reader.Read(p) }

func (f *memFile) Close() error { return nil }

type memFileInfo struct {
	name string
	size int64
}

func (i memFileInfo) Name() string       { return i.name }
func (i memFileInfo) Size() int64        { return i.size }
func (i memFileInfo) Mode() fs.FileMode  { return 0o444 }
func (i memFileInfo) ModTime() time.Time { return time.Time{} }
func (i memFileInfo) IsDir() bool        { return false }
func (i memFileInfo) Sys() any           { return nil }
