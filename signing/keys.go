package signing

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Default names of the two independent key files written next to a bundle.
const (
	PrivateKeyFilename = "extension.key"
	PublicKeyFilename  = "extension.pub"
)

// ErrKeyImport indicates key material that could not be decoded into a
// usable Ed25519 key.
var ErrKeyImport = errors.New("invalid signing key material")

// Keypair holds the two halves of an Ed25519 signing identity.
type Keypair struct {
	Public  ed25519.PublicKey
	Private ed25519.PrivateKey
}

// GenerateKeypair creates a fresh Ed25519 keypair.
func GenerateKeypair() (Keypair, error) {
	public, private, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return Keypair{}, fmt.Errorf("generating ed25519 keypair failed: %w", err)
	}
	return Keypair{Public: public, Private: private}, nil
}

// DerivePublicKey recovers the public half from private key material. The
// private key file alone is therefore enough to regenerate the public
// identity at any time.
func DerivePublicKey(private ed25519.PrivateKey) ed25519.PublicKey {
	return private.Public().(ed25519.PublicKey)
}

// ParsePrivateKey decodes hex encoded private key material. Both the full
// 64 byte ed25519 private key and its 32 byte seed form are accepted.
func ParsePrivateKey(material []byte) (ed25519.PrivateKey, error) {
	raw, err := decodeKeyHex(material)
	if err != nil {
		return nil, err
	}
	switch len(raw) {
	case ed25519.PrivateKeySize:
		return ed25519.PrivateKey(raw), nil
	case ed25519.SeedSize:
		return ed25519.NewKeyFromSeed(raw), nil
	default:
		return nil, fmt.Errorf("%w: private key must be %d or %d bytes, got %d",
			ErrKeyImport, ed25519.PrivateKeySize, ed25519.SeedSize, len(raw))
	}
}

// ParsePublicKey decodes a hex encoded 32 byte Ed25519 public key.
func ParsePublicKey(material []byte) (ed25519.PublicKey, error) {
	raw, err := decodeKeyHex(material)
	if err != nil {
		return nil, err
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: public key must be %d bytes, got %d", ErrKeyImport, ed25519.PublicKeySize, len(raw))
	}
	return ed25519.PublicKey(raw), nil
}

func decodeKeyHex(material []byte) ([]byte, error) {
	trimmed := bytes.TrimSpace(material)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: empty key material", ErrKeyImport)
	}
	raw := make([]byte, hex.DecodedLen(len(trimmed)))
	if _, err := hex.Decode(raw, trimmed); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrKeyImport, err)
	}
	return raw, nil
}

// LoadPrivateKey reads and decodes a private key file.
func LoadPrivateKey(path string) (ed25519.PrivateKey, error) {
	material, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading private key %q failed: %w", path, err)
	}
	key, err := ParsePrivateKey(material)
	if err != nil {
		return nil, fmt.Errorf("private key %q: %w", path, err)
	}
	return key, nil
}

// LoadPublicKey reads and decodes a public key file.
func LoadPublicKey(path string) (ed25519.PublicKey, error) {
	material, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading public key %q failed: %w", path, err)
	}
	key, err := ParsePublicKey(material)
	if err != nil {
		return nil, fmt.Errorf("public key %q: %w", path, err)
	}
	return key, nil
}

// EncodePublicKey renders a public key in its on disk form.
func EncodePublicKey(public ed25519.PublicKey) []byte {
	return append([]byte(hex.EncodeToString(public)), '\n')
}

// EncodePrivateKey renders a private key in its on disk form.
func EncodePrivateKey(private ed25519.PrivateKey) []byte {
	return append([]byte(hex.EncodeToString(private)), '\n')
}

// WriteKeypair writes the two key files into dir. Existing key files are only
// overwritten when force is set. The private key file is restricted to its
// owner.
func WriteKeypair(dir string, keypair Keypair, force bool) (privateKeyPath, publicKeyPath string, err error) {
	privateKeyPath = filepath.Join(dir, PrivateKeyFilename)
	publicKeyPath = filepath.Join(dir, PublicKeyFilename)

	if !force {
		for _, path := range []string{privateKeyPath, publicKeyPath} {
			if _, err := os.Stat(path); err == nil {
				return "", "", fmt.Errorf("key file %q already exists", path)
			}
		}
	}

	if err := os.WriteFile(privateKeyPath, EncodePrivateKey(keypair.Private), 0o600); err != nil {
		return "", "", fmt.Errorf("writing private key failed: %w", err)
	}
	if err := os.WriteFile(publicKeyPath, EncodePublicKey(keypair.Public), 0o644); err != nil {
		return "", "", fmt.Errorf("writing public key failed: %w", err)
	}
	return privateKeyPath, publicKeyPath, nil
}
