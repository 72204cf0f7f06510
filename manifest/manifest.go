// Package manifest reads, validates, and canonicalizes extension bundle
// manifests. A manifest is a single JSON object; all of its fields survive
// packaging untouched, including fields this tool knows nothing about, except
// for the signature fields managed by the packaging pipeline.
package manifest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/Masterminds/semver/v3"
)

// Filename is the manifest location at the root of a bundle directory.
const Filename = "manifest.json"

// Fields managed by the packaging pipeline.
const (
	FieldName      = "name"
	FieldVersion   = "version"
	FieldPublicKey = "public_key"
	FieldSignature = "signature"
)

var (
	// ErrManifestMissing indicates that no manifest exists at the expected location.
	ErrManifestMissing = errors.New("manifest not found")
	// ErrManifestInvalid indicates a manifest that could not be decoded or
	// that failed validation.
	ErrManifestInvalid = errors.New("invalid manifest")
)

// Manifest is a parsed manifest document.
type Manifest struct {
	doc map[string]any
}

// Parse decodes and validates a manifest document. Number literals are kept
// verbatim so that canonicalization operates on what the author wrote.
func Parse(data []byte) (*Manifest, error) {
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()

	var doc map[string]any
	if err := decoder.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: decoding failed: %w", ErrManifestInvalid, err)
	}
	if decoder.More() {
		return nil, fmt.Errorf("%w: trailing data after the manifest object", ErrManifestInvalid)
	}
	if err := validateSchema(data); err != nil {
		return nil, err
	}

	m := &Manifest{doc: doc}
	if err := m.validateVersions(); err != nil {
		return nil, err
	}
	return m, nil
}

// Load reads and parses the manifest at path.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrManifestMissing, path)
	}
	if err != nil {
		return nil, fmt.Errorf("reading manifest %q failed: %w", path, err)
	}
	m, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("manifest %q: %w", path, err)
	}
	return m, nil
}

// MarshalJSON preserves the complete underlying document.
func (m *Manifest) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.doc)
}

func (m *Manifest) stringField(name string) string {
	s, _ := m.doc[name].(string)
	return s
}

// Name returns the extension name.
func (m *Manifest) Name() string { return m.stringField(FieldName) }

// Version returns the extension version.
func (m *Manifest) Version() string { return m.stringField(FieldVersion) }

// PublicKey returns the hex encoded signer identity, or an empty string for
// an unsigned manifest.
func (m *Manifest) PublicKey() string { return m.stringField(FieldPublicKey) }

// Signature returns the hex encoded signature, or an empty string for an
// unsigned manifest.
func (m *Manifest) Signature() string { return m.stringField(FieldSignature) }

// Permissions returns the declared permission strings.
func (m *Manifest) Permissions() []string {
	raw, _ := m.doc["permissions"].([]any)
	permissions := make([]string, 0, len(raw))
	for _, p := range raw {
		if s, ok := p.(string); ok {
			permissions = append(permissions, s)
		}
	}
	return permissions
}

// Dependency declares that the extension relies on another identity,
// optionally at a minimum version and with access to some of its tables.
type Dependency struct {
	Identity   string       `json:"identity"`
	Name       string       `json:"name"`
	MinVersion string       `json:"minVersion,omitempty"`
	Tables     []TableGrant `json:"tables,omitempty"`
}

// TableGrant names a table of a dependency together with the operations the
// extension performs on it.
type TableGrant struct {
	Table      string   `json:"table"`
	Operations []string `json:"operations"`
	Reason     string   `json:"reason,omitempty"`
}

// Dependencies returns the declared dependencies.
func (m *Manifest) Dependencies() ([]Dependency, error) {
	raw, ok := m.doc["dependencies"]
	if !ok {
		return nil, nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: dependencies: %w", ErrManifestInvalid, err)
	}
	var dependencies []Dependency
	if err := json.Unmarshal(data, &dependencies); err != nil {
		return nil, fmt.Errorf("%w: dependencies: %w", ErrManifestInvalid, err)
	}
	return dependencies, nil
}

// Clone returns a deep copy of the manifest.
func (m *Manifest) Clone() *Manifest {
	return &Manifest{doc: copyValue(m.doc).(map[string]any)}
}

// WithPlaceholderSignature returns a copy in placeholder form: the public key
// set to the signer identity and the signature emptied. The content digest of
// a bundle covers exactly this form, so the digest can be recomputed later
// from a finalized manifest by rebuilding it.
func (m *Manifest) WithPlaceholderSignature(publicKeyHex string) *Manifest {
	placeholder := m.Clone()
	placeholder.doc[FieldPublicKey] = publicKeyHex
	placeholder.doc[FieldSignature] = ""
	return placeholder
}

// WithSignature returns a copy carrying the finalized signature.
func (m *Manifest) WithSignature(signatureHex string) *Manifest {
	signed := m.Clone()
	signed.doc[FieldSignature] = signatureHex
	return signed
}

func copyValue(v any) any {
	switch typed := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(typed))
		for key, value := range typed {
			out[key] = copyValue(value)
		}
		return out
	case []any:
		out := make([]any, len(typed))
		for i, value := range typed {
			out[i] = copyValue(value)
		}
		return out
	default:
		return typed
	}
}

func (m *Manifest) validateVersions() error {
	if _, err := semver.NewVersion(m.Version()); err != nil {
		return fmt.Errorf("%w: version %q is not a semantic version: %w", ErrManifestInvalid, m.Version(), err)
	}
	dependencies, err := m.Dependencies()
	if err != nil {
		return err
	}
	for _, dependency := range dependencies {
		if dependency.MinVersion == "" {
			continue
		}
		if _, err := semver.NewVersion(dependency.MinVersion); err != nil {
			return fmt.Errorf("%w: dependency %q minVersion %q is not a semantic version: %w",
				ErrManifestInvalid, dependency.Name, dependency.MinVersion, err)
		}
	}
	return nil
}
