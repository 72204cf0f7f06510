package manifest

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/cyberphone/json-canonicalization/go/src/webpki.org/jsoncanonicalizer"
)

// Canonical serializes the manifest into its canonical JSON form following
// RFC 8785: object keys sorted recursively at every nesting level, including
// objects inside arrays, canonical number and string encodings, and no
// insignificant whitespace. Serializing the same document twice always yields
// identical bytes; this is the byte form that gets hashed and signed.
func (m *Manifest) Canonical() ([]byte, error) {
	buffer := new(bytes.Buffer)
	encoder := json.NewEncoder(buffer)
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(m.doc); err != nil {
		return nil, fmt.Errorf("encoding manifest failed: %w", err)
	}

	data, err := jsoncanonicalizer.Transform(buffer.Bytes())
	if err != nil {
		return nil, fmt.Errorf("cannot canonicalize manifest: %w", err)
	}
	return data, nil
}
