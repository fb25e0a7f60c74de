package serde

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

func encodeJSON(doc *Document) ([]byte, error) {
	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, errors.Wrap(err, "encoding document")
	}
	return b, nil
}

func ToJSON(doc *Document) ([]byte, error) {
	if err := Validate(doc); err != nil {
		return nil, err
	}
	return encodeJSON(doc)
}

// FromJSON validates raw bytes against the document schema before
// decoding them, so malformed input fails with a schema error rather
// than a partial unmarshal.
func FromJSON(b []byte) (*Document, error) {
	if err := validateJSON(b); err != nil {
		return nil, err
	}

	doc := &Document{}
	if err := json.Unmarshal(b, doc); err != nil {
		return nil, errors.Wrap(err, "decoding document")
	}
	if doc.Version != DocumentVersion {
		return nil, errors.Errorf("unsupported document version %d (expected %d)", doc.Version, DocumentVersion)
	}

	return doc, nil
}

func ToYAML(doc *Document) ([]byte, error) {
	if err := Validate(doc); err != nil {
		return nil, err
	}
	b, err := yaml.Marshal(doc)
	if err != nil {
		return nil, errors.Wrap(err, "encoding document")
	}
	return b, nil
}

// FromYAML decodes the YAML into a generic tree, re-encodes it as JSON
// and runs it through the same schema validation as FromJSON.
func FromYAML(b []byte) (*Document, error) {
	var raw interface{}
	if err := yaml.Unmarshal(b, &raw); err != nil {
		return nil, errors.Wrap(err, "decoding yaml document")
	}

	jsonBytes, err := json.Marshal(raw)
	if err != nil {
		return nil, errors.Wrap(err, "converting yaml document")
	}

	return FromJSON(jsonBytes)
}

// SaveFile writes the document to path, as YAML for .yaml/.yml and JSON
// otherwise.
func SaveFile(path string, doc *Document) error {
	var b []byte
	var err error
	if isYAMLPath(path) {
		b, err = ToYAML(doc)
	} else {
		b, err = ToJSON(doc)
	}
	if err != nil {
		return err
	}

	if err := os.WriteFile(path, b, 0644); err != nil {
		return errors.Wrapf(err, "writing document to %s", path)
	}
	return nil
}

// LoadFile reads a document from path, picking the format by extension.
func LoadFile(path string) (*Document, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading document from %s", path)
	}

	if isYAMLPath(path) {
		return FromYAML(b)
	}
	return FromJSON(b)
}

func isYAMLPath(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}
