package serde

// Package serde serializes conversation state to a versioned document and
// restores it. The document carries the raw store contents (messages and
// branch contexts) plus optional presentation state the core tolerates
// but does not interpret. Incoming documents are validated against a
// reflected JSON schema before any store is touched.

import (
	"github.com/pkg/errors"

	"github.com/casualhermit27/branched-sub001/pkg/conversation"
	"github.com/casualhermit27/branched-sub001/pkg/layout"
)

// DocumentVersion is the current document format version. Documents with
// any other version are rejected on import.
const DocumentVersion = 1

// NodePresentation carries per-node presentation state (canvas position,
// minimized flag). It travels with the document so a restored session
// looks the way it was left, but nothing in the core reads it.
type NodePresentation struct {
	ID        conversation.BranchID `json:"id" yaml:"id"`
	Position  *layout.Point         `json:"position,omitempty" yaml:"position,omitempty"`
	Minimized bool                  `json:"minimized,omitempty" yaml:"minimized,omitempty"`
}

// Document is the export/import format for a whole conversation session.
type Document struct {
	Version      int                           `json:"version" yaml:"version" jsonschema:"minimum=1"`
	SessionID    string                        `json:"sessionID,omitempty" yaml:"sessionID,omitempty"`
	Messages     []*conversation.Message       `json:"messages" yaml:"messages"`
	Branches     []*conversation.BranchContext `json:"branches" yaml:"branches"`
	Presentation []NodePresentation            `json:"presentation,omitempty" yaml:"presentation,omitempty"`
}

type ExportOption func(*Document)

func WithSessionID(sessionID string) ExportOption {
	return func(doc *Document) {
		doc.SessionID = sessionID
	}
}

func WithPresentation(presentation []NodePresentation) ExportOption {
	return func(doc *Document) {
		doc.Presentation = presentation
	}
}

// Export snapshots both stores into a document. The stores return clones,
// so the document is detached from live state. A closed store exports a
// nil slice, which Validate rejects rather than writing an empty document
// silently.
func Export(messages *conversation.MessageStore, branches *conversation.BranchStore, options ...ExportOption) *Document {
	doc := &Document{
		Version:  DocumentVersion,
		Messages: messages.Export(),
		Branches: branches.Export(),
	}

	for _, option := range options {
		option(doc)
	}

	return doc
}

// Apply validates the document and merges its contents into the given
// stores. Validation failures leave the stores untouched. References
// that do not resolve after the merge are not an error here; read paths
// degrade silently.
func Apply(doc *Document, messages *conversation.MessageStore, branches *conversation.BranchStore) error {
	if err := Validate(doc); err != nil {
		return err
	}

	if err := messages.Import(doc.Messages); err != nil {
		return errors.Wrap(err, "importing messages")
	}
	if err := branches.Import(doc.Branches); err != nil {
		return errors.Wrap(err, "importing branches")
	}

	return nil
}

// Validate checks the document against the reflected schema and the
// supported version. It is called on both export and import so a
// hand-built document fails at save time, not at the next load.
func Validate(doc *Document) error {
	if doc == nil {
		return errors.New("nil document")
	}

	b, err := encodeJSON(doc)
	if err != nil {
		return err
	}
	if err := validateJSON(b); err != nil {
		return err
	}

	if doc.Version != DocumentVersion {
		return errors.Errorf("unsupported document version %d (expected %d)", doc.Version, DocumentVersion)
	}

	return nil
}
