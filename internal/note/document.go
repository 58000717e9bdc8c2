package note

import (
	"encoding/json"
	"fmt"
	"time"
)

// DocumentVersion is the current interchange format version.
const DocumentVersion = 1

// Document is the JSON interchange format produced by export and
// consumed by import. It is also the backup payload written by the
// file-based cloud provider. Timestamps serialize as RFC 3339 and enum
// values as lowercase strings via the model's JSON tags.
type Document struct {
	Version    int       `json:"version"`
	ExportedAt time.Time `json:"exported_at"`
	Notes      []*Note   `json:"notes"`
	Labels     []*Label  `json:"labels"`
}

// NewDocument builds a document from the given notes and labels.
func NewDocument(notes []*Note, labels []*Label) *Document {
	return &Document{
		Version:    DocumentVersion,
		ExportedAt: time.Now().UTC(),
		Notes:      notes,
		Labels:     labels,
	}
}

// Marshal renders the document as indented JSON.
func (d *Document) Marshal() ([]byte, error) {
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal document: %w", err)
	}
	return data, nil
}

// ParseDocument decodes an interchange document. It tolerates both the
// full document object and a bare array of note records, which is what
// older exports produced.
func ParseDocument(data []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err == nil && (doc.Notes != nil || doc.Labels != nil) {
		return &doc, nil
	}

	var notes []*Note
	if err := json.Unmarshal(data, &notes); err != nil {
		return nil, fmt.Errorf("unrecognized document format: %w", err)
	}
	return &Document{Version: DocumentVersion, Notes: notes}, nil
}
