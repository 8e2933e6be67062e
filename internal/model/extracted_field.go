package model

import (
	"encoding/json"
	"time"
)

// ExtractedField is one structured value pulled out of a Document by the extraction subsystem.
// This package only reads them back for collaborators.
type ExtractedField struct {
	ID         string          `json:"id"`
	DocumentID string          `json:"document_id"`
	Name       string          `json:"name"`
	Value      json.RawMessage `json:"value"`
	Confidence float64         `json:"confidence"`
	Verified   bool            `json:"verified"`
	Provenance string          `json:"provenance,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}
