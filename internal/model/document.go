package model

import (
	"encoding/json"
	"time"
)

// DocumentStatus is the processing state of a Document.
type DocumentStatus string

const (
	// StatusPending means the linked PhysicalFile has no parse result yet.
	StatusPending DocumentStatus = "pending"
	// StatusParsed means an effective parse result is available.
	StatusParsed DocumentStatus = "parsed"
	// StatusError means parsing or storing the content failed.
	StatusError DocumentStatus = "error"
)

// Document is a logical record: one uploaded file in one processing context.
// Many Documents may reference the same PhysicalFile.
//
// The Legacy* fields are only populated for records created before documents were linked
// to physical files. Read them through the compat package, never directly.
type Document struct {
	ID             string         `json:"id"`
	PhysicalFileID *string        `json:"physical_file_id,omitempty"`
	Filename       string         `json:"filename"`
	Status         DocumentStatus `json:"status"`
	Template       string         `json:"template,omitempty"`
	Category       string         `json:"category,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`

	LegacyFilePath    *string         `json:"-"`
	LegacyParseJobRef *string         `json:"-"`
	LegacyParseResult json.RawMessage `json:"-"`

	// PhysicalFile is the joined row referenced by PhysicalFileID, when loaded.
	PhysicalFile *PhysicalFile `json:"-"`
}

// IsLinked reports whether the document references a PhysicalFile.
func (d *Document) IsLinked() bool {
	return d.PhysicalFileID != nil && *d.PhysicalFileID != ""
}
