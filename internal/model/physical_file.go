package model

import (
	"encoding/json"
	"time"
)

// PhysicalFile is a stored, content-addressed byte sequence plus its cached parse artifact.
//
// Canonical rows are the dedup targets: at most one canonical row exists per fingerprint.
// Non-canonical rows are copies created when a shared file had to be relocated for one
// document; they keep the fingerprint and cached result of the row they were copied from.
type PhysicalFile struct {
	ID               string          `json:"id"`
	Fingerprint      string          `json:"fingerprint"`
	StoragePath      string          `json:"storage_path"`
	OriginalFilename string          `json:"original_filename"`
	Size             int64           `json:"size"`
	ContentType      string          `json:"content_type"`
	Canonical        bool            `json:"canonical"`
	ParseJobRef      *string         `json:"parse_job_ref,omitempty"`
	ParseResult      json.RawMessage `json:"parse_result,omitempty"`
	ParseError       *string         `json:"parse_error,omitempty"`
	ParseAttemptedAt *time.Time      `json:"parse_attempted_at,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
}

// HasParseResult reports whether a parse result has been attached.
func (p *PhysicalFile) HasParseResult() bool {
	return len(p.ParseResult) > 0 && string(p.ParseResult) != "null"
}

// ParseFailed reports whether the last parse attempt failed and no result is attached.
func (p *PhysicalFile) ParseFailed() bool {
	return !p.HasParseResult() && p.ParseError != nil
}
