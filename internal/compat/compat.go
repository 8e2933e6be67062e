// Package compat resolves the effective storage path and parse artifacts of a Document.
//
// Precedence per field: the linked PhysicalFile's value when it is set, otherwise the
// document's legacy inline value. Each field resolves on its own. This package is the only
// place allowed to read Document.Legacy* fields; delete it together with those columns once
// every document has been backfilled.
package compat

import (
	"encoding/json"

	"paperbase/internal/model"
)

// EffectiveFilePath returns the path the document's bytes live at, or nil.
func EffectiveFilePath(doc *model.Document) *string {
	if doc == nil {
		return nil
	}
	if pf := doc.PhysicalFile; pf != nil && pf.StoragePath != "" {
		p := pf.StoragePath
		return &p
	}
	return doc.LegacyFilePath
}

// EffectiveParseJobRef returns the parse job reference, or nil.
func EffectiveParseJobRef(doc *model.Document) *string {
	if doc == nil {
		return nil
	}
	if pf := doc.PhysicalFile; pf != nil && pf.ParseJobRef != nil {
		return pf.ParseJobRef
	}
	return doc.LegacyParseJobRef
}

// EffectiveParseResult returns the parse result tree, or nil.
func EffectiveParseResult(doc *model.Document) json.RawMessage {
	if doc == nil {
		return nil
	}
	if pf := doc.PhysicalFile; pf != nil && pf.HasParseResult() {
		return pf.ParseResult
	}
	if len(doc.LegacyParseResult) == 0 || string(doc.LegacyParseResult) == "null" {
		return nil
	}
	return doc.LegacyParseResult
}

// View is the read model handed to collaborators (search indexing, audit UI).
type View struct {
	*model.Document
	FilePath    *string                `json:"file_path"`
	ParseJobRef *string                `json:"parse_job_ref"`
	ParseResult json.RawMessage        `json:"parse_result"`
	Fingerprint string                 `json:"fingerprint,omitempty"`
	Fields      []model.ExtractedField `json:"fields,omitempty"`
}

// Resolve builds the View of doc.
func Resolve(doc *model.Document) View {
	v := View{
		Document:    doc,
		FilePath:    EffectiveFilePath(doc),
		ParseJobRef: EffectiveParseJobRef(doc),
		ParseResult: EffectiveParseResult(doc),
	}
	if doc != nil && doc.PhysicalFile != nil {
		v.Fingerprint = doc.PhysicalFile.Fingerprint
	}
	return v
}
