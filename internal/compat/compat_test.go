package compat

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"

	"paperbase/internal/model"
)

func strPtr(s string) *string { return &s }

func TestEffectiveResolution(t *testing.T) {
	tests := []struct {
		name       string
		doc        *model.Document
		wantPath   *string
		wantJobRef *string
		wantResult json.RawMessage
	}{
		{
			name: "nil document",
		},
		{
			name: "legacy only",
			doc: &model.Document{
				LegacyFilePath:    strPtr("legacy/a.pdf"),
				LegacyParseJobRef: strPtr("job-legacy"),
				LegacyParseResult: json.RawMessage(`{"v":"legacy"}`),
			},
			wantPath:   strPtr("legacy/a.pdf"),
			wantJobRef: strPtr("job-legacy"),
			wantResult: json.RawMessage(`{"v":"legacy"}`),
		},
		{
			name: "linked file wins over stale legacy values",
			doc: &model.Document{
				LegacyFilePath:    strPtr("legacy/a.pdf"),
				LegacyParseJobRef: strPtr("job-legacy"),
				LegacyParseResult: json.RawMessage(`{"v":"stale"}`),
				PhysicalFile: &model.PhysicalFile{
					StoragePath: "files/ab/abcd",
					ParseJobRef: strPtr("job-1"),
					ParseResult: json.RawMessage(`{"v":"cached"}`),
				},
			},
			wantPath:   strPtr("files/ab/abcd"),
			wantJobRef: strPtr("job-1"),
			wantResult: json.RawMessage(`{"v":"cached"}`),
		},
		{
			name: "fields resolve independently",
			doc: &model.Document{
				LegacyFilePath:    strPtr("legacy/a.pdf"),
				LegacyParseJobRef: strPtr("job-legacy"),
				LegacyParseResult: json.RawMessage(`{"v":"legacy"}`),
				PhysicalFile: &model.PhysicalFile{
					StoragePath: "files/ab/abcd",
				},
			},
			wantPath:   strPtr("files/ab/abcd"),
			wantJobRef: strPtr("job-legacy"),
			wantResult: json.RawMessage(`{"v":"legacy"}`),
		},
		{
			name: "json null counts as missing",
			doc: &model.Document{
				LegacyParseResult: json.RawMessage(`null`),
				PhysicalFile:      &model.PhysicalFile{ParseResult: json.RawMessage(`null`)},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantPath, EffectiveFilePath(tt.doc))
			assert.Equal(t, tt.wantJobRef, EffectiveParseJobRef(tt.doc))
			assert.Equal(t, tt.wantResult, EffectiveParseResult(tt.doc))
		})
	}
}

func TestResolveDoesNotMutate(t *testing.T) {
	doc := &model.Document{
		ID:                "doc-1",
		LegacyParseResult: json.RawMessage(`{"v":"stale"}`),
		PhysicalFile: &model.PhysicalFile{
			Fingerprint: "ff",
			StoragePath: "files/ff/ff",
			ParseResult: json.RawMessage(`{"v":"cached"}`),
		},
	}

	v := Resolve(doc)

	assert.Equal(t, "ff", v.Fingerprint)
	assert.JSONEq(t, `{"v":"cached"}`, string(v.ParseResult))
	assert.JSONEq(t, `{"v":"stale"}`, string(doc.LegacyParseResult))
	assert.Equal(t, "files/ff/ff", *v.FilePath)
}
