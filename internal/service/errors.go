package service

import (
	"errors"
	"fmt"
)

var (
	ErrIDRequired         = errors.New("id is required")
	ErrNotFound           = errors.New("document not found")
	ErrNoFiles            = errors.New("batch contains no files")
	ErrCategoryRequired   = errors.New("category is required")
	ErrInvalidCategory    = errors.New("category must be a single path segment")
	ErrDocumentNotLinked  = errors.New("document is not linked to a physical file")
	ErrParsePending       = errors.New("shared physical file is still being parsed")
	ErrReorganizeConflict = errors.New("document was reorganized concurrently")
	ErrNoContent          = errors.New("document has no stored content")
	ErrInvalidFingerprint = errors.New("malformed content fingerprint")
)

// ReorganizationIOError reports a failed storage copy or move during reorganization. The
// document's physical file reference is unchanged when it is returned, so the call can be retried.
type ReorganizationIOError struct {
	DocumentID string
	Op         string
	From       string
	To         string
	Err        error
}

func (e *ReorganizationIOError) Error() string {
	return fmt.Sprintf("reorganize document %s: %s %s -> %s: %v", e.DocumentID, e.Op, e.From, e.To, e.Err)
}

func (e *ReorganizationIOError) Unwrap() error { return e.Err }
