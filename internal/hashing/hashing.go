// Package hashing computes content fingerprints used as the deduplication key.
package hashing

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
)

// Size is the length of a fingerprint in hex characters.
const Size = sha256.Size * 2

// Error is returned when the byte stream could not be read to the end.
type Error struct {
	Err error
}

func (e *Error) Error() string { return fmt.Sprintf("fingerprint: %v", e.Err) }

func (e *Error) Unwrap() error { return e.Err }

// Fingerprint streams r through SHA-256 and returns the lowercase hex digest.
// It never returns a partial digest: any read error aborts with *Error.
func Fingerprint(r io.Reader) (string, int64, error) {
	h := sha256.New()
	n, err := io.Copy(h, r)
	if err != nil {
		return "", n, &Error{Err: err}
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// Valid reports whether s has the shape of a fingerprint.
func Valid(s string) bool {
	if len(s) != Size {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}
