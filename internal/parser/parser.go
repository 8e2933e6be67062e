// Package parser is the client side of the external parsing/extraction service. The service is
// opaque: it receives file bytes and returns a job reference and a structured result tree that is
// stored and served verbatim.
package parser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// ErrParseFailed classifies every failed parse call: transport errors, timeouts, non-2xx
// responses, undecodable or empty results and open-breaker rejections.
var ErrParseFailed = errors.New("parse failed")

// Result is what a successful parse produces.
type Result struct {
	JobRef string
	Tree   json.RawMessage
}

// Parser turns file bytes into a structured result.
type Parser interface {
	Parse(ctx context.Context, r io.Reader, filename string) (Result, error)
}

// Func adapts a function to Parser.
type Func func(ctx context.Context, r io.Reader, filename string) (Result, error)

func (f Func) Parse(ctx context.Context, r io.Reader, filename string) (Result, error) {
	return f(ctx, r, filename)
}

// Error reports a failed parse of one file. It matches ErrParseFailed as well as its cause.
type Error struct {
	Filename string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("parse %s: %v", e.Filename, e.Err)
}

func (e *Error) Unwrap() []error {
	return []error{ErrParseFailed, e.Err}
}
