// Package repository contains data access layer abstractions.
// Implementations live in subpackages (postgres, memory) and contain no business logic.
package repository

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDuplicateFingerprint is returned by PhysicalFileRepository.Insert when a canonical
	// row with the same fingerprint already exists.
	ErrDuplicateFingerprint = errors.New("duplicate fingerprint")
)

// Store groups the repositories that share one connection or transaction.
type Store interface {
	PhysicalFiles() PhysicalFileRepository
	Documents() DocumentRepository

	// WithTx runs fn inside a single transaction. The Store handed to fn is bound to it;
	// the transaction commits when fn returns nil and rolls back otherwise.
	WithTx(ctx context.Context, fn func(tx Store) error) error
}

// PageQuery holds limit/offset pagination parameters.
type PageQuery struct {
	Limit  int
	Offset int
}

// PageResult is a generic pagination result wrapper.
// T is typically a model type.
type PageResult[T any] struct {
	Items []T
	Total int
}
