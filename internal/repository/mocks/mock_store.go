package mocks

import (
	"context"

	"paperbase/internal/repository"
)

// MockStore wires the repository mocks into a repository.Store. WithTx runs fn against the
// same mocks and returns its error.
type MockStore struct {
	Files *MockPhysicalFileRepository
	Docs  *MockDocumentRepository
}

// NewMockStore returns a MockStore with fresh repository mocks.
func NewMockStore() *MockStore {
	return &MockStore{
		Files: &MockPhysicalFileRepository{},
		Docs:  &MockDocumentRepository{},
	}
}

func (m *MockStore) PhysicalFiles() repository.PhysicalFileRepository { return m.Files }

func (m *MockStore) Documents() repository.DocumentRepository { return m.Docs }

func (m *MockStore) WithTx(ctx context.Context, fn func(tx repository.Store) error) error {
	return fn(m)
}
