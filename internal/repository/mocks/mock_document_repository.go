package mocks

import (
	"context"

	"paperbase/internal/model"
	"paperbase/internal/repository"

	"github.com/stretchr/testify/mock"
)

type MockDocumentRepository struct {
	mock.Mock
}

func (m *MockDocumentRepository) Create(ctx context.Context, doc *model.Document) (*model.Document, error) {
	args := m.Called(ctx, doc)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Document), args.Error(1)
}

func (m *MockDocumentRepository) FindByID(ctx context.Context, id string) (*model.Document, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Document), args.Error(1)
}

func (m *MockDocumentRepository) LockByID(ctx context.Context, id string) (*model.Document, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Document), args.Error(1)
}

func (m *MockDocumentRepository) CountUnlinkedByLegacyPath(ctx context.Context, path string) (int, error) {
	args := m.Called(ctx, path)
	return args.Int(0), args.Error(1)
}

func (m *MockDocumentRepository) List(ctx context.Context, pq repository.PageQuery) (*repository.PageResult[model.Document], error) {
	args := m.Called(ctx, pq)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*repository.PageResult[model.Document]), args.Error(1)
}

func (m *MockDocumentRepository) ListUnlinked(ctx context.Context, afterID string, limit int) ([]model.Document, error) {
	args := m.Called(ctx, afterID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Document), args.Error(1)
}

func (m *MockDocumentRepository) LinkPhysicalFile(ctx context.Context, docID, physicalFileID string) (bool, error) {
	args := m.Called(ctx, docID, physicalFileID)
	return args.Bool(0), args.Error(1)
}

func (m *MockDocumentRepository) Repoint(ctx context.Context, docID, physicalFileID, category string) error {
	args := m.Called(ctx, docID, physicalFileID, category)
	return args.Error(0)
}

func (m *MockDocumentRepository) UpdateCategory(ctx context.Context, docID, category string) error {
	args := m.Called(ctx, docID, category)
	return args.Error(0)
}

func (m *MockDocumentRepository) SetStatusByPhysicalFile(ctx context.Context, physicalFileID string, status model.DocumentStatus) (int, error) {
	args := m.Called(ctx, physicalFileID, status)
	return args.Int(0), args.Error(1)
}

func (m *MockDocumentRepository) ListFields(ctx context.Context, docID string) ([]model.ExtractedField, error) {
	args := m.Called(ctx, docID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.ExtractedField), args.Error(1)
}

func (m *MockDocumentRepository) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}
