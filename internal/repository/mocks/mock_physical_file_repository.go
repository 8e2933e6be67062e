package mocks

import (
	"context"
	"encoding/json"
	"time"

	"paperbase/internal/model"

	"github.com/stretchr/testify/mock"
)

type MockPhysicalFileRepository struct {
	mock.Mock
}

func (m *MockPhysicalFileRepository) FindByFingerprint(ctx context.Context, fp string) (*model.PhysicalFile, error) {
	args := m.Called(ctx, fp)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.PhysicalFile), args.Error(1)
}

func (m *MockPhysicalFileRepository) FindByID(ctx context.Context, id string) (*model.PhysicalFile, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.PhysicalFile), args.Error(1)
}

func (m *MockPhysicalFileRepository) LockByID(ctx context.Context, id string) (*model.PhysicalFile, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.PhysicalFile), args.Error(1)
}

func (m *MockPhysicalFileRepository) Insert(ctx context.Context, pf *model.PhysicalFile) (*model.PhysicalFile, error) {
	args := m.Called(ctx, pf)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.PhysicalFile), args.Error(1)
}

func (m *MockPhysicalFileRepository) AttachParseResult(ctx context.Context, id, jobRef string, result json.RawMessage) (bool, error) {
	args := m.Called(ctx, id, jobRef, result)
	return args.Bool(0), args.Error(1)
}

func (m *MockPhysicalFileRepository) RecordParseFailure(ctx context.Context, id, message string) error {
	args := m.Called(ctx, id, message)
	return args.Error(0)
}

func (m *MockPhysicalFileRepository) ClaimParse(ctx context.Context, id string, staleBefore time.Time) (bool, error) {
	args := m.Called(ctx, id, staleBefore)
	return args.Bool(0), args.Error(1)
}

func (m *MockPhysicalFileRepository) UpdateStoragePath(ctx context.Context, id, path string) error {
	args := m.Called(ctx, id, path)
	return args.Error(0)
}

func (m *MockPhysicalFileRepository) CountReferences(ctx context.Context, id string) (int, error) {
	args := m.Called(ctx, id)
	return args.Int(0), args.Error(1)
}
