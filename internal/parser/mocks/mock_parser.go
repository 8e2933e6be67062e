package mocks

import (
	"context"
	"io"

	"paperbase/internal/parser"

	"github.com/stretchr/testify/mock"
)

type MockParser struct {
	mock.Mock
}

func (m *MockParser) Parse(ctx context.Context, r io.Reader, filename string) (parser.Result, error) {
	args := m.Called(ctx, r, filename)
	return args.Get(0).(parser.Result), args.Error(1)
}
