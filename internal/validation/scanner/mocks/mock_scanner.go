package mocks

import (
	"context"

	"docgate/internal/validation/scanner"

	"github.com/stretchr/testify/mock"
)

type MockScanner struct {
	mock.Mock
}

func (m *MockScanner) Scan(ctx context.Context, data []byte) scanner.Verdict {
	args := m.Called(ctx, data)
	return args.Get(0).(scanner.Verdict)
}
