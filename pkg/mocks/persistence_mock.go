package mocks

import (
	"context"

	"github.com/dukex/hierarchy-killer/pkg/persistence"
	"github.com/stretchr/testify/mock"
)

// MockLedger is a mock implementation of persistence.Ledger interface.
type MockLedger struct {
	mock.Mock
}

func (m *MockLedger) Record(ctx context.Context, entry *persistence.Entry) error {
	args := m.Called(ctx, entry)

	return args.Error(0)
}

func (m *MockLedger) Entry(ctx context.Context, id string) (*persistence.Entry, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*persistence.Entry), args.Error(1)
}

func (m *MockLedger) Entries(ctx context.Context, opts persistence.ListOptions) ([]*persistence.Entry, error) {
	args := m.Called(ctx, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*persistence.Entry), args.Error(1)
}

func (m *MockLedger) HealthCheck(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}

func (m *MockLedger) Close(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}
