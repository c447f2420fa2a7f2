package ingest

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/roomscout/ingest-cli/pkg/roomscout"
)

// --- RoomScout Client Mock ---

type mockClient struct {
	mock.Mock
}

func (m *mockClient) Classify(ctx context.Context, message string) (*roomscout.ClassifyResult, error) {
	args := m.Called(ctx, message)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*roomscout.ClassifyResult), args.Error(1)
}

func (m *mockClient) Extract(ctx context.Context, message string, useChainOfThought bool) (*roomscout.ExtractResult, error) {
	args := m.Called(ctx, message, useChainOfThought)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*roomscout.ExtractResult), args.Error(1)
}

func (m *mockClient) HealthCheck(ctx context.Context) (*roomscout.HealthStatus, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*roomscout.HealthStatus), args.Error(1)
}

func (m *mockClient) CachedHealth() (roomscout.HealthStatus, bool) {
	args := m.Called()
	return args.Get(0).(roomscout.HealthStatus), args.Bool(1)
}

func (m *mockClient) Stats() roomscout.CallStats {
	args := m.Called()
	return args.Get(0).(roomscout.CallStats)
}

func (m *mockClient) expectHealthy() {
	m.On("CachedHealth").Return(roomscout.HealthStatus{}, false).Maybe()
	m.On("HealthCheck", mock.Anything).
		Return(&roomscout.HealthStatus{Healthy: true, Status: "OK"}, nil)
}
