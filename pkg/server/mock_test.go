package server

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/cwbridge/cwbridge/pkg/coordinator"
	"github.com/cwbridge/cwbridge/pkg/integration"
	"github.com/cwbridge/cwbridge/pkg/types"
)

type mockIntegration struct {
	mock.Mock
}

var _ Integration = (*mockIntegration)(nil)

func (m *mockIntegration) Location() *time.Location {
	return time.UTC
}

func (m *mockIntegration) Entries(ctx context.Context) ([]integration.EntryStatus, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]integration.EntryStatus), args.Error(1)
}

func (m *mockIntegration) Status(entryID string) (integration.EntryStatus, error) {
	args := m.Called(entryID)
	return args.Get(0).(integration.EntryStatus), args.Error(1)
}

func (m *mockIntegration) ResolveEntryID(entryID string) (string, error) {
	args := m.Called(entryID)
	return args.String(0), args.Error(1)
}

func (m *mockIntegration) Refresh(ctx context.Context, entryID string) (types.Response, error) {
	args := m.Called(ctx, entryID)
	return args.Get(0).(types.Response), args.Error(1)
}

func (m *mockIntegration) SetOptions(ctx context.Context, entryID string, opts types.Options) (types.ConfigEntry, error) {
	args := m.Called(ctx, entryID, opts)
	return args.Get(0).(types.ConfigEntry), args.Error(1)
}

func (m *mockIntegration) PushRank(ctx context.Context, entryID string) (coordinator.PushResult, error) {
	args := m.Called(ctx, entryID)
	return args.Get(0).(coordinator.PushResult), args.Error(1)
}

func (m *mockIntegration) UpdateHistory(ctx context.Context, entryID string, start, end time.Time) (coordinator.HistoryResult, error) {
	args := m.Called(ctx, entryID, start, end)
	return args.Get(0).(coordinator.HistoryResult), args.Error(1)
}

func (m *mockIntegration) RankPushes(ctx context.Context, entryID string, start, end time.Time) ([]types.RankPush, error) {
	args := m.Called(ctx, entryID, start, end)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]types.RankPush), args.Error(1)
}
