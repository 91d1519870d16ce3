package storagemock

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/cwbridge/cwbridge/pkg/storage"
	"github.com/cwbridge/cwbridge/pkg/types"
)

type MockDatabase struct {
	mock.Mock
}

var _ storage.Database = (*MockDatabase)(nil)

func (m *MockDatabase) ListEntries(ctx context.Context) ([]types.ConfigEntry, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]types.ConfigEntry), args.Error(1)
}

func (m *MockDatabase) GetEntry(ctx context.Context, entryID string) (types.ConfigEntry, int, error) {
	args := m.Called(ctx, entryID)
	return args.Get(0).(types.ConfigEntry), args.Int(1), args.Error(2)
}

func (m *MockDatabase) SetEntry(ctx context.Context, entry types.ConfigEntry, version int) error {
	args := m.Called(ctx, entry, version)
	return args.Error(0)
}

func (m *MockDatabase) GetEntryState(ctx context.Context, entryID string) (*types.EntryState, error) {
	args := m.Called(ctx, entryID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.EntryState), args.Error(1)
}

func (m *MockDatabase) SetEntryState(ctx context.Context, entryID string, state types.EntryState) error {
	args := m.Called(ctx, entryID, state)
	return args.Error(0)
}

func (m *MockDatabase) InsertRankPush(ctx context.Context, entryID string, push types.RankPush) error {
	args := m.Called(ctx, entryID, push)
	return args.Error(0)
}

func (m *MockDatabase) GetRankPushHistory(ctx context.Context, entryID string, start, end time.Time) ([]types.RankPush, error) {
	args := m.Called(ctx, entryID, start, end)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]types.RankPush), args.Error(1)
}

func (m *MockDatabase) Close() error {
	args := m.Called()
	return args.Error(0)
}
