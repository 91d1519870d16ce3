package integration

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cwbridge/cwbridge/pkg/coordinator"
	"github.com/cwbridge/cwbridge/pkg/log"
	"github.com/cwbridge/cwbridge/pkg/types"
)

func (m *Manager) loadedCoordinator(entryID string) (*runtime, *coordinator.Coordinator, error) {
	rt, err := m.runtime(entryID)
	if err != nil {
		return nil, nil, err
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.state != StateLoaded {
		return nil, nil, fmt.Errorf("%w: %s", ErrEntryNotLoaded, entryID)
	}
	return rt, rt.coord, nil
}

// serviceFailed marks the entry for re-authentication when the service was
// rejected by the remote account.
func (m *Manager) serviceFailed(ctx context.Context, rt *runtime, err error) {
	if !errors.Is(err, coordinator.ErrInvalidAuth) {
		return
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()
	m.markReauth(ctx, rt)
}

// PushRank pushes today's revenue of the entry to the rank endpoint right
// away.
func (m *Manager) PushRank(ctx context.Context, entryID string) (coordinator.PushResult, error) {
	ctx = log.WithEntry(ctx, entryID)
	rt, coord, err := m.loadedCoordinator(entryID)
	if err != nil {
		return coordinator.PushResult{}, err
	}
	res, err := coord.PushRank(ctx, m.cfg.Now())
	if err != nil {
		m.serviceFailed(ctx, rt, err)
		return res, err
	}
	return res, nil
}

// UpdateHistory backfills the rank endpoint with the entry's daily revenue
// between start and end.
func (m *Manager) UpdateHistory(ctx context.Context, entryID string, start, end time.Time) (coordinator.HistoryResult, error) {
	ctx = log.WithEntry(ctx, entryID)
	rt, coord, err := m.loadedCoordinator(entryID)
	if err != nil {
		return coordinator.HistoryResult{}, err
	}
	res, err := coord.UpdateHistory(ctx, start, end)
	if err != nil {
		m.serviceFailed(ctx, rt, err)
		return res, err
	}
	return res, nil
}

// RankPushes returns the recorded rank push attempts of the entry.
func (m *Manager) RankPushes(ctx context.Context, entryID string, start, end time.Time) ([]types.RankPush, error) {
	return m.db.GetRankPushHistory(ctx, entryID, start, end)
}
