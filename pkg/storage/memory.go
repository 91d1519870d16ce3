package storage

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/cwbridge/cwbridge/pkg/types"
)

type memoryEntry struct {
	entry   types.ConfigEntry
	version int
	state   *types.EntryState
	pushes  []types.RankPush
}

// MemoryProvider keeps everything in process memory. It is meant for a single
// local account and for tests; nothing survives a restart.
type MemoryProvider struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
}

// NewMemory returns an empty MemoryProvider.
func NewMemory() *MemoryProvider {
	return &MemoryProvider{entries: make(map[string]*memoryEntry)}
}

func (m *MemoryProvider) get(entryID string) (*memoryEntry, error) {
	if entryID == "" {
		return nil, ErrEmptyEntryID
	}
	e, ok := m.entries[entryID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrEntryNotFound, entryID)
	}
	return e, nil
}

// ListEntries implements Database. Entries are sorted by ID.
func (m *MemoryProvider) ListEntries(ctx context.Context) ([]types.ConfigEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entries := make([]types.ConfigEntry, 0, len(m.entries))
	for _, e := range m.entries {
		entries = append(entries, e.entry)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })
	return entries, nil
}

// GetEntry implements Database.
func (m *MemoryProvider) GetEntry(ctx context.Context, entryID string) (types.ConfigEntry, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, err := m.get(entryID)
	if err != nil {
		return types.ConfigEntry{}, 0, err
	}
	return e.entry, e.version, nil
}

// SetEntry implements Database.
func (m *MemoryProvider) SetEntry(ctx context.Context, entry types.ConfigEntry, version int) error {
	if entry.ID == "" {
		return ErrEmptyEntryID
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[entry.ID]
	if !ok {
		e = &memoryEntry{}
		m.entries[entry.ID] = e
	}
	e.entry = entry
	e.version = version
	return nil
}

// GetEntryState implements Database.
func (m *MemoryProvider) GetEntryState(ctx context.Context, entryID string) (*types.EntryState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, err := m.get(entryID)
	if err != nil {
		return nil, err
	}
	if e.state == nil {
		return nil, nil
	}
	s := *e.state
	return &s, nil
}

// SetEntryState implements Database.
func (m *MemoryProvider) SetEntryState(ctx context.Context, entryID string, state types.EntryState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, err := m.get(entryID)
	if err != nil {
		return err
	}
	e.state = &state
	return nil
}

// InsertRankPush implements Database.
func (m *MemoryProvider) InsertRankPush(ctx context.Context, entryID string, push types.RankPush) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, err := m.get(entryID)
	if err != nil {
		return err
	}
	i, _ := slices.BinarySearchFunc(e.pushes, push.Timestamp, func(p types.RankPush, t time.Time) int {
		return p.Timestamp.Compare(t)
	})
	e.pushes = slices.Insert(e.pushes, i, push)
	return nil
}

// GetRankPushHistory implements Database.
func (m *MemoryProvider) GetRankPushHistory(ctx context.Context, entryID string, start, end time.Time) ([]types.RankPush, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, err := m.get(entryID)
	if err != nil {
		return nil, err
	}
	var pushes []types.RankPush
	for _, p := range e.pushes {
		if !p.Timestamp.Before(start) && p.Timestamp.Before(end) {
			pushes = append(pushes, p)
		}
	}
	return pushes, nil
}

// Close implements Database.
func (m *MemoryProvider) Close() error {
	return nil
}
