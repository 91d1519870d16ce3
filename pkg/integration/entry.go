package integration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/cwbridge/cwbridge/pkg/coordinator"
	"github.com/cwbridge/cwbridge/pkg/entity"
	"github.com/cwbridge/cwbridge/pkg/log"
	"github.com/cwbridge/cwbridge/pkg/storage"
	"github.com/cwbridge/cwbridge/pkg/types"
)

// runtime is the live part of one config entry. mu serializes setup, refresh
// and unload of the entry.
type runtime struct {
	id    string
	jobID cron.EntryID

	mu          sync.Mutex
	state       string
	entry       types.ConfigEntry
	coord       *coordinator.Coordinator
	coordState  coordinator.State
	resp        *types.Response
	lastRefresh time.Time
	lastErr     error
	available   bool
	announced   bool
	sensors     []entity.Sensor
	event       *entity.FCRDEvent
	disconnect  func()
}

func (rt *runtime) currentState() string {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.state
}

// EntryStatus is a snapshot of an entry for the API.
type EntryStatus struct {
	ID          string         `json:"id"`
	Title       string         `json:"title"`
	Username    string         `json:"username"`
	State       string         `json:"state"`
	Options     types.Options  `json:"options"`
	LastRefresh time.Time      `json:"lastRefresh,omitzero"`
	LastError   string         `json:"lastError,omitempty"`
	Data        map[string]any `json:"data,omitempty"`
}

func (rt *runtime) status() EntryStatus {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	s := EntryStatus{
		ID:          rt.id,
		Title:       rt.entry.Title,
		Username:    rt.entry.Username,
		State:       rt.state,
		Options:     rt.entry.Options,
		LastRefresh: rt.lastRefresh,
	}
	if rt.lastErr != nil {
		s.LastError = rt.lastErr.Error()
	}
	if rt.resp != nil {
		s.Data = rt.resp.Fields()
	}
	return s
}

// Setup loads the entry, runs the first refresh and exposes its entities. A
// failed first refresh aborts the setup and the entry is retried on the next
// tick, unless the credentials were rejected.
func (m *Manager) Setup(ctx context.Context, entryID string) error {
	ctx = log.WithEntry(ctx, entryID)
	rt, err := m.runtimeFor(entryID)
	if err != nil {
		return err
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()

	if rt.state == StateLoaded {
		return nil
	}

	entry, err := m.getEntryWithMigration(ctx, entryID)
	if err != nil {
		rt.lastErr = err
		return err
	}
	rt.entry = entry
	if entry.Disabled {
		rt.state = StateDisabled
		log.Ctx(ctx).InfoContext(ctx, "entry disabled, skipping setup")
		return nil
	}
	if entry.ReauthRequired {
		rt.state = StateReauthRequired
		return coordinator.ErrInvalidAuth
	}

	creds, err := m.decrypter.DecryptCredentials(ctx, entry.EncryptedCredentials)
	if err != nil {
		rt.state = StateNotLoaded
		rt.lastErr = err
		return fmt.Errorf("failed to decrypt credentials: %w", err)
	}

	persisted, err := m.db.GetEntryState(ctx, entryID)
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to load entry state", slog.Any("error", err))
		persisted = nil
	}
	st := coordinator.NewState(persisted)
	if persisted == nil {
		if err := m.db.SetEntryState(ctx, entryID, st.Persisted()); err != nil {
			log.Ctx(ctx).WarnContext(ctx, "failed to save entry state", slog.Any("error", err))
		}
	}

	coord := coordinator.New(creds, m.client, m.pusher, m.dispatcher, coordinator.Config{
		Options:          entry.Options,
		MonetaryInterval: m.cfg.MonetaryInterval,
		RankHour:         m.cfg.RankHour,
		Location:         m.cfg.Location,
		OnRankPush:       m.recordRankPush(entryID),
	})

	now := m.cfg.Now()
	resp, newSt, err := coord.Refresh(ctx, st, now)
	rt.lastRefresh = now
	if err != nil {
		rt.lastErr = err
		if errors.Is(err, coordinator.ErrInvalidAuth) {
			m.markReauth(ctx, rt)
			return err
		}
		rt.state = StateSetupRetry
		return fmt.Errorf("first refresh failed: %w", err)
	}
	rt.lastErr = nil

	sensors, ev := entity.Build(resp, entry.Options)
	rt.coord = coord
	rt.sensors = sensors
	rt.event = ev
	rt.disconnect = m.dispatcher.Connect(coordinator.SignalName(resp.ID), func(ctx context.Context, payload types.SignalPayload) error {
		eventType, ok := ev.HandleSignal(payload)
		if !ok {
			log.Ctx(ctx).DebugContext(ctx, "ignoring signal", slog.String("signal", payload.Signal), slog.String("state", payload.Data.NewFCRD.State))
			return nil
		}
		return m.surface.FireEvent(ctx, entryID, ev, eventType)
	})
	rt.state = StateLoaded

	m.applyRefresh(ctx, rt, st, resp, newSt)

	if eventType, ok := ev.BootEvent(resp); ok {
		if err := m.surface.FireEvent(ctx, entryID, ev, eventType); err != nil {
			log.Ctx(ctx).WarnContext(ctx, "failed to fire boot event", slog.Any("error", err))
		}
	}

	log.Ctx(ctx).InfoContext(ctx, "entry set up", slog.Int("sensors", len(sensors)))
	return nil
}

// applyRefresh stores a successful refresh, publishes it and persists the
// rank push bookkeeping when it changed. rt.mu must be held.
func (m *Manager) applyRefresh(ctx context.Context, rt *runtime, prev coordinator.State, resp types.Response, st coordinator.State) {
	rt.coordState = st
	rt.resp = &resp
	m.announce(ctx, rt)
	m.setAvailable(ctx, rt, true)
	if err := m.surface.PublishState(ctx, rt.id, resp, rt.sensors); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to publish state", slog.Any("error", err))
	}
	if !st.LastRankPush.Equal(prev.LastRankPush) || st.RankOffset != prev.RankOffset {
		if err := m.db.SetEntryState(ctx, rt.id, st.Persisted()); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to save entry state", slog.Any("error", err))
		}
	}
}

// announce publishes discovery until it succeeds once per setup. rt.mu must
// be held.
func (m *Manager) announce(ctx context.Context, rt *runtime) {
	if rt.announced {
		return
	}
	if err := m.surface.Announce(ctx, rt.id, rt.sensors, rt.event); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to announce entities", slog.Any("error", err))
		return
	}
	rt.announced = true
}

// setAvailable publishes availability on change. rt.mu must be held.
func (m *Manager) setAvailable(ctx context.Context, rt *runtime, available bool) {
	if rt.available == available {
		return
	}
	if err := m.surface.PublishAvailability(ctx, rt.id, available); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to publish availability", slog.Any("error", err))
		return
	}
	rt.available = available
}

// markReauth flags the entry so it is not set up again until the user
// provides new credentials. rt.mu must be held.
func (m *Manager) markReauth(ctx context.Context, rt *runtime) {
	m.teardown(ctx, rt)
	rt.state = StateReauthRequired
	rt.entry.ReauthRequired = true
	if err := m.db.SetEntry(ctx, rt.entry, types.CurrentEntryVersion); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to save entry", slog.Any("error", err))
	}
	log.Ctx(ctx).WarnContext(ctx, "entry requires re-authentication")
}

// teardown releases everything Setup created. rt.mu must be held.
func (m *Manager) teardown(ctx context.Context, rt *runtime) {
	if rt.disconnect != nil {
		rt.disconnect()
		rt.disconnect = nil
	}
	m.setAvailable(ctx, rt, false)
	rt.coord = nil
	rt.announced = false
	rt.sensors = nil
	rt.event = nil
	rt.state = StateNotLoaded
}

func (m *Manager) refresh(ctx context.Context, rt *runtime) (types.Response, error) {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if rt.state != StateLoaded {
		return types.Response{}, fmt.Errorf("%w: %s", ErrEntryNotLoaded, rt.id)
	}

	now := m.cfg.Now()
	prev := rt.coordState
	resp, st, err := rt.coord.Refresh(ctx, prev, now)
	rt.lastRefresh = now
	if err != nil {
		rt.lastErr = err
		if errors.Is(err, coordinator.ErrInvalidAuth) {
			m.markReauth(ctx, rt)
		} else {
			m.setAvailable(ctx, rt, false)
		}
		return types.Response{}, err
	}
	rt.lastErr = nil
	m.applyRefresh(ctx, rt, prev, resp, st)
	return resp, nil
}

// Refresh runs a refresh of a loaded entry outside of the schedule.
func (m *Manager) Refresh(ctx context.Context, entryID string) (types.Response, error) {
	rt, err := m.runtime(entryID)
	if err != nil {
		return types.Response{}, err
	}
	return m.refresh(log.WithEntry(ctx, entryID), rt)
}

// Unload removes the entities of an entry from the schedule. The entry stays
// known and can be set up again.
func (m *Manager) Unload(ctx context.Context, entryID string) error {
	rt, err := m.runtime(entryID)
	if err != nil {
		return err
	}
	ctx = log.WithEntry(ctx, entryID)

	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.state == StateReauthRequired || rt.state == StateDisabled {
		return nil
	}
	m.teardown(ctx, rt)
	log.Ctx(ctx).InfoContext(ctx, "entry unloaded")
	return nil
}

// Reload unloads and sets up the entry again, picking up changed options.
func (m *Manager) Reload(ctx context.Context, entryID string) error {
	if err := m.Unload(ctx, entryID); err != nil && !errors.Is(err, storage.ErrEntryNotFound) {
		return err
	}
	return m.Setup(ctx, entryID)
}

// SetOptions saves new options for an entry and reloads it.
func (m *Manager) SetOptions(ctx context.Context, entryID string, opts types.Options) (types.ConfigEntry, error) {
	ctx = log.WithEntry(ctx, entryID)
	entry, err := m.getEntryWithMigration(ctx, entryID)
	if err != nil {
		return types.ConfigEntry{}, err
	}
	opts.RankName = strings.TrimSpace(opts.RankName)
	entry.Options = opts
	if err := m.db.SetEntry(ctx, entry, types.CurrentEntryVersion); err != nil {
		return types.ConfigEntry{}, fmt.Errorf("failed to save entry: %w", err)
	}
	log.Ctx(ctx).InfoContext(ctx, "entry options updated, reloading")
	if err := m.Reload(ctx, entryID); err != nil {
		return entry, fmt.Errorf("options saved but reload failed: %w", err)
	}
	return entry, nil
}

// Entries returns the status of every stored entry.
func (m *Manager) Entries(ctx context.Context) ([]EntryStatus, error) {
	entries, err := m.db.ListEntries(ctx)
	if err != nil {
		return nil, err
	}
	statuses := make([]EntryStatus, 0, len(entries))
	for _, e := range entries {
		rt, err := m.runtime(e.ID)
		if err != nil {
			statuses = append(statuses, EntryStatus{
				ID:       e.ID,
				Title:    e.Title,
				Username: e.Username,
				State:    StateNotLoaded,
				Options:  e.Options,
			})
			continue
		}
		statuses = append(statuses, rt.status())
	}
	return statuses, nil
}

// Status returns the status of a known entry.
func (m *Manager) Status(entryID string) (EntryStatus, error) {
	rt, err := m.runtime(entryID)
	if err != nil {
		return EntryStatus{}, err
	}
	return rt.status(), nil
}

// ResolveEntryID returns entryID, or the only known entry when entryID is
// empty.
func (m *Manager) ResolveEntryID(entryID string) (string, error) {
	if entryID != "" {
		return entryID, nil
	}
	ids := m.entryIDs()
	if len(ids) != 1 {
		return "", fmt.Errorf("entry_id required, %d entries configured", len(ids))
	}
	return ids[0], nil
}

func (m *Manager) recordRankPush(entryID string) func(ctx context.Context, push types.RankPush) {
	return func(ctx context.Context, push types.RankPush) {
		if err := m.db.InsertRankPush(ctx, entryID, push); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to record rank push", slog.Any("error", err))
		}
	}
}
