package integration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/levenlabs/go-lflag"
	"github.com/robfig/cron/v3"

	"github.com/cwbridge/cwbridge/pkg/checkwatt"
	"github.com/cwbridge/cwbridge/pkg/coordinator"
	"github.com/cwbridge/cwbridge/pkg/entity"
	"github.com/cwbridge/cwbridge/pkg/hass"
	"github.com/cwbridge/cwbridge/pkg/log"
	"github.com/cwbridge/cwbridge/pkg/rank"
	"github.com/cwbridge/cwbridge/pkg/storage"
	"github.com/cwbridge/cwbridge/pkg/types"
)

var (
	ErrEntryNotLoaded = errors.New("entry not loaded")
)

// Entry states as reported by Status.
const (
	StateNotLoaded      = "not_loaded"
	StateLoaded         = "loaded"
	StateSetupRetry     = "setup_retry"
	StateReauthRequired = "reauth_required"
	StateDisabled       = "disabled"
)

// DefaultSchedule is how often every entry is refreshed.
const DefaultSchedule = "@every 1m"

// Surface is where entities are exposed.
type Surface interface {
	Announce(ctx context.Context, entryID string, sensors []entity.Sensor, ev *entity.FCRDEvent) error
	PublishState(ctx context.Context, entryID string, resp types.Response, sensors []entity.Sensor) error
	PublishAvailability(ctx context.Context, entryID string, online bool) error
	FireEvent(ctx context.Context, entryID string, ev *entity.FCRDEvent, eventType string) error
}

// Decrypter opens the stored credentials of an entry.
type Decrypter interface {
	DecryptCredentials(ctx context.Context, encrypted []byte) (types.Credentials, error)
}

// Config tunes the Manager.
type Config struct {
	Schedule         string
	Location         *time.Location
	RankHour         int
	MonetaryInterval int
	// Now defaults to time.Now.
	Now func() time.Time
}

// Manager owns the runtime of every config entry: setup, scheduled refreshes,
// services and unload.
type Manager struct {
	db         storage.Database
	decrypter  Decrypter
	client     checkwatt.Client
	pusher     rank.Pusher
	surface    Surface
	dispatcher *hass.Dispatcher
	cfg        Config
	cron       *cron.Cron

	mu      sync.Mutex
	entries map[string]*runtime
}

// Configured sets up the Manager.
// It uses lflag to register command-line flags for configuration.
func Configured(db storage.Database, enc *storage.Encrypter, client *checkwatt.EIB, pusher *rank.Reporter, pub *hass.Publisher) *Manager {
	schedule := lflag.String("refresh-schedule", DefaultSchedule, "cron schedule of the refresh of every entry")
	timezone := lflag.String("timezone", "Europe/Stockholm", "timezone used for the daily rank push and revenue days")
	rankHour := lflag.Int("rank-hour", coordinator.DefaultRankHour, "local hour after which the daily rank push happens")
	monetaryInterval := lflag.Int("monetary-interval", coordinator.DefaultMonetaryInterval, "number of refreshes between revenue fetches")

	m := &Manager{}
	lflag.Do(func() {
		loc, err := time.LoadLocation(*timezone)
		if err != nil {
			panic(fmt.Sprintf("invalid timezone %q: %v", *timezone, err))
		}
		m.init(db, enc, client, pusher, pub, Config{
			Schedule:         *schedule,
			Location:         loc,
			RankHour:         *rankHour,
			MonetaryInterval: *monetaryInterval,
		})
	})
	return m
}

// New returns a Manager.
func New(db storage.Database, decrypter Decrypter, client checkwatt.Client, pusher rank.Pusher, surface Surface, cfg Config) *Manager {
	m := &Manager{}
	m.init(db, decrypter, client, pusher, surface, cfg)
	return m
}

func (m *Manager) init(db storage.Database, decrypter Decrypter, client checkwatt.Client, pusher rank.Pusher, surface Surface, cfg Config) {
	if cfg.Schedule == "" {
		cfg.Schedule = DefaultSchedule
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	m.db = db
	m.decrypter = decrypter
	m.client = client
	m.pusher = pusher
	m.surface = surface
	m.dispatcher = hass.NewDispatcher()
	m.cfg = cfg
	m.cron = cron.New(
		cron.WithLocation(cfg.Location),
		cron.WithChain(cron.SkipIfStillRunning(cronLogger{})),
	)
	m.entries = make(map[string]*runtime)
}

// Location is the timezone dates are interpreted in.
func (m *Manager) Location() *time.Location {
	return m.cfg.Location
}

// Run sets up every stored entry and refreshes them on the schedule until ctx
// is canceled.
func (m *Manager) Run(ctx context.Context) error {
	entries, err := m.db.ListEntries(ctx)
	if err != nil {
		return fmt.Errorf("failed to list entries: %w", err)
	}
	for _, e := range entries {
		if err := m.Setup(ctx, e.ID); err != nil {
			log.Ctx(ctx).WarnContext(ctx, "entry setup failed", slog.String("entryID", e.ID), slog.Any("error", err))
		}
	}

	m.cron.Start()
	log.Ctx(ctx).InfoContext(ctx, "integration started", slog.Int("entries", len(entries)), slog.String("schedule", m.cfg.Schedule))
	<-ctx.Done()

	<-m.cron.Stop().Done()

	// unload with a fresh context since ctx is already canceled
	unloadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	for _, id := range m.entryIDs() {
		m.Unload(unloadCtx, id)
	}
	log.Ctx(ctx).InfoContext(ctx, "integration stopped")
	return nil
}

func (m *Manager) entryIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.entries))
	for id := range m.entries {
		ids = append(ids, id)
	}
	return ids
}

// runtimeFor returns the runtime of entryID, creating it and its scheduled job
// on first use.
func (m *Manager) runtimeFor(entryID string) (*runtime, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if rt, ok := m.entries[entryID]; ok {
		return rt, nil
	}
	rt := &runtime{id: entryID, state: StateNotLoaded}
	jobID, err := m.cron.AddFunc(m.cfg.Schedule, func() {
		m.tick(log.WithEntry(context.Background(), entryID), rt)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to schedule entry %s: %w", entryID, err)
	}
	rt.jobID = jobID
	m.entries[entryID] = rt
	return rt, nil
}

func (m *Manager) runtime(entryID string) (*runtime, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rt, ok := m.entries[entryID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", storage.ErrEntryNotFound, entryID)
	}
	return rt, nil
}

// getEntryWithMigration loads an entry and migrates it to the current
// version, saving the result.
func (m *Manager) getEntryWithMigration(ctx context.Context, entryID string) (types.ConfigEntry, error) {
	entry, version, err := m.db.GetEntry(ctx, entryID)
	if err != nil {
		return types.ConfigEntry{}, err
	}

	if version < types.CurrentEntryVersion {
		log.Ctx(ctx).InfoContext(ctx, "migrating entry", slog.Int("oldVersion", version), slog.Int("newVersion", types.CurrentEntryVersion))
		migrated, changed, err := types.MigrateEntry(entry, version)
		if err != nil {
			// Log error but return the entry as is (best effort)
			log.Ctx(ctx).ErrorContext(ctx, "failed to migrate entry", slog.Int("currentVersion", version), slog.Any("error", err))
			return entry, nil
		}
		if changed {
			entry = migrated
		}
		if err := m.db.SetEntry(ctx, entry, types.CurrentEntryVersion); err != nil {
			// continue with the migrated entry even if save failed
			log.Ctx(ctx).ErrorContext(ctx, "failed to save migrated entry", slog.Any("error", err))
		}
	}
	return entry, nil
}

// tick is the scheduled job of an entry. Loaded entries are refreshed and
// entries whose setup failed are set up again.
func (m *Manager) tick(ctx context.Context, rt *runtime) {
	switch rt.currentState() {
	case StateLoaded:
		if _, err := m.refresh(ctx, rt); err != nil {
			log.Ctx(ctx).WarnContext(ctx, "scheduled refresh failed", slog.Any("error", err))
		}
	case StateSetupRetry:
		if err := m.Setup(ctx, rt.id); err != nil {
			log.Ctx(ctx).WarnContext(ctx, "entry setup retry failed", slog.Any("error", err))
		}
	case StateReauthRequired:
		// picks up credentials stored by cmd/setup, the flag stays set until then
		if err := m.Setup(ctx, rt.id); err != nil && !errors.Is(err, coordinator.ErrInvalidAuth) {
			log.Ctx(ctx).WarnContext(ctx, "entry re-authentication failed", slog.Any("error", err))
		}
	}
}

type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	slog.Debug("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	slog.Error("cron: "+msg, append(keysAndValues, slog.Any("error", err))...)
}
