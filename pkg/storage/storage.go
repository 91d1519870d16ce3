package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/levenlabs/go-lflag"

	"github.com/cwbridge/cwbridge/pkg/types"
)

var (
	ErrEntryNotFound = errors.New("entry not found")
	ErrEmptyEntryID  = errors.New("entryID cannot be empty")
)

// Database defines the interface for persisting config entries and the
// per-entry state that must survive restarts.
type Database interface {
	// Entries
	ListEntries(ctx context.Context) ([]types.ConfigEntry, error)
	// GetEntry returns the entry and the version it was stored with.
	GetEntry(ctx context.Context, entryID string) (types.ConfigEntry, int, error)
	SetEntry(ctx context.Context, entry types.ConfigEntry, version int) error

	// Entry state
	GetEntryState(ctx context.Context, entryID string) (*types.EntryState, error)
	SetEntryState(ctx context.Context, entryID string, state types.EntryState) error

	// Rank pushes
	InsertRankPush(ctx context.Context, entryID string, push types.RankPush) error
	GetRankPushHistory(ctx context.Context, entryID string, start, end time.Time) ([]types.RankPush, error)

	// Lifecycle
	Close() error
}

// Configured sets up the Storage provider based on flags.
func Configured() Database {
	provider := lflag.String("storage-provider", "firestore", "Storage provider to use (available: firestore, memory)")

	var p struct{ Database }

	fs := configuredFirestore()

	lflag.Do(func() {
		switch *provider {
		case "firestore":
			if err := fs.Validate(); err != nil {
				panic(fmt.Sprintf("firestore validation failed: %v", err))
			}
			p.Database = fs
			if err := fs.Init(context.Background()); err != nil {
				panic(fmt.Sprintf("firestore init failed: %v", err))
			}
		case "memory":
			p.Database = NewMemory()
		default:
			panic(fmt.Sprintf("unknown storage provider: %s", *provider))
		}
	})

	return &p
}
