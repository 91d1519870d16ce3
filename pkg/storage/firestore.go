package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/levenlabs/go-lflag"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/cwbridge/cwbridge/pkg/log"
	"github.com/cwbridge/cwbridge/pkg/types"
)

// pushDocIDLayout is fixed width so document IDs sort chronologically.
const pushDocIDLayout = "2006-01-02T15:04:05.000000000Z"

// FirestoreProvider implements the Database interface using Google Cloud Firestore.
// Every entry is a document in the "entries" collection with its state and
// rank pushes in sub-collections.
type FirestoreProvider struct {
	client    *firestore.Client
	projectID string
	database  string
}

// configuredFirestore sets up the Firestore provider.
// It registers flags for configuration.
func configuredFirestore() *FirestoreProvider {
	projectID := lflag.String("firestore-project-id", "", "Google Cloud Project ID for Firestore")
	database := lflag.String("firestore-database", "", "Google Cloud Firestore Database")
	emulator := lflag.String("firestore-emulator", "", "Use Firestore emulator")

	f := &FirestoreProvider{}

	lflag.Do(func() {
		f.projectID = *projectID
		f.database = *database

		// set this because that's how firestore client expects it
		if *emulator != "" {
			os.Setenv("FIRESTORE_EMULATOR_HOST", *emulator)
		}
	})

	return f
}

// Validate checks if the provider is properly configured.
func (f *FirestoreProvider) Validate() error {
	// Project ID verification could be here, but we allow empty if inferred.
	return nil
}

// Init initializes the Firestore client.
// This must be called before using the provider methods.
func (f *FirestoreProvider) Init(ctx context.Context) error {
	projectID := f.projectID
	if projectID == "" {
		projectID = firestore.DetectProjectID
	}
	database := f.database
	if database == "" {
		database = firestore.DefaultDatabaseID
	}
	client, err := firestore.NewClientWithDatabase(ctx, projectID, database)
	if err != nil {
		return fmt.Errorf("failed to create firestore client (project=%s, database=%s): %w", projectID, database, err)
	}
	f.client = client
	return nil
}

// Close closes the Firestore client connection.
func (f *FirestoreProvider) Close() error {
	if f.client != nil {
		return f.client.Close()
	}
	return nil
}

func (f *FirestoreProvider) entryDoc(entryID string) (*firestore.DocumentRef, error) {
	if entryID == "" {
		return nil, ErrEmptyEntryID
	}
	return f.client.Collection("entries").Doc(entryID), nil
}

func (f *FirestoreProvider) getCollection(entryID, name string) (*firestore.CollectionRef, error) {
	doc, err := f.entryDoc(entryID)
	if err != nil {
		return nil, err
	}
	return doc.Collection(name), nil
}

// docJSON decodes the "json" field of a document into v.
func docJSON(doc *firestore.DocumentSnapshot, v any) error {
	val, err := doc.DataAt("json")
	if err != nil {
		return fmt.Errorf("document %s missing 'json' field: %w", doc.Ref.ID, err)
	}
	jsonStr, ok := val.(string)
	if !ok {
		return fmt.Errorf("document %s 'json' field is not a string", doc.Ref.ID)
	}
	if err := json.Unmarshal([]byte(jsonStr), v); err != nil {
		return fmt.Errorf("failed to unmarshal document %s: %w", doc.Ref.ID, err)
	}
	return nil
}

func docVersion(doc *firestore.DocumentSnapshot) int {
	// Read version if available (default 0)
	if v, err := doc.DataAt("version"); err == nil {
		if vInt, ok := v.(int64); ok {
			return int(vInt)
		}
	}
	return 0
}

// ListEntries retrieves all entries from the "entries" collection. Malformed
// documents are skipped.
func (f *FirestoreProvider) ListEntries(ctx context.Context) ([]types.ConfigEntry, error) {
	iter := f.client.Collection("entries").Documents(ctx)
	defer iter.Stop()

	var entries []types.ConfigEntry
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error iterating entries: %w", err)
		}

		var e types.ConfigEntry
		if err := docJSON(doc, &e); err != nil {
			log.Ctx(ctx).WarnContext(ctx, "skipping malformed entry", slog.String("entryID", doc.Ref.ID), slog.Any("error", err))
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// GetEntry retrieves a single entry and the version it was stored with.
func (f *FirestoreProvider) GetEntry(ctx context.Context, entryID string) (types.ConfigEntry, int, error) {
	ref, err := f.entryDoc(entryID)
	if err != nil {
		return types.ConfigEntry{}, 0, err
	}
	doc, err := ref.Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return types.ConfigEntry{}, 0, fmt.Errorf("%w: %s", ErrEntryNotFound, entryID)
		}
		return types.ConfigEntry{}, 0, fmt.Errorf("failed to get entry %s: %w", entryID, err)
	}

	var e types.ConfigEntry
	if err := docJSON(doc, &e); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "malformed entry", slog.String("entryID", entryID), slog.Any("error", err))
		return types.ConfigEntry{}, 0, err
	}
	return e, docVersion(doc), nil
}

// SetEntry creates or replaces an entry document.
// It stores the entry as a JSON string for portability.
func (f *FirestoreProvider) SetEntry(ctx context.Context, entry types.ConfigEntry, version int) error {
	jsonBytes, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal entry: %w", err)
	}
	ref, err := f.entryDoc(entry.ID)
	if err != nil {
		return err
	}
	_, err = ref.Set(ctx, map[string]interface{}{
		"json":    string(jsonBytes),
		"version": version,
	})
	if err != nil {
		return fmt.Errorf("failed to save entry %s: %w", entry.ID, err)
	}
	return nil
}

// GetEntryState retrieves the persisted coordinator state. It returns nil if
// nothing was stored yet.
func (f *FirestoreProvider) GetEntryState(ctx context.Context, entryID string) (*types.EntryState, error) {
	coll, err := f.getCollection(entryID, "state")
	if err != nil {
		return nil, err
	}
	doc, err := coll.Doc("coordinator").Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to fetch entry state: %w", err)
	}

	var s types.EntryState
	if err := docJSON(doc, &s); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "malformed entry state", slog.String("entryID", entryID), slog.Any("error", err))
		return nil, err
	}
	return &s, nil
}

// SetEntryState saves the persisted coordinator state.
func (f *FirestoreProvider) SetEntryState(ctx context.Context, entryID string, state types.EntryState) error {
	jsonBytes, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal entry state: %w", err)
	}
	coll, err := f.getCollection(entryID, "state")
	if err != nil {
		return err
	}
	_, err = coll.Doc("coordinator").Set(ctx, map[string]interface{}{
		"json": string(jsonBytes),
	})
	if err != nil {
		return fmt.Errorf("failed to save entry state: %w", err)
	}
	return nil
}

// InsertRankPush adds a push record to the "rank_pushes" collection.
// The document ID is the timestamp for efficient range queries.
func (f *FirestoreProvider) InsertRankPush(ctx context.Context, entryID string, push types.RankPush) error {
	jsonBytes, err := json.Marshal(push)
	if err != nil {
		return fmt.Errorf("failed to marshal rank push: %w", err)
	}
	coll, err := f.getCollection(entryID, "rank_pushes")
	if err != nil {
		return err
	}
	docID := push.Timestamp.UTC().Format(pushDocIDLayout)
	_, err = coll.Doc(docID).Set(ctx, map[string]interface{}{
		"json":      string(jsonBytes),
		"timestamp": push.Timestamp,
	})
	if err != nil {
		return fmt.Errorf("failed to insert rank push: %w", err)
	}
	return nil
}

// GetRankPushHistory retrieves push records within [start, end).
func (f *FirestoreProvider) GetRankPushHistory(ctx context.Context, entryID string, start, end time.Time) ([]types.RankPush, error) {
	startDocID := start.UTC().Format(pushDocIDLayout)
	endDocID := end.UTC().Format(pushDocIDLayout)

	coll, err := f.getCollection(entryID, "rank_pushes")
	if err != nil {
		return nil, err
	}
	iter := coll.
		Where(firestore.DocumentID, ">=", coll.Doc(startDocID)).
		Where(firestore.DocumentID, "<", coll.Doc(endDocID)).
		OrderBy(firestore.DocumentID, firestore.Asc).
		Documents(ctx)
	defer iter.Stop()

	var pushes []types.RankPush
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error iterating rank pushes: %w", err)
		}

		var p types.RankPush
		if err := docJSON(doc, &p); err != nil {
			log.Ctx(ctx).WarnContext(ctx, "malformed rank push", slog.String("docID", doc.Ref.ID), slog.String("entryID", entryID), slog.Any("error", err))
			return nil, err
		}
		pushes = append(pushes, p)
	}
	return pushes, nil
}
