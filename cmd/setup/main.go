package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/levenlabs/go-lflag"

	"github.com/cwbridge/cwbridge/pkg/checkwatt"
	"github.com/cwbridge/cwbridge/pkg/log"
	"github.com/cwbridge/cwbridge/pkg/storage"
	"github.com/cwbridge/cwbridge/pkg/types"
)

const defaultTitle = "CheckWatt"

// setup validates CheckWatt credentials and stores them as a config entry.
// Running it against an existing entry replaces its credentials and clears a
// pending re-authentication while keeping the options. A running bridge loads
// the re-authenticated entry on its next scheduled tick.
func main() {
	s := storage.Configured()
	enc := storage.ConfiguredEncrypter()
	c := checkwatt.Configured()

	username := lflag.RequiredString("username", "CheckWatt account username")
	password := lflag.String("password", "", "CheckWatt account password, defaults to $CHECKWATT_PASSWORD")
	entryID := lflag.String("entry-id", "", "ID of the entry to create or re-authenticate, a new one is generated when empty")
	title := lflag.String("title", defaultTitle, "title of a new entry")

	lflag.Configure()

	ctx := context.Background()
	defer func() {
		if err := s.Close(); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to close storage", slog.Any("error", err))
		}
	}()

	creds := types.Credentials{
		Username: strings.TrimSpace(*username),
		Password: *password,
	}
	if creds.Password == "" {
		creds.Password = os.Getenv("CHECKWATT_PASSWORD")
	}
	if err := creds.Validate(); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "invalid credentials", slog.Any("error", err))
		os.Exit(1)
	}

	sess, err := c.Login(ctx, creds)
	if err != nil {
		if errors.Is(err, checkwatt.ErrInvalidAuth) {
			log.Ctx(ctx).ErrorContext(ctx, "checkwatt rejected the credentials", slog.String("username", creds.Username))
		} else {
			log.Ctx(ctx).ErrorContext(ctx, "failed to connect to checkwatt", slog.Any("error", err))
		}
		os.Exit(1)
	}
	sess.Close()
	log.Ctx(ctx).InfoContext(ctx, "credentials validated", slog.String("username", creds.Username))

	encrypted, err := enc.EncryptCredentials(ctx, creds)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to encrypt credentials", slog.Any("error", err))
		os.Exit(1)
	}

	entry := types.ConfigEntry{
		ID:      *entryID,
		Title:   *title,
		Options: types.DefaultOptions(),
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	} else {
		existing, _, err := s.GetEntry(ctx, entry.ID)
		switch {
		case err == nil:
			log.Ctx(ctx).InfoContext(ctx, "re-authenticating existing entry", slog.String("entryID", entry.ID))
			entry = existing
			entry.ReauthRequired = false
		case errors.Is(err, storage.ErrEntryNotFound):
		default:
			log.Ctx(ctx).ErrorContext(ctx, "failed to get entry", slog.Any("error", err))
			os.Exit(1)
		}
	}
	entry.Username = creds.Username
	entry.EncryptedCredentials = encrypted

	if err := s.SetEntry(ctx, entry, types.CurrentEntryVersion); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to save entry", slog.Any("error", err))
		os.Exit(1)
	}
	log.Ctx(ctx).InfoContext(ctx, "entry saved", slog.String("entryID", entry.ID), slog.String("title", entry.Title))
}
