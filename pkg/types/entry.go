package types

import (
	"errors"
	"fmt"
	"strings"
)

// CurrentEntryVersion is the current version of the ConfigEntry struct.
// Increment this value when adding new fields that require default values.
const CurrentEntryVersion = 2

// EntryIDNone is used when the bridge runs a single account and no explicit
// entry ID was configured.
const EntryIDNone = "default"

// Option keys as they appear in the options bag.
const (
	OptionShowDetails = "show_details"
	OptionPushToRank  = "push_to_cw_rank"
	OptionCM10Sensor  = "cm10_sensor"
	OptionRankName    = "cwr_name"
)

// ConfigEntry is one configured account. It is what the host persists between
// restarts.
type ConfigEntry struct {
	ID    string `json:"id"`
	Title string `json:"title"`

	// Username is kept in the clear so entries can be listed without the
	// encryption key.
	Username string `json:"username"`

	// Credentials for the remote account (encrypted)
	EncryptedCredentials []byte `json:"encryptedCredentials,omitempty"`

	Options Options `json:"options"`

	// Disabled entries are loaded but never scheduled.
	Disabled bool `json:"disabled,omitempty"`

	// ReauthRequired is set when the remote account rejected the stored
	// credentials. The entry is not set up again until it is cleared.
	ReauthRequired bool `json:"reauthRequired,omitempty"`
}

// Options are the user-chosen feature flags of an entry.
type Options struct {
	// ShowDetails enables the detailed power sensors (energy totals and spot
	// price).
	ShowDetails bool `json:"show_details"`
	// PushToRank enables the daily push to the rank endpoint.
	PushToRank bool `json:"push_to_cw_rank"`
	// CM10Sensor enables the meter status sensor and FCR-D fields.
	CM10Sensor bool `json:"cm10_sensor"`
	// RankName overrides the display name sent in rank reports.
	RankName string `json:"cwr_name"`
}

// DefaultOptions are the options a freshly created entry starts with.
func DefaultOptions() Options {
	return Options{
		ShowDetails: false,
		PushToRank:  false,
		CM10Sensor:  true,
		RankName:    "",
	}
}

var (
	ErrMissingUsername = errors.New("missing username")
	ErrMissingPassword = errors.New("missing password")
)

// Credentials for the remote account API.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Validate checks that both fields are filled in.
func (c Credentials) Validate() error {
	if c.Username == "" {
		return ErrMissingUsername
	}
	if c.Password == "" {
		return ErrMissingPassword
	}
	return nil
}

// MigrateEntry migrates the entry to the current version.
// It returns the migrated entry, a boolean indicating if changes were made, and an error if migration failed.
func MigrateEntry(e ConfigEntry, currentVersion int) (ConfigEntry, bool, error) {
	if currentVersion >= CurrentEntryVersion {
		return e, false, nil
	}

	migrated := false
	for version := currentVersion + 1; version <= CurrentEntryVersion; version++ {
		switch version {
		case 1:
			// version 1: initial, the meter sensor was on by default before options existed
			if currentVersion == 0 && !e.Options.CM10Sensor && !e.Options.ShowDetails && !e.Options.PushToRank {
				e.Options.CM10Sensor = true
				migrated = true
			}
			if e.Title == "" {
				e.Title = "CheckWatt"
				migrated = true
			}
		case 2:
			// version 2: rank names used to be stored with surrounding whitespace
			if trimmed := strings.TrimSpace(e.Options.RankName); trimmed != e.Options.RankName {
				e.Options.RankName = trimmed
				migrated = true
			}
		default:
			return e, false, fmt.Errorf("unknown entry version: %d", version)
		}
	}

	return e, migrated, nil
}
