/*
Package snapshot gives clients a cheap way to tell whether anything they
cached has changed.

VERSION:
  Every user has a snapshot version, InitialVersion until the first change.
  Ledger writes, settings saves and notification reads bump it in the same
  store transaction as the change itself.

ETAGS:
  sv-<16 hex>     derived from user and version, for the full snapshot
  rates-<16 hex>  derived from the rates response body

  Both are the first 16 hex digits of a SHA-256. A request whose
  If-None-Match carries the current tag gets 304 with no body.

HEARTBEAT:
  Detect reports which sections changed since the client's version and
  notification cursor, plus anchors moved by the heartbeat's own
  evaluation. When nothing changed the heartbeat answers 204.

SEE ALSO:
  - ledger/store.go: ledger.Versioned
  - api/handlers.go: GetSnapshot, Heartbeat, GetRates
*/
package snapshot

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Eiad-Soufan/zakati-backend/ledger"
	"github.com/Eiad-Soufan/zakati-backend/valuation"
	"github.com/Eiad-Soufan/zakati-backend/zakat"
)

// InitialVersion is the version of a user nothing has happened to yet.
const InitialVersion int64 = 1

const (
	VersionETagPrefix = "sv-"
	RatesETagPrefix   = "rates-"

	// RecentLimit caps the transactions and notifications in a snapshot.
	RecentLimit = 20
)

// VersionReader returns the current snapshot version of a user.
type VersionReader interface {
	SnapshotVersion(ctx context.Context, userID ledger.UserID) (int64, error)
}

// Snapshot is everything a client needs to render its home screen.
type Snapshot struct {
	UserID        ledger.UserID
	Version       int64
	ETag          string
	GeneratedAt   time.Time
	Settings      valuation.Settings
	Holdings      ledger.Holdings
	Transactions  []ledger.Transaction // newest first
	Notifications []zakat.Notification // newest first
}

// Changes tells a polling client which sections to reload.
type Changes struct {
	Version       int64
	Snapshot      bool
	Anchors       bool
	Notifications bool
}

// Any reports whether the client has anything to reload.
func (c Changes) Any() bool {
	return c.Snapshot || c.Anchors || c.Notifications
}

// Builder reads every store a snapshot is made of.
type Builder struct {
	Ledger        *ledger.Ledger
	Settings      valuation.SettingsStore
	Notifications zakat.NotificationStore
	Versions      VersionReader
	Now           func() time.Time
}

func (b *Builder) now() time.Time {
	if b.Now != nil {
		return b.Now()
	}
	return time.Now().UTC()
}

// Version returns the user's current snapshot version.
func (b *Builder) Version(ctx context.Context, userID ledger.UserID) (int64, error) {
	v, err := b.Versions.SnapshotVersion(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to read snapshot version: %w", err)
	}
	return v, nil
}

// Build reads the version first and the data after it, so a concurrent
// write can only make the data newer than its version, never older.
func (b *Builder) Build(ctx context.Context, userID ledger.UserID) (Snapshot, error) {
	version, err := b.Version(ctx, userID)
	if err != nil {
		return Snapshot{}, err
	}

	settings, err := b.Settings.GetSettings(ctx, string(userID))
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to load settings: %w", err)
	}
	holdings, err := b.Ledger.Holdings(ctx, userID)
	if err != nil {
		return Snapshot{}, err
	}
	recent, err := b.Ledger.Recent(ctx, userID, RecentLimit)
	if err != nil {
		return Snapshot{}, err
	}
	notifications, err := b.Notifications.ListNotifications(ctx, userID, RecentLimit)
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to load notifications: %w", err)
	}

	return Snapshot{
		UserID:        userID,
		Version:       version,
		ETag:          VersionETag(userID, version),
		GeneratedAt:   b.now(),
		Settings:      settings,
		Holdings:      holdings,
		Transactions:  recent,
		Notifications: notifications,
	}, nil
}

// Detect compares what the client has with what is stored.
//
// sinceVersion is the version of the client's snapshot, 0 when it has none.
// afterID is the last notification the client has seen; when it is empty
// any unread notification counts as a change. ev is the evaluation the
// heartbeat has just run.
func (b *Builder) Detect(ctx context.Context, userID ledger.UserID, sinceVersion int64, afterID string, ev zakat.Evaluation) (Changes, error) {
	version, err := b.Version(ctx, userID)
	if err != nil {
		return Changes{}, err
	}
	c := Changes{
		Version:  version,
		Snapshot: sinceVersion == 0 || sinceVersion != version,
		Anchors:  len(ev.Changed) > 0,
	}

	switch {
	case len(ev.Notifications) > 0:
		c.Notifications = true
	case afterID != "":
		newer, err := b.Notifications.NotificationsAfter(ctx, userID, afterID, 1)
		switch {
		case errors.Is(err, zakat.ErrNotificationNotFound):
			// The cursor is not ours; make the client reload.
			c.Notifications = true
		case err != nil:
			return Changes{}, fmt.Errorf("failed to load notifications: %w", err)
		default:
			c.Notifications = len(newer) > 0
		}
	default:
		all, err := b.Notifications.ListNotifications(ctx, userID, 0)
		if err != nil {
			return Changes{}, fmt.Errorf("failed to load notifications: %w", err)
		}
		for _, n := range all {
			if n.ReadAt == nil {
				c.Notifications = true
				break
			}
		}
	}
	return c, nil
}

// =============================================================================
// ETAGS
// =============================================================================

// VersionETag identifies one version of one user's snapshot.
func VersionETag(userID ledger.UserID, version int64) string {
	return VersionETagPrefix + shortHash([]byte(fmt.Sprintf("%s:%d", userID, version)))
}

// ContentETag hashes the JSON encoding of v. encoding/json sorts map keys,
// so equal content always gives the same tag.
func ContentETag(prefix string, v any) (string, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to encode etag source: %w", err)
	}
	return prefix + shortHash(body), nil
}

// Matches reports whether an If-None-Match header names etag. Quotes, weak
// prefixes and comma-separated lists are accepted.
func Matches(ifNoneMatch, etag string) bool {
	if ifNoneMatch == "" || etag == "" {
		return false
	}
	for _, candidate := range strings.Split(ifNoneMatch, ",") {
		candidate = strings.TrimSpace(candidate)
		if candidate == "*" {
			return true
		}
		candidate = strings.TrimPrefix(candidate, "W/")
		if strings.Trim(candidate, `"`) == etag {
			return true
		}
	}
	return false
}

func shortHash(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])[:16]
}
