/*
Package zakat tracks, per user and asset group, when the zakat year started
and when it falls due, and reminds the user as the due date approaches.

KEY CONCEPTS:
  - Group:  GOLD_PURE, SILVER or CASH_POOL, each with its own nisab
  - Anchor: the lunar start and due dates of a group's zakat year
  - Nisab:  the threshold a group must meet for its year to run

STATE MACHINE (per user and group, evaluated on every pass):
  dates unset, threshold met     → ACTIVE, start = today, due = start + 1 lunar year
  dates set,   threshold met     → unchanged (anchors are sticky)
  dates set,   threshold not met → RESET, dates cleared
  dates unset, threshold not met → unchanged

  Status UNSET marks a row that has never crossed the threshold. UNSET and
  RESET are both "no dates" for the state machine.

SEE ALSO:
  - engine.go:   thresholds, transitions, remaining time
  - reminder.go: checkpoint notifications
  - sweep.go:    the all-users batch job
*/
package zakat

import (
	"context"
	"errors"
	"time"

	"github.com/Eiad-Soufan/zakati-backend/ledger"
	"github.com/Eiad-Soufan/zakati-backend/lunar"
)

// =============================================================================
// GROUPS AND ANCHORS
// =============================================================================

type Group string

const (
	GroupGoldPure Group = "GOLD_PURE"
	GroupSilver   Group = "SILVER"
	GroupCashPool Group = "CASH_POOL"
)

// Groups lists every group in evaluation order.
var Groups = []Group{GroupGoldPure, GroupSilver, GroupCashPool}

func (g Group) Label() string {
	switch g {
	case GroupGoldPure:
		return "Gold"
	case GroupSilver:
		return "Silver"
	case GroupCashPool:
		return "Cash"
	}
	return string(g)
}

type Status string

const (
	StatusUnset  Status = "UNSET"
	StatusActive Status = "ACTIVE"
	StatusReset  Status = "RESET"
)

// Anchor is one group's zakat year for one user. Start and Due are both
// zero or both set.
type Anchor struct {
	UserID    ledger.UserID
	Group     Group
	Status    Status
	Start     lunar.Date
	Due       lunar.Date
	UpdatedAt time.Time
}

func (a Anchor) HasDates() bool { return !a.Start.IsZero() && !a.Due.IsZero() }

// AnchorStore persists one anchor per (user, group).
type AnchorStore interface {
	// GetOrCreateAnchor returns the stored anchor, creating an UNSET one on
	// first use. Repeated calls return the same row.
	GetOrCreateAnchor(ctx context.Context, userID ledger.UserID, group Group) (Anchor, error)
	SaveAnchor(ctx context.Context, a Anchor) error
	ListAnchors(ctx context.Context, userID ledger.UserID) ([]Anchor, error)
}

// =============================================================================
// NOTIFICATIONS
// =============================================================================

const KindZakatReminder = "ZAKAT_REMINDER"

type Priority string

const (
	PriorityNormal    Priority = "normal"
	PriorityImportant Priority = "important"
)

type Notification struct {
	ID        string
	UserID    ledger.UserID
	Kind      string
	Title     string
	Body      string
	Priority  Priority
	DedupKey  string
	CreatedAt time.Time
	ReadAt    *time.Time
}

// ErrNotificationNotFound is returned for an unknown notification id.
var ErrNotificationNotFound = errors.New("notification not found")

// NotificationStore persists notifications with a per-user unique dedup key.
type NotificationStore interface {
	// InsertIfAbsent stores n unless the user already has a notification
	// with the same DedupKey. It reports whether n was stored.
	InsertIfAbsent(ctx context.Context, n Notification) (bool, error)

	// ListNotifications returns the newest notifications first.
	ListNotifications(ctx context.Context, userID ledger.UserID, limit int) ([]Notification, error)

	// NotificationsAfter returns the notifications stored after afterID,
	// oldest first, for clients that poll with a cursor. An empty afterID
	// starts from the beginning; an unknown one is ErrNotificationNotFound.
	NotificationsAfter(ctx context.Context, userID ledger.UserID, afterID string, limit int) ([]Notification, error)

	// MarkRead sets ReadAt once and bumps the user's snapshot version.
	MarkRead(ctx context.Context, userID ledger.UserID, id string, at time.Time) error
}

// UserLister enumerates every user known to the ledger.
type UserLister interface {
	ListUsers(ctx context.Context) ([]ledger.UserID, error)
}
