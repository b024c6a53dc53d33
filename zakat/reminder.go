package zakat

import (
	"context"
	"fmt"
	"time"

	"github.com/Eiad-Soufan/zakati-backend/observability"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Emitter turns remaining time at a checkpoint into at most one
// notification per (group, date, checkpoint), however often it is called.
type Emitter struct {
	Store   NotificationStore
	Config  Config
	Logger  *zap.Logger
	Metrics *observability.Metrics
	NewID   func() string
}

func NewEmitter(store NotificationStore, cfg Config) *Emitter {
	return &Emitter{
		Store:  store,
		Config: cfg,
		Logger: zap.NewNop(),
		NewID:  uuid.NewString,
	}
}

// Emit stores a reminder if remaining sits exactly on a checkpoint and the
// reminder was not stored before. It returns the new notification or nil.
func (em *Emitter) Emit(ctx context.Context, a Anchor, remaining Remaining, now time.Time) (*Notification, error) {
	n, ok := em.reminderFor(a, remaining)
	if !ok {
		return nil, nil
	}

	n.ID = em.NewID()
	n.UserID = a.UserID
	n.Kind = KindZakatReminder
	n.CreatedAt = now

	created, err := em.Store.InsertIfAbsent(ctx, n)
	if err != nil {
		return nil, err
	}
	if !created {
		return nil, nil
	}

	em.Metrics.IncrReminder(string(a.Group))
	em.Logger.Info("zakat reminder emitted",
		zap.String("user_id", string(a.UserID)),
		zap.String("dedup_key", n.DedupKey))
	return &n, nil
}

// DedupKey identifies one checkpoint of one zakat year of one group.
func DedupKey(group Group, date fmt.Stringer, tag string) string {
	return fmt.Sprintf("%s:%s:%s", group, date, tag)
}

func (em *Emitter) reminderFor(a Anchor, r Remaining) (Notification, bool) {
	if !a.HasDates() {
		return Notification{}, false
	}

	if em.Config.TestMode {
		if r.Unit != UnitHours || !containsInt(em.Config.TestCheckpointHours, r.Value) {
			return Notification{}, false
		}
		priority := PriorityImportant
		if r.Value < 0 {
			priority = PriorityNormal
		}
		return Notification{
			Title:    fmt.Sprintf("%s zakat test cycle", a.Group.Label()),
			Body:     hoursBody(a.Group, r.Value),
			Priority: priority,
			DedupKey: DedupKey(a.Group, a.Start, fmt.Sprintf("H%+d", r.Value)),
		}, true
	}

	if r.Unit != UnitDays {
		return Notification{}, false
	}
	for _, cp := range em.Config.Checkpoints {
		if cp.Days != r.Value {
			continue
		}
		return Notification{
			Title:    fmt.Sprintf("%s zakat reminder", a.Group.Label()),
			Body:     daysBody(a, r.Value),
			Priority: cp.Priority,
			DedupKey: DedupKey(a.Group, a.Due, cp.Tag),
		}, true
	}
	return Notification{}, false
}

func daysBody(a Anchor, days int) string {
	switch {
	case days > 0:
		return fmt.Sprintf("%s zakat is due in %d days, on %s.", a.Group.Label(), days, a.Due)
	case days == 0:
		return fmt.Sprintf("%s zakat is due today, %s.", a.Group.Label(), a.Due)
	default:
		return fmt.Sprintf("%s zakat was due %d days ago, on %s.", a.Group.Label(), -days, a.Due)
	}
}

func hoursBody(g Group, hours int) string {
	if hours >= 0 {
		return fmt.Sprintf("%s zakat test cycle ends in %d hours.", g.Label(), hours)
	}
	return fmt.Sprintf("%s zakat test cycle ended %d hours ago.", g.Label(), -hours)
}

func containsInt(values []int, v int) bool {
	for _, x := range values {
		if x == v {
			return true
		}
	}
	return false
}
