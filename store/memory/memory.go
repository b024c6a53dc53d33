// Package memory provides in-memory implementations of every store
// interface, for tests and local development.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Eiad-Soufan/zakati-backend/ledger"
	"github.com/Eiad-Soufan/zakati-backend/snapshot"
	"github.com/Eiad-Soufan/zakati-backend/valuation"
	"github.com/Eiad-Soufan/zakati-backend/zakat"
)

// =============================================================================
// MEMORY STORE
// =============================================================================

type Store struct {
	mu sync.RWMutex
	state
}

type state struct {
	transactions  map[ledger.UserID][]ledger.Transaction
	metalPrices   map[valuation.Metal][]valuation.MetalPrice
	fxRates       map[valuation.Pair][]valuation.FXRate
	settings      map[string]valuation.Settings
	anchors       map[anchorKey]zakat.Anchor
	notifications map[ledger.UserID][]zakat.Notification
	versions      map[ledger.UserID]int64
}

type anchorKey struct {
	UserID ledger.UserID
	Group  zakat.Group
}

func New() *Store {
	return &Store{state: state{
		transactions:  make(map[ledger.UserID][]ledger.Transaction),
		metalPrices:   make(map[valuation.Metal][]valuation.MetalPrice),
		fxRates:       make(map[valuation.Pair][]valuation.FXRate),
		settings:      make(map[string]valuation.Settings),
		anchors:       make(map[anchorKey]zakat.Anchor),
		notifications: make(map[ledger.UserID][]zakat.Notification),
		versions:      make(map[ledger.UserID]int64),
	}}
}

// =============================================================================
// LEDGER (ledger.TxStore)
// =============================================================================

func (m *Store) Append(_ context.Context, tx ledger.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendLocked(tx)
}

func (m *Store) appendLocked(tx ledger.Transaction) error {
	for _, existing := range m.transactions[tx.UserID] {
		if existing.ID == tx.ID {
			return ledger.ErrDuplicateTransaction
		}
	}
	m.transactions[tx.UserID] = append(m.transactions[tx.UserID], tx)
	return nil
}

func (m *Store) Get(_ context.Context, userID ledger.UserID, id ledger.TransactionID) (ledger.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getLocked(userID, id)
}

func (m *Store) getLocked(userID ledger.UserID, id ledger.TransactionID) (ledger.Transaction, error) {
	for _, tx := range m.transactions[userID] {
		if tx.ID == id {
			return tx, nil
		}
	}
	return ledger.Transaction{}, ledger.ErrTransactionNotFound
}

func (m *Store) Load(_ context.Context, userID ledger.UserID) ([]ledger.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.loadLocked(userID), nil
}

func (m *Store) loadLocked(userID ledger.UserID) []ledger.Transaction {
	result := make([]ledger.Transaction, len(m.transactions[userID]))
	copy(result, m.transactions[userID])
	return result
}

func (m *Store) Void(_ context.Context, userID ledger.UserID, id ledger.TransactionID, v ledger.Voiding) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.voidLocked(userID, id, v)
}

func (m *Store) voidLocked(userID ledger.UserID, id ledger.TransactionID, v ledger.Voiding) error {
	txs := m.transactions[userID]
	for i := range txs {
		if txs[i].ID != id {
			continue
		}
		if !txs[i].IsActive() {
			return ledger.ErrAlreadyVoided
		}
		voiding := v
		txs[i].Voided = &voiding
		return nil
	}
	return ledger.ErrTransactionNotFound
}

// WithTx runs fn under the write lock. Writes made by a failing fn are
// rolled back from a snapshot.
func (m *Store) WithTx(_ context.Context, fn func(ledger.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	saved := m.snapshotTransactions()
	versions := make(map[ledger.UserID]int64, len(m.versions))
	for k, v := range m.versions {
		versions[k] = v
	}
	if err := fn(&txView{parent: m}); err != nil {
		m.transactions = saved
		m.versions = versions
		return err
	}
	return nil
}

func (m *Store) snapshotTransactions() map[ledger.UserID][]ledger.Transaction {
	cp := make(map[ledger.UserID][]ledger.Transaction, len(m.transactions))
	for k, v := range m.transactions {
		txs := make([]ledger.Transaction, len(v))
		for i, tx := range v {
			if tx.Voided != nil {
				voiding := *tx.Voided
				tx.Voided = &voiding
			}
			txs[i] = tx
		}
		cp[k] = txs
	}
	return cp
}

// txView is the Store handed to WithTx callbacks. The parent lock is
// already held.
type txView struct {
	parent *Store
}

func (tv *txView) Append(_ context.Context, tx ledger.Transaction) error {
	return tv.parent.appendLocked(tx)
}

func (tv *txView) Get(_ context.Context, userID ledger.UserID, id ledger.TransactionID) (ledger.Transaction, error) {
	return tv.parent.getLocked(userID, id)
}

func (tv *txView) Load(_ context.Context, userID ledger.UserID) ([]ledger.Transaction, error) {
	return tv.parent.loadLocked(userID), nil
}

func (tv *txView) Void(_ context.Context, userID ledger.UserID, id ledger.TransactionID, v ledger.Voiding) error {
	return tv.parent.voidLocked(userID, id, v)
}

func (tv *txView) BumpVersion(_ context.Context, userID ledger.UserID) (int64, error) {
	return tv.parent.bumpLocked(userID), nil
}

// ListUsers returns every user with transactions, settings or anchors.
func (m *Store) ListUsers(_ context.Context) ([]ledger.UserID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[ledger.UserID]bool)
	for u := range m.transactions {
		seen[u] = true
	}
	for u := range m.settings {
		seen[ledger.UserID(u)] = true
	}
	for k := range m.anchors {
		seen[k.UserID] = true
	}

	users := make([]ledger.UserID, 0, len(seen))
	for u := range seen {
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i] < users[j] })
	return users, nil
}

// =============================================================================
// PRICES (valuation.PriceReader, valuation.PriceWriter)
// =============================================================================

func (m *Store) AppendMetalPrice(_ context.Context, p valuation.MetalPrice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.metalPrices[p.Metal] = append(m.metalPrices[p.Metal], p)
	return nil
}

func (m *Store) AppendFXRate(_ context.Context, r valuation.FXRate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := valuation.Pair{Base: r.Base, Target: r.Quote}
	m.fxRates[k] = append(m.fxRates[k], r)
	return nil
}

// LatestMetalPrice returns the sample with the latest FetchedAt; ties go to
// the one appended last.
func (m *Store) LatestMetalPrice(_ context.Context, metal valuation.Metal) (valuation.MetalPrice, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	samples := m.metalPrices[metal]
	if len(samples) == 0 {
		return valuation.MetalPrice{}, false, nil
	}
	latest := samples[0]
	for _, s := range samples[1:] {
		if !s.FetchedAt.Before(latest.FetchedAt) {
			latest = s
		}
	}
	return latest, true, nil
}

func (m *Store) LatestFXRate(_ context.Context, base, quote string) (valuation.FXRate, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	samples := m.fxRates[valuation.Pair{Base: base, Target: quote}]
	if len(samples) == 0 {
		return valuation.FXRate{}, false, nil
	}
	latest := samples[0]
	for _, s := range samples[1:] {
		if !s.FetchedAt.Before(latest.FetchedAt) {
			latest = s
		}
	}
	return latest, true, nil
}

// =============================================================================
// SETTINGS (valuation.SettingsStore)
// =============================================================================

func (m *Store) GetSettings(_ context.Context, userID string) (valuation.Settings, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.settings[userID]
	if !ok {
		return valuation.DefaultSettings(), nil
	}
	return s, nil
}

func (m *Store) SaveSettings(_ context.Context, userID string, s valuation.Settings) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ov := make(valuation.Overrides, len(s.Overrides))
	for k, v := range s.Overrides {
		ov[k] = v
	}
	s.Overrides = ov
	m.settings[userID] = s
	m.bumpLocked(ledger.UserID(userID))
	return nil
}

// =============================================================================
// ANCHORS (zakat.AnchorStore)
// =============================================================================

func (m *Store) GetOrCreateAnchor(_ context.Context, userID ledger.UserID, group zakat.Group) (zakat.Anchor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := anchorKey{UserID: userID, Group: group}
	if a, ok := m.anchors[k]; ok {
		return a, nil
	}
	a := zakat.Anchor{UserID: userID, Group: group, Status: zakat.StatusUnset, UpdatedAt: time.Now().UTC()}
	m.anchors[k] = a
	return a, nil
}

func (m *Store) SaveAnchor(_ context.Context, a zakat.Anchor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.anchors[anchorKey{UserID: a.UserID, Group: a.Group}] = a
	return nil
}

func (m *Store) ListAnchors(_ context.Context, userID ledger.UserID) ([]zakat.Anchor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []zakat.Anchor
	for _, g := range zakat.Groups {
		if a, ok := m.anchors[anchorKey{UserID: userID, Group: g}]; ok {
			result = append(result, a)
		}
	}
	return result, nil
}

// =============================================================================
// NOTIFICATIONS (zakat.NotificationStore)
// =============================================================================

func (m *Store) InsertIfAbsent(_ context.Context, n zakat.Notification) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.notifications[n.UserID] {
		if existing.DedupKey == n.DedupKey {
			return false, nil
		}
	}
	m.notifications[n.UserID] = append(m.notifications[n.UserID], n)
	return true, nil
}

func (m *Store) ListNotifications(_ context.Context, userID ledger.UserID, limit int) ([]zakat.Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	all := m.notifications[userID]
	result := make([]zakat.Notification, 0, len(all))
	for i := len(all) - 1; i >= 0; i-- {
		result = append(result, all[i])
	}
	sort.SliceStable(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *Store) MarkRead(_ context.Context, userID ledger.UserID, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ns := m.notifications[userID]
	for i := range ns {
		if ns[i].ID == id {
			if ns[i].ReadAt == nil {
				readAt := at
				ns[i].ReadAt = &readAt
				m.bumpLocked(userID)
			}
			return nil
		}
	}
	return zakat.ErrNotificationNotFound
}

// NotificationsAfter returns the notifications inserted after afterID,
// oldest first. An empty afterID starts from the first one.
func (m *Store) NotificationsAfter(_ context.Context, userID ledger.UserID, afterID string, limit int) ([]zakat.Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	all := m.notifications[userID]
	start := 0
	if afterID != "" {
		start = -1
		for i, n := range all {
			if n.ID == afterID {
				start = i + 1
				break
			}
		}
		if start < 0 {
			return nil, zakat.ErrNotificationNotFound
		}
	}

	result := append([]zakat.Notification(nil), all[start:]...)
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// =============================================================================
// SNAPSHOT VERSIONS (ledger.Versioned, snapshot.VersionReader)
// =============================================================================

func (m *Store) SnapshotVersion(_ context.Context, userID ledger.UserID) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if v, ok := m.versions[userID]; ok {
		return v, nil
	}
	return snapshot.InitialVersion, nil
}

func (m *Store) BumpVersion(_ context.Context, userID ledger.UserID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bumpLocked(userID), nil
}

func (m *Store) bumpLocked(userID ledger.UserID) int64 {
	v, ok := m.versions[userID]
	if !ok {
		v = snapshot.InitialVersion
	}
	v++
	m.versions[userID] = v
	return v
}
