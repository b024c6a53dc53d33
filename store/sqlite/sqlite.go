/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements every persistence interface of the service using SQLite. The
  same schema ports to PostgreSQL with minor dialect changes.

INTERFACES IMPLEMENTED:
  ledger.TxStore:          Transaction persistence with atomic edits
  valuation.PriceReader:   Latest metal prices and FX rates
  valuation.PriceWriter:   Price samples from the feed
  valuation.SettingsStore: Display currency and rate overrides
  zakat.AnchorStore:       One anchor per user and group
  zakat.NotificationStore: Reminders with a per-user unique dedup key
  zakat.UserLister:        Users for the sweep
  ledger.Versioned:        Per-user snapshot version, bumped with each write

APPEND-MOSTLY ENFORCEMENT:
  - No DELETE statements on the transactions table
  - The only UPDATE on transactions sets the voiding columns of an active row
  - Price tables are append-only; the latest sample wins

KEY TABLES:
  transactions:   the ledger, active and voided rows
  metal_prices:   price-per-gram samples
  fx_rates:       base→quote samples
  user_settings:  display currency and overrides (JSON)
  zakat_anchors:  UNIQUE(user_id, zakat_group)
  notifications:  UNIQUE(user_id, dedup_key)
  snapshot_versions: one row per user once anything changed

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. Inside WithTx every read and write
  goes through the *sql.Tx so checks see the transaction's own writes.

TIMESTAMPS:
  Stored as fixed-width UTC text so ORDER BY on the column is chronological.

USAGE:
  store, err := sqlite.New("./data/zakati.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  l := ledger.NewLedger(store)

SEE ALSO:
  - ledger/store.go: Ledger interface definitions
  - store/memory/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Eiad-Soufan/zakati-backend/ledger"
	"github.com/Eiad-Soufan/zakati-backend/lunar"
	"github.com/Eiad-Soufan/zakati-backend/snapshot"
	"github.com/Eiad-Soufan/zakati-backend/valuation"
	"github.com/Eiad-Soufan/zakati-backend/zakat"
	_ "github.com/mattn/go-sqlite3"
)

const (
	timeLayout = "2006-01-02T15:04:05.000000000Z"
	dateLayout = "2006-01-02"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Ledger transactions; voided rows stay for history
	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		asset_type TEXT NOT NULL,
		sub_key TEXT NOT NULL,
		operation TEXT NOT NULL,
		quantity TEXT NOT NULL,
		occurred_on TEXT NOT NULL,
		notes TEXT,
		invoice_url TEXT,
		supersedes TEXT,
		is_edited INTEGER NOT NULL DEFAULT 0,
		edit_reason TEXT,
		voided_at TEXT,
		void_reason TEXT,
		superseded_by TEXT,
		created_at TEXT NOT NULL
	);

	-- Balance calculation (hot path)
	CREATE INDEX IF NOT EXISTS idx_transactions_user_created
		ON transactions(user_id, created_at);

	CREATE TABLE IF NOT EXISTS metal_prices (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		metal TEXT NOT NULL,
		price_per_gram TEXT NOT NULL,
		currency TEXT NOT NULL,
		source TEXT,
		fetched_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_metal_prices_latest
		ON metal_prices(metal, fetched_at DESC);

	CREATE TABLE IF NOT EXISTS fx_rates (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		base TEXT NOT NULL,
		quote TEXT NOT NULL,
		rate TEXT NOT NULL,
		source TEXT,
		fetched_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_fx_rates_latest
		ON fx_rates(base, quote, fetched_at DESC);

	CREATE TABLE IF NOT EXISTS user_settings (
		user_id TEXT PRIMARY KEY,
		display_currency TEXT NOT NULL,
		overrides_json TEXT,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS zakat_anchors (
		user_id TEXT NOT NULL,
		zakat_group TEXT NOT NULL,
		status TEXT NOT NULL,
		start_date TEXT,
		due_date TEXT,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (user_id, zakat_group)
	);

	CREATE TABLE IF NOT EXISTS notifications (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		title TEXT NOT NULL,
		body TEXT NOT NULL,
		priority TEXT NOT NULL,
		dedup_key TEXT NOT NULL,
		created_at TEXT NOT NULL,
		read_at TEXT,
		UNIQUE (user_id, dedup_key)
	);

	CREATE INDEX IF NOT EXISTS idx_notifications_user_created
		ON notifications(user_id, created_at DESC);

	-- Absent row means snapshot.InitialVersion
	CREATE TABLE IF NOT EXISTS snapshot_versions (
		user_id TEXT PRIMARY KEY,
		version INTEGER NOT NULL,
		updated_at TEXT NOT NULL
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTION STORE (ledger.Store interface)
// =============================================================================

// Append adds a transaction to the ledger.
func (s *Store) Append(ctx context.Context, tx ledger.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return appendTx(ctx, s.db, tx)
}

func appendTx(ctx context.Context, db querier, tx ledger.Transaction) error {
	query := `
		INSERT INTO transactions
		(id, user_id, asset_type, sub_key, operation, quantity, occurred_on,
		 notes, invoice_url, supersedes, is_edited, edit_reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := db.ExecContext(ctx, query,
		tx.ID,
		tx.UserID,
		tx.Asset,
		tx.SubKey,
		tx.Operation,
		tx.Quantity,
		tx.OccurredOn.UTC().Format(dateLayout),
		nullString(tx.Notes),
		nullString(tx.InvoiceURL),
		nullString(string(tx.Supersedes)),
		tx.IsEdited,
		nullString(tx.EditReason),
		formatTime(tx.CreatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ledger.ErrDuplicateTransaction
		}
		return fmt.Errorf("failed to append transaction: %w", err)
	}

	return nil
}

// Get returns one transaction of the user.
func (s *Store) Get(ctx context.Context, userID ledger.UserID, id ledger.TransactionID) (ledger.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return getTx(ctx, s.db, userID, id)
}

func getTx(ctx context.Context, db querier, userID ledger.UserID, id ledger.TransactionID) (ledger.Transaction, error) {
	txs, err := queryTransactions(ctx, db, selectTransactions+` WHERE user_id = ? AND id = ?`, userID, id)
	if err != nil {
		return ledger.Transaction{}, err
	}
	if len(txs) == 0 {
		return ledger.Transaction{}, ledger.ErrTransactionNotFound
	}
	return txs[0], nil
}

// Load returns all transactions of a user in insertion order.
func (s *Store) Load(ctx context.Context, userID ledger.UserID) ([]ledger.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return loadTx(ctx, s.db, userID)
}

func loadTx(ctx context.Context, db querier, userID ledger.UserID) ([]ledger.Transaction, error) {
	return queryTransactions(ctx, db,
		selectTransactions+` WHERE user_id = ? ORDER BY created_at ASC, rowid ASC`, userID)
}

// Void marks an active transaction as voided.
func (s *Store) Void(ctx context.Context, userID ledger.UserID, id ledger.TransactionID, v ledger.Voiding) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return voidTx(ctx, s.db, userID, id, v)
}

func voidTx(ctx context.Context, db querier, userID ledger.UserID, id ledger.TransactionID, v ledger.Voiding) error {
	res, err := db.ExecContext(ctx, `
		UPDATE transactions
		SET voided_at = ?, void_reason = ?, superseded_by = ?
		WHERE user_id = ? AND id = ? AND voided_at IS NULL
	`, formatTime(v.At), nullString(v.Reason), nullString(string(v.SupersededBy)), userID, id)
	if err != nil {
		return fmt.Errorf("failed to void transaction: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to void transaction: %w", err)
	}
	if n == 1 {
		return nil
	}

	// Nothing updated: either unknown or already voided.
	if _, err := getTx(ctx, db, userID, id); err != nil {
		return err
	}
	return ledger.ErrAlreadyVoided
}

const selectTransactions = `
	SELECT id, user_id, asset_type, sub_key, operation, quantity, occurred_on,
	       notes, invoice_url, supersedes, is_edited, edit_reason,
	       voided_at, void_reason, superseded_by, created_at
	FROM transactions`

func queryTransactions(ctx context.Context, db querier, query string, args ...any) ([]ledger.Transaction, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var transactions []ledger.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, tx)
	}

	return transactions, rows.Err()
}

func scanTransaction(rows *sql.Rows) (ledger.Transaction, error) {
	var (
		tx           ledger.Transaction
		occurredOn   string
		notes        sql.NullString
		invoiceURL   sql.NullString
		supersedes   sql.NullString
		editReason   sql.NullString
		voidedAt     sql.NullString
		voidReason   sql.NullString
		supersededBy sql.NullString
		createdAt    string
	)

	err := rows.Scan(
		&tx.ID, &tx.UserID, &tx.Asset, &tx.SubKey, &tx.Operation, &tx.Quantity, &occurredOn,
		&notes, &invoiceURL, &supersedes, &tx.IsEdited, &editReason,
		&voidedAt, &voidReason, &supersededBy, &createdAt,
	)
	if err != nil {
		return tx, fmt.Errorf("failed to scan transaction: %w", err)
	}

	if tx.OccurredOn, err = time.Parse(dateLayout, occurredOn); err != nil {
		return tx, fmt.Errorf("transaction %s has invalid occurred_on %q: %w", tx.ID, occurredOn, err)
	}
	if tx.CreatedAt, err = parseTime(createdAt); err != nil {
		return tx, fmt.Errorf("transaction %s has invalid created_at: %w", tx.ID, err)
	}
	tx.Notes = notes.String
	tx.InvoiceURL = invoiceURL.String
	tx.Supersedes = ledger.TransactionID(supersedes.String)
	tx.EditReason = editReason.String

	if voidedAt.Valid {
		at, err := parseTime(voidedAt.String)
		if err != nil {
			return tx, fmt.Errorf("transaction %s has invalid voided_at: %w", tx.ID, err)
		}
		tx.Voided = &ledger.Voiding{
			At:           at,
			Reason:       voidReason.String,
			SupersededBy: ledger.TransactionID(supersededBy.String),
		}
	}

	return tx, nil
}

// =============================================================================
// TRANSACTIONAL STORE (ledger.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store ledger.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) Append(ctx context.Context, tx ledger.Transaction) error {
	return appendTx(ctx, ts.tx, tx)
}

func (ts *txStore) Get(ctx context.Context, userID ledger.UserID, id ledger.TransactionID) (ledger.Transaction, error) {
	return getTx(ctx, ts.tx, userID, id)
}

func (ts *txStore) Load(ctx context.Context, userID ledger.UserID) ([]ledger.Transaction, error) {
	return loadTx(ctx, ts.tx, userID)
}

func (ts *txStore) Void(ctx context.Context, userID ledger.UserID, id ledger.TransactionID, v ledger.Voiding) error {
	return voidTx(ctx, ts.tx, userID, id, v)
}

func (ts *txStore) BumpVersion(ctx context.Context, userID ledger.UserID) (int64, error) {
	return bumpVersion(ctx, ts.tx, userID)
}

// inTx runs fn in a database transaction. The caller holds s.mu.
func (s *Store) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(sqlTx); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// ListUsers returns every user with transactions, settings or anchors.
func (s *Store) ListUsers(ctx context.Context) ([]ledger.UserID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id FROM transactions
		UNION SELECT user_id FROM user_settings
		UNION SELECT user_id FROM zakat_anchors
		ORDER BY 1
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []ledger.UserID
	for rows.Next() {
		var u ledger.UserID
		if err := rows.Scan(&u); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// =============================================================================
// PRICES (valuation.PriceReader, valuation.PriceWriter)
// =============================================================================

func (s *Store) AppendMetalPrice(ctx context.Context, p valuation.MetalPrice) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO metal_prices (metal, price_per_gram, currency, source, fetched_at)
		VALUES (?, ?, ?, ?, ?)
	`, p.Metal, p.PricePerGram, p.Currency, nullString(p.Source), formatTime(p.FetchedAt))
	if err != nil {
		return fmt.Errorf("failed to append metal price: %w", err)
	}
	return nil
}

func (s *Store) AppendFXRate(ctx context.Context, r valuation.FXRate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO fx_rates (base, quote, rate, source, fetched_at)
		VALUES (?, ?, ?, ?, ?)
	`, r.Base, r.Quote, r.Rate, nullString(r.Source), formatTime(r.FetchedAt))
	if err != nil {
		return fmt.Errorf("failed to append fx rate: %w", err)
	}
	return nil
}

// LatestMetalPrice returns the sample with the latest fetched_at; ties go
// to the one inserted last.
func (s *Store) LatestMetalPrice(ctx context.Context, metal valuation.Metal) (valuation.MetalPrice, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		p         = valuation.MetalPrice{Metal: metal}
		source    sql.NullString
		fetchedAt string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT price_per_gram, currency, source, fetched_at
		FROM metal_prices
		WHERE metal = ?
		ORDER BY fetched_at DESC, id DESC
		LIMIT 1
	`, metal).Scan(&p.PricePerGram, &p.Currency, &source, &fetchedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return valuation.MetalPrice{}, false, nil
	}
	if err != nil {
		return valuation.MetalPrice{}, false, fmt.Errorf("failed to get metal price: %w", err)
	}

	p.Source = source.String
	if p.FetchedAt, err = parseTime(fetchedAt); err != nil {
		return valuation.MetalPrice{}, false, fmt.Errorf("invalid metal price timestamp: %w", err)
	}
	return p, true, nil
}

func (s *Store) LatestFXRate(ctx context.Context, base, quote string) (valuation.FXRate, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		r         = valuation.FXRate{Base: base, Quote: quote}
		source    sql.NullString
		fetchedAt string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT rate, source, fetched_at
		FROM fx_rates
		WHERE base = ? AND quote = ?
		ORDER BY fetched_at DESC, id DESC
		LIMIT 1
	`, base, quote).Scan(&r.Rate, &source, &fetchedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return valuation.FXRate{}, false, nil
	}
	if err != nil {
		return valuation.FXRate{}, false, fmt.Errorf("failed to get fx rate: %w", err)
	}

	r.Source = source.String
	if r.FetchedAt, err = parseTime(fetchedAt); err != nil {
		return valuation.FXRate{}, false, fmt.Errorf("invalid fx rate timestamp: %w", err)
	}
	return r, true, nil
}

// =============================================================================
// SETTINGS (valuation.SettingsStore)
// =============================================================================

// GetSettings returns the stored settings or the defaults. Stored overrides
// are parsed here, so a bad row surfaces as an error on read.
func (s *Store) GetSettings(ctx context.Context, userID string) (valuation.Settings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		currency      string
		overridesJSON sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT display_currency, overrides_json FROM user_settings WHERE user_id = ?`, userID,
	).Scan(&currency, &overridesJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return valuation.DefaultSettings(), nil
	}
	if err != nil {
		return valuation.Settings{}, fmt.Errorf("failed to get settings: %w", err)
	}

	settings := valuation.Settings{DisplayCurrency: currency}
	if overridesJSON.Valid && overridesJSON.String != "" {
		var raw map[string]string
		if err := json.Unmarshal([]byte(overridesJSON.String), &raw); err != nil {
			return valuation.Settings{}, fmt.Errorf("failed to decode overrides: %w", err)
		}
		settings.Overrides, err = valuation.ParseOverrides(raw)
		if err != nil {
			return valuation.Settings{}, err
		}
	}
	return settings, nil
}

func (s *Store) SaveSettings(ctx context.Context, userID string, settings valuation.Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	overridesJSON, err := json.Marshal(settings.Overrides.Raw())
	if err != nil {
		return fmt.Errorf("failed to encode overrides: %w", err)
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO user_settings (user_id, display_currency, overrides_json, updated_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(user_id) DO UPDATE SET
				display_currency = excluded.display_currency,
				overrides_json = excluded.overrides_json,
				updated_at = excluded.updated_at
		`, userID, settings.DisplayCurrency, string(overridesJSON), formatTime(time.Now()))
		if err != nil {
			return fmt.Errorf("failed to save settings: %w", err)
		}
		_, err = bumpVersion(ctx, tx, ledger.UserID(userID))
		return err
	})
}

// =============================================================================
// ANCHORS (zakat.AnchorStore)
// =============================================================================

// GetOrCreateAnchor inserts an UNSET row on first use and returns the
// stored one.
func (s *Store) GetOrCreateAnchor(ctx context.Context, userID ledger.UserID, group zakat.Group) (zakat.Anchor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO zakat_anchors (user_id, zakat_group, status, updated_at)
		VALUES (?, ?, ?, ?)
	`, userID, group, zakat.StatusUnset, formatTime(time.Now()))
	if err != nil {
		return zakat.Anchor{}, fmt.Errorf("failed to create anchor: %w", err)
	}

	anchors, err := s.queryAnchors(ctx, `WHERE user_id = ? AND zakat_group = ?`, userID, group)
	if err != nil {
		return zakat.Anchor{}, err
	}
	if len(anchors) == 0 {
		return zakat.Anchor{}, fmt.Errorf("anchor %s/%s vanished after insert", userID, group)
	}
	return anchors[0], nil
}

func (s *Store) SaveAnchor(ctx context.Context, a zakat.Anchor) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO zakat_anchors (user_id, zakat_group, status, start_date, due_date, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, zakat_group) DO UPDATE SET
			status = excluded.status,
			start_date = excluded.start_date,
			due_date = excluded.due_date,
			updated_at = excluded.updated_at
	`, a.UserID, a.Group, a.Status, lunarString(a.Start), lunarString(a.Due), formatTime(a.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to save anchor: %w", err)
	}
	return nil
}

func (s *Store) ListAnchors(ctx context.Context, userID ledger.UserID) ([]zakat.Anchor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	anchors, err := s.queryAnchors(ctx, `WHERE user_id = ?`, userID)
	if err != nil {
		return nil, err
	}

	// Evaluation order, not table order.
	var ordered []zakat.Anchor
	for _, g := range zakat.Groups {
		for _, a := range anchors {
			if a.Group == g {
				ordered = append(ordered, a)
			}
		}
	}
	return ordered, nil
}

func (s *Store) queryAnchors(ctx context.Context, where string, args ...any) ([]zakat.Anchor, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, zakat_group, status, start_date, due_date, updated_at
		FROM zakat_anchors `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query anchors: %w", err)
	}
	defer rows.Close()

	var anchors []zakat.Anchor
	for rows.Next() {
		var (
			a         zakat.Anchor
			start     sql.NullString
			due       sql.NullString
			updatedAt string
		)
		if err := rows.Scan(&a.UserID, &a.Group, &a.Status, &start, &due, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan anchor: %w", err)
		}
		if a.Start, err = parseLunar(start); err != nil {
			return nil, err
		}
		if a.Due, err = parseLunar(due); err != nil {
			return nil, err
		}
		if a.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return nil, fmt.Errorf("invalid anchor timestamp: %w", err)
		}
		anchors = append(anchors, a)
	}
	return anchors, rows.Err()
}

// =============================================================================
// NOTIFICATIONS (zakat.NotificationStore)
// =============================================================================

// InsertIfAbsent relies on UNIQUE(user_id, dedup_key); a conflicting insert
// is ignored and reported as not created.
func (s *Store) InsertIfAbsent(ctx context.Context, n zakat.Notification) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO notifications
		(id, user_id, kind, title, body, priority, dedup_key, created_at, read_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, n.ID, n.UserID, n.Kind, n.Title, n.Body, n.Priority, n.DedupKey, formatTime(n.CreatedAt), nullTime(n.ReadAt))
	if err != nil {
		return false, fmt.Errorf("failed to insert notification: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to insert notification: %w", err)
	}
	return affected == 1, nil
}

func (s *Store) ListNotifications(ctx context.Context, userID ledger.UserID, limit int) ([]zakat.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = -1 // no limit in SQLite
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, kind, title, body, priority, dedup_key, created_at, read_at
		FROM notifications
		WHERE user_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query notifications: %w", err)
	}
	defer rows.Close()
	return scanNotifications(rows)
}

func scanNotifications(rows *sql.Rows) ([]zakat.Notification, error) {
	var result []zakat.Notification
	for rows.Next() {
		var (
			n         zakat.Notification
			createdAt string
			readAt    sql.NullString
		)
		if err := rows.Scan(&n.ID, &n.UserID, &n.Kind, &n.Title, &n.Body, &n.Priority, &n.DedupKey, &createdAt, &readAt); err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		created, err := parseTime(createdAt)
		if err != nil {
			return nil, fmt.Errorf("invalid notification timestamp: %w", err)
		}
		n.CreatedAt = created
		if readAt.Valid {
			t, err := parseTime(readAt.String)
			if err != nil {
				return nil, fmt.Errorf("invalid notification timestamp: %w", err)
			}
			n.ReadAt = &t
		}
		result = append(result, n)
	}
	return result, rows.Err()
}

// MarkRead sets read_at once; marking a read notification again is a no-op.
func (s *Store) MarkRead(ctx context.Context, userID ledger.UserID, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var readAt sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT read_at FROM notifications WHERE user_id = ? AND id = ?`, userID, id,
	).Scan(&readAt)
	if errors.Is(err, sql.ErrNoRows) {
		return zakat.ErrNotificationNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to get notification: %w", err)
	}
	if readAt.Valid {
		return nil
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`UPDATE notifications SET read_at = ? WHERE user_id = ? AND id = ?`, formatTime(at), userID, id)
		if err != nil {
			return fmt.Errorf("failed to mark notification read: %w", err)
		}
		_, err = bumpVersion(ctx, tx, userID)
		return err
	})
}

// NotificationsAfter returns the notifications inserted after afterID,
// oldest first. An empty afterID starts from the first one.
func (s *Store) NotificationsAfter(ctx context.Context, userID ledger.UserID, afterID string, limit int) ([]zakat.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var after int64
	if afterID != "" {
		err := s.db.QueryRowContext(ctx,
			`SELECT rowid FROM notifications WHERE user_id = ? AND id = ?`, userID, afterID,
		).Scan(&after)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, zakat.ErrNotificationNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("failed to get notification cursor: %w", err)
		}
	}
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, kind, title, body, priority, dedup_key, created_at, read_at
		FROM notifications
		WHERE user_id = ? AND rowid > ?
		ORDER BY rowid
		LIMIT ?
	`, userID, after, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query notifications: %w", err)
	}
	defer rows.Close()
	return scanNotifications(rows)
}

// =============================================================================
// SNAPSHOT VERSIONS (ledger.Versioned, snapshot.VersionReader)
// =============================================================================

func (s *Store) SnapshotVersion(ctx context.Context, userID ledger.UserID) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var v int64
	err := s.db.QueryRowContext(ctx,
		`SELECT version FROM snapshot_versions WHERE user_id = ?`, userID,
	).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return snapshot.InitialVersion, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get snapshot version: %w", err)
	}
	return v, nil
}

func (s *Store) BumpVersion(ctx context.Context, userID ledger.UserID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return bumpVersion(ctx, s.db, userID)
}

func bumpVersion(ctx context.Context, db querier, userID ledger.UserID) (int64, error) {
	var v int64
	err := db.QueryRowContext(ctx, `
		INSERT INTO snapshot_versions (user_id, version, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			version = version + 1,
			updated_at = excluded.updated_at
		RETURNING version
	`, userID, snapshot.InitialVersion+1, formatTime(time.Now())).Scan(&v)
	if err != nil {
		return 0, fmt.Errorf("failed to bump snapshot version: %w", err)
	}
	return v, nil
}

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(timeLayout, s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}

func lunarString(d lunar.Date) sql.NullString {
	if d.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: d.String(), Valid: true}
}

func parseLunar(s sql.NullString) (lunar.Date, error) {
	if !s.Valid || s.String == "" {
		return lunar.Date{}, nil
	}
	return lunar.Parse(s.String)
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}
