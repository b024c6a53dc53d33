/*
handlers_test.go - HTTP tests for the API handlers

Every test runs the full router over an in-memory store with a fixed clock
(1 Ramadan 1445).
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Eiad-Soufan/zakati-backend/ledger"
	"github.com/Eiad-Soufan/zakati-backend/money"
	"github.com/Eiad-Soufan/zakati-backend/observability"
	"github.com/Eiad-Soufan/zakati-backend/report"
	"github.com/Eiad-Soufan/zakati-backend/snapshot"
	"github.com/Eiad-Soufan/zakati-backend/store/memory"
	"github.com/Eiad-Soufan/zakati-backend/valuation"
	"github.com/Eiad-Soufan/zakati-backend/zakat"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var now = time.Date(2024, time.March, 11, 8, 0, 0, 0, time.UTC)

type testServer struct {
	store  *memory.Store
	router http.Handler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store := memory.New()
	clock := func() time.Time { return now }

	l := ledger.NewLedger(store)
	l.Now = clock
	pipeline := valuation.NewPipeline(store)
	cfg := zakat.DefaultConfig()

	emitter := zakat.NewEmitter(store, cfg)
	engine := &zakat.Engine{
		Holdings:  l,
		Valuation: pipeline,
		Settings:  store,
		Anchors:   store,
		Reminders: emitter,
		Config:    cfg,
		Now:       clock,
	}
	h := &Handler{
		Ledger:    l,
		Valuation: pipeline,
		Settings:  store,
		Engine:    engine,
		Reports: &report.Reporter{
			Ledger:    l,
			Valuation: pipeline,
			Settings:  store,
			Engine:    engine,
			Anchors:   store,
			Now:       clock,
		},
		Notifications: store,
		Snapshots: &snapshot.Builder{
			Ledger:        l,
			Settings:      store,
			Notifications: store,
			Versions:      store,
			Now:           clock,
		},
		Sweeper:       &zakat.Sweeper{Engine: engine, Users: store},
		Metrics:       observability.NewMetrics(),
		Now:           clock,
	}
	return &testServer{store: store, router: NewRouter(h, nil)}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	return s.doWithHeader(t, method, path, body, nil)
}

func (s *testServer) doWithHeader(t *testing.T, method, path string, body any, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (s *testServer) create(t *testing.T, asset, subKey, op, qty string) TransactionDTO {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/users/u1/transactions", CreateTransactionRequest{
		AssetType: asset, SubKey: subKey, Operation: op, Quantity: qty,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[TransactionDTO](t, rec)
}

// =============================================================================
// HEALTH AND METRICS
// =============================================================================

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode[map[string]string](t, rec)["status"])
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "zakati_sweep_duration_seconds")
}

func TestUnknownRoute(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodGet, "/api/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decode[ErrorResponse](t, rec).Code)
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func TestCreateTransaction(t *testing.T) {
	s := newTestServer(t)

	tx := s.create(t, "cash", "usd", "add", "250.50")

	assert.NotEmpty(t, tx.ID)
	assert.Equal(t, "CASH", tx.AssetType)
	assert.Equal(t, "USD", tx.SubKey)
	assert.Equal(t, "ADD", tx.Operation)
	assert.Equal(t, "250.5", tx.Quantity)
	assert.Equal(t, "2024-03-11", tx.OccurredOn, "defaults to today")
	assert.True(t, tx.Active)
}

func TestCreateTransaction_InsufficientBalance(t *testing.T) {
	// GIVEN: 100g silver
	// WHEN: withdrawing 150g
	// THEN: 400 with the current balance in the body
	s := newTestServer(t)
	s.create(t, "SILVER", "", "ADD", "100")

	rec := s.do(t, http.MethodPost, "/api/users/u1/transactions", CreateTransactionRequest{
		AssetType: "SILVER", Operation: "WITHDRAW", Quantity: "150",
	})

	require.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decode[ErrorResponse](t, rec)
	assert.Equal(t, "insufficient_balance", resp.Code)
	require.NotNil(t, resp.Balance)
	assert.Equal(t, "SILVER", resp.Balance.AssetType)
	assert.Equal(t, "100", resp.Balance.Current)
	assert.Equal(t, "-50", resp.Balance.Projected)
}

func TestCreateTransaction_Validation(t *testing.T) {
	s := newTestServer(t)

	tests := map[string]CreateTransactionRequest{
		"bad karat":    {AssetType: "GOLD", SubKey: "22", Operation: "ADD", Quantity: "1"},
		"bad quantity": {AssetType: "SILVER", Operation: "ADD", Quantity: "lots"},
		"bad date":     {AssetType: "SILVER", Operation: "ADD", Quantity: "1", OccurredOn: "11/03/2024"},
		"bad currency": {AssetType: "CASH", SubKey: "DOLLAR", Operation: "ADD", Quantity: "1"},
	}
	for name, req := range tests {
		t.Run(name, func(t *testing.T) {
			rec := s.do(t, http.MethodPost, "/api/users/u1/transactions", req)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			assert.Equal(t, "validation_error", decode[ErrorResponse](t, rec).Code)
		})
	}
}

func TestEditTransaction_SupersedesOriginal(t *testing.T) {
	s := newTestServer(t)
	orig := s.create(t, "GOLD", "21", "ADD", "10")

	qty := "12"
	rec := s.do(t, http.MethodPost, "/api/users/u1/transactions/"+orig.ID+"/edit", EditTransactionRequest{
		Quantity: &qty, Reason: "weighed again",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	edited := decode[EditResultDTO](t, rec)
	assert.Equal(t, orig.ID, edited.Supersedes)
	assert.Equal(t, orig.ID, edited.Transaction.Supersedes)
	assert.Equal(t, "12", edited.Transaction.Quantity)

	rec = s.do(t, http.MethodGet, "/api/users/u1/transactions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	page := decode[TransactionPageDTO](t, rec)
	require.Equal(t, 1, page.Total, "the original no longer lists")
	assert.Equal(t, edited.Transaction.ID, page.Items[0].ID)
}

func TestEditTransaction_ReasonRequired(t *testing.T) {
	s := newTestServer(t)
	orig := s.create(t, "SILVER", "", "ADD", "10")

	rec := s.do(t, http.MethodPost, "/api/users/u1/transactions/"+orig.ID+"/edit", EditTransactionRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeleteTransaction(t *testing.T) {
	s := newTestServer(t)
	tx := s.create(t, "SILVER", "", "ADD", "10")

	rec := s.do(t, http.MethodPost, "/api/users/u1/transactions/"+tx.ID+"/delete", DeleteTransactionRequest{Reason: "typo"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	voided := decode[TransactionDTO](t, rec)
	assert.False(t, voided.Active)
	assert.Equal(t, "typo", voided.VoidReason)

	rec = s.do(t, http.MethodPost, "/api/users/u1/transactions/"+tx.ID+"/delete", DeleteTransactionRequest{Reason: "again"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeleteTransaction_NotFound(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodPost, "/api/users/u1/transactions/missing/delete", DeleteTransactionRequest{Reason: "x"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListTransactions_Filters(t *testing.T) {
	s := newTestServer(t)
	s.create(t, "CASH", "USD", "ADD", "100")
	s.create(t, "CASH", "SYP", "ADD", "5000")
	s.create(t, "GOLD", "18", "ADD", "3")

	rec := s.do(t, http.MethodGet, "/api/users/u1/transactions?asset_type=cash&currency=syp", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	page := decode[TransactionPageDTO](t, rec)
	require.Equal(t, 1, page.Total)
	assert.Equal(t, "SYP", page.Items[0].SubKey)

	rec = s.do(t, http.MethodGet, "/api/users/u1/transactions?page_size=x", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// HOLDINGS AND REPORTS
// =============================================================================

func TestHoldingsAndPortfolio(t *testing.T) {
	s := newTestServer(t)
	require.NoError(t, s.store.AppendMetalPrice(context.Background(), valuation.MetalPrice{
		Metal: valuation.Gold, PricePerGram: money.FromInt(80), Currency: "USD", FetchedAt: now,
	}))
	s.create(t, "GOLD", "21", "ADD", "100")
	s.create(t, "CASH", "USD", "ADD", "5000")

	rec := s.do(t, http.MethodGet, "/api/users/u1/holdings", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	holdings := decode[HoldingsDTO](t, rec)
	assert.Equal(t, "87.5", holdings.PureGoldGrams)
	assert.Equal(t, []WalletDTO{{Currency: "USD", Balance: "5000"}}, holdings.Wallets)

	rec = s.do(t, http.MethodGet, "/api/users/u1/portfolio", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	p := decode[PortfolioDTO](t, rec)
	require.NotNil(t, p.Gold.Value)
	assert.Equal(t, "7000.00", *p.Gold.Value)
	assert.Nil(t, p.Silver.Value, "no silver price")
	assert.Equal(t, "12000.00", p.Total)
}

func TestDashboard_InvalidPeriod(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodGet, "/api/users/u1/reports/dashboard?preset=forever", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_period", decode[ErrorResponse](t, rec).Code)
}

func TestDashboard_DefaultsToLastMonth(t *testing.T) {
	s := newTestServer(t)
	s.create(t, "CASH", "USD", "ADD", "40")

	rec := s.do(t, http.MethodGet, "/api/users/u1/reports/dashboard", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	d := decode[DashboardDTO](t, rec)
	assert.Equal(t, report.PresetLastMonth, d.Preset)
	assert.Equal(t, "2024-03-01", d.DateFrom)
	assert.Equal(t, "40.00", d.Added.Total)
}

// =============================================================================
// ZAKAT
// =============================================================================

func TestHeartbeat_StartsSilverYear(t *testing.T) {
	s := newTestServer(t)
	s.create(t, "SILVER", "", "ADD", "600")

	rec := s.do(t, http.MethodPost, "/api/users/u1/heartbeat", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	hb := decode[HeartbeatDTO](t, rec)

	require.Len(t, hb.Anchors, 3)
	silver := hb.Anchors[1]
	assert.Equal(t, "SILVER", silver.Group)
	assert.Equal(t, "ACTIVE", silver.Status)
	assert.Equal(t, "1445-09-01", silver.StartDate)
	assert.Equal(t, "1446-09-01", silver.DueDate)
	require.NotNil(t, silver.Remaining)
	assert.Equal(t, RemainingDTO{Value: 355, Unit: zakat.UnitDays}, *silver.Remaining)
	assert.Empty(t, hb.Notifications)

	rec = s.do(t, http.MethodGet, "/api/users/u1/zakat", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	overview := decode[ZakatOverviewDTO](t, rec)
	assert.Equal(t, "ACTIVE", overview.Anchors[1].Status)
}

func TestNotifications_ListAndMarkRead(t *testing.T) {
	s := newTestServer(t)
	_, err := s.store.InsertIfAbsent(context.Background(), zakat.Notification{
		ID: "n-1", UserID: "u1", Kind: zakat.KindZakatReminder, Title: "Zakat due",
		Priority: zakat.PriorityImportant, DedupKey: "SILVER:1446-09-01:T0", CreatedAt: now,
	})
	require.NoError(t, err)

	rec := s.do(t, http.MethodGet, "/api/users/u1/notifications", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	ns := decode[[]NotificationDTO](t, rec)
	require.Len(t, ns, 1)
	assert.Nil(t, ns[0].ReadAt)

	rec = s.do(t, http.MethodPost, "/api/users/u1/notifications/n-1/read", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/users/u1/notifications", nil)
	ns = decode[[]NotificationDTO](t, rec)
	require.NotNil(t, ns[0].ReadAt)

	rec = s.do(t, http.MethodPost, "/api/users/u1/notifications/nope/read", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestNotifications_AfterCursor(t *testing.T) {
	// GIVEN: three notifications stored in order
	// WHEN: listing after the first one
	// THEN: the later two come back oldest first; an unknown cursor is 404

	s := newTestServer(t)
	for i, id := range []string{"n-1", "n-2", "n-3"} {
		_, err := s.store.InsertIfAbsent(context.Background(), zakat.Notification{
			ID: id, UserID: "u1", Kind: zakat.KindZakatReminder, Title: "Zakat due",
			Priority: zakat.PriorityNormal, DedupKey: id, CreatedAt: now.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
	}

	rec := s.do(t, http.MethodGet, "/api/users/u1/notifications?after=n-1", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	ns := decode[[]NotificationDTO](t, rec)
	require.Len(t, ns, 2)
	assert.Equal(t, "n-2", ns[0].ID)
	assert.Equal(t, "n-3", ns[1].ID)

	rec = s.do(t, http.MethodGet, "/api/users/u1/notifications?after=n-1&limit=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	ns = decode[[]NotificationDTO](t, rec)
	require.Len(t, ns, 1)
	assert.Equal(t, "n-2", ns[0].ID)

	rec = s.do(t, http.MethodGet, "/api/users/u1/notifications?after=n-3", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[[]NotificationDTO](t, rec))

	rec = s.do(t, http.MethodGet, "/api/users/u1/notifications?after=nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// =============================================================================
// SYNC
// =============================================================================

func TestSnapshot_ETagAndNotModified(t *testing.T) {
	// GIVEN: a user with one transaction
	// WHEN: the snapshot is fetched, then fetched again with its ETag
	// THEN: the second fetch is 304 until the ledger changes

	s := newTestServer(t)
	s.create(t, "CASH", "USD", "ADD", "10")

	rec := s.do(t, http.MethodGet, "/api/users/u1/snapshot", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	snap := decode[SnapshotDTO](t, rec)
	assert.Equal(t, int64(2), snap.Version)
	assert.Equal(t, snapshot.VersionETag("u1", 2), snap.ETag)
	assert.Equal(t, `"`+snap.ETag+`"`, rec.Header().Get("ETag"))
	require.Len(t, snap.Transactions, 1)

	rec = s.doWithHeader(t, http.MethodGet, "/api/users/u1/snapshot", nil, http.Header{"If-None-Match": {`"` + snap.ETag + `"`}})
	assert.Equal(t, http.StatusNotModified, rec.Code)
	assert.Empty(t, rec.Body.String())

	s.create(t, "CASH", "USD", "WITHDRAW", "4")
	rec = s.doWithHeader(t, http.MethodGet, "/api/users/u1/snapshot", nil, http.Header{"If-None-Match": {`"` + snap.ETag + `"`}})
	require.Equal(t, http.StatusOK, rec.Code)
	next := decode[SnapshotDTO](t, rec)
	assert.Equal(t, int64(3), next.Version)
	assert.NotEqual(t, snap.ETag, next.ETag)
}

func TestSnapshot_VersionBumpsOnSettingsAndMarkRead(t *testing.T) {
	s := newTestServer(t)
	version := func() int64 {
		rec := s.do(t, http.MethodGet, "/api/users/u1/snapshot", nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		return decode[SnapshotDTO](t, rec).Version
	}
	assert.Equal(t, snapshot.InitialVersion, version())

	myr := "MYR"
	rec := s.do(t, http.MethodPatch, "/api/users/u1/settings", UpdateSettingsRequest{DisplayCurrency: &myr})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(2), version())

	_, err := s.store.InsertIfAbsent(context.Background(), zakat.Notification{
		ID: "n-1", UserID: "u1", Kind: zakat.KindZakatReminder, Title: "Zakat due",
		Priority: zakat.PriorityNormal, DedupKey: "n-1", CreatedAt: now,
	})
	require.NoError(t, err)
	rec = s.do(t, http.MethodPost, "/api/users/u1/notifications/n-1/read", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(3), version())

	// Reading it again changes nothing.
	rec = s.do(t, http.MethodPost, "/api/users/u1/notifications/n-1/read", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(3), version())
}

func TestHeartbeat_NoContentWhenNothingChanged(t *testing.T) {
	// GIVEN: a client that has already synced
	// WHEN: it polls with its version and nothing happened since
	// THEN: 204; after a new transaction the snapshot section is flagged

	s := newTestServer(t)
	rec := s.do(t, http.MethodPost, "/api/users/u1/heartbeat", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	hb := decode[HeartbeatDTO](t, rec)
	assert.Equal(t, snapshot.InitialVersion, hb.Version)
	assert.Equal(t, snapshot.VersionETag("u1", snapshot.InitialVersion), hb.ETag)
	assert.True(t, hb.ChangedSections.Snapshot, "a client without a version always reloads")

	rec = s.do(t, http.MethodPost, "/api/users/u1/heartbeat?version=1", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Body.String())

	s.create(t, "CASH", "USD", "ADD", "10")
	rec = s.do(t, http.MethodPost, "/api/users/u1/heartbeat?version=1", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	hb = decode[HeartbeatDTO](t, rec)
	assert.Equal(t, int64(2), hb.Version)
	assert.Equal(t, ChangedSectionsDTO{Snapshot: true}, hb.ChangedSections)
}

func TestHeartbeat_FlagsAnchorsAndNotifications(t *testing.T) {
	s := newTestServer(t)
	s.create(t, "SILVER", "", "ADD", "600")

	rec := s.do(t, http.MethodPost, "/api/users/u1/heartbeat?version=2", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	hb := decode[HeartbeatDTO](t, rec)
	assert.Equal(t, ChangedSectionsDTO{Anchors: true}, hb.ChangedSections, "the silver year started in this pass")

	_, err := s.store.InsertIfAbsent(context.Background(), zakat.Notification{
		ID: "n-1", UserID: "u1", Kind: zakat.KindZakatReminder, Title: "Zakat due",
		Priority: zakat.PriorityNormal, DedupKey: "n-1", CreatedAt: now,
	})
	require.NoError(t, err)

	rec = s.do(t, http.MethodPost, "/api/users/u1/heartbeat?version=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, ChangedSectionsDTO{Notifications: true}, decode[HeartbeatDTO](t, rec).ChangedSections)

	rec = s.do(t, http.MethodPost, "/api/users/u1/heartbeat?version=2&after=n-1", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code, "the client already has n-1")
}

func TestHeartbeat_InvalidVersion(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodPost, "/api/users/u1/heartbeat?version=abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// RATES AND SETTINGS
// =============================================================================

func TestUpdateSettings(t *testing.T) {
	s := newTestServer(t)

	bad := "dollars"
	rec := s.do(t, http.MethodPatch, "/api/users/u1/settings", UpdateSettingsRequest{DisplayCurrency: &bad})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_currency", decode[ErrorResponse](t, rec).Code)

	badOverrides := map[string]string{"usd": "4"}
	rec = s.do(t, http.MethodPatch, "/api/users/u1/settings", UpdateSettingsRequest{RateOverrides: &badOverrides})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_override", decode[ErrorResponse](t, rec).Code)

	myr := "myr"
	overrides := map[string]string{"usd->myr": "4.5"}
	rec = s.do(t, http.MethodPatch, "/api/users/u1/settings", UpdateSettingsRequest{DisplayCurrency: &myr, RateOverrides: &overrides})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	settings := decode[SettingsDTO](t, rec)
	assert.Equal(t, "MYR", settings.DisplayCurrency)
	assert.Equal(t, map[string]string{"USD->MYR": "4.5"}, settings.RateOverrides)
}

func TestGetRates_UsesOverride(t *testing.T) {
	s := newTestServer(t)
	s.create(t, "CASH", "USD", "ADD", "10")
	s.create(t, "CASH", "SYP", "ADD", "10")

	myr := "MYR"
	overrides := map[string]string{"USD->MYR": "4.5"}
	rec := s.do(t, http.MethodPatch, "/api/users/u1/settings", UpdateSettingsRequest{DisplayCurrency: &myr, RateOverrides: &overrides})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/users/u1/rates", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rates := decode[RatesDTO](t, rec)

	assert.Nil(t, rates.GoldPricePerGram)
	require.Len(t, rates.Rates, 2)
	bySource := map[string]RateDTO{}
	for _, r := range rates.Rates {
		bySource[r.Base] = r
	}
	require.NotNil(t, bySource["USD"].Rate)
	assert.Equal(t, "4.5", *bySource["USD"].Rate)
	assert.True(t, bySource["USD"].Overridden)
	assert.Nil(t, bySource["SYP"].Rate, "no SYP->MYR rate known")
}

func TestGetRates_ETag(t *testing.T) {
	// GIVEN: rates fetched once
	// WHEN: fetched again with the returned ETag
	// THEN: 304 until an override changes the body

	s := newTestServer(t)
	s.create(t, "CASH", "USD", "ADD", "10")

	rec := s.do(t, http.MethodGet, "/api/users/u1/rates", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rates := decode[RatesDTO](t, rec)
	require.NotEmpty(t, rates.ETag)
	assert.Contains(t, rates.ETag, snapshot.RatesETagPrefix)
	assert.Equal(t, `"`+rates.ETag+`"`, rec.Header().Get("ETag"))

	match := http.Header{"If-None-Match": {`W/"` + rates.ETag + `"`}}
	rec = s.doWithHeader(t, http.MethodGet, "/api/users/u1/rates", nil, match)
	assert.Equal(t, http.StatusNotModified, rec.Code)
	assert.Empty(t, rec.Body.String())

	overrides := map[string]string{"USD->SYP": "13000"}
	rec = s.do(t, http.MethodPatch, "/api/users/u1/settings", UpdateSettingsRequest{RateOverrides: &overrides})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.doWithHeader(t, http.MethodGet, "/api/users/u1/rates", nil, match)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEqual(t, rates.ETag, decode[RatesDTO](t, rec).ETag)
}

// =============================================================================
// ADMIN
// =============================================================================

func TestTriggerSweep(t *testing.T) {
	s := newTestServer(t)
	s.create(t, "SILVER", "", "ADD", "600")

	rec := s.do(t, http.MethodPost, "/api/admin/sweep", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	result := decode[SweepResultDTO](t, rec)
	assert.Equal(t, 1, result.Users)
	assert.Equal(t, 1, result.Succeeded)

	anchors, err := s.store.ListAnchors(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, zakat.StatusActive, anchors[1].Status)
}

func TestTriggerRefresh_Disabled(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodPost, "/api/admin/rates/refresh", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
