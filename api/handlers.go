/*
handlers.go - HTTP handlers for the ledger, zakat and report endpoints

PURPOSE:
  Exposes the ledger, the zakat engine and the report views over REST.
  Handlers parse the request, call one domain operation and serialize the
  result. No business rule lives here.

ENDPOINTS:
  Ledger:
    POST   /api/users/{user}/transactions                Record a movement
    GET    /api/users/{user}/transactions                Filtered, paged listing
    POST   /api/users/{user}/transactions/{id}/edit      Supersede with a replacement
    POST   /api/users/{user}/transactions/{id}/delete    Void
    GET    /api/users/{user}/holdings                    Balances snapshot

  Reports:
    GET    /api/users/{user}/portfolio                   Current value
    GET    /api/users/{user}/zakat                       Estimates and anchors
    GET    /api/users/{user}/reports/dashboard           Period sections

  Zakat and sync:
    GET    /api/users/{user}/snapshot                    Versioned home screen (ETag sv-*)
    POST   /api/users/{user}/heartbeat                   Evaluate anchors, emit reminders
    GET    /api/users/{user}/notifications               Newest first, or after a cursor
    POST   /api/users/{user}/notifications/{id}/read     Mark read

  Rates and settings:
    GET    /api/users/{user}/rates                       Effective rates and prices
    PATCH  /api/users/{user}/settings                    Display currency, overrides

  Admin:
    POST   /api/admin/sweep                              Evaluate every user
    POST   /api/admin/rates/refresh                      Fetch prices now

CONDITIONAL RESPONSES:
  - snapshot and rates answer 304 when If-None-Match carries the current ETag
  - heartbeat answers 204 when the client sent ?version= and nothing changed

ERROR HANDLING:
  - 400: validation, insufficient balance, already voided, bad period,
         bad currency or override
  - 404: unknown transaction or notification
  - 409: duplicate transaction id
  - 500: everything else
  - 503: an optional collaborator (refresher) is not configured

SECURITY NOTE:
  The user is taken from the path. Authentication happens in front of
  this service.

SEE ALSO:
  - dto.go:       request/response types
  - server.go:    router and middleware
  - scheduler.go: periodic sweep and refresh
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Eiad-Soufan/zakati-backend/ledger"
	"github.com/Eiad-Soufan/zakati-backend/money"
	"github.com/Eiad-Soufan/zakati-backend/observability"
	"github.com/Eiad-Soufan/zakati-backend/pricefeed"
	"github.com/Eiad-Soufan/zakati-backend/report"
	"github.com/Eiad-Soufan/zakati-backend/snapshot"
	"github.com/Eiad-Soufan/zakati-backend/valuation"
	"github.com/Eiad-Soufan/zakati-backend/zakat"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

const defaultNotificationLimit = 50

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Ledger        *ledger.Ledger
	Valuation     *valuation.Pipeline
	Settings      valuation.SettingsStore
	Engine        *zakat.Engine
	Reports       *report.Reporter
	Notifications zakat.NotificationStore
	Snapshots     *snapshot.Builder
	Sweeper       *zakat.Sweeper
	Refresher     *pricefeed.Refresher // nil when no provider is configured
	DB            Pinger
	Logger        *zap.Logger
	Metrics       *observability.Metrics
	Now           func() time.Time
}

func (h *Handler) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now().UTC()
}

func (h *Handler) logger() *zap.Logger {
	if h.Logger == nil {
		return zap.NewNop()
	}
	return h.Logger
}

func userParam(r *http.Request) ledger.UserID {
	return ledger.UserID(chi.URLParam(r, "user"))
}

// =============================================================================
// HEALTH
// =============================================================================

// Health returns 200 when the store answers, 503 otherwise.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if h.DB != nil {
		if err := h.DB.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// LEDGER
// =============================================================================

// CreateTransaction records one movement.
// POST /api/users/{user}/transactions
func (h *Handler) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	var req CreateTransactionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	qty, err := parseQuantity(req.Quantity)
	if err != nil {
		writeError(w, err)
		return
	}
	entry := ledger.Entry{
		UserID:     userParam(r),
		Asset:      ledger.AssetClass(strings.ToUpper(strings.TrimSpace(req.AssetType))),
		SubKey:     req.SubKey,
		Operation:  ledger.Operation(strings.ToUpper(strings.TrimSpace(req.Operation))),
		Quantity:   qty,
		Notes:      req.Notes,
		InvoiceURL: req.InvoiceURL,
	}
	if req.OccurredOn != "" {
		if entry.OccurredOn, err = parseDate("occurred_on", req.OccurredOn); err != nil {
			writeError(w, err)
			return
		}
	}

	tx, err := h.Ledger.Record(r.Context(), entry)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTransactionDTO(tx))
}

// ListTransactions returns one page of active transactions, newest first.
// GET /api/users/{user}/transactions?asset_type=&operation=&currency=&karat=&date_from=&date_to=&q=&page=&page_size=
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := ledger.Filter{
		Asset:     ledger.AssetClass(strings.ToUpper(q.Get("asset_type"))),
		Operation: ledger.Operation(strings.ToUpper(q.Get("operation"))),
		Currency:  q.Get("currency"),
		Search:    q.Get("q"),
	}

	var err error
	if f.Karat, err = intParam(q.Get("karat"), "karat"); err != nil {
		writeError(w, err)
		return
	}
	if f.Page, err = intParam(q.Get("page"), "page"); err != nil {
		writeError(w, err)
		return
	}
	if f.PageSize, err = intParam(q.Get("page_size"), "page_size"); err != nil {
		writeError(w, err)
		return
	}
	if v := q.Get("date_from"); v != "" {
		if f.From, err = parseDate("date_from", v); err != nil {
			writeError(w, err)
			return
		}
	}
	if v := q.Get("date_to"); v != "" {
		if f.To, err = parseDate("date_to", v); err != nil {
			writeError(w, err)
			return
		}
	}

	page, err := h.Ledger.Filtered(r.Context(), userParam(r), f)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, TransactionPageDTO{
		Items:    toTransactionDTOs(page.Items),
		Total:    page.Total,
		Page:     page.Page,
		PageSize: page.PageSize,
	})
}

// EditTransaction replaces a transaction with an edited copy.
// POST /api/users/{user}/transactions/{id}/edit
func (h *Handler) EditTransaction(w http.ResponseWriter, r *http.Request) {
	var req EditTransactionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	var c ledger.Changes
	if req.Operation != nil {
		op := ledger.Operation(strings.ToUpper(strings.TrimSpace(*req.Operation)))
		c.Operation = &op
	}
	c.SubKey = req.SubKey
	if req.Quantity != nil {
		qty, err := parseQuantity(*req.Quantity)
		if err != nil {
			writeError(w, err)
			return
		}
		c.Quantity = &qty
	}
	if req.OccurredOn != nil {
		on, err := parseDate("occurred_on", *req.OccurredOn)
		if err != nil {
			writeError(w, err)
			return
		}
		c.OccurredOn = &on
	}
	c.Notes = req.Notes
	c.InvoiceURL = req.InvoiceURL

	id := ledger.TransactionID(chi.URLParam(r, "id"))
	tx, err := h.Ledger.Edit(r.Context(), userParam(r), id, c, req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, EditResultDTO{Transaction: toTransactionDTO(tx), Supersedes: string(id)})
}

// DeleteTransaction voids a transaction.
// POST /api/users/{user}/transactions/{id}/delete
func (h *Handler) DeleteTransaction(w http.ResponseWriter, r *http.Request) {
	var req DeleteTransactionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	tx, err := h.Ledger.Delete(r.Context(), userParam(r), ledger.TransactionID(chi.URLParam(r, "id")), req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTO(tx))
}

// GetHoldings returns karat balances, pure gold, silver and wallets.
// GET /api/users/{user}/holdings
func (h *Handler) GetHoldings(w http.ResponseWriter, r *http.Request) {
	holdings, err := h.Ledger.Holdings(r.Context(), userParam(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toHoldingsDTO(holdings))
}

// =============================================================================
// REPORTS
// =============================================================================

// GET /api/users/{user}/portfolio
func (h *Handler) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	p, err := h.Reports.Portfolio(r.Context(), userParam(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPortfolioDTO(p))
}

// GET /api/users/{user}/zakat
func (h *Handler) GetZakatOverview(w http.ResponseWriter, r *http.Request) {
	o, err := h.Reports.Overview(r.Context(), userParam(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toZakatOverviewDTO(o))
}

// GetDashboard sums added, withdrawn and zakat-paid amounts over a period.
// GET /api/users/{user}/reports/dashboard?preset=&date_from=&date_to=&currency=
func (h *Handler) GetDashboard(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	period, err := report.ParsePeriod(q.Get("preset"), q.Get("date_from"), q.Get("date_to"), h.now())
	if err != nil {
		writeError(w, err)
		return
	}

	d, err := h.Reports.Dashboard(r.Context(), userParam(r), period, q.Get("currency"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toDashboardDTO(d))
}

// =============================================================================
// ZAKAT
// =============================================================================

// GetSnapshot returns the versioned home screen of the user.
// GET /api/users/{user}/snapshot
func (h *Handler) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := userParam(r)

	version, err := h.Snapshots.Version(ctx, userID)
	if err != nil {
		writeError(w, err)
		return
	}
	if etag := snapshot.VersionETag(userID, version); snapshot.Matches(r.Header.Get("If-None-Match"), etag) {
		writeNotModified(w, etag)
		return
	}

	snap, err := h.Snapshots.Build(ctx, userID)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("ETag", quoteETag(snap.ETag))
	writeJSON(w, http.StatusOK, toSnapshotDTO(snap))
}

// Heartbeat evaluates the user's anchors and returns any reminders created
// by this call. Clients call it on app open and then poll it with the
// version of their snapshot and the id of the last notification they saw.
// POST /api/users/{user}/heartbeat?version=&after=
func (h *Handler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := userParam(r)
	q := r.URL.Query()

	since, err := int64Param(q.Get("version"), "version")
	if err != nil {
		writeError(w, err)
		return
	}

	ev, err := h.Engine.Evaluate(ctx, userID)
	if err != nil {
		writeError(w, err)
		return
	}
	changes, err := h.Snapshots.Detect(ctx, userID, since, q.Get("after"), ev)
	if err != nil {
		writeError(w, err)
		return
	}
	if since > 0 && !changes.Any() {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	now := h.now()
	resp := HeartbeatDTO{
		Version:         changes.Version,
		ETag:            snapshot.VersionETag(userID, changes.Version),
		ChangedSections: toChangedSectionsDTO(changes),
		Anchors:         make([]AnchorDTO, 0, len(ev.Anchors)),
		Notifications:   toNotificationDTOs(ev.Notifications),
	}
	for _, a := range ev.Anchors {
		var rem *zakat.Remaining
		if v, ok := h.Engine.Remaining(a, now); ok {
			rem = &v
		}
		resp.Anchors = append(resp.Anchors, toAnchorDTO(a, rem))
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListNotifications returns the newest notifications first. With ?after=
// it returns only those stored after that id, oldest first, so a client
// can resume from the last one it has.
// GET /api/users/{user}/notifications?limit=&after=
func (h *Handler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := intParam(q.Get("limit"), "limit")
	if err != nil {
		writeError(w, err)
		return
	}
	if limit == 0 {
		limit = defaultNotificationLimit
	}

	var ns []zakat.Notification
	if _, cursor := q["after"]; cursor {
		ns, err = h.Notifications.NotificationsAfter(r.Context(), userParam(r), q.Get("after"), limit)
	} else {
		ns, err = h.Notifications.ListNotifications(r.Context(), userParam(r), limit)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toNotificationDTOs(ns))
}

// POST /api/users/{user}/notifications/{id}/read
func (h *Handler) MarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.Notifications.MarkRead(r.Context(), userParam(r), id, h.now()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "read", "id": id})
}

// =============================================================================
// RATES AND SETTINGS
// =============================================================================

// GetRates lists the effective rate from each held currency to the display
// currency, and metal prices per gram in the display currency.
// GET /api/users/{user}/rates
func (h *Handler) GetRates(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := userParam(r)

	settings, err := h.Settings.GetSettings(ctx, string(userID))
	if err != nil {
		writeError(w, err)
		return
	}
	wallets, err := h.Ledger.Wallets(ctx, userID)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := RatesDTO{
		Settings: toSettingsDTO(settings),
		Rates:    make([]RateDTO, 0, len(wallets)),
	}

	for metal, dst := range map[valuation.Metal]**string{
		valuation.Gold:   &resp.GoldPricePerGram,
		valuation.Silver: &resp.SilverPricePerGram,
	} {
		price, ok, err := h.Valuation.MetalPricePerGramIn(ctx, metal, settings.DisplayCurrency, settings.Overrides)
		if err != nil {
			writeError(w, err)
			return
		}
		if ok {
			*dst = stringOrNil(&price)
		}
	}

	for _, wallet := range wallets {
		if wallet.Currency == settings.DisplayCurrency {
			continue
		}
		rate, ok, err := h.Valuation.Rate(ctx, wallet.Currency, settings.DisplayCurrency, settings.Overrides)
		if err != nil {
			writeError(w, err)
			return
		}
		dto := RateDTO{Base: wallet.Currency, Target: settings.DisplayCurrency}
		_, dto.Overridden = settings.Overrides[valuation.Pair{Base: wallet.Currency, Target: settings.DisplayCurrency}]
		if ok {
			dto.Rate = stringOrNil(&rate)
		}
		resp.Rates = append(resp.Rates, dto)
	}

	etag, err := snapshot.ContentETag(snapshot.RatesETagPrefix, resp)
	if err != nil {
		writeError(w, err)
		return
	}
	if snapshot.Matches(r.Header.Get("If-None-Match"), etag) {
		writeNotModified(w, etag)
		return
	}
	resp.ETag = etag
	w.Header().Set("ETag", quoteETag(etag))
	writeJSON(w, http.StatusOK, resp)
}

// UpdateSettings validates and saves the display currency and overrides.
// PATCH /api/users/{user}/settings
func (h *Handler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := string(userParam(r))

	var req UpdateSettingsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	settings, err := h.Settings.GetSettings(ctx, userID)
	if err != nil {
		writeError(w, err)
		return
	}
	if req.DisplayCurrency != nil {
		if settings.DisplayCurrency, err = valuation.NormalizeCurrency(*req.DisplayCurrency); err != nil {
			writeError(w, err)
			return
		}
	}
	if req.RateOverrides != nil {
		if settings.Overrides, err = valuation.ParseOverrides(*req.RateOverrides); err != nil {
			writeError(w, err)
			return
		}
	}

	if err := h.Settings.SaveSettings(ctx, userID, settings); err != nil {
		writeError(w, err)
		return
	}
	h.logger().Info("settings updated",
		zap.String("user_id", userID),
		zap.String("display_currency", settings.DisplayCurrency),
		zap.Int("overrides", len(settings.Overrides)))
	writeJSON(w, http.StatusOK, toSettingsDTO(settings))
}

func toSettingsDTO(s valuation.Settings) SettingsDTO {
	raw := s.Overrides.Raw()
	if raw == nil {
		raw = map[string]string{}
	}
	return SettingsDTO{DisplayCurrency: s.DisplayCurrency, RateOverrides: raw}
}

// =============================================================================
// ADMIN
// =============================================================================

// TriggerSweep evaluates every user now.
// POST /api/admin/sweep
func (h *Handler) TriggerSweep(w http.ResponseWriter, r *http.Request) {
	result, err := h.Sweeper.Run(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSweepResultDTO(result))
}

// TriggerRefresh fetches prices now. A partial failure still reports what
// was stored, with status 502.
// POST /api/admin/rates/refresh
func (h *Handler) TriggerRefresh(w http.ResponseWriter, r *http.Request) {
	if h.Refresher == nil {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{
			Error: "no price provider configured",
			Code:  "refresh_disabled",
		})
		return
	}

	result, err := h.Refresher.Refresh(r.Context())
	resp := RefreshResultDTO{FXRates: result.FXRates, MetalPrices: result.MetalPrices}
	if err != nil {
		resp.Error = err.Error()
		writeJSON(w, http.StatusBadGateway, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeNotModified(w http.ResponseWriter, etag string) {
	w.Header().Set("ETag", quoteETag(etag))
	w.WriteHeader(http.StatusNotModified)
}

func quoteETag(etag string) string {
	return `"` + etag + `"`
}

// writeError maps domain errors to a status and a stable code.
func writeError(w http.ResponseWriter, err error) {
	resp := ErrorResponse{Error: err.Error()}
	status := http.StatusInternalServerError

	var insufficient *ledger.InsufficientBalanceError
	switch {
	case errors.As(err, &insufficient):
		status, resp.Code = http.StatusBadRequest, "insufficient_balance"
		resp.Balance = &BalanceErrorDTO{
			AssetType: string(insufficient.Asset),
			SubKey:    insufficient.SubKey,
			Current:   insufficient.Current.String(),
			Projected: insufficient.Projected.String(),
		}
	case errors.Is(err, ledger.ErrValidation):
		status, resp.Code = http.StatusBadRequest, "validation_error"
	case errors.Is(err, ledger.ErrAlreadyVoided):
		status, resp.Code = http.StatusBadRequest, "already_voided"
	case errors.Is(err, ledger.ErrDuplicateTransaction):
		status, resp.Code = http.StatusConflict, "duplicate_transaction"
	case ledger.IsNotFound(err), errors.Is(err, zakat.ErrNotificationNotFound):
		status, resp.Code = http.StatusNotFound, "not_found"
	case errors.Is(err, report.ErrInvalidPeriod):
		status, resp.Code = http.StatusBadRequest, "invalid_period"
	case errors.Is(err, valuation.ErrInvalidCurrency):
		status, resp.Code = http.StatusBadRequest, "invalid_currency"
	case errors.Is(err, valuation.ErrInvalidOverride):
		status, resp.Code = http.StatusBadRequest, "invalid_override"
	default:
		resp.Code = "internal_error"
		resp.Error = "internal error"
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return &ledger.ValidationError{Field: "body", Message: fmt.Sprintf("invalid JSON: %v", err)}
	}
	return nil
}

func parseQuantity(s string) (money.Money, error) {
	qty, err := money.Parse(strings.TrimSpace(s))
	if err != nil {
		return money.Money{}, &ledger.ValidationError{Field: "quantity", Message: "quantity must be a decimal number"}
	}
	return qty, nil
}

func parseDate(field, s string) (time.Time, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, &ledger.ValidationError{Field: field, Message: "expected YYYY-MM-DD"}
	}
	return t, nil
}

func int64Param(s, field string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n < 0 {
		return 0, &ledger.ValidationError{Field: field, Message: "expected a non-negative integer"}
	}
	return n, nil
}

func intParam(s, field string) (int, error) {
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, &ledger.ValidationError{Field: field, Message: "expected an integer"}
	}
	return n, nil
}
