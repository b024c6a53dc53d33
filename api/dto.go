/*
dto.go - JSON request and response shapes

NAMING CONVENTION:
  - *DTO:     response types returned to clients
  - *Request: request bodies from clients

MONEY AND WEIGHTS:
  Every decimal crosses the wire as a string. Money values are rendered with
  exactly 2 fractional digits; weights and ledger quantities are rendered
  without trailing zeros. Missing prices are null, never "0.00".

VALIDATION:
  DTOs are pure data carriers. Parsing and validation happen in handlers and
  in the domain packages, which own the error types.

SEE ALSO:
  - handlers.go: uses these types
*/
package api

import (
	"time"

	"github.com/Eiad-Soufan/zakati-backend/ledger"
	"github.com/Eiad-Soufan/zakati-backend/money"
	"github.com/Eiad-Soufan/zakati-backend/report"
	"github.com/Eiad-Soufan/zakati-backend/snapshot"
	"github.com/Eiad-Soufan/zakati-backend/zakat"
)

const dateLayout = "2006-01-02"

// =============================================================================
// ERRORS
// =============================================================================

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string           `json:"error"`
	Code    string           `json:"code"`
	Details string           `json:"details,omitempty"`
	Balance *BalanceErrorDTO `json:"balance,omitempty"`
}

// BalanceErrorDTO explains a rejected mutation.
type BalanceErrorDTO struct {
	AssetType string `json:"asset_type"`
	SubKey    string `json:"sub_key"`
	Current   string `json:"current_balance"`
	Projected string `json:"projected_balance"`
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

type CreateTransactionRequest struct {
	AssetType  string `json:"asset_type"`
	SubKey     string `json:"sub_key"`
	Operation  string `json:"operation"`
	Quantity   string `json:"quantity"`
	OccurredOn string `json:"occurred_on"` // YYYY-MM-DD, defaults to today
	Notes      string `json:"notes"`
	InvoiceURL string `json:"invoice_url"`
}

// EditTransactionRequest replaces the fields that are present. Reason is
// required.
type EditTransactionRequest struct {
	Operation  *string `json:"operation"`
	SubKey     *string `json:"sub_key"`
	Quantity   *string `json:"quantity"`
	OccurredOn *string `json:"occurred_on"`
	Notes      *string `json:"notes"`
	InvoiceURL *string `json:"invoice_url"`
	Reason     string  `json:"reason"`
}

type DeleteTransactionRequest struct {
	Reason string `json:"reason"`
}

type TransactionDTO struct {
	ID           string `json:"id"`
	AssetType    string `json:"asset_type"`
	SubKey       string `json:"sub_key"`
	Operation    string `json:"operation"`
	Quantity     string `json:"quantity"`
	OccurredOn   string `json:"occurred_on"`
	Notes        string `json:"notes,omitempty"`
	InvoiceURL   string `json:"invoice_url,omitempty"`
	Supersedes   string `json:"supersedes,omitempty"`
	IsEdited     bool   `json:"is_edited"`
	EditReason   string `json:"edit_reason,omitempty"`
	Active       bool   `json:"active"`
	VoidedAt     string `json:"voided_at,omitempty"`
	VoidReason   string `json:"void_reason,omitempty"`
	SupersededBy string `json:"superseded_by,omitempty"`
	CreatedAt    string `json:"created_at"`
}

func toTransactionDTO(tx ledger.Transaction) TransactionDTO {
	dto := TransactionDTO{
		ID:         string(tx.ID),
		AssetType:  string(tx.Asset),
		SubKey:     tx.SubKey,
		Operation:  string(tx.Operation),
		Quantity:   tx.Quantity.String(),
		OccurredOn: tx.OccurredOn.Format(dateLayout),
		Notes:      tx.Notes,
		InvoiceURL: tx.InvoiceURL,
		Supersedes: string(tx.Supersedes),
		IsEdited:   tx.IsEdited,
		EditReason: tx.EditReason,
		Active:     tx.IsActive(),
		CreatedAt:  tx.CreatedAt.Format(time.RFC3339),
	}
	if tx.Voided != nil {
		dto.VoidedAt = tx.Voided.At.Format(time.RFC3339)
		dto.VoidReason = tx.Voided.Reason
		dto.SupersededBy = string(tx.Voided.SupersededBy)
	}
	return dto
}

func toTransactionDTOs(txs []ledger.Transaction) []TransactionDTO {
	dtos := make([]TransactionDTO, 0, len(txs))
	for _, tx := range txs {
		dtos = append(dtos, toTransactionDTO(tx))
	}
	return dtos
}

type TransactionPageDTO struct {
	Items    []TransactionDTO `json:"items"`
	Total    int              `json:"total"`
	Page     int              `json:"page"`
	PageSize int              `json:"page_size"`
}

// EditResultDTO is returned by edit: the replacement and the voided original.
type EditResultDTO struct {
	Transaction TransactionDTO `json:"transaction"`
	Supersedes  string         `json:"supersedes"`
}

// =============================================================================
// HOLDINGS AND PORTFOLIO
// =============================================================================

type KaratDTO struct {
	Karat int    `json:"karat"`
	Grams string `json:"grams"`
}

type WalletDTO struct {
	Currency string `json:"currency"`
	Balance  string `json:"balance"`
}

type HoldingsDTO struct {
	Gold          []KaratDTO  `json:"gold"`
	PureGoldGrams string      `json:"pure_gold_grams"`
	SilverGrams   string      `json:"silver_grams"`
	Wallets       []WalletDTO `json:"wallets"`
}

func toHoldingsDTO(h ledger.Holdings) HoldingsDTO {
	dto := HoldingsDTO{
		Gold:          make([]KaratDTO, 0, len(h.Gold)),
		PureGoldGrams: h.PureGoldGrams.Quantize(money.DisplayWeight).String(),
		SilverGrams:   h.SilverGrams.Quantize(money.DisplayWeight).String(),
		Wallets:       make([]WalletDTO, 0, len(h.Wallets)),
	}
	for _, k := range h.Gold {
		dto.Gold = append(dto.Gold, KaratDTO{Karat: k.Karat, Grams: k.Balance.String()})
	}
	for _, w := range h.Wallets {
		dto.Wallets = append(dto.Wallets, WalletDTO{Currency: w.Currency, Balance: w.Balance.String()})
	}
	return dto
}

type MetalValueDTO struct {
	Grams        string  `json:"grams"`
	PricePerGram *string `json:"price_per_gram"`
	Value        *string `json:"value"`
}

func toMetalValueDTO(mv report.MetalValue) MetalValueDTO {
	return MetalValueDTO{
		Grams:        mv.Grams.String(),
		PricePerGram: stringOrNil(mv.PricePerGram),
		Value:        fixedOrNil(mv.Value, money.DisplayMoney),
	}
}

type PortfolioDTO struct {
	DisplayCurrency string        `json:"display_currency"`
	Gold            MetalValueDTO `json:"gold"`
	Silver          MetalValueDTO `json:"silver"`
	Cash            string        `json:"cash"`
	Total           string        `json:"total"`
	Holdings        HoldingsDTO   `json:"holdings"`
}

func toPortfolioDTO(p report.Portfolio) PortfolioDTO {
	return PortfolioDTO{
		DisplayCurrency: p.DisplayCurrency,
		Gold:            toMetalValueDTO(p.Gold),
		Silver:          toMetalValueDTO(p.Silver),
		Cash:            p.Cash.StringFixed(money.DisplayMoney),
		Total:           p.Total.StringFixed(money.DisplayMoney),
		Holdings:        toHoldingsDTO(p.Holdings),
	}
}

func stringOrNil(m *money.Money) *string {
	if m == nil {
		return nil
	}
	s := m.String()
	return &s
}

func fixedOrNil(m *money.Money, places int32) *string {
	if m == nil {
		return nil
	}
	s := m.StringFixed(places)
	return &s
}

// =============================================================================
// ZAKAT
// =============================================================================

type RemainingDTO struct {
	Value int    `json:"value"`
	Unit  string `json:"unit"`
}

type AnchorDTO struct {
	Group     string        `json:"group"`
	Label     string        `json:"label"`
	Status    string        `json:"status"`
	StartDate string        `json:"start_date,omitempty"` // Hijri YYYY-MM-DD
	DueDate   string        `json:"due_date,omitempty"`
	Remaining *RemainingDTO `json:"remaining"`
}

func toAnchorDTO(a zakat.Anchor, rem *zakat.Remaining) AnchorDTO {
	dto := AnchorDTO{
		Group:  string(a.Group),
		Label:  a.Group.Label(),
		Status: string(a.Status),
	}
	if a.HasDates() {
		dto.StartDate = a.Start.String()
		dto.DueDate = a.Due.String()
	}
	if rem != nil {
		dto.Remaining = &RemainingDTO{Value: rem.Value, Unit: rem.Unit}
	}
	return dto
}

type ZakatOverviewDTO struct {
	Portfolio      PortfolioDTO `json:"portfolio"`
	GoldEstimate   *string      `json:"gold_estimate"`
	SilverEstimate *string      `json:"silver_estimate"`
	CashEstimate   string       `json:"cash_estimate"`
	TotalEstimate  string       `json:"total_estimate"`
	Anchors        []AnchorDTO  `json:"anchors"`
}

func toZakatOverviewDTO(o report.Overview) ZakatOverviewDTO {
	dto := ZakatOverviewDTO{
		Portfolio:      toPortfolioDTO(o.Portfolio),
		GoldEstimate:   fixedOrNil(o.GoldEstimate, money.DisplayMoney),
		SilverEstimate: fixedOrNil(o.SilverEstimate, money.DisplayMoney),
		CashEstimate:   o.CashEstimate.StringFixed(money.DisplayMoney),
		TotalEstimate:  o.TotalEstimate.StringFixed(money.DisplayMoney),
		Anchors:        make([]AnchorDTO, 0, len(o.Anchors)),
	}
	for _, a := range o.Anchors {
		dto.Anchors = append(dto.Anchors, toAnchorDTO(a.Anchor, a.Remaining))
	}
	return dto
}

type NotificationDTO struct {
	ID        string  `json:"id"`
	Kind      string  `json:"kind"`
	Title     string  `json:"title"`
	Body      string  `json:"body"`
	Priority  string  `json:"priority"`
	DedupKey  string  `json:"dedup_key"`
	CreatedAt string  `json:"created_at"`
	ReadAt    *string `json:"read_at"`
}

func toNotificationDTOs(ns []zakat.Notification) []NotificationDTO {
	dtos := make([]NotificationDTO, 0, len(ns))
	for _, n := range ns {
		dto := NotificationDTO{
			ID:        n.ID,
			Kind:      n.Kind,
			Title:     n.Title,
			Body:      n.Body,
			Priority:  string(n.Priority),
			DedupKey:  n.DedupKey,
			CreatedAt: n.CreatedAt.Format(time.RFC3339),
		}
		if n.ReadAt != nil {
			s := n.ReadAt.Format(time.RFC3339)
			dto.ReadAt = &s
		}
		dtos = append(dtos, dto)
	}
	return dtos
}

// HeartbeatDTO reports the anchors after evaluation, the reminders that
// were created by this call and which sections the client should reload.
type HeartbeatDTO struct {
	Version         int64              `json:"version"`
	ETag            string             `json:"etag"`
	ChangedSections ChangedSectionsDTO `json:"changed_sections"`
	Anchors         []AnchorDTO        `json:"anchors"`
	Notifications   []NotificationDTO  `json:"notifications"`
}

type ChangedSectionsDTO struct {
	Snapshot      bool `json:"snapshot"`
	Anchors       bool `json:"anchors"`
	Notifications bool `json:"notifications"`
}

func toChangedSectionsDTO(c snapshot.Changes) ChangedSectionsDTO {
	return ChangedSectionsDTO{Snapshot: c.Snapshot, Anchors: c.Anchors, Notifications: c.Notifications}
}

// SnapshotDTO is the client's home screen in one response.
type SnapshotDTO struct {
	Version       int64             `json:"version"`
	ETag          string            `json:"etag"`
	GeneratedAt   string            `json:"generated_at"`
	Settings      SettingsDTO       `json:"settings"`
	Holdings      HoldingsDTO       `json:"holdings"`
	Transactions  []TransactionDTO  `json:"transactions"`
	Notifications []NotificationDTO `json:"notifications"`
}

func toSnapshotDTO(s snapshot.Snapshot) SnapshotDTO {
	return SnapshotDTO{
		Version:       s.Version,
		ETag:          s.ETag,
		GeneratedAt:   s.GeneratedAt.Format(time.RFC3339),
		Settings:      toSettingsDTO(s.Settings),
		Holdings:      toHoldingsDTO(s.Holdings),
		Transactions:  toTransactionDTOs(s.Transactions),
		Notifications: toNotificationDTOs(s.Notifications),
	}
}

// =============================================================================
// DASHBOARD
// =============================================================================

type SectionDTO struct {
	GoldValue     string `json:"gold_value"`
	SilverValue   string `json:"silver_value"`
	CashValue     string `json:"cash_value"`
	Total         string `json:"total"`
	GoldPureGrams string `json:"gold_pure_grams"`
	SilverGrams   string `json:"silver_grams"`
}

func toSectionDTO(s report.Section) SectionDTO {
	return SectionDTO{
		GoldValue:     s.GoldValue.StringFixed(money.DisplayMoney),
		SilverValue:   s.SilverValue.StringFixed(money.DisplayMoney),
		CashValue:     s.CashValue.StringFixed(money.DisplayMoney),
		Total:         s.Total.StringFixed(money.DisplayMoney),
		GoldPureGrams: s.GoldPureGrams.String(),
		SilverGrams:   s.SilverGrams.String(),
	}
}

type DashboardDTO struct {
	DisplayCurrency string     `json:"display_currency"`
	Preset          string     `json:"preset"`
	DateFrom        string     `json:"date_from"`
	DateTo          string     `json:"date_to"`
	Added           SectionDTO `json:"added"`
	Withdrawn       SectionDTO `json:"withdrawn"`
	ZakatPaid       SectionDTO `json:"zakat_paid"`
	GeneratedAt     string     `json:"generated_at"`
}

func toDashboardDTO(d report.Dashboard) DashboardDTO {
	return DashboardDTO{
		DisplayCurrency: d.DisplayCurrency,
		Preset:          d.Period.Preset,
		DateFrom:        d.Period.From.Format(dateLayout),
		DateTo:          d.Period.To.Format(dateLayout),
		Added:           toSectionDTO(d.Added),
		Withdrawn:       toSectionDTO(d.Withdrawn),
		ZakatPaid:       toSectionDTO(d.ZakatPaid),
		GeneratedAt:     d.GeneratedAt.Format(time.RFC3339),
	}
}

// =============================================================================
// RATES AND SETTINGS
// =============================================================================

// UpdateSettingsRequest changes the fields that are present. RateOverrides
// replaces the whole override map; an empty object clears it.
type UpdateSettingsRequest struct {
	DisplayCurrency *string            `json:"display_currency"`
	RateOverrides   *map[string]string `json:"rate_overrides"`
}

type SettingsDTO struct {
	DisplayCurrency string            `json:"display_currency"`
	RateOverrides   map[string]string `json:"rate_overrides"`
}

// RateDTO is the effective rate from one wallet currency to the display
// currency. Rate is null when none is known.
type RateDTO struct {
	Base       string  `json:"base"`
	Target     string  `json:"target"`
	Rate       *string `json:"rate"`
	Overridden bool    `json:"overridden"`
}

// RatesDTO carries its own ETag; it is computed with ETag empty.
type RatesDTO struct {
	Settings           SettingsDTO `json:"settings"`
	GoldPricePerGram   *string     `json:"gold_price_per_gram"`
	SilverPricePerGram *string     `json:"silver_price_per_gram"`
	Rates              []RateDTO   `json:"rates"`
	ETag               string      `json:"etag,omitempty"`
}

// =============================================================================
// ADMIN
// =============================================================================

type SweepResultDTO struct {
	Users      int               `json:"users"`
	Succeeded  int               `json:"succeeded"`
	Failed     int               `json:"failed"`
	Reminders  int               `json:"reminders"`
	Failures   map[string]string `json:"failures,omitempty"`
	DurationMS int64             `json:"duration_ms"`
}

func toSweepResultDTO(r zakat.SweepResult) SweepResultDTO {
	dto := SweepResultDTO{
		Users:      r.Users,
		Succeeded:  r.Succeeded,
		Failed:     r.Failed,
		Reminders:  r.Reminders,
		DurationMS: r.Duration.Milliseconds(),
	}
	if len(r.Failures) > 0 {
		dto.Failures = make(map[string]string, len(r.Failures))
		for u, msg := range r.Failures {
			dto.Failures[string(u)] = msg
		}
	}
	return dto
}

type RefreshResultDTO struct {
	FXRates     int    `json:"fx_rates"`
	MetalPrices int    `json:"metal_prices"`
	Error       string `json:"error,omitempty"`
}
