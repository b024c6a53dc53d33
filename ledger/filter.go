package ledger

import (
	"context"
	"strings"
	"time"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 200
)

// Filter narrows a listing of active transactions. Zero values match all.
type Filter struct {
	Asset     AssetClass
	Operation Operation
	Currency  string // cash sub-key
	Karat     int    // gold sub-key
	From      time.Time
	To        time.Time // inclusive
	Search    string    // case-insensitive substring of Notes
	Page      int       // 1-based
	PageSize  int
}

// Page is one slice of a filtered listing.
type Page struct {
	Items    []Transaction
	Total    int
	Page     int
	PageSize int
}

func (f Filter) matches(tx Transaction) bool {
	if f.Asset != "" && tx.Asset != f.Asset {
		return false
	}
	if f.Operation != "" && tx.Operation != f.Operation {
		return false
	}
	if f.Currency != "" && (tx.Asset != AssetCash || tx.SubKey != strings.ToUpper(f.Currency)) {
		return false
	}
	if f.Karat != 0 && (tx.Asset != AssetGold || tx.SubKey != KaratSubKey(f.Karat)) {
		return false
	}
	if !f.From.IsZero() && tx.OccurredOn.Before(DateOf(f.From)) {
		return false
	}
	if !f.To.IsZero() && tx.OccurredOn.After(DateOf(f.To)) {
		return false
	}
	if f.Search != "" && !strings.Contains(strings.ToLower(tx.Notes), strings.ToLower(f.Search)) {
		return false
	}
	return true
}

// Matching returns every active transaction matching f, newest first.
// Page and PageSize are ignored.
func (l *Ledger) Matching(ctx context.Context, userID UserID, f Filter) ([]Transaction, error) {
	active, err := l.Active(ctx, userID)
	if err != nil {
		return nil, err
	}

	var matched []Transaction
	for _, tx := range active {
		if f.matches(tx) {
			matched = append(matched, tx)
		}
	}
	return matched, nil
}

// Filtered returns one page of active transactions matching f, newest first.
func (l *Ledger) Filtered(ctx context.Context, userID UserID, f Filter) (Page, error) {
	matched, err := l.Matching(ctx, userID, f)
	if err != nil {
		return Page{}, err
	}

	page, size := f.Page, f.PageSize
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = DefaultPageSize
	}
	if size > MaxPageSize {
		size = MaxPageSize
	}

	start := (page - 1) * size
	if start > len(matched) {
		start = len(matched)
	}
	end := start + size
	if end > len(matched) {
		end = len(matched)
	}

	return Page{
		Items:    matched[start:end],
		Total:    len(matched),
		Page:     page,
		PageSize: size,
	}, nil
}
