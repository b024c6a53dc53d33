package report

import (
	"errors"
	"fmt"
	"time"

	"github.com/Eiad-Soufan/zakati-backend/ledger"
)

const (
	PresetLastMonth    = "last_month"
	PresetLast6Months  = "last_6_months"
	PresetLastYear     = "last_year"
	PresetCustom       = "custom"
	presetDateLayout   = "2006-01-02"
	sixMonthsApproxDay = 6 * 30
)

var ErrInvalidPeriod = errors.New("invalid period")

// Period is an inclusive range of calendar dates.
type Period struct {
	Preset string
	From   time.Time
	To     time.Time
}

// ParsePeriod resolves a preset, or a custom from/to pair, against today.
//
//	last_month:    first day of the current month .. today
//	last_6_months: today - 180 days .. today
//	last_year:     1 January of the current year .. today
//	custom:        from .. to, both YYYY-MM-DD
//
// With no preset, from and to are used when both are given; otherwise the
// period falls back to last_month.
func ParsePeriod(preset, from, to string, today time.Time) (Period, error) {
	today = ledger.DateOf(today)
	y, m, _ := today.Date()

	switch preset {
	case PresetLastMonth:
		return Period{Preset: preset, From: time.Date(y, m, 1, 0, 0, 0, 0, time.UTC), To: today}, nil
	case PresetLast6Months:
		return Period{Preset: preset, From: today.AddDate(0, 0, -sixMonthsApproxDay), To: today}, nil
	case PresetLastYear:
		return Period{Preset: preset, From: time.Date(y, time.January, 1, 0, 0, 0, 0, time.UTC), To: today}, nil
	case "", PresetCustom:
	default:
		return Period{}, fmt.Errorf("%w: unknown preset %q", ErrInvalidPeriod, preset)
	}

	if from == "" || to == "" {
		if preset == PresetCustom {
			return Period{}, fmt.Errorf("%w: custom period needs date_from and date_to", ErrInvalidPeriod)
		}
		return ParsePeriod(PresetLastMonth, "", "", today)
	}

	start, err := time.Parse(presetDateLayout, from)
	if err != nil {
		return Period{}, fmt.Errorf("%w: date_from %q", ErrInvalidPeriod, from)
	}
	end, err := time.Parse(presetDateLayout, to)
	if err != nil {
		return Period{}, fmt.Errorf("%w: date_to %q", ErrInvalidPeriod, to)
	}
	if end.Before(start) {
		return Period{}, fmt.Errorf("%w: date_to before date_from", ErrInvalidPeriod)
	}
	return Period{Preset: PresetCustom, From: start, To: end}, nil
}
