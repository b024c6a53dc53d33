/*
Package lunar converts between Gregorian dates and the Hijri (Islamic lunar)
calendar.

CALENDAR:
  Dates from 1 Muharram 1356 to the end of 1500 (1937-03-14 to 2077-11-16)
  use the Umm al-Qura calendar through go-hijri. Outside that table the
  arithmetic (tabular) calendar with the civil epoch is used: 1 Muharram 1 AH
  is Julian Day Number 1948440, years 2, 5, 7, 10, 13, 16, 18, 21, 24, 26
  and 29 of each 30-year cycle have 355 days.

ONE LUNAR YEAR:
  AddOneYear keeps month and day and clamps the day to 30. A day 30 landing
  on a 29-day month is accepted by ToSolar and resolves to the following
  day, so the anniversary drifts by at most one day.
*/
package lunar

import (
	"fmt"
	"time"

	hijri "github.com/hablullah/go-hijri"
)

const (
	islamicEpoch = 1948440 // JDN of 1 Muharram 1 AH
	unixEpochJDN = 2440588 // JDN of 1970-01-01
	secondsInDay = 24 * 60 * 60

	ummAlQuraFirstYear = 1356
	ummAlQuraLastYear  = 1500
)

// Date is a Hijri calendar date.
type Date struct {
	Year  int
	Month int
	Day   int
}

func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, d.Month, d.Day)
}

func (d Date) IsZero() bool { return d == Date{} }

// Parse reads a date written by String.
func Parse(s string) (Date, error) {
	var d Date
	if _, err := fmt.Sscanf(s, "%d-%d-%d", &d.Year, &d.Month, &d.Day); err != nil {
		return Date{}, fmt.Errorf("invalid lunar date %q: %w", s, err)
	}
	if err := d.validate(); err != nil {
		return Date{}, err
	}
	return d, nil
}

func (d Date) validate() error {
	if d.Year < 1 || d.Month < 1 || d.Month > 12 || d.Day < 1 || d.Day > 30 {
		return fmt.Errorf("invalid lunar date %s", d)
	}
	return nil
}

func (d Date) inUmmAlQura() bool {
	return d.Year >= ummAlQuraFirstYear && d.Year <= ummAlQuraLastYear
}

// ToLunar returns the Hijri date of t's UTC calendar day.
func ToLunar(t time.Time) Date {
	if uq, err := hijri.CreateUmmAlQuraDate(t); err == nil {
		return Date{Year: int(uq.Year), Month: int(uq.Month), Day: int(uq.Day)}
	}
	return fromJDN(jdnOf(t))
}

// ToSolar returns the Gregorian date (UTC midnight) of d.
func ToSolar(d Date) (time.Time, error) {
	if err := d.validate(); err != nil {
		return time.Time{}, err
	}
	if d.inUmmAlQura() {
		uq := hijri.UmmAlQuraDate{Year: int64(d.Year), Month: int64(d.Month), Day: int64(d.Day)}
		y, m, day := uq.ToGregorian().Date()
		return time.Date(y, m, day, 0, 0, 0, 0, time.UTC), nil
	}
	return timeOf(toJDN(d)), nil
}

// AddOneYear returns the same month and day one lunar year later, with the
// day clamped to 30.
func AddOneYear(d Date) Date {
	return Date{Year: d.Year + 1, Month: d.Month, Day: min(d.Day, 30)}
}

// MonthLength returns the number of days in a Hijri month.
func MonthLength(year, month int) int {
	first := Date{Year: year, Month: month, Day: 1}
	if first.inUmmAlQura() && first.validate() == nil {
		next := Date{Year: year, Month: month + 1, Day: 1}
		if month == 12 {
			next = Date{Year: year + 1, Month: 1, Day: 1}
		}
		if next.inUmmAlQura() {
			from, _ := ToSolar(first)
			to, _ := ToSolar(next)
			return int(to.Sub(from).Hours() / 24)
		}
	}
	return tabularMonthLength(year, month)
}

// =============================================================================
// TABULAR FALLBACK
// =============================================================================

func tabularMonthLength(year, month int) int {
	if month%2 == 1 || (month == 12 && isLeap(year)) {
		return 30
	}
	return 29
}

func isLeap(year int) bool {
	return floorMod(14+11*year, 30) < 11
}

func toJDN(d Date) int {
	return d.Day +
		(59*(d.Month-1)+1)/2 + // days before the month: ceil(29.5 * (m-1))
		(d.Year-1)*354 +
		floorDiv(3+11*d.Year, 30) +
		islamicEpoch - 1
}

func fromJDN(jdn int) Date {
	year := floorDiv(30*(jdn-islamicEpoch)+10646, 10631)
	startOfYear := toJDN(Date{Year: year, Month: 1, Day: 1})

	// month = ceil((jdn - (startOfYear + 29)) / 29.5) + 1, capped at 12
	month := -floorDiv(-2*(jdn-startOfYear-29), 59) + 1
	if month > 12 {
		month = 12
	}
	if month < 1 {
		month = 1
	}

	day := jdn - toJDN(Date{Year: year, Month: month, Day: 1}) + 1
	return Date{Year: year, Month: month, Day: day}
}

func jdnOf(t time.Time) int {
	y, m, d := t.UTC().Date()
	midnight := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return int(floorDiv64(midnight.Unix(), secondsInDay)) + unixEpochJDN
}

func timeOf(jdn int) time.Time {
	return time.Unix(int64(jdn-unixEpochJDN)*secondsInDay, 0).UTC()
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func floorMod(a, b int) int {
	return a - floorDiv(a, b)*b
}

func floorDiv64(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
