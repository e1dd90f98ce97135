// Package render turns contribution data into display bitmaps.
package render

import (
	"time"

	"github.com/jwulff/indieclock-go/internal/domain"
)

// Calendar layout: one column per week, one row per weekday (Monday first).
// The eighth row is reserved and always background.
const (
	CalendarWeeks = domain.DisplayWidth
	DaysPerWeek   = 7
	ReservedRow   = DaysPerWeek
)

// RenderContributions lays the series out like GitHub's contribution graph,
// with the week containing today in the rightmost column. Dates missing from
// the series, and entries with unparseable dates, render as background.
// The result depends only on the series and the calendar date of today.
func RenderContributions(series domain.ContributionSeries, today time.Time) *domain.Bitmap {
	bitmap := domain.NewBitmapWithColor(domain.DisplayWidth, domain.DisplayHeight, ColorBg.Uint32())
	if len(series) == 0 {
		return bitmap
	}

	counts := series.Lookup()

	for week := 0; week < CalendarWeeks; week++ {
		for day := 0; day < DaysPerWeek; day++ {
			date := CellDate(today, week, day).Format(domain.DateLayout)
			bitmap.SetPixel(week, day, TierColor(counts[date]))
		}
	}

	return bitmap
}

// CurrentMonday returns midnight of the Monday starting today's week.
func CurrentMonday(today time.Time) time.Time {
	midnight := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, today.Location())
	weekday := (int(midnight.Weekday()) + 6) % 7 // 0 = Monday ... 6 = Sunday
	return midnight.AddDate(0, 0, -weekday)
}

// EarliestMonday returns the Monday shown in the leftmost column.
func EarliestMonday(today time.Time) time.Time {
	return CurrentMonday(today).AddDate(0, 0, -(CalendarWeeks-1)*DaysPerWeek)
}

// CellDate returns the calendar date drawn at column x, row y.
func CellDate(today time.Time, x, y int) time.Time {
	return EarliestMonday(today).AddDate(0, 0, x*DaysPerWeek+y)
}
