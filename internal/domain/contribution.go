package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
)

// DateLayout is the calendar date format used by contribution series.
const DateLayout = "2006-01-02"

// ErrRenderInputInvalid marks a contribution entry the renderer had to skip.
var ErrRenderInputInvalid = errors.New("invalid contribution input")

// ContributionDay is a single (date, count) pair.
type ContributionDay struct {
	Date  string `json:"date"`
	Count int    `json:"contributionCount"`
}

// UnmarshalJSON accepts both the GitHub GraphQL shape
// {"date","contributionCount"} and the short {"date"|"day","count"} form.
// contributionCount wins over count and date wins over day.
func (d *ContributionDay) UnmarshalJSON(data []byte) error {
	var raw struct {
		Date              *string `json:"date"`
		Day               *string `json:"day"`
		ContributionCount *int    `json:"contributionCount"`
		Count             *int    `json:"count"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*d = ContributionDay{}
	switch {
	case raw.Date != nil:
		d.Date = *raw.Date
	case raw.Day != nil:
		d.Date = *raw.Day
	}
	switch {
	case raw.ContributionCount != nil:
		d.Count = *raw.ContributionCount
	case raw.Count != nil:
		d.Count = *raw.Count
	}
	return nil
}

// ContributionSeries is an ordered collection of contribution days.
type ContributionSeries []ContributionDay

// NormalizeDate returns the YYYY-MM-DD part of a date or ISO timestamp.
func NormalizeDate(date string) (string, error) {
	if len(date) > len(DateLayout) {
		date = date[:len(DateLayout)]
	}
	if _, err := time.Parse(DateLayout, date); err != nil {
		return "", fmt.Errorf("%w: date %q", ErrRenderInputInvalid, date)
	}
	return date, nil
}

// Lookup maps each valid date to its count. Invalid entries are skipped and
// negative counts clamp to zero.
func (s ContributionSeries) Lookup() map[string]int {
	counts := make(map[string]int, len(s))
	for _, day := range s {
		date, err := NormalizeDate(day.Date)
		if err != nil {
			continue
		}
		counts[date] = max(day.Count, 0)
	}
	return counts
}

// Validate reports every entry Lookup would skip, joined into one error.
func (s ContributionSeries) Validate() error {
	var errs []error
	for i, day := range s {
		if _, err := NormalizeDate(day.Date); err != nil {
			errs = append(errs, fmt.Errorf("entry %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

// Total returns the sum of all counts.
func (s ContributionSeries) Total() int {
	total := 0
	for _, day := range s {
		if day.Count > 0 {
			total += day.Count
		}
	}
	return total
}
