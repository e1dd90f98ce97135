package render

import (
	"testing"
	"time"

	"github.com/jwulff/indieclock-go/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func date(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := time.ParseInLocation(domain.DateLayout, s, time.UTC)
	require.NoError(t, err)
	return d
}

func assertAllBackground(t *testing.T, bitmap *domain.Bitmap) {
	t.Helper()
	for i, p := range bitmap.Pixels {
		require.Equal(t, ColorBg.Uint32(), p, "pixel %d", i)
	}
}

func TestRenderContributionsShape(t *testing.T) {
	bitmap := RenderContributions(nil, time.Now())

	assert.Equal(t, 32, bitmap.Width)
	assert.Equal(t, 8, bitmap.Height)
	assert.Len(t, bitmap.Pixels, 256)
}

func TestRenderContributionsEmptySeries(t *testing.T) {
	assertAllBackground(t, RenderContributions(nil, time.Now()))
	assertAllBackground(t, RenderContributions(domain.ContributionSeries{}, time.Now()))
}

func TestRenderContributionsTuesdayScenario(t *testing.T) {
	series := domain.ContributionSeries{
		{Date: "2024-01-01", Count: 0},
		{Date: "2024-01-02", Count: 7},
	}
	today := date(t, "2024-01-02")

	bitmap := RenderContributions(series, today)

	monday, _ := bitmap.GetPixel(31, 0)
	tuesday, _ := bitmap.GetPixel(31, 1)
	assert.Equal(t, ColorBg.Uint32(), monday)
	assert.Equal(t, ColorTierMedium.Uint32(), tuesday)

	// Nothing else is lit.
	lit := 0
	for _, p := range bitmap.Pixels {
		if p != ColorBg.Uint32() {
			lit++
		}
	}
	assert.Equal(t, 1, lit)
}

func TestRenderContributionsIsDeterministic(t *testing.T) {
	series := domain.ContributionSeries{}
	start := date(t, "2023-06-01")
	for i := 0; i < 300; i++ {
		series = append(series, domain.ContributionDay{
			Date:  start.AddDate(0, 0, i).Format(domain.DateLayout),
			Count: (i * 7) % 13,
		})
	}
	today := date(t, "2024-03-20").Add(15 * time.Hour)

	first := RenderContributions(series, today)
	second := RenderContributions(series, today)

	assert.Equal(t, first.Pixels, second.Pixels)
}

func TestRenderContributionsIgnoresTimeOfDay(t *testing.T) {
	series := domain.ContributionSeries{{Date: "2024-01-02", Count: 12}}

	morning := RenderContributions(series, date(t, "2024-01-02").Add(time.Minute))
	evening := RenderContributions(series, date(t, "2024-01-02").Add(23*time.Hour))

	assert.True(t, morning.Equal(evening))
}

func TestRenderContributionsColumnsOldestFirst(t *testing.T) {
	today := date(t, "2024-01-07") // Sunday
	earliest := EarliestMonday(today)
	assert.Equal(t, "2023-05-29", earliest.Format(domain.DateLayout))

	series := domain.ContributionSeries{
		{Date: "2023-05-29", Count: 1},  // first column, Monday
		{Date: "2024-01-07", Count: 10}, // last column, Sunday
		{Date: "2023-05-28", Count: 10}, // outside the window
	}
	bitmap := RenderContributions(series, today)

	first, _ := bitmap.GetPixel(0, 0)
	last, _ := bitmap.GetPixel(31, 6)
	assert.Equal(t, ColorTierLowest.Uint32(), first)
	assert.Equal(t, ColorTierHighest.Uint32(), last)
}

func TestRenderContributionsReservedRowStaysBlank(t *testing.T) {
	today := date(t, "2024-01-07")
	series := domain.ContributionSeries{}
	for d := EarliestMonday(today); !d.After(today); d = d.AddDate(0, 0, 1) {
		series = append(series, domain.ContributionDay{Date: d.Format(domain.DateLayout), Count: 20})
	}

	bitmap := RenderContributions(series, today)

	for x := 0; x < bitmap.Width; x++ {
		p, _ := bitmap.GetPixel(x, ReservedRow)
		assert.Equal(t, ColorBg.Uint32(), p, "column %d", x)
		lit, _ := bitmap.GetPixel(x, 3)
		assert.Equal(t, ColorTierHighest.Uint32(), lit, "column %d", x)
	}
}

func TestRenderContributionsDegradesOnInvalidDates(t *testing.T) {
	series := domain.ContributionSeries{
		{Date: "garbage", Count: 50},
		{Date: "2024-01-02T08:00:00Z", Count: 4},
	}

	bitmap := RenderContributions(series, date(t, "2024-01-02"))

	tuesday, _ := bitmap.GetPixel(31, 1)
	assert.Equal(t, ColorTierLowMedium.Uint32(), tuesday)
}

func TestCellDate(t *testing.T) {
	today := date(t, "2024-01-02")
	assert.Equal(t, "2024-01-01", CellDate(today, 31, 0).Format(domain.DateLayout))
	assert.Equal(t, "2024-01-07", CellDate(today, 31, 6).Format(domain.DateLayout))
	assert.Equal(t, "2023-05-29", CellDate(today, 0, 0).Format(domain.DateLayout))
}

func TestCurrentMondayAcrossMonthBoundary(t *testing.T) {
	assert.Equal(t, "2024-02-26", CurrentMonday(date(t, "2024-03-03")).Format(domain.DateLayout))
	assert.Equal(t, "2024-03-04", CurrentMonday(date(t, "2024-03-04")).Format(domain.DateLayout))
}
