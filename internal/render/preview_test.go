package render

import (
	"strings"
	"testing"

	"github.com/jwulff/indieclock-go/internal/domain"
	"github.com/stretchr/testify/assert"
)

func TestPreviewDimensions(t *testing.T) {
	out := Preview(domain.NewBitmap(domain.DisplayWidth, domain.DisplayHeight))
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")

	// Borders plus one line per row
	assert.Len(t, lines, domain.DisplayHeight+2)
	assert.Contains(t, lines[1], "│"+strings.Repeat(" ", domain.DisplayWidth)+"│")
}

func TestPreviewShadesTiers(t *testing.T) {
	bitmap := domain.NewBitmap(4, 1)
	bitmap.SetPixel(0, 0, ColorTierLowest.Uint32())
	bitmap.SetPixel(1, 0, ColorTierLowMedium.Uint32())
	bitmap.SetPixel(2, 0, ColorTierMedium.Uint32())
	bitmap.SetPixel(3, 0, ColorTierHighest.Uint32())

	out := Preview(bitmap)

	assert.Contains(t, out, "░▒▓█")
}
