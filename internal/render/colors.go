package render

import "github.com/jwulff/indieclock-go/internal/domain"

// Contribution palette, matching GitHub's dark-theme greens.
var (
	ColorBg = domain.NewRGB(0, 0, 0)

	ColorTierLowest    = domain.NewRGB(0x02, 0x3a, 0x16) // 1-2 contributions
	ColorTierLowMedium = domain.NewRGB(0x19, 0x6c, 0x2e) // 3-5
	ColorTierMedium    = domain.NewRGB(0x2d, 0xa0, 0x42) // 6-9
	ColorTierHighest   = domain.NewRGB(0x56, 0xd3, 0x64) // 10+
)

// Tier is a contribution intensity bucket.
type Tier int

const (
	TierNone Tier = iota
	TierLowest
	TierLowMedium
	TierMedium
	TierHighest
)

// ClassifyCount returns the tier for a daily contribution count.
func ClassifyCount(count int) Tier {
	switch {
	case count <= 0:
		return TierNone
	case count <= 2:
		return TierLowest
	case count <= 5:
		return TierLowMedium
	case count <= 9:
		return TierMedium
	default:
		return TierHighest
	}
}

// Color returns the display color of a tier.
func (t Tier) Color() domain.RGB {
	switch t {
	case TierLowest:
		return ColorTierLowest
	case TierLowMedium:
		return ColorTierLowMedium
	case TierMedium:
		return ColorTierMedium
	case TierHighest:
		return ColorTierHighest
	default:
		return ColorBg
	}
}

// TierColor maps a contribution count straight to its packed color.
func TierColor(count int) uint32 {
	return ClassifyCount(count).Color().Uint32()
}
