package render

import (
	"fmt"
	"strings"

	"github.com/jwulff/indieclock-go/internal/domain"
)

// Preview renders the bitmap as ASCII art for terminals.
func Preview(bitmap *domain.Bitmap) string {
	var sb strings.Builder

	sb.WriteString("  ┌" + strings.Repeat("─", bitmap.Width) + "┐\n")
	for y := 0; y < bitmap.Height; y++ {
		fmt.Fprintf(&sb, "%2d│", y)
		for x := 0; x < bitmap.Width; x++ {
			pixel, _ := bitmap.GetPixel(x, y)
			sb.WriteString(shade(domain.RGBFromUint32(pixel)))
		}
		sb.WriteString("│\n")
	}
	sb.WriteString("  └" + strings.Repeat("─", bitmap.Width) + "┘\n")

	return sb.String()
}

func shade(c domain.RGB) string {
	brightness := (int(c.R) + int(c.G) + int(c.B)) / 3

	switch {
	case brightness > 120:
		return "█"
	case brightness > 80:
		return "▓"
	case brightness > 40:
		return "▒"
	case brightness > 10:
		return "░"
	default:
		return " "
	}
}
