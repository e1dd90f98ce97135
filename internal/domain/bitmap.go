// Package domain contains core domain types for the indieclock system.
package domain

import "fmt"

// Display dimensions of the AWTRIX matrix. Changing either is a breaking change
// to the device contract.
const (
	DisplayWidth  = 32
	DisplayHeight = 8
)

// RGB represents an RGB color with 8-bit channels.
type RGB struct {
	R, G, B uint8
}

// NewRGB creates a new RGB color.
func NewRGB(r, g, b uint8) RGB {
	return RGB{R: r, G: g, B: b}
}

// RGBFromUint32 unpacks a 0xRRGGBB value.
func RGBFromUint32(v uint32) RGB {
	return RGB{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v)}
}

// Uint32 packs the color as 0xRRGGBB, the form the display firmware expects.
func (c RGB) Uint32() uint32 {
	return uint32(c.R)<<16 | uint32(c.G)<<8 | uint32(c.B)
}

// Hex returns the color as a #rrggbb string.
func (c RGB) Hex() string {
	return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
}

// String returns a string representation of the RGB color.
func (c RGB) String() string {
	return fmt.Sprintf("RGB(%d, %d, %d)", c.R, c.G, c.B)
}

// Bitmap is an indexed-color pixel buffer. Pixels are row-major, one
// 0xRRGGBB value per cell.
type Bitmap struct {
	Width  int
	Height int
	Pixels []uint32
}

// NewBitmap creates a new bitmap filled with black.
func NewBitmap(width, height int) *Bitmap {
	return &Bitmap{
		Width:  width,
		Height: height,
		Pixels: make([]uint32, width*height),
	}
}

// NewBitmapWithColor creates a new bitmap filled with the specified color.
func NewBitmapWithColor(width, height int, color uint32) *Bitmap {
	b := NewBitmap(width, height)
	b.Fill(color)
	return b
}

// SetPixel sets a single pixel. Out of bounds coordinates are silently ignored.
func (b *Bitmap) SetPixel(x, y int, color uint32) {
	if x < 0 || x >= b.Width || y < 0 || y >= b.Height {
		return
	}
	b.Pixels[y*b.Width+x] = color
}

// GetPixel returns the color at the specified coordinates and whether they were in bounds.
func (b *Bitmap) GetPixel(x, y int) (uint32, bool) {
	if x < 0 || x >= b.Width || y < 0 || y >= b.Height {
		return 0, false
	}
	return b.Pixels[y*b.Width+x], true
}

// Fill fills the entire bitmap with the specified color.
func (b *Bitmap) Fill(color uint32) {
	for i := range b.Pixels {
		b.Pixels[i] = color
	}
}

// Equal reports whether two bitmaps have the same shape and pixels.
func (b *Bitmap) Equal(other *Bitmap) bool {
	if other == nil || b.Width != other.Width || b.Height != other.Height {
		return false
	}
	for i, p := range b.Pixels {
		if other.Pixels[i] != p {
			return false
		}
	}
	return true
}
