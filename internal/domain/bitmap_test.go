package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRGBUint32(t *testing.T) {
	rgb := NewRGB(0x56, 0xd3, 0x64)
	assert.Equal(t, uint32(0x56d364), rgb.Uint32())
	assert.Equal(t, rgb, RGBFromUint32(0x56d364))
}

func TestRGBHex(t *testing.T) {
	assert.Equal(t, "#ffffff", NewRGB(255, 255, 255).Hex())
	assert.Equal(t, "#023a16", NewRGB(0x02, 0x3a, 0x16).Hex())
}

func TestRGBString(t *testing.T) {
	rgb := NewRGB(255, 128, 64)
	assert.Equal(t, "RGB(255, 128, 64)", rgb.String())
}

func TestNewBitmap(t *testing.T) {
	bitmap := NewBitmap(DisplayWidth, DisplayHeight)

	assert.Equal(t, 32, bitmap.Width)
	assert.Equal(t, 8, bitmap.Height)
	assert.Len(t, bitmap.Pixels, 256)
	for _, p := range bitmap.Pixels {
		assert.Equal(t, uint32(0), p)
	}
}

func TestNewBitmapWithColor(t *testing.T) {
	bitmap := NewBitmapWithColor(4, 2, 0xff0000)

	for y := 0; y < 2; y++ {
		for x := 0; x < 4; x++ {
			p, ok := bitmap.GetPixel(x, y)
			assert.True(t, ok)
			assert.Equal(t, uint32(0xff0000), p, "pixel at (%d, %d)", x, y)
		}
	}
}

func TestBitmapSetGetPixelRowMajor(t *testing.T) {
	bitmap := NewBitmap(32, 8)

	bitmap.SetPixel(3, 5, 0x0000ff)

	p, ok := bitmap.GetPixel(3, 5)
	assert.True(t, ok)
	assert.Equal(t, uint32(0x0000ff), p)
	assert.Equal(t, uint32(0x0000ff), bitmap.Pixels[5*32+3])
}

func TestBitmapOutOfBounds(t *testing.T) {
	bitmap := NewBitmap(8, 8)

	// Should not panic, silently ignore out of bounds
	bitmap.SetPixel(-1, 0, 1)
	bitmap.SetPixel(0, -1, 1)
	bitmap.SetPixel(8, 0, 1)
	bitmap.SetPixel(0, 8, 1)

	_, ok := bitmap.GetPixel(8, 0)
	assert.False(t, ok)
	_, ok = bitmap.GetPixel(-1, -1)
	assert.False(t, ok)
	assert.True(t, bitmap.Equal(NewBitmap(8, 8)))
}

func TestBitmapEqual(t *testing.T) {
	a := NewBitmap(2, 2)
	assert.True(t, a.Equal(NewBitmap(2, 2)))
	assert.False(t, a.Equal(NewBitmap(2, 3)))
	assert.False(t, a.Equal(nil))
}
