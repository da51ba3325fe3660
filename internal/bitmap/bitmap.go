// Package bitmap turns source images into the pixel grids the toolpath
// compiler walks. A Bitmap is a 1-bit view where a set bit means "burn"; a
// Grid is the prepared raster tagged with its quantisation and resolution.
package bitmap

import (
	"fmt"
)

type Bitmap interface {
	Width() int
	Height() int
	GetBit(x int, y int) byte
}

// PixelBitmap stores one byte per pixel. It is mostly useful for building
// small bitmaps by hand and for checking the packed representation.
type PixelBitmap struct {
	pixels        [][]byte
	width, height int
}

// NewPixelBitmap builds a bitmap from rows of 0/1 values. All rows must have
// the same length.
func NewPixelBitmap(rows [][]byte) (*PixelBitmap, error) {
	height := len(rows)
	width := 0
	if height > 0 {
		width = len(rows[0])
	}
	for y, row := range rows {
		if len(row) != width {
			return nil, fmt.Errorf("Row %d has %d pixels, expecting %d", y, len(row), width)
		}
	}
	return &PixelBitmap{pixels: rows, width: width, height: height}, nil
}

func (b *PixelBitmap) Width() int {
	return b.width
}

func (b *PixelBitmap) Height() int {
	return b.height
}

func (b *PixelBitmap) GetBit(x int, y int) byte {
	return b.pixels[y][x] & 1
}

func (b *PixelBitmap) String() string {
	return fmt.Sprintf("PixelBitmap(%d,%d)", b.width, b.height)
}
