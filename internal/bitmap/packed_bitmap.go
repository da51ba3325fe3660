// This file implements packing of bitmap pixel data into rows of bytes, eight
// pixels per byte, most significant bit first. Binary grids are held in this
// form so large rasters stay small in memory.

package bitmap

import "fmt"

// a bitmap packed in memory
type PackedBitmap struct {
	data                  []byte
	width, height, stride int
}

const bitsPerWord = 8

func (b *PackedBitmap) Width() int {
	return b.width
}

func (b *PackedBitmap) Height() int {
	return b.height
}

func (b *PackedBitmap) Stride() int {
	return b.stride
}

func (b *PackedBitmap) Data() []byte {
	return b.data
}

// Gets a single bit from the bitmap at the (x, y) coordinate, returns either 0 or 1
func (b *PackedBitmap) GetBit(x int, y int) byte {
	index := (y * b.stride) + (x / bitsPerWord)
	return (b.data[index] >> (bitsPerWord - 1 - x%bitsPerWord)) & 1
}

func (b *PackedBitmap) String() string {
	return fmt.Sprintf("PackedBitmap(%d,%d)", b.width, b.height)
}

// Counts the set bits, i.e. the pixels that will be burnt.
func (b *PackedBitmap) Count() int {
	n := 0
	for _, word := range b.data {
		for ; word != 0; word &= word - 1 {
			n++
		}
	}
	return n
}

// Maps data from the generic bitmap structure and packs it. Trailing bits of
// the last byte in each row are left as zero.
func PackBitmap(b Bitmap) *PackedBitmap {
	width, height, stride := b.Width(), b.Height(), (b.Width()+bitsPerWord-1)/bitsPerWord
	data := make([]byte, stride*height)

	for y := range height {
		for x := range width {
			if b.GetBit(x, y)&1 == 1 {
				data[y*stride+x/bitsPerWord] |= 0x80 >> (x % bitsPerWord)
			}
		}
	}

	return &PackedBitmap{data, width, height, stride}
}
