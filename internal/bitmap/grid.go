package bitmap

import (
	"fmt"
	"image"
	"image/color"
)

// Mode says how the cells of a Grid are to be read.
type Mode int

const (
	// Binary cells are either burnt or left alone.
	Binary Mode = iota
	// Gray8 cells hold an 8-bit luminance; darker means more power.
	Gray8
)

func (m Mode) String() string {
	switch m {
	case Binary:
		return "binary"
	case Gray8:
		return "gray8"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// Grid is a prepared raster ready for toolpath compilation. Row 0 is the top
// of the image.
type Grid struct {
	Mode        Mode
	PixelsPerMM float64

	width, height int
	bits          *PackedBitmap
	gray          []uint8
}

// NewBinaryGrid packs b into a Binary grid.
func NewBinaryGrid(b Bitmap, pixelsPerMM float64) *Grid {
	return &Grid{
		Mode:        Binary,
		PixelsPerMM: pixelsPerMM,
		width:       b.Width(),
		height:      b.Height(),
		bits:        PackBitmap(b),
	}
}

// NewGrayGrid copies the luminance values of img into a Gray8 grid.
func NewGrayGrid(img *image.Gray, pixelsPerMM float64) *Grid {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	gray := make([]uint8, width*height)
	for y := range height {
		for x := range width {
			gray[y*width+x] = img.GrayAt(bounds.Min.X+x, bounds.Min.Y+y).Y
		}
	}

	return &Grid{
		Mode:        Gray8,
		PixelsPerMM: pixelsPerMM,
		width:       width,
		height:      height,
		gray:        gray,
	}
}

func (g *Grid) Width() int {
	return g.width
}

func (g *Grid) Height() int {
	return g.height
}

// Value reports the luminance of a cell. Binary cells read as 0 when burnt
// and 255 otherwise.
func (g *Grid) Value(x, y int) uint8 {
	if g.Mode == Binary {
		if g.bits.GetBit(x, y) == 1 {
			return 0
		}
		return 255
	}
	return g.gray[y*g.width+x]
}

// Burn reports whether the cell asks for any laser power at all.
func (g *Grid) Burn(x, y int) bool {
	return g.Value(x, y) < 255
}

// Intensity is the burn intent of a cell in [0,1].
func (g *Grid) Intensity(x, y int) float64 {
	if g.Mode == Binary {
		if g.bits.GetBit(x, y) == 1 {
			return 1
		}
		return 0
	}
	return float64(255-g.gray[y*g.width+x]) / 255
}

// Image renders the grid back into a grayscale image, for previews.
func (g *Grid) Image() *image.Gray {
	img := image.NewGray(image.Rect(0, 0, g.width, g.height))
	for y := range g.height {
		for x := range g.width {
			img.SetGray(x, y, color.Gray{Y: g.Value(x, y)})
		}
	}
	return img
}

func (g *Grid) String() string {
	return fmt.Sprintf("Grid(%s,%d,%d@%gppmm)", g.Mode, g.width, g.height, g.PixelsPerMM)
}
