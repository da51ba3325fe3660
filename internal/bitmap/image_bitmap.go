package bitmap

import (
	"fmt"
	"image"
	"image/color"

	"github.com/makeworld-the-better-one/dither/v2"
)

type ImageBitmap struct {
	image *image.Paletted
	// colorMap[i] represents the bit value of the palette colour at index i.
	// If the first colour in the image is black, and a set bit is burnt by
	// the laser, then colorMap[0] == 1.
	colorMap [2]byte
}

func (b *ImageBitmap) Width() int {
	return b.image.Rect.Dx()
}

func (b *ImageBitmap) Height() int {
	return b.image.Rect.Dy()
}

func (b *ImageBitmap) GetBit(x int, y int) byte {
	origin := b.image.Rect.Min
	return b.colorMap[b.image.ColorIndexAt(origin.X+x, origin.Y+y)]
}

func FromPaletted(i *image.Paletted) (*ImageBitmap, error) {
	if len(i.Palette) != 2 {
		return nil, fmt.Errorf("Image passed to FromPaletted must have only 2 colours in palette")
	}

	var colorMap [2]byte

	// Determine which of the two colours in the image's palette is closest to white.
	if i.Palette.Index(color.White) == 0 {
		colorMap = [2]byte{0, 1}
	} else {
		colorMap = [2]byte{1, 0}
	}

	return &ImageBitmap{
		image:    i,
		colorMap: colorMap,
	}, nil
}

// thresholdBitmap marks every pixel darker than the cutoff as burnt.
type thresholdBitmap struct {
	image  *image.Gray
	cutoff uint8
}

func (b *thresholdBitmap) Width() int {
	return b.image.Rect.Dx()
}

func (b *thresholdBitmap) Height() int {
	return b.image.Rect.Dy()
}

func (b *thresholdBitmap) GetBit(x int, y int) byte {
	origin := b.image.Rect.Min
	if b.image.GrayAt(origin.X+x, origin.Y+y).Y < b.cutoff {
		return 1
	}
	return 0
}

// dither a grayscale image down to black and white with Floyd-Steinberg
// error diffusion
func ditherFloydSteinberg(g *image.Gray) (*ImageBitmap, error) {
	palette := []color.Color{color.Black, color.White}
	ditherer := dither.NewDitherer(palette)
	ditherer.Matrix = dither.FloydSteinberg
	ditheredImage := ditherer.DitherPaletted(g)
	if ditheredImage == nil {
		return nil, fmt.Errorf("Ditherer returned no image")
	}

	return FromPaletted(ditheredImage)
}
