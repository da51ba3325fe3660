package bitmap

import (
	"errors"
	"fmt"
	"image"
	"math"
	"strings"

	"github.com/nfnt/resize"
	"golang.org/x/image/draw"
)

var (
	ErrImageLoad         = errors.New("image could not be loaded")
	ErrInvalidParameters = errors.New("invalid image parameters")
)

// Quantize selects how luminance is reduced before compilation.
type Quantize int

const (
	Threshold Quantize = iota
	Dither
	Grayscale
)

func (q Quantize) String() string {
	switch q {
	case Threshold:
		return "threshold"
	case Dither:
		return "dither"
	case Grayscale:
		return "grayscale"
	default:
		return fmt.Sprintf("Quantize(%d)", int(q))
	}
}

func ParseQuantize(s string) (Quantize, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "threshold":
		return Threshold, nil
	case "dither":
		return Dither, nil
	case "grayscale", "greyscale":
		return Grayscale, nil
	}
	return 0, fmt.Errorf("%w: unknown mode %q, expecting threshold, dither or grayscale", ErrInvalidParameters, s)
}

// Resampler is the filter used to scale the source to the target grid.
type Resampler int

const (
	Lanczos Resampler = iota
	CatmullRom
)

func (r Resampler) String() string {
	switch r {
	case Lanczos:
		return "lanczos"
	case CatmullRom:
		return "catmullrom"
	default:
		return fmt.Sprintf("Resampler(%d)", int(r))
	}
}

func ParseResampler(s string) (Resampler, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "lanczos":
		return Lanczos, nil
	case "catmullrom", "catmull-rom":
		return CatmullRom, nil
	}
	return 0, fmt.Errorf("%w: unknown resampler %q", ErrInvalidParameters, s)
}

const thresholdCutoff = 128

// MaxPixels bounds the target grid.
const MaxPixels = 1 << 28

type Options struct {
	WidthMM, HeightMM float64
	PixelsPerMM       float64
	Mode              Quantize
	Invert            bool
	Resampler         Resampler
}

// TargetSize is the grid size in pixels for the requested physical size.
func (o Options) TargetSize() (int, int, error) {
	if !(o.WidthMM > 0) || !(o.HeightMM > 0) {
		return 0, 0, fmt.Errorf("%w: size must be positive, got %vx%v mm", ErrInvalidParameters, o.WidthMM, o.HeightMM)
	}
	if !(o.PixelsPerMM > 0) || math.IsInf(o.PixelsPerMM, 0) {
		return 0, 0, fmt.Errorf("%w: resolution must be positive, got %v px/mm", ErrInvalidParameters, o.PixelsPerMM)
	}

	width := math.Round(o.WidthMM * o.PixelsPerMM)
	height := math.Round(o.HeightMM * o.PixelsPerMM)
	if width < 1 || height < 1 {
		return 0, 0, fmt.Errorf("%w: %vx%v mm at %v px/mm is less than one pixel", ErrInvalidParameters, o.WidthMM, o.HeightMM, o.PixelsPerMM)
	}
	if width*height > MaxPixels {
		return 0, 0, fmt.Errorf("%w: %vx%v mm at %v px/mm is more than %d pixels", ErrInvalidParameters, o.WidthMM, o.HeightMM, o.PixelsPerMM, MaxPixels)
	}
	return int(width), int(height), nil
}

// Prepare loads the image at path and prepares it with opts.
func Prepare(path string, opts Options) (*Grid, error) {
	if _, _, err := opts.TargetSize(); err != nil {
		return nil, err
	}
	img, err := LoadImage(path)
	if err != nil {
		return nil, err
	}
	return PrepareImage(img, opts)
}

// PrepareImage converts img to luminance, scales it to exactly fill the
// requested physical size and quantises it.
func PrepareImage(img image.Image, opts Options) (*Grid, error) {
	width, height, err := opts.TargetSize()
	if err != nil {
		return nil, err
	}
	if img == nil || img.Bounds().Empty() {
		return nil, fmt.Errorf("%w: source image is empty", ErrImageLoad)
	}

	scaled := resample(luminance(img), width, height, opts.Resampler)
	if opts.Invert {
		invert(scaled)
	}

	switch opts.Mode {
	case Threshold:
		return NewBinaryGrid(&thresholdBitmap{image: scaled, cutoff: thresholdCutoff}, opts.PixelsPerMM), nil
	case Dither:
		b, err := ditherFloydSteinberg(scaled)
		if err != nil {
			return nil, fmt.Errorf("Couldn't dither image:\n%w", err)
		}
		return NewBinaryGrid(b, opts.PixelsPerMM), nil
	case Grayscale:
		return NewGrayGrid(scaled, opts.PixelsPerMM), nil
	default:
		return nil, fmt.Errorf("%w: unknown mode %v", ErrInvalidParameters, opts.Mode)
	}
}

// luminance flattens any transparency onto white and converts to a single
// 8-bit channel.
func luminance(img image.Image) *image.Gray {
	b := img.Bounds()
	bounds := image.Rect(0, 0, b.Dx(), b.Dy())

	flat := image.NewRGBA(bounds)
	draw.Draw(flat, bounds, image.White, image.Point{}, draw.Src)
	draw.Draw(flat, bounds, img, b.Min, draw.Over)

	gray := image.NewGray(bounds)
	draw.Draw(gray, bounds, flat, image.Point{}, draw.Src)
	return gray
}

func resample(src *image.Gray, width, height int, r Resampler) *image.Gray {
	bounds := image.Rect(0, 0, width, height)
	if src.Bounds().Eq(bounds) {
		return src
	}

	if r == CatmullRom {
		dst := image.NewGray(bounds)
		draw.CatmullRom.Scale(dst, bounds, src, src.Bounds(), draw.Src, nil)
		return dst
	}

	scaled := resize.Resize(uint(width), uint(height), src, resize.Lanczos3)
	if g, ok := scaled.(*image.Gray); ok && g.Bounds().Eq(bounds) {
		return g
	}
	dst := image.NewGray(bounds)
	draw.Draw(dst, bounds, scaled, scaled.Bounds().Min, draw.Src)
	return dst
}

func invert(g *image.Gray) {
	for i, v := range g.Pix {
		g.Pix[i] = 255 - v
	}
}
