package job

import (
	"errors"
	"fmt"
	"image"

	"github.com/google/uuid"
	"tomgalvin.uk/lasergrave/internal/bitmap"
	"tomgalvin.uk/lasergrave/internal/gcode"
	"tomgalvin.uk/lasergrave/internal/grbl"
)

var ErrInvalidConfig = errors.New("invalid job configuration")

// Config carries everything one engraving job needs.
type Config struct {
	// ID identifies the job in the history. A zero ID is replaced with a
	// fresh one.
	ID       uuid.UUID
	Name     string
	Image    ImageParams
	Toolpath gcode.Params
	Offset   OffsetParams
	Port     PortParams
}

// ImageParams says where the image comes from and how to rasterise it. Source
// takes precedence over Path.
type ImageParams struct {
	Path        string
	Source      image.Image
	WidthMM     float64
	HeightMM    float64
	PixelsPerMM float64
	Mode        bitmap.Quantize
	Invert      bool
	Resampler   bitmap.Resampler
}

// OffsetParams is the move from the machine position the job starts at to
// the corner of the engraving.
type OffsetParams struct {
	DX, DY float64
	Feed   float64
}

type PortParams struct {
	Name string
	Baud int
	// KeepOpen leaves the session connected after the job so the next one
	// doesn't pay for waking the controller again.
	KeepOpen bool
	Session  grbl.Options
}

func (p ImageParams) options() bitmap.Options {
	return bitmap.Options{
		WidthMM:     p.WidthMM,
		HeightMM:    p.HeightMM,
		PixelsPerMM: p.PixelsPerMM,
		Mode:        p.Mode,
		Invert:      p.Invert,
		Resampler:   p.Resampler,
	}
}

func (p ImageParams) prepare() (*bitmap.Grid, error) {
	switch {
	case p.Source != nil:
		return bitmap.PrepareImage(p.Source, p.options())
	case p.Path != "":
		return bitmap.Prepare(p.Path, p.options())
	default:
		return nil, fmt.Errorf("%w: no image given", bitmap.ErrInvalidParameters)
	}
}

func (c Config) validate() error {
	if c.Port.Name == "" {
		return fmt.Errorf("%w: no port given", ErrInvalidConfig)
	}
	if c.Port.Baud <= 0 {
		return fmt.Errorf("%w: baud rate must be positive, got %d", ErrInvalidConfig, c.Port.Baud)
	}
	if (c.Offset.DX != 0 || c.Offset.DY != 0) && !(c.Offset.Feed > 0) {
		return fmt.Errorf("%w: offset feed must be positive, got %v", ErrInvalidConfig, c.Offset.Feed)
	}
	return nil
}

// Compile prepares the image and compiles the toolpath without touching any
// hardware.
func Compile(cfg Config) (*bitmap.Grid, gcode.Program, error) {
	grid, err := cfg.Image.prepare()
	if err != nil {
		return nil, nil, err
	}
	prog, err := gcode.Compile(grid, cfg.Toolpath)
	if err != nil {
		return nil, nil, err
	}
	return grid, prog, nil
}
