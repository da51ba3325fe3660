package config

import (
	"fmt"
	"image"

	"tomgalvin.uk/lasergrave/internal/bitmap"
	"tomgalvin.uk/lasergrave/internal/job"
	"tomgalvin.uk/lasergrave/internal/template"
)

// JobRequest is what a user asks for; JobConfig fills in the rest from the
// profile and machine settings.
type JobRequest struct {
	Name    string
	Profile string

	// One of ImagePath, Image or Label is needed.
	ImagePath   string
	Image       image.Image
	Label       string
	LabelParams map[string]string

	// Zero sizes are derived from the image at the profile's resolution,
	// keeping the aspect ratio when only one is given.
	WidthMM, HeightMM float64
	OffsetX, OffsetY  float64

	// Port and Baud override the machine settings when set.
	Port string
	Baud int
}

// JobConfig builds the configuration for a job.
func (c *Config) JobConfig(req JobRequest) (job.Config, error) {
	p, err := c.Profile(req.Profile)
	if err != nil {
		return job.Config{}, err
	}

	src := req.Image
	if src == nil && req.Label != "" {
		t, err := c.Label(req.Label)
		if err != nil {
			return job.Config{}, err
		}
		if src, err = template.Render(t, req.LabelParams); err != nil {
			return job.Config{}, fmt.Errorf("Couldn't render label %q:\n%w", req.Label, err)
		}
	}
	if src == nil && req.ImagePath != "" && (req.WidthMM <= 0 || req.HeightMM <= 0) {
		if src, err = bitmap.LoadImage(req.ImagePath); err != nil {
			return job.Config{}, err
		}
	}

	width, height := req.WidthMM, req.HeightMM
	if src != nil {
		width, height = deriveSize(src.Bounds(), width, height, p.PixelsPerMM)
	}

	name := req.Name
	if name == "" {
		name = req.ImagePath
		if req.Label != "" {
			name = req.Label
		}
	}

	return job.Config{
		Name: name,
		Image: job.ImageParams{
			Path:        req.ImagePath,
			Source:      src,
			WidthMM:     width,
			HeightMM:    height,
			PixelsPerMM: p.PixelsPerMM,
			Mode:        p.Mode,
			Invert:      p.Invert,
			Resampler:   p.Resampler,
		},
		Toolpath: p.Toolpath(),
		Offset: job.OffsetParams{
			DX:   req.OffsetX,
			DY:   req.OffsetY,
			Feed: c.Machine.OffsetFeed,
		},
		Port: c.Machine.PortParams(req.Port, req.Baud),
	}, nil
}

func deriveSize(b image.Rectangle, width, height, ppmm float64) (float64, float64) {
	if b.Empty() || !(ppmm > 0) {
		return width, height
	}
	w, h := float64(b.Dx()), float64(b.Dy())
	switch {
	case width <= 0 && height <= 0:
		return w / ppmm, h / ppmm
	case width <= 0:
		return height * w / h, height
	case height <= 0:
		return width, width * h / w
	default:
		return width, height
	}
}
