package gcode

import (
	"errors"
	"fmt"
	"math"
)

var (
	ErrInvalidGrid   = errors.New("invalid pixel grid")
	ErrInvalidParams = errors.New("invalid toolpath parameters")
)

const (
	// DefaultOverscan is how far past each segment the head travels so
	// acceleration happens outside the engraved area.
	DefaultOverscan = 0.6
	// DefaultMinPower is the lowest power that still fires reliably.
	DefaultMinPower = 50
)

// Params holds every tunable of the compiler. Distances are millimetres and
// feeds are millimetres per minute.
type Params struct {
	OriginX, OriginY float64
	EngraveFeed      float64
	TravelFeed       float64
	// MaxPower is the S value for full intensity, relative to GRBL's $30.
	MaxPower int
	// MinPower is the floor applied to non-zero grayscale power.
	MinPower int
	Gamma    float64
	Overscan float64
}

func DefaultParams() Params {
	return Params{
		EngraveFeed: 1000,
		TravelFeed:  1000,
		MaxPower:    1000,
		MinPower:    DefaultMinPower,
		Gamma:       1,
		Overscan:    DefaultOverscan,
	}
}

func (p Params) validate(grayscale bool) error {
	switch {
	case !(p.EngraveFeed > 0) || !(p.TravelFeed > 0):
		return fmt.Errorf("%w: feeds must be positive, got engrave %v travel %v", ErrInvalidParams, p.EngraveFeed, p.TravelFeed)
	case p.MaxPower <= 0:
		return fmt.Errorf("%w: max power must be positive, got %d", ErrInvalidParams, p.MaxPower)
	case p.MinPower < 0:
		return fmt.Errorf("%w: min power can't be negative, got %d", ErrInvalidParams, p.MinPower)
	case !(p.Overscan >= 0) || math.IsInf(p.Overscan, 0):
		return fmt.Errorf("%w: overscan must be zero or more, got %v", ErrInvalidParams, p.Overscan)
	case math.IsNaN(p.OriginX) || math.IsNaN(p.OriginY):
		return fmt.Errorf("%w: origin is not a number", ErrInvalidParams)
	case grayscale && !(p.Gamma > 0):
		return fmt.Errorf("%w: gamma must be positive, got %v", ErrInvalidParams, p.Gamma)
	}
	return nil
}

// GammaCorrect raises v, clamped to [0,1], to gamma.
func GammaCorrect(v, gamma float64) float64 {
	return math.Pow(max(0, min(1, v)), gamma)
}

// Power is the S value commanded for a grayscale intensity. Any non-zero
// result below the floor is raised to it.
func (p Params) Power(intensity float64) int {
	s := int(math.Round(GammaCorrect(intensity, p.Gamma) * float64(p.MaxPower)))
	if s > 0 && s < p.MinPower {
		s = p.MinPower
	}
	return s
}
