// Package model holds the JSON bodies of the HTTP API.
package model

import (
	"time"

	"tomgalvin.uk/lasergrave/internal/config"
	"tomgalvin.uk/lasergrave/internal/store"
)

// JobRequest starts a job. Image is base64 encoded file content; Label and
// Params render a label template instead.
type JobRequest struct {
	Name     string            `json:"name,omitempty"`
	Profile  string            `json:"profile"`
	Image    string            `json:"image,omitempty"`
	Label    string            `json:"label,omitempty"`
	Params   map[string]string `json:"params,omitempty"`
	WidthMM  float64           `json:"width_mm,omitempty"`
	HeightMM float64           `json:"height_mm,omitempty"`
	OffsetX  float64           `json:"offset_x,omitempty"`
	OffsetY  float64           `json:"offset_y,omitempty"`
	Port     string            `json:"port,omitempty"`
}

type JobAccepted struct {
	ID string `json:"id"`
}

type JobResponse struct {
	ID                 string     `json:"id"`
	Name               string     `json:"name"`
	Mode               string     `json:"mode,omitempty"`
	WidthMM            float64    `json:"width_mm,omitempty"`
	HeightMM           float64    `json:"height_mm,omitempty"`
	PixelsPerMM        float64    `json:"ppmm,omitempty"`
	Port               string     `json:"port,omitempty"`
	Status             string     `json:"status"`
	OffendingLine      string     `json:"offending_line,omitempty"`
	ControllerResponse string     `json:"controller_response,omitempty"`
	Reason             string     `json:"reason,omitempty"`
	LinesSent          int        `json:"lines_sent"`
	CreatedAt          time.Time  `json:"created_at"`
	FinishedAt         *time.Time `json:"finished_at,omitempty"`
}

func FromJob(j store.Job) JobResponse {
	return JobResponse{
		ID:                 j.ID.String(),
		Name:               j.Name,
		Mode:               j.Mode,
		WidthMM:            j.WidthMM,
		HeightMM:           j.HeightMM,
		PixelsPerMM:        j.PixelsPerMM,
		Port:               j.Port,
		Status:             j.Status,
		OffendingLine:      j.OffendingLine,
		ControllerResponse: j.ControllerResponse,
		Reason:             j.Reason,
		LinesSent:          j.LinesSent,
		CreatedAt:          j.CreatedAt,
		FinishedAt:         j.FinishedAt,
	}
}

type ProfileResponse struct {
	Name        string  `json:"name"`
	Mode        string  `json:"mode"`
	PixelsPerMM float64 `json:"ppmm"`
	Gamma       float64 `json:"gamma"`
	MaxPower    int     `json:"max_power"`
	MinPower    int     `json:"min_power"`
	EngraveFeed float64 `json:"engrave_feed"`
	TravelFeed  float64 `json:"travel_feed"`
	Overscan    float64 `json:"overscan"`
	Invert      bool    `json:"invert"`
	Resampler   string  `json:"resampler"`
}

func FromProfile(p config.Profile) ProfileResponse {
	return ProfileResponse{
		Name:        p.Name,
		Mode:        p.Mode.String(),
		PixelsPerMM: p.PixelsPerMM,
		Gamma:       p.Gamma,
		MaxPower:    p.MaxPower,
		MinPower:    p.MinPower,
		EngraveFeed: p.EngraveFeed,
		TravelFeed:  p.TravelFeed,
		Overscan:    p.Overscan,
		Invert:      p.Invert,
		Resampler:   p.Resampler.String(),
	}
}

type Position struct {
	Name string  `json:"name"`
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
}

func FromPosition(p store.Position) Position {
	return Position{Name: p.Name, X: p.X, Y: p.Y}
}

type Error struct {
	Error string `json:"error"`
}
