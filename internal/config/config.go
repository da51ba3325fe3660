// Package config loads machine settings, engraving profiles and label
// templates from an HCL file layered over built in defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"tomgalvin.uk/lasergrave/internal/bitmap"
	"tomgalvin.uk/lasergrave/internal/gcode"
	"tomgalvin.uk/lasergrave/internal/grbl"
	"tomgalvin.uk/lasergrave/internal/job"
	"tomgalvin.uk/lasergrave/internal/template"
)

var (
	ErrInvalidConfig  = errors.New("invalid configuration")
	ErrUnknownProfile = errors.New("unknown profile")
	ErrUnknownLabel   = errors.New("unknown label")
)

type Machine struct {
	Port            string
	Baud            int
	Transport       string
	WakeDelay       time.Duration
	ReadTimeout     time.Duration
	ResponseTimeout time.Duration
	KeepOpen        bool
	// OffsetFeed is the feed for the move to the job's origin.
	OffsetFeed float64
	Database   string
}

// Profile is a named set of image and toolpath settings.
type Profile struct {
	Name        string
	Mode        bitmap.Quantize
	PixelsPerMM float64
	Gamma       float64
	MaxPower    int
	MinPower    int
	EngraveFeed float64
	TravelFeed  float64
	Overscan    float64
	Invert      bool
	Resampler   bitmap.Resampler
}

type Config struct {
	Machine  Machine
	Profiles map[string]Profile
	Labels   map[string]*template.Template
}

// Toolpath is the compiler parameters for the profile.
func (p Profile) Toolpath() gcode.Params {
	return gcode.Params{
		EngraveFeed: p.EngraveFeed,
		TravelFeed:  p.TravelFeed,
		MaxPower:    p.MaxPower,
		MinPower:    p.MinPower,
		Gamma:       p.Gamma,
		Overscan:    p.Overscan,
	}
}

func baseProfile(name string) Profile {
	return Profile{
		Name:        name,
		Mode:        bitmap.Threshold,
		PixelsPerMM: 5,
		Gamma:       1,
		MaxPower:    1000,
		MinPower:    gcode.DefaultMinPower,
		EngraveFeed: 1000,
		TravelFeed:  1000,
		Overscan:    gcode.DefaultOverscan,
		Resampler:   bitmap.Lanczos,
	}
}

// Default is the configuration used when there is no file: a serial machine
// at 115200 baud and the two stock profiles.
func Default() *Config {
	aruco := baseProfile("aruco")
	aruco.Gamma = 0.7
	aruco.MaxPower = 480
	aruco.EngraveFeed = 1500

	photo := baseProfile("photo")
	photo.Mode = bitmap.Grayscale
	photo.Gamma = 0.6
	photo.MaxPower = 600

	return &Config{
		Machine: Machine{
			Baud:        grbl.DefaultBaud,
			Transport:   grbl.TransportSerial,
			WakeDelay:   2 * time.Second,
			ReadTimeout: 100 * time.Millisecond,
			OffsetFeed:  1000,
			Database:    "lasergrave.db",
		},
		Profiles: map[string]Profile{
			aruco.Name: aruco,
			photo.Name: photo,
		},
		Labels: map[string]*template.Template{},
	}
}

// Load reads the file at path over the defaults.
func Load(path string) (*Config, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("Couldn't read config file:\n%w", err)
	}
	return Parse(src, path)
}

// Parse reads HCL source over the defaults. Relative paths in the source are
// resolved against the directory of filename.
func Parse(src []byte, filename string) (*Config, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("%w: Couldn't parse %s:\n%s", ErrInvalidConfig, filename, diags.Error())
	}

	var f hclFile
	diags = gohcl.DecodeBody(file.Body, evalContext(), &f)
	if diags.HasErrors() {
		return nil, fmt.Errorf("%w: Couldn't decode %s:\n%s", ErrInvalidConfig, filename, diags.Error())
	}

	c := Default()
	dir := filepath.Dir(filename)
	if err := c.applyMachine(f.Machine); err != nil {
		return nil, err
	}
	if f.Machine != nil && f.Machine.Database != nil {
		c.Machine.Database = resolve(dir, c.Machine.Database)
	}
	for _, p := range f.Profiles {
		if err := c.applyProfile(p); err != nil {
			return nil, err
		}
	}
	for _, l := range f.Labels {
		if err := c.applyLabel(l, dir); err != nil {
			return nil, err
		}
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func set[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}

func setDuration(dst *time.Duration, src *string, name string) error {
	if src == nil {
		return nil
	}
	d, err := time.ParseDuration(*src)
	if err != nil {
		return fmt.Errorf("%w: machine.%s:\n%w", ErrInvalidConfig, name, err)
	}
	*dst = d
	return nil
}

func (c *Config) applyMachine(m *hclMachine) error {
	if m == nil {
		return nil
	}
	set(&c.Machine.Port, m.Port)
	set(&c.Machine.Baud, m.Baud)
	set(&c.Machine.Transport, m.Transport)
	set(&c.Machine.KeepOpen, m.KeepOpen)
	set(&c.Machine.OffsetFeed, m.OffsetFeed)
	set(&c.Machine.Database, m.Database)
	return errors.Join(
		setDuration(&c.Machine.WakeDelay, m.WakeDelay, "wake_delay"),
		setDuration(&c.Machine.ReadTimeout, m.ReadTimeout, "read_timeout"),
		setDuration(&c.Machine.ResponseTimeout, m.ResponseTimeout, "response_timeout"),
	)
}

// a profile named like an existing one is layered over it
func (c *Config) applyProfile(h *hclProfile) error {
	p, ok := c.Profiles[h.Name]
	if !ok {
		p = baseProfile(h.Name)
	}
	if h.Mode != nil {
		mode, err := bitmap.ParseQuantize(*h.Mode)
		if err != nil {
			return fmt.Errorf("%w: profile %q:\n%w", ErrInvalidConfig, h.Name, err)
		}
		p.Mode = mode
	}
	if h.Resampler != nil {
		r, err := bitmap.ParseResampler(*h.Resampler)
		if err != nil {
			return fmt.Errorf("%w: profile %q:\n%w", ErrInvalidConfig, h.Name, err)
		}
		p.Resampler = r
	}
	set(&p.PixelsPerMM, h.PixelsPerMM)
	set(&p.Gamma, h.Gamma)
	set(&p.MaxPower, h.MaxPower)
	set(&p.MinPower, h.MinPower)
	set(&p.EngraveFeed, h.EngraveFeed)
	set(&p.TravelFeed, h.TravelFeed)
	set(&p.Overscan, h.Overscan)
	set(&p.Invert, h.Invert)
	c.Profiles[h.Name] = p
	return nil
}

func (c *Config) applyLabel(h *hclLabel, dir string) error {
	t := &template.Template{
		Name:   h.Name,
		Width:  h.Width,
		Height: h.Height,
	}
	for _, p := range h.Parameters {
		t.Parameters = append(t.Parameters, template.Parameter{Name: p.Name, MaxLength: p.MaxLength})
	}
	for _, txt := range h.Texts {
		f := template.Font{BuiltinName: txt.Font}
		if txt.FontFile != "" {
			data, err := os.ReadFile(resolve(dir, txt.FontFile))
			if err != nil {
				return fmt.Errorf("%w: label %q: Couldn't read font:\n%w", ErrInvalidConfig, h.Name, err)
			}
			f.FontData = data
		}
		t.Texts = append(t.Texts, template.Text{
			Text:     txt.Value,
			X:        txt.X,
			Y:        txt.Y,
			Width:    txt.Width,
			Height:   txt.Height,
			Font:     f,
			FontSize: txt.Size,
		})
	}
	for _, img := range h.Images {
		data, err := os.ReadFile(resolve(dir, img.Path))
		if err != nil {
			return fmt.Errorf("%w: label %q: Couldn't read image:\n%w", ErrInvalidConfig, h.Name, err)
		}
		t.Images = append(t.Images, template.Image{
			Image:  data,
			X:      img.X,
			Y:      img.Y,
			Width:  img.Width,
			Height: img.Height,
		})
	}
	c.Labels[h.Name] = t
	return nil
}

func resolve(dir, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(dir, path)
}

// Validate checks the machine settings and every profile.
func (c *Config) Validate() error {
	var errs []error
	if c.Machine.Baud <= 0 {
		errs = append(errs, fmt.Errorf("%w: baud must be positive, got %d", ErrInvalidConfig, c.Machine.Baud))
	}
	if _, err := grbl.OpenerFor(c.Machine.Transport); err != nil {
		errs = append(errs, fmt.Errorf("%w: %w", ErrInvalidConfig, err))
	}
	if !(c.Machine.OffsetFeed > 0) {
		errs = append(errs, fmt.Errorf("%w: offset_feed must be positive, got %v", ErrInvalidConfig, c.Machine.OffsetFeed))
	}
	for _, name := range c.ProfileNames() {
		p := c.Profiles[name]
		if !(p.PixelsPerMM > 0) {
			errs = append(errs, fmt.Errorf("%w: profile %q: ppmm must be positive, got %v", ErrInvalidConfig, name, p.PixelsPerMM))
		}
		if !(p.Gamma > 0) {
			errs = append(errs, fmt.Errorf("%w: profile %q: gamma must be positive, got %v", ErrInvalidConfig, name, p.Gamma))
		}
		if p.MaxPower <= 0 {
			errs = append(errs, fmt.Errorf("%w: profile %q: max_power must be positive, got %d", ErrInvalidConfig, name, p.MaxPower))
		}
		if !(p.EngraveFeed > 0) || !(p.TravelFeed > 0) {
			errs = append(errs, fmt.Errorf("%w: profile %q: feeds must be positive", ErrInvalidConfig, name))
		}
	}
	return errors.Join(errs...)
}

func (c *Config) ProfileNames() []string {
	names := make([]string, 0, len(c.Profiles))
	for name := range c.Profiles {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func (c *Config) LabelNames() []string {
	names := make([]string, 0, len(c.Labels))
	for name := range c.Labels {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func (c *Config) Profile(name string) (Profile, error) {
	p, ok := c.Profiles[name]
	if !ok {
		return Profile{}, fmt.Errorf("%w: %q", ErrUnknownProfile, name)
	}
	return p, nil
}

func (c *Config) Label(name string) (*template.Template, error) {
	t, ok := c.Labels[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownLabel, name)
	}
	return t, nil
}

// SessionOptions turns the machine timings into session options.
func (m Machine) SessionOptions() grbl.Options {
	return grbl.Options{
		WakeDelay:       m.WakeDelay,
		ReadTimeout:     m.ReadTimeout,
		ResponseTimeout: m.ResponseTimeout,
	}
}

// PortParams is the controller connection, with port and baud overriding the
// machine's when set.
func (m Machine) PortParams(port string, baud int) job.PortParams {
	p := job.PortParams{
		Name:     m.Port,
		Baud:     m.Baud,
		KeepOpen: m.KeepOpen,
		Session:  m.SessionOptions(),
	}
	if port != "" {
		p.Name = port
	}
	if baud > 0 {
		p.Baud = baud
	}
	return p
}

func (m Machine) Opener() (grbl.Opener, error) {
	return grbl.OpenerFor(m.Transport)
}
