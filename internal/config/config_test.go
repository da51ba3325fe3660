package config

import (
	"image"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"tomgalvin.uk/lasergrave/internal/bitmap"
)

func TestDefaultProfiles(t *testing.T) {
	c := Default()
	require.NoError(t, c.Validate())
	assert.Equal(t, []string{"aruco", "photo"}, c.ProfileNames())

	aruco, err := c.Profile("aruco")
	require.NoError(t, err)
	assert.Equal(t, bitmap.Threshold, aruco.Mode)
	assert.Equal(t, 5.0, aruco.PixelsPerMM)
	assert.Equal(t, 0.7, aruco.Gamma)
	assert.Equal(t, 480, aruco.MaxPower)
	assert.Equal(t, 1500.0, aruco.EngraveFeed)
	assert.Equal(t, 1000.0, aruco.TravelFeed)

	photo, err := c.Profile("photo")
	require.NoError(t, err)
	assert.Equal(t, bitmap.Grayscale, photo.Mode)
	assert.Equal(t, 0.6, photo.Gamma)
	assert.Equal(t, 600, photo.MaxPower)
	assert.Equal(t, 1000.0, photo.EngraveFeed)

	assert.Equal(t, 115200, c.Machine.Baud)
	assert.Equal(t, 2*time.Second, c.Machine.WakeDelay)
	assert.Zero(t, c.Machine.ResponseTimeout)

	_, err = c.Profile("nope")
	assert.ErrorIs(t, err, ErrUnknownProfile)
}

func TestParse(t *testing.T) {
	t.Setenv("LASER_PORT", "/dev/ttyACM3")
	src := `
machine {
  port             = env.LASER_PORT
  baud             = 57600
  response_timeout = "30s"
  keep_open        = true
}

profile "aruco" {
  max_power = 400
}

profile "slate" {
  mode      = "dither"
  ppmm      = 8
  invert    = true
  resampler = "catmullrom"
}

label "tag" {
  width  = 200
  height = 50
  param "name" {
    max_length = 10
  }
  text {
    value = "{name}"
    x     = 5
    y     = 5
    font  = "gomono"
    size  = 20
  }
}
`
	c, err := Parse([]byte(src), "lasergrave.hcl")
	require.NoError(t, err)

	assert.Equal(t, "/dev/ttyACM3", c.Machine.Port)
	assert.Equal(t, 57600, c.Machine.Baud)
	assert.Equal(t, 30*time.Second, c.Machine.ResponseTimeout)
	assert.Equal(t, 2*time.Second, c.Machine.WakeDelay)
	assert.True(t, c.Machine.KeepOpen)

	aruco := c.Profiles["aruco"]
	assert.Equal(t, 400, aruco.MaxPower)
	assert.Equal(t, 0.7, aruco.Gamma, "unset fields keep the built in value")

	slate, err := c.Profile("slate")
	require.NoError(t, err)
	assert.Equal(t, bitmap.Dither, slate.Mode)
	assert.Equal(t, 8.0, slate.PixelsPerMM)
	assert.True(t, slate.Invert)
	assert.Equal(t, bitmap.CatmullRom, slate.Resampler)

	tag, err := c.Label("tag")
	require.NoError(t, err)
	assert.Equal(t, 200, tag.Width)
	require.Len(t, tag.Parameters, 1)
	assert.Equal(t, 10, tag.Parameters[0].MaxLength)
	require.Len(t, tag.Texts, 1)
	assert.Equal(t, "gomono", tag.Texts[0].Font.BuiltinName)
}

func TestParseErrors(t *testing.T) {
	cases := map[string]string{
		"syntax":         `machine {`,
		"unknown block":  `laser {}`,
		"bad mode":       `profile "x" { mode = "sepia" }`,
		"bad duration":   `machine { wake_delay = "soon" }`,
		"bad transport":  `machine { transport = "smoke-signal" }`,
		"bad gamma":      `profile "x" { gamma = 0 }`,
		"missing env":    `machine { port = env.SURELY_NOT_SET_ANYWHERE_123 }`,
		"missing image":  `label "x" { image { path = "nowhere.png" } }`,
		"unknown attrib": `profile "x" { colour = "red" }`,
	}
	for name, src := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(src), "test.hcl")
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "lasergrave.hcl")
	require.NoError(t, os.WriteFile(path, []byte(`machine { database = "jobs.db" }`), 0o644))

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "jobs.db", c.Machine.Database)

	_, err = Load(filepath.Join(dir, "missing.hcl"))
	assert.Error(t, err)
}

func TestJobConfig(t *testing.T) {
	c := Default()
	c.Machine.Port = "/dev/ttyUSB0"

	cfg, err := c.JobConfig(JobRequest{
		Profile: "aruco",
		Image:   image.NewGray(image.Rect(0, 0, 100, 50)),
		OffsetX: 10,
		OffsetY: 20,
	})
	require.NoError(t, err)

	assert.Equal(t, 20.0, cfg.Image.WidthMM)
	assert.Equal(t, 10.0, cfg.Image.HeightMM)
	assert.Equal(t, 5.0, cfg.Image.PixelsPerMM)
	assert.Equal(t, 480, cfg.Toolpath.MaxPower)
	assert.Equal(t, 0.7, cfg.Toolpath.Gamma)
	assert.Equal(t, 10.0, cfg.Offset.DX)
	assert.Equal(t, 1000.0, cfg.Offset.Feed)
	assert.Equal(t, "/dev/ttyUSB0", cfg.Port.Name)
	assert.Equal(t, 115200, cfg.Port.Baud)
	assert.Equal(t, 2*time.Second, cfg.Port.Session.WakeDelay)

	cfg, err = c.JobConfig(JobRequest{
		Profile: "photo",
		Image:   image.NewGray(image.Rect(0, 0, 100, 50)),
		WidthMM: 40,
		Port:    "/dev/ttyACM0",
	})
	require.NoError(t, err)
	assert.Equal(t, 40.0, cfg.Image.WidthMM)
	assert.Equal(t, 20.0, cfg.Image.HeightMM)
	assert.Equal(t, bitmap.Grayscale, cfg.Image.Mode)
	assert.Equal(t, "/dev/ttyACM0", cfg.Port.Name)

	_, err = c.JobConfig(JobRequest{Profile: "nope"})
	assert.ErrorIs(t, err, ErrUnknownProfile)

	_, err = c.JobConfig(JobRequest{Profile: "aruco", Label: "nope"})
	assert.ErrorIs(t, err, ErrUnknownLabel)
}

func TestJobConfigFromLabel(t *testing.T) {
	src := `
label "tag" {
  width  = 100
  height = 40
  param "name" {}
  text {
    value = "{name}"
    size  = 20
  }
}
`
	c, err := Parse([]byte(src), "test.hcl")
	require.NoError(t, err)

	cfg, err := c.JobConfig(JobRequest{
		Profile:     "aruco",
		Label:       "tag",
		LabelParams: map[string]string{"name": "Ada"},
	})
	require.NoError(t, err)
	require.NotNil(t, cfg.Image.Source)
	assert.Equal(t, "tag", cfg.Name)
	assert.Equal(t, 20.0, cfg.Image.WidthMM)
	assert.Equal(t, 8.0, cfg.Image.HeightMM)
}
