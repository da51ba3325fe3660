package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"tomgalvin.uk/lasergrave/internal/grbl/grbltest"
)

func TestParse_Help(t *testing.T) {
	for _, args := range [][]string{nil, {"-h"}, {"help"}} {
		out := &bytes.Buffer{}
		inv, exit, err := Parse(args, out)
		require.NoError(t, err)
		assert.True(t, exit)
		assert.Nil(t, inv)
		assert.Contains(t, out.String(), "Usage:")
	}

	out := &bytes.Buffer{}
	_, exit, err := Parse([]string{"run", "-h"}, out)
	require.NoError(t, err)
	assert.True(t, exit)
	assert.Contains(t, out.String(), "-offset-x")
}

func TestParse_Run(t *testing.T) {
	inv, exit, err := Parse([]string{
		"run", "-profile", "photo", "-width", "40", "-offset-x", "10", "-offset-y", "5",
		"-port", "/dev/ttyACM0", "-baud", "57600", "-log-level", "DEBUG", "cat.png",
	}, &bytes.Buffer{})
	require.NoError(t, err)
	require.False(t, exit)

	assert.Equal(t, CommandRun, inv.Command)
	assert.Equal(t, "debug", inv.LogLevel)
	assert.Equal(t, "text", inv.LogFormat)
	assert.Equal(t, "photo", inv.Job.Profile)
	assert.Equal(t, "cat.png", inv.Job.ImagePath)
	assert.Equal(t, 40.0, inv.Job.WidthMM)
	assert.Zero(t, inv.Job.HeightMM)
	assert.Equal(t, 10.0, inv.Job.OffsetX)
	assert.Equal(t, 5.0, inv.Job.OffsetY)
	assert.Equal(t, "/dev/ttyACM0", inv.Job.Port)
	assert.Equal(t, 57600, inv.Job.Baud)
	assert.Nil(t, inv.Job.LabelParams)
}

func TestParse_Label(t *testing.T) {
	inv, _, err := Parse([]string{
		"compile", "-label", "asset", "-param", "id=A-113", "-param", "owner=lab=2", "-o", "out.gcode",
	}, &bytes.Buffer{})
	require.NoError(t, err)

	assert.Equal(t, "aruco", inv.Job.Profile)
	assert.Equal(t, "asset", inv.Job.Label)
	assert.Equal(t, map[string]string{"id": "A-113", "owner": "lab=2"}, inv.Job.LabelParams)
	assert.Equal(t, "out.gcode", inv.Output)
}

func TestParse_Errors(t *testing.T) {
	cases := []struct {
		name string
		args []string
		msg  string
	}{
		{"unknown command", []string{"burn"}, `unknown command "burn"`},
		{"unknown flag", []string{"ports", "-fast"}, "flag provided but not defined: -fast"},
		{"no image", []string{"run"}, "exactly one"},
		{"image and label", []string{"run", "-image", "a.png", "-label", "asset"}, "exactly one"},
		{"two images", []string{"compile", "a.png", "b.png"}, `unexpected argument "a.png"`},
		{"bad param", []string{"compile", "-label", "asset", "-param", "id"}, "expecting name=value"},
		{"log format", []string{"ports", "-log-format", "xml"}, "invalid log-format"},
		{"log level", []string{"ports", "-log-level", "loud"}, "invalid log-level"},
		{"limit", []string{"jobs", "-limit", "0"}, "limit must be positive"},
		{"stray argument", []string{"serve", "now"}, `unexpected argument "now"`},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, exit, err := Parse(c.args, &bytes.Buffer{})
			assert.False(t, exit)
			var exitErr *ExitError
			require.ErrorAs(t, err, &exitErr)
			assert.Equal(t, 2, exitErr.Code)
			assert.Contains(t, exitErr.Message, c.msg)
		})
	}
}

func TestNewLogger(t *testing.T) {
	out := &bytes.Buffer{}
	logger := NewLogger("warn", "json", out)
	logger.Info("hidden")
	logger.Warn("shown", "port", "/dev/ttyUSB0")

	assert.NotContains(t, out.String(), "hidden")
	assert.Contains(t, out.String(), `"msg":"shown"`)
	assert.Contains(t, out.String(), `"port":"/dev/ttyUSB0"`)

	out.Reset()
	NewLogger("nonsense", "text", out).Info("plain")
	assert.Contains(t, out.String(), "level=INFO msg=plain")
}

func writeImage(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "square.png")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, image.NewGray(image.Rect(0, 0, 4, 4))))
	return path
}

func writeConfig(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "lasergrave.hcl")
	src := fmt.Sprintf(`
machine {
  port         = "/dev/ttyUSB0"
  wake_delay   = "0s"
  read_timeout = "1ms"
  database     = %q
}
`, filepath.Join(dir, "jobs.db"))
	require.NoError(t, os.WriteFile(path, []byte(src), 0600))
	return path
}

func testApp(out *bytes.Buffer, controller *grbltest.Controller) *App {
	app := NewApp(out, slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))
	app.ListPorts = func() ([]string, error) {
		return []string{"/dev/ttyUSB0"}, nil
	}
	if controller != nil {
		app.Open = controller.Opener()
	}
	return app
}

func execute(t *testing.T, app *App, args ...string) error {
	t.Helper()
	inv, exit, err := Parse(args, &bytes.Buffer{})
	require.NoError(t, err)
	require.False(t, exit)
	return app.Execute(context.Background(), inv)
}

func TestPorts(t *testing.T) {
	out := &bytes.Buffer{}
	require.NoError(t, execute(t, testApp(out, nil), "ports"))
	assert.Equal(t, "/dev/ttyUSB0\n", out.String())
}

func TestCompile(t *testing.T) {
	dir := t.TempDir()
	img := writeImage(t, dir)

	out := &bytes.Buffer{}
	require.NoError(t, execute(t, testApp(out, nil), "compile", img))
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	assert.Equal(t, ";; --- BEGIN ---", lines[0])
	assert.Equal(t, ";; --- END ---", lines[len(lines)-1])
	assert.Contains(t, lines, "M4 S480")

	target := filepath.Join(dir, "square.gcode")
	out.Reset()
	require.NoError(t, execute(t, testApp(out, nil), "compile", "-o", target, img))
	assert.Empty(t, out.String())
	written, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, strings.Join(lines, "\n")+"\n", string(written))
}

func TestCompilePreview(t *testing.T) {
	dir := t.TempDir()
	img := writeImage(t, dir)
	target, preview := filepath.Join(dir, "square.gcode"), filepath.Join(dir, "preview.png")

	require.NoError(t, execute(t, testApp(&bytes.Buffer{}, nil), "compile", "-o", target, "-preview", preview, img))

	f, err := os.Open(preview)
	require.NoError(t, err)
	defer f.Close()
	decoded, err := png.Decode(f)
	require.NoError(t, err)
	require.False(t, decoded.Bounds().Empty())
	gray, ok := decoded.(*image.Gray)
	require.True(t, ok)
	assert.Equal(t, uint8(0), gray.GrayAt(0, 0).Y)

	missing := filepath.Join(dir, "nowhere", "square.gcode")
	assert.Error(t, execute(t, testApp(&bytes.Buffer{}, nil), "compile", "-o", missing, img))
	assert.Error(t, execute(t, testApp(&bytes.Buffer{}, nil), "compile", "-o", target, "-preview", missing, img))
}

func TestCompileBadInput(t *testing.T) {
	app := testApp(&bytes.Buffer{}, nil)
	assert.Error(t, execute(t, app, "compile", filepath.Join(t.TempDir(), "missing.png")))
	assert.Error(t, execute(t, app, "compile", "-profile", "wood", "x.png"))
}

func TestRunAndJobs(t *testing.T) {
	dir := t.TempDir()
	cfg, img := writeConfig(t, dir), writeImage(t, dir)
	controller := grbltest.New(grbltest.AlwaysOk)

	out := &bytes.Buffer{}
	app := testApp(out, controller)
	require.NoError(t, execute(t, app, "run", "-config", cfg, "-name", "square", img))
	assert.Contains(t, out.String(), "completed")
	assert.Contains(t, controller.Lines(), "M4 S480")
	assert.False(t, controller.IsOpen())

	out.Reset()
	require.NoError(t, execute(t, app, "jobs", "-config", cfg))
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "ID"))
	assert.Contains(t, lines[1], "square")
	assert.Contains(t, lines[1], "completed")
}

func TestRunAborted(t *testing.T) {
	dir := t.TempDir()
	cfg, img := writeConfig(t, dir), writeImage(t, dir)
	controller := grbltest.New(grbltest.ReplyTo("M4 S480", "ALARM:1"))

	out := &bytes.Buffer{}
	err := execute(t, testApp(out, controller), "run", "-config", cfg, img)
	var exitErr *ExitError
	require.True(t, errors.As(err, &exitErr))
	assert.Equal(t, 1, exitErr.Code)
	assert.Contains(t, out.String(), `"M4 S480" answered "ALARM:1"`)
}

func TestRunConnectionFailure(t *testing.T) {
	dir := t.TempDir()
	cfg, img := writeConfig(t, dir), writeImage(t, dir)

	out := &bytes.Buffer{}
	app := testApp(out, nil)
	app.Open = grbltest.FailingOpener(errors.New("no such device"))
	err := execute(t, app, "run", "-config", cfg, img)
	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Contains(t, out.String(), "connection-failure")
}
