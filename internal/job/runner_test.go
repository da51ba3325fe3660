package job_test

import (
	"context"
	"errors"
	"image"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"tomgalvin.uk/lasergrave/internal/bitmap"
	"tomgalvin.uk/lasergrave/internal/gcode"
	"tomgalvin.uk/lasergrave/internal/grbl"
	"tomgalvin.uk/lasergrave/internal/grbl/grbltest"
	"tomgalvin.uk/lasergrave/internal/job"
)

func blackSquare() job.Config {
	toolpath := gcode.DefaultParams()
	toolpath.TravelFeed = 1000
	toolpath.EngraveFeed = 1500
	toolpath.MaxPower = 480

	return job.Config{
		Name: "square",
		Image: job.ImageParams{
			Source:      image.NewGray(image.Rect(0, 0, 2, 2)),
			WidthMM:     2,
			HeightMM:    2,
			PixelsPerMM: 1,
			Mode:        bitmap.Threshold,
		},
		Toolpath: toolpath,
		Offset:   job.OffsetParams{DX: 10, DY: 5, Feed: 1000},
		Port: job.PortParams{
			Name:    "/dev/ttyUSB0",
			Baud:    grbl.DefaultBaud,
			Session: grbl.Options{ReadTimeout: time.Millisecond},
		},
	}
}

type recorded struct {
	id      uuid.UUID
	outcome *job.Outcome
	err     error
}

type fakeRecorder struct {
	mu       sync.Mutex
	started  []uuid.UUID
	finished []recorded
}

func (f *fakeRecorder) Started(_ context.Context, id uuid.UUID, _ job.Config) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, id)
	return nil
}

func (f *fakeRecorder) Finished(_ context.Context, id uuid.UUID, o *job.Outcome, err error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finished = append(f.finished, recorded{id, o, err})
	return nil
}

func TestRunCompleted(t *testing.T) {
	c := grbltest.New(nil)
	rec := &fakeRecorder{}
	r := job.NewRunner(c.Opener(), rec, nil)

	cfg := blackSquare()
	outcome, err := r.Run(context.Background(), cfg)
	require.NoError(t, err)

	_, prog, err := job.Compile(cfg)
	require.NoError(t, err)
	assert.Equal(t, job.Completed, outcome.Status)
	assert.Equal(t, gcode.CountInstructions(prog), outcome.LinesSent)

	lines := c.Lines()
	head := []string{"G91", "G1 X10 Y5 F1000", "G90", "G92 X0 Y0", "$X", "G21", "G90"}
	if diff := cmp.Diff(head, lines[:len(head)]); diff != "" {
		t.Errorf("start of transcript mismatch (-want +got):\n%s", diff)
	}
	tail := []string{"M5", "M5", "G92.1", "G90", "G53 G0 X0 Y0"}
	if diff := cmp.Diff(tail, lines[len(lines)-len(tail):]); diff != "" {
		t.Errorf("end of transcript mismatch (-want +got):\n%s", diff)
	}
	assert.Len(t, lines, len(head)+outcome.LinesSent+len(tail)-1)

	assert.False(t, c.IsOpen())
	assert.False(t, r.Connected())

	require.Len(t, rec.started, 1)
	require.Len(t, rec.finished, 1)
	assert.Equal(t, rec.started[0], rec.finished[0].id)
	assert.Equal(t, outcome, rec.finished[0].outcome)
	assert.NoError(t, rec.finished[0].err)
}

func TestRunKeepsGivenID(t *testing.T) {
	c := grbltest.New(nil)
	rec := &fakeRecorder{}
	r := job.NewRunner(c.Opener(), rec, nil)

	cfg := blackSquare()
	cfg.ID = uuid.New()
	_, err := r.Run(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{cfg.ID}, rec.started)
}

func TestRunAbortedOnError(t *testing.T) {
	c := grbltest.New(grbltest.ReplyTo("M4 S480", "error:22"))
	r := job.NewRunner(c.Opener(), nil, nil)

	outcome, err := r.Run(context.Background(), blackSquare())
	require.NoError(t, err)

	assert.Equal(t, job.AbortedOnError, outcome.Status)
	assert.Equal(t, "M4 S480", outcome.OffendingLine)
	assert.Equal(t, "error:22", outcome.ControllerResponse)
	// G21 G90 M5 F G0 F precede the first burn
	assert.Equal(t, 6, outcome.LinesSent)

	lines := c.Lines()
	tail := []string{"M4 S480", "M5", "M5", "G92.1", "G90", "G53 G0 X0 Y0"}
	if diff := cmp.Diff(tail, lines[len(lines)-len(tail):]); diff != "" {
		t.Errorf("end of transcript mismatch (-want +got):\n%s", diff)
	}
	assert.False(t, c.IsOpen())
}

func TestRunConnectionFailure(t *testing.T) {
	open := grbltest.FailingOpener(errors.New("permission denied"))
	rec := &fakeRecorder{}
	r := job.NewRunner(open, rec, nil)

	outcome, err := r.Run(context.Background(), blackSquare())
	require.NoError(t, err)
	assert.Equal(t, job.ConnectionFailure, outcome.Status)
	assert.Contains(t, outcome.Reason, "permission denied")
	assert.Zero(t, outcome.LinesSent)
	require.Len(t, rec.finished, 1)
	assert.Equal(t, outcome, rec.finished[0].outcome)
}

func TestRunControllerGoesQuiet(t *testing.T) {
	c := grbltest.New(func(n int, line string) []string {
		if n >= 5 {
			return nil
		}
		return []string{"ok"}
	})
	r := job.NewRunner(c.Opener(), nil, nil)

	cfg := blackSquare()
	cfg.Port.Session.ResponseTimeout = 20 * time.Millisecond
	outcome, err := r.Run(context.Background(), cfg)
	require.NoError(t, err)

	assert.Equal(t, job.ConnectionFailure, outcome.Status)
	assert.Contains(t, outcome.Reason, grbl.ErrResponseTimeout.Error())
	assert.NotContains(t, c.Lines(), "G92.1")
	assert.False(t, c.IsOpen())
}

func TestRunInputErrorsNeverTouchHardware(t *testing.T) {
	cases := map[string]struct {
		mutate func(*job.Config)
		want   error
	}{
		"missing image": {
			mutate: func(c *job.Config) { c.Image.Source = nil; c.Image.Path = "does/not/exist.png" },
			want:   bitmap.ErrImageLoad,
		},
		"no image": {
			mutate: func(c *job.Config) { c.Image.Source = nil },
			want:   bitmap.ErrInvalidParameters,
		},
		"zero size": {
			mutate: func(c *job.Config) { c.Image.WidthMM = 0 },
			want:   bitmap.ErrInvalidParameters,
		},
		"zero feed": {
			mutate: func(c *job.Config) { c.Toolpath.EngraveFeed = 0 },
			want:   gcode.ErrInvalidParams,
		},
		"no port": {
			mutate: func(c *job.Config) { c.Port.Name = "" },
			want:   job.ErrInvalidConfig,
		},
		"offset without feed": {
			mutate: func(c *job.Config) { c.Offset.Feed = 0 },
			want:   job.ErrInvalidConfig,
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			c := grbltest.New(nil)
			rec := &fakeRecorder{}
			r := job.NewRunner(c.Opener(), rec, nil)

			cfg := blackSquare()
			tc.mutate(&cfg)
			outcome, err := r.Run(context.Background(), cfg)

			assert.ErrorIs(t, err, tc.want)
			assert.Nil(t, outcome)
			assert.Zero(t, c.Opens())
			require.Len(t, rec.finished, 1)
			assert.ErrorIs(t, rec.finished[0].err, tc.want)
		})
	}
}

func TestRunKeepOpenReusesSession(t *testing.T) {
	c := grbltest.New(nil)
	r := job.NewRunner(c.Opener(), nil, nil)
	defer r.Close()

	cfg := blackSquare()
	cfg.Port.KeepOpen = true
	for range 2 {
		outcome, err := r.Run(context.Background(), cfg)
		require.NoError(t, err)
		assert.Equal(t, job.Completed, outcome.Status)
	}

	assert.Equal(t, 1, c.Opens())
	assert.True(t, c.IsOpen())
	assert.True(t, r.Connected())

	require.NoError(t, r.Close())
	assert.False(t, c.IsOpen())
}

func TestRunAfterStopBetweenJobs(t *testing.T) {
	c := grbltest.New(nil)
	r := job.NewRunner(c.Opener(), nil, nil)
	defer r.Close()

	cfg := blackSquare()
	cfg.Port.KeepOpen = true
	_, err := r.Run(context.Background(), cfg)
	require.NoError(t, err)
	first := len(c.Lines())

	require.NoError(t, r.Stop())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	outcome, err := r.Run(ctx, cfg)
	require.NoError(t, err)
	assert.Equal(t, job.Completed, outcome.Status)
	assert.Equal(t, 1, c.Opens())
	assert.Equal(t, []byte{gcode.FeedHold, gcode.SoftReset}, c.Realtime())

	lines := c.Lines()[first:]
	require.GreaterOrEqual(t, len(lines), 4)
	assert.Equal(t, []string{"M5", "$X", "G91", "G1 X10 Y5 F1000"}, lines[:4])
	assert.Equal(t, "G53 G0 X0 Y0", lines[len(lines)-1])
}

func TestDo(t *testing.T) {
	c := grbltest.New(nil)
	r := job.NewRunner(c.Opener(), nil, nil)
	port := blackSquare().Port

	err := r.Do(context.Background(), port, func(s *grbl.Session) error {
		return s.Home(context.Background())
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"$H"}, c.Lines())
	assert.False(t, c.IsOpen())

	port.Name = ""
	err = r.Do(context.Background(), port, func(*grbl.Session) error { return nil })
	assert.ErrorIs(t, err, job.ErrInvalidConfig)
}

func TestStopWithoutSession(t *testing.T) {
	r := job.NewRunner(grbltest.New(nil).Opener(), nil, nil)
	assert.ErrorIs(t, r.Stop(), grbl.ErrNotConnected)
}
