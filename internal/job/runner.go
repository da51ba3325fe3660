// Package job runs engraving jobs end to end: image preparation, toolpath
// compilation, positioning and streaming, then putting the machine back where
// it started.
package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"tomgalvin.uk/lasergrave/internal/gcode"
	"tomgalvin.uk/lasergrave/internal/grbl"
)

// bound on the laser off and return to origin after a job fails
const cleanupTimeout = 30 * time.Second

// Recorder keeps the job history. Finished gets either the outcome of a job
// that reached the hardware or the error that stopped it before.
type Recorder interface {
	Started(ctx context.Context, id uuid.UUID, cfg Config) error
	Finished(ctx context.Context, id uuid.UUID, o *Outcome, err error) error
}

// Runner runs one job at a time against one controller, optionally keeping
// the connection open between jobs.
type Runner struct {
	Open     grbl.Opener
	Recorder Recorder
	Logger   *slog.Logger

	// one job at a time
	mu sync.Mutex

	smu     sync.Mutex
	session *grbl.Session
}

func NewRunner(open grbl.Opener, recorder Recorder, logger *slog.Logger) *Runner {
	return &Runner{Open: open, Recorder: recorder, Logger: logger}
}

func (r *Runner) logger() *slog.Logger {
	if r.Logger == nil {
		return slog.Default()
	}
	return r.Logger
}

// Run runs a job. Bad input (an unreadable image, impossible dimensions or
// toolpath parameters, no port) is returned as an error before the
// controller is touched; every job that gets as far as the controller
// produces an Outcome instead.
func (r *Runner) Run(ctx context.Context, cfg Config) (*Outcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cfg.ID == uuid.Nil {
		cfg.ID = uuid.New()
	}
	logger := r.logger().With("job", cfg.ID.String(), "name", cfg.Name)
	r.started(ctx, logger, cfg)

	outcome, err := r.run(ctx, logger, cfg)
	r.finished(ctx, logger, cfg.ID, outcome, err)
	if err != nil {
		logger.Error("Job failed", "error", err)
		return nil, err
	}

	logger.Info("Job finished", "status", outcome.Status.String(), "lines", outcome.LinesSent)
	return outcome, nil
}

func (r *Runner) run(ctx context.Context, logger *slog.Logger, cfg Config) (*Outcome, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	grid, prog, err := Compile(cfg)
	if err != nil {
		return nil, err
	}
	logger.Info("Compiled toolpath", "grid", grid.String())

	s, err := r.connect(ctx, cfg.Port)
	if err != nil {
		logger.Warn("Couldn't connect", "error", err)
		return &Outcome{Status: ConnectionFailure, Reason: err.Error()}, nil
	}

	if err := s.MoveToOffsetAndSetOrigin(ctx, cfg.Offset.DX, cfg.Offset.DY, cfg.Offset.Feed); err != nil {
		return r.fail(ctx, logger, s, cfg.Port, err, 0), nil
	}

	sent, err := s.Stream(ctx, prog)
	if err != nil {
		return r.fail(ctx, logger, s, cfg.Port, err, sent), nil
	}

	if err := s.MoveBackToMachineOrigin(ctx); err != nil {
		return r.fail(ctx, logger, s, cfg.Port, err, sent), nil
	}

	if !cfg.Port.KeepOpen {
		r.disconnect(logger)
	}
	return &Outcome{Status: Completed, LinesSent: sent}, nil
}

// fail makes sure the laser is off and, if the connection still works, puts
// the machine back in its own frame. Failures here are only logged.
func (r *Runner) fail(ctx context.Context, logger *slog.Logger, s *grbl.Session, p PortParams, err error, sent int) *Outcome {
	outcome := failure(err, sent)
	logger.Warn("Job aborted", "outcome", outcome.String())

	if !errors.Is(err, grbl.ErrStopped) && s.Connected() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
		defer cancel()
		if reply, err := s.SendLine(ctx, gcode.LaserOff()); err != nil || grbl.Classify(reply) != grbl.Ok {
			logger.Warn("Couldn't turn laser off", "response", reply, "error", err)
		}
		if outcome.Status != ConnectionFailure {
			if err := s.MoveBackToMachineOrigin(ctx); err != nil {
				logger.Warn("Couldn't return to machine origin", "error", err)
			}
		}
	}

	// a stopped controller is holding its feed and a broken link stays broken
	if !p.KeepOpen || outcome.Status == ConnectionFailure || errors.Is(err, grbl.ErrStopped) {
		r.disconnect(logger)
	}
	return outcome
}

// connect reuses the open session if it is for the same port.
func (r *Runner) connect(ctx context.Context, p PortParams) (*grbl.Session, error) {
	r.smu.Lock()
	defer r.smu.Unlock()

	if r.session != nil {
		if r.session.Connected() && r.session.Name() == p.Name {
			return r.session, nil
		}
		r.session.Close()
		r.session = nil
	}

	opts := p.Session
	if opts.Logger == nil {
		opts.Logger = r.logger().With("src", "grbl")
	}
	s, err := grbl.Connect(ctx, r.Open, p.Name, p.Baud, opts)
	if err != nil {
		return nil, err
	}
	r.session = s
	return s, nil
}

func (r *Runner) disconnect(logger *slog.Logger) {
	r.smu.Lock()
	defer r.smu.Unlock()
	if r.session == nil {
		return
	}
	if err := r.session.Close(); err != nil {
		logger.Warn("Couldn't close port", "error", err)
	}
	r.session = nil
}

func (r *Runner) started(ctx context.Context, logger *slog.Logger, cfg Config) {
	if r.Recorder == nil {
		return
	}
	if err := r.Recorder.Started(ctx, cfg.ID, cfg); err != nil {
		logger.Warn("Couldn't record job start", "error", err)
	}
}

func (r *Runner) finished(ctx context.Context, logger *slog.Logger, id uuid.UUID, o *Outcome, err error) {
	if r.Recorder == nil {
		return
	}
	if err := r.Recorder.Finished(context.WithoutCancel(ctx), id, o, err); err != nil {
		logger.Warn("Couldn't record job outcome", "error", err)
	}
}

// Stop performs an emergency stop on the connected controller, interrupting
// any job in progress.
func (r *Runner) Stop() error {
	r.smu.Lock()
	s := r.session
	r.smu.Unlock()
	if s == nil {
		return grbl.ErrNotConnected
	}
	return s.Stop()
}

// Do runs fn against a session on the given port between jobs, connecting if
// needed. The session stays open afterwards only if p.KeepOpen is set.
func (r *Runner) Do(ctx context.Context, p PortParams, fn func(*grbl.Session) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p.Name == "" {
		return fmt.Errorf("%w: no port given", ErrInvalidConfig)
	}

	s, err := r.connect(ctx, p)
	if err != nil {
		return err
	}
	err = fn(s)
	if !p.KeepOpen || !s.Connected() {
		r.disconnect(r.logger())
	}
	return err
}

// Connected reports whether a session is being kept open.
func (r *Runner) Connected() bool {
	r.smu.Lock()
	defer r.smu.Unlock()
	return r.session != nil && r.session.Connected()
}

// Close closes any session kept open between jobs.
func (r *Runner) Close() error {
	r.smu.Lock()
	defer r.smu.Unlock()
	if r.session == nil {
		return nil
	}
	err := r.session.Close()
	r.session = nil
	return err
}
