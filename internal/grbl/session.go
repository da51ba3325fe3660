// Package grbl talks to a GRBL 1.1 controller over a line-oriented link.
//
// Every line sent is answered by exactly one acknowledgement ("ok", "error:N"
// or "ALARM:N"); a session never has more than one line in flight.
package grbl

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"tomgalvin.uk/lasergrave/internal/gcode"
)

// State of a session: which coordinate frame the controller is using, or
// Disconnected once the session has been closed.
type State int32

const (
	Disconnected State = iota
	Machine
	TemporaryOrigin
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Machine:
		return "machine"
	case TemporaryOrigin:
		return "temporary-origin"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

const (
	wake = "\r\n\r\n"
	// bound on the best-effort laser off sent when a stream fails
	laserOffTimeout = 5 * time.Second
)

type Options struct {
	// WakeDelay is how long to wait after waking the controller for it to
	// finish booting and print its banner.
	WakeDelay time.Duration
	// ReadTimeout is applied to ports that support it, so reads return
	// regularly while the controller is quiet.
	ReadTimeout time.Duration
	// ResponseTimeout bounds the wait for each acknowledgement. Zero waits
	// forever; homing and long moves are acknowledged only when done.
	ResponseTimeout time.Duration
	Logger          *slog.Logger
}

func DefaultOptions() Options {
	return Options{
		WakeDelay:   2 * time.Second,
		ReadTimeout: 100 * time.Millisecond,
	}
}

type Session struct {
	mu     sync.Mutex
	port   Port
	name   string
	baud   int
	opts   Options
	logger *slog.Logger
	reader lineReader

	state  atomic.Int32
	halted atomic.Bool
}

// Connect opens a port, wakes the controller and discards whatever it printed
// while starting up.
func Connect(ctx context.Context, open Opener, name string, baud int, opts Options) (*Session, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("port", name)

	port, err := open(name, baud)
	if err != nil {
		if errors.Is(err, ErrPortUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: Couldn't open %s:\n%w", ErrPortUnavailable, name, err)
	}

	if t, ok := port.(readTimeouter); ok && opts.ReadTimeout > 0 {
		if err := t.SetReadTimeout(opts.ReadTimeout); err != nil {
			port.Close()
			return nil, fmt.Errorf("%w: Couldn't set read timeout on %s:\n%w", ErrPortUnavailable, name, err)
		}
	}

	if _, err := port.Write([]byte(wake)); err != nil {
		port.Close()
		return nil, fmt.Errorf("%w: Couldn't wake controller on %s:\n%w", ErrPortUnavailable, name, err)
	}

	if opts.WakeDelay > 0 {
		select {
		case <-ctx.Done():
			port.Close()
			return nil, ctx.Err()
		case <-time.After(opts.WakeDelay):
		}
	}

	if err := port.ResetInputBuffer(); err != nil {
		port.Close()
		return nil, fmt.Errorf("%w: Couldn't flush %s:\n%w", ErrPortUnavailable, name, err)
	}

	s := &Session{
		port:   port,
		name:   name,
		baud:   baud,
		opts:   opts,
		logger: logger,
	}
	s.state.Store(int32(Machine))
	logger.Info("Connected to controller", "baud", baud)
	return s, nil
}

func (s *Session) Name() string {
	return s.name
}

func (s *Session) State() State {
	return State(s.state.Load())
}

func (s *Session) Connected() bool {
	return s.State() != Disconnected
}

// SendLine sends a single line and waits for its acknowledgement, which is
// returned whatever it is. Blank lines and comments are answered "ok" without
// being sent.
func (s *Session) SendLine(ctx context.Context, text string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.resume(ctx); err != nil {
		return "", err
	}
	return s.sendLine(ctx, text)
}

func (s *Session) sendLine(ctx context.Context, text string) (string, error) {
	line := strings.TrimSpace(text)
	if gcode.IsComment(line) {
		return "ok", nil
	}
	if !s.Connected() {
		return "", ErrNotConnected
	}

	if _, err := s.port.Write([]byte(line + "\n")); err != nil {
		return "", s.ioError(fmt.Errorf("Couldn't write %q:\n%w", line, err))
	}

	var deadline time.Time
	if s.opts.ResponseTimeout > 0 {
		deadline = time.Now().Add(s.opts.ResponseTimeout)
	}

	for {
		if reply, ok := s.nextResponse(); ok {
			s.logger.Debug("Sent line", "line", line, "response", reply)
			return reply, nil
		}

		n, err := s.reader.poll(s.port)
		if err != nil {
			return "", s.ioError(fmt.Errorf("Couldn't read response to %q:\n%w", line, err))
		}
		if n > 0 {
			continue
		}

		if err := ctx.Err(); err != nil {
			return "", err
		}
		if s.halted.Load() {
			return "", ErrStopped
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			return "", fmt.Errorf("%w: waited %s for %q", ErrResponseTimeout, s.opts.ResponseTimeout, line)
		}
	}
}

// nextResponse takes buffered lines until one is an acknowledgement.
func (s *Session) nextResponse() (string, bool) {
	for {
		reply, ok := s.reader.take()
		if !ok {
			return "", false
		}
		if Classify(reply) != AwaitingResponse {
			return reply, true
		}
		s.logger.Debug("Controller says", "line", reply)
	}
}

func (s *Session) ioError(err error) error {
	if !s.Connected() {
		return fmt.Errorf("%w: %w", ErrNotConnected, err)
	}
	return fmt.Errorf("%w: %w", ErrConnectionLost, err)
}

// expect sends lines in order, failing on the first that isn't acknowledged
// with ok. Empty lines are skipped.
func (s *Session) expect(ctx context.Context, lines ...string) error {
	for _, line := range lines {
		reply, err := s.sendLine(ctx, line)
		if err != nil {
			return err
		}
		if Classify(reply) != Ok {
			return &AbortedError{Line: line, Response: reply}
		}
	}
	return nil
}

// laserOff is the best-effort M5 after a failure. It outlives ctx so a
// cancelled job still turns the laser off.
func (s *Session) laserOff(ctx context.Context) {
	if !s.Connected() || s.halted.Load() {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), laserOffTimeout)
	defer cancel()
	if reply, err := s.sendLine(ctx, gcode.LaserOff()); err != nil || Classify(reply) != Ok {
		s.logger.Warn("Couldn't turn laser off", "response", reply, "error", err)
	}
}

// resume brings a controller held by Stop back into service before anything
// else is sent. A soft reset drops the hold and whatever motion was queued,
// the acknowledgement of Stop's M5 and the reset banner are discarded, and the
// alarm a reset raises is cleared.
func (s *Session) resume(ctx context.Context) error {
	if !s.halted.Load() {
		return nil
	}
	if !s.Connected() {
		return ErrNotConnected
	}

	s.logger.Info("Resetting controller after stop")
	if _, err := s.port.Write([]byte{gcode.SoftReset}); err != nil {
		return s.ioError(err)
	}
	if s.opts.WakeDelay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.opts.WakeDelay):
		}
	}
	s.reader.reset()
	if err := s.port.ResetInputBuffer(); err != nil {
		return s.ioError(err)
	}
	s.halted.Store(false)
	return s.expect(ctx, gcode.Unlock())
}

// Stream sends a program line by line. The controller is unlocked and put in
// millimetre absolute mode first, and the laser is turned off at the end. On
// the first line that isn't acknowledged with ok the laser is turned off and
// an *AbortedError is returned. The count of program lines acknowledged is
// returned either way.
func (s *Session) Stream(ctx context.Context, program gcode.Program) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.Connected() {
		return 0, ErrNotConnected
	}
	if err := s.resume(ctx); err != nil {
		return 0, err
	}

	if err := s.expect(ctx, gcode.Unlock(), gcode.Units(), gcode.Absolute()); err != nil {
		s.laserOff(ctx)
		return 0, err
	}

	sent := 0
	for line := range program {
		if gcode.IsComment(line) {
			continue
		}
		if s.halted.Load() {
			return sent, ErrStopped
		}
		if err := ctx.Err(); err != nil {
			s.laserOff(ctx)
			return sent, err
		}
		if err := s.expect(ctx, line); err != nil {
			s.laserOff(ctx)
			return sent, err
		}
		sent++
	}

	if err := s.expect(ctx, gcode.LaserOff()); err != nil {
		return sent, err
	}
	s.logger.Info("Program streamed", "lines", sent)
	return sent, nil
}

// MoveToOffsetAndSetOrigin moves by (dx, dy) from the current position and
// makes the new position the work origin.
func (s *Session) MoveToOffsetAndSetOrigin(ctx context.Context, dx, dy, feed float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.Connected() {
		return ErrNotConnected
	}
	if err := s.resume(ctx); err != nil {
		return err
	}

	err := s.expect(ctx,
		gcode.Relative(),
		gcode.RelativeMove(dx, dy, feed),
		gcode.Absolute(),
		gcode.SetOrigin(),
	)
	if err != nil {
		return err
	}
	s.state.CompareAndSwap(int32(Machine), int32(TemporaryOrigin))
	s.logger.Info("Work origin set", "dx", dx, "dy", dy)
	return nil
}

// MoveBackToMachineOrigin drops the temporary work origin and rapids to
// machine zero. It is only meaningful on a homed machine.
func (s *Session) MoveBackToMachineOrigin(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.Connected() {
		return ErrNotConnected
	}
	if err := s.resume(ctx); err != nil {
		return err
	}

	err := s.expect(ctx,
		gcode.ClearOrigin(),
		gcode.Absolute(),
		gcode.MachineRapid(0, 0),
	)
	if err != nil {
		return err
	}
	s.state.CompareAndSwap(int32(TemporaryOrigin), int32(Machine))
	return nil
}

// Initialise clears any alarm and puts the controller in a known mode with
// the laser off.
func (s *Session) Initialise(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.resume(ctx); err != nil {
		return err
	}
	return s.expect(ctx, gcode.Unlock(), gcode.Units(), gcode.Absolute(), gcode.LaserOff())
}

// Home runs the homing cycle, establishing machine zero.
func (s *Session) Home(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.resume(ctx); err != nil {
		return err
	}
	return s.expect(ctx, gcode.Home())
}

// GoToWorkOrigin rapids to X0 Y0 of the current work frame.
func (s *Session) GoToWorkOrigin(ctx context.Context) error {
	return s.MoveTo(ctx, 0, 0)
}

// MoveTo rapids to an absolute position in the current work frame.
func (s *Session) MoveTo(ctx context.Context, x, y float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.resume(ctx); err != nil {
		return err
	}
	return s.expect(ctx, gcode.Absolute(), gcode.Rapid(x, y))
}

// Stop turns the laser off and holds the feed without waiting for anything,
// so it can be called while another goroutine is streaming. The stream in
// progress fails with ErrStopped. The next call that sends anything soft
// resets the controller first.
func (s *Session) Stop() error {
	if !s.Connected() {
		return ErrNotConnected
	}
	s.halted.Store(true)
	if _, err := s.port.Write([]byte(gcode.LaserOff() + "\n")); err != nil {
		return s.ioError(err)
	}
	if _, err := s.port.Write([]byte{gcode.FeedHold}); err != nil {
		return s.ioError(err)
	}
	s.logger.Warn("Emergency stop")
	return nil
}

// Close closes the port. Closing more than once is harmless; any other call
// on a closed session fails with ErrNotConnected.
func (s *Session) Close() error {
	if State(s.state.Swap(int32(Disconnected))) == Disconnected {
		return nil
	}
	s.logger.Info("Disconnecting from controller")
	return s.port.Close()
}
