// Package grbltest provides a scripted stand-in for a GRBL controller.
package grbltest

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"tomgalvin.uk/lasergrave/internal/grbl"
)

const Banner = "Grbl 1.1h ['$' for help]"

// Responder decides the reply lines to the n-th line received (counting from
// zero). Returning nil leaves the line unanswered.
type Responder func(n int, line string) []string

// AlwaysOk acknowledges every line.
func AlwaysOk(int, string) []string {
	return []string{"ok"}
}

// ReplyOn answers the n-th line with reply and every other line with ok.
func ReplyOn(n int, reply string) Responder {
	return func(i int, line string) []string {
		if i == n {
			return []string{reply}
		}
		return []string{"ok"}
	}
}

// ReplyTo answers the first line equal to target with reply and every other
// line with ok.
func ReplyTo(target, reply string) Responder {
	done := false
	return func(i int, line string) []string {
		if !done && line == target {
			done = true
			return []string{reply}
		}
		return []string{"ok"}
	}
}

// Chatty precedes every ok with a status report and a message, which a
// session must skip over.
func Chatty(int, string) []string {
	return []string{"<Idle|MPos:0.000,0.000,0.000|FS:0,0>", "[MSG:Caution: Unlocked]", "ok"}
}

// Controller implements grbl.Port. It records every line written to it and
// queues the replies its Responder gives. After a feed hold it answers nothing
// until a cycle start or a soft reset, which greets with the banner again.
type Controller struct {
	mu       sync.Mutex
	respond  Responder
	pending  []byte
	lines    []string
	realtime []byte
	out      bytes.Buffer
	open     bool
	held     bool
	opens    int
	resets   int
	name     string
	baud     int
}

func New(respond Responder) *Controller {
	if respond == nil {
		respond = AlwaysOk
	}
	return &Controller{respond: respond}
}

// Opener opens the controller whatever the port name. Like a real board
// resetting when its port is opened, it greets with the banner.
func (c *Controller) Opener() grbl.Opener {
	return func(name string, baud int) (grbl.Port, error) {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.open = true
		c.opens++
		c.name, c.baud = name, baud
		c.out.WriteString("\r\n" + Banner + "\r\n")
		return c, nil
	}
}

// FailingOpener never manages to open a port.
func FailingOpener(err error) grbl.Opener {
	return func(string, int) (grbl.Port, error) {
		return nil, err
	}
}

func (c *Controller) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open {
		return 0, io.ErrClosedPipe
	}

	for _, b := range p {
		switch b {
		case '!':
			c.realtime = append(c.realtime, b)
			c.held = true
		case '~':
			c.realtime = append(c.realtime, b)
			c.held = false
		case 0x18:
			c.realtime = append(c.realtime, b)
			c.held = false
			c.pending = c.pending[:0]
			c.out.WriteString("\r\n" + Banner + "\r\n")
		case '?':
			c.realtime = append(c.realtime, b)
		case '\n':
			line := strings.TrimSpace(string(c.pending))
			c.pending = c.pending[:0]
			if line == "" {
				continue
			}
			n := len(c.lines)
			c.lines = append(c.lines, line)
			if c.held {
				// a held controller acknowledges nothing
				continue
			}
			for _, reply := range c.respond(n, line) {
				c.out.WriteString(reply + "\r\n")
			}
		default:
			c.pending = append(c.pending, b)
		}
	}
	return len(p), nil
}

func (c *Controller) Read(p []byte) (int, error) {
	c.mu.Lock()
	if !c.open {
		c.mu.Unlock()
		return 0, io.ErrClosedPipe
	}
	if c.out.Len() == 0 {
		c.mu.Unlock()
		// a quiet serial port times out
		time.Sleep(time.Millisecond)
		return 0, nil
	}
	defer c.mu.Unlock()
	return c.out.Read(p)
}

func (c *Controller) ResetInputBuffer() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.out.Reset()
	c.resets++
	return nil
}

func (c *Controller) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open {
		return errors.New("already closed")
	}
	c.open = false
	return nil
}

// Lines is the transcript of lines received so far.
func (c *Controller) Lines() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.lines...)
}

// Realtime is the realtime command bytes received so far.
func (c *Controller) Realtime() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]byte(nil), c.realtime...)
}

func (c *Controller) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

// Opens counts how many times the port was opened.
func (c *Controller) Opens() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.opens
}

// Resets counts input buffer flushes.
func (c *Controller) Resets() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resets
}

// Port reports the name and baud rate the controller was last opened with.
func (c *Controller) Port() (string, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.name, c.baud
}
