package grbl

import (
	"bytes"
	"io"
	"strings"
	"time"
)

// Port is a byte stream to a controller. Reads are expected to return
// (0, nil) when nothing arrived within the port's read timeout.
type Port interface {
	io.ReadWriteCloser
	ResetInputBuffer() error
}

// Opener opens a named port. The baud rate is ignored by transports that
// don't have one.
type Opener func(name string, baud int) (Port, error)

type readTimeouter interface {
	SetReadTimeout(t time.Duration) error
}

// lineReader accumulates bytes from a Port and hands them out as lines.
// bufio.Reader gives up on a reader that keeps returning (0, nil), which a
// polling serial port does whenever the controller is quiet.
type lineReader struct {
	buf []byte
	tmp [256]byte
}

// poll does one read and reports how many bytes arrived.
func (r *lineReader) poll(p Port) (int, error) {
	n, err := p.Read(r.tmp[:])
	r.buf = append(r.buf, r.tmp[:n]...)
	return n, err
}

// take returns the next complete non-blank line with surrounding whitespace
// removed.
func (r *lineReader) take() (string, bool) {
	for {
		i := bytes.IndexByte(r.buf, '\n')
		if i < 0 {
			return "", false
		}
		line := strings.TrimSpace(string(r.buf[:i]))
		r.buf = r.buf[i+1:]
		if line != "" {
			return line, true
		}
	}
}

func (r *lineReader) reset() {
	r.buf = r.buf[:0]
}
