package grbl

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrPortUnavailable = errors.New("port unavailable")
	ErrNotConnected    = errors.New("not connected to controller")
	ErrResponseTimeout = errors.New("controller didn't respond in time")
	ErrConnectionLost  = errors.New("connection to controller lost")
	ErrStopped         = errors.New("stopped by operator")
)

// AbortedError is returned when the controller answers a line with anything
// other than ok.
type AbortedError struct {
	Line     string
	Response string
}

func (e *AbortedError) Error() string {
	return fmt.Sprintf("Controller rejected %q: %s", e.Line, e.Response)
}

// Alarm reports whether the controller went into an alarm state rather than
// just rejecting the line.
func (e *AbortedError) Alarm() bool {
	return Classify(e.Response) == Alarm
}

// Response is the state of a single line's acknowledgement.
type Response int

const (
	AwaitingResponse Response = iota
	Ok
	Error
	Alarm
)

func (r Response) String() string {
	switch r {
	case AwaitingResponse:
		return "awaiting"
	case Ok:
		return "ok"
	case Error:
		return "error"
	case Alarm:
		return "alarm"
	default:
		return fmt.Sprintf("Response(%d)", int(r))
	}
}

// Classify maps a line received from the controller to the response it
// completes. Anything that isn't an acknowledgement (status reports, [MSG:]
// lines, the welcome banner) leaves the line awaiting a response.
func Classify(line string) Response {
	switch {
	case line == "ok":
		return Ok
	case strings.HasPrefix(strings.ToLower(line), "error"):
		return Error
	case strings.HasPrefix(strings.ToUpper(line), "ALARM"):
		return Alarm
	default:
		return AwaitingResponse
	}
}
