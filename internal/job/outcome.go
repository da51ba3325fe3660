package job

import (
	"context"
	"errors"
	"fmt"

	"tomgalvin.uk/lasergrave/internal/grbl"
)

type Status int

const (
	Completed Status = iota
	AbortedOnError
	ConnectionFailure
)

func (s Status) String() string {
	switch s {
	case Completed:
		return "completed"
	case AbortedOnError:
		return "aborted"
	case ConnectionFailure:
		return "connection-failure"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Outcome is the result of a job that got as far as the hardware.
type Outcome struct {
	Status Status
	// OffendingLine and ControllerResponse are set when the controller
	// rejected a line.
	OffendingLine      string
	ControllerResponse string
	// Reason describes failures that weren't a rejected line.
	Reason    string
	LinesSent int
}

func (o *Outcome) String() string {
	switch {
	case o.Status == Completed:
		return fmt.Sprintf("completed, %d lines sent", o.LinesSent)
	case o.OffendingLine != "":
		return fmt.Sprintf("%s: %q answered %q after %d lines", o.Status, o.OffendingLine, o.ControllerResponse, o.LinesSent)
	default:
		return fmt.Sprintf("%s: %s", o.Status, o.Reason)
	}
}

// failure turns an error from the session into an outcome.
func failure(err error, sent int) *Outcome {
	var aborted *grbl.AbortedError
	switch {
	case errors.As(err, &aborted):
		return &Outcome{
			Status:             AbortedOnError,
			OffendingLine:      aborted.Line,
			ControllerResponse: aborted.Response,
			LinesSent:          sent,
		}
	case errors.Is(err, grbl.ErrStopped),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return &Outcome{Status: AbortedOnError, Reason: err.Error(), LinesSent: sent}
	default:
		return &Outcome{Status: ConnectionFailure, Reason: err.Error(), LinesSent: sent}
	}
}
