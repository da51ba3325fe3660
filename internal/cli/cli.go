package cli

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"

	"tomgalvin.uk/lasergrave/internal/config"
)

const (
	CommandPorts   = "ports"
	CommandCompile = "compile"
	CommandRun     = "run"
	CommandServe   = "serve"
	CommandJobs    = "jobs"
)

var commands = []string{CommandPorts, CommandCompile, CommandRun, CommandServe, CommandJobs}

const usage = `
lasergrave - engrave images and labels with a GRBL laser.

Usage:
  lasergrave <command> [options] [IMAGE]

Commands:
  ports     List the serial ports a controller could be on.
  compile   Compile an image or label to G-code without touching the machine.
  run       Engrave an image or label.
  serve     Serve the HTTP API.
  jobs      List recent jobs.

Run 'lasergrave <command> -h' for the options of a command.
`

// ExitError is an error carrying the process exit code.
type ExitError struct {
	Code    int
	Message string
}

func (e *ExitError) Error() string {
	return e.Message
}

// Invocation is a parsed command line.
type Invocation struct {
	Command    string
	ConfigPath string
	LogLevel   string
	LogFormat  string

	// compile and run
	Job config.JobRequest

	// compile
	Output  string
	Preview string

	// serve
	Addr string

	// jobs
	Limit int
}

// Parse processes command-line arguments. It returns the invocation, whether
// the program should exit straight away (after printing help), or an
// ExitError.
func Parse(args []string, output io.Writer) (*Invocation, bool, error) {
	if len(args) == 0 || slices.Contains([]string{"-h", "-help", "--help", "help"}, args[0]) {
		fmt.Fprint(output, usage)
		return nil, true, nil
	}

	inv := &Invocation{Command: args[0]}
	if !slices.Contains(commands, inv.Command) {
		return nil, false, &ExitError{Code: 2, Message: fmt.Sprintf("unknown command %q", inv.Command)}
	}

	flagSet := flag.NewFlagSet("lasergrave "+inv.Command, flag.ContinueOnError)
	flagSet.SetOutput(output)
	flagSet.Usage = func() {
		fmt.Fprintf(output, "\nUsage:\n  lasergrave %s [options]\n\nOptions:\n", inv.Command)
		flagSet.PrintDefaults()
	}

	flagSet.StringVar(&inv.ConfigPath, "config", "", "Path to an HCL configuration file.")
	flagSet.StringVar(&inv.LogLevel, "log-level", "info", "Set the logging level. Options: 'debug', 'info', 'warn', 'error'.")
	flagSet.StringVar(&inv.LogFormat, "log-format", "text", "Log output format. Options: 'text' or 'json'.")

	params := paramsFlag{}
	jobFlags := inv.Command == CommandCompile || inv.Command == CommandRun
	if jobFlags {
		flagSet.StringVar(&inv.Job.Profile, "profile", "aruco", "Engraving profile.")
		flagSet.StringVar(&inv.Job.Name, "name", "", "Job name. Defaults to the image path or label name.")
		flagSet.StringVar(&inv.Job.ImagePath, "image", "", "Image to engrave.")
		flagSet.StringVar(&inv.Job.Label, "label", "", "Label template to render and engrave.")
		flagSet.Var(params, "param", "Label parameter as name=value. Repeatable.")
		flagSet.Float64Var(&inv.Job.WidthMM, "width", 0, "Width in mm. Derived from the image when unset.")
		flagSet.Float64Var(&inv.Job.HeightMM, "height", 0, "Height in mm. Derived from the image when unset.")
		flagSet.Float64Var(&inv.Job.OffsetX, "offset-x", 0, "X offset in mm from the machine origin.")
		flagSet.Float64Var(&inv.Job.OffsetY, "offset-y", 0, "Y offset in mm from the machine origin.")
		flagSet.StringVar(&inv.Job.Port, "port", "", "Controller port, overriding the configuration.")
		flagSet.IntVar(&inv.Job.Baud, "baud", 0, "Baud rate, overriding the configuration.")
	}
	if inv.Command == CommandCompile {
		flagSet.StringVar(&inv.Output, "o", "", "Write the G-code to this file instead of stdout.")
		flagSet.StringVar(&inv.Preview, "preview", "", "Also write the prepared pixel grid to this PNG file.")
	}
	if inv.Command == CommandServe {
		flagSet.StringVar(&inv.Addr, "addr", ":8080", "Address to listen on.")
	}
	if inv.Command == CommandJobs {
		flagSet.IntVar(&inv.Limit, "limit", 20, "Number of jobs to list.")
	}

	if err := flagSet.Parse(args[1:]); err != nil {
		if err == flag.ErrHelp {
			return nil, true, nil
		}
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}

	inv.LogFormat = strings.ToLower(inv.LogFormat)
	if inv.LogFormat != "text" && inv.LogFormat != "json" {
		return nil, false, &ExitError{Code: 2, Message: "invalid log-format: must be 'text' or 'json'"}
	}
	inv.LogLevel = strings.ToLower(inv.LogLevel)
	if _, ok := levels[inv.LogLevel]; !ok {
		return nil, false, &ExitError{Code: 2, Message: "invalid log-level: must be 'debug', 'info', 'warn', or 'error'"}
	}

	if !jobFlags {
		if flagSet.NArg() > 0 {
			return nil, false, &ExitError{Code: 2, Message: fmt.Sprintf("unexpected argument %q", flagSet.Arg(0))}
		}
		if inv.Command == CommandJobs && inv.Limit <= 0 {
			return nil, false, &ExitError{Code: 2, Message: "limit must be positive"}
		}
		return inv, false, nil
	}

	if inv.Job.ImagePath == "" && flagSet.NArg() == 1 {
		inv.Job.ImagePath = flagSet.Arg(0)
	} else if flagSet.NArg() > 0 {
		return nil, false, &ExitError{Code: 2, Message: fmt.Sprintf("unexpected argument %q", flagSet.Arg(0))}
	}
	if (inv.Job.ImagePath == "") == (inv.Job.Label == "") {
		return nil, false, &ExitError{Code: 2, Message: "give exactly one of an image or -label"}
	}
	if len(params) > 0 {
		inv.Job.LabelParams = params
	}

	slog.Debug("Arguments parsed.", "command", inv.Command)
	return inv, false, nil
}
