package cli

import (
	"context"
	"errors"
	"fmt"
	"image/png"
	"io"
	"log/slog"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"github.com/gookit/color"
	"golang.org/x/sync/errgroup"
	"tomgalvin.uk/lasergrave/internal/config"
	"tomgalvin.uk/lasergrave/internal/gcode"
	"tomgalvin.uk/lasergrave/internal/grbl"
	"tomgalvin.uk/lasergrave/internal/job"
	"tomgalvin.uk/lasergrave/internal/server"
	"tomgalvin.uk/lasergrave/internal/store"
)

const shutdownTimeout = 5 * time.Second

// App runs parsed invocations.
type App struct {
	Out       io.Writer
	Logger    *slog.Logger
	ListPorts func() ([]string, error)
	// Open replaces the configured transport when set.
	Open grbl.Opener
}

func NewApp(out io.Writer, logger *slog.Logger) *App {
	return &App{Out: out, Logger: logger, ListPorts: grbl.ListPorts}
}

func (a *App) Execute(ctx context.Context, inv *Invocation) error {
	if inv.Command == CommandPorts {
		return a.ports()
	}

	cfg, err := loadConfig(inv.ConfigPath)
	if err != nil {
		return err
	}
	switch inv.Command {
	case CommandCompile:
		return a.compile(cfg, inv)
	case CommandRun:
		return a.run(ctx, cfg, inv)
	case CommandServe:
		return a.serve(ctx, cfg, inv)
	case CommandJobs:
		return a.jobs(ctx, cfg, inv)
	}
	return &ExitError{Code: 2, Message: fmt.Sprintf("unknown command %q", inv.Command)}
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

func (a *App) ports() error {
	ports, err := a.ListPorts()
	if err != nil {
		return err
	}
	if len(ports) == 0 {
		a.Logger.Warn("No serial ports found")
	}
	for _, p := range ports {
		fmt.Fprintln(a.Out, p)
	}
	return nil
}

func (a *App) compile(cfg *config.Config, inv *Invocation) error {
	jcfg, err := cfg.JobConfig(inv.Job)
	if err != nil {
		return err
	}
	grid, program, err := job.Compile(jcfg)
	if err != nil {
		return err
	}

	if inv.Output == "" {
		if _, err := program.WriteTo(a.Out); err != nil {
			return fmt.Errorf("Couldn't write G-code:\n%w", err)
		}
	} else {
		err := writeFile(inv.Output, func(w io.Writer) error {
			_, err := program.WriteTo(w)
			return err
		})
		if err != nil {
			return fmt.Errorf("Couldn't write G-code:\n%w", err)
		}
	}

	if inv.Preview != "" {
		err := writeFile(inv.Preview, func(w io.Writer) error {
			return png.Encode(w, grid.Image())
		})
		if err != nil {
			return fmt.Errorf("Couldn't write preview:\n%w", err)
		}
	}

	a.Logger.Info("Compiled",
		"name", jcfg.Name,
		"width", grid.Width(),
		"height", grid.Height(),
		"lines", gcode.CountInstructions(program))
	return nil
}

// writeFile creates path and fills it with write. A failed close is reported.
func writeFile(path string, write func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func (a *App) opener(cfg *config.Config) (grbl.Opener, error) {
	if a.Open != nil {
		return a.Open, nil
	}
	return cfg.Machine.Opener()
}

// recorder opens the job history, if one is configured.
func (a *App) recorder(cfg *config.Config) (*store.Repository, error) {
	if cfg.Machine.Database == "" {
		return nil, nil
	}
	return store.Open(store.DSN(cfg.Machine.Database))
}

func (a *App) run(ctx context.Context, cfg *config.Config, inv *Invocation) error {
	jcfg, err := cfg.JobConfig(inv.Job)
	if err != nil {
		return err
	}
	open, err := a.opener(cfg)
	if err != nil {
		return err
	}

	runner := job.NewRunner(open, nil, a.Logger.With("src", "job"))
	repository, err := a.recorder(cfg)
	if err != nil {
		return err
	}
	if repository != nil {
		defer repository.Close()
		runner.Recorder = repository
	}
	defer runner.Close()

	outcome, err := runner.Run(ctx, jcfg)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.Out, statusColor(outcome.Status.String()).Render(outcome.String()))
	if outcome.Status != job.Completed {
		return &ExitError{Code: 1, Message: "job " + outcome.Status.String()}
	}
	return nil
}

func (a *App) serve(ctx context.Context, cfg *config.Config, inv *Invocation) error {
	if cfg.Machine.Database == "" {
		return fmt.Errorf("%w: serving needs a database", config.ErrInvalidConfig)
	}
	open, err := a.opener(cfg)
	if err != nil {
		return err
	}
	repository, err := a.recorder(cfg)
	if err != nil {
		return err
	}
	defer repository.Close()

	runner := job.NewRunner(open, repository, a.Logger.With("src", "job"))
	defer runner.Close()
	srv := server.New(cfg, runner, repository, a.Logger.With("src", "server"))
	srv.ListPorts = a.ListPorts
	httpServer := &http.Server{Addr: inv.Addr, Handler: srv.Handler()}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.Logger.Info("Server starting", "address", inv.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		a.Logger.Info("Shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		err := httpServer.Shutdown(shutdownCtx)
		srv.Close()
		return err
	})
	return g.Wait()
}

func (a *App) jobs(ctx context.Context, cfg *config.Config, inv *Invocation) error {
	repository, err := a.recorder(cfg)
	if err != nil {
		return err
	}
	if repository == nil {
		return fmt.Errorf("%w: no database configured", config.ErrInvalidConfig)
	}
	defer repository.Close()

	jobs, err := repository.List(ctx, inv.Limit)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSTATUS\tLINES\tCREATED\tDETAIL")
	for _, j := range jobs {
		detail := j.Reason
		if j.OffendingLine != "" {
			detail = fmt.Sprintf("%q answered %q", j.OffendingLine, j.ControllerResponse)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
			j.ID, j.Name, statusColor(j.Status).Render(j.Status), j.LinesSent,
			j.CreatedAt.Local().Format(time.DateTime), detail)
	}
	return w.Flush()
}

func statusColor(status string) color.Color {
	switch status {
	case job.Completed.String():
		return color.Green
	case store.StatusQueued, store.StatusRunning:
		return color.Yellow
	default:
		return color.Red
	}
}
