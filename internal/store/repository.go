// Package store keeps the job history and the saved machine positions in
// SQLite.
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"tomgalvin.uk/lasergrave/internal/job"
)

//go:embed schema.sql
var schema string

var _ job.Recorder = (*Repository)(nil)

// Job statuses besides those of job.Status.
const (
	StatusQueued  = "queued"
	StatusRunning = "running"
	// StatusFailed is a job rejected before reaching the controller.
	StatusFailed = "failed"
)

type Job struct {
	ID                 uuid.UUID
	Name               string
	Mode               string
	WidthMM, HeightMM  float64
	PixelsPerMM        float64
	Port               string
	Status             string
	OffendingLine      string
	ControllerResponse string
	Reason             string
	LinesSent          int
	CreatedAt          time.Time
	FinishedAt         *time.Time
}

type Position struct {
	Name      string
	X, Y      float64
	CreatedAt time.Time
}

type Repository struct {
	Db *sql.DB
}

// DSN is the data source name for a database file, waiting on a locked
// database instead of failing straight away.
func DSN(path string) string {
	return "file:" + path + "?_pragma=busy_timeout(5000)"
}

// Open opens (creating if needed) the database at dsn.
func Open(dsn string) (*Repository, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("Couldn't open database:\n%w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("Couldn't initialise database:\n%w", err)
	}
	return &Repository{Db: db}, nil
}

func (r *Repository) Close() error {
	return r.Db.Close()
}

// Run operations in a transaction, committing afterward, or rolling back if the
// passed function returns an error
func (r *Repository) Transact(ctx context.Context, f func(*sql.Tx) error) error {
	tx, err := r.Db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	if err := f(tx); err != nil {
		if err2 := tx.Rollback(); err2 != nil {
			return fmt.Errorf("Failed to roll back transaction: %w\n\nAfter handling: %v", err2, err)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("Failed to commit transaction:\n%w", err)
	}
	return nil
}

func millis(t time.Time) int64 {
	return t.UnixMilli()
}

// Queue records a job that has been accepted but not started.
func (r *Repository) Queue(ctx context.Context, id uuid.UUID, name string) error {
	_, err := r.Db.ExecContext(ctx, `
		INSERT INTO job(uuid, name, status, created_at)
		VALUES (?, ?, ?, ?)`, id.String(), name, StatusQueued, millis(time.Now()))
	if err != nil {
		return fmt.Errorf("Failed to insert into job:\n%w", err)
	}
	return nil
}

// Started records a job as running, creating it if it wasn't queued.
func (r *Repository) Started(ctx context.Context, id uuid.UUID, cfg job.Config) error {
	_, err := r.Db.ExecContext(ctx, `
		INSERT INTO job(uuid, name, mode, width_mm, height_mm, ppmm, port, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(uuid) DO UPDATE SET
			name = excluded.name,
			mode = excluded.mode,
			width_mm = excluded.width_mm,
			height_mm = excluded.height_mm,
			ppmm = excluded.ppmm,
			port = excluded.port,
			status = excluded.status`,
		id.String(), cfg.Name, cfg.Image.Mode.String(),
		cfg.Image.WidthMM, cfg.Image.HeightMM, cfg.Image.PixelsPerMM,
		cfg.Port.Name, StatusRunning, millis(time.Now()))
	if err != nil {
		return fmt.Errorf("Failed to record job start:\n%w", err)
	}
	return nil
}

// Finished records how a job ended: its outcome, or the error that stopped
// it before it reached the controller.
func (r *Repository) Finished(ctx context.Context, id uuid.UUID, o *job.Outcome, jobErr error) error {
	var status, line, response, reason string
	var sent int
	switch {
	case jobErr != nil:
		status, reason = StatusFailed, jobErr.Error()
	case o != nil:
		status, line, response, reason, sent = o.Status.String(), o.OffendingLine, o.ControllerResponse, o.Reason, o.LinesSent
	default:
		return errors.New("Job finished with neither an outcome nor an error")
	}

	res, err := r.Db.ExecContext(ctx, `
		UPDATE job
		SET status = ?, offending_line = ?, controller_response = ?, reason = ?, lines_sent = ?, finished_at = ?
		WHERE uuid = ?`,
		status, line, response, reason, sent, millis(time.Now()), id.String())
	if err != nil {
		return fmt.Errorf("Failed to record job outcome:\n%w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("No job with UUID %s", id.String())
	}
	return nil
}

const jobColumns = `uuid, name, mode, width_mm, height_mm, ppmm, port, status,
	offending_line, controller_response, reason, lines_sent, created_at, finished_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(s scanner) (*Job, error) {
	var j Job
	var uuidString string
	var created int64
	var finished sql.NullInt64
	err := s.Scan(&uuidString, &j.Name, &j.Mode, &j.WidthMM, &j.HeightMM, &j.PixelsPerMM, &j.Port, &j.Status,
		&j.OffendingLine, &j.ControllerResponse, &j.Reason, &j.LinesSent, &created, &finished)
	if err != nil {
		return nil, err
	}
	if j.ID, err = uuid.Parse(uuidString); err != nil {
		return nil, fmt.Errorf("Bad job UUID %q:\n%w", uuidString, err)
	}
	j.CreatedAt = time.UnixMilli(created)
	if finished.Valid {
		t := time.UnixMilli(finished.Int64)
		j.FinishedAt = &t
	}
	return &j, nil
}

// Get returns the job with the given UUID, or nil if there is none.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (*Job, error) {
	row := r.Db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM job WHERE uuid = ?`, id.String())
	j, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("Failed to read job:\n%w", err)
	}
	return j, nil
}

// List returns the most recent jobs first, at most limit of them.
func (r *Repository) List(ctx context.Context, limit int) ([]Job, error) {
	rows, err := r.Db.QueryContext(ctx, `
		SELECT `+jobColumns+`
		FROM job
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("Query execution failed:\n%w", err)
	}
	defer rows.Close()

	jobs := []Job{}
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("Row scanning failed:\n%w", err)
		}
		jobs = append(jobs, *j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("Error iterating rows:\n%w", err)
	}
	return jobs, nil
}
