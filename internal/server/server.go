// Package server exposes the engraver over a JSON HTTP API. Jobs are queued
// in the store and run one at a time in the background.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"

	"github.com/google/uuid"
	"tomgalvin.uk/lasergrave/internal/config"
	"tomgalvin.uk/lasergrave/internal/grbl"
	"tomgalvin.uk/lasergrave/internal/job"
	"tomgalvin.uk/lasergrave/internal/model"
	"tomgalvin.uk/lasergrave/internal/store"
)

const defaultListLimit = 50

type Server struct {
	Config    *config.Config
	Runner    *job.Runner
	Store     *store.Repository
	Logger    *slog.Logger
	ListPorts func() ([]string, error)

	// jobs run under ctx, which Close cancels
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(cfg *config.Config, runner *job.Runner, repository *store.Repository, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		Config:    cfg,
		Runner:    runner,
		Store:     repository,
		Logger:    logger,
		ListPorts: grbl.ListPorts,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Handler routes the API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/ports", s.getPorts)
	mux.HandleFunc("GET /api/profiles", s.getProfiles)
	mux.HandleFunc("POST /api/jobs", s.createJob)
	mux.HandleFunc("GET /api/jobs", s.listJobs)
	mux.HandleFunc("GET /api/jobs/{id}", s.getJob)
	mux.HandleFunc("POST /api/stop", s.stop)
	mux.HandleFunc("GET /api/positions", s.listPositions)
	mux.HandleFunc("POST /api/positions", s.savePosition)
	mux.HandleFunc("POST /api/positions/{name}/goto", s.gotoPosition)
	mux.HandleFunc("POST /api/machine/init", s.machine((*grbl.Session).Initialise))
	mux.HandleFunc("POST /api/machine/home", s.machine((*grbl.Session).Home))
	mux.HandleFunc("POST /api/machine/origin", s.machine((*grbl.Session).GoToWorkOrigin))
	return mux
}

// Close cancels running jobs, which turn the laser off, and waits for them.
func (s *Server) Close() {
	s.cancel()
	s.wg.Wait()
}

func (s *Server) getPorts(w http.ResponseWriter, r *http.Request) {
	ports, err := s.ListPorts()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	if ports == nil {
		ports = []string{}
	}
	s.writeJSON(w, http.StatusOK, ports)
}

func (s *Server) getProfiles(w http.ResponseWriter, r *http.Request) {
	names := s.Config.ProfileNames()
	profiles := make([]model.ProfileResponse, 0, len(names))
	for _, name := range names {
		p, err := s.Config.Profile(name)
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, err)
			return
		}
		profiles = append(profiles, model.FromProfile(p))
	}
	s.writeJSON(w, http.StatusOK, profiles)
}

func (s *Server) createJob(w http.ResponseWriter, r *http.Request) {
	var body model.JobRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	req, err := mapJobRequest(&body)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	cfg, err := s.Config.JobConfig(req)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	cfg.ID = uuid.New()
	if err := s.Store.Queue(r.Context(), cfg.ID, cfg.Name); err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		// Run records the outcome itself
		s.Runner.Run(s.ctx, cfg)
	}()

	s.Logger.Info("Job queued", "job", cfg.ID.String(), "name", cfg.Name)
	s.writeJSON(w, http.StatusAccepted, model.JobAccepted{ID: cfg.ID.String()})
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	limit := defaultListLimit
	if l := r.URL.Query().Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n <= 0 {
			s.writeError(w, http.StatusBadRequest, errors.New("limit must be a positive number"))
			return
		}
		limit = n
	}

	jobs, err := s.Store.List(r.Context(), limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	res := make([]model.JobResponse, len(jobs))
	for i, j := range jobs {
		res[i] = model.FromJob(j)
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	j, err := s.Store.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	if j == nil {
		s.writeError(w, http.StatusNotFound, errors.New("no such job"))
		return
	}
	s.writeJSON(w, http.StatusOK, model.FromJob(*j))
}

func (s *Server) stop(w http.ResponseWriter, r *http.Request) {
	if err := s.Runner.Stop(); err != nil {
		s.writeError(w, status(err), err)
		return
	}
	s.Logger.Warn("Stopped by request")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listPositions(w http.ResponseWriter, r *http.Request) {
	positions, err := s.Store.ListPositions(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	res := make([]model.Position, len(positions))
	for i, p := range positions {
		res[i] = model.FromPosition(p)
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) savePosition(w http.ResponseWriter, r *http.Request) {
	var body model.Position
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	if body.Name == "" {
		s.writeError(w, http.StatusBadRequest, errors.New("a position needs a name"))
		return
	}
	p := store.Position{Name: body.Name, X: body.X, Y: body.Y}
	if err := s.Store.SavePosition(r.Context(), p); err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, body)
}

func (s *Server) gotoPosition(w http.ResponseWriter, r *http.Request) {
	p, err := s.Store.GetPosition(r.Context(), r.PathValue("name"))
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	if p == nil {
		s.writeError(w, http.StatusNotFound, errors.New("no such position"))
		return
	}

	port := s.Config.Machine.PortParams("", 0)
	err = s.Runner.Do(r.Context(), port, func(session *grbl.Session) error {
		return session.MoveTo(r.Context(), p.X, p.Y)
	})
	if err != nil {
		s.writeError(w, status(err), err)
		return
	}
	s.writeJSON(w, http.StatusOK, model.FromPosition(*p))
}

// machine runs a single controller command between jobs on the configured
// port.
func (s *Server) machine(command func(*grbl.Session, context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		port := s.Config.Machine.PortParams("", 0)
		err := s.Runner.Do(r.Context(), port, func(session *grbl.Session) error {
			return command(session, r.Context())
		})
		if err != nil {
			s.writeError(w, status(err), err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func status(err error) int {
	var aborted *grbl.AbortedError
	switch {
	case errors.As(err, &aborted):
		return http.StatusBadGateway
	case errors.Is(err, grbl.ErrNotConnected):
		return http.StatusConflict
	case errors.Is(err, job.ErrInvalidConfig):
		return http.StatusBadRequest
	case errors.Is(err, grbl.ErrPortUnavailable),
		errors.Is(err, grbl.ErrConnectionLost),
		errors.Is(err, grbl.ErrResponseTimeout):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.Logger.Warn("Couldn't write response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, code int, err error) {
	if code >= http.StatusInternalServerError {
		s.Logger.Error("Request failed", "error", err)
	}
	s.writeJSON(w, code, model.Error{Error: err.Error()})
}
