package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/cuemby/corral/pkg/events"
	"github.com/cuemby/corral/pkg/log"
	"github.com/cuemby/corral/pkg/metrics"
	"github.com/cuemby/corral/pkg/rpc"
	"github.com/cuemby/corral/pkg/scheduler"
	"github.com/cuemby/corral/pkg/storage"
	"github.com/cuemby/corral/pkg/types"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// Version is reported by /health; the CLI sets it at startup
var Version = "dev"

// Store is the registry and ledger surface the API reads and writes
type Store interface {
	scheduler.Registry
	scheduler.Ledger
	ListInstances() ([]*types.Instance, error)
	ListVolumes() ([]*types.Volume, error)
	CreateInstance(inst *types.Instance) error
	CreateVolume(vol *types.Volume) error
	SetServiceDisabled(topic, host string, disabled bool) error
	DeleteService(topic, host string, at time.Time) error
}

// Leadership reports Raft state for the readiness check
type Leadership interface {
	IsLeader() bool
	LeaderAddr() string
}

// Config holds the collaborators of the HTTP server
type Config struct {
	Store    Store
	Liveness *scheduler.Liveness
	Bus      rpc.Bus
	// Raft is optional; without it readiness only checks storage
	Raft Leadership
	// Events is optional; without it /v1/events is not served
	Events *events.Broker
	// RequestTimeout bounds calls to the scheduler
	RequestTimeout time.Duration
}

// Server is the HTTP admin surface: health, metrics, zones, services and
// workload requests
type Server struct {
	store    Store
	liveness *scheduler.Liveness
	bus      rpc.Bus
	raft     Leadership
	events   *events.Broker
	timeout  time.Duration
	router   chi.Router
	http     *http.Server
	logger   zerolog.Logger

	// cancel ends long-lived requests (event streams) on Shutdown
	cancel context.CancelFunc
}

// NewServer creates the HTTP server and its routes
func NewServer(cfg Config) *Server {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = rpc.DefaultRequestTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cancel:   cancel,
		store:    cfg.Store,
		liveness: cfg.Liveness,
		bus:      cfg.Bus,
		raft:     cfg.Raft,
		events:   cfg.Events,
		timeout:  timeout,
		logger:   log.WithComponent("api"),
	}
	s.router = s.routes()
	s.http = &http.Server{
		Handler:      s.router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: timeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.instrument)

	r.Get("/health", s.healthHandler)
	r.Get("/ready", s.readyHandler)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/zones", s.listZones)
		if s.events != nil {
			r.Get("/events", s.streamEvents)
		}

		r.Get("/services", s.listServices)
		r.Post("/services/{topic}/{host}/disable", s.setServiceDisabled(true))
		r.Post("/services/{topic}/{host}/enable", s.setServiceDisabled(false))
		r.Delete("/services/{topic}/{host}", s.deleteService)

		r.Get("/instances", s.listInstances)
		r.Post("/instances", s.createInstance)
		r.Get("/instances/{id}", s.getInstance)
		r.Delete("/instances/{id}", s.terminateInstance)

		r.Get("/volumes", s.listVolumes)
		r.Post("/volumes", s.createVolume)
		r.Get("/volumes/{id}", s.getVolume)
		r.Delete("/volumes/{id}", s.deleteVolume)
	})

	return r
}

// Handler returns the HTTP handler for embedding in other servers
func (s *Server) Handler() http.Handler {
	return s.router
}

// Serve serves HTTP on lis until Shutdown
func (s *Server) Serve(lis net.Listener) error {
	s.logger.Info().Str("addr", lis.Addr().String()).Msg("HTTP API listening")
	if err := s.http.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Start listens on addr and serves HTTP
func (s *Server) Start(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %v", err)
	}
	return s.Serve(lis)
}

// Shutdown gracefully stops the HTTP server. Open event streams are ended
// rather than waited for.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancel()
	return s.http.Shutdown(ctx)
}

// instrument logs every request and counts it by method and status
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		timer := metrics.NewTimer()
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		metrics.APIRequestsTotal.WithLabelValues(r.Method, strconv.Itoa(status)).Inc()
		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Dur("duration", timer.Duration()).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps domain errors onto HTTP statuses
func writeError(w http.ResponseWriter, err error) {
	status, kind := http.StatusInternalServerError, ""
	switch {
	case errors.Is(err, storage.ErrNotFound):
		status, kind = http.StatusNotFound, "NotFound"
	case errors.Is(err, scheduler.ErrInvalidRequest):
		status, kind = http.StatusBadRequest, "InvalidRequest"
	case errors.Is(err, scheduler.ErrWillNotSchedule):
		status, kind = http.StatusConflict, "WillNotSchedule"
	case errors.Is(err, scheduler.ErrNoValidHost):
		status, kind = http.StatusServiceUnavailable, "NoValidHost"
	case errors.Is(err, scheduler.ErrRegistryUnavailable):
		status, kind = http.StatusServiceUnavailable, "RegistryUnavailable"
	case errors.Is(err, rpc.ErrNoResponders):
		status, kind = http.StatusServiceUnavailable, "NoResponders"
	}
	writeJSON(w, status, ErrorResponse{Error: err.Error(), Kind: kind})
}
