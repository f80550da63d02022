// Package relay implements the login node API service. Supervisors on
// compute nodes cannot reach the database directly, they forward job
// registrations, status changes and lifecycle events over HTTP and this
// service applies them to the store.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/slurm-admin/slm/internal/model"
	"github.com/slurm-admin/slm/internal/store"
)

// ServiceName is reported by the health endpoint.
const ServiceName = "SLM Job API"

const shutdownGrace = 5 * time.Second

// JobStore is the slice of the store the handlers need. A nil JobStore
// runs the service without persistence: health reports the database as
// disabled and every write endpoint answers 503.
type JobStore interface {
	RegisterJob(ctx context.Context, job model.JobRecord) error
	UpdateStatus(ctx context.Context, jobID string, status model.EventKind, upd store.JobUpdate) (bool, error)
	AppendEvent(ctx context.Context, ev store.EventRecord) error
}

// Server accepts job updates from compute nodes and writes them through
// to the store.
type Server struct {
	store   JobStore
	metrics *metrics
	router  *mux.Router
}

func NewServer(st JobStore) *Server {
	reg := prometheus.NewRegistry()
	s := &Server{
		store:   st,
		metrics: newMetrics(reg),
	}

	s.router = mux.NewRouter()
	s.router.HandleFunc("/", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/api/job/register", s.handleRegister).Methods(http.MethodPost)
	s.router.HandleFunc("/api/job/status", s.handleStatus).Methods(http.MethodPost)
	s.router.HandleFunc("/api/job/event", s.handleEvent).Methods(http.MethodPost)
	s.router.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	return s
}

// Handler exposes the routes. Tests mount it on httptest servers.
func (s *Server) Handler() http.Handler { return s.router }

// Run serves addr until ctx is cancelled, then drains open connections
// within shutdownGrace.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.InfoContext(ctx, "relay service listening", "addr", addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serving %s failed: %w", addr, err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		slog.Info("shutting relay service down")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownGrace)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
