package sink_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/slurm-admin/slm/internal/model"
	"github.com/slurm-admin/slm/internal/sink"

	"github.com/stretchr/testify/require"
)

// relayStub is a minimal in-process stand-in for the login node relay.
type relayStub struct {
	healthy atomic.Bool

	mu     sync.Mutex
	known  map[string]bool
	calls  []string
	events []model.EventRequest
}

func newRelayStub() *relayStub {
	s := &relayStub{known: make(map[string]bool)}
	s.healthy.Store(true)
	return s
}

func (s *relayStub) record(call string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, call)
}

func (s *relayStub) sequence() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func (s *relayStub) recordedEvents() []model.EventRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.EventRequest(nil), s.events...)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *relayStub) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		s.record("health")
		if !s.healthy.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, model.HealthResponse{
			Service: "stub", Status: "running", Database: "connected",
		})
	})

	mux.HandleFunc("POST /api/job/register", func(w http.ResponseWriter, r *http.Request) {
		s.record("register")
		var req model.RegisterRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.JobID == "" || req.JobName == "" {
			writeJSON(w, http.StatusBadRequest, model.APIResponse{Success: false, Message: "missing required fields"})
			return
		}
		s.mu.Lock()
		s.known[req.JobID] = true
		s.mu.Unlock()
		writeJSON(w, http.StatusOK, model.APIResponse{Success: true, JobID: req.JobID, Message: "Job registered successfully"})
	})

	mux.HandleFunc("POST /api/job/status", func(w http.ResponseWriter, r *http.Request) {
		s.record("status")
		var req model.StatusRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, model.APIResponse{Success: false, Message: "invalid JSON"})
			return
		}
		s.mu.Lock()
		known := s.known[req.JobID]
		s.mu.Unlock()
		if !known {
			writeJSON(w, http.StatusNotFound, model.APIResponse{Success: false, JobID: req.JobID, Message: "Job not found"})
			return
		}
		writeJSON(w, http.StatusOK, model.APIResponse{Success: true, JobID: req.JobID, Message: "Job status updated successfully"})
	})

	mux.HandleFunc("POST /api/job/event", func(w http.ResponseWriter, r *http.Request) {
		s.record("event")
		var req model.EventRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, model.APIResponse{Success: false, Message: "invalid JSON"})
			return
		}
		s.mu.Lock()
		s.events = append(s.events, req)
		s.mu.Unlock()
		writeJSON(w, http.StatusOK, model.APIResponse{Success: true, JobID: req.JobID, Message: "Event logged successfully"})
	})

	return mux
}

func TestNewRelayRejectsBadURL(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{"", "login-node:9008", "/just/a/path"} {
		_, err := sink.NewRelay(raw, model.JobRecord{})
		require.Error(t, err, "url %q", raw)
	}
}

func TestRelayRegistersUnknownJob(t *testing.T) {
	t.Parallel()

	stub := newRelayStub()
	srv := httptest.NewServer(stub.routes())
	t.Cleanup(srv.Close)

	job := model.JobRecord{JobID: "slurm-77", JobName: "preprocess", Source: model.SourceSbatch}
	r, err := sink.NewRelay(srv.URL, job)
	require.NoError(t, err)

	running := model.NewEvent("slurm-77", model.EventRunning, "Command: python prep.py")
	require.Equal(t, model.Delivered, r.Deliver(t.Context(), running))
	require.Equal(t,
		[]string{"health", "status", "register", "status", "event"},
		stub.sequence(),
		"an unknown job is registered and the update retried",
	)

	done := model.NewEvent("slurm-77", model.EventCompleted, "Job completed successfully").WithExitCode(0)
	require.Equal(t, model.Delivered, r.Deliver(t.Context(), done))
	require.Equal(t,
		[]string{"health", "status", "register", "status", "event", "status", "event"},
		stub.sequence(),
		"known jobs and a checked relay skip the extra round trips",
	)

	events := stub.recordedEvents()
	require.Len(t, events, 2)
	require.Equal(t, "RUNNING", events[0].Status)
	require.Equal(t, "COMPLETED", events[1].Status)
	require.Equal(t, float64(0), events[1].Metadata["exit_code"])
}

func TestRelayDegradesPermanently(t *testing.T) {
	t.Parallel()

	stub := newRelayStub()
	stub.healthy.Store(false)
	srv := httptest.NewServer(stub.routes())
	t.Cleanup(srv.Close)

	r, err := sink.NewRelay(srv.URL, model.JobRecord{JobID: "slurm-77", JobName: "preprocess"})
	require.NoError(t, err)

	require.Equal(t, model.Degraded, r.Deliver(t.Context(), model.NewEvent("slurm-77", model.EventRunning, "")))
	probes := len(stub.sequence())
	require.Equal(t, 2, probes, "the health probe is retried once")

	// A later recovery of the relay must not matter anymore.
	stub.healthy.Store(true)
	require.Equal(t, model.Degraded, r.Deliver(t.Context(), model.NewEvent("slurm-77", model.EventCompleted, "")))
	require.Len(t, stub.sequence(), probes, "a degraded relay sink stays silent")
}

func TestRelayDegradesWhenServerDies(t *testing.T) {
	t.Parallel()

	stub := newRelayStub()
	srv := httptest.NewServer(stub.routes())

	job := model.JobRecord{JobID: "slurm-77", JobName: "preprocess"}
	r, err := sink.NewRelay(srv.URL, job)
	require.NoError(t, err)

	require.Equal(t, model.Delivered, r.Deliver(t.Context(), model.NewEvent("slurm-77", model.EventRunning, "")))

	srv.Close()
	require.Equal(t, model.Degraded, r.Deliver(t.Context(), model.NewEvent("slurm-77", model.EventPaused, "")))
	require.Equal(t, model.Degraded, r.Deliver(t.Context(), model.NewEvent("slurm-77", model.EventCompleted, "")))
}
