package relay_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/slurm-admin/slm/internal/model"
	"github.com/slurm-admin/slm/internal/relay"
	"github.com/slurm-admin/slm/internal/store"
	"github.com/stretchr/testify/require"
)

type statusUpdate struct {
	jobID  string
	status model.EventKind
	upd    store.JobUpdate
}

type fakeStore struct {
	mu      sync.Mutex
	known   map[string]bool
	jobs    []model.JobRecord
	updates []statusUpdate
	events  []store.EventRecord
	fail    error
}

func newFakeStore(known ...string) *fakeStore {
	f := &fakeStore{known: make(map[string]bool)}
	for _, id := range known {
		f.known[id] = true
	}
	return f
}

func (f *fakeStore) RegisterJob(_ context.Context, job model.JobRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.known[job.JobID] = true
	f.jobs = append(f.jobs, job)
	return nil
}

func (f *fakeStore) UpdateStatus(_ context.Context, jobID string, status model.EventKind, upd store.JobUpdate) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return false, f.fail
	}
	if !f.known[jobID] {
		return false, nil
	}
	f.updates = append(f.updates, statusUpdate{jobID: jobID, status: status, upd: upd})
	return true, nil
}

func (f *fakeStore) AppendEvent(_ context.Context, ev store.EventRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.events = append(f.events, ev)
	return nil
}

func (f *fakeStore) snapshot() (jobs []model.JobRecord, updates []statusUpdate, events []store.EventRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.jobs), slices.Clone(f.updates), slices.Clone(f.events)
}

func newTestServer(t *testing.T, st relay.JobStore) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(relay.NewServer(st).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, url, body string) (int, model.APIResponse) {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	var envelope model.APIResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	return resp.StatusCode, envelope
}

func getBody(t *testing.T, url string) string {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(body)
}

func TestHealth(t *testing.T) {
	t.Parallel()

	check := func(t *testing.T, st relay.JobStore, database string) {
		t.Helper()
		srv := newTestServer(t, st)

		resp, err := http.Get(srv.URL + "/")
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var health model.HealthResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
		require.Equal(t, relay.ServiceName, health.Service)
		require.Equal(t, "running", health.Status)
		require.Equal(t, database, health.Database)
	}

	t.Run("connected", func(t *testing.T) {
		t.Parallel()
		check(t, newFakeStore(), "connected")
	})
	t.Run("disabled", func(t *testing.T) {
		t.Parallel()
		check(t, nil, "disabled")
	})
}

func TestRegisterJob(t *testing.T) {
	t.Parallel()
	st := newFakeStore()
	srv := newTestServer(t, st)

	code, envelope := postJSON(t, srv.URL+"/api/job/register",
		`{"job_id":"slurm-9","job_name":"train","submission_source":"slm_submit","cpus":"8"}`)
	require.Equal(t, http.StatusOK, code)
	require.True(t, envelope.Success)
	require.Equal(t, "slurm-9", envelope.JobID)
	require.Equal(t, "Job registered successfully", envelope.Message)

	jobs, _, _ := st.snapshot()
	require.Len(t, jobs, 1)
	require.Equal(t, "train", jobs[0].JobName)
	require.Equal(t, model.SourceSubmit, jobs[0].Source)
	require.Equal(t, "8", jobs[0].CPUs)
}

func TestRegisterJobValidation(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t, newFakeStore())

	code, envelope := postJSON(t, srv.URL+"/api/job/register", `{"job_name":"train"}`)
	require.Equal(t, http.StatusBadRequest, code)
	require.False(t, envelope.Success)
	require.Equal(t, "Missing required fields: job_id, job_name", envelope.Message)

	code, envelope = postJSON(t, srv.URL+"/api/job/register", `{not json`)
	require.Equal(t, http.StatusBadRequest, code)
	require.False(t, envelope.Success)
	require.Equal(t, "Invalid JSON", envelope.Message)
}

func TestUpdateStatus(t *testing.T) {
	t.Parallel()
	st := newFakeStore("slurm-9")
	srv := newTestServer(t, st)

	code, envelope := postJSON(t, srv.URL+"/api/job/status",
		`{"job_id":"slurm-9","status":"FAILED","exit_code":143,"nodes":"node01"}`)
	require.Equal(t, http.StatusOK, code)
	require.True(t, envelope.Success)
	require.Equal(t, "Job status updated successfully", envelope.Message)

	_, updates, _ := st.snapshot()
	require.Len(t, updates, 1)
	require.Equal(t, "slurm-9", updates[0].jobID)
	require.Equal(t, model.EventFailed, updates[0].status)
	require.Equal(t, "node01", updates[0].upd.Nodes)
	require.NotNil(t, updates[0].upd.ExitCode)
	require.Equal(t, 143, *updates[0].upd.ExitCode)
}

func TestUpdateStatusUnknownJob(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t, newFakeStore())

	code, envelope := postJSON(t, srv.URL+"/api/job/status", `{"job_id":"ghost","status":"RUNNING"}`)
	require.Equal(t, http.StatusNotFound, code)
	require.False(t, envelope.Success)
	require.Equal(t, "ghost", envelope.JobID)
	require.Equal(t, "Job not found", envelope.Message)
}

func TestUpdateStatusValidation(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t, newFakeStore())

	code, envelope := postJSON(t, srv.URL+"/api/job/status", `{"job_id":"slurm-9"}`)
	require.Equal(t, http.StatusBadRequest, code)
	require.Equal(t, "Missing required fields: job_id, status", envelope.Message)
}

func TestLogEvent(t *testing.T) {
	t.Parallel()
	st := newFakeStore("slurm-9")
	srv := newTestServer(t, st)

	code, envelope := postJSON(t, srv.URL+"/api/job/event",
		`{"job_id":"slurm-9","event_type":"lifecycle","event_status":"PAUSED","details":"Received signal: SIGTSTP","metadata":{"signal":"SIGTSTP"}}`)
	require.Equal(t, http.StatusOK, code)
	require.True(t, envelope.Success)
	require.Equal(t, "Event logged successfully", envelope.Message)

	_, _, events := st.snapshot()
	require.Len(t, events, 1)
	require.Equal(t, "lifecycle", events[0].Type)
	require.Equal(t, "PAUSED", events[0].Status)
	require.Equal(t, "Received signal: SIGTSTP", events[0].Details)
	require.Equal(t, "SIGTSTP", events[0].Metadata["signal"])
}

func TestLogEventValidation(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t, newFakeStore())

	code, envelope := postJSON(t, srv.URL+"/api/job/event", `{"job_id":"slurm-9"}`)
	require.Equal(t, http.StatusBadRequest, code)
	require.Equal(t, "Missing required fields: job_id, event_type, event_status", envelope.Message)
}

func TestDatabaseDisabled(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t, nil)

	// One body satisfying every endpoint's field validation, so each
	// handler gets as far as the store check.
	body := `{"job_id":"slurm-9","job_name":"train","status":"RUNNING","event_type":"lifecycle","event_status":"RUNNING"}`
	for _, path := range []string{"/api/job/register", "/api/job/status", "/api/job/event"} {
		code, envelope := postJSON(t, srv.URL+path, body)
		require.Equal(t, http.StatusServiceUnavailable, code, path)
		require.False(t, envelope.Success, path)
		require.Equal(t, "Database disabled", envelope.Message, path)
	}
}

func TestStoreFailureCountsErrors(t *testing.T) {
	t.Parallel()
	st := newFakeStore("slurm-9")
	st.fail = errors.New("connection reset")
	srv := newTestServer(t, st)

	code, envelope := postJSON(t, srv.URL+"/api/job/status", `{"job_id":"slurm-9","status":"RUNNING"}`)
	require.Equal(t, http.StatusInternalServerError, code)
	require.False(t, envelope.Success)
	require.Equal(t, "Failed to update job status", envelope.Message)

	metrics := getBody(t, srv.URL+"/metrics")
	require.Contains(t, metrics, `slm_relay_requests_total{endpoint="status"} 1`)
	require.Contains(t, metrics, `slm_relay_request_failures_total{endpoint="status"} 1`)
	require.Contains(t, metrics, "slm_relay_store_errors_total 1")
}

func TestRunStopsOnCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(t.Context())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()
	require.NoError(t, relay.NewServer(nil).Run(ctx, "127.0.0.1:0"))
}

func TestRunBindFailure(t *testing.T) {
	t.Parallel()
	require.Error(t, relay.NewServer(nil).Run(t.Context(), "definitely-not-an-address:0:0"))
}
