package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/slurm-admin/slm/internal/model"
	"github.com/slurm-admin/slm/internal/store"
)

// relayClient speaks the relay write protocol. It is the HTTP twin of
// store.Store for the three write operations, so both can back the same
// recording scenario.
type relayClient struct {
	base   *url.URL
	client *http.Client
}

func newRelayClient(baseURL string) (*relayClient, error) {
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, err
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, errors.New("please define the relay url with a scheme, e.g. `http://login-node:9008`")
	}
	parsed.Path = strings.TrimRight(parsed.Path, "/")

	return &relayClient{base: parsed, client: &http.Client{}}, nil
}

func (c *relayClient) endpoint(path string) string {
	u := *c.base
	u.Path += path
	return u.String()
}

// Ping verifies the relay answers its health endpoint and reports itself
// running.
func (c *relayClient) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("/"), nil)
	if err != nil {
		return err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	var health model.HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return fmt.Errorf("decoding health response failed: %w", err)
	}
	if health.Status != "running" {
		return fmt.Errorf("relay reported status %q", health.Status)
	}
	return nil
}

func (c *relayClient) post(ctx context.Context, path string, payload any) (model.APIResponse, int, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return model.APIResponse{}, 0, fmt.Errorf("encoding request failed: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(path), bytes.NewReader(body))
	if err != nil {
		return model.APIResponse{}, 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return model.APIResponse{}, 0, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	var api model.APIResponse
	if err := json.NewDecoder(resp.Body).Decode(&api); err != nil {
		return model.APIResponse{}, resp.StatusCode, fmt.Errorf("decoding relay response failed: %w", err)
	}
	return api, resp.StatusCode, nil
}

func (c *relayClient) RegisterJob(ctx context.Context, job model.JobRecord) error {
	api, code, err := c.post(ctx, "/api/job/register", model.RegisterRequest{
		JobID:      job.JobID,
		JobName:    job.JobName,
		Source:     string(job.Source),
		ScriptPath: job.ScriptPath,
		Command:    job.Command,
		Nodes:      job.Nodes,
		CPUs:       job.CPUs,
		GPUs:       job.GPUs,
		Memory:     job.Memory,
		Partition:  job.Partition,
	})
	if err != nil {
		return err
	}
	if !api.Success {
		return fmt.Errorf("relay refused registration: status %d, %s", code, api.Message)
	}
	return nil
}

// UpdateStatus reports false without error when the relay does not know
// the job yet.
func (c *relayClient) UpdateStatus(ctx context.Context, jobID string, status model.EventKind, upd store.JobUpdate) (bool, error) {
	api, code, err := c.post(ctx, "/api/job/status", model.StatusRequest{
		JobID:      jobID,
		Status:     string(status),
		ExitCode:   upd.ExitCode,
		Command:    upd.Command,
		ScriptPath: upd.ScriptPath,
		Nodes:      upd.Nodes,
		CPUs:       upd.CPUs,
		GPUs:       upd.GPUs,
		Memory:     upd.Memory,
		Partition:  upd.Partition,
	})
	if err != nil {
		return false, err
	}
	if code == http.StatusNotFound {
		return false, nil
	}
	if !api.Success {
		return false, fmt.Errorf("relay refused status update: status %d, %s", code, api.Message)
	}
	return true, nil
}

func (c *relayClient) AppendEvent(ctx context.Context, ev store.EventRecord) error {
	api, code, err := c.post(ctx, "/api/job/event", model.EventRequest{
		JobID:    ev.JobID,
		Type:     ev.Type,
		Status:   ev.Status,
		Details:  ev.Details,
		Metadata: ev.Metadata,
	})
	if err != nil {
		return err
	}
	if !api.Success {
		return fmt.Errorf("relay refused event: status %d, %s", code, api.Message)
	}
	return nil
}
