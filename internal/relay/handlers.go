package relay

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/slurm-admin/slm/internal/model"
	"github.com/slurm-admin/slm/internal/store"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.metrics.requests.WithLabelValues("health").Inc()

	database := "connected"
	if s.store == nil {
		database = "disabled"
	}
	s.respond(w, "health", http.StatusOK, model.HealthResponse{
		Service:  ServiceName,
		Status:   "running",
		Database: database,
	})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	const endpoint = "register"
	s.metrics.requests.WithLabelValues(endpoint).Inc()

	var req model.RegisterRequest
	if !s.decode(w, endpoint, r, &req) {
		return
	}
	if req.JobID == "" || req.JobName == "" {
		s.refuse(w, endpoint, http.StatusBadRequest, req.JobID, "Missing required fields: job_id, job_name")
		return
	}
	if s.store == nil {
		s.refuse(w, endpoint, http.StatusServiceUnavailable, req.JobID, "Database disabled")
		return
	}

	job := model.JobRecord{
		JobID:      req.JobID,
		JobName:    req.JobName,
		ScriptPath: req.ScriptPath,
		Command:    req.Command,
		Nodes:      req.Nodes,
		CPUs:       req.CPUs,
		GPUs:       req.GPUs,
		Memory:     req.Memory,
		Partition:  req.Partition,
		Source:     model.SubmissionSource(req.Source),
	}
	if err := s.store.RegisterJob(r.Context(), job); err != nil {
		s.metrics.storeErrors.Inc()
		slog.ErrorContext(r.Context(), "registering job failed", "job_id", req.JobID, "error", err)
		s.refuse(w, endpoint, http.StatusInternalServerError, req.JobID, "Failed to register job")
		return
	}

	slog.InfoContext(r.Context(), "job registered", "job_id", req.JobID, "source", req.Source)
	s.respond(w, endpoint, http.StatusOK, model.APIResponse{
		Success: true,
		JobID:   req.JobID,
		Message: "Job registered successfully",
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	const endpoint = "status"
	s.metrics.requests.WithLabelValues(endpoint).Inc()

	var req model.StatusRequest
	if !s.decode(w, endpoint, r, &req) {
		return
	}
	if req.JobID == "" || req.Status == "" {
		s.refuse(w, endpoint, http.StatusBadRequest, req.JobID, "Missing required fields: job_id, status")
		return
	}
	if s.store == nil {
		s.refuse(w, endpoint, http.StatusServiceUnavailable, req.JobID, "Database disabled")
		return
	}

	upd := store.JobUpdate{
		Command:    req.Command,
		ScriptPath: req.ScriptPath,
		Nodes:      req.Nodes,
		CPUs:       req.CPUs,
		GPUs:       req.GPUs,
		Memory:     req.Memory,
		Partition:  req.Partition,
		ExitCode:   req.ExitCode,
	}
	found, err := s.store.UpdateStatus(r.Context(), req.JobID, model.EventKind(req.Status), upd)
	if err != nil {
		s.metrics.storeErrors.Inc()
		slog.ErrorContext(r.Context(), "updating job status failed", "job_id", req.JobID, "error", err)
		s.refuse(w, endpoint, http.StatusInternalServerError, req.JobID, "Failed to update job status")
		return
	}
	if !found {
		s.refuse(w, endpoint, http.StatusNotFound, req.JobID, "Job not found")
		return
	}

	slog.InfoContext(r.Context(), "job status updated", "job_id", req.JobID, "status", req.Status)
	s.respond(w, endpoint, http.StatusOK, model.APIResponse{
		Success: true,
		JobID:   req.JobID,
		Message: "Job status updated successfully",
	})
}

func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	const endpoint = "event"
	s.metrics.requests.WithLabelValues(endpoint).Inc()

	var req model.EventRequest
	if !s.decode(w, endpoint, r, &req) {
		return
	}
	if req.JobID == "" || req.Type == "" || req.Status == "" {
		s.refuse(w, endpoint, http.StatusBadRequest, req.JobID, "Missing required fields: job_id, event_type, event_status")
		return
	}
	if s.store == nil {
		s.refuse(w, endpoint, http.StatusServiceUnavailable, req.JobID, "Database disabled")
		return
	}

	ev := store.EventRecord{
		JobID:    req.JobID,
		Type:     req.Type,
		Status:   req.Status,
		Details:  req.Details,
		Metadata: req.Metadata,
	}
	if err := s.store.AppendEvent(r.Context(), ev); err != nil {
		s.metrics.storeErrors.Inc()
		slog.ErrorContext(r.Context(), "logging event failed", "job_id", req.JobID, "error", err)
		s.refuse(w, endpoint, http.StatusInternalServerError, req.JobID, "Failed to log event")
		return
	}

	slog.InfoContext(r.Context(), "event logged", "job_id", req.JobID, "event_status", req.Status)
	s.respond(w, endpoint, http.StatusOK, model.APIResponse{
		Success: true,
		JobID:   req.JobID,
		Message: "Event logged successfully",
	})
}

func (s *Server) decode(w http.ResponseWriter, endpoint string, r *http.Request, into any) bool {
	if err := json.NewDecoder(r.Body).Decode(into); err != nil {
		s.refuse(w, endpoint, http.StatusBadRequest, "", "Invalid JSON")
		return false
	}
	return true
}

func (s *Server) refuse(w http.ResponseWriter, endpoint string, status int, jobID, message string) {
	s.respond(w, endpoint, status, model.APIResponse{JobID: jobID, Message: message})
}

func (s *Server) respond(w http.ResponseWriter, endpoint string, status int, body any) {
	if status >= http.StatusBadRequest {
		s.metrics.failures.WithLabelValues(endpoint).Inc()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("encoding response failed", "endpoint", endpoint, "error", err)
	}
}
