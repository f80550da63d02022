package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/slurm-admin/slm/internal/config"
	"github.com/slurm-admin/slm/internal/log"
	"github.com/slurm-admin/slm/internal/model"
	"github.com/slurm-admin/slm/internal/relay"
	"github.com/slurm-admin/slm/internal/sink"
	"github.com/slurm-admin/slm/internal/slurm"
	"github.com/slurm-admin/slm/internal/store"
	"github.com/slurm-admin/slm/internal/supervise"

	"github.com/spf13/cobra"
)

func doRun(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	env := slurm.Detect()
	jobID := env.Identity()

	attrs := slog.Group("slm",
		slog.String("cmd", "run"),
		slog.String("job_id", jobID),
		slog.Int("pid", os.Getpid()),
	)
	ctx = log.ContextAttrs(ctx, attrs)

	command := supervise.Command{Path: args[0], Args: args[1:]}
	job := jobRecord(env, jobID, command.String())

	code, err := supervise.New(job, command, buildSinks(ctx, env, job)...).Do(ctx)
	runExit = code
	if err != nil {
		slog.ErrorContext(ctx, "supervision failed", "error", err)
	}
	return nil
}

func doSubmit(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	script := args[0]

	attrs := slog.Group("slm",
		slog.String("cmd", "submit"),
		slog.Int("pid", os.Getpid()),
	)
	ctx = log.ContextAttrs(ctx, attrs)

	if _, err := os.Stat(script); err != nil {
		return fmt.Errorf("script not found: %s", script)
	}
	scriptPath, err := filepath.Abs(script)
	if err != nil {
		return fmt.Errorf("resolving %s: %w", script, err)
	}

	rawID, err := slurm.Submit(ctx, script, strings.Fields(flagSbatchArgs))
	if err != nil {
		return err
	}
	jobID := "slurm-" + rawID
	ctx = log.WithJob(ctx, jobID)

	env := slurm.Detect()
	job := jobRecord(env, jobID, "")
	job.ScriptPath = scriptPath
	job.Source = model.SourceSubmit

	dispatcher := supervise.NewDispatcher(buildSinks(ctx, env, job)...)
	defer dispatcher.Close(ctx)

	detail := fmt.Sprintf("Script: %s, Job ID: %s", script, rawID)
	dispatcher.Dispatch(ctx, model.NewEvent(jobID, model.EventSubmitted, detail))

	fmt.Printf("Submitted batch job %s\n", rawID)
	return nil
}

func doServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	attrs := slog.Group("slm",
		slog.String("cmd", "serve"),
		slog.Int("pid", os.Getpid()),
	)
	ctx = log.ContextAttrs(ctx, attrs)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var js relay.JobStore
	switch {
	case conf.NoDB:
		slog.InfoContext(ctx, "persistence disabled by configuration, serving without a store")
	case !storeConfig().Complete():
		slog.WarnContext(ctx, "store connection not configured, serving without a store")
	default:
		st, err := store.Open(ctx, storeConfig())
		if err != nil {
			return err
		}
		defer func() {
			_ = st.Close()
		}()
		if err := st.EnsureSchema(ctx); err != nil {
			return err
		}
		js = st
	}

	addr := net.JoinHostPort(flagHost, strconv.Itoa(flagPort))
	return relay.NewServer(js).Run(ctx, addr)
}

func doQuery(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	if conf.NoDB {
		return errors.New("query needs the database, but --no-db is set")
	}
	cfg := storeConfig()
	if !cfg.Complete() {
		return errors.New("store connection not configured, set db.host, db.user and db.name")
	}

	st, err := store.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		_ = st.Close()
	}()

	if len(args) == 0 {
		env := slurm.Detect()
		if !env.OnComputeNode() {
			return listRecentJobs(ctx, st)
		}
		args = []string{env.Identity()}
	}
	jobID := args[0]

	if flagEvents {
		return listEvents(ctx, st, jobID)
	}
	return showJob(ctx, st, jobID)
}

func doConfigInit(cmd *cobra.Command, _ []string) error {
	const path = "slm.yaml"
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer func() {
		_ = f.Close()
	}()

	if err := config.WriteDefault(f); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	fmt.Printf("wrote %s\n", path)
	return nil
}

// jobRecord snapshots the scheduler context into the persisted job shape.
func jobRecord(env slurm.Env, jobID, command string) model.JobRecord {
	source := model.SourceSbatch
	if !env.OnComputeNode() {
		source = model.SourceLocal
	}
	return model.JobRecord{
		JobID:     jobID,
		JobName:   env.JobName,
		Command:   command,
		Nodes:     env.NodeList,
		CPUs:      env.CPUs,
		GPUs:      env.GPUs,
		Memory:    env.Memory,
		Partition: env.Partition,
		Source:    source,
	}
}

// buildSinks assembles the delivery channels for one invocation: the
// notification webhook when configured, then exactly one record path.
// Compute nodes cannot reach the store and relay through the login node
// service, everything else writes to the store directly. A sink whose
// configuration is missing is left out, supervision runs regardless.
func buildSinks(ctx context.Context, env slurm.Env, job model.JobRecord) []model.Sink {
	sinks := make([]model.Sink, 0, 2)

	if conf.Webhook != "" {
		info := sink.JobInfo{Name: job.JobName, Nodes: job.Nodes, CPUs: job.CPUs}
		sinks = append(sinks, sink.NewNotification(conf.Webhook, sink.LarkText(info)))
	} else {
		slog.DebugContext(ctx, "webhook not configured, notifications disabled")
	}

	if conf.NoDB {
		slog.InfoContext(ctx, "job tracking disabled by configuration")
		return sinks
	}

	if env.OnComputeNode() {
		if conf.APIURL == "" {
			slog.WarnContext(ctx, "on a compute node without api_url, job tracking disabled")
			return sinks
		}
		forwarder, err := sink.NewRelay(conf.APIURL, job)
		if err != nil {
			slog.WarnContext(ctx, "relay sink unavailable", "error", err)
			return sinks
		}
		return append(sinks, forwarder)
	}

	cfg := storeConfig()
	if !cfg.Complete() {
		slog.WarnContext(ctx, "store connection not configured, job tracking disabled")
		return sinks
	}
	return append(sinks, sink.NewPersistence(cfg, job))
}

func storeConfig() store.Config {
	return store.Config{
		Host:     conf.DB.Host,
		Port:     conf.DB.Port,
		User:     conf.DB.User,
		Password: conf.DB.Password,
		Name:     conf.DB.Name,
	}
}

func listRecentJobs(ctx context.Context, st *store.Store) error {
	jobs, err := st.RecentJobs(ctx, flagLimit)
	if err != nil {
		return err
	}
	if len(jobs) == 0 {
		fmt.Println("no jobs recorded yet")
		return nil
	}

	fmt.Printf("Recent jobs:\n")
	fmt.Println(strings.Repeat("-", 80))
	for _, job := range jobs {
		fmt.Printf("  %-24s | %-12s | %-20s | %s\n",
			job.JobID, job.Status, job.JobName, formatTime(job.SubmittedAt))
	}
	return nil
}

func showJob(ctx context.Context, st *store.Store, jobID string) error {
	job, err := st.JobByID(ctx, jobID)
	if errors.Is(err, model.ErrJobNotFound) {
		fmt.Printf("no information found for job %s\n", jobID)
		return nil
	}
	if err != nil {
		return err
	}

	fmt.Printf("Job information for %s:\n", jobID)
	fmt.Println(strings.Repeat("-", 80))
	for _, row := range []struct {
		key   string
		value string
	}{
		{"job_name", job.JobName},
		{"script_path", job.ScriptPath},
		{"command", job.Command},
		{"nodes", job.Nodes},
		{"cpus", job.CPUs},
		{"gpus", job.GPUs},
		{"memory", job.Memory},
		{"partition_name", job.Partition},
		{"submission_source", string(job.Source)},
		{"status", string(job.Status)},
		{"exit_code", formatExit(job.ExitCode)},
		{"submitted_at", formatTime(job.SubmittedAt)},
		{"started_at", formatTime(job.StartedAt)},
		{"completed_at", formatTime(job.CompletedAt)},
	} {
		fmt.Printf("  %-20s: %s\n", row.key, row.value)
	}
	return nil
}

func listEvents(ctx context.Context, st *store.Store, jobID string) error {
	events, err := st.EventsByJob(ctx, jobID, flagLimit)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		fmt.Printf("no events found for job %s\n", jobID)
		return nil
	}

	fmt.Printf("Events for job %s:\n", jobID)
	fmt.Println(strings.Repeat("-", 80))
	for _, ev := range events {
		fmt.Printf("  %s | %-15s | %-12s | %s\n",
			ev.CreatedAt.Local().Format(time.DateTime), ev.Type, ev.Status, ev.Details)
	}
	return nil
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Local().Format(time.DateTime)
}

func formatExit(code *int) string {
	if code == nil {
		return "-"
	}
	return strconv.Itoa(*code)
}
