// Package slurm reads the scheduler context of the current process and
// talks to the scheduler's submission command.
package slurm

import (
	"fmt"
	"os"
	"strconv"

	"github.com/google/uuid"
)

// NotAvailable is rendered for any value the scheduler did not announce.
const NotAvailable = "N/A"

// localJobName names runs outside the scheduler, where SLURM_JOB_NAME
// is absent.
const localJobName = "LocalTask"

// Env is the scheduler context of the current process. Read it once at
// startup, the values never change for the lifetime of a job step.
type Env struct {
	JobID     string // raw scheduler id, empty outside the scheduler
	JobName   string
	NodeList  string
	CPUs      string
	GPUs      string
	Memory    string
	Partition string
}

// Detect probes the scheduler environment of the calling process.
func Detect() Env {
	cpus := firstEnv("SLURM_CPUS_PER_TASK", "SLURM_CPUS_ON_NODE")
	return Env{
		JobID:     os.Getenv("SLURM_JOB_ID"),
		JobName:   orDefault(os.Getenv("SLURM_JOB_NAME"), localJobName),
		NodeList:  orDefault(os.Getenv("SLURM_JOB_NODELIST"), NotAvailable),
		CPUs:      orDefault(cpus, NotAvailable),
		GPUs:      orDefault(os.Getenv("SLURM_JOB_GRES"), NotAvailable),
		Memory:    memory(cpus),
		Partition: orDefault(os.Getenv("SLURM_JOB_PARTITION"), NotAvailable),
	}
}

// OnComputeNode reports whether the process runs inside a scheduler
// allocation. Compute nodes cannot reach the store directly and must relay
// through the login node service.
func (e Env) OnComputeNode() bool {
	return e.JobID != ""
}

// Identity derives the stable job identity: scheduler jobs are keyed by the
// scheduler id, anything else gets a fresh unique one. Call once per
// invocation and carry the result, the local form is random.
func (e Env) Identity() string {
	if e.JobID != "" {
		return "slurm-" + e.JobID
	}
	return "raw-" + uuid.NewString()
}

// memory resolves the allocated memory in MB. The scheduler exports either
// a per node total or a per CPU share, the latter is scaled by the CPU count.
func memory(cpus string) string {
	if v := os.Getenv("SLURM_MEM_PER_NODE"); v != "" {
		return v
	}
	perCPU := os.Getenv("SLURM_MEM_PER_CPU")
	if perCPU == "" {
		return NotAvailable
	}
	mb, err := strconv.Atoi(perCPU)
	if err != nil {
		return perCPU
	}
	n, err := strconv.Atoi(cpus)
	if err != nil || n < 1 {
		n = 1
	}
	return fmt.Sprintf("%dMB", mb*n)
}

func firstEnv(names ...string) string {
	for _, name := range names {
		if v := os.Getenv(name); v != "" {
			return v
		}
	}
	return ""
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
