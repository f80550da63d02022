package slurm_test

import (
	"testing"

	"github.com/slurm-admin/slm/internal/slurm"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func clearSchedulerEnv(t *testing.T) {
	t.Helper()
	for _, name := range []string{
		"SLURM_JOB_ID",
		"SLURM_JOB_NAME",
		"SLURM_JOB_NODELIST",
		"SLURM_CPUS_PER_TASK",
		"SLURM_CPUS_ON_NODE",
		"SLURM_JOB_GRES",
		"SLURM_MEM_PER_NODE",
		"SLURM_MEM_PER_CPU",
		"SLURM_JOB_PARTITION",
	} {
		t.Setenv(name, "")
	}
}

func TestDetectOutsideScheduler(t *testing.T) {
	clearSchedulerEnv(t)

	env := slurm.Detect()
	require.Empty(t, env.JobID)
	require.False(t, env.OnComputeNode())
	require.Equal(t, "LocalTask", env.JobName)
	require.Equal(t, slurm.NotAvailable, env.NodeList)
	require.Equal(t, slurm.NotAvailable, env.CPUs)
	require.Equal(t, slurm.NotAvailable, env.Memory)
}

func TestDetectOnComputeNode(t *testing.T) {
	clearSchedulerEnv(t)
	t.Setenv("SLURM_JOB_ID", "4242")
	t.Setenv("SLURM_JOB_NAME", "train")
	t.Setenv("SLURM_JOB_NODELIST", "gpu[01-02]")
	t.Setenv("SLURM_CPUS_PER_TASK", "8")
	t.Setenv("SLURM_JOB_GRES", "gpu:2")
	t.Setenv("SLURM_MEM_PER_NODE", "64000")
	t.Setenv("SLURM_JOB_PARTITION", "gpu")

	env := slurm.Detect()
	require.True(t, env.OnComputeNode())
	require.Equal(t, "4242", env.JobID)
	require.Equal(t, "train", env.JobName)
	require.Equal(t, "gpu[01-02]", env.NodeList)
	require.Equal(t, "8", env.CPUs)
	require.Equal(t, "gpu:2", env.GPUs)
	require.Equal(t, "64000", env.Memory)
	require.Equal(t, "gpu", env.Partition)
}

func TestDetectMemoryPerCPU(t *testing.T) {
	clearSchedulerEnv(t)
	t.Setenv("SLURM_JOB_ID", "7")
	t.Setenv("SLURM_CPUS_PER_TASK", "4")
	t.Setenv("SLURM_MEM_PER_CPU", "2000")

	env := slurm.Detect()
	require.Equal(t, "8000MB", env.Memory)
}

func TestDetectCPUsOnNodeFallback(t *testing.T) {
	clearSchedulerEnv(t)
	t.Setenv("SLURM_JOB_ID", "7")
	t.Setenv("SLURM_CPUS_ON_NODE", "16")

	env := slurm.Detect()
	require.Equal(t, "16", env.CPUs)
}

func TestIdentity(t *testing.T) {
	t.Run("scheduler", func(t *testing.T) {
		env := slurm.Env{JobID: "4242"}
		require.Equal(t, "slurm-4242", env.Identity())
	})
	t.Run("local", func(t *testing.T) {
		env := slurm.Env{}
		id := env.Identity()
		require.True(t, len(id) > 4 && id[:4] == "raw-", "identity %q", id)
		_, err := uuid.Parse(id[4:])
		require.NoError(t, err)
		require.NotEqual(t, id, env.Identity())
	})
}

func TestParseSubmitOutput(t *testing.T) {
	t.Parallel()
	t.Run("ok", func(t *testing.T) {
		id, err := slurm.ParseSubmitOutput("Submitted batch job 12345\n")
		require.NoError(t, err)
		require.Equal(t, "12345", id)
	})
	t.Run("garbage", func(t *testing.T) {
		_, err := slurm.ParseSubmitOutput("sbatch: error: invalid partition\n")
		require.Error(t, err)
		require.Contains(t, err.Error(), "unexpected sbatch output")
	})
}
