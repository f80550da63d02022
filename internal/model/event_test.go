package model_test

import (
	"testing"

	"github.com/slurm-admin/slm/internal/model"

	"github.com/stretchr/testify/require"
)

func TestEventKindTerminal(t *testing.T) {
	t.Parallel()
	terminal := []model.EventKind{model.EventCompleted, model.EventFailed}
	for _, k := range terminal {
		require.True(t, k.Terminal(), "kind %s", k)
	}
	open := []model.EventKind{
		model.EventSubmitted,
		model.EventRunning,
		model.EventPaused,
		model.EventResumed,
		model.EventTerminating,
	}
	for _, k := range open {
		require.False(t, k.Terminal(), "kind %s", k)
	}
}

func TestNewEvent(t *testing.T) {
	t.Parallel()
	ev := model.NewEvent("slurm-42", model.EventRunning, "Command: echo hello")
	require.Equal(t, "slurm-42", ev.JobID)
	require.Equal(t, model.EventRunning, ev.Kind)
	require.Equal(t, "Command: echo hello", ev.Detail)
	require.False(t, ev.Timestamp.IsZero())
	require.Nil(t, ev.Metadata)
	require.Nil(t, ev.ExitCode)
}

func TestWithMetadataDoesNotAlias(t *testing.T) {
	t.Parallel()
	ev := model.NewEvent("slurm-42", model.EventRunning, "")
	first := ev.WithMetadata("command", "echo hello")
	second := first.WithMetadata("signal", "SIGTSTP")

	require.Nil(t, ev.Metadata)
	require.Len(t, first.Metadata, 1)
	require.Len(t, second.Metadata, 2)
	require.Equal(t, "echo hello", second.Metadata["command"])
}

func TestWithExitCode(t *testing.T) {
	t.Parallel()
	ev := model.NewEvent("raw-1", model.EventFailed, "Exit code: 7").WithExitCode(7)
	require.NotNil(t, ev.ExitCode)
	require.Equal(t, 7, *ev.ExitCode)
	require.Equal(t, 7, ev.Metadata["exit_code"])
}
