package slurm

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"regexp"
	"strings"
)

// sbatch prints "Submitted batch job <id>" on success.
var submitRe = regexp.MustCompile(`Submitted batch job (\d+)`)

// ParseSubmitOutput extracts the scheduler assigned job id from sbatch
// stdout.
func ParseSubmitOutput(out string) (string, error) {
	m := submitRe.FindStringSubmatch(out)
	if m == nil {
		return "", fmt.Errorf("unexpected sbatch output: %q", strings.TrimSpace(out))
	}
	return m[1], nil
}

// Submit hands script to sbatch and returns the scheduler assigned job id.
// extraArgs are passed to sbatch before the script path.
func Submit(ctx context.Context, script string, extraArgs []string) (string, error) {
	args := append(append([]string(nil), extraArgs...), script)
	cmd := exec.CommandContext(ctx, "sbatch", args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	slog.DebugContext(ctx, "submitting to scheduler", "script", script, "args", extraArgs)
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			return "", fmt.Errorf("sbatch: %w", err)
		}
		return "", fmt.Errorf("sbatch: %w: %s", err, msg)
	}
	return ParseSubmitOutput(stdout.String())
}
