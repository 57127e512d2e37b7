package cluster

import (
	"context"
	"os/exec"
	"strings"
)

// CommandRunner executes a scheduler CLI command (qsub/qstat/qdel),
// returning its combined stdout+stderr. It is the seam tests use to stub
// the scheduler without a real PBS/Torque installation.
type CommandRunner interface {
	Run(ctx context.Context, stdin, name string, args ...string) (output string, err error)
}

// execRunner is the production CommandRunner, shelling out via os/exec.
type execRunner struct{}

func (execRunner) Run(ctx context.Context, stdin, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	if stdin != "" {
		cmd.Stdin = strings.NewReader(stdin)
	}
	out, err := cmd.CombinedOutput()
	return string(out), err
}
