package run

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cxgntools/run/internal/cluster"
	"github.com/cxgntools/run/internal/rendezvous"
)

// deadJobRunner is a cluster.CommandRunner that reports no qstat record for
// any job, simulating a scheduler that no longer tracks a finished job.
type deadJobRunner struct{}

func (deadJobRunner) Run(ctx context.Context, stdin, name string, args ...string) (string, error) {
	if name == "qstat" {
		return "", nil
	}
	return "", nil
}

// TestObserveLockedClusterReadsDieFileThroughDirectoryScan covers the §5 NFS
// bypass: a cluster job that is no longer tracked by qstat and has a
// die-file present is observed as a failure, discovered via DiedExists
// rather than a direct stat of the die-file path.
func TestObserveLockedClusterReadsDieFileThroughDirectoryScan(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, rendezvous.WriteDied(dir, "command failed: 'myjob'"))

	env := cluster.New(cluster.WithRunner(deadJobRunner{}), cluster.WithCacheTTL(time.Millisecond))
	j := &Job{
		mode:       ModeCluster,
		argv:       []string{"myjob"},
		tempdir:    dir,
		state:      StateRunning,
		raiseError: true,
		jobID:      "1.headnode",
		clusterEnv: env,
	}

	err := j.Wait(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateTerminatedFailure, j.State())
	assert.Contains(t, j.ErrorString(), "myjob")
}
