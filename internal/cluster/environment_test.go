package cluster

import (
	"context"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubRunner is a CommandRunner whose responses are scripted per-command by
// test cases, so cluster integration logic can be exercised without a real
// PBS/Torque installation.
type stubRunner struct {
	mu    sync.Mutex
	calls []string

	qsubOut  string
	qsubErr  error
	qstatOut string
	qstatErr error
	qdelOut  string
	qdelErr  error
}

func (s *stubRunner) Run(ctx context.Context, stdin, name string, args ...string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, name+" "+strings.Join(args, " "))

	switch name {
	case "qsub":
		return s.qsubOut, s.qsubErr
	case "qstat":
		return s.qstatOut, s.qstatErr
	case "qdel":
		return s.qdelOut, s.qdelErr
	default:
		return "", nil
	}
}

func (s *stubRunner) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func TestRunSubmitOutputWithoutJobIDIsRejected(t *testing.T) {
	runner := &stubRunner{qsubOut: "bogus output"}
	env := New(WithRunner(runner))

	// This exercises the two steps of one pass of Submit's retry loop
	// directly: runSubmit returns qsub's output unchanged, and firstJobID
	// finds no job id in it, which is what makes Submit try again.
	out, err := env.runSubmit(context.Background(), "qsub", []string{"-V"}, "")
	require.NoError(t, err)
	assert.Equal(t, "bogus output", out)

	_, ok := firstJobID(out)
	assert.False(t, ok)
}

func TestForceQsubFailureEnvOverridesOnce(t *testing.T) {
	t.Setenv(ForceQsubFailureEnv, "forced bogus output")
	runner := &stubRunner{qsubOut: "12345.headnode-01"}
	env := New(WithRunner(runner))

	out, err := env.runSubmit(context.Background(), "qsub", nil, "")
	require.NoError(t, err)
	assert.Equal(t, "forced bogus output", out)
	assert.Empty(t, os.Getenv(ForceQsubFailureEnv))

	out, err = env.runSubmit(context.Background(), "qsub", nil, "")
	require.NoError(t, err)
	assert.Equal(t, "12345.headnode-01", out)
}

func TestFirstJobIDMatchesPattern(t *testing.T) {
	id, ok := firstJobID("submitting...\n12345.headnode-01\ndone")
	require.True(t, ok)
	assert.Equal(t, "12345.headnode-01", id)

	_, ok = firstJobID("no job id in here")
	assert.False(t, ok)
}

func TestParseQstat(t *testing.T) {
	out := `
Job Id: 12345.headnode-01
    Job_Name = mycommand
    job_state = R
    Resource_List.nodes = 2
Job Id: 12346.headnode-01
    job_state = Q
`
	records := parseQstat(out)
	require.Len(t, records, 2)
	assert.Equal(t, "r", records["12345.headnode-01"].State)
	assert.Equal(t, "mycommand", records["12345.headnode-01"].Fields["job_name"])
	assert.Equal(t, "q", records["12346.headnode-01"].State)
}

func TestQstatCacheRespectsTTL(t *testing.T) {
	runner := &stubRunner{qstatOut: "Job Id: 1.node\n    job_state = R\n"}
	env := New(WithRunner(runner), WithCacheTTL(time.Hour))

	_, err := env.QueuedCount(context.Background())
	require.NoError(t, err)
	_, err = env.QueuedCount(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, runner.callCount())
}

func TestInvalidateForcesRefresh(t *testing.T) {
	runner := &stubRunner{qstatOut: "Job Id: 1.node\n    job_state = R\n"}
	env := New(WithRunner(runner), WithCacheTTL(time.Hour))

	_, err := env.QueuedCount(context.Background())
	require.NoError(t, err)
	env.Invalidate()
	_, err = env.QueuedCount(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, runner.callCount())
}

func TestWaitForOverloadedClusterProceedsBelowThreshold(t *testing.T) {
	runner := &stubRunner{qstatOut: ""}
	env := New(WithRunner(runner), WithCacheTTL(time.Millisecond))

	err := env.WaitForOverloadedCluster(context.Background(), 1)
	require.NoError(t, err)
}

func TestCheckAccessible(t *testing.T) {
	env := New()
	assert.NoError(t, env.CheckAccessible("/home/user/job", "/data/shared/out"))
	assert.Error(t, env.CheckAccessible("/tmp/job"))
}

func TestCheckAccessibleNetPrefix(t *testing.T) {
	env := New()
	assert.NoError(t, env.CheckAccessible("/net/fileserver/home/user/job"))
}

func TestStillAliveMapsJobStates(t *testing.T) {
	runner := &stubRunner{qstatOut: "Job Id: 1.node\n    job_state = E\n"}
	env := New(WithRunner(runner), WithCacheTTL(time.Millisecond))

	alive, err := env.stillAlive(context.Background(), "1.node")
	require.NoError(t, err)
	assert.True(t, alive)

	alive, err = env.stillAlive(context.Background(), "2.node")
	require.NoError(t, err)
	assert.False(t, alive)
}
