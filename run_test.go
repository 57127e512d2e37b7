package run

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cxgntools/run/internal/execexec"
	"github.com/cxgntools/run/internal/rendezvous"
)

// TestRunForegroundSuccess covers S1: a trivial foreground job completes,
// fires its hooks, and reports exit status zero.
func TestRunForegroundSuccess(t *testing.T) {
	var fired int
	j, err := Run(context.Background(), []string{"true"}, WithTempBase(t.TempDir()), WithCompletionHook(func(*Job) { fired++ }))
	require.NoError(t, err)
	assert.Equal(t, StateTerminatedSuccess, j.State())
	assert.Equal(t, 0, j.ExitStatus())
	assert.Equal(t, 1, fired)
}

// TestRunForegroundFailureRaisesError covers S2: a failing command surfaces
// an error naming the failed command and including the stderr tail.
func TestRunForegroundFailureRaisesError(t *testing.T) {
	_, err := Run(context.Background(), []string{"false"}, WithTempBase(t.TempDir()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "command failed: 'false'")
	assert.Contains(t, err.Error(), "last few lines of stderr:")
}

// TestRunForegroundFailureStored covers S3: with RaiseError(false), the
// constructor returns normally, recording a non-empty ErrorString and a
// nonzero exit status, with hooks fired exactly once regardless of outcome.
func TestRunForegroundFailureStored(t *testing.T) {
	var fired int
	j, err := Run(context.Background(), []string{"false"}, WithTempBase(t.TempDir()), WithRaiseError(false), WithCompletionHook(func(*Job) { fired++ }))
	require.NoError(t, err)
	assert.NotEmpty(t, j.ErrorString())
	assert.NotEqual(t, 0, j.ExitStatus())
	assert.Equal(t, StateTerminatedFailure, j.State())
	assert.Equal(t, 1, fired)
}

func TestRunCapturesStdoutToBytes(t *testing.T) {
	var out []byte
	j, err := Run(context.Background(), []string{"/bin/sh", "-c", "echo captured"}, WithTempBase(t.TempDir()), WithStdout(execexec.ToBytes(&out)))
	require.NoError(t, err)
	assert.Equal(t, "captured\n", string(out))
	content, err := j.Out()
	require.NoError(t, err)
	assert.Equal(t, "captured\n", content)
}

func TestRunCombinedOutput(t *testing.T) {
	var out []byte
	j, err := Run(context.Background(), []string{"/bin/sh", "-c", "echo stdout; echo stderr >&2"},
		WithTempBase(t.TempDir()), WithStdout(execexec.ToBytes(&out)), WithCombinedOutput())
	require.NoError(t, err)
	assert.Contains(t, string(out), "stdout")
	assert.Contains(t, string(out), "stderr")

	errContent, err := j.Err()
	require.NoError(t, err)
	assert.Equal(t, string(out), errContent)
}

// fakeSupervisor is a backgroundSupervisor test double standing in for
// *backend.Background, so the Job observation/kill logic can be exercised
// without actually forking a "supervise" subprocess -- the real spawn path
// requires the built run-helper binary and is covered at the backend
// package level instead (see internal/backend).
type fakeSupervisor struct {
	pid     int
	alive   bool
	killErr error
	killed  bool
}

func (f *fakeSupervisor) Pid() int  { return f.pid }
func (f *fakeSupervisor) Alive() bool { return f.alive }
func (f *fakeSupervisor) Wait() error {
	f.alive = false
	return nil
}
func (f *fakeSupervisor) Kill() error {
	f.killed = true
	f.alive = false
	return f.killErr
}

// TestBackgroundKillStopsTrackingAndSkipsHooks covers S4: killing a
// background job leaves it unreachable, fires no completion hook, and
// Cleanup still removes its tempdir afterward.
func TestBackgroundKillStopsTrackingAndSkipsHooks(t *testing.T) {
	var fired int
	dir := t.TempDir()
	j := &Job{
		mode:       ModeBackground,
		argv:       []string{"sleep", "600"},
		tempdir:    dir,
		state:      StateRunning,
		raiseError: true,
		onCompletion: []Hook{func(*Job) { fired++ }},
		background: &backgroundState{pid: 4242, handle: &fakeSupervisor{pid: 4242, alive: true}},
	}

	// Simulate what the real supervisor would have recorded in the
	// rendezvous directory once the forwarded signal reached the child:
	// a died-file naming the cancellation signal.
	require.NoError(t, rendezvous.WriteDied(dir, "Got signal SIGTERM"))

	require.NoError(t, j.Kill(context.Background()))
	assert.False(t, j.Alive())
	assert.Equal(t, StateCancelled, j.State())
	assert.Equal(t, 0, fired)
	assert.NoError(t, j.Cleanup())
}

func TestRunRejectsEmptyArgv(t *testing.T) {
	_, err := Run(context.Background(), nil, WithTempBase(t.TempDir()))
	assert.Error(t, err)
}

func TestWithExistingTempNotRemovedByCleanup(t *testing.T) {
	dir := t.TempDir()
	j, err := Run(context.Background(), []string{"true"}, WithExistingTemp(dir))
	require.NoError(t, err)
	require.NoError(t, j.Cleanup())
	assert.DirExists(t, dir)
}
