package cluster

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cxgntools/run/internal/execexec"
)

func TestSubmitJobRejectsLiveStreamSinks(t *testing.T) {
	env := New()
	_, err := env.SubmitJob(context.Background(), SubmitJobOptions{
		Exec: execexec.Options{
			Argv:    []string{"myjob"},
			Tempdir: t.TempDir(),
			Stdout:  execexec.FromStream(nil, false),
		},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "live stream")
}

func TestSubmitJobRejectsInaccessibleTempdir(t *testing.T) {
	env := New(WithAccessiblePrefixes([]string{"/data/shared"}))
	_, err := env.SubmitJob(context.Background(), SubmitJobOptions{
		Exec: execexec.Options{
			Argv:    []string{"myjob"},
			Tempdir: "/tmp/not-cluster-visible",
		},
	})
	require.Error(t, err)
}

func TestSubmitJobWritesSpecAndSubmits(t *testing.T) {
	runner := &stubRunner{qsubOut: "99.headnode-01"}
	env := New(WithRunner(runner), WithAccessiblePrefixes([]string{"/"}), WithCacheTTL(time.Millisecond))

	job, err := env.SubmitJob(context.Background(), SubmitJobOptions{
		Exec: execexec.Options{
			Argv:    []string{"myjob"},
			Tempdir: t.TempDir(),
		},
		JobName: "myjob",
	})
	require.NoError(t, err)
	assert.Equal(t, "99.headnode-01", job.JobID)
}

func TestSubmitJobRejectsInaccessibleCustomErrSink(t *testing.T) {
	env := New(WithAccessiblePrefixes([]string{"/data/shared"}))
	_, err := env.SubmitJob(context.Background(), SubmitJobOptions{
		Exec: execexec.Options{
			Argv:    []string{"myjob"},
			Tempdir: "/data/shared/job1",
			Stderr:  execexec.FromPath("/tmp/not-cluster-visible/err"),
		},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not-cluster-visible")
}

func TestSubmitJobUsesCustomErrFileForQsub(t *testing.T) {
	runner := &stubRunner{qsubOut: "99.headnode-01"}
	env := New(WithRunner(runner), WithAccessiblePrefixes([]string{"/"}), WithCacheTTL(time.Millisecond))

	_, err := env.SubmitJob(context.Background(), SubmitJobOptions{
		Exec: execexec.Options{
			Argv:    []string{"myjob"},
			Tempdir: t.TempDir(),
			Stderr:  execexec.FromPath("/custom/err/path"),
		},
		JobName: "myjob",
	})
	require.NoError(t, err)
	require.NotEmpty(t, runner.calls)
	assert.Contains(t, runner.calls[len(runner.calls)-1], "/custom/err/path")
}

func TestAlivePBSDelegatesToStillAlive(t *testing.T) {
	runner := &stubRunner{qstatOut: "Job Id: 1.node\n    job_state = R\n"}
	env := New(WithRunner(runner), WithCacheTTL(time.Millisecond))
	alive, err := env.Alive(context.Background(), "1.node")
	require.NoError(t, err)
	assert.True(t, alive)
}
