package cluster

import (
	"context"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/cxgntools/run/internal/execexec"
	"github.com/cxgntools/run/internal/reexec"
	"github.com/cxgntools/run/internal/rendezvous"
)

// SubmitJobOptions is everything Submit needs to lower a command into a
// driver script and hand it to the scheduler.
type SubmitJobOptions struct {
	Exec           execexec.Options
	WorkingDir     string
	JobName        string
	Queue          string
	Resources      Resources
	MaxClusterJobs int
}

// Job is a submitted cluster job: its scheduler id plus the rendezvous
// tempdir it shares with the compute node running it.
type Job struct {
	JobID   string
	Tempdir string
}

// defaultMaxClusterJobs is the admission threshold used when a caller
// leaves MaxClusterJobs unset (spec.md §6, default 2000).
const defaultMaxClusterJobs = 2000

// SubmitJob validates cluster-mode constraints, waits out scheduler
// overload, lowers opts into a spec.json + driver script, and submits via
// the Environment's qsub integration.
func (e *Environment) SubmitJob(ctx context.Context, opts SubmitJobOptions) (Job, error) {
	if opts.Exec.Stdin.IsLiveStream() || opts.Exec.Stdout.IsLiveStream() || opts.Exec.Stderr.IsLiveStream() {
		return Job{}, errors.New("cluster mode rejects live stream sinks: they cannot be reached from a compute node")
	}

	outFile := resolvedSinkPath(opts.Exec.Stdout, opts.Exec.Tempdir, rendezvous.OutFile)
	errFile := resolvedSinkPath(opts.Exec.Stderr, opts.Exec.Tempdir, rendezvous.ErrFile)
	if err := e.CheckAccessible(opts.Exec.Tempdir, outFile, errFile, opts.WorkingDir); err != nil {
		return Job{}, err
	}

	max := opts.MaxClusterJobs
	if max <= 0 {
		max = defaultMaxClusterJobs
	}
	if err := e.WaitForOverloadedCluster(ctx, max); err != nil {
		return Job{}, errors.Wrap(err, "wait for cluster admission")
	}

	lowered, err := reexec.Lower(opts.Exec)
	if err != nil {
		return Job{}, errors.Wrap(err, "lower exec options for cluster driver")
	}
	lowered.Spec.WorkingDir = opts.WorkingDir
	if err := reexec.WriteSpec(opts.Exec.Tempdir, lowered.Spec); err != nil {
		return Job{}, errors.Wrap(err, "write reexec spec")
	}

	jobID, err := e.Submit(ctx, SubmitOptions{
		Script:     BuildDriverScript(opts.Exec.Tempdir),
		JobName:    opts.JobName,
		ErrFile:    errFile,
		WorkingDir: opts.WorkingDir,
		Queue:      opts.Queue,
		Resources:  opts.Resources,
	})
	if err != nil {
		return Job{}, err
	}
	return Job{JobID: jobID, Tempdir: opts.Exec.Tempdir}, nil
}

// resolvedSinkPath returns the filesystem path a sink actually writes to:
// its configured path if it has one, or the rendezvous default otherwise.
// Absent sinks still resolve to the default path, since the exec helper
// writes there even when the caller didn't ask for capture.
func resolvedSinkPath(s execexec.Sink, tempdir, defaultName string) string {
	if p, ok := s.Path(); ok {
		return p
	}
	return filepath.Join(tempdir, defaultName)
}

// Alive maps the cached qstat job_state to a running/terminated verdict per
// spec.md §4.5: r/q/e mean still tracked, anything else (including no
// record at all) means the scheduler no longer tracks the job.
func (e *Environment) Alive(ctx context.Context, jobID string) (bool, error) {
	return e.stillAlive(ctx, jobID)
}
