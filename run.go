package run

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/cxgntools/run/internal/backend"
	"github.com/cxgntools/run/internal/cluster"
	"github.com/cxgntools/run/internal/errfmt"
	"github.com/cxgntools/run/internal/execexec"
	"github.com/cxgntools/run/internal/metrics"
	"github.com/cxgntools/run/internal/rendezvous"
	"github.com/cxgntools/run/internal/tempdir"
	"github.com/cxgntools/run/internal/validator"
)

// modPerlGuardEnv is a legacy guard carried over from the source library:
// when set, foreground and background constructors refuse to run (cluster
// submission is unaffected). The original guard existed to keep a
// long-lived application server process from forking; this port keeps the
// same name and semantics for anyone migrating an existing deployment, but
// an embedder free of that constraint can safely leave it unset.
const modPerlGuardEnv = "MOD_PERL"

// Run executes argv synchronously in the foreground, in the calling
// process. It returns once the command has exited; if the command failed
// and WithRaiseError(false) was not given, the failure is returned as an
// error alongside the (still-usable) Job.
func Run(ctx context.Context, argv []string, opts ...Option) (*Job, error) {
	if os.Getenv(modPerlGuardEnv) != "" {
		return nil, errors.New("foreground execution refused: " + modPerlGuardEnv + " is set")
	}

	j, execOpts, err := newJob(ModeForeground, argv, opts...)
	if err != nil {
		return nil, err
	}

	metrics.JobsStarted.WithLabelValues(string(ModeForeground)).Inc()
	runErr := backend.RunForeground(ctx, backend.Options{Exec: execOpts, WorkingDir: j.workingDir})

	j.mu.Lock()
	defer j.mu.Unlock()

	if st, ok, _ := rendezvous.ReadStatus(j.tempdir); ok {
		j.startTime, j.endTime, j.host = st.Start, st.End, st.Host
		exit, _ := rendezvous.DecodeExitStatus(st.Ret)
		j.exitStatus = exit
	}

	if runErr != nil {
		report := errfmt.Format(errfmt.Report{
			Command:   argv,
			StartTime: j.startTime,
			InnerErr:  runErr.Error(),
			OutPath:   j.resolvedPathLocked(j.outSink, rendezvous.OutFile),
			ErrPath:   j.resolvedPathLocked(j.errSink, rendezvous.ErrFile),
		})
		if err := rendezvous.WriteDied(j.tempdir, report); err != nil {
			logger.Errorf("job %s: write die-file: %v", j.id, err)
		}
		j.errorString = report
		j.state = StateTerminatedFailure
		if j.exitStatus == 0 {
			j.exitStatus = -1
		}
		metrics.JobsCompleted.WithLabelValues(string(ModeForeground), "failure").Inc()
		j.fireHooksLocked()
		if j.raiseError {
			return j, errors.New(report)
		}
		return j, nil
	}

	j.state = StateTerminatedSuccess
	metrics.JobsCompleted.WithLabelValues(string(ModeForeground), "success").Inc()
	j.fireHooksLocked()
	return j, nil
}

// RunAsync forks a local supervisor process that runs argv and returns
// immediately; the returned Job tracks the supervisor by PID.
func RunAsync(ctx context.Context, argv []string, opts ...Option) (*Job, error) {
	if os.Getenv(modPerlGuardEnv) != "" {
		return nil, errors.New("background execution refused: " + modPerlGuardEnv + " is set")
	}

	j, execOpts, err := newJob(ModeBackground, argv, opts...)
	if err != nil {
		return nil, err
	}

	bg, err := backend.StartBackground(ctx, backend.Options{Exec: execOpts, WorkingDir: j.workingDir})
	if err != nil {
		return nil, errors.Wrap(err, "start background supervisor")
	}

	j.mu.Lock()
	j.background = &backgroundState{pid: bg.Pid(), handle: bg}
	j.startTime = time.Now()
	j.state = StateRunning
	j.mu.Unlock()

	metrics.JobsStarted.WithLabelValues(string(ModeBackground)).Inc()
	return j, nil
}

// RunCluster submits argv to the PBS/Torque scheduler via the configured
// (or default) cluster.Environment and returns immediately; the returned
// Job tracks the scheduler job id.
func RunCluster(ctx context.Context, argv []string, opts ...Option) (*Job, error) {
	j, execOpts, err := newJob(ModeCluster, argv, opts...)
	if err != nil {
		return nil, err
	}

	env := j.clusterEnv
	if env == nil {
		env = cluster.Default()
	}

	submitted, err := env.SubmitJob(ctx, cluster.SubmitJobOptions{
		Exec:           execOpts,
		WorkingDir:     j.workingDir,
		JobName:        filepath.Base(argv[0]),
		Queue:          j.queue,
		Resources:      j.resources,
		MaxClusterJobs: j.maxClusterJobs,
	})
	if err != nil {
		return nil, errors.Wrap(err, "submit cluster job")
	}

	j.mu.Lock()
	j.jobID = submitted.JobID
	j.clusterEnv = env
	j.startTime = time.Now()
	j.state = StateRunning
	j.mu.Unlock()

	metrics.JobsStarted.WithLabelValues(string(ModeCluster)).Inc()
	return j, nil
}

// newJob validates argv and options, materializes the job's tempdir, and
// builds the execexec.Options shared by every backend.
func newJob(mode Mode, argv []string, opts ...Option) (*Job, execexec.Options, error) {
	v := validator.New()
	v.Assert(len(argv) > 0, "command must have at least one argument")
	if err := v.Err(); err != nil {
		return nil, execexec.Options{}, err
	}

	c := newConfig()
	for _, opt := range opts {
		opt(c)
	}

	if mode == ModeCluster {
		v.Assert(!c.in.IsLiveStream(), "cluster mode does not accept a live stream stdin sink")
		v.Assert(!c.out.IsLiveStream(), "cluster mode does not accept a live stream stdout sink")
		v.Assert(!c.err.IsLiveStream(), "cluster mode does not accept a live stream stderr sink")
		if err := v.Err(); err != nil {
			return nil, execexec.Options{}, err
		}
	}

	j := &Job{
		id:           uuid.New(),
		mode:         mode,
		argv:         append([]string(nil), argv...),
		comment:      joinArgv(argv),
		inSink:       c.in,
		outSink:      c.out,
		errSink:      c.err,
		tieErrToOut:  c.tieErrToOut,
		workingDir:   c.workingDir,
		existingTemp: c.existingTemp != "",
		raiseError:   c.raiseError,
		dieOnDestroy: c.dieOnDestroy,
		onCompletion: c.onCompletion,
		queue:        c.queue,
		resources: cluster.Resources{
			Nodes:         c.nodes,
			ProcsPerNode:  c.procsPerNode,
			VMemMegabytes: c.vmemMegabytes,
		},
		maxClusterJobs: c.maxClusterJobs,
		clusterEnv:     c.clusterEnv,
		exitStatus:     -1,
		state:          StateCreated,
		properties:     c.properties,
	}

	dir, err := resolveTempdir(argv, c)
	if err != nil {
		return nil, execexec.Options{}, err
	}
	j.tempdir = dir
	j.state = StateRunning

	execOpts := execexec.Options{
		Argv:              j.argv,
		Tempdir:           j.tempdir,
		Stdin:             j.inSink,
		Stdout:            j.outSink,
		Stderr:            j.errSink,
		TieStderrToStdout: j.tieErrToOut,
	}
	return j, execOpts, nil
}

func resolveTempdir(argv []string, c *config) (string, error) {
	if c.existingTemp != "" {
		if err := tempdir.Adopt(c.existingTemp); err != nil {
			return "", err
		}
		return c.existingTemp, nil
	}
	mgr := &tempdir.Manager{Base: c.tempBase}
	return mgr.Create(filepath.Base(argv[0]))
}

// resolvedPathLocked returns the filesystem path a sink actually wrote to,
// for inclusion in an error report. It must be called with j.mu held.
func (j *Job) resolvedPathLocked(s execexec.Sink, defaultName string) string {
	if s.IsLiveStream() {
		return ""
	}
	if p, ok := s.Path(); ok {
		return p
	}
	return filepath.Join(j.tempdir, defaultName)
}

func joinArgv(argv []string) string {
	return strings.Join(argv, " ")
}
