package run

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/cxgntools/run/internal/execexec"
	"github.com/cxgntools/run/internal/metrics"
	"github.com/cxgntools/run/internal/rendezvous"
	"github.com/cxgntools/run/internal/tempdir"
)

// cancelledSignalNames are the signals a kill sequence sends; an observed
// "Got signal SIG<NAME>" error naming one of these, after told_to_die was
// set, is a cancellation rather than a surfaced failure (spec.md §4.8).
var cancelledSignalNames = map[string]bool{"QUIT": true, "INT": true, "TERM": true}

// Alive reports whether the job is still running. As a side effect it
// performs the same terminal-state observation Wait does: if the job has
// just terminated, completion hooks fire (or error state is recorded) here
// too, so a caller polling Alive in a loop sees hooks fire without ever
// calling Wait.
func (j *Job) Alive() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.observeLocked(context.Background())
	return j.state == StateRunning
}

// Wait blocks until the job reaches a terminal state, then returns its
// error per RaiseError semantics: if the job failed and raise_error was
// requested, the failure is returned; a cancellation is never returned as
// an error, even under raise_error.
func (j *Job) Wait(ctx context.Context) error {
	j.mu.Lock()
	mode := j.mode
	var bg backgroundSupervisor
	if j.background != nil {
		bg = j.background.handle
	}
	clusterEnv := j.clusterEnv
	jobID := j.jobID
	j.mu.Unlock()

	switch mode {
	case ModeForeground:
		// Foreground jobs are already terminal by the time the
		// constructor returns.
	case ModeBackground:
		if bg != nil {
			_ = bg.Wait()
		}
	case ModeCluster:
		for {
			alive, err := clusterEnv.Alive(ctx, jobID)
			if err != nil {
				return errors.Wrap(err, "poll cluster job state")
			}
			if !alive {
				break
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(2 * time.Second):
			}
		}
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	j.observeLocked(ctx)
	if j.state == StateTerminatedFailure && j.raiseError {
		return errors.New(j.errorString)
	}
	return nil
}

// ExitStatus returns the job's observed exit code (0 on success), or -1 if
// the job terminated by signal or hasn't yet been observed to terminate.
func (j *Job) ExitStatus() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.observeLocked(context.Background())
	return j.exitStatus
}

// Kill requests cancellation. It sets told_to_die, then dispatches to the
// mode-appropriate termination mechanism: for background it is the QUIT/
// INT/TERM/KILL escalation; for cluster it is Environment.Cancel; for
// foreground (already completed by the time a caller can call Kill) it is
// a no-op.
func (j *Job) Kill(ctx context.Context) error {
	j.mu.Lock()
	j.toldToDie = true
	mode := j.mode
	var bg backgroundSupervisor
	if j.background != nil {
		bg = j.background.handle
	}
	clusterEnv := j.clusterEnv
	jobID := j.jobID
	j.mu.Unlock()

	var err error
	switch mode {
	case ModeBackground:
		if bg != nil {
			err = bg.Kill()
		}
	case ModeCluster:
		if jobID != "" {
			err = clusterEnv.Cancel(ctx, jobID)
		}
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	j.observeLocked(ctx)
	return err
}

// Cleanup removes the job's tempdir, unless it was adopted via
// WithExistingTemp (the caller owns it), in which case Cleanup is a no-op.
// Cleanup is idempotent.
func (j *Job) Cleanup() error {
	j.mu.Lock()
	if j.dieOnDestroy {
		j.observeLocked(context.Background())
	}
	kill := j.dieOnDestroy && j.state == StateRunning
	j.mu.Unlock()
	if kill {
		if err := j.Kill(context.Background()); err != nil {
			logger.Warnf("job %s: kill before cleanup: %v", j.id, err)
		}
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.existingTemp || j.tempdir == "" {
		return nil
	}
	if err := cleanupTempdir(j.tempdir); err != nil {
		return err
	}
	j.tempdir = ""
	return nil
}

// Out returns the job's captured stdout content.
func (j *Job) Out() (string, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.readSinkContent(j.outSink, rendezvous.OutFile)
}

// Err returns the job's captured stderr content.
func (j *Job) Err() (string, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.tieErrToOut {
		return j.readSinkContent(j.outSink, rendezvous.OutFile)
	}
	return j.readSinkContent(j.errSink, rendezvous.ErrFile)
}

func (j *Job) readSinkContent(s execexec.Sink, defaultName string) (string, error) {
	if s.IsLiveStream() {
		return "", errors.New("output was sent to a live stream sink; it was not captured for retrieval")
	}
	path := filepath.Join(j.tempdir, defaultName)
	if p, ok := s.Path(); ok {
		path = p
	}
	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", errors.Wrapf(err, "read %s", path)
	}
	return string(b), nil
}

// observeLocked refreshes state/exitStatus/errorString/hooks from the
// rendezvous directory, for background and cluster jobs whose termination
// is detected asynchronously. It must be called with j.mu held. Foreground
// jobs are finalized synchronously in Run and never pass through here in a
// non-terminal state.
func (j *Job) observeLocked(ctx context.Context) {
	if j.state.Terminal() {
		return
	}
	if j.state != StateRunning {
		return
	}

	switch j.mode {
	case ModeBackground:
		if j.background != nil && j.background.handle.Alive() {
			return
		}
	case ModeCluster:
		alive, err := j.clusterEnv.Alive(ctx, j.jobID)
		if err == nil && alive {
			return
		}
	default:
		return
	}

	// The job is no longer running. Read the rendezvous directory to learn
	// how it ended. Cluster mode polls over a shared filesystem that may
	// still be holding a stale negative-lookup cache for the die-file from
	// an earlier check, so it scans the directory's entries first to force
	// a fresh listing before trusting a direct read of the die-file.
	diedHint := true
	if j.mode == ModeCluster {
		diedHint, _ = rendezvous.DiedExists(j.tempdir)
	}
	if diedHint {
		if msg, ok, _ := rendezvous.ReadDied(j.tempdir); ok {
			j.finishLocked(msg)
			return
		}
	}

	st, ok, _ := rendezvous.ReadStatus(j.tempdir)
	if ok {
		j.startTime, j.endTime, j.host = st.Start, st.End, st.Host
		exit, sig := rendezvous.DecodeExitStatus(st.Ret)
		j.exitStatus = exit
		if sig != "" {
			j.finishLocked("Got signal SIG" + sig)
			return
		}
	}
	j.succeedLocked()
}

// finishLocked records a terminal failure or cancellation, per whether
// told_to_die was set and the message names a cancellation signal.
func (j *Job) finishLocked(message string) {
	j.endTime = time.Now()
	j.errorString = message
	if j.toldToDie && isCancellationSignal(message) {
		j.state = StateCancelled
		metrics.JobsCompleted.WithLabelValues(string(j.mode), "cancelled").Inc()
		return
	}
	j.state = StateTerminatedFailure
	if j.exitStatus == 0 {
		j.exitStatus = -1
	}
	metrics.JobsCompleted.WithLabelValues(string(j.mode), "failure").Inc()
}

func (j *Job) succeedLocked() {
	j.endTime = time.Now()
	j.exitStatus = 0
	j.state = StateTerminatedSuccess
	metrics.JobsCompleted.WithLabelValues(string(j.mode), "success").Inc()
	j.fireHooksLocked()
}

func isCancellationSignal(message string) bool {
	idx := strings.Index(message, "Got signal SIG")
	if idx < 0 {
		return false
	}
	name := strings.TrimSpace(message[idx+len("Got signal SIG"):])
	for sig := range cancelledSignalNames {
		if strings.HasPrefix(name, sig) {
			return true
		}
	}
	return false
}

func cleanupTempdir(dir string) error {
	return tempdir.Cleanup(dir)
}
