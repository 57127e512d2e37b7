package backend

import (
	"context"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/cxgntools/run/internal/reexec"
)

// killSequence is the signal escalation a background kill walks through,
// pausing between each to give the supervisor a chance to exit on its own.
var killSequence = []syscall.Signal{unix.SIGQUIT, unix.SIGINT, unix.SIGTERM, unix.SIGKILL}

// killPause is how long Kill waits after each signal before checking
// whether the process is still addressable.
const killPause = time.Second

// Background tracks a forked supervisor process hosting a single exec
// helper run. The supervisor is this package's own binary, reinvoked with
// the "supervise" subcommand (see cmd/run-helper), so it requires no
// separate helper installation -- mirroring the teacher's os.Executable()
// self-reexec pattern.
type Background struct {
	pid int

	// done and waitErr are populated only when this process itself
	// started the supervisor: a background goroutine blocks in Wait() on
	// the child and records its outcome. A handle resumed from a
	// serialized PID (a different controlling process than the one that
	// started the job) has no child relationship to waitpid on, and so
	// falls back to signal-0 polling in both Alive and Wait.
	done    chan struct{}
	waitErr error
}

// StartBackground creates the rendezvous spec for opts, reinvokes the
// current executable with "supervise <tempdir>", and returns a handle
// tracking its PID. The tempdir must already exist; it is the rendezvous
// directory both this process and the supervisor observe.
func StartBackground(ctx context.Context, opts Options) (*Background, error) {
	self, err := os.Executable()
	if err != nil {
		return nil, errors.Wrap(err, "resolve self executable for reexec")
	}

	lowered, err := reexec.Lower(opts.Exec)
	if err != nil {
		return nil, errors.Wrap(err, "lower exec options for reexec")
	}
	lowered.Spec.WorkingDir = opts.WorkingDir
	if err := reexec.WriteSpec(opts.Exec.Tempdir, lowered.Spec); err != nil {
		return nil, errors.Wrap(err, "write reexec spec")
	}

	cmd := exec.Command(self, "supervise", opts.Exec.Tempdir)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Stdin = lowered.InheritStdin
	cmd.Stdout = lowered.InheritStdout
	cmd.Stderr = lowered.InheritStderr

	if err := cmd.Start(); err != nil {
		return nil, errors.Wrap(err, "start supervisor")
	}

	b := &Background{pid: cmd.Process.Pid, done: make(chan struct{})}
	go func() {
		b.waitErr = cmd.Wait()
		close(b.done)
	}()
	return b, nil
}

// Attach resumes tracking of a supervisor by PID alone, for a handle
// deserialized into a new controlling process. Only signal-0 polling is
// available here: this process never forked the supervisor, so waitpid on
// its PID would fail with ECHILD.
func Attach(pid int) *Background {
	return &Background{pid: pid}
}

// Pid returns the supervisor's process id.
func (b *Background) Pid() int { return b.pid }

// Alive reports whether the supervisor is still signal-addressable. A
// signal-0 kill is the portable "is this pid still mine to probe"
// operation; it does not actually deliver a signal.
func (b *Background) Alive() bool {
	if b.done != nil {
		select {
		case <-b.done:
			return false
		default:
		}
	}
	return unix.Kill(b.pid, 0) == nil
}

// Wait blocks until the supervisor exits. If this process started it,
// waitpid is used (via cmd.Wait, already running in a goroutine); for an
// attached PID with no child relationship, it falls back to polling
// Alive().
func (b *Background) Wait() error {
	if b.done != nil {
		<-b.done
		return b.waitErr
	}
	for b.Alive() {
		time.Sleep(200 * time.Millisecond)
	}
	return nil
}

// Kill walks the QUIT/INT/TERM/KILL escalation with a pause between each
// attempt, reaping after every step. It returns nil iff the process is no
// longer signal-addressable by the time the sequence ends.
func (b *Background) Kill() error {
	for _, sig := range killSequence {
		if !b.Alive() {
			return nil
		}
		if err := unix.Kill(b.pid, sig); err != nil && !errors.Is(err, unix.ESRCH) {
			logger.Warnf("signal %s to supervisor pid %d: %v", sig, b.pid, err)
		}
		time.Sleep(killPause)
		if b.done == nil {
			// Reap the pid if it is this process's child; for any other pid
			// this fails with ECHILD and changes nothing.
			_, _ = unix.Wait4(b.pid, nil, unix.WNOHANG, nil)
		}
		if !b.Alive() {
			return nil
		}
	}
	if b.Alive() {
		return errors.Errorf("supervisor pid %d still alive after signal escalation", b.pid)
	}
	return nil
}
