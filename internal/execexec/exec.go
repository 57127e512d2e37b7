// Package execexec implements the exec helper: it runs a single external
// command with configurable stdin/stdout/stderr redirection, forwards stop
// signals to the child's process group, and records a status record into a
// rendezvous directory so a controller (possibly in a different process, or
// on a different host) can observe the outcome.
package execexec

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"os/user"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/cxgntools/run/internal/log"
	"github.com/cxgntools/run/internal/rendezvous"
)

var logger = log.New(os.Stdout, "execexec")

// Options configures a single invocation of Run.
type Options struct {
	// Argv is the command to run: Argv[0] is the program, the rest are its
	// arguments.
	Argv []string
	// Tempdir is the rendezvous directory status/out/err default sinks and
	// spooled input are written under. It must already exist.
	Tempdir string

	Stdin  Sink
	Stdout Sink
	Stderr Sink
	// TieStderrToStdout ties Stderr to Stdout's resolved sink, so both
	// streams interleave into the same destination.
	TieStderrToStdout bool
}

// Run executes opts.Argv, waits for it to complete, and records a status
// record in opts.Tempdir. Any error encountered during setup, exec, wait or
// teardown is returned after teardown has unconditionally run.
func Run(ctx context.Context, opts Options) (err error) {
	if len(opts.Argv) == 0 {
		return errors.New("exec helper: empty argv")
	}

	stdin, stdinClose, err := resolveInput(opts.Tempdir, opts.Stdin)
	if err != nil {
		return errors.Wrap(err, "resolve stdin")
	}
	defer stdinClose()

	stdout, stdoutClose, err := resolveOutput(opts.Tempdir, rendezvous.OutFile, opts.Stdout)
	if err != nil {
		return errors.Wrap(err, "resolve stdout")
	}
	defer stdoutClose()

	var (
		stderr      *os.File
		stderrClose = func() {}
	)
	if opts.TieStderrToStdout {
		stderr = stdout
	} else {
		stderr, stderrClose, err = resolveOutput(opts.Tempdir, rendezvous.ErrFile, opts.Stderr)
		if err != nil {
			return errors.Wrap(err, "resolve stderr")
		}
	}
	defer stderrClose()

	if err := rendezvous.WriteStart(opts.Tempdir, time.Now()); err != nil {
		return errors.Wrap(err, "write start record")
	}

	cmd := exec.CommandContext(ctx, opts.Argv[0], opts.Argv[1:]...)
	cmd.Stdin, cmd.Stdout, cmd.Stderr = stdin, stdout, stderr
	// Placing the child in its own process group lets signal forwarding
	// reach grandchildren it spawns, not just the direct child.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return errors.Wrap(err, "exec command")
	}

	tracker := newSignalTracker(cmd.Process.Pid)
	tracker.watch()

	waitErr := cmd.Wait()
	sig, gotSignal := tracker.stop()

	var finalizeErr error
	if ferr := Finalize(opts.Stdout, filepath.Join(opts.Tempdir, rendezvous.OutFile)); ferr != nil {
		logger.Errorf("finalize stdout sink: %v", ferr)
		finalizeErr = errors.Wrap(ferr, "finalize stdout sink")
	}
	if !opts.TieStderrToStdout {
		if ferr := Finalize(opts.Stderr, filepath.Join(opts.Tempdir, rendezvous.ErrFile)); ferr != nil {
			logger.Errorf("finalize stderr sink: %v", ferr)
			if finalizeErr == nil {
				finalizeErr = errors.Wrap(ferr, "finalize stderr sink")
			}
		}
	}

	rawStatus, exitVal, sigNum := decodeWaitStatus(cmd.ProcessState, waitErr)
	host, _ := os.Hostname()
	if err := rendezvous.WriteEnd(opts.Tempdir, time.Now(), rawStatus, host); err != nil {
		return errors.Wrap(err, "write end record")
	}

	if gotSignal {
		return fmt.Errorf("Got signal SIG%s", sig)
	}
	if waitErr != nil || exitVal != 0 || sigNum != 0 {
		return fmt.Errorf(
			"command failed: host=%s user=%s raw_status=%d exit=%d signal=%s os_error=%v",
			host, currentUser(), rawStatus, exitVal, signalName(sigNum), waitErr,
		)
	}
	return finalizeErr
}

// signalTracker forwards QUIT/INT/TERM to the child's process group and
// records which signal, if any, the controller was asked to forward. SIGKILL
// is requested by spec.md's exec helper design, but the Go runtime (like the
// OS itself) cannot install a handler for it -- os/signal.Notify silently
// drops it -- so it is never observed here; a SIGKILL'd child instead
// surfaces through its wait status.
type signalTracker struct {
	pid int
	ch  chan os.Signal
	done chan struct{}

	mu  sync.Mutex
	sig syscall.Signal
	got bool
}

func newSignalTracker(pid int) *signalTracker {
	return &signalTracker{
		pid:  pid,
		ch:   make(chan os.Signal, 4),
		done: make(chan struct{}),
	}
}

func (t *signalTracker) watch() {
	signal.Notify(t.ch, unix.SIGQUIT, unix.SIGINT, unix.SIGTERM)
	go func() {
		defer close(t.done)
		for sig := range t.ch {
			s, ok := sig.(syscall.Signal)
			if !ok {
				continue
			}
			t.mu.Lock()
			t.sig, t.got = s, true
			t.mu.Unlock()
			if err := unix.Kill(-t.pid, s); err != nil {
				logger.Warnf("forward signal %s to pgid %d: %v", s, t.pid, err)
			}
		}
	}()
}

// stop stops forwarding signals and reports the last one observed, if any.
func (t *signalTracker) stop() (syscall.Signal, bool) {
	signal.Stop(t.ch)
	close(t.ch)
	<-t.done
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sig, t.got
}

func signalName(sig syscall.Signal) string {
	if sig == 0 {
		return ""
	}
	return sig.String()
}

func currentUser() string {
	if u, err := user.Current(); err == nil {
		return u.Username
	}
	return "unknown"
}

// decodeWaitStatus extracts the raw wait status, exit value and terminating
// signal number (0 if none) from a completed command's ProcessState.
func decodeWaitStatus(ps *os.ProcessState, waitErr error) (raw, exit, sig int) {
	if ps == nil {
		return -1, -1, 0
	}
	ws, ok := ps.Sys().(syscall.WaitStatus)
	if !ok {
		if ps.Success() {
			return 0, 0, 0
		}
		return -1, ps.ExitCode(), 0
	}
	raw = int(ws)
	if ws.Signaled() {
		return raw, -1, int(ws.Signal())
	}
	return raw, ws.ExitStatus(), 0
}
