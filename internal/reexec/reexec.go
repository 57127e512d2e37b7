// Package reexec implements self-reexec: a job's background supervisor and
// its cluster driver are both the same binary, invoked again with a
// subcommand that tells it to read a spec file out of the job's rendezvous
// directory and run the exec helper against it.
//
// Go cannot fork() a running multi-goroutine process the way the original
// tool could, so a Producer/Consumer sink cannot be resolved inside a
// grandchild: a Producer or Bytes stdin source is drained to bytes before
// the reexec happens, and a Bytes or Consumer output sink is spooled to a
// rendezvous file that Lowered.Finalize can read back in the controller's
// own process. The background and cluster backends do not call
// Lowered.Finalize. See SpecFile.
package reexec

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"

	"github.com/cxgntools/run/internal/errfmt"
	"github.com/cxgntools/run/internal/execexec"
	"github.com/cxgntools/run/internal/log"
	"github.com/cxgntools/run/internal/rendezvous"
)

var logger = log.New(os.Stdout, "reexec")

// SpecFile is the name of the JSON file written into a job's tempdir
// describing the command a supervisor or cluster driver process should run.
const SpecFile = "spec.json"

// WireSinkKind mirrors execexec.SinkKind for the subset of sink variants
// that survive a reexec: a sink that needs a live Go callback invoked
// (Producer/Consumer) has already been resolved to bytes or a spool path by
// the time a Spec is built.
type WireSinkKind int

const (
	WireAbsent WireSinkKind = iota
	WirePath
	WireInherit
)

// WireSink is the serializable form of an execexec.Sink, restricted to the
// kinds a separate OS process can act on.
type WireSink struct {
	Kind WireSinkKind
	Path string
}

// Spec is the full description of a command run, written to SpecFile and
// read back by the supervisor/cluster-exec entry point running in the
// reexec'd process.
type Spec struct {
	Argv              []string
	Tempdir           string
	WorkingDir        string
	Stdin             WireSink
	Stdout            WireSink
	Stderr            WireSink
	TieStderrToStdout bool
}

// WriteSpec serializes spec to dir/SpecFile.
func WriteSpec(dir string, spec Spec) error {
	b, err := json.MarshalIndent(spec, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshal reexec spec")
	}
	if err := os.WriteFile(filepath.Join(dir, SpecFile), b, rendezvous.FileMode); err != nil {
		return errors.Wrap(err, "write reexec spec")
	}
	return nil
}

// ReadSpec reads and parses dir/SpecFile.
func ReadSpec(dir string) (Spec, error) {
	b, err := os.ReadFile(filepath.Join(dir, SpecFile))
	if err != nil {
		return Spec{}, errors.Wrap(err, "read reexec spec")
	}
	var spec Spec
	if err := json.Unmarshal(b, &spec); err != nil {
		return Spec{}, errors.Wrap(err, "unmarshal reexec spec")
	}
	return spec, nil
}

// Lowered is the result of reducing a caller's execexec.Options down to
// something that survives a reexec: a Spec plus, for any sink that must
// stay a live stream, the open file the supervisor process should inherit
// on the corresponding standard fd.
type Lowered struct {
	Spec Spec

	InheritStdin  *os.File
	InheritStdout *os.File
	InheritStderr *os.File

	// Finalize performs any local work (reading captured bytes back,
	// replaying consumer callbacks) once the job has completed, using the
	// rendezvous directory's spooled out/err files.
	Finalize func() error
}

// Lower reduces opts into a form a reexec'd process can run. Producer and
// Bytes stdin sources are drained and spooled into the tempdir up front,
// since the grandchild process cannot call back into the caller's Go
// closures. Live Stream sinks are passed through via file inheritance
// instead, since exec.Cmd can give a child process a caller's open file
// directly without any serialization.
func Lower(opts execexec.Options) (Lowered, error) {
	lowered := Lowered{Finalize: func() error { return nil }}

	stdinWire, inheritIn, err := lowerInput(opts.Tempdir, opts.Stdin)
	if err != nil {
		return Lowered{}, errors.Wrap(err, "lower stdin")
	}
	stdoutWire, inheritOut, finalizeOut, err := lowerOutput(opts.Tempdir, rendezvous.OutFile, opts.Stdout)
	if err != nil {
		return Lowered{}, errors.Wrap(err, "lower stdout")
	}

	var (
		stderrWire  WireSink
		inheritErr  *os.File
		finalizeErr = func() error { return nil }
	)
	if opts.TieStderrToStdout {
		stderrWire = stdoutWire
	} else {
		stderrWire, inheritErr, finalizeErr, err = lowerOutput(opts.Tempdir, rendezvous.ErrFile, opts.Stderr)
		if err != nil {
			return Lowered{}, errors.Wrap(err, "lower stderr")
		}
	}

	lowered.Spec = Spec{
		Argv:              opts.Argv,
		Tempdir:           opts.Tempdir,
		Stdin:             stdinWire,
		Stdout:            stdoutWire,
		Stderr:            stderrWire,
		TieStderrToStdout: opts.TieStderrToStdout,
	}
	lowered.InheritStdin = inheritIn
	lowered.InheritStdout = inheritOut
	lowered.InheritStderr = inheritErr
	lowered.Finalize = func() error {
		if err := finalizeOut(); err != nil {
			return err
		}
		return finalizeErr()
	}
	return lowered, nil
}

func lowerInput(tempdir string, s execexec.Sink) (WireSink, *os.File, error) {
	switch s.Kind() {
	case execexec.KindAbsent:
		return WireSink{Kind: WireAbsent}, nil, nil
	case execexec.KindPath:
		path, _ := s.Path()
		return WireSink{Kind: WirePath, Path: path}, nil, nil
	case execexec.KindStream:
		f, _ := s.File()
		return WireSink{Kind: WireInherit}, f, nil
	case execexec.KindBytes, execexec.KindProducer:
		buf, err := s.DrainInput()
		if err != nil {
			return WireSink{}, nil, errors.Wrap(err, "drain stdin source")
		}
		path := filepath.Join(tempdir, "stdin")
		if err := os.WriteFile(path, buf, rendezvous.FileMode); err != nil {
			return WireSink{}, nil, errors.Wrap(err, "spool stdin")
		}
		return WireSink{Kind: WirePath, Path: path}, nil, nil
	default:
		return WireSink{}, nil, fmt.Errorf("stdin sink: unsupported kind %d", s.Kind())
	}
}

// lowerOutput returns the WireSink describing where the reexec'd process
// should send this stream, the file to inherit for a live stream sink, and
// a finalize func the controller calls, in its own process, once the job
// has completed.
func lowerOutput(tempdir, name string, s execexec.Sink) (WireSink, *os.File, func() error, error) {
	noop := func() error { return nil }
	switch s.Kind() {
	case execexec.KindAbsent:
		return WireSink{Kind: WireAbsent}, nil, noop, nil
	case execexec.KindPath:
		path, _ := s.Path()
		return WireSink{Kind: WirePath, Path: path}, nil, noop, nil
	case execexec.KindStream:
		f, _ := s.File()
		return WireSink{Kind: WireInherit}, f, noop, nil
	case execexec.KindBytes, execexec.KindConsumer:
		path := filepath.Join(tempdir, name)
		finalize := func() error { return execexec.Finalize(s, path) }
		return WireSink{Kind: WirePath, Path: path}, nil, finalize, nil
	default:
		return WireSink{}, nil, noop, fmt.Errorf("%s sink: unsupported kind %d", name, s.Kind())
	}
}

// ToSink resolves a WireSink back into an execexec.Sink, for use inside the
// reexec'd process. WireInherit sinks are resolved by the caller, since
// only the caller knows which of os.Stdin/os.Stdout/os.Stderr it maps to.
func (w WireSink) ToSink() execexec.Sink {
	switch w.Kind {
	case WirePath:
		return execexec.FromPath(w.Path)
	default:
		return execexec.Absent()
	}
}

// Run reads dir/SpecFile and runs it through the exec helper, exactly as
// the original caller's execexec.Options would have, then records a
// die-file on failure so a controller watching the rendezvous directory
// over NFS can learn the outcome without this process staying alive.
//
// Run is the body of the "supervise" and "cluster-exec" CLI subcommands: it
// always hard-exits rather than returning, since by the time it runs, the
// work it was asked to do is either fully recorded in the rendezvous
// directory or has failed in a way only a die-file can report.
func Run(ctx context.Context, dir string) {
	spec, err := ReadSpec(dir)
	if err != nil {
		logger.Errorf("read spec: %v", err)
		writeDied(dir, spec, err)
		os.Exit(1)
	}

	opts := execexec.Options{
		Argv:              spec.Argv,
		Tempdir:           spec.Tempdir,
		Stdin:             resolveWire(spec.Stdin, os.Stdin),
		Stdout:            resolveWire(spec.Stdout, os.Stdout),
		Stderr:            resolveWire(spec.Stderr, os.Stderr),
		TieStderrToStdout: spec.TieStderrToStdout,
	}

	if spec.WorkingDir != "" {
		if err := os.Chdir(spec.WorkingDir); err != nil {
			logger.Errorf("chdir %s: %v", spec.WorkingDir, err)
			writeDied(dir, spec, err)
			os.Exit(1)
		}
	}

	runErr := execexec.Run(ctx, opts)
	if runErr != nil {
		writeDied(dir, spec, runErr)
		os.Exit(1)
	}
	os.Exit(0)
}

func resolveWire(w WireSink, inherited *os.File) execexec.Sink {
	if w.Kind == WireInherit {
		return execexec.FromStream(inherited, false)
	}
	return w.ToSink()
}

func writeDied(dir string, spec Spec, cause error) {
	start := time.Now()
	if st, ok, err := rendezvous.ReadStatus(dir); err == nil && ok && !st.Start.IsZero() {
		start = st.Start
	}
	report := errfmt.Report{
		Command:   spec.Argv,
		StartTime: start,
		InnerErr:  cause.Error(),
		OutPath:   filepath.Join(dir, rendezvous.OutFile),
		ErrPath:   filepath.Join(dir, rendezvous.ErrFile),
	}
	if err := rendezvous.WriteDied(dir, errfmt.Format(report)); err != nil {
		logger.Errorf("write died file: %v", err)
	}
}
