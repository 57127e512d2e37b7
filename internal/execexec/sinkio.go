package execexec

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/cxgntools/run/internal/rendezvous"
)

// resolveInput turns a stdin Sink into an *os.File ready to hand to
// exec.Cmd.Stdin, plus a cleanup function to run once the job has exited.
func resolveInput(tempdir string, s Sink) (*os.File, func(), error) {
	noop := func() {}

	switch s.Kind() {
	case KindAbsent:
		f, err := os.Open(os.DevNull)
		if err != nil {
			return nil, noop, err
		}
		return f, func() { f.Close() }, nil

	case KindPath:
		f, err := os.Open(s.path)
		if err != nil {
			return nil, noop, fmt.Errorf("open stdin path %s: %w", s.path, err)
		}
		return f, func() { f.Close() }, nil

	case KindStream:
		if s.owned {
			return s.file, func() { s.file.Close() }, nil
		}
		return s.file, noop, nil

	case KindBytes, KindProducer:
		buf, err := s.DrainInput()
		if err != nil {
			return nil, noop, fmt.Errorf("drain stdin source: %w", err)
		}
		return spoolAndRewind(tempdir, "stdin", buf)

	default:
		return nil, noop, fmt.Errorf("stdin sink: unsupported kind %d", s.Kind())
	}
}

// resolveOutput turns a stdout/stderr Sink into an *os.File ready to hand to
// exec.Cmd.Stdout/Stderr. name is the default rendezvous file name ("out" or
// "err") used both for KindAbsent and as the spool file for KindBytes/
// KindConsumer captures.
func resolveOutput(tempdir, name string, s Sink) (*os.File, func(), error) {
	noop := func() {}

	switch s.Kind() {
	case KindAbsent:
		f, err := os.Create(filepath.Join(tempdir, name))
		if err != nil {
			return nil, noop, err
		}
		return f, func() { f.Close() }, nil

	case KindPath:
		f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, rendezvous.FileMode)
		if err != nil {
			return nil, noop, fmt.Errorf("open %s path %s: %w", name, s.path, err)
		}
		return f, func() { f.Close() }, nil

	case KindStream:
		if s.owned {
			return s.file, func() { s.file.Close() }, nil
		}
		return s.file, noop, nil

	case KindBytes, KindConsumer:
		f, err := os.Create(filepath.Join(tempdir, name))
		if err != nil {
			return nil, noop, err
		}
		return f, func() { f.Close() }, nil

	default:
		return nil, noop, fmt.Errorf("%s sink: unsupported kind %d", name, s.Kind())
	}
}

// Finalize reads captured content back from the rendezvous spool file at
// path into an in-memory capture sink, or replays it line-by-line to a
// consumer callback. It is a no-op for sinks that wrote directly to their
// final destination (path, stream, absent), and is safe to call from a
// different process than the one that ran the job, as long as path is
// reachable (reexec.Lowered.Finalize wraps it for that case). The
// background and cluster backends do not call it: for those modes a
// KindBytes/KindConsumer sink is never filled, and the captured output
// stays in the spool file.
func Finalize(s Sink, path string) error {
	switch s.Kind() {
	case KindBytes:
		if s.bytesOut == nil {
			return nil
		}
		b, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		*s.bytesOut = b
		return nil

	case KindConsumer:
		if s.consume == nil {
			return nil
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			s.consume(scanner.Text())
		}
		return scanner.Err()

	default:
		return nil
	}
}

// spoolAndRewind writes b to a temp file under tempdir named prefix, then
// reopens it for reading from the start, matching the exec helper's
// behavior for in-memory/byte-sequence/producer stdin sources.
func spoolAndRewind(tempdir, prefix string, b []byte) (*os.File, func(), error) {
	path := filepath.Join(tempdir, prefix)
	if err := os.WriteFile(path, b, rendezvous.FileMode); err != nil {
		return nil, func() {}, fmt.Errorf("spool %s: %w", prefix, err)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, func() {}, fmt.Errorf("reopen spooled %s: %w", prefix, err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		f.Close()
		return nil, func() {}, fmt.Errorf("rewind spooled %s: %w", prefix, err)
	}
	return f, func() { f.Close() }, nil
}
