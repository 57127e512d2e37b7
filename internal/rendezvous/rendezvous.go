// Package rendezvous implements the filesystem protocol a job's tempdir
// uses to exchange status and failure information between the process
// actually running a command (the exec helper, possibly on a remote
// cluster node) and the controller observing it.
package rendezvous

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// File names within a job's tempdir.
const (
	StatusFile = "status"
	DiedFile   = "died"
	OutFile    = "out"
	ErrFile    = "err"
	ArgsFile   = "args.dat"
)

// FileMode is used for every rendezvous file this package creates.
const FileMode = 0644

// Status is the parsed content of a job's status file.
type Status struct {
	Start time.Time
	End   time.Time
	// Ret is the raw wait status as returned by the OS, or 0 if the job
	// hasn't ended yet.
	Ret  int
	Host string
}

// WriteStart appends a start record to the status file in dir, creating it
// if necessary. It is the first write the exec helper makes.
func WriteStart(dir string, at time.Time) error {
	return appendLine(filepath.Join(dir, StatusFile), fmt.Sprintf("start:%d", at.Unix()))
}

// WriteEnd appends end, ret and host records to the status file in dir.
func WriteEnd(dir string, at time.Time, rawStatus int, host string) error {
	path := filepath.Join(dir, StatusFile)
	lines := []string{
		fmt.Sprintf("end:%d", at.Unix()),
		fmt.Sprintf("ret:%d", rawStatus),
		fmt.Sprintf("host:%s", host),
	}
	for _, l := range lines {
		if err := appendLine(path, l); err != nil {
			return err
		}
	}
	return nil
}

// ReadStatus reads and parses dir's status file. ok is false if the status
// file does not yet exist (the job hasn't started, or is still assembling
// its rendezvous directory).
func ReadStatus(dir string) (st Status, ok bool, err error) {
	fd, err := os.Open(filepath.Join(dir, StatusFile))
	if os.IsNotExist(err) {
		return Status{}, false, nil
	}
	if err != nil {
		return Status{}, false, fmt.Errorf("open status file: %w", err)
	}
	defer fd.Close()

	scanner := bufio.NewScanner(fd)
	for scanner.Scan() {
		key, val, found := strings.Cut(scanner.Text(), ":")
		if !found {
			continue
		}
		switch key {
		case "start":
			if sec, err := strconv.ParseInt(val, 10, 64); err == nil {
				st.Start = time.Unix(sec, 0)
			}
		case "end":
			if sec, err := strconv.ParseInt(val, 10, 64); err == nil {
				st.End = time.Unix(sec, 0)
			}
		case "ret":
			if ret, err := strconv.Atoi(val); err == nil {
				st.Ret = ret
			}
		case "host":
			st.Host = val
		}
	}
	if err := scanner.Err(); err != nil {
		return Status{}, false, fmt.Errorf("scan status file: %w", err)
	}
	return st, true, nil
}

// WriteDied writes the formatted error message to dir's die-file. Its mere
// existence is the canonical "this job failed" signal for async and
// cluster modes.
func WriteDied(dir, message string) error {
	return os.WriteFile(filepath.Join(dir, DiedFile), []byte(message), FileMode)
}

// DiedExists reports whether dir's die-file is present, bypassing any
// positive/negative attribute cache a shared filesystem (e.g. NFS) may hold
// for the parent directory by scanning the directory's entries rather than
// stat-ing the file path directly.
func DiedExists(dir string) (bool, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("scan tempdir: %w", err)
	}
	for _, e := range entries {
		if e.Name() == DiedFile {
			return true, nil
		}
	}
	return false, nil
}

// ReadDied reads dir's die-file. ok is false if it does not exist.
func ReadDied(dir string) (message string, ok bool, err error) {
	b, err := os.ReadFile(filepath.Join(dir, DiedFile))
	if os.IsNotExist(err) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read died file: %w", err)
	}
	return string(b), true, nil
}

func appendLine(path, line string) error {
	fd, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, FileMode)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer fd.Close()
	if _, err := fd.WriteString(line + "\n"); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// DecodeExitStatus interprets a status file's raw "ret" field -- the raw OS
// wait status as recorded by the exec helper -- into an exit code and,
// if the process was terminated by a signal instead of exiting normally,
// that signal's name.
func DecodeExitStatus(raw int) (exit int, signal string) {
	ws := syscall.WaitStatus(raw)
	if ws.Signaled() {
		return -1, ws.Signal().String()
	}
	return ws.ExitStatus(), ""
}

// Tail returns the last n lines of the file at path. It is used by the
// error formatter to include sink tailings in failure reports. An empty
// string, nil error is returned if the file does not exist.
func Tail(path string, n int) (string, error) {
	fd, err := os.Open(path)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer fd.Close()

	var lines []string
	scanner := bufio.NewScanner(fd)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
		if len(lines) > n {
			lines = lines[1:]
		}
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("scan %s: %w", path, err)
	}
	return strings.Join(lines, "\n"), nil
}
