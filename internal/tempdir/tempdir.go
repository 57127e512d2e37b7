// Package tempdir manages the per-job rendezvous directories used to
// exchange status, output and die-file data between a running job and its
// controlling handle.
package tempdir

import (
	"crypto/rand"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strings"
)

// libTag identifies this library in the tempfiles directory name, so that
// unrelated tools sharing the same base directory don't collide.
const libTag = "run"

const alphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// segmentCount is the number of randomly chosen 2-char path segments placed
// between the tempfiles marker directory and the job's own directory. This
// keeps any one directory from accumulating too many entries over a long
// process lifetime.
const segmentCount = 5

// Manager creates and destroys job tempdirs under a configurable base.
type Manager struct {
	// Base overrides the OS default temp directory. Empty means os.TempDir().
	Base string
}

// Default returns a Manager rooted at the OS default temp directory.
func Default() *Manager {
	return &Manager{}
}

// Create allocates a new unique tempdir for a job named jobname. The
// directory and all of its parents (up to Base) are created as needed.
func (m *Manager) Create(jobname string) (string, error) {
	base := m.Base
	if base == "" {
		base = os.TempDir()
	}

	root := filepath.Join(base, fmt.Sprintf("%s-%s-tempfiles", username(), libTag))
	segPath, err := segments()
	if err != nil {
		return "", fmt.Errorf("build tempdir segments: %w", err)
	}
	parent := filepath.Join(root, segPath)
	if err := os.MkdirAll(parent, 0755); err != nil {
		return "", fmt.Errorf("create tempdir parent %s: %w", parent, err)
	}

	dir, err := os.MkdirTemp(parent, sanitize(jobname)+"-")
	if err != nil {
		return "", fmt.Errorf("create job tempdir under %s: %w", parent, err)
	}
	return dir, nil
}

// Adopt validates that an existing_temp directory supplied by the caller
// exists and is writable. The handle that adopts such a directory does not
// own it and must not remove it in Cleanup.
func Adopt(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("existing_temp %s: %w", dir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("existing_temp %s is not a directory", dir)
	}
	probe := filepath.Join(dir, ".run-writable-probe")
	fd, err := os.Create(probe)
	if err != nil {
		return fmt.Errorf("existing_temp %s is not writable: %w", dir, err)
	}
	fd.Close()
	os.Remove(probe)
	return nil
}

// Cleanup removes dir and walks upward removing ancestor segments as long
// as they are empty and not the top-level "...-tempfiles" marker directory.
func Cleanup(dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("remove tempdir %s: %w", dir, err)
	}

	parent := filepath.Dir(dir)
	for {
		if strings.HasSuffix(filepath.Base(parent), "-tempfiles") {
			return nil
		}
		entries, err := os.ReadDir(parent)
		if err != nil {
			// Already gone, or not ours to clean further; not an error.
			return nil
		}
		if len(entries) > 0 {
			return nil
		}
		if err := os.Remove(parent); err != nil {
			return nil
		}
		parent = filepath.Dir(parent)
	}
}

func segments() (string, error) {
	parts := make([]string, segmentCount)
	for i := range parts {
		s, err := randSegment()
		if err != nil {
			return "", err
		}
		parts[i] = s
	}
	return filepath.Join(parts...), nil
}

func randSegment() (string, error) {
	b := make([]byte, 2)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return string([]byte{alphabet[int(b[0])%len(alphabet)], alphabet[int(b[1])%len(alphabet)]}), nil
}

func sanitize(name string) string {
	if name == "" {
		return "job"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, name)
}

func username() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return sanitize(u.Username)
	}
	return "unknown"
}
