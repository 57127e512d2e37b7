// Package errfmt assembles the contextual, multi-line failure reports
// surfaced to callers: command, timings, inner error text, and tailings of
// whatever sinks were filesystem paths.
package errfmt

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/cxgntools/run/internal/rendezvous"
)

// tag prefixes every line of a formatted report.
const tag = "[run]"

// tailLines is how many trailing lines of a sink file are included.
const tailLines = 20

// Report captures everything the formatter needs to build a failure message.
// Fields left zero-valued are simply omitted from the output.
type Report struct {
	Command   []string
	StartTime time.Time
	InnerErr  string

	// OutPath/ErrPath are the job's stdout/stderr sink paths, if they are
	// filesystem paths (live streams and in-memory sinks have no path to
	// tail).
	OutPath string
	ErrPath string

	// JobID and QstatDump are set for cluster-mode errors only.
	JobID     string
	QstatDump string
}

// Format renders r into a human-oriented multi-line report.
func Format(r Report) string {
	var b strings.Builder
	line := func(format string, args ...interface{}) {
		fmt.Fprintf(&b, "%s %s\n", tag, fmt.Sprintf(format, args...))
	}

	if r.JobID != "" {
		line("job id: %s", r.JobID)
	}
	line("command failed: '%s'", strings.Join(r.Command, " "))
	line("start time: %s", r.StartTime.Local().Format(time.RFC1123))
	line("current time: %s", time.Now().Local().Format(time.RFC1123))
	line("error: %s", strings.TrimRight(r.InnerErr, ".!?;: \t\n"))

	if r.ErrPath != "" {
		for _, warning := range pbsWarnings(r.ErrPath) {
			line("=>> PBS: %s", warning)
		}
		line("last few lines of stderr:")
		if tail := mustTail(r.ErrPath); tail != "" {
			for _, l := range strings.Split(tail, "\n") {
				line("  %s", l)
			}
		}
	}

	if r.OutPath != "" {
		line("last few lines of stdout:")
		if tail := mustTail(r.OutPath); tail != "" {
			for _, l := range strings.Split(tail, "\n") {
				line("  %s", l)
			}
		}
	}

	if r.JobID != "" && r.QstatDump != "" {
		line("qstat -f %s:", r.JobID)
		for _, l := range strings.Split(r.QstatDump, "\n") {
			line("  %s", l)
		}
	}

	return b.String()
}

func mustTail(path string) string {
	tail, err := rendezvous.Tail(path, tailLines)
	if err != nil {
		return ""
	}
	return tail
}

// pbsWarnings extracts PBS resource-manager warning lines (prefixed
// "=>> PBS:") from a job's error sink file.
func pbsWarnings(path string) []string {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	const prefix = "=>> PBS:"
	var warnings []string
	for _, l := range strings.Split(string(b), "\n") {
		if strings.HasPrefix(l, prefix) {
			warnings = append(warnings, strings.TrimSpace(strings.TrimPrefix(l, prefix)))
		}
	}
	return warnings
}
