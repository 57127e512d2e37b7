// Package cluster implements the PBS/Torque integration: qsub submission
// with retry, a cached qstat view shared across handles, admission
// throttling against a busy scheduler, and qdel cancellation.
package cluster

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/cxgntools/run/internal/log"
	"github.com/cxgntools/run/internal/metrics"
)

var logger = log.New(os.Stdout, "cluster")

// ForceQsubFailureEnv is a test hook (see spec.md S5): when set, the next
// submission uses the variable's value in place of the real qsub output,
// then unsets itself. It exists to drive retry tests without a real
// scheduler.
const ForceQsubFailureEnv = "CXGN_TOOLS_RUN_FORCE_QSUB_FAILURE"

// jobIDPattern matches a PBS/Torque job id, e.g. "12345.headnode-01".
var jobIDPattern = regexp.MustCompile(`^\d+(\.[A-Za-z0-9-]+)+$`)

// defaultAccessiblePrefixes is the site-agnostic default accessibility
// policy from spec.md §4.5. Override per Environment for your site.
var defaultAccessiblePrefixes = []string{"/data/shared", "/data/prod", "/data/trunk", "/home", "/crypt"}

// JobState is one qstat -f record.
type JobState struct {
	JobID  string
	State  string // lowercased job_state value, e.g. "r", "q", "e"
	Fields map[string]string
}

// Environment is the process-wide (or test-scoped) dependency bundle for
// cluster submission: the qstat cache, the one-shot admission warning, and
// the scheduler command runner. Represented as an explicit, injectable
// object per spec.md §9 DESIGN NOTES, with Default() providing a
// process-wide convenience instance.
type Environment struct {
	Runner             CommandRunner
	AccessiblePrefixes []string
	CacheTTL           time.Duration

	mu         sync.Mutex
	cache      map[string]*JobState
	lastFetch  time.Time
	warnedOnce bool
}

// Option configures an Environment built with New.
type Option func(*Environment)

// WithRunner overrides the CommandRunner used to invoke qsub/qstat/qdel.
func WithRunner(r CommandRunner) Option { return func(e *Environment) { e.Runner = r } }

// WithAccessiblePrefixes overrides the cluster-accessible path prefix
// policy (spec.md §4.5 / §9 open question (a)).
func WithAccessiblePrefixes(prefixes []string) Option {
	return func(e *Environment) { e.AccessiblePrefixes = prefixes }
}

// WithCacheTTL overrides the qstat cache's refresh interval (default 3s).
func WithCacheTTL(d time.Duration) Option { return func(e *Environment) { e.CacheTTL = d } }

// New creates an Environment.
func New(opts ...Option) *Environment {
	e := &Environment{
		Runner:             execRunner{},
		AccessiblePrefixes: append([]string(nil), defaultAccessiblePrefixes...),
		CacheTTL:           3 * time.Second,
		cache:              map[string]*JobState{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

var (
	defaultOnce sync.Once
	defaultEnv  *Environment
)

// Default returns the process-wide Environment, constructing it on first
// use.
func Default() *Environment {
	defaultOnce.Do(func() { defaultEnv = New() })
	return defaultEnv
}

// CheckAccessible returns an error naming the first path not reachable from
// cluster nodes under the Environment's accessibility policy. Empty paths
// are skipped.
func (e *Environment) CheckAccessible(paths ...string) error {
	for _, p := range paths {
		if p == "" {
			continue
		}
		if !e.pathAccessible(p) {
			return fmt.Errorf("path not reachable from cluster nodes: %s", p)
		}
	}
	return nil
}

func (e *Environment) pathAccessible(p string) bool {
	candidate := p
	if strings.HasPrefix(p, "/net/") {
		rest := strings.TrimPrefix(p, "/net/")
		if idx := strings.Index(rest, "/"); idx >= 0 {
			candidate = rest[idx:]
		}
	}
	for _, prefix := range e.AccessiblePrefixes {
		if strings.HasPrefix(candidate, prefix) {
			return true
		}
	}
	return false
}

// SubmitOptions configures one qsub invocation.
type SubmitOptions struct {
	Script     string
	JobName    string
	ErrFile    string
	WorkingDir string
	Queue      string
	Resources  Resources
}

// Submit synthesizes qsub flags from opts, submits opts.Script on qsub's
// stdin, and parses the returned job id. It retries up to 3 times with a
// 1-second pause if qsub's output doesn't contain a recognizable job id.
func (e *Environment) Submit(ctx context.Context, opts SubmitOptions) (string, error) {
	qsubPath, err := exec.LookPath("qsub")
	if err != nil {
		return "", fmt.Errorf("locate qsub on PATH: %w", err)
	}

	args := []string{"-V", "-r", "n", "-o", "/dev/null", "-e", opts.ErrFile, "-N", opts.JobName}
	if opts.WorkingDir != "" {
		args = append(args, "-d", opts.WorkingDir)
	}
	if opts.Queue != "" {
		args = append(args, "-q", opts.Queue)
	}
	if rs := opts.Resources.String(); rs != "" {
		args = append(args, "-l", rs)
	}

	var lastOut string
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		out, err := e.runSubmit(ctx, qsubPath, args, opts.Script)
		lastOut, lastErr = out, err
		if err == nil {
			if id, ok := firstJobID(out); ok {
				e.Invalidate()
				return id, nil
			}
		}
		if attempt < 2 {
			time.Sleep(time.Second)
		}
	}
	return "", fmt.Errorf("qsub did not return a recognizable job id after 3 attempts; last output: %q (error: %v)", lastOut, lastErr)
}

func (e *Environment) runSubmit(ctx context.Context, qsubPath string, args []string, script string) (string, error) {
	if forced, ok := os.LookupEnv(ForceQsubFailureEnv); ok {
		os.Unsetenv(ForceQsubFailureEnv)
		return forced, nil
	}
	return e.Runner.Run(ctx, script, qsubPath, args...)
}

func firstJobID(out string) (string, bool) {
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if jobIDPattern.MatchString(line) {
			return line, true
		}
	}
	return "", false
}

// Cancel cancels jobID via qdel, escalating: a first qdel, then (if the job
// is still alive 3s later) a second qdel, then (if still alive a further 7s
// later) a fatal error including the combined qdel output.
func (e *Environment) Cancel(ctx context.Context, jobID string) error {
	qdel := func() (string, error) { return e.Runner.Run(ctx, "", "qdel", jobID) }

	if _, err := qdel(); err != nil {
		return fmt.Errorf("qdel %s: %w", jobID, err)
	}
	e.Invalidate()

	time.Sleep(3 * time.Second)
	if alive, err := e.stillAlive(ctx, jobID); err == nil && !alive {
		return nil
	}

	out, err := qdel()
	if err != nil {
		return fmt.Errorf("qdel %s (retry): %w", jobID, err)
	}
	e.Invalidate()

	time.Sleep(7 * time.Second)
	alive, err := e.stillAlive(ctx, jobID)
	if err == nil && !alive {
		return nil
	}
	return fmt.Errorf("qdel failed to remove job %s; last qdel output: %s", jobID, out)
}

func (e *Environment) stillAlive(ctx context.Context, jobID string) (bool, error) {
	state, ok, err := e.JobState(ctx, jobID)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	switch state {
	case "r", "q", "e":
		return true, nil
	default:
		return false, nil
	}
}

// JobState reports the cached job_state value for jobID. ok is false if the
// scheduler no longer reports the job at all.
func (e *Environment) JobState(ctx context.Context, jobID string) (string, bool, error) {
	if err := e.refresh(ctx, false); err != nil {
		return "", false, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	rec, ok := e.cache[jobID]
	if !ok {
		return "", false, nil
	}
	return rec.State, true, nil
}

// QueuedCount returns the number of jobs in the last (possibly just
// refreshed) qstat view.
func (e *Environment) QueuedCount(ctx context.Context) (int, error) {
	if err := e.refresh(ctx, false); err != nil {
		return 0, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.cache), nil
}

// Invalidate forces the next qstat read to bypass the cache.
func (e *Environment) Invalidate() {
	e.mu.Lock()
	e.lastFetch = time.Time{}
	e.mu.Unlock()
}

// QstatDump runs an uncached "qstat -f <jobID>" for inclusion in an error
// report's context. Failures are swallowed; an empty string is returned.
func (e *Environment) QstatDump(ctx context.Context, jobID string) string {
	out, err := e.Runner.Run(ctx, "", "qstat", "-f", jobID)
	if err != nil {
		return ""
	}
	return out
}

// WaitForOverloadedCluster blocks, re-checking every 0-120 randomized
// seconds, until QueuedCount drops below max. A one-shot warning is logged
// the first time the threshold is observed to be met or exceeded, for the
// lifetime of the Environment.
func (e *Environment) WaitForOverloadedCluster(ctx context.Context, max int) error {
	for {
		count, err := e.QueuedCount(ctx)
		if err != nil {
			return err
		}
		metrics.ClusterQueuedJobs.Set(float64(count))
		if count < max {
			return nil
		}

		e.warnOnce(count, max)

		start := time.Now()
		wait := time.Duration(rand.Int63n(int64(120*time.Second) + 1))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		metrics.ClusterThrottleWaitSeconds.Observe(time.Since(start).Seconds())
		e.Invalidate()
	}
}

func (e *Environment) warnOnce(count, max int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.warnedOnce {
		return
	}
	e.warnedOnce = true
	logger.Warnf("cluster queue depth %d >= max_cluster_jobs %d; submissions will block", count, max)
}

// refresh re-runs qstat -f and reparses its output, unless force is false
// and the cache is younger than CacheTTL.
func (e *Environment) refresh(ctx context.Context, force bool) error {
	e.mu.Lock()
	fresh := !force && e.cache != nil && time.Since(e.lastFetch) < e.CacheTTL
	e.mu.Unlock()
	if fresh {
		return nil
	}

	out, err := e.runQstat(ctx)
	if err != nil {
		time.Sleep(3 * time.Second)
		out, err = e.runQstat(ctx)
		if err != nil {
			logger.Errorf("qstat failed twice, returning empty view: %v", err)
			e.mu.Lock()
			e.cache = map[string]*JobState{}
			e.lastFetch = time.Now()
			e.mu.Unlock()
			return nil
		}
	}

	records := parseQstat(out)
	e.mu.Lock()
	e.cache = records
	e.lastFetch = time.Now()
	e.mu.Unlock()
	return nil
}

func (e *Environment) runQstat(ctx context.Context) (string, error) {
	out, err := e.Runner.Run(ctx, "", "qstat", "-f")
	if err != nil {
		return out, err
	}
	if strings.HasPrefix(strings.TrimSpace(out), "qstat:") {
		return out, fmt.Errorf("qstat: %s", out)
	}
	return out, nil
}

// parseQstat parses "qstat -f" output: records begin with "Job Id: <id>",
// followed by "key = value" lines; keys and values are lowercased; keys
// containing "=" or ":" are dropped.
func parseQstat(out string) map[string]*JobState {
	records := map[string]*JobState{}
	var cur *JobState
	for _, line := range strings.Split(out, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "Job Id:") {
			id := strings.TrimSpace(strings.TrimPrefix(trimmed, "Job Id:"))
			rec := &JobState{JobID: id, Fields: map[string]string{}}
			records[id] = rec
			cur = rec
			continue
		}
		if cur == nil {
			continue
		}
		key, val, found := strings.Cut(trimmed, "=")
		if !found {
			continue
		}
		key = strings.ToLower(strings.TrimSpace(key))
		val = strings.ToLower(strings.TrimSpace(val))
		if strings.ContainsAny(key, "=:") {
			continue
		}
		cur.Fields[key] = val
		if key == "job_state" {
			cur.State = val
		}
	}
	return records
}
