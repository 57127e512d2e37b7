package run

import (
	"github.com/cxgntools/run/internal/cluster"
	"github.com/cxgntools/run/internal/execexec"
)

// Hook is a completion callback. It receives the Job that just terminated.
// Hooks fire at most once per Job, synchronously: a foreground job fires
// them when Run finishes, success or failure; a background or cluster job
// fires them the first time an observation call (Alive, Wait, ExitStatus,
// ...) detects successful termination, and not on failure or cancellation.
type Hook func(*Job)

// config accumulates everything a constructor option map would have held.
// The trailing "option map, unknown keys fail immediately" shape from the
// source API doesn't translate literally into a statically typed language:
// this port uses the functional-options pattern instead, where an unknown
// "key" simply doesn't exist as an Option constructor and fails to compile,
// which is the idiomatic Go analogue of the same fail-fast guarantee.
type config struct {
	in, out, err      execexec.Sink
	tieErrToOut       bool
	workingDir        string
	tempBase          string
	existingTemp      string
	raiseError        bool
	dieOnDestroy      bool
	onCompletion      []Hook
	nodes             int
	procsPerNode      int
	vmemMegabytes     int
	queue             string
	maxClusterJobs    int
	clusterEnv        *cluster.Environment
	properties        map[string]interface{}
}

func newConfig() *config {
	return &config{
		in:         execexec.Absent(),
		out:        execexec.Absent(),
		err:        execexec.Absent(),
		raiseError: true,
		properties: map[string]interface{}{},
	}
}

// Option configures a Job constructor.
type Option func(*config)

// WithStdin sets the job's stdin source.
func WithStdin(s execexec.Sink) Option { return func(c *config) { c.in = s } }

// WithStdout sets the job's stdout sink.
func WithStdout(s execexec.Sink) Option { return func(c *config) { c.out = s } }

// WithStderr sets the job's stderr sink.
func WithStderr(s execexec.Sink) Option { return func(c *config) { c.err = s } }

// WithCombinedOutput ties stderr to whatever stdout sink resolves to, so
// both streams interleave into the same destination.
func WithCombinedOutput() Option { return func(c *config) { c.tieErrToOut = true } }

// WithWorkingDir sets the child's working directory.
func WithWorkingDir(dir string) Option { return func(c *config) { c.workingDir = dir } }

// WithTempBase overrides this job's tempdir base directory.
func WithTempBase(base string) Option { return func(c *config) { c.tempBase = base } }

// WithExistingTemp adopts a caller-owned tempdir; Cleanup will not remove it.
func WithExistingTemp(dir string) Option { return func(c *config) { c.existingTemp = dir } }

// WithRaiseError controls whether a failing job surfaces its error from the
// constructor/Wait (true, the default) or stores it in ErrorString (false).
func WithRaiseError(raise bool) Option { return func(c *config) { c.raiseError = raise } }

// WithDieOnDestroy requests that Cleanup kill a still-running background or
// cluster job before removing its tempdir.
func WithDieOnDestroy(die bool) Option { return func(c *config) { c.dieOnDestroy = die } }

// WithCompletionHook appends a callback to the job's completion hook list.
func WithCompletionHook(h Hook) Option {
	return func(c *config) { c.onCompletion = append(c.onCompletion, h) }
}

// WithResources sets the cluster resource request (nodes, processors per
// node, virtual memory in megabytes). Ignored outside cluster mode.
func WithResources(nodes, procsPerNode, vmemMegabytes int) Option {
	return func(c *config) {
		c.nodes, c.procsPerNode, c.vmemMegabytes = nodes, procsPerNode, vmemMegabytes
	}
}

// WithQueue sets the cluster destination queue. Ignored outside cluster mode.
func WithQueue(queue string) Option { return func(c *config) { c.queue = queue } }

// WithMaxClusterJobs overrides the admission threshold (default 2000).
// Ignored outside cluster mode.
func WithMaxClusterJobs(max int) Option { return func(c *config) { c.maxClusterJobs = max } }

// WithClusterEnvironment overrides the cluster.Environment used for
// submission, liveness and cancellation. Defaults to cluster.Default().
// Ignored outside cluster mode.
func WithClusterEnvironment(env *cluster.Environment) Option {
	return func(c *config) { c.clusterEnv = env }
}

// WithProperty attaches a free-form caller property to the job.
func WithProperty(key string, value interface{}) Option {
	return func(c *config) { c.properties[key] = value }
}
