package run

import "github.com/cxgntools/run/internal/metrics"

// fireHooksLocked invokes every completion hook exactly once, synchronously,
// in the caller's own process. It must be called with j.mu held. Foreground
// jobs fire it on every terminal outcome but cancellation (spec.md §4.3);
// background and cluster jobs fire it only on the Running -> Terminated-
// Success transition, since a die-file observation there takes error
// propagation instead (spec.md §4.4, §4.7).
func (j *Job) fireHooksLocked() {
	if j.completionFired {
		return
	}
	j.completionFired = true
	hooks := j.onCompletion
	j.mu.Unlock()
	for _, h := range hooks {
		h(j)
		metrics.HooksFired.Inc()
	}
	j.mu.Lock()
}
