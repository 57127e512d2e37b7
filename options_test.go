package run

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cxgntools/run/internal/execexec"
)

func TestNewConfigDefaults(t *testing.T) {
	c := newConfig()
	assert.Equal(t, execexec.KindAbsent, c.in.Kind())
	assert.Equal(t, execexec.KindAbsent, c.out.Kind())
	assert.Equal(t, execexec.KindAbsent, c.err.Kind())
	assert.True(t, c.raiseError)
	assert.NotNil(t, c.properties)
}

func TestOptionsMutateConfig(t *testing.T) {
	c := newConfig()
	var dst []byte
	WithStdout(execexec.ToBytes(&dst))(c)
	WithCombinedOutput()(c)
	WithWorkingDir("/tmp/work")(c)
	WithRaiseError(false)(c)
	WithResources(2, 4, 8192)(c)
	WithQueue("batch")(c)
	WithMaxClusterJobs(10)(c)

	assert.Equal(t, execexec.KindBytes, c.out.Kind())
	assert.True(t, c.tieErrToOut)
	assert.Equal(t, "/tmp/work", c.workingDir)
	assert.False(t, c.raiseError)
	assert.Equal(t, 2, c.nodes)
	assert.Equal(t, 4, c.procsPerNode)
	assert.Equal(t, 8192, c.vmemMegabytes)
	assert.Equal(t, "batch", c.queue)
	assert.Equal(t, 10, c.maxClusterJobs)
}

func TestWithCompletionHookAppends(t *testing.T) {
	c := newConfig()
	WithCompletionHook(func(*Job) {})(c)
	WithCompletionHook(func(*Job) {})(c)
	assert.Len(t, c.onCompletion, 2)
}

func TestWithPropertySetsKey(t *testing.T) {
	c := newConfig()
	WithProperty("foo", "bar")(c)
	assert.Equal(t, "bar", c.properties["foo"])
}
