package cluster

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildDriverScriptReferencesClusterExec(t *testing.T) {
	script := BuildDriverScript("/tmp/my-job-tempfiles")
	assert.Contains(t, script, "#!/bin/sh")
	assert.Contains(t, script, "exec run-helper cluster-exec '/tmp/my-job-tempfiles'")
	assert.Contains(t, script, "PBS_O_")
}

func TestShellQuoteEscapesSingleQuotes(t *testing.T) {
	assert.Equal(t, `'it'\''s'`, shellQuote("it's"))
	assert.Equal(t, "'plain'", shellQuote("plain"))
}
