package log

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInfofWritesStructuredLine(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "mypkg")
	logger.Infof("hello %s", "world")

	var fields map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &fields))
	assert.Equal(t, "hello world", fields["message"])
	assert.Equal(t, "mypkg", fields["pkg"])
	assert.Equal(t, "info", fields["level"])
	assert.Contains(t, fields, "at")
}

func TestErrorfUsesErrorLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "mypkg")
	logger.Errorf("boom: %d", 42)

	var fields map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &fields))
	assert.Equal(t, "error", fields["level"])
	assert.Equal(t, "boom: 42", fields["message"])
}

func TestWarnfUsesWarnLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "mypkg")
	logger.Warnf("careful")

	var fields map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &fields))
	assert.Equal(t, "warn", fields["level"])
}

func TestCallerShortensLongPaths(t *testing.T) {
	file, line := caller(1)
	assert.NotEmpty(t, file)
	assert.Greater(t, line, 0)
	assert.LessOrEqual(t, len(strings.Split(file, "/")), 3)
}
