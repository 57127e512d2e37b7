package execexec

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveInputAbsentUsesDevNull(t *testing.T) {
	f, cleanup, err := resolveInput(t.TempDir(), Absent())
	require.NoError(t, err)
	defer cleanup()
	assert.Equal(t, os.DevNull, f.Name())
}

func TestResolveInputFromPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "in")
	require.NoError(t, os.WriteFile(path, []byte("content"), 0644))

	f, cleanup, err := resolveInput(dir, FromPath(path))
	require.NoError(t, err)
	defer cleanup()

	b, err := os.ReadFile(f.Name())
	require.NoError(t, err)
	assert.Equal(t, "content", string(b))
}

func TestResolveInputFromBytesSpoolsAndRewinds(t *testing.T) {
	dir := t.TempDir()
	f, cleanup, err := resolveInput(dir, FromBytes([]byte("spooled")))
	require.NoError(t, err)
	defer cleanup()

	buf := make([]byte, 7)
	n, err := f.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "spooled", string(buf[:n]))
}

func TestResolveInputFromProducerDrainsAllChunks(t *testing.T) {
	dir := t.TempDir()
	chunks := [][]byte{[]byte("a"), []byte("b"), []byte("c")}
	i := 0
	producer := FromProducer(func() ([]byte, bool) {
		chunk := chunks[i]
		i++
		return chunk, i < len(chunks)
	})

	f, cleanup, err := resolveInput(dir, producer)
	require.NoError(t, err)
	defer cleanup()

	buf := make([]byte, 3)
	n, err := f.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "abc", string(buf[:n]))
}

func TestResolveOutputAbsentCreatesRendezvousFile(t *testing.T) {
	dir := t.TempDir()
	f, cleanup, err := resolveOutput(dir, "out", Absent())
	require.NoError(t, err)
	defer cleanup()
	assert.Equal(t, filepath.Join(dir, "out"), f.Name())
}

func TestResolveOutputPath(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "custom-out")
	f, cleanup, err := resolveOutput(dir, "out", FromPath(target))
	require.NoError(t, err)
	defer cleanup()
	assert.Equal(t, target, f.Name())
}

func TestFinalizeBytesSinkReadsSpooledFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out")
	require.NoError(t, os.WriteFile(path, []byte("result"), 0644))

	var dst []byte
	require.NoError(t, Finalize(ToBytes(&dst), path))
	assert.Equal(t, "result", string(dst))
}

func TestFinalizeConsumerSinkReplaysLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out")
	require.NoError(t, os.WriteFile(path, []byte("line1\nline2\n"), 0644))

	var got []string
	require.NoError(t, Finalize(ToConsumer(func(line string) { got = append(got, line) }), path))
	assert.Equal(t, []string{"line1", "line2"}, got)
}

func TestFinalizeAbsentSinkIsNoop(t *testing.T) {
	require.NoError(t, Finalize(Absent(), filepath.Join(t.TempDir(), "nonexistent")))
}

func TestSinkAccessors(t *testing.T) {
	s := FromPath("/tmp/x")
	p, ok := s.Path()
	assert.True(t, ok)
	assert.Equal(t, "/tmp/x", p)

	_, ok = FromBytes(nil).Path()
	assert.False(t, ok)

	assert.True(t, FromStream(nil, true).IsLiveStream())
	assert.False(t, Absent().IsLiveStream())

	var dst []byte
	assert.True(t, ToBytes(&dst).NeedsLocalFinalize())
	assert.False(t, FromPath("/tmp/x").NeedsLocalFinalize())
}
