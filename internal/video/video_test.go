package video

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestFromIndex verifies working-dir/index splitting.
func TestFromIndex(t *testing.T) {
	u, err := FromIndex("/tmp/stream/index.m3u8")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/stream", u.indexDir)
	assert.Equal(t, "index.m3u8", u.index)

	u, err = FromIndex("index.m3u8")
	require.NoError(t, err)
	assert.Equal(t, ".", u.indexDir)
	assert.Equal(t, "index.m3u8", u.index)
}

// TestProcessError verifies the error carries the captured stderr.
func TestProcessError(t *testing.T) {
	inner := errors.New("exit status 1")
	err := &ProcessError{Name: "ffmpeg", Stderr: "no such file", Err: inner}
	assert.Contains(t, err.Error(), "ffmpeg")
	assert.Contains(t, err.Error(), "no such file")
	assert.ErrorIs(t, err, inner)
}

// TestCleanSegments verifies that segment and key files referenced by
// the local manifest are removed while the manifest itself stays.
func TestCleanSegments(t *testing.T) {
	dir := t.TempDir()
	manifest := "#EXTM3U\n" +
		"#EXT-X-VERSION:3\n" +
		"#EXT-X-TARGETDURATION:10\n" +
		"#EXT-X-KEY:METHOD=AES-128,URI=\"enc.key\"\n" +
		"#EXTINF:4.0,\n" +
		"a.ts\n" +
		"#EXTINF:4.0,\n" +
		"b.ts\n" +
		"#EXT-X-ENDLIST\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.m3u8"), []byte(manifest), 0o644))
	for _, name := range []string{"enc.key", "a.ts", "b.ts"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644))
	}

	u, err := FromIndex(filepath.Join(dir, "index.m3u8"))
	require.NoError(t, err)
	require.NoError(t, u.CleanSegments())

	for _, name := range []string{"enc.key", "a.ts", "b.ts"} {
		_, err := os.Stat(filepath.Join(dir, name))
		assert.True(t, os.IsNotExist(err), "%s should be removed", name)
	}
	_, err = os.Stat(filepath.Join(dir, "index.m3u8"))
	assert.NoError(t, err, "the manifest itself must stay")
}

// TestCleanSegments_MissingManifest verifies the error path.
func TestCleanSegments_MissingManifest(t *testing.T) {
	u, err := FromIndex(filepath.Join(t.TempDir(), "index.m3u8"))
	require.NoError(t, err)
	assert.Error(t, u.CleanSegments())
}

// TestMerge_Failure verifies that a failing external merge surfaces as
// a ProcessError, whether the tool is missing or rejects the input.
func TestMerge_Failure(t *testing.T) {
	dir := t.TempDir()
	u, err := FromIndex(filepath.Join(dir, "index.m3u8"))
	require.NoError(t, err)

	err = u.Merge(filepath.Join(dir, "out.mp4"))
	require.Error(t, err)
	var procErr *ProcessError
	assert.ErrorAs(t, err, &procErr)
}
