package record

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestRecord_SaveLoadRoundTrip verifies that a saved record loads back
// identically.
func TestRecord_SaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()

	saved := New("http://host/media.m3u8", map[string]string{"User-Agent": "curl"}, "abc123")
	require.NoError(t, saved.Save(dir))

	loaded, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, saved, loaded)
}

// TestRecord_LoadMissing verifies that an absent record is an error the
// caller can treat as a cache miss.
func TestRecord_LoadMissing(t *testing.T) {
	_, err := Load(t.TempDir())
	assert.Error(t, err)
}

// TestRecord_LoadCorrupt verifies that a mangled record file is an
// error, not a half-parsed record.
func TestRecord_LoadCorrupt(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte("{not json"), 0o644))

	_, err := Load(dir)
	assert.Error(t, err)
}

// TestRecord_PrettyPrinted verifies that the record stays readable on
// disk for debugging.
func TestRecord_PrettyPrinted(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, New("http://host/x.m3u8", nil, "sum").Save(dir))

	data, err := os.ReadFile(filepath.Join(dir, FileName))
	require.NoError(t, err)
	assert.Contains(t, string(data), "\n  \"target\"")
}

// TestRecord_NilHeaders verifies that a nil header map round-trips as
// an empty object instead of null.
func TestRecord_NilHeaders(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, New("http://host/x.m3u8", nil, "sum").Save(dir))

	loaded, err := Load(dir)
	require.NoError(t, err)
	assert.NotNil(t, loaded.Headers)
	assert.Empty(t, loaded.Headers)
}
