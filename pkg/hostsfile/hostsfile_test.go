package hostsfile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTemp(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hosts")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestEnsureAliasesAppendsBlockWhenAbsent(t *testing.T) {
	path := writeTemp(t, "127.0.0.1 localhost\n")
	m := New(path)

	require.NoError(t, m.EnsureAliases([]string{"osu.ppy.sh", "c.ppy.sh"}))

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	s := string(got)
	assert.Contains(t, s, "127.0.0.1 localhost\n")
	assert.Contains(t, s, beginMarker)
	assert.Contains(t, s, "127.0.0.1 osu.ppy.sh\n")
	assert.Contains(t, s, "127.0.0.1 c.ppy.sh\n")
	assert.Contains(t, s, endMarker)
}

func TestEnsureAliasesReplacesExistingBlockInPlace(t *testing.T) {
	original := "10.0.0.1 router\n" +
		beginMarker + "\n" +
		"127.0.0.1 stale.ppy.sh\n" +
		endMarker + "\n" +
		"10.0.0.2 printer\n"
	path := writeTemp(t, original)
	m := New(path)

	require.NoError(t, m.EnsureAliases([]string{"osu.ppy.sh"}))

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	s := string(got)
	assert.Contains(t, s, "10.0.0.1 router\n")
	assert.Contains(t, s, "10.0.0.2 printer\n")
	assert.Contains(t, s, "127.0.0.1 osu.ppy.sh\n")
	assert.NotContains(t, s, "stale.ppy.sh")
}

func TestEnsureAliasesIsIdempotent(t *testing.T) {
	path := writeTemp(t, "127.0.0.1 localhost\n")
	m := New(path)

	require.NoError(t, m.EnsureAliases([]string{"osu.ppy.sh"}))
	first, err := os.ReadFile(path)
	require.NoError(t, err)

	require.NoError(t, m.EnsureAliases([]string{"osu.ppy.sh"}))
	second, err := os.ReadFile(path)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestEnsureAliasesDedupesAndTrims(t *testing.T) {
	path := writeTemp(t, "")
	m := New(path)

	require.NoError(t, m.EnsureAliases([]string{" osu.ppy.sh ", "osu.ppy.sh", "c.ppy.sh"}))

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	s := string(got)
	assert.Equal(t, 1, countOccurrences(s, "osu.ppy.sh"))
	assert.Contains(t, s, "c.ppy.sh")
}

func TestRemoveBlockDeletesMarkersOnly(t *testing.T) {
	original := "127.0.0.1 localhost\n" +
		beginMarker + "\n" +
		"127.0.0.1 osu.ppy.sh\n" +
		endMarker + "\n" +
		"10.0.0.2 printer\n"
	path := writeTemp(t, original)
	m := New(path)

	require.NoError(t, m.RemoveBlock())

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	s := string(got)
	assert.NotContains(t, s, beginMarker)
	assert.NotContains(t, s, "osu.ppy.sh")
	assert.Contains(t, s, "127.0.0.1 localhost\n")
	assert.Contains(t, s, "10.0.0.2 printer\n")
}

func TestRemoveBlockIsNoOpWhenAbsent(t *testing.T) {
	path := writeTemp(t, "127.0.0.1 localhost\n")
	m := New(path)

	require.NoError(t, m.RemoveBlock())

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1 localhost\n", string(got))
}

func TestRemoveBlockIsNoOpWhenFileMissing(t *testing.T) {
	m := New(filepath.Join(t.TempDir(), "does-not-exist"))
	assert.NoError(t, m.RemoveBlock())
}

func countOccurrences(s, substr string) int {
	count := 0
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			count++
			i += len(substr) - 1
		}
	}
	return count
}
