package store

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "etfwatch/internal/errors"
)

func tempFiles(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var out []string
	for _, e := range entries {
		if pendingName.MatchString(e.Name()) {
			out = append(out, e.Name())
		}
	}
	return out
}

func TestWriteFileAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "report.json")

	require.NoError(t, WriteFileAtomic(path, []byte("first"), 0644))
	require.NoError(t, WriteFileAtomic(path, []byte("second"), 0600))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
	assert.Empty(t, tempFiles(t, filepath.Dir(path)))
}

func TestWriteFileAtomic_RenameFailureCleansUp(t *testing.T) {
	dir := t.TempDir()
	// A non-empty directory at the destination makes the rename fail.
	path := filepath.Join(dir, "report.json")
	require.NoError(t, os.MkdirAll(filepath.Join(path, "keep"), 0755))

	err := WriteFileAtomic(path, []byte("data"), 0644)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrPersistence))

	var pe *apperrors.PersistenceError
	require.True(t, apperrors.As(err, &pe))
	assert.Equal(t, "rename", pe.Op)

	assert.Empty(t, tempFiles(t, dir))
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestWriteFileAtomic_DirSyncFailureReported(t *testing.T) {
	orig := syncDir
	syncDir = func(string) error { return errors.New("input/output error") }
	t.Cleanup(func() { syncDir = orig })

	dir := t.TempDir()
	path := filepath.Join(dir, "report.json")
	err := WriteFileAtomic(path, []byte("data"), 0644)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrPersistence))

	var pe *apperrors.PersistenceError
	require.True(t, apperrors.As(err, &pe))
	assert.Equal(t, "fsync dir", pe.Op)
	assert.Equal(t, dir, pe.Path)
	assert.Contains(t, err.Error(), "input/output error")
	assert.Empty(t, tempFiles(t, dir))
}

func TestWriteFileAtomic_KeepsOldContentOnFailure(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("permissions are not enforced for root")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "processed_etf_data.json")
	require.NoError(t, WriteFileAtomic(path, []byte(`{"old":true}`), 0644))

	require.NoError(t, os.Chmod(dir, 0555))
	t.Cleanup(func() { os.Chmod(dir, 0755) })

	err := WriteFileAtomic(path, []byte(`{"new":true}`), 0644)
	require.Error(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, `{"old":true}`, string(data))
}

func TestWriteJSONAtomic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.json")
	require.NoError(t, WriteJSONAtomic(path, map[string]string{"name": "台積電 <A&B>"}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "{\n  \"name\": \"台積電 <A&B>\"\n}\n", string(data))

	err = WriteJSONAtomic(path, map[string]interface{}{"bad": func() {}})
	assert.True(t, apperrors.Is(err, apperrors.ErrPersistence))
}

func TestRemoveStaleTemp(t *testing.T) {
	dir := t.TempDir()
	old := filepath.Join(dir, ".00981A_holdings.json123")
	fresh := filepath.Join(dir, ".processed_etf_data.json456")
	other := filepath.Join(dir, "00981A_holdings.json")
	lock := filepath.Join(dir, ".etfwatch.lock")
	for _, p := range []string{old, fresh, other, lock} {
		require.NoError(t, os.WriteFile(p, []byte("x"), 0644))
	}
	past := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(old, past, past))
	require.NoError(t, os.Chtimes(lock, past, past))

	n, err := RemoveStaleTemp(dir, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.NoFileExists(t, old)
	assert.FileExists(t, fresh)
	assert.FileExists(t, other)
	assert.FileExists(t, lock)

	n, err = RemoveStaleTemp(filepath.Join(dir, "missing"), time.Hour)
	require.NoError(t, err)
	assert.Zero(t, n)
}
