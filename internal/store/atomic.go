package store

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/google/renameio/v2"

	apperrors "etfwatch/internal/errors"
)

// WriteFileAtomic writes data to path through a pending file in the same
// directory, fsyncs it, renames it over path and fsyncs the directory. On
// any failure before the rename the pending file is removed and path is
// left untouched.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return apperrors.NewPersistenceError("mkdir", dir, err)
	}

	pf, err := renameio.NewPendingFile(path, renameio.WithTempDir(dir), renameio.WithPermissions(perm))
	if err != nil {
		return apperrors.NewPersistenceError("create temp", dir, err)
	}
	defer pf.Cleanup()

	if _, err := pf.Write(data); err != nil {
		return apperrors.NewPersistenceError("write", pf.Name(), err)
	}
	if err := pf.CloseAtomicallyReplace(); err != nil {
		return apperrors.NewPersistenceError("rename", path, err)
	}
	if err := syncDir(dir); err != nil {
		return apperrors.NewPersistenceError("fsync dir", dir, err)
	}
	return nil
}

// syncDir makes a rename in dir durable.
var syncDir = func(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}

// WriteJSONAtomic encodes v as indented JSON, keeping non-ASCII text and
// HTML characters unescaped, and writes it with WriteFileAtomic.
func WriteJSONAtomic(path string, v interface{}) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return apperrors.NewPersistenceError("encode", path, err)
	}
	return WriteFileAtomic(path, buf.Bytes(), 0644)
}

// pendingName matches the pending files WriteFileAtomic creates next to
// its targets: "." + target name + random digits.
var pendingName = regexp.MustCompile(`^\..+\.json[0-9]+$`)

// RemoveStaleTemp deletes pending files left in dir by interrupted writes
// that are older than maxAge. It returns the number removed.
func RemoveStaleTemp(dir string, maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, e := range entries {
		if e.IsDir() || !pendingName.MatchString(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, e.Name())); err == nil {
			removed++
		}
	}
	return removed, nil
}
