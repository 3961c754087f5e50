package filestore

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

var timeNow = time.Now

func randID() string {
	return uuid.NewString()
}

// writeFileAtomic writes data to a hidden temp file in the target directory
// and renames it into place. With exclusive set an existing target is an
// error.
func writeFileAtomic(path string, data []byte, exclusive bool) error {
	if exclusive {
		if _, err := os.Lstat(path); err == nil {
			return &fs.PathError{Op: "create", Path: path, Err: fs.ErrExist}
		} else if !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}

	tmp := filepath.Join(filepath.Dir(path), ".gitdav-"+randID()+".tmp")
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

// touchDir bumps the directory mtime so the next freshen sees the change on
// filesystems with coarse timestamps.
func touchDir(dir string) {
	now := timeNow()
	_ = os.Chtimes(dir, now, now)
}
