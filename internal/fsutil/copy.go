// Package fsutil replaces files atomically.
package fsutil

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// CopyFile replaces dst with a copy of src written through a temporary file in
// the destination directory, so a reader of dst never sees a partial file.
// Missing parent directories are created.
func CopyFile(src string, dst string, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		return err
	}
	if err := os.Rename(tmpName, dst); err != nil {
		return err
	}
	committed = true
	return nil
}

// CloneFile is CopyFile keeping the permission bits and the modification time of src.
func CloneFile(src string, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	if err := CopyFile(src, dst, info.Mode().Perm()); err != nil {
		return err
	}
	if err := os.Chtimes(dst, time.Now(), info.ModTime()); err != nil {
		return fmt.Errorf("copied %s but could not keep its modification time: %w", src, err)
	}
	return nil
}
