package fsutil

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
)

// ReadIfExists returns the file contents and whether the file exists. A
// present empty file yields a non-nil empty slice.
func ReadIfExists(path string) ([]byte, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("reading %s: %w", path, err)
	}
	if data == nil {
		data = []byte{}
	}
	return data, true, nil
}

// FileMode returns the permission bits of path, or 0 if it does not exist.
func FileMode(path string) fs.FileMode {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Mode().Perm()
}

// MkdirAllTracked creates dir and any missing parents, returning the
// directories it created, outermost first.
func MkdirAllTracked(dir string) ([]string, error) {
	var missing []string
	for d := dir; ; d = filepath.Dir(d) {
		if _, err := os.Stat(d); err == nil {
			break
		} else if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("stat %s: %w", d, err)
		}
		missing = append(missing, d)
		if parent := filepath.Dir(d); parent == d {
			break
		}
	}
	created := make([]string, 0, len(missing))
	for i := len(missing) - 1; i >= 0; i-- {
		if err := os.Mkdir(missing[i], 0o755); err != nil && !errors.Is(err, fs.ErrExist) {
			return created, fmt.Errorf("creating directory %s: %w", missing[i], err)
		}
		created = append(created, missing[i])
	}
	return created, nil
}

// WriteAtomic stages data in a temp file next to path and renames it into
// place. The target is either fully replaced or left untouched. It returns
// the directories created along the way.
func WriteAtomic(path string, data []byte, mode fs.FileMode) ([]string, error) {
	dir := filepath.Dir(path)
	created, err := MkdirAllTracked(dir)
	if err != nil {
		return created, err
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".stackforge-*")
	if err != nil {
		return created, fmt.Errorf("staging %s: %w", path, err)
	}
	tmpName := tmp.Name()
	cleanup := func() { os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return created, fmt.Errorf("writing staged %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return created, fmt.Errorf("syncing staged %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return created, fmt.Errorf("closing staged %s: %w", path, err)
	}
	if mode == 0 {
		mode = 0o644
	}
	if err := chmod(tmpName, mode); err != nil {
		cleanup()
		return created, fmt.Errorf("setting mode on %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return created, fmt.Errorf("committing %s: %w", path, err)
	}
	return created, nil
}

// chmod is a no-op on Windows, which has no Unix permission bits.
func chmod(path string, mode fs.FileMode) error {
	if runtime.GOOS == "windows" {
		return nil
	}
	return os.Chmod(path, mode)
}
