package fsutil

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
)

// Snapshot is the pre-apply state of one file.
type Snapshot struct {
	Path    string
	Existed bool
	Data    []byte
	Mode    fs.FileMode

	// CreatedDirs are directories made while applying, outermost first.
	CreatedDirs []string
}

// TakeSnapshot records the current contents and mode of path.
func TakeSnapshot(path string) (*Snapshot, error) {
	data, ok, err := ReadIfExists(path)
	if err != nil {
		return nil, err
	}
	return &Snapshot{Path: path, Existed: ok, Data: data, Mode: FileMode(path)}, nil
}

// Restore puts the file back the way it was: previous bytes and mode, or no
// file at all. Directories created since the snapshot are removed when empty.
func (s *Snapshot) Restore() error {
	if s.Existed {
		if _, err := WriteAtomic(s.Path, s.Data, s.Mode); err != nil {
			return fmt.Errorf("restoring %s: %w", s.Path, err)
		}
		return nil
	}
	if err := os.Remove(s.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing %s: %w", s.Path, err)
	}
	for i := len(s.CreatedDirs) - 1; i >= 0; i-- {
		// Non-empty directories stay; something else now lives there.
		_ = os.Remove(s.CreatedDirs[i])
	}
	return nil
}
