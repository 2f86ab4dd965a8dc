package fsutil

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	securejoin "github.com/cyphar/filepath-securejoin"
)

// Join resolves rel beneath root. Symlinks and ".." components are resolved
// as if root were the file-system root, so the result never escapes it.
func Join(root, rel string) (string, error) {
	if strings.TrimSpace(rel) == "" {
		return "", errors.New("empty path")
	}
	p, err := securejoin.SecureJoin(root, filepath.FromSlash(rel))
	if err != nil {
		return "", fmt.Errorf("resolving %s under %s: %w", rel, root, err)
	}
	return p, nil
}

// Rel returns path relative to root in slash form.
func Rel(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}
