package http

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// ErrPathNotAllowed rejects request paths that leave the data directory.
var ErrPathNotAllowed = errors.New("path is outside the data directory")

// dataDir confines request paths to one directory tree.
type dataDir struct {
	root string
	real string
}

func newDataDir(dir string) (dataDir, error) {
	if dir == "" {
		dir = "."
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return dataDir{}, err
	}
	real, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return dataDir{}, fmt.Errorf("data directory: %w", err)
	}
	return dataDir{root: abs, real: real}, nil
}

// resolve maps a relative request path to a path under the data
// directory. Absolute paths, ".." escapes and symlinks pointing outside
// the directory are rejected.
func (d dataDir) resolve(p string) (string, error) {
	if !filepath.IsLocal(p) {
		return "", fmt.Errorf("%w: %q", ErrPathNotAllowed, p)
	}
	full := filepath.Join(d.root, p)

	real, err := realPath(full)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(d.real, real)
	if err != nil || !filepath.IsLocal(rel) {
		return "", fmt.Errorf("%w: %q", ErrPathNotAllowed, p)
	}
	return full, nil
}

// realPath resolves symlinks in the longest existing prefix of p and
// appends the rest unchanged.
func realPath(p string) (string, error) {
	var rest []string
	for cur := p; ; {
		if _, err := os.Lstat(cur); err == nil {
			real, err := filepath.EvalSymlinks(cur)
			if err != nil {
				return "", err
			}
			for i := len(rest) - 1; i >= 0; i-- {
				real = filepath.Join(real, rest[i])
			}
			return real, nil
		} else if !errors.Is(err, fs.ErrNotExist) {
			return "", err
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return p, nil
		}
		rest = append(rest, filepath.Base(cur))
		cur = parent
	}
}
