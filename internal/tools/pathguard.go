package tools

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var errOutsideRoots = errors.New("path escapes the allowed directories")

// pathGuard confines file imports to a whitelist of directories. Roots are
// canonicalised once at construction; candidate paths are canonicalised per
// call so symlinks and ".." segments cannot escape.
type pathGuard struct {
	roots []string
}

// newPathGuard canonicalises the allowed roots. An empty list defaults to the
// process working directory and the system temporary directory.
func newPathGuard(dirs []string) (*pathGuard, error) {
	if len(dirs) == 0 {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("determine working directory: %w", err)
		}
		dirs = []string{cwd, os.TempDir()}
	}
	g := &pathGuard{roots: make([]string, 0, len(dirs))}
	for _, dir := range dirs {
		canon, err := canonicalise(dir)
		if err != nil {
			return nil, fmt.Errorf("canonicalise allowed directory %s: %w", dir, err)
		}
		g.roots = append(g.roots, canon)
	}
	return g, nil
}

// resolve canonicalises path and checks containment, returning the real path
// to read from.
func (g *pathGuard) resolve(path string) (string, error) {
	canon, err := canonicalise(path)
	if err != nil {
		return "", err
	}
	for _, root := range g.roots {
		if canon == root || strings.HasPrefix(canon, root+string(filepath.Separator)) {
			return canon, nil
		}
	}
	return "", fmt.Errorf("%w: %s", errOutsideRoots, canon)
}

// canonicalise makes path absolute and resolves symlinks. The path itself may
// not exist; symlinks are resolved on the deepest existing ancestor and the
// remainder re-joined.
func canonicalise(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	abs = filepath.Clean(abs)

	prefix, rest := abs, ""
	for {
		resolved, err := filepath.EvalSymlinks(prefix)
		if err == nil {
			return filepath.Join(resolved, rest), nil
		}
		if !os.IsNotExist(err) {
			return "", err
		}
		parent := filepath.Dir(prefix)
		if parent == prefix {
			return abs, nil
		}
		rest = filepath.Join(filepath.Base(prefix), rest)
		prefix = parent
	}
}
