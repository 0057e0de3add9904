package toolserver

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// PathGuard confines file tool operations to a set of allowed root
// directories. Relative paths resolve against the working directory.
type PathGuard struct {
	workDir string
	roots   []string
}

// NewPathGuard builds a guard for workDir. Each allowed entry may be
// absolute or relative to workDir; an empty list allows workDir only.
func NewPathGuard(workDir string, allowed []string) (*PathGuard, error) {
	absWork, err := filepath.Abs(workDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve working directory: %w", err)
	}
	g := &PathGuard{workDir: absWork}
	if len(allowed) == 0 {
		g.roots = []string{absWork}
		return g, nil
	}
	for _, entry := range allowed {
		root := entry
		if !filepath.IsAbs(root) {
			root = filepath.Join(absWork, root)
		}
		g.roots = append(g.roots, filepath.Clean(root))
	}
	return g, nil
}

// WorkDir returns the guard's absolute working directory.
func (g *PathGuard) WorkDir() string {
	return g.workDir
}

// Resolve turns p into an absolute path and verifies it falls under one of
// the allowed roots. Traversal via ".." is cleaned away before the check,
// so "allowed/../../etc/passwd" does not escape.
func (g *PathGuard) Resolve(p string) (string, error) {
	if p == "" {
		return "", fmt.Errorf("path must not be empty")
	}
	abs := p
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(g.workDir, abs)
	}
	abs = filepath.Clean(abs)

	// Symlinks inside an allowed root could still point outside it; resolve
	// them when the target exists.
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("failed to resolve %q: %w", p, err)
	}

	for _, root := range g.roots {
		if contains(root, abs) {
			return abs, nil
		}
	}
	return "", fmt.Errorf("path %q is outside the allowed directories", p)
}

func contains(root, path string) bool {
	if root == "/" {
		return true
	}
	if path == root {
		return true
	}
	return strings.HasPrefix(path, root+string(filepath.Separator))
}
