// Package workspace keeps the files phaseguard writes inside the
// workspace it was started in. Mission folders and screenshots are
// resolved through a Guard; paths that escape the workspace, including
// through symlinks or "..", are refused unless their directory was
// explicitly allowed.
package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrOutsideWorkspace is returned for paths that resolve outside the
// workspace and every allowed directory.
var ErrOutsideWorkspace = errors.New("path is outside the workspace")

// Guard resolves paths against a workspace root.
type Guard struct {
	root    string
	allowed []string
}

// NewGuard creates a guard rooted at dir. The directory must exist; its
// symlinks are evaluated so comparisons are stable.
func NewGuard(dir string) (*Guard, error) {
	if dir == "" {
		return nil, fmt.Errorf("workspace directory cannot be empty")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve workspace directory: %w", err)
	}
	root, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate workspace directory symlinks: %w", err)
	}
	return &Guard{root: root}, nil
}

// Root returns the resolved workspace directory.
func (g *Guard) Root() string {
	return g.root
}

// Allow lets paths under dir resolve even though dir is outside the
// workspace.
func (g *Guard) Allow(dir string) {
	if dir == "" {
		return
	}
	abs, err := expand(dir)
	if err != nil {
		return
	}
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(g.root, abs)
	}
	g.allowed = append(g.allowed, resolveExisting(abs))
}

// Resolve turns path into an absolute path. Relative paths are taken
// from the workspace root and "~" is expanded. The result must lie in the
// workspace or an allowed directory; the path itself need not exist yet.
func (g *Guard) Resolve(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("path cannot be empty")
	}
	expanded, err := expand(path)
	if err != nil {
		return "", err
	}
	if !filepath.IsAbs(expanded) {
		expanded = filepath.Join(g.root, expanded)
	}
	resolved := resolveExisting(filepath.Clean(expanded))

	if within(resolved, g.root) {
		return resolved, nil
	}
	for _, dir := range g.allowed {
		if within(resolved, dir) {
			return resolved, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrOutsideWorkspace, path)
}

// Rel returns path relative to the workspace root.
func (g *Guard) Rel(path string) (string, error) {
	resolved, err := g.Resolve(path)
	if err != nil {
		return "", err
	}
	if !within(resolved, g.root) {
		return "", fmt.Errorf("%w: %s", ErrOutsideWorkspace, path)
	}
	return filepath.Rel(g.root, resolved)
}

func expand(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to expand ~: %w", err)
	}
	return filepath.Join(home, strings.TrimPrefix(path[1:], "/")), nil
}

// resolveExisting evaluates symlinks in the longest existing prefix of
// path and re-attaches the rest.
func resolveExisting(path string) string {
	var rest []string
	current := path
	for {
		if resolved, err := filepath.EvalSymlinks(current); err == nil {
			for i := len(rest) - 1; i >= 0; i-- {
				resolved = filepath.Join(resolved, rest[i])
			}
			return resolved
		}
		parent := filepath.Dir(current)
		if parent == current {
			return path
		}
		rest = append(rest, filepath.Base(current))
		current = parent
	}
}

func within(path, dir string) bool {
	sep := string(filepath.Separator)
	return path == dir || strings.HasPrefix(path+sep, strings.TrimSuffix(dir, sep)+sep)
}
