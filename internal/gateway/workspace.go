package gateway

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/droverhq/drover/internal/config"
)

// errWorkspace marks a task workspace outside the sandbox.
var errWorkspace = errors.New("workspace outside the allowed root")

// workspaceGuard resolves task workspaces and enforces the sandbox:
// paths must live under the configured root unless allow-any is set or
// an allow pattern matches.
type workspaceGuard struct {
	root     string
	allowAny bool
	patterns []string
}

func newWorkspaceGuard(cfg config.WorkspaceConfig) *workspaceGuard {
	root := cfg.Root
	if root == "" {
		root = config.WorkingDir()
	}
	return &workspaceGuard{
		root:     filepath.Clean(root),
		allowAny: cfg.AllowAny,
		patterns: cfg.AllowPatterns,
	}
}

// Resolve turns a requested workspace into an absolute path and checks
// it against the sandbox. Empty and "." resolve to the root itself.
func (g *workspaceGuard) Resolve(workspace string) (string, error) {
	resolved := workspace
	switch {
	case resolved == "" || resolved == ".":
		resolved = g.root
	case !filepath.IsAbs(resolved):
		resolved = filepath.Join(g.root, resolved)
	}
	resolved = filepath.Clean(resolved)

	if g.allowAny || g.inRoot(resolved) || g.matchesPattern(resolved) {
		return resolved, nil
	}
	return "", fmt.Errorf("%w: %s is not under %s", errWorkspace, resolved, g.root)
}

// inRoot reports whether path is the root or one of its descendants.
func (g *workspaceGuard) inRoot(path string) bool {
	rel, err := filepath.Rel(g.root, path)
	if err != nil {
		return false
	}
	return rel == "." || (!strings.HasPrefix(rel, ".."+string(filepath.Separator)) && rel != "..")
}

func (g *workspaceGuard) matchesPattern(path string) bool {
	for _, pattern := range g.patterns {
		ok, err := doublestar.Match(pattern, path)
		if err != nil {
			continue
		}
		if ok {
			return true
		}
	}
	return false
}
