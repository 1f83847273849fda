package paths

import (
	"path/filepath"
	"strings"
)

// Default roots
const (
	WorkspaceRoot = "/workspaces"
	HomeRoot      = "/home"
)

// Layout resolves per-user directories under configurable roots
type Layout struct {
	WorkspaceRoot string
	HomeRoot      string
}

// NewLayout returns a layout, falling back to the default roots for empty values
func NewLayout(workspaceRoot, homeRoot string) Layout {
	if workspaceRoot == "" {
		workspaceRoot = WorkspaceRoot
	}
	if homeRoot == "" {
		homeRoot = HomeRoot
	}
	return Layout{
		WorkspaceRoot: filepath.Clean(workspaceRoot),
		HomeRoot:      filepath.Clean(homeRoot),
	}
}

// Workspace returns the project's working directory
func (l Layout) Workspace(projectID string) string {
	return filepath.Join(l.WorkspaceRoot, projectID)
}

// Home returns the account's home directory
func (l Layout) Home(username string) string {
	return filepath.Join(l.HomeRoot, username)
}

// IsWithin reports whether path lies strictly below root after cleaning.
// The root itself is not within.
func IsWithin(root, path string) bool {
	root = filepath.Clean(root)
	clean := filepath.Clean(path)
	if clean == root {
		return false
	}
	if root == string(filepath.Separator) {
		return strings.HasPrefix(clean, root)
	}
	return strings.HasPrefix(clean, root+string(filepath.Separator))
}
