package paths

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewLayoutDefaults(t *testing.T) {
	l := NewLayout("", "")
	assert.Equal(t, WorkspaceRoot, l.WorkspaceRoot)
	assert.Equal(t, HomeRoot, l.HomeRoot)

	l = NewLayout("/srv/ws/", "/srv/home//")
	assert.Equal(t, "/srv/ws", l.WorkspaceRoot)
	assert.Equal(t, "/srv/home", l.HomeRoot)
}

func TestLayoutPaths(t *testing.T) {
	l := NewLayout("/workspaces", "/home")
	assert.Equal(t, "/workspaces/proj-1", l.Workspace("proj-1"))
	assert.Equal(t, "/home/alice", l.Home("alice"))
}

func TestIsWithin(t *testing.T) {
	tests := []struct {
		root string
		path string
		want bool
	}{
		{"/home", "/home/alice", true},
		{"/home", "/home/alice/.bashrc", true},
		{"/home/", "/home/alice", true},
		{"/home", "/home", false},
		{"/home", "/home/", false},
		{"/home", "/homeother/alice", false},
		{"/home", "/home/../etc", false},
		{"/home", "/etc/passwd", false},
		{"/", "/anything", true},
		{"/", "/", false},
	}

	for _, tt := range tests {
		t.Run(tt.root+"|"+tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, IsWithin(tt.root, tt.path))
		})
	}
}
