// Package paths defines the filesystem layout of terminal sessions.
//
// # Directory Structure
//
//	/workspaces/
//	  └── <projectId>/   (shared project tree, the shell's working directory)
//	/home/
//	  └── <username>/    (per-account home, created by the provisioner)
//
// Both roots are configurable:
//
//	layout := paths.NewLayout(cfg.Terminal.WorkspaceRoot, cfg.Terminal.HomeRoot)
//	dir := layout.Workspace("proj-1")  // /workspaces/proj-1
//
//	if !paths.IsWithin(layout.HomeRoot, home) {
//	    // refuse to touch it
//	}
package paths
