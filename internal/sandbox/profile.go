// Package sandbox runs model-proposed shell commands under a profile that
// bounds what they may touch, streaming output chunks back the way the
// teacher's CommandOrchestrator streams a running shell command into a
// chat-facing buffer, but keyed by call_id instead of a UUID job id and with
// a write-access lattice instead of a flat log directory.
package sandbox

import "strings"

// ProfileKind tags which restriction lattice a command runs under.
type ProfileKind string

const (
	DangerFullAccess ProfileKind = "danger_full_access"
	ReadOnly         ProfileKind = "read_only"
	WorkspaceWrite    ProfileKind = "workspace_write"
)

// WritableRoot is one directory tree a WorkspaceWrite profile may write
// under, minus any read-only carve-outs beneath it (e.g. .git).
type WritableRoot struct {
	Root             string
	ReadOnlySubpaths []string
}

// IsPathWritable reports whether p falls under Root and outside every
// ReadOnlySubpaths entry.
func (w WritableRoot) IsPathWritable(p string) bool {
	under := func(dir string) bool {
		return p == dir || strings.HasPrefix(p, strings.TrimSuffix(dir, "/")+"/")
	}
	if !under(w.Root) {
		return false
	}
	for _, sub := range w.ReadOnlySubpaths {
		if under(sub) {
			return false
		}
	}
	return true
}

// Profile is the resolved sandbox policy for one exec call.
type Profile struct {
	Kind          ProfileKind
	WritableRoots []WritableRoot // WorkspaceWrite only
	NetworkAllowed bool
}

// IsPathWritable reports whether p is writable under this profile.
func (p Profile) IsPathWritable(path string) bool {
	switch p.Kind {
	case DangerFullAccess:
		return true
	case ReadOnly:
		return false
	case WorkspaceWrite:
		for _, root := range p.WritableRoots {
			if root.IsPathWritable(path) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// NewWorkspaceWriteProfile computes the writable-root set the spec
// describes: cwd plus any explicit extra roots, optionally /tmp and the
// caller's TMPDIR, each with .git carved out read-only unless git writes are
// allowed.
func NewWorkspaceWriteProfile(cwd string, extraRoots []string, includeTmp bool, tmpDir string, allowGitWrites, networkAllowed bool) Profile {
	roots := append([]string{cwd}, extraRoots...)
	if includeTmp {
		roots = append(roots, "/tmp")
		if tmpDir != "" && tmpDir != "/tmp" {
			roots = append(roots, tmpDir)
		}
	}

	writable := make([]WritableRoot, 0, len(roots))
	for _, r := range roots {
		wr := WritableRoot{Root: r}
		if !allowGitWrites {
			wr.ReadOnlySubpaths = append(wr.ReadOnlySubpaths, r+"/.git")
		}
		writable = append(writable, wr)
	}

	return Profile{Kind: WorkspaceWrite, WritableRoots: writable, NetworkAllowed: networkAllowed}
}
