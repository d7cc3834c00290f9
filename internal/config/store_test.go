package config

import (
	"path/filepath"
	"testing"

	"github.com/forgecore/agentcore/internal/dispatch"
	"github.com/forgecore/agentcore/internal/sandbox"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	return &Store{path: filepath.Join(dir, "settings.yaml"), settings: defaultSettings()}
}

func TestStoreSaveLoadRoundTrip(t *testing.T) {
	s := newTestStore(t)
	if err := s.Update(func(st *Settings) { st.Model.Model = "gpt-5-codex" }); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	reloaded := &Store{path: s.path, settings: defaultSettings()}
	if err := reloaded.Load(); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if reloaded.Get().Model.Model != "gpt-5-codex" {
		t.Errorf("Model = %q, want gpt-5-codex", reloaded.Get().Model.Model)
	}
}

func TestSandboxProfileWorkspaceWrite(t *testing.T) {
	ss := SandboxSettings{Profile: "workspace-write", IncludeTmp: false}
	p := ss.SandboxProfile("/work")
	if p.Kind != sandbox.WorkspaceWrite {
		t.Errorf("Kind = %v, want WorkspaceWrite", p.Kind)
	}
	if !p.IsPathWritable("/work/file.go") {
		t.Error("expected /work/file.go writable")
	}
}

func TestSandboxProfileDangerFullAccess(t *testing.T) {
	ss := SandboxSettings{Profile: "danger-full-access"}
	p := ss.SandboxProfile("/work")
	if !p.IsPathWritable("/anything") {
		t.Error("expected danger-full-access to allow any path")
	}
}

func TestApprovalPolicyResolution(t *testing.T) {
	cases := map[string]dispatch.Policy{
		"unless-trusted": dispatch.PolicyUnlessTrusted,
		"on-failure":     dispatch.PolicyOnFailure,
		"on-request":     dispatch.PolicyOnRequest,
		"never":          dispatch.PolicyNever,
		"":               dispatch.PolicyUnlessTrusted,
	}
	for mode, want := range cases {
		got := ApprovalSettings{Mode: mode}.Policy()
		if got != want {
			t.Errorf("Policy(%q) = %v, want %v", mode, got, want)
		}
	}
}
