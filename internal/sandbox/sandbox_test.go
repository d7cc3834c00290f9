package sandbox

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestWritableRootIsPathWritable(t *testing.T) {
	root := WritableRoot{Root: "/work", ReadOnlySubpaths: []string{"/work/.git"}}

	tests := []struct {
		path string
		want bool
	}{
		{"/work/src/main.go", true},
		{"/work/.git/HEAD", false},
		{"/other/file", false},
		{"/work", true},
	}
	for _, tt := range tests {
		if got := root.IsPathWritable(tt.path); got != tt.want {
			t.Errorf("IsPathWritable(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestProfileIsPathWritable(t *testing.T) {
	ro := Profile{Kind: ReadOnly}
	if ro.IsPathWritable("/work/a") {
		t.Error("ReadOnly profile reported a path writable")
	}

	danger := Profile{Kind: DangerFullAccess}
	if !danger.IsPathWritable("/anywhere") {
		t.Error("DangerFullAccess profile reported a path not writable")
	}

	ww := NewWorkspaceWriteProfile("/work", nil, false, "", false, false)
	if !ww.IsPathWritable("/work/src/main.go") {
		t.Error("workspace-write profile should allow writes under cwd")
	}
	if ww.IsPathWritable("/work/.git/HEAD") {
		t.Error("workspace-write profile should not allow writes under .git when allowGitWrites is false")
	}
	if ww.IsPathWritable("/etc/passwd") {
		t.Error("workspace-write profile should not allow writes outside its roots")
	}
}

func TestCheckConfirmGuard(t *testing.T) {
	tests := []struct {
		name      string
		cmd       string
		wantOK    bool
	}{
		{"safe ls", "ls -la", true},
		{"git reset hard", "git reset --hard origin/main", false},
		{"rm rf root", "rm -rf /", false},
		{"rm rf dot", "rm -rf .", false},
		{"confirmed rm rf", "confirm: rm -rf .", true},
		{"find delete", "find . -name '*.tmp' -delete", false},
		{"git push force", "git push --force origin main", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, match := CheckConfirmGuard(tt.cmd)
			if ok != tt.wantOK {
				t.Errorf("CheckConfirmGuard(%q) ok = %v, match=%v, want ok=%v", tt.cmd, ok, match, tt.wantOK)
			}
		})
	}
}

func TestRunStreamsChunksAndReportsExitCode(t *testing.T) {
	chunks := make(chan Chunk, 16)
	req := Request{
		CallID:  "call_1",
		Command: []string{"sh", "-c", "echo out; echo err 1>&2; exit 3"},
		Timeout: 5 * time.Second,
	}

	var collected []Chunk
	done := make(chan struct{})
	go func() {
		for c := range chunks {
			collected = append(collected, c)
		}
		close(done)
	}()

	res, err := Run(context.Background(), req, chunks)
	close(chunks)
	<-done
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.ExitCode != 3 {
		t.Errorf("ExitCode = %d, want 3", res.ExitCode)
	}
	if !strings.Contains(res.StdoutTail, "out") {
		t.Errorf("StdoutTail = %q, want it to contain %q", res.StdoutTail, "out")
	}
	if !strings.Contains(res.StderrTail, "err") {
		t.Errorf("StderrTail = %q, want it to contain %q", res.StderrTail, "err")
	}
	if len(collected) == 0 {
		t.Error("expected at least one streamed chunk")
	}
}
