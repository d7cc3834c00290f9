package dispatch

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/forgecore/agentcore/internal/protocol"
)

// FileChange is one file's worth of a unified diff: its target path and the
// hunks to apply against it (or, for a new/deleted file, the whole content).
type FileChange struct {
	Path      string
	NewFile   bool
	DeleteFile bool
	Hunks     []hunk
}

type hunk struct {
	OldStart int
	Lines    []hunkLine // kind ' ', '-', '+'
}

type hunkLine struct {
	Kind byte
	Text string
}

// ParseUnifiedDiff splits a model-produced unified diff into per-file
// changes. It expects the conventional "--- a/x" / "+++ b/x" / "@@ -l,s
// +l,s @@" framing.
func ParseUnifiedDiff(diff string) ([]FileChange, error) {
	var changes []FileChange
	var cur *FileChange
	var curHunk *hunk

	scanner := bufio.NewScanner(strings.NewReader(diff))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	flushHunk := func() {
		if cur != nil && curHunk != nil {
			cur.Hunks = append(cur.Hunks, *curHunk)
			curHunk = nil
		}
	}
	flushFile := func() {
		flushHunk()
		if cur != nil {
			changes = append(changes, *cur)
			cur = nil
		}
	}

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "--- "):
			flushFile()
			cur = &FileChange{}
			src := strings.TrimPrefix(line, "--- ")
			if src == "/dev/null" {
				cur.NewFile = true
			}
		case strings.HasPrefix(line, "+++ "):
			if cur == nil {
				cur = &FileChange{}
			}
			dst := strings.TrimPrefix(line, "+++ ")
			if dst == "/dev/null" {
				cur.DeleteFile = true
			} else {
				cur.Path = stripGitPrefix(dst)
			}
		case strings.HasPrefix(line, "@@"):
			flushHunk()
			start, err := parseHunkHeader(line)
			if err != nil {
				return nil, err
			}
			curHunk = &hunk{OldStart: start}
		case cur != nil && curHunk != nil && len(line) > 0:
			curHunk.Lines = append(curHunk.Lines, hunkLine{Kind: line[0], Text: line[1:]})
		case cur != nil && curHunk != nil && line == "":
			curHunk.Lines = append(curHunk.Lines, hunkLine{Kind: ' ', Text: ""})
		}
	}
	flushFile()

	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return changes, nil
}

func stripGitPrefix(p string) string {
	p = strings.TrimPrefix(p, "a/")
	p = strings.TrimPrefix(p, "b/")
	return p
}

func parseHunkHeader(line string) (int, error) {
	// "@@ -12,5 +12,6 @@ optional section heading"
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return 0, fmt.Errorf("malformed hunk header: %q", line)
	}
	oldSpec := strings.TrimPrefix(fields[1], "-")
	parts := strings.SplitN(oldSpec, ",", 2)
	start, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, fmt.Errorf("malformed hunk header %q: %w", line, err)
	}
	return start, nil
}

// Apply writes fc's result to baseDir/fc.Path, applying each hunk against
// the existing file content in order.
func Apply(fc FileChange, baseDir string) error {
	target := filepath.Join(baseDir, fc.Path)

	if fc.DeleteFile {
		return os.Remove(target)
	}

	var original []string
	if !fc.NewFile {
		data, err := os.ReadFile(target)
		if err != nil {
			return err
		}
		original = strings.Split(string(data), "\n")
	}

	result := applyHunks(original, fc.Hunks)

	if dir := filepath.Dir(target); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(target, []byte(strings.Join(result, "\n")), 0o644)
}

// applyHunks walks each hunk, copying unchanged prefix lines, skipping
// removed lines, and inserting added lines, trusting the model's line
// numbers to locate each hunk's start.
func applyHunks(original []string, hunks []hunk) []string {
	var out []string
	cursor := 0 // 0-based index into original

	for _, h := range hunks {
		target := h.OldStart - 1
		if target < 0 {
			target = 0
		}
		for cursor < target && cursor < len(original) {
			out = append(out, original[cursor])
			cursor++
		}
		for _, hl := range h.Lines {
			switch hl.Kind {
			case ' ':
				out = append(out, hl.Text)
				cursor++
			case '-':
				cursor++
			case '+':
				out = append(out, hl.Text)
			}
		}
	}
	for cursor < len(original) {
		out = append(out, original[cursor])
		cursor++
	}
	return out
}

func (d *Dispatcher) dispatchApplyPatch(ctx context.Context, call Call, emit Emitter) (string, error) {
	changes, err := ParseUnifiedDiff(call.PatchText)
	if err != nil {
		return "", fmt.Errorf("parse patch: %w", err)
	}

	var outsideRoots []string
	for _, fc := range changes {
		if !d.Profile.IsPathWritable(filepath.Join(call.Cwd, fc.Path)) {
			outsideRoots = append(outsideRoots, fc.Path)
		}
	}
	if len(outsideRoots) > 0 {
		emit.Emit(protocol.EventMsg{
			Kind:    protocol.MsgApplyPatchApproval,
			CallID:  call.CallID,
			Changes: outsideRoots,
		})
		return "", ErrAwaitingApproval
	}

	return d.applyPatchNow(call, changes, emit)
}

func (d *Dispatcher) applyPatchNow(call Call, changes []FileChange, emit Emitter) (string, error) {
	emit.Emit(protocol.EventMsg{Kind: protocol.MsgPatchApplyBegin, CallID: call.CallID})

	var applied []string
	for _, fc := range changes {
		if err := Apply(fc, call.Cwd); err != nil {
			emit.Emit(protocol.EventMsg{
				Kind:         protocol.MsgPatchApplyEnd,
				CallID:       call.CallID,
				ErrorMessage: err.Error(),
			})
			return "", err
		}
		applied = append(applied, fc.Path)
	}

	emit.Emit(protocol.EventMsg{
		Kind:   protocol.MsgPatchApplyEnd,
		CallID: call.CallID,
		Stdout: "applied " + strings.Join(applied, ", "),
	})
	emit.Emit(protocol.EventMsg{
		Kind:        protocol.MsgTurnDiff,
		CallID:      call.CallID,
		UnifiedDiff: call.PatchText,
	})
	return "applied " + strings.Join(applied, ", "), nil
}

// ResumePatch re-enters apply_patch after an ApplyPatchApprovalRequest is
// answered.
func (d *Dispatcher) ResumePatch(call Call, decision protocol.ApprovalDecision, emit Emitter) (string, error) {
	if decision == protocol.DecisionDenied {
		return "patch not approved by user", nil
	}
	changes, err := ParseUnifiedDiff(call.PatchText)
	if err != nil {
		return "", err
	}
	return d.applyPatchNow(call, changes, emit)
}
