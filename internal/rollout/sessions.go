package rollout

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/forgecore/agentcore/internal/protocol"
)

// SessionSummary is the metadata ListConversations needs to render a
// resume/recent-sessions picker without loading each file's full history.
type SessionSummary struct {
	Path      string
	Meta      protocol.SessionMeta
	EventCount int
}

// ListConversations walks <home>/sessions and returns every session found,
// most recent first.
func ListConversations(home string) ([]SessionSummary, error) {
	root := filepath.Join(home, "sessions")
	var out []SessionSummary

	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if info.IsDir() || !strings.HasSuffix(path, ".jsonl") {
			return nil
		}
		meta, events, loadErr := Load(path)
		if loadErr != nil || meta == nil {
			return nil
		}
		out = append(out, SessionSummary{Path: path, Meta: *meta, EventCount: len(events)})
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].Meta.Timestamp.After(out[j].Meta.Timestamp)
	})
	return out, nil
}

// FindConversationPathByID locates a session's rollout file by its UUID,
// scanning the newest sessions first since a resume request usually targets
// a recent run.
func FindConversationPathByID(home, id string) (string, error) {
	sessions, err := ListConversations(home)
	if err != nil {
		return "", err
	}
	for _, s := range sessions {
		if s.Meta.ID == id {
			return s.Path, nil
		}
	}
	return "", os.ErrNotExist
}
