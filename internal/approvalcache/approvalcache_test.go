package approvalcache

import (
	"testing"

	"github.com/forgecore/agentcore/internal/protocol"
)

func TestCacheExactMatch(t *testing.T) {
	c := New()
	c.Register(protocol.RegisterApprovedCommandOp{
		Command:   []string{"npm", "install"},
		MatchKind: protocol.MatchExact,
	})

	if !c.Approved([]string{"npm", "install"}) {
		t.Error("expected exact match to be approved")
	}
	if c.Approved([]string{"npm", "install", "--save"}) {
		t.Error("exact match should not approve a longer command")
	}
}

func TestCachePrefixMatch(t *testing.T) {
	c := New()
	c.Register(protocol.RegisterApprovedCommandOp{
		Command:   []string{"git", "commit"},
		MatchKind: protocol.MatchPrefix,
	})

	if !c.Approved([]string{"git", "commit", "-m", "wip"}) {
		t.Error("expected prefix match to be approved")
	}
	if c.Approved([]string{"git", "push"}) {
		t.Error("unrelated command should not be approved")
	}
}

func TestCacheSemanticPrefixMatch(t *testing.T) {
	c := New()
	c.Register(protocol.RegisterApprovedCommandOp{
		MatchKind:      protocol.MatchPrefix,
		SemanticPrefix: "go test",
	})

	if !c.Approved([]string{"go", "test", "./..."}) {
		t.Error("expected semantic prefix match to be approved")
	}
}
