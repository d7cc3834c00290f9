// Package approvalcache remembers commands a user has already approved for
// a session, the same role the teacher's ApprovalManager plays for
// auto-approval settings, but scoped to one running session and driven by
// explicit RegisterApprovedCommand submissions instead of a config toggle.
package approvalcache

import (
	"strings"
	"sync"

	"github.com/forgecore/agentcore/internal/protocol"
)

type entry struct {
	command        []string
	kind           protocol.MatchKind
	semanticPrefix string
}

// Cache holds the approved-command entries for a single session.
type Cache struct {
	mu      sync.RWMutex
	entries []entry
}

// New returns an empty cache.
func New() *Cache {
	return &Cache{}
}

// Register adds an approved command, keyed by exact argv equality or by a
// prefix match against either the raw argv or a semantic command prefix
// (e.g. "git commit" approving any "git commit ..." invocation).
func (c *Cache) Register(op protocol.RegisterApprovedCommandOp) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, entry{
		command:        op.Command,
		kind:           op.MatchKind,
		semanticPrefix: op.SemanticPrefix,
	})
}

// Approved reports whether command matches a previously registered entry.
func (c *Cache) Approved(command []string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	joined := strings.Join(command, " ")
	for _, e := range c.entries {
		switch e.kind {
		case protocol.MatchExact:
			if equalArgv(e.command, command) {
				return true
			}
		case protocol.MatchPrefix:
			if e.semanticPrefix != "" && strings.HasPrefix(joined, e.semanticPrefix) {
				return true
			}
			if hasArgvPrefix(e.command, command) {
				return true
			}
		}
	}
	return false
}

func equalArgv(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func hasArgvPrefix(prefix, command []string) bool {
	if len(prefix) > len(command) {
		return false
	}
	for i := range prefix {
		if prefix[i] != command[i] {
			return false
		}
	}
	return true
}
