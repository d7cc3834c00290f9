// Package config loads and persists the user-facing YAML settings file,
// adapted from the teacher's JSON-backed Store but switched to YAML for the
// on-disk format (the teacher keeps JSON for its machine-written session
// state, which this repo mirrors in internal/rollout).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/forgecore/agentcore/internal/dispatch"
	"github.com/forgecore/agentcore/internal/sandbox"
)

// ModelSettings configures which provider/model the session talks to.
type ModelSettings struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
	APIKey   string `yaml:"api_key"`
	BaseURL  string `yaml:"base_url,omitempty"`
}

// ContextSettings controls context window management defaults.
type ContextSettings struct {
	MaxTokens         int `yaml:"max_tokens"`
	SlidingWindowSize int `yaml:"sliding_window_size"`
	KeepIntact        int `yaml:"keep_intact"`
}

// SandboxSettings selects the default execution profile for new sessions.
type SandboxSettings struct {
	Profile         string   `yaml:"profile"` // danger-full-access | read-only | workspace-write
	ExtraWritable   []string `yaml:"extra_writable,omitempty"`
	IncludeTmp      bool     `yaml:"include_tmp"`
	AllowGitWrites  bool     `yaml:"allow_git_writes"`
	NetworkAllowed  bool     `yaml:"network_allowed"`
}

// ApprovalSettings selects the default approval policy for new sessions.
type ApprovalSettings struct {
	Mode string `yaml:"policy"` // unless-trusted | on-failure | on-request | never
}

// McpServerSettings launches one MCP server over stdio for a session.
type McpServerSettings struct {
	Name    string   `yaml:"name"`
	Command string   `yaml:"command"`
	Args    []string `yaml:"args,omitempty"`
}

// Settings is the full on-disk configuration.
type Settings struct {
	Model      ModelSettings       `yaml:"model"`
	Context    ContextSettings     `yaml:"context"`
	Sandbox    SandboxSettings     `yaml:"sandbox"`
	Approval   ApprovalSettings    `yaml:"approval"`
	McpServers []McpServerSettings `yaml:"mcp_servers,omitempty"`
}

// Store guards Settings with a mutex and persists them to a YAML file.
type Store struct {
	mu       sync.RWMutex
	path     string
	settings *Settings
}

// defaultSettings mirrors the teacher's conservative-by-default posture:
// reads and safe commands auto-approve, writes and destructive commands do
// not.
func defaultSettings() *Settings {
	return &Settings{
		Model: ModelSettings{Provider: "openai", Model: "gpt-5"},
		Context: ContextSettings{
			MaxTokens:         128000,
			SlidingWindowSize: 20,
			KeepIntact:        8,
		},
		Sandbox: SandboxSettings{
			Profile:        "workspace-write",
			IncludeTmp:     true,
			AllowGitWrites: false,
			NetworkAllowed: false,
		},
		Approval: ApprovalSettings{Mode: "unless-trusted"},
	}
}

// NewStore opens (or creates) <home>/.agentcore/settings.yaml under the
// user's home directory.
func NewStore() (*Store, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("get home dir: %w", err)
	}
	configDir := filepath.Join(homeDir, ".agentcore")
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return nil, fmt.Errorf("create config dir: %w", err)
	}

	s := &Store{path: filepath.Join(configDir, "settings.yaml"), settings: defaultSettings()}
	if err := s.Load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("load settings: %w", err)
		}
		if err := s.Save(); err != nil {
			return nil, fmt.Errorf("save default settings: %w", err)
		}
	}
	return s, nil
}

// Load reads and parses the settings file.
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		return err
	}
	var settings Settings
	if err := yaml.Unmarshal(data, &settings); err != nil {
		return fmt.Errorf("parse settings.yaml: %w", err)
	}
	s.settings = &settings
	return nil
}

// Save writes the current settings back to disk.
func (s *Store) Save() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := yaml.Marshal(s.settings)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	return os.WriteFile(s.path, data, 0o644)
}

// Get returns a copy of the current settings.
func (s *Store) Get() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return *s.settings
}

// Update applies fn to the settings and persists the result.
func (s *Store) Update(fn func(*Settings)) error {
	s.mu.Lock()
	fn(s.settings)
	s.mu.Unlock()
	return s.Save()
}

// SandboxProfile builds the sandbox.Profile for a given working directory
// from this store's SandboxSettings.
func (ss SandboxSettings) SandboxProfile(cwd string) sandbox.Profile {
	switch ss.Profile {
	case "danger-full-access":
		return sandbox.Profile{Kind: sandbox.DangerFullAccess, NetworkAllowed: ss.NetworkAllowed}
	case "read-only":
		return sandbox.Profile{Kind: sandbox.ReadOnly, NetworkAllowed: ss.NetworkAllowed}
	default:
		return sandbox.NewWorkspaceWriteProfile(cwd, ss.ExtraWritable, ss.IncludeTmp, "", ss.AllowGitWrites, ss.NetworkAllowed)
	}
}

// Policy resolves the configured approval policy string into a dispatch.Policy.
func (as ApprovalSettings) Policy() dispatch.Policy {
	switch as.Mode {
	case "on-failure":
		return dispatch.PolicyOnFailure
	case "on-request":
		return dispatch.PolicyOnRequest
	case "never":
		return dispatch.PolicyNever
	default:
		return dispatch.PolicyUnlessTrusted
	}
}
