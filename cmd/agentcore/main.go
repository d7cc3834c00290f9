// Command agentcore is the thin CLI collaborator spec §6 describes wrapping
// the core library: exec drives one non-interactive turn, resume replays a
// prior session and continues it, login/logout manage the stored API
// credential. Adapted from the teacher's cmd/cli/main.go, which instead
// dialed a remote daemon over TCP and traded JSON-RPC frames; this version
// constructs the core components in-process and drives them over the same
// Submission/Event bus a remote client would use.
package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/forgecore/agentcore/internal/autocoordinator"
	"github.com/forgecore/agentcore/internal/bus"
	"github.com/forgecore/agentcore/internal/config"
	"github.com/forgecore/agentcore/internal/contextwindow"
	"github.com/forgecore/agentcore/internal/dispatch"
	"github.com/forgecore/agentcore/internal/history"
	"github.com/forgecore/agentcore/internal/mcpclient"
	"github.com/forgecore/agentcore/internal/modelclient"
	"github.com/forgecore/agentcore/internal/orchestrator"
	"github.com/forgecore/agentcore/internal/protocol"
	"github.com/forgecore/agentcore/internal/rollout"
)

var (
	cwdFlag   string
	modelFlag string
	goalFlag  string
	lastFlag  bool
)

var rootCmd = &cobra.Command{
	Use:   "agentcore",
	Short: "Terminal coding agent core",
}

var execCmd = &cobra.Command{
	Use:   "exec [prompt]",
	Short: "Run one non-interactive turn",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		prompt := strings.Join(args, " ")
		return runSession(cmd.Context(), nil, prompt)
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume [id] [prompt]",
	Short: "Resume a prior session by id or --last, optionally continuing it",
	RunE: func(cmd *cobra.Command, args []string) error {
		var path string
		var err error
		home, herr := codeHome()
		if herr != nil {
			return herr
		}

		switch {
		case lastFlag:
			sessions, lerr := rollout.ListConversations(home)
			if lerr != nil {
				return lerr
			}
			if len(sessions) == 0 {
				return fmt.Errorf("no sessions found under %s", home)
			}
			path = sessions[0].Path
			args = args // id arg, if any, is treated as the prompt below
		case len(args) > 0:
			path, err = rollout.FindConversationPathByID(home, args[0])
			if err != nil {
				return fmt.Errorf("find session %s: %w", args[0], err)
			}
			args = args[1:]
		default:
			return fmt.Errorf("resume requires an id or --last")
		}

		meta, events, err := rollout.Load(path)
		if err != nil {
			return fmt.Errorf("load session %s: %w", path, err)
		}
		if meta == nil {
			return fmt.Errorf("session %s has no session_meta header", path)
		}
		fmt.Printf("Resuming session %s (cwd %s)\n", meta.ID, meta.CWD)

		transcript := rollout.ReplayMessages(events)

		var prompt string
		if len(args) > 0 {
			prompt = strings.Join(args, " ")
		}
		if prompt == "" {
			return nil
		}
		return runSession(cmd.Context(), transcript, prompt)
	},
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Store a model-provider API key",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := config.NewStore()
		if err != nil {
			return err
		}
		fmt.Print("API key: ")
		reader := bufio.NewReader(os.Stdin)
		key, _ := reader.ReadString('\n')
		key = strings.TrimSpace(key)
		if key == "" {
			return fmt.Errorf("no API key entered")
		}
		return store.Update(func(s *config.Settings) { s.Model.APIKey = key })
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the stored API key",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := config.NewStore()
		if err != nil {
			return err
		}
		return store.Update(func(s *config.Settings) { s.Model.APIKey = "" })
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cwdFlag, "cwd", "", "working directory for sandboxed commands (defaults to the current directory)")
	rootCmd.PersistentFlags().StringVar(&modelFlag, "model", "", "override the configured model")
	execCmd.Flags().StringVar(&goalFlag, "goal", "", "drive this turn through the auto-coordinator until the goal is reached")
	resumeCmd.Flags().BoolVar(&lastFlag, "last", false, "resume the most recently started session")
	rootCmd.AddCommand(execCmd, resumeCmd, loginCmd, logoutCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func codeHome() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return homeDir + "/.agentcore", nil
}

// runSession builds one session's full component stack and either runs a
// single turn (prompt != "") or, when goalFlag is set, hands the session
// over to the auto-coordinator.
func runSession(ctx context.Context, priorTranscript []protocol.Message, prompt string) error {
	store, err := config.NewStore()
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	settings := store.Get()

	cwd := cwdFlag
	if cwd == "" {
		cwd, _ = os.Getwd()
	}
	model := modelFlag
	if model == "" {
		model = settings.Model.Model
	}

	b := bus.New(64)
	h := history.New()
	cw := contextwindow.New(settings.Context.MaxTokens, contextwindow.Settings{
		SlidingWindowSize: settings.Context.SlidingWindowSize,
		KeepIntact:        settings.Context.KeepIntact,
		EvictThreshold:    2000,
	})

	profile := settings.Sandbox.SandboxProfile(cwd)

	var mcp dispatch.McpCaller
	if len(settings.McpServers) > 0 {
		mcpHub := mcpclient.NewHub()
		for _, sc := range settings.McpServers {
			if err := mcpHub.Connect(ctx, sc.Name, mcpclient.ServerConfig{Command: sc.Command, Args: sc.Args}); err != nil {
				log.Printf("[CLI] mcp server %s: %v", sc.Name, err)
			}
		}
		defer mcpHub.Close()
		mcp = mcpHub
	}
	disp := dispatch.New(settings.Approval.Policy(), profile, mcp)

	baseURL := settings.Model.BaseURL
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1/responses"
	}
	client := modelclient.New(modelclient.Config{
		BaseURL: baseURL,
		Model:   model,
		Auth:    staticAuth{token: settings.Model.APIKey},
	})

	sessionID := uuid.New()
	startedAt := time.Now()
	rec, err := rollout.Create(rollout.PathFor(mustCodeHome(), sessionID, startedAt), protocol.SessionMeta{
		ID:         sessionID.String(),
		Timestamp:  startedAt,
		CWD:        cwd,
		Originator: "agentcore-cli",
		Source:     protocol.SourceCli,
	})
	if err != nil {
		return fmt.Errorf("create rollout: %w", err)
	}
	defer rec.Close()

	defaultTools := []protocol.Tool{shellToolDefinition()}
	orch := orchestrator.New(b, client, disp, h, rec, cw, orchestrator.Config{
		Instructions: defaultInstructions,
		Tools:        defaultTools,
		DefaultCwd:   cwd,
	})
	if len(priorTranscript) > 0 {
		orch.LoadTranscript(priorTranscript)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go orch.Run(runCtx)

	subID := uuid.New().String()
	b.Submit(protocol.Submission{
		ID: subID,
		Op: protocol.OpConfigureSession,
		Payload: protocol.ConfigureSessionOp{
			Cwd:   cwd,
			Model: model,
		},
	})

	printer := newConsolePrinter()

	if goalFlag != "" {
		coord := autocoordinator.New(b, orch, autocoordinator.NewModelDecider(client), autocoordinator.NewModelDecider(client), autocoordinator.Config{
			MaxTurns:      50,
			ObserverEvery: 5,
		})
		coord.OnEvent = printer.handle
		return coord.Run(runCtx, goalFlag)
	}

	if prompt == "" {
		return fmt.Errorf("no prompt given")
	}
	b.Submit(protocol.Submission{
		ID: subID,
		Op: protocol.OpUserInput,
		Payload: protocol.UserInputOp{Items: []protocol.InputItem{{Text: prompt}}},
	})

	return printer.runUntilComplete(b, subID)
}

func mustCodeHome() string {
	home, err := codeHome()
	if err != nil {
		return ".agentcore"
	}
	return home
}

const defaultInstructions = "You are a terminal coding agent. Use the shell tool to inspect and modify the working directory; explain what you did when you finish."

func shellToolDefinition() protocol.Tool {
	return protocol.Tool{
		Name:        "shell",
		Description: "Run a shell command in the session's sandbox and return its output.",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"command": map[string]interface{}{
					"type":  "array",
					"items": map[string]interface{}{"type": "string"},
				},
			},
			"required": []string{"command"},
		},
	}
}

type staticAuth struct{ token string }

func (s staticAuth) Token(ctx context.Context) (string, error) { return s.token, nil }
func (s staticAuth) Refresh(ctx context.Context) error          { return nil }
