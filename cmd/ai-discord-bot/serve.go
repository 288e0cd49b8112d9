package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/wrathagom/ai-discord-bot/approval"
	"github.com/wrathagom/ai-discord-bot/chat"
	"github.com/wrathagom/ai-discord-bot/claude"
	"github.com/wrathagom/ai-discord-bot/codex"
	"github.com/wrathagom/ai-discord-bot/config"
	"github.com/wrathagom/ai-discord-bot/logging"
	"github.com/wrathagom/ai-discord-bot/relay"
	"github.com/wrathagom/ai-discord-bot/runner"
	"github.com/wrathagom/ai-discord-bot/store"
	"github.com/wrathagom/ai-discord-bot/stream"
)

var serveChannel string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the bridge daemon",
	Long: `Serve starts the relay listener and a console prompt loop. Each stdin
line becomes a prompt for the active channel. Commands:

  /allow [note]   approve the pending tool call
  /deny [reason]  reject the pending tool call
  /answer <text>  answer the pending question
  /kill           stop the channel's active run
  /reset          stop the run and drop the continuation session

Prompts for a busy channel are dropped, not queued.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.LogPath != "" {
			if err := logging.Init(cfg.LogPath); err != nil {
				return err
			}
		}
		log := logging.WithComponent("serve")

		db, err := store.Open(cfg.StorePath)
		if err != nil {
			return err
		}
		defer db.Close()

		messenger := &passiveMessenger{Console: chat.NewConsole()}
		approvals := approval.NewManager(messenger, logging.WithComponent("approval"),
			approval.WithTimeouts(cfg.ApprovalTimeout.Std(), cfg.PlanTimeout.Std()))
		bridge := approval.NewBridge(approvals, logging.WithComponent("bridge"))
		run := runner.NewRunner(messenger, bridge,
			runner.WithLogger(logging.WithComponent("runner")),
			runner.WithRunTimeout(cfg.RunTimeout.Std()),
			runner.WithSessionStore(db))

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		g, ctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			err := relay.NewServer(cfg.RelayListen, approvals, logging.WithComponent("relay")).Start(ctx)
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		})
		g.Go(func() error {
			return promptLoop(ctx, cfg, db, run, approvals, log)
		})

		log.Info("bridge started", "relay", cfg.RelayListen, "store", cfg.StorePath)
		return g.Wait()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveChannel, "channel", "console", "Channel name for console prompts")
}

// passiveMessenger prints widgets but never reads stdin; the prompt loop owns
// stdin and resolves interactions externally through the approval manager.
type passiveMessenger struct {
	*chat.Console
}

func (m *passiveMessenger) PresentApproval(ctx context.Context, channel, toolName string, input map[string]interface{}) (stream.Decision, error) {
	rendered, _ := json.Marshal(input)
	_, _ = m.SendStatus(ctx, channel, fmt.Sprintf("approval requested: %s %s (/allow or /deny)", toolName, rendered))
	<-ctx.Done()
	return stream.Decision{}, ctx.Err()
}

func (m *passiveMessenger) PresentChoice(ctx context.Context, channel string, q chat.Question) (string, error) {
	var b strings.Builder
	b.WriteString(q.Question)
	for i, opt := range q.Options {
		fmt.Fprintf(&b, "\n  %d) %s", i+1, opt.Label)
	}
	b.WriteString("\n(/answer <text>)")
	_, _ = m.SendStatus(ctx, channel, b.String())
	<-ctx.Done()
	return "", ctx.Err()
}

// promptLoop reads prompts and commands from stdin.
func promptLoop(ctx context.Context, cfg config.Config, db *store.Store, run *runner.Runner, approvals *approval.Manager, log *slog.Logger) error {
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		cmd, rest, _ := strings.Cut(line, " ")
		switch cmd {
		case "":
			continue
		case "/allow":
			resolvePending(approvals, stream.Decision{Behavior: "allow", Message: rest})
		case "/deny":
			resolvePending(approvals, stream.Decision{Behavior: "deny", Message: rest})
		case "/answer":
			resolvePending(approvals, stream.Decision{Message: rest})
		case "/kill":
			if err := run.Kill(serveChannel); err != nil {
				fmt.Println(err)
			}
		case "/reset":
			run.Reset(serveChannel)
			if err := db.Delete(serveChannel); err != nil {
				log.Warn("reset: deleting stored state failed", "error", err)
			}
			fmt.Println("session reset")
		default:
			if run.Busy(serveChannel) {
				fmt.Println("channel busy, prompt dropped")
				continue
			}
			if err := spawnPrompt(ctx, cfg, db, run, line); err != nil {
				fmt.Println("spawn failed:", err)
			}
		}
	}
	return scanner.Err()
}

func resolvePending(approvals *approval.Manager, d stream.Decision) {
	ids := approvals.PendingIDs()
	if len(ids) == 0 {
		fmt.Println("nothing pending")
		return
	}
	for _, id := range ids {
		approvals.HandleExternalDecision(id, d)
	}
}

func spawnPrompt(ctx context.Context, cfg config.Config, db *store.Store, run *runner.Runner, prompt string) error {
	providerName := cfg.DefaultProvider
	mode := stream.PermissionMode(cfg.DefaultPermissionMode)
	model := ""
	workdir := cfg.WorkDir

	// Stored channel settings override the config defaults.
	if st, err := db.Get(serveChannel); err == nil {
		if st.Provider != "" {
			providerName = st.Provider
		}
		if st.PermissionMode != "" {
			mode = stream.PermissionMode(st.PermissionMode)
		}
		if st.Model != "" {
			model = st.Model
		}
		if st.WorkDir != "" {
			workdir = st.WorkDir
		}
	}
	if workdir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return err
		}
		workdir = cwd
	}

	provider, err := newProvider(cfg, providerName)
	if err != nil {
		return err
	}
	if model == "" {
		model = providerModel(cfg, providerName)
	}

	_, err = run.Spawn(ctx, serveChannel, provider, stream.SpawnSpec{
		Prompt:         prompt,
		WorkDir:        workdir,
		Model:          model,
		PermissionMode: mode,
		RelayCommand:   relayCommand(cfg),
	})
	return err
}

// newProvider builds a fresh adapter per spawn; adapters may keep per-run
// parse state.
func newProvider(cfg config.Config, name string) (runner.Provider, error) {
	switch name {
	case claude.ProviderName:
		return &claude.Adapter{CLIPath: cfg.Claude.Path}, nil
	case codex.ProviderName:
		return &codex.Adapter{CLIPath: cfg.Codex.Path}, nil
	default:
		return nil, fmt.Errorf("unknown provider %q", name)
	}
}

func providerModel(cfg config.Config, name string) string {
	if name == codex.ProviderName {
		return cfg.Codex.Model
	}
	return cfg.Claude.Model
}

// relayCommand is the argv the provider CLI uses to spawn the approvals MCP
// server pointing back at this daemon.
func relayCommand(cfg config.Config) []string {
	exe, err := os.Executable()
	if err != nil {
		exe = "ai-discord-bot"
	}
	return []string{exe, "mcp",
		"--channel", serveChannel,
		"--relay-url", "http://" + cfg.RelayListen,
	}
}
