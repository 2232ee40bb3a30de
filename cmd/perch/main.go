package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/chzyer/readline"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/perchlabs/perch/pkg/agent"
	"github.com/perchlabs/perch/pkg/bus"
	"github.com/perchlabs/perch/pkg/config"
	"github.com/perchlabs/perch/pkg/logger"
	"github.com/perchlabs/perch/pkg/maintenance"
	"github.com/perchlabs/perch/pkg/memory"
	"github.com/perchlabs/perch/pkg/platform"
	"github.com/perchlabs/perch/pkg/providers"
	"github.com/perchlabs/perch/pkg/store"
	"github.com/perchlabs/perch/pkg/tools"
)

var version = "dev"

var configPath string

func main() {
	rootCmd := &cobra.Command{
		Use:   "perch",
		Short: "Perch is a conversational agent that lives on a messaging platform",
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "path to config file")

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(consoleCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.json"
	}
	return filepath.Join(home, ".perch", "config.json")
}

// deps is everything a command needs after bootstrap.
type deps struct {
	cfg      *config.Config
	store    *store.Store
	engine   *memory.Engine
	provider providers.Provider
	client   *platform.Client
	profiles *platform.ProfileCache
	registry *tools.Registry
}

// newOrchestrator is deferred past bootstrap so the run command can fill in
// the bot identity from GetMe first.
func (d *deps) newOrchestrator() *agent.Orchestrator {
	return agent.NewOrchestrator(d.cfg, d.store, d.engine, d.provider, d.client, d.profiles, d.registry)
}

// bootstrap loads .env and config, initializes logging, and wires the
// component graph shared by run and console.
func bootstrap() (*deps, error) {
	_ = godotenv.Load()

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := logger.Init(cfg.LogLevel); err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	st, err := store.New(cfg.StorePath())
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	provider, err := providers.NewChatCompletionsProvider(providers.ChatCompletionsConfig{
		APIBase:     cfg.Provider.APIBase,
		APIKey:      cfg.Provider.APIKey,
		Model:       cfg.Provider.Model,
		MaxTokens:   cfg.Provider.MaxTokens,
		Temperature: cfg.Provider.Temperature,
		Timeout:     cfg.ProviderTimeout(),
	})
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("init provider: %w", err)
	}

	client, err := platform.NewClient(cfg.Platform.BaseURL, cfg.Platform.APIToken, cfg.RequestTimeout())
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("init platform client: %w", err)
	}

	registry := tools.NewRegistry()
	tools.RegisterPlatformTools(registry, client)

	return &deps{
		cfg:      cfg,
		store:    st,
		engine:   memory.NewEngine(st),
		provider: provider,
		client:   client,
		profiles: platform.NewProfileCache(client, cfg.ProfileCacheTTL()),
		registry: registry,
	}, nil
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Connect to the platform and serve events",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := bootstrap()
			if err != nil {
				return err
			}
			defer logger.Sync()
			defer d.store.Close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			// Identity check; also fills in the bot's own id/handle when the
			// config leaves them blank.
			if me, err := d.client.GetMe(ctx); err != nil {
				logger.WarnCF("main", "Could not verify platform identity", map[string]any{
					"error": err.Error(),
				})
			} else {
				logger.InfoCF("main", "Authenticated", map[string]any{
					"user_id": me.UserID,
					"handle":  me.Handle,
				})
				if d.cfg.Platform.BotUserID == "" {
					d.cfg.Platform.BotUserID = me.UserID
				}
				if d.cfg.Platform.BotHandle == "" {
					d.cfg.Platform.BotHandle = me.Handle
				}
			}

			orchestrator := d.newOrchestrator()

			eventBus := bus.NewEventBus()
			defer eventBus.Close()

			for _, kind := range []bus.EventKind{
				bus.KindMention, bus.KindReply, bus.KindDirectMessage, bus.KindGroupInvite,
			} {
				if err := eventBus.Subscribe(kind, orchestrator.HandleEvent); err != nil {
					return fmt.Errorf("subscribe %s: %w", kind, err)
				}
			}

			stream, err := platform.NewStream(platform.StreamConfig{
				URL:            d.cfg.Platform.StreamURL,
				Token:          d.cfg.Platform.APIToken,
				ReconnectDelay: d.cfg.ReconnectDelay(),
				MaxAttempts:    d.cfg.Stream.MaxReconnectAttempts,
			}, eventBus)
			if err != nil {
				return err
			}
			go stream.Run(ctx)

			sweeper := maintenance.NewSweeper(d.store, d.engine, maintenance.SweeperConfig{
				CronExpr:       d.cfg.Maintenance.SweepCron,
				DedupRetention: d.cfg.DedupRetention(),
				MaxMemories:    d.cfg.Memory.MaxPerUser,
				ProtectedScore: d.cfg.Memory.ProtectedImportance,
			})
			sweeper.Start(ctx)
			defer sweeper.Stop()

			logger.InfoCF("main", "Perch is up", map[string]any{
				"version": version,
				"store":   d.cfg.StorePath(),
			})

			select {
			case <-ctx.Done():
				logger.InfoC("main", "Shutdown signal received")
				return nil
			case <-stream.Done():
				if err := stream.Err(); err != nil && !errors.Is(err, context.Canceled) {
					return fmt.Errorf("stream stopped: %w", err)
				}
				return nil
			}
		},
	}
}

func consoleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "console",
		Short: "Talk to the agent locally without a platform connection",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := bootstrap()
			if err != nil {
				return err
			}
			defer logger.Sync()
			defer d.store.Close()

			orchestrator := d.newOrchestrator()

			rl, err := readline.New("you> ")
			if err != nil {
				return fmt.Errorf("init readline: %w", err)
			}
			defer rl.Close()

			userID := "console:" + uuid.NewString()
			fmt.Println("Perch console. Type 'help' for commands, 'exit' to quit.")

			ctx := context.Background()
			for {
				line, err := rl.Readline()
				if err != nil {
					if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
						return nil
					}
					return err
				}
				line = strings.TrimSpace(line)
				if line == "" {
					continue
				}
				if line == "exit" || line == "quit" {
					return nil
				}

				reply := orchestrator.HandleDirect(ctx, userID, line)
				if reply != "" {
					fmt.Println("perch>", reply)
				}
			}
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show configuration and store summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			_ = godotenv.Load()
			cfg, err := config.LoadConfig(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := logger.Init(cfg.LogLevel); err != nil {
				return fmt.Errorf("init logger: %w", err)
			}

			st, err := store.New(cfg.StorePath())
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer st.Close()

			users, err := st.ListUsersWithMemories(context.Background())
			if err != nil {
				return err
			}

			fmt.Printf("config:        %s\n", configPath)
			fmt.Printf("store:         %s\n", cfg.StorePath())
			fmt.Printf("model:         %s\n", cfg.Provider.Model)
			fmt.Printf("rate limit:    %d per %s\n", cfg.Rate.MaxPerWindow, cfg.RateWindow())
			fmt.Printf("memory cap:    %d per user (protected >= %d)\n",
				cfg.Memory.MaxPerUser, cfg.Memory.ProtectedImportance)
			fmt.Printf("users known:   %d\n", len(users))
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("perch", version)
		},
	}
}
