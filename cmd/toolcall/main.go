package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"toolcall/internal/capability"
	"toolcall/internal/command"
	"toolcall/internal/conversation"
	"toolcall/internal/dispatch"
	"toolcall/internal/engine"
	"toolcall/internal/history"
	"toolcall/internal/logger"
	"toolcall/internal/tui"
)

var version = "0.1.0"

type config struct {
	model       string
	ollamaURL   string
	dbPath      string
	maxTurns    int
	maxTokens   int
	temperature float64
	debug       bool
}

func (c *config) streamOptions() []engine.StreamOption {
	opts := []engine.StreamOption{engine.WithTemperature(c.temperature)}
	if c.maxTokens > 0 {
		opts = append(opts, engine.WithMaxTokens(c.maxTokens))
	}
	return opts
}

func main() {
	var cfg config
	root := &cobra.Command{
		Use:     "toolcall",
		Short:   "Chat with a local model that can call on-device tools",
		Version: version,
	}
	// flags override the environment, the environment overrides the defaults
	root.PersistentFlags().StringVar(&cfg.model, "model", envOr("TOOLCALL_MODEL", "llama3.1:8b"), "ollama model to use")
	root.PersistentFlags().StringVar(&cfg.ollamaURL, "ollama-url", envOr("TOOLCALL_OLLAMA_URL", "http://localhost:11434"), "base URL of the ollama server")
	root.PersistentFlags().StringVar(&cfg.dbPath, "db", os.Getenv("TOOLCALL_DB"), "path to the history database (default: ~/.toolcall/history.db)")
	root.PersistentFlags().IntVar(&cfg.maxTurns, "max-turns", 8, "maximum generations per user message")
	root.PersistentFlags().IntVar(&cfg.maxTokens, "max-tokens", 0, "cap tokens per generation (0 = model default)")
	root.PersistentFlags().Float64Var(&cfg.temperature, "temperature", 1.0, "sampling temperature")
	root.PersistentFlags().BoolVar(&cfg.debug, "debug", os.Getenv("DEBUG") == "1" || os.Getenv("DEBUG") == "true", "write a debug log under ~/.toolcall/logs")
	root.AddCommand(chatCmd(&cfg))
	root.AddCommand(askCmd(&cfg))
	root.AddCommand(historyCmd(&cfg))
	root.AddCommand(doctorCmd(&cfg))
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func (c *config) databasePath() (string, error) {
	if c.dbPath != "" {
		return c.dbPath, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot resolve home directory: %w", err)
	}
	return filepath.Join(home, ".toolcall", "history.db"), nil
}

// setupLogger returns a no-op logger unless --debug is set, in which case it
// logs to a timestamped file. The TUI owns the terminal, so nothing may write
// to stderr while it runs.
func setupLogger(cfg *config) (logger.Logger, func(), error) {
	if !cfg.debug {
		return logger.NoOp(), func() {}, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, nil, err
	}
	dir := filepath.Join(home, ".toolcall", "logs")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, nil, fmt.Errorf("cannot create log directory: %w", err)
	}
	path := filepath.Join(dir, time.Now().Format("2006-01-02T15:04:05")+".log")
	log, closer, err := logger.NewFile(path)
	if err != nil {
		return nil, nil, err
	}
	log.SetLevel("debug")
	cleanup := func() {
		closer.Close() //nolint:errcheck
	}
	return log, cleanup, nil
}

// buildRegistry wires every known tool to its capability provider. The
// resulting registry is the closed set shared by the decoder and the
// dispatcher.
func buildRegistry(log logger.Logger) (*dispatch.Registry, error) {
	weather := capability.NewWeather().SetLogger(log)
	search := capability.NewSearch().SetLogger(log)
	device := capability.NewDevice().SetLogger(log)
	handlers := map[string]dispatch.Handler{
		"get_weather_data":    weather.Handle,
		"search_duckduckgo":   search.Handle,
		"get_calendar_events": device.CalendarEvents,
		"get_contacts":        device.Contacts,
		"get_location":        device.Location,
		"play_music":          device.PlayMusic,
		"get_health_summary":  device.HealthSummary,
	}
	registry := dispatch.NewRegistry().SetLogger(log)
	for _, spec := range command.AllSpecs() {
		handler, ok := handlers[spec.Tool]
		if !ok {
			return nil, fmt.Errorf("no capability provider for tool %s", spec.Tool)
		}
		if err := registry.Register(spec, handler); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

func chatCmd(cfg *config) *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat session",
		RunE: func(cmd *cobra.Command, args []string) error {
			log, closeLog, err := setupLogger(cfg)
			if err != nil {
				return err
			}
			defer closeLog()
			dbPath, err := cfg.databasePath()
			if err != nil {
				return err
			}
			store, err := history.Open(dbPath, log)
			if err != nil {
				return err
			}
			defer store.Close() //nolint:errcheck
			id := history.NewID()
			if err := store.CreateConversation(cmd.Context(), id, cfg.model); err != nil {
				return err
			}
			eng := engine.NewOllama(log, cfg.model, engine.WithBaseURL(cfg.ollamaURL))
			registry, err := buildRegistry(log)
			if err != nil {
				return err
			}
			conv := conversation.New(log, eng, registry,
				conversation.WithTranscript(store, id),
				conversation.WithMaxTurns(cfg.maxTurns),
				conversation.WithStreamOptions(cfg.streamOptions()...),
			)
			model := tui.Initial(log, conv, eng.Model())
			program := tea.NewProgram(model, tea.WithAltScreen())
			if _, err := program.Run(); err != nil {
				return fmt.Errorf("error running program: %v", err)
			}
			return nil
		},
	}
}

func askCmd(cfg *config) *cobra.Command {
	return &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask a single question and print the answer",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log, closeLog, err := setupLogger(cfg)
			if err != nil {
				return err
			}
			defer closeLog()
			eng := engine.NewOllama(log, cfg.model, engine.WithBaseURL(cfg.ollamaURL))
			registry, err := buildRegistry(log)
			if err != nil {
				return err
			}
			conv := conversation.New(log, eng, registry,
				conversation.WithMaxTurns(cfg.maxTurns),
				conversation.WithStreamOptions(cfg.streamOptions()...),
			)
			subscription, unsubscribe := conv.Subscribe()
			defer unsubscribe()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			conv.Send(ctx, strings.Join(args, " "))

			var runErr error
			for event := range subscription {
				switch e := event.(type) {
				case *conversation.ToolCallEvent:
					bullet := color.New(color.FgYellow).Sprint("●")
					if e.Err != nil {
						bullet = color.New(color.FgRed).Sprint("●")
					}
					name := e.Tool
					if name == "" {
						name = "tool call"
					}
					fmt.Fprintln(os.Stderr, bullet+color.New(color.Bold).Sprintf(" %s", name))
				case *conversation.ErrorEvent:
					if !errors.Is(e.Err, context.Canceled) {
						runErr = e.Err
					}
				}
				if !conv.Running() {
					break
				}
			}
			if runErr != nil {
				return runErr
			}
			messages, usage := conv.GetState()
			for _, msg := range messages {
				if msg.Role == engine.RoleAssistant && msg.Content != "" {
					fmt.Println(strings.TrimSpace(msg.Content))
				}
			}
			fmt.Fprintln(os.Stderr, color.New(color.Faint).Sprintf("(%s, tokens: %d)",
				eng.Model(), usage.PromptTokens+usage.CompletionTokens))
			return nil
		},
	}
}

func historyCmd(cfg *config) *cobra.Command {
	return &cobra.Command{
		Use:   "history [conversation-id]",
		Short: "List past conversations, or show one transcript",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dbPath, err := cfg.databasePath()
			if err != nil {
				return err
			}
			store, err := history.Open(dbPath, logger.NoOp())
			if err != nil {
				return err
			}
			defer store.Close() //nolint:errcheck
			if len(args) == 1 {
				messages, err := store.Messages(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				for _, msg := range messages {
					role := string(msg.Role)
					if msg.Tool != "" {
						role += " (" + msg.Tool + ")"
					}
					fmt.Printf("%s %s\n", color.New(color.Faint).Sprintf("[%s]", role), msg.Content)
				}
				return nil
			}
			conversations, err := store.ListConversations(cmd.Context())
			if err != nil {
				return err
			}
			if len(conversations) == 0 {
				fmt.Println("no conversations yet")
				return nil
			}
			for _, c := range conversations {
				fmt.Printf("%s  %-16s %s\n", c.ID, c.Model, c.UpdatedAt.Format("2006-01-02 15:04"))
			}
			return nil
		},
	}
}

func doctorCmd(cfg *config) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check that ollama, the database, and the tool registry are usable",
		RunE: func(cmd *cobra.Command, args []string) error {
			pass := color.New(color.FgGreen).Sprint("[pass]")
			fail := color.New(color.FgRed).Sprint("[fail]")
			failed := 0

			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
			defer cancel()
			eng := engine.NewOllama(logger.NoOp(), cfg.model, engine.WithBaseURL(cfg.ollamaURL))
			if err := eng.Healthy(ctx); err != nil {
				fmt.Printf("%s ollama: %v\n", fail, err)
				failed++
			} else {
				fmt.Printf("%s ollama: reachable at %s\n", pass, cfg.ollamaURL)
			}

			dbPath, err := cfg.databasePath()
			if err != nil {
				return err
			}
			if store, err := history.Open(dbPath, logger.NoOp()); err != nil {
				fmt.Printf("%s database: %v\n", fail, err)
				failed++
			} else {
				store.Close() //nolint:errcheck
				fmt.Printf("%s database: %s\n", pass, dbPath)
			}

			if registry, err := buildRegistry(logger.NoOp()); err != nil {
				fmt.Printf("%s tools: %v\n", fail, err)
				failed++
			} else {
				names := make([]string, 0)
				for _, spec := range registry.Specs() {
					names = append(names, spec.Tool)
				}
				fmt.Printf("%s tools: %s\n", pass, strings.Join(names, ", "))
			}

			if failed > 0 {
				return fmt.Errorf("%d check(s) failed", failed)
			}
			return nil
		},
	}
}
