package main

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/ggoodman/mcp-coffee-shop/coffeeshop"
	"github.com/ggoodman/mcp-coffee-shop/internal/config"
	"github.com/ggoodman/mcp-coffee-shop/internal/logctx"
	"github.com/ggoodman/mcp-coffee-shop/mcpservice"
	"github.com/ggoodman/mcp-coffee-shop/stdio"
)

type rootFlags struct {
	envFile         string
	menu            string
	logLevel        string
	logFormat       string
	sequential      bool
	maxMessageBytes int
}

func newRootCommand() *cobra.Command {
	var f rootFlags
	cmd := &cobra.Command{
		Use:           "mcp-coffee-shop",
		Short:         "MCP stdio server that lets a model order coffee",
		Long:          "mcp-coffee-shop speaks the Model Context Protocol over stdin/stdout and exposes a single tool, order_coffee. Settings come from COFFEE_* environment variables, an optional .env file and flags, in increasing precedence.",
		Args:          cobra.NoArgs,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(f.envFile)
			if err != nil {
				return err
			}
			applyFlags(cmd, f, &cfg)
			if err := cfg.Validate(); err != nil {
				return err
			}
			return run(cmd.Context(), cfg, cmd.ErrOrStderr())
		},
	}

	fl := cmd.Flags()
	fl.StringVar(&f.envFile, "env-file", config.DefaultEnvFile, "dotenv file to load before reading the environment")
	fl.StringVar(&f.menu, "menu", "", "YAML menu file (default: built-in menu)")
	fl.StringVar(&f.logLevel, "log-level", "", "log level: debug, info, warn or error")
	fl.StringVar(&f.logFormat, "log-format", "", "log format: text or json")
	fl.BoolVar(&f.sequential, "sequential", false, "process one message at a time")
	fl.IntVar(&f.maxMessageBytes, "max-message-bytes", 0, "maximum size of one inbound message")
	return cmd
}

// applyFlags overrides cfg with every flag set on the command line.
func applyFlags(cmd *cobra.Command, f rootFlags, cfg *config.Config) {
	fl := cmd.Flags()
	if fl.Changed("menu") {
		cfg.MenuFile = f.menu
	}
	if fl.Changed("log-level") {
		cfg.LogLevel = f.logLevel
	}
	if fl.Changed("log-format") {
		cfg.LogFormat = f.logFormat
	}
	if fl.Changed("sequential") {
		cfg.Sequential = f.sequential
	}
	if fl.Changed("max-message-bytes") {
		cfg.MaxMessageBytes = f.maxMessageBytes
	}
}

func newLogger(cfg config.Config, w io.Writer, lv *slog.LevelVar) *slog.Logger {
	opts := &slog.HandlerOptions{Level: lv}
	var h slog.Handler
	if cfg.JSONLogs() {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	return slog.New(logctx.Handler{Handler: h})
}

func loadMenu(cfg config.Config) (*coffeeshop.Menu, error) {
	data := coffeeshop.DefaultMenuData()
	if cfg.MenuFile != "" {
		var err error
		if data, err = coffeeshop.LoadMenuFile(cfg.MenuFile); err != nil {
			return nil, err
		}
	}
	return coffeeshop.NewMenu(data)
}

func newServer(cfg config.Config, tools *mcpservice.ToolsContainer, lv *slog.LevelVar) mcpservice.ServerCapabilities {
	opts := []mcpservice.ServerOption{
		mcpservice.WithServerInfo(mcpservice.StaticServerInfo(cfg.ServerName, version, mcpservice.WithServerInfoTitle("Coffee Shop"))),
		mcpservice.WithToolsCapability(tools),
		mcpservice.WithLoggingCapability(mcpservice.NewSlogLevelVarLogging(lv)),
	}
	if cfg.Instructions != "" {
		opts = append(opts, mcpservice.WithInstructions(mcpservice.StaticInstructions(cfg.Instructions)))
	}
	return mcpservice.NewServer(opts...)
}

// run serves one stdio session. A clean end of input and a signal-driven
// shutdown both return nil.
func run(ctx context.Context, cfg config.Config, logOut io.Writer) error {
	level, err := cfg.SlogLevel()
	if err != nil {
		return err
	}
	lv := new(slog.LevelVar)
	lv.Set(level)
	log := newLogger(cfg, logOut, lv)
	slog.SetDefault(log)

	menu, err := loadMenu(cfg)
	if err != nil {
		return fmt.Errorf("load menu: %w", err)
	}
	defer menu.Close()

	tools, err := mcpservice.NewToolsContainer(coffeeshop.OrderCoffeeTool(menu, coffeeshop.WithLogger(log)))
	if err != nil {
		return fmt.Errorf("register tools: %w", err)
	}
	defer tools.Close()

	if cfg.MenuFile != "" && cfg.WatchMenu {
		coffeeshop.KeepOrderToolCurrent(ctx, menu, tools, coffeeshop.WithLogger(log))
		if err := coffeeshop.WatchMenu(ctx, menu, cfg.MenuFile, coffeeshop.WithWatchLogger(log)); err != nil {
			return fmt.Errorf("watch menu: %w", err)
		}
	}

	h := stdio.NewHandler(newServer(cfg, tools, lv),
		stdio.WithIO(os.Stdin, os.Stdout),
		stdio.WithLogger(log),
		stdio.WithSequential(cfg.Sequential),
		stdio.WithMaxMessageBytes(cfg.MaxMessageBytes),
	)

	log.InfoContext(ctx, "coffeeshop.start",
		slog.String("version", version),
		slog.String("menu", cmp.Or(cfg.MenuFile, "built-in")),
		slog.Bool("sequential", cfg.Sequential))

	err = h.Serve(ctx)
	if errors.Is(err, context.Canceled) {
		log.InfoContext(ctx, "coffeeshop.shutdown", slog.String("reason", "signal"))
		return nil
	}
	return err
}
