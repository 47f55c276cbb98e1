package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/kalambet/parley/internal/api"
	"github.com/kalambet/parley/internal/config"
	"github.com/kalambet/parley/internal/registry"
	"github.com/kalambet/parley/internal/storage"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Run as an MCP server (stdio transport)",
	Long: `Run as an MCP server over stdio, exposing the ask_user tool. A connected
agent calls ask_user with a question set; parley serves the form, waits for
the human operator, and returns the answers as the tool result.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMCP()
	},
}

func runMCP() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setupLogging(cfg)

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			slog.Warn("closing storage", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := registry.New(cfg.RegistryPath())
	reg.SetPruneThreshold(cfg.Timeouts.PruneAfter)

	mcpSrv := api.NewMCPServer(api.MCPDeps{
		Runner:   &interviewRunner{cfg: cfg, store: store, openBrowser: cfg.Server.OpenBrowser},
		Sessions: reg,
	})

	slog.Info("MCP server started (stdio transport)")
	stdioSrv := server.NewStdioServer(mcpSrv)
	if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("MCP stdio server: %w", err)
	}
	return nil
}
