package cmd

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pleme-io/typemill/adapters"
	"github.com/pleme-io/typemill/cache"
	"github.com/pleme-io/typemill/config"
	"github.com/pleme-io/typemill/fileops"
	"github.com/pleme-io/typemill/lspmux"
	"github.com/pleme-io/typemill/mcp"
	"github.com/pleme-io/typemill/refactor"
	"github.com/pleme-io/typemill/workspace"
)

func newServeCmd() *cobra.Command {
	var watch bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve MCP over stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, workspaceFlag, loadedConfig, watch)
		},
	}
	cmd.Flags().BoolVar(&watch, "watch", true, "Watch the workspace for external file changes")
	return cmd
}

// runServe assembles the component graph and blocks until the client
// disconnects. The workspace event bus is the only channel between the file
// service and the consumers that react to its writes.
func runServe(ctx context.Context, workspaceDir string, cfg *config.Config, watch bool) error {
	logger := slog.Default()
	root, err := workspace.NewRoot(workspaceDir)
	if err != nil {
		return err
	}
	presets, err := config.LoadPresets(root.Path())
	if err != nil {
		return &configError{err: err}
	}

	bus := workspace.NewBus()
	files := fileops.NewService(root, bus, logger)
	lsp := lspmux.NewRegistry(cfg, root, files.Read, logger)
	defer lsp.Shutdown(context.Background())
	bus.Subscribe(lsp.HandleChanges)

	store, err := cache.Open(root, cfg.Cache, logger)
	if err != nil {
		return &configError{err: err}
	}
	if store != nil {
		defer store.Close()
		bus.Subscribe(store.HandleChanges)
	}

	if watch {
		watcher, err := workspace.NewWatcher(root, bus, logger)
		if err != nil {
			logger.Warn("workspace watcher disabled", "error", err)
		} else {
			go watcher.Run(ctx)
		}
	}

	parserSet := adapters.NewRegistry()
	engine := refactor.NewEngine(lsp, files, parserSet, presets, logger)
	registry := mcp.BuildRegistry(&mcp.Toolset{
		Root:     root,
		LSP:      lsp,
		Files:    files,
		Engine:   engine,
		Adapters: parserSet,
		Cache:    store,
		Logger:   logger,
	})
	dispatcher := mcp.NewDispatcher(registry, nil, logger)

	logger.Info("serving MCP on stdio",
		"workspace", root.Path(),
		"servers", len(cfg.Servers),
		"cache", cfg.Cache.Enabled)
	return mcp.NewServer(dispatcher).ServeStdio(ctx)
}
