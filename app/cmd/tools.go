package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/pleme-io/typemill/adapters"
	"github.com/pleme-io/typemill/config"
	"github.com/pleme-io/typemill/fileops"
	"github.com/pleme-io/typemill/lspmux"
	"github.com/pleme-io/typemill/mcp"
	"github.com/pleme-io/typemill/refactor"
	"github.com/pleme-io/typemill/workspace"
)

func newToolsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "List the MCP tools this server exposes",
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := workspace.NewRoot(workspaceFlag)
			if err != nil {
				return err
			}
			files := fileops.NewService(root, workspace.NewBus(), slog.Default())
			lsp := lspmux.NewRegistry(loadedConfig, root, files.Read, slog.Default())
			defer lsp.Shutdown(context.Background())
			engine := refactor.NewEngine(lsp, files, adapters.NewRegistry(), &config.Presets{}, slog.Default())

			registry := mcp.BuildRegistry(&mcp.Toolset{
				Root:   root,
				LSP:    lsp,
				Files:  files,
				Engine: engine,
			})
			for _, def := range registry.List(true) {
				marker := ""
				if def.Internal {
					marker = dimStyle.Render(" (internal)")
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s%s\n  %s\n", headerStyle.Render(def.Name), marker, dimStyle.Render(def.Description))
			}
			return nil
		},
	}
}
