// Package cmd wires the mill command tree.
package cmd

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/pleme-io/typemill/config"
)

// Exit codes for one-shot invocations.
const (
	exitOK           = 0
	exitFailure      = 1
	exitBadConfig    = 2
	exitNoLspServers = 3
)

var (
	workspaceFlag string
	verboseFlag   bool

	loadedConfig *config.Config
)

// configError marks failures that should exit with the configuration code.
type configError struct{ err error }

func (e *configError) Error() string { return e.err.Error() }
func (e *configError) Unwrap() error { return e.err }

// noServersError marks a run where every language server was unavailable.
type noServersError struct{ msg string }

func (e *noServersError) Error() string { return e.msg }

// Execute is the CLI entry point.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		var cfgErr *configError
		var noSrv *noServersError
		switch {
		case errors.As(err, &cfgErr):
			os.Exit(exitBadConfig)
		case errors.As(err, &noSrv):
			os.Exit(exitNoLspServers)
		default:
			os.Exit(exitFailure)
		}
	}
	os.Exit(exitOK)
}

// NewRootCmd builds the cobra tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "mill",
		Short:         "MCP server bridging AI agents to language servers and workspace refactoring",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if workspaceFlag == "" {
				wd, err := os.Getwd()
				if err != nil {
					return err
				}
				workspaceFlag = wd
			}
			cfg, err := config.Load(workspaceFlag)
			if err != nil {
				return &configError{err: err}
			}
			loadedConfig = cfg

			level := slog.LevelInfo
			if verboseFlag {
				level = slog.LevelDebug
			}
			// MCP owns stdout; logging goes to stderr.
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
			return nil
		},
	}
	root.PersistentFlags().StringVar(&workspaceFlag, "workspace", "", "Workspace root (defaults to the current directory)")
	root.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "Debug logging")

	root.AddCommand(
		newServeCmd(),
		newStatusCmd(),
		newToolsCmd(),
	)
	return root
}
