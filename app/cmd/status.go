package cmd

import (
	"fmt"
	"os/exec"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true)
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	badStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	dimStyle    = lipgloss.NewStyle().Faint(true)
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show configured language servers and probe their binaries",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, headerStyle.Render("workspace"), workspaceFlag)
			fmt.Fprintln(out, headerStyle.Render("cache"), cacheSummary())
			fmt.Fprintln(out)

			if len(loadedConfig.Servers) == 0 {
				fmt.Fprintln(out, dimStyle.Render("no language servers configured"))
				return &noServersError{msg: "no language servers configured"}
			}

			available := 0
			for _, srv := range loadedConfig.Servers {
				mark := badStyle.Render("missing")
				if _, err := exec.LookPath(srv.Command[0]); err == nil {
					mark = okStyle.Render("ok")
					available++
				}
				fmt.Fprintf(out, "%-12s %-40s %s\n",
					mark,
					strings.Join(srv.Command, " "),
					dimStyle.Render("."+strings.Join(srv.Extensions, " .")))
			}
			if available == 0 {
				return &noServersError{msg: "no configured language server binary is installed"}
			}
			return nil
		},
	}
}

func cacheSummary() string {
	c := loadedConfig.Cache
	if !c.Enabled {
		return "disabled"
	}
	return fmt.Sprintf("enabled (ttl %ds, max %d bytes)", c.TTLSeconds, c.MaxSizeBytes)
}
