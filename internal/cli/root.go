// Package cli implements the liteagent command tree. It is a thin consumer
// of the library's public contracts; everything interesting happens in
// pkg/agent and friends.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/agusx1211/liteagent/internal/buildinfo"
	"github.com/agusx1211/liteagent/internal/debug"
	"github.com/agusx1211/liteagent/pkg/agent"
	"github.com/agusx1211/liteagent/pkg/agents/claude"
	"github.com/agusx1211/liteagent/pkg/agents/cursor"
)

const (
	// ANSI color codes
	colorReset  = "\033[0m"
	colorBold   = "\033[1m"
	colorDim    = "\033[2m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"

	styleBoldWhite = "\033[1;37m"
)

var debugFlag bool

var rootCmd = &cobra.Command{
	Use:   "liteagent",
	Short: "Supervise coding-assistant CLIs",
	Long: colorBold + `liteagent` + colorReset + ` ` + buildinfo.Current().Version + `

Run coding-assistant CLIs (Claude Code, Cursor Agent) under one supervision
interface: isolated workspaces, normalized event streams, permission
mediation, and session continuity.

` + colorBold + `Getting Started:` + colorReset + `
  liteagent run --agent claude "fix the failing test"
  liteagent run --agent cursor --force "print hi"
  liteagent agents                List detected agent CLIs

` + colorBold + `Supported Agents:` + colorReset + `
  claude, cursor`,

	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if debugFlag || debug.ShouldEnableFromEnv() {
			if _, err := debug.Init(); err != nil {
				return err
			}
		}
		registerExecutors()
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// registerExecutors populates the global registry with the built-in
// bindings. The run command does not use the registered claude entry: it
// builds its own claude executor with an interactive approval service.
func registerExecutors() {
	agent.Register(claude.New())
	agent.Register(cursor.New())
}

// Execute runs the command tree.
func Execute() {
	defer debug.Close()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%serror:%s %v\n", colorRed, colorReset, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&debugFlag, "debug", false, "write a verbose debug log under ~/.liteagent/debug/")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(agentsCmd)
	rootCmd.AddCommand(versionCmd)
}
