package cli

import (
	"fmt"
	"os"
	"sort"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/agusx1211/liteagent/internal/detect"
	"github.com/agusx1211/liteagent/pkg/agent"
)

var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "List registered agent bindings and their availability",
	RunE: func(cmd *cobra.Command, args []string) error {
		executors := agent.All()
		names := make([]string, 0, len(executors))
		for name := range executors {
			names = append(names, name)
		}
		sort.Strings(names)

		tty := isatty.IsTerminal(os.Stdout.Fd())
		for _, name := range names {
			e := executors[name]
			status := e.CheckAvailability(cmd.Context())

			marker := statusMarker(status, tty)
			fmt.Printf("%s %-8s %-28s", marker, name, string(status.State))

			if status.IsAvailable() {
				if path, ok := detect.ResolveBinary(binaryFor(name), ""); ok {
					fmt.Printf(" %s (%s)", path, detect.DetectVersion(path))
				}
			} else if status.Reason != "" {
				fmt.Printf(" %s", status.Reason)
			}
			fmt.Println()

			for _, capability := range e.Capabilities() {
				fmt.Printf("    - %s\n", capability)
			}
		}
		return nil
	},
}

func statusMarker(status agent.AvailabilityStatus, tty bool) string {
	if !tty {
		if status.IsAvailable() {
			return "[ok]"
		}
		return "[--]"
	}
	if status.IsAvailable() {
		return colorGreen + "●" + colorReset
	}
	return colorRed + "●" + colorReset
}

func binaryFor(agentType string) string {
	switch agentType {
	case "cursor":
		return "cursor-agent"
	default:
		return agentType
	}
}
