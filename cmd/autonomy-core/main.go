// Command autonomy-core runs the fabrication lab's autonomous work
// orchestration core: it identifies candidate goals, scores and
// schedules them, carries approved work through a distributed-locked
// task executor, and measures outcomes thirty days out.
package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "autonomy-core",
	Short: "Autonomous work orchestration core for the fabrication lab",
	Long: `autonomy-core identifies opportunities for autonomous improvement
work, scores and approves them against an experience-weighted feedback
loop, and executes approved projects under a budget- and idle-aware
resource gate.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to the TOML config file (optional; env vars and defaults still apply)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		slog.Error("autonomy-core.fatal", "error", err)
		os.Exit(1)
	}
}
