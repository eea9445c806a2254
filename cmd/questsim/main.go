// Command questsim runs a headless questing simulation: agents on a grid map
// take assignments from the quest graph, walk to them and complete or fail
// them, while assignment events stream to the configured sinks.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"questingbots.ai/internal/logging"
)

var (
	logLevel  string
	logFormat string
	logger    *zap.Logger

	runOpts runConfig
)

var rootCmd = &cobra.Command{
	Use:           "questsim",
	Short:         "Headless simulator for quest assignment and pathing",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		logger, err = logging.New(logging.Config{Level: logLevel, Format: logFormat})
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a simulation and print a summary",
	Long: `Run loads the tuning settings, quest definitions and map, discovers static
paths, spawns agents and ticks their objective controllers for the requested
number of ticks. Each tick advances simulated time by the update interval.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		sum, err := run(ctx, runOpts, logger)
		if err != nil {
			return err
		}
		return sum.Print(cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug|info|warn|error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "console", "log format (json|console)")

	f := runCmd.Flags()
	f.StringVar(&runOpts.SettingsPath, "settings", "", "path to tuning.yaml (defaults when empty)")
	f.StringVar(&runOpts.QuestsPath, "quests", "", "path to a quest definition file")
	f.StringVar(&runOpts.MapPath, "map", "", "path to a grid map ('.' open, '#' blocked); open 64x64 when empty")
	f.Float64Var(&runOpts.CellSize, "cell-size", 1, "world size of one map cell")
	f.IntVar(&runOpts.Agents, "agents", 8, "number of agents")
	f.IntVar(&runOpts.Ticks, "ticks", 3000, "number of ticks to simulate")
	f.Int64Var(&runOpts.Seed, "seed", 1337, "random seed")
	f.IntVar(&runOpts.Workers, "workers", runtime.GOMAXPROCS(0), "agents ticked in parallel (1 is fully deterministic)")
	f.Float64Var(&runOpts.Speed, "speed", 4, "walking speed in world units per second")
	f.IntVar(&runOpts.ChaserEvery, "chaser-every", 0, "add a chaser quest every N ticks (0 disables)")
	f.StringVar(&runOpts.EventsDir, "events-dir", "", "write assignment events as zstd JSONL under this directory")
	f.StringVar(&runOpts.IndexDB, "index-db", "", "index assignment events into this SQLite file")
	f.StringVar(&runOpts.Observe, "observe", "", "serve the live observer feed on this address (e.g. 127.0.0.1:8091)")
	f.StringVar(&runOpts.PathsCache, "paths-cache", "", "reuse or write discovered static paths at this file")
	_ = runCmd.MarkFlagRequired("quests")

	rootCmd.AddCommand(runCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
