// Package cmd provides the command-line interface for Tinix.
package cmd

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/FanTuani/tinix/kernel"
	"github.com/FanTuani/tinix/monitoring"
	"github.com/FanTuani/tinix/shell"
)

var (
	diskPath    string
	numFrames   int
	monitorPort int
	recordName  string
	record      bool
	scriptPath  string
)

// rootCmd represents the base command when called without any
// subcommands.
var rootCmd = &cobra.Command{
	Use: "tinix",
	Short: "Tinix is a user-space teaching simulator of classic " +
		"operating-system mechanisms.",
	Long: `Tinix is a user-space teaching simulator of classic ` +
		`operating-system mechanisms: round-robin scheduling, demand ` +
		`paging with Clock replacement and swap, an on-disk file system, ` +
		`and device queues, all driven one pseudo-instruction per tick ` +
		`from an interactive shell.`,
	RunE: runSimulator,
}

// Execute runs the root command and exits with status 1 when it
// returns an error.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	// A .env file can pre-set the TINIX_* variables; flags win.
	_ = godotenv.Load()

	rootCmd.Flags().StringVar(&diskPath, "disk",
		envOr("TINIX_DISK", "disk.img"),
		"path of the disk image backing the simulator")
	rootCmd.Flags().IntVar(&numFrames, "frames",
		envIntOr("TINIX_FRAMES", 8),
		"number of physical page frames")
	rootCmd.Flags().IntVar(&monitorPort, "monitor",
		envIntOr("TINIX_MONITOR_PORT", -1),
		"start the monitoring server on this port (0 picks one)")
	rootCmd.Flags().BoolVar(&record, "record",
		os.Getenv("TINIX_RECORD") != "",
		"record execution traces into a SQLite database")
	rootCmd.Flags().StringVar(&recordName, "record-name", "",
		"name of the trace database (default: generated)")
	rootCmd.Flags().StringVar(&scriptPath, "script", "",
		"run a shell batch script before entering the REPL")
}

func runSimulator(_ *cobra.Command, _ []string) error {
	builder := kernel.MakeBuilder().
		WithDiskPath(diskPath).
		WithNumFrames(numFrames)
	if record {
		builder = builder.WithRecording(recordName)
	}

	k, err := builder.Build()
	if err != nil {
		return fmt.Errorf("boot kernel: %w", err)
	}
	defer k.Shutdown()

	if monitorPort >= 0 {
		monitor := monitoring.NewMonitor().WithPortNumber(monitorPort)
		monitor.RegisterTicker(k)
		monitor.RegisterProcessLister(k.Processes())
		for _, c := range k.Components() {
			monitor.RegisterComponent(c)
		}
		monitor.StartServer()
	}

	sh := shell.New(k)
	if scriptPath != "" {
		sh.RunScript(scriptPath)
	}
	sh.Run()

	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}

	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}

	return n
}
