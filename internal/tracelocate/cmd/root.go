package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	pathpkg "path/filepath"
	"runtime/pprof"

	"github.com/charmbracelet/fang"
	"github.com/charmbracelet/x/term"
	"github.com/spf13/cobra"

	"tracelocate/internal/analysis"
	"tracelocate/internal/trace"
	"tracelocate/internal/tracelocate/log"
	"tracelocate/internal/workspace"
)

func init() {
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "Debug")
	rootCmd.PersistentFlags().String("log-file", "", "Write logs to a file instead of stderr")

	rootCmd.Flags().BoolP("help", "h", false, "Help")
	rootCmd.Flags().IntP("jobs", "j", 1, "Number of images analyzed in parallel")
	rootCmd.Flags().BoolP("dry-run", "n", false, "Print trace addresses instead of appending them")
	rootCmd.Flags().BoolP("quiet", "q", false, "Suppress the scan summary")
	rootCmd.Flags().String("cpuprofile", "", "Write CPU profile to file")
	rootCmd.Flags().String("memprofile", "", "Write memory profile to file")

	rootCmd.AddCommand(viewCmd)
	rootCmd.AddCommand(dumpCmd)
}

var rootCmd = &cobra.Command{
	Use:   "tracelocate [memory-dir]",
	Short: "Extract trace addresses from a memory dump",
	Long: `Tracelocate scans the executable mappings of a memory dump and records
trace addresses: the start of every basic block plus the return address
of every call. The addresses are appended to the workspace trace list
for downstream lifting.`,
	Example: `
# Scan a workspace's memory directory
tracelocate /path/to/workspace/memory

# Scan eight images at a time, with debug logging
tracelocate -d -j 8 /path/to/workspace/memory
  `,
	Args: cobra.MaximumNArgs(1),
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		debug, _ := cmd.Flags().GetBool("debug")
		logFile, _ := cmd.Flags().GetString("log-file")
		if debug {
			// The library-level loggers read the environment.
			os.Setenv("TRACELOCATE_LOG_LEVEL", "debug")
		}
		log.Setup(logFile, debug)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		// Setup CPU profiling if requested
		cpuprofile, _ := cmd.Flags().GetString("cpuprofile")
		if cpuprofile != "" {
			f, err := os.Create(cpuprofile)
			if err != nil {
				return fmt.Errorf("could not create CPU profile: %v", err)
			}
			defer f.Close()
			if err := pprof.StartCPUProfile(f); err != nil {
				return fmt.Errorf("could not start CPU profile: %v", err)
			}
			defer pprof.StopCPUProfile()
		}

		// Setup memory profiling if requested
		memprofile, _ := cmd.Flags().GetString("memprofile")
		if memprofile != "" {
			defer func() {
				f, err := os.Create(memprofile)
				if err != nil {
					fmt.Fprintf(os.Stderr, "could not create memory profile: %v\n", err)
					return
				}
				defer f.Close()
				if err := pprof.WriteHeapProfile(f); err != nil {
					fmt.Fprintf(os.Stderr, "could not write memory profile: %v\n", err)
				}
			}()
		}

		if len(args) < 1 {
			return fmt.Errorf("usage: tracelocate <memory-dir>")
		}

		memoryDir, err := pathpkg.Abs(args[0])
		if err != nil {
			return fmt.Errorf("failed to resolve path: %v", err)
		}

		fi, err := os.Stat(memoryDir)
		if err != nil {
			if os.IsNotExist(err) {
				return fmt.Errorf("memory directory not found: %s", args[0])
			}
			return fmt.Errorf("cannot access memory directory: %v", err)
		}
		if !fi.IsDir() {
			return fmt.Errorf("not a directory: %s", args[0])
		}

		jobs, _ := cmd.Flags().GetInt("jobs")
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		quiet, _ := cmd.Flags().GetBool("quiet")

		return runScan(cmd.Context(), memoryDir, jobs, dryRun, quiet)
	},
}

// runScan is the batch path: list the mappings, extract traces from
// every executable one and append the result to the trace list.
func runScan(ctx context.Context, memoryDir string, jobs int, dryRun, quiet bool) error {
	mappings, err := workspace.List(memoryDir)
	if err != nil {
		return err
	}

	results, err := trace.Scan(ctx, analysis.NewELFEngine(), mappings, jobs)
	if err != nil {
		return err
	}
	traces := trace.Flatten(results)

	slog.Debug("scan finished",
		"mappings", len(mappings),
		"scanned", len(results),
		"traces", len(traces))

	if dryRun {
		for _, t := range traces {
			fmt.Printf("0x%x\n", t)
		}
		return nil
	}

	listPath := workspace.TraceListPath(memoryDir)
	if err := trace.AppendFile(listPath, traces); err != nil {
		return err
	}

	if !quiet {
		fmt.Printf("Scanned %d of %d mappings\n", len(results), len(mappings))
		fmt.Printf("Appended %d trace addresses to %s\n", len(traces), listPath)
	}
	return nil
}

func Execute() {
	// Check if --no-tui, --json or --dry-run is present, or if output is
	// being piped, to bypass fang's markdown rendering
	plain := false
	for _, arg := range os.Args[1:] {
		if arg == "--no-tui" || arg == "--json" || arg == "--dry-run" || arg == "-n" {
			plain = true
			break
		}
	}

	// Also bypass fang when output is being piped
	if !plain && !term.IsTerminal(os.Stdout.Fd()) {
		plain = true
	}

	if plain {
		// Use cobra directly to avoid fang's automatic markdown rendering
		if err := rootCmd.Execute(); err != nil {
			os.Exit(1)
		}
	} else {
		// Use fang for enhanced CLI experience with markdown rendering
		if err := fang.Execute(
			context.Background(),
			rootCmd,
			fang.WithNotifySignal(os.Interrupt),
		); err != nil {
			os.Exit(1)
		}
	}
}
