package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sidesync/sidesync/internal/datasync"
	"github.com/sidesync/sidesync/internal/loadtest"
	"github.com/sidesync/sidesync/internal/provider"
	"github.com/sidesync/sidesync/internal/ui"
	"github.com/sidesync/sidesync/internal/webserver"
)

var loadtestCmd = &cobra.Command{
	Use:     "loadtest",
	GroupID: "maint",
	Short:   "Run a synchronization load test",
	Long: `Run concurrent writers and HTTP readers against a sandboxed stack
and report latency percentiles.

The test builds its own json-backed store and coordinator in a
temporary directory, so the configured storage is never touched. When
the scenario has readers, a server is started over the sandbox and the
readers poll the document over HTTP, exactly as a browser page would.

After the run the document version is checked against the number of
successful writes: every save must have bumped it by exactly one. A
failed check exits non-zero.

Scenarios are YAML:

  name: burst
  writers: 8
  updates_per_writer: 50
  readers: 4
  poll_interval_ms: 25

Example usage:
  sidesync loadtest                          # Default scenario
  sidesync loadtest --scenario burst.yaml
  sidesync loadtest --json`,
	Run: runLoadtest,
}

func init() {
	loadtestCmd.Flags().String("scenario", "", "Path to a YAML scenario file")
	loadtestCmd.Flags().Bool("json", false, "Output results as JSON")
	rootCmd.AddCommand(loadtestCmd)
}

func runLoadtest(cmd *cobra.Command, args []string) {
	cfg := mustLoadConfig(cmd)

	scenarioPath, _ := cmd.Flags().GetString("scenario")
	jsonOutput, _ := cmd.Flags().GetBool("json")

	scenario := loadtest.DefaultScenario()
	if scenarioPath != "" {
		var err error
		if scenario, err = loadtest.LoadScenario(scenarioPath); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	}

	workDir, err := os.MkdirTemp("", "sidesync-loadtest-*")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer os.RemoveAll(workDir)

	store, err := provider.New(provider.KindJSON, provider.Settings{
		Path:   filepath.Join(workDir, "data", "sync.json"),
		Logger: quietLogger(),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to open sandbox storage: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	mgr, err := datasync.New(datasync.Config{
		Provider: store,
		Retry:    retryPolicy(cfg),
		Logger:   quietLogger(),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to start coordinator: %v\n", err)
		os.Exit(1)
	}
	defer mgr.Close()

	ltCfg := loadtest.Config{
		Manager:  mgr,
		Provider: store,
		Logger:   log.New(os.Stderr, "[loadtest] ", log.LstdFlags),
	}
	if jsonOutput {
		ltCfg.Logger = quietLogger()
	}

	if scenario.Readers > 0 {
		srvCfg := serverConfig(cfg, quietLogger(), nil)
		srvCfg.Dir = workDir
		srvCfg.Events = false
		srv, err := webserver.New(srvCfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		url, err := srv.Start()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer srv.Stop()
		ltCfg.URL = url
	}

	if !jsonOutput {
		fmt.Printf("%s Running scenario %q\n", ui.RenderAccent("🔄"), scenario.Name)
		fmt.Printf("   Writers: %d x %d updates\n", scenario.Writers, scenario.UpdatesPerWriter)
		if scenario.Readers > 0 {
			fmt.Printf("   Readers: %d polling every %s\n", scenario.Readers, scenario.PollInterval())
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, err := loadtest.Run(ctx, ltCfg, scenario)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if jsonOutput {
		outputLoadtestJSON(result)
	} else {
		printLoadtest(result)
	}
	if !result.VersionOK() {
		os.Exit(1)
	}
}

func printLoadtest(result *loadtest.Result) {
	printLatency("WRITES", result.Writes)
	if result.Reads.Count > 0 || result.Reads.Errors > 0 {
		printLatency("READS", result.Reads)
	}

	fmt.Printf("\nDuration: %s\n", result.Elapsed.Round(time.Millisecond))
	if result.VersionOK() {
		fmt.Printf("%s Version check passed: %d -> %d\n",
			ui.RenderPass("✓"), result.InitialVersion, result.FinalVersion)
	} else {
		fmt.Printf("%s Version check FAILED: final version %d, want %d\n",
			ui.RenderFail("✗"), result.FinalVersion, result.ExpectedVersion)
	}
}

func printLatency(title string, s loadtest.LatencyStats) {
	fmt.Printf("\n=== %s ===\n", title)
	fmt.Printf("Operations: %d\n", s.Count)
	fmt.Printf("Errors: %d\n", s.Errors)
	if s.Count == 0 {
		return
	}
	fmt.Printf("Min: %s\n", s.Min.Round(time.Microsecond))
	fmt.Printf("Mean: %s\n", s.Mean.Round(time.Microsecond))
	fmt.Printf("P50: %s\n", s.P50.Round(time.Microsecond))
	fmt.Printf("P95: %s\n", s.P95.Round(time.Microsecond))
	fmt.Printf("P99: %s\n", s.P99.Round(time.Microsecond))
	fmt.Printf("Max: %s\n", s.Max.Round(time.Microsecond))
}

func outputLoadtestJSON(result *loadtest.Result) {
	output := map[string]any{
		"scenario": map[string]any{
			"name":               result.Scenario.Name,
			"writers":            result.Scenario.Writers,
			"updates_per_writer": result.Scenario.UpdatesPerWriter,
			"readers":            result.Scenario.Readers,
		},
		"writes": latencyJSON(result.Writes),
		"reads":  latencyJSON(result.Reads),
		"version": map[string]any{
			"initial":  result.InitialVersion,
			"final":    result.FinalVersion,
			"expected": result.ExpectedVersion,
			"ok":       result.VersionOK(),
		},
		"duration_ms": float64(result.Elapsed) / float64(time.Millisecond),
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(output); err != nil {
		fmt.Fprintf(os.Stderr, "Error encoding JSON: %v\n", err)
		os.Exit(1)
	}
}

func latencyJSON(s loadtest.LatencyStats) map[string]any {
	out := map[string]any{
		"operations": s.Count,
		"errors":     s.Errors,
	}
	if s.Count > 0 {
		ms := func(d time.Duration) float64 { return float64(d) / float64(time.Millisecond) }
		out["min_ms"] = ms(s.Min)
		out["mean_ms"] = ms(s.Mean)
		out["p50_ms"] = ms(s.P50)
		out["p95_ms"] = ms(s.P95)
		out["p99_ms"] = ms(s.P99)
		out["max_ms"] = ms(s.Max)
	}
	return out
}
