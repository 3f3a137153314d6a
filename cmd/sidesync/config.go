package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/sidesync/sidesync/internal/config"
	syncerrors "github.com/sidesync/sidesync/internal/errors"
	"github.com/sidesync/sidesync/internal/provider"
	"github.com/sidesync/sidesync/internal/ui"
)

var configCmd = &cobra.Command{
	Use:     "config",
	GroupID: "config",
	Short:   "Inspect and manage the configuration file",
	Long: `Inspect and manage the sidesync configuration.

Settings are layered: SIDESYNC_* environment variables override a
sidesync.toml next to the configuration file, which overrides the file
itself, which overrides the built-in defaults. 'config show' displays
the merged result the server would run with.`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a configuration file interactively",
	Long: `Walk through the common settings and write the configuration file.

Settings not asked for keep their defaults and can be edited in the
written file afterwards.

Example usage:
  sidesync config init                       # Write sidesync.json
  sidesync config init --config custom.json  # Write somewhere else`,
	Run: runConfigInit,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective merged settings",
	Run:   runConfigShow,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration file",
	Long: `Check the configuration file against the schema and list every
violation. Exits non-zero when the file would not load.`,
	Run: runConfigValidate,
}

func init() {
	configInitCmd.Flags().Bool("force", false, "Overwrite an existing configuration file")
	configShowCmd.Flags().Bool("json", false, "Output settings as JSON")

	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configValidateCmd)
	rootCmd.AddCommand(configCmd)
}

func runConfigInit(cmd *cobra.Command, args []string) {
	path := configPath(cmd)
	force, _ := cmd.Flags().GetBool("force")

	if _, err := os.Stat(path); err == nil && !force {
		fmt.Fprintf(os.Stderr, "Error: %s already exists (use --force to overwrite)\n", path)
		os.Exit(1)
	}

	cfg := config.Default()
	portStr := strconv.Itoa(cfg.Server.PreferredPort)
	host := cfg.Server.Host
	dir := cfg.Server.Dir
	kind := cfg.Provider.Kind
	auditOn := cfg.Audit.Enabled

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Preferred port").
				Description("First port the server tries to bind").
				Value(&portStr).
				Validate(func(s string) error {
					p, err := strconv.Atoi(s)
					if err != nil {
						return fmt.Errorf("not a number: %s", s)
					}
					if p < 1024 || p > 65535 {
						return fmt.Errorf("port must be within [1024, 65535]")
					}
					return nil
				}),
			huh.NewInput().
				Title("Host").
				Description("Bind address for the server").
				Value(&host),
			huh.NewInput().
				Title("Content directory").
				Description("Directory served over HTTP").
				Value(&dir),
			huh.NewSelect[string]().
				Title("Storage backend").
				Options(
					huh.NewOption("json file", provider.KindJSON.String()),
					huh.NewOption("SQLite", provider.KindSQLite.String()),
					huh.NewOption("Bolt", provider.KindBolt.String()),
				).
				Value(&kind),
			huh.NewConfirm().
				Title("Enable the audit trail?").
				Value(&auditOn),
		),
	)
	if err := form.Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			fmt.Println("Aborted, nothing written")
			return
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	cfg.Server.PreferredPort, _ = strconv.Atoi(portStr)
	cfg.Server.Host = host
	cfg.Server.Dir = dir
	cfg.Provider.Kind = kind
	cfg.Audit.Enabled = auditOn

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if err := config.Write(path, cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("%s Configuration written to %s\n", ui.RenderPass("✓"), ui.RenderAccent(path))
	fmt.Printf("   Run 'sidesync serve' to start\n")
}

func runConfigShow(cmd *cobra.Command, args []string) {
	jsonOutput, _ := cmd.Flags().GetBool("json")

	loader := config.NewLoader(configPath(cmd), config.WithLogger(quietLogger()))
	if _, err := loader.Load(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	settings, err := loader.Settings()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if jsonOutput {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(settings); err != nil {
			fmt.Fprintf(os.Stderr, "Error encoding JSON: %v\n", err)
			os.Exit(1)
		}
		return
	}

	fmt.Printf("\n%s Effective settings (%s)\n\n", ui.RenderAccent("⚙"), loader.Path())
	printSettings("", settings)
	fmt.Println()
}

// printSettings walks the merged settings tree in key order.
func printSettings(prefix string, m map[string]any) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		full := k
		if prefix != "" {
			full = prefix + "." + k
		}
		if nested, ok := m[k].(map[string]any); ok {
			printSettings(full, nested)
			continue
		}
		fmt.Println(ui.KeyValue(full, m[k]))
	}
}

func runConfigValidate(cmd *cobra.Command, args []string) {
	path := configPath(cmd)

	// Validate reports on the file as it is. Loading would write the
	// defaults for an absent file, which a check must not do.
	if _, err := os.Stat(path); err != nil {
		fmt.Fprintf(os.Stderr, "Error: cannot read %s: %v\n", path, err)
		os.Exit(1)
	}

	loader := config.NewLoader(path, config.WithLogger(quietLogger()))
	if _, err := loader.Load(); err != nil {
		if violations := syncerrors.Violations(err); len(violations) > 0 {
			fmt.Printf("\n%s %s is invalid\n\n", ui.RenderFail("✗"), path)
			for _, v := range violations {
				fmt.Printf("   - %s\n", v)
			}
			fmt.Println()
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}

	fmt.Printf("%s %s is valid\n", ui.RenderPass("✓"), path)
}
