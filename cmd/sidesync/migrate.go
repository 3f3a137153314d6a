package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sidesync/sidesync/internal/migrate"
	"github.com/sidesync/sidesync/internal/provider"
	"github.com/sidesync/sidesync/internal/ui"
)

var migrateCmd = &cobra.Command{
	Use:     "migrate",
	GroupID: "maint",
	Short:   "Copy the state document between storage backends",
	Long: `Copy the state document from one storage backend to another.

The source document is loaded, saved into the destination, and read
back for a field-by-field comparison. A destination that already holds
a document is backed up first; backups are plain sync documents, so a
backup restores by pointing the json backend at it.

Stop the server before migrating. A save racing the copy would be lost
from whichever side it landed on.

Example usage:
  sidesync migrate --from json --to sqlite
  sidesync migrate --from sqlite --to bolt --dry-run
  sidesync migrate --from json --to sqlite --no-backup`,
	Run: runMigrate,
}

func init() {
	migrateCmd.Flags().String("from", "", "Source backend (json, sqlite, bolt)")
	migrateCmd.Flags().String("to", "", "Destination backend (json, sqlite, bolt)")
	migrateCmd.Flags().Bool("dry-run", false, "Inspect the source without writing")
	migrateCmd.Flags().Bool("no-backup", false, "Skip the destination backup")
	migrateCmd.Flags().String("backup-dir", migrate.DefaultBackupDir, "Directory for destination backups")
	migrateCmd.MarkFlagRequired("from")
	migrateCmd.MarkFlagRequired("to")
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, args []string) {
	cfg := mustLoadConfig(cmd)

	fromStr, _ := cmd.Flags().GetString("from")
	toStr, _ := cmd.Flags().GetString("to")
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	noBackup, _ := cmd.Flags().GetBool("no-backup")
	backupDir, _ := cmd.Flags().GetString("backup-dir")

	fromKind, toKind := provider.Kind(fromStr), provider.Kind(toStr)
	for _, k := range []provider.Kind{fromKind, toKind} {
		if !provider.IsRegistered(k) {
			fmt.Fprintf(os.Stderr, "Error: unknown backend %q (want json, sqlite, or bolt)\n", k)
			os.Exit(1)
		}
	}
	if fromKind == toKind {
		fmt.Fprintf(os.Stderr, "Error: source and destination are both %s\n", fromKind)
		os.Exit(1)
	}

	if port, listening := probePorts(cfg); listening {
		fmt.Printf("%s something is answering on port %d, stop the server before migrating\n",
			ui.RenderWarn("⚠"), port)
	}

	logger := log.New(os.Stderr, "[migrate] ", log.LstdFlags)

	from, err := provider.New(fromKind, settingsForKind(cfg, fromKind, logger))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to open source: %v\n", err)
		os.Exit(1)
	}
	defer from.Close()

	to, err := provider.New(toKind, settingsForKind(cfg, toKind, logger))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to open destination: %v\n", err)
		os.Exit(1)
	}
	defer to.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if dryRun {
		fmt.Printf("%s Dry run: nothing will be written\n", ui.RenderWarn("⚠"))
	}
	fmt.Printf("%s Migrating %s -> %s...\n", ui.RenderAccent("🔄"), fromKind, toKind)

	result, err := migrate.Run(ctx, from, to, migrate.Options{
		Backup:    !noBackup,
		BackupDir: backupDir,
		DryRun:    dryRun,
		Logger:    logger,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if dryRun {
		fmt.Printf("%s Source readable\n", ui.RenderPass("✓"))
		fmt.Printf("   Keys: %d\n", result.Keys)
		fmt.Printf("   Source version: %d\n", result.SourceVersion)
		fmt.Printf("   Destination version: %d\n", result.TargetVersion)
		return
	}

	fmt.Printf("%s Migration complete\n", ui.RenderPass("✓"))
	fmt.Printf("   Keys: %d\n", result.Keys)
	fmt.Printf("   Version: %d -> %d\n", result.SourceVersion, result.TargetVersion)
	if result.BackupPath != "" {
		fmt.Printf("   Backup: %s\n", result.BackupPath)
	}
	fmt.Printf("   Duration: %s\n", result.Duration.Round(time.Millisecond))
}
