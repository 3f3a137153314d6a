package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/spf13/cobra"

	"github.com/sidesync/sidesync/internal/audit"
	"github.com/sidesync/sidesync/internal/ui"
)

var auditCmd = &cobra.Command{
	Use:     "audit",
	GroupID: "maint",
	Short:   "Query the audit trail",
	Long: `Query the audit trail written by the server.

Records are read directly from the log files, so querying works while
the server runs and never appends to the trail.

Time filters accept RFC3339, a plain date, or natural language:

Example usage:
  sidesync audit list --since "2 hours ago"
  sidesync audit list --severity ERROR --component webserver
  sidesync audit list --type SYNC_ERRO --limit 50
  sidesync audit stats`,
}

var auditListCmd = &cobra.Command{
	Use:   "list",
	Short: "List audit records, newest first",
	Run:   runAuditList,
}

var auditStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarize the audit trail",
	Run:   runAuditStats,
}

func init() {
	auditListCmd.Flags().String("since", "", "Only records at or after this time (\"2 hours ago\", \"yesterday\")")
	auditListCmd.Flags().String("until", "", "Only records at or before this time")
	auditListCmd.Flags().String("severity", "", "Filter by severity (INFO, WARNING, ERROR, CRITICAL)")
	auditListCmd.Flags().String("component", "", "Filter by component substring")
	auditListCmd.Flags().String("type", "", "Filter by event type (e.g. SYNC_ERRO)")
	auditListCmd.Flags().Int("limit", 20, "Maximum records to show (0 means all)")
	auditListCmd.Flags().Bool("json", false, "Output records as JSON")

	auditCmd.AddCommand(auditListCmd)
	auditCmd.AddCommand(auditStatsCmd)
	rootCmd.AddCommand(auditCmd)
}

func runAuditList(cmd *cobra.Command, args []string) {
	cfg := mustLoadConfig(cmd)

	filter, err := filterFromFlags(cmd)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	jsonOutput, _ := cmd.Flags().GetBool("json")

	records, err := audit.QueryDir(cfg.Audit.Dir, cfg.Audit.FileBase, filter, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if jsonOutput {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(records); err != nil {
			fmt.Fprintf(os.Stderr, "Error encoding JSON: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if len(records) == 0 {
		fmt.Printf("%s no matching audit records in %s\n", ui.RenderWarn("⚠"), cfg.Audit.Dir)
		return
	}

	for _, rec := range records {
		// Pad before styling: escape codes would count against the
		// column width.
		severity := ui.RenderSeverity(fmt.Sprintf("%-8s", rec.Severity))
		fmt.Printf("%s  %s %-10s %-22s %s\n",
			rec.Timestamp.Local().Format("2006-01-02 15:04:05"),
			severity, rec.Component, rec.Type, rec.Message)
	}
	fmt.Printf("\n%d record(s)\n", len(records))
}

func filterFromFlags(cmd *cobra.Command) (audit.Filter, error) {
	var filter audit.Filter
	var err error

	sinceStr, _ := cmd.Flags().GetString("since")
	if filter.Since, err = parseTimeFlag(sinceStr); err != nil {
		return filter, err
	}
	untilStr, _ := cmd.Flags().GetString("until")
	if filter.Until, err = parseTimeFlag(untilStr); err != nil {
		return filter, err
	}

	if severityStr, _ := cmd.Flags().GetString("severity"); severityStr != "" {
		sev, err := audit.ParseSeverity(severityStr)
		if err != nil {
			return filter, err
		}
		filter.Severity = sev
	}

	component, _ := cmd.Flags().GetString("component")
	filter.Component = component
	typeStr, _ := cmd.Flags().GetString("type")
	filter.Type = audit.EventType(typeStr)
	filter.Limit, _ = cmd.Flags().GetInt("limit")

	return filter, nil
}

// parseTimeFlag accepts RFC3339, a timestamp, a plain date, or natural
// language ("2 hours ago", "yesterday at 6pm").
func parseTimeFlag(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
		if ts, err := time.ParseInLocation(layout, value, time.Local); err == nil {
			return ts, nil
		}
	}

	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	r, err := w.Parse(value, time.Now())
	if err != nil {
		return time.Time{}, fmt.Errorf("cannot parse time %q: %w", value, err)
	}
	if r == nil {
		return time.Time{}, fmt.Errorf("cannot understand time %q", value)
	}
	return r.Time, nil
}

func runAuditStats(cmd *cobra.Command, args []string) {
	cfg := mustLoadConfig(cmd)

	stats, err := audit.StatsDir(cfg.Audit.Dir, cfg.Audit.FileBase)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("\n%s Audit trail summary\n\n", ui.RenderAccent("📊"))
	fmt.Printf("Directory: %s\n", cfg.Audit.Dir)
	fmt.Printf("Records: %d\n", stats.TotalEvents)
	fmt.Printf("Files: %d\n", stats.LogFiles)

	if len(stats.BySeverity) > 0 {
		fmt.Printf("\nBy severity:\n")
		for _, entry := range sortedCounts(stats.BySeverity) {
			fmt.Println(ui.KeyValue(entry.name, entry.count))
		}
	}
	if len(stats.ByComponent) > 0 {
		fmt.Printf("\nBy component:\n")
		for _, entry := range sortedCounts(stats.ByComponent) {
			fmt.Println(ui.KeyValue(entry.name, entry.count))
		}
	}
	if len(stats.ByType) > 0 {
		fmt.Printf("\nBy event type:\n")
		for _, entry := range sortedCounts(stats.ByType) {
			fmt.Println(ui.KeyValue(entry.name, entry.count))
		}
	}
	fmt.Println()
}

type countEntry struct {
	name  string
	count int
}

// sortedCounts orders a count map by count descending, then name.
func sortedCounts[K ~string](m map[K]int) []countEntry {
	entries := make([]countEntry, 0, len(m))
	for k, n := range m {
		entries = append(entries, countEntry{name: string(k), count: n})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].count != entries[j].count {
			return entries[i].count > entries[j].count
		}
		return entries[i].name < entries[j].name
	})
	return entries
}
