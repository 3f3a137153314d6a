package main

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/sidesync/sidesync/internal/config"
	"github.com/sidesync/sidesync/internal/document"
	"github.com/sidesync/sidesync/internal/provider"
	"github.com/sidesync/sidesync/internal/ui"
)

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "server",
	Short:   "Show the server, storage, and document state",
	Long: `Show a point-in-time view of the configured deployment.

Shows:
  - Which configured port answers, if any
  - The storage backend, its file, and its size
  - The state document version and age (json backend)

The command only reads: it stats the storage file instead of opening
the backend, so it never creates files or contends with a running
server for locks.`,
	Run: runStatus,
}

func init() {
	statusCmd.Flags().Bool("json", false, "Output status as JSON")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) {
	cfg := mustLoadConfig(cmd)
	jsonOutput, _ := cmd.Flags().GetBool("json")

	port, listening := probePorts(cfg)
	storagePath := storagePathFor(cfg)
	info, statErr := os.Stat(storagePath)

	// The json backend's document is readable in place. The other
	// backends would need the storage opened, which a status probe
	// should not do.
	var doc *document.Document
	if provider.Kind(cfg.Provider.Kind) == provider.KindJSON {
		if d, err := document.Read(cfg.Provider.Path); err == nil {
			doc = d
		}
	}

	if jsonOutput {
		outputStatusJSON(cfg, port, listening, storagePath, info, statErr == nil, doc)
		return
	}

	fmt.Printf("\n%s sidesync status\n\n", ui.RenderAccent("📊"))

	if listening {
		fmt.Printf("Server: answering at %s\n", ui.RenderAccent(fmt.Sprintf("http://%s:%d", cfg.Server.Host, port)))
	} else {
		fmt.Printf("Server: %s\n", ui.RenderWarn("not running"))
	}
	fmt.Printf("Content: %s\n", cfg.Server.Dir)
	fmt.Printf("Storage: %s (%s)\n", cfg.Provider.Kind, storagePath)

	if statErr != nil {
		fmt.Printf("\n%s storage not initialized\n", ui.RenderWarn("⚠"))
		fmt.Printf("   Run 'sidesync serve' to create it\n\n")
		return
	}

	size := info.Size()
	sizeStr := fmt.Sprintf("%d bytes", size)
	if size > 1024*1024 {
		sizeStr = fmt.Sprintf("%.1f MB", float64(size)/(1024*1024))
	} else if size > 1024 {
		sizeStr = fmt.Sprintf("%.1f KB", float64(size)/1024)
	}
	fmt.Printf("Size: %s\n", sizeStr)
	fmt.Printf("Modified: %s\n", info.ModTime().Format("2006-01-02 15:04:05"))

	if doc != nil {
		age := time.Since(doc.Timestamp).Round(time.Second)
		fmt.Printf("Document: version %d, updated %s (%s ago)\n",
			doc.Version, doc.Timestamp.Format("2006-01-02 15:04:05"), age)
	}
	fmt.Println()
}

// probePorts dials the preferred port and then the alternates,
// returning the first one something answers on.
func probePorts(cfg config.Config) (int, bool) {
	ports := append([]int{cfg.Server.PreferredPort}, cfg.Server.AlternatePorts...)
	for _, p := range ports {
		addr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(p))
		conn, err := net.DialTimeout("tcp", addr, time.Second)
		if err != nil {
			continue
		}
		conn.Close()
		return p, true
	}
	return 0, false
}

// storagePathFor returns the backing file of the configured backend.
func storagePathFor(cfg config.Config) string {
	switch provider.Kind(cfg.Provider.Kind) {
	case provider.KindSQLite:
		return cfg.Provider.SQLitePath
	case provider.KindBolt:
		return cfg.Provider.BoltPath
	default:
		return cfg.Provider.Path
	}
}

func outputStatusJSON(cfg config.Config, port int, listening bool, storagePath string, info os.FileInfo, initialized bool, doc *document.Document) {
	serverInfo := map[string]any{
		"running": listening,
		"host":    cfg.Server.Host,
		"dir":     cfg.Server.Dir,
	}
	if listening {
		serverInfo["port"] = port
		serverInfo["url"] = fmt.Sprintf("http://%s:%d", cfg.Server.Host, port)
	}

	storageInfo := map[string]any{
		"kind":        cfg.Provider.Kind,
		"path":        storagePath,
		"initialized": initialized,
	}
	if initialized {
		storageInfo["size_bytes"] = info.Size()
		storageInfo["modified"] = info.ModTime().Format(time.RFC3339)
	}

	output := map[string]any{
		"server":  serverInfo,
		"storage": storageInfo,
	}
	if doc != nil {
		output["document"] = map[string]any{
			"version":     doc.Version,
			"timestamp":   doc.Timestamp.Format(time.RFC3339),
			"age_seconds": int64(time.Since(doc.Timestamp).Seconds()),
		}
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(output); err != nil {
		fmt.Fprintf(os.Stderr, "Error encoding JSON: %v\n", err)
		os.Exit(1)
	}
}
