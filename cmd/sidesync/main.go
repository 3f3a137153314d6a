package main

import (
	"fmt"
	"os"
)

// Version information set via ldflags during build.
var (
	Version   = "dev"
	BuildDate = "unknown"
)

func main() {
	rootCmd.Version = fmt.Sprintf("%s (built %s)", Version, BuildDate)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
