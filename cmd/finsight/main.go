package main

import (
	"os"

	"github.com/joho/godotenv"

	"github.com/finsight-ai/finsight/cmd/finsight/cmd"
)

// Version information - set by goreleaser at build time
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	// Local development secrets; absence is fine.
	_ = godotenv.Load()

	cmd.SetVersion(version, commit, date)

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
