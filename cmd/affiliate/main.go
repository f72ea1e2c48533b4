package main

import (
	"fmt"
	"os"

	"affiliate/internal/config"
	"affiliate/internal/log"

	"github.com/spf13/cobra"
)

var version = "dev"

var rootCmd = &cobra.Command{
	Use:           "affiliate",
	Short:         "Instagram DM dispatch service",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newLogger(cfg config.Config) *log.Logger {
	if cfg.Env == "development" {
		return log.NewDevelopment()
	}
	return log.NewLogger()
}
