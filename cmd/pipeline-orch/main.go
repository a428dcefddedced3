package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	rootCmd    = &cobra.Command{
		Use:   "pipeline-orch",
		Short: "Pipeline Orchestrator - Autonomous ticket-to-pipeline worker",
		Long: `Pipeline Orchestrator pulls labeled tickets into a durable work queue,
generates a solution for each one via an external generation service,
runs the routed pipeline script against it and tracks the outcome
through retry, review and merge.`,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
