package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

var noColor bool

var rootCmd = &cobra.Command{
	Use:     "intentd",
	Short:   "Intent classification service with an online-distilled local model",
	Version: version,
	Long: `intentd classifies free-text input into intent labels using a dual-path
pipeline: an authoritative remote oracle and a cheap in-process student model.
Every decision is recorded, and a background distillation loop retrains the
student from the oracle's judgments, hot-swapping the model only when it
proves itself on held-out validation.`,
}

func main() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(classifyCmd)
	rootCmd.AddCommand(trainCmd)
	rootCmd.AddCommand(evaluateCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(labelsCmd)
	rootCmd.AddCommand(reloadCmd)
	rootCmd.AddCommand(configCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
