// cmd/eligibility-cli/main.go
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "eligibility",
		Short:         "Validate, plan and evaluate document eligibility configurations",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringP("configs", "c", "configs/extraction-configs.json", "Extraction config registry file")
	root.PersistentFlags().String("log-level", "warn", "Log level (debug, info, warn, error)")

	root.AddCommand(validateCmd())
	root.AddCommand(planCmd())
	root.AddCommand(evaluateCmd())
	return root
}
