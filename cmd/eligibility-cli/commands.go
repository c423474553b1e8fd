// cmd/eligibility-cli/commands.go
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"document-eligibility/internal/app"
	"document-eligibility/internal/common/config"
	"document-eligibility/internal/common/logger"
	"document-eligibility/internal/engine/cache"
	"document-eligibility/internal/engine/orchestrator"
	"document-eligibility/pkg/registry"
)

func loadRegistry(cmd *cobra.Command) (*registry.Registry, error) {
	path, _ := cmd.Flags().GetString("configs")
	return registry.LoadRegistry(path)
}

func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check every configuration in the registry file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := loadRegistry(cmd)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "registry version %s: %d configurations valid\n", reg.Version(), len(reg.Templates()))
			for _, id := range reg.Templates() {
				fmt.Fprintf(out, "  %s\n", id)
			}
			return nil
		},
	}
}

func planCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "plan [templateId]",
		Short: "Show the levels the data sources of a template run in",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := loadRegistry(cmd)
			if err != nil {
				return err
			}
			cfg, err := reg.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s (%s)\n", args[0], cfg.ExecutionRules.ExecutionMode)
			for i, level := range orchestrator.Plan(cfg) {
				ids := make([]string, 0, len(level))
				for _, step := range level {
					id := step.ID
					if step.Conditional {
						id += "?"
					}
					ids = append(ids, id)
				}
				fmt.Fprintf(out, "  level %d: %s\n", i, strings.Join(ids, ", "))
			}
			return nil
		},
	}
}

func evaluateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "evaluate [templateId]",
		Short: "Evaluate one seed against a template and print the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := loadRegistry(cmd)
			if err != nil {
				return err
			}
			cfg, err := reg.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			pairs, _ := cmd.Flags().GetStringArray("seed")
			seed, err := parseSeed(pairs)
			if err != nil {
				return err
			}
			correlationID, _ := cmd.Flags().GetString("correlation-id")
			timeout, _ := cmd.Flags().GetDuration("timeout")
			level, _ := cmd.Flags().GetString("log-level")

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			log := logger.NewStructured(level, "console")
			engineCfg := config.EngineConfig{HTTPTimeout: int(timeout.Milliseconds()), MaxIdleConnsPerHost: 4}
			eng := app.NewEngine(engineCfg, cache.NewMemoryGateway(0), log)

			result := eng.EvaluateTemplate(ctx, args[0], cfg, seed, correlationID)
			return writeJSON(cmd.OutOrStdout(), result)
		},
	}
	cmd.Flags().StringArray("seed", nil, "Seed value as key=value (repeatable); values are parsed as JSON when possible")
	cmd.Flags().String("correlation-id", "", "Correlation id (generated when empty)")
	cmd.Flags().Duration("timeout", 30*time.Second, "Overall evaluation timeout")
	return cmd
}

// parseSeed turns key=value pairs into a seed. Values that are valid JSON
// keep their type; numbers stay exact.
func parseSeed(pairs []string) (map[string]any, error) {
	seed := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, raw, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid seed %q: want key=value", pair)
		}
		dec := json.NewDecoder(strings.NewReader(raw))
		dec.UseNumber()
		var v any
		if err := dec.Decode(&v); err != nil || dec.More() {
			v = raw
		}
		seed[key] = v
	}
	return seed, nil
}

func writeJSON(w io.Writer, v any) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return err
	}
	_, err := w.Write(buf.Bytes())
	return err
}
