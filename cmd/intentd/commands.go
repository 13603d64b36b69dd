package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/intale-ai/intentd/internal/api"
	"github.com/intale-ai/intentd/internal/config"
	"github.com/intale-ai/intentd/internal/distill"
	"github.com/intale-ai/intentd/internal/intent"
)

// --- classify ---

var classifyCmd = &cobra.Command{
	Use:   "classify <text>",
	Short: "Classify text into an intent label",
	Long: `Classify text into an intent label.

Examples:
  intentd classify "how do I reverse a slice in go"
  intentd classify --context channel=cli "plan my week"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		text := strings.Join(args, " ")
		contextPairs, _ := cmd.Flags().GetStringSlice("context")

		reqContext := make(map[string]string, len(contextPairs))
		for _, pair := range contextPairs {
			k, v, ok := strings.Cut(pair, "=")
			if !ok {
				return fmt.Errorf("invalid --context value %q, expected key=value", pair)
			}
			reqContext[k] = v
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		req := api.IntentRequest{Text: text}
		if len(reqContext) > 0 {
			req.Context = reqContext
		}
		resp, err := client.post(cmd.Context(), "/v1/intent", req)
		if err != nil {
			return err
		}

		var res intent.Result
		if err := decodeJSON(resp, &res); err != nil {
			return err
		}

		fmt.Printf("%s  %s\n", colorize(colorBold, res.Intent), fmt.Sprintf("(%.2f)", res.Confidence))
		printStatus("Source", "%s", res.Source)
		printStatus("Latency", "%dms", res.LatencyMs)
		if res.Summary != "" {
			printStatus("Summary", "%s", res.Summary)
		}
		if len(res.Tags) > 0 {
			printStatus("Tags", "%s", strings.Join(res.Tags, ", "))
		}
		if len(res.Safety) > 0 {
			printWarning("Safety flags: %s", strings.Join(res.Safety, ", "))
		}
		return nil
	},
}

func init() {
	classifyCmd.Flags().StringSlice("context", nil, "context fields as key=value (repeatable)")
}

// --- train ---

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Run one distillation pass over recent decision events",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/v1/train", nil)
		if err != nil {
			return err
		}

		var report distill.Report
		if err := decodeJSON(resp, &report); err != nil {
			return err
		}

		switch report.Status {
		case distill.StatusHotSwapped:
			printSuccess("Trained on %d samples (%d labels); model hot-swapped to %s",
				report.Samples, report.Labels, report.ModelVersion)
		case distill.StatusKeptOld:
			printWarning("Trained on %d samples but validation failed the gate; previous model kept",
				report.Samples)
		case distill.StatusSkipped:
			printWarning("Nothing to train: %s", report.Reason)
		default:
			printError("Training failed: %s", report.Reason)
		}
		if report.F1Macro != nil {
			printStatus("Macro F1", "%.3f", *report.F1Macro)
		}
		if report.Accuracy != nil {
			printStatus("Accuracy", "%.3f", *report.Accuracy)
		}
		return nil
	},
}

// --- evaluate ---

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Score the live model against recent oracle-labeled samples",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), fmt.Sprintf("/v1/evaluate?limit=%d", limit), nil)
		if err != nil {
			return err
		}

		var eval distill.Evaluation
		if err := decodeJSON(resp, &eval); err != nil {
			return err
		}

		printStatus("Test samples", "%d", eval.TestSamples)
		printStatus("Macro F1", "%.3f", eval.F1Macro)
		printStatus("Accuracy", "%.3f", eval.Accuracy)
		for label, score := range eval.PerLabel {
			printStatus(label, "P %.2f  R %.2f  F1 %.2f  (n=%d)",
				score.Precision, score.Recall, score.F1, score.Support)
		}
		return nil
	},
}

func init() {
	evaluateCmd.Flags().Int("limit", 100, "maximum number of samples to evaluate against")
}

// --- stats ---

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show training corpus and model statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/v1/train/stats")
		if err != nil {
			return err
		}

		var info distill.Info
		if err := decodeJSON(resp, &info); err != nil {
			return err
		}

		asJSON, _ := cmd.Flags().GetBool("json")
		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(info)
		}

		if info.ModelAvailable {
			printStatus("Model", "version %s", info.ModelVersion)
		} else {
			printStatus("Model", "untrained")
		}
		printStatus("Labels", "%d", info.LabelCount)
		printStatus("Selectable samples", "%d", info.TotalSamples)
		if info.TotalSamples > 0 {
			printStatus("Agreement rate", "%.1f%%", info.AgreementRate*100)
			printStatus("Correction rate", "%.1f%%", info.CorrectionRate*100)
			printStatus("Weights", "min %.2f  max %.2f  avg %.2f", info.WeightMin, info.WeightMax, info.WeightAvg)
		}
		for label, count := range info.LabelDistribution {
			printStatus(label, "%d", count)
		}
		return nil
	},
}

func init() {
	statsCmd.Flags().Bool("json", false, "print the raw JSON payload")
}

// --- labels ---

var labelsCmd = &cobra.Command{
	Use:   "labels",
	Short: "List the label space of the current trainer",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/v1/train/stats")
		if err != nil {
			return err
		}

		var info distill.Info
		if err := decodeJSON(resp, &info); err != nil {
			return err
		}

		for _, label := range info.Labels {
			fmt.Println(label)
		}
		return nil
	},
}

// --- reload ---

var reloadCmd = &cobra.Command{
	Use:   "reload",
	Short: "Reload the student model artifact from disk",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/v1/reload", nil)
		if err != nil {
			return err
		}

		var result api.ReloadResponse
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		if result.Reloaded {
			printSuccess("Reloaded model %s", result.Version)
		} else {
			printError("Reload failed, previous model kept: %s", result.Error)
		}
		return nil
	},
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		for _, kv := range config.ShowAll(cfg) {
			fmt.Printf("  %s = %s\n", colorize(colorBold, kv.Key), kv.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
