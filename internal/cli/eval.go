package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"inferbench/internal/bench"
	"inferbench/internal/dataset"
)

func newEvalCommand(cfgPath *string) *cobra.Command {
	var (
		opts     bench.EvaluationOptions
		jsonOnly bool
	)

	cmd := &cobra.Command{
		Use:   "eval",
		Short: "Evaluate a model against a labeled dataset",
		Long: `Evaluate a model against a labeled dataset and print the report as JSON.

Each sample is sent to the model, the response is parsed for a score and
category, and the report aggregates score accuracy, category accuracy, and
response times. Ctrl-C aborts after the current sample.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := buildApp(*cfgPath)
			if err != nil {
				return err
			}
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer cancel()
				app.close(ctx)
			}()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if !jsonOnly {
				opts.Progress = func(current, total int, sampleID string) {
					fmt.Fprintf(os.Stderr, "\rsample %d/%d  %s", current, total, sampleID)
				}
			}

			report, err := app.registry.RunDatasetEvaluation(ctx, opts)
			if !jsonOnly {
				fmt.Fprintln(os.Stderr)
			}
			if err != nil {
				return err
			}

			out, err := json.MarshalIndent(report, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}

	cmd.Flags().StringVarP(&opts.Model, "model", "m", "", "model to evaluate (default from config)")
	cmd.Flags().StringVar(&opts.Dataset, "dataset", dataset.DatasetMangaAdDetection, "dataset to evaluate against")
	cmd.Flags().IntVarP(&opts.SampleCount, "samples", "n", 0, "samples to draw, 0 uses the configured default, -1 means all")
	cmd.Flags().StringSliceVar(&opts.Categories, "category", nil, "restrict to these sample categories, repeatable")
	cmd.Flags().Int64Var(&opts.Seed, "seed", 0, "sampling seed, 0 derives one from the current time")
	cmd.Flags().BoolVar(&opts.ThinkingMode, "thinking", false, "enable the model's thinking mode")
	cmd.Flags().BoolVar(&jsonOnly, "json", false, "suppress progress output, print only the report JSON")

	return cmd
}