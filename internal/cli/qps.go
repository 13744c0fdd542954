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
	apperrors "inferbench/internal/errors"
	"inferbench/internal/model"
)

const pollInterval = 200 * time.Millisecond

func newQPSCommand(cfgPath *string) *cobra.Command {
	var (
		testCfg  model.TestConfig
		mode     string
		jsonOnly bool
	)

	cmd := &cobra.Command{
		Use:   "qps",
		Short: "Run a load test and print the result as JSON",
		Long: `Run a load test against the configured backend.

In qps mode the test drives --users concurrent workers for --duration seconds
and reports QPS, latency percentiles, and throughput. In latency mode it sends
--iterations sequential requests instead and reports per-request latency.

Ctrl-C requests a graceful stop: workers finish their in-flight request and
the partial result is still analyzed, persisted, and printed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			switch mode {
			case "qps":
				testCfg.TestType = model.TestTypeQPS
			case "latency":
				testCfg.TestType = model.TestTypeLatency
			default:
				return apperrors.Newf(apperrors.ErrCodeInvalidInput, "unknown mode %q, expected qps or latency", mode)
			}

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

			testID, err := app.registry.StartQPSTest(ctx, testCfg)
			if err != nil {
				return err
			}
			if !jsonOnly {
				fmt.Fprintf(os.Stderr, "test %s started\n", testID)
			}

			result, err := waitForResult(ctx, app.registry, testID, !jsonOnly)
			if err != nil {
				return err
			}

			out, err := json.MarshalIndent(result, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}

	cmd.Flags().StringVar(&testCfg.TestName, "name", "", "test name used in the test ID")
	cmd.Flags().StringVarP(&testCfg.Model, "model", "m", "", "model to test (default from config)")
	cmd.Flags().IntVarP(&testCfg.ConcurrentUsers, "users", "c", 0, "concurrent workers (default from config)")
	cmd.Flags().IntVarP(&testCfg.DurationSeconds, "duration", "d", 0, "test duration in seconds (default from config)")
	cmd.Flags().StringSliceVar(&testCfg.PromptSet, "prompt", nil, "prompt to send, repeatable (default built-in set)")
	cmd.Flags().IntVar(&testCfg.WarmupRequests, "warmup", -1, "warmup requests before measuring (default from config)")
	cmd.Flags().IntVar(&testCfg.TimeoutSeconds, "timeout", 0, "per-request timeout in seconds (default from config)")
	cmd.Flags().BoolVar(&testCfg.ThinkingMode, "thinking", false, "enable the model's thinking mode")
	cmd.Flags().Float64Var(&testCfg.RateLimitQPS, "rate-limit", 0, "cap total request rate in QPS, 0 means unlimited")
	cmd.Flags().StringVar(&testCfg.DatasetName, "dataset", "", "draw prompts from this dataset instead of --prompt")
	cmd.Flags().StringVar(&mode, "mode", "qps", "test mode: qps or latency")
	cmd.Flags().IntVarP(&testCfg.Iterations, "iterations", "n", 0, "requests to send in latency mode")
	cmd.Flags().BoolVar(&jsonOnly, "json", false, "suppress progress output, print only the result JSON")

	return cmd
}

// waitForResult 轮询进度直到测试进入终止状态。ctx取消（Ctrl-C）
// 只触发一次优雅停止，之后继续等worker收尾并返回部分结果。
func waitForResult(ctx context.Context, registry *bench.Registry, testID string, showProgress bool) (*model.QPSTestResult, error) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	interrupt := ctx.Done()
	for {
		select {
		case <-interrupt:
			interrupt = nil
			if showProgress {
				fmt.Fprintln(os.Stderr, "\nstopping, workers finish their in-flight request...")
			}
			// 测试可能恰好在信号到达前结束，这种情况直接走正常取结果路径
			if _, err := registry.StopCurrent(); err != nil && !apperrors.IsCode(err, apperrors.ErrCodeTestNotRunning) {
				return nil, err
			}
			continue
		case <-ticker.C:
		}

		progress, err := registry.GetProgress(context.Background(), testID)
		if err != nil {
			return nil, err
		}
		if showProgress {
			fmt.Fprintf(os.Stderr, "\r%-11s %5.1f%%", progress.Status, progress.Percent)
		}
		if !progress.Status.Terminal() {
			continue
		}
		if showProgress {
			fmt.Fprintln(os.Stderr)
		}

		if progress.Status == model.StatusFailed {
			return nil, apperrors.Newf(apperrors.ErrCodeInternal, "test %s failed: %s", testID, progress.Error)
		}
		return registry.GetResult(context.Background(), testID)
	}
}