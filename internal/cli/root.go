// Package cli 命令行入口。serve启动常驻服务，
// qps/eval在前台跑单次测试，datasets/models是查询辅助命令。
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const version = "1.0.0"

// Execute 运行根命令，出错时以非零码退出
func Execute() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var cfgPath string

	cmd := &cobra.Command{
		Use:   "inferbench",
		Short: "Load testing and dataset evaluation for Ollama-compatible inference backends",
		Long: `inferbench benchmarks LLM inference backends.

It measures sustained QPS and latency percentiles under concurrent load,
probes single-request latency, and scores model output quality against
labeled datasets. Results are persisted and can be served over a REST API.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&cfgPath, "config", "config.yaml", "path to the configuration file")

	cmd.AddCommand(
		newServeCommand(&cfgPath),
		newQPSCommand(&cfgPath),
		newEvalCommand(&cfgPath),
		newDatasetsCommand(&cfgPath),
		newModelsCommand(&cfgPath),
		newVersionCommand(),
	)
	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the inferbench version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("inferbench %s\n", version)
		},
	}
}