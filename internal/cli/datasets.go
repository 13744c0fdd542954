package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newDatasetsCommand(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "datasets",
		Short: "List the evaluation datasets in the configured directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := buildApp(*cfgPath)
			if err != nil {
				return err
			}
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				app.close(ctx)
			}()

			infos, err := app.source.List()
			if err != nil {
				return err
			}
			if len(infos) == 0 {
				fmt.Printf("no datasets found in %s\n", app.cfg.Evaluation.DatasetsDir)
				return nil
			}

			for _, info := range infos {
				fmt.Printf("%-28s v%-8s %4d samples  %s\n", info.ID, info.Version, info.TotalSamples, info.Name)
			}
			return nil
		},
	}
}