package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newModelsCommand(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List the models available on the inference backend",
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

			ctx, cancel := context.WithTimeout(cmd.Context(), app.cfg.Ollama.Timeout())
			defer cancel()

			models, err := app.client.ListModels(ctx)
			if err != nil {
				return err
			}
			if len(models) == 0 {
				fmt.Printf("no models installed on %s\n", app.cfg.Ollama.BaseURL)
				return nil
			}

			for _, m := range models {
				fmt.Printf("%-40s %8.1f GB  %s\n", m.Name, float64(m.Size)/(1<<30), m.ModifiedAt)
			}
			return nil
		},
	}
}