package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/leadlineai/leadline/internal/config"
	"github.com/leadlineai/leadline/internal/db"
)

func main() {
	root := &cobra.Command{
		Use:   "leadline",
		Short: "Leadline conversational sales automation server",
	}

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the API server and background workers",
		Run: func(cmd *cobra.Command, args []string) {
			runServe()
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := db.Migrate(cfg.Postgres); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			fmt.Println("migrations applied")
			return nil
		},
	})

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
