package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nadia-ai/nadia/migrations"
	sconfig "github.com/nadia-ai/nadia/shared/config"
	"github.com/nadia-ai/nadia/shared/db"
)

// migrateCmd applies pending schema migrations
func migrateCmd() *cobra.Command {
	var databaseURL string

	cmd := &cobra.Command{
		Use:   "migrate (gateway|memory)",
		Short: "Apply database migrations",
		Long: `Apply the pending schema migrations for one database.

The connection URL comes from NADIA_GATEWAY_DATABASE_URL or
NADIA_MEMORY_DATABASE_URL unless --database-url overrides it.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target := args[0]
			url := databaseURL
			if url == "" {
				url = defaultDatabaseURL(target)
			}
			if url == "" {
				return fmt.Errorf("no database URL configured for target %q", target)
			}

			ctx := cmd.Context()
			pool, err := db.Connect(ctx, db.Config{URL: url})
			if err != nil {
				return fmt.Errorf("connect %s database: %w", target, err)
			}
			defer pool.Close()

			n, err := migrations.Apply(ctx, pool, target)
			if err != nil {
				return err
			}
			fmt.Printf("%s: %d migration(s) applied\n", target, n)
			return nil
		},
	}

	cmd.Flags().StringVar(&databaseURL, "database-url", "", "connection URL override")
	return cmd
}

func defaultDatabaseURL(target string) string {
	switch target {
	case "gateway":
		return sconfig.GetEnvWithFallback("NADIA_GATEWAY_DATABASE_URL", "DATABASE_URL", "")
	case "memory":
		return sconfig.GetEnv("NADIA_MEMORY_DATABASE_URL", "")
	}
	return ""
}
