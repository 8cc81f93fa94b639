package main

import (
	"github.com/spf13/cobra"

	"github.com/nadia-ai/nadia/worker"
)

// workerCmd starts the unlimited-recall worker
func workerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Start the unlimited-recall worker",
		Long: `Start the background worker that drains the recall job queue.

Generates thread labels, rolling summaries, and package embeddings from
captured conversations. Multiple workers can share one queue.

Required configuration:
  - Gateway PostgreSQL (NADIA_GATEWAY_DATABASE_URL)

Optional:
  - LLM endpoint (NADIA_LLM_URL); without it labels and summaries
    degrade to extraction
  - Embeddings (NADIA_EMBEDDING_URL); without it embedding jobs are skipped`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runService(cmd.Context(), worker.Run)
		},
	}
}
