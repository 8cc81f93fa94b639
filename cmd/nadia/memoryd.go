package main

import (
	"github.com/spf13/cobra"

	"github.com/nadia-ai/nadia/memoryd"
)

// memorydCmd starts the memory service
func memorydCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "memoryd",
		Short: "Start the memory service",
		Long: `Start the internal memory service.

Serves memory CRUD and hybrid recall to the gateway, and runs the audit,
research, and retention loops behind that surface.

Required configuration:
  - Memory PostgreSQL (NADIA_MEMORY_DATABASE_URL)
  - Gateway PostgreSQL for the job queue (NADIA_GATEWAY_DATABASE_URL)
  - Service tokens (NADIA_INTERNAL_TOKENS)

Optional:
  - LLM endpoint for summaries (NADIA_LLM_URL)
  - Embeddings for the vector channel (NADIA_EMBEDDING_URL)
  - Web search upstream + Redis for research (NADIA_SEARCH_URL, NADIA_REDIS_URL)`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runService(cmd.Context(), memoryd.Run)
		},
	}
}
