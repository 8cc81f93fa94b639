package main

import (
	"github.com/spf13/cobra"

	"github.com/nadia-ai/nadia/gateway"
)

// gatewayCmd starts the user-facing chat gateway
func gatewayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gateway",
		Short: "Start the chat gateway",
		Long: `Start the user-facing chat gateway.

Streams assistant turns over SSE, assembling each turn's context from the
memory service, past-conversation recall, and web research capsules.

Required configuration:
  - PostgreSQL (NADIA_GATEWAY_DATABASE_URL)
  - LLM endpoint (NADIA_LLM_URL)

Optional:
  - Memory service (NADIA_MEMORY_URL)
  - Redis for research capsules (NADIA_REDIS_URL)
  - Embeddings (NADIA_EMBEDDING_URL)
  - Fallback provider (NADIA_LLM_FALLBACK_URL)`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runService(cmd.Context(), gateway.Run)
		},
	}
}
