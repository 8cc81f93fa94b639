// Package store persists the gateway's tables: the dialogue log, the thread
// summary cache, and per-turn cost tracking.
package store

import (
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nadia-ai/nadia/shared/pgstore"
)

type Store struct {
	*pgstore.DB
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{DB: pgstore.NewDB(pool)}
}
