// Package storage is the Postgres implementation of the booking storage ports.
// Every state change is a single conditional statement, so concurrent
// replicas serialize on the row instead of on process memory.
package storage

import (
	"context"

	"github.com/md-rashed-zaman/consultslot/libs/db"
)

type Store struct {
	pool *db.Pool
}

func NewStore(pool *db.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

type scanner interface {
	Scan(dest ...any) error
}
