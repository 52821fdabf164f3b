package persistence

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Pool wraps a pgx connection pool used purely for diagnostics reporting
// (the /diagnostics endpoint's db_pool_free figure); the conversation log
// itself lives on disk, not in Postgres.
type Pool struct {
	pool *pgxpool.Pool
}

// OpenPool connects a pool against dsn. A blank dsn is valid and yields a
// Pool whose Stats always reports zero — callers that don't configure a
// database still get a usable (inert) Pool.
func OpenPool(ctx context.Context, dsn string) (*Pool, error) {
	if dsn == "" {
		return &Pool{}, nil
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("persistence: open pool: %w", err)
	}
	return &Pool{pool: pool}, nil
}

// Stats reports the pool's free/total/in-use connection counts. A Pool
// opened with a blank dsn reports all zeros.
type Stats struct {
	Total   int32
	Idle    int32
	InUse   int32
}

func (p *Pool) Stats() Stats {
	if p.pool == nil {
		return Stats{}
	}
	s := p.pool.Stat()
	return Stats{
		Total: s.TotalConns(),
		Idle:  s.IdleConns(),
		InUse: s.AcquiredConns(),
	}
}

// Close releases the underlying pool, if one was opened.
func (p *Pool) Close() {
	if p.pool != nil {
		p.pool.Close()
	}
}
