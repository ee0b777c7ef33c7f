package lock

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres is a Locker built on session-level advisory locks. Each held lock
// pins one pooled connection until released.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// NewPostgresFromDSN opens a pool dedicated to advisory locking.
func NewPostgresFromDSN(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open lock pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping lock pool: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

// Close releases the underlying pool.
func (p *Postgres) Close() {
	p.pool.Close()
}

func (p *Postgres) Acquire(ctx context.Context, key string, wait time.Duration) (Unlock, error) {
	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire lock connection: %w", err)
	}
	id := advisoryID(key)

	err = retry(ctx, wait, func(ctx context.Context) (bool, error) {
		var ok bool
		if err := conn.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", id).Scan(&ok); err != nil {
			return false, fmt.Errorf("pg_try_advisory_lock %s: %w", key, err)
		}
		return ok, nil
	})
	if err != nil {
		conn.Release()
		return nil, err
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			relCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if _, err := conn.Exec(relCtx, "SELECT pg_advisory_unlock($1)", id); err != nil {
				// Closing the session drops every advisory lock it held.
				conn.Conn().Close(relCtx)
			}
			conn.Release()
		})
	}, nil
}

// advisoryID maps a string key onto the bigint keyspace of advisory locks.
func advisoryID(key string) int64 {
	h := fnv.New64a()
	h.Write([]byte(key))
	return int64(h.Sum64())
}

var _ Locker = (*Postgres)(nil)
