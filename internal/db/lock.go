package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rpattn/opexledger/internal/domain"
)

// PipelineLockKey guards the ledger against concurrent refresh and
// classification runs.
const PipelineLockKey int64 = 0x4f504558 // "OPEX"

// RunLock is a session level advisory lock pinned to one pool connection.
type RunLock struct {
	conn *pgxpool.Conn
	key  int64
}

// AcquireRunLock takes the advisory lock without waiting. It returns
// domain.ErrRunInProgress when another session holds it.
func AcquireRunLock(ctx context.Context, pool *pgxpool.Pool, key int64) (*RunLock, error) {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire connection for run lock: %w", err)
	}

	var locked bool
	if err := conn.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", key).Scan(&locked); err != nil {
		conn.Release()
		return nil, fmt.Errorf("failed to take run lock: %w", err)
	}
	if !locked {
		conn.Release()
		return nil, domain.ErrRunInProgress
	}

	return &RunLock{conn: conn, key: key}, nil
}

// Release unlocks and returns the connection to the pool.
func (l *RunLock) Release(ctx context.Context) error {
	if l == nil || l.conn == nil {
		return nil
	}
	defer func() {
		l.conn.Release()
		l.conn = nil
	}()

	if _, err := l.conn.Exec(ctx, "SELECT pg_advisory_unlock($1)", l.key); err != nil {
		return fmt.Errorf("failed to release run lock: %w", err)
	}
	return nil
}

// PoolLocker hands out run locks on a pool.
type PoolLocker struct {
	Pool *pgxpool.Pool
	Key  int64
}

// Lock takes the lock and returns its release function.
func (p PoolLocker) Lock(ctx context.Context) (func(context.Context) error, error) {
	lock, err := AcquireRunLock(ctx, p.Pool, p.Key)
	if err != nil {
		return nil, err
	}
	return lock.Release, nil
}
