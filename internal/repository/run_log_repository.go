package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rpattn/opexledger/internal/domain"
)

type runLogRepository struct {
	pool *pgxpool.Pool
}

// NewRunLogRepository wires a run log backed by pgxpool.
func NewRunLogRepository(pool *pgxpool.Pool) RunLogRepository {
	return &runLogRepository{pool: pool}
}

func (r *runLogRepository) Record(ctx context.Context, run domain.JobRun) error {
	if r.pool == nil {
		return fmt.Errorf("run log repository not initialized")
	}

	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(
			ctx,
			`INSERT INTO control_gestion.etl_runs
				(id, job, strategy, status, started_at, finished_at, rows_affected, rows_failed, error_message)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			run.ID,
			run.Job,
			run.Strategy,
			run.Status,
			run.StartedAt,
			run.FinishedAt,
			run.RowsAffected,
			run.RowsFailed,
			run.ErrorMessage,
		)
		if err != nil {
			return fmt.Errorf("failed to record run: %w", err)
		}

		if len(run.Sources) == 0 {
			return nil
		}

		_, err = tx.CopyFrom(
			ctx,
			pgx.Identifier{"control_gestion", "etl_run_sources"},
			[]string{
				"run_id", "source", "rows_read", "rows_loaded", "rows_failed", "chunks_loaded", "chunks_failed",
				"malformed_amounts", "dropped_dates", "truncated_descriptions", "missing_provider_ids",
				"duration_ms", "error_message",
			},
			pgx.CopyFromSlice(len(run.Sources), func(i int) ([]any, error) {
				s := run.Sources[i]
				return []any{
					run.ID, s.Source, s.RowsRead, s.RowsLoaded, s.RowsFailed, int32(s.ChunksLoaded), int32(s.ChunksFailed),
					s.MalformedAmounts, s.DroppedDates, s.TruncatedDescriptions, s.MissingProviderIDs,
					s.Duration.Milliseconds(), s.Error,
				}, nil
			}),
		)
		if err != nil {
			return fmt.Errorf("failed to record run sources: %w", err)
		}
		return nil
	})
}

func (r *runLogRepository) List(ctx context.Context, limit int, offset int) ([]domain.JobRun, error) {
	if r.pool == nil {
		return nil, fmt.Errorf("run log repository not initialized")
	}

	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := r.pool.Query(
		ctx,
		`SELECT id, job, strategy, status, started_at, finished_at, rows_affected, rows_failed, error_message
		 FROM control_gestion.etl_runs
		 ORDER BY started_at DESC
		 LIMIT $1 OFFSET $2`,
		limit,
		offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := []domain.JobRun{}
	index := map[uuid.UUID]int{}
	ids := []uuid.UUID{}
	for rows.Next() {
		var (
			run      domain.JobRun
			finished pgtype.Timestamptz
		)
		if err := rows.Scan(
			&run.ID,
			&run.Job,
			&run.Strategy,
			&run.Status,
			&run.StartedAt,
			&finished,
			&run.RowsAffected,
			&run.RowsFailed,
			&run.ErrorMessage,
		); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		if finished.Valid {
			run.FinishedAt = finished.Time
		}
		index[run.ID] = len(runs)
		ids = append(ids, run.ID)
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate runs: %w", err)
	}
	if len(ids) == 0 {
		return runs, nil
	}

	sourceRows, err := r.pool.Query(
		ctx,
		`SELECT run_id, source, rows_read, rows_loaded, rows_failed, chunks_loaded, chunks_failed,
		        malformed_amounts, dropped_dates, truncated_descriptions, missing_provider_ids,
		        duration_ms, error_message
		 FROM control_gestion.etl_run_sources
		 WHERE run_id = ANY($1)
		 ORDER BY run_id, id`,
		ids,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list run sources: %w", err)
	}
	defer sourceRows.Close()

	for sourceRows.Next() {
		var (
			runID      uuid.UUID
			s          domain.SourceReport
			durationMS int64
			loaded     int32
			failed     int32
		)
		if err := sourceRows.Scan(
			&runID, &s.Source, &s.RowsRead, &s.RowsLoaded, &s.RowsFailed, &loaded, &failed,
			&s.MalformedAmounts, &s.DroppedDates, &s.TruncatedDescriptions, &s.MissingProviderIDs,
			&durationMS, &s.Error,
		); err != nil {
			return nil, fmt.Errorf("failed to scan run source: %w", err)
		}
		s.ChunksLoaded = int(loaded)
		s.ChunksFailed = int(failed)
		s.Duration = time.Duration(durationMS) * time.Millisecond
		if i, ok := index[runID]; ok {
			runs[i].Sources = append(runs[i].Sources, s)
		}
	}
	if err := sourceRows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate run sources: %w", err)
	}

	return runs, nil
}
