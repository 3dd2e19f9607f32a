package reclassify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/rpattn/opexledger/internal/classifier"
	"github.com/rpattn/opexledger/internal/domain"
	"github.com/rpattn/opexledger/internal/repository"
)

const defaultChunkSize = 50000

// Job labels every pending ledger row with the classifier. Rows carrying a
// label or flagged manual are never selected, so reruns only pick up what
// is still pending.
type Job struct {
	store     repository.ClassificationStore
	predictor classifier.Predictor
	chunkSize int
	log       zerolog.Logger
	now       func() time.Time
}

// Option customises a Job.
type Option func(*Job)

// WithChunkSize sets how many rows are predicted and written per transaction.
func WithChunkSize(size int) Option {
	return func(j *Job) {
		if size > 0 {
			j.chunkSize = size
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(j *Job) {
		if now != nil {
			j.now = now
		}
	}
}

// NewJob creates a classification job.
func NewJob(store repository.ClassificationStore, predictor classifier.Predictor, log zerolog.Logger, opts ...Option) *Job {
	j := &Job{
		store:     store,
		predictor: predictor,
		chunkSize: defaultChunkSize,
		log:       log,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Run classifies pending rows chunk by chunk. A chunk that fails to write is
// counted and skipped; its rows stay pending for the next run.
func (j *Job) Run(ctx context.Context) (report domain.ClassificationReport, err error) {
	started := j.now()
	defer func() {
		report.Duration = j.now().Sub(started)
	}()

	if j.predictor == nil || !j.predictor.Ready() {
		return report, domain.ErrModelsUnavailable
	}

	if err := j.store.EnsureManagementColumns(ctx, domain.LedgerTable); err != nil {
		return report, fmt.Errorf("%w: %v", domain.ErrDestinationUnavailable, err)
	}

	pending, err := j.store.CountPending(ctx)
	if err != nil {
		return report, fmt.Errorf("%w: %v", domain.ErrDestinationUnavailable, err)
	}
	report.Pending = pending
	if pending == 0 {
		j.log.Info().Msg("nothing pending classification")
		return report, nil
	}
	j.log.Info().Int64("pending", pending).Int("chunk_size", j.chunkSize).Msg("classification started")

	var afterID int64
	for {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		rows, err := j.store.ListPending(ctx, afterID, j.chunkSize)
		if err != nil {
			return report, fmt.Errorf("%w: %v", domain.ErrDestinationUnavailable, err)
		}
		if len(rows) == 0 {
			break
		}
		afterID = rows[len(rows)-1].IDTransaccion
		report.Chunks++

		updated, err := j.classifyChunk(ctx, rows)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return report, err
			}
			report.FailedChunks++
			report.FailedRows += int64(len(rows))
			j.log.Error().Err(err).Int("chunk", report.Chunks).Int("rows", len(rows)).Msg("classification chunk failed")
			continue
		}
		report.Classified += updated
		j.log.Debug().
			Int("chunk", report.Chunks).
			Int64("classified", report.Classified).
			Int64("pending", report.Pending).
			Msg("classification chunk written")
	}

	j.log.Info().
		Int64("classified", report.Classified).
		Int("failed_chunks", report.FailedChunks).
		Msg("classification finished")
	return report, nil
}

func (j *Job) classifyChunk(ctx context.Context, rows []domain.PendingRow) (int64, error) {
	assignments := make([]domain.Assignment, 0, len(rows))
	for _, row := range rows {
		prediction, err := j.predictor.Predict(row.Input)
		if err != nil {
			return 0, fmt.Errorf("failed to predict row %d: %w", row.IDTransaccion, err)
		}
		assignments = append(assignments, domain.Assignment{
			IDTransaccion: row.IDTransaccion,
			Grupo:         prediction.Grupo,
			Subgrupo:      prediction.Subgrupo,
		})
	}

	updated, err := j.store.ApplyClassifications(ctx, assignments)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", domain.ErrChunkWriteFailure, err)
	}
	return updated, nil
}
