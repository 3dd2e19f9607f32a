package loader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/rpattn/opexledger/internal/domain"
	"github.com/rpattn/opexledger/internal/repository"
	"github.com/rpattn/opexledger/internal/sources"
)

// ErrNoSourceLoaded aborts a refresh in which every source failed without
// contributing a row, leaving the live ledger untouched.
var ErrNoSourceLoaded = errors.New("no source could be loaded")

// Loader runs a refresh: it streams every source through normalisation into
// the warehouse and publishes the result.
type Loader struct {
	store       repository.LoadStore
	opener      sources.Opener
	strategy    Strategy
	descriptors []sources.Descriptor
	runLog      repository.RunLogRepository
	chunkSize   int
	log         zerolog.Logger
	now         func() time.Time
}

// Option customises a Loader.
type Option func(*Loader)

// WithRunLog records every run in repo.
func WithRunLog(repo repository.RunLogRepository) Option {
	return func(l *Loader) {
		l.runLog = repo
	}
}

// WithChunkSize sets the chunk size used by sources without their own.
func WithChunkSize(size int) Option {
	return func(l *Loader) {
		if size > 0 {
			l.chunkSize = size
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Loader) {
		if now != nil {
			l.now = now
		}
	}
}

// New creates a loader over descriptors.
func New(
	store repository.LoadStore,
	opener sources.Opener,
	strategy Strategy,
	descriptors []sources.Descriptor,
	log zerolog.Logger,
	opts ...Option,
) *Loader {
	l := &Loader{
		store:       store,
		opener:      opener,
		strategy:    strategy,
		descriptors: descriptors,
		chunkSize:   10000,
		log:         log,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.strategy == nil {
		l.strategy = FullRebuild{}
	}
	return l
}

// Run executes one refresh. Source and chunk failures are absorbed into the
// report; only destination failures and cancellation are returned.
func (l *Loader) Run(ctx context.Context) (domain.RunReport, error) {
	report := domain.NewRunReport(l.strategy.Name(), l.now())
	log := l.log.With().
		Str("run_id", report.RunID.String()).
		Str("strategy", report.Strategy).
		Logger()

	log.Info().Int("sources", len(l.descriptors)).Msg("refresh started")
	err := l.run(ctx, &report, log)
	report.FinishedAt = l.now()
	if err != nil {
		report.Error = err.Error()
		log.Error().Err(err).Msg("refresh failed")
	} else {
		log.Info().
			Int64("rows_loaded", report.RowsLoaded()).
			Int64("rows_failed", report.RowsFailed()).
			Int("sources_failed", report.SourcesFailed()).
			Dur("duration", report.FinishedAt.Sub(report.StartedAt)).
			Msg("refresh finished")
	}

	l.record(report, log)
	return report, err
}

func (l *Loader) run(ctx context.Context, report *domain.RunReport, log zerolog.Logger) error {
	if err := l.store.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrDestinationUnavailable, err)
	}

	table, err := l.strategy.Prepare(ctx, l.store)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrDestinationUnavailable, err)
	}

	loaded := 0
	for _, desc := range l.descriptors {
		if desc.Disabled {
			log.Info().Str("source", desc.Name).Msg("source disabled, skipping")
			continue
		}
		source := l.loadSource(ctx, desc, table, log)
		report.Sources = append(report.Sources, source)
		if source.Error == "" || source.RowsLoaded > 0 {
			loaded++
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}

	if loaded == 0 && len(report.Sources) > 0 {
		return ErrNoSourceLoaded
	}

	if err := l.strategy.Publish(ctx, l.store, table); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrDestinationUnavailable, err)
	}
	return nil
}

func (l *Loader) loadSource(ctx context.Context, desc sources.Descriptor, table string, log zerolog.Logger) (report domain.SourceReport) {
	started := l.now()
	report = domain.SourceReport{Source: desc.Name}
	log = log.With().Str("source", desc.Name).Logger()
	defer func() {
		report.Duration = l.now().Sub(started)
	}()

	stream, err := l.opener.Open(ctx, desc)
	if err != nil {
		report.Error = err.Error()
		log.Error().Err(err).Msg("source unavailable")
		return report
	}
	defer func() {
		if cerr := stream.Close(); cerr != nil {
			log.Warn().Err(cerr).Msg("failed to close source")
		}
	}()

	chunkSize := desc.EffectiveChunkSize(l.chunkSize)
	for chunk := 1; ; chunk++ {
		raws, readErr := stream.Next(ctx, chunkSize)
		if len(raws) > 0 {
			l.writeChunk(ctx, table, desc, chunk, raws, &report, log)
		}
		if errors.Is(readErr, io.EOF) {
			break
		}
		if readErr != nil {
			err := &domain.SourceError{Source: desc.Name, Err: fmt.Errorf("%w: %v", domain.ErrSourceUnavailable, readErr)}
			report.Error = err.Error()
			log.Error().Err(err).Int("chunk", chunk).Msg("source read interrupted")
			break
		}
		if ctx.Err() != nil {
			report.Error = ctx.Err().Error()
			break
		}
	}

	log.Info().
		Int64("rows_loaded", report.RowsLoaded).
		Int("chunks_loaded", report.ChunksLoaded).
		Int("chunks_failed", report.ChunksFailed).
		Msg("source finished")
	return report
}

// writeChunk is atomic: either every normalised row of the chunk lands or the
// chunk is counted as failed.
func (l *Loader) writeChunk(
	ctx context.Context,
	table string,
	desc sources.Descriptor,
	chunk int,
	raws []domain.RawRow,
	report *domain.SourceReport,
	log zerolog.Logger,
) {
	rows, quality := NormalizeChunk(raws, desc.ProvidesFechaCorte())
	report.RowsRead += int64(len(raws))
	report.MalformedAmounts += quality.MalformedAmounts
	report.DroppedDates += quality.DroppedDates
	report.TruncatedDescriptions += quality.TruncatedDescriptions
	report.MissingProviderIDs += quality.MissingProviderIDs

	if quality.Malformed() {
		log.Warn().
			Err(domain.ErrMalformedRow).
			Int("chunk", chunk).
			Int64("malformed_amounts", quality.MalformedAmounts).
			Int64("dropped_dates", quality.DroppedDates).
			Msg("data quality events")
	}
	if len(rows) == 0 {
		return
	}

	written, err := l.store.AppendRows(ctx, table, rows)
	if err != nil {
		report.ChunksFailed++
		report.RowsFailed += int64(len(rows))
		log.Error().
			Err(fmt.Errorf("%w: %v", domain.ErrChunkWriteFailure, err)).
			Int("chunk", chunk).
			Int("rows", len(rows)).
			Msg("chunk rejected")
		return
	}
	report.ChunksLoaded++
	report.RowsLoaded += written
	log.Debug().Int("chunk", chunk).Int64("rows", written).Msg("chunk loaded")
}

func (l *Loader) record(report domain.RunReport, log zerolog.Logger) {
	if l.runLog == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := l.runLog.Record(ctx, report.JobRun()); err != nil {
		log.Warn().Err(err).Msg("failed to record run")
	}
}
