package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	flag "github.com/spf13/pflag"

	"github.com/rpattn/opexledger/internal/app"
	"github.com/rpattn/opexledger/internal/config"
	"github.com/rpattn/opexledger/internal/domain"
	"github.com/rpattn/opexledger/internal/loader"
	"github.com/rpattn/opexledger/internal/logger"
	"github.com/rpattn/opexledger/internal/pipeline"
	"github.com/rpattn/opexledger/internal/repository"
	"github.com/rpattn/opexledger/internal/repository/memstore"
	"github.com/rpattn/opexledger/internal/sources"
)

func main() {
	configPath := flag.String("config", "", "config file or directory holding config.yaml (default $OPEX_CONFIG_PATH, then ./configs)")
	strategyName := flag.String("strategy", "", "load strategy: full_rebuild or incremental_append (default from config)")
	dryRun := flag.Bool("dry-run", false, "read and normalise every source without writing to the warehouse")
	classify := flag.Bool("classify", false, "classify pending rows after a successful refresh")
	skipConsistency := flag.Bool("skip-consistency", false, "skip provider consistency enforcement after classification")
	flag.Parse()

	cfg, log, err := app.Setup(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if *strategyName != "" {
		cfg.Loader.Strategy = *strategyName
	}

	err = run(cfg, log, options{dryRun: *dryRun, classify: *classify, skipConsistency: *skipConsistency})
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrRunInProgress):
		log.Warn().Msg("another run holds the ledger, nothing to do")
		os.Exit(2)
	default:
		log.Error().Err(err).Msg("run failed")
		os.Exit(1)
	}
}

type options struct {
	dryRun          bool
	classify        bool
	skipConsistency bool
}

// run owns every resource it opens, so deferred cleanup happens before main
// decides the exit code.
func run(cfg config.Config, log zerolog.Logger, opt options) error {
	strategy, err := loader.StrategyByName(cfg.Loader.Strategy, cfg.Loader.CarryOverManual)
	if err != nil {
		return err
	}
	if len(cfg.Sources) == 0 {
		return errors.New("no sources configured")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logger.WithContext(ctx, log)

	var (
		store  repository.LedgerRepository
		runLog repository.RunLogRepository
		opts   []pipeline.Option
	)
	if opt.dryRun {
		mem := memstore.New()
		store, runLog = mem, mem
		log.Info().Msg("dry run: rows are normalised in memory and discarded")
	} else {
		conn, err := app.Connect(ctx, cfg, log)
		if err != nil {
			return fmt.Errorf("failed to open warehouse: %w", err)
		}
		defer conn.Close()
		cache, closeCache := app.ResponseCache(ctx, cfg, log)
		defer closeCache()

		store = repository.NewLedgerRepository(conn.Pool)
		runLog = repository.NewRunLogRepository(conn.Pool)
		opts = append(opts, pipeline.WithLocker(app.Locker(conn)), pipeline.WithCache(cache))
	}

	refresher := loader.New(
		store,
		sources.NewRegistry(cfg.Connections, log),
		strategy,
		cfg.Sources,
		log,
		loader.WithRunLog(runLog),
		loader.WithChunkSize(cfg.Loader.ChunkSize),
	)
	opts = append(opts, pipeline.WithRefresher(refresher), pipeline.WithRunLog(runLog))

	if !opt.classify {
		report, err := pipeline.New(log, opts...).Refresh(ctx)
		logSources(log, report)
		return err
	}

	opts = append(opts, app.ClassificationSteps(store, cfg.Classifier, log)...)
	report, outcome, err := pipeline.New(log, opts...).RefreshAndClassify(ctx, opt.skipConsistency)
	logSources(log, report)
	if errors.Is(err, domain.ErrModelsUnavailable) {
		log.Warn().Err(err).Msg("ledger refreshed, rows left pending until models are available")
		return nil
	}
	if err != nil {
		return err
	}
	log.Info().
		Int64("classified", outcome.Classification.Classified).
		Int("failed_chunks", outcome.Classification.FailedChunks).
		Msg("classification finished")
	return nil
}

func logSources(log zerolog.Logger, report domain.RunReport) {
	for _, s := range report.Sources {
		event := log.Info()
		if s.Failed() {
			event = log.Warn()
		}
		event.
			Str("source", s.Source).
			Int64("rows_loaded", s.RowsLoaded).
			Int64("rows_failed", s.RowsFailed).
			Int64("malformed_amounts", s.MalformedAmounts).
			Int64("dropped_dates", s.DroppedDates).
			Str("error", s.Error).
			Msg("source summary")
	}
}
