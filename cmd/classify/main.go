package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	flag "github.com/spf13/pflag"

	"github.com/rpattn/opexledger/internal/app"
	"github.com/rpattn/opexledger/internal/config"
	"github.com/rpattn/opexledger/internal/domain"
	"github.com/rpattn/opexledger/internal/logger"
	"github.com/rpattn/opexledger/internal/pipeline"
	"github.com/rpattn/opexledger/internal/repository"
)

func main() {
	configPath := flag.String("config", "", "config file or directory holding config.yaml (default $OPEX_CONFIG_PATH, then ./configs)")
	skipConsistency := flag.Bool("skip-consistency", false, "skip provider consistency enforcement")
	schedule := flag.String("schedule", "", "cron expression; run repeatedly instead of once (default from config when --daemon is set)")
	daemon := flag.Bool("daemon", false, "run on the configured classifier schedule")
	flag.Parse()

	cfg, log, err := app.Setup(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if *schedule == "" && *daemon {
		*schedule = cfg.Classifier.Schedule
	}
	if *daemon && *schedule == "" {
		log.Fatal().Msg("--daemon needs classifier.schedule or --schedule")
	}

	if err := run(cfg, log, *schedule, *skipConsistency); err != nil {
		log.Error().Err(err).Msg("classification failed")
		os.Exit(1)
	}
}

func run(cfg config.Config, log zerolog.Logger, schedule string, skipConsistency bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logger.WithContext(ctx, log)

	conn, err := app.Connect(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("failed to open warehouse: %w", err)
	}
	defer conn.Close()
	cache, closeCache := app.ResponseCache(ctx, cfg, log)
	defer closeCache()

	store := repository.NewLedgerRepository(conn.Pool)
	opts := append(app.ClassificationSteps(store, cfg.Classifier, log),
		pipeline.WithLocker(app.Locker(conn)),
		pipeline.WithRunLog(repository.NewRunLogRepository(conn.Pool)),
		pipeline.WithCache(cache),
	)
	p := pipeline.New(log, opts...)

	if schedule == "" {
		return runOnce(ctx, p, skipConsistency, log)
	}

	c := cron.New(cron.WithChain(
		cron.Recover(cron.DefaultLogger),
		cron.SkipIfStillRunning(cron.DefaultLogger),
	))
	if _, err := c.AddFunc(schedule, func() {
		if err := runOnce(ctx, p, skipConsistency, log); err != nil {
			log.Error().Err(err).Msg("scheduled classification failed")
		}
	}); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", schedule, err)
	}

	log.Info().Str("schedule", schedule).Msg("classification scheduler started")
	c.Start()
	<-ctx.Done()
	log.Info().Msg("stopping scheduler, waiting for the running job")
	<-c.Stop().Done()
	return nil
}

func runOnce(ctx context.Context, p *pipeline.Pipeline, skipConsistency bool, log zerolog.Logger) error {
	outcome, err := p.Classify(ctx, skipConsistency)
	if errors.Is(err, domain.ErrRunInProgress) {
		log.Warn().Msg("another run holds the ledger, skipping")
		return nil
	}
	if err != nil {
		return err
	}

	event := log.Info().
		Str("run_id", outcome.RunID.String()).
		Int64("pending", outcome.Classification.Pending).
		Int64("classified", outcome.Classification.Classified).
		Int("failed_chunks", outcome.Classification.FailedChunks)
	if outcome.Consistency != nil {
		event = event.
			Int("providers", outcome.Consistency.Providers).
			Int64("unified_rows", outcome.Consistency.RowsUpdated)
	}
	event.Msg("classification run finished")
	return nil
}
