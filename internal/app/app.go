// Package app wires configuration, storage and jobs for the command line
// entry points.
package app

import (
	"context"
	"os"

	"github.com/rs/zerolog"

	"github.com/rpattn/opexledger/internal/api"
	"github.com/rpattn/opexledger/internal/classifier"
	"github.com/rpattn/opexledger/internal/config"
	"github.com/rpattn/opexledger/internal/consistency"
	"github.com/rpattn/opexledger/internal/db"
	"github.com/rpattn/opexledger/internal/logger"
	"github.com/rpattn/opexledger/internal/pipeline"
	"github.com/rpattn/opexledger/internal/reclassify"
	"github.com/rpattn/opexledger/internal/repository"
)

// Setup loads the configuration at path, or at OPEX_CONFIG_PATH when path is
// empty, and builds the process logger.
func Setup(path string) (config.Config, zerolog.Logger, error) {
	if path == "" {
		path = os.Getenv("OPEX_CONFIG_PATH")
	}
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, logger.New(), err
	}
	return cfg, logger.NewWithOptions(os.Stdout, cfg.Log), nil
}

// Connect migrates the warehouse and opens its pool.
func Connect(ctx context.Context, cfg config.Config, log zerolog.Logger) (*db.Connection, error) {
	if err := cfg.RequireDestination(); err != nil {
		return nil, err
	}
	if err := db.RunMigrations(cfg.Destination, log); err != nil {
		return nil, err
	}
	conn, err := db.NewConnection(ctx, cfg.Destination, log)
	if err != nil {
		return nil, err
	}
	log.Info().
		Str("host", cfg.Destination.Host).
		Str("database", cfg.Destination.DBName).
		Msg("connected to warehouse")
	return conn, nil
}

// ClassificationStore is what the classification steps need from a backend.
type ClassificationStore interface {
	repository.ClassificationStore
	repository.ConsistencyStore
}

// ClassificationSteps loads the models from cfg.ModelDir and returns the
// pipeline options for batch classification and consistency enforcement.
// Missing models leave the classifier degraded: consistency enforcement
// still runs and the run reports domain.ErrModelsUnavailable.
func ClassificationSteps(store ClassificationStore, cfg config.ClassifierConfig, log zerolog.Logger) []pipeline.Option {
	engine := classifier.LoadEngine(cfg.ModelDir, log)
	return []pipeline.Option{
		pipeline.WithClassifier(reclassify.NewJob(store, engine, log, reclassify.WithChunkSize(cfg.ChunkSize))),
		pipeline.WithUnifier(consistency.NewEnforcer(store, log, consistency.WithChunkSize(cfg.ConsistencyChunkSize))),
	}
}

// Locker returns the warehouse run lock held on conn's pool.
func Locker(conn *db.Connection) pipeline.Locker {
	return db.PoolLocker{Pool: conn.Pool, Key: db.PipelineLockKey}
}

// ResponseCache connects the API response cache shared by the server and the
// batch commands. The returned func closes it.
func ResponseCache(ctx context.Context, cfg config.Config, log zerolog.Logger) (api.Cache, func()) {
	cache := api.NewCache(ctx, cfg.Server.RedisAddr, cfg.Server.CacheTTL, log)
	if redisCache, ok := cache.(*api.RedisCache); ok {
		return cache, func() { _ = redisCache.Close() }
	}
	return cache, func() {}
}
