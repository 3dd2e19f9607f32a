package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/cors"
	"github.com/shopspring/decimal"
	flag "github.com/spf13/pflag"

	"github.com/rpattn/opexledger/internal/api"
	"github.com/rpattn/opexledger/internal/app"
	"github.com/rpattn/opexledger/internal/classifier"
	"github.com/rpattn/opexledger/internal/middleware"
	"github.com/rpattn/opexledger/internal/repository"
)

func main() {
	configPath := flag.String("config", "", "config file or directory holding config.yaml (default $OPEX_CONFIG_PATH, then ./configs)")
	flag.Parse()

	// Amounts are sent to the dashboards as JSON numbers.
	decimal.MarshalJSONWithoutQuotes = true

	cfg, log, err := app.Setup(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	conn, err := app.Connect(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open warehouse")
	}
	defer conn.Close()

	cache, closeCache := app.ResponseCache(ctx, cfg, log)
	defer closeCache()

	handler := api.NewHandler(
		repository.NewLedgerRepository(conn.Pool),
		log,
		api.WithPredictor(classifier.LoadEngine(cfg.Classifier.ModelDir, log)),
		api.WithFinancialParams(repository.NewFinancialParamsRepository(conn.Pool)),
		api.WithRunLog(repository.NewRunLogRepository(conn.Pool)),
		api.WithCache(cache),
		api.WithMaxRows(cfg.Server.MaxRows),
	)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowCredentials: true,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"Content-Disposition", "X-Request-Id", "X-Cache"},
	})

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      corsHandler.Handler(middleware.LoggingMiddleware(log)(handler)),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Msg("starting opex api")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}
	log.Info().Msg("server exited")
}
