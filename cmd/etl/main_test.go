package main

import (
	"errors"
	"testing"

	"github.com/rpattn/opexledger/internal/config"
	"github.com/rpattn/opexledger/internal/loader"
	"github.com/rpattn/opexledger/internal/logger"
	"github.com/rpattn/opexledger/internal/sources"
)

func TestRunReturnsConfigErrors(t *testing.T) {
	cfg := config.Config{Loader: config.LoaderConfig{Strategy: "nightly"}}
	if err := run(cfg, logger.Nop(), options{dryRun: true}); err == nil {
		t.Fatalf("expected unknown strategy to be reported")
	}

	cfg.Loader.Strategy = loader.StrategyFullRebuild
	if err := run(cfg, logger.Nop(), options{dryRun: true}); err == nil {
		t.Fatalf("expected missing sources to be reported")
	}
}

func TestDryRunReturnsLoadFailure(t *testing.T) {
	cfg := config.Config{
		Loader:  config.LoaderConfig{Strategy: loader.StrategyFullRebuild},
		Sources: []sources.Descriptor{{Name: "GFO", Connection: "nowhere"}},
	}
	err := run(cfg, logger.Nop(), options{dryRun: true})
	if !errors.Is(err, loader.ErrNoSourceLoaded) {
		t.Fatalf("expected ErrNoSourceLoaded, got %v", err)
	}
}
