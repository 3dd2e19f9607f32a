package loader

import (
	"context"
	"fmt"

	"github.com/rpattn/opexledger/internal/domain"
	"github.com/rpattn/opexledger/internal/repository"
)

// Strategy names.
const (
	StrategyFullRebuild       = "full_rebuild"
	StrategyIncrementalAppend = "incremental_append"
)

// Strategy decides which table a refresh writes into and how that table
// becomes the live ledger.
type Strategy interface {
	Name() string
	Prepare(ctx context.Context, store repository.LoadStore) (string, error)
	Publish(ctx context.Context, store repository.LoadStore, table string) error
}

// FullRebuild loads every source into a staging table and swaps it in.
// Readers keep seeing the previous ledger until the swap commits.
type FullRebuild struct {
	CarryOverManual bool
}

func (FullRebuild) Name() string { return StrategyFullRebuild }

func (FullRebuild) Prepare(ctx context.Context, store repository.LoadStore) (string, error) {
	if err := store.PrepareTable(ctx, domain.StagingTable); err != nil {
		return "", fmt.Errorf("prepare staging table: %w", err)
	}
	return domain.StagingTable, nil
}

func (s FullRebuild) Publish(ctx context.Context, store repository.LoadStore, table string) error {
	if err := store.EnsureManagementColumns(ctx, table); err != nil {
		return fmt.Errorf("add management columns: %w", err)
	}
	if err := store.PublishTable(ctx, table, repository.PublishOptions{CarryOverManual: s.CarryOverManual}); err != nil {
		return fmt.Errorf("publish %s: %w", table, err)
	}
	return nil
}

// IncrementalAppend appends into the live ledger, keeping existing rows and
// their classification.
type IncrementalAppend struct{}

func (IncrementalAppend) Name() string { return StrategyIncrementalAppend }

func (IncrementalAppend) Prepare(ctx context.Context, store repository.LoadStore) (string, error) {
	if err := store.EnsureLedgerTable(ctx, domain.LedgerTable); err != nil {
		return "", fmt.Errorf("ensure ledger table: %w", err)
	}
	if err := store.EnsureManagementColumns(ctx, domain.LedgerTable); err != nil {
		return "", fmt.Errorf("add management columns: %w", err)
	}
	return domain.LedgerTable, nil
}

func (IncrementalAppend) Publish(ctx context.Context, store repository.LoadStore, table string) error {
	return store.EnsureIndexes(ctx, table)
}

// StrategyByName resolves a configured strategy name.
func StrategyByName(name string, carryOverManual bool) (Strategy, error) {
	switch name {
	case "", StrategyFullRebuild:
		return FullRebuild{CarryOverManual: carryOverManual}, nil
	case StrategyIncrementalAppend:
		return IncrementalAppend{}, nil
	default:
		return nil, fmt.Errorf("unknown load strategy %q", name)
	}
}
