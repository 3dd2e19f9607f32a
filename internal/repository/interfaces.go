package repository

import (
	"context"
	"time"

	"github.com/rpattn/opexledger/internal/domain"
)

// PublishOptions tune how a rebuilt table replaces the live ledger.
type PublishOptions struct {
	// CarryOverManual copies manual labels from the previous ledger onto
	// rows with the same natural key.
	CarryOverManual bool
}

// LoadStore is the warehouse surface used by a refresh.
type LoadStore interface {
	Ping(ctx context.Context) error
	// PrepareTable drops table if present and recreates it with data columns only.
	PrepareTable(ctx context.Context, table string) error
	// EnsureLedgerTable creates table with the full ledger schema if it is missing.
	EnsureLedgerTable(ctx context.Context, table string) error
	AppendRows(ctx context.Context, table string, rows []domain.LedgerRow) (int64, error)
	EnsureManagementColumns(ctx context.Context, table string) error
	// PublishTable atomically replaces the live ledger with staging.
	PublishTable(ctx context.Context, staging string, opts PublishOptions) error
	EnsureIndexes(ctx context.Context, table string) error
}

// ClassificationStore is the surface used by batch classification.
type ClassificationStore interface {
	EnsureManagementColumns(ctx context.Context, table string) error
	CountPending(ctx context.Context) (int64, error)
	// ListPending returns up to limit unclassified, non-manual rows with an
	// id greater than afterID, ordered by id.
	ListPending(ctx context.Context, afterID int64, limit int) ([]domain.PendingRow, error)
	// ApplyClassifications writes predictions in one transaction, skipping
	// rows that became manual or classified in the meantime.
	ApplyClassifications(ctx context.Context, assignments []domain.Assignment) (int64, error)
}

// ConsistencyStore is the surface used by provider consistency enforcement.
type ConsistencyStore interface {
	ProviderLabelCounts(ctx context.Context) ([]domain.LabelCount, error)
	// ApplyProviderModes rewrites classified, non-manual rows of each provider
	// to its mode in one transaction.
	ApplyProviderModes(ctx context.Context, modes []domain.ProviderMode) (int64, error)
}

// LedgerQueries is the consumer read and write contract.
type LedgerQueries interface {
	Categories(ctx context.Context) (domain.Categories, error)
	Summary(ctx context.Context, year int) ([]domain.PeriodTotal, error)
	ListTransactions(ctx context.Context, filter domain.TransactionFilter) ([]domain.LedgerRow, error)
	ListPendingReview(ctx context.Context, limit int) ([]domain.LedgerRow, error)
	UpdateRows(ctx context.Context, updates []domain.RowUpdate) (int64, error)
	UpdateProviders(ctx context.Context, updates []domain.ProviderUpdate) (int64, error)
}

// LedgerRepository is implemented by every warehouse backend.
type LedgerRepository interface {
	LoadStore
	ClassificationStore
	ConsistencyStore
	LedgerQueries
}

// RunLogRepository persists refresh and classification runs.
type RunLogRepository interface {
	Record(ctx context.Context, run domain.JobRun) error
	List(ctx context.Context, limit int, offset int) ([]domain.JobRun, error)
}

// FinancialParamsRepository stores the manually maintained projection inputs.
type FinancialParamsRepository interface {
	List(ctx context.Context, fechaCorte *time.Time, pais string) ([]domain.FinancialParam, error)
	Upsert(ctx context.Context, params []domain.FinancialParam) (int64, error)
}
