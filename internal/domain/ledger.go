package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	// LedgerSchema is the warehouse schema that owns the consolidated ledger.
	LedgerSchema = "control_gestion"
	// LedgerTable is the consolidated ledger consumed by the dashboards.
	LedgerTable = "libros_diarios_consolidados"
	// StagingTable receives a full rebuild before it is swapped in.
	StagingTable = LedgerTable + "_staging"

	// SentinelProviderID replaces a missing provider identifier.
	SentinelProviderID = "SIN_ID"
	// MaxDescriptionLength bounds descripcion_gasto, counted in characters.
	MaxDescriptionLength = 500
)

// Review statuses accepted on manual updates.
const (
	StatusPending   = "Pendiente"
	StatusInReview  = "En Revisión"
	StatusReviewed  = "Revisado"
	StatusClosed    = "Cerrado"
	DefaultStatus   = StatusPending
	DefaultSubgroup = "General"
)

// ValidStatus reports whether status is one of the review statuses.
func ValidStatus(status string) bool {
	switch status {
	case StatusPending, StatusInReview, StatusReviewed, StatusClosed:
		return true
	}
	return false
}

// OpexAccountPrefixes are the chart-of-accounts prefixes treated as operating expense.
var OpexAccountPrefixes = []string{"31", "32", "42", "5"}

// RawRow is a row as projected by a source adapter, before normalisation.
// A nil pointer is a NULL in the source.
type RawRow struct {
	Empresa          string
	FechaCorte       *string
	FechaTransaccion *string
	CuentaContable   *string
	IDProveedor      *string
	NombreTercero    *string
	DescripcionGasto *string
	Valor            *string
}

// LedgerRow is one normalised expense line of the consolidated ledger.
type LedgerRow struct {
	IDTransaccion       int64           `json:"id_transaccion"`
	Empresa             string          `json:"empresa"`
	FechaCorte          time.Time       `json:"fecha_corte"`
	FechaTransaccion    string          `json:"fecha_transaccion"`
	CuentaContable      string          `json:"cuenta_contable"`
	IDProveedor         string          `json:"id_proveedor"`
	NombreTercero       string          `json:"nombre_tercero"`
	DescripcionGasto    string          `json:"descripcion_gasto"`
	Valor               decimal.Decimal `json:"valor"`
	Grupo               *string         `json:"grupo"`
	Subgrupo            *string         `json:"subgrupo"`
	StatusGestion       string          `json:"status_gestion"`
	ClasificacionManual bool            `json:"clasificacion_manual"`
}

// Classified reports whether the row carries a non-empty group.
func (r LedgerRow) Classified() bool {
	return r.Grupo != nil && *r.Grupo != ""
}

// MonthEnd returns the last calendar day of t's month at midnight UTC.
func MonthEnd(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month()+1, 0, 0, 0, 0, 0, time.UTC)
}

// TransactionFilter drives the consumer read contract.
type TransactionFilter struct {
	StartDate      time.Time
	EndDate        time.Time
	Empresas       []string
	AccountPrefix  string
	ProviderSearch string
	Limit          int
}

// RowUpdate is a manual edit of a single ledger row. Empty fields are left untouched.
type RowUpdate struct {
	IDTransaccion int64  `json:"id_transaccion"`
	Grupo         string `json:"grupo,omitempty"`
	Subgrupo      string `json:"subgrupo,omitempty"`
	StatusGestion string `json:"status_gestion,omitempty"`
}

// ProviderUpdate is a manual edit applied to every row of one provider.
type ProviderUpdate struct {
	NombreTercero string `json:"nombre_tercero"`
	Grupo         string `json:"grupo,omitempty"`
	Subgrupo      string `json:"subgrupo,omitempty"`
	StatusGestion string `json:"status_gestion,omitempty"`
}

// PeriodTotal aggregates OPEX per company and month.
type PeriodTotal struct {
	Empresa string          `json:"empresa"`
	Periodo string          `json:"periodo"`
	Total   decimal.Decimal `json:"total"`
}

// Categories lists the distinct labels currently present in the ledger.
type Categories struct {
	Grupos    []string `json:"grupos"`
	Subgrupos []string `json:"subgrupos"`
}
