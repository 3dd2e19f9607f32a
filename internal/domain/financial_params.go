package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// FinancialParam is a manually maintained figure used by the projections.
// (fecha_corte, pais, categoria, concepto) identifies a parameter.
type FinancialParam struct {
	FechaCorte  time.Time       `json:"fecha_corte"`
	Pais        string          `json:"pais"`
	Categoria   string          `json:"categoria"`
	Concepto    string          `json:"concepto"`
	Valor       decimal.Decimal `json:"valor"`
	Descripcion string          `json:"descripcion,omitempty"`
}
