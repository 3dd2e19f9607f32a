package domain

import "time"

// ExpenseInput is what the classifier sees of a ledger row.
type ExpenseInput struct {
	CuentaContable   string `json:"cuenta_contable"`
	IDProveedor      string `json:"id_proveedor"`
	DescripcionGasto string `json:"descripcion_gasto"`
}

// Prediction is the classifier output for one ExpenseInput.
type Prediction struct {
	Grupo     string  `json:"grupo"`
	Subgrupo  string  `json:"subgrupo"`
	Confianza float64 `json:"confianza"`
}

// PendingRow is a row awaiting automatic classification.
type PendingRow struct {
	IDTransaccion int64
	Input         ExpenseInput
}

// Assignment writes a predicted label pair to one row.
type Assignment struct {
	IDTransaccion int64
	Grupo         string
	Subgrupo      string
}

// Label fields counted by consistency enforcement.
const (
	FieldGrupo    = "grupo"
	FieldSubgrupo = "subgrupo"
)

// LabelCount is how many classified rows of a provider carry a label.
type LabelCount struct {
	Provider string
	Field    string
	Label    string
	Count    int64
}

// ProviderMode is the most frequent label pair of a provider.
// Subgrupo is nil when the provider has no subgroup labels.
type ProviderMode struct {
	Provider string
	Grupo    string
	Subgrupo *string
}

// ClassificationReport summarises a batch classification run.
type ClassificationReport struct {
	Pending      int64         `json:"pending"`
	Classified   int64         `json:"classified"`
	FailedRows   int64         `json:"failed_rows"`
	Chunks       int           `json:"chunks"`
	FailedChunks int           `json:"failed_chunks"`
	Duration     time.Duration `json:"duration"`
}

// ConsistencyReport summarises a consistency enforcement run.
type ConsistencyReport struct {
	Providers    int           `json:"providers"`
	RowsUpdated  int64         `json:"rows_updated"`
	FailedChunks int           `json:"failed_chunks"`
	Duration     time.Duration `json:"duration"`
}
