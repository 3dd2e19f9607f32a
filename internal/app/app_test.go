package app

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/rpattn/opexledger/internal/config"
	"github.com/rpattn/opexledger/internal/domain"
	"github.com/rpattn/opexledger/internal/pipeline"
	"github.com/rpattn/opexledger/internal/repository/memstore"
)

func str(s string) *string { return &s }

func TestClassificationStepsWithoutModelsUnifyProviders(t *testing.T) {
	store := memstore.New()
	store.Seed([]domain.LedgerRow{
		{IDTransaccion: 1, Empresa: "GFO", CuentaContable: "5101", NombreTercero: "Acme", Valor: decimal.NewFromInt(10), Grupo: str("A")},
		{IDTransaccion: 2, Empresa: "GFO", CuentaContable: "5101", NombreTercero: "Acme", Valor: decimal.NewFromInt(20), Grupo: str("A")},
		{IDTransaccion: 3, Empresa: "GFO", CuentaContable: "5101", NombreTercero: "Acme", Valor: decimal.NewFromInt(30), Grupo: str("B")},
		{IDTransaccion: 4, Empresa: "GFO", CuentaContable: "5102", NombreTercero: "Acme", Valor: decimal.NewFromInt(40)},
	})

	steps := ClassificationSteps(store, config.ClassifierConfig{ModelDir: t.TempDir()}, zerolog.Nop())
	p := pipeline.New(zerolog.Nop(), append(steps, pipeline.WithRunLog(store))...)

	outcome, err := p.Classify(context.Background(), false)
	if !errors.Is(err, domain.ErrModelsUnavailable) {
		t.Fatalf("expected ErrModelsUnavailable, got %v", err)
	}
	if outcome.Consistency == nil || outcome.Consistency.RowsUpdated != 1 {
		t.Fatalf("expected one row unified, got %+v", outcome.Consistency)
	}

	for _, row := range store.Rows(domain.LedgerTable) {
		switch row.IDTransaccion {
		case 3:
			if row.Grupo == nil || *row.Grupo != "A" {
				t.Fatalf("expected row 3 to carry the provider mode, got %v", row.Grupo)
			}
		case 4:
			if row.Grupo != nil {
				t.Fatalf("pending row must stay unlabelled without models, got %q", *row.Grupo)
			}
		}
	}

	runs, _ := store.List(context.Background(), 10, 0)
	if len(runs) != 1 || runs[0].Status != domain.RunPartial {
		t.Fatalf("expected a partial classification run, got %+v", runs)
	}
}
