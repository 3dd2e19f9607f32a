package consistency

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/rpattn/opexledger/internal/domain"
	"github.com/rpattn/opexledger/internal/repository"
	"github.com/rpattn/opexledger/internal/repository/memstore"
)

func str(s string) *string { return &s }

func label(s *string) string {
	if s == nil {
		return "<nil>"
	}
	return *s
}

func TestComputeModesPicksMostFrequent(t *testing.T) {
	modes := ComputeModes([]domain.LabelCount{
		{Provider: "ACME", Field: domain.FieldGrupo, Label: "A", Count: 2},
		{Provider: "ACME", Field: domain.FieldGrupo, Label: "B", Count: 1},
		{Provider: "ACME", Field: domain.FieldSubgrupo, Label: "s2", Count: 3},
		{Provider: "BETA", Field: domain.FieldGrupo, Label: "Z", Count: 2},
		{Provider: "BETA", Field: domain.FieldGrupo, Label: "Y", Count: 2},
		{Provider: domain.SentinelProviderID, Field: domain.FieldGrupo, Label: "X", Count: 9},
		{Provider: "", Field: domain.FieldGrupo, Label: "X", Count: 9},
	})

	if len(modes) != 2 {
		t.Fatalf("expected 2 providers, got %+v", modes)
	}
	if modes[0].Provider != "ACME" || modes[0].Grupo != "A" || label(modes[0].Subgrupo) != "s2" {
		t.Fatalf("unexpected ACME mode %+v", modes[0])
	}
	if modes[1].Provider != "BETA" || modes[1].Grupo != "Y" {
		t.Fatalf("ties must resolve to the smallest label, got %+v", modes[1])
	}
	if modes[1].Subgrupo != nil {
		t.Fatalf("provider without subgroup labels must keep subgroups, got %q", *modes[1].Subgrupo)
	}
}

func TestComputeModesIsDeterministic(t *testing.T) {
	counts := []domain.LabelCount{
		{Provider: "P", Field: domain.FieldGrupo, Label: "b", Count: 1},
		{Provider: "P", Field: domain.FieldGrupo, Label: "a", Count: 1},
		{Provider: "P", Field: domain.FieldGrupo, Label: "c", Count: 1},
	}
	for i := 0; i < 20; i++ {
		if got := ComputeModes(counts)[0].Grupo; got != "a" {
			t.Fatalf("iteration %d: expected a, got %s", i, got)
		}
	}
}

func seed() *memstore.Store {
	store := memstore.New()
	store.Seed([]domain.LedgerRow{
		{IDTransaccion: 1, NombreTercero: "ACME", Grupo: str("A"), Subgrupo: str("s1")},
		{IDTransaccion: 2, NombreTercero: "ACME", Grupo: str("A"), Subgrupo: str("s1")},
		{IDTransaccion: 3, NombreTercero: "ACME", Grupo: str("B"), Subgrupo: str("s2")},
		{IDTransaccion: 4, NombreTercero: "ACME", Grupo: str("B"), Subgrupo: str("s9"), ClasificacionManual: true},
		{IDTransaccion: 5, NombreTercero: "ACME"},
		{IDTransaccion: 6, NombreTercero: domain.SentinelProviderID, Grupo: str("Q")},
		{IDTransaccion: 7, NombreTercero: domain.SentinelProviderID, Grupo: str("R")},
	})
	return store
}

func byID(t *testing.T, store *memstore.Store, id int64) domain.LedgerRow {
	t.Helper()
	for _, row := range store.Rows(domain.LedgerTable) {
		if row.IDTransaccion == id {
			return row
		}
	}
	t.Fatalf("row %d not found", id)
	return domain.LedgerRow{}
}

func TestEnforcerRespectsManualRows(t *testing.T) {
	store := seed()
	report, err := NewEnforcer(store, zerolog.Nop()).Run(context.Background())
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	// ACME grupo counts: A=2, B=2 (manual counts) -> tie -> A; subgrupo s1=2.
	if report.Providers != 1 || report.RowsUpdated != 1 {
		t.Fatalf("unexpected report %+v", report)
	}
	if row := byID(t, store, 3); label(row.Grupo) != "A" || label(row.Subgrupo) != "s1" {
		t.Fatalf("row 3 not unified: %+v", row)
	}
	if row := byID(t, store, 4); label(row.Grupo) != "B" || label(row.Subgrupo) != "s9" {
		t.Fatalf("manual row was rewritten: %+v", row)
	}
	if row := byID(t, store, 5); row.Grupo != nil {
		t.Fatalf("unclassified row must stay pending: %+v", row)
	}
	if row := byID(t, store, 7); label(row.Grupo) != "R" {
		t.Fatalf("sentinel provider rows must be left alone: %+v", row)
	}
}

func TestEnforcerIsIdempotent(t *testing.T) {
	store := seed()
	enforcer := NewEnforcer(store, zerolog.Nop())
	if _, err := enforcer.Run(context.Background()); err != nil {
		t.Fatalf("first run: %v", err)
	}
	report, err := enforcer.Run(context.Background())
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if report.RowsUpdated != 0 {
		t.Fatalf("second run should change nothing, updated %d", report.RowsUpdated)
	}
}

type flakyStore struct {
	counts []domain.LabelCount
	calls  int
	failOn int
}

var _ repository.ConsistencyStore = (*flakyStore)(nil)

func (f *flakyStore) ProviderLabelCounts(ctx context.Context) ([]domain.LabelCount, error) {
	return f.counts, nil
}

func (f *flakyStore) ApplyProviderModes(ctx context.Context, modes []domain.ProviderMode) (int64, error) {
	f.calls++
	if f.calls == f.failOn {
		return 0, errors.New("lock timeout")
	}
	return int64(len(modes)), nil
}

func TestEnforcerContinuesAfterFailedChunk(t *testing.T) {
	store := &flakyStore{
		counts: []domain.LabelCount{
			{Provider: "A", Field: domain.FieldGrupo, Label: "x", Count: 1},
			{Provider: "B", Field: domain.FieldGrupo, Label: "x", Count: 1},
			{Provider: "C", Field: domain.FieldGrupo, Label: "x", Count: 1},
		},
		failOn: 1,
	}
	report, err := NewEnforcer(store, zerolog.Nop(), WithChunkSize(2)).Run(context.Background())
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if store.calls != 2 || report.FailedChunks != 1 || report.RowsUpdated != 1 {
		t.Fatalf("unexpected outcome calls=%d report=%+v", store.calls, report)
	}
}
