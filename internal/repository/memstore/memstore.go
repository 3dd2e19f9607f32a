// Package memstore is an in-memory warehouse with the same semantics as the
// Postgres repositories. It backs dry runs and tests.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rpattn/opexledger/internal/domain"
	"github.com/rpattn/opexledger/internal/repository"
)

var (
	_ repository.LedgerRepository          = (*Store)(nil)
	_ repository.RunLogRepository          = (*Store)(nil)
	_ repository.FinancialParamsRepository = (*ParamsStore)(nil)
)

type table struct {
	rows    []domain.LedgerRow
	managed bool
	nextID  int64
}

// Store keeps ledger tables, run log and financial parameters in memory.
type Store struct {
	mu     sync.Mutex
	tables map[string]*table
	runs   []domain.JobRun
	params map[string]domain.FinancialParam

	// PingErr is returned by Ping when set.
	PingErr error
	// AppendErr, when set, can reject a chunk before it is written.
	AppendErr func(table string, rows []domain.LedgerRow) error
	// ApplyErr, when set, can reject a classification chunk.
	ApplyErr func(assignments []domain.Assignment) error
}

// New returns an empty store.
func New() *Store {
	return &Store{
		tables: make(map[string]*table),
		params: make(map[string]domain.FinancialParam),
	}
}

// Seed replaces the live ledger with rows. Rows without an id are numbered
// after the highest id present.
func (s *Store) Seed(rows []domain.LedgerRow) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := &table{managed: true, nextID: 1}
	for _, row := range rows {
		if row.IDTransaccion >= t.nextID {
			t.nextID = row.IDTransaccion + 1
		}
	}
	for _, row := range rows {
		if row.IDTransaccion == 0 {
			row.IDTransaccion = t.nextID
			t.nextID++
		}
		if row.StatusGestion == "" {
			row.StatusGestion = domain.DefaultStatus
		}
		t.rows = append(t.rows, cloneRow(row))
	}
	sort.Slice(t.rows, func(i, j int) bool { return t.rows[i].IDTransaccion < t.rows[j].IDTransaccion })
	s.tables[domain.LedgerTable] = t
}

// Rows returns a copy of the rows of name, or nil when it does not exist.
func (s *Store) Rows(name string) []domain.LedgerRow {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tables[name]
	if !ok {
		return nil
	}
	out := make([]domain.LedgerRow, len(t.rows))
	for i, row := range t.rows {
		out[i] = cloneRow(row)
	}
	return out
}

// HasTable reports whether name exists.
func (s *Store) HasTable(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tables[name]
	return ok
}

func (s *Store) Ping(ctx context.Context) error {
	return s.PingErr
}

func (s *Store) PrepareTable(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tables[name] = &table{}
	return nil
}

func (s *Store) EnsureLedgerTable(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tables[name]; !ok {
		s.tables[name] = &table{managed: true, nextID: 1}
	}
	return nil
}

func (s *Store) AppendRows(ctx context.Context, name string, rows []domain.LedgerRow) (int64, error) {
	if s.AppendErr != nil {
		if err := s.AppendErr(name, rows); err != nil {
			return 0, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.table(name)
	if err != nil {
		return 0, err
	}
	for _, row := range rows {
		row = cloneRow(row)
		row.IDTransaccion = 0
		row.Grupo = nil
		row.Subgrupo = nil
		row.ClasificacionManual = false
		row.StatusGestion = ""
		if t.managed {
			row.IDTransaccion = t.nextID
			row.StatusGestion = domain.DefaultStatus
			t.nextID++
		}
		t.rows = append(t.rows, row)
	}
	return int64(len(rows)), nil
}

func (s *Store) EnsureManagementColumns(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.table(name)
	if err != nil {
		return err
	}
	if t.managed {
		return nil
	}
	for i := range t.rows {
		t.rows[i].IDTransaccion = int64(i + 1)
		t.rows[i].StatusGestion = domain.DefaultStatus
	}
	t.managed = true
	t.nextID = int64(len(t.rows) + 1)
	return nil
}

func (s *Store) PublishTable(ctx context.Context, staging string, opts repository.PublishOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.table(staging)
	if err != nil {
		return err
	}
	if !st.managed {
		return fmt.Errorf("table %s has no management columns", staging)
	}

	if live, ok := s.tables[domain.LedgerTable]; ok && opts.CarryOverManual {
		manual := make(map[string]domain.LedgerRow)
		for _, row := range live.rows {
			if row.ClasificacionManual {
				manual[naturalKey(row)] = row
			}
		}
		for i := range st.rows {
			if prev, ok := manual[naturalKey(st.rows[i])]; ok {
				st.rows[i].Grupo = cloneString(prev.Grupo)
				st.rows[i].Subgrupo = cloneString(prev.Subgrupo)
				st.rows[i].StatusGestion = prev.StatusGestion
				st.rows[i].ClasificacionManual = true
			}
		}
	}

	s.tables[domain.LedgerTable] = st
	delete(s.tables, staging)
	return nil
}

func (s *Store) EnsureIndexes(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.table(name)
	return err
}

func (s *Store) CountPending(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.table(domain.LedgerTable)
	if err != nil {
		return 0, err
	}
	var count int64
	for _, row := range t.rows {
		if pending(row) {
			count++
		}
	}
	return count, nil
}

func (s *Store) ListPending(ctx context.Context, afterID int64, limit int) ([]domain.PendingRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.table(domain.LedgerTable)
	if err != nil {
		return nil, err
	}
	out := []domain.PendingRow{}
	for _, row := range t.rows {
		if row.IDTransaccion <= afterID || !pending(row) {
			continue
		}
		out = append(out, domain.PendingRow{
			IDTransaccion: row.IDTransaccion,
			Input: domain.ExpenseInput{
				CuentaContable:   row.CuentaContable,
				IDProveedor:      row.IDProveedor,
				DescripcionGasto: row.DescripcionGasto,
			},
		})
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *Store) ApplyClassifications(ctx context.Context, assignments []domain.Assignment) (int64, error) {
	if s.ApplyErr != nil {
		if err := s.ApplyErr(assignments); err != nil {
			return 0, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.table(domain.LedgerTable)
	if err != nil {
		return 0, err
	}
	byID := make(map[int64]domain.Assignment, len(assignments))
	for _, a := range assignments {
		byID[a.IDTransaccion] = a
	}
	var updated int64
	for i := range t.rows {
		a, ok := byID[t.rows[i].IDTransaccion]
		if !ok || !pending(t.rows[i]) {
			continue
		}
		t.rows[i].Grupo = stringPtr(a.Grupo)
		t.rows[i].Subgrupo = stringPtr(a.Subgrupo)
		updated++
	}
	return updated, nil
}

func (s *Store) ProviderLabelCounts(ctx context.Context) ([]domain.LabelCount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.table(domain.LedgerTable)
	if err != nil {
		return nil, err
	}
	type key struct{ provider, field, label string }
	counts := make(map[key]int64)
	for _, row := range t.rows {
		if !row.Classified() || excludedProvider(row.NombreTercero) {
			continue
		}
		counts[key{row.NombreTercero, domain.FieldGrupo, *row.Grupo}]++
		if row.Subgrupo != nil && *row.Subgrupo != "" {
			counts[key{row.NombreTercero, domain.FieldSubgrupo, *row.Subgrupo}]++
		}
	}
	out := make([]domain.LabelCount, 0, len(counts))
	for k, c := range counts {
		out = append(out, domain.LabelCount{Provider: k.provider, Field: k.field, Label: k.label, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Provider != out[j].Provider {
			return out[i].Provider < out[j].Provider
		}
		if out[i].Field != out[j].Field {
			return out[i].Field < out[j].Field
		}
		return out[i].Label < out[j].Label
	})
	return out, nil
}

func (s *Store) ApplyProviderModes(ctx context.Context, modes []domain.ProviderMode) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.table(domain.LedgerTable)
	if err != nil {
		return 0, err
	}
	byProvider := make(map[string]domain.ProviderMode, len(modes))
	for _, m := range modes {
		byProvider[m.Provider] = m
	}
	var updated int64
	for i := range t.rows {
		row := &t.rows[i]
		mode, ok := byProvider[row.NombreTercero]
		if !ok || !row.Classified() || row.ClasificacionManual {
			continue
		}
		changed := false
		if *row.Grupo != mode.Grupo {
			row.Grupo = stringPtr(mode.Grupo)
			changed = true
		}
		if mode.Subgrupo != nil && (row.Subgrupo == nil || *row.Subgrupo != *mode.Subgrupo) {
			row.Subgrupo = cloneString(mode.Subgrupo)
			changed = true
		}
		if changed {
			updated++
		}
	}
	return updated, nil
}

func (s *Store) Categories(ctx context.Context) (domain.Categories, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.table(domain.LedgerTable)
	if err != nil {
		return domain.Categories{}, err
	}
	grupos := map[string]struct{}{}
	subgrupos := map[string]struct{}{}
	for _, row := range t.rows {
		if row.Grupo != nil && *row.Grupo != "" {
			grupos[*row.Grupo] = struct{}{}
		}
		if row.Subgrupo != nil && *row.Subgrupo != "" {
			subgrupos[*row.Subgrupo] = struct{}{}
		}
	}
	return domain.Categories{Grupos: sortedKeys(grupos), Subgrupos: sortedKeys(subgrupos)}, nil
}

func (s *Store) Summary(ctx context.Context, year int) ([]domain.PeriodTotal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.table(domain.LedgerTable)
	if err != nil {
		return nil, err
	}
	type key struct{ empresa, periodo string }
	totals := make(map[key]decimal.Decimal)
	for _, row := range t.rows {
		if row.FechaCorte.Year() != year || !hasAnyPrefix(row.CuentaContable, domain.OpexAccountPrefixes) {
			continue
		}
		k := key{row.Empresa, row.FechaCorte.Format("2006-01")}
		totals[k] = totals[k].Add(row.Valor)
	}
	out := make([]domain.PeriodTotal, 0, len(totals))
	for k, total := range totals {
		out = append(out, domain.PeriodTotal{Empresa: k.empresa, Periodo: k.periodo, Total: total})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Periodo != out[j].Periodo {
			return out[i].Periodo < out[j].Periodo
		}
		return out[i].Empresa < out[j].Empresa
	})
	return out, nil
}

func (s *Store) ListTransactions(ctx context.Context, filter domain.TransactionFilter) ([]domain.LedgerRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.table(domain.LedgerTable)
	if err != nil {
		return nil, err
	}
	empresas := make(map[string]struct{}, len(filter.Empresas))
	for _, e := range filter.Empresas {
		empresas[e] = struct{}{}
	}
	search := strings.ToLower(strings.TrimSpace(filter.ProviderSearch))

	out := []domain.LedgerRow{}
	for _, row := range t.rows {
		if !filter.StartDate.IsZero() && row.FechaCorte.Before(filter.StartDate) {
			continue
		}
		if !filter.EndDate.IsZero() && row.FechaCorte.After(filter.EndDate) {
			continue
		}
		if len(empresas) > 0 {
			if _, ok := empresas[row.Empresa]; !ok {
				continue
			}
		}
		switch {
		case filter.AccountPrefix != "":
			if !strings.HasPrefix(row.CuentaContable, filter.AccountPrefix) {
				continue
			}
		case search == "":
			if !hasAnyPrefix(row.CuentaContable, domain.OpexAccountPrefixes) {
				continue
			}
		}
		if search != "" && !strings.Contains(strings.ToLower(row.NombreTercero), search) {
			continue
		}
		out = append(out, cloneRow(row))
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].FechaCorte.Equal(out[j].FechaCorte) {
			return out[i].FechaCorte.After(out[j].FechaCorte)
		}
		if cmp := out[i].Valor.Cmp(out[j].Valor); cmp != 0 {
			return cmp > 0
		}
		return out[i].IDTransaccion < out[j].IDTransaccion
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *Store) ListPendingReview(ctx context.Context, limit int) ([]domain.LedgerRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.table(domain.LedgerTable)
	if err != nil {
		return nil, err
	}
	out := []domain.LedgerRow{}
	for _, row := range t.rows {
		if pending(row) && hasAnyPrefix(row.CuentaContable, domain.OpexAccountPrefixes) {
			out = append(out, cloneRow(row))
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].FechaCorte.After(out[j].FechaCorte) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) UpdateRows(ctx context.Context, updates []domain.RowUpdate) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.table(domain.LedgerTable)
	if err != nil {
		return 0, err
	}
	byID := make(map[int64]domain.RowUpdate, len(updates))
	for _, u := range updates {
		byID[u.IDTransaccion] = u
	}
	var updated int64
	for i := range t.rows {
		u, ok := byID[t.rows[i].IDTransaccion]
		if !ok {
			continue
		}
		applyManual(&t.rows[i], u.Grupo, u.Subgrupo, u.StatusGestion)
		updated++
	}
	return updated, nil
}

func (s *Store) UpdateProviders(ctx context.Context, updates []domain.ProviderUpdate) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.table(domain.LedgerTable)
	if err != nil {
		return 0, err
	}
	byProvider := make(map[string]domain.ProviderUpdate, len(updates))
	for _, u := range updates {
		byProvider[u.NombreTercero] = u
	}
	var updated int64
	for i := range t.rows {
		u, ok := byProvider[t.rows[i].NombreTercero]
		if !ok {
			continue
		}
		applyManual(&t.rows[i], u.Grupo, u.Subgrupo, u.StatusGestion)
		updated++
	}
	return updated, nil
}

// Record appends run to the in-memory run log.
func (s *Store) Record(ctx context.Context, run domain.JobRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = append(s.runs, run)
	return nil
}

// List returns recorded runs, newest first.
func (s *Store) List(ctx context.Context, limit int, offset int) ([]domain.JobRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.JobRun, 0, len(s.runs))
	for i := len(s.runs) - 1; i >= 0; i-- {
		out = append(out, s.runs[i])
	}
	if offset > len(out) {
		return []domain.JobRun{}, nil
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ParamsStore exposes the financial parameters of a Store.
type ParamsStore struct {
	s *Store
}

// Params returns the financial parameters repository of s.
func (s *Store) Params() *ParamsStore {
	return &ParamsStore{s: s}
}

func (p *ParamsStore) List(ctx context.Context, fechaCorte *time.Time, pais string) ([]domain.FinancialParam, error) {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()

	out := []domain.FinancialParam{}
	for _, param := range p.s.params {
		if fechaCorte != nil && !param.FechaCorte.Equal(*fechaCorte) {
			continue
		}
		if pais != "" && param.Pais != pais {
			continue
		}
		out = append(out, param)
	}
	sort.Slice(out, func(i, j int) bool { return paramKey(out[i]) < paramKey(out[j]) })
	return out, nil
}

func (p *ParamsStore) Upsert(ctx context.Context, params []domain.FinancialParam) (int64, error) {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()

	for _, param := range params {
		p.s.params[paramKey(param)] = param
	}
	return int64(len(params)), nil
}

func (s *Store) table(name string) (*table, error) {
	t, ok := s.tables[name]
	if !ok {
		return nil, fmt.Errorf("relation %q does not exist", name)
	}
	return t, nil
}

func pending(row domain.LedgerRow) bool {
	return !row.Classified() && !row.ClasificacionManual
}

func excludedProvider(name string) bool {
	return name == "" || name == domain.SentinelProviderID
}

func applyManual(row *domain.LedgerRow, grupo, subgrupo, status string) {
	if grupo != "" {
		row.Grupo = stringPtr(grupo)
	}
	if subgrupo != "" {
		row.Subgrupo = stringPtr(subgrupo)
	}
	if status != "" {
		row.StatusGestion = status
	}
	if grupo != "" || subgrupo != "" {
		row.ClasificacionManual = true
	}
}

func naturalKey(row domain.LedgerRow) string {
	return strings.Join([]string{
		row.Empresa,
		row.FechaCorte.Format("2006-01-02"),
		row.CuentaContable,
		row.IDProveedor,
		row.DescripcionGasto,
		row.Valor.String(),
	}, "\x00")
}

func paramKey(p domain.FinancialParam) string {
	return strings.Join([]string{p.FechaCorte.Format("2006-01-02"), p.Pais, p.Categoria, p.Concepto}, "\x00")
}

func hasAnyPrefix(value string, prefixes []string) bool {
	for _, prefix := range prefixes {
		if strings.HasPrefix(value, prefix) {
			return true
		}
	}
	return false
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func stringPtr(s string) *string {
	return &s
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneRow(row domain.LedgerRow) domain.LedgerRow {
	row.Grupo = cloneString(row.Grupo)
	row.Subgrupo = cloneString(row.Subgrupo)
	return row
}
