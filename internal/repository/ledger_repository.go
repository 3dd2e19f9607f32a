package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rpattn/opexledger/internal/domain"
)

var copyColumns = []string{
	"empresa",
	"fecha_corte",
	"fecha_transaccion",
	"cuenta_contable",
	"id_proveedor",
	"nombre_tercero",
	"descripcion_gasto",
	"valor",
}

var dataColumnsDDL = fmt.Sprintf(`
	empresa TEXT NOT NULL,
	fecha_corte DATE,
	fecha_transaccion TEXT,
	cuenta_contable TEXT,
	id_proveedor TEXT,
	nombre_tercero TEXT,
	descripcion_gasto TEXT CHECK (char_length(descripcion_gasto) <= %d),
	valor NUMERIC`, domain.MaxDescriptionLength)

var managementColumnsDDL = fmt.Sprintf(`
	ADD COLUMN IF NOT EXISTS id_transaccion BIGSERIAL PRIMARY KEY,
	ADD COLUMN IF NOT EXISTS grupo TEXT,
	ADD COLUMN IF NOT EXISTS subgrupo TEXT,
	ADD COLUMN IF NOT EXISTS status_gestion VARCHAR(50) DEFAULT '%s',
	ADD COLUMN IF NOT EXISTS clasificacion_manual BOOLEAN DEFAULT FALSE`, domain.DefaultStatus)

const selectLedgerColumns = `id_transaccion, empresa, fecha_corte,
	COALESCE(fecha_transaccion, ''), COALESCE(cuenta_contable, ''), COALESCE(id_proveedor, ''),
	COALESCE(nombre_tercero, ''), COALESCE(descripcion_gasto, ''), valor,
	grupo, subgrupo, COALESCE(status_gestion, ''), COALESCE(clasificacion_manual, FALSE)`

const pendingPredicate = `(grupo IS NULL OR grupo = '') AND clasificacion_manual IS NOT TRUE`

type ledgerRepository struct {
	pool *pgxpool.Pool
}

// NewLedgerRepository wires the consolidated ledger backed by pgxpool.
func NewLedgerRepository(pool *pgxpool.Pool) LedgerRepository {
	return &ledgerRepository{pool: pool}
}

func (r *ledgerRepository) Ping(ctx context.Context) error {
	if r.pool == nil {
		return fmt.Errorf("ledger repository not initialized")
	}
	return r.pool.Ping(ctx)
}

func (r *ledgerRepository) PrepareTable(ctx context.Context, table string) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		statements := []string{
			fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", pgx.Identifier{domain.LedgerSchema}.Sanitize()),
			fmt.Sprintf("DROP TABLE IF EXISTS %s", qualified(table)),
			fmt.Sprintf("CREATE TABLE %s (%s\n)", qualified(table), dataColumnsDDL),
		}
		for _, stmt := range statements {
			if _, err := tx.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("failed to prepare %s: %w", table, err)
			}
		}
		return nil
	})
}

func (r *ledgerRepository) EnsureLedgerTable(ctx context.Context, table string) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		statements := []string{
			fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", pgx.Identifier{domain.LedgerSchema}.Sanitize()),
			fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s\n)", qualified(table), dataColumnsDDL),
			fmt.Sprintf("ALTER TABLE %s %s", qualified(table), managementColumnsDDL),
		}
		for _, stmt := range statements {
			if _, err := tx.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("failed to ensure %s: %w", table, err)
			}
		}
		return nil
	})
}

func (r *ledgerRepository) AppendRows(ctx context.Context, table string, rows []domain.LedgerRow) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	copied, err := r.pool.CopyFrom(
		ctx,
		pgx.Identifier{domain.LedgerSchema, table},
		copyColumns,
		pgx.CopyFromSlice(len(rows), func(i int) ([]any, error) {
			row := rows[i]
			return []any{
				row.Empresa,
				pgtype.Date{Time: row.FechaCorte, Valid: true},
				row.FechaTransaccion,
				row.CuentaContable,
				row.IDProveedor,
				row.NombreTercero,
				row.DescripcionGasto,
				decimalToNumeric(row.Valor),
			}, nil
		}),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to copy rows into %s: %w", table, err)
	}
	return copied, nil
}

// EnsureManagementColumns is idempotent. Adding id_transaccion numbers the
// existing rows in load order.
func (r *ledgerRepository) EnsureManagementColumns(ctx context.Context, table string) error {
	if _, err := r.pool.Exec(ctx, fmt.Sprintf("ALTER TABLE %s %s", qualified(table), managementColumnsDDL)); err != nil {
		return fmt.Errorf("failed to add management columns to %s: %w", table, err)
	}
	return nil
}

func (r *ledgerRepository) PublishTable(ctx context.Context, staging string, opts PublishOptions) error {
	live := qualified(domain.LedgerTable)
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if opts.CarryOverManual {
			var exists bool
			if err := tx.QueryRow(ctx, "SELECT to_regclass($1) IS NOT NULL", domain.LedgerSchema+"."+domain.LedgerTable).Scan(&exists); err != nil {
				return fmt.Errorf("failed to look up ledger table: %w", err)
			}
			if exists {
				if _, err := tx.Exec(ctx, carryOverSQL(qualified(staging), live)); err != nil {
					return fmt.Errorf("failed to carry over manual labels: %w", err)
				}
			}
		}

		statements := []string{
			fmt.Sprintf("DROP TABLE IF EXISTS %s", live),
			fmt.Sprintf("ALTER TABLE %s RENAME TO %s", qualified(staging), pgx.Identifier{domain.LedgerTable}.Sanitize()),
		}
		statements = append(statements, indexStatements(domain.LedgerTable)...)
		for _, stmt := range statements {
			if _, err := tx.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("failed to swap ledger table: %w", err)
			}
		}
		return nil
	})
}

func carryOverSQL(staging, live string) string {
	return fmt.Sprintf(`UPDATE %s AS s
		SET grupo = o.grupo,
		    subgrupo = o.subgrupo,
		    status_gestion = o.status_gestion,
		    clasificacion_manual = TRUE
		FROM (
			SELECT DISTINCT ON (empresa, fecha_corte, cuenta_contable, id_proveedor, descripcion_gasto, valor)
			       empresa, fecha_corte, cuenta_contable, id_proveedor, descripcion_gasto, valor,
			       grupo, subgrupo, status_gestion
			FROM %s
			WHERE clasificacion_manual IS TRUE
			ORDER BY empresa, fecha_corte, cuenta_contable, id_proveedor, descripcion_gasto, valor, id_transaccion DESC
		) AS o
		WHERE s.empresa = o.empresa
		  AND s.fecha_corte IS NOT DISTINCT FROM o.fecha_corte
		  AND s.cuenta_contable IS NOT DISTINCT FROM o.cuenta_contable
		  AND s.id_proveedor IS NOT DISTINCT FROM o.id_proveedor
		  AND s.descripcion_gasto IS NOT DISTINCT FROM o.descripcion_gasto
		  AND s.valor IS NOT DISTINCT FROM o.valor`, staging, live)
}

func indexStatements(table string) []string {
	t := qualified(table)
	return []string{
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_fc_consol ON %s (fecha_corte)", t),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_cta_consol ON %s (cuenta_contable)", t),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_tercero_consol ON %s (nombre_tercero)", t),
	}
}

func (r *ledgerRepository) EnsureIndexes(ctx context.Context, table string) error {
	for _, stmt := range indexStatements(table) {
		if _, err := r.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create index on %s: %w", table, err)
		}
	}
	return nil
}

func (r *ledgerRepository) CountPending(ctx context.Context) (int64, error) {
	var count int64
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s", qualified(domain.LedgerTable), pendingPredicate)
	if err := r.pool.QueryRow(ctx, query).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count pending rows: %w", err)
	}
	return count, nil
}

func (r *ledgerRepository) ListPending(ctx context.Context, afterID int64, limit int) ([]domain.PendingRow, error) {
	query := fmt.Sprintf(`SELECT id_transaccion, COALESCE(cuenta_contable, ''), COALESCE(id_proveedor, ''), COALESCE(descripcion_gasto, '')
		FROM %s
		WHERE id_transaccion > $1 AND %s
		ORDER BY id_transaccion
		LIMIT $2`, qualified(domain.LedgerTable), pendingPredicate)

	rows, err := r.pool.Query(ctx, query, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending rows: %w", err)
	}
	defer rows.Close()

	pending := []domain.PendingRow{}
	for rows.Next() {
		var row domain.PendingRow
		if err := rows.Scan(&row.IDTransaccion, &row.Input.CuentaContable, &row.Input.IDProveedor, &row.Input.DescripcionGasto); err != nil {
			return nil, fmt.Errorf("failed to scan pending row: %w", err)
		}
		pending = append(pending, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate pending rows: %w", err)
	}
	return pending, nil
}

func (r *ledgerRepository) ApplyClassifications(ctx context.Context, assignments []domain.Assignment) (int64, error) {
	if len(assignments) == 0 {
		return 0, nil
	}
	var updated int64
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `CREATE TEMP TABLE tmp_clasificacion (
			id_transaccion BIGINT PRIMARY KEY,
			grupo TEXT,
			subgrupo TEXT
		) ON COMMIT DROP`); err != nil {
			return fmt.Errorf("failed to create classification staging table: %w", err)
		}

		if _, err := tx.CopyFrom(
			ctx,
			pgx.Identifier{"tmp_clasificacion"},
			[]string{"id_transaccion", "grupo", "subgrupo"},
			pgx.CopyFromSlice(len(assignments), func(i int) ([]any, error) {
				a := assignments[i]
				return []any{a.IDTransaccion, a.Grupo, a.Subgrupo}, nil
			}),
		); err != nil {
			return fmt.Errorf("failed to stage classifications: %w", err)
		}

		tag, err := tx.Exec(ctx, applyClassificationsSQL)
		if err != nil {
			return fmt.Errorf("failed to apply classifications: %w", err)
		}
		updated = tag.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, err
	}
	return updated, nil
}

func (r *ledgerRepository) ProviderLabelCounts(ctx context.Context) ([]domain.LabelCount, error) {
	query := fmt.Sprintf(`SELECT nombre_tercero, $2::text, grupo, COUNT(*)
		FROM %[1]s
		WHERE grupo IS NOT NULL AND grupo <> ''
		  AND nombre_tercero IS NOT NULL AND nombre_tercero NOT IN ('', $1)
		GROUP BY nombre_tercero, grupo
		UNION ALL
		SELECT nombre_tercero, $3::text, subgrupo, COUNT(*)
		FROM %[1]s
		WHERE grupo IS NOT NULL AND grupo <> ''
		  AND subgrupo IS NOT NULL AND subgrupo <> ''
		  AND nombre_tercero IS NOT NULL AND nombre_tercero NOT IN ('', $1)
		GROUP BY nombre_tercero, subgrupo`, qualified(domain.LedgerTable))

	rows, err := r.pool.Query(ctx, query, domain.SentinelProviderID, domain.FieldGrupo, domain.FieldSubgrupo)
	if err != nil {
		return nil, fmt.Errorf("failed to count provider labels: %w", err)
	}
	defer rows.Close()

	counts := []domain.LabelCount{}
	for rows.Next() {
		var c domain.LabelCount
		if err := rows.Scan(&c.Provider, &c.Field, &c.Label, &c.Count); err != nil {
			return nil, fmt.Errorf("failed to scan label count: %w", err)
		}
		counts = append(counts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate label counts: %w", err)
	}
	return counts, nil
}

func (r *ledgerRepository) ApplyProviderModes(ctx context.Context, modes []domain.ProviderMode) (int64, error) {
	if len(modes) == 0 {
		return 0, nil
	}
	var updated int64
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `CREATE TEMP TABLE tmp_moda_proveedor (
			nombre_tercero TEXT PRIMARY KEY,
			grupo TEXT NOT NULL,
			subgrupo TEXT
		) ON COMMIT DROP`); err != nil {
			return fmt.Errorf("failed to create provider mode staging table: %w", err)
		}

		if _, err := tx.CopyFrom(
			ctx,
			pgx.Identifier{"tmp_moda_proveedor"},
			[]string{"nombre_tercero", "grupo", "subgrupo"},
			pgx.CopyFromSlice(len(modes), func(i int) ([]any, error) {
				m := modes[i]
				return []any{m.Provider, m.Grupo, m.Subgrupo}, nil
			}),
		); err != nil {
			return fmt.Errorf("failed to stage provider modes: %w", err)
		}

		tag, err := tx.Exec(ctx, applyProviderModesSQL)
		if err != nil {
			return fmt.Errorf("failed to apply provider modes: %w", err)
		}
		updated = tag.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, err
	}
	return updated, nil
}

func (r *ledgerRepository) Categories(ctx context.Context) (domain.Categories, error) {
	grupos, err := r.distinct(ctx, "grupo")
	if err != nil {
		return domain.Categories{}, err
	}
	subgrupos, err := r.distinct(ctx, "subgrupo")
	if err != nil {
		return domain.Categories{}, err
	}
	return domain.Categories{Grupos: grupos, Subgrupos: subgrupos}, nil
}

func (r *ledgerRepository) distinct(ctx context.Context, column string) ([]string, error) {
	col := pgx.Identifier{column}.Sanitize()
	query := fmt.Sprintf("SELECT DISTINCT %[1]s FROM %[2]s WHERE %[1]s IS NOT NULL AND %[1]s <> '' ORDER BY %[1]s", col, qualified(domain.LedgerTable))
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s values: %w", column, err)
	}
	values, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s values: %w", column, err)
	}
	return values, nil
}

func (r *ledgerRepository) Summary(ctx context.Context, year int) ([]domain.PeriodTotal, error) {
	query := fmt.Sprintf(`SELECT empresa, to_char(fecha_corte, 'YYYY-MM') AS periodo, COALESCE(SUM(valor), 0)
		FROM %s
		WHERE EXTRACT(YEAR FROM fecha_corte) = $1
		  AND cuenta_contable LIKE ANY($2::text[])
		GROUP BY empresa, periodo
		ORDER BY periodo, empresa`, qualified(domain.LedgerTable))

	rows, err := r.pool.Query(ctx, query, year, prefixPatterns(domain.OpexAccountPrefixes))
	if err != nil {
		return nil, fmt.Errorf("failed to summarise ledger: %w", err)
	}
	defer rows.Close()

	totals := []domain.PeriodTotal{}
	for rows.Next() {
		var (
			total domain.PeriodTotal
			sum   pgtype.Numeric
		)
		if err := rows.Scan(&total.Empresa, &total.Periodo, &sum); err != nil {
			return nil, fmt.Errorf("failed to scan summary row: %w", err)
		}
		total.Total = numericToDecimal(sum)
		totals = append(totals, total)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate summary rows: %w", err)
	}
	return totals, nil
}

func (r *ledgerRepository) ListTransactions(ctx context.Context, filter domain.TransactionFilter) ([]domain.LedgerRow, error) {
	query, args := transactionsQuery(filter)
	return r.queryLedgerRows(ctx, query, args...)
}

// transactionsQuery applies the OPEX prefixes unless the caller narrowed the
// search by account or provider.
func transactionsQuery(filter domain.TransactionFilter) (string, []any) {
	b := newSQLBuilder()
	where := []string{}
	if !filter.StartDate.IsZero() {
		where = append(where, "fecha_corte >= "+b.bind(filter.StartDate))
	}
	if !filter.EndDate.IsZero() {
		where = append(where, "fecha_corte <= "+b.bind(filter.EndDate))
	}
	if len(filter.Empresas) > 0 {
		where = append(where, fmt.Sprintf("empresa = ANY(%s::text[])", b.bind(filter.Empresas)))
	}
	search := strings.TrimSpace(filter.ProviderSearch)
	switch {
	case filter.AccountPrefix != "":
		where = append(where, "cuenta_contable LIKE "+b.bind(escapeLike(filter.AccountPrefix)+"%"))
	case search == "":
		where = append(where, fmt.Sprintf("cuenta_contable LIKE ANY(%s::text[])", b.bind(prefixPatterns(domain.OpexAccountPrefixes))))
	}
	if search != "" {
		where = append(where, "nombre_tercero ILIKE "+b.bind("%"+escapeLike(search)+"%"))
	}

	query := fmt.Sprintf("SELECT %s FROM %s", selectLedgerColumns, qualified(domain.LedgerTable))
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY fecha_corte DESC, valor DESC, id_transaccion"
	if filter.Limit > 0 {
		query += " LIMIT " + b.bind(filter.Limit)
	}
	return query, b.args
}

func (r *ledgerRepository) ListPendingReview(ctx context.Context, limit int) ([]domain.LedgerRow, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s
		WHERE %s AND cuenta_contable LIKE ANY($1::text[])
		ORDER BY fecha_corte DESC, id_transaccion
		LIMIT $2`, selectLedgerColumns, qualified(domain.LedgerTable), pendingPredicate)
	return r.queryLedgerRows(ctx, query, prefixPatterns(domain.OpexAccountPrefixes), limit)
}

func (r *ledgerRepository) queryLedgerRows(ctx context.Context, query string, args ...any) ([]domain.LedgerRow, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger: %w", err)
	}
	defer rows.Close()

	out := []domain.LedgerRow{}
	for rows.Next() {
		var (
			row      domain.LedgerRow
			fecha    pgtype.Date
			valor    pgtype.Numeric
			grupo    pgtype.Text
			subgrupo pgtype.Text
		)
		if err := rows.Scan(
			&row.IDTransaccion,
			&row.Empresa,
			&fecha,
			&row.FechaTransaccion,
			&row.CuentaContable,
			&row.IDProveedor,
			&row.NombreTercero,
			&row.DescripcionGasto,
			&valor,
			&grupo,
			&subgrupo,
			&row.StatusGestion,
			&row.ClasificacionManual,
		); err != nil {
			return nil, fmt.Errorf("failed to scan ledger row: %w", err)
		}
		if fecha.Valid {
			row.FechaCorte = fecha.Time
		}
		row.Valor = numericToDecimal(valor)
		row.Grupo = textPtr(grupo)
		row.Subgrupo = textPtr(subgrupo)
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate ledger rows: %w", err)
	}
	return out, nil
}

// UpdateRows marks a row manual whenever a label is supplied, so later
// automatic runs leave it alone.
func (r *ledgerRepository) UpdateRows(ctx context.Context, updates []domain.RowUpdate) (int64, error) {
	if len(updates) == 0 {
		return 0, nil
	}
	tag, err := r.pool.Exec(ctx, updateRowsSQL, rowUpdateArgs(updates)...)
	if err != nil {
		return 0, fmt.Errorf("failed to update rows: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *ledgerRepository) UpdateProviders(ctx context.Context, updates []domain.ProviderUpdate) (int64, error) {
	if len(updates) == 0 {
		return 0, nil
	}
	tag, err := r.pool.Exec(ctx, updateProvidersSQL, providerUpdateArgs(updates)...)
	if err != nil {
		return 0, fmt.Errorf("failed to update providers: %w", err)
	}
	return tag.RowsAffected(), nil
}

// rowUpdateArgs builds the four parallel arrays unnested by updateRowsSQL.
func rowUpdateArgs(updates []domain.RowUpdate) []any {
	ids := make([]int64, len(updates))
	grupos := make([]string, len(updates))
	subgrupos := make([]string, len(updates))
	statuses := make([]string, len(updates))
	for i, u := range updates {
		ids[i] = u.IDTransaccion
		grupos[i] = u.Grupo
		subgrupos[i] = u.Subgrupo
		statuses[i] = u.StatusGestion
	}
	return []any{ids, grupos, subgrupos, statuses}
}

func providerUpdateArgs(updates []domain.ProviderUpdate) []any {
	names := make([]string, len(updates))
	grupos := make([]string, len(updates))
	subgrupos := make([]string, len(updates))
	statuses := make([]string, len(updates))
	for i, u := range updates {
		names[i] = u.NombreTercero
		grupos[i] = u.Grupo
		subgrupos[i] = u.Subgrupo
		statuses[i] = u.StatusGestion
	}
	return []any{names, grupos, subgrupos, statuses}
}

const manualAssignments = `grupo = COALESCE(NULLIF(u.grupo, ''), t.grupo),
		    subgrupo = COALESCE(NULLIF(u.subgrupo, ''), t.subgrupo),
		    status_gestion = COALESCE(NULLIF(u.status_gestion, ''), t.status_gestion),
		    clasificacion_manual = CASE WHEN u.grupo <> '' OR u.subgrupo <> '' THEN TRUE ELSE t.clasificacion_manual END`

var (
	updateRowsSQL = fmt.Sprintf(`UPDATE %s AS t
		SET %s
		FROM unnest($1::bigint[], $2::text[], $3::text[], $4::text[]) AS u(id_transaccion, grupo, subgrupo, status_gestion)
		WHERE t.id_transaccion = u.id_transaccion`, qualified(domain.LedgerTable), manualAssignments)

	updateProvidersSQL = fmt.Sprintf(`UPDATE %s AS t
		SET %s
		FROM unnest($1::text[], $2::text[], $3::text[], $4::text[]) AS u(nombre_tercero, grupo, subgrupo, status_gestion)
		WHERE t.nombre_tercero = u.nombre_tercero`, qualified(domain.LedgerTable), manualAssignments)

	// Rows labelled or made manual since they were listed are skipped.
	applyClassificationsSQL = fmt.Sprintf(`UPDATE %s AS t
			SET grupo = u.grupo, subgrupo = u.subgrupo
			FROM tmp_clasificacion AS u
			WHERE t.id_transaccion = u.id_transaccion
			  AND (t.grupo IS NULL OR t.grupo = '')
			  AND t.clasificacion_manual IS NOT TRUE`, qualified(domain.LedgerTable))

	applyProviderModesSQL = fmt.Sprintf(`UPDATE %s AS t
			SET grupo = m.grupo,
			    subgrupo = COALESCE(m.subgrupo, t.subgrupo)
			FROM tmp_moda_proveedor AS m
			WHERE t.nombre_tercero = m.nombre_tercero
			  AND t.grupo IS NOT NULL AND t.grupo <> ''
			  AND t.clasificacion_manual IS NOT TRUE
			  AND (t.grupo IS DISTINCT FROM m.grupo
			       OR (m.subgrupo IS NOT NULL AND t.subgrupo IS DISTINCT FROM m.subgrupo))`, qualified(domain.LedgerTable))
)
