package sources

import (
	"fmt"
	"strings"
)

// Query is a rendered, parametrised source query.
type Query struct {
	SQL  string
	Args []any
}

// Projected column order shared by every dialect and by the row scanners.
const (
	colFechaCorte = iota
	colFechaTransaccion
	colCuentaContable
	colIDProveedor
	colNombreTercero
	colDescripcion
	colAmount
	colDebit
	colCredit
	colFlag
	projectedColumns
)

type dialect interface {
	text(expr string) string
	nullText() string
	concat(exprs []string) string
	placeholder(idx int) string
	notIn(expr string, values []string, b *sqlBuilder) string
}

type sqlBuilder struct {
	args []any
	d    dialect
}

func newSQLBuilder(d dialect) *sqlBuilder {
	return &sqlBuilder{args: make([]any, 0), d: d}
}

func (b *sqlBuilder) addArg(value any) int {
	b.args = append(b.args, value)
	return len(b.args)
}

func (b *sqlBuilder) bind(value any) string {
	return b.d.placeholder(b.addArg(value))
}

func dialectFor(name Dialect) (dialect, error) {
	switch name {
	case DialectPostgres:
		return postgresDialect{}, nil
	case DialectSQLServer:
		return sqlServerDialect{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", errUnknownDialect, name)
	}
}

// BuildQuery renders the extraction query of desc for the given dialect.
// Cutoff, prefixes and exclusions are always bound as parameters.
func BuildQuery(name Dialect, desc Descriptor) (Query, error) {
	d, err := dialectFor(name)
	if err != nil {
		return Query{}, err
	}
	if err := desc.Validate(); err != nil {
		return Query{}, err
	}

	b := newSQLBuilder(d)
	cols := make([]string, projectedColumns)
	project := func(idx int, expr string) {
		if strings.TrimSpace(expr) == "" {
			cols[idx] = d.nullText()
			return
		}
		cols[idx] = d.text(expr)
	}

	project(colFechaCorte, desc.Columns.FechaCorte)
	project(colFechaTransaccion, desc.Columns.FechaTransaccion)
	project(colCuentaContable, desc.Columns.CuentaContable)
	project(colIDProveedor, desc.Columns.IDProveedor)
	project(colNombreTercero, desc.Columns.NombreTercero)
	if len(desc.Columns.Descripcion) > 0 {
		cols[colDescripcion] = d.concat(desc.Columns.Descripcion)
	} else {
		cols[colDescripcion] = d.nullText()
	}
	project(colAmount, desc.Sign.Amount)
	project(colDebit, desc.Sign.Debit)
	project(colCredit, desc.Sign.Credit)
	project(colFlag, desc.Sign.Flag)

	where := []string{"1=1"}
	for _, filter := range desc.Filters {
		if strings.TrimSpace(filter) != "" {
			where = append(where, "("+filter+")")
		}
	}
	if desc.Cutoff.Column != "" {
		where = append(where, fmt.Sprintf("%s >= %s", desc.Cutoff.Column, b.bind(desc.Cutoff.Value)))
	}
	account := d.text(desc.Columns.CuentaContable)
	if len(desc.AccountPrefixes) > 0 {
		likes := make([]string, 0, len(desc.AccountPrefixes))
		for _, prefix := range desc.AccountPrefixes {
			likes = append(likes, fmt.Sprintf("%s LIKE %s", account, b.bind(prefix+"%")))
		}
		where = append(where, "("+strings.Join(likes, " OR ")+")")
	}
	if len(desc.ExcludedAccounts) > 0 {
		where = append(where, d.notIn(account, desc.ExcludedAccounts, b))
	}

	sql := fmt.Sprintf("SELECT %s FROM %s WHERE %s",
		strings.Join(cols, ", "),
		desc.From,
		strings.Join(where, " AND "),
	)
	return Query{SQL: sql, Args: b.args}, nil
}

type postgresDialect struct{}

func (postgresDialect) text(expr string) string { return "(" + expr + ")::text" }

func (postgresDialect) nullText() string { return "NULL::text" }

func (d postgresDialect) concat(exprs []string) string {
	parts := make([]string, len(exprs))
	for i, expr := range exprs {
		parts[i] = d.text(expr)
	}
	return "CONCAT_WS(' ', " + strings.Join(parts, ", ") + ")"
}

func (postgresDialect) placeholder(idx int) string { return fmt.Sprintf("$%d", idx) }

func (postgresDialect) notIn(expr string, values []string, b *sqlBuilder) string {
	return fmt.Sprintf("NOT (%s = ANY(%s::text[]))", expr, b.bind(values))
}

type sqlServerDialect struct{}

func (sqlServerDialect) text(expr string) string { return "CAST(" + expr + " AS NVARCHAR(4000))" }

func (sqlServerDialect) nullText() string { return "CAST(NULL AS NVARCHAR(4000))" }

func (d sqlServerDialect) concat(exprs []string) string {
	parts := make([]string, len(exprs))
	for i, expr := range exprs {
		parts[i] = "ISNULL(" + d.text(expr) + ", '')"
	}
	return strings.Join(parts, " + ' ' + ")
}

func (sqlServerDialect) placeholder(idx int) string { return fmt.Sprintf("@p%d", idx) }

func (sqlServerDialect) notIn(expr string, values []string, b *sqlBuilder) string {
	placeholders := make([]string, len(values))
	for i, value := range values {
		placeholders[i] = b.bind(value)
	}
	return fmt.Sprintf("%s NOT IN (%s)", expr, strings.Join(placeholders, ", "))
}
