package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rpattn/opexledger/internal/domain"
)

type financialParamsRepository struct {
	pool *pgxpool.Pool
}

// NewFinancialParamsRepository wires the projection parameters table.
func NewFinancialParamsRepository(pool *pgxpool.Pool) FinancialParamsRepository {
	return &financialParamsRepository{pool: pool}
}

func (r *financialParamsRepository) List(ctx context.Context, fechaCorte *time.Time, pais string) ([]domain.FinancialParam, error) {
	b := newSQLBuilder()
	where := []string{}
	if fechaCorte != nil {
		where = append(where, "fecha_corte = "+b.bind(*fechaCorte))
	}
	if pais != "" {
		where = append(where, "pais = "+b.bind(pais))
	}

	query := `SELECT fecha_corte, pais, categoria, concepto, valor, COALESCE(descripcion, '')
		FROM control_gestion.parametros_financieros`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY fecha_corte, pais, categoria, concepto"

	rows, err := r.pool.Query(ctx, query, b.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list financial params: %w", err)
	}
	defer rows.Close()

	params := []domain.FinancialParam{}
	for rows.Next() {
		var (
			p     domain.FinancialParam
			fecha pgtype.Date
			valor pgtype.Numeric
		)
		if err := rows.Scan(&fecha, &p.Pais, &p.Categoria, &p.Concepto, &valor, &p.Descripcion); err != nil {
			return nil, fmt.Errorf("failed to scan financial param: %w", err)
		}
		p.FechaCorte = fecha.Time
		p.Valor = numericToDecimal(valor)
		params = append(params, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate financial params: %w", err)
	}
	return params, nil
}

func (r *financialParamsRepository) Upsert(ctx context.Context, params []domain.FinancialParam) (int64, error) {
	if len(params) == 0 {
		return 0, nil
	}

	var affected int64
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, p := range params {
			batch.Queue(
				`INSERT INTO control_gestion.parametros_financieros
					(fecha_corte, pais, categoria, concepto, valor, descripcion, updated_at)
				 VALUES ($1, $2, $3, $4, $5, $6, now())
				 ON CONFLICT (fecha_corte, pais, categoria, concepto)
				 DO UPDATE SET valor = EXCLUDED.valor, descripcion = EXCLUDED.descripcion, updated_at = now()`,
				pgtype.Date{Time: p.FechaCorte, Valid: true},
				p.Pais,
				p.Categoria,
				p.Concepto,
				decimalToNumeric(p.Valor),
				p.Descripcion,
			)
		}

		results := tx.SendBatch(ctx, batch)
		for range params {
			tag, err := results.Exec()
			if err != nil {
				results.Close()
				return fmt.Errorf("failed to upsert financial param: %w", err)
			}
			affected += tag.RowsAffected()
		}
		return results.Close()
	})
	if err != nil {
		return 0, err
	}
	return affected, nil
}
