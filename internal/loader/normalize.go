package loader

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"github.com/rpattn/opexledger/internal/domain"
)

var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.000",
	"2006-01-02 15:04:05.000000",
	"2006-01-02 15:04:05-07",
	"2006-01-02 15:04:05.999999-07",
	"2006-01-02T15:04:05",
	"2006/01/02",
	"02/01/2006",
	"20060102",
}

// Quality counts the data quality events seen while normalising rows.
type Quality struct {
	MalformedAmounts      int64
	DroppedDates          int64
	TruncatedDescriptions int64
	MissingProviderIDs    int64
}

// Malformed reports whether any row was dropped or had its amount zeroed.
func (q Quality) Malformed() bool {
	return q.MalformedAmounts > 0 || q.DroppedDates > 0
}

func (q *Quality) add(other Quality) {
	q.MalformedAmounts += other.MalformedAmounts
	q.DroppedDates += other.DroppedDates
	q.TruncatedDescriptions += other.TruncatedDescriptions
	q.MissingProviderIDs += other.MissingProviderIDs
}

// Normalize turns a raw source row into a ledger row. A row without a usable
// date is rejected with ErrMalformedRow; every other defect is repaired and
// counted.
func Normalize(raw domain.RawRow, providesFechaCorte bool) (domain.LedgerRow, Quality, error) {
	var quality Quality
	row := domain.LedgerRow{
		Empresa:          raw.Empresa,
		FechaTransaccion: textOrEmpty(raw.FechaTransaccion),
		CuentaContable:   textOrEmpty(raw.CuentaContable),
		NombreTercero:    textOrEmpty(raw.NombreTercero),
		StatusGestion:    domain.DefaultStatus,
	}

	if providesFechaCorte {
		fechaCorte, err := parseDate(raw.FechaCorte)
		if err != nil {
			quality.DroppedDates++
			return domain.LedgerRow{}, quality, fmt.Errorf("%w: fecha_corte: %v", domain.ErrMalformedRow, err)
		}
		row.FechaCorte = fechaCorte
	} else {
		fechaTransaccion, err := parseDate(raw.FechaTransaccion)
		if err != nil {
			quality.DroppedDates++
			return domain.LedgerRow{}, quality, fmt.Errorf("%w: fecha_transaccion: %v", domain.ErrMalformedRow, err)
		}
		row.FechaCorte = domain.MonthEnd(fechaTransaccion)
	}

	row.IDProveedor = textOrEmpty(raw.IDProveedor)
	if row.IDProveedor == "" {
		row.IDProveedor = domain.SentinelProviderID
		quality.MissingProviderIDs++
	}

	description, truncated := truncateRunes(textOrEmpty(raw.DescripcionGasto), domain.MaxDescriptionLength)
	row.DescripcionGasto = description
	if truncated {
		quality.TruncatedDescriptions++
	}

	valor, ok := parseValor(raw.Valor)
	if !ok {
		quality.MalformedAmounts++
	}
	row.Valor = valor

	return row, quality, nil
}

// NormalizeChunk normalises raws, dropping rejected rows.
func NormalizeChunk(raws []domain.RawRow, providesFechaCorte bool) ([]domain.LedgerRow, Quality) {
	rows := make([]domain.LedgerRow, 0, len(raws))
	var quality Quality
	for _, raw := range raws {
		row, q, err := Normalize(raw, providesFechaCorte)
		quality.add(q)
		if err != nil {
			continue
		}
		rows = append(rows, row)
	}
	return rows, quality
}

func textOrEmpty(value *string) string {
	if value == nil {
		return ""
	}
	return strings.TrimSpace(*value)
}

func parseDate(raw *string) (time.Time, error) {
	if raw == nil {
		return time.Time{}, fmt.Errorf("missing date")
	}
	value := strings.TrimSpace(*raw)
	if value == "" {
		return time.Time{}, fmt.Errorf("missing date")
	}
	for _, layout := range dateLayouts {
		if parsed, err := time.Parse(layout, value); err == nil {
			return time.Date(parsed.Year(), parsed.Month(), parsed.Day(), 0, 0, 0, 0, time.UTC), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised date %q", value)
}

func parseValor(raw *string) (decimal.Decimal, bool) {
	if raw == nil {
		return decimal.Zero, false
	}
	value, err := decimal.NewFromString(strings.TrimSpace(*raw))
	if err != nil {
		return decimal.Zero, false
	}
	return value, true
}

func truncateRunes(value string, limit int) (string, bool) {
	if utf8.RuneCountInString(value) <= limit {
		return value, false
	}
	runes := []rune(value)
	return string(runes[:limit]), true
}
