package api

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/rpattn/opexledger/internal/domain"
)

// Export formats.
const (
	FormatCSV  = "csv"
	FormatXLSX = "xlsx"
)

var exportHeaders = []string{
	"id_transaccion",
	"empresa",
	"fecha_corte",
	"fecha_transaccion",
	"cuenta_contable",
	"id_proveedor",
	"nombre_tercero",
	"descripcion_gasto",
	"valor",
	"grupo",
	"subgrupo",
	"status_gestion",
	"clasificacion_manual",
}

func exportRecord(row domain.LedgerRow) []string {
	return []string{
		strconv.FormatInt(row.IDTransaccion, 10),
		row.Empresa,
		formatDate(row.FechaCorte),
		row.FechaTransaccion,
		row.CuentaContable,
		row.IDProveedor,
		row.NombreTercero,
		row.DescripcionGasto,
		row.Valor.String(),
		formatOptional(row.Grupo),
		formatOptional(row.Subgrupo),
		row.StatusGestion,
		strconv.FormatBool(row.ClasificacionManual),
	}
}

func writeCSV(w io.Writer, rows []domain.LedgerRow) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(exportHeaders); err != nil {
		return fmt.Errorf("failed to write csv header: %w", err)
	}
	for _, row := range rows {
		if err := writer.Write(exportRecord(row)); err != nil {
			return fmt.Errorf("failed to write csv row: %w", err)
		}
	}
	writer.Flush()
	return writer.Error()
}

// writeXLSX streams rows into a single sheet. Amounts are written as numbers
// so the workbook can sum them.
func writeXLSX(w io.Writer, rows []domain.LedgerRow) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	sheet := "OPEX"
	if err := f.SetSheetName(f.GetSheetName(0), sheet); err != nil {
		return fmt.Errorf("failed to name sheet: %w", err)
	}
	stream, err := f.NewStreamWriter(sheet)
	if err != nil {
		return fmt.Errorf("failed to open sheet writer: %w", err)
	}

	header := make([]any, len(exportHeaders))
	for i, h := range exportHeaders {
		header[i] = h
	}
	if err := stream.SetRow("A1", header); err != nil {
		return fmt.Errorf("failed to write xlsx header: %w", err)
	}

	for i, row := range rows {
		record := exportRecord(row)
		values := make([]any, len(record))
		for j, value := range record {
			values[j] = value
		}
		values[0] = row.IDTransaccion
		values[8] = row.Valor.InexactFloat64()
		values[12] = row.ClasificacionManual

		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := stream.SetRow(cell, values); err != nil {
			return fmt.Errorf("failed to write xlsx row: %w", err)
		}
	}
	if err := stream.Flush(); err != nil {
		return fmt.Errorf("failed to flush xlsx: %w", err)
	}
	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write xlsx: %w", err)
	}
	return nil
}

func exportFilename(filter domain.TransactionFilter, format string) string {
	parts := []string{"opex"}
	if !filter.StartDate.IsZero() {
		parts = append(parts, formatDate(filter.StartDate))
	}
	if !filter.EndDate.IsZero() {
		parts = append(parts, formatDate(filter.EndDate))
	}
	if len(filter.Empresas) == 1 {
		parts = append(parts, sanitizeFileComponent(filter.Empresas[0]))
	}
	return strings.Join(parts, "_") + "." + format
}

func sanitizeFileComponent(value string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	builder := strings.Builder{}
	for _, r := range value {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-' || r == '_':
			builder.WriteRune(r)
		default:
			builder.WriteRune('-')
		}
	}
	result := strings.Trim(builder.String(), "-")
	if result == "" {
		return "export"
	}
	return result
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.DateOnly)
}

func formatOptional(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
