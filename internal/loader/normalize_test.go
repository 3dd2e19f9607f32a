package loader

import (
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/rpattn/opexledger/internal/domain"
)

func strptr(s string) *string { return &s }

func TestNormalizeDerivesMonthEndFromTransactionDate(t *testing.T) {
	row, _, err := Normalize(domain.RawRow{
		Empresa:          "AFI",
		FechaTransaccion: strptr("2024-02-10"),
		CuentaContable:   strptr(" 32010101 "),
		IDProveedor:      strptr("76.123.456-7"),
		Valor:            strptr("1500.25"),
	}, false)
	if err != nil {
		t.Fatalf("normalize returned error: %v", err)
	}

	want := time.Date(2024, time.February, 29, 0, 0, 0, 0, time.UTC)
	if !row.FechaCorte.Equal(want) {
		t.Fatalf("expected fecha_corte %s, got %s", want, row.FechaCorte)
	}
	if row.CuentaContable != "32010101" {
		t.Fatalf("expected trimmed account, got %q", row.CuentaContable)
	}
	if row.Valor.String() != "1500.25" {
		t.Fatalf("unexpected valor %s", row.Valor)
	}
	if row.StatusGestion != domain.DefaultStatus || row.ClasificacionManual || row.Grupo != nil {
		t.Fatalf("unexpected management defaults: %+v", row)
	}
}

func TestNormalizeKeepsSourceFechaCorte(t *testing.T) {
	row, _, err := Normalize(domain.RawRow{
		Empresa:          "GFO",
		FechaCorte:       strptr("2025-01-31 00:00:00"),
		FechaTransaccion: strptr("2025-01-07"),
		Valor:            strptr("10"),
	}, true)
	if err != nil {
		t.Fatalf("normalize returned error: %v", err)
	}
	if got := row.FechaCorte.Format("2006-01-02"); got != "2025-01-31" {
		t.Fatalf("expected source fecha_corte, got %s", got)
	}
	if row.FechaTransaccion != "2025-01-07" {
		t.Fatalf("expected fecha_transaccion passthrough, got %q", row.FechaTransaccion)
	}
}

func TestNormalizeTruncatesDescriptionByCharacters(t *testing.T) {
	long := strings.Repeat("á", 600)
	row, quality, err := Normalize(domain.RawRow{
		Empresa:          "NC SA",
		FechaTransaccion: strptr("2025-03-01"),
		DescripcionGasto: &long,
		Valor:            strptr("1"),
	}, false)
	if err != nil {
		t.Fatalf("normalize returned error: %v", err)
	}
	if n := utf8.RuneCountInString(row.DescripcionGasto); n != domain.MaxDescriptionLength {
		t.Fatalf("expected %d characters, got %d", domain.MaxDescriptionLength, n)
	}
	if row.DescripcionGasto != long[:len(row.DescripcionGasto)] {
		t.Fatalf("expected description to be a prefix of the source text")
	}
	if quality.TruncatedDescriptions != 1 {
		t.Fatalf("expected truncation to be counted, got %+v", quality)
	}
}

func TestNormalizeFillsMissingProviderFields(t *testing.T) {
	row, quality, err := Normalize(domain.RawRow{
		Empresa:          "LTCP",
		FechaTransaccion: strptr("2025-04-02"),
		Valor:            strptr("5"),
	}, false)
	if err != nil {
		t.Fatalf("normalize returned error: %v", err)
	}
	if row.IDProveedor != domain.SentinelProviderID {
		t.Fatalf("expected sentinel provider id, got %q", row.IDProveedor)
	}
	if row.NombreTercero != "" || row.DescripcionGasto != "" {
		t.Fatalf("expected empty provider name and description, got %+v", row)
	}
	if quality.MissingProviderIDs != 1 {
		t.Fatalf("expected missing provider to be counted, got %+v", quality)
	}
}

func TestNormalizeZeroesMalformedAmounts(t *testing.T) {
	for _, raw := range []*string{nil, strptr("12,5"), strptr("abc")} {
		row, quality, err := Normalize(domain.RawRow{
			Empresa:          "IN SA",
			FechaTransaccion: strptr("2025-05-01"),
			Valor:            raw,
		}, false)
		if err != nil {
			t.Fatalf("normalize returned error: %v", err)
		}
		if !row.Valor.IsZero() {
			t.Fatalf("expected zero valor, got %s", row.Valor)
		}
		if quality.MalformedAmounts != 1 {
			t.Fatalf("expected malformed amount to be counted, got %+v", quality)
		}
	}
}

func TestNormalizeChunkDropsUndatedRows(t *testing.T) {
	rows, quality := NormalizeChunk([]domain.RawRow{
		{Empresa: "A", FechaTransaccion: strptr("not a date"), Valor: strptr("1")},
		{Empresa: "A", Valor: strptr("1")},
		{Empresa: "A", FechaTransaccion: strptr("15/03/2025"), Valor: strptr("1")},
	}, false)

	if len(rows) != 1 {
		t.Fatalf("expected 1 surviving row, got %d", len(rows))
	}
	if got := rows[0].FechaCorte.Format("2006-01-02"); got != "2025-03-31" {
		t.Fatalf("unexpected fecha_corte %s", got)
	}
	if quality.DroppedDates != 2 {
		t.Fatalf("expected 2 dropped rows, got %+v", quality)
	}

	_, _, err := Normalize(domain.RawRow{Empresa: "A"}, true)
	if !errors.Is(err, domain.ErrMalformedRow) {
		t.Fatalf("expected ErrMalformedRow, got %v", err)
	}
}
