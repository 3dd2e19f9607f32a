package classifier

import (
	"errors"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/rpattn/opexledger/internal/domain"
)

// Training workbook headers.
const (
	HeaderGrupo       = "Grupo"
	HeaderSubgrupo    = "Subgrupo"
	HeaderDescripcion = "Glosa Documento nuevo"
	HeaderCuenta      = "Código Cuenta"
	HeaderProveedor   = "Rut Nuevo"
)

// ErrMissingHeader is returned when the workbook lacks a required column.
var ErrMissingHeader = errors.New("training workbook is missing a required column")

// ReadWorkbook loads labelled examples from the first sheet of an xlsx file,
// or from sheet when given. The header row is the first non-empty row.
func ReadWorkbook(path, sheet string) ([]Example, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open xlsx: %w", err)
	}
	defer func() { _ = f.Close() }()

	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, errors.New("excel file has no sheets")
		}
		sheet = sheets[0]
	}

	rows, err := f.Rows(sheet)
	if err != nil {
		return nil, fmt.Errorf("failed to read rows from xlsx: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var (
		index    map[string]int
		examples []Example
	)
	for rows.Next() {
		cols, err := rows.Columns()
		if err != nil {
			return nil, fmt.Errorf("failed to read xlsx row: %w", err)
		}
		if isBlank(cols) {
			continue
		}
		if index == nil {
			index, err = headerIndex(cols)
			if err != nil {
				return nil, err
			}
			continue
		}
		examples = append(examples, Example{
			Input: domain.ExpenseInput{
				CuentaContable:   cell(cols, index[HeaderCuenta]),
				IDProveedor:      cell(cols, index[HeaderProveedor]),
				DescripcionGasto: cell(cols, index[HeaderDescripcion]),
			},
			Grupo:    cell(cols, index[HeaderGrupo]),
			Subgrupo: cell(cols, index[HeaderSubgrupo]),
		})
	}
	if err := rows.Error(); err != nil {
		return nil, fmt.Errorf("failed to iterate xlsx rows: %w", err)
	}
	if index == nil {
		return nil, errors.New("header row could not be detected")
	}
	return examples, nil
}

func headerIndex(cols []string) (map[string]int, error) {
	index := map[string]int{}
	for i, col := range cols {
		name := strings.TrimSpace(col)
		if _, dup := index[name]; !dup {
			index[name] = i
		}
	}
	var missing []string
	for _, required := range []string{HeaderGrupo, HeaderSubgrupo, HeaderDescripcion, HeaderCuenta, HeaderProveedor} {
		if _, ok := index[required]; !ok {
			missing = append(missing, required)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingHeader, strings.Join(missing, ", "))
	}
	return index, nil
}

func cell(cols []string, i int) string {
	if i < 0 || i >= len(cols) {
		return ""
	}
	return strings.TrimSpace(cols[i])
}

func isBlank(cols []string) bool {
	for _, col := range cols {
		if strings.TrimSpace(col) != "" {
			return false
		}
	}
	return true
}
