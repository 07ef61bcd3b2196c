package dataset

import (
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/clinix/sourceorder/pkg/errors"
)

// Table is a header plus rows of raw cell text. Every row has len(Header) cells.
type Table struct {
	Header []string
	Rows   [][]string
}

// Load reads a table from an .xlsx or .csv file. sheet selects the worksheet
// of a workbook; empty means the first sheet.
func Load(path, sheet string) (*Table, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm":
		return LoadXLSX(path, sheet)
	case ".csv":
		f, err := os.Open(path)
		if err != nil {
			return nil, errors.Wrapf(err, "open dataset %s", path)
		}
		defer f.Close()
		return ReadCSV(f)
	default:
		return nil, errors.NewValidationError("dataset.path", "unsupported file extension", path)
	}
}

// LoadXLSX reads one worksheet of an Excel workbook.
func LoadXLSX(path, sheet string) (*Table, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open workbook %s", path)
	}
	defer f.Close()

	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, errors.NewSchemaError("LoadXLSX", "", "workbook has no sheets")
		}
		sheet = sheets[0]
	}
	if idx, err := f.GetSheetIndex(sheet); err != nil || idx < 0 {
		return nil, errors.NewSchemaError("LoadXLSX", "", "sheet "+sheet+" not found")
	}

	rows, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, errors.Wrapf(err, "read sheet %s", sheet)
	}
	return newTable(rows, true)
}

// ReadCSV reads a comma-separated table.
func ReadCSV(r io.Reader) (*Table, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	rows, err := cr.ReadAll()
	if err != nil {
		return nil, errors.Wrap(err, "read csv")
	}
	return newTable(rows, false)
}

// newTable validates the raw rows. Workbooks drop trailing empty cells, so
// short rows are padded when pad is set.
func newTable(rows [][]string, pad bool) (*Table, error) {
	if len(rows) == 0 {
		return nil, errors.NewSchemaError("Load", "", "empty table")
	}

	header := make([]string, len(rows[0]))
	seen := make(map[string]struct{}, len(rows[0]))
	for i, h := range rows[0] {
		h = strings.TrimSpace(h)
		if h == "" {
			return nil, errors.NewSchemaError("Load", "", "blank header cell")
		}
		if _, dup := seen[h]; dup {
			return nil, errors.NewSchemaError("Load", h, "duplicate column")
		}
		seen[h] = struct{}{}
		header[i] = h
	}
	if len(header) < 2 {
		return nil, errors.NewSchemaError("Load", "", "need at least one feature and a target column")
	}

	t := &Table{Header: header}
	for n, row := range rows[1:] {
		if blank(row) {
			continue
		}
		if len(row) < len(header) && pad {
			row = append(row, make([]string, len(header)-len(row))...)
		}
		if len(row) != len(header) {
			return nil, errors.NewSchemaError("Load", "", rowReason(n+2, "has the wrong number of cells"))
		}
		if strings.TrimSpace(row[len(row)-1]) == "" {
			return nil, errors.NewSchemaError("Load", header[len(header)-1], rowReason(n+2, "has an empty target"))
		}
		t.Rows = append(t.Rows, row)
	}
	if len(t.Rows) == 0 {
		return nil, errors.NewSchemaError("Load", "", "empty table")
	}
	return t, nil
}

func blank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

func rowReason(line int, what string) string {
	return "row " + strconv.Itoa(line) + " " + what
}

// NumRows returns the number of data rows.
func (t *Table) NumRows() int { return len(t.Rows) }

// Index returns the position of column name, or -1.
func (t *Table) Index(name string) int {
	for i, h := range t.Header {
		if h == name {
			return i
		}
	}
	return -1
}

// Column returns every cell of column name.
func (t *Table) Column(name string) ([]string, error) {
	idx := t.Index(name)
	if idx < 0 {
		return nil, errors.NewSchemaError("Table.Column", name, "missing column")
	}
	out := make([]string, len(t.Rows))
	for i, row := range t.Rows {
		out[i] = row[idx]
	}
	return out, nil
}

// TargetName returns the last column's name.
func (t *Table) TargetName() string { return t.Header[len(t.Header)-1] }

// FeatureNames returns every column but the last.
func (t *Table) FeatureNames() []string {
	return append([]string(nil), t.Header[:len(t.Header)-1]...)
}

// Targets returns the last column.
func (t *Table) Targets() []string {
	out, _ := t.Column(t.TargetName())
	return out
}

// FeatureRows returns each row without its target cell.
func (t *Table) FeatureRows() [][]string {
	out := make([][]string, len(t.Rows))
	for i, row := range t.Rows {
		out[i] = row[:len(row)-1]
	}
	return out
}

// Validate checks that every expected feature column is present.
func (t *Table) Validate(expected []string) error {
	for _, name := range expected {
		idx := t.Index(name)
		if idx < 0 {
			return errors.NewSchemaError("Table.Validate", name, "missing expected column")
		}
		if idx == len(t.Header)-1 {
			return errors.NewSchemaError("Table.Validate", name, "expected feature is the target column")
		}
	}
	return nil
}
