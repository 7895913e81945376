package upsert

import (
	"bytes"
	"encoding/csv"
	"io"
	"path/filepath"
	"strings"

	"github.com/bitechdev/TableSpec/pkg/common"
	"github.com/xuri/excelize/v2"
)

// Record is one data row of a spreadsheet. Number is the 1-based sheet row,
// so the first data row is 2.
type Record struct {
	Number int
	Values []string
}

// Value returns the cell under the header at index, "" when the row is short.
func (r Record) Value(index int) string {
	if index < 0 || index >= len(r.Values) {
		return ""
	}
	return r.Values[index]
}

// Batch is a parsed spreadsheet: the header row and the data rows.
type Batch struct {
	Headers []string
	Records []Record
}

// Parse reads an .xlsx or .csv upload. sheet selects a worksheet by name;
// empty means the first sheet. It is ignored for CSV.
func Parse(filename string, r io.Reader, sheet string) (*Batch, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".xlsx", ".xlsm":
		return ParseXLSX(r, sheet)
	case ".csv":
		return ParseCSV(r)
	default:
		return nil, common.Errorf(common.KindInvalidRequest, "unsupported file type %q, expected .xlsx or .csv", filepath.Ext(filename))
	}
}

// ParseXLSX reads one worksheet of a workbook.
func ParseXLSX(r io.Reader, sheet string) (*Batch, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, common.Wrap(common.KindInvalidRequest, err, "failed to open workbook")
	}
	defer f.Close()

	if sheet == "" {
		sheet = f.GetSheetName(0)
	}
	if idx, err := f.GetSheetIndex(sheet); err != nil || idx < 0 {
		return nil, common.Errorf(common.KindInvalidRequest, "sheet %q not found in workbook", sheet)
	}

	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, common.Wrap(common.KindInvalidRequest, err, "failed to read rows of sheet %q", sheet)
	}
	return newBatch(rows)
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// ParseCSV reads a comma separated file. A leading UTF-8 byte order mark is
// dropped and rows may have differing lengths.
func ParseCSV(r io.Reader) (*Batch, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, common.Wrap(common.KindInvalidRequest, err, "failed to read file")
	}
	data = bytes.TrimPrefix(data, utf8BOM)

	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, common.Wrap(common.KindInvalidRequest, err, "failed to parse csv")
	}
	return newBatch(rows)
}

// newBatch treats the first row as headers, pads short rows and skips rows
// whose cells are all blank.
func newBatch(rows [][]string) (*Batch, error) {
	if len(rows) == 0 || isBlank(rows[0]) {
		return nil, common.Errorf(common.KindInvalidRequest, "file has no header row")
	}

	headers := make([]string, len(rows[0]))
	for i, h := range rows[0] {
		headers[i] = strings.TrimSpace(h)
	}
	// Trailing empty header cells carry no column.
	for len(headers) > 0 && headers[len(headers)-1] == "" {
		headers = headers[:len(headers)-1]
	}

	batch := &Batch{Headers: headers}
	for i, row := range rows[1:] {
		if isBlank(row) {
			continue
		}
		values := make([]string, len(headers))
		copy(values, row)
		batch.Records = append(batch.Records, Record{Number: i + 2, Values: values})
	}
	return batch, nil
}

func isBlank(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
