/*
Package extract reads council rate-roll extracts into rows for the importer.

PURPOSE:
  Councils deliver the same 13-column extract as CSV or as an Excel
  workbook. Both are exposed as a rates.RowReader so the importer never
  cares which one it got.

FORMATS:
  .csv   encoding/csv, lazy quotes, ragged rows allowed
  .xlsx  first sheet of the workbook (excelize); trailing blank cells that
         Excel drops are padded back to rates.RowWidth. Cells are read raw,
         not as displayed; date cells in the owner start date column are
         rendered as YYYY-MM-DD

HEADER:
  Extracts may or may not carry a header line. With Header set the first
  row is discarded; line numbers reported by the importer then count from
  the first data row.

USAGE:
  r, err := extract.Open("rates-2019.csv", extract.Options{Header: true})
  if err != nil {
      return err
  }
  defer r.Close()
  summary, err := importer.Refresh(ctx, scope, r)

SEE ALSO:
  - rates/row.go: Column schema
*/
package extract

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/warp/rates-engine/rates"
	"github.com/xuri/excelize/v2"
)

// ErrUnsupportedFormat is returned for a file extension no reader handles.
var ErrUnsupportedFormat = errors.New("unsupported extract format")

// Format names an extract encoding.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// FormatOf picks the format from a file name's extension.
func FormatOf(name string) (Format, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv", ".txt":
		return FormatCSV, nil
	case ".xlsx", ".xlsm":
		return FormatXLSX, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, filepath.Ext(name))
}

// Options controls how an extract is read.
type Options struct {
	Header bool // first row is a header and is discarded
}

// Reader is a rates.RowReader over one extract.
type Reader struct {
	rows       rates.RowReader
	closer     io.Closer
	skipHeader bool
}

// Read returns the next data row, or io.EOF.
func (r *Reader) Read() ([]string, error) {
	if r.skipHeader {
		r.skipHeader = false
		if _, err := r.rows.Read(); err != nil {
			return nil, err
		}
	}
	return r.rows.Read()
}

// Close releases the underlying file, if any.
func (r *Reader) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}

// =============================================================================
// CONSTRUCTORS
// =============================================================================

// NewCSV reads a CSV extract from src.
func NewCSV(src io.Reader, opts Options) *Reader {
	cr := csv.NewReader(src)
	cr.LazyQuotes = true
	cr.FieldsPerRecord = -1
	return &Reader{rows: cr, skipHeader: opts.Header}
}

// NewXLSX reads the first sheet of a workbook from src. The sheet is loaded
// eagerly; excelize needs the whole archive anyway.
func NewXLSX(src io.Reader, opts Options) (*Reader, error) {
	f, err := excelize.OpenReader(src)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	sheet := f.GetSheetName(0)
	if sheet == "" {
		return nil, fmt.Errorf("open workbook: no sheets")
	}
	// Raw values: display formats would turn 1234.5 into "1,234.50" and
	// dates into "1/1/15 00:00".
	rows, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheet, err)
	}
	date1904 := false
	if props, err := f.GetWorkbookProps(); err == nil && props.Date1904 != nil {
		date1904 = *props.Date1904
	}

	data := make([][]string, 0, len(rows))
	for i, row := range rows {
		if isBlank(row) {
			continue
		}
		for len(row) < rates.RowWidth {
			row = append(row, "")
		}
		row[rates.OwnerStartDateColumn] = ownerDate(f, sheet, i+1, row[rates.OwnerStartDateColumn], date1904)
		data = append(data, row)
	}
	return &Reader{rows: rates.Rows(data), skipHeader: opts.Header}, nil
}

// New reads src in the given format.
func New(src io.Reader, format Format, opts Options) (*Reader, error) {
	switch format {
	case FormatCSV:
		return NewCSV(src, opts), nil
	case FormatXLSX:
		return NewXLSX(src, opts)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
}

// Open opens an extract file, choosing the reader by extension.
// The caller must Close the returned Reader.
func Open(path string, opts Options) (*Reader, error) {
	format, err := FormatOf(path)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	r, err := New(file, format, opts)
	if err != nil {
		file.Close()
		return nil, err
	}
	if format == FormatXLSX {
		// Fully loaded already.
		file.Close()
		return r, nil
	}
	r.closer = file
	return r, nil
}

// ownerDate renders a date cell as YYYY-MM-DD. Numeric cells hold Excel
// serial dates; ISO date cells hold RFC 3339 text. Text cells pass through.
func ownerDate(f *excelize.File, sheet string, rowNum int, value string, date1904 bool) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return value
	}
	cell, err := excelize.CoordinatesToCellName(rates.OwnerStartDateColumn+1, rowNum)
	if err != nil {
		return value
	}
	typ, err := f.GetCellType(sheet, cell)
	if err != nil {
		return value
	}

	switch typ {
	case excelize.CellTypeUnset, excelize.CellTypeNumber:
		serial, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return value
		}
		t, err := excelize.ExcelDateToTime(serial, date1904)
		if err != nil {
			return value
		}
		return t.Format(time.DateOnly)
	case excelize.CellTypeDate:
		if t, err := time.Parse(time.RFC3339, value); err == nil {
			return t.Format(time.DateOnly)
		}
	}
	return value
}

func isBlank(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
