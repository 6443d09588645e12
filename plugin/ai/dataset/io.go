package dataset

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
)

// ErrEmpty is returned when an input has no header row.
var ErrEmpty = errors.New("file is empty")

// ReadCSV parses a CSV stream with a header row. Cells stay strings; call Normalize
// to infer numeric types.
func ReadCSV(r io.Reader) (*Dataset, error) {
	reader := csv.NewReader(r)
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	headers, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return nil, ErrEmpty
		}
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	headers = cleanHeaders(headers)

	var rows [][]any
	lineNum := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse line %d: %w", lineNum+1, err)
		}
		rows = append(rows, toRow(record, len(headers)))
		lineNum++
	}
	return newOwned(headers, rows), nil
}

// ReadXLSX parses the first sheet of an Excel workbook with a header row.
func ReadXLSX(r io.Reader) (*Dataset, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to open Excel file: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, errors.New("excel file has no sheets")
	}

	records, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet: %w", err)
	}
	if len(records) == 0 {
		return nil, ErrEmpty
	}

	headers := cleanHeaders(records[0])
	rows := make([][]any, 0, len(records)-1)
	for _, record := range records[1:] {
		rows = append(rows, toRow(record, len(headers)))
	}
	return newOwned(headers, rows), nil
}

// Load reads a dataset file, choosing the parser from the extension.
func Load(path string) (*Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm":
		return ReadXLSX(f)
	default:
		return ReadCSV(f)
	}
}

// WriteCSV writes the dataset with a header row.
func (d *Dataset) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(d.columns); err != nil {
		return err
	}
	record := make([]string, len(d.columns))
	for _, row := range d.rows {
		for i, v := range row {
			record[i] = FormatValue(v)
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// CSV renders the dataset as CSV text without a trailing newline.
func (d *Dataset) CSV() string {
	var buf bytes.Buffer
	_ = d.WriteCSV(&buf)
	return strings.TrimRight(buf.String(), "\n")
}

func cleanHeaders(headers []string) []string {
	out := make([]string, len(headers))
	for i, h := range headers {
		h = strings.TrimPrefix(h, "\ufeff")
		h = strings.TrimSpace(h)
		if h == "" {
			h = fmt.Sprintf("Unnamed: %d", i)
		}
		out[i] = h
	}
	return out
}

func toRow(record []string, width int) []any {
	row := make([]any, width)
	for i := 0; i < width && i < len(record); i++ {
		row[i] = record[i]
	}
	return row
}
