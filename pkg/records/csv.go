// Package records reads the input dataset and writes it back with the
// file_name column filled in. Only CSV is supported.
package records

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"imgbatch/pkg/errors"
	"imgbatch/pkg/models"
	"imgbatch/pkg/storage"
)

// Column names understood by the reader
const (
	ColAccountID  = "account_id"
	ColCompanyID  = "company_id"
	ColUserID     = "user_id"
	ColImageURL   = "image_url"
	ColCreateTime = "create_time"
	ColTitle      = "title"
	ColFileName   = "file_name"
)

// RequiredColumns must all be present in the header
var RequiredColumns = []string{ColAccountID, ColCompanyID, ColUserID, ColImageURL, ColCreateTime}

// Table is a loaded dataset. Rows keep every original cell so columns the
// pipeline does not know about survive the round trip.
type Table struct {
	Header  []string
	Rows    [][]string
	Records []*models.Record
	index   map[string]int
}

// ReadCSV loads a dataset from path
func ReadCSV(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(errors.KindRecordStore, err, "opening %s", path)
	}
	defer f.Close()

	t, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

// Read parses CSV from r. The first row is the header. Rows shorter than the
// header are padded on write; rows longer than the header are rejected.
func Read(r io.Reader) (*Table, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, errors.New(errors.KindRecordStore, "empty input, header row required")
	}
	if err != nil {
		return nil, errors.Wrap(errors.KindRecordStore, err, "reading header")
	}

	t := &Table{Header: header, index: make(map[string]int, len(header))}
	for i, h := range header {
		name := normalizeHeader(h, i == 0)
		if _, dup := t.index[name]; !dup {
			t.index[name] = i
		}
	}

	var missing []string
	for _, col := range RequiredColumns {
		if _, ok := t.index[col]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return nil, errors.New(errors.KindRecordStore, "missing required columns: %s", strings.Join(missing, ", "))
	}

	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrap(errors.KindRecordStore, err, "reading row %d", len(t.Rows))
		}
		if isBlank(row) {
			continue
		}
		if len(row) > len(header) {
			return nil, errors.New(errors.KindRecordStore, "row %d has %d fields, header has %d", len(t.Rows), len(row), len(header))
		}

		rec := &models.Record{
			Row:           len(t.Rows),
			AccountID:     cleanID(t.cell(row, ColAccountID)),
			CompanyID:     cleanID(t.cell(row, ColCompanyID)),
			UserID:        cleanID(t.cell(row, ColUserID)),
			ImageURL:      strings.TrimSpace(t.cell(row, ColImageURL)),
			Title:         strings.TrimSpace(t.cell(row, ColTitle)),
			CreateTimeRaw: strings.TrimSpace(t.cell(row, ColCreateTime)),
		}
		if prior := strings.TrimSpace(t.cell(row, ColFileName)); prior != "" {
			rec.SetFileName(prior)
		}
		t.Rows = append(t.Rows, row)
		t.Records = append(t.Records, rec)
	}

	return t, nil
}

func (t *Table) cell(row []string, col string) string {
	i, ok := t.index[col]
	if !ok || i >= len(row) {
		return ""
	}
	return row[i]
}

// Write emits the header and every row in input order, with file_name set
// from the matching record. A missing file_name column is appended.
func (t *Table) Write(w io.Writer) error {
	header := append([]string(nil), t.Header...)
	fileCol, ok := t.index[ColFileName]
	if !ok {
		fileCol = len(header)
		header = append(header, ColFileName)
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return errors.Wrap(errors.KindRecordStore, err, "writing header")
	}

	for i, row := range t.Rows {
		out := make([]string, len(header))
		copy(out, row)
		out[fileCol] = t.Records[i].FileNameOrEmpty()
		if err := cw.Write(out); err != nil {
			return errors.Wrap(errors.KindRecordStore, err, "writing row %d", i)
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return errors.Wrap(errors.KindRecordStore, err, "flushing")
	}
	return nil
}

// WriteCSV writes the table to path atomically
func WriteCSV(path string, t *Table) error {
	var buf bytes.Buffer
	if err := t.Write(&buf); err != nil {
		return err
	}

	dir, name := filepath.Split(path)
	if dir == "" {
		dir = "."
	}
	if _, err := storage.WriteFileAtomic(dir, name, &buf); err != nil {
		return errors.Wrap(errors.KindRecordStore, err, "saving %s", path)
	}
	return nil
}

// DefaultOutputPath derives the write-back path for input, e.g.
// data.csv becomes data_updated.csv
func DefaultOutputPath(input string) string {
	ext := filepath.Ext(input)
	return strings.TrimSuffix(input, ext) + updatedSuffix + ext
}

func normalizeHeader(h string, first bool) string {
	if first {
		h = strings.TrimPrefix(h, "\ufeff")
	}
	return strings.ToLower(strings.TrimSpace(h))
}

// cleanID trims whitespace and any surrounding quotes, which spreadsheet
// exports often leave around numeric ids
func cleanID(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, `'"`)
	return strings.TrimSpace(s)
}

func isBlank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
