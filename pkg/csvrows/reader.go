// Package csvrows streams CSV records as header-keyed rows.
package csvrows

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// ErrNoHeader is returned when the input has no header row.
var ErrNoHeader = errors.New("csv has no header row")

// Row is one data record keyed by trimmed header name.
type Row struct {
	// Index is the 1-based position among data rows (the header is not counted).
	Index  int
	Values map[string]string
	// Err is set when the record itself could not be parsed.
	Err error
}

// Get returns the value for column with surrounding whitespace removed.
func (r Row) Get(column string) string {
	return strings.TrimSpace(r.Values[column])
}

// Reader decodes UTF-8 CSV input, dropping a leading byte order mark.
type Reader struct {
	csv     *csv.Reader
	headers []string
	index   int
}

// NewReader consumes the header row and prepares to stream data rows.
func NewReader(r io.Reader) (*Reader, error) {
	decoded := transform.NewReader(r, unicode.BOMOverride(unicode.UTF8.NewDecoder()))
	cr := csv.NewReader(decoded)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrNoHeader
		}
		return nil, fmt.Errorf("read csv header: %w", err)
	}

	headers := make([]string, len(header))
	for i, h := range header {
		headers[i] = NormalizeHeader(h)
	}
	return &Reader{csv: cr, headers: headers}, nil
}

// Headers returns the normalised header names in file order.
func (r *Reader) Headers() []string {
	out := make([]string, len(r.headers))
	copy(out, r.headers)
	return out
}

// HasColumn reports whether the header contains name.
func (r *Reader) HasColumn(name string) bool {
	for _, h := range r.headers {
		if h == name {
			return true
		}
	}
	return false
}

// Next returns the next data row, or io.EOF once the input is exhausted.
// Malformed records come back as a Row with Err set so callers can keep going.
func (r *Reader) Next() (Row, error) {
	for {
		record, err := r.csv.Read()
		if errors.Is(err, io.EOF) {
			return Row{}, io.EOF
		}
		var parseErr *csv.ParseError
		if err != nil && !errors.As(err, &parseErr) {
			return Row{}, fmt.Errorf("read csv row: %w", err)
		}
		if err == nil && isBlank(record) {
			continue
		}

		r.index++
		row := Row{Index: r.index, Values: make(map[string]string, len(r.headers)), Err: err}
		for i, h := range r.headers {
			if h == "" {
				continue
			}
			if i < len(record) {
				row.Values[h] = norm.NFC.String(record[i])
			} else {
				row.Values[h] = ""
			}
		}
		return row, nil
	}
}

// NormalizeHeader trims, lowercases and NFC-normalises a header cell.
func NormalizeHeader(h string) string {
	h = strings.TrimPrefix(h, "\ufeff")
	return strings.ToLower(strings.TrimSpace(norm.NFC.String(h)))
}

func isBlank(record []string) bool {
	for _, v := range record {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
