package workbook

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// ErrUnsupportedFormat is returned by Decode for file types it cannot read.
var ErrUnsupportedFormat = errors.New("unsupported file format")

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// ReadCSV decodes a CSV document into a single sheet named sheetName.
// A UTF-8 BOM is skipped and invalid UTF-8 is replaced with U+FFFD.
func ReadCSV(r io.Reader, sheetName string) (Sheet, error) {
	br := bufio.NewReader(r)
	if head, err := br.Peek(len(utf8BOM)); err == nil && bytes.Equal(head, utf8BOM) {
		_, _ = br.Discard(len(utf8BOM))
	}

	data, err := io.ReadAll(br)
	if err != nil {
		return Sheet{}, fmt.Errorf("read csv: %w", err)
	}

	cr := csv.NewReader(bytes.NewReader(sanitizeUTF8(data)))
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	records, err := cr.ReadAll()
	if err != nil {
		return Sheet{}, fmt.Errorf("invalid csv: %w", err)
	}
	return tabulate(sheetName, records), nil
}

// WriteCSV encodes one sheet as CSV.
func WriteCSV(w io.Writer, s Sheet) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(s.Header); err != nil {
		return err
	}
	for _, cells := range s.Rows {
		record := make([]string, len(cells))
		for i, v := range cells {
			record[i] = FormatCell(v)
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// Decode reads a workbook from r, choosing the codec from the file name's
// extension. A CSV file becomes a single sheet named after the file.
func Decode(fileName string, r io.Reader) (*Workbook, error) {
	ext := strings.ToLower(filepath.Ext(fileName))
	switch ext {
	case ".xlsx", ".xlsm":
		return ReadXLSX(r)
	case ".csv", ".txt":
		sheet, err := ReadCSV(r, strings.TrimSuffix(filepath.Base(fileName), filepath.Ext(fileName)))
		if err != nil {
			return nil, err
		}
		return &Workbook{Sheets: []Sheet{sheet}}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
}

// sanitizeUTF8 replaces invalid UTF-8 sequences with the replacement rune.
func sanitizeUTF8(data []byte) []byte {
	if utf8.Valid(data) {
		return data
	}

	var buf bytes.Buffer
	buf.Grow(len(data))
	for len(data) > 0 {
		r, size := utf8.DecodeRune(data)
		if r == utf8.RuneError && size == 1 {
			buf.WriteRune(utf8.RuneError)
		} else {
			buf.WriteRune(r)
		}
		data = data[size:]
	}
	return buf.Bytes()
}
