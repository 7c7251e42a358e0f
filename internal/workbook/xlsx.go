package workbook

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"
)

// ErrEmptyWorkbook is returned when encoding a workbook with no sheets.
var ErrEmptyWorkbook = errors.New("workbook has no sheets")

// ReadXLSX decodes an xlsx document. The first non-blank row of each
// worksheet is taken as its header.
func ReadXLSX(r io.Reader) (*Workbook, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open xlsx: %w", err)
	}
	defer f.Close()

	wb := New()
	for _, name := range f.GetSheetList() {
		rows, err := f.GetRows(name)
		if err != nil {
			return nil, fmt.Errorf("read sheet %q: %w", name, err)
		}
		wb.Sheets = append(wb.Sheets, tabulate(name, rows))
	}
	return wb, nil
}

// WriteXLSX encodes wb as an xlsx document.
func WriteXLSX(w io.Writer, wb *Workbook) error {
	if wb == nil || len(wb.Sheets) == 0 {
		return ErrEmptyWorkbook
	}

	f := excelize.NewFile()
	defer f.Close()

	defaultSheet := f.GetSheetName(0)
	for i, s := range wb.Sheets {
		if i == 0 {
			if err := f.SetSheetName(defaultSheet, s.Name); err != nil {
				return fmt.Errorf("name sheet %q: %w", s.Name, err)
			}
		} else if _, err := f.NewSheet(s.Name); err != nil {
			return fmt.Errorf("add sheet %q: %w", s.Name, err)
		}

		header := make([]any, len(s.Header))
		for j, h := range s.Header {
			header[j] = h
		}
		if err := f.SetSheetRow(s.Name, "A1", &header); err != nil {
			return fmt.Errorf("write header of %q: %w", s.Name, err)
		}

		for j, cells := range s.Rows {
			cell, err := excelize.CoordinatesToCellName(1, j+2)
			if err != nil {
				return err
			}
			row := make([]any, len(cells))
			copy(row, cells)
			if err := f.SetSheetRow(s.Name, cell, &row); err != nil {
				return fmt.Errorf("write row %d of %q: %w", j+2, s.Name, err)
			}
		}
	}

	_, err := f.WriteTo(w)
	return err
}

// tabulate turns raw string rows into a sheet, skipping leading blank rows.
func tabulate(name string, rows [][]string) Sheet {
	s := Sheet{Name: name}
	start := 0
	for start < len(rows) && isEmptyRow(rows[start]) {
		start++
	}
	if start == len(rows) {
		return s
	}

	s.HeaderLine = start + 1
	for _, h := range rows[start] {
		s.Header = append(s.Header, CleanHeader(h))
	}
	for _, raw := range rows[start+1:] {
		cells := make([]any, len(raw))
		for i, v := range raw {
			cells[i] = v
		}
		s.Rows = append(s.Rows, cells)
	}
	return s
}

// CleanHeader removes spreadsheet artifacts from a header cell: surrounding
// whitespace, an Excel formula prefix (="...") and stray quotes.
func CleanHeader(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "=\"") && strings.HasSuffix(s, "\"") {
		s = s[2 : len(s)-1]
	} else if strings.HasPrefix(s, "=") {
		s = s[1:]
	}
	return strings.TrimSpace(strings.Trim(s, `"'`))
}

func isEmptyRow(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
