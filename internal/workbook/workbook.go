// Package workbook models spreadsheet workbooks independently of any file
// format, and provides xlsx and CSV codecs for them.
//
// A workbook is an ordered list of sheets. Each sheet has a header row and
// tabular data rows; [Sheet.Records] turns the tabular form into ordered
// key/value [Row]s, which is the shape the import engine consumes.
package workbook

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// MaxSheetNameLen is the longest sheet name the xlsx format accepts.
const MaxSheetNameLen = 31

// Workbook is an ordered collection of sheets.
type Workbook struct {
	Sheets []Sheet
}

// Sheet is a single worksheet.
type Sheet struct {
	Name   string
	Header []string
	Rows   [][]any

	// HeaderLine is the 1-based row number of the header (1 when zero).
	HeaderLine int
}

// New returns an empty workbook.
func New() *Workbook {
	return &Workbook{}
}

// AddSheet appends s, truncating its name to MaxSheetNameLen and making it
// unique within the workbook. Returns the name actually used.
func (w *Workbook) AddSheet(s Sheet) string {
	s.Name = w.uniqueName(TruncateSheetName(s.Name))
	w.Sheets = append(w.Sheets, s)
	return s.Name
}

// Sheet returns the sheet with the given name.
func (w *Workbook) Sheet(name string) (*Sheet, bool) {
	for i := range w.Sheets {
		if w.Sheets[i].Name == name {
			return &w.Sheets[i], true
		}
	}
	return nil, false
}

// SheetNames returns the names of all sheets in order.
func (w *Workbook) SheetNames() []string {
	names := make([]string, len(w.Sheets))
	for i, s := range w.Sheets {
		names[i] = s.Name
	}
	return names
}

func (w *Workbook) uniqueName(name string) string {
	if _, taken := w.Sheet(name); !taken {
		return name
	}
	for n := 1; ; n++ {
		suffix := fmt.Sprintf("~%d", n)
		base := name
		for utf8.RuneCountInString(base)+len(suffix) > MaxSheetNameLen {
			_, size := utf8.DecodeLastRuneInString(base)
			base = base[:len(base)-size]
		}
		candidate := base + suffix
		if _, taken := w.Sheet(candidate); !taken {
			return candidate
		}
	}
}

// TruncateSheetName shortens name to at most MaxSheetNameLen runes.
func TruncateSheetName(name string) string {
	if utf8.RuneCountInString(name) <= MaxSheetNameLen {
		return name
	}
	runes := []rune(name)
	return string(runes[:MaxSheetNameLen])
}

// FromRecords builds a tabular sheet from ordered rows. The header is the
// union of all row keys in first-seen order.
func FromRecords(name string, rows []Row) Sheet {
	s := Sheet{Name: name}
	pos := make(map[string]int)
	for _, r := range rows {
		for _, k := range r.keys {
			if _, ok := pos[k]; !ok {
				pos[k] = len(s.Header)
				s.Header = append(s.Header, k)
			}
		}
	}
	for _, r := range rows {
		cells := make([]any, len(s.Header))
		for _, k := range r.keys {
			cells[pos[k]] = r.values[k]
		}
		s.Rows = append(s.Rows, cells)
	}
	return s
}

// Records converts the sheet's data rows into ordered key/value rows.
// Blank cells are omitted and blank rows are skipped, but every row keeps
// its original spreadsheet line number.
func (s Sheet) Records() []Row {
	headerLine := s.HeaderLine
	if headerLine <= 0 {
		headerLine = 1
	}

	var out []Row
	for i, cells := range s.Rows {
		row := Row{Line: headerLine + i + 1}
		for col, h := range s.Header {
			h = strings.TrimSpace(h)
			if h == "" || col >= len(cells) || IsBlank(cells[col]) {
				continue
			}
			row.Set(h, cells[col])
		}
		if row.Len() == 0 {
			continue
		}
		out = append(out, row)
	}
	return out
}

// IsBlank reports whether a cell value carries no data.
func IsBlank(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case []byte:
		return strings.TrimSpace(string(t)) == ""
	}
	return false
}

// FormatCell renders a cell value as text for CSV output.
func FormatCell(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	case bool:
		return strconv.FormatBool(t)
	case int:
		return strconv.Itoa(t)
	case int32:
		return strconv.FormatInt(int64(t), 10)
	case int64:
		return strconv.FormatInt(t, 10)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case time.Time:
		return t.UTC().Format(time.RFC3339)
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}
