package core

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// headerOverlapThreshold is the share of matching columns a sheet needs
// before the header heuristic accepts a table.
const headerOverlapThreshold = 0.30

// NormalizeSheetName folds a sheet name for comparison with table names:
// NFKC normalisation, lower case, runs of whitespace become "_".
func NormalizeSheetName(name string) string {
	name = norm.NFKC.String(strings.TrimSpace(name))
	var b strings.Builder
	b.Grow(len(name))
	space := false
	for _, r := range strings.ToLower(name) {
		if unicode.IsSpace(r) {
			space = true
			continue
		}
		if space {
			b.WriteByte('_')
			space = false
		}
		b.WriteRune(r)
	}
	return b.String()
}

// DetectTable maps a sheet to a registered table. Rules are tried in order
// and the first match wins:
//
//  1. the normalised sheet name equals a table name;
//  2. the normalised sheet name contains a table name or is contained in one;
//  3. the sheet's headers overlap a table's fields by more than 30%, scored
//     as matches / max(len(headers), len(fields)).
//
// Within each rule, tables are tried in registration order.
func (r *Registry) DetectTable(sheetName string, headers []string) (string, error) {
	name := NormalizeSheetName(sheetName)

	if name != "" {
		if t, ok := r.byName[name]; ok {
			return t.Name, nil
		}
		for _, t := range r.tables {
			if strings.Contains(name, t.Name) || strings.Contains(t.Name, name) {
				return t.Name, nil
			}
		}
	}

	if table, ok := r.matchHeaders(headers); ok {
		return table, nil
	}

	return "", fmt.Errorf("could not determine the table for sheet %q; known tables: %s",
		sheetName, strings.Join(r.ListTables(), ", "))
}

// matchHeaders returns the first table whose fields overlap the headers by
// more than the threshold. Header comparison is case-insensitive.
func (r *Registry) matchHeaders(headers []string) (string, bool) {
	distinct := make(map[string]bool, len(headers))
	for _, h := range headers {
		h = strings.ToLower(strings.TrimSpace(h))
		if h != "" {
			distinct[h] = true
		}
	}
	if len(distinct) == 0 {
		return "", false
	}

	for _, t := range r.tables {
		matches := 0
		for _, f := range t.Fields {
			if distinct[strings.ToLower(f.Name)] {
				matches++
			}
		}
		denom := max(len(distinct), len(t.Fields))
		if float64(matches)/float64(denom) > headerOverlapThreshold {
			return t.Name, true
		}
	}
	return "", false
}
