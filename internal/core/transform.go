package core

import (
	"fmt"
	"time"

	"github.com/JonMunkholm/sitebook/internal/workbook"
)

// TransformRow converts one raw spreadsheet row into a typed record for the
// table and validates it.
//
// The record is always returned, even when errors are reported, so callers
// can show what was understood. A field missing from the row is left out of
// the record; a present but blank cell becomes an explicit nil. A transform
// failure yields nil plus "Error processing <field>: <cause>". The only
// error return is ErrUnknownTable.
func (r *Registry) TransformRow(table string, row workbook.Row) (Record, []string, error) {
	t, err := r.schema(table)
	if err != nil {
		return nil, nil, err
	}
	rec, errs := transformRow(t, row, time.Now())
	return rec, errs, nil
}

func transformRow(t *TableSchema, row workbook.Row, now time.Time) (Record, []string) {
	rec := make(Record, len(t.Fields))
	var errs []string

	for i := range t.Fields {
		f := &t.Fields[i]
		if f.AutoManaged {
			continue
		}

		raw, present := row.Lookup(f.Name)
		var value any
		if present && !workbook.IsBlank(raw) {
			v, err := transformValue(f, raw, now)
			if err != nil {
				rec[f.Name] = nil
				errs = append(errs, fmt.Sprintf("Error processing %s: %v", f.Name, err))
				continue
			}
			value = v
		}

		for _, validate := range f.validators {
			if reason := validate(f, value); reason != "" {
				errs = append(errs, ValidationError{Field: f.Name, Reason: reason}.Error())
			}
		}
		if present {
			rec[f.Name] = value
		}
	}
	return rec, errs
}

// transformValue runs a field's transformer, turning a panic into an error.
func transformValue(f *FieldSpec, raw any, now time.Time) (v any, err error) {
	defer func() {
		if p := recover(); p != nil {
			v, err = nil, fmt.Errorf("%v", p)
		}
	}()
	return kindOf(f.Type).transform(raw, now)
}
