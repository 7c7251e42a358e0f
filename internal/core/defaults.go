package core

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// fillDefaults gives every required field that is still empty a
// conservative placeholder. For stubs, unique and identity fields are
// filled too so the placeholder can be stored and found again.
// Foreign keys are left to ensureRelations.
func (run *importRun) fillDefaults(schema *TableSchema, rec Record, stub bool) {
	for i := range schema.Fields {
		f := &schema.Fields[i]
		if f.PrimaryKey || f.AutoManaged || f.ForeignKey {
			continue
		}
		if !isEmpty(rec[f.Name]) {
			continue
		}
		if !f.Required && !(stub && (f.Unique || containsString(schema.Identity.Fields, f.Name))) {
			continue
		}
		rec[f.Name] = run.defaultValue(schema, f, rec)
	}
}

func (run *importRun) defaultValue(schema *TableSchema, f *FieldSpec, rec Record) any {
	id, _ := rec[schema.PrimaryKey()].(string)
	short := strings.ReplaceAll(id, "-", "")
	if len(short) > 8 {
		short = short[:8]
	}

	switch f.Type {
	case TypeEmail:
		return fmt.Sprintf("placeholder+%s@example.invalid", strings.ReplaceAll(id, "-", ""))
	case TypePhone:
		return "000-000-0000"
	case TypeInteger:
		return int64(0)
	case TypeDecimal:
		return 0.0
	case TypeBoolean:
		return false
	case TypeTimestamp:
		today := run.now.UTC().Truncate(24 * time.Hour)
		if isEndField(f.Name) {
			return today.AddDate(0, 0, 7)
		}
		return today
	case TypeEnumValue:
		return f.EnumValues[0]
	case TypeStringSet, TypeEnumSet:
		return []string{}
	case TypeJSON:
		return map[string]any{}
	}

	label := "Placeholder " + schema.DisplayName
	if p, ok := run.imp.reg.policies[schema.Name].(surrogatePolicy); ok {
		if n, ok := rec[p.field].(int64); ok {
			label = fmt.Sprintf("%s #%d", schema.DisplayName, n)
		}
	}
	if f.Unique && short != "" {
		label += " " + short
	}
	return label
}

// isEndField reports whether a date field marks the end of something and
// should default a week out.
func isEndField(name string) bool {
	n := strings.ToLower(name)
	return strings.HasPrefix(n, "end") || strings.Contains(n, "enddate") ||
		strings.Contains(n, "due") || strings.Contains(n, "deadline")
}

// nextSurrogate mints the next surrogate number for table.field. The floor
// is the larger of the configured minimum, the highest persisted value and
// the highest value seen so far in this run.
func (run *importRun) nextSurrogate(ctx context.Context, schema *TableSchema, ts TableStore, field string) (int64, error) {
	key := schema.Name + "." + field
	if !run.floorLoaded[key] {
		records, err := ts.ListAll(ctx)
		if err != nil {
			return 0, fmt.Errorf("load %s: %w", key, err)
		}
		for _, r := range records {
			if n, ok := toInt64(r[field]); ok {
				run.noteSurrogate(schema.Name, field, n)
			}
		}
		run.floorLoaded[key] = true
	}

	floor := max(run.floors[key], run.imp.surrogateFloor)
	n, err := run.imp.seq.Next(ctx, key, floor)
	if err != nil {
		return 0, err
	}
	run.noteSurrogate(schema.Name, field, n)
	return n, nil
}

func (run *importRun) noteSurrogate(table, field string, n int64) {
	key := table + "." + field
	if n > run.floors[key] {
		run.floors[key] = n
	}
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case float64:
		return floatToInt(n)
	}
	return 0, false
}
