package core

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// kind implements one SemanticType. Implementations are stateless and
// indexed by SemanticType in kinds.
type kind interface {
	// transform converts a non-blank cell value to the typed value.
	transform(raw any, now time.Time) (any, error)
	// sample returns the deterministic example value used by templates.
	sample(f *FieldSpec) any
	// export projects a typed value into a spreadsheet cell.
	export(v any) any
}

var kinds = [...]kind{
	TypeText:      textKind{},
	TypeEmail:     emailKind{},
	TypePhone:     phoneKind{},
	TypeInteger:   integerKind{},
	TypeDecimal:   decimalKind{},
	TypeBoolean:   booleanKind{},
	TypeTimestamp: timestampKind{},
	TypeStringSet: setKind{},
	TypeEnumValue: enumKind{},
	TypeEnumSet:   enumSetKind{},
	TypeJSON:      jsonKind{},
}

func kindOf(t SemanticType) kind {
	if t < 0 || int(t) >= len(kinds) {
		return textKind{}
	}
	return kinds[t]
}

// sampleTime is the fixed date used in templates.
var sampleTime = time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)

// cellText renders any scalar cell as trimmed text.
func cellText(raw any) string {
	switch v := raw.(type) {
	case string:
		return strings.TrimSpace(v)
	case []byte:
		return strings.TrimSpace(string(v))
	case time.Time:
		return v.UTC().Format(time.RFC3339)
	}
	if s, ok := numberText(raw); ok {
		return s
	}
	return strings.TrimSpace(fmt.Sprint(raw))
}

// ---------------------------------------------------------------------------
// Text-like kinds
// ---------------------------------------------------------------------------

type textKind struct{}

func (textKind) transform(raw any, _ time.Time) (any, error) {
	return cellText(raw), nil
}

func (textKind) sample(f *FieldSpec) any {
	if f.ForeignKey {
		return uuid.Nil.String()
	}
	return "Sample " + f.Name
}

func (textKind) export(v any) any { return v }

type emailKind struct{}

func (emailKind) transform(raw any, _ time.Time) (any, error) {
	return strings.ToLower(cellText(raw)), nil
}

func (emailKind) sample(*FieldSpec) any { return "user@example.com" }

func (emailKind) export(v any) any { return v }

type phoneKind struct{}

func (phoneKind) transform(raw any, _ time.Time) (any, error) {
	return cellText(raw), nil
}

func (phoneKind) sample(*FieldSpec) any { return "555-010-0100" }

func (phoneKind) export(v any) any { return v }

type enumKind struct{}

func (enumKind) transform(raw any, _ time.Time) (any, error) {
	return strings.ToUpper(cellText(raw)), nil
}

func (enumKind) sample(f *FieldSpec) any {
	if len(f.EnumValues) == 0 {
		return nil
	}
	return f.EnumValues[0]
}

func (enumKind) export(v any) any { return v }

// ---------------------------------------------------------------------------
// Numeric kinds
// ---------------------------------------------------------------------------

type integerKind struct{}

func (integerKind) transform(raw any, _ time.Time) (any, error) {
	switch v := raw.(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case float64:
		if n, ok := floatToInt(v); ok {
			return n, nil
		}
		return nil, fmt.Errorf("invalid number %v: not a whole number", v)
	case bool:
		return nil, fmt.Errorf("invalid number %v", v)
	}
	s := cellText(raw)
	n, ok := parseInteger(s)
	if !ok {
		return nil, fmt.Errorf("invalid number %q", s)
	}
	return n, nil
}

func (integerKind) sample(f *FieldSpec) any {
	if isPercentField(f.Name) {
		return int64(50)
	}
	return int64(1)
}

func (integerKind) export(v any) any { return v }

type decimalKind struct{}

func (decimalKind) transform(raw any, _ time.Time) (any, error) {
	switch v := raw.(type) {
	case float64:
		return v, nil
	case int64:
		return float64(v), nil
	case int:
		return float64(v), nil
	case bool:
		return nil, fmt.Errorf("invalid number %v", v)
	}
	s := cellText(raw)
	f, ok := parseDecimal(s)
	if !ok {
		return nil, fmt.Errorf("invalid number %q", s)
	}
	return f, nil
}

func (decimalKind) sample(f *FieldSpec) any {
	if isPercentField(f.Name) {
		return 50.0
	}
	return 1000.0
}

func (decimalKind) export(v any) any { return v }

// ---------------------------------------------------------------------------
// Boolean and timestamp
// ---------------------------------------------------------------------------

type booleanKind struct{}

func (booleanKind) transform(raw any, _ time.Time) (any, error) {
	if b, ok := raw.(bool); ok {
		return b, nil
	}
	s := cellText(raw)
	b, ok := parseBool(s)
	if !ok {
		return nil, fmt.Errorf("invalid boolean %q: use yes/no, true/false or 1/0", s)
	}
	return b, nil
}

func (booleanKind) sample(*FieldSpec) any { return false }

func (booleanKind) export(v any) any { return v }

// timestampKind never fails: unparsable input becomes nil.
type timestampKind struct{}

func (timestampKind) transform(raw any, now time.Time) (any, error) {
	switch v := raw.(type) {
	case time.Time:
		return v.UTC(), nil
	case float64:
		if t, ok := excelSerialToTime(v); ok {
			return t, nil
		}
		return nil, nil
	case int64:
		if t, ok := excelSerialToTime(float64(v)); ok {
			return t, nil
		}
		return nil, nil
	}
	if t, ok := parseTimestamp(cellText(raw), now); ok {
		return t, nil
	}
	return nil, nil
}

func (timestampKind) sample(*FieldSpec) any { return sampleTime }

func (timestampKind) export(v any) any {
	if t, ok := v.(time.Time); ok {
		return t.UTC().Format(time.RFC3339)
	}
	return v
}

// ---------------------------------------------------------------------------
// Sets
// ---------------------------------------------------------------------------

// splitSet splits a cell into trimmed, de-duplicated members. Members are
// separated by commas or semicolons; JSON arrays are accepted as-is.
func splitSet(raw any, normalize func(string) string) []string {
	var parts []string
	switch v := raw.(type) {
	case []string:
		parts = v
	case []any:
		for _, item := range v {
			if item != nil {
				parts = append(parts, cellText(item))
			}
		}
	default:
		parts = strings.FieldsFunc(cellText(raw), func(r rune) bool {
			return r == ',' || r == ';'
		})
	}

	out := make([]string, 0, len(parts))
	seen := make(map[string]bool, len(parts))
	for _, p := range parts {
		p = normalize(strings.TrimSpace(p))
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}

func identity(s string) string { return s }

func joinSet(v any) any {
	if s, ok := v.([]string); ok {
		return strings.Join(s, ", ")
	}
	return v
}

type setKind struct{}

func (setKind) transform(raw any, _ time.Time) (any, error) {
	return splitSet(raw, identity), nil
}

func (setKind) sample(*FieldSpec) any { return []string{"example"} }

func (setKind) export(v any) any { return joinSet(v) }

type enumSetKind struct{}

func (enumSetKind) transform(raw any, _ time.Time) (any, error) {
	return splitSet(raw, strings.ToUpper), nil
}

func (enumSetKind) sample(f *FieldSpec) any {
	if len(f.EnumValues) == 0 {
		return []string{}
	}
	return []string{f.EnumValues[0]}
}

func (enumSetKind) export(v any) any { return joinSet(v) }

// ---------------------------------------------------------------------------
// JSON
// ---------------------------------------------------------------------------

// jsonKind parses best-effort: malformed JSON becomes nil without an error.
type jsonKind struct{}

func (jsonKind) transform(raw any, _ time.Time) (any, error) {
	switch v := raw.(type) {
	case map[string]any, []any:
		return v, nil
	case string:
		var out any
		if err := json.Unmarshal([]byte(strings.TrimSpace(v)), &out); err != nil {
			return nil, nil
		}
		return out, nil
	}
	return raw, nil
}

func (jsonKind) sample(*FieldSpec) any { return map[string]any{} }

func (jsonKind) export(v any) any {
	if v == nil {
		return nil
	}
	if s, ok := v.(string); ok {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return string(b)
}
