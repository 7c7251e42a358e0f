package core

// validation.go builds the per-field validator chains.
//
// A chain is assembled once when the registry is built. It starts with the
// required check (omitted for primary key, auto-managed and defaultable
// fields) followed by the type-specific checks. Each validator returns a
// reason ("is required", "must be one of: A, B") which the transformer
// prefixes with the field name.

import (
	"fmt"
	"math"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// validator checks a transformed value. It returns "" when the value is
// acceptable. Validators other than required ignore nil values.
type validator func(f *FieldSpec, v any) string

// emailRegex matches a local part, an @ and a dotted domain.
var emailRegex = regexp.MustCompile(`^[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}$`)

// ValidationError represents a single validation failure for a field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	return e.Field + " " + e.Reason
}

func buildValidators(f *FieldSpec, skipRequired bool) []validator {
	var chain []validator
	if f.Required && !f.PrimaryKey && !f.AutoManaged && !skipRequired {
		chain = append(chain, validateRequired)
	}

	switch f.Type {
	case TypeEmail:
		chain = append(chain, validateEmail)
	case TypePhone:
		chain = append(chain, validatePhone)
	case TypeEnumValue, TypeEnumSet:
		chain = append(chain, validateEnum)
	case TypeInteger, TypeDecimal:
		if isPercentField(f.Name) {
			chain = append(chain, validatePercent)
		}
	}

	if f.MaxLength > 0 {
		chain = append(chain, validateMaxLength)
	}
	return chain
}

func isPercentField(name string) bool {
	n := strings.ToLower(name)
	return strings.Contains(n, "progress") || strings.Contains(n, "percent")
}

// isEmpty reports whether a transformed value carries no data.
func isEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case []string:
		return len(t) == 0
	}
	return false
}

func validateRequired(_ *FieldSpec, v any) string {
	if isEmpty(v) {
		return "is required"
	}
	return ""
}

func validateEmail(_ *FieldSpec, v any) string {
	s, ok := v.(string)
	if !ok || s == "" {
		return ""
	}
	if !emailRegex.MatchString(s) {
		return fmt.Sprintf("has an invalid email format: %q", s)
	}
	return ""
}

func validatePhone(_ *FieldSpec, v any) string {
	s, ok := v.(string)
	if !ok || s == "" {
		return ""
	}
	digits := 0
	for _, r := range s {
		switch {
		case unicode.IsDigit(r):
			digits++
		case strings.ContainsRune(" +-().xX/", r):
		default:
			return fmt.Sprintf("has an invalid phone number: %q", s)
		}
	}
	if digits < 7 || digits > 15 {
		return fmt.Sprintf("has an invalid phone number: %q", s)
	}
	return ""
}

func validateEnum(f *FieldSpec, v any) string {
	var values []string
	switch t := v.(type) {
	case string:
		if t == "" {
			return ""
		}
		values = []string{t}
	case []string:
		values = t
	default:
		return ""
	}
	for _, val := range values {
		if !containsString(f.EnumValues, val) {
			return "must be one of: " + strings.Join(f.EnumValues, ", ")
		}
	}
	return ""
}

func validatePercent(_ *FieldSpec, v any) string {
	var n float64
	switch t := v.(type) {
	case int64:
		n = float64(t)
	case float64:
		n = t
	default:
		return ""
	}
	if math.IsNaN(n) || n < 0 || n > 100 {
		return "must be between 0 and 100"
	}
	return ""
}

func validateMaxLength(f *FieldSpec, v any) string {
	s, ok := v.(string)
	if !ok {
		return ""
	}
	if utf8.RuneCountInString(s) > f.MaxLength {
		return fmt.Sprintf("must be at most %d characters", f.MaxLength)
	}
	return ""
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
