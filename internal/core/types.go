package core

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors returned by the engine. Callers should match them with
// errors.Is; the engine wraps them with the offending table or sheet name.
var (
	ErrUnknownTable     = errors.New("unknown table")
	ErrNoData           = errors.New("workbook contains no sheets with data")
	ErrNoRows           = errors.New("table has no rows")
	ErrNoBackingModel   = errors.New("table has no backing store")
	ErrNothingToExport  = errors.New("nothing to export")
	ErrInvalidRegistry  = errors.New("invalid registry")
	errReferenceTooDeep = errors.New("reference chain too deep")
)

// SemanticType is the closed set of field types the registry understands.
// Each type carries its own transform, validate and sample behaviour.
type SemanticType int

const (
	TypeText SemanticType = iota
	TypeEmail
	TypePhone
	TypeInteger
	TypeDecimal
	TypeBoolean
	TypeTimestamp
	TypeStringSet
	TypeEnumValue
	TypeEnumSet
	TypeJSON
)

var semanticTypeNames = [...]string{
	TypeText:      "text",
	TypeEmail:     "email",
	TypePhone:     "phone",
	TypeInteger:   "integer",
	TypeDecimal:   "decimal",
	TypeBoolean:   "boolean",
	TypeTimestamp: "timestamp",
	TypeStringSet: "string_set",
	TypeEnumValue: "enum",
	TypeEnumSet:   "enum_set",
	TypeJSON:      "json",
}

func (t SemanticType) String() string {
	if t < 0 || int(t) >= len(semanticTypeNames) {
		return fmt.Sprintf("SemanticType(%d)", int(t))
	}
	return semanticTypeNames[t]
}

// ParseSemanticType maps a schema type name to its SemanticType.
func ParseSemanticType(s string) (SemanticType, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for t, name := range semanticTypeNames {
		if name == s {
			return SemanticType(t), nil
		}
	}
	return 0, fmt.Errorf("unknown field type %q", s)
}

func (t SemanticType) isEnum() bool {
	return t == TypeEnumValue || t == TypeEnumSet
}

// FieldSpec describes a single column of a table.
type FieldSpec struct {
	Name       string
	Type       SemanticType
	EnumValues []string // Valid values for enum types, in display order
	Required   bool
	Unique     bool
	// AutoManaged fields are populated by the store and never read from input.
	AutoManaged bool
	PrimaryKey  bool
	ForeignKey  bool
	MaxLength   int // 0 means unbounded

	validators []validator
}

// Uploadable reports whether the field is accepted from spreadsheets and
// shown in templates.
func (f FieldSpec) Uploadable() bool {
	return !f.AutoManaged && !f.PrimaryKey
}

// RelationshipSpec declares that Field holds the primary key of a record in
// Table.
type RelationshipSpec struct {
	Field    string
	Table    string
	Required bool
	// Ensure asks the resolver to create a placeholder parent when the
	// referenced record does not exist.
	Ensure bool
}

// PolicyKind names an upsert strategy.
type PolicyKind string

const (
	PolicyNaturalKey      PolicyKind = "natural_key"
	PolicySurrogate       PolicyKind = "surrogate"
	PolicyCompositeKey    PolicyKind = "composite_key"
	PolicyEnsureDependent PolicyKind = "ensure_dependent"
	PolicyAppendOnly      PolicyKind = "append_only"
)

// IdentitySpec selects how rows of a table are matched to persisted records.
type IdentitySpec struct {
	Policy PolicyKind
	Fields []string
}

// Dependency ranks. Lower ranks are imported first.
const (
	RankRoot       = 10
	DefaultRank    = 15
	RankStructural = 20
	RankChild      = 30
	RankLeaf       = 40
)

// TableSchema is the registry's description of one logical table.
type TableSchema struct {
	Name          string
	DisplayName   string
	Fields        []FieldSpec
	Relationships []RelationshipSpec
	Identity      IdentitySpec
	Rank          int
	// Cleanup marks tables whose sheet is the complete set: persisted rows
	// missing from an import are removed when nothing references them.
	Cleanup    bool
	Uploadable bool
}

// Field returns the named field.
func (t *TableSchema) Field(name string) (FieldSpec, bool) {
	for _, f := range t.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldSpec{}, false
}

// PrimaryKey returns the name of the primary key field.
func (t *TableSchema) PrimaryKey() string {
	for _, f := range t.Fields {
		if f.PrimaryKey {
			return f.Name
		}
	}
	return ""
}

// Relationship returns the relationship declared on field, if any.
func (t *TableSchema) Relationship(field string) (RelationshipSpec, bool) {
	for _, r := range t.Relationships {
		if r.Field == field {
			return r, true
		}
	}
	return RelationshipSpec{}, false
}

func (t *TableSchema) clone() TableSchema {
	c := *t
	c.Fields = make([]FieldSpec, len(t.Fields))
	for i, f := range t.Fields {
		f.EnumValues = append([]string(nil), f.EnumValues...)
		c.Fields[i] = f
	}
	c.Relationships = append([]RelationshipSpec(nil), t.Relationships...)
	c.Identity.Fields = append([]string(nil), t.Identity.Fields...)
	return c
}

// Record is a typed row: field name to converted value. A present key with
// a nil value is an explicit clear; an absent key leaves the field alone.
type Record map[string]any

// String returns the value of field as a string, or "" when it is absent,
// nil or not a string.
func (r Record) String(field string) string {
	s, _ := r[field].(string)
	return s
}

// Clone returns a shallow copy of the record.
func (r Record) Clone() Record {
	c := make(Record, len(r))
	for k, v := range r {
		c[k] = v
	}
	return c
}
