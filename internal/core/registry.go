package core

import (
	"errors"
	"fmt"
	"strings"
)

// Registry is the immutable table catalogue that drives the engine.
//
// It is built once with [NewRegistry] from a list of table schemas and is
// safe for concurrent use; no method mutates it. Iteration order everywhere
// is registration order, which is also the tie-breaker for table detection.
type Registry struct {
	tables   []*TableSchema
	byName   map[string]*TableSchema
	policies map[string]UpsertPolicy
	refs     map[string][]reference
}

// reference is an incoming foreign key: Table.Field points at another table.
type reference struct {
	Table string
	Field string
}

// NewRegistry validates the schemas, derives per-field transformers and
// validator chains, and selects an upsert policy for every table.
//
// Text fields whose name contains "email" or "phone" are promoted to the
// Email and Phone types. Primary key and auto-managed fields are never
// required. Every relationship field is marked as a foreign key.
func NewRegistry(schemas []TableSchema) (*Registry, error) {
	r := &Registry{
		byName:   make(map[string]*TableSchema, len(schemas)),
		policies: make(map[string]UpsertPolicy, len(schemas)),
		refs:     make(map[string][]reference),
	}

	var errs []error
	for i := range schemas {
		t := schemas[i].clone()
		if err := prepareTable(&t); err != nil {
			errs = append(errs, err)
			continue
		}
		if _, dup := r.byName[t.Name]; dup {
			errs = append(errs, fmt.Errorf("duplicate table %q", t.Name))
			continue
		}
		r.tables = append(r.tables, &t)
		r.byName[t.Name] = &t
	}

	for _, t := range r.tables {
		for _, rel := range t.Relationships {
			if _, ok := r.byName[rel.Table]; !ok {
				errs = append(errs, fmt.Errorf("table %q: field %q references unknown table %q", t.Name, rel.Field, rel.Table))
				continue
			}
			r.refs[rel.Table] = append(r.refs[rel.Table], reference{Table: t.Name, Field: rel.Field})
		}

		policy, err := selectPolicy(t)
		if err != nil {
			errs = append(errs, fmt.Errorf("table %q: %w", t.Name, err))
			continue
		}
		r.policies[t.Name] = policy

		for i := range t.Fields {
			f := &t.Fields[i]
			f.validators = buildValidators(f, defaultable(t, f))
		}
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRegistry, errors.Join(errs...))
	}
	return r, nil
}

// prepareTable applies defaults and checks everything that does not need
// the other tables.
func prepareTable(t *TableSchema) error {
	if strings.TrimSpace(t.Name) == "" {
		return errors.New("table with empty name")
	}
	if t.DisplayName == "" {
		t.DisplayName = t.Name
	}
	if t.Rank == 0 {
		t.Rank = DefaultRank
	}
	t.Uploadable = true

	seen := make(map[string]bool, len(t.Fields))
	pk := 0
	for i := range t.Fields {
		f := &t.Fields[i]
		if f.Name == "" {
			return fmt.Errorf("table %q: field %d has no name", t.Name, i)
		}
		if seen[f.Name] {
			return fmt.Errorf("table %q: duplicate field %q", t.Name, f.Name)
		}
		seen[f.Name] = true

		if f.Type == TypeText {
			lower := strings.ToLower(f.Name)
			switch {
			case strings.Contains(lower, "email"):
				f.Type = TypeEmail
			case strings.Contains(lower, "phone"):
				f.Type = TypePhone
			}
		}
		if len(f.EnumValues) > 0 && !f.Type.isEnum() {
			return fmt.Errorf("table %q: field %q has an enum domain but type %s", t.Name, f.Name, f.Type)
		}
		if f.Type.isEnum() && len(f.EnumValues) == 0 {
			return fmt.Errorf("table %q: enum field %q has no values", t.Name, f.Name)
		}
		if f.PrimaryKey {
			pk++
			f.Required = false
		}
		if f.AutoManaged {
			f.Required = false
		}
	}
	if pk != 1 {
		return fmt.Errorf("table %q: expected exactly one primary key, found %d", t.Name, pk)
	}

	for _, rel := range t.Relationships {
		idx := fieldIndex(t, rel.Field)
		if idx < 0 {
			return fmt.Errorf("table %q: relationship field %q does not exist", t.Name, rel.Field)
		}
		t.Fields[idx].ForeignKey = true
	}
	for _, name := range t.Identity.Fields {
		if fieldIndex(t, name) < 0 {
			return fmt.Errorf("table %q: identity field %q does not exist", t.Name, name)
		}
	}
	return nil
}

func fieldIndex(t *TableSchema, name string) int {
	for i := range t.Fields {
		if t.Fields[i].Name == name {
			return i
		}
	}
	return -1
}

// defaultable reports whether the table's policy fills f when it is absent,
// in which case a missing value is not a validation error.
func defaultable(t *TableSchema, f *FieldSpec) bool {
	switch t.Identity.Policy {
	case PolicySurrogate:
		return f.Required
	case PolicyEnsureDependent:
		rel, ok := t.Relationship(f.Name)
		return ok && rel.Ensure
	}
	return false
}

// DescribeTable returns a copy of the named table's schema.
func (r *Registry) DescribeTable(name string) (TableSchema, bool) {
	t, ok := r.byName[name]
	if !ok {
		return TableSchema{}, false
	}
	return t.clone(), true
}

// ListTables returns all table names in registration order.
func (r *Registry) ListTables() []string {
	names := make([]string, len(r.tables))
	for i, t := range r.tables {
		names[i] = t.Name
	}
	return names
}

// UploadableFields returns the fields accepted from spreadsheets: every
// field except the primary key and auto-managed fields.
func (r *Registry) UploadableFields(table string) ([]FieldSpec, error) {
	t, ok := r.byName[table]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTable, table)
	}
	var out []FieldSpec
	for _, f := range t.Fields {
		if f.Uploadable() {
			out = append(out, f)
		}
	}
	return out, nil
}

// SampleRow returns a deterministic example record for the table's
// uploadable fields: first enum values, fixed numbers, dates and strings.
func (r *Registry) SampleRow(table string) (Record, error) {
	fields, err := r.UploadableFields(table)
	if err != nil {
		return nil, err
	}
	rec := make(Record, len(fields))
	for i := range fields {
		f := &fields[i]
		rec[f.Name] = kindOf(f.Type).sample(f)
	}
	return rec, nil
}

// Rank returns the dependency rank of a table, or DefaultRank when the
// table is unknown.
func (r *Registry) Rank(table string) int {
	if t, ok := r.byName[table]; ok {
		return t.Rank
	}
	return DefaultRank
}

// Policy returns the upsert policy selected for a table.
func (r *Registry) Policy(table string) (UpsertPolicy, bool) {
	p, ok := r.policies[table]
	return p, ok
}

func (r *Registry) schema(table string) (*TableSchema, error) {
	t, ok := r.byName[table]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTable, table)
	}
	return t, nil
}

// referencesTo returns every foreign key that points at table.
func (r *Registry) referencesTo(table string) []reference {
	return r.refs[table]
}
