package core

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/sitebook/internal/workbook"
)

func TestNewRegistry_Defaults(t *testing.T) {
	reg := mustRegistry(t, peopleTable(), simpleTable("notes", "body"))

	people, ok := reg.DescribeTable("people")
	if !ok {
		t.Fatal("people not registered")
	}
	if f, _ := people.Field("email"); f.Type != TypeEmail {
		t.Errorf("email type = %s, want email", f.Type)
	}
	if f, _ := people.Field("phone"); f.Type != TypePhone {
		t.Errorf("phone type = %s, want phone", f.Type)
	}
	if f, _ := people.Field("email"); !f.Unique {
		t.Error("natural key field should be marked unique")
	}

	notes, _ := reg.DescribeTable("notes")
	if notes.Rank != DefaultRank {
		t.Errorf("notes rank = %d, want %d", notes.Rank, DefaultRank)
	}
	if notes.DisplayName != "notes" {
		t.Errorf("notes display name = %q", notes.DisplayName)
	}
	if !notes.Uploadable {
		t.Error("notes should be uploadable")
	}
	if got := reg.ListTables(); strings.Join(got, ",") != "people,notes" {
		t.Errorf("ListTables = %v", got)
	}
}

func TestNewRegistry_DescribeTableReturnsCopy(t *testing.T) {
	reg := mustRegistry(t, peopleTable())
	a, _ := reg.DescribeTable("people")
	a.Fields[1].Name = "changed"
	a.Fields[4].EnumValues[0] = "CHANGED"

	b, _ := reg.DescribeTable("people")
	if b.Fields[1].Name != "email" || b.Fields[4].EnumValues[0] != "ADMIN" {
		t.Error("DescribeTable leaked internal state")
	}
}

func TestNewRegistry_InputNotModified(t *testing.T) {
	schemas := []TableSchema{peopleTable()}
	if _, err := NewRegistry(schemas); err != nil {
		t.Fatal(err)
	}
	if schemas[0].Fields[1].Type != TypeText {
		t.Error("NewRegistry modified its input")
	}
}

func TestNewRegistry_Errors(t *testing.T) {
	withFields := func(name string, fields ...FieldSpec) TableSchema {
		return TableSchema{Name: name, Fields: fields}
	}
	pk := FieldSpec{Name: "id", Type: TypeText, PrimaryKey: true}

	tests := []struct {
		name    string
		schemas []TableSchema
		want    string
	}{
		{
			name:    "no primary key",
			schemas: []TableSchema{withFields("a", FieldSpec{Name: "x"})},
			want:    "expected exactly one primary key, found 0",
		},
		{
			name:    "two primary keys",
			schemas: []TableSchema{withFields("a", pk, FieldSpec{Name: "y", PrimaryKey: true})},
			want:    "expected exactly one primary key, found 2",
		},
		{
			name:    "duplicate table",
			schemas: []TableSchema{simpleTable("a"), simpleTable("a")},
			want:    `duplicate table "a"`,
		},
		{
			name:    "duplicate field",
			schemas: []TableSchema{simpleTable("a", "x", "x")},
			want:    `duplicate field "x"`,
		},
		{
			name:    "enum without values",
			schemas: []TableSchema{withFields("a", pk, FieldSpec{Name: "s", Type: TypeEnumValue})},
			want:    `enum field "s" has no values`,
		},
		{
			name: "unknown referenced table",
			schemas: []TableSchema{{
				Name:          "a",
				Fields:        []FieldSpec{pk, {Name: "bId"}},
				Relationships: []RelationshipSpec{{Field: "bId", Table: "b"}},
			}},
			want: `references unknown table "b"`,
		},
		{
			name: "missing relationship field",
			schemas: []TableSchema{simpleTable("b"), {
				Name:          "a",
				Fields:        []FieldSpec{pk},
				Relationships: []RelationshipSpec{{Field: "bId", Table: "b"}},
			}},
			want: `relationship field "bId" does not exist`,
		},
		{
			name: "surrogate on text",
			schemas: []TableSchema{{
				Name:     "a",
				Fields:   []FieldSpec{pk, {Name: "num"}},
				Identity: IdentitySpec{Policy: PolicySurrogate, Fields: []string{"num"}},
			}},
			want: `surrogate field "num" must be an integer`,
		},
		{
			name: "ensure under natural key",
			schemas: []TableSchema{simpleTable("b"), {
				Name:          "a",
				Fields:        []FieldSpec{pk, {Name: "code"}, {Name: "bId"}},
				Relationships: []RelationshipSpec{{Field: "bId", Table: "b", Ensure: true}},
				Identity:      IdentitySpec{Policy: PolicyNaturalKey, Fields: []string{"code"}},
			}},
			want: "cannot ensure parents under the natural_key policy",
		},
		{
			name: "unknown identity field",
			schemas: []TableSchema{{
				Name:     "a",
				Fields:   []FieldSpec{pk},
				Identity: IdentitySpec{Policy: PolicyCompositeKey, Fields: []string{"nope"}},
			}},
			want: `identity field "nope" does not exist`,
		},
		{
			name: "unknown policy",
			schemas: []TableSchema{{
				Name:     "a",
				Fields:   []FieldSpec{pk},
				Identity: IdentitySpec{Policy: "magic"},
			}},
			want: `unknown identity policy "magic"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRegistry(tt.schemas)
			if !errors.Is(err, ErrInvalidRegistry) {
				t.Fatalf("expected ErrInvalidRegistry, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not contain %q", err, tt.want)
			}
		})
	}
}

func TestNewRegistry_InfersPolicy(t *testing.T) {
	parent := simpleTable("parents")
	ensured := TableSchema{
		Name:          "ensured",
		Fields:        []FieldSpec{{Name: "id", PrimaryKey: true}, {Name: "parentId"}},
		Relationships: []RelationshipSpec{{Field: "parentId", Table: "parents", Ensure: true}},
	}
	keyed := TableSchema{
		Name:   "keyed",
		Fields: []FieldSpec{{Name: "id", PrimaryKey: true}, {Name: "code", Unique: true}},
	}
	reg := mustRegistry(t, parent, ensured, keyed)

	tests := []struct {
		table string
		want  PolicyKind
	}{
		{"parents", PolicyAppendOnly},
		{"ensured", PolicyEnsureDependent},
		{"keyed", PolicyNaturalKey},
	}
	for _, tt := range tests {
		p, ok := reg.Policy(tt.table)
		if !ok || p.Kind() != tt.want {
			t.Errorf("Policy(%s) = %v, want %s", tt.table, p, tt.want)
		}
	}
}

func TestRegistry_UploadableFields(t *testing.T) {
	reg := mustRegistry(t, peopleTable())
	fields, err := reg.UploadableFields("people")
	if err != nil {
		t.Fatal(err)
	}
	for _, f := range fields {
		if f.Name == "id" || f.Name == "createdAt" {
			t.Errorf("%s should not be uploadable", f.Name)
		}
	}
	if len(fields) != 11 {
		t.Errorf("got %d uploadable fields, want 11", len(fields))
	}

	if _, err := reg.UploadableFields("missing"); !errors.Is(err, ErrUnknownTable) {
		t.Errorf("expected ErrUnknownTable, got %v", err)
	}
}

func TestRegistry_SampleRow(t *testing.T) {
	child := TableSchema{
		Name:          "children",
		Fields:        []FieldSpec{{Name: "id", PrimaryKey: true}, {Name: "peopleId"}, {Name: "name"}},
		Relationships: []RelationshipSpec{{Field: "peopleId", Table: "people"}},
	}
	reg := mustRegistry(t, peopleTable(), child)

	sample, err := reg.SampleRow("people")
	if err != nil {
		t.Fatal(err)
	}
	checks := map[string]any{
		"email":     "user@example.com",
		"firstName": "Sample firstName",
		"role":      "ADMIN",
		"progress":  int64(50),
		"rate":      1000.0,
		"active":    false,
	}
	for field, want := range checks {
		if sample[field] != want {
			t.Errorf("sample %s = %#v, want %#v", field, sample[field], want)
		}
	}
	if ts, ok := sample["startDate"].(time.Time); !ok || !ts.Equal(sampleTime) {
		t.Errorf("sample startDate = %v", sample["startDate"])
	}
	if _, ok := sample["id"]; ok {
		t.Error("sample should not include the primary key")
	}

	childSample, _ := reg.SampleRow("children")
	if childSample["peopleId"] != uuid.Nil.String() {
		t.Errorf("foreign key sample = %v, want nil UUID", childSample["peopleId"])
	}

	again, _ := reg.SampleRow("people")
	if again["firstName"] != sample["firstName"] {
		t.Error("SampleRow is not deterministic")
	}
}

func TestRegistry_Rank(t *testing.T) {
	reg := mustRegistry(t, peopleTable())
	if got := reg.Rank("people"); got != RankRoot {
		t.Errorf("Rank(people) = %d", got)
	}
	if got := reg.Rank("unknown"); got != DefaultRank {
		t.Errorf("Rank(unknown) = %d, want %d", got, DefaultRank)
	}
}

func TestDefaultable_SuppressesRequiredForSurrogateTables(t *testing.T) {
	projects := TableSchema{
		Name: "projects",
		Fields: []FieldSpec{
			{Name: "id", PrimaryKey: true},
			{Name: "number", Type: TypeInteger},
			{Name: "name", Required: true},
		},
		Identity: IdentitySpec{Policy: PolicySurrogate, Fields: []string{"number"}},
	}
	reg := mustRegistry(t, projects)
	_, errs, err := reg.TransformRow("projects", workbook.NewRow("number", "7"))
	if err != nil {
		t.Fatal(err)
	}
	if len(errs) != 0 {
		t.Errorf("surrogate table reported %v for a missing required field", errs)
	}
}
