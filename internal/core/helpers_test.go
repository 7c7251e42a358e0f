package core

import (
	"testing"
	"time"
)

// fixedNow is the reference time for tests that depend on the clock.
var fixedNow = time.Date(2025, 6, 1, 9, 30, 0, 0, time.UTC)

// simpleTable returns a table with an id primary key and text fields.
func simpleTable(name string, fields ...string) TableSchema {
	t := TableSchema{
		Name:   name,
		Fields: []FieldSpec{{Name: "id", Type: TypeText, PrimaryKey: true}},
	}
	for _, f := range fields {
		t.Fields = append(t.Fields, FieldSpec{Name: f, Type: TypeText})
	}
	return t
}

func mustRegistry(t *testing.T, schemas ...TableSchema) *Registry {
	t.Helper()
	reg, err := NewRegistry(schemas)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return reg
}

// peopleTable exercises every semantic type.
func peopleTable() TableSchema {
	return TableSchema{
		Name:     "people",
		Rank:     RankRoot,
		Identity: IdentitySpec{Policy: PolicyNaturalKey, Fields: []string{"email"}},
		Fields: []FieldSpec{
			{Name: "id", Type: TypeText, PrimaryKey: true},
			{Name: "email", Type: TypeText, Required: true},
			{Name: "firstName", Type: TypeText, Required: true, MaxLength: 5},
			{Name: "phone", Type: TypeText},
			{Name: "role", Type: TypeEnumValue, EnumValues: []string{"ADMIN", "VIEWER"}},
			{Name: "permissions", Type: TypeEnumSet, EnumValues: []string{"VIEW", "EDIT"}},
			{Name: "progress", Type: TypeInteger},
			{Name: "rate", Type: TypeDecimal},
			{Name: "active", Type: TypeBoolean},
			{Name: "startDate", Type: TypeTimestamp},
			{Name: "tags", Type: TypeStringSet},
			{Name: "meta", Type: TypeJSON},
			{Name: "createdAt", Type: TypeTimestamp, AutoManaged: true},
		},
	}
}
