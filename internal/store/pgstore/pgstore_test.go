package pgstore

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/sitebook/internal/core"
)

const phaseCols = `"id", "name", "tags", "meta", "created_at", "updated_at"`

var fixedNow = time.Date(2025, 4, 2, 8, 0, 0, 0, time.UTC)

func testRegistry(t *testing.T) *core.Registry {
	t.Helper()
	reg, err := core.NewRegistry([]core.TableSchema{
		{
			Name:     "phases",
			Identity: core.IdentitySpec{Policy: core.PolicyNaturalKey, Fields: []string{"name"}},
			Fields: []core.FieldSpec{
				{Name: "id", Type: core.TypeText, PrimaryKey: true},
				{Name: "name", Type: core.TypeText, Required: true},
				{Name: "tags", Type: core.TypeStringSet},
				{Name: "meta", Type: core.TypeJSON},
				{Name: "createdAt", Type: core.TypeTimestamp, AutoManaged: true},
				{Name: "updatedAt", Type: core.TypeTimestamp, AutoManaged: true},
			},
		},
		{
			Name: "sections",
			Fields: []core.FieldSpec{
				{Name: "id", Type: core.TypeText, PrimaryKey: true},
				{Name: "phaseId", Type: core.TypeText},
				{Name: "number", Type: core.TypeInteger},
				{Name: "weight", Type: core.TypeDecimal},
			},
			Relationships: []core.RelationshipSpec{{Field: "phaseId", Table: "phases"}},
		},
		{
			Name:   "feedback",
			Fields: []core.FieldSpec{{Name: "id", Type: core.TypeText, PrimaryKey: true}},
		},
	})
	require.NoError(t, err)
	return reg
}

func setupStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mock.ExpectQuery(listTablesQuery).WillReturnRows(
		sqlmock.NewRows([]string{"table_name"}).AddRow("phases").AddRow("sections").AddRow("unrelated"),
	)

	s, err := New(context.Background(), db, testRegistry(t), WithClock(func() time.Time { return fixedNow }))
	require.NoError(t, err)
	return s, mock
}

func table(t *testing.T, s *Store, name string) core.TableStore {
	t.Helper()
	ts, err := s.Table(name)
	require.NoError(t, err)
	return ts
}

func TestNew_OnlyBacksExistingTables(t *testing.T) {
	s, mock := setupStore(t)

	assert.Equal(t, []string{"phases", "sections"}, s.Backed())
	_, err := s.Table("feedback")
	assert.ErrorIs(t, err, core.ErrNoBackingModel)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNew_ListError(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(listTablesQuery).WillReturnError(sql.ErrConnDone)
	_, err = New(context.Background(), db, testRegistry(t))
	assert.ErrorIs(t, err, sql.ErrConnDone)
}

func TestFindByPrimaryKey_DecodesColumns(t *testing.T) {
	s, mock := setupStore(t)
	phases := table(t, s, "phases")

	mock.ExpectQuery(`SELECT ` + phaseCols + ` FROM "phases" WHERE "id" = $1 ORDER BY "created_at", "id" LIMIT 1`).
		WithArgs("p1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "tags", "meta", "created_at", "updated_at"}).
			AddRow("p1", "Framing", []byte(`["a","b"]`), `{"permit":"B-7"}`, fixedNow, fixedNow))

	rec, found, err := phases.FindByPrimaryKey(context.Background(), "p1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "Framing", rec["name"])
	assert.Equal(t, []string{"a", "b"}, rec["tags"])
	assert.Equal(t, map[string]any{"permit": "B-7"}, rec["meta"])
	assert.Equal(t, fixedNow, rec["createdAt"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindByUniqueField_NotFound(t *testing.T) {
	s, mock := setupStore(t)
	phases := table(t, s, "phases")

	mock.ExpectQuery(`SELECT ` + phaseCols + ` FROM "phases" WHERE "name" = $1 ORDER BY "created_at", "id" LIMIT 1`).
		WithArgs("Roofing").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "tags", "meta", "created_at", "updated_at"}))

	rec, found, err := phases.FindByUniqueField(context.Background(), "name", "Roofing")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, rec)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindByCompositeKey_SortedFiltersAndNull(t *testing.T) {
	s, mock := setupStore(t)
	sections := table(t, s, "sections")

	mock.ExpectQuery(`SELECT "id", "phase_id", "number", "weight" FROM "sections" WHERE "number" = $1 AND "phase_id" IS NULL ORDER BY "id" LIMIT 1`).
		WithArgs(int64(2)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "phase_id", "number", "weight"}).
			AddRow("s2", nil, int64(2), "12.50"))

	rec, found, err := sections.FindByCompositeKey(context.Background(), core.Filter{"phaseId": nil, "number": int64(2)})
	require.NoError(t, err)
	require.True(t, found)
	assert.Nil(t, rec["phaseId"])
	assert.Equal(t, int64(2), rec["number"])
	assert.Equal(t, 12.5, rec["weight"], "numeric columns arrive as text")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFind_UnknownField(t *testing.T) {
	s, mock := setupStore(t)
	sections := table(t, s, "sections")

	_, _, err := sections.FindByCompositeKey(context.Background(), core.Filter{"nope": 1})
	assert.ErrorContains(t, err, `unknown field "nope"`)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreate_StampsTimestampsAndEncodesSets(t *testing.T) {
	s, mock := setupStore(t)
	phases := table(t, s, "phases")

	mock.ExpectQuery(`INSERT INTO "phases" ("id", "name", "tags", "created_at", "updated_at") VALUES ($1, $2, $3, $4, $5) RETURNING ` + phaseCols).
		WithArgs("p1", "Framing", `["a"]`, fixedNow, fixedNow).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "tags", "meta", "created_at", "updated_at"}).
			AddRow("p1", "Framing", `["a"]`, nil, fixedNow, fixedNow))

	rec, err := phases.Create(context.Background(), core.Record{
		"id":        "p1",
		"name":      "Framing",
		"tags":      []string{"a"},
		"createdAt": time.Unix(0, 0),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, rec["tags"])
	assert.Nil(t, rec["meta"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreate_RequiresPrimaryKey(t *testing.T) {
	s, _ := setupStore(t)
	phases := table(t, s, "phases")

	_, err := phases.Create(context.Background(), core.Record{"name": "NoID"})
	assert.ErrorContains(t, err, "id is required")
}

func TestCreate_PropagatesConstraintErrors(t *testing.T) {
	s, mock := setupStore(t)
	sections := table(t, s, "sections")

	mock.ExpectQuery(`INSERT INTO "sections" ("id", "number") VALUES ($1, $2) RETURNING "id", "phase_id", "number", "weight"`).
		WithArgs("s1", int64(1)).
		WillReturnError(assert.AnError)

	_, err := sections.Create(context.Background(), core.Record{"id": "s1", "number": int64(1)})
	assert.ErrorIs(t, err, assert.AnError)
	assert.ErrorContains(t, err, "sections: create")
}

func TestUpdate_SkipsPrimaryKeyAndStampsUpdatedAt(t *testing.T) {
	s, mock := setupStore(t)
	phases := table(t, s, "phases")

	mock.ExpectQuery(`UPDATE "phases" SET "name" = $1, "updated_at" = $2 WHERE "id" = $3 RETURNING ` + phaseCols).
		WithArgs("Framing II", fixedNow, "p1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "tags", "meta", "created_at", "updated_at"}).
			AddRow("p1", "Framing II", `[]`, nil, fixedNow, fixedNow))

	rec, err := phases.Update(context.Background(), "p1", core.Record{"id": "other", "name": "Framing II"})
	require.NoError(t, err)
	assert.Equal(t, "p1", rec["id"])
	assert.Equal(t, []string{}, rec["tags"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdate_NotFound(t *testing.T) {
	s, mock := setupStore(t)
	sections := table(t, s, "sections")

	mock.ExpectQuery(`UPDATE "sections" SET "number" = $1 WHERE "id" = $2 RETURNING "id", "phase_id", "number", "weight"`).
		WithArgs(int64(3), "missing").
		WillReturnRows(sqlmock.NewRows([]string{"id", "phase_id", "number", "weight"}))

	_, err := sections.Update(context.Background(), "missing", core.Record{"number": int64(3)})
	assert.ErrorContains(t, err, "sections missing: not found")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCount(t *testing.T) {
	s, mock := setupStore(t)
	sections := table(t, s, "sections")

	mock.ExpectQuery(`SELECT count(*) FROM "sections" WHERE "phase_id" = $1`).
		WithArgs("p1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(4)))

	n, err := sections.Count(context.Background(), core.Filter{"phaseId": "p1"})
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDelete(t *testing.T) {
	s, mock := setupStore(t)
	sections := table(t, s, "sections")

	mock.ExpectExec(`DELETE FROM "sections" WHERE "id" = $1`).
		WithArgs("s1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM "sections" WHERE "id" = $1`).
		WithArgs("s1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, sections.Delete(context.Background(), "s1"))
	assert.ErrorContains(t, sections.Delete(context.Background(), "s1"), "not found")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListAll(t *testing.T) {
	s, mock := setupStore(t)
	phases := table(t, s, "phases")

	later := fixedNow.Add(time.Hour)
	mock.ExpectQuery(`SELECT ` + phaseCols + ` FROM "phases" ORDER BY "created_at", "id"`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "tags", "meta", "created_at", "updated_at"}).
			AddRow("p2", "Framing", nil, nil, fixedNow, fixedNow).
			AddRow("p1", "Roofing", nil, `[1,2]`, later, later))

	all, err := phases.ListAll(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "p2", all[0]["id"])
	assert.Equal(t, []any{float64(1), float64(2)}, all[1]["meta"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSnakeCase(t *testing.T) {
	tests := map[string]string{
		"id":            "id",
		"projectNumber": "project_number",
		"createdAt":     "created_at",
		"primaryEmail":  "primary_email",
	}
	for in, want := range tests {
		assert.Equal(t, want, snakeCase(in), in)
	}
	assert.Equal(t, `"project_number"`, column("projectNumber"))
}
