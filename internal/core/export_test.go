package core_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/sitebook/internal/core"
	"github.com/JonMunkholm/sitebook/internal/store/memstore"
	"github.com/JonMunkholm/sitebook/internal/workbook"
)

func seedProjects(t *testing.T, h *harness) {
	t.Helper()
	summary := h.run(t,
		sheet("users", []string{"email", "firstName", "lastName"}, []any{"pm@x.com", "Pat", "Lee"}),
		sheet("customers", []string{"name", "primaryEmail", "tags"}, []any{"Acme", "ops@acme.test", "vip, north"}),
		sheet("projects",
			[]string{"projectName", "status", "projectType", "budget", "startDate", "endDate", "progress", "tags", "metadata"},
			[]any{"Harbor Office", "active", "commercial", "250000.50", "2025-01-06", "2025-12-19", "40", "steel, glass", `{"permit":"B-77"}`},
		),
	)
	require.Equal(t, core.StatusSuccess, summary.Status, summary.Sheets)
}

func TestExportTable_RoundTripIsIdempotent(t *testing.T) {
	h := newHarness(t, nil)
	seedProjects(t, h)
	ctx := context.Background()

	tables := []string{"users", "customers", "projects"}
	before := map[string][]core.Record{}
	wb := workbook.New()
	for _, table := range tables {
		before[table] = h.all(t, table)
		exported, err := h.exporter.ExportTable(ctx, table)
		require.NoError(t, err)
		require.Len(t, exported.Sheets, 1)
		wb.AddSheet(exported.Sheets[0])
	}

	summary, err := h.importer.ImportWorkbook(ctx, wb)
	require.NoError(t, err)
	assert.Equal(t, core.StatusSuccess, summary.Status)
	for _, out := range summary.Sheets {
		assert.Zero(t, out.Created, "%s created records", out.TargetTable)
		assert.Equal(t, out.TotalRows, out.Updated, "%s", out.TargetTable)
	}
	assert.Zero(t, summary.StubsCreated)

	for _, table := range tables {
		assert.Equal(t, before[table], h.all(t, table), table)
	}
}

func TestExportTable_Projection(t *testing.T) {
	h := newHarness(t, nil)
	seedProjects(t, h)

	wb, err := h.exporter.ExportTable(context.Background(), "projects")
	require.NoError(t, err)

	s := wb.Sheets[0]
	assert.Equal(t, "projects", s.Name)
	assert.Equal(t, "id", s.Header[0])
	assert.Equal(t, "updatedAt", s.Header[len(s.Header)-1])

	row := s.Records()[0]
	get := func(key string) any {
		v, _ := row.Get(key)
		return v
	}
	assert.Equal(t, int64(1), get("projectNumber"))
	assert.Equal(t, "ACTIVE", get("status"))
	assert.Equal(t, 250000.5, get("budget"))
	assert.Equal(t, "2025-01-06T00:00:00Z", get("startDate"))
	assert.Equal(t, "steel, glass", get("tags"))
	assert.Equal(t, `{"permit":"B-77"}`, get("metadata"))
	assert.Nil(t, get("description"), "unset fields export as empty cells")
}

func TestExportTable_Errors(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	_, err := h.exporter.ExportTable(ctx, "widgets")
	assert.ErrorIs(t, err, core.ErrUnknownTable)

	_, err = h.exporter.ExportTable(ctx, "users")
	assert.ErrorIs(t, err, core.ErrNoRows)
}

func TestExportAll(t *testing.T) {
	h := newHarness(t, []memstore.Option{memstore.WithoutTables("feedback")})
	ctx := context.Background()

	_, report, err := h.exporter.ExportAll(ctx)
	assert.ErrorIs(t, err, core.ErrNothingToExport)
	require.NotNil(t, report)
	assert.Empty(t, report.Exported)

	seedProjects(t, h)
	wb, report, err := h.exporter.ExportAll(ctx)
	require.NoError(t, err)

	assert.Equal(t, []string{"users", "customers", "projects"}, report.Exported)
	assert.Equal(t, []string{"users", "customers", "projects"}, wb.SheetNames())
	assert.Len(t, report.Failed, 22-3)

	reasons := map[string]string{}
	for _, f := range report.Failed {
		reasons[f.Table] = f.Reason
	}
	assert.Contains(t, reasons["feedback"], "no backing store")
	assert.Contains(t, reasons["tasks"], "table has no rows")
}

func TestGenerateTemplate(t *testing.T) {
	h := newHarness(t, nil)

	wb, err := h.exporter.GenerateTemplate("projects")
	require.NoError(t, err)
	require.Len(t, wb.Sheets, 1)

	s := wb.Sheets[0]
	assert.NotContains(t, s.Header, "id")
	assert.NotContains(t, s.Header, "createdAt")
	assert.NotContains(t, s.Header, "updatedAt")
	assert.Equal(t, "projectNumber", s.Header[0])
	require.Len(t, s.Rows, 1)

	row := s.Records()[0]
	status, _ := row.Get("status")
	start, _ := row.Get("startDate")
	customer, _ := row.Get("customerId")
	progress, _ := row.Get("progress")
	assert.Equal(t, "PLANNING", status)
	assert.Equal(t, "2024-01-15T00:00:00Z", start)
	assert.Equal(t, uuid.Nil.String(), customer)
	assert.Equal(t, int64(50), progress)

	_, err = h.exporter.GenerateTemplate("widgets")
	assert.ErrorIs(t, err, core.ErrUnknownTable)
}

func TestGenerateAllTemplates(t *testing.T) {
	h := newHarness(t, nil)
	wb := h.exporter.GenerateAllTemplates()

	require.Len(t, wb.Sheets, 22)
	names := wb.SheetNames()
	assert.Equal(t, "users", names[0])
	assert.Contains(t, names, "project_subcontractor_assignmen")
	for _, name := range names {
		assert.LessOrEqual(t, len([]rune(name)), workbook.MaxSheetNameLen)
	}
}

func TestGenerateTemplate_RowsImportCleanly(t *testing.T) {
	h := newHarness(t, nil)
	wb, err := h.exporter.GenerateTemplate("users")
	require.NoError(t, err)

	summary, err := h.importer.ImportWorkbook(context.Background(), wb)
	require.NoError(t, err)
	assert.Equal(t, core.StatusSuccess, summary.Status, summary.Sheets)
	assert.Equal(t, 1, h.store.Len("users"))
}
