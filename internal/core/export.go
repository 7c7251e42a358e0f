package core

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/JonMunkholm/sitebook/internal/workbook"
)

// Exporter projects persisted tables, and registry templates, into
// workbooks.
type Exporter struct {
	reg    *Registry
	store  Store
	logger *slog.Logger
}

// NewExporter returns an exporter. A nil logger means slog.Default().
func NewExporter(reg *Registry, store Store, logger *slog.Logger) *Exporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Exporter{reg: reg, store: store, logger: logger}
}

// TableFailure names a table ExportAll could not export.
type TableFailure struct {
	Table  string `json:"table"`
	Reason string `json:"reason"`
}

// ExportReport lists which tables ExportAll exported and which it skipped.
type ExportReport struct {
	Exported []string       `json:"exported"`
	Failed   []TableFailure `json:"failed"`
}

// ExportTable returns a single-sheet workbook holding every record of the
// table, oldest first. The header is every field in registry order.
// It fails with ErrUnknownTable or ErrNoRows.
func (e *Exporter) ExportTable(ctx context.Context, table string) (*workbook.Workbook, error) {
	sheet, err := e.tableSheet(ctx, table)
	if err != nil {
		return nil, err
	}
	wb := workbook.New()
	wb.AddSheet(sheet)
	return wb, nil
}

// ExportAll exports every registered table with at least one row, one sheet
// per table. Tables that are empty or unavailable are listed in the report
// instead of failing the export. ErrNothingToExport is returned when no
// table could be exported.
func (e *Exporter) ExportAll(ctx context.Context) (*workbook.Workbook, *ExportReport, error) {
	wb := workbook.New()
	report := &ExportReport{Exported: []string{}, Failed: []TableFailure{}}

	for _, t := range e.reg.tables {
		if err := ctx.Err(); err != nil {
			return nil, report, err
		}
		sheet, err := e.tableSheet(ctx, t.Name)
		if err != nil {
			e.logger.Debug("table not exported", "table", t.Name, "reason", err)
			report.Failed = append(report.Failed, TableFailure{Table: t.Name, Reason: err.Error()})
			continue
		}
		wb.AddSheet(sheet)
		report.Exported = append(report.Exported, t.Name)
	}

	if len(wb.Sheets) == 0 {
		return nil, report, ErrNothingToExport
	}
	e.logger.Info("export finished", "exported", len(report.Exported), "failed", len(report.Failed))
	return wb, report, nil
}

func (e *Exporter) tableSheet(ctx context.Context, table string) (workbook.Sheet, error) {
	schema, err := e.reg.schema(table)
	if err != nil {
		return workbook.Sheet{}, err
	}
	ts, err := e.store.Table(table)
	if err != nil {
		return workbook.Sheet{}, err
	}
	records, err := ts.ListAll(ctx)
	if err != nil {
		return workbook.Sheet{}, fmt.Errorf("list %s: %w", table, err)
	}
	if len(records) == 0 {
		return workbook.Sheet{}, fmt.Errorf("%w: %s", ErrNoRows, table)
	}

	sheet := workbook.Sheet{Name: table, Header: make([]string, len(schema.Fields))}
	for i, f := range schema.Fields {
		sheet.Header[i] = f.Name
	}
	for _, rec := range records {
		sheet.Rows = append(sheet.Rows, projectRow(schema.Fields, rec))
	}
	return sheet, nil
}

// GenerateTemplate returns a workbook with one sheet for the table: its
// uploadable fields as the header and one sample row.
func (e *Exporter) GenerateTemplate(table string) (*workbook.Workbook, error) {
	sheet, err := e.templateSheet(table)
	if err != nil {
		return nil, err
	}
	wb := workbook.New()
	wb.AddSheet(sheet)
	return wb, nil
}

// GenerateAllTemplates returns one template sheet per registered table.
func (e *Exporter) GenerateAllTemplates() *workbook.Workbook {
	wb := workbook.New()
	for _, t := range e.reg.tables {
		sheet, err := e.templateSheet(t.Name)
		if err != nil {
			continue
		}
		wb.AddSheet(sheet)
	}
	return wb
}

func (e *Exporter) templateSheet(table string) (workbook.Sheet, error) {
	fields, err := e.reg.UploadableFields(table)
	if err != nil {
		return workbook.Sheet{}, err
	}
	sample, err := e.reg.SampleRow(table)
	if err != nil {
		return workbook.Sheet{}, err
	}

	sheet := workbook.Sheet{Name: table, Header: make([]string, len(fields))}
	for i, f := range fields {
		sheet.Header[i] = f.Name
	}
	sheet.Rows = [][]any{projectRow(fields, sample)}
	return sheet, nil
}

// projectRow turns a record into spreadsheet cells in field order.
func projectRow(fields []FieldSpec, rec Record) []any {
	cells := make([]any, len(fields))
	for i, f := range fields {
		v, ok := rec[f.Name]
		if !ok || v == nil {
			continue
		}
		cells[i] = kindOf(f.Type).export(v)
	}
	return cells
}
