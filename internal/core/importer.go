package core

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/sitebook/internal/sequence"
	"github.com/JonMunkholm/sitebook/internal/workbook"
)

// Importer runs workbook imports against a store. An Importer is safe for
// concurrent use; each call to ImportWorkbook owns its own remap table and
// outcomes. Only the Sequence is shared between runs.
type Importer struct {
	reg            *Registry
	store          Store
	seq            Sequence
	logger         *slog.Logger
	clock          Clock
	newID          func() string
	rowTimeout     time.Duration
	surrogateFloor int64
}

// Option configures an Importer.
type Option func(*Importer)

// WithSequence sets the allocator for surrogate numbers. The default is an
// in-process counter owned by the Importer.
func WithSequence(seq Sequence) Option {
	return func(i *Importer) { i.seq = seq }
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(i *Importer) { i.logger = l }
}

// WithClock sets the time source used for placeholder dates.
func WithClock(c Clock) Option {
	return func(i *Importer) { i.clock = c }
}

// WithIDGenerator sets the function minting new primary keys.
func WithIDGenerator(fn func() string) Option {
	return func(i *Importer) { i.newID = fn }
}

// WithRowTimeout bounds the time spent upserting a single row. Zero
// disables the limit.
func WithRowTimeout(d time.Duration) Option {
	return func(i *Importer) { i.rowTimeout = d }
}

// WithSurrogateFloor sets the minimum for minted surrogate numbers; the
// first minted value is at least floor+1.
func WithSurrogateFloor(floor int64) Option {
	return func(i *Importer) { i.surrogateFloor = floor }
}

// NewImporter returns an importer for the registry's tables backed by store.
func NewImporter(reg *Registry, store Store, opts ...Option) *Importer {
	imp := &Importer{
		reg:    reg,
		store:  store,
		seq:    sequence.NewMemory(),
		logger: slog.Default(),
		clock:  time.Now,
		newID:  func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(imp)
	}
	return imp
}

// importRun is the state of one ImportWorkbook call.
type importRun struct {
	imp         *Importer
	remap       *RemapTable
	floors      map[string]int64
	floorLoaded map[string]bool
	stores      map[string]TableStore
	seen        map[string]map[string]bool // table -> ids written this run
	stubs       int
	now         time.Time
	logger      *slog.Logger
}

func (run *importRun) tableStore(table string) (TableStore, error) {
	if ts, ok := run.stores[table]; ok {
		return ts, nil
	}
	ts, err := run.imp.store.Table(table)
	if err != nil {
		return nil, err
	}
	run.stores[table] = ts
	return ts, nil
}

// ImportWorkbook imports every sheet of wb.
//
// Sheets are matched to tables, ordered by dependency rank and processed
// row by row in file order. Row problems are reported in the summary and
// never abort the run. Sheets that are empty, cannot be matched, or whose
// table has no backing store are skipped with a reason. ErrNoData is
// returned when no sheet has any data.
//
// Cancellation is checked between rows. A cancelled run returns the
// partial summary together with the context's error; rows already written
// stay written.
func (imp *Importer) ImportWorkbook(ctx context.Context, wb *workbook.Workbook) (*RunSummary, error) {
	run := &importRun{
		imp:         imp,
		remap:       NewRemapTable(),
		floors:      make(map[string]int64),
		floorLoaded: make(map[string]bool),
		stores:      make(map[string]TableStore),
		seen:        make(map[string]map[string]bool),
		now:         imp.clock(),
		logger:      imp.logger,
	}
	summary := &RunSummary{Sheets: []SheetOutcome{}, Skipped: []SkippedSheet{}}

	var sheets []PlannedSheet
	hasData := false
	for _, sheet := range wb.Sheets {
		rows := sheet.Records()
		if len(rows) == 0 {
			summary.Skipped = append(summary.Skipped, SkippedSheet{SheetName: sheet.Name, Reason: "sheet has no data rows"})
			continue
		}
		hasData = true

		table, err := imp.reg.DetectTable(sheet.Name, sheet.Header)
		if err != nil {
			imp.logger.Warn("skipping sheet", "sheet", sheet.Name, "reason", err)
			summary.Skipped = append(summary.Skipped, SkippedSheet{SheetName: sheet.Name, Reason: err.Error()})
			continue
		}
		if _, err := run.tableStore(table); err != nil {
			imp.logger.Warn("skipping sheet", "sheet", sheet.Name, "table", table, "reason", err)
			summary.Skipped = append(summary.Skipped, SkippedSheet{
				SheetName: sheet.Name,
				Reason:    fmt.Sprintf("table %s is not available: %v", table, err),
			})
			continue
		}
		sheets = append(sheets, PlannedSheet{Name: sheet.Name, Table: table, Rows: rows})
	}
	if !hasData {
		return nil, ErrNoData
	}

	plan := imp.reg.PlanSheets(sheets)
	imp.logger.Info("import started", "sheets", len(plan), "skipped", len(summary.Skipped))
	start := time.Now()

	for _, ps := range plan {
		outcome, err := run.importSheet(ctx, ps)
		summary.Sheets = append(summary.Sheets, outcome)
		if err != nil {
			summary.StubsCreated = run.stubs
			summary.finalize()
			return summary, fmt.Errorf("import cancelled: %w", err)
		}
	}

	run.cleanup(ctx, plan, summary)

	summary.StubsCreated = run.stubs
	summary.finalize()
	imp.logger.Info("import finished",
		"status", summary.Status,
		"records", summary.TotalRecords,
		"successful", summary.TotalSuccessful,
		"failed", summary.TotalFailed,
		"stubs", summary.StubsCreated,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return summary, nil
}

// importSheet processes the rows of one sheet in order. It only returns an
// error when ctx is done.
func (run *importRun) importSheet(ctx context.Context, ps PlannedSheet) (SheetOutcome, error) {
	out := SheetOutcome{
		SheetName:   ps.Name,
		TargetTable: ps.Table,
		TotalRows:   len(ps.Rows),
		Errors:      []RowError{},
	}
	schema, err := run.imp.reg.schema(ps.Table)
	if err != nil {
		return out, err
	}
	ts, err := run.tableStore(ps.Table)
	if err != nil {
		return out, err
	}

	fail := func(line int, msg string) {
		out.Failed++
		out.Errors = append(out.Errors, RowError{Row: line, Error: msg})
		run.logger.Debug("row failed", "sheet", ps.Name, "row", line, "error", msg)
	}

	for i, row := range ps.Rows {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		line := row.Line
		if line == 0 {
			line = i + 2
		}

		rec, errs := transformRow(schema, row, run.now)
		run.remap.apply(schema, rec)
		if len(errs) > 0 {
			fail(line, strings.Join(errs, "; "))
			continue
		}

		supplied := rec.String(schema.PrimaryKey())
		target := supplied
		if id, ok := run.remap.Resolve(ps.Table, supplied); ok {
			target = id
		}
		res, err := run.upsertRow(ctx, schema, ts, rec, target)
		if err != nil {
			fail(line, err.Error())
			continue
		}

		out.Successful++
		if res.Created {
			out.Created++
		} else {
			out.Updated++
		}
		run.remap.Record(ps.Table, supplied, res.ID)
		run.markSeen(ps.Table, res.ID)
	}

	run.logger.Info("sheet imported",
		"sheet", ps.Name,
		"table", ps.Table,
		"rows", out.TotalRows,
		"created", out.Created,
		"updated", out.Updated,
		"failed", out.Failed,
	)
	return out, nil
}

// upsertRow runs the table's policy for one record, converting a panic
// into a row error and applying the per-row timeout.
func (run *importRun) upsertRow(ctx context.Context, schema *TableSchema, ts TableStore, rec Record, supplied string) (res upsertResult, err error) {
	defer func() {
		if p := recover(); p != nil {
			run.logger.Error("panic during upsert", "table", schema.Name, "panic", p)
			res, err = upsertResult{}, fmt.Errorf("unexpected error: %v", p)
		}
	}()

	if run.imp.rowTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, run.imp.rowTimeout)
		defer cancel()
	}

	policy, ok := run.imp.reg.policies[schema.Name]
	if !ok {
		return upsertResult{}, fmt.Errorf("%w: %s", ErrUnknownTable, schema.Name)
	}
	return policy.upsert(ctx, &upsertOp{
		run:      run,
		schema:   schema,
		store:    ts,
		rec:      rec,
		supplied: supplied,
	})
}

func (run *importRun) markSeen(table, id string) {
	ids, ok := run.seen[table]
	if !ok {
		ids = make(map[string]bool)
		run.seen[table] = ids
	}
	ids[id] = true
}
