package core

import (
	"context"
	"errors"
)

// cleanup removes persisted rows of cleanup-enabled tables that were not
// part of this run's upload and that nothing references. Tables are cleaned
// leaf first so that a parent whose only children were just removed can go
// too. Only tables whose sheet imported at least one row and rejected none
// are touched: a rejected row still names a record, so the uploaded set is
// not known.
//
// Cleanup is best effort: failures are logged and never change the outcome
// of the run.
func (run *importRun) cleanup(ctx context.Context, plan []PlannedSheet, summary *RunSummary) {
	done := make(map[string]bool)
	for i := len(plan) - 1; i >= 0; i-- {
		ps := plan[i]
		schema, err := run.imp.reg.schema(ps.Table)
		if err != nil || !schema.Cleanup || done[ps.Table] {
			continue
		}

		idx := -1
		for j := range summary.Sheets {
			if summary.Sheets[j].SheetName == ps.Name && summary.Sheets[j].TargetTable == ps.Table {
				idx = j
			}
		}
		if idx < 0 || summary.Sheets[idx].Successful == 0 {
			continue
		}
		if summary.Sheets[idx].Failed > 0 {
			run.logger.Info("cleanup skipped", "table", schema.Name, "failed_rows", summary.Sheets[idx].Failed)
			continue
		}

		done[ps.Table] = true
		deleted, err := run.cleanupTable(ctx, schema)
		summary.Sheets[idx].Deleted += deleted
		if err != nil {
			run.logger.Warn("cleanup incomplete", "table", schema.Name, "deleted", deleted, "error", err)
		}
	}
}

func (run *importRun) cleanupTable(ctx context.Context, schema *TableSchema) (int, error) {
	ts, err := run.tableStore(schema.Name)
	if err != nil {
		return 0, err
	}
	records, err := ts.ListAll(ctx)
	if err != nil {
		return 0, err
	}

	pk := schema.PrimaryKey()
	seen := run.seen[schema.Name]
	deleted := 0
	var errs []error
	for _, rec := range records {
		if ctx.Err() != nil {
			return deleted, ctx.Err()
		}
		id, _ := rec[pk].(string)
		if id == "" || seen[id] {
			continue
		}

		refs, err := run.countReferences(ctx, schema.Name, id)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if refs > 0 {
			continue
		}
		if err := ts.Delete(ctx, id); err != nil {
			errs = append(errs, err)
			continue
		}
		deleted++
		run.logger.Info("removed record absent from upload", "table", schema.Name, "id", id)
	}
	return deleted, errors.Join(errs...)
}

// countReferences counts rows in every table that point at id. Tables
// without a backing store hold no references.
func (run *importRun) countReferences(ctx context.Context, table, id string) (int64, error) {
	var total int64
	for _, ref := range run.imp.reg.referencesTo(table) {
		ts, err := run.tableStore(ref.Table)
		if errors.Is(err, ErrNoBackingModel) {
			continue
		}
		if err != nil {
			return 0, err
		}
		n, err := ts.Count(ctx, Filter{ref.Field: id})
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}
