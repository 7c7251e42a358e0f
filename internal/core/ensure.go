package core

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// maxEnsureDepth bounds how many levels of placeholder parents one row may
// create.
const maxEnsureDepth = 4

// validID reports whether s is usable as a primary key.
func validID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}

// claimID returns the id a new record should get: the supplied one when it
// is a valid UUID not already in use, otherwise a fresh id.
func (run *importRun) claimID(ctx context.Context, ts TableStore, supplied string) (string, error) {
	if u, err := uuid.Parse(supplied); err == nil {
		id := u.String()
		_, taken, err := ts.FindByPrimaryKey(ctx, id)
		if err != nil {
			return "", err
		}
		if !taken {
			return id, nil
		}
	}
	return run.imp.newID(), nil
}

// ensureRelations resolves every ensured parent of rec, replacing dangling
// references with placeholder parents. With fillMissing set, required
// parents that are not referenced at all also get a placeholder.
func (run *importRun) ensureRelations(ctx context.Context, schema *TableSchema, rec Record, fillMissing bool, depth int) error {
	for _, rel := range schema.Relationships {
		if !rel.Ensure {
			continue
		}

		ref, _ := rec[rel.Field].(string)
		if ref == "" {
			if !fillMissing || !rel.Required {
				continue
			}
			id, err := run.createStub(ctx, rel.Table, "", depth+1)
			if err != nil {
				return fmt.Errorf("%s: %w", rel.Field, err)
			}
			rec[rel.Field] = id
			continue
		}

		id, err := run.ensure(ctx, rel.Table, ref, depth+1)
		if err != nil {
			return fmt.Errorf("%s: %w", rel.Field, err)
		}
		rec[rel.Field] = id
	}
	return nil
}

// ensure returns the persisted id for a reference into table, creating a
// placeholder record when nothing matches.
func (run *importRun) ensure(ctx context.Context, table, ref string, depth int) (string, error) {
	if id, ok := run.remap.Resolve(table, ref); ok {
		return id, nil
	}
	if validID(ref) {
		ts, err := run.tableStore(table)
		if err != nil {
			return "", err
		}
		_, found, err := ts.FindByPrimaryKey(ctx, ref)
		if err != nil {
			return "", err
		}
		if found {
			return ref, nil
		}
	}
	return run.createStub(ctx, table, ref, depth)
}

// createStub creates the smallest valid record of table: required fields
// get placeholders, required parents get stubs of their own. When supplied
// is set the stub takes that id if possible, and the mapping is recorded so
// later rows naming the same id reuse the stub.
func (run *importRun) createStub(ctx context.Context, table, supplied string, depth int) (string, error) {
	if depth > maxEnsureDepth {
		return "", fmt.Errorf("%w at %s", errReferenceTooDeep, table)
	}
	schema, err := run.imp.reg.schema(table)
	if err != nil {
		return "", err
	}
	ts, err := run.tableStore(table)
	if err != nil {
		return "", err
	}

	rec := make(Record)
	if p, ok := run.imp.reg.policies[table].(surrogatePolicy); ok {
		n, err := run.nextSurrogate(ctx, schema, ts, p.field)
		if err != nil {
			return "", err
		}
		rec[p.field] = n
	}
	for _, rel := range schema.Relationships {
		if !rel.Required {
			continue
		}
		id, err := run.createStub(ctx, rel.Table, "", depth+1)
		if err != nil {
			return "", err
		}
		rec[rel.Field] = id
	}

	id, err := run.claimID(ctx, ts, supplied)
	if err != nil {
		return "", err
	}
	rec[schema.PrimaryKey()] = id
	run.fillDefaults(schema, rec, true)

	if _, err := ts.Create(ctx, rec); err != nil {
		return "", fmt.Errorf("create placeholder %s: %w", table, err)
	}
	run.stubs++
	run.remap.Record(table, supplied, id)
	run.logger.Info("created placeholder record", "table", table, "id", id, "referenced_as", supplied)
	return id, nil
}
