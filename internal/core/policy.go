package core

import (
	"context"
	"errors"
	"fmt"
)

// UpsertPolicy decides whether a transformed row updates an existing record
// or creates a new one. One policy is selected per table when the registry
// is built; see [PolicyKind] for the available strategies.
type UpsertPolicy interface {
	Kind() PolicyKind
	upsert(ctx context.Context, op *upsertOp) (upsertResult, error)
}

// upsertOp carries one row through a policy.
type upsertOp struct {
	run      *importRun
	schema   *TableSchema
	store    TableStore
	rec      Record
	supplied string // primary key value as it appeared in the sheet
}

type upsertResult struct {
	ID      string
	Created bool
}

// selectPolicy resolves the table's identity spec into a policy, inferring
// the kind when the schema leaves it blank: tables with ensured parents are
// ensure-dependent, tables with a unique field are keyed on it, everything
// else is append-only.
func selectPolicy(t *TableSchema) (UpsertPolicy, error) {
	id := &t.Identity
	if id.Policy == "" {
		id.Policy = inferPolicy(t)
	}

	var policy UpsertPolicy
	switch id.Policy {
	case PolicyNaturalKey:
		if len(id.Fields) != 1 {
			return nil, fmt.Errorf("natural key policy needs exactly one field, got %d", len(id.Fields))
		}
		t.Fields[fieldIndex(t, id.Fields[0])].Unique = true
		policy = naturalKeyPolicy{field: id.Fields[0]}
	case PolicySurrogate:
		if len(id.Fields) != 1 {
			return nil, fmt.Errorf("surrogate policy needs exactly one field, got %d", len(id.Fields))
		}
		f := &t.Fields[fieldIndex(t, id.Fields[0])]
		if f.Type != TypeInteger {
			return nil, fmt.Errorf("surrogate field %q must be an integer, got %s", f.Name, f.Type)
		}
		f.Unique = true
		policy = surrogatePolicy{field: f.Name}
	case PolicyCompositeKey:
		if len(id.Fields) == 0 {
			return nil, errors.New("composite key policy needs at least one field")
		}
		policy = compositeKeyPolicy{fields: id.Fields}
	case PolicyEnsureDependent:
		policy = ensureDependentPolicy{}
	case PolicyAppendOnly:
		policy = appendOnlyPolicy{}
	default:
		return nil, fmt.Errorf("unknown identity policy %q", id.Policy)
	}

	if id.Policy != PolicySurrogate && id.Policy != PolicyEnsureDependent {
		for _, rel := range t.Relationships {
			if rel.Ensure {
				return nil, fmt.Errorf("relationship %q cannot ensure parents under the %s policy", rel.Field, id.Policy)
			}
		}
	}
	return policy, nil
}

func inferPolicy(t *TableSchema) PolicyKind {
	for _, rel := range t.Relationships {
		if rel.Ensure {
			return PolicyEnsureDependent
		}
	}
	for _, f := range t.Fields {
		if f.Unique && !f.PrimaryKey && !f.AutoManaged {
			t.Identity.Fields = []string{f.Name}
			return PolicyNaturalKey
		}
	}
	return PolicyAppendOnly
}

// ---------------------------------------------------------------------------
// Shared steps
// ---------------------------------------------------------------------------

func (op *upsertOp) primaryKey() string {
	return op.schema.PrimaryKey()
}

// changes is the record without its primary key.
func (op *upsertOp) changes() Record {
	c := op.rec.Clone()
	delete(c, op.primaryKey())
	return c
}

func (op *upsertOp) update(ctx context.Context, existing Record) (upsertResult, error) {
	id, _ := existing[op.primaryKey()].(string)
	if id == "" {
		return upsertResult{}, fmt.Errorf("%s: existing record has no %s", op.schema.Name, op.primaryKey())
	}
	if _, err := op.store.Update(ctx, id, op.changes()); err != nil {
		return upsertResult{}, err
	}
	return upsertResult{ID: id}, nil
}

// create persists the row under the supplied id when it is usable, or a
// fresh one. With fill set, required fields that are still empty get
// placeholder values first.
func (op *upsertOp) create(ctx context.Context, fill bool) (upsertResult, error) {
	id, err := op.run.claimID(ctx, op.store, op.supplied)
	if err != nil {
		return upsertResult{}, err
	}
	op.rec[op.primaryKey()] = id
	if fill {
		op.run.fillDefaults(op.schema, op.rec, false)
	}

	created, err := op.store.Create(ctx, op.rec)
	if err != nil {
		return upsertResult{}, err
	}
	if stored, ok := created[op.primaryKey()].(string); ok && stored != "" {
		id = stored
	}
	return upsertResult{ID: id, Created: true}, nil
}

// findSupplied looks the row up by the id it was supplied with.
func (op *upsertOp) findSupplied(ctx context.Context) (Record, bool, error) {
	if !validID(op.supplied) {
		return nil, false, nil
	}
	return op.store.FindByPrimaryKey(ctx, op.supplied)
}

// dropRequiredClears keeps a partial row from blanking required fields of
// an existing record.
func (op *upsertOp) dropRequiredClears() {
	for _, f := range op.schema.Fields {
		if f.Required {
			if v, ok := op.rec[f.Name]; ok && isEmpty(v) {
				delete(op.rec, f.Name)
			}
		}
	}
}

// ---------------------------------------------------------------------------
// Natural key: a unique business value such as an email address.
// ---------------------------------------------------------------------------

type naturalKeyPolicy struct {
	field string
}

func (naturalKeyPolicy) Kind() PolicyKind { return PolicyNaturalKey }

func (p naturalKeyPolicy) upsert(ctx context.Context, op *upsertOp) (upsertResult, error) {
	key := op.rec[p.field]
	if isEmpty(key) {
		return upsertResult{}, fmt.Errorf("%s is required to identify the record", p.field)
	}

	existing, found, err := op.store.FindByUniqueField(ctx, p.field, key)
	if err != nil {
		return upsertResult{}, err
	}
	if found {
		return op.update(ctx, existing)
	}
	return op.create(ctx, false)
}

// ---------------------------------------------------------------------------
// Surrogate: a sequential number, minted when the row has none. Missing
// required fields and parents are filled in on create.
// ---------------------------------------------------------------------------

type surrogatePolicy struct {
	field string
}

func (surrogatePolicy) Kind() PolicyKind { return PolicySurrogate }

func (p surrogatePolicy) upsert(ctx context.Context, op *upsertOp) (upsertResult, error) {
	num, ok := op.rec[p.field].(int64)
	if ok {
		op.run.noteSurrogate(op.schema.Name, p.field, num)
	} else {
		n, err := op.run.nextSurrogate(ctx, op.schema, op.store, p.field)
		if err != nil {
			return upsertResult{}, err
		}
		op.rec[p.field] = n
		num = n
	}

	existing, found, err := op.store.FindByUniqueField(ctx, p.field, num)
	if err != nil {
		return upsertResult{}, err
	}
	if found {
		op.dropRequiredClears()
		if err := op.run.ensureRelations(ctx, op.schema, op.rec, false, 0); err != nil {
			return upsertResult{}, err
		}
		return op.update(ctx, existing)
	}

	if err := op.run.ensureRelations(ctx, op.schema, op.rec, true, 0); err != nil {
		return upsertResult{}, err
	}
	return op.create(ctx, true)
}

// ---------------------------------------------------------------------------
// Composite key: a tuple such as (phaseId, sectionNumber), then the
// supplied id, then create.
// ---------------------------------------------------------------------------

type compositeKeyPolicy struct {
	fields []string
}

func (compositeKeyPolicy) Kind() PolicyKind { return PolicyCompositeKey }

// key builds the lookup filter; ok is false when any part is missing.
func (p compositeKeyPolicy) key(rec Record) (Filter, bool) {
	f := make(Filter, len(p.fields))
	for _, name := range p.fields {
		v, ok := rec[name]
		if !ok || isEmpty(v) {
			return nil, false
		}
		f[name] = v
	}
	return f, true
}

func (p compositeKeyPolicy) upsert(ctx context.Context, op *upsertOp) (upsertResult, error) {
	if key, ok := p.key(op.rec); ok {
		existing, found, err := op.store.FindByCompositeKey(ctx, key)
		if err != nil {
			return upsertResult{}, err
		}
		if found {
			return op.update(ctx, existing)
		}
	}

	existing, found, err := op.findSupplied(ctx)
	if err != nil {
		return upsertResult{}, err
	}
	if found {
		return op.update(ctx, existing)
	}
	return op.create(ctx, false)
}

// ---------------------------------------------------------------------------
// Ensure-dependent: rows whose parents may not exist yet. Missing parents
// are replaced by placeholder records before the row is written.
// ---------------------------------------------------------------------------

type ensureDependentPolicy struct{}

func (ensureDependentPolicy) Kind() PolicyKind { return PolicyEnsureDependent }

func (ensureDependentPolicy) upsert(ctx context.Context, op *upsertOp) (upsertResult, error) {
	existing, found, err := op.findSupplied(ctx)
	if err != nil {
		return upsertResult{}, err
	}
	if err := op.run.ensureRelations(ctx, op.schema, op.rec, !found, 0); err != nil {
		return upsertResult{}, err
	}
	if found {
		return op.update(ctx, existing)
	}
	return op.create(ctx, false)
}

// ---------------------------------------------------------------------------
// Append-only: no identity, every row is a new record.
// ---------------------------------------------------------------------------

type appendOnlyPolicy struct{}

func (appendOnlyPolicy) Kind() PolicyKind { return PolicyAppendOnly }

func (appendOnlyPolicy) upsert(ctx context.Context, op *upsertOp) (upsertResult, error) {
	return op.create(ctx, false)
}
