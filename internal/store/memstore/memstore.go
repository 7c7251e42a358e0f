// Package memstore is an in-memory implementation of core.Store.
//
// It enforces primary keys and unique fields the way the Postgres store
// does, stamps auto-managed timestamps, and lists records in creation
// order. The CLI uses it for dry runs; tests use it everywhere.
package memstore

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/JonMunkholm/sitebook/internal/core"
)

// Store holds one table per registered schema. It is safe for concurrent use.
type Store struct {
	mu     sync.RWMutex
	tables map[string]*Table
	clock  func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the time source for auto-managed timestamps.
func WithClock(fn func() time.Time) Option {
	return func(s *Store) { s.clock = fn }
}

// WithoutTables leaves the named tables unbacked, so Table reports
// core.ErrNoBackingModel for them.
func WithoutTables(names ...string) Option {
	return func(s *Store) {
		for _, n := range names {
			delete(s.tables, n)
		}
	}
}

// New returns an empty store with a table for every schema in reg.
func New(reg *core.Registry, opts ...Option) *Store {
	s := &Store{
		tables: make(map[string]*Table),
		clock:  time.Now,
	}
	for _, name := range reg.ListTables() {
		schema, _ := reg.DescribeTable(name)
		s.tables[name] = &Table{
			store:  s,
			schema: schema,
			pk:     schema.PrimaryKey(),
			byID:   make(map[string]*row),
		}
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Table implements core.Store.
func (s *Store) Table(name string) (core.TableStore, error) {
	t, ok := s.tables[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrNoBackingModel, name)
	}
	return t, nil
}

// Len returns the number of records in a table, or 0 if it is not backed.
func (s *Store) Len(name string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if t, ok := s.tables[name]; ok {
		return len(t.rows)
	}
	return 0
}

type row struct {
	rec     core.Record
	created time.Time
	seq     int
}

// Table is one in-memory table.
type Table struct {
	store  *Store
	schema core.TableSchema
	pk     string
	rows   []*row
	byID   map[string]*row
	seq    int
}

// FindByPrimaryKey implements core.TableStore.
func (t *Table) FindByPrimaryKey(_ context.Context, id string) (core.Record, bool, error) {
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	r, ok := t.byID[id]
	if !ok {
		return nil, false, nil
	}
	return copyRecord(r.rec), true, nil
}

// FindByUniqueField implements core.TableStore.
func (t *Table) FindByUniqueField(ctx context.Context, field string, value any) (core.Record, bool, error) {
	return t.FindByCompositeKey(ctx, core.Filter{field: value})
}

// FindByCompositeKey implements core.TableStore. The oldest match wins.
func (t *Table) FindByCompositeKey(_ context.Context, key core.Filter) (core.Record, bool, error) {
	if err := t.checkFields(key); err != nil {
		return nil, false, err
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	for _, r := range t.rows {
		if matches(r.rec, key) {
			return copyRecord(r.rec), true, nil
		}
	}
	return nil, false, nil
}

// Create implements core.TableStore.
func (t *Table) Create(_ context.Context, rec core.Record) (core.Record, error) {
	id, _ := rec[t.pk].(string)
	if id == "" {
		return nil, fmt.Errorf("%s: %s is required", t.schema.Name, t.pk)
	}

	t.store.mu.Lock()
	defer t.store.mu.Unlock()

	if _, exists := t.byID[id]; exists {
		return nil, fmt.Errorf("duplicate key value violates unique constraint %q", t.schema.Name+"_pkey")
	}
	stored := t.known(rec)
	if err := t.checkUnique(stored, ""); err != nil {
		return nil, err
	}

	now := t.store.clock().UTC()
	for _, f := range t.schema.Fields {
		if f.AutoManaged && f.Type == core.TypeTimestamp {
			stored[f.Name] = now
		}
	}

	t.seq++
	r := &row{rec: stored, created: now, seq: t.seq}
	t.rows = append(t.rows, r)
	t.byID[id] = r
	return copyRecord(stored), nil
}

// Update implements core.TableStore. The primary key cannot be changed.
func (t *Table) Update(_ context.Context, id string, changes core.Record) (core.Record, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()

	r, ok := t.byID[id]
	if !ok {
		return nil, fmt.Errorf("%s %s: not found", t.schema.Name, id)
	}

	next := copyRecord(r.rec)
	for k, v := range t.known(changes) {
		if k == t.pk {
			continue
		}
		next[k] = v
	}
	if err := t.checkUnique(next, id); err != nil {
		return nil, err
	}

	now := t.store.clock().UTC()
	for _, f := range t.schema.Fields {
		if f.AutoManaged && f.Type == core.TypeTimestamp && strings.Contains(strings.ToLower(f.Name), "updated") {
			next[f.Name] = now
		}
	}
	r.rec = next
	return copyRecord(next), nil
}

// Count implements core.TableStore.
func (t *Table) Count(_ context.Context, filter core.Filter) (int64, error) {
	if err := t.checkFields(filter); err != nil {
		return 0, err
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	var n int64
	for _, r := range t.rows {
		if matches(r.rec, filter) {
			n++
		}
	}
	return n, nil
}

// Delete implements core.TableStore.
func (t *Table) Delete(_ context.Context, id string) error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()

	r, ok := t.byID[id]
	if !ok {
		return fmt.Errorf("%s %s: not found", t.schema.Name, id)
	}
	delete(t.byID, id)
	for i, cand := range t.rows {
		if cand == r {
			t.rows = append(t.rows[:i], t.rows[i+1:]...)
			break
		}
	}
	return nil
}

// ListAll implements core.TableStore.
func (t *Table) ListAll(_ context.Context) ([]core.Record, error) {
	t.store.mu.RLock()
	rows := make([]*row, len(t.rows))
	copy(rows, t.rows)
	t.store.mu.RUnlock()

	sort.SliceStable(rows, func(i, j int) bool {
		if !rows[i].created.Equal(rows[j].created) {
			return rows[i].created.Before(rows[j].created)
		}
		return rows[i].seq < rows[j].seq
	})

	out := make([]core.Record, len(rows))
	for i, r := range rows {
		out[i] = copyRecord(r.rec)
	}
	return out, nil
}

// known copies the fields of rec that the schema declares.
func (t *Table) known(rec core.Record) core.Record {
	out := make(core.Record, len(rec))
	for _, f := range t.schema.Fields {
		if v, ok := rec[f.Name]; ok {
			out[f.Name] = copyValue(v)
		}
	}
	return out
}

func (t *Table) checkFields(filter core.Filter) error {
	for field := range filter {
		if _, ok := t.schema.Field(field); !ok {
			return fmt.Errorf("%s: unknown field %q", t.schema.Name, field)
		}
	}
	return nil
}

// checkUnique reports a violation if another row (not self) holds the same
// value in a unique field. Callers hold the lock.
func (t *Table) checkUnique(rec core.Record, self string) error {
	for _, f := range t.schema.Fields {
		if !f.Unique || f.PrimaryKey {
			continue
		}
		v, ok := rec[f.Name]
		if !ok || v == nil || v == "" {
			continue
		}
		for _, r := range t.rows {
			if r.rec[t.pk] == self && self != "" {
				continue
			}
			if valuesEqual(r.rec[f.Name], v) {
				return fmt.Errorf("duplicate key value violates unique constraint %q", t.schema.Name+"_"+f.Name+"_key")
			}
		}
	}
	return nil
}

func matches(rec core.Record, filter core.Filter) bool {
	for field, want := range filter {
		if !valuesEqual(rec[field], want) {
			return false
		}
	}
	return true
}

// valuesEqual compares stored and filter values, treating all numeric
// types as equal when their values are.
func valuesEqual(a, b any) bool {
	if fa, ok := asFloat(a); ok {
		fb, ok := asFloat(b)
		return ok && fa == fb
	}
	if ta, ok := a.(time.Time); ok {
		tb, ok := b.(time.Time)
		return ok && ta.Equal(tb)
	}
	return reflect.DeepEqual(a, b)
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

func copyRecord(rec core.Record) core.Record {
	out := make(core.Record, len(rec))
	for k, v := range rec {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch t := v.(type) {
	case []string:
		return append([]string(nil), t...)
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, val := range t {
			m[k] = copyValue(val)
		}
		return m
	case []any:
		s := make([]any, len(t))
		for i, val := range t {
			s[i] = copyValue(val)
		}
		return s
	}
	return v
}
