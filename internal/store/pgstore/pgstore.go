// Package pgstore implements core.Store on PostgreSQL.
//
// Tables and columns follow the registry: a table named "projects" is the
// SQL table projects, and the field "projectNumber" is the column
// project_number. Set and JSON fields are stored as jsonb. Queries go
// through database/sql so the server can hand in a pgx pool via
// stdlib.OpenDBFromPool and tests can use sqlmock.
package pgstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/JonMunkholm/sitebook/internal/core"
)

const listTablesQuery = `SELECT table_name FROM information_schema.tables WHERE table_schema = current_schema()`

// Store is a core.Store backed by a database. Only registry tables that
// exist in the current schema are backed; the rest report
// core.ErrNoBackingModel.
type Store struct {
	db     *sql.DB
	tables map[string]*Table
	clock  func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the time source for auto-managed timestamps.
func WithClock(fn func() time.Time) Option {
	return func(s *Store) { s.clock = fn }
}

// FromPool wraps a pgx pool. Closing the returned *sql.DB does not close
// the pool.
func FromPool(pool *pgxpool.Pool) *sql.DB {
	return stdlib.OpenDBFromPool(pool)
}

// New discovers which registry tables exist and returns a store for them.
func New(ctx context.Context, db *sql.DB, reg *core.Registry, opts ...Option) (*Store, error) {
	rows, err := db.QueryContext(ctx, listTablesQuery)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer rows.Close()

	present := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("list tables: %w", err)
		}
		present[name] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}

	s := &Store{db: db, tables: make(map[string]*Table), clock: time.Now}
	for _, opt := range opts {
		opt(s)
	}

	for _, name := range reg.ListTables() {
		if !present[name] {
			slog.Debug("registry table has no database table", "table", name)
			continue
		}
		schema, _ := reg.DescribeTable(name)
		s.tables[name] = newTable(s, schema)
	}
	return s, nil
}

// Table implements core.Store.
func (s *Store) Table(name string) (core.TableStore, error) {
	t, ok := s.tables[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrNoBackingModel, name)
	}
	return t, nil
}

// Backed lists the tables that have a database table, sorted by name.
func (s *Store) Backed() []string {
	out := make([]string, 0, len(s.tables))
	for name := range s.tables {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Table runs queries for one registry table.
type Table struct {
	store     *Store
	schema    core.TableSchema
	pk        string
	ident     string
	columns   []string // field names in schema order
	selectSQL string
	orderBy   string
	createdAt string
	updatedAt string
}

func newTable(s *Store, schema core.TableSchema) *Table {
	t := &Table{
		store:  s,
		schema: schema,
		pk:     schema.PrimaryKey(),
		ident:  pgx.Identifier{schema.Name}.Sanitize(),
	}

	cols := make([]string, 0, len(schema.Fields))
	for _, f := range schema.Fields {
		t.columns = append(t.columns, f.Name)
		cols = append(cols, column(f.Name))
		if f.AutoManaged && f.Type == core.TypeTimestamp {
			switch {
			case strings.Contains(strings.ToLower(f.Name), "created"):
				t.createdAt = f.Name
			case strings.Contains(strings.ToLower(f.Name), "updated"):
				t.updatedAt = f.Name
			}
		}
	}
	t.selectSQL = strings.Join(cols, ", ")

	t.orderBy = column(t.pk)
	if t.createdAt != "" {
		t.orderBy = column(t.createdAt) + ", " + t.orderBy
	}
	return t
}

// FindByPrimaryKey implements core.TableStore.
func (t *Table) FindByPrimaryKey(ctx context.Context, id string) (core.Record, bool, error) {
	return t.findOne(ctx, core.Filter{t.pk: id})
}

// FindByUniqueField implements core.TableStore.
func (t *Table) FindByUniqueField(ctx context.Context, field string, value any) (core.Record, bool, error) {
	return t.findOne(ctx, core.Filter{field: value})
}

// FindByCompositeKey implements core.TableStore. The oldest match wins.
func (t *Table) FindByCompositeKey(ctx context.Context, key core.Filter) (core.Record, bool, error) {
	return t.findOne(ctx, key)
}

func (t *Table) findOne(ctx context.Context, filter core.Filter) (core.Record, bool, error) {
	where, args, err := t.where(filter)
	if err != nil {
		return nil, false, err
	}
	query := fmt.Sprintf("SELECT %s FROM %s%s ORDER BY %s LIMIT 1", t.selectSQL, t.ident, where, t.orderBy)

	rows, err := t.store.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, false, fmt.Errorf("%s: find: %w", t.schema.Name, err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, false, rows.Err()
	}
	rec, err := t.scan(rows)
	if err != nil {
		return nil, false, err
	}
	return rec, true, rows.Err()
}

// Create implements core.TableStore.
func (t *Table) Create(ctx context.Context, rec core.Record) (core.Record, error) {
	if id, _ := rec[t.pk].(string); id == "" {
		return nil, fmt.Errorf("%s: %s is required", t.schema.Name, t.pk)
	}

	now := t.store.clock().UTC()
	var cols, marks []string
	var args []any
	for _, f := range t.schema.Fields {
		v, ok := rec[f.Name]
		if f.AutoManaged && f.Type == core.TypeTimestamp {
			v, ok = now, true
		}
		if !ok {
			continue
		}
		arg, err := encode(f, v)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", t.schema.Name, f.Name, err)
		}
		cols = append(cols, column(f.Name))
		args = append(args, arg)
		marks = append(marks, "$"+strconv.Itoa(len(args)))
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING %s",
		t.ident, strings.Join(cols, ", "), strings.Join(marks, ", "), t.selectSQL)
	return t.returning(ctx, query, args, "create")
}

// Update implements core.TableStore. The primary key cannot be changed.
func (t *Table) Update(ctx context.Context, id string, changes core.Record) (core.Record, error) {
	var sets []string
	var args []any
	for _, f := range t.schema.Fields {
		if f.PrimaryKey || f.Name == t.createdAt {
			continue
		}
		v, ok := changes[f.Name]
		if f.Name == t.updatedAt {
			v, ok = t.store.clock().UTC(), true
		}
		if !ok {
			continue
		}
		arg, err := encode(f, v)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", t.schema.Name, f.Name, err)
		}
		args = append(args, arg)
		sets = append(sets, column(f.Name)+" = $"+strconv.Itoa(len(args)))
	}

	if len(sets) == 0 {
		rec, found, err := t.FindByPrimaryKey(ctx, id)
		if err == nil && !found {
			err = fmt.Errorf("%s %s: not found", t.schema.Name, id)
		}
		return rec, err
	}

	args = append(args, id)
	query := fmt.Sprintf("UPDATE %s SET %s WHERE %s = $%d RETURNING %s",
		t.ident, strings.Join(sets, ", "), column(t.pk), len(args), t.selectSQL)
	rec, err := t.returning(ctx, query, args, "update")
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s %s: not found", t.schema.Name, id)
	}
	return rec, err
}

// Count implements core.TableStore.
func (t *Table) Count(ctx context.Context, filter core.Filter) (int64, error) {
	where, args, err := t.where(filter)
	if err != nil {
		return 0, err
	}
	var n int64
	query := fmt.Sprintf("SELECT count(*) FROM %s%s", t.ident, where)
	if err := t.store.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("%s: count: %w", t.schema.Name, err)
	}
	return n, nil
}

// Delete implements core.TableStore.
func (t *Table) Delete(ctx context.Context, id string) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE %s = $1", t.ident, column(t.pk))
	res, err := t.store.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("%s: delete: %w", t.schema.Name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: delete: %w", t.schema.Name, err)
	}
	if n == 0 {
		return fmt.Errorf("%s %s: not found", t.schema.Name, id)
	}
	return nil
}

// ListAll implements core.TableStore.
func (t *Table) ListAll(ctx context.Context) ([]core.Record, error) {
	query := fmt.Sprintf("SELECT %s FROM %s ORDER BY %s", t.selectSQL, t.ident, t.orderBy)
	rows, err := t.store.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%s: list: %w", t.schema.Name, err)
	}
	defer rows.Close()

	var out []core.Record
	for rows.Next() {
		rec, err := t.scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (t *Table) returning(ctx context.Context, query string, args []any, op string) (core.Record, error) {
	rows, err := t.store.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %s: %w", t.schema.Name, op, err)
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("%s: %s: %w", t.schema.Name, op, err)
		}
		return nil, sql.ErrNoRows
	}
	return t.scan(rows)
}

// where builds a WHERE clause with fields in sorted order so the same
// filter always produces the same query.
func (t *Table) where(filter core.Filter) (string, []any, error) {
	if len(filter) == 0 {
		return "", nil, nil
	}
	fields := make([]string, 0, len(filter))
	for name := range filter {
		if _, ok := t.schema.Field(name); !ok {
			return "", nil, fmt.Errorf("%s: unknown field %q", t.schema.Name, name)
		}
		fields = append(fields, name)
	}
	sort.Strings(fields)

	var conds []string
	var args []any
	for _, name := range fields {
		f, _ := t.schema.Field(name)
		v := filter[name]
		if v == nil {
			conds = append(conds, column(name)+" IS NULL")
			continue
		}
		arg, err := encode(f, v)
		if err != nil {
			return "", nil, fmt.Errorf("%s.%s: %w", t.schema.Name, name, err)
		}
		args = append(args, arg)
		conds = append(conds, column(name)+" = $"+strconv.Itoa(len(args)))
	}
	return " WHERE " + strings.Join(conds, " AND "), args, nil
}

func (t *Table) scan(rows *sql.Rows) (core.Record, error) {
	raw := make([]any, len(t.columns))
	ptrs := make([]any, len(t.columns))
	for i := range raw {
		ptrs[i] = &raw[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, fmt.Errorf("%s: scan: %w", t.schema.Name, err)
	}

	rec := make(core.Record, len(t.columns))
	for i, name := range t.columns {
		f, _ := t.schema.Field(name)
		v, err := decode(f, raw[i])
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", t.schema.Name, name, err)
		}
		rec[name] = v
	}
	return rec, nil
}

// column returns the quoted snake_case column for a field name.
func column(field string) string {
	return pgx.Identifier{snakeCase(field)}.Sanitize()
}

func snakeCase(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 4)
	for i, r := range s {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteByte('_')
			}
			r = unicode.ToLower(r)
		}
		b.WriteRune(r)
	}
	return b.String()
}

// encode converts a record value into a query argument.
func encode(f core.FieldSpec, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch f.Type {
	case core.TypeStringSet, core.TypeEnumSet, core.TypeJSON:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		return string(b), nil
	}
	return v, nil
}

// decode converts a scanned column into the value the engine expects for
// the field's type.
func decode(f core.FieldSpec, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	if b, ok := v.([]byte); ok {
		if f.PrimaryKey || f.ForeignKey {
			if len(b) == 16 {
				id, err := uuid.FromBytes(b)
				if err != nil {
					return nil, err
				}
				return id.String(), nil
			}
		}
		v = string(b)
	}

	switch f.Type {
	case core.TypeStringSet, core.TypeEnumSet:
		s, ok := v.(string)
		if !ok {
			return v, nil
		}
		out := []string{}
		if err := json.Unmarshal([]byte(s), &out); err != nil {
			return nil, err
		}
		return out, nil
	case core.TypeJSON:
		s, ok := v.(string)
		if !ok {
			return v, nil
		}
		var out any
		if err := json.Unmarshal([]byte(s), &out); err != nil {
			return nil, err
		}
		return out, nil
	case core.TypeInteger:
		switch n := v.(type) {
		case int64:
			return n, nil
		case int32:
			return int64(n), nil
		case string:
			return strconv.ParseInt(n, 10, 64)
		}
	case core.TypeDecimal:
		switch n := v.(type) {
		case float64:
			return n, nil
		case int64:
			return float64(n), nil
		case string:
			return strconv.ParseFloat(n, 64)
		}
	case core.TypeTimestamp:
		if ts, ok := v.(time.Time); ok {
			return ts.UTC(), nil
		}
	}
	return v, nil
}
