package core

// RemapTable records, per table, which persisted id replaced an id supplied
// in the workbook. One table exists per import run; later sheets consult it
// to correct foreign keys that point at rows re-identified earlier in the
// run. It is not safe for concurrent use.
type RemapTable struct {
	byTable map[string]map[string]string
}

// NewRemapTable returns an empty remap table.
func NewRemapTable() *RemapTable {
	return &RemapTable{byTable: make(map[string]map[string]string)}
}

// Record notes that supplied now refers to persisted in table. Empty or
// unchanged ids are ignored.
func (t *RemapTable) Record(table, supplied, persisted string) {
	if supplied == "" || persisted == "" || supplied == persisted {
		return
	}
	m, ok := t.byTable[table]
	if !ok {
		m = make(map[string]string)
		t.byTable[table] = m
	}
	m[supplied] = persisted
}

// Resolve returns the persisted id recorded for supplied.
func (t *RemapTable) Resolve(table, supplied string) (string, bool) {
	id, ok := t.byTable[table][supplied]
	return id, ok
}

// Len returns the number of recorded entries across all tables.
func (t *RemapTable) Len() int {
	n := 0
	for _, m := range t.byTable {
		n += len(m)
	}
	return n
}

// apply rewrites the foreign key fields of rec whose referenced table has
// an entry for the supplied value. It returns the number of fields changed.
func (t *RemapTable) apply(schema *TableSchema, rec Record) int {
	changed := 0
	for _, rel := range schema.Relationships {
		supplied, ok := rec[rel.Field].(string)
		if !ok || supplied == "" {
			continue
		}
		if id, ok := t.Resolve(rel.Table, supplied); ok {
			rec[rel.Field] = id
			changed++
		}
	}
	return changed
}
