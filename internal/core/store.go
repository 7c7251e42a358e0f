package core

import (
	"context"
	"time"
)

// Filter is an equality filter: every field must equal its value.
type Filter map[string]any

// Store gives access to per-table storage. Table returns an error wrapping
// ErrNoBackingModel when the table has no backing representation.
type Store interface {
	Table(name string) (TableStore, error)
}

// TableStore is the generic per-table persistence interface the engine
// runs on. Implementations never see raw queries from the engine; records
// use field names as keys and the typed values produced by TransformRow.
//
// Find methods return found=false with a nil error when nothing matches.
type TableStore interface {
	FindByPrimaryKey(ctx context.Context, id string) (Record, bool, error)
	FindByUniqueField(ctx context.Context, field string, value any) (Record, bool, error)
	FindByCompositeKey(ctx context.Context, key Filter) (Record, bool, error)
	// Create persists rec, which carries its primary key, and returns the
	// stored record including auto-managed fields.
	Create(ctx context.Context, rec Record) (Record, error)
	// Update applies changes to the record with the given primary key.
	Update(ctx context.Context, id string, changes Record) (Record, error)
	Count(ctx context.Context, filter Filter) (int64, error)
	Delete(ctx context.Context, id string) error
	// ListAll returns every record ordered by creation time, oldest first.
	ListAll(ctx context.Context) ([]Record, error)
}

// Sequence hands out surrogate numbers. Next returns a value greater than
// both floor and every value previously returned for key.
type Sequence interface {
	Next(ctx context.Context, key string, floor int64) (int64, error)
}

// Clock returns the current time. Tests substitute a fixed clock.
type Clock func() time.Time
