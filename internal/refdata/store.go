package refdata

import (
	"context"
	"time"
)

// Queries is the statement surface of the Vocabulary Store. Implementations
// translate backend uniqueness violations into ErrDuplicateCanonicalValue and
// ErrDuplicateAlias, and missing rows into ErrNotFound where noted.
type Queries interface {
	// Catalog
	GetFacet(ctx context.Context, name string) (*Facet, error) // ErrNotFound
	ListFacets(ctx context.Context) ([]Facet, error)
	ListMappings(ctx context.Context, facet string) ([]FacetMapping, error)
	ListFields(ctx context.Context) ([]Field, error)
	UpsertField(ctx context.Context, f Field) error
	UpsertFacet(ctx context.Context, f Facet) error
	ReplaceMappings(ctx context.Context, facet string, mappings []FacetMapping) error

	// Reference values. ListValues orders by created_at, id.
	ListValues(ctx context.Context, facet string, statuses ...Status) ([]ReferenceValue, error)
	GetValue(ctx context.Context, facet, id string) (*ReferenceValue, error) // ErrNotFound; row-locked inside a transaction
	FindValuesByNormalized(ctx context.Context, facet, normalized string, statuses ...Status) ([]ReferenceValue, error)
	InsertValue(ctx context.Context, v *ReferenceValue) error
	UpdateValueStatus(ctx context.Context, id string, status Status, promotedAt *time.Time) error
	DeleteValue(ctx context.Context, id string) error
	DeleteFacetValues(ctx context.Context, facet string) (int64, error)
	SeedValues(ctx context.Context, values []ReferenceValue) (int64, error)

	// Aliases. Only non-retired aliases are listed or found.
	ListAliases(ctx context.Context, facet string) ([]Alias, error)
	ListValueAliases(ctx context.Context, valueID string) ([]Alias, error)
	FindAlias(ctx context.Context, facet, normalized string) (*Alias, error) // nil when absent
	InsertAlias(ctx context.Context, a *Alias) error
	DeleteAlias(ctx context.Context, valueID, aliasID string) (bool, error)
	ReparentAliases(ctx context.Context, fromValueID, toValueID string) (int64, error)
	RetireAliases(ctx context.Context, valueID string) (int64, error)
	SeedAliases(ctx context.Context, aliases []Alias) (int64, error)

	// Lock serializes transactions on key until the enclosing transaction ends.
	Lock(ctx context.Context, key string) error
}

// Store is the durable Vocabulary Store.
type Store interface {
	Queries
	// InTx runs fn in a single transaction, committing when fn returns nil.
	InTx(ctx context.Context, fn func(q Queries) error) error
	Close() error
}
