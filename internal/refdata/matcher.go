package refdata

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// AliasIndex maps normalized text to the reference value it resolves to.
// It is immutable once built and safe for concurrent reads.
type AliasIndex struct {
	facet   string
	entries map[string]*ReferenceValue
}

// Lookup resolves raw text against the index.
func (ix *AliasIndex) Lookup(raw string) *ReferenceValue {
	if ix == nil {
		return nil
	}
	return ix.entries[Normalize(raw)]
}

// Len returns the number of indexed keys.
func (ix *AliasIndex) Len() int {
	if ix == nil {
		return 0
	}
	return len(ix.entries)
}

// buildIndex indexes every non-deprecated value and alias of a facet.
// Insertion order gives precedence: active beats suggested, and a canonical
// value beats an alias with the same text.
func buildIndex(facet string, values []ReferenceValue, aliases []Alias) *AliasIndex {
	ix := &AliasIndex{facet: facet, entries: make(map[string]*ReferenceValue, len(values)+len(aliases))}

	byID := make(map[string]*ReferenceValue, len(values))
	for i := range values {
		byID[values[i].ID] = &values[i]
	}

	for _, status := range []Status{StatusSuggested, StatusActive} {
		for _, a := range aliases {
			v, ok := byID[a.ReferenceValueID]
			if !ok || v.Status != status || a.NormalizedValue == "" {
				continue
			}
			ix.entries[a.NormalizedValue] = v
		}
		for i := range values {
			v := &values[i]
			if v.Status != status || v.NormalizedValue == "" {
				continue
			}
			ix.entries[v.NormalizedValue] = v
		}
	}
	return ix
}

// Matcher answers membership questions against the known vocabulary using a
// per-facet in-memory index. Indexes are built lazily and dropped by
// Invalidate.
type Matcher struct {
	store Queries

	mu      sync.RWMutex
	indexes map[string]*AliasIndex
	gens    map[string]uint64
	epoch   uint64

	loads singleflight.Group
}

// indexLoadTimeout bounds one shared index load.
const indexLoadTimeout = 30 * time.Second

// NewMatcher creates a matcher reading from store.
func NewMatcher(store Queries) *Matcher {
	return &Matcher{
		store:   store,
		indexes: make(map[string]*AliasIndex),
		gens:    make(map[string]uint64),
	}
}

// Resolve returns the reference value raw resolves to, or nil.
func (m *Matcher) Resolve(ctx context.Context, facet, raw string) (*ReferenceValue, error) {
	if Normalize(raw) == "" {
		return nil, nil
	}
	ix, err := m.Index(ctx, facet)
	if err != nil {
		return nil, err
	}
	return ix.Lookup(raw), nil
}

// Index returns the current alias index of facet, loading it if needed.
func (m *Matcher) Index(ctx context.Context, facet string) (*AliasIndex, error) {
	m.mu.RLock()
	ix, ok := m.indexes[facet]
	gen, epoch := m.gens[facet], m.epoch
	m.mu.RUnlock()
	if ok {
		return ix, nil
	}

	// Loads started before an invalidation are not shared with callers
	// arriving after it.
	key := fmt.Sprintf("%s#%d#%d", facet, gen, epoch)
	ch := m.loads.DoChan(key, func() (any, error) {
		// A shared load outlives the caller that started it.
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), indexLoadTimeout)
		defer cancel()
		return m.load(loadCtx, facet, gen, epoch)
	})
	select {
	case <-ctx.Done():
		return nil, eris.Wrapf(ctx.Err(), "refdata: load index for %s", facet)
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*AliasIndex), nil
	}
}

func (m *Matcher) load(ctx context.Context, facet string, gen, epoch uint64) (*AliasIndex, error) {
	values, err := m.store.ListValues(ctx, facet, StatusActive, StatusSuggested)
	if err != nil {
		return nil, eris.Wrapf(err, "refdata: load values for %s", facet)
	}
	aliases, err := m.store.ListAliases(ctx, facet)
	if err != nil {
		return nil, eris.Wrapf(err, "refdata: load aliases for %s", facet)
	}
	ix := buildIndex(facet, values, aliases)

	// An invalidation that raced the load wins; the stale index is returned
	// to this caller only and not cached.
	m.mu.Lock()
	if m.gens[facet] == gen && m.epoch == epoch {
		m.indexes[facet] = ix
	}
	m.mu.Unlock()

	zap.L().Debug("matcher: index loaded",
		zap.String("facet", facet),
		zap.Int("values", len(values)),
		zap.Int("keys", ix.Len()),
	)
	return ix, nil
}

// Invalidate drops the cached index of facet, or every index when facet is empty.
func (m *Matcher) Invalidate(facet string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if facet == "" {
		m.epoch++
		m.indexes = make(map[string]*AliasIndex)
		return
	}
	m.gens[facet]++
	delete(m.indexes, facet)
}
