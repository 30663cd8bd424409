package refdata

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/refdata/internal/resilience"
)

// Invalidator propagates cache invalidations to other engine replicas.
type Invalidator interface {
	PublishInvalidation(ctx context.Context, facet string) error
}

// Engine is the Facet Reference-Data Resolution Engine. It composes the
// Vocabulary Store, Alias Matcher, Discovery Scanner, Candidate Grouper and
// Moderation State Machine behind the operations consumed by transports.
type Engine struct {
	store   Store
	matcher *Matcher
	grouper *Grouper
	index   Index
	bus     Invalidator

	provider     SuggestionProvider
	groupTimeout time.Duration
	breaker      resilience.CircuitBreakerConfig

	scanTimeout time.Duration
	scanRetry   resilience.RetryConfig
	now         func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithIndex sets the external index scanned by discovery.
func WithIndex(ix Index) Option {
	return func(e *Engine) { e.index = ix }
}

// WithSuggestionProvider enables provider-backed grouping with a call timeout.
func WithSuggestionProvider(p SuggestionProvider, timeout time.Duration) Option {
	return func(e *Engine) {
		e.provider = p
		e.groupTimeout = timeout
	}
}

// WithProviderBreaker sets the circuit breaker guarding the suggestion provider.
func WithProviderBreaker(cfg resilience.CircuitBreakerConfig) Option {
	return func(e *Engine) { e.breaker = cfg }
}

// WithScanTimeout bounds a single index scan.
func WithScanTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.scanTimeout = d
		}
	}
}

// WithScanRetry sets the retry policy around index scans.
func WithScanRetry(cfg resilience.RetryConfig) Option {
	return func(e *Engine) { e.scanRetry = cfg }
}

// WithInvalidator publishes cache invalidations to other replicas.
func WithInvalidator(bus Invalidator) Option {
	return func(e *Engine) { e.bus = bus }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates an engine over store.
func NewEngine(store Store, opts ...Option) *Engine {
	e := &Engine{
		store:       store,
		matcher:     NewMatcher(store),
		breaker:     resilience.DefaultCircuitBreakerConfig(),
		scanTimeout: 2 * time.Minute,
		scanRetry:   resilience.DefaultRetryConfig(),
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	e.grouper = NewGrouper(e.provider, e.groupTimeout, e.breaker)
	return e
}

// Store exposes the underlying Vocabulary Store.
func (e *Engine) Store() Store {
	return e.store
}

// Grouper exposes the configured Candidate Grouper.
func (e *Engine) Grouper() *Grouper {
	return e.grouper
}

// InvalidateCache drops the matcher index for facet (all facets when empty)
// and broadcasts the invalidation when a bus is configured.
func (e *Engine) InvalidateCache(ctx context.Context, facet string) {
	e.matcher.Invalidate(facet)
	if e.bus == nil {
		return
	}
	if err := e.bus.PublishInvalidation(ctx, facet); err != nil {
		zap.L().Warn("engine: publish cache invalidation failed",
			zap.String("facet", facet),
			zap.Error(err),
		)
	}
}

// InvalidateLocal drops the local matcher index only. Bus subscribers call it.
func (e *Engine) InvalidateLocal(facet string) {
	e.matcher.Invalidate(facet)
}

// ListFacets returns the facets that carry reference data.
func (e *Engine) ListFacets(ctx context.Context) ([]Facet, error) {
	facets, err := e.store.ListFacets(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "engine: list facets")
	}
	out := make([]Facet, 0, len(facets))
	for _, f := range facets {
		if f.HasReferenceData {
			out = append(out, f)
		}
	}
	return out, nil
}

// Resolve maps a raw observed value to its canonical reference value, or nil.
func (e *Engine) Resolve(ctx context.Context, facet, raw string) (*ReferenceValue, error) {
	if _, err := e.referenceFacet(ctx, e.store, facet); err != nil {
		return nil, err
	}
	return e.matcher.Resolve(ctx, facet, raw)
}

// referenceFacet loads facet and checks it is in scope for the engine.
func (e *Engine) referenceFacet(ctx context.Context, q Queries, facet string) (*Facet, error) {
	if err := ValidateFacetName(facet); err != nil {
		return nil, err
	}
	f, err := q.GetFacet(ctx, facet)
	if err != nil {
		return nil, err
	}
	if !f.HasReferenceData {
		return nil, eris.Wrapf(ErrValidation, "engine: facet %s has no reference data", facet)
	}
	return f, nil
}
