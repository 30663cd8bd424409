package sweep

import (
	"context"

	"github.com/rotisserie/eris"
	"go.temporal.io/sdk/temporal"
	"go.uber.org/zap"

	"github.com/sells-group/refdata/internal/refdata"
)

// Activities binds the sweep activities to an engine.
type Activities struct {
	Engine *refdata.Engine
}

// ListReferenceFacets returns the names of facets that carry reference data.
func (a *Activities) ListReferenceFacets(ctx context.Context) ([]string, error) {
	facets, err := a.Engine.ListFacets(ctx)
	if err != nil {
		return nil, classify(eris.Wrap(err, "sweep: list facets"))
	}
	names := make([]string, 0, len(facets))
	for _, f := range facets {
		if f.HasReferenceData {
			names = append(names, f.Name)
		}
	}
	return names, nil
}

// Discover runs one discovery pass over facet.
func (a *Activities) Discover(ctx context.Context, facet string) (*refdata.DiscoveryResult, error) {
	res, err := a.Engine.Discover(ctx, facet)
	if err != nil {
		return nil, classify(err)
	}
	return res, nil
}

// SaveSuggestions records groups as suggested values of facet.
func (a *Activities) SaveSuggestions(ctx context.Context, facet string, groups []refdata.Group) (*refdata.SaveResult, error) {
	res, err := a.Engine.SaveSuggestions(ctx, facet, groups)
	if err != nil {
		return nil, classify(err)
	}
	zap.L().Info("sweep: suggestions saved",
		zap.String("facet", facet),
		zap.Int("values_created", res.ValuesCreated),
		zap.Int("values_merged", res.ValuesMerged),
		zap.Int("aliases_created", res.AliasesCreated),
	)
	return res, nil
}

// classify tags err with its taxonomy kind so the retry policy can skip
// errors that a retry cannot fix.
func classify(err error) error {
	kind := refdata.Kind(err)
	if kind == "UpstreamUnavailable" || kind == "Internal" {
		return temporal.NewApplicationErrorWithCause(err.Error(), kind, err)
	}
	return temporal.NewNonRetryableApplicationError(err.Error(), kind, err)
}
