// Package sweep runs scheduled discovery passes over reference facets as a
// Temporal workflow. A sweep only ever records suggestions; promotion stays
// a moderator action.
package sweep

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/sells-group/refdata/internal/refdata"
)

// Registered names. Workers and starters must agree on these.
const (
	WorkflowName            = "refdata.DiscoverySweep"
	ActivityListFacets      = "refdata.ListReferenceFacets"
	ActivityDiscover        = "refdata.Discover"
	ActivitySaveSuggestions = "refdata.SaveSuggestions"
)

// Params selects the facets to sweep. An empty Facets list sweeps every
// facet with reference data.
type Params struct {
	Facets  []string `json:"facets,omitempty"`
	Persist bool     `json:"persist"`
}

// FacetReport is the outcome of sweeping one facet.
type FacetReport struct {
	Facet       string              `json:"facet"`
	Scanned     int                 `json:"scanned"`
	Resolved    int                 `json:"resolved"`
	Unmapped    int                 `json:"unmapped"`
	Suggestions int                 `json:"suggestions"`
	Degraded    string              `json:"degraded,omitempty"`
	Saved       *refdata.SaveResult `json:"saved,omitempty"`
	Error       string              `json:"error,omitempty"`
}

// Report collects the per-facet outcomes of one sweep.
type Report struct {
	Facets []FacetReport `json:"facets"`
}

// Failed counts facets whose discovery or save failed.
func (r *Report) Failed() int {
	n := 0
	for _, f := range r.Facets {
		if f.Error != "" {
			n++
		}
	}
	return n
}

// DiscoverySweepWorkflow discovers every requested facet in parallel and,
// when p.Persist is set, saves the resulting groups as suggested values. A
// facet that fails is reported without failing the sweep.
func DiscoverySweepWorkflow(ctx workflow.Context, p Params) (*Report, error) {
	log := workflow.GetLogger(ctx)

	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 10 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    5 * time.Second,
			BackoffCoefficient: 2,
			MaximumInterval:    time.Minute,
			MaximumAttempts:    3,
			NonRetryableErrorTypes: []string{
				"NotFound", "ValidationError", "InvalidState",
				"DuplicateCanonicalValue", "DuplicateAlias",
			},
		},
	})

	facets := p.Facets
	if len(facets) == 0 {
		if err := workflow.ExecuteActivity(ctx, ActivityListFacets).Get(ctx, &facets); err != nil {
			return nil, err
		}
	}

	futures := make([]workflow.Future, len(facets))
	for i, facet := range facets {
		futures[i] = workflow.ExecuteActivity(ctx, ActivityDiscover, facet)
	}

	report := &Report{Facets: make([]FacetReport, len(facets))}
	for i, facet := range facets {
		fr := FacetReport{Facet: facet}
		var res refdata.DiscoveryResult
		if err := futures[i].Get(ctx, &res); err != nil {
			log.Warn("sweep: discovery failed", "facet", facet, "error", err)
			fr.Error = err.Error()
			report.Facets[i] = fr
			continue
		}
		fr.Scanned = res.ScannedValues
		fr.Resolved = res.ResolvedValues
		fr.Unmapped = len(res.UnmappedValues)
		fr.Suggestions = len(res.Suggestions)
		fr.Degraded = res.Error

		if p.Persist && len(res.Suggestions) > 0 {
			var saved refdata.SaveResult
			err := workflow.ExecuteActivity(ctx, ActivitySaveSuggestions, facet, res.Suggestions).Get(ctx, &saved)
			if err != nil {
				log.Warn("sweep: save suggestions failed", "facet", facet, "error", err)
				fr.Error = err.Error()
			} else {
				fr.Saved = &saved
			}
		}
		report.Facets[i] = fr
	}

	log.Info("sweep: complete", "facets", len(facets), "failed", report.Failed())
	return report, nil
}
