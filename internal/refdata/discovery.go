package refdata

import (
	"context"
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/refdata/internal/resilience"
)

// Index is the external document index: it reports the distinct raw values
// found under jsonPaths of documents of contentTypes, with document counts.
type Index interface {
	ScanDistinctValues(ctx context.Context, contentTypes, jsonPaths []string) ([]ValueCount, error)
}

// Discover scans the index for raw values of facet that no alias resolves and
// proposes candidate groups for them. Discovery never writes to the store.
// Index failures are returned; grouping failures are reported in the result.
func (e *Engine) Discover(ctx context.Context, facet string) (*DiscoveryResult, error) {
	log := zap.L().With(zap.String("component", "refdata.discovery"), zap.String("facet", facet))

	f, err := e.referenceFacet(ctx, e.store, facet)
	if err != nil {
		return nil, err
	}
	if e.index == nil {
		return nil, eris.Wrap(Upstream("index", eris.New("no index configured")), "discovery: scan")
	}

	mappings, err := e.store.ListMappings(ctx, facet)
	if err != nil {
		return nil, eris.Wrapf(err, "discovery: list mappings for %s", facet)
	}

	result := &DiscoveryResult{Facet: facet, UnmappedValues: []ValueCount{}, Suggestions: []Group{}}
	if len(mappings) == 0 {
		log.Info("discovery: facet has no mappings")
		return result, nil
	}
	contentTypes, jsonPaths := splitMappings(mappings)

	raw, err := e.scan(ctx, contentTypes, jsonPaths)
	if err != nil {
		return nil, eris.Wrapf(err, "discovery: scan %s", facet)
	}

	ix, err := e.matcher.Index(ctx, facet)
	if err != nil {
		return nil, err
	}

	unmapped := make([]ValueCount, 0, len(raw))
	for _, vc := range raw {
		if Normalize(vc.Value) == "" {
			continue
		}
		result.ScannedValues++
		if ix.Lookup(vc.Value) != nil {
			result.ResolvedValues++
			continue
		}
		unmapped = append(unmapped, vc)
	}
	sortValueCounts(unmapped)
	result.UnmappedValues = unmapped

	if len(unmapped) > 0 {
		grouped := e.grouper.Group(ctx, f.DataType, unmapped)
		if grouped.Degraded() {
			result.Error = grouped.Error
		} else {
			result.Suggestions = grouped.Groups
			covered := coveredKeys(grouped.Groups)
			remaining := make([]ValueCount, 0)
			for _, vc := range unmapped {
				if !covered[Normalize(vc.Value)] {
					remaining = append(remaining, vc)
				}
			}
			result.UnmappedValues = remaining
		}
	}

	log.Info("discovery: complete",
		zap.Int("scanned", result.ScannedValues),
		zap.Int("resolved", result.ResolvedValues),
		zap.Int("unmapped", len(result.UnmappedValues)),
		zap.Int("suggestions", len(result.Suggestions)),
		zap.Bool("degraded", result.Error != ""),
	)
	return result, nil
}

// scan calls the index with a timeout and retries transient failures.
func (e *Engine) scan(ctx context.Context, contentTypes, jsonPaths []string) ([]ValueCount, error) {
	retry := e.scanRetry
	if retry.OnRetry == nil {
		retry.OnRetry = resilience.RetryLogger("index", "scan_distinct_values")
	}
	values, err := resilience.DoVal(ctx, retry, func(ctx context.Context) ([]ValueCount, error) {
		scanCtx, cancel := context.WithTimeout(ctx, e.scanTimeout)
		defer cancel()
		return e.index.ScanDistinctValues(scanCtx, contentTypes, jsonPaths)
	})
	if err != nil {
		return nil, Upstream("index", err)
	}
	return values, nil
}

// splitMappings returns the distinct content types and JSON paths in
// first-seen order.
func splitMappings(mappings []FacetMapping) ([]string, []string) {
	var types, paths []string
	seenT, seenP := make(map[string]bool), make(map[string]bool)
	for _, m := range mappings {
		if !seenT[m.ContentType] {
			seenT[m.ContentType] = true
			types = append(types, m.ContentType)
		}
		if !seenP[m.JSONPath] {
			seenP[m.JSONPath] = true
			paths = append(paths, m.JSONPath)
		}
	}
	return types, paths
}

// sortValueCounts orders by count descending, then normalized value, then raw
// value, so repeated passes over unchanged data agree.
func sortValueCounts(values []ValueCount) {
	sort.SliceStable(values, func(i, j int) bool {
		if values[i].Count != values[j].Count {
			return values[i].Count > values[j].Count
		}
		ni, nj := Normalize(values[i].Value), Normalize(values[j].Value)
		if ni != nj {
			return ni < nj
		}
		return values[i].Value < values[j].Value
	})
}
