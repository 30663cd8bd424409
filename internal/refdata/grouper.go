package refdata

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/refdata/internal/resilience"
)

// SuggestionProvider clusters unmapped raw values into candidate canonical
// groups. Implementations may be deterministic heuristics or language models.
type SuggestionProvider interface {
	Name() string
	Cluster(ctx context.Context, dataType DataType, values []ValueCount) ([]Group, error)
}

// GroupResult is the output of the Candidate Grouper. Error is set when the
// grouper degraded to the identity mapping.
type GroupResult struct {
	Groups []Group `json:"groups"`
	Error  string  `json:"error,omitempty"`
}

// Degraded reports whether the result is the identity fallback.
func (r GroupResult) Degraded() bool {
	return r.Error != ""
}

// DefaultGroupTimeout bounds a single provider call.
const DefaultGroupTimeout = 45 * time.Second

// Grouper delegates clustering to an optional provider and degrades to the
// identity mapping when the provider is absent, failing, slow or tripped.
type Grouper struct {
	provider SuggestionProvider
	timeout  time.Duration
	breaker  *resilience.CircuitBreaker
}

// NewGrouper creates a grouper. A nil provider selects the no-LLM mode.
func NewGrouper(provider SuggestionProvider, timeout time.Duration, breaker resilience.CircuitBreakerConfig) *Grouper {
	if timeout <= 0 {
		timeout = DefaultGroupTimeout
	}
	g := &Grouper{provider: provider, timeout: timeout}
	if provider != nil {
		name := provider.Name()
		cfg := breaker
		cfg.OnStateChange = func(from, to resilience.CircuitState) {
			zap.L().Warn("grouper: provider circuit changed",
				zap.String("provider", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		}
		g.breaker = resilience.NewCircuitBreaker(cfg)
	}
	return g
}

// Provider returns the configured provider name, or "" in no-LLM mode.
func (g *Grouper) Provider() string {
	if g == nil || g.provider == nil {
		return ""
	}
	return g.provider.Name()
}

// Group clusters values into candidate groups. It never returns an error:
// provider failures are reported in GroupResult.Error alongside the identity
// mapping.
func (g *Grouper) Group(ctx context.Context, dataType DataType, values []ValueCount) GroupResult {
	if len(values) == 0 {
		return GroupResult{Groups: []Group{}}
	}
	if g == nil || g.provider == nil {
		return GroupResult{Groups: identityGroups(values), Error: "no suggestion provider configured; map values manually"}
	}

	log := zap.L().With(zap.String("component", "refdata.grouper"), zap.String("provider", g.provider.Name()))

	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	groups, err := resilience.ExecuteVal(callCtx, g.breaker, func(ctx context.Context) ([]Group, error) {
		return g.provider.Cluster(ctx, dataType, values)
	})
	if err != nil {
		reason := describeProviderFailure(g.provider.Name(), err, g.timeout)
		log.Warn("grouper: degrading to identity mapping", zap.Int("values", len(values)), zap.Error(err))
		return GroupResult{Groups: identityGroups(values), Error: reason}
	}

	cleaned := sanitizeGroups(groups, values)
	log.Debug("grouper: clustered values",
		zap.Int("values", len(values)),
		zap.Int("groups", len(cleaned)),
	)
	return GroupResult{Groups: cleaned}
}

func describeProviderFailure(name string, err error, timeout time.Duration) string {
	switch {
	case errors.Is(err, resilience.ErrCircuitOpen):
		return fmt.Sprintf("suggestion provider %s unavailable (circuit open); map values manually", name)
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Sprintf("suggestion provider %s timed out after %s; map values manually", name, timeout)
	default:
		return fmt.Sprintf("suggestion provider %s failed: %v; map values manually", name, Upstream(name, err))
	}
}

// identityGroups maps every value to its own group with no aliases and no
// confidence.
func identityGroups(values []ValueCount) []Group {
	groups := make([]Group, len(values))
	for i, v := range values {
		groups[i] = Group{CanonicalValue: v.Value, Aliases: []string{}}
	}
	return groups
}

// sanitizeGroups trims provider output: empty canonicals are dropped, aliases
// must be input values, each raw value lands in at most one group, and the
// result is ordered by covered document count then canonical text.
func sanitizeGroups(groups []Group, values []ValueCount) []Group {
	inputs := make(map[string]ValueCount, len(values))
	for _, v := range values {
		key := Normalize(v.Value)
		if prev, ok := inputs[key]; ok {
			v.Count += prev.Count
			v.Value = prev.Value
		}
		inputs[key] = v
	}

	claimed := make(map[string]bool)
	type scored struct {
		group Group
		count int64
		key   string
	}
	var out []scored
	for _, g := range groups {
		canonical := strings.TrimSpace(g.CanonicalValue)
		key := Normalize(canonical)
		if key == "" || claimed[key] {
			continue
		}
		claimed[key] = true

		s := scored{key: key, group: Group{
			CanonicalValue: canonical,
			DisplayLabel:   strings.TrimSpace(g.DisplayLabel),
			Aliases:        []string{},
			Confidence:     clampConfidence(g.Confidence),
		}}
		if in, ok := inputs[key]; ok {
			s.count += in.Count
		}
		for _, a := range g.Aliases {
			ak := Normalize(a)
			in, ok := inputs[ak]
			if !ok || claimed[ak] {
				continue
			}
			claimed[ak] = true
			s.group.Aliases = append(s.group.Aliases, in.Value)
			s.count += in.Count
		}
		out = append(out, s)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].count != out[j].count {
			return out[i].count > out[j].count
		}
		return out[i].key < out[j].key
	})

	result := make([]Group, len(out))
	for i, s := range out {
		result[i] = s.group
	}
	return result
}

func clampConfidence(c *float64) *float64 {
	if c == nil || math.IsNaN(*c) {
		return nil
	}
	return Float(math.Max(0, math.Min(1, *c)))
}

// coveredKeys returns the normalized texts a set of groups accounts for.
func coveredKeys(groups []Group) map[string]bool {
	keys := make(map[string]bool)
	for _, g := range groups {
		keys[Normalize(g.CanonicalValue)] = true
		for _, a := range g.Aliases {
			keys[Normalize(a)] = true
		}
	}
	return keys
}
