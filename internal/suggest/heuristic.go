package suggest

import (
	"context"
	"sort"
	"strings"
	"unicode"

	"github.com/sells-group/refdata/internal/refdata"
)

// DefaultSimilarityThreshold is the minimum pair similarity that joins two
// values into one cluster.
const DefaultSimilarityThreshold = 0.72

// Similarity scores for exact structural matches.
const (
	compactMatchScore = 1.0
	acronymMatchScore = 0.9
)

var stopwords = map[string]bool{
	"a": true, "an": true, "and": true, "for": true, "in": true,
	"of": true, "on": true, "the": true, "to": true, "&": true,
}

// Heuristic clusters values with deterministic string similarity: exact
// matches after stripping punctuation, acronyms of multi-word values and
// character trigram overlap. Output depends only on the input set.
type Heuristic struct {
	threshold float64
	maxValues int
}

// NewHeuristic creates a heuristic provider. A threshold outside (0,1]
// selects DefaultSimilarityThreshold; maxValues <= 0 disables the cap.
func NewHeuristic(threshold float64, maxValues int) *Heuristic {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultSimilarityThreshold
	}
	return &Heuristic{threshold: threshold, maxValues: maxValues}
}

// Name implements refdata.SuggestionProvider.
func (h *Heuristic) Name() string { return "heuristic" }

type term struct {
	value    refdata.ValueCount
	compact  string
	words    []string
	initials string
	grams    map[string]bool
}

// Cluster implements refdata.SuggestionProvider.
func (h *Heuristic) Cluster(ctx context.Context, dataType refdata.DataType, values []refdata.ValueCount) ([]refdata.Group, error) {
	values = capValues(values, h.maxValues)
	terms := make([]term, 0, len(values))
	for _, v := range values {
		terms = append(terms, newTerm(v))
	}
	sort.SliceStable(terms, func(i, j int) bool {
		if terms[i].compact != terms[j].compact {
			return terms[i].compact < terms[j].compact
		}
		return terms[i].value.Value < terms[j].value.Value
	})

	uf := newUnionFind(len(terms))
	for i := range terms {
		if i%64 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		for j := i + 1; j < len(terms); j++ {
			score := h.similarity(dataType, &terms[i], &terms[j])
			if score >= h.threshold {
				uf.union(i, j, score)
			}
		}
	}

	clusters := make(map[int][]int)
	var roots []int
	for i := range terms {
		r := uf.find(i)
		if _, ok := clusters[r]; !ok {
			roots = append(roots, r)
		}
		clusters[r] = append(clusters[r], i)
	}

	groups := make([]refdata.Group, 0, len(roots))
	for _, r := range roots {
		members := clusters[r]
		sort.SliceStable(members, func(a, b int) bool {
			ta, tb := terms[members[a]], terms[members[b]]
			if ta.value.Count != tb.value.Count {
				return ta.value.Count > tb.value.Count
			}
			if len(ta.words) != len(tb.words) {
				return len(ta.words) > len(tb.words)
			}
			return ta.value.Value < tb.value.Value
		})
		g := refdata.Group{CanonicalValue: terms[members[0]].value.Value, Aliases: []string{}}
		for _, m := range members[1:] {
			g.Aliases = append(g.Aliases, terms[m].value.Value)
		}
		if len(members) > 1 {
			g.Confidence = refdata.Float(uf.weakest[r])
		}
		groups = append(groups, g)
	}
	return groups, nil
}

// similarity scores a pair in [0,1]. Non-string facets only merge values
// that are equal once punctuation is stripped.
func (h *Heuristic) similarity(dataType refdata.DataType, a, b *term) float64 {
	if a.compact == "" || b.compact == "" {
		return 0
	}
	if a.compact == b.compact {
		return compactMatchScore
	}
	if dataType != refdata.DataTypeString {
		return 0
	}
	if isAcronymOf(a, b) || isAcronymOf(b, a) {
		return acronymMatchScore
	}
	return dice(a.grams, b.grams)
}

func newTerm(v refdata.ValueCount) term {
	norm := refdata.Normalize(v.Value)
	var words []string
	var b strings.Builder
	for _, field := range strings.FieldsFunc(norm, func(r rune) bool {
		return unicode.IsSpace(r) || r == '-' || r == '/' || r == ',' || r == '_'
	}) {
		w := strings.Map(func(r rune) rune {
			if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '&' {
				return r
			}
			return -1
		}, field)
		if w == "" {
			continue
		}
		words = append(words, w)
		if w != "&" {
			b.WriteString(w)
		}
	}

	var initials strings.Builder
	for _, w := range words {
		if stopwords[w] {
			continue
		}
		r := []rune(w)
		initials.WriteRune(r[0])
	}

	compact := b.String()
	return term{
		value:    v,
		compact:  compact,
		words:    words,
		initials: initials.String(),
		grams:    trigrams(strings.Join(words, " ")),
	}
}

// isAcronymOf reports whether short is a single token spelling the initials
// of the significant words of long.
func isAcronymOf(short, long *term) bool {
	if len(short.words) != 1 || len([]rune(short.compact)) < 2 {
		return false
	}
	if len(long.words) < 2 {
		return false
	}
	return short.compact == long.initials
}

func trigrams(s string) map[string]bool {
	r := []rune(" " + s + " ")
	grams := make(map[string]bool, len(r))
	for i := 0; i+3 <= len(r); i++ {
		grams[string(r[i:i+3])] = true
	}
	return grams
}

// dice returns the Sørensen–Dice coefficient of two trigram sets.
func dice(a, b map[string]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	shared := 0
	for g := range a {
		if b[g] {
			shared++
		}
	}
	return 2 * float64(shared) / float64(len(a)+len(b))
}

// unionFind tracks clusters and the weakest link that joined each one.
type unionFind struct {
	parent  []int
	weakest []float64
}

func newUnionFind(n int) *unionFind {
	uf := &unionFind{parent: make([]int, n), weakest: make([]float64, n)}
	for i := range uf.parent {
		uf.parent[i] = i
		uf.weakest[i] = 1
	}
	return uf
}

func (uf *unionFind) find(i int) int {
	for uf.parent[i] != i {
		uf.parent[i] = uf.parent[uf.parent[i]]
		i = uf.parent[i]
	}
	return i
}

// union joins the clusters of i and j. The lower index stays root so roots
// follow input order.
func (uf *unionFind) union(i, j int, score float64) {
	ri, rj := uf.find(i), uf.find(j)
	if ri == rj {
		return
	}
	if rj < ri {
		ri, rj = rj, ri
	}
	uf.parent[rj] = ri
	uf.weakest[ri] = minFloat(minFloat(uf.weakest[ri], uf.weakest[rj]), score)
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

// capValues keeps the first limit values; callers pass them ordered by
// descending count.
func capValues(values []refdata.ValueCount, limit int) []refdata.ValueCount {
	if limit > 0 && len(values) > limit {
		return values[:limit]
	}
	return values
}
