package refdata

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Normalize is the single matching rule used for aliases and canonical
// values: NFKC composition, Unicode case folding and whitespace collapsing.
func Normalize(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	// A Caser is stateful and not safe for concurrent use.
	s = cases.Fold().String(norm.NFKC.String(s))
	return strings.Join(strings.Fields(s), " ")
}

// lockKey scopes a per-text lock to one facet.
func lockKey(facet, normalized string) string {
	return facet + "\x00" + normalized
}
