package refdata

import (
	"context"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// CreateRequest describes an operator-authored reference value.
type CreateRequest struct {
	CanonicalValue string   `json:"canonical_value"`
	DisplayLabel   string   `json:"display_label,omitempty"`
	Description    string   `json:"description,omitempty"`
	Aliases        []string `json:"aliases,omitempty"`
	SourceHint     string   `json:"source_hint,omitempty"`
}

// AliasOptions qualifies a new alias.
type AliasOptions struct {
	SourceHint  string      `json:"source_hint,omitempty"`
	MatchMethod MatchMethod `json:"match_method,omitempty"`
	Confidence  *float64    `json:"confidence,omitempty"`
}

// SaveResult summarizes persisting grouper output as suggestions.
type SaveResult struct {
	ValuesCreated  int `json:"values_created"`
	ValuesMerged   int `json:"values_merged"`
	AliasesCreated int `json:"aliases_created"`
	AliasesSkipped int `json:"aliases_skipped"`
}

// GetReferenceValues lists the active values of facet, plus suggested ones
// when includeSuggested is set, each with its aliases.
func (e *Engine) GetReferenceValues(ctx context.Context, facet string, includeSuggested bool) ([]ReferenceValue, error) {
	if _, err := e.referenceFacet(ctx, e.store, facet); err != nil {
		return nil, err
	}

	statuses := []Status{StatusActive}
	if includeSuggested {
		statuses = append(statuses, StatusSuggested)
	}
	values, err := e.store.ListValues(ctx, facet, statuses...)
	if err != nil {
		return nil, eris.Wrapf(err, "engine: list values for %s", facet)
	}
	aliases, err := e.store.ListAliases(ctx, facet)
	if err != nil {
		return nil, eris.Wrapf(err, "engine: list aliases for %s", facet)
	}
	attachAliases(values, aliases)
	return values, nil
}

// CreateReferenceValue creates an active value with optional manual aliases.
func (e *Engine) CreateReferenceValue(ctx context.Context, facet string, req CreateRequest) (*ReferenceValue, error) {
	canonical := strings.TrimSpace(req.CanonicalValue)
	normalized := Normalize(canonical)
	if normalized == "" {
		return nil, eris.Wrap(ErrValidation, "engine: canonical value is required")
	}

	var created *ReferenceValue
	err := e.store.InTx(ctx, func(q Queries) error {
		if _, err := e.referenceFacet(ctx, q, facet); err != nil {
			return err
		}
		if err := lockTexts(ctx, q, facet, normalized, normalizeAll(req.Aliases)...); err != nil {
			return err
		}

		dups, err := q.FindValuesByNormalized(ctx, facet, normalized, StatusActive, StatusSuggested)
		if err != nil {
			return err
		}
		if len(dups) > 0 {
			return eris.Wrapf(ErrDuplicateCanonicalValue, "engine: %q already exists in %s as %s", canonical, facet, dups[0].Status)
		}
		if owner, err := q.FindAlias(ctx, facet, normalized); err != nil {
			return err
		} else if owner != nil {
			return eris.Wrapf(ErrDuplicateAlias, "engine: %q already resolves to value %s", canonical, owner.ReferenceValueID)
		}

		v := &ReferenceValue{
			ID:              uuid.New().String(),
			FacetName:       facet,
			CanonicalValue:  canonical,
			NormalizedValue: normalized,
			DisplayLabel:    strings.TrimSpace(req.DisplayLabel),
			Description:     strings.TrimSpace(req.Description),
			Status:          StatusActive,
			CreatedAt:       e.now(),
		}
		if err := q.InsertValue(ctx, v); err != nil {
			return err
		}

		for _, text := range req.Aliases {
			a, err := e.addAliasTx(ctx, q, v, text, AliasOptions{SourceHint: req.SourceHint, MatchMethod: MatchManual})
			if err != nil {
				return err
			}
			if a != nil {
				v.Aliases = appendAlias(v.Aliases, *a)
			}
		}
		created = v
		return nil
	})
	if err != nil {
		return nil, eris.Wrapf(err, "engine: create reference value in %s", facet)
	}

	e.InvalidateCache(ctx, facet)
	zap.L().Info("engine: created reference value",
		zap.String("facet", facet),
		zap.String("id", created.ID),
		zap.String("canonical_value", created.CanonicalValue),
		zap.Int("aliases", len(created.Aliases)),
	)
	return created, nil
}

// AddAlias attaches aliasValue to a value of facet. Adding an alias that
// already resolves to the same value is a no-op returning the existing alias,
// or nil when aliasValue is the value's own canonical text.
func (e *Engine) AddAlias(ctx context.Context, facet, valueID, aliasValue string, opts AliasOptions) (*Alias, error) {
	if opts.MatchMethod == "" {
		opts.MatchMethod = MatchManual
	}
	if err := validateAliasOptions(opts); err != nil {
		return nil, err
	}

	var alias *Alias
	err := e.store.InTx(ctx, func(q Queries) error {
		if _, err := e.referenceFacet(ctx, q, facet); err != nil {
			return err
		}
		v, err := q.GetValue(ctx, facet, valueID)
		if err != nil {
			return err
		}
		if v.Status == StatusDeprecated {
			return eris.Wrapf(ErrInvalidState, "engine: value %s is deprecated", valueID)
		}
		alias, err = e.addAliasTx(ctx, q, v, aliasValue, opts)
		return err
	})
	if err != nil {
		return nil, eris.Wrapf(err, "engine: add alias to %s", valueID)
	}

	e.InvalidateCache(ctx, facet)
	return alias, nil
}

// addAliasTx inserts an alias for v inside a transaction. Conflicts with an
// alias or canonical text of another value fail with ErrDuplicateAlias. Text
// equal to v's canonical value already resolves to v and inserts nothing.
func (e *Engine) addAliasTx(ctx context.Context, q Queries, v *ReferenceValue, text string, opts AliasOptions) (*Alias, error) {
	text = strings.TrimSpace(text)
	normalized := Normalize(text)
	if normalized == "" {
		return nil, eris.Wrap(ErrValidation, "engine: alias value is required")
	}
	if normalized == v.NormalizedValue {
		return nil, nil
	}
	if err := q.Lock(ctx, lockKey(v.FacetName, normalized)); err != nil {
		return nil, err
	}

	existing, err := q.FindAlias(ctx, v.FacetName, normalized)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if existing.ReferenceValueID == v.ID {
			return existing, nil
		}
		return nil, eris.Wrapf(ErrDuplicateAlias, "engine: %q already resolves to value %s", text, existing.ReferenceValueID)
	}

	owners, err := q.FindValuesByNormalized(ctx, v.FacetName, normalized, StatusActive, StatusSuggested)
	if err != nil {
		return nil, err
	}
	for _, o := range owners {
		if o.ID != v.ID {
			return nil, eris.Wrapf(ErrDuplicateAlias, "engine: %q is the canonical value of %s", text, o.ID)
		}
	}

	a := &Alias{
		ID:               uuid.New().String(),
		ReferenceValueID: v.ID,
		FacetName:        v.FacetName,
		AliasValue:       text,
		NormalizedValue:  normalized,
		SourceHint:       strings.TrimSpace(opts.SourceHint),
		MatchMethod:      opts.MatchMethod,
		Confidence:       opts.Confidence,
		CreatedAt:        e.now(),
	}
	if err := q.InsertAlias(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// lockTexts takes the per-text locks of facet in sorted order, so a
// transaction claiming several texts cannot deadlock against another. Locks
// are re-entrant within a transaction.
func lockTexts(ctx context.Context, q Queries, facet, normalized string, more ...string) error {
	keys := make([]string, 0, len(more)+1)
	seen := make(map[string]bool, len(more)+1)
	for _, n := range append([]string{normalized}, more...) {
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		keys = append(keys, lockKey(facet, n))
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := q.Lock(ctx, k); err != nil {
			return err
		}
	}
	return nil
}

func normalizeAll(texts []string) []string {
	out := make([]string, 0, len(texts))
	for _, t := range texts {
		out = append(out, Normalize(t))
	}
	return out
}

// RemoveAlias deletes one alias of a value.
func (e *Engine) RemoveAlias(ctx context.Context, facet, valueID, aliasID string) error {
	err := e.store.InTx(ctx, func(q Queries) error {
		if _, err := e.referenceFacet(ctx, q, facet); err != nil {
			return err
		}
		if _, err := q.GetValue(ctx, facet, valueID); err != nil {
			return err
		}
		deleted, err := q.DeleteAlias(ctx, valueID, aliasID)
		if err != nil {
			return err
		}
		if !deleted {
			return eris.Wrapf(ErrNotFound, "engine: alias %s of value %s", aliasID, valueID)
		}
		return nil
	})
	if err != nil {
		return eris.Wrapf(err, "engine: remove alias %s", aliasID)
	}

	e.InvalidateCache(ctx, facet)
	return nil
}

// SaveSuggestions persists grouper output as suggested values whose aliases
// are llm_suggested. A group matching an existing suggestion folds into it.
// Aliases already claimed in the facet are skipped.
func (e *Engine) SaveSuggestions(ctx context.Context, facet string, groups []Group) (*SaveResult, error) {
	if _, err := e.referenceFacet(ctx, e.store, facet); err != nil {
		return nil, err
	}

	result := &SaveResult{}
	for _, g := range groups {
		canonical := strings.TrimSpace(g.CanonicalValue)
		normalized := Normalize(canonical)
		if normalized == "" {
			continue
		}

		var gr SaveResult
		err := e.store.InTx(ctx, func(q Queries) error {
			gr = SaveResult{}
			if err := lockTexts(ctx, q, facet, normalized, normalizeAll(g.Aliases)...); err != nil {
				return err
			}

			target, err := e.suggestionTarget(ctx, q, facet, normalized)
			if err != nil {
				return err
			}
			if target != nil {
				gr.ValuesMerged++
			} else {
				target = &ReferenceValue{
					ID:              uuid.New().String(),
					FacetName:       facet,
					CanonicalValue:  canonical,
					NormalizedValue: normalized,
					DisplayLabel:    strings.TrimSpace(g.DisplayLabel),
					Status:          StatusSuggested,
					CreatedAt:       e.now(),
				}
				if err := q.InsertValue(ctx, target); err != nil {
					return err
				}
				gr.ValuesCreated++
			}

			opts := AliasOptions{MatchMethod: MatchLLMSuggested, Confidence: clampConfidence(g.Confidence)}
			for _, text := range g.Aliases {
				if Normalize(text) == normalized {
					continue
				}
				before, err := q.FindAlias(ctx, facet, Normalize(text))
				if err != nil {
					return err
				}
				if before != nil {
					gr.AliasesSkipped++
					continue
				}
				if _, err := e.addAliasTx(ctx, q, target, text, opts); err != nil {
					if isDuplicate(err) {
						gr.AliasesSkipped++
						continue
					}
					return err
				}
				gr.AliasesCreated++
			}
			return nil
		})
		if err != nil {
			return result, eris.Wrapf(err, "engine: save suggestion %q", canonical)
		}
		result.ValuesCreated += gr.ValuesCreated
		result.ValuesMerged += gr.ValuesMerged
		result.AliasesCreated += gr.AliasesCreated
		result.AliasesSkipped += gr.AliasesSkipped
	}

	e.InvalidateCache(ctx, facet)
	zap.L().Info("engine: saved suggestions",
		zap.String("facet", facet),
		zap.Int("groups", len(groups)),
		zap.Int("values_created", result.ValuesCreated),
		zap.Int("values_merged", result.ValuesMerged),
		zap.Int("aliases_created", result.AliasesCreated),
		zap.Int("aliases_skipped", result.AliasesSkipped),
	)
	return result, nil
}

// suggestionTarget returns the oldest pending suggestion with the same text.
func (e *Engine) suggestionTarget(ctx context.Context, q Queries, facet, normalized string) (*ReferenceValue, error) {
	pending, err := q.FindValuesByNormalized(ctx, facet, normalized, StatusSuggested)
	if err != nil {
		return nil, err
	}
	if len(pending) == 0 {
		return nil, nil
	}
	return &pending[0], nil
}

func validateAliasOptions(opts AliasOptions) error {
	switch {
	case !opts.MatchMethod.Valid():
		return eris.Wrapf(ErrValidation, "engine: unknown match method %q", opts.MatchMethod)
	case opts.MatchMethod == MatchBaseline:
		return eris.Wrap(ErrValidation, "engine: baseline aliases are seeded by baseline import only")
	case opts.MatchMethod == MatchAutoMatched && opts.Confidence == nil:
		return eris.Wrap(ErrValidation, "engine: auto_matched aliases require a confidence")
	case !opts.MatchMethod.Scored() && opts.Confidence != nil:
		return eris.Wrapf(ErrValidation, "engine: %s aliases carry no confidence", opts.MatchMethod)
	case opts.Confidence != nil && (*opts.Confidence < 0 || *opts.Confidence > 1):
		return eris.Wrapf(ErrValidation, "engine: confidence %v outside [0,1]", *opts.Confidence)
	}
	return nil
}

func isDuplicate(err error) bool {
	k := Kind(err)
	return k == "DuplicateAlias" || k == "DuplicateCanonicalValue"
}

func attachAliases(values []ReferenceValue, aliases []Alias) {
	byValue := make(map[string][]Alias, len(values))
	for _, a := range aliases {
		byValue[a.ReferenceValueID] = append(byValue[a.ReferenceValueID], a)
	}
	for i := range values {
		values[i].Aliases = byValue[values[i].ID]
	}
}

func appendAlias(list []Alias, a Alias) []Alias {
	for _, existing := range list {
		if existing.ID == a.ID {
			return list
		}
	}
	return append(list, a)
}
