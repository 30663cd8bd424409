package refdata

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// PromoteResult describes the outcome of approving a suggestion.
type PromoteResult struct {
	Value        *ReferenceValue `json:"value"`
	Merged       bool            `json:"merged"`
	AliasesMoved int64           `json:"aliases_moved"`
}

// Approve promotes a suggested value to active. When an active value already
// claims the same text, the suggestion's aliases move to it and the
// suggestion is removed.
func (e *Engine) Approve(ctx context.Context, facet, valueID string) (*PromoteResult, error) {
	res, err := e.approveOnce(ctx, facet, valueID)
	// A concurrent promotion of the same text won the unique index; the
	// second attempt finds it and merges.
	if err != nil && errors.Is(err, ErrDuplicateCanonicalValue) {
		zap.L().Info("moderation: promotion raced, retrying as merge",
			zap.String("facet", facet),
			zap.String("id", valueID),
		)
		res, err = e.approveOnce(ctx, facet, valueID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "moderation: approve %s", valueID)
	}

	e.InvalidateCache(ctx, facet)
	zap.L().Info("moderation: approved suggestion",
		zap.String("facet", facet),
		zap.String("id", valueID),
		zap.String("result_id", res.Value.ID),
		zap.Bool("merged", res.Merged),
		zap.Int64("aliases_moved", res.AliasesMoved),
	)
	return res, nil
}

func (e *Engine) approveOnce(ctx context.Context, facet, valueID string) (*PromoteResult, error) {
	var res *PromoteResult
	err := e.store.InTx(ctx, func(q Queries) error {
		if _, err := e.referenceFacet(ctx, q, facet); err != nil {
			return err
		}
		v, err := q.GetValue(ctx, facet, valueID)
		if err != nil {
			return err
		}
		if v.Status != StatusSuggested {
			return eris.Wrapf(ErrInvalidState, "moderation: value %s is %s, not suggested", valueID, v.Status)
		}
		if err := q.Lock(ctx, lockKey(facet, v.NormalizedValue)); err != nil {
			return err
		}

		target, err := e.mergeTarget(ctx, q, v)
		if err != nil {
			return err
		}
		if target != nil {
			moved, err := q.ReparentAliases(ctx, v.ID, target.ID)
			if err != nil {
				return err
			}
			if err := q.DeleteValue(ctx, v.ID); err != nil {
				return err
			}
			if target.Aliases, err = q.ListValueAliases(ctx, target.ID); err != nil {
				return err
			}
			res = &PromoteResult{Value: target, Merged: true, AliasesMoved: moved}
			return nil
		}

		now := e.now()
		if err := q.UpdateValueStatus(ctx, v.ID, StatusActive, &now); err != nil {
			return err
		}
		v.Status = StatusActive
		v.PromotedAt = &now
		if v.Aliases, err = q.ListValueAliases(ctx, v.ID); err != nil {
			return err
		}
		res = &PromoteResult{Value: v}
		return nil
	})
	return res, err
}

// mergeTarget finds the active value a suggestion collides with: first by
// canonical text, then by an alias owned by an active value.
func (e *Engine) mergeTarget(ctx context.Context, q Queries, v *ReferenceValue) (*ReferenceValue, error) {
	active, err := q.FindValuesByNormalized(ctx, v.FacetName, v.NormalizedValue, StatusActive)
	if err != nil {
		return nil, err
	}
	for i := range active {
		if active[i].ID != v.ID {
			return &active[i], nil
		}
	}

	a, err := q.FindAlias(ctx, v.FacetName, v.NormalizedValue)
	if err != nil || a == nil || a.ReferenceValueID == v.ID {
		return nil, err
	}
	owner, err := q.GetValue(ctx, v.FacetName, a.ReferenceValueID)
	if err != nil {
		return nil, err
	}
	if owner.Status != StatusActive {
		return nil, nil
	}
	return owner, nil
}

// Reject deletes a suggested value and its aliases.
func (e *Engine) Reject(ctx context.Context, facet, valueID string) error {
	var aliases int
	err := e.store.InTx(ctx, func(q Queries) error {
		if _, err := e.referenceFacet(ctx, q, facet); err != nil {
			return err
		}
		v, err := q.GetValue(ctx, facet, valueID)
		if err != nil {
			return err
		}
		if v.Status != StatusSuggested {
			return eris.Wrapf(ErrInvalidState, "moderation: value %s is %s, not suggested", valueID, v.Status)
		}
		owned, err := q.ListValueAliases(ctx, v.ID)
		if err != nil {
			return err
		}
		for _, a := range owned {
			if _, err := q.DeleteAlias(ctx, v.ID, a.ID); err != nil {
				return err
			}
		}
		aliases = len(owned)
		return q.DeleteValue(ctx, v.ID)
	})
	if err != nil {
		return eris.Wrapf(err, "moderation: reject %s", valueID)
	}

	e.InvalidateCache(ctx, facet)
	zap.L().Info("moderation: rejected suggestion",
		zap.String("facet", facet),
		zap.String("id", valueID),
		zap.Int("aliases", aliases),
	)
	return nil
}

// Deactivate deprecates an active value and retires its aliases so they no
// longer resolve. Deactivating a deprecated value is a no-op.
func (e *Engine) Deactivate(ctx context.Context, facet, valueID string) error {
	var changed bool
	err := e.store.InTx(ctx, func(q Queries) error {
		if _, err := e.referenceFacet(ctx, q, facet); err != nil {
			return err
		}
		v, err := q.GetValue(ctx, facet, valueID)
		if err != nil {
			return err
		}
		switch v.Status {
		case StatusDeprecated:
			return nil
		case StatusSuggested:
			return eris.Wrapf(ErrInvalidState, "moderation: value %s is suggested; reject it instead", valueID)
		}
		if err := q.UpdateValueStatus(ctx, v.ID, StatusDeprecated, v.PromotedAt); err != nil {
			return err
		}
		if _, err := q.RetireAliases(ctx, v.ID); err != nil {
			return err
		}
		changed = true
		return nil
	})
	if err != nil {
		return eris.Wrapf(err, "moderation: deactivate %s", valueID)
	}
	if !changed {
		return nil
	}

	e.InvalidateCache(ctx, facet)
	zap.L().Info("moderation: deactivated value",
		zap.String("facet", facet),
		zap.String("id", valueID),
	)
	return nil
}
