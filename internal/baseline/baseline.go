// Package baseline exports the active vocabulary to a YAML baseline file and
// rebuilds a store from one. Import is destructive for every facet the file
// covers: it flushes and reseeds reference values and aliases.
package baseline

import (
	"context"
	"io"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/refdata/internal/refdata"
)

// FormatVersion is the baseline file version written by Export.
const FormatVersion = 1

// File is the on-disk baseline document.
type File struct {
	Version    int             `yaml:"version"`
	ExportedAt time.Time       `yaml:"exported_at"`
	Fields     []refdata.Field `yaml:"fields"`
	Facets     []FacetEntry    `yaml:"facets"`
}

// FacetEntry is one facet with its mappings and active vocabulary.
type FacetEntry struct {
	Name             string                 `yaml:"name"`
	DataType         refdata.DataType       `yaml:"data_type"`
	HasReferenceData bool                   `yaml:"has_reference_data"`
	Mappings         []refdata.FacetMapping `yaml:"mappings,omitempty"`
	Values           []ValueEntry           `yaml:"values,omitempty"`
}

// ValueEntry is an exported active reference value.
type ValueEntry struct {
	CanonicalValue string       `yaml:"canonical_value"`
	DisplayLabel   string       `yaml:"display_label,omitempty"`
	Description    string       `yaml:"description,omitempty"`
	Aliases        []AliasEntry `yaml:"aliases,omitempty"`
}

// AliasEntry is an exported alias. An empty match method imports as baseline.
type AliasEntry struct {
	Value       string              `yaml:"value"`
	SourceHint  string              `yaml:"source_hint,omitempty"`
	MatchMethod refdata.MatchMethod `yaml:"match_method,omitempty"`
	Confidence  *float64            `yaml:"confidence,omitempty"`
}

// ExportResult counts what Export wrote.
type ExportResult struct {
	FacetsExported  int `json:"facets_exported"`
	ValuesExported  int `json:"values_exported"`
	AliasesExported int `json:"aliases_exported"`
}

// ImportResult counts what Import synced and seeded.
type ImportResult struct {
	FieldsSynced           int   `json:"fields_synced"`
	FacetsSynced           int   `json:"facets_synced"`
	MappingsSynced         int   `json:"mappings_synced"`
	ValuesFlushed          int64 `json:"reference_values_flushed"`
	ReferenceValuesSeeded  int64 `json:"reference_values_seeded"`
	ReferenceAliasesSeeded int64 `json:"reference_aliases_seeded"`
}

// ImportOptions gates the destructive import.
type ImportOptions struct {
	// Confirm acknowledges that edits made since the baseline was exported
	// are lost for every facet the file covers.
	Confirm bool
}

// ErrConfirmationRequired is returned by Import without ImportOptions.Confirm.
var ErrConfirmationRequired = eris.Wrap(refdata.ErrValidation,
	"baseline: import replaces every reference value and alias of the covered facets; unsaved edits will be lost, confirm to proceed")

// Bridge moves vocabulary between a store and baseline files.
type Bridge struct {
	engine      *refdata.Engine
	concurrency int
	now         func() time.Time
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithConcurrency bounds concurrent per-facet reads during export.
func WithConcurrency(n int) Option {
	return func(b *Bridge) {
		if n > 0 {
			b.concurrency = n
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(b *Bridge) { b.now = now }
}

// New creates a Bridge over engine.
func New(engine *refdata.Engine, opts ...Option) *Bridge {
	b := &Bridge{engine: engine, concurrency: 4, now: time.Now}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Export builds a baseline of facet, or of every facet when facet is empty.
// Only active values and their non-retired aliases are included.
func (b *Bridge) Export(ctx context.Context, facet string) (*File, *ExportResult, error) {
	store := b.engine.Store()

	var facets []refdata.Facet
	if facet != "" {
		if err := refdata.ValidateFacetName(facet); err != nil {
			return nil, nil, err
		}
		f, err := store.GetFacet(ctx, facet)
		if err != nil {
			return nil, nil, eris.Wrapf(err, "baseline: get facet %s", facet)
		}
		facets = []refdata.Facet{*f}
	} else {
		all, err := store.ListFacets(ctx)
		if err != nil {
			return nil, nil, eris.Wrap(err, "baseline: list facets")
		}
		facets = all
	}

	fields, err := store.ListFields(ctx)
	if err != nil {
		return nil, nil, eris.Wrap(err, "baseline: list fields")
	}

	entries := make([]FacetEntry, len(facets))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.concurrency)
	for i, f := range facets {
		g.Go(func() error {
			entry, err := exportFacet(gctx, store, f)
			if err != nil {
				return err
			}
			entries[i] = entry
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	file := &File{
		Version:    FormatVersion,
		ExportedAt: b.now().UTC(),
		Fields:     fields,
		Facets:     entries,
	}
	res := &ExportResult{FacetsExported: len(entries)}
	for _, e := range entries {
		res.ValuesExported += len(e.Values)
		for _, v := range e.Values {
			res.AliasesExported += len(v.Aliases)
		}
	}

	zap.L().Info("baseline: exported",
		zap.String("component", "baseline"),
		zap.String("facet", facet),
		zap.Int("facets", res.FacetsExported),
		zap.Int("values", res.ValuesExported),
		zap.Int("aliases", res.AliasesExported),
	)
	return file, res, nil
}

func exportFacet(ctx context.Context, q refdata.Queries, f refdata.Facet) (FacetEntry, error) {
	entry := FacetEntry{Name: f.Name, DataType: f.DataType, HasReferenceData: f.HasReferenceData}

	mappings, err := q.ListMappings(ctx, f.Name)
	if err != nil {
		return entry, eris.Wrapf(err, "baseline: list mappings for %s", f.Name)
	}
	entry.Mappings = mappings

	if !f.HasReferenceData {
		return entry, nil
	}

	values, err := q.ListValues(ctx, f.Name, refdata.StatusActive)
	if err != nil {
		return entry, eris.Wrapf(err, "baseline: list values for %s", f.Name)
	}
	aliases, err := q.ListAliases(ctx, f.Name)
	if err != nil {
		return entry, eris.Wrapf(err, "baseline: list aliases for %s", f.Name)
	}
	byValue := make(map[string][]AliasEntry, len(values))
	for _, a := range aliases {
		byValue[a.ReferenceValueID] = append(byValue[a.ReferenceValueID], AliasEntry{
			Value:       a.AliasValue,
			SourceHint:  a.SourceHint,
			MatchMethod: a.MatchMethod,
			Confidence:  a.Confidence,
		})
	}

	for _, v := range values {
		ve := ValueEntry{
			CanonicalValue: v.CanonicalValue,
			DisplayLabel:   v.DisplayLabel,
			Description:    v.Description,
			Aliases:        byValue[v.ID],
		}
		sort.SliceStable(ve.Aliases, func(i, j int) bool {
			return refdata.Normalize(ve.Aliases[i].Value) < refdata.Normalize(ve.Aliases[j].Value)
		})
		entry.Values = append(entry.Values, ve)
	}
	return entry, nil
}

// Import rebuilds the store from file in one transaction: fields and facets
// are upserted, mappings replaced, and every reference value of the covered
// facets (any status) is deleted before the file's values are seeded as
// active.
func (b *Bridge) Import(ctx context.Context, file *File, opts ImportOptions) (*ImportResult, error) {
	if !opts.Confirm {
		return nil, ErrConfirmationRequired
	}
	if err := Validate(file); err != nil {
		return nil, err
	}

	now := b.now().UTC()
	res := &ImportResult{}
	err := b.engine.Store().InTx(ctx, func(q refdata.Queries) error {
		if err := q.Lock(ctx, "baseline"); err != nil {
			return err
		}

		for _, f := range file.Fields {
			if err := q.UpsertField(ctx, f); err != nil {
				return eris.Wrapf(err, "baseline: upsert field %s.%s", f.Namespace, f.Name)
			}
			res.FieldsSynced++
		}

		for _, fe := range file.Facets {
			if err := q.UpsertFacet(ctx, refdata.Facet{Name: fe.Name, DataType: fe.DataType, HasReferenceData: fe.HasReferenceData}); err != nil {
				return eris.Wrapf(err, "baseline: upsert facet %s", fe.Name)
			}
			res.FacetsSynced++

			mappings := make([]refdata.FacetMapping, len(fe.Mappings))
			for i, m := range fe.Mappings {
				m.FacetName = fe.Name
				mappings[i] = m
			}
			if err := q.ReplaceMappings(ctx, fe.Name, mappings); err != nil {
				return eris.Wrapf(err, "baseline: replace mappings of %s", fe.Name)
			}
			res.MappingsSynced += len(mappings)

			flushed, err := q.DeleteFacetValues(ctx, fe.Name)
			if err != nil {
				return eris.Wrapf(err, "baseline: flush values of %s", fe.Name)
			}
			res.ValuesFlushed += flushed

			values, aliases := seedRows(fe, now)
			if len(values) == 0 {
				continue
			}
			n, err := q.SeedValues(ctx, values)
			if err != nil {
				return eris.Wrapf(err, "baseline: seed values of %s", fe.Name)
			}
			res.ReferenceValuesSeeded += n

			if len(aliases) > 0 {
				n, err = q.SeedAliases(ctx, aliases)
				if err != nil {
					return eris.Wrapf(err, "baseline: seed aliases of %s", fe.Name)
				}
				res.ReferenceAliasesSeeded += n
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	b.engine.InvalidateCache(ctx, "")
	zap.L().Info("baseline: imported",
		zap.String("component", "baseline"),
		zap.Int("fields", res.FieldsSynced),
		zap.Int("facets", res.FacetsSynced),
		zap.Int("mappings", res.MappingsSynced),
		zap.Int64("flushed", res.ValuesFlushed),
		zap.Int64("values", res.ReferenceValuesSeeded),
		zap.Int64("aliases", res.ReferenceAliasesSeeded),
	)
	return res, nil
}

// seedRows converts a facet entry into active values and aliases. Aliases
// equal to their own canonical text are implicit and not materialized, and
// repeated aliases are seeded once.
func seedRows(fe FacetEntry, now time.Time) ([]refdata.ReferenceValue, []refdata.Alias) {
	var values []refdata.ReferenceValue
	var aliases []refdata.Alias
	seen := make(map[string]bool)
	for _, ve := range fe.Values {
		v := refdata.ReferenceValue{
			ID:              uuid.NewString(),
			FacetName:       fe.Name,
			CanonicalValue:  ve.CanonicalValue,
			NormalizedValue: refdata.Normalize(ve.CanonicalValue),
			DisplayLabel:    ve.DisplayLabel,
			Description:     ve.Description,
			Status:          refdata.StatusActive,
			CreatedAt:       now,
		}
		values = append(values, v)

		for _, ae := range ve.Aliases {
			normalized := refdata.Normalize(ae.Value)
			if normalized == v.NormalizedValue || seen[normalized] {
				continue
			}
			seen[normalized] = true
			method := ae.MatchMethod
			if method == "" {
				method = refdata.MatchBaseline
			}
			a := refdata.Alias{
				ID:               uuid.NewString(),
				ReferenceValueID: v.ID,
				FacetName:        fe.Name,
				AliasValue:       ae.Value,
				NormalizedValue:  normalized,
				SourceHint:       ae.SourceHint,
				MatchMethod:      method,
				CreatedAt:        now,
			}
			if method.Scored() {
				a.Confidence = ae.Confidence
			}
			aliases = append(aliases, a)
		}
	}
	return values, aliases
}

// Validate checks a baseline before any write: supported version, valid
// facet definitions and no canonical or alias collisions within a facet.
func Validate(file *File) error {
	if file == nil {
		return eris.Wrap(refdata.ErrValidation, "baseline: empty file")
	}
	if file.Version != FormatVersion {
		return eris.Wrapf(refdata.ErrValidation, "baseline: unsupported version %d", file.Version)
	}

	seenFacets := make(map[string]bool, len(file.Facets))
	for _, fe := range file.Facets {
		if err := refdata.ValidateFacet(refdata.Facet{Name: fe.Name, DataType: fe.DataType}); err != nil {
			return err
		}
		if seenFacets[fe.Name] {
			return eris.Wrapf(refdata.ErrValidation, "baseline: facet %s listed twice", fe.Name)
		}
		seenFacets[fe.Name] = true

		if len(fe.Values) > 0 && !fe.HasReferenceData {
			return eris.Wrapf(refdata.ErrValidation, "baseline: facet %s has values but no reference data", fe.Name)
		}
		for _, m := range fe.Mappings {
			if m.ContentType == "" || m.JSONPath == "" {
				return eris.Wrapf(refdata.ErrValidation, "baseline: facet %s has an incomplete mapping", fe.Name)
			}
		}

		// owner maps normalized text to the canonical that claims it.
		owner := make(map[string]string)
		for _, ve := range fe.Values {
			key := refdata.Normalize(ve.CanonicalValue)
			if key == "" {
				return eris.Wrapf(refdata.ErrValidation, "baseline: facet %s has an empty canonical value", fe.Name)
			}
			if prev, ok := owner[key]; ok {
				return eris.Wrapf(refdata.ErrValidation, "baseline: facet %s: %q collides with %q", fe.Name, ve.CanonicalValue, prev)
			}
			owner[key] = ve.CanonicalValue
		}
		for _, ve := range fe.Values {
			self := refdata.Normalize(ve.CanonicalValue)
			for _, ae := range ve.Aliases {
				key := refdata.Normalize(ae.Value)
				if key == "" {
					return eris.Wrapf(refdata.ErrValidation, "baseline: facet %s: empty alias on %q", fe.Name, ve.CanonicalValue)
				}
				if ae.MatchMethod != "" && !ae.MatchMethod.Valid() {
					return eris.Wrapf(refdata.ErrValidation, "baseline: facet %s: unknown match method %q", fe.Name, ae.MatchMethod)
				}
				if ae.Confidence != nil && (*ae.Confidence < 0 || *ae.Confidence > 1) {
					return eris.Wrapf(refdata.ErrValidation, "baseline: facet %s: confidence of alias %q out of range", fe.Name, ae.Value)
				}
				if key == self {
					continue
				}
				if prev, ok := owner[key]; ok && prev != ve.CanonicalValue {
					return eris.Wrapf(refdata.ErrValidation, "baseline: facet %s: alias %q of %q already resolves to %q", fe.Name, ae.Value, ve.CanonicalValue, prev)
				}
				owner[key] = ve.CanonicalValue
			}
		}
	}
	return nil
}

// Write encodes file as YAML.
func Write(w io.Writer, file *File) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(file); err != nil {
		return eris.Wrap(err, "baseline: encode yaml")
	}
	return eris.Wrap(enc.Close(), "baseline: flush yaml")
}

// Read decodes a YAML baseline. Unknown keys are rejected.
func Read(r io.Reader) (*File, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var file File
	if err := dec.Decode(&file); err != nil {
		if err == io.EOF {
			return nil, eris.Wrap(refdata.ErrValidation, "baseline: empty file")
		}
		return nil, eris.Wrapf(refdata.ErrValidation, "baseline: decode yaml: %v", err)
	}
	return &file, nil
}
