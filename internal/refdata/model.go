// Package refdata canonicalizes free-text facet values into a controlled
// vocabulary: canonical reference values with aliases, discovery of unmapped
// raw values, candidate grouping and a moderation workflow for suggestions.
package refdata

import (
	"regexp"
	"time"

	"github.com/rotisserie/eris"
)

// DataType is the value type of a facet.
type DataType string

// Supported facet data types.
const (
	DataTypeString  DataType = "string"
	DataTypeNumber  DataType = "number"
	DataTypeBoolean DataType = "boolean"
	DataTypeDate    DataType = "date"
)

// Valid reports whether d is a supported data type.
func (d DataType) Valid() bool {
	switch d {
	case DataTypeString, DataTypeNumber, DataTypeBoolean, DataTypeDate:
		return true
	default:
		return false
	}
}

// Status is the lifecycle state of a reference value.
type Status string

// Reference value statuses.
const (
	StatusActive     Status = "active"
	StatusSuggested  Status = "suggested"
	StatusDeprecated Status = "deprecated"
)

// MatchMethod records how an alias came to exist.
type MatchMethod string

// Alias match methods.
const (
	MatchBaseline     MatchMethod = "baseline"
	MatchManual       MatchMethod = "manual"
	MatchAutoMatched  MatchMethod = "auto_matched"
	MatchLLMSuggested MatchMethod = "llm_suggested"
)

// Valid reports whether m is a known match method.
func (m MatchMethod) Valid() bool {
	switch m {
	case MatchBaseline, MatchManual, MatchAutoMatched, MatchLLMSuggested:
		return true
	default:
		return false
	}
}

// Scored reports whether aliases created with m carry a confidence score.
func (m MatchMethod) Scored() bool {
	return m == MatchAutoMatched || m == MatchLLMSuggested
}

// Facet identifies a controlled vocabulary domain.
type Facet struct {
	Name             string    `json:"facet_name" yaml:"name" db:"facet_name"`
	DataType         DataType  `json:"data_type" yaml:"data_type" db:"data_type"`
	HasReferenceData bool      `json:"has_reference_data" yaml:"has_reference_data" db:"has_reference_data"`
	CreatedAt        time.Time `json:"created_at" yaml:"-" db:"created_at"`
}

// FacetMapping binds a facet to a metadata path of one indexed content type.
type FacetMapping struct {
	FacetName   string `json:"facet_name" yaml:"-" db:"facet_name"`
	ContentType string `json:"content_type" yaml:"content_type" db:"content_type"`
	JSONPath    string `json:"json_path" yaml:"json_path" db:"json_path"`
}

// Field is a namespace field catalog entry carried by baselines.
type Field struct {
	Namespace   string `json:"namespace" yaml:"namespace" db:"namespace"`
	Name        string `json:"name" yaml:"name" db:"name"`
	DataType    string `json:"data_type" yaml:"data_type" db:"data_type"`
	Description string `json:"description,omitempty" yaml:"description,omitempty" db:"description"`
}

// ReferenceValue is a canonical entry within a facet.
type ReferenceValue struct {
	ID              string     `json:"id" db:"id"`
	FacetName       string     `json:"facet_name" db:"facet_name"`
	CanonicalValue  string     `json:"canonical_value" db:"canonical_value"`
	NormalizedValue string     `json:"-" db:"normalized_value"`
	DisplayLabel    string     `json:"display_label,omitempty" db:"display_label"`
	Description     string     `json:"description,omitempty" db:"description"`
	Status          Status     `json:"status" db:"status"`
	CreatedAt       time.Time  `json:"created_at" db:"created_at"`
	PromotedAt      *time.Time `json:"promoted_at,omitempty" db:"promoted_at"`
	Aliases         []Alias    `json:"aliases,omitempty"`
}

// Alias is an observed raw string that resolves to a ReferenceValue.
type Alias struct {
	ID               string      `json:"id" db:"id"`
	ReferenceValueID string      `json:"reference_value_id" db:"reference_value_id"`
	FacetName        string      `json:"facet_name" db:"facet_name"`
	AliasValue       string      `json:"alias_value" db:"alias_value"`
	NormalizedValue  string      `json:"-" db:"normalized_value"`
	SourceHint       string      `json:"source_hint,omitempty" db:"source_hint"`
	MatchMethod      MatchMethod `json:"match_method" db:"match_method"`
	Confidence       *float64    `json:"confidence,omitempty" db:"confidence"`
	Retired          bool        `json:"-" db:"retired"`
	CreatedAt        time.Time   `json:"created_at" db:"created_at"`
}

// ValueCount is a distinct raw value with the number of documents carrying it.
type ValueCount struct {
	Value string `json:"value"`
	Count int64  `json:"count"`
}

// Group is a candidate canonical entry proposed by the Candidate Grouper.
type Group struct {
	CanonicalValue string   `json:"canonical_value"`
	DisplayLabel   string   `json:"display_label,omitempty"`
	Aliases        []string `json:"aliases"`
	Confidence     *float64 `json:"confidence"`
}

// DiscoveryResult is the ephemeral output of one discovery pass.
type DiscoveryResult struct {
	Facet          string       `json:"facet"`
	UnmappedValues []ValueCount `json:"unmapped_values"`
	Suggestions    []Group      `json:"suggestions"`
	Error          string       `json:"error,omitempty"`
	ScannedValues  int          `json:"scanned_values"`
	ResolvedValues int          `json:"resolved_values"`
}

var facetNameRe = regexp.MustCompile(`^[a-z][a-z0-9_]{0,62}$`)

// ValidateFacetName checks that name is a well-formed facet identifier.
func ValidateFacetName(name string) error {
	if !facetNameRe.MatchString(name) {
		return eris.Wrapf(ErrValidation, "refdata: malformed facet name %q", name)
	}
	return nil
}

// ValidateFacet checks a facet definition.
func ValidateFacet(f Facet) error {
	if err := ValidateFacetName(f.Name); err != nil {
		return err
	}
	if !f.DataType.Valid() {
		return eris.Wrapf(ErrValidation, "refdata: unsupported data type %q for facet %s", f.DataType, f.Name)
	}
	return nil
}

// Float returns a pointer to v.
func Float(v float64) *float64 {
	return &v
}
