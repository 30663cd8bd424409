package refdata

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"   ", ""},
		{"DHS", "dhs"},
		{"  Department   of\tHomeland\nSecurity ", "department of homeland security"},
		{"ＮＡＳＡ", "nasa"},
		{"Straße", "strasse"},
		{"ﬁnance office", "finance office"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Normalize(tt.in), "Normalize(%q)", tt.in)
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	for _, s := range []string{"Dept. of Homeland Security", "ＵＳＡＦ", "  U.S.  Air Force "} {
		once := Normalize(s)
		assert.Equal(t, once, Normalize(once))
	}
}

func TestValidateFacetName(t *testing.T) {
	assert.NoError(t, ValidateFacetName("agency"))
	assert.NoError(t, ValidateFacetName("set_aside_code2"))
	for _, bad := range []string{"", "Agency", "1agency", "set-aside", "a b"} {
		err := ValidateFacetName(bad)
		assert.Equal(t, "ValidationError", Kind(err), bad)
	}
}

func TestValidateFacet_DataType(t *testing.T) {
	assert.NoError(t, ValidateFacet(Facet{Name: "agency", DataType: DataTypeString}))
	assert.Equal(t, "ValidationError", Kind(ValidateFacet(Facet{Name: "agency", DataType: "uuid"})))
}

func TestKind(t *testing.T) {
	assert.Equal(t, "", Kind(nil))
	assert.Equal(t, "Internal", Kind(assert.AnError))
	assert.Equal(t, "UpstreamUnavailable", Kind(Upstream("index", assert.AnError)))
	assert.Nil(t, Upstream("index", nil))
}
