package threshold

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func TestParseDecimal(t *testing.T) {
	tests := []struct {
		in   string
		want float64
		ok   bool
	}{
		{"1", 1, true},
		{"  0.99 ", 0.99, true},
		{"1,5", 1.5, true},
		{"-2", -2, true},
		{"+3.25", 3.25, true},
		{".5", 0.5, true},
		{"1.", 1, true},
		{"40", 40, true},
		{"", 0, false},
		{"   ", 0, false},
		{"<1", 0, false},
		{">40", 0, false},
		{"1e3", 0, false},
		{"1.2.3", 0, false},
		{"1,2,3", 0, false},
		{"NaN", 0, false},
		{"Inf", 0, false},
		{"0x10", 0, false},
		{"10 cfu", 0, false},
		{"1 000", 0, false},
		{"-", 0, false},
		{".", 0, false},
		{"+.", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseDecimal(tt.in)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.InDelta(t, tt.want, got, 1e-9)
			}
		})
	}
}

func TestIsOutOfSpec(t *testing.T) {
	tests := []struct {
		name string
		kind AnalyteKind
		raw  *string
		want bool
	}{
		{"entero at limit", Entero, strPtr("1"), true},
		{"entero below limit", Entero, strPtr("0.99"), false},
		{"entero comma decimal", Entero, strPtr("1,5"), true},
		{"entero qualifier", Entero, strPtr("<1"), false},
		{"bacillus at limit", Bacillus, strPtr("1.0"), true},
		{"bacillus qualifier", Bacillus, strPtr("<1"), false},
		{"bacillus zero", Bacillus, strPtr("0"), false},
		{"yeasts at limit", YeastsMolds, strPtr("40"), false},
		{"yeasts above limit", YeastsMolds, strPtr("40.01"), true},
		{"yeasts comma above limit", YeastsMolds, strPtr("40,5"), true},
		{"tmc30 huge", TMC30, strPtr("100000"), false},
		{"nil value", Entero, nil, false},
		{"blank value", Bacillus, strPtr("  "), false},
		{"unknown kind", AnalyteKind("coliforms"), strPtr("99"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsOutOfSpec(tt.kind, tt.raw))
		})
	}
}

func TestIsOutOfSpec_InvalidNeverFlags(t *testing.T) {
	invalid := []string{"", " ", "<1", "n/a", "abc", "1e5", "--1", "1..0", "TNTC"}
	for _, kind := range Kinds() {
		assert.False(t, IsOutOfSpec(kind, nil), "nil for %s", kind)
		for _, raw := range invalid {
			assert.False(t, IsOutOfSpecString(kind, raw), "%q for %s", raw, kind)
		}
	}
}

func TestIsOutOfSpec_TMC30NeverFlags(t *testing.T) {
	for _, raw := range []string{"0", "1", "40.01", "1000000", "-1", "1,5"} {
		assert.False(t, IsOutOfSpecString(TMC30, raw), raw)
	}
}

func TestRules(t *testing.T) {
	rs := Rules()
	require.Len(t, rs, 3)
	assert.Equal(t, Entero, rs[0].Kind)
	assert.Equal(t, YeastsMolds, rs[1].Kind)
	assert.Equal(t, Bacillus, rs[2].Kind)

	// Mutating the returned slice must not leak into the table.
	rs[0].Limit = 1000
	r, ok := RuleFor(Entero)
	require.True(t, ok)
	assert.Equal(t, 1.0, r.Limit)

	_, ok = RuleFor(TMC30)
	assert.False(t, ok)
}

func TestRuleString(t *testing.T) {
	r, _ := RuleFor(YeastsMolds)
	assert.Equal(t, "> 40", r.String())
	r, _ = RuleFor(Entero)
	assert.Equal(t, ">= 1", r.String())
}

func TestParseKind(t *testing.T) {
	k, ok := ParseKind("yeastsMolds")
	assert.True(t, ok)
	assert.Equal(t, YeastsMolds, k)

	_, ok = ParseKind("yeasts_molds")
	assert.False(t, ok)
}
