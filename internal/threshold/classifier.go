// Package threshold flags microbiology results that exceed their analyte limit.
//
// The rule table is fixed at build time. Classification never fails: absent,
// blank or non-numeric values are reported as compliant.
package threshold

import (
	"fmt"
	"strconv"
)

// AnalyteKind identifies one measured column of a log sheet row.
type AnalyteKind string

const (
	Entero      AnalyteKind = "entero"
	TMC30       AnalyteKind = "tmc30"
	YeastsMolds AnalyteKind = "yeastsMolds"
	Bacillus    AnalyteKind = "bacillus"
)

// Operator is the comparison a rule applies against its limit.
type Operator string

const (
	OpGreaterOrEqual Operator = ">="
	OpGreater        Operator = ">"
)

// Rule flags a value of Kind when value Operator Limit holds.
type Rule struct {
	Kind     AnalyteKind `json:"kind"`
	Operator Operator    `json:"operator"`
	Limit    float64     `json:"limit"`
}

// Matches reports whether v breaks the rule.
func (r Rule) Matches(v float64) bool {
	switch r.Operator {
	case OpGreaterOrEqual:
		return v >= r.Limit
	case OpGreater:
		return v > r.Limit
	default:
		return false
	}
}

// String renders the rule for legends, e.g. ">= 1".
func (r Rule) String() string {
	return fmt.Sprintf("%s %s", r.Operator, strconv.FormatFloat(r.Limit, 'f', -1, 64))
}

// rules holds one entry per flagged kind. TMC30 is informational only.
var rules = map[AnalyteKind]Rule{
	Entero:      {Kind: Entero, Operator: OpGreaterOrEqual, Limit: 1.0},
	Bacillus:    {Kind: Bacillus, Operator: OpGreaterOrEqual, Limit: 1.0},
	YeastsMolds: {Kind: YeastsMolds, Operator: OpGreater, Limit: 40.0},
}

var kinds = []AnalyteKind{Entero, TMC30, YeastsMolds, Bacillus}

// Kinds returns every analyte kind in sheet column order.
func Kinds() []AnalyteKind {
	out := make([]AnalyteKind, len(kinds))
	copy(out, kinds)
	return out
}

// ParseKind converts a kind name to an AnalyteKind.
func ParseKind(s string) (AnalyteKind, bool) {
	for _, k := range kinds {
		if string(k) == s {
			return k, true
		}
	}
	return "", false
}

// RuleFor returns the rule for kind. ok is false for TMC30 and unknown kinds.
func RuleFor(kind AnalyteKind) (Rule, bool) {
	r, ok := rules[kind]
	return r, ok
}

// Rules returns a copy of the rule table in sheet column order.
func Rules() []Rule {
	out := make([]Rule, 0, len(rules))
	for _, k := range kinds {
		if r, ok := rules[k]; ok {
			out = append(out, r)
		}
	}
	return out
}

// IsOutOfSpec reports whether raw breaks the rule for kind.
// A nil raw means the cell was never filled in.
func IsOutOfSpec(kind AnalyteKind, raw *string) bool {
	if raw == nil {
		return false
	}
	return IsOutOfSpecString(kind, *raw)
}

// IsOutOfSpecString is IsOutOfSpec for a value known to be present.
func IsOutOfSpecString(kind AnalyteKind, raw string) bool {
	rule, ok := rules[kind]
	if !ok {
		return false
	}
	v, ok := ParseDecimal(raw)
	if !ok {
		return false
	}
	return rule.Matches(v)
}
