package threshold

import (
	"strconv"
	"strings"
)

// ParseDecimal parses a lab value as entered on a log sheet.
//
// The value is trimmed and a comma decimal separator is accepted. The
// accepted grammar is an optional sign, digits and at most one decimal
// point:
//
//	[+-]? ( digits ( "." digits? )? | "." digits )
//
// Qualifiers ("<1"), units, exponents, hex and the special float names are
// rejected. The second return value reports whether raw was numeric.
func ParseDecimal(raw string) (float64, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, false
	}
	s = strings.ReplaceAll(s, ",", ".")
	if !isDecimal(s) {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		// Only reachable on overflow of a syntactically valid numeral.
		return 0, false
	}
	return v, true
}

// isDecimal reports whether s matches the accepted decimal grammar.
func isDecimal(s string) bool {
	i := 0
	if s[0] == '+' || s[0] == '-' {
		i++
	}
	digits, dots := 0, 0
	for ; i < len(s); i++ {
		switch c := s[i]; {
		case c >= '0' && c <= '9':
			digits++
		case c == '.':
			dots++
			if dots > 1 {
				return false
			}
		default:
			return false
		}
	}
	return digits > 0
}
