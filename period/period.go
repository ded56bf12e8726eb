// Package period provides fiscal year-quarter parsing and canonicalization.
//
// The canonical form is "YYYY_Qn" (e.g. "2023_Q3"). Model output and user
// input also arrive as "YYYY Qn" and "YYYY_n"; all three surface forms parse
// to the same Quarter value. Comparisons are structured (year, quarter)
// numeric comparisons, so they stay correct even for years where the
// lexicographic string order would not.
package period

import (
	"fmt"
	"strconv"
	"strings"
)

// Quarter is a fiscal year-quarter pair.
type Quarter struct {
	Year int
	Q    int // 1..4
}

// String returns the canonical "YYYY_Qn" form.
func (q Quarter) String() string {
	return fmt.Sprintf("%d_Q%d", q.Year, q.Q)
}

// Compare returns -1, 0 or +1 ordering q against other chronologically.
func (q Quarter) Compare(other Quarter) int {
	switch {
	case q.Year != other.Year:
		if q.Year < other.Year {
			return -1
		}
		return 1
	case q.Q != other.Q:
		if q.Q < other.Q {
			return -1
		}
		return 1
	default:
		return 0
	}
}

// Before reports whether q is strictly earlier than other.
func (q Quarter) Before(other Quarter) bool { return q.Compare(other) < 0 }

// After reports whether q is strictly later than other.
func (q Quarter) After(other Quarter) bool { return q.Compare(other) > 0 }

// Range is an inclusive span of quarters.
type Range struct {
	Start Quarter
	End   Quarter
}

// Contains reports whether q falls inside the range.
func (r Range) Contains(q Quarter) bool {
	return !q.Before(r.Start) && !q.After(r.End)
}

// String renders the range as "YYYY_Qn to YYYY_Qn".
func (r Range) String() string {
	return r.Start.String() + " to " + r.End.String()
}

// Parse parses a quarter string in any of the accepted surface forms:
// "YYYY_Qn", "YYYY Qn" or "YYYY_n". The year must be all digits and the
// quarter digit must be in [1,4].
func Parse(raw string) (Quarter, error) {
	sep := ""
	switch {
	case strings.Contains(raw, "_"):
		sep = "_"
	case strings.Contains(raw, " "):
		sep = " "
	default:
		return Quarter{}, fmt.Errorf("invalid quarter %q: missing separator", raw)
	}

	parts := strings.SplitN(raw, sep, 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return Quarter{}, fmt.Errorf("invalid quarter %q", raw)
	}

	year, err := strconv.Atoi(parts[0])
	if err != nil {
		return Quarter{}, fmt.Errorf("invalid quarter %q: bad year", raw)
	}

	qs := strings.TrimPrefix(parts[1], "Q")
	q, err := strconv.Atoi(qs)
	if err != nil {
		return Quarter{}, fmt.Errorf("invalid quarter %q: bad quarter", raw)
	}
	if q < 1 || q > 4 {
		return Quarter{}, fmt.Errorf("invalid quarter %q: quarter %d out of [1,4]", raw, q)
	}

	return Quarter{Year: year, Q: q}, nil
}

// Normalize canonicalizes raw into "YYYY_Qn" form. Malformed input returns
// the caller-supplied default unchanged: this lenient-fallback policy matches
// how the dispatch layer substitutes the data envelope bounds for time
// arguments the model got wrong. Callers needing strict validation should use
// Parse directly.
func Normalize(raw, def string) string {
	q, err := Parse(raw)
	if err != nil {
		return def
	}
	return q.String()
}

// MustParse parses a quarter string known to be valid at compile time.
// Panics on malformed input; reserved for package-level constants.
func MustParse(raw string) Quarter {
	q, err := Parse(raw)
	if err != nil {
		panic(fmt.Sprintf("period: %v", err))
	}
	return q
}
