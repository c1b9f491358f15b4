package expressions

import (
	"regexp"
	"strconv"
	"strings"
)

// The legacy matcher recognizes exactly one pattern per condition: a keyword,
// a single comparison, a single contains(...) call or a bare path. There is no
// AND, OR, NOT or grouping. Anything else evaluates to false without error;
// older rule text may rely on that, so it is kept behind an explicit opt-in.

var (
	legacyContainsRe = regexp.MustCompile(`^contains\(\s*(.+?)\s*,\s*(.+?)\s*\)$`)
	legacyCompareRe  = regexp.MustCompile(`^([A-Za-z_][\w.]*)\s*(==|!=|>=|<=|>|<)\s*(.+?)$`)
	legacyPathRe     = regexp.MustCompile(`^[A-Za-z_][\w.]*$`)
	legacyNumberRe   = regexp.MustCompile(`^-?\d+(\.\d+)?$`)
)

type legacyPattern int

const (
	legacyNone legacyPattern = iota
	legacyKeyword
	legacyContains
	legacyCompare
	legacyPath
)

func classifyLegacy(src string) legacyPattern {
	s := strings.TrimSpace(src)
	switch strings.ToLower(s) {
	case "", "always", "true", "false":
		return legacyKeyword
	}
	switch {
	case legacyContainsRe.MatchString(s):
		return legacyContains
	case legacyCompareRe.MatchString(s):
		return legacyCompare
	case legacyPathRe.MatchString(s):
		return legacyPath
	}
	return legacyNone
}

// EvaluateLegacy evaluates condition text with the single-pattern matcher.
// Unrecognized syntax returns false, never an error.
func EvaluateLegacy(src string, scope Scope) bool {
	s := strings.TrimSpace(src)
	switch classifyLegacy(s) {
	case legacyKeyword:
		return !strings.EqualFold(s, "false")
	case legacyContains:
		m := legacyContainsRe.FindStringSubmatch(s)
		return Contains(legacyValue(m[1], scope), legacyValue(m[2], scope))
	case legacyCompare:
		m := legacyCompareRe.FindStringSubmatch(s)
		left := lookup(strings.Split(m[1], "."), scope)
		return Compare(CompareOp(m[2]), left, legacyValue(m[3], scope))
	case legacyPath:
		return Truthy(lookup(strings.Split(s, "."), scope))
	}
	return false
}

// legacyValue resolves a legacy operand: quoted text, number, keyword, path,
// or else the raw token itself.
func legacyValue(tok string, scope Scope) any {
	tok = strings.TrimSpace(tok)
	if len(tok) >= 2 {
		q := tok[0]
		if (q == '"' || q == '\'') && tok[len(tok)-1] == q {
			return tok[1 : len(tok)-1]
		}
	}
	if legacyNumberRe.MatchString(tok) {
		f, _ := strconv.ParseFloat(tok, 64)
		return f
	}
	if lit, ok := keywordLiteral(tok); ok {
		return lit.Value
	}
	if legacyPathRe.MatchString(tok) {
		return lookup(strings.Split(tok, "."), scope)
	}
	return tok
}

// LegacyVerdict compares how the strict grammar and the legacy matcher see
// the same condition text.
type LegacyVerdict struct {
	// StrictErr is the strict parse error, nil when the text parses.
	StrictErr error
	// LegacyRecognized is true when the legacy matcher has a pattern for the text.
	LegacyRecognized bool
	// LegacyDiverges is true when the text parses strictly but uses
	// operators the legacy matcher cannot express.
	LegacyDiverges bool
}

// SilentlyFalse reports text the strict grammar rejects and the legacy
// matcher would evaluate to false without complaint.
func (v LegacyVerdict) SilentlyFalse() bool {
	return v.StrictErr != nil && !v.LegacyRecognized
}

// LegacyCompat classifies condition text for migration warnings.
func LegacyCompat(src string) LegacyVerdict {
	node, err := Parse(src)
	v := LegacyVerdict{
		StrictErr:        err,
		LegacyRecognized: classifyLegacy(src) != legacyNone,
	}
	if err == nil {
		switch node.(type) {
		case *Logical, *Not:
			v.LegacyDiverges = true
		}
	}
	return v
}
