package dataprocessing

import (
	"regexp"
	"strconv"
	"strings"
)

var spaceRun = regexp.MustCompile(`\s+`)

// NormalizeCell lowercases, trims and collapses internal whitespace so
// keyword matching is stable across report layouts.
func NormalizeCell(s string) string {
	return spaceRun.ReplaceAllString(strings.ToLower(strings.TrimSpace(s)), " ")
}

// ParseNumeric extracts a number from a spreadsheet cell. It strips thousands
// separators and whitespace and treats parenthesized values as negative, the
// accounting convention used in exchange stock reports. Returns false when
// the cell holds no usable number.
func ParseNumeric(cell string) (float64, bool) {
	s := strings.TrimSpace(cell)
	if s == "" {
		return 0, false
	}

	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = s[1 : len(s)-1]
	}

	s = strings.ReplaceAll(s, ",", "")
	s = strings.ReplaceAll(s, " ", "")
	s = strings.TrimPrefix(s, "$")

	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	if negative {
		v = -v
	}
	return v, true
}

// ContainsAny reports whether the normalized cell contains at least one of
// the keywords.
func ContainsAny(cell string, keywords []string) bool {
	norm := NormalizeCell(cell)
	for _, kw := range keywords {
		if strings.Contains(norm, kw) {
			return true
		}
	}
	return false
}

// CountKeywordHits returns how many distinct keywords appear anywhere in the
// given cells. Used for sheet discovery when sheet names are unhelpful.
func CountKeywordHits(cells []string, keywords []string) int {
	joined := make([]string, 0, len(cells))
	for _, c := range cells {
		joined = append(joined, NormalizeCell(c))
	}
	text := strings.Join(joined, " ")

	hits := 0
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			hits++
		}
	}
	return hits
}
