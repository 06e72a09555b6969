package service

import (
	"regexp"
	"strings"
)

var (
	xmlIntersects = regexp.MustCompile(`(?is)<(\w+:)?Intersects\b[^>]*>.*?</(\w+:)?Intersects\s*>`)
	xmlEmptyAnd   = regexp.MustCompile(`(?is)<(\w+:)?And\b[^>]*>\s*</(\w+:)?And\s*>`)
	cqlIntersects = regexp.MustCompile(`(?i)\bINTERSECTS\s*\(`)
	cqlConnector  = regexp.MustCompile(`(?i)^\s*(AND|OR)\s+|\s+(AND|OR)\s*$`)
	cqlEmptyParen = regexp.MustCompile(`\(\s*\)`)
)

// StripIntersects removes spatial sub-filters from a style or filter string:
// XML <Intersects> elements and CQL INTERSECTS(...) calls. Other content is
// returned unchanged.
func StripIntersects(style string) string {
	if !strings.Contains(strings.ToLower(style), "intersects") {
		return style
	}
	out := xmlIntersects.ReplaceAllString(style, "")
	out = xmlEmptyAnd.ReplaceAllString(out, "")
	out = stripCQLIntersects(out)
	if out == style {
		return style
	}
	return strings.TrimSpace(out)
}

// stripCQLIntersects removes INTERSECTS(...) calls, balancing nested
// parentheses, together with the AND/OR joining them to the rest.
func stripCQLIntersects(s string) string {
	for {
		loc := cqlIntersects.FindStringIndex(s)
		if loc == nil {
			return s
		}
		i := loc[0]
		depth, end := 0, -1
		for j := loc[1] - 1; j < len(s); j++ {
			switch s[j] {
			case '(':
				depth++
			case ')':
				depth--
			}
			if depth == 0 {
				end = j + 1
				break
			}
		}
		if end < 0 {
			return s
		}
		before, after := s[:i], s[end:]
		before = strings.TrimRight(before, " \t")
		after = strings.TrimLeft(after, " \t")
		switch {
		case hasSuffixFold(before, "AND"), hasSuffixFold(before, "OR"):
			before = cqlConnector.ReplaceAllString(before, "")
		case hasPrefixFold(after, "AND "), hasPrefixFold(after, "OR "):
			after = cqlConnector.ReplaceAllString(after, "")
		}
		s = cqlEmptyParen.ReplaceAllString(joinSpace(before, after), "")
		s = strings.TrimSpace(cqlConnector.ReplaceAllString(s, ""))
	}
}

func hasSuffixFold(s, suffix string) bool {
	return len(s) >= len(suffix) && strings.EqualFold(s[len(s)-len(suffix):], suffix)
}

func hasPrefixFold(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}

func joinSpace(a, b string) string {
	switch {
	case a == "":
		return b
	case b == "":
		return a
	}
	return a + " " + b
}
