package normalize

import (
	"strings"
	"unicode"
)

func isLetterOrNumber(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsNumber(r)
}

// normalizeIntraTokenHyphens replaces '-' that appear between two letters/numbers
// with a space, so "air-max" and "air max" vote as the same label and so
// marketplace query parsers don't interpret hyphenated tokens as operators.
func normalizeIntraTokenHyphens(s string) string {
	rs := []rune(s)
	if len(rs) == 0 {
		return s
	}
	for i := 1; i < len(rs)-1; i++ {
		if rs[i] != '-' {
			continue
		}
		if isLetterOrNumber(rs[i-1]) && isLetterOrNumber(rs[i+1]) {
			rs[i] = ' '
		}
	}
	return string(rs)
}

func stripLeadingHyphens(tok string) string {
	for strings.HasPrefix(tok, "-") {
		tok = strings.TrimPrefix(tok, "-")
	}
	return tok
}

// QueryTerm returns a cleaned attribute value intended for a marketplace search
// query. Display casing is preserved.
//
// Behavior:
//   - Hyphenated tokens are normalized (e.g. "air-max" -> "air max").
//   - Leading '-' is treated as punctuation (e.g. "-max" -> "max").
//   - Whitespace runs collapse to a single space.
func QueryTerm(input string) string {
	q := normalizeIntraTokenHyphens(strings.TrimSpace(input))
	if q == "" {
		return ""
	}
	parts := strings.Fields(q)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = stripLeadingHyphens(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return strings.Join(out, " ")
}

// Label returns the canonical form of a provider label used for case-insensitive
// agreement voting: lowercased, hyphen-normalized, whitespace-collapsed, with
// edge punctuation stripped per token.
//
// Two labels whose Label forms are equal are treated as the same vote.
func Label(input string) string {
	q := normalizeIntraTokenHyphens(strings.TrimSpace(strings.ToLower(input)))
	if q == "" {
		return ""
	}
	parts := strings.Fields(q)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimFunc(p, func(r rune) bool {
			return !isLetterOrNumber(r)
		})
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return strings.Join(out, " ")
}

// HasAnyLetterOrNumber reports whether s contains at least one searchable rune.
func HasAnyLetterOrNumber(s string) bool {
	for _, r := range s {
		if isLetterOrNumber(r) {
			return true
		}
	}
	return false
}
