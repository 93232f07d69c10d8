// Package textnorm folds free text for matching: lowercase, no diacritics,
// single spaces.
package textnorm

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Fold lowercases s, strips diacritics and collapses whitespace.
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	return strings.Join(strings.Fields(strings.ToLower(folded)), " ")
}

// Contains reports whether the folded query occurs in the folded haystack as
// one substring. An empty query matches everything.
func Contains(haystack, query string) bool {
	return strings.Contains(Fold(haystack), Fold(query))
}
