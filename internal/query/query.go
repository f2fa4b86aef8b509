// Package query canonicalizes free-text questions for cache keys and
// similarity comparisons.
package query

import (
	"regexp"
	"strconv"
	"strings"
	"unicode/utf16"
)

var (
	nonWordRe    = regexp.MustCompile(`[^\w\s]`)
	whitespaceRe = regexp.MustCompile(`\s+`)
)

// Normalize lower-cases text, drops every character that is neither a word
// character nor whitespace, collapses whitespace runs and trims the ends.
func Normalize(text string) string {
	s := strings.ToLower(text)
	s = nonWordRe.ReplaceAllString(s, "")
	s = whitespaceRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// Fingerprint hashes a normalized query into a short base-36 key.
// It is the classic 32-bit "h = h*31 + c" string hash over UTF-16 code units,
// so collisions are possible and accepted.
func Fingerprint(normalized string) string {
	var h int32
	for _, u := range utf16.Encode([]rune(normalized)) {
		h = h*31 + int32(u)
	}
	v := int64(h)
	if v < 0 {
		v = -v
	}
	return strconv.FormatInt(v, 36)
}

// Similarity returns the Jaccard similarity of the word sets of two queries
// after normalization. Two queries with no words at all score 0.
func Similarity(a, b string) float64 {
	wordsA := wordSet(Normalize(a))
	wordsB := wordSet(Normalize(b))

	union := make(map[string]struct{}, len(wordsA)+len(wordsB))
	intersection := 0
	for w := range wordsA {
		union[w] = struct{}{}
		if _, ok := wordsB[w]; ok {
			intersection++
		}
	}
	for w := range wordsB {
		union[w] = struct{}{}
	}
	if len(union) == 0 {
		return 0
	}
	return float64(intersection) / float64(len(union))
}

func wordSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, w := range strings.Fields(s) {
		set[w] = struct{}{}
	}
	return set
}
