package index

import (
	"sort"
	"strings"
	"unicode"

	"github.com/medplane/medplane/internal/pkg/medical"
)

//Tokenize lower-cases the text, splits it on any non letter/digit rune and
//returns the unique tokens of length two or more, sorted
func Tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	seen := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		if len(f) < 2 {
			continue
		}
		seen[f] = struct{}{}
	}
	tokens := make([]string, 0, len(seen))
	for t := range seen {
		tokens = append(tokens, t)
	}
	sort.Strings(tokens)
	return tokens
}

// recordText is the text the inverted index is built over: the summary plus
// every attribute value.
func recordText(r medical.MetadataRecord) string {
	if len(r.Attributes) == 0 {
		return r.Summary
	}
	parts := make([]string, 0, len(r.Attributes)+1)
	parts = append(parts, r.Summary)
	for _, v := range r.Attributes {
		parts = append(parts, v)
	}
	return strings.Join(parts, " ")
}
