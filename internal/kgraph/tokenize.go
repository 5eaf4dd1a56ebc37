package kgraph

import "strings"

// tokenize implements the shared tokenisation rule from §4.2: lower
// the text, split on runs of non-alphanumeric characters, drop
// tokens shorter than two characters.
func tokenize(text string) []string {
	lower := strings.ToLower(text)
	fields := strings.FieldsFunc(lower, func(r rune) bool {
		return !((r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'))
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if len(f) >= 2 {
			out = append(out, f)
		}
	}
	return out
}

// tokenizeObservations tokenises and flattens a list of observations.
func tokenizeObservations(obs []string) []string {
	var out []string
	for _, o := range obs {
		out = append(out, tokenize(o)...)
	}
	return out
}
