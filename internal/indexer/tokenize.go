// Package indexer ties together the builder, store, query engine, and
// maintenance loop via sub-packages; this file holds the tokenization
// routine shared by all of them, so every token set attached to an
// IndexEntry uses the same tokenization wherever it's computed.
package indexer

import "strings"

// Tokenize lower-cases text and splits it into alphanumeric/underscore
// runs. It is the single tokenization routine used by the builder
// (symbols, snippets, chunks, URI paths) and the query engine (query
// text), so token sets computed at build time remain directly comparable
// against a query tokenized later.
func Tokenize(text string) []string {
	lower := strings.ToLower(text)
	var tokens []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			tokens = append(tokens, cur.String())
			cur.Reset()
		}
	}
	for _, r := range lower {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			cur.WriteRune(r)
		default:
			flush()
		}
	}
	flush()
	return tokens
}
