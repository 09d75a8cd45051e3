// Package searchindex implements BigMap's full-text search overlay: a
// tokenize -> stop-filter -> stem -> posting-list pipeline that must stay
// consistent with the KV layer on insert/remove (spec.md §4.4).
//
// Grounded on original_source/src/search.rs for the overall shape
// (key_to_doc_id / doc_id_to_key / per-term postings, AND-of-terms query via
// bitmap intersection) — that file already depends on roaring::RoaringBitmap,
// so github.com/RoaringBitmap/roaring is a direct, non-speculative port of
// the original's own posting-list representation rather than an invented
// dependency. Stop-word filtering and stemming (spec.md §4.4) are additions
// the distillation made relative to search.rs; original_source only
// lowercases.
package searchindex

import "strings"

// tokenize implements the pipeline from spec.md §4.4, applied identically to
// indexed documents and to queries so that a term added to the index is
// always found by an equivalent query:
//  1. concatenate document text with the key's UTF-8 form
//  2. replace every non-alphanumeric rune with whitespace
//  3. split on whitespace
//  4. lowercase
//  5. stem
//  6. drop stop-words
func tokenize(key []byte, document string) []string {
	return tokenizeText(string(key) + " " + document)
}

// tokenizeQuery applies the same pipeline to a bare query string, with no
// associated key.
func tokenizeQuery(query string) []string {
	return tokenizeText(query)
}

func tokenizeText(text string) []string {
	normalized := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return ' '
		}
	}, text)

	fields := strings.Fields(normalized)
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		lower := strings.ToLower(f)
		stemmed := stem(lower)
		if isStopWord(stemmed) || isStopWord(lower) {
			continue
		}
		out = append(out, stemmed)
	}
	return out
}
