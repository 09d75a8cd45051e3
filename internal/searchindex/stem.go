package searchindex

import "strings"

// stem implements a simplified Porter-family stemmer covering the common
// English suffix classes (plurals, -ing, -ed, -er/-or, -ly, -ational/-ation,
// -fulness/-ousness, -iveness, -biliti). It is not a full implementation of
// Porter's algorithm (no measure-of-consonant-sequences gating); BigMap only
// needs stemming to be consistent between indexing and querying, not
// linguistically exhaustive. No third-party stemmer library appears
// anywhere in the example pack, so this is implemented directly on the
// standard library (see DESIGN.md).
func stem(word string) string {
	if len(word) <= 2 {
		return word
	}

	w := word
	w = stripSuffix(w, "ational", "ate")
	w = stripSuffix(w, "tional", "tion")
	w = stripSuffix(w, "iveness", "ive")
	w = stripSuffix(w, "fulness", "ful")
	w = stripSuffix(w, "ousness", "ous")
	w = stripSuffix(w, "biliti", "ble")
	w = stripSuffix(w, "ization", "ize")
	w = stripSuffix(w, "ation", "ate")
	w = stripSuffix(w, "izer", "ize")
	w = stripSuffix(w, "ator", "ate")
	w = stripSuffix(w, "iveness", "ive")
	w = stripSuffix(w, "fulness", "ful")

	switch {
	case strings.HasSuffix(w, "sses"):
		w = strings.TrimSuffix(w, "sses") + "ss"
	case strings.HasSuffix(w, "ies"):
		w = strings.TrimSuffix(w, "ies") + "i"
	case strings.HasSuffix(w, "ss"):
		// unchanged: "ss" is not a plural suffix
	case strings.HasSuffix(w, "s") && len(w) > 3:
		w = strings.TrimSuffix(w, "s")
	}

	switch {
	case strings.HasSuffix(w, "ing") && len(w) > 5:
		w = strings.TrimSuffix(w, "ing")
		w = restoreStemBase(w)
	case strings.HasSuffix(w, "edly") && len(w) > 6:
		w = strings.TrimSuffix(w, "edly")
		w = restoreStemBase(w)
	case strings.HasSuffix(w, "ed") && len(w) > 4:
		w = strings.TrimSuffix(w, "ed")
		w = restoreStemBase(w)
	case strings.HasSuffix(w, "er") && len(w) > 4:
		// agent-noun suffix ("computer", "runner"): must collapse to the
		// same base as the matching -ing form so e.g. "computer" and
		// "computing" are indexed/queried under one stem.
		w = strings.TrimSuffix(w, "er")
		w = restoreStemBase(w)
	case strings.HasSuffix(w, "or") && len(w) > 4:
		w = strings.TrimSuffix(w, "or")
		w = restoreStemBase(w)
	}

	w = stripSuffix(w, "fully", "ful")
	w = stripSuffix(w, "ly", "")

	return w
}

func stripSuffix(w, suffix, replacement string) string {
	if strings.HasSuffix(w, suffix) && len(w) > len(suffix)+1 {
		return strings.TrimSuffix(w, suffix) + replacement
	}
	return w
}

// restoreStemBase re-doubles a final consonant removed alongside -ing/-ed in
// words like "running" -> "runn" -> "run", and restores a dropped trailing
// "e" for words like "loved" -> "lov" -> "love".
func restoreStemBase(w string) string {
	if len(w) == 0 {
		return w
	}
	n := len(w)
	if n >= 2 && w[n-1] == w[n-2] && isDoubledConsonant(w[n-1]) {
		return w[:n-1]
	}
	if needsSilentE(w) {
		return w + "e"
	}
	return w
}

func isDoubledConsonant(b byte) bool {
	switch b {
	case 'b', 'd', 'f', 'g', 'm', 'n', 'p', 'r', 't':
		return true
	default:
		return false
	}
}

func needsSilentE(w string) bool {
	if len(w) < 2 {
		return false
	}
	last := w[len(w)-1]
	if isVowel(last) {
		return false
	}
	secondLast := w[len(w)-2]
	return isVowel(secondLast) && !isVowel(last)
}

func isVowel(b byte) bool {
	switch b {
	case 'a', 'e', 'i', 'o', 'u':
		return true
	default:
		return false
	}
}
