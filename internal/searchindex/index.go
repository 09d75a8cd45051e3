package searchindex

import (
	"sync"

	"github.com/RoaringBitmap/roaring"
)

// Key mirrors datashard.Key; kept as its own alias so this package has no
// import-time dependency on internal/datashard.
type Key = []byte

// TermData holds a single term's posting list: the set of document ids whose
// document contains the term, plus a running occurrence count.
//
// Frequency is intentionally never decremented by RemoveKey — per the Open
// Question resolution in SPEC_FULL.md §7 (Q2), BigMap tracks "times this
// term was ever indexed" rather than "times this term currently appears",
// since the original implementation (original_source/src/search.rs) does not
// maintain frequency at all and the distilled spec leaves the decrement
// behavior unspecified. A term's frequency is therefore a high-water mark,
// not a live count; Postings is the live set.
type TermData struct {
	Frequency uint64
	Postings  *roaring.Bitmap
}

// Index is BigMap's per-search-shard inverted index: a forward map from
// stored key to an internal, dense document id, and a postings map from
// stemmed term to the set of document ids containing it.
//
// Grounded on original_source/src/search.rs's SearchIndex (key_to_doc_id,
// doc_id_to_key, per-term postings) with roaring.Bitmap standing in for the
// Rust file's roaring::RoaringBitmap — see DESIGN.md.
type Index struct {
	mu sync.RWMutex

	keyToDocID map[string]uint32
	docIDToKey map[uint32]Key
	docTerms   map[uint32][]string // terms currently present in each live doc
	nextDocID  uint32

	terms map[string]*TermData
}

// New returns an empty Index.
func New() *Index {
	return &Index{
		keyToDocID: make(map[string]uint32),
		docIDToKey: make(map[uint32]Key),
		docTerms:   make(map[uint32][]string),
		terms:      make(map[string]*TermData),
	}
}

// AddToIndex tokenizes document (concatenated with key per the pipeline in
// tokenize.go) and records every resulting term against key's document id,
// allocating one if key has never been indexed before. Re-indexing an
// already-indexed key adds the new document's terms on top of the old ones;
// callers that want a clean re-index should RemoveKey first.
func (ix *Index) AddToIndex(key Key, document string) {
	terms := tokenize(key, document)
	if len(terms) == 0 {
		return
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	docID, ok := ix.keyToDocID[string(key)]
	if !ok {
		docID = ix.nextDocID
		ix.nextDocID++
		keyCopy := make(Key, len(key))
		copy(keyCopy, key)
		ix.keyToDocID[string(key)] = docID
		ix.docIDToKey[docID] = keyCopy
	}

	seen := make(map[string]struct{}, len(terms))
	for _, term := range terms {
		td, ok := ix.terms[term]
		if !ok {
			td = &TermData{Postings: roaring.NewBitmap()}
			ix.terms[term] = td
		}
		td.Frequency++
		td.Postings.Add(docID)
		if _, already := seen[term]; !already {
			seen[term] = struct{}{}
			ix.docTerms[docID] = appendUnique(ix.docTerms[docID], term)
		}
	}
}

func appendUnique(terms []string, term string) []string {
	for _, t := range terms {
		if t == term {
			return terms
		}
	}
	return append(terms, term)
}

// RemoveKey drops key's document from every term's posting list it
// currently belongs to. Term Frequency counters are left untouched (see
// TermData's doc comment); only Postings membership changes, so a removed
// key's terms stop matching future searches immediately.
func (ix *Index) RemoveKey(key Key) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	docID, ok := ix.keyToDocID[string(key)]
	if !ok {
		return
	}

	for _, term := range ix.docTerms[docID] {
		if td, ok := ix.terms[term]; ok {
			td.Postings.Remove(docID)
		}
	}

	delete(ix.docTerms, docID)
	delete(ix.docIDToKey, docID)
	delete(ix.keyToDocID, string(key))
}

// Search returns the keys of every document matching all terms of query
// (an implicit AND across terms), ordered by ascending internal document id,
// capped at topK results. A query that tokenizes to nothing matches nothing.
func (ix *Index) Search(query string, topK int) []Key {
	terms := tokenizeQuery(query)
	if len(terms) == 0 {
		return nil
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	var result *roaring.Bitmap
	for _, term := range terms {
		td, ok := ix.terms[term]
		if !ok {
			return nil // a missing term means the AND can never match
		}
		if result == nil {
			result = td.Postings.Clone()
		} else {
			result.And(td.Postings)
		}
		if result.IsEmpty() {
			return nil
		}
	}
	if result == nil {
		return nil
	}

	ids := result.ToArray()
	if topK > 0 && len(ids) > topK {
		ids = ids[:topK]
	}
	out := make([]Key, 0, len(ids))
	for _, id := range ids {
		if k, ok := ix.docIDToKey[id]; ok {
			out = append(out, k)
		}
	}
	return out
}

// DocCount reports how many distinct keys currently have at least one term
// in the index.
func (ix *Index) DocCount() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.keyToDocID)
}

// TermCount reports how many distinct stemmed terms the index has ever seen.
func (ix *Index) TermCount() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.terms)
}
