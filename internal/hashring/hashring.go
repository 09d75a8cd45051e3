// Package hashring implements BigMap's SHA-256 consistent-hash ring: an
// ordered sequence of (Digest, node) entries that tile the 256-bit digest
// space with no gaps and no overlaps. See spec.md §4.1 for the contract this
// package implements and original_source/src/hashring_sha256.rs for the
// reference algorithm it was ported from.
//
// A ring entry with key k owns the half-open interval (prevKey, k], where
// prevKey is the zero digest for the first entry in ring order. Placement
// uses the deterministic "bisect the largest gap" rule rather than
// randomized virtual nodes, so that shard placement is reproducible without
// a PRNG (spec.md §4.1 "Rationale").
package hashring

import (
	"sort"
	"sync"

	"github.com/dfinity/bigmap/internal/digest"
)

// entry is one (key, node) pair in ring order.
type entry[T any] struct {
	key  digest.Digest
	node T
}

// Ring is an ordered, thread-safe collection of (Digest, node) pairs. The
// zero value is an empty, ready-to-use ring. T is required to be comparable
// so that PosOf can locate a node without the caller tracking positions
// itself.
type Ring[T comparable] struct {
	mu      sync.RWMutex
	entries []entry[T]
}

// New returns an empty ring.
func New[T comparable]() *Ring[T] {
	return &Ring[T]{}
}

// Len returns the number of entries currently in the ring.
func (r *Ring[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

func (r *Ring[T]) sortLocked() {
	sort.Slice(r.entries, func(i, j int) bool {
		return digest.Less(r.entries[i].key, r.entries[j].key)
	})
}

// Add inserts node at the midpoint of the ring's largest gap (spec.md §4.1
// "Placement algorithm"), or at the all-ones digest if the ring is empty.
// Returns the position the node was placed at and the key it was assigned.
func (r *Ring[T]) Add(node T) (pos int, key digest.Digest) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.entries) == 0 {
		key = digest.Max
	} else {
		maxGapIdx := 0
		maxGapPrev := digest.Zero
		maxGapCur := r.entries[0].key
		prevKey := digest.Zero
		for i, e := range r.entries {
			gapPrev := prevKey
			gapCur := e.key
			if i == 0 || betterGap(gapPrev, gapCur, maxGapPrev, maxGapCur) {
				maxGapIdx, maxGapPrev, maxGapCur = i, gapPrev, gapCur
			}
			prevKey = e.key
		}
		key = digest.Mid(maxGapPrev, maxGapCur)
		pos = maxGapIdx
	}

	r.entries = append(r.entries, entry[T]{key: key, node: node})
	r.sortLocked()

	for i, e := range r.entries {
		if e.key == key {
			pos = i
			break
		}
	}
	return pos, key
}

// betterGap reports whether the gap (prev, cur] is strictly larger than the
// current best (bestPrev, bestCur]. Ties go to the earliest gap encountered,
// so this must only return true for a strictly larger gap.
func betterGap(prev, cur, bestPrev, bestCur digest.Digest) bool {
	gap := gapSize(prev, cur)
	best := gapSize(bestPrev, bestCur)
	return digest.Less(best, gap)
}

func gapSize(prev, cur digest.Digest) digest.Digest {
	return digest.Sub(prev, cur)
}

// AddWithKey inserts node at the explicit key k, used by rebalancing to
// split a shard's range exactly in half (spec.md §4.2.4). Returns the
// position the node landed at after re-sorting.
func (r *Ring[T]) AddWithKey(key digest.Digest, node T) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries = append(r.entries, entry[T]{key: key, node: node})
	r.sortLocked()

	for i, e := range r.entries {
		if e.key == key {
			return i
		}
	}
	return len(r.entries) - 1
}

// Ceil returns the position and node of the least ring entry whose key is
// greater than or equal to d, wrapping to position 0 if d exceeds the
// maximum key in the ring (spec.md §4.1 "Lookup by digest"). ok is false
// only when the ring is empty.
func (r *Ring[T]) Ceil(d digest.Digest) (pos int, node T, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.entries) == 0 {
		var zero T
		return 0, zero, false
	}

	i := sort.Search(len(r.entries), func(i int) bool {
		return !digest.Less(r.entries[i].key, d)
	})
	if i == len(r.entries) {
		i = 0
	}
	return i, r.entries[i].node, true
}

// KeyRangeForPos returns (prevKeyOrZero, entries[pos].key), the half-open
// interval the entry at pos is responsible for. ok is false if pos is out of
// range.
func (r *Ring[T]) KeyRangeForPos(pos int) (lo, hi digest.Digest, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if pos < 0 || pos >= len(r.entries) {
		return digest.Zero, digest.Zero, false
	}
	if pos == 0 {
		return digest.Zero, r.entries[0].key, true
	}
	return r.entries[pos-1].key, r.entries[pos].key, true
}

// NodeAt returns the node stored at position pos.
func (r *Ring[T]) NodeAt(pos int) (node T, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if pos < 0 || pos >= len(r.entries) {
		var zero T
		return zero, false
	}
	return r.entries[pos].node, true
}

// PosOf returns the ring position of node, if present. Used by the split
// driver to find a shard's current interval before inserting a neighbour.
func (r *Ring[T]) PosOf(node T) (pos int, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for i, e := range r.entries {
		if e.node == node {
			return i, true
		}
	}
	return 0, false
}

// Nodes returns a snapshot copy of every node currently in the ring, in ring
// (ascending key) order.
func (r *Ring[T]) Nodes() []T {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]T, len(r.entries))
	for i, e := range r.entries {
		out[i] = e.node
	}
	return out
}
