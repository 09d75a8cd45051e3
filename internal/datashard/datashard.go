// Package datashard implements DataShard, the range-owning key-value store
// described in spec.md §4.3. Each DataShard is responsible for a contiguous
// half-open digest interval [RangeStart, RangeEnd) assigned to it by the
// Index, and supports overwrite/append mutation, deterministic relocation
// batches for online rebalancing, and the auxiliary operations (list,
// random-key generation, deterministic corpus seeding) the Index's RPC
// surface forwards to it.
//
// Grounded on original_source/src/bigmap_data.rs for exact semantics and on
// johnjansen-torua/internal/shard/shard.go + internal/storage/store.go for
// Go idiom: operation counters, RWMutex-guarded state, sentinel
// errors declared beside the type that raises them.
package datashard

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dfinity/bigmap/internal/digest"
)

// ErrKeyOutOfRange is returned by Put when the key's digest does not fall
// within the shard's currently assigned range (spec.md §4.3, §7
// RangeViolation).
var ErrKeyOutOfRange = errors.New("datashard: key out of range")

// entry is one stored key-value pair, keyed by its digest.
type entry struct {
	key Key
	val Val
}

// Key and Val are opaque byte strings, matching spec.md §3's primitive
// types.
type Key = []byte
type Val = []byte

// OperationStats tracks cumulative operation counts for monitoring,
// mirroring torua's shard.OperationStats shape.
type OperationStats struct {
	Gets    uint64
	Puts    uint64
	Appends uint64
	Deletes uint64
}

// DataShard is a single range-owning KV partition. All exported methods are
// safe for concurrent use.
type DataShard struct {
	mu sync.RWMutex

	// entries maps digest -> (key, val). digestOrder is kept sorted
	// ascending so relocation batches and list scans have deterministic,
	// reproducible iteration order (spec.md §4.3 "Ordering").
	entries     map[digest.Digest]entry
	digestOrder []digest.Digest

	rangeStart digest.Digest
	rangeEnd   digest.Digest
	usedBytes  int64

	stats OperationStats
}

// New creates a DataShard with its range initially spanning the entire
// digest space; the Index narrows it via SetRange once the shard takes its
// position in the ring.
func New() *DataShard {
	return &DataShard{
		entries:    make(map[digest.Digest]entry),
		rangeStart: digest.Zero,
		rangeEnd:   digest.Max,
	}
}

func entryBytes(key, val Key) int64 {
	return int64(len(key) + len(val) + 32)
}

// inRange reports whether d falls within [start, end). end is treated as an
// exclusive upper bound except when end == digest.Max, in which case the
// interval is closed on the right to let a shard own the very last digest in
// the space (mirrors spec.md §3 I1's half-open [range_start, range_end)
// convention, with range_end == max digest acting as the wraparound
// sentinel for the final ring entry).
func inRange(d, start, end digest.Digest) bool {
	if digest.Less(d, start) {
		return false
	}
	if end == digest.Max {
		return !digest.Less(end, d)
	}
	return digest.Less(d, end)
}

// SetRange updates the shard's assigned digest interval. Called by the
// Index after ring placement (spec.md §4.2.4).
func (s *DataShard) SetRange(start, end digest.Digest) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rangeStart, s.rangeEnd = start, end
}

// Range returns the shard's currently assigned [start, end) interval.
func (s *DataShard) Range() (start, end digest.Digest) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rangeStart, s.rangeEnd
}

// UsedBytes returns the exact running total of len(key)+len(val)+32 summed
// over every stored entry (spec.md §3 I3).
func (s *DataShard) UsedBytes() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.usedBytes
}

// Stats returns a snapshot of cumulative operation counts.
func (s *DataShard) Stats() OperationStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stats
}

// insertDigestOrderLocked inserts d into the sorted digestOrder slice if not
// already present. Caller must hold the write lock.
func (s *DataShard) insertDigestOrderLocked(d digest.Digest) {
	i := sort.Search(len(s.digestOrder), func(i int) bool {
		return !digest.Less(s.digestOrder[i], d)
	})
	if i < len(s.digestOrder) && s.digestOrder[i] == d {
		return
	}
	s.digestOrder = append(s.digestOrder, digest.Digest{})
	copy(s.digestOrder[i+1:], s.digestOrder[i:])
	s.digestOrder[i] = d
}

func (s *DataShard) removeDigestOrderLocked(d digest.Digest) {
	i := sort.Search(len(s.digestOrder), func(i int) bool {
		return !digest.Less(s.digestOrder[i], d)
	})
	if i < len(s.digestOrder) && s.digestOrder[i] == d {
		s.digestOrder = append(s.digestOrder[:i], s.digestOrder[i+1:]...)
	}
}

// Put stores or appends to key depending on append, per spec.md §4.3
// "put(key, val, append)". Returns the new value's length, or
// ErrKeyOutOfRange if key's digest does not fall within the shard's current
// range.
func (s *DataShard) Put(key Key, val Val, append_ bool) (int, error) {
	d := digest.Sum(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	if !inRange(d, s.rangeStart, s.rangeEnd) {
		return 0, fmt.Errorf("%w: digest %x not in [%x, %x)", ErrKeyOutOfRange, d, s.rangeStart, s.rangeEnd)
	}

	old, exists := s.entries[d]

	var newVal Val
	if append_ && exists {
		newVal = make(Val, 0, len(old.val)+len(val))
		newVal = append(newVal, old.val...)
		newVal = append(newVal, val...)
		s.usedBytes += entryBytes(key, newVal) - entryBytes(old.key, old.val)
		s.stats.Appends++
	} else {
		newVal = append(Val(nil), val...)
		if exists {
			s.usedBytes -= entryBytes(old.key, old.val)
		}
		s.usedBytes += entryBytes(key, newVal)
		s.stats.Puts++
	}

	s.entries[d] = entry{key: append(Key(nil), key...), val: newVal}
	if !exists {
		s.insertDigestOrderLocked(d)
	}
	return len(newVal), nil
}

// Get retrieves the value stored for key, and whether it was found.
func (s *DataShard) Get(key Key) (Val, bool) {
	d := digest.Sum(key)

	s.mu.Lock()
	s.stats.Gets++
	e, ok := s.entries[d]
	s.mu.Unlock()

	if !ok {
		return nil, false
	}
	return append(Val(nil), e.val...), true
}

// HoldsKey reports whether the shard currently stores an entry for key,
// regardless of whether the digest falls within the shard's assigned range
// — used by the Index's rebalance-aware read probe (spec.md §4.2.1) where a
// donor may still physically hold entries just reassigned to a neighbour.
func (s *DataShard) HoldsKey(key Key) bool {
	d := digest.Sum(key)
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.entries[d]
	return ok
}

// Delete removes key if present, returning the freed value length.
func (s *DataShard) Delete(key Key) int {
	d := digest.Sum(key)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.Deletes++

	e, ok := s.entries[d]
	if !ok {
		return 0
	}
	s.usedBytes -= entryBytes(e.key, e.val)
	delete(s.entries, d)
	s.removeDigestOrderLocked(d)
	return len(e.val)
}

// List returns keys beginning with prefix, in digest order, capped at
// listCap entries.
func (s *DataShard) List(prefix []byte, listCap int) []Key {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Key, 0)
	for _, d := range s.digestOrder {
		if len(out) >= listCap {
			break
		}
		e := s.entries[d]
		if hasPrefix(e.key, prefix) {
			out = append(out, append(Key(nil), e.key...))
		}
	}
	return out
}

func hasPrefix(key, prefix []byte) bool {
	if len(prefix) > len(key) {
		return false
	}
	for i := range prefix {
		if key[i] != prefix[i] {
			return false
		}
	}
	return true
}

// RelocationEntry is one (digest, key, val) tuple moved between shards
// during a split (spec.md §4.2.4 "Batch contract").
type RelocationEntry struct {
	Digest digest.Digest
	Key    Key
	Val    Val
}

// GetRelocationBatch iterates entries in digest order, returning those whose
// digest falls outside the shard's *current* range, stopping before the
// emitted payload would exceed limitBytes. The first eligible entry is always
// emitted, even when it alone is larger than limitBytes. It has no side effects; deleting
// relocated entries is the Index's responsibility (spec.md §4.3).
func (s *DataShard) GetRelocationBatch(limitBytes int64) []RelocationEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []RelocationEntry
	var total int64
	for _, d := range s.digestOrder {
		if inRange(d, s.rangeStart, s.rangeEnd) {
			continue
		}
		e := s.entries[d]
		size := entryBytes(e.key, e.val)
		if total > 0 && total+size > limitBytes {
			break
		}
		out = append(out, RelocationEntry{Digest: d, Key: append(Key(nil), e.key...), Val: append(Val(nil), e.val...)})
		total += size
		if total >= limitBytes {
			break
		}
	}
	return out
}

// PutRelocationBatch accepts entries whose digest is within the shard's
// current range (overwrite semantics, no append) and silently drops the
// rest, logging is left to the caller (spec.md §4.2.4 "Batch contract",
// §7 RelocationMisdelivery). Returns the number of entries accepted.
func (s *DataShard) PutRelocationBatch(batch []RelocationEntry) (accepted int, dropped []RelocationEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, re := range batch {
		if !inRange(re.Digest, s.rangeStart, s.rangeEnd) {
			dropped = append(dropped, re)
			continue
		}
		if old, exists := s.entries[re.Digest]; exists {
			s.usedBytes -= entryBytes(old.key, old.val)
		} else {
			s.insertDigestOrderLocked(re.Digest)
		}
		s.entries[re.Digest] = entry{key: append(Key(nil), re.Key...), val: append(Val(nil), re.Val...)}
		s.usedBytes += entryBytes(re.Key, re.Val)
		accepted++
	}
	return accepted, dropped
}

// DeleteEntries removes each listed digest if present, adjusting usedBytes.
// Used by the Index after a relocation batch has been accepted by the
// destination shard.
func (s *DataShard) DeleteEntries(digests []digest.Digest) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, d := range digests {
		e, ok := s.entries[d]
		if !ok {
			continue
		}
		s.usedBytes -= entryBytes(e.key, e.val)
		delete(s.entries, d)
		s.removeDigestOrderLocked(d)
	}
}

// GetRandomKey iterates d_{i+1} = sha256(d_i), seeded from seed (or the
// clock if seed is nil), for up to attempts rounds, returning the hex of the
// first digest that lies within the shard's range and is not already a
// stored key (spec.md §4.3). Returns "" if attempts is exhausted.
func (s *DataShard) GetRandomKey(seed []byte, attempts int) string {
	var d digest.Digest
	if len(seed) > 0 {
		d = digest.Sum(seed)
	} else {
		d = digest.Sum(clockSeed())
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := 0; i < attempts; i++ {
		d = digest.Sum(d[:])
		if !inRange(d, s.rangeStart, s.rangeEnd) {
			continue
		}
		if _, exists := s.entries[d]; !exists {
			return d.Hex()
		}
	}
	return ""
}

func clockSeed() []byte {
	now := time.Now().UnixNano()
	b := make([]byte, 8)
	for i := 0; i < 8; i++ {
		b[i] = byte(now >> (8 * i))
	}
	return b
}

// SeedRandomData generates n deterministic keys via repeated GetRandomKey
// calls and stores a size-byte zero value under each, returning the
// generated keys. Used to build reproducible test corpora (spec.md §4.3).
func (s *DataShard) SeedRandomData(n, size, attempts int) ([]Key, error) {
	keys := make([]Key, 0, n)
	for i := 0; i < n; i++ {
		hexKey := s.GetRandomKey(seedFor(i), attempts)
		if hexKey == "" {
			return keys, fmt.Errorf("datashard: exhausted %d attempts generating random key %d/%d", attempts, i+1, n)
		}
		key := []byte(hexKey)
		val := make(Val, size)
		if _, err := s.Put(key, val, false); err != nil {
			return keys, err
		}
		keys = append(keys, key)
	}
	return keys, nil
}

// seedFor derives the walk seed of the i-th generated key, so that a shard
// with the same range and contents yields the same keys on every run.
func seedFor(i int) []byte {
	return []byte(fmt.Sprintf("seed_random_data/%d", i))
}
