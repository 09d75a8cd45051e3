package datashard

import (
	"bytes"
	"testing"

	"github.com/dfinity/bigmap/internal/digest"
)

// TestSingleShardPutGet mirrors spec.md §8 scenario 1.
func TestSingleShardPutGet(t *testing.T) {
	s := New() // default range spans the whole digest space

	n, err := s.Put([]byte("hello"), []byte("world"), false)
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if n != 5 {
		t.Errorf("Put returned %d, want 5", n)
	}

	val, ok := s.Get([]byte("hello"))
	if !ok || !bytes.Equal(val, []byte("world")) {
		t.Errorf("Get = (%q, %v), want (world, true)", val, ok)
	}

	if got := s.UsedBytes(); got < 5+5+32 {
		t.Errorf("UsedBytes = %d, want >= 42", got)
	}
}

func TestAppend(t *testing.T) {
	s := New()
	if _, err := s.Put([]byte("k"), []byte("a"), false); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Put([]byte("k"), []byte("b"), true); err != nil {
		t.Fatal(err)
	}
	val, ok := s.Get([]byte("k"))
	if !ok || !bytes.Equal(val, []byte("ab")) {
		t.Errorf("Get after append = (%q, %v), want (ab, true)", val, ok)
	}
}

func TestIdempotentPutLeavesUsedBytesUnchanged(t *testing.T) {
	s := New()
	if _, err := s.Put([]byte("k"), []byte("v"), false); err != nil {
		t.Fatal(err)
	}
	first := s.UsedBytes()
	if _, err := s.Put([]byte("k"), []byte("v"), false); err != nil {
		t.Fatal(err)
	}
	if second := s.UsedBytes(); second != first {
		t.Errorf("UsedBytes after repeated identical put = %d, want %d", second, first)
	}
}

func TestPutOutOfRange(t *testing.T) {
	s := New()
	// Narrow the range to exclude everything by making start == end == Max.
	s.SetRange(digest.Max, digest.Max)

	_, err := s.Put([]byte("anything"), []byte("v"), false)
	if err == nil {
		t.Fatal("expected ErrKeyOutOfRange")
	}
}

func TestDeleteIsIdempotentAndAccountsBytes(t *testing.T) {
	s := New()
	if _, err := s.Put([]byte("k"), []byte("value"), false); err != nil {
		t.Fatal(err)
	}
	freed := s.Delete([]byte("k"))
	if freed != 5 {
		t.Errorf("Delete returned %d, want 5", freed)
	}
	if s.UsedBytes() != 0 {
		t.Errorf("UsedBytes after delete = %d, want 0", s.UsedBytes())
	}
	if s.Delete([]byte("k")) != 0 {
		t.Error("second delete of same key should return 0, not error")
	}
}

func TestListPrefixFiltersKeys(t *testing.T) {
	s := New()
	keys := []string{"key-1", "key-10", "key-2", "other"}
	for _, k := range keys {
		if _, err := s.Put([]byte(k), []byte("v"), false); err != nil {
			t.Fatal(err)
		}
	}

	got := s.List([]byte("key-1"), 1000)
	if len(got) != 2 {
		t.Fatalf("List returned %d keys, want 2 (key-1, key-10)", len(got))
	}
	for _, k := range got {
		if !hasPrefix(k, []byte("key-1")) {
			t.Errorf("List returned key %q without requested prefix", k)
		}
	}
}

func TestRelocationBatchRoundTrip(t *testing.T) {
	donor := New()
	for i := 0; i < 20; i++ {
		key := []byte{byte(i)}
		if _, err := donor.Put(key, []byte("v"), false); err != nil {
			t.Fatal(err)
		}
	}

	// Narrow donor's range to only the upper half; every entry whose digest
	// now falls below the new start is relocation-eligible.
	_, end := donor.Range()
	mid := digest.Mid(digest.Zero, end)
	donor.SetRange(mid, end)

	batch := donor.GetRelocationBatch(1 << 20)
	if len(batch) == 0 {
		t.Fatal("expected a non-empty relocation batch after narrowing range")
	}
	for _, re := range batch {
		if inRange(re.Digest, mid, end) {
			t.Errorf("relocation batch contains entry still in donor's range: %x", re.Digest)
		}
	}

	dst := New()
	dst.SetRange(digest.Zero, mid)
	accepted, dropped := dst.PutRelocationBatch(batch)
	if accepted != len(batch) {
		t.Errorf("accepted %d of %d batch entries", accepted, len(batch))
	}
	if len(dropped) != 0 {
		t.Errorf("unexpected drops: %d", len(dropped))
	}

	digests := make([]digest.Digest, len(batch))
	for i, re := range batch {
		digests[i] = re.Digest
	}
	donor.DeleteEntries(digests)

	if got := donor.GetRelocationBatch(1 << 20); len(got) != 0 {
		t.Errorf("donor still has %d relocation-eligible entries after DeleteEntries", len(got))
	}
}

func TestPutRelocationBatchDropsOutOfRange(t *testing.T) {
	dst := New()
	_, end := dst.Range()
	mid := digest.Mid(digest.Zero, end)
	dst.SetRange(digest.Zero, mid)

	outOfRange := RelocationEntry{Digest: end, Key: []byte("k"), Val: []byte("v")}
	accepted, dropped := dst.PutRelocationBatch([]RelocationEntry{outOfRange})
	if accepted != 0 || len(dropped) != 1 {
		t.Errorf("accepted=%d dropped=%d, want accepted=0 dropped=1", accepted, len(dropped))
	}
}

func TestGetRandomKeyReturnsHexDigestOnFullRangeShard(t *testing.T) {
	s := New()
	hexKey := s.GetRandomKey([]byte("seed"), 100)
	if hexKey == "" {
		t.Fatal("expected a random key on a full-range shard")
	}
	if len(hexKey) != 64 {
		t.Errorf("hex digest length = %d, want 64", len(hexKey))
	}
}

func TestSeedRandomData(t *testing.T) {
	s := New()
	keys, err := s.SeedRandomData(10, 16, 100)
	if err != nil {
		t.Fatalf("SeedRandomData failed: %v", err)
	}
	if len(keys) != 10 {
		t.Fatalf("generated %d keys, want 10", len(keys))
	}
	for _, k := range keys {
		val, ok := s.Get(k)
		if !ok || len(val) != 16 {
			t.Errorf("seeded key %q missing or wrong size", k)
		}
	}
}
