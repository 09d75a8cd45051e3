package hashring

import (
	"testing"

	"github.com/dfinity/bigmap/internal/digest"
)

// TestAddFourShards verifies the exact placement sequence from spec.md §8
// scenario 2: inserting 4 empty shards must yield ring keys
// {M, M/2, 3M/4, M/4} in that insertion order, where M = 2^256-1.
func TestAddFourShards(t *testing.T) {
	r := New[string]()

	_, k1 := r.Add("shard-1")
	if k1 != digest.Max {
		t.Fatalf("first insertion key = %x, want max", k1)
	}

	_, k2 := r.Add("shard-2")
	half := digest.Mid(digest.Zero, digest.Max)
	if k2 != half {
		t.Fatalf("second insertion key = %x, want %x (M/2)", k2, half)
	}

	_, k3 := r.Add("shard-3")
	threeQuarter := digest.Mid(half, digest.Max)
	if k3 != threeQuarter {
		t.Fatalf("third insertion key = %x, want %x (3M/4)", k3, threeQuarter)
	}

	_, k4 := r.Add("shard-4")
	quarter := digest.Mid(digest.Zero, half)
	if k4 != quarter {
		t.Fatalf("fourth insertion key = %x, want %x (M/4)", k4, quarter)
	}

	if r.Len() != 4 {
		t.Fatalf("ring length = %d, want 4", r.Len())
	}

	// Ring order ascending: M/4, M/2, 3M/4, M
	wantOrder := []digest.Digest{quarter, half, threeQuarter, digest.Max}
	for i, want := range wantOrder {
		lo, hi, ok := r.KeyRangeForPos(i)
		if !ok {
			t.Fatalf("KeyRangeForPos(%d) not ok", i)
		}
		if hi != want {
			t.Errorf("position %d key = %x, want %x", i, hi, want)
		}
		if i == 0 {
			if lo != digest.Zero {
				t.Errorf("first entry lo = %x, want zero", lo)
			}
		} else if lo != wantOrder[i-1] {
			t.Errorf("position %d lo = %x, want %x", i, lo, wantOrder[i-1])
		}
	}
}

func TestCeilWrapsToFirst(t *testing.T) {
	r := New[string]()
	r.Add("only-shard")

	pos, node, ok := r.Ceil(digest.Sum([]byte("anything")))
	if !ok {
		t.Fatal("Ceil on non-empty ring returned !ok")
	}
	if pos != 0 || node != "only-shard" {
		t.Errorf("Ceil = (%d, %q), want (0, only-shard)", pos, node)
	}
}

func TestCeilEmptyRing(t *testing.T) {
	r := New[string]()
	_, _, ok := r.Ceil(digest.Zero)
	if ok {
		t.Error("Ceil on empty ring should return ok=false")
	}
}

func TestAddWithKeySplitsRange(t *testing.T) {
	r := New[string]()
	r.Add("A") // key = Max, range (0, Max]

	mid := digest.Mid(digest.Zero, digest.Max)
	pos := r.AddWithKey(mid, "B")

	if pos != 0 {
		t.Fatalf("AddWithKey position = %d, want 0", pos)
	}
	lo, hi, ok := r.KeyRangeForPos(0)
	if !ok || lo != digest.Zero || hi != mid {
		t.Errorf("B's range = [%x, %x], want [0, %x]", lo, hi, mid)
	}
	lo, hi, ok = r.KeyRangeForPos(1)
	if !ok || lo != mid || hi != digest.Max {
		t.Errorf("A's range = [%x, %x], want [%x, max]", lo, hi, mid)
	}
}
