package bigmapindex

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dfinity/bigmap/internal/config"
	"github.com/dfinity/bigmap/internal/digest"
	"github.com/dfinity/bigmap/internal/fabric"
	"github.com/dfinity/bigmap/internal/metrics"
	"github.com/dfinity/bigmap/internal/shardid"
)

func newTestIndex(threshold int64) *Index {
	cfg := config.Defaults()
	cfg.UsedBytesThreshold = threshold
	cfg.BatchLimitBytes = 256
	fab := fabric.NewFake(shardid.ID("bigmap-index"))
	return New(fab, cfg, zap.NewNop(), metrics.Noop{})
}

// TestSingleShardPutGet mirrors spec.md §8 scenario 1, through the Index.
func TestSingleShardPutGet(t *testing.T) {
	ix := newTestIndex(1 << 30)
	ctx := context.Background()

	n := ix.Put(ctx, []byte("hello"), []byte("world"))
	require.EqualValues(t, 5, n)

	val, ok := ix.Get(ctx, []byte("hello"))
	assert.True(t, ok)
	assert.Equal(t, "world", string(val))
}

// TestSplitUnderThreshold mirrors spec.md §8 scenario 3: insert 1001 keys,
// drive maintenance to convergence, and verify every key is still
// retrievable with no key outside its owning shard's range.
func TestSplitUnderThreshold(t *testing.T) {
	ix := newTestIndex(5000)
	ctx := context.Background()

	for i := 0; i <= 1000; i++ {
		key := []byte(fmt.Sprintf("key-%d", i))
		val := make([]byte, 20)
		n := ix.Put(ctx, key, val)
		require.EqualValuesf(t, 20, n, "Put(%s)", key)
	}

	for round := 0; round < 50; round++ {
		msg := ix.Maintenance(ctx)
		if msg == `{"status":"Good","message":"no shard over threshold"}` {
			break
		}
	}

	for i := 0; i <= 1000; i++ {
		key := []byte(fmt.Sprintf("key-%d", i))
		val, ok := ix.Get(ctx, key)
		require.Truef(t, ok, "Get(%s) after rebalance", key)
		require.Len(t, val, 20)
	}

	got := ix.List(ctx, []byte("key-1"))
	prev := ""
	for _, k := range got {
		ks := string(k)
		assert.GreaterOrEqualf(t, len(ks), 5, "List(key-1) entry %q missing prefix", ks)
		if len(ks) >= 5 {
			assert.Equal(t, "key-1", ks[:5])
		}
		if prev != "" {
			assert.Greaterf(t, ks, prev, "List(key-1) not strictly ascending")
		}
		prev = ks
	}
}

// TestRebalanceAwareRead mirrors spec.md §8 scenario 4: mid-split, a get
// for a not-yet-relocated key must still succeed.
func TestRebalanceAwareRead(t *testing.T) {
	ix := newTestIndex(1 << 30) // large threshold: Maintenance would never split on its own
	ctx := context.Background()

	require.NoError(t, ix.EnsureAtLeastOneDataShard(ctx))
	for i := 0; i < 100; i++ {
		key := []byte(fmt.Sprintf("k-%d", i))
		ix.Put(ctx, key, []byte("v"))
	}

	ix.mu.Lock()
	srcNode := ix.dataOrder[0]
	ix.mu.Unlock()

	dstID, err := ix.provisionOne(ctx, fabric.DataShardKind)
	require.NoError(t, err)

	ix.mu.Lock()
	pos, ok := ix.dataRing.PosOf(srcNode)
	require.True(t, ok, "src not in ring")
	kPrev, kCur, _ := ix.dataRing.KeyRangeForPos(pos)
	mid := digest.Mid(kPrev, kCur)
	ix.dataRing.AddWithKey(mid, dstID)
	ix.appendOrder(fabric.DataShardKind, dstID)
	ix.inFlight = &splitPair{src: srcNode, dst: dstID}
	ix.mu.Unlock()

	require.NoError(t, ix.callSetRange(ctx, dstID, kPrev, mid))
	require.NoError(t, ix.callSetRange(ctx, srcNode, mid, kCur))

	// Relocate only the first batch — leave the split partway through.
	batch, err := ix.callGetRelocationBatch(ctx, srcNode, ix.cfg.BatchLimitBytes)
	require.NoError(t, err)
	require.NotEmpty(t, batch, "expected a non-empty first relocation batch")
	require.NoError(t, ix.callPutRelocationBatch(ctx, dstID, batch))

	digests := make([]digest.Digest, len(batch))
	for i, e := range batch {
		digests[i] = e.Digest
	}
	require.NoError(t, ix.callDeleteEntries(ctx, srcNode, digests))

	// Confirm there is still at least one unmigrated key (otherwise this
	// test isn't exercising the mid-split window at all).
	remaining, err := ix.callGetRelocationBatch(ctx, srcNode, 1<<20)
	require.NoError(t, err)
	if len(remaining) == 0 {
		t.Skip("first batch happened to relocate every out-of-range entry; nothing left to probe")
	}

	for _, e := range remaining {
		val, ok := ix.Get(ctx, e.Key)
		if assert.Truef(t, ok, "Get(%q) failed mid-split for an unmigrated key", e.Key) {
			assert.Equal(t, "v", string(val))
		}
	}
}

// TestSearchAnd mirrors spec.md §8 scenario 5.
func TestSearchAnd(t *testing.T) {
	ix := newTestIndex(1 << 30)
	ctx := context.Background()

	ix.PutAndFTSIndex(ctx, []byte("doc1"), "some text before value-7 some TERM-7 text after")
	ix.PutAndFTSIndex(ctx, []byte("doc2"), "some term-7 before value-9")

	total, results := ix.Search(ctx, "term-7 value-7")
	require.EqualValues(t, 1, total)
	require.Len(t, results, 1)
	assert.Equal(t, "doc1", string(results[0].Key))

	total, results = ix.Search(ctx, "term-7")
	assert.EqualValues(t, 2, total)
	assert.Len(t, results, 2)

	total, results = ix.Search(ctx, "Sushi")
	assert.EqualValues(t, 0, total)
	assert.Empty(t, results)
}

// TestSearchStemming mirrors spec.md §8 scenario 6.
func TestSearchStemming(t *testing.T) {
	ix := newTestIndex(1 << 30)
	ctx := context.Background()

	ix.PutAndFTSIndex(ctx, []byte("k1"), "Stemming is funnier than a bummer says the sushi loving computer scientist")

	for _, q := range []string{"stem", "love", "computing"} {
		_, results := ix.Search(ctx, q)
		if assert.Lenf(t, results, 1, "Search(%q)", q) {
			assert.Equal(t, "k1", string(results[0].Key))
		}
	}
}

func TestProvisioningReentryGuard(t *testing.T) {
	ix := newTestIndex(1 << 30)
	ctx := context.Background()
	ix.mu.Lock()
	ix.creatingData = true
	ix.mu.Unlock()

	err := ix.EnsureAtLeastOneDataShard(ctx)
	assert.ErrorIs(t, err, ErrAlreadyCreatingData)
}

func TestMaintenanceReentryGuard(t *testing.T) {
	ix := newTestIndex(1 << 30)
	ctx := context.Background()
	ix.mu.Lock()
	ix.maintaining = true
	ix.mu.Unlock()

	got := ix.Maintenance(ctx)
	assert.Equal(t, `{"status":"Good","message":"Already rebalancing"}`, got)
}
