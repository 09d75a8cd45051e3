package bigmapindex

import (
	"context"
	"encoding/json"

	"github.com/bits-and-blooms/bitset"
	"go.uber.org/zap"

	"github.com/dfinity/bigmap/internal/datashard"
	"github.com/dfinity/bigmap/internal/digest"
	"github.com/dfinity/bigmap/internal/fabric"
	"github.com/dfinity/bigmap/internal/shardid"
)

// maintenanceResult is the JSON shape of maintenance() per spec.md §6.1.
type maintenanceResult struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

func (r maintenanceResult) json() string {
	b, _ := json.Marshal(r)
	return string(b)
}

// Maintenance implements maintenance() (spec.md §4.2.4): at most one pass
// may be in flight; a re-entrant call returns "Already rebalancing" without
// touching state. Otherwise it walks the data shard table in insertion
// order, splitting every shard whose used_bytes exceeds the configured
// threshold.
func (ix *Index) Maintenance(ctx context.Context) string {
	ix.mu.Lock()
	if ix.maintaining {
		ix.mu.Unlock()
		return maintenanceResult{Status: "Good", Message: "Already rebalancing"}.json()
	}
	ix.maintaining = true
	ix.mu.Unlock()

	defer func() {
		ix.mu.Lock()
		ix.maintaining = false
		ix.mu.Unlock()
	}()

	if err := ix.EnsureAtLeastOneDataShard(ctx); err != nil {
		return maintenanceResult{Status: "Good", Message: "no shards to scan"}.json()
	}

	ix.mu.Lock()
	order := append([]string(nil), ix.dataOrder...)
	threshold := ix.usedBytesThreshold
	ix.mu.Unlock()

	// Scan every shard's used_bytes before acting on any of them: a split
	// provisions a fresh shard and appends it to dataOrder mid-loop, so
	// deciding "which of the shards present at scan start are over
	// threshold" up front keeps the split pass from reconsidering shards
	// that only exist because of an earlier split in this same call.
	over := bitset.New(uint(len(order)))
	for i, node := range order {
		if ix.callUsedBytes(ctx, node) > threshold {
			over.Set(uint(i))
		}
	}

	splits := 0
	for i, e := over.NextSet(0); e; i, e = over.NextSet(i + 1) {
		node := order[i]
		if err := ix.split(ctx, node); err != nil {
			ix.log.Warn("split failed", zap.String("shard", node), zap.Error(err))
			continue
		}
		splits++
		ix.met.IncSplit()
	}

	if splits == 0 {
		return maintenanceResult{Status: "Good", Message: "no shard over threshold"}.json()
	}
	return maintenanceResult{Status: "Good", Message: "rebalance pass complete"}.json()
}

// split implements one pass of the rebalance loop in spec.md §4.2.4 for a
// single over-threshold shard srcNode:
//  1. provision a neighbour D.
//  2. ring_add_before(S, D): find S's current position, compute the
//     midpoint of its interval, insert D there.
//  3. set_range(D, [k_prev, mid]) then set_range(S, [mid, k_i]), in that
//     order, so D's range is committed before S's restriction takes effect.
//  4. relocate batches from S to D until S reports an empty batch.
func (ix *Index) split(ctx context.Context, srcNode string) error {
	dstID, err := ix.provisionOne(ctx, fabric.DataShardKind)
	if err != nil {
		return err
	}

	ix.mu.Lock()
	pos, ok := ix.dataRing.PosOf(srcNode)
	if !ok {
		ix.mu.Unlock()
		return errShardNotInRing(srcNode)
	}
	kPrev, kCur, _ := ix.dataRing.KeyRangeForPos(pos)
	mid := digest.Mid(kPrev, kCur)
	ix.dataRing.AddWithKey(mid, dstID)
	ix.appendOrder(fabric.DataShardKind, dstID)
	ix.inFlight = &splitPair{src: srcNode, dst: dstID}
	ix.mu.Unlock()

	if err := ix.callSetRange(ctx, dstID, kPrev, mid); err != nil {
		return err
	}
	if err := ix.callSetRange(ctx, srcNode, mid, kCur); err != nil {
		return err
	}

	for {
		batch, err := ix.callGetRelocationBatch(ctx, srcNode, ix.cfg.BatchLimitBytes)
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			break
		}
		if err := ix.callPutRelocationBatch(ctx, dstID, batch); err != nil {
			return err
		}
		digests := make([]digest.Digest, len(batch))
		for i, e := range batch {
			digests[i] = e.Digest
		}
		if err := ix.callDeleteEntries(ctx, srcNode, digests); err != nil {
			return err
		}
	}

	ix.mu.Lock()
	ix.inFlight = nil
	ix.mu.Unlock()
	return nil
}

type shardNotInRingError string

func (e shardNotInRingError) Error() string { return "bigmapindex: shard not in ring: " + string(e) }

func errShardNotInRing(node string) error { return shardNotInRingError(node) }

func (ix *Index) callSetRange(ctx context.Context, node string, start, end digest.Digest) error {
	args, err := fabric.EncodeArgs(fabric.SetRangeArgs{Start: start, End: end})
	if err != nil {
		return err
	}
	_, err = ix.fab.Call(ctx, shardid.ID(node), fabric.MethodSetRange, args)
	return err
}

func (ix *Index) callGetRelocationBatch(ctx context.Context, node string, limitBytes int64) ([]datashard.RelocationEntry, error) {
	args, err := fabric.EncodeArgs(fabric.GetRelocationBatchArgs{LimitBytes: limitBytes})
	if err != nil {
		return nil, err
	}
	raw, err := ix.fab.Call(ctx, shardid.ID(node), fabric.MethodGetRelocationBatch, args)
	if err != nil {
		return nil, err
	}
	reply, err := fabric.DecodeArgs[fabric.GetRelocationBatchReply](raw)
	if err != nil {
		return nil, err
	}
	return reply.Batch, nil
}

func (ix *Index) callPutRelocationBatch(ctx context.Context, node string, batch []datashard.RelocationEntry) error {
	args, err := fabric.EncodeArgs(fabric.PutRelocationBatchArgs{Batch: batch})
	if err != nil {
		return err
	}
	raw, err := ix.fab.Call(ctx, shardid.ID(node), fabric.MethodPutRelocationBatch, args)
	if err != nil {
		return err
	}
	if _, err := fabric.DecodeArgs[fabric.PutRelocationBatchReply](raw); err != nil {
		return err
	}
	return nil
}

func (ix *Index) callDeleteEntries(ctx context.Context, node string, digests []digest.Digest) error {
	args, err := fabric.EncodeArgs(fabric.DeleteEntriesArgs{Digests: digests})
	if err != nil {
		return err
	}
	_, err = ix.fab.Call(ctx, shardid.ID(node), fabric.MethodDeleteEntries, args)
	return err
}
