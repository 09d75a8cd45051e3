package bigmapindex

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/dfinity/bigmap/internal/fabric"
	"github.com/dfinity/bigmap/internal/shardid"
)

// Put implements put(key, val) (spec.md §4.2.3 table): ensure at least one
// data shard, route by digest, forward, and return bytes written (0 on any
// routing or Fabric failure — never an error to the caller).
func (ix *Index) Put(ctx context.Context, key, val []byte) uint64 {
	if err := ix.EnsureAtLeastOneDataShard(ctx); err != nil {
		return 0
	}
	node, ok := ix.lookupPut(key)
	if !ok {
		return 0
	}
	return uint64(ix.callPut(ctx, node, key, val, false))
}

// Append implements append(key, val): identical routing and error policy to
// Put, with append semantics at the shard.
func (ix *Index) Append(ctx context.Context, key, val []byte) uint64 {
	if err := ix.EnsureAtLeastOneDataShard(ctx); err != nil {
		return 0
	}
	node, ok := ix.lookupPut(key)
	if !ok {
		return 0
	}
	return uint64(ix.callPut(ctx, node, key, val, true))
}

func (ix *Index) callPut(ctx context.Context, node string, key, val []byte, appendMode bool) int {
	args, err := fabric.EncodeArgs(fabric.PutArgs{Key: key, Val: val, Append: appendMode})
	if err != nil {
		return 0
	}
	raw, err := ix.fab.Call(ctx, shardid.ID(node), fabric.MethodPut, args)
	if err != nil {
		ix.log.Debug("put call failed", zap.String("shard", node), zap.Error(err))
		return 0
	}
	reply, err := fabric.DecodeArgs[fabric.PutReply](raw)
	if err != nil || reply.Err != "" {
		return 0
	}
	if appendMode {
		ix.met.IncAppend()
	} else {
		ix.met.IncPut()
	}
	return reply.Length
}

// KV is a client-supplied key/value pair for BatchPut.
type KV struct {
	Key, Val []byte
}

// BatchPut implements batch_put(pairs) (spec.md §4.2.3): group by
// destination shard, issue one RPC per group, sum per-group successes. A
// failing group reduces the count but never aborts the rest.
func (ix *Index) BatchPut(ctx context.Context, pairs []KV) uint64 {
	if len(pairs) == 0 {
		return 0
	}
	if err := ix.EnsureAtLeastOneDataShard(ctx); err != nil {
		return 0
	}

	byShard := make(map[string][]fabric.KVPair)
	for _, kv := range pairs {
		node, ok := ix.lookupPut(kv.Key)
		if !ok {
			continue
		}
		byShard[node] = append(byShard[node], fabric.KVPair{Key: kv.Key, Val: kv.Val})
	}

	var total uint64
	for node, group := range byShard {
		args, err := fabric.EncodeArgs(fabric.BatchPutArgs{Pairs: group})
		if err != nil {
			continue
		}
		raw, err := ix.fab.Call(ctx, shardid.ID(node), fabric.MethodBatchPut, args)
		if err != nil {
			ix.log.Debug("batch_put call failed", zap.String("shard", node), zap.Error(err))
			continue
		}
		reply, err := fabric.DecodeArgs[fabric.BatchPutReply](raw)
		if err != nil {
			continue
		}
		total += uint64(reply.Count)
	}
	ix.met.IncBatchPut(int(total))
	return total
}

// Get implements get(key): rebalance-aware lookup, forwards to the shard,
// and returns (nil, false) if there is no owner or the shard has no value.
func (ix *Index) Get(ctx context.Context, key []byte) ([]byte, bool) {
	node, ok := ix.lookupGet(ctx, key)
	if !ok {
		return nil, false
	}
	args, err := fabric.EncodeArgs(fabric.GetArgs{Key: key})
	if err != nil {
		return nil, false
	}
	raw, err := ix.fab.Call(ctx, shardid.ID(node), fabric.MethodGet, args)
	if err != nil {
		ix.log.Debug("get call failed", zap.String("shard", node), zap.Error(err))
		return nil, false
	}
	reply, err := fabric.DecodeArgs[fabric.GetReply](raw)
	if err != nil || !reply.Found {
		return nil, false
	}
	ix.met.IncGet()
	return reply.Val, true
}

// Delete implements delete(key): routes via lookup_put (not the
// rebalance-aware probe — spec.md §4.2.3), returns freed value length.
func (ix *Index) Delete(ctx context.Context, key []byte) uint64 {
	node, ok := ix.lookupPut(key)
	if !ok {
		return 0
	}
	args, err := fabric.EncodeArgs(fabric.DeleteArgs{Key: key})
	if err != nil {
		return 0
	}
	raw, err := ix.fab.Call(ctx, shardid.ID(node), fabric.MethodDelete, args)
	if err != nil {
		return 0
	}
	reply, err := fabric.DecodeArgs[fabric.DeleteReply](raw)
	if err != nil {
		return 0
	}
	ix.met.IncDelete()
	return uint64(reply.Freed)
}

// List implements list(prefix) (spec.md §4.2.3): fan out to all data shards
// in shard-table order, merge into an ordered set, cap at cfg.ListCap.
func (ix *Index) List(ctx context.Context, prefix []byte) [][]byte {
	ix.mu.Lock()
	order := append([]string(nil), ix.dataOrder...)
	cap_ := ix.cfg.ListCap
	ix.mu.Unlock()

	seen := make(map[string]struct{})
	var merged [][]byte
	for _, node := range order {
		args, err := fabric.EncodeArgs(fabric.ListArgs{Prefix: prefix, Cap: cap_})
		if err != nil {
			continue
		}
		raw, err := ix.fab.Call(ctx, shardid.ID(node), fabric.MethodList, args)
		if err != nil {
			continue
		}
		reply, err := fabric.DecodeArgs[fabric.ListReply](raw)
		if err != nil {
			continue
		}
		for _, k := range reply.Keys {
			if _, dup := seen[string(k)]; dup {
				continue
			}
			seen[string(k)] = struct{}{}
			merged = append(merged, k)
			if len(merged) >= cap_ {
				sort.Slice(merged, func(i, j int) bool { return string(merged[i]) < string(merged[j]) })
				return merged
			}
		}
	}
	sort.Slice(merged, func(i, j int) bool { return string(merged[i]) < string(merged[j]) })
	return merged
}

// GetRandomKey implements get_random_key(): seeds the walk with the Fabric's
// RawRand() when it is available and with the clock (the Fabric's Now())
// otherwise, delegating the digest walk itself to the first available data
// shard, and returns empty string if no shard exists or the walk is
// exhausted.
func (ix *Index) GetRandomKey(ctx context.Context) string {
	ix.mu.Lock()
	if len(ix.dataOrder) == 0 {
		ix.mu.Unlock()
		return ""
	}
	node := ix.dataOrder[0]
	attempts := ix.cfg.RandomKeyAttempts
	ix.mu.Unlock()

	seedBytes, ok := ix.fab.RawRand()
	var seed []byte
	if ok {
		seed = seedBytes[:]
	} else {
		now := ix.fab.Now()
		seed = []byte{
			byte(now >> 56), byte(now >> 48), byte(now >> 40), byte(now >> 32),
			byte(now >> 24), byte(now >> 16), byte(now >> 8), byte(now),
		}
	}

	args, err := fabric.EncodeArgs(fabric.GetRandomKeyArgs{Seed: seed, Attempts: attempts})
	if err != nil {
		return ""
	}
	raw, err := ix.fab.Call(ctx, shardid.ID(node), fabric.MethodGetRandomKey, args)
	if err != nil {
		return ""
	}
	reply, err := fabric.DecodeArgs[fabric.GetRandomKeyReply](raw)
	if err != nil {
		return ""
	}
	return reply.Hex
}

// SeedRandomData implements seed_random_data(n, size) → list<Key> (spec.md
// §6.3), generating deterministic corpus data on the first available data
// shard for demo/test seeding (see the bigmapd "seed" subcommand).
func (ix *Index) SeedRandomData(ctx context.Context, n, size, attempts int) [][]byte {
	if err := ix.EnsureAtLeastOneDataShard(ctx); err != nil {
		return nil
	}
	ix.mu.Lock()
	node := ix.dataOrder[0]
	ix.mu.Unlock()

	args, err := fabric.EncodeArgs(fabric.SeedRandomDataArgs{N: n, Size: size, Attempts: attempts})
	if err != nil {
		return nil
	}
	raw, err := ix.fab.Call(ctx, shardid.ID(node), fabric.MethodSeedRandomData, args)
	if err != nil {
		return nil
	}
	reply, err := fabric.DecodeArgs[fabric.SeedRandomDataReply](raw)
	if err != nil {
		return nil
	}
	return reply.Keys
}
