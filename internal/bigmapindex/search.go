package bigmapindex

import (
	"context"

	"go.uber.org/zap"

	"github.com/dfinity/bigmap/internal/fabric"
	"github.com/dfinity/bigmap/internal/shardid"
)

// PutAndFTSIndex implements put_and_fts_index(key, doc) (spec.md §4.2.6):
// ensure a search shard exists, store doc as the value via the ordinary
// data path, then index it on the first search shard.
func (ix *Index) PutAndFTSIndex(ctx context.Context, key []byte, doc string) uint64 {
	if err := ix.EnsureAtLeastOneSearchShard(ctx); err != nil {
		return 0
	}
	n := ix.Put(ctx, key, []byte(doc))
	if n == 0 {
		return 0
	}

	ix.mu.Lock()
	if len(ix.searchOrder) == 0 {
		ix.mu.Unlock()
		return n
	}
	searchNode := ix.searchOrder[0]
	ix.mu.Unlock()

	ix.callAddToIndex(ctx, searchNode, key, doc)
	return n
}

// BatchPutAndFTSIndex fans out PutAndFTSIndex over pairs, summing bytes
// written, per spec.md §4.2.6.
func (ix *Index) BatchPutAndFTSIndex(ctx context.Context, pairs []KVDoc) uint64 {
	var total uint64
	for _, p := range pairs {
		total += ix.PutAndFTSIndex(ctx, p.Key, p.Doc)
	}
	return total
}

// KVDoc is one (key, document) pair for BatchPutAndFTSIndex.
type KVDoc struct {
	Key []byte
	Doc string
}

func (ix *Index) callAddToIndex(ctx context.Context, node string, key []byte, doc string) {
	args, err := fabric.EncodeArgs(fabric.AddToIndexArgs{Key: key, Document: doc})
	if err != nil {
		return
	}
	if _, err := ix.fab.Call(ctx, shardid.ID(node), fabric.MethodAddToIndex, args); err != nil {
		ix.log.Debug("add_to_index call failed", zap.String("shard", node), zap.Error(err))
	}
}

// RemoveFromFTSIndex implements remove_from_fts_index(key): calls
// remove_key on every search shard (there is at most one in the current
// design, but the loop matches spec.md §4.2.6's "every search shard"
// wording and tolerates a future multi-search-shard deployment).
func (ix *Index) RemoveFromFTSIndex(ctx context.Context, key []byte) {
	ix.mu.Lock()
	nodes := append([]string(nil), ix.searchOrder...)
	ix.mu.Unlock()

	args, err := fabric.EncodeArgs(fabric.RemoveKeyArgs{Key: key})
	if err != nil {
		return
	}
	for _, node := range nodes {
		if _, err := ix.fab.Call(ctx, shardid.ID(node), fabric.MethodRemoveKey, args); err != nil {
			ix.log.Debug("remove_key call failed", zap.String("shard", node), zap.Error(err))
		}
	}
}

// Search implements search(query) (spec.md §4.2.6 and §4.4): query every
// search shard for matching keys, fetch each via Get, accumulate up to
// cfg.SearchTopK results, and report the total hit count.
func (ix *Index) Search(ctx context.Context, query string) (totalHits uint64, results []KV) {
	ix.mu.Lock()
	nodes := append([]string(nil), ix.searchOrder...)
	topK := ix.cfg.SearchTopK
	ix.mu.Unlock()

	var keys [][]byte
	for _, node := range nodes {
		// No TopK on the shard query: every match is needed for totalHits;
		// topK only caps the fetched results below.
		args, err := fabric.EncodeArgs(fabric.SearchArgs{Query: query})
		if err != nil {
			continue
		}
		raw, err := ix.fab.Call(ctx, shardid.ID(node), fabric.MethodSearch, args)
		if err != nil {
			continue
		}
		reply, err := fabric.DecodeArgs[fabric.SearchReply](raw)
		if err != nil {
			continue
		}
		keys = append(keys, reply.Keys...)
	}

	totalHits = uint64(len(keys))
	for _, k := range keys {
		if len(results) >= topK {
			break
		}
		val, ok := ix.Get(ctx, k)
		if !ok {
			continue
		}
		results = append(results, KV{Key: k, Val: val})
	}
	return totalHits, results
}
