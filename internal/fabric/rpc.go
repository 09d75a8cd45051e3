package fabric

import (
	"bytes"
	"encoding/gob"

	"github.com/dfinity/bigmap/internal/datashard"
	"github.com/dfinity/bigmap/internal/digest"
)

// Method names for the shard-facing RPC surface (spec.md §6.3) and the
// search overlay calls driven from Index (spec.md §4.2.6). Both Fake and
// HTTP implementations decode/encode these same envelope types, so a method
// behaves identically regardless of transport.
const (
	MethodGet                = "get"
	MethodPut                = "put"
	MethodDelete             = "delete"
	MethodList               = "list"
	MethodHoldsKey           = "holds_key"
	MethodUsedBytes          = "used_bytes"
	MethodSetRange           = "set_range"
	MethodGetRelocationBatch = "get_relocation_batch"
	MethodPutRelocationBatch = "put_relocation_batch"
	MethodDeleteEntries      = "delete_entries"
	MethodBatchPut           = "batch_put"
	MethodGetRandomKey       = "get_random_key"
	MethodSeedRandomData     = "seed_random_data"

	MethodAddToIndex = "add_to_index"
	MethodRemoveKey  = "remove_key"
	MethodSearch     = "search"
)

// KVPair is a single key/value pair, used by the batch_put envelope.
type KVPair struct {
	Key []byte
	Val []byte
}

type GetArgs struct{ Key []byte }
type GetReply struct {
	Val   []byte
	Found bool
}

type PutArgs struct {
	Key, Val []byte
	Append   bool
}
type PutReply struct {
	Length int
	Err    string
}

type DeleteArgs struct{ Key []byte }
type DeleteReply struct{ Freed int }

type ListArgs struct {
	Prefix []byte
	Cap    int
}
type ListReply struct{ Keys [][]byte }

type HoldsKeyArgs struct{ Key []byte }
type HoldsKeyReply struct{ Holds bool }

type UsedBytesReply struct{ Used int64 }

type SetRangeArgs struct{ Start, End digest.Digest }

type GetRelocationBatchArgs struct{ LimitBytes int64 }
type GetRelocationBatchReply struct{ Batch []datashard.RelocationEntry }

type PutRelocationBatchArgs struct{ Batch []datashard.RelocationEntry }
type PutRelocationBatchReply struct {
	Accepted int
	Dropped  []datashard.RelocationEntry
}

type DeleteEntriesArgs struct{ Digests []digest.Digest }

type BatchPutArgs struct{ Pairs []KVPair }
type BatchPutReply struct{ Count int }

type GetRandomKeyArgs struct {
	Seed     []byte
	Attempts int
}
type GetRandomKeyReply struct{ Hex string }

type SeedRandomDataArgs struct {
	N, Size, Attempts int
}
type SeedRandomDataReply struct{ Keys [][]byte }

type AddToIndexArgs struct {
	Key      []byte
	Document string
}

type RemoveKeyArgs struct{ Key []byte }

type SearchArgs struct {
	Query string
	TopK  int
}
type SearchReply struct{ Keys [][]byte }

// EncodeArgs gob-encodes v for transmission over a Fabric.Call boundary.
func EncodeArgs[T any](v T) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeArgs reverses EncodeArgs.
func DecodeArgs[T any](payload []byte) (T, error) {
	var v T
	if len(payload) == 0 {
		return v, nil
	}
	err := gob.NewDecoder(bytes.NewReader(payload)).Decode(&v)
	return v, err
}
