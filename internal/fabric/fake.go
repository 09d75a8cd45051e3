package fabric

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"

	"github.com/dfinity/bigmap/internal/datashard"
	"github.com/dfinity/bigmap/internal/searchindex"
	"github.com/dfinity/bigmap/internal/shardid"
)

// shardEntry holds one shard's live state behind the Fake's shared guarded
// map, per spec.md §9's "dispatches Index -> Shard calls as direct method
// invocations holding the shard states behind a shared guarded map."
type shardEntry struct {
	id   shardid.ID
	kind Kind
	data *datashard.DataShard
	srch *searchindex.Index
}

// snapshotRecord is the durable form of one shard's routing metadata —
// everything the Index needs to rebuild its ring after a restart, but none
// of the key/value payload itself (spec.md leaves shard-body durability to
// the real canister platform; the Fake only ever needs to remember *where*
// each shard sits).
type snapshotRecord struct {
	Kind       Kind   `json:"kind"`
	RangeStart []byte `json:"range_start,omitempty"`
	RangeEnd   []byte `json:"range_end,omitempty"`
}

// Fake is a deterministic, single-process Fabric: CreateCanister allocates
// an id, InstallCode attaches the role's state directly (no serialization),
// and Call dispatches by method name straight into the shard's Go methods.
// It is the implementation the spec's testable properties (spec.md §8) are
// written against.
//
// The internal map is keyed by an xxhash fingerprint of the shard id rather
// than the id's string form — grounded on Voskan-arena-cache's sharded-map
// pattern (pkg/cache.go) and rpcpool-yellowstone-faithful's use of
// cespare/xxhash for fast internal lookups. This fingerprint is purely a map
// key for the Fake's own bookkeeping; it never participates in ring
// placement, which is exclusively digest.Sum (SHA-256) per spec.md §4.1.
type Fake struct {
	mu     sync.Mutex
	shards map[uint64]*shardEntry

	selfID shardid.ID

	// db, when non-nil, backs Snapshot with an embedded Badger store —
	// grounded on Voskan-arena-cache's examples/disk_eject pattern of a
	// badger.DB opened once and written to via short-lived transactions.
	// Snapshotting is entirely optional: a Fake built with NewFake never
	// touches db and behaves exactly as before.
	db               *badger.DB
	snapshotEvery    int
	opsSinceSnapshot int
}

// NewFake returns an empty, non-durable Fake identifying itself as selfID.
func NewFake(selfID shardid.ID) *Fake {
	return &Fake{
		shards: make(map[uint64]*shardEntry),
		selfID: selfID,
	}
}

// NewFakeDurable opens (or creates) a Badger store at dbPath and returns a
// Fake that persists its shard routing table (id, kind, assigned digest
// range — not key/value payload) to it every snapshotEvery mutating calls.
// A snapshotEvery of 0 or less disables automatic snapshotting; callers can
// still invoke Snapshot directly.
func NewFakeDurable(selfID shardid.ID, dbPath string, snapshotEvery int) (*Fake, error) {
	db, err := badger.Open(badger.DefaultOptions(dbPath).WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("fabric: open snapshot store: %w", err)
	}
	return &Fake{
		shards:        make(map[uint64]*shardEntry),
		selfID:        selfID,
		db:            db,
		snapshotEvery: snapshotEvery,
	}, nil
}

// Close releases the Badger handle, if this Fake was built with
// NewFakeDurable. It is a no-op on a non-durable Fake.
func (f *Fake) Close() error {
	if f.db == nil {
		return nil
	}
	return f.db.Close()
}

// Snapshot persists every known shard's routing metadata to Badger,
// overwriting any prior snapshot for that shard id. Called automatically
// after every snapshotEvery mutating Call when the Fake was built with
// NewFakeDurable; exposed directly for an operator-triggered snapshot (e.g.
// before a planned restart).
func (f *Fake) Snapshot() error {
	if f.db == nil {
		return nil
	}
	f.mu.Lock()
	records := make(map[string]snapshotRecord, len(f.shards))
	for _, e := range f.shards {
		rec := snapshotRecord{Kind: e.kind}
		if e.kind == DataShardKind && e.data != nil {
			start, end := e.data.Range()
			rec.RangeStart = start[:]
			rec.RangeEnd = end[:]
		}
		records[string(e.id)] = rec
	}
	f.mu.Unlock()

	return f.db.Update(func(txn *badger.Txn) error {
		for id, rec := range records {
			b, err := json.Marshal(rec)
			if err != nil {
				return err
			}
			if err := txn.Set([]byte(id), b); err != nil {
				return err
			}
		}
		return nil
	})
}

// LoadSnapshot reads back every shard routing record written by Snapshot,
// keyed by the raw shard id bytes (the same `string(id)` form used
// internally for routing — see internal/bigmapindex's raw-bytes-vs-display
// convention). Used to repopulate an Index's ring after a restart before
// any CreateCanister/InstallCode calls are reissued; it does not itself
// recreate shardEntry state, since that still requires going through
// InstallCode's datashard.New()/searchindex.New() construction.
func (f *Fake) LoadSnapshot() (map[string]snapshotRecord, error) {
	if f.db == nil {
		return nil, nil
	}
	out := make(map[string]snapshotRecord)
	err := f.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			id := string(item.Key())
			var rec snapshotRecord
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return err
			}
			out[id] = rec
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (f *Fake) maybeSnapshot() {
	if f.db == nil || f.snapshotEvery <= 0 {
		return
	}
	f.mu.Lock()
	f.opsSinceSnapshot++
	due := f.opsSinceSnapshot >= f.snapshotEvery
	if due {
		f.opsSinceSnapshot = 0
	}
	f.mu.Unlock()
	if due {
		_ = f.Snapshot()
	}
}

func fingerprint(id shardid.ID) uint64 {
	return xxhash.Sum64(id)
}

// CreateCanister allocates a fresh shard id backed by a random UUID and
// registers an empty entry for it. The shard is not usable until
// InstallCode attaches role-specific state.
func (f *Fake) CreateCanister(ctx context.Context, kind Kind) (shardid.ID, error) {
	id := shardid.ID(uuid.New().String())

	f.mu.Lock()
	defer f.mu.Unlock()
	f.shards[fingerprint(id)] = &shardEntry{id: id, kind: kind}
	return id, nil
}

// InstallCode attaches the in-memory state for kind to an already created
// shard. wasm is accepted for interface parity with spec.md §6.2's
// install_code(ShardId, wasm) but is otherwise unused — the Fake has no
// bytecode to execute (see DESIGN.md).
func (f *Fake) InstallCode(ctx context.Context, id shardid.ID, kind Kind, wasm []byte) error {
	f.mu.Lock()
	e, ok := f.shards[fingerprint(id)]
	if !ok {
		f.mu.Unlock()
		return fmt.Errorf("fabric: unknown shard %s", id)
	}
	e.kind = kind
	switch kind {
	case DataShardKind:
		e.data = datashard.New()
	case SearchShardKind:
		e.srch = searchindex.New()
	}
	f.mu.Unlock()

	f.maybeSnapshot()
	return nil
}

func (f *Fake) lookup(id shardid.ID) (*shardEntry, error) {
	f.mu.Lock()
	e, ok := f.shards[fingerprint(id)]
	f.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("fabric: unknown shard %s", id)
	}
	return e, nil
}

// Call dispatches method against the shard identified by id, decoding
// payload into that method's argument envelope and encoding its reply.
// Every case mirrors a DataShard or SearchIndex operation one-to-one; no
// network round trip occurs, matching the "direct method invocation"
// contract the tests in spec.md §8 rely on.
func (f *Fake) Call(ctx context.Context, id shardid.ID, method string, payload []byte) ([]byte, error) {
	e, err := f.lookup(id)
	if err != nil {
		return nil, err
	}

	switch method {
	case MethodGet:
		args, err := DecodeArgs[GetArgs](payload)
		if err != nil {
			return nil, err
		}
		val, ok := e.data.Get(args.Key)
		return EncodeArgs(GetReply{Val: val, Found: ok})

	case MethodPut:
		args, err := DecodeArgs[PutArgs](payload)
		if err != nil {
			return nil, err
		}
		n, err := e.data.Put(args.Key, args.Val, args.Append)
		reply := PutReply{Length: n}
		if err != nil {
			reply.Err = err.Error()
		}
		return EncodeArgs(reply)

	case MethodDelete:
		args, err := DecodeArgs[DeleteArgs](payload)
		if err != nil {
			return nil, err
		}
		return EncodeArgs(DeleteReply{Freed: e.data.Delete(args.Key)})

	case MethodList:
		args, err := DecodeArgs[ListArgs](payload)
		if err != nil {
			return nil, err
		}
		return EncodeArgs(ListReply{Keys: e.data.List(args.Prefix, args.Cap)})

	case MethodHoldsKey:
		args, err := DecodeArgs[HoldsKeyArgs](payload)
		if err != nil {
			return nil, err
		}
		return EncodeArgs(HoldsKeyReply{Holds: e.data.HoldsKey(args.Key)})

	case MethodUsedBytes:
		return EncodeArgs(UsedBytesReply{Used: e.data.UsedBytes()})

	case MethodSetRange:
		args, err := DecodeArgs[SetRangeArgs](payload)
		if err != nil {
			return nil, err
		}
		e.data.SetRange(args.Start, args.End)
		f.maybeSnapshot()
		return nil, nil

	case MethodGetRelocationBatch:
		args, err := DecodeArgs[GetRelocationBatchArgs](payload)
		if err != nil {
			return nil, err
		}
		return EncodeArgs(GetRelocationBatchReply{Batch: e.data.GetRelocationBatch(args.LimitBytes)})

	case MethodPutRelocationBatch:
		args, err := DecodeArgs[PutRelocationBatchArgs](payload)
		if err != nil {
			return nil, err
		}
		accepted, dropped := e.data.PutRelocationBatch(args.Batch)
		return EncodeArgs(PutRelocationBatchReply{Accepted: accepted, Dropped: dropped})

	case MethodDeleteEntries:
		args, err := DecodeArgs[DeleteEntriesArgs](payload)
		if err != nil {
			return nil, err
		}
		e.data.DeleteEntries(args.Digests)
		return nil, nil

	case MethodBatchPut:
		args, err := DecodeArgs[BatchPutArgs](payload)
		if err != nil {
			return nil, err
		}
		count := 0
		for _, p := range args.Pairs {
			if _, err := e.data.Put(p.Key, p.Val, false); err == nil {
				count++
			}
		}
		return EncodeArgs(BatchPutReply{Count: count})

	case MethodGetRandomKey:
		args, err := DecodeArgs[GetRandomKeyArgs](payload)
		if err != nil {
			return nil, err
		}
		hex := e.data.GetRandomKey(args.Seed, args.Attempts)
		return EncodeArgs(GetRandomKeyReply{Hex: hex})

	case MethodSeedRandomData:
		args, err := DecodeArgs[SeedRandomDataArgs](payload)
		if err != nil {
			return nil, err
		}
		keys, err := e.data.SeedRandomData(args.N, args.Size, args.Attempts)
		if err != nil {
			return nil, err
		}
		return EncodeArgs(SeedRandomDataReply{Keys: keys})

	case MethodAddToIndex:
		args, err := DecodeArgs[AddToIndexArgs](payload)
		if err != nil {
			return nil, err
		}
		e.srch.AddToIndex(args.Key, args.Document)
		return nil, nil

	case MethodRemoveKey:
		args, err := DecodeArgs[RemoveKeyArgs](payload)
		if err != nil {
			return nil, err
		}
		e.srch.RemoveKey(args.Key)
		return nil, nil

	case MethodSearch:
		args, err := DecodeArgs[SearchArgs](payload)
		if err != nil {
			return nil, err
		}
		return EncodeArgs(SearchReply{Keys: e.srch.Search(args.Query, args.TopK)})

	default:
		return nil, fmt.Errorf("fabric: unknown method %q", method)
	}
}

// SelfID reports the Fake's own configured identity.
func (f *Fake) SelfID() shardid.ID { return f.selfID }

// Now returns wall-clock nanoseconds; the Fake has no monotonic clock
// capability distinct from the host's.
func (f *Fake) Now() int64 { return time.Now().UnixNano() }

// RawRand always reports unavailable, so callers fall back to clock
// seeding, matching spec.md §6.2's "optional; spec permits clock seeding
// when unavailable."
func (f *Fake) RawRand() (seed [32]byte, ok bool) { return seed, false }
