// Package bigmapindex implements the Index: the singleton coordinator that
// owns the hash ring, routes client operations to DataShard/SearchIndex
// shards over a Fabric, and drives online incremental rebalancing
// (spec.md §4.2).
//
// Grounded on torua's internal/coordinator package (shard_registry.go's
// registration/lookup shape, health_monitor.go's re-entrant "one pass at a
// time" guard) generalized from torua's static, dense-integer shard ids to
// BigMap's dynamic, digest-keyed ring of shardid.ID handles.
package bigmapindex

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/dfinity/bigmap/internal/config"
	"github.com/dfinity/bigmap/internal/digest"
	"github.com/dfinity/bigmap/internal/fabric"
	"github.com/dfinity/bigmap/internal/hashring"
	"github.com/dfinity/bigmap/internal/metrics"
	"github.com/dfinity/bigmap/internal/shardid"
)

// Error taxonomy per spec.md §7. Only ProvisioningInFlight and
// MaintenanceInFlight are surfaced to callers as structured errors/status
// strings; every other failure mode normalises to a neutral zero value at
// the client-facing surface (spec.md §7 "Propagation policy").
var (
	ErrAlreadyCreatingData   = errors.New("bigmapindex: already creating a data shard")
	ErrAlreadyCreatingSearch = errors.New("bigmapindex: already creating a search shard")
)

// splitPair records an in-flight rebalance: keys in src's old range that now
// belong to dst, per spec.md §4.2.1's rebalance-aware read probe.
type splitPair struct {
	src, dst string
}

// Index is BigMap's coordinator singleton.
type Index struct {
	mu sync.Mutex

	fab fabric.Fabric
	cfg config.Config
	log *zap.Logger
	met metrics.Sink

	dataRing   *hashring.Ring[string]
	searchRing *hashring.Ring[string]

	// insertion order, independent of ring (key) order — maintenance walks
	// the shard table "in insertion order" per spec.md §4.2.4.
	dataOrder   []string
	searchOrder []string

	availableData   []string
	availableSearch []string

	dataShardWasm   []byte
	searchShardWasm []byte

	creatingData   bool
	creatingSearch bool
	maintaining    bool
	inFlight       *splitPair

	usedBytesThreshold int64
}

// New constructs an empty Index. cfg supplies the spec.md §6.5 defaults;
// met may be metrics.Noop{} if no Prometheus registry is configured.
func New(fab fabric.Fabric, cfg config.Config, log *zap.Logger, met metrics.Sink) *Index {
	return &Index{
		fab:                fab,
		cfg:                cfg,
		log:                log,
		met:                met,
		dataRing:           hashring.New[string](),
		searchRing:         hashring.New[string](),
		usedBytesThreshold: cfg.UsedBytesThreshold,
	}
}

// SetUsedBytesThreshold implements set_used_bytes_threshold (spec.md §6.1),
// floored at the 512 MiB minimum from spec.md §6.5.
func (ix *Index) SetUsedBytesThreshold(n int64) {
	const floor = 512 << 20
	if n < floor {
		n = floor
	}
	ix.mu.Lock()
	ix.usedBytesThreshold = n
	ix.mu.Unlock()
}

// SetDataShardWasm and SetSearchShardWasm implement
// set_data_bucket_canister_wasm_binary / set_search_canister_wasm_binary
// (spec.md §6.1): the code blob installed into future provisioned shards.
func (ix *Index) SetDataShardWasm(blob []byte) {
	ix.mu.Lock()
	ix.dataShardWasm = blob
	ix.mu.Unlock()
}

func (ix *Index) SetSearchShardWasm(blob []byte) {
	ix.mu.Lock()
	ix.searchShardWasm = blob
	ix.mu.Unlock()
}

// AddDataBuckets implements add_data_buckets (spec.md §6.1): seeds the
// available queue with pre-created shard ids supplied out of band, in their
// checksum-framed display form. Entries that fail to parse are dropped and
// logged rather than rejecting the whole call, matching the propagation
// policy in spec.md §7 ("never abort a batch because of a single failing
// element").
func (ix *Index) AddDataBuckets(ids []string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	for _, s := range ids {
		id, err := shardid.Parse(s)
		if err != nil {
			ix.log.Warn("add_data_buckets: invalid shard id", zap.String("id", s), zap.Error(err))
			continue
		}
		ix.availableData = append(ix.availableData, string(id))
	}
}

// ensureAtLeastOneShard is the shared body of ensure_at_least_one_data_shard
// and ensure_at_least_one_search_shard (spec.md §4.2.2): pop from the
// available queue, or provision via the Fabric, then insert into the
// relevant ring spanning the whole digest space. The re-entry guard
// (creating flag) rejects a second concurrent attempt rather than blocking
// it, per spec.md §4.2.2 and §5.
func (ix *Index) ensureAtLeastOneShard(ctx context.Context, kind fabric.Kind) error {
	ix.mu.Lock()
	ring, already, creating := ix.ringAndFlags(kind)
	if already {
		ix.mu.Unlock()
		return nil
	}
	if creating {
		ix.mu.Unlock()
		return creatingErr(kind)
	}
	ix.setCreating(kind, true)
	ix.mu.Unlock()

	defer func() {
		ix.mu.Lock()
		ix.setCreating(kind, false)
		ix.mu.Unlock()
	}()

	id, err := ix.provisionOne(ctx, kind)
	if err != nil {
		ix.log.Warn("provisioning failed", zap.String("kind", kind.String()), zap.Error(err))
		return nil // FabricFailure: neutral, logged, never fatal (spec.md §7)
	}

	ix.mu.Lock()
	ring.Add(id)
	ix.appendOrder(kind, id)
	ix.mu.Unlock()
	return nil
}

func (ix *Index) ringAndFlags(kind fabric.Kind) (ring *hashring.Ring[string], already, creating bool) {
	switch kind {
	case fabric.DataShardKind:
		return ix.dataRing, ix.dataRing.Len() > 0, ix.creatingData
	default:
		return ix.searchRing, ix.searchRing.Len() > 0, ix.creatingSearch
	}
}

func (ix *Index) setCreating(kind fabric.Kind, v bool) {
	if kind == fabric.DataShardKind {
		ix.creatingData = v
	} else {
		ix.creatingSearch = v
	}
}

func (ix *Index) appendOrder(kind fabric.Kind, id string) {
	if kind == fabric.DataShardKind {
		ix.dataOrder = append(ix.dataOrder, id)
	} else {
		ix.searchOrder = append(ix.searchOrder, id)
	}
}

func creatingErr(kind fabric.Kind) error {
	if kind == fabric.DataShardKind {
		return ErrAlreadyCreatingData
	}
	return ErrAlreadyCreatingSearch
}

// provisionOne pops an id from the available queue if one exists, otherwise
// asks the Fabric to create and install a new shard.
func (ix *Index) provisionOne(ctx context.Context, kind fabric.Kind) (string, error) {
	ix.mu.Lock()
	var queue *[]string
	if kind == fabric.DataShardKind {
		queue = &ix.availableData
	} else {
		queue = &ix.availableSearch
	}
	if len(*queue) > 0 {
		id := (*queue)[0]
		*queue = (*queue)[1:]
		ix.mu.Unlock()
		return id, nil
	}
	wasm := ix.dataShardWasm
	if kind == fabric.SearchShardKind {
		wasm = ix.searchShardWasm
	}
	ix.mu.Unlock()

	id, err := ix.fab.CreateCanister(ctx, kind)
	if err != nil {
		return "", fmt.Errorf("create_canister: %w", err)
	}
	if err := ix.fab.InstallCode(ctx, id, kind, wasm); err != nil {
		return "", fmt.Errorf("install_code: %w", err)
	}
	// node identities inside the Index are always the raw ShardId bytes
	// (as a Go string), never the checksum-framed display form — that form
	// exists purely for operator-facing text (status(), logs) and is
	// produced on demand via shardid.ID(node).String().
	return string(id), nil
}

// EnsureAtLeastOneDataShard implements ensure_at_least_one_data_shard.
func (ix *Index) EnsureAtLeastOneDataShard(ctx context.Context) error {
	return ix.ensureAtLeastOneShard(ctx, fabric.DataShardKind)
}

// EnsureAtLeastOneSearchShard implements ensure_at_least_one_search_shard.
func (ix *Index) EnsureAtLeastOneSearchShard(ctx context.Context) error {
	return ix.ensureAtLeastOneShard(ctx, fabric.SearchShardKind)
}

// lookupPut implements lookup_data_bucket_for_put (spec.md §4.2.1): route by
// digest against the live ring, with no rebalance awareness (a put always
// goes wherever the ring currently says, whether that is the donor or the
// freshly inserted destination).
func (ix *Index) lookupPut(key []byte) (string, bool) {
	d := digest.Sum(key)
	_, node, ok := ix.dataRing.Ceil(d)
	return node, ok
}

// lookupGet implements lookup_data_bucket_for_get's rebalance-aware probe
// (spec.md §4.2.1).
func (ix *Index) lookupGet(ctx context.Context, key []byte) (string, bool) {
	d := digest.Sum(key)
	_, node, ok := ix.dataRing.Ceil(d)
	if !ok {
		return "", false
	}

	if ix.callHoldsKey(ctx, node, key) {
		return node, true
	}

	ix.mu.Lock()
	inFlight := ix.inFlight
	ix.mu.Unlock()

	// The ring is updated before data physically moves (spec.md §4.2.4), so
	// the resolved candidate can be either half of the in-flight pair while
	// the other half still holds the data — see DESIGN.md's note on the
	// lookup_get probe direction. Whichever side of (src, dst) the ring
	// didn't resolve to is the one worth asking next.
	if inFlight != nil {
		var other string
		switch node {
		case inFlight.src:
			other = inFlight.dst
		case inFlight.dst:
			other = inFlight.src
		}
		if other != "" && ix.callHoldsKey(ctx, other, key) {
			return other, true
		}
	}
	return "", false
}

// LookupDataBucketForPut implements lookup_data_bucket_for_put(Key) → String?
// (spec.md §6.1), rendering the routed shard id in its display form.
func (ix *Index) LookupDataBucketForPut(key []byte) (string, bool) {
	node, ok := ix.lookupPut(key)
	if !ok {
		return "", false
	}
	return shardid.ID(node).String(), true
}

// LookupDataBucketForGet implements lookup_data_bucket_for_get(Key) → String?
// (spec.md §6.1), the rebalance-aware probe, rendered in display form.
func (ix *Index) LookupDataBucketForGet(ctx context.Context, key []byte) (string, bool) {
	node, ok := ix.lookupGet(ctx, key)
	if !ok {
		return "", false
	}
	return shardid.ID(node).String(), true
}

func (ix *Index) callHoldsKey(ctx context.Context, node string, key []byte) bool {
	args, err := fabric.EncodeArgs(fabric.HoldsKeyArgs{Key: key})
	if err != nil {
		return false
	}
	raw, err := ix.fab.Call(ctx, shardid.ID(node), fabric.MethodHoldsKey, args)
	if err != nil {
		ix.log.Debug("holds_key call failed", zap.String("shard", node), zap.Error(err))
		return false
	}
	reply, err := fabric.DecodeArgs[fabric.HoldsKeyReply](raw)
	if err != nil {
		return false
	}
	return reply.Holds
}

// Status implements status() (spec.md §6.1), shaped as
// {data_buckets:[{canister_id, used_bytes}], search_canisters:[ids],
// used_bytes_total}.
type Status struct {
	DataBuckets     []BucketStatus `json:"data_buckets"`
	SearchCanisters []string       `json:"search_canisters"`
	UsedBytesTotal  int64          `json:"used_bytes_total"`
}

// BucketStatus is one entry of Status.DataBuckets.
type BucketStatus struct {
	CanisterID string `json:"canister_id"`
	UsedBytes  int64  `json:"used_bytes"`
}

// GetStatus fans out a used_bytes query to every data shard (in insertion
// order) and reports every search shard id, rendering each canister id in
// its checksum-framed display form (shardid.ID.String()) rather than the
// raw bytes used internally for routing — status() is operator-facing.
func (ix *Index) GetStatus(ctx context.Context) Status {
	ix.mu.Lock()
	dataIDs := append([]string(nil), ix.dataOrder...)
	searchIDs := append([]string(nil), ix.searchOrder...)
	ix.mu.Unlock()

	var st Status
	for _, id := range searchIDs {
		st.SearchCanisters = append(st.SearchCanisters, shardid.ID(id).String())
	}
	for _, id := range dataIDs {
		used := ix.callUsedBytes(ctx, id)
		st.DataBuckets = append(st.DataBuckets, BucketStatus{CanisterID: shardid.ID(id).String(), UsedBytes: used})
		st.UsedBytesTotal += used
		ix.met.SetShardUsedBytes(id, used)
	}
	ix.met.SetShardCount(len(dataIDs))
	return st
}

func (ix *Index) callUsedBytes(ctx context.Context, node string) int64 {
	raw, err := ix.fab.Call(ctx, shardid.ID(node), fabric.MethodUsedBytes, nil)
	if err != nil {
		return 0
	}
	reply, err := fabric.DecodeArgs[fabric.UsedBytesReply](raw)
	if err != nil {
		return 0
	}
	return reply.Used
}
