// Package fabric implements BigMap's platform abstraction (spec.md §6.2):
// the narrow interface the Index depends on to create shards, install their
// code, and call into them. Two implementations exist — Fake, a
// deterministic in-memory dispatcher used by tests and the default
// single-process deployment, and HTTP, a real network transport — mirroring
// the "dynamic dispatch of Fabric callbacks" design note in spec.md §9.
//
// Grounded on torua's cluster package (internal/cluster/types.go,
// internal/cluster/doc.go) for the RPC-boundary shape: context-scoped calls,
// JSON envelopes over HTTP, and a clean separation between the transport and
// the caller's retry/error policy.
package fabric

import (
	"context"

	"github.com/dfinity/bigmap/internal/shardid"
)

// Kind identifies which role a shard plays; Fabric implementations use it to
// decide what state to attach to a newly created shard.
type Kind int

const (
	// DataShardKind holds key/value entries (internal/datashard).
	DataShardKind Kind = iota
	// SearchShardKind holds an inverted index (internal/searchindex).
	SearchShardKind
)

func (k Kind) String() string {
	switch k {
	case DataShardKind:
		return "data"
	case SearchShardKind:
		return "search"
	default:
		return "unknown"
	}
}

// Fabric is the platform capability surface the Index depends on, matching
// spec.md §6.2 one-to-one. Implementations must be safe for concurrent use.
type Fabric interface {
	// CreateCanister provisions a new, empty shard and returns its handle.
	CreateCanister(ctx context.Context, kind Kind) (shardid.ID, error)

	// InstallCode attaches role-specific runtime state to an already
	// created shard. For the Fake this just allocates the in-memory
	// datashard.DataShard or searchindex.Index; for HTTP it posts the kind
	// and the wasm bytes to the shard's /admin/install endpoint. The Fake
	// ignores wasm's contents (see DESIGN.md).
	InstallCode(ctx context.Context, id shardid.ID, kind Kind, wasm []byte) error

	// Call issues a fire-and-wait RPC to the named shard, method, and
	// payload, returning the raw response bytes.
	Call(ctx context.Context, id shardid.ID, method string, payload []byte) ([]byte, error)

	// SelfID reports the identity of the calling role's own shard, used by
	// shards that need to know their own handle.
	SelfID() shardid.ID

	// Now returns monotonic nanoseconds, used only for random-key seeding.
	Now() int64

	// RawRand returns 32 bytes of platform randomness. Implementations
	// that cannot provide it return ok=false, and callers fall back to
	// clock seeding per spec.md §6.2.
	RawRand() (seed [32]byte, ok bool)
}
