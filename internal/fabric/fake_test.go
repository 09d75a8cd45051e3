package fabric

import (
	"context"
	"testing"

	"github.com/dfinity/bigmap/internal/digest"
	"github.com/dfinity/bigmap/internal/shardid"
)

func newTestDataShard(t *testing.T) (*Fake, shardid.ID) {
	t.Helper()
	f := NewFake(shardid.ID("self"))
	id, err := f.CreateCanister(context.Background(), DataShardKind)
	if err != nil {
		t.Fatalf("CreateCanister: %v", err)
	}
	if err := f.InstallCode(context.Background(), id, DataShardKind, nil); err != nil {
		t.Fatalf("InstallCode: %v", err)
	}
	return f, id
}

func TestFakePutGetRoundTrip(t *testing.T) {
	f, id := newTestDataShard(t)
	ctx := context.Background()

	putArgs, _ := EncodeArgs(PutArgs{Key: []byte("hello"), Val: []byte("world")})
	raw, err := f.Call(ctx, id, MethodPut, putArgs)
	if err != nil {
		t.Fatalf("put call: %v", err)
	}
	putReply, err := DecodeArgs[PutReply](raw)
	if err != nil {
		t.Fatalf("decode put reply: %v", err)
	}
	if putReply.Length != 5 {
		t.Errorf("put length = %d, want 5", putReply.Length)
	}

	getArgs, _ := EncodeArgs(GetArgs{Key: []byte("hello")})
	raw, err = f.Call(ctx, id, MethodGet, getArgs)
	if err != nil {
		t.Fatalf("get call: %v", err)
	}
	getReply, err := DecodeArgs[GetReply](raw)
	if err != nil {
		t.Fatalf("decode get reply: %v", err)
	}
	if !getReply.Found || string(getReply.Val) != "world" {
		t.Errorf("get reply = %+v, want Found=true Val=world", getReply)
	}
}

func TestFakeCallUnknownShard(t *testing.T) {
	f := NewFake(shardid.ID("self"))
	_, err := f.Call(context.Background(), shardid.ID("nope"), MethodGet, nil)
	if err == nil {
		t.Error("expected error for unknown shard")
	}
}

func TestFakeSearchRoundTrip(t *testing.T) {
	f := NewFake(shardid.ID("self"))
	ctx := context.Background()
	id, err := f.CreateCanister(ctx, SearchShardKind)
	if err != nil {
		t.Fatal(err)
	}
	if err := f.InstallCode(ctx, id, SearchShardKind, nil); err != nil {
		t.Fatal(err)
	}

	addArgs, _ := EncodeArgs(AddToIndexArgs{Key: []byte("k1"), Document: "hello world"})
	if _, err := f.Call(ctx, id, MethodAddToIndex, addArgs); err != nil {
		t.Fatalf("add_to_index: %v", err)
	}

	searchArgs, _ := EncodeArgs(SearchArgs{Query: "hello", TopK: 10})
	raw, err := f.Call(ctx, id, MethodSearch, searchArgs)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	reply, err := DecodeArgs[SearchReply](raw)
	if err != nil {
		t.Fatal(err)
	}
	if len(reply.Keys) != 1 || string(reply.Keys[0]) != "k1" {
		t.Errorf("search reply = %+v, want [k1]", reply)
	}
}

func TestFakeDurableSnapshotRoundTrip(t *testing.T) {
	ctx := context.Background()
	f, err := NewFakeDurable(shardid.ID("self"), t.TempDir(), 1)
	if err != nil {
		t.Fatalf("NewFakeDurable: %v", err)
	}
	defer f.Close()

	id, err := f.CreateCanister(ctx, DataShardKind)
	if err != nil {
		t.Fatal(err)
	}
	if err := f.InstallCode(ctx, id, DataShardKind, nil); err != nil {
		t.Fatal(err)
	}
	setRangeArgs, _ := EncodeArgs(SetRangeArgs{Start: digest.Zero, End: digest.Max})
	if _, err := f.Call(ctx, id, MethodSetRange, setRangeArgs); err != nil {
		t.Fatal(err)
	}

	recs, err := f.LoadSnapshot()
	if err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	rec, ok := recs[string(id)]
	if !ok {
		t.Fatalf("LoadSnapshot missing entry for %s", id)
	}
	if rec.Kind != DataShardKind {
		t.Errorf("snapshot kind = %v, want DataShardKind", rec.Kind)
	}
	if digest.Digest(rec.RangeStart) != digest.Zero || digest.Digest(rec.RangeEnd) != digest.Max {
		t.Errorf("snapshot range = [%x, %x], want [%x, %x]", rec.RangeStart, rec.RangeEnd, digest.Zero, digest.Max)
	}
}
