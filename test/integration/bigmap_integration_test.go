// Package integration drives BigMap end-to-end over real HTTP, the way
// johnjansen-torua/test/integration/distributed_storage_test.go drives the
// coordinator/node pair: a small harness with put/get helpers and a generic
// JSON POST, then one top-level test per scenario. Unlike torua's harness (which exec's
// prebuilt binaries), this one starts an in-process httptest.Server wrapping
// bigmapapi.Server, since BigMap's "cluster" is the in-memory Fake Fabric
// rather than separate node processes.
package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/dfinity/bigmap/internal/bigmapapi"
	"github.com/dfinity/bigmap/internal/bigmapindex"
	"github.com/dfinity/bigmap/internal/config"
	"github.com/dfinity/bigmap/internal/fabric"
	"github.com/dfinity/bigmap/internal/metrics"
	"github.com/dfinity/bigmap/internal/shardid"
)

// testSystem wraps an httptest.Server fronting a fresh Index.
type testSystem struct {
	t      *testing.T
	srv    *httptest.Server
	client *http.Client
}

func newTestSystem(t *testing.T, threshold int64) *testSystem {
	cfg := config.Defaults()
	cfg.UsedBytesThreshold = threshold
	fab := fabric.NewFake(shardid.ID("integration-index"))
	ix := bigmapindex.New(fab, cfg, zap.NewNop(), metrics.Noop{})
	apiSrv := bigmapapi.NewServer(ix, zap.NewNop())
	return &testSystem{
		t:      t,
		srv:    httptest.NewServer(apiSrv.Router()),
		client: &http.Client{},
	}
}

func (ts *testSystem) Close() { ts.srv.Close() }

func (ts *testSystem) post(path string, req, resp any) int {
	ts.t.Helper()
	body, err := json.Marshal(req)
	if err != nil {
		ts.t.Fatalf("marshal %s request: %v", path, err)
	}
	httpResp, err := ts.client.Post(ts.srv.URL+path, "application/json", bytes.NewReader(body))
	if err != nil {
		ts.t.Fatalf("POST %s: %v", path, err)
	}
	defer httpResp.Body.Close()
	if resp != nil && httpResp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(httpResp.Body).Decode(resp); err != nil {
			ts.t.Fatalf("decode %s response: %v", path, err)
		}
	}
	return httpResp.StatusCode
}

func (ts *testSystem) put(key, val string) uint64 {
	var resp struct {
		BytesWritten uint64 `json:"bytes_written"`
	}
	ts.post("/put", map[string]any{"key": []byte(key), "val": []byte(val)}, &resp)
	return resp.BytesWritten
}

func (ts *testSystem) get(key string) (string, bool) {
	var resp struct {
		Val   []byte `json:"val"`
		Found bool   `json:"found"`
	}
	ts.post("/get", map[string]any{"key": []byte(key)}, &resp)
	return string(resp.Val), resp.Found
}

// TestPutGetRoundTrip mirrors spec.md §8 scenario 1 over real HTTP.
func TestPutGetRoundTrip(t *testing.T) {
	ts := newTestSystem(t, 1<<30)
	defer ts.Close()

	if n := ts.put("hello", "world"); n != 5 {
		t.Fatalf("put returned %d, want 5", n)
	}
	val, ok := ts.get("hello")
	if !ok || val != "world" {
		t.Fatalf("get = (%q, %v), want (world, true)", val, ok)
	}
}

// TestGetMissingKey verifies a miss reports found=false rather than an error.
func TestGetMissingKey(t *testing.T) {
	ts := newTestSystem(t, 1<<30)
	defer ts.Close()

	_, ok := ts.get("does-not-exist")
	if ok {
		t.Error("get of missing key reported found=true")
	}
}

// TestDeleteThenGet verifies delete removes a key end-to-end.
func TestDeleteThenGet(t *testing.T) {
	ts := newTestSystem(t, 1<<30)
	defer ts.Close()

	ts.put("temp", "temporary")
	var delResp struct {
		BytesWritten uint64 `json:"bytes_written"`
	}
	ts.post("/delete", map[string]any{"key": []byte("temp")}, &delResp)
	if delResp.BytesWritten == 0 {
		t.Error("delete reported 0 bytes freed for an existing key")
	}

	_, ok := ts.get("temp")
	if ok {
		t.Error("get succeeded after delete")
	}
}

// TestConcurrentPuts verifies the Index serves concurrent clients safely,
// the HTTP-surface analogue of torua's testConcurrentOperations.
func TestConcurrentPuts(t *testing.T) {
	ts := newTestSystem(t, 1<<30)
	defer ts.Close()

	const n = 20
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			ts.put(fmt.Sprintf("k-%d", i), fmt.Sprintf("v-%d", i))
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		val, ok := ts.get(fmt.Sprintf("k-%d", i))
		if !ok || val != fmt.Sprintf("v-%d", i) {
			t.Errorf("k-%d: got (%q, %v)", i, val, ok)
		}
	}
}

// TestSplitUnderThresholdOverHTTP mirrors spec.md §8 scenario 3 through the
// HTTP surface, including a maintenance() call that must trigger a split.
func TestSplitUnderThresholdOverHTTP(t *testing.T) {
	ts := newTestSystem(t, 5000)
	defer ts.Close()

	for i := 0; i <= 500; i++ {
		key := fmt.Sprintf("key-%d", i)
		ts.put(key, string(make([]byte, 20)))
	}

	var maintResp json.RawMessage
	for round := 0; round < 50; round++ {
		httpResp, err := ts.client.Post(ts.srv.URL+"/maintenance", "application/json", bytes.NewReader(nil))
		if err != nil {
			t.Fatalf("maintenance: %v", err)
		}
		buf := new(bytes.Buffer)
		buf.ReadFrom(httpResp.Body)
		httpResp.Body.Close()
		maintResp = buf.Bytes()
		if string(maintResp) == `{"status":"Good","message":"no shard over threshold"}` {
			break
		}
	}

	for i := 0; i <= 500; i++ {
		key := fmt.Sprintf("key-%d", i)
		if _, ok := ts.get(key); !ok {
			t.Errorf("get(%s) failed after rebalance", key)
		}
	}
}

// TestSearchOverHTTP mirrors spec.md §8 scenario 5 through the HTTP surface.
func TestSearchOverHTTP(t *testing.T) {
	ts := newTestSystem(t, 1<<30)
	defer ts.Close()

	ts.post("/put_and_fts_index", map[string]any{
		"key": []byte("doc1"), "doc": "some text before value-7 some TERM-7 text after",
	}, nil)
	ts.post("/put_and_fts_index", map[string]any{
		"key": []byte("doc2"), "doc": "some term-7 before value-9",
	}, nil)

	var resp struct {
		TotalHits uint64 `json:"total_hits"`
		Results   []struct {
			Key []byte `json:"key"`
		} `json:"results"`
	}
	ts.post("/search", map[string]any{"query": "term-7 value-7"}, &resp)
	if resp.TotalHits != 1 || len(resp.Results) != 1 || string(resp.Results[0].Key) != "doc1" {
		t.Errorf("search(term-7 value-7) = %+v, want 1 hit on doc1", resp)
	}
}
