package fabric

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/dfinity/bigmap/internal/datashard"
	"github.com/dfinity/bigmap/internal/searchindex"
	"github.com/dfinity/bigmap/internal/shardid"
)

// httpClient is shared across all outbound calls for connection reuse,
// grounded directly on torua's internal/cluster/types.go package-level
// httpClient.
var httpClient = &http.Client{Timeout: 10 * time.Second}

// rpcEnvelope is the wire shape both directions of an HTTP Fabric call use.
type rpcEnvelope struct {
	Method  string `json:"method"`
	Payload []byte `json:"payload"`
}

type rpcResult struct {
	Payload []byte `json:"payload"`
	Err     string `json:"err,omitempty"`
}

// HTTP is a real network Fabric: shard processes register their address
// with a directory held here, and Call/CreateCanister/InstallCode speak
// plain JSON-over-HTTP to those addresses.
//
// Grounded on torua's internal/cluster package for the PostJSON/GetJSON
// pattern (context-scoped client calls, JSON body, status-code-as-error),
// generalized here from torua's fixed RegisterRequest/BroadcastRequest
// shapes to an arbitrary (method, payload) envelope so one transport serves
// every shard-facing RPC in spec.md §6.3.
type HTTP struct {
	mu            sync.RWMutex
	addressOf     map[string]string // shardid.ID.String() -> base URL
	provisionerURL string

	selfID shardid.ID
	log    *logrus.Logger
}

// NewHTTP returns an HTTP Fabric that routes provisioning requests to
// provisionerURL (a shard-manager process) and otherwise dispatches Calls
// directly to registered shard addresses.
func NewHTTP(selfID shardid.ID, provisionerURL string) *HTTP {
	return &HTTP{
		addressOf:      make(map[string]string),
		provisionerURL: provisionerURL,
		selfID:         selfID,
		log:            logrus.StandardLogger(),
	}
}

// Register records the base URL a shard id can be reached at. Real
// deployments call this when a shard process announces itself, the
// HTTP-transport analogue of torua's node registration flow.
func (h *HTTP) Register(id shardid.ID, baseURL string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.addressOf[id.String()] = baseURL
}

func (h *HTTP) addrFor(id shardid.ID) (string, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	addr, ok := h.addressOf[id.String()]
	return addr, ok
}

type provisionRequest struct {
	Kind Kind `json:"kind"`
}
type provisionReply struct {
	ID      string `json:"id"`
	BaseURL string `json:"base_url"`
}

// CreateCanister asks the provisioner to allocate a new shard process and
// records its address for subsequent Calls.
func (h *HTTP) CreateCanister(ctx context.Context, kind Kind) (shardid.ID, error) {
	var reply provisionReply
	url := h.provisionerURL + "/provision/create"
	if err := postJSON(ctx, url, provisionRequest{Kind: kind}, &reply); err != nil {
		h.log.WithFields(logrus.Fields{"kind": kind, "url": url}).WithError(err).Error("create_canister failed")
		return nil, fmt.Errorf("fabric: create_canister: %w", err)
	}
	id, err := shardid.Parse(reply.ID)
	if err != nil {
		h.log.WithField("raw_id", reply.ID).WithError(err).Error("create_canister returned an unparseable id")
		return nil, fmt.Errorf("fabric: create_canister returned invalid id: %w", err)
	}
	h.Register(id, reply.BaseURL)
	h.log.WithFields(logrus.Fields{"shard": id.String(), "kind": kind, "addr": reply.BaseURL}).Info("shard provisioned")
	return id, nil
}

type installRequest struct {
	Kind Kind   `json:"kind"`
	Wasm []byte `json:"wasm"`
}

// InstallCode pushes the role and code bytes to the shard's own address.
func (h *HTTP) InstallCode(ctx context.Context, id shardid.ID, kind Kind, wasm []byte) error {
	addr, ok := h.addrFor(id)
	if !ok {
		return fmt.Errorf("fabric: install_code: unknown shard %s", id)
	}
	return postJSON(ctx, addr+"/admin/install", installRequest{Kind: kind, Wasm: wasm}, nil)
}

// Call POSTs the RPC envelope to the shard's registered address, logging
// every failure at the access-log level logrus.StandardLogger() provides —
// distinct from each role's own structured zap logging (internal/obslog),
// matching the request-log/event-log split orbas1-Synnergy's CLI draws
// between logrus and its own audit trail.
func (h *HTTP) Call(ctx context.Context, id shardid.ID, method string, payload []byte) ([]byte, error) {
	addr, ok := h.addrFor(id)
	if !ok {
		h.log.WithField("shard", id.String()).Warn("call to unregistered shard")
		return nil, fmt.Errorf("fabric: call: unknown shard %s", id)
	}

	var result rpcResult
	if err := postJSON(ctx, addr+"/rpc", rpcEnvelope{Method: method, Payload: payload}, &result); err != nil {
		h.log.WithFields(logrus.Fields{"shard": id.String(), "method": method}).WithError(err).Error("rpc call failed")
		return nil, err
	}
	if result.Err != "" {
		h.log.WithFields(logrus.Fields{"shard": id.String(), "method": method}).Warn("rpc call rejected by shard: " + result.Err)
		return nil, fmt.Errorf("fabric: remote shard %s rejected %s: %s", id, method, result.Err)
	}
	return result.Payload, nil
}

func (h *HTTP) SelfID() shardid.ID { return h.selfID }

func (h *HTTP) Now() int64 { return time.Now().UnixNano() }

func (h *HTTP) RawRand() (seed [32]byte, ok bool) {
	if _, err := rand.Read(seed[:]); err != nil {
		return seed, false
	}
	return seed, true
}

// postJSON is torua's PostJSON (internal/cluster/types.go), generalized to
// the rpcEnvelope/rpcResult shapes this package needs.
func postJSON(ctx context.Context, url string, body, out any) error {
	reqBody, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("http %s: %d", url, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// ShardServer is the HTTP-side counterpart a shard process runs: a chi
// router handling /rpc for BigMap's own envelope, plus a gorilla/mux
// sub-router mounted at /debug for operator-facing status, following the
// chi-for-hot-path / mux-for-admin-surface split recorded in DESIGN.md.
type ShardServer struct {
	Kind Kind
	Data *datashard.DataShard
	Srch *searchindex.Index

	fake *Fake // reuses Fake's method-dispatch switch so the wire format and in-process dispatch never drift apart
}

// NewShardServer wires a ShardServer around already-constructed shard
// state, self-registering it with an internal Fake instance purely to reuse
// its dispatch table (no other Fake behavior is exposed).
func NewShardServer(id shardid.ID, kind Kind, data *datashard.DataShard, srch *searchindex.Index) *ShardServer {
	f := NewFake(id)
	f.shards[fingerprint(id)] = &shardEntry{kind: kind, data: data, srch: srch}
	return &ShardServer{Kind: kind, Data: data, Srch: srch, fake: f}
}

// Router returns the chi handler to mount for this shard's RPC surface.
func (s *ShardServer) Router() http.Handler {
	r := chi.NewRouter()
	r.Post("/rpc", s.handleRPC)
	return r
}

func (s *ShardServer) handleRPC(w http.ResponseWriter, r *http.Request) {
	var env rpcEnvelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	payload, err := s.fake.Call(r.Context(), s.fake.selfID, env.Method, env.Payload)
	result := rpcResult{Payload: payload}
	if err != nil {
		result.Err = err.Error()
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

// DebugRouter returns a gorilla/mux router exposing a minimal health/status
// surface separate from the RPC hot path.
func (s *ShardServer) DebugRouter() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/debug/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	r.HandleFunc("/debug/kind", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(s.Kind.String()))
	}).Methods(http.MethodGet)
	return r
}
