// Package bigmapapi exposes the Index's client-facing RPC surface (spec.md
// §6.1) over HTTP: one chi router per normative method name, JSON request and
// response bodies (Key/Val fields marshal as base64, matching
// encoding/json's default []byte handling), plus a gorilla/mux debug router
// for operator-facing status endpoints kept deliberately separate from the
// client surface.
//
// Grounded on torua's cmd/coordinator handlers (one handler per concern,
// json.NewDecoder/Encoder, http.Error on bad input) generalized from torua's
// fixed /register, /nodes, /data/* routes to BigMap's normative method list.
package bigmapapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/dfinity/bigmap/internal/bigmapindex"
)

// Server adapts a *bigmapindex.Index to HTTP.
type Server struct {
	ix  *bigmapindex.Index
	log *zap.Logger
}

// NewServer returns a Server wrapping ix.
func NewServer(ix *bigmapindex.Index, log *zap.Logger) *Server {
	return &Server{ix: ix, log: log}
}

// Router returns the client-facing chi router implementing spec.md §6.1.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Post("/get", s.handleGet)
	r.Post("/put", s.handlePut)
	r.Post("/batch_put", s.handleBatchPut)
	r.Post("/append", s.handleAppend)
	r.Post("/delete", s.handleDelete)
	r.Post("/list", s.handleList)
	r.Post("/get_random_key", s.handleGetRandomKey)
	r.Post("/set_used_bytes_threshold", s.handleSetUsedBytesThreshold)
	r.Post("/maintenance", s.handleMaintenance)
	r.Post("/status", s.handleStatus)
	r.Post("/add_data_buckets", s.handleAddDataBuckets)
	r.Post("/lookup_data_bucket_for_put", s.handleLookupForPut)
	r.Post("/lookup_data_bucket_for_get", s.handleLookupForGet)
	r.Post("/set_data_bucket_canister_wasm_binary", s.handleSetDataWasm)
	r.Post("/set_search_canister_wasm_binary", s.handleSetSearchWasm)
	r.Post("/put_and_fts_index", s.handlePutAndFTSIndex)
	r.Post("/batch_put_and_fts_index", s.handleBatchPutAndFTSIndex)
	r.Post("/remove_from_fts_index", s.handleRemoveFromFTSIndex)
	r.Post("/search", s.handleSearch)

	return r
}

// DebugRouter returns the operator-facing debug surface, separate from the
// client RPC surface above.
func (s *Server) DebugRouter() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/debug/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}).Methods(http.MethodGet)
	r.HandleFunc("/debug/status", func(w http.ResponseWriter, req *http.Request) {
		st := s.ix.GetStatus(req.Context())
		writeJSON(w, st)
	}).Methods(http.MethodGet)
	return r
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return false
	}
	return true
}
