package bigmapapi

import (
	"net/http"

	"github.com/dfinity/bigmap/internal/bigmapindex"
)

type keyReq struct {
	Key []byte `json:"key"`
}

type keyValReq struct {
	Key []byte `json:"key"`
	Val []byte `json:"val"`
}

type bytesWrittenResp struct {
	BytesWritten uint64 `json:"bytes_written"`
}

type getResp struct {
	Val   []byte `json:"val,omitempty"`
	Found bool   `json:"found"`
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	var req keyReq
	if !decodeJSON(w, r, &req) {
		return
	}
	val, ok := s.ix.Get(r.Context(), req.Key)
	writeJSON(w, getResp{Val: val, Found: ok})
}

func (s *Server) handlePut(w http.ResponseWriter, r *http.Request) {
	var req keyValReq
	if !decodeJSON(w, r, &req) {
		return
	}
	n := s.ix.Put(r.Context(), req.Key, req.Val)
	writeJSON(w, bytesWrittenResp{BytesWritten: n})
}

func (s *Server) handleAppend(w http.ResponseWriter, r *http.Request) {
	var req keyValReq
	if !decodeJSON(w, r, &req) {
		return
	}
	n := s.ix.Append(r.Context(), req.Key, req.Val)
	writeJSON(w, bytesWrittenResp{BytesWritten: n})
}

type batchPutReq struct {
	Pairs []struct {
		Key []byte `json:"key"`
		Val []byte `json:"val"`
	} `json:"pairs"`
}

type countResp struct {
	Count uint64 `json:"count"`
}

func (s *Server) handleBatchPut(w http.ResponseWriter, r *http.Request) {
	var req batchPutReq
	if !decodeJSON(w, r, &req) {
		return
	}
	pairs := make([]bigmapindex.KV, len(req.Pairs))
	for i, p := range req.Pairs {
		pairs[i] = bigmapindex.KV{Key: p.Key, Val: p.Val}
	}
	n := s.ix.BatchPut(r.Context(), pairs)
	writeJSON(w, countResp{Count: n})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	var req keyReq
	if !decodeJSON(w, r, &req) {
		return
	}
	n := s.ix.Delete(r.Context(), req.Key)
	writeJSON(w, bytesWrittenResp{BytesWritten: n})
}

type listReq struct {
	Prefix []byte `json:"prefix"`
}

type listResp struct {
	Keys [][]byte `json:"keys"`
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	var req listReq
	if !decodeJSON(w, r, &req) {
		return
	}
	writeJSON(w, listResp{Keys: s.ix.List(r.Context(), req.Prefix)})
}

type randomKeyResp struct {
	Key string `json:"key"`
}

func (s *Server) handleGetRandomKey(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, randomKeyResp{Key: s.ix.GetRandomKey(r.Context())})
}

type thresholdReq struct {
	Threshold int64 `json:"threshold"`
}

func (s *Server) handleSetUsedBytesThreshold(w http.ResponseWriter, r *http.Request) {
	var req thresholdReq
	if !decodeJSON(w, r, &req) {
		return
	}
	s.ix.SetUsedBytesThreshold(req.Threshold)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMaintenance(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(s.ix.Maintenance(r.Context())))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.ix.GetStatus(r.Context()))
}

type addBucketsReq struct {
	IDs []string `json:"ids"`
}

func (s *Server) handleAddDataBuckets(w http.ResponseWriter, r *http.Request) {
	var req addBucketsReq
	if !decodeJSON(w, r, &req) {
		return
	}
	s.ix.AddDataBuckets(req.IDs)
	w.WriteHeader(http.StatusNoContent)
}

type lookupResp struct {
	CanisterID string `json:"canister_id,omitempty"`
	Found      bool   `json:"found"`
}

func (s *Server) handleLookupForPut(w http.ResponseWriter, r *http.Request) {
	var req keyReq
	if !decodeJSON(w, r, &req) {
		return
	}
	id, ok := s.ix.LookupDataBucketForPut(req.Key)
	writeJSON(w, lookupResp{CanisterID: id, Found: ok})
}

func (s *Server) handleLookupForGet(w http.ResponseWriter, r *http.Request) {
	var req keyReq
	if !decodeJSON(w, r, &req) {
		return
	}
	id, ok := s.ix.LookupDataBucketForGet(r.Context(), req.Key)
	writeJSON(w, lookupResp{CanisterID: id, Found: ok})
}

type wasmReq struct {
	Wasm []byte `json:"wasm"`
}

func (s *Server) handleSetDataWasm(w http.ResponseWriter, r *http.Request) {
	var req wasmReq
	if !decodeJSON(w, r, &req) {
		return
	}
	s.ix.SetDataShardWasm(req.Wasm)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSetSearchWasm(w http.ResponseWriter, r *http.Request) {
	var req wasmReq
	if !decodeJSON(w, r, &req) {
		return
	}
	s.ix.SetSearchShardWasm(req.Wasm)
	w.WriteHeader(http.StatusNoContent)
}

type putDocReq struct {
	Key []byte `json:"key"`
	Doc string `json:"doc"`
}

func (s *Server) handlePutAndFTSIndex(w http.ResponseWriter, r *http.Request) {
	var req putDocReq
	if !decodeJSON(w, r, &req) {
		return
	}
	n := s.ix.PutAndFTSIndex(r.Context(), req.Key, req.Doc)
	writeJSON(w, bytesWrittenResp{BytesWritten: n})
}

type batchPutDocReq struct {
	Pairs []struct {
		Key []byte `json:"key"`
		Doc string `json:"doc"`
	} `json:"pairs"`
}

func (s *Server) handleBatchPutAndFTSIndex(w http.ResponseWriter, r *http.Request) {
	var req batchPutDocReq
	if !decodeJSON(w, r, &req) {
		return
	}
	pairs := make([]bigmapindex.KVDoc, len(req.Pairs))
	for i, p := range req.Pairs {
		pairs[i] = bigmapindex.KVDoc{Key: p.Key, Doc: p.Doc}
	}
	n := s.ix.BatchPutAndFTSIndex(r.Context(), pairs)
	writeJSON(w, bytesWrittenResp{BytesWritten: n})
}

func (s *Server) handleRemoveFromFTSIndex(w http.ResponseWriter, r *http.Request) {
	var req keyReq
	if !decodeJSON(w, r, &req) {
		return
	}
	s.ix.RemoveFromFTSIndex(r.Context(), req.Key)
	w.WriteHeader(http.StatusNoContent)
}

type searchReq struct {
	Query string `json:"query"`
}

type searchResp struct {
	TotalHits uint64 `json:"total_hits"`
	Results   []struct {
		Key []byte `json:"key"`
		Val []byte `json:"val"`
	} `json:"results"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchReq
	if !decodeJSON(w, r, &req) {
		return
	}
	total, results := s.ix.Search(r.Context(), req.Query)
	resp := searchResp{TotalHits: total}
	for _, kv := range results {
		resp.Results = append(resp.Results, struct {
			Key []byte `json:"key"`
			Val []byte `json:"val"`
		}{Key: kv.Key, Val: kv.Val})
	}
	writeJSON(w, resp)
}
