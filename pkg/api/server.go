// Package api binds pkg/rpc.Service to transports: an HTTP+JSON
// surface for the RPC method table, and a gRPC server exposing only
// health and reflection (no generated service stubs — the on-wire RPC
// framing itself is outside this module's scope).
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/docvault/storagenode/pkg/metrics"
	"github.com/docvault/storagenode/pkg/rpc"
	"github.com/docvault/storagenode/pkg/types"
)

// Server is the HTTP+JSON binding of a pkg/rpc.Service.
type Server struct {
	svc rpc.Service
	mux *http.ServeMux
}

// NewServer builds a Server routing each RPC method to its own path
// under /v1.
func NewServer(svc rpc.Service) *Server {
	s := &Server{svc: svc, mux: http.NewServeMux()}

	s.mux.HandleFunc("/v1/setup", s.handleSetup)
	s.mux.HandleFunc("/v1/system_status", s.handleSystemStatus)
	s.mux.HandleFunc("/v1/send_mutation", s.handleSendMutation)
	s.mux.HandleFunc("/v1/nonce", s.handleGetNonce)
	s.mux.HandleFunc("/v1/database", s.handleGetDatabase)
	s.mux.HandleFunc("/v1/database_of_owner", s.handleGetDatabaseOfOwner)
	s.mux.HandleFunc("/v1/collection_of_database", s.handleGetCollectionOfDatabase)
	s.mux.HandleFunc("/v1/mutation_header", s.handleGetMutationHeader)
	s.mux.HandleFunc("/v1/mutation_body", s.handleGetMutationBody)
	s.mux.HandleFunc("/v1/scan_mutation_header", s.handleScanMutationHeader)
	s.mux.HandleFunc("/v1/scan_rollup_record", s.handleScanRollupRecord)
	s.mux.HandleFunc("/v1/scan_gc_record", s.handleScanGCRecord)
	s.mux.HandleFunc("/v1/block", s.handleGetBlock)
	s.mux.HandleFunc("/v1/subscribe", s.handleSubscribe)
	s.mux.Handle("/metrics", metrics.Handler())

	return s
}

// ListenAndServe starts the HTTP server on addr.
func (s *Server) ListenAndServe(addr string) error {
	server := &http.Server{
		Addr:         addr,
		Handler:      s.mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return server.ListenAndServe()
}

// ServeHTTP lets Server be used directly with httptest.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, method string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, types.ErrInvalidEnvelope), errors.Is(err, types.ErrInvalidSignature),
		errors.Is(err, types.ErrMalformedEnvelope), errors.Is(err, types.ErrBadInnerPayload):
		status = http.StatusBadRequest
	case errors.Is(err, types.ErrNotFound), errors.Is(err, types.ErrDatabaseNotFound), errors.Is(err, types.ErrCollectionNotFound):
		status = http.StatusNotFound
	case errors.Is(err, types.ErrPermissionDenied):
		status = http.StatusForbidden
	case errors.Is(err, types.ErrOwnerVerifyFailed), errors.Is(err, types.ErrCollectionExists), errors.Is(err, types.ErrDatabaseExists):
		status = http.StatusConflict
	}
	metrics.APIRequestsTotal.WithLabelValues(method, strconv.Itoa(status)).Inc()
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func recordOK(method string) {
	metrics.APIRequestsTotal.WithLabelValues(method, "200").Inc()
}

func (s *Server) handleSetup(w http.ResponseWriter, r *http.Request) {
	var req rpc.SetupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "setup", types.ErrMalformedEnvelope)
		return
	}
	resp, err := s.svc.Setup(r.Context(), req)
	if err != nil {
		writeError(w, "setup", err)
		return
	}
	recordOK("setup")
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSystemStatus(w http.ResponseWriter, r *http.Request) {
	resp, err := s.svc.GetSystemStatus(r.Context())
	if err != nil {
		writeError(w, "get_system_status", err)
		return
	}
	recordOK("get_system_status")
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSendMutation(w http.ResponseWriter, r *http.Request) {
	var req rpc.SendMutationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "send_mutation", types.ErrMalformedEnvelope)
		return
	}
	resp, err := s.svc.SendMutation(r.Context(), req)
	if err != nil {
		writeError(w, "send_mutation", err)
		return
	}
	recordOK("send_mutation")
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetNonce(w http.ResponseWriter, r *http.Request) {
	addr, err := types.AddressFromHex(r.URL.Query().Get("address"))
	if err != nil {
		writeError(w, "get_nonce", types.ErrMalformedEnvelope)
		return
	}
	nonce, err := s.svc.GetNonce(r.Context(), addr)
	if err != nil {
		writeError(w, "get_nonce", err)
		return
	}
	recordOK("get_nonce")
	writeJSON(w, http.StatusOK, map[string]uint64{"next_nonce": nonce})
}

func (s *Server) handleGetDatabase(w http.ResponseWriter, r *http.Request) {
	addr, err := types.AddressFromHex(r.URL.Query().Get("address"))
	if err != nil {
		writeError(w, "get_database", types.ErrMalformedEnvelope)
		return
	}
	record, err := s.svc.GetDatabase(r.Context(), addr)
	if err != nil {
		writeError(w, "get_database", err)
		return
	}
	recordOK("get_database")
	writeJSON(w, http.StatusOK, record)
}

func (s *Server) handleGetDatabaseOfOwner(w http.ResponseWriter, r *http.Request) {
	owner, err := types.AddressFromHex(r.URL.Query().Get("owner"))
	if err != nil {
		writeError(w, "get_database_of_owner", types.ErrMalformedEnvelope)
		return
	}
	dbs, err := s.svc.GetDatabaseOfOwner(r.Context(), owner)
	if err != nil {
		writeError(w, "get_database_of_owner", err)
		return
	}
	recordOK("get_database_of_owner")
	writeJSON(w, http.StatusOK, dbs)
}

func (s *Server) handleGetCollectionOfDatabase(w http.ResponseWriter, r *http.Request) {
	dbAddr, err := types.AddressFromHex(r.URL.Query().Get("db_addr"))
	if err != nil {
		writeError(w, "get_collection_of_database", types.ErrMalformedEnvelope)
		return
	}
	colls, err := s.svc.GetCollectionOfDatabase(r.Context(), dbAddr)
	if err != nil {
		writeError(w, "get_collection_of_database", err)
		return
	}
	recordOK("get_collection_of_database")
	writeJSON(w, http.StatusOK, colls)
}

func parseUint64(q, name string) (uint64, error) {
	v := q
	if v == "" {
		return 0, nil
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, types.ErrMalformedEnvelope
	}
	return n, nil
}

func (s *Server) handleGetMutationHeader(w http.ResponseWriter, r *http.Request) {
	block, err := parseUint64(r.URL.Query().Get("block"), "block")
	if err != nil {
		writeError(w, "get_mutation_header", err)
		return
	}
	order, err := parseUint64(r.URL.Query().Get("order"), "order")
	if err != nil {
		writeError(w, "get_mutation_header", err)
		return
	}
	header, err := s.svc.GetMutationHeader(r.Context(), block, uint32(order))
	if err != nil {
		writeError(w, "get_mutation_header", err)
		return
	}
	recordOK("get_mutation_header")
	writeJSON(w, http.StatusOK, header)
}

func (s *Server) handleGetMutationBody(w http.ResponseWriter, r *http.Request) {
	id, err := types.MutationIDFromHex(r.URL.Query().Get("id"))
	if err != nil {
		writeError(w, "get_mutation_body", err)
		return
	}
	body, err := s.svc.GetMutationBody(r.Context(), id)
	if err != nil {
		writeError(w, "get_mutation_body", err)
		return
	}
	recordOK("get_mutation_body")
	writeJSON(w, http.StatusOK, body)
}

func parseScanParams(r *http.Request) (start uint64, limit int, err error) {
	start, err = parseUint64(r.URL.Query().Get("start"), "start")
	if err != nil {
		return 0, 0, err
	}
	limitStr := r.URL.Query().Get("limit")
	if limitStr == "" {
		return start, 0, nil
	}
	l, err := strconv.Atoi(limitStr)
	if err != nil {
		return 0, 0, types.ErrMalformedEnvelope
	}
	return start, l, nil
}

func (s *Server) handleScanMutationHeader(w http.ResponseWriter, r *http.Request) {
	start, limit, err := parseScanParams(r)
	if err != nil {
		writeError(w, "scan_mutation_header", err)
		return
	}
	headers, err := s.svc.ScanMutationHeader(r.Context(), start, limit)
	if err != nil {
		writeError(w, "scan_mutation_header", err)
		return
	}
	recordOK("scan_mutation_header")
	writeJSON(w, http.StatusOK, headers)
}

func (s *Server) handleScanRollupRecord(w http.ResponseWriter, r *http.Request) {
	start, limit, err := parseScanParams(r)
	if err != nil {
		writeError(w, "scan_rollup_record", err)
		return
	}
	records, err := s.svc.ScanRollupRecord(r.Context(), start, limit)
	if err != nil {
		writeError(w, "scan_rollup_record", err)
		return
	}
	recordOK("scan_rollup_record")
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleScanGCRecord(w http.ResponseWriter, r *http.Request) {
	start, limit, err := parseScanParams(r)
	if err != nil {
		writeError(w, "scan_gc_record", err)
		return
	}
	records, err := s.svc.ScanGCRecord(r.Context(), start, limit)
	if err != nil {
		writeError(w, "scan_gc_record", err)
		return
	}
	recordOK("scan_gc_record")
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleGetBlock(w http.ResponseWriter, r *http.Request) {
	start, err := parseUint64(r.URL.Query().Get("start"), "start")
	if err != nil {
		writeError(w, "get_block", err)
		return
	}
	end, err := parseUint64(r.URL.Query().Get("end"), "end")
	if err != nil {
		writeError(w, "get_block", err)
		return
	}
	headers, bodies, err := s.svc.GetBlock(r.Context(), start, end)
	if err != nil {
		writeError(w, "get_block", err)
		return
	}
	recordOK("get_block")
	writeJSON(w, http.StatusOK, struct {
		Headers []types.MutationHeader `json:"headers"`
		Bodies  []types.MutationBody   `json:"bodies"`
	}{headers, bodies})
}

// handleSubscribe upgrades a subscribe request into a chunked
// newline-delimited-JSON stream of block events, for as long as the
// client keeps the connection open.
func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	var req rpc.SubscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "subscribe", types.ErrMalformedEnvelope)
		return
	}

	events, cancel, err := s.svc.Subscribe(r.Context(), req)
	if err != nil {
		writeError(w, "subscribe", err)
		return
	}
	defer cancel()

	flusher, ok := w.(http.Flusher)
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	recordOK("subscribe")

	enc := json.NewEncoder(w)
	for {
		select {
		case event, open := <-events:
			if !open {
				return
			}
			if err := enc.Encode(event); err != nil {
				return
			}
			if ok {
				flusher.Flush()
			}
		case <-r.Context().Done():
			return
		}
	}
}
