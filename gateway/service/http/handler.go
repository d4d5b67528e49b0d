package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"censustwin/config"
	"censustwin/contract"
	core "censustwin/gateway/service/core"
	"censustwin/internal/censushash"
	"censustwin/ledger"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const maxBodyBytes = 1 << 20

type callerKey struct{}

// RecordHandler serves the census ledger REST API
type RecordHandler struct {
	svc      *core.Service
	identity config.IdentityConfig
	logger   *log.Logger
}

// NewRecordHandler creates a new RecordHandler
func NewRecordHandler(s *core.Service, identity config.IdentityConfig, l *log.Logger) *RecordHandler {
	return &RecordHandler{svc: s, identity: identity, logger: l}
}

// Register mounts the API routes on r
func (h *RecordHandler) Register(r chi.Router, healthPath string) {
	r.Get(healthPath, h.HealthCheck)

	r.Route("/v1", func(r chi.Router) {
		r.Use(middleware.RequestID)
		r.Use(middleware.Recoverer)
		r.Use(h.requireCaller)

		r.Post("/records", h.InitializeRecord)
		r.Post("/records/anchor", h.AnchorRecord)
		r.Get("/records", h.QueryRecords)
		r.Route("/records/{id}", func(r chi.Router) {
			r.Get("/", h.GetRecord)
			r.Get("/exists", h.RecordExists)
			r.Get("/history", h.GetRecordHistory)
			r.Get("/access-logs", h.GetAccessLogs)
			r.Post("/review", h.ReviewRecord)
			r.Post("/verify", h.VerifyIntegrity)
			r.Post("/access", h.LogAccess)
		})
		r.Get("/ledger/status", h.LedgerStatus)
		r.Post("/invocations", h.Enqueue)
	})
}

// NewRouter builds a router with the API and, when handler is non-nil, the metrics endpoint
func NewRouter(h *RecordHandler, monitoring config.MonitoringConfig, metricsHandler http.Handler) chi.Router {
	r := chi.NewRouter()
	h.Register(r, monitoring.HealthCheckPath)
	if monitoring.EnableMetrics && metricsHandler != nil {
		r.Method(http.MethodGet, monitoring.MetricsPath, metricsHandler)
	}
	return r
}

// requireCaller resolves the caller identity from the configured headers. The authority
// falls back to the configured default; a missing identity is rejected.
func (h *RecordHandler) requireCaller(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller := contract.Identity{
			AuthorityID: strings.TrimSpace(r.Header.Get(h.identity.AuthorityHeader)),
			IdentityID:  strings.TrimSpace(r.Header.Get(h.identity.IdentityHeader)),
		}
		if caller.AuthorityID == "" {
			caller.AuthorityID = h.identity.DefaultAuthorityID
		}
		if err := caller.Validate(); err != nil {
			h.respondError(w, fmt.Sprintf("caller identity required (%s, %s headers)", h.identity.IdentityHeader, h.identity.AuthorityHeader), http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), callerKey{}, caller)))
	})
}

func callerFrom(ctx context.Context) contract.Identity {
	caller, _ := ctx.Value(callerKey{}).(contract.Identity)
	return caller
}

// InitializeRecord handles POST /v1/records with a caller-computed hash
func (h *RecordHandler) InitializeRecord(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RecordID string          `json:"record_id"`
		DataHash string          `json:"data_hash"`
		Metadata json.RawMessage `json:"metadata,omitempty"`
	}
	if !h.decode(w, r, &req) {
		return
	}

	receipt, err := h.svc.InitializeRecord(r.Context(), callerFrom(r.Context()), req.RecordID, req.DataHash, metadataArg(req.Metadata))
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	h.respondJSON(w, receipt, http.StatusCreated)
}

// AnchorRecord handles POST /v1/records/anchor; the body is the off-chain census record
func (h *RecordHandler) AnchorRecord(w http.ResponseWriter, r *http.Request) {
	record, err := censushash.Decode(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		h.respondError(w, "Bad Request: "+err.Error(), http.StatusBadRequest)
		return
	}

	result, err := h.svc.AnchorRecord(r.Context(), callerFrom(r.Context()), record)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	h.respondJSON(w, result, http.StatusCreated)
}

// ReviewRecord handles POST /v1/records/{id}/review
func (h *RecordHandler) ReviewRecord(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ReviewerID    string          `json:"reviewer_id"`
		Decision      string          `json:"decision"`
		NewHash       string          `json:"new_hash,omitempty"`
		UpdatedRecord json.RawMessage `json:"updated_record,omitempty"`
	}
	if !h.decode(w, r, &req) {
		return
	}

	ctx := r.Context()
	var (
		result *core.ReviewResult
		err    error
	)
	if len(req.UpdatedRecord) > 0 && string(req.UpdatedRecord) != "null" {
		updated, derr := censushash.Decode(bytes.NewReader(req.UpdatedRecord))
		if derr != nil {
			h.respondError(w, "Bad Request: updated_record: "+derr.Error(), http.StatusBadRequest)
			return
		}
		result, err = h.svc.SubmitReview(ctx, callerFrom(ctx), recordID(r), req.ReviewerID, req.Decision, updated)
	} else {
		result, err = h.svc.ReviewRecord(ctx, callerFrom(ctx), recordID(r), req.ReviewerID, req.Decision, req.NewHash)
	}
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	h.respondJSON(w, result, http.StatusOK)
}

// VerifyIntegrity handles POST /v1/records/{id}/verify with either a hash or the off-chain record
func (h *RecordHandler) VerifyIntegrity(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ProvidedHash string          `json:"provided_hash,omitempty"`
		Record       json.RawMessage `json:"record,omitempty"`
	}
	if !h.decode(w, r, &req) {
		return
	}

	ctx := r.Context()
	var (
		result *core.VerifyResult
		err    error
	)
	if len(req.Record) > 0 && string(req.Record) != "null" {
		record, derr := censushash.Decode(bytes.NewReader(req.Record))
		if derr != nil {
			h.respondError(w, "Bad Request: record: "+derr.Error(), http.StatusBadRequest)
			return
		}
		result, err = h.svc.VerifyRecord(ctx, callerFrom(ctx), recordID(r), record)
	} else {
		result, err = h.svc.VerifyIntegrity(ctx, callerFrom(ctx), recordID(r), req.ProvidedHash)
	}
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	h.respondJSON(w, result, http.StatusOK)
}

// LogAccess handles POST /v1/records/{id}/access
func (h *RecordHandler) LogAccess(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AccessorID string `json:"accessor_id"`
		Reason     string `json:"reason"`
	}
	if !h.decode(w, r, &req) {
		return
	}

	result, err := h.svc.LogAccess(r.Context(), callerFrom(r.Context()), recordID(r), req.AccessorID, req.Reason)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	h.respondJSON(w, result, http.StatusCreated)
}

// GetRecord handles GET /v1/records/{id}
func (h *RecordHandler) GetRecord(w http.ResponseWriter, r *http.Request) {
	record, err := h.svc.GetRecord(r.Context(), callerFrom(r.Context()), recordID(r))
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	h.respondJSON(w, record, http.StatusOK)
}

// RecordExists handles GET /v1/records/{id}/exists
func (h *RecordHandler) RecordExists(w http.ResponseWriter, r *http.Request) {
	id := recordID(r)
	exists, err := h.svc.RecordExists(r.Context(), callerFrom(r.Context()), id)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	h.respondJSON(w, map[string]any{"record_id": id, "exists": exists}, http.StatusOK)
}

// GetRecordHistory handles GET /v1/records/{id}/history
func (h *RecordHandler) GetRecordHistory(w http.ResponseWriter, r *http.Request) {
	id := recordID(r)
	history, err := h.svc.GetRecordHistory(r.Context(), callerFrom(r.Context()), id)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	h.respondJSON(w, map[string]any{"record_id": id, "history": history}, http.StatusOK)
}

// GetAccessLogs handles GET /v1/records/{id}/access-logs
func (h *RecordHandler) GetAccessLogs(w http.ResponseWriter, r *http.Request) {
	id := recordID(r)
	logs, err := h.svc.GetAccessLogs(r.Context(), callerFrom(r.Context()), id)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	h.respondJSON(w, map[string]any{"record_id": id, "logs": logs}, http.StatusOK)
}

// QueryRecords handles GET /v1/records?status=X or ?flag_status=Y
func (h *RecordHandler) QueryRecords(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	status, byStatus := q.Get("status"), q.Has("status")
	flag, byFlag := q.Get("flag_status"), q.Has("flag_status")
	if byStatus == byFlag {
		h.respondError(w, "exactly one of status or flag_status is required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	var (
		records []contract.Decoded[contract.CensusRecord]
		err     error
	)
	if byStatus {
		records, err = h.svc.QueryByStatus(ctx, callerFrom(ctx), status)
	} else {
		records, err = h.svc.QueryByFlagStatus(ctx, callerFrom(ctx), flag)
	}
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	h.respondJSON(w, map[string]any{"count": len(records), "records": records}, http.StatusOK)
}

// LedgerStatus handles GET /v1/ledger/status
func (h *RecordHandler) LedgerStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.svc.LedgerStatus(r.Context(), callerFrom(r.Context()))
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	h.respondJSON(w, status, http.StatusOK)
}

// Enqueue handles POST /v1/invocations, queueing a state-changing invocation for the engine
func (h *RecordHandler) Enqueue(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Function string            `json:"function"`
		Args     map[string]string `json:"args"`
	}
	if !h.decode(w, r, &req) {
		return
	}

	queued, err := h.svc.Enqueue(r.Context(), callerFrom(r.Context()), req.Function, req.Args)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	h.respondJSON(w, queued, http.StatusAccepted)
}

// HealthCheck handles GET /health requests
func (h *RecordHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().Format(time.RFC3339Nano),
		"service":   "census-ledger-gateway",
	}
	h.respondJSON(w, resp, http.StatusOK)
}

func (h *RecordHandler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if ct := r.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, "application/json") {
		h.respondError(w, "Content-Type must be application/json", http.StatusUnsupportedMediaType)
		return false
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v); err != nil {
		h.logger.Printf("HTTP Handler: Failed to parse JSON request: %v", err)
		h.respondError(w, "Bad Request: Invalid JSON format", http.StatusBadRequest)
		return false
	}
	return true
}

// respondServiceError maps contract and runtime errors to HTTP status codes
func (h *RecordHandler) respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusCode(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		h.logger.Printf("HTTP Handler: %s %s failed (request_id %s): %v", r.Method, r.URL.Path, middleware.GetReqID(r.Context()), err)
		message = "internal ledger error"
	}
	h.respondError(w, message, status)
}

// StatusCode returns the HTTP status for a service error
func StatusCode(err error) int {
	switch {
	case errors.Is(err, ledger.ErrMVCCConflict), errors.Is(err, contract.ErrAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, contract.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, contract.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrQueueDisabled):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (h *RecordHandler) respondJSON(w http.ResponseWriter, data any, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Printf("HTTP Handler: Failed to encode JSON response: %v", err)
	}
}

func (h *RecordHandler) respondError(w http.ResponseWriter, message string, statusCode int) {
	h.respondJSON(w, map[string]any{
		"error":   message,
		"status":  statusCode,
		"message": http.StatusText(statusCode),
	}, statusCode)
}

func recordID(r *http.Request) string {
	raw := chi.URLParam(r, "id")
	if id, err := url.PathUnescape(raw); err == nil {
		return id
	}
	return raw
}

// metadataArg accepts metadata either as a JSON string holding the document or as the document itself.
func metadataArg(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}
