package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/ogulcanaydogan/milestone-attestation/internal/attest"
	"github.com/ogulcanaydogan/milestone-attestation/internal/sign"
	"github.com/ogulcanaydogan/milestone-attestation/internal/store"
	"github.com/ogulcanaydogan/milestone-attestation/pkg/schema"
	"github.com/ogulcanaydogan/milestone-attestation/pkg/types"
)

const defaultMaxBodyBytes = 64 * 1024

type attestationResponse struct {
	attest.Attestation
	RecordID string `json:"record_id,omitempty"`
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readBody(w, r, schema.AttestationRequest)
	if !ok {
		return
	}
	var req types.AttestationRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, types.ErrorResponse{Error: fmt.Sprintf("decode request: %v", err)})
		return
	}
	status, err := attest.ParseStatus(req.Status)
	if err != nil {
		writeValidation(w, r, err)
		return
	}

	att, err := s.svc.Create(attest.Request{
		AppID:          req.AppID,
		MilestoneIndex: req.MilestoneIndex,
		Status:         status,
		MilestoneHash:  req.MilestoneHash,
		ProofHash:      req.ProofHash,
		Timestamp:      req.Timestamp,
	})
	var ve *attest.ValidationError
	switch {
	case errors.As(err, &ve):
		writeValidation(w, r, err)
		return
	case errors.Is(err, sign.ErrNoKey):
		loggerFrom(r, s.logger).Error("attestation requested without a verifier key", "error", err)
		writeError(w, r, http.StatusServiceUnavailable, types.ErrorResponse{Error: "verifier key unavailable"})
		return
	case err != nil:
		loggerFrom(r, s.logger).Error("create attestation", "error", err)
		writeError(w, r, http.StatusInternalServerError, types.ErrorResponse{Error: "internal error"})
		return
	}

	resp := attestationResponse{Attestation: att}
	if s.journal != nil {
		rec, err := store.NewRecord(att, req.Metadata, s.now())
		if err == nil {
			err = s.journal.Append(r.Context(), rec)
		}
		if err != nil {
			loggerFrom(r, s.logger).Error("journal append failed", "error", err, "app_id", att.AppID, "milestone_index", att.MilestoneIndex)
			writeError(w, r, http.StatusInternalServerError, types.ErrorResponse{Error: "attestation could not be recorded"})
			return
		}
		resp.RecordID = rec.ID
	}

	loggerFrom(r, s.logger).Info("attestation issued",
		"app_id", att.AppID,
		"milestone_index", att.MilestoneIndex,
		"status", att.Status,
		"timestamp", att.Timestamp,
		"record_id", resp.RecordID)
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readBody(w, r, schema.VerifyRequest)
	if !ok {
		return
	}
	var req types.VerifyRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, types.ErrorResponse{Error: fmt.Sprintf("decode request: %v", err)})
		return
	}
	valid := s.svc.VerifyHex(req.Message, req.Signature, req.PublicKey)
	loggerFrom(r, s.logger).Debug("signature verification", "valid", valid)
	writeJSON(w, http.StatusOK, types.VerifyResponse{
		Valid:     valid,
		Message:   req.Message,
		Signature: req.Signature,
		PublicKey: req.PublicKey,
	})
}

func (s *Server) handlePublicKey(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, types.PublicKeyResponse{
		PublicKey: s.svc.PublicKeyHex(),
		Algorithm: sign.Algorithm,
		KeyID:     s.svc.KeyID(),
	})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeError(w, r, http.StatusNotFound, types.ErrorResponse{Error: "journal disabled"})
		return
	}
	appID, err := strconv.ParseUint(r.URL.Query().Get("app_id"), 10, 64)
	if err != nil || appID == 0 {
		writeError(w, r, http.StatusBadRequest, types.ErrorResponse{Error: "validation failed", Field: "app_id", Reason: "must be a positive integer"})
		return
	}
	records, err := s.journal.List(r.Context(), appID)
	if err != nil {
		loggerFrom(r, s.logger).Error("journal list failed", "error", err, "app_id", appID)
		writeError(w, r, http.StatusInternalServerError, types.ErrorResponse{Error: "internal error"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"app_id": appID, "records": records})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// handleReady reports 503 while the service signs with an ephemeral key.
func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	if s.svc.Ephemeral() {
		http.Error(w, "verifier key is ephemeral", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// readBody caps, reads and schema-checks the request body. It writes the
// error response itself and reports false when the request is rejected.
func (s *Server) readBody(w http.ResponseWriter, r *http.Request, schemaName string) ([]byte, bool) {
	limit := s.cfg.MaxBodyBytes
	if limit <= 0 {
		limit = defaultMaxBodyBytes
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, types.ErrorResponse{Error: fmt.Sprintf("read body: %v", err)})
		return nil, false
	}
	if int64(len(body)) > limit {
		writeError(w, r, http.StatusRequestEntityTooLarge, types.ErrorResponse{Error: fmt.Sprintf("body exceeds %d bytes", limit)})
		return nil, false
	}
	details, err := schema.Validate(schemaName, body)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, types.ErrorResponse{Error: "malformed JSON body"})
		return nil, false
	}
	if len(details) > 0 {
		writeError(w, r, http.StatusBadRequest, types.ErrorResponse{Error: "validation failed", Details: details})
		return nil, false
	}
	return body, true
}

func writeValidation(w http.ResponseWriter, r *http.Request, err error) {
	resp := types.ErrorResponse{Error: "validation failed"}
	var ve *attest.ValidationError
	if errors.As(err, &ve) {
		resp.Field = ve.Field
		resp.Reason = ve.Reason
	} else {
		resp.Reason = err.Error()
	}
	writeError(w, r, http.StatusBadRequest, resp)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, resp types.ErrorResponse) {
	resp.RequestID = requestIDFrom(r)
	writeJSON(w, code, resp)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
