package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xela07ax/spaceai-policy-runtime/internal/amount"
	"github.com/xela07ax/spaceai-policy-runtime/internal/domain"
	"github.com/xela07ax/spaceai-policy-runtime/internal/engine"
	"github.com/xela07ax/spaceai-policy-runtime/internal/policy"
)

const maxBodyBytes = 1 << 20

type evaluateRequest struct {
	Intent domain.Intent `json:"intent"`
	Now    *int64        `json:"now,omitempty"` // epoch ms, для детерминированных прогонов
}

type recordRequest struct {
	domain.Execution
	Now *int64 `json:"now,omitempty"`
}

type executeRequest struct {
	Intent domain.Intent `json:"intent"`
	TxHash string        `json:"txHash,omitempty"`
	Now    *int64        `json:"now,omitempty"`
}

type pauseRequest struct {
	Paused bool `json:"paused"`
}

type reloadRequest struct {
	Policy      json.RawMessage `json:"policy"`
	Fingerprint string          `json:"policyHash,omitempty"`
}

type statusResponse struct {
	OK bool `json:"ok"`
	engine.Status
	DecisionsTotal int64 `json:"decisions_total"`
}

// GET /status
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := s.engine.Status()
	writeJSON(w, http.StatusOK, statusResponse{OK: st.Loaded, Status: st, DecisionsTotal: st.Allowed + st.Denied})
}

// POST /evaluate
func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req evaluateRequest
	if !s.decode(w, r, &req) {
		return
	}
	d, err := s.engine.Evaluate(r.Context(), req.Intent, s.now(req.Now))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// POST /record
func (s *Server) handleRecord(w http.ResponseWriter, r *http.Request) {
	var req recordRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.engine.RecordExecution(r.Context(), req.Execution, s.now(req.Now)); err != nil {
		s.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// POST /execute — evaluate и, при allow, сразу record.
func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if !s.decode(w, r, &req) {
		return
	}
	now := s.now(req.Now)
	d, err := s.engine.Evaluate(r.Context(), req.Intent, now)
	if err != nil {
		s.fail(w, err)
		return
	}
	if d.Allowed() {
		txHash := req.TxHash
		if txHash == "" {
			txHash = "0x" + strings.ReplaceAll(uuid.NewString(), "-", "")
		}
		if err := s.engine.RecordExecution(r.Context(), domain.Execution{Intent: req.Intent, TxHash: txHash}, now); err != nil {
			s.fail(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, d)
}

// POST /pause
func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	var req pauseRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.engine.SetPause(req.Paused); err != nil {
		s.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// POST /reload — горячая замена политики из тела запроса.
func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	var req reloadRequest
	if !s.decode(w, r, &req) {
		return
	}
	if len(req.Policy) == 0 || string(req.Policy) == "null" {
		writeError(w, http.StatusBadRequest, "policy missing")
		return
	}
	if err := s.engine.LoadPolicy(req.Policy, req.Fingerprint); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "policyHash": s.engine.Fingerprint()})
}

// POST /reopen_logs — после ротации JSONL журнала.
func (s *Server) handleReopenLogs(w http.ResponseWriter, r *http.Request) {
	if s.opts.Logs != nil {
		if err := s.opts.Logs.Reopen(); err != nil {
			s.fail(w, fmt.Errorf("reopen logs: %w", err))
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) now(explicit *int64) int64 {
	if explicit != nil {
		return *explicit
	}
	return s.opts.Clock().UnixMilli()
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

// fail маппит ошибки движка на HTTP-статусы.
func (s *Server) fail(w http.ResponseWriter, err error) {
	var verr *policy.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "policy schema invalid", "violations": verr.Violations})
	case errors.Is(err, engine.ErrPolicyNotLoaded):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, engine.ErrAmountRequired),
		errors.Is(err, engine.ErrAmountMismatch),
		errors.Is(err, engine.ErrBadTarget),
		errors.Is(err, amount.ErrBadAmount),
		errors.Is(err, amount.ErrPrecisionExceeded):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.logger.Error("request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
