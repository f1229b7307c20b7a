package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/seo-auditor/internal/audit"
	iduuid "github.com/JakeFAU/seo-auditor/internal/id/uuid"
	"github.com/JakeFAU/seo-auditor/internal/oauth"
)

type auditRequest struct {
	PageURL       string `json:"pageUrl"`
	TargetKeyword string `json:"targetKeyword"`
	NotifyEmail   string `json:"notifyEmail"`
	State         string `json:"state"`
}

type statusResponse struct {
	RunID     string          `json:"runId"`
	Status    audit.RunStatus `json:"status"`
	Error     string          `json:"error,omitempty"`
	Attempts  int             `json:"attempts"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

func (s *Server) submitAudit(w http.ResponseWriter, r *http.Request) {
	var req auditRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if err := validateAuditRequest(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	runID, err := s.enqueueAudit(r.Context(), req)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusServiceUnavailable
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"runId": runID, "status": string(audit.RunStatusQueued)})
}

func (s *Server) enqueueAudit(ctx context.Context, req auditRequest) (string, error) {
	runID, err := s.idGen.NewID()
	if err != nil {
		return "", fmt.Errorf("generate run id: %w", err)
	}
	run := audit.Run{
		ID:            runID,
		PageURL:       req.PageURL,
		TargetKeyword: strings.TrimSpace(req.TargetKeyword),
		NotifyEmail:   strings.TrimSpace(req.NotifyEmail),
		State:         req.State,
	}
	if err := s.runs.CreateRun(ctx, run); err != nil {
		return "", fmt.Errorf("create run: %w", err)
	}
	queueCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	item := audit.QueueItem{
		Job:       run.Job(),
		Submitted: s.clock.Now().Unix(),
	}
	if err := s.dispatcher.Enqueue(queueCtx, item); err != nil {
		if tErr := s.runs.TransitionRun(context.WithoutCancel(ctx), runID, audit.RunStatusFailed, "enqueue failed"); tErr != nil {
			s.logger.Error("fail unqueued run", zap.String("run_id", runID), zap.Error(tErr))
		}
		return "", fmt.Errorf("enqueue audit: %w", err)
	}
	s.logger.Info("audit submitted", zap.String("run_id", runID), zap.String("url", req.PageURL))
	return runID, nil
}

func validateAuditRequest(req auditRequest) error {
	if strings.TrimSpace(req.PageURL) == "" {
		return errors.New("pageUrl required")
	}
	u, err := url.Parse(req.PageURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errors.New("pageUrl must be an absolute http(s) URL")
	}
	if req.NotifyEmail != "" && !strings.Contains(req.NotifyEmail, "@") {
		return errors.New("notifyEmail is not an email address")
	}
	return nil
}

func (s *Server) getAuditStatus(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runId")
	if !iduuid.Valid(runID) {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	run, err := s.runs.GetRun(r.Context(), runID)
	if err != nil {
		s.writeStoreError(w, err, "run not found")
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{
		RunID:     run.ID,
		Status:    run.Status,
		Error:     run.ErrorText,
		Attempts:  run.Attempts,
		CreatedAt: run.CreatedAt,
		UpdatedAt: run.UpdatedAt,
	})
}

func (s *Server) getAuditResult(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runId")
	if !iduuid.Valid(runID) {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	run, err := s.runs.GetRun(r.Context(), runID)
	if err != nil {
		s.writeStoreError(w, err, "run not found")
		return
	}
	if run.Status != audit.RunStatusReady {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error":  "result not ready",
			"status": string(run.Status),
		})
		return
	}
	result, err := s.runs.GetResult(r.Context(), runID)
	if err != nil {
		s.writeStoreError(w, err, "result not found")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) oauthURL(w http.ResponseWriter, r *http.Request) {
	if s.oauth == nil || !s.oauth.Configured() {
		writeError(w, http.StatusServiceUnavailable, oauth.ErrNotConfigured.Error())
		return
	}
	state := r.URL.Query().Get("state")
	if state == "" {
		writeError(w, http.StatusBadRequest, "state required")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": s.oauth.AuthURL(state)})
}

func (s *Server) oauthCallback(w http.ResponseWriter, r *http.Request) {
	if s.oauth == nil {
		writeError(w, http.StatusServiceUnavailable, oauth.ErrNotConfigured.Error())
		return
	}
	q := r.URL.Query()
	if errParam := q.Get("error"); errParam != "" {
		writeError(w, http.StatusBadRequest, "consent denied: "+errParam)
		return
	}
	code, state := q.Get("code"), q.Get("state")
	if code == "" || state == "" {
		writeError(w, http.StatusBadRequest, "code and state required")
		return
	}
	if err := s.oauth.HandleCallback(r.Context(), code, state); err != nil {
		if errors.Is(err, oauth.ErrNotConfigured) {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		s.logger.Warn("oauth callback failed", zap.String("state", state), zap.Error(err))
		writeError(w, http.StatusBadGateway, "token exchange failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "authenticated", "state": state})
}

func (s *Server) writeStoreError(w http.ResponseWriter, err error, notFound string) {
	if errors.Is(err, audit.ErrNotFound) {
		writeError(w, http.StatusNotFound, notFound)
		return
	}
	s.logger.Error("run store error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal error")
}
