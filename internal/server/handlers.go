package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/julianstephens/ptlog/internal/constants"
	apperrors "github.com/julianstephens/ptlog/internal/errors"
	"github.com/julianstephens/ptlog/internal/logger"
	"github.com/julianstephens/ptlog/internal/models"
)

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	caller := s.identify(r)
	if caller == "" {
		s.fail(w, "create", start, errMissingCaller)
		return
	}

	body, err := readBody(w, r)
	if err != nil {
		s.fail(w, "create", start, err)
		return
	}

	receipt, err := s.svc.Create(r.Context(), caller, body)
	if err != nil {
		s.fail(w, "create", start, err)
		return
	}

	s.metrics.Observe("create", "committed", time.Since(start))
	s.metrics.AddSets(receipt.SetsCommitted)
	w.Header().Set("Location", constants.ActivityLogsPath+"/"+receipt.ID)
	jsonOK(w, http.StatusCreated, receipt)
}

func (s *Server) handleEdit(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	caller := s.identify(r)
	if caller == "" {
		s.fail(w, "edit", start, errMissingCaller)
		return
	}

	body, err := readBody(w, r)
	if err != nil {
		s.fail(w, "edit", start, err)
		return
	}

	receipt, err := s.svc.Edit(r.Context(), caller, r.PathValue("id"), body)
	if err != nil {
		s.fail(w, "edit", start, err)
		return
	}

	s.metrics.Observe("edit", "committed", time.Since(start))
	s.metrics.AddSets(receipt.SetsCommitted)
	jsonOK(w, http.StatusOK, receipt)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	caller := s.identify(r)
	if caller == "" {
		s.fail(w, "delete", start, errMissingCaller)
		return
	}

	if err := s.svc.Delete(r.Context(), caller, r.PathValue("id")); err != nil {
		s.fail(w, "delete", start, err)
		return
	}

	s.metrics.Observe("delete", "committed", time.Since(start))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	caller := s.identify(r)
	if caller == "" {
		s.fail(w, "get", start, errMissingCaller)
		return
	}

	log, err := s.svc.Get(r.Context(), caller, r.PathValue("id"))
	if err != nil {
		s.fail(w, "get", start, err)
		return
	}
	jsonOK(w, http.StatusOK, log)
}

var (
	errMissingCaller = errors.New("caller identity is missing")
	errBodyTooLarge  = errors.New("request body too large")
)

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, constants.MaxSubmissionBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, errBodyTooLarge
		}
		return nil, err
	}
	return body, nil
}

// fail maps err to a status and structured body, records metrics and logs
// server-side failures.
func (s *Server) fail(w http.ResponseWriter, op string, start time.Time, err error) {
	status, body := s.describe(err)
	s.metrics.Observe(op, body.Kind, time.Since(start))
	if status >= http.StatusInternalServerError {
		logger.Error("Request failed", "op", op, "error", err)
	}
	jsonOK(w, status, models.ErrorResponse{Error: body})
}

func (s *Server) describe(err error) (int, models.ErrorBody) {
	var (
		ve *apperrors.ValidationError
		ae *apperrors.AuthorizationError
		ce *apperrors.ConflictError
	)
	switch {
	case errors.Is(err, errMissingCaller):
		return http.StatusUnauthorized, models.ErrorBody{Kind: "unauthenticated", Message: err.Error()}
	case errors.Is(err, errBodyTooLarge):
		return http.StatusRequestEntityTooLarge, models.ErrorBody{Kind: "validation", Message: err.Error()}
	case errors.As(err, &ve):
		body := models.ErrorBody{Kind: "validation", Message: "submission failed validation"}
		for _, f := range ve.Fields {
			body.Fields = append(body.Fields, models.FieldIssue{Field: f.Field, Message: f.Message})
		}
		return http.StatusUnprocessableEntity, body
	case errors.As(err, &ae):
		return http.StatusForbidden, models.ErrorBody{Kind: "authorization", Message: "caller may not act for this patient"}
	case errors.As(err, &ce):
		return http.StatusConflict, models.ErrorBody{
			Kind:           "conflict",
			Message:        "idempotency key already committed",
			IdempotencyKey: ce.IdempotencyKey,
			LogID:          ce.LogID,
		}
	case errors.Is(err, apperrors.ErrNotFound):
		return http.StatusNotFound, models.ErrorBody{Kind: "not_found", Message: "activity log not found"}
	}

	body := models.ErrorBody{Kind: "commit", Message: "internal error"}
	if s.exposeErrors {
		body.Message = err.Error()
	}
	return http.StatusInternalServerError, body
}

func jsonOK(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("Failed to encode response", "error", err)
	}
}
