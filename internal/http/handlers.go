package http

import (
	"context"
	"errors"
	"net/http"

	"lancamentos/internal/log"
	"lancamentos/internal/rest"
)

func (s *Server) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	if errors.Is(err, errBadRequest) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx := r.Context()
	status, msg := statusFor(err)
	if status >= http.StatusInternalServerError {
		fields := log.NewFields().WithErrorType(errorType(err))
		fields[log.FieldStatusCode] = status
		log.NewStructuredLogger(log.FromContext(ctx)).LogError(ctx, "Request failed", err, log.ComponentHTTP, op, fields)
	} else {
		log.FromContext(ctx).InfoContext(ctx, "Request rejected",
			log.FieldOperation, op,
			log.FieldStatusCode, status,
			log.FieldError, err)
	}
	writeError(w, status, msg)
}

func errorType(err error) string {
	var se *rest.StatusError
	switch {
	case errors.Is(err, rest.ErrUnauthorized):
		return "unauthorized"
	case errors.As(err, &se):
		return "upstream_status"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "upstream"
	}
}

func (s *Server) handleStatement(w http.ResponseWriter, r *http.Request) {
	c, err := ParseCriteria(r.URL.Query(), s.sanitizeInput)
	if err != nil {
		s.fail(w, r, log.OpList, err)
		return
	}
	view, err := s.service.Statement(r.Context(), c)
	if err != nil {
		s.fail(w, r, log.OpList, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	view, err := s.service.Dashboard(r.Context())
	if err != nil {
		s.fail(w, r, log.OpRead, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleLookups(w http.ResponseWriter, r *http.Request) {
	l, err := s.service.Lookups(r.Context())
	if err != nil {
		s.fail(w, r, log.OpList, err)
		return
	}
	writeJSON(w, http.StatusOK, l)
}

func (s *Server) handleGetEntry(w http.ResponseWriter, r *http.Request) {
	id, err := entryID(r)
	if err != nil {
		s.fail(w, r, log.OpRead, err)
		return
	}
	e, err := s.service.Entry(r.Context(), id)
	if err != nil {
		s.fail(w, r, log.OpRead, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (s *Server) handleCreateEntry(w http.ResponseWriter, r *http.Request) {
	in, err := decodePatchInput(w, r, s.sanitizeInput)
	if err != nil {
		s.fail(w, r, log.OpCreate, err)
		return
	}
	id, err := s.service.CreateEntry(r.Context(), in)
	if err != nil {
		s.fail(w, r, log.OpCreate, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]int64{"id": id})
}

func (s *Server) handleUpdateEntry(w http.ResponseWriter, r *http.Request) {
	id, err := entryID(r)
	if err != nil {
		s.fail(w, r, log.OpUpdate, err)
		return
	}
	in, err := decodePatchInput(w, r, s.sanitizeInput)
	if err != nil {
		s.fail(w, r, log.OpUpdate, err)
		return
	}
	if err := s.service.UpdateEntry(r.Context(), id, in); err != nil {
		s.fail(w, r, log.OpUpdate, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteEntry(w http.ResponseWriter, r *http.Request) {
	id, err := entryID(r)
	if err != nil {
		s.fail(w, r, log.OpDelete, err)
		return
	}
	if err := s.service.DeleteEntry(r.Context(), id); err != nil {
		s.fail(w, r, log.OpDelete, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
