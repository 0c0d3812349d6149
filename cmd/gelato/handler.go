package main

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/m-mizutani/gelato/trace"
)

type apiError struct {
	Error string `json:"error"`
}

func (s *server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode JSON response", "error", err)
	}
}

func (s *server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, apiError{Error: msg})
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *server) handleListTraces(w http.ResponseWriter, r *http.Request) {
	pageSize := trace.DefaultPageSize
	if v := r.URL.Query().Get("page_size"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.writeError(w, http.StatusBadRequest, "invalid page_size parameter")
			return
		}
		pageSize = n
	}

	page, err := s.reader.List(r.Context(), pageSize, r.URL.Query().Get("page_token"))
	if err != nil {
		s.logger.Error("failed to list traces", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list traces")
		return
	}
	if page.Traces == nil {
		page.Traces = []trace.Summary{}
	}

	s.writeJSON(w, http.StatusOK, page)
}

func (s *server) handleGetTrace(w http.ResponseWriter, r *http.Request) {
	traceID := r.PathValue("id")
	if traceID == "" {
		s.writeError(w, http.StatusBadRequest, "trace ID is required")
		return
	}

	t, err := s.reader.Get(r.Context(), traceID)
	if err != nil {
		s.logger.Error("failed to get trace", "error", err, "trace_id", traceID)
		s.writeError(w, http.StatusNotFound, "trace not found")
		return
	}

	s.writeJSON(w, http.StatusOK, t)
}
