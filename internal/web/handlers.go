package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/asheshgoplani/history-deck/internal/history"
)

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type apiErrorResponse struct {
	Error apiError `json:"error"`
}

type dateBuckets map[string]map[string]map[string][]*history.SessionSummary

type indexResponse struct {
	Root     string                    `json:"root"`
	Count    int                       `json:"count"`
	Sessions []*history.SessionSummary `json:"sessions"`
	ByYear   dateBuckets               `json:"byYear"`
}

type searchResponse struct {
	Query     string                 `json:"query"`
	Scope     string                 `json:"scope"`
	Scanned   int                    `json:"scanned"`
	TotalHits int                    `json:"totalHits"`
	Sessions  []*history.SessionHits `json:"sessions"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeAPIError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok":   true,
		"root": s.provider.Root(),
		"time": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeAPIError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return
	}
	if !s.authorizeRequest(r) {
		writeAPIError(w, http.StatusUnauthorized, "UNAUTHORIZED", "unauthorized")
		return
	}

	force := r.URL.Query().Get("force") == "1"
	idx, err := s.provider.Refresh(r.Context(), force)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		writeAPIError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to build index")
		return
	}

	writeJSON(w, http.StatusOK, indexResponse{
		Root:     idx.Root,
		Count:    len(idx.Sessions),
		Sessions: idx.Sessions,
		ByYear:   idx.ByYear,
	})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeAPIError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return
	}
	if !s.authorizeRequest(r) {
		writeAPIError(w, http.StatusUnauthorized, "UNAUTHORIZED", "unauthorized")
		return
	}

	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		writeAPIError(w, http.StatusBadRequest, "INVALID_REQUEST", "q parameter is required")
		return
	}

	scope, err := history.ParseScope(r.URL.Query().Get("scope"))
	if err != nil {
		writeAPIError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	opts := history.SearchOptions{
		CaseSensitive: r.URL.Query().Get("case") == "1",
	}
	if v := r.URL.Query().Get("max"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeAPIError(w, http.StatusBadRequest, "INVALID_REQUEST", "max must be a positive integer")
			return
		}
		opts.MaxResults = n
	}

	idx, err := s.provider.Refresh(r.Context(), false)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		writeAPIError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to build index")
		return
	}

	candidates := history.FilterCandidates(idx.Sessions, scope, r.URL.Query().Get("project"))

	// The request context cancels the scan when the client goes away
	res, err := history.Search(r.Context(), candidates, query, scope, opts, nil)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		writeAPIError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "search failed")
		return
	}

	writeJSON(w, http.StatusOK, searchResponse{
		Query:     res.Query,
		Scope:     res.Scope.String(),
		Scanned:   res.Scanned,
		TotalHits: res.TotalHits,
		Sessions:  res.PerSession,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeAPIError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, apiErrorResponse{
		Error: apiError{
			Code:    code,
			Message: message,
		},
	})
}
