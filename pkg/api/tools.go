package api

import (
	"net/http"
	"strconv"

	"github.com/openfroyo/inspector/pkg/engine"
	"github.com/openfroyo/inspector/pkg/sections"
)

// ValidateRequest is the body of POST /api/validate.
type ValidateRequest struct {
	Content string `json:"content" validate:"required"`
}

// ParseRequest is the body of POST /api/sections/parse.
type ParseRequest struct {
	Content string `json:"content"`
}

// ParseResponse lists the sections of a script.
type ParseResponse struct {
	Sections []sections.Section `json:"sections"`
	Count    int                `json:"count"`
}

// ReconstructRequest is the body of POST /api/sections/reconstruct.
type ReconstructRequest struct {
	Content    string   `json:"content"`
	SectionIDs []string `json:"section_ids"`
}

// ReconstructResponse carries the rebuilt script.
type ReconstructResponse struct {
	Content string `json:"content"`
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	var req ValidateRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		s.respondError(w, err)
		return
	}

	report := s.deps.Validator.Validate(req.Content)
	s.deps.Metrics.RecordValidation(report.Valid, report.ViolationsByFamily())

	respondJSON(w, http.StatusOK, report)
}

func (s *Server) handleParseSections(w http.ResponseWriter, r *http.Request) {
	var req ParseRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		s.respondError(w, err)
		return
	}

	secs := s.deps.Parser.Parse(sections.NormalizeLineEndings(req.Content))
	respondJSON(w, http.StatusOK, ParseResponse{Sections: secs, Count: len(secs)})
}

func (s *Server) handleReconstruct(w http.ResponseWriter, r *http.Request) {
	var req ReconstructRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		s.respondError(w, err)
		return
	}

	content := s.deps.Parser.Reconstruct(sections.NormalizeLineEndings(req.Content), req.SectionIDs)
	respondJSON(w, http.StatusOK, ReconstructResponse{Content: content})
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	if s.deps.Audit == nil {
		respondJSON(w, http.StatusOK, map[string]interface{}{"entries": []interface{}{}, "count": 0})
		return
	}

	q := r.URL.Query()
	limit, err := intParam(q.Get("limit"), 100)
	if err != nil {
		s.respondError(w, err)
		return
	}
	offset, err := intParam(q.Get("offset"), 0)
	if err != nil {
		s.respondError(w, err)
		return
	}

	entries, err := s.deps.Audit.List(r.Context(), q.Get("action"), limit, offset)
	if err != nil {
		s.respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"entries": entries,
		"count":   len(entries),
	})
}

func intParam(v string, def int) (int, error) {
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, engine.NewValidationError("invalid integer parameter: " + v)
	}
	return n, nil
}
