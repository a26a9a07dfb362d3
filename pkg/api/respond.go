package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/openfroyo/inspector/pkg/engine"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error    string `json:"error"`
	Code     string `json:"code"`
	Resource string `json:"resource,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// respondError maps engine error codes onto HTTP statuses.
func (s *Server) respondError(w http.ResponseWriter, err error) {
	resp := ErrorResponse{Error: err.Error(), Code: engine.ErrorCode(err)}

	var ee *engine.EngineError
	if errors.As(err, &ee) {
		resp.Error = ee.Message
		resp.Resource = ee.Resource
	}

	status := http.StatusInternalServerError
	switch resp.Code {
	case engine.ErrCodeNotFound:
		status = http.StatusNotFound
	case engine.ErrCodeValidation:
		status = http.StatusBadRequest
	case engine.ErrCodeAlreadyExists:
		status = http.StatusConflict
	case engine.ErrCodePolicyDenied:
		status = http.StatusForbidden
	}

	if status >= http.StatusInternalServerError {
		s.logger.Error().Err(err).Msg("Request failed")
	}
	s.deps.Metrics.RecordError(resp.Code)

	respondJSON(w, status, resp)
}

// decodeJSON reads a JSON body into dst and validates its struct tags.
func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	body := http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes)
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return engine.NewValidationError("request body is required")
		}
		return engine.NewValidationError(fmt.Sprintf("invalid request body: %v", err))
	}

	if err := s.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed on %s", fe.Field(), fe.Tag()))
			}
			return engine.NewValidationError(strings.Join(msgs, "; "))
		}
		return engine.NewValidationError(err.Error())
	}
	return nil
}

func actor(r *http.Request) string {
	if a := strings.TrimSpace(r.Header.Get(ActorHeader)); a != "" {
		return a
	}
	return "api"
}

// sectionIDs reads section_ids from the query, accepting both repeated
// parameters and comma-separated lists.
func sectionIDs(r *http.Request) []string {
	var ids []string
	for _, v := range r.URL.Query()["section_ids"] {
		for _, id := range strings.Split(v, ",") {
			if id = strings.TrimSpace(id); id != "" {
				ids = append(ids, id)
			}
		}
	}
	return ids
}
