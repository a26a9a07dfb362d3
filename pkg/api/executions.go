package api

import (
	"encoding/csv"
	"fmt"
	"io"
	"mime"
	"net/http"
	"sort"

	"github.com/openfroyo/inspector/pkg/engine"
)

// StartExecutionRequest is the body of POST /api/scripts/{id}/executions.
type StartExecutionRequest struct {
	HostIDs    []string `json:"host_ids" validate:"required,min=1,dive,required"`
	SectionIDs []string `json:"section_ids,omitempty"`
	CredentialRequest
}

// reportHeader is the header row of execution CSV reports.
var reportHeader = []string{"host_id", "hostname", "ip", "항목코드", "결과"}

func (s *Server) handleStartExecution(w http.ResponseWriter, r *http.Request) {
	var req StartExecutionRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		s.respondError(w, err)
		return
	}

	id, err := s.deps.Orchestrator.Start(r.Context(), engine.StartRequest{
		ScriptID:   r.PathValue("id"),
		HostIDs:    req.HostIDs,
		SectionIDs: req.SectionIDs,
		Credential: req.credential(),
		Actor:      actor(r),
	})
	if err != nil {
		s.respondError(w, err)
		return
	}

	rec, err := s.deps.Orchestrator.Status(id)
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, rec)
}

func (s *Server) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	execs := s.deps.Orchestrator.List()
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"executions": execs,
		"count":      len(execs),
	})
}

func (s *Server) handleGetExecution(w http.ResponseWriter, r *http.Request) {
	rec, err := s.deps.Orchestrator.Status(r.PathValue("id"))
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

// handleExecutionReport writes one row per check line per host, in host
// order. Hosts without check lines are omitted.
func (s *Server) handleExecutionReport(w http.ResponseWriter, r *http.Request) {
	rec, err := s.deps.Orchestrator.Status(r.PathValue("id"))
	if err != nil {
		s.respondError(w, err)
		return
	}

	filename := fmt.Sprintf("Results_%s.csv", rec.ID)
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": filename}))
	w.WriteHeader(http.StatusOK)

	if err := WriteReport(w, rec); err != nil {
		s.logger.Warn().Err(err).Str("execution_id", rec.ID).Msg("Failed to write report")
	}
}

// WriteReport renders the check results of an execution as CSV.
func WriteReport(w io.Writer, rec *engine.ExecutionRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(reportHeader); err != nil {
		return err
	}

	for _, host := range orderedResults(rec) {
		for _, check := range host.Checks {
			if err := cw.Write([]string{host.HostID, host.Hostname, host.IP, check.Code, check.Result}); err != nil {
				return err
			}
		}
	}

	cw.Flush()
	return cw.Error()
}

// orderedResults returns host results in the order hosts were requested,
// followed by any others sorted by id.
func orderedResults(rec *engine.ExecutionRecord) []*engine.HostResult {
	out := make([]*engine.HostResult, 0, len(rec.Results))
	seen := make(map[string]bool, len(rec.Results))
	for _, h := range rec.Hosts {
		if res, ok := rec.Results[h.ID]; ok && !seen[h.ID] {
			out = append(out, res)
			seen[h.ID] = true
		}
	}

	var rest []string
	for id := range rec.Results {
		if !seen[id] {
			rest = append(rest, id)
		}
	}
	sort.Strings(rest)
	for _, id := range rest {
		out = append(out, rec.Results[id])
	}
	return out
}
