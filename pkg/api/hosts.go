package api

import (
	"context"
	"net/http"

	"github.com/openfroyo/inspector/pkg/engine"
	"github.com/openfroyo/inspector/pkg/stores"
)

// CredentialRequest carries the login secret for one call. It is never
// stored.
type CredentialRequest struct {
	Password string `json:"password,omitempty"`
	KeyPath  string `json:"key_path,omitempty"`
}

func (c CredentialRequest) credential() engine.Credential {
	return engine.Credential{Password: c.Password, KeyPath: c.KeyPath}
}

// RegisterHostRequest is the body of POST /api/hosts.
type RegisterHostRequest struct {
	engine.HostInput
	CredentialRequest
	DetectOS bool `json:"detect_os,omitempty"`
}

// DetectOSRequest is the body of POST /api/hosts/{id}/detect.
type DetectOSRequest struct {
	CredentialRequest
}

func (s *Server) handleListHosts(w http.ResponseWriter, r *http.Request) {
	hosts, err := s.deps.Hosts.List(r.Context())
	if err != nil {
		s.respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"hosts": hosts,
		"count": len(hosts),
	})
}

func (s *Server) handleRegisterHost(w http.ResponseWriter, r *http.Request) {
	var req RegisterHostRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		s.respondError(w, err)
		return
	}

	host, err := s.deps.Hosts.Register(r.Context(), req.HostInput, actor(r))
	if err != nil {
		s.respondError(w, err)
		return
	}

	// A failed probe still leaves the host registered with an unknown OS.
	if req.DetectOS && req.OS == "" && s.deps.Transport != nil {
		if detected, err := s.detect(r.Context(), host.ID, req.credential()); err == nil {
			host = detected
		} else {
			s.logger.Warn().Err(err).Str("host_id", host.ID).Msg("OS detection failed")
		}
	}

	respondJSON(w, http.StatusCreated, host)
}

func (s *Server) handleGetHost(w http.ResponseWriter, r *http.Request) {
	host, err := s.deps.Hosts.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, host)
}

func (s *Server) handleDeleteHost(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Hosts.Delete(r.Context(), r.PathValue("id"), actor(r)); err != nil {
		s.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDetectOS(w http.ResponseWriter, r *http.Request) {
	if s.deps.Transport == nil {
		s.respondError(w, engine.NewValidationError("no transport configured for OS detection"))
		return
	}

	var req DetectOSRequest
	if r.ContentLength != 0 {
		if err := s.decodeJSON(w, r, &req); err != nil {
			s.respondError(w, err)
			return
		}
	}

	host, err := s.detect(r.Context(), r.PathValue("id"), req.credential())
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, host)
}

func (s *Server) detect(ctx context.Context, id string, cred engine.Credential) (*stores.Host, error) {
	return s.deps.Hosts.DetectOS(ctx, id, s.deps.Transport, cred, s.opts.DetectTimeout)
}
