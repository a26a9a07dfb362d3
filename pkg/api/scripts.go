package api

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/openfroyo/inspector/pkg/engine"
)

// ScriptContent is the body of GET /api/scripts/{id}/script.
type ScriptContent struct {
	ScriptID   string   `json:"script_id"`
	Filename   string   `json:"filename"`
	SectionIDs []string `json:"section_ids"`
	Content    string   `json:"content"`
}

func (s *Server) handleListScripts(w http.ResponseWriter, r *http.Request) {
	scripts, err := s.deps.Catalog.List(r.Context())
	if err != nil {
		s.respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"scripts": scripts,
		"count":   len(scripts),
	})
}

func (s *Server) handleUploadScript(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes)
	if err := r.ParseMultipartForm(s.opts.MaxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.respondError(w, engine.NewValidationError(fmt.Sprintf("upload exceeds %d bytes", tooLarge.Limit)))
			return
		}
		s.respondError(w, engine.NewValidationError(fmt.Sprintf("invalid multipart form: %v", err)))
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		s.respondError(w, engine.NewValidationError("file is required"))
		return
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		s.respondError(w, fmt.Errorf("failed to read upload: %w", err))
		return
	}

	view, err := s.deps.Catalog.Upload(r.Context(), engine.UploadInput{
		Name:        r.FormValue("name"),
		Description: r.FormValue("description"),
		Filename:    header.Filename,
		Content:     content,
	}, actor(r))
	if err != nil {
		s.respondError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, view)
}

func (s *Server) handleGetScript(w http.ResponseWriter, r *http.Request) {
	view, err := s.deps.Catalog.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, view)
}

func (s *Server) handleDeleteScript(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Catalog.Delete(r.Context(), r.PathValue("id"), actor(r)); err != nil {
		s.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleScriptContent(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	ids := sectionIDs(r)

	content, filename, err := s.deps.Catalog.Render(r.Context(), id, ids)
	if err != nil {
		s.respondError(w, err)
		return
	}

	if ids == nil {
		ids = []string{}
	}
	respondJSON(w, http.StatusOK, ScriptContent{
		ScriptID:   id,
		Filename:   filename,
		SectionIDs: ids,
		Content:    content,
	})
}

func (s *Server) handleScriptDownload(w http.ResponseWriter, r *http.Request) {
	content, filename, err := s.deps.Catalog.Render(r.Context(), r.PathValue("id"), sectionIDs(r))
	if err != nil {
		s.respondError(w, err)
		return
	}

	contentType := "text/x-shellscript; charset=utf-8"
	if !strings.HasSuffix(filename, ".sh") {
		contentType = "application/yaml; charset=utf-8"
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": filename}))
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, content)
}
