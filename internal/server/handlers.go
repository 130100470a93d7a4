package server

import (
	"encoding/json"
	"errors"
	"net/http"

	errs "github.com/okonma/rendercache/internal/errors"
	"github.com/okonma/rendercache/internal/token"
)

// createTokenRequest carries the content descriptor plus the project the
// content comes from, so the watcher can invalidate the token on change.
type createTokenRequest struct {
	token.Descriptor
	SourcePath string `json:"sourcePath,omitempty"`
}

// renderRequest names the project file to hand to the render engine.
type renderRequest struct {
	SourcePath string `json:"sourcePath"`
}

func (s *Server) handleCreateToken(w http.ResponseWriter, r *http.Request) {
	var req createTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "descriptor name is required")
		return
	}
	if req.Summary == nil {
		writeError(w, http.StatusBadRequest, "descriptor summary is required")
		return
	}

	t, err := s.store.Create(req.Descriptor)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if req.SourcePath != "" {
		if err := s.watcher.Track(req.SourcePath, t.TokenID); err != nil {
			s.logger.Warn(r.Context(), err, "failed to track source for invalidation",
				"token_id", t.TokenID, "source", req.SourcePath)
		}
	}

	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleListTokens(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"tokens": s.store.All(),
	})
}

func (s *Server) handleGetToken(w http.ResponseWriter, r *http.Request) {
	t, ok := s.store.Get(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "token not found")
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleRender(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, ok := s.store.Get(id); !ok {
		writeError(w, http.StatusNotFound, "token not found")
		return
	}

	var req renderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.SourcePath == "" {
		writeError(w, http.StatusBadRequest, "sourcePath is required")
		return
	}

	queued := s.queue.Enqueue(id, req.SourcePath)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"tokenId": id,
		"queued":  queued,
	})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, ok := s.store.Get(id); !ok {
		writeError(w, http.StatusNotFound, "token not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"tokenId":   id,
		"cancelled": s.queue.Cancel(id),
	})
}

func (s *Server) handleMarkDirty(w http.ResponseWriter, r *http.Request) {
	t, err := s.store.MarkDirty(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleQueueStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.queue.Status())
}

func (s *Server) handleQueueClear(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"removed": s.queue.Clear(),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":          "ok",
		"engineAvailable": s.invoker.IsAvailable(),
		"executable":      s.invoker.Executable(),
		"tokens":          len(s.store.All()),
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// statusForError maps core error categories to HTTP statuses; used by
// handlers that surface RenderErrors directly.
func statusForError(err error) int {
	var re *errs.RenderError
	if errors.As(err, &re) && re.Category == errs.CategoryValidation {
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}
