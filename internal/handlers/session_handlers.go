package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mohamed-ali0/truckportal-bridge/internal/assets"
	"github.com/mohamed-ali0/truckportal-bridge/internal/metrics"
	"github.com/mohamed-ali0/truckportal-bridge/internal/security"
	"github.com/mohamed-ali0/truckportal-bridge/internal/types"
	"github.com/mohamed-ali0/truckportal-bridge/pkg/version"
)

// HandleGetSession implements POST /get_session.
func (s *Server) HandleGetSession(w http.ResponseWriter, r *http.Request) {
	var req types.GetSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeEngineError(w, err, "")
		return
	}
	if !req.HasCredentials() {
		writeEngineError(w, types.ErrInvalidRequest, "")
		return
	}

	sess, isNew, err := s.acquireSession(r.Context(), types.SessionRef{Credentials: req.Credentials})
	if err != nil {
		writeEngineError(w, err, "")
		return
	}
	defer s.pool.Release(sess)

	writeJSON(w, http.StatusOK, types.GetSessionResponse{
		Success:   true,
		SessionID: sess.ID,
		IsNew:     isNew,
		Username:  sess.Username,
		CreatedAt: sess.CreatedAt.Unix(),
	})
}

// HandleListSessions implements GET /sessions.
func (s *Server) HandleListSessions(w http.ResponseWriter, r *http.Request) {
	snap := s.pool.Snapshot()
	metrics.UpdateSessionMetrics(len(snap))
	writeJSON(w, http.StatusOK, snap)
}

// HandleDeleteSession implements DELETE /sessions/{id}.
func (s *Server) HandleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if msg := security.ValidateSessionID(id); msg != "" {
		writeEngineError(w, types.ErrInvalidRequest, "")
		return
	}
	s.pool.Close(id)
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// HandleCleanup implements POST /cleanup, triggering a Janitor pass on
// demand (spec §4.8, §6).
func (s *Server) HandleCleanup(w http.ResponseWriter, r *http.Request) {
	removed, err := s.janitor.Sweep()
	if err != nil {
		writeEngineError(w, err, "")
		return
	}
	writeJSON(w, http.StatusOK, types.CleanupResponse{Success: true, FilesRemoved: removed})
}

// HandleFiles implements GET /files/{name}, streaming a resolved artifact
// (spec §4.7).
func (s *Server) HandleFiles(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	path, err := s.artifacts.Resolve(name)
	if err != nil {
		writeEngineError(w, err, "")
		return
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	http.ServeFile(w, r, path)
}

// HandleIndex serves the operator-facing HTML health page at GET / — a
// human-readable companion to the JSON GET /health, not part of the spec §6
// API surface proper.
func (s *Server) HandleIndex(w http.ResponseWriter, r *http.Request) {
	page, err := assets.RenderHealthPage(assets.HealthPageData{
		Version:      version.Full(),
		GoVersion:    version.GoVersion(),
		Uptime:       time.Since(s.startedAt).Round(time.Second).String(),
		MaxSessions:  s.pool.MaxSessions(),
		ActiveCount:  s.pool.Len(),
		ArtifactRoot: s.artifacts.Root(),
	})
	if err != nil {
		log.Error().Err(err).Msg("rendering operator health page")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(page))
}

// HandleHealth implements GET /health.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	snap := s.pool.Snapshot()
	active := len(snap)
	persistent := 0
	for _, entry := range snap {
		if entry.KeepAlive {
			persistent++
		}
	}
	max := s.pool.MaxSessions()
	metrics.UpdatePoolMetrics(max, max-active)
	metrics.UpdateSessionMetrics(active)
	writeJSON(w, http.StatusOK, types.HealthResponse{
		Status:             "ok",
		ActiveSessions:     active,
		MaxSessions:        max,
		SessionCapacity:    fmt.Sprintf("%d/%d", active, max),
		PersistentSessions: persistent,
		Timestamp:          time.Now().Unix(),
	})
}
