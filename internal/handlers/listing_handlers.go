package handlers

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"

	"github.com/go-rod/rod"

	"github.com/mohamed-ali0/truckportal-bridge/internal/listing"
	"github.com/mohamed-ali0/truckportal-bridge/internal/sessionpool"
	"github.com/mohamed-ali0/truckportal-bridge/internal/types"
)

// scrollMode derives a listing.Mode plus its target from the three mutually
// exclusive request flags (spec §6: infinite_scrolling | target_count |
// target_container_id).
func scrollMode(infiniteScrolling bool, targetCount int, targetContainerID string) (listing.Mode, int, string) {
	switch {
	case targetContainerID != "":
		return listing.ModeTargetID, 0, targetContainerID
	case targetCount > 0:
		return listing.ModeCount, targetCount, ""
	case infiniteScrolling:
		return listing.ModeExhaust, 0, ""
	default:
		return listing.ModeExhaust, 0, ""
	}
}

func (s *Server) navigate(ctx context.Context, page *rod.Page, url string) error {
	navCtx, cancel := context.WithTimeout(ctx, s.cfg.NavTimeout)
	defer cancel()
	if err := page.Context(navCtx).Navigate(url); err != nil {
		return fmt.Errorf("%w: %v", types.ErrNavTimeout, err)
	}
	return page.Context(navCtx).WaitLoad()
}

// HandleGetContainers implements POST /get_containers.
func (s *Server) HandleGetContainers(w http.ResponseWriter, r *http.Request) {
	var req types.GetContainersRequest
	if err := decodeJSON(r, &req); err != nil {
		writeEngineError(w, err, "")
		return
	}

	var result *listing.Result
	sess, isNew, err := s.withSession(r.Context(), req.SessionRef, func(sess *sessionpool.BrowserSession) error {
		if err := s.navigate(r.Context(), sess.Page, s.cfg.ContainersURL()); err != nil {
			return err
		}
		mode, targetCount, targetID := scrollMode(req.InfiniteScrolling, req.TargetCount, req.TargetContainerID)
		var runErr error
		result, runErr = s.listing.Run(r.Context(), sess.Page, sess.DownloadDir, mode, targetCount, targetID)
		return runErr
	})
	if err != nil {
		writeEngineError(w, err, sessIDOrEmpty(sess))
		return
	}

	writeJSON(w, http.StatusOK, types.GetContainersResponse{
		Success:         true,
		FileURL:         fileURL(result.ArtifactPath),
		ContainersCount: result.Count,
		ScrollCycles:    result.ScrollCycles,
		StoppedReason:   result.StopReason,
		FastPath:        result.FastPath,
		FoundTarget:     result.FoundTarget,
		SessionID:       sess.ID,
		IsNewSession:    isNew,
		DebugBundleURL:  s.maybeBundle(sess, req.Debug, "containers"),
	})
}

// HandleGetAppointments implements POST /get_appointments. It reuses
// ListingEngine against the appointments listing page, mirroring
// HandleGetContainers with no target-container-id mode (spec §6).
func (s *Server) HandleGetAppointments(w http.ResponseWriter, r *http.Request) {
	var req types.GetAppointmentsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeEngineError(w, err, "")
		return
	}

	var result *listing.Result
	sess, isNew, err := s.withSession(r.Context(), req.SessionRef, func(sess *sessionpool.BrowserSession) error {
		if err := s.navigate(r.Context(), sess.Page, s.cfg.AppointmentsURL()); err != nil {
			return err
		}
		mode, targetCount, _ := scrollMode(req.InfiniteScrolling, req.TargetCount, "")
		var runErr error
		result, runErr = s.listing.Run(r.Context(), sess.Page, sess.DownloadDir, mode, targetCount, "")
		return runErr
	})
	if err != nil {
		writeEngineError(w, err, sessIDOrEmpty(sess))
		return
	}

	writeJSON(w, http.StatusOK, types.GetAppointmentsResponse{
		Success:        true,
		FileURL:        fileURL(result.ArtifactPath),
		SelectedCount:  result.Count,
		SessionID:      sess.ID,
		IsNewSession:   isNew,
		DebugBundleURL: s.maybeBundle(sess, req.Debug, "appointments"),
	})
}

func sessIDOrEmpty(sess *sessionpool.BrowserSession) string {
	if sess == nil {
		return ""
	}
	return sess.ID
}

// fileURL turns an absolute export path into a GET /files/{name} URL; the
// handler resolves names by basename, walking session subdirectories as
// needed (spec §4.7), so only the final path segment is exposed.
func fileURL(artifactPath string) string {
	if artifactPath == "" {
		return ""
	}
	return "/files/" + filepath.Base(artifactPath)
}
