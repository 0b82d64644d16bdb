package handlers

import (
	"net/http"

	"github.com/mohamed-ali0/truckportal-bridge/internal/detail"
	"github.com/mohamed-ali0/truckportal-bridge/internal/sessionpool"
	"github.com/mohamed-ali0/truckportal-bridge/internal/types"
)

// HandleGetContainerTimeline implements POST /get_container_timeline.
func (s *Server) HandleGetContainerTimeline(w http.ResponseWriter, r *http.Request) {
	var req types.GetContainerTimelineRequest
	if err := decodeJSON(r, &req); err != nil {
		writeEngineError(w, err, "")
		return
	}
	if req.ContainerID == "" {
		writeEngineError(w, types.ErrInvalidRequest, "")
		return
	}

	var passed bool
	var timeline []types.TimelineEntry
	sess, isNew, err := s.withSession(r.Context(), req.SessionRef, func(sess *sessionpool.BrowserSession) error {
		if err := s.navigate(r.Context(), sess.Page, s.cfg.ContainersURL()); err != nil {
			return err
		}
		row, err := s.detail.SearchAndExpand(r.Context(), sess.Page, req.ContainerID)
		if err != nil {
			return err
		}
		passed, timeline, err = s.detail.CheckPregate(r.Context(), row)
		return err
	})
	if err != nil {
		writeEngineError(w, err, sessIDOrEmpty(sess))
		return
	}

	writeJSON(w, http.StatusOK, types.GetContainerTimelineResponse{
		Success:         true,
		PassedPregate:   passed,
		Timeline:        timeline,
		DetectionMethod: s.detail.DetectionMethod(),
		SessionID:       sess.ID,
		IsNewSession:    isNew,
		DebugBundleURL:  s.maybeBundle(sess, req.Debug, "timeline"),
	})
}

// HandleGetBookingNumber implements POST /get_booking_number.
func (s *Server) HandleGetBookingNumber(w http.ResponseWriter, r *http.Request) {
	var req types.GetBookingNumberRequest
	if err := decodeJSON(r, &req); err != nil {
		writeEngineError(w, err, "")
		return
	}
	if req.ContainerID == "" {
		writeEngineError(w, types.ErrInvalidRequest, "")
		return
	}

	var booking *string
	sess, isNew, err := s.withSession(r.Context(), req.SessionRef, func(sess *sessionpool.BrowserSession) error {
		if err := s.navigate(r.Context(), sess.Page, s.cfg.ContainersURL()); err != nil {
			return err
		}
		row, err := s.detail.SearchAndExpand(r.Context(), sess.Page, req.ContainerID)
		if err != nil {
			return err
		}
		booking, err = s.detail.GetBooking(r.Context(), row)
		return err
	})
	if err != nil {
		writeEngineError(w, err, sessIDOrEmpty(sess))
		return
	}

	writeJSON(w, http.StatusOK, types.GetBookingNumberResponse{
		Success:        true,
		BookingNumber:  booking,
		ContainerID:    req.ContainerID,
		SessionID:      sess.ID,
		IsNewSession:   isNew,
		DebugBundleURL: s.maybeBundle(sess, req.Debug, "booking"),
	})
}

// HandleGetInfoBulk implements POST /get_info_bulk, running both partitions
// sequentially on the one acquired session (spec §4.4 Bulk variant).
func (s *Server) HandleGetInfoBulk(w http.ResponseWriter, r *http.Request) {
	var req types.GetInfoBulkRequest
	if err := decodeJSON(r, &req); err != nil {
		writeEngineError(w, err, "")
		return
	}

	var results types.GetInfoBulkResults
	sess, isNew, err := s.withSession(r.Context(), req.SessionRef, func(sess *sessionpool.BrowserSession) error {
		if err := s.navigate(r.Context(), sess.Page, s.cfg.ContainersURL()); err != nil {
			return err
		}

		importItems := make([]detail.BulkItem, len(req.ImportContainers))
		for i, id := range req.ImportContainers {
			importItems[i] = detail.BulkItem{ContainerID: id, IsImport: true}
		}
		exportItems := make([]detail.BulkItem, len(req.ExportContainers))
		for i, id := range req.ExportContainers {
			exportItems[i] = detail.BulkItem{ContainerID: id, IsImport: false}
		}

		importOut := s.detail.Bulk(r.Context(), sess.Page, importItems)
		exportOut := s.detail.Bulk(r.Context(), sess.Page, exportItems)

		results.ImportResults = toItemResults(importOut)
		results.ExportResults = toItemResults(exportOut)
		results.Summary = summarize(results.ImportResults, results.ExportResults)
		return nil
	})
	if err != nil {
		writeEngineError(w, err, sessIDOrEmpty(sess))
		return
	}

	writeJSON(w, http.StatusOK, types.GetInfoBulkResponse{
		Success:        true,
		Results:        results,
		SessionID:      sess.ID,
		IsNewSession:   isNew,
		DebugBundleURL: s.maybeBundle(sess, req.Debug, "bulk"),
	})
}

func toItemResults(in []detail.BulkResult) []types.BulkItemResult {
	out := make([]types.BulkItemResult, 0, len(in))
	for _, r := range in {
		item := types.BulkItemResult{
			ContainerID:   r.ContainerID,
			PassedPregate: r.PassedPregate,
			BookingNumber: r.BookingNumber,
		}
		if r.Err != nil {
			item.Error = r.Err.Error()
		}
		out = append(out, item)
	}
	return out
}

func summarize(results ...[]types.BulkItemResult) types.BulkSummary {
	var s types.BulkSummary
	for _, group := range results {
		for _, r := range group {
			s.Total++
			if r.Error == "" {
				s.Succeeded++
			} else {
				s.Failed++
			}
		}
	}
	return s
}
