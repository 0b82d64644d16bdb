package handlers

import (
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/mohamed-ali0/truckportal-bridge/internal/appointment"
	"github.com/mohamed-ali0/truckportal-bridge/internal/sessionpool"
	"github.com/mohamed-ali0/truckportal-bridge/internal/types"
)

// runAppointment is the shared body of check_appointments/make_appointment:
// both post the same fields, differing only in whether Submit runs
// (spec §4.5 Check vs. Make).
func (s *Server) runAppointment(w http.ResponseWriter, r *http.Request, submit bool, tag string) {
	var req types.CheckAppointmentsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeEngineError(w, err, "")
		return
	}
	if req.ContainerType != types.ContainerTypeImport && req.ContainerType != types.ContainerTypeExport {
		writeEngineError(w, types.ErrInvalidRequest, "")
		return
	}

	var result *appointment.Result
	sess, isNew, err := s.withSession(r.Context(), req.SessionRef, func(sess *sessionpool.BrowserSession) error {
		if req.AppointmentSessionID == "" {
			url := s.cfg.ContainersURL()
			if req.ContainerType == types.ContainerTypeExport {
				url = s.cfg.AppointmentsURL()
			}
			if err := s.navigate(r.Context(), sess.Page, url); err != nil {
				return err
			}
		}
		shoot := func(tag string) string {
			name, err := sess.CaptureScreenshot(tag)
			if err != nil {
				log.Debug().Err(err).Str("session_id", sess.ID).Str("tag", tag).Msg("screenshot capture failed")
				return ""
			}
			return "/files/" + name
		}
		var runErr error
		result, runErr = s.appt.Run(r.Context(), sess.Page, appointment.Request{
			BrowserSessionID: sess.ID,
			ContainerType:    req.ContainerType,
			ApptID:           req.AppointmentSessionID,
			Fields:           req.AppointmentPhaseFields,
			Submit:           submit,
			Screenshot:       shoot,
		})
		return runErr
	})
	if err != nil {
		writeEngineError(w, err, sessIDOrEmpty(sess))
		return
	}

	if submit {
		writeJSON(w, http.StatusOK, types.MakeAppointmentResponse{
			Success:              true,
			AppointmentConfirmed: result.Confirmed,
			AppointmentDetails:   result.Details,
			SessionID:            sess.ID,
			IsNewSession:         isNew,
			DebugBundleURL:       s.maybeBundle(sess, req.Debug, tag),
		})
		return
	}

	writeJSON(w, http.StatusOK, types.CheckAppointmentsResponse{
		Success:               true,
		AvailableTimes:        result.AvailableTimes,
		Count:                 len(result.AvailableTimes),
		CalendarFound:         result.CalendarFound,
		DropdownScreenshotURL: result.DropdownScreenshotURL,
		CalendarScreenshotURL: result.CalendarScreenshotURL,
		AppointmentSessionID:  result.ApptID,
		SessionID:             sess.ID,
		IsNewSession:          isNew,
		DebugBundleURL:        s.maybeBundle(sess, req.Debug, tag),
	})
}

// HandleCheckAppointments implements POST /check_appointments.
func (s *Server) HandleCheckAppointments(w http.ResponseWriter, r *http.Request) {
	s.runAppointment(w, r, false, "check_appointments")
}

// HandleMakeAppointment implements POST /make_appointment. Submits remote
// state; never retried automatically (spec §4.5).
func (s *Server) HandleMakeAppointment(w http.ResponseWriter, r *http.Request) {
	s.runAppointment(w, r, true, "make_appointment")
}
