package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/mohamed-ali0/truckportal-bridge/internal/appointment"
	"github.com/mohamed-ali0/truckportal-bridge/internal/types"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	buf := getResponseBuffer()
	defer putResponseBuffer(buf)

	if err := json.NewEncoder(buf).Encode(v); err != nil {
		log.Error().Err(err).Msg("encoding response body")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

func decodeJSON(r *http.Request, dst interface{}) error {
	buf := getBuffer()
	defer putBuffer(buf)

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return types.ErrInvalidRequest
	}
	return nil
}

// writeEngineError maps an engine/pool/FSM error onto an HTTP status and the
// shared ErrorResponse shape, attaching resumption fields when the error
// carries them.
func writeEngineError(w http.ResponseWriter, err error, sessionID string) {
	resp := types.ErrorResponse{Success: false, SessionID: sessionID}

	var resumeErr *appointment.ResumeError
	if errors.As(err, &resumeErr) {
		resp.AppointmentSessionID = resumeErr.ApptID
		resp.CurrentPhase = resumeErr.Phase
		resp.ErrorMessage = resumeErr.Message
		err = resumeErr.Unwrap()
	}

	var valErr *types.ValidationError
	if errors.As(err, &valErr) {
		resp.ScreenshotURL = valErr.ScreenshotURL
	}

	resp.Error = errorCode(err)
	if resp.ErrorMessage == "" {
		resp.ErrorMessage = err.Error()
	}

	writeJSON(w, statusFor(err), resp)
}

// errorCode renders the stable machine-readable tag clients match on
// (spec §6, §4.5 failure taxonomy), falling back to the sentinel's own text.
func errorCode(err error) string {
	switch {
	case errors.Is(err, types.ErrSessionNotFound):
		return "SESSION_NOT_FOUND"
	case errors.Is(err, types.ErrSessionDead):
		return "SESSION_DEAD"
	case errors.Is(err, types.ErrSessionExpired):
		return "SESSION_EXPIRED"
	case errors.Is(err, types.ErrSessionInUse):
		return "SESSION_IN_USE"
	case errors.Is(err, types.ErrCapacityExceeded):
		return "CAPACITY_EXCEEDED"
	case errors.Is(err, types.ErrInvalidCredentials):
		return "INVALID_CREDENTIALS"
	case errors.Is(err, types.ErrCaptchaFailed):
		return "CAPTCHA_FAILED"
	case errors.Is(err, types.ErrLoginTimeout):
		return "LOGIN_TIMEOUT"
	case errors.Is(err, types.ErrDriverStartup):
		return "DRIVER_STARTUP_FAILED"
	case errors.Is(err, types.ErrNavTimeout):
		return "NAV_TIMEOUT"
	case errors.Is(err, types.ErrDownloadTimeout):
		return "DOWNLOAD_TIMEOUT"
	case errors.Is(err, types.ErrExportCheckboxStuck):
		return "EXPORT_CHECKBOX_STUCK"
	case errors.Is(err, types.ErrElementNotFound):
		return "ELEMENT_NOT_FOUND"
	case errors.Is(err, types.ErrClickIntercepted):
		return "CLICK_INTERCEPTED"
	case errors.Is(err, types.ErrDropdownNotFound):
		return "DROPDOWN_NOT_FOUND"
	case errors.Is(err, types.ErrOptionNotFound):
		return "OPTION_NOT_FOUND"
	case errors.Is(err, types.ErrStepperStuck):
		return "STEPPER_STUCK"
	case errors.Is(err, types.ErrValidation):
		return "VALIDATION"
	case errors.Is(err, types.ErrCheckboxStuck):
		return "CHECKBOX_STUCK"
	case errors.Is(err, types.ErrSubmitFailed):
		return "SUBMIT_FAILED"
	case errors.Is(err, types.ErrMissingField):
		return "MISSING_FIELD"
	case errors.Is(err, types.ErrContainerNotFound):
		return "CONTAINER_NOT_FOUND"
	case errors.Is(err, types.ErrPregateUnknown):
		return "PREGATE_UNKNOWN"
	case errors.Is(err, types.ErrArtifactNotFound):
		return "ARTIFACT_NOT_FOUND"
	case errors.Is(err, types.ErrPathTraversal):
		return "PATH_TRAVERSAL"
	case errors.Is(err, types.ErrInvalidType):
		return "INVALID_TYPE"
	case errors.Is(err, types.ErrUnknownEndpoint):
		return "UNKNOWN_ENDPOINT"
	case errors.Is(err, types.ErrInvalidRequest):
		return "INVALID_REQUEST"
	default:
		return "INTERNAL_ERROR"
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, types.ErrInvalidRequest),
		errors.Is(err, types.ErrInvalidType),
		errors.Is(err, types.ErrPathTraversal):
		return http.StatusBadRequest
	case errors.Is(err, types.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, types.ErrSessionNotFound),
		errors.Is(err, types.ErrContainerNotFound),
		errors.Is(err, types.ErrArtifactNotFound),
		errors.Is(err, types.ErrUnknownEndpoint):
		return http.StatusNotFound
	case errors.Is(err, types.ErrSessionDead),
		errors.Is(err, types.ErrSessionExpired),
		errors.Is(err, types.ErrSessionInUse):
		return http.StatusConflict
	case errors.Is(err, types.ErrCapacityExceeded):
		return http.StatusServiceUnavailable
	case errors.Is(err, types.ErrMissingField),
		errors.Is(err, types.ErrDropdownNotFound),
		errors.Is(err, types.ErrOptionNotFound),
		errors.Is(err, types.ErrCheckboxStuck),
		errors.Is(err, types.ErrStepperStuck),
		errors.Is(err, types.ErrValidation),
		errors.Is(err, types.ErrSubmitFailed):
		return http.StatusUnprocessableEntity
	case errors.Is(err, types.ErrNavTimeout),
		errors.Is(err, types.ErrDownloadTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, types.ErrCaptchaFailed),
		errors.Is(err, types.ErrLoginTimeout),
		errors.Is(err, types.ErrDriverStartup),
		errors.Is(err, types.ErrElementNotFound),
		errors.Is(err, types.ErrClickIntercepted),
		errors.Is(err, types.ErrExportCheckboxStuck),
		errors.Is(err, types.ErrPregateUnknown):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
