package handlers

import (
	"net/http"

	"github.com/mohamed-ali0/truckportal-bridge/internal/metrics"
)

// NewRouter builds the complete endpoint surface (spec §6) on a fresh
// ServeMux, using Go's method-pattern routing instead of a router
// dependency — matches the teacher's dependency-free routing style.
func NewRouter(s *Server) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /", s.HandleIndex)
	mux.HandleFunc("GET /health", s.HandleHealth)
	mux.HandleFunc("POST /get_session", s.HandleGetSession)
	mux.HandleFunc("POST /get_containers", s.HandleGetContainers)
	mux.HandleFunc("POST /get_container_timeline", s.HandleGetContainerTimeline)
	mux.HandleFunc("POST /get_booking_number", s.HandleGetBookingNumber)
	mux.HandleFunc("POST /get_appointments", s.HandleGetAppointments)
	mux.HandleFunc("POST /get_info_bulk", s.HandleGetInfoBulk)
	mux.HandleFunc("POST /check_appointments", s.HandleCheckAppointments)
	mux.HandleFunc("POST /make_appointment", s.HandleMakeAppointment)
	mux.HandleFunc("GET /sessions", s.HandleListSessions)
	mux.HandleFunc("DELETE /sessions/{id}", s.HandleDeleteSession)
	mux.HandleFunc("POST /cleanup", s.HandleCleanup)
	mux.HandleFunc("GET /files/{name}", s.HandleFiles)
	mux.Handle("GET /metrics", metrics.Handler())

	return mux
}
