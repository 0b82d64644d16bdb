// Package types provides shared types, interfaces, and errors for the application.
package types

// Credentials identifies a portal user. Equality of Username+Password defines an
// identity; CaptchaKey is forwarded to the CaptchaSolver chain for this login only.
type Credentials struct {
	Username   string `json:"username"`
	Password   string `json:"password"`
	CaptchaKey string `json:"captcha_api_key,omitempty"`
}

// HasCredentials reports whether both identity fields are present.
func (c Credentials) HasCredentials() bool {
	return c.Username != "" && c.Password != ""
}

// SessionRef is embedded by every endpoint request that may resolve a session either
// by an existing session_id or by fresh credentials — the "pass a session_id OR
// credentials" disjunction becomes this small sum type, validated once at the edge.
type SessionRef struct {
	SessionID string `json:"session_id,omitempty"`
	Credentials
	Debug bool `json:"debug,omitempty"`
}

// Resolve reports whether enough information was supplied to resolve a session.
func (s SessionRef) Resolve() error {
	if s.SessionID != "" || s.HasCredentials() {
		return nil
	}
	return ErrInvalidRequest
}

// GetSessionRequest is the body of POST /get_session.
type GetSessionRequest struct {
	Credentials
}

// GetSessionResponse is the body of a successful POST /get_session.
type GetSessionResponse struct {
	Success   bool   `json:"success"`
	SessionID string `json:"session_id"`
	IsNew     bool   `json:"is_new"`
	Username  string `json:"username"`
	CreatedAt int64  `json:"created_at"`
}

// GetContainersRequest is the body of POST /get_containers.
type GetContainersRequest struct {
	SessionRef
	InfiniteScrolling bool   `json:"infinite_scrolling,omitempty"`
	TargetCount       int    `json:"target_count,omitempty"`
	TargetContainerID string `json:"target_container_id,omitempty"`
}

// GetContainersResponse is the body of a successful POST /get_containers.
type GetContainersResponse struct {
	Success         bool   `json:"success"`
	FileURL         string `json:"file_url,omitempty"`
	ContainersCount int    `json:"containers_count"`
	ScrollCycles    int    `json:"scroll_cycles"`
	StoppedReason   string `json:"stopped_reason"`
	FastPath        bool   `json:"fast_path,omitempty"`
	FoundTarget     string `json:"found_target,omitempty"`
	SessionID       string `json:"session_id"`
	IsNewSession    bool   `json:"is_new_session"`
	DebugBundleURL  string `json:"debug_bundle_url,omitempty"`
}

// GetContainerTimelineRequest is the body of POST /get_container_timeline.
type GetContainerTimelineRequest struct {
	SessionRef
	ContainerID string `json:"container_id"`
}

// TimelineEntry is one milestone in a container's gate-status timeline.
type TimelineEntry struct {
	Milestone string `json:"milestone"`
	Date      string `json:"date"`   // "N/A" when absent
	Status    string `json:"status"` // "completed" | "pending"
}

// GetContainerTimelineResponse is the body of a successful POST /get_container_timeline.
type GetContainerTimelineResponse struct {
	Success         bool            `json:"success"`
	PassedPregate   bool            `json:"passed_pregate"`
	Timeline        []TimelineEntry `json:"timeline"`
	DetectionMethod string          `json:"detection_method"`
	SessionID       string          `json:"session_id"`
	IsNewSession    bool            `json:"is_new_session"`
	DebugBundleURL  string          `json:"debug_bundle_url,omitempty"`
}

// GetBookingNumberRequest is the body of POST /get_booking_number.
type GetBookingNumberRequest struct {
	SessionRef
	ContainerID string `json:"container_id"`
}

// GetBookingNumberResponse is the body of a successful POST /get_booking_number.
// BookingNumber is nil (JSON null) when the container has no booking field — this is
// not an error.
type GetBookingNumberResponse struct {
	Success        bool    `json:"success"`
	BookingNumber  *string `json:"booking_number"`
	ContainerID    string  `json:"container_id"`
	SessionID      string  `json:"session_id"`
	IsNewSession   bool    `json:"is_new_session"`
	DebugBundleURL string  `json:"debug_bundle_url,omitempty"`
}

// GetAppointmentsRequest is the body of POST /get_appointments.
type GetAppointmentsRequest struct {
	SessionRef
	InfiniteScrolling bool `json:"infinite_scrolling,omitempty"`
	TargetCount       int  `json:"target_count,omitempty"`
}

// GetAppointmentsResponse is the body of a successful POST /get_appointments.
type GetAppointmentsResponse struct {
	Success        bool   `json:"success"`
	FileURL        string `json:"file_url,omitempty"`
	SelectedCount  int    `json:"selected_count"`
	SessionID      string `json:"session_id"`
	IsNewSession   bool   `json:"is_new_session"`
	DebugBundleURL string `json:"debug_bundle_url,omitempty"`
}

// GetInfoBulkRequest is the body of POST /get_info_bulk.
type GetInfoBulkRequest struct {
	SessionRef
	ImportContainers []string `json:"import_containers,omitempty"`
	ExportContainers []string `json:"export_containers,omitempty"`
}

// BulkItemResult captures a per-item outcome in a bulk request; failures of one item
// never abort the batch.
type BulkItemResult struct {
	ContainerID   string  `json:"container_id"`
	PassedPregate *bool   `json:"passed_pregate,omitempty"`
	BookingNumber *string `json:"booking_number,omitempty"`
	Error         string  `json:"error,omitempty"`
}

// BulkSummary totals a bulk run.
type BulkSummary struct {
	Total     int `json:"total"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// GetInfoBulkResults is the "results" payload of GetInfoBulkResponse.
type GetInfoBulkResults struct {
	ImportResults []BulkItemResult `json:"import_results"`
	ExportResults []BulkItemResult `json:"export_results"`
	Summary       BulkSummary      `json:"summary"`
}

// GetInfoBulkResponse is the body of a successful POST /get_info_bulk.
type GetInfoBulkResponse struct {
	Success        bool               `json:"success"`
	Results        GetInfoBulkResults `json:"results"`
	SessionID      string             `json:"session_id"`
	IsNewSession   bool               `json:"is_new_session"`
	DebugBundleURL string             `json:"debug_bundle_url,omitempty"`
}

// ContainerType distinguishes the two AppointmentFSM variants.
type ContainerType string

const (
	ContainerTypeImport ContainerType = "import"
	ContainerTypeExport ContainerType = "export"
)

// AppointmentPhaseFields carries every field any phase of either FSM variant might
// need; the FSM decides, per phase and variant, which are required. OwnChassis is a
// pointer because "absent" (don't touch the toggle) differs from "explicit false".
type AppointmentPhaseFields struct {
	TruckingCompany string `json:"trucking_company,omitempty"`
	Terminal        string `json:"terminal,omitempty"`
	MoveType        string `json:"move_type,omitempty"`
	ContainerID     string `json:"container_id,omitempty"`
	BookingNumber   string `json:"booking_number,omitempty"`
	PinCode         string `json:"pin_code,omitempty"`
	UnitNumber      string `json:"unit_number,omitempty"`
	SealNumber1     string `json:"seal_number_1,omitempty"`
	SealNumber2     string `json:"seal_number_2,omitempty"`
	SealNumber3     string `json:"seal_number_3,omitempty"`
	SealNumber4     string `json:"seal_number_4,omitempty"`
	TruckPlate      string `json:"truck_plate,omitempty"`
	OwnChassis      *bool  `json:"own_chassis,omitempty"`
	AppointmentTime string `json:"appointment_time,omitempty"`
}

// CheckAppointmentsRequest is the body of POST /check_appointments and, with
// AppointmentTime set, POST /make_appointment.
type CheckAppointmentsRequest struct {
	SessionRef
	ContainerType        ContainerType `json:"container_type"`
	AppointmentSessionID string        `json:"appointment_session_id,omitempty"`
	AppointmentPhaseFields
}

// CheckAppointmentsResponse is the body of a successful POST /check_appointments.
// AvailableTimes is meaningful for the import variant; CalendarFound for the export
// variant — both are present on the wire, following the teacher's single-struct
// multi-purpose response idiom.
type CheckAppointmentsResponse struct {
	Success               bool     `json:"success"`
	AvailableTimes        []string `json:"available_times,omitempty"`
	Count                 int      `json:"count,omitempty"`
	CalendarFound         bool     `json:"calendar_found,omitempty"`
	DropdownScreenshotURL string   `json:"dropdown_screenshot_url,omitempty"`
	CalendarScreenshotURL string   `json:"calendar_screenshot_url,omitempty"`
	AppointmentSessionID  string   `json:"appointment_session_id"`
	SessionID             string   `json:"session_id"`
	IsNewSession          bool     `json:"is_new_session"`
	DebugBundleURL        string   `json:"debug_bundle_url,omitempty"`
}

// MakeAppointmentResponse is the body of a successful POST /make_appointment.
type MakeAppointmentResponse struct {
	Success              bool              `json:"success"`
	AppointmentConfirmed bool              `json:"appointment_confirmed"`
	AppointmentDetails   map[string]string `json:"appointment_details,omitempty"`
	SessionID            string            `json:"session_id"`
	IsNewSession         bool              `json:"is_new_session"`
	DebugBundleURL       string            `json:"debug_bundle_url,omitempty"`
}

// SessionSummary is one entry of GET /sessions.
type SessionSummary struct {
	SessionID  string `json:"session_id"`
	Username   string `json:"username"`
	CreatedAt  int64  `json:"created_at"`
	LastUsedAt int64  `json:"last_used_at"`
	InUse      bool   `json:"in_use"`
	KeepAlive  bool   `json:"keep_alive"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status             string `json:"status"`
	ActiveSessions     int    `json:"active_sessions"`
	MaxSessions        int    `json:"max_sessions"`
	SessionCapacity    string `json:"session_capacity"` // "N/M"
	PersistentSessions int    `json:"persistent_sessions"`
	Timestamp          int64  `json:"timestamp"`
}

// ErrorResponse is the body of any failed request. Fields beyond Error/Success are
// populated only when meaningful for that failure.
type ErrorResponse struct {
	Success              bool   `json:"success"`
	Error                string `json:"error"`
	ErrorMessage         string `json:"error_message,omitempty"`
	SessionID            string `json:"session_id,omitempty"`
	AppointmentSessionID string `json:"appointment_session_id,omitempty"`
	CurrentPhase         int    `json:"current_phase,omitempty"`
	ScreenshotURL        string `json:"screenshot_url,omitempty"`
}

// CleanupResponse is the body of POST /cleanup.
type CleanupResponse struct {
	Success      bool `json:"success"`
	FilesRemoved int  `json:"files_removed"`
}
