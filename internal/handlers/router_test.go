package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mohamed-ali0/truckportal-bridge/internal/appointment"
	"github.com/mohamed-ali0/truckportal-bridge/internal/artifact"
	"github.com/mohamed-ali0/truckportal-bridge/internal/config"
	"github.com/mohamed-ali0/truckportal-bridge/internal/detail"
	"github.com/mohamed-ali0/truckportal-bridge/internal/listing"
	"github.com/mohamed-ali0/truckportal-bridge/internal/selectors"
	"github.com/mohamed-ali0/truckportal-bridge/internal/sessionpool"
	"github.com/mohamed-ali0/truckportal-bridge/internal/types"
)

// newTestRouter wires a full Server against a temp artifact root and an
// empty session pool. No browser is ever launched: tests exercise only the
// request-validation, session-resolution, and artifact paths.
func newTestRouter(t *testing.T) (http.Handler, *artifact.Store) {
	t.Helper()

	cfg := &config.Config{
		MaxSessions:            5,
		SessionRefreshInterval: 5 * time.Minute,
		ApptTTL:                10 * time.Minute,
		ArtifactRoot:           t.TempDir(),
		FileTTL:                24 * time.Hour,
		JanitorInterval:        time.Hour,
		NavTimeout:             time.Second,
		ScrollIdle:             10 * time.Millisecond,
		PhaseTransition:        time.Second,
		DownloadTimeout:        time.Second,
		ApptPhaseTimeout:       time.Second,
	}

	selMgr, err := selectors.NewManager("", false)
	if err != nil {
		t.Fatalf("selectors.NewManager: %v", err)
	}
	t.Cleanup(func() { selMgr.Close() })

	pool := sessionpool.New(cfg)
	listingEngine := listing.New(cfg, selMgr.Get)
	detailEngine := detail.New(cfg, selMgr.Get, listingEngine)
	apptFSM := appointment.New(cfg, selMgr.Get, appointment.NewStore(cfg.ApptTTL))

	store, err := artifact.New(cfg.ArtifactRoot)
	if err != nil {
		t.Fatalf("artifact.New: %v", err)
	}
	janitor := artifact.NewJanitor(store, cfg.FileTTL, cfg.JanitorInterval)

	srv := New(cfg, pool, nil, listingEngine, detailEngine, apptFSM, store, janitor)
	return NewRouter(srv), store
}

func doJSON(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rdr *bytes.Buffer
	if body == "" {
		rdr = bytes.NewBuffer(nil)
	} else {
		rdr = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, rdr)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestHealthReportsEmptyPoolCapacity(t *testing.T) {
	h, _ := newTestRouter(t)
	rr := doJSON(t, h, http.MethodGet, "/health", "")

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	var resp types.HealthResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding health body: %v", err)
	}
	if resp.Status != "ok" {
		t.Fatalf("status = %q, want ok", resp.Status)
	}
	if resp.ActiveSessions != 0 || resp.MaxSessions != 5 {
		t.Fatalf("sessions = %d/%d, want 0/5", resp.ActiveSessions, resp.MaxSessions)
	}
	if resp.SessionCapacity != "0/5" {
		t.Fatalf("session_capacity = %q, want 0/5", resp.SessionCapacity)
	}
}

func TestGetSessionRejectsMissingCredentials(t *testing.T) {
	h, _ := newTestRouter(t)
	rr := doJSON(t, h, http.MethodPost, "/get_session", `{"username":"u"}`)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
	var resp types.ErrorResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding error body: %v", err)
	}
	if resp.Success {
		t.Fatal("success must be false on a rejected request")
	}
	if resp.Error != "INVALID_REQUEST" {
		t.Fatalf("error = %q, want INVALID_REQUEST", resp.Error)
	}
}

func TestGetContainersUnknownSessionIs404(t *testing.T) {
	h, _ := newTestRouter(t)
	rr := doJSON(t, h, http.MethodPost, "/get_containers", `{"session_id":"nope","target_count":5}`)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rr.Code)
	}
	var resp types.ErrorResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding error body: %v", err)
	}
	if resp.Error != "SESSION_NOT_FOUND" {
		t.Fatalf("error = %q, want SESSION_NOT_FOUND", resp.Error)
	}
}

func TestGetContainersRejectsBodyWithNeitherSessionNorCredentials(t *testing.T) {
	h, _ := newTestRouter(t)
	rr := doJSON(t, h, http.MethodPost, "/get_containers", `{"target_count":5}`)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
}

func TestGetContainerTimelineRequiresContainerID(t *testing.T) {
	h, _ := newTestRouter(t)
	rr := doJSON(t, h, http.MethodPost, "/get_container_timeline", `{"session_id":"s1"}`)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
}

func TestGetBookingNumberRequiresContainerID(t *testing.T) {
	h, _ := newTestRouter(t)
	rr := doJSON(t, h, http.MethodPost, "/get_booking_number", `{"session_id":"s1"}`)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
}

func TestCheckAppointmentsRejectsBadContainerType(t *testing.T) {
	h, _ := newTestRouter(t)
	rr := doJSON(t, h, http.MethodPost, "/check_appointments", `{"session_id":"s1","container_type":"sideways"}`)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
}

func TestListSessionsEmptyPool(t *testing.T) {
	h, _ := newTestRouter(t)
	rr := doJSON(t, h, http.MethodGet, "/sessions", "")

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	var snap []types.SessionSummary
	if err := json.Unmarshal(rr.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decoding sessions body: %v", err)
	}
	if len(snap) != 0 {
		t.Fatalf("sessions = %d, want 0", len(snap))
	}
}

func TestDeleteSessionRejectsMalformedID(t *testing.T) {
	h, _ := newTestRouter(t)
	rr := doJSON(t, h, http.MethodDelete, "/sessions/bad_id", "")

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
}

func TestDeleteSessionOfAbsentIDSucceeds(t *testing.T) {
	h, _ := newTestRouter(t)
	rr := doJSON(t, h, http.MethodDelete, "/sessions/0123456789abcdef0123456789abcdef", "")

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (close of absent session is a no-op)", rr.Code)
	}
}

func TestCleanupReapsOnlyExpiredArtifacts(t *testing.T) {
	h, store := newTestRouter(t)

	old := filepath.Join(store.Root(), "stale_export.xlsx")
	if err := os.WriteFile(old, []byte("stale"), 0o644); err != nil {
		t.Fatal(err)
	}
	expired := time.Now().Add(-25 * time.Hour)
	if err := os.Chtimes(old, expired, expired); err != nil {
		t.Fatal(err)
	}
	fresh := filepath.Join(store.Root(), "fresh_export.xlsx")
	if err := os.WriteFile(fresh, []byte("fresh"), 0o644); err != nil {
		t.Fatal(err)
	}

	rr := doJSON(t, h, http.MethodPost, "/cleanup", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	var resp types.CleanupResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding cleanup body: %v", err)
	}
	if resp.FilesRemoved != 1 {
		t.Fatalf("files_removed = %d, want 1", resp.FilesRemoved)
	}
	if _, err := os.Stat(old); !os.IsNotExist(err) {
		t.Fatal("expired artifact should have been removed")
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Fatal("fresh artifact must survive a cleanup pass")
	}
}

func TestFilesServesArtifactByName(t *testing.T) {
	h, store := newTestRouter(t)

	path := filepath.Join(store.Root(), "containers.xlsx")
	if err := os.WriteFile(path, []byte("sheet-bytes"), 0o644); err != nil {
		t.Fatal(err)
	}

	rr := doJSON(t, h, http.MethodGet, "/files/containers.xlsx", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if got := rr.Body.String(); got != "sheet-bytes" {
		t.Fatalf("body = %q, want file contents", got)
	}
	if cd := rr.Header().Get("Content-Disposition"); cd == "" {
		t.Fatal("expected a Content-Disposition header on artifact downloads")
	}
}

func TestFilesUnknownNameIs404(t *testing.T) {
	h, _ := newTestRouter(t)
	rr := doJSON(t, h, http.MethodGet, "/files/never-created.xlsx", "")

	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rr.Code)
	}
}

func TestScrollModeResolution(t *testing.T) {
	tests := []struct {
		name              string
		infiniteScrolling bool
		targetCount       int
		targetContainerID string
		wantMode          listing.Mode
	}{
		{"target id wins over count", false, 50, "MSDU5772413", listing.ModeTargetID},
		{"count mode", false, 50, "", listing.ModeCount},
		{"explicit exhaust", true, 0, "", listing.ModeExhaust},
		{"default is exhaust", false, 0, "", listing.ModeExhaust},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mode, count, target := scrollMode(tt.infiniteScrolling, tt.targetCount, tt.targetContainerID)
			if mode != tt.wantMode {
				t.Fatalf("mode = %v, want %v", mode, tt.wantMode)
			}
			if tt.wantMode == listing.ModeCount && count != tt.targetCount {
				t.Fatalf("count = %d, want %d", count, tt.targetCount)
			}
			if tt.wantMode == listing.ModeTargetID && target != tt.targetContainerID {
				t.Fatalf("target = %q, want %q", target, tt.targetContainerID)
			}
		})
	}
}
