package selectors

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func TestNewManager_EmbeddedOnly(t *testing.T) {
	m, err := NewManager("", false)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	defer m.Close()

	sel := m.Get()
	if sel == nil {
		t.Fatal("Get() returned nil")
	}

	if sel.ContainerIDPattern == "" {
		t.Error("Expected container ID pattern from embedded selectors")
	}
	if sel.LoginUsernameInput == "" {
		t.Error("Expected login selectors from embedded selectors")
	}
}

func TestNewManager_ExternalFile(t *testing.T) {
	tmpDir := t.TempDir()
	tmpFile := filepath.Join(tmpDir, "selectors.yaml")

	content := `
container_id_pattern: "[A-Z]{4}\\d{7}"
login_username_input: "#custom-user"
login_password_input: "#custom-pass"
`
	if err := os.WriteFile(tmpFile, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to create temp file: %v", err)
	}

	m, err := NewManager(tmpFile, false)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	defer m.Close()

	sel := m.Get()
	if sel == nil {
		t.Fatal("Get() returned nil")
	}

	if sel.ContainerIDPattern != "[A-Z]{4}\\d{7}" {
		t.Errorf("Expected custom container ID pattern, got %s", sel.ContainerIDPattern)
	}
	if sel.LoginUsernameInput != "#custom-user" {
		t.Errorf("Expected '#custom-user', got %s", sel.LoginUsernameInput)
	}

	// Embedded fields should fill in missing ones
	if len(sel.AppointmentDropdownLabels) == 0 {
		t.Error("Expected embedded AppointmentDropdownLabels to be used")
	}
}

func TestManager_Get_LockFree(t *testing.T) {
	m, err := NewManager("", false)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	defer m.Close()

	const goroutines = 100
	const iterations = 1000

	done := make(chan bool)
	for i := 0; i < goroutines; i++ {
		go func() {
			for j := 0; j < iterations; j++ {
				sel := m.Get()
				if sel == nil {
					t.Error("Get() returned nil")
					return
				}
				if sel.ContainerIDPattern == "" {
					t.Error("Expected container ID pattern")
					return
				}
			}
			done <- true
		}()
	}

	for i := 0; i < goroutines; i++ {
		<-done
	}
}

func TestManager_Reload(t *testing.T) {
	tmpDir := t.TempDir()
	tmpFile := filepath.Join(tmpDir, "selectors.yaml")

	content := `
container_id_pattern: "[A-Z]{4}\\d{6,7}"
login_username_input: "#u"
login_password_input: "#p"
`
	if err := os.WriteFile(tmpFile, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to create temp file: %v", err)
	}

	m, err := NewManager(tmpFile, false)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	defer m.Close()

	sel := m.Get()
	if sel.ContainerIDPattern != "[A-Z]{4}\\d{6,7}" {
		t.Errorf("Expected initial pattern, got %s", sel.ContainerIDPattern)
	}

	newContent := `
container_id_pattern: "[A-Z]{4}\\d{7}"
login_username_input: "#u2"
login_password_input: "#p2"
`
	if err := os.WriteFile(tmpFile, []byte(newContent), 0644); err != nil {
		t.Fatalf("Failed to update temp file: %v", err)
	}

	if err := m.Reload(); err != nil {
		t.Fatalf("Reload() error = %v", err)
	}

	sel = m.Get()
	if sel.ContainerIDPattern != "[A-Z]{4}\\d{7}" {
		t.Errorf("Expected updated pattern, got %s", sel.ContainerIDPattern)
	}
	if sel.LoginUsernameInput != "#u2" {
		t.Errorf("Expected '#u2', got %s", sel.LoginUsernameInput)
	}

	stats := m.Stats()
	if stats.ReloadCount != 2 {
		t.Errorf("Expected ReloadCount = 2, got %d", stats.ReloadCount)
	}
	if stats.LastError != nil {
		t.Errorf("Expected no error, got %v", stats.LastError)
	}
}

func TestManager_Reload_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	tmpFile := filepath.Join(tmpDir, "selectors.yaml")

	validContent := `
container_id_pattern: "[A-Z]{4}\\d{6,7}"
login_username_input: "#u"
login_password_input: "#p"
`
	if err := os.WriteFile(tmpFile, []byte(validContent), 0644); err != nil {
		t.Fatalf("Failed to create temp file: %v", err)
	}

	m, err := NewManager(tmpFile, false)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	defer m.Close()

	invalidContent := `
container_id_pattern: not valid yaml {{{
    incomplete:
`
	if err := os.WriteFile(tmpFile, []byte(invalidContent), 0644); err != nil {
		t.Fatalf("Failed to update temp file: %v", err)
	}

	if err := m.Reload(); err == nil {
		t.Error("Expected Reload() to fail with invalid YAML")
	}

	sel := m.Get()
	if sel.ContainerIDPattern != "[A-Z]{4}\\d{6,7}" {
		t.Errorf("Expected original pattern to be preserved, got %s", sel.ContainerIDPattern)
	}

	stats := m.Stats()
	if stats.LastError == nil {
		t.Error("Expected LastError to be set")
	}
}

func TestManager_Reload_NoExternalPath(t *testing.T) {
	m, err := NewManager("", false)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	defer m.Close()

	err = m.Reload()
	if err == nil {
		t.Error("Expected Reload() to fail when no external path is configured")
	}
}

func TestManager_HotReload(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping hot-reload test in short mode")
	}

	tmpDir := t.TempDir()
	tmpFile := filepath.Join(tmpDir, "selectors.yaml")

	content := `
container_id_pattern: "[A-Z]{4}\\d{6,7}"
login_username_input: "#u"
login_password_input: "#p"
`
	if err := os.WriteFile(tmpFile, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to create temp file: %v", err)
	}

	m, err := NewManager(tmpFile, true) // Enable hot-reload
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	defer m.Close()

	sel := m.Get()
	if sel.LoginUsernameInput != "#u" {
		t.Errorf("Expected '#u', got %s", sel.LoginUsernameInput)
	}

	newContent := `
container_id_pattern: "[A-Z]{4}\\d{6,7}"
login_username_input: "#u-reloaded"
login_password_input: "#p"
`
	if err := os.WriteFile(tmpFile, []byte(newContent), 0644); err != nil {
		t.Fatalf("Failed to update temp file: %v", err)
	}

	time.Sleep(300 * time.Millisecond)

	sel = m.Get()
	if sel.LoginUsernameInput != "#u-reloaded" {
		t.Errorf("Expected '#u-reloaded' after hot-reload, got %s", sel.LoginUsernameInput)
	}
}

func TestSelectors_Validate(t *testing.T) {
	tests := []struct {
		name    string
		sel     *Selectors
		wantErr bool
	}{
		{
			name: "valid with required fields",
			sel: &Selectors{
				ContainerIDPattern: `[A-Z]{4}\d{7}`,
				LoginUsernameInput: "#u",
				LoginPasswordInput: "#p",
			},
			wantErr: false,
		},
		{
			name:    "invalid - missing container pattern",
			sel:     &Selectors{LoginUsernameInput: "#u", LoginPasswordInput: "#p"},
			wantErr: true,
		},
		{
			name:    "invalid - missing login fields",
			sel:     &Selectors{ContainerIDPattern: `[A-Z]{4}\d{7}`},
			wantErr: true,
		},
		{
			name:    "invalid - empty",
			sel:     &Selectors{},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.sel.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestGetManager(t *testing.T) {
	m := GetManager()
	if m == nil {
		t.Fatal("GetManager() returned nil")
	}
	defer m.Close()

	sel := m.Get()
	if sel == nil {
		t.Fatal("Get() returned nil")
	}

	if sel.ContainerIDPattern == "" {
		t.Error("Expected container ID pattern")
	}
}

func TestManager_MergeWithEmbedded(t *testing.T) {
	m, err := NewManager("", false)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	defer m.Close()

	external := &Selectors{
		LoginUsernameInput: "#custom-user",
		// Other fields empty - should use embedded
	}

	merged := m.mergeWithEmbedded(external)

	if merged.LoginUsernameInput != "#custom-user" {
		t.Errorf("Expected custom login_username_input, got %v", merged.LoginUsernameInput)
	}

	if merged.ContainerIDPattern == "" {
		t.Error("Expected embedded container_id_pattern to be used")
	}
	if merged.LoginPasswordInput == "" {
		t.Error("Expected embedded login_password_input to be used")
	}
	if len(merged.AppointmentDropdownLabels) == 0 {
		t.Error("Expected embedded appointment_dropdown_labels to be used")
	}
}

func TestManager_Close(t *testing.T) {
	tmpDir := t.TempDir()
	tmpFile := filepath.Join(tmpDir, "selectors.yaml")

	content := `container_id_pattern: "[A-Z]{4}\d{7}"
login_username_input: "#u"
login_password_input: "#p"`
	if err := os.WriteFile(tmpFile, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to create temp file: %v", err)
	}

	m, err := NewManager(tmpFile, true) // With hot-reload
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}

	if err := m.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}

	// Double close should be safe
	if err := m.Close(); err != nil {
		t.Logf("Double Close() returned: %v (expected)", err)
	}
}

// ============================================================
// Remote selector fetch tests
// ============================================================

func TestManager_LoadRemote(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/yaml")
		_, _ = w.Write([]byte(`
container_id_pattern: "[A-Z]{4}\\d{7}"
login_username_input: "#remote-user"
login_password_input: "#remote-pass"
`))
	}))
	defer server.Close()

	m, err := NewManagerWithRemote("", false, server.URL, 1*time.Hour, true)
	if err != nil {
		t.Fatalf("NewManagerWithRemote() error = %v", err)
	}
	defer m.Close()

	sel := m.Get()
	if sel == nil {
		t.Fatal("Get() returned nil")
	}

	if sel.LoginUsernameInput != "#remote-user" {
		t.Errorf("Expected '#remote-user', got %v", sel.LoginUsernameInput)
	}

	stats := m.Stats()
	if stats.RemoteSuccesses < 1 {
		t.Errorf("Expected at least 1 remote success, got %d", stats.RemoteSuccesses)
	}
}

func TestManager_RemoteTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(2 * time.Second)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	m := &Manager{
		embedded:           Get(),
		stopCh:             make(chan struct{}),
		remoteURL:          server.URL,
		refreshInterval:    1 * time.Hour,
		allowPrivateRemote: true,
		httpClient: &http.Client{
			Timeout: 100 * time.Millisecond,
		},
	}
	m.current.Store(m.embedded)
	defer m.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := m.loadRemote(ctx)
	if err == nil {
		t.Error("Expected timeout error, got nil")
	}
}

func TestManager_RemoteMalformed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/yaml")
		_, _ = w.Write([]byte(`
this is not valid yaml {{{
  - incomplete:
`))
	}))
	defer server.Close()

	m, err := NewManagerWithRemote("", false, server.URL, 1*time.Hour, true)
	if err != nil {
		t.Fatalf("NewManagerWithRemote() error = %v", err)
	}
	defer m.Close()

	sel := m.Get()
	if sel == nil {
		t.Fatal("Get() returned nil")
	}

	if sel.ContainerIDPattern == "" {
		t.Error("Expected embedded container ID pattern")
	}
}

func TestManager_RemoteRefresh(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping refresh test in short mode")
	}

	callCount := 0
	var mu sync.Mutex

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		callCount++
		currentCount := callCount
		mu.Unlock()

		w.Header().Set("Content-Type", "application/yaml")
		_, _ = fmt.Fprintf(w, `
login_username_input: "#refresh-%d"
`, currentCount)
	}))
	defer server.Close()

	m, err := NewManagerWithRemote("", false, server.URL, 100*time.Millisecond, true)
	if err != nil {
		t.Fatalf("NewManagerWithRemote() error = %v", err)
	}
	defer m.Close()

	time.Sleep(350 * time.Millisecond)

	mu.Lock()
	finalCount := callCount
	mu.Unlock()

	if finalCount < 2 {
		t.Errorf("Expected at least 2 calls, got %d", finalCount)
	}

	stats := m.Stats()
	if stats.RemoteSuccesses < 2 {
		t.Errorf("Expected at least 2 remote successes, got %d", stats.RemoteSuccesses)
	}
}

func TestManager_RemoteFallback(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("Internal Server Error"))
	}))
	defer server.Close()

	m, err := NewManagerWithRemote("", false, server.URL, 1*time.Hour, true)
	if err != nil {
		t.Fatalf("NewManagerWithRemote() error = %v", err)
	}
	defer m.Close()

	sel := m.Get()
	if sel == nil {
		t.Fatal("Get() returned nil")
	}

	if sel.ContainerIDPattern == "" {
		t.Error("Expected embedded container ID pattern from graceful degradation")
	}
}

func TestManager_RemoteWithFileOverride(t *testing.T) {
	tmpDir := t.TempDir()
	tmpFile := filepath.Join(tmpDir, "selectors.yaml")

	content := `
container_id_pattern: "[A-Z]{4}\\d{7}"
login_username_input: "#file-user"
login_password_input: "#file-pass"
`
	if err := os.WriteFile(tmpFile, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to create temp file: %v", err)
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/yaml")
		_, _ = w.Write([]byte(`
login_username_input: "#remote-user"
`))
	}))
	defer server.Close()

	m, err := NewManagerWithRemote(tmpFile, false, server.URL, 1*time.Hour, true)
	if err != nil {
		t.Fatalf("NewManagerWithRemote() error = %v", err)
	}
	defer m.Close()

	sel := m.Get()

	if sel.LoginUsernameInput != "#file-user" {
		t.Errorf("Expected '#file-user' (file takes priority), got %v", sel.LoginUsernameInput)
	}
}

func TestManager_RemoteNoURL(t *testing.T) {
	m := &Manager{
		embedded:   Get(),
		stopCh:     make(chan struct{}),
		remoteURL:  "",
		httpClient: nil,
	}
	m.current.Store(m.embedded)

	ctx := context.Background()
	_, err := m.loadRemote(ctx)
	if err == nil {
		t.Error("Expected error when no remote URL configured")
	}
}

// TestManager_RemoteSSRFBlocked verifies that a remote selectors URL pointing
// at a loopback/internal host is rejected unless allowPrivateRemote is set,
// since the remote URL is operator-supplied (spec §9 Open Questions).
func TestManager_RemoteSSRFBlocked(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/yaml")
		_, _ = w.Write([]byte(`login_username_input: "#remote-user"`))
	}))
	defer server.Close()

	m := &Manager{
		embedded:           Get(),
		stopCh:             make(chan struct{}),
		remoteURL:          server.URL,
		allowPrivateRemote: false,
		httpClient:         &http.Client{Timeout: time.Second},
	}
	m.current.Store(m.embedded)
	defer m.Close()

	_, err := m.loadRemote(context.Background())
	if err == nil {
		t.Error("loadRemote() against a loopback URL should be rejected by the SSRF guard")
	}
}

func TestManager_RemoteStats(t *testing.T) {
	callCount := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		callCount++
		if callCount == 1 {
			w.Header().Set("Content-Type", "application/yaml")
			_, _ = w.Write([]byte(`login_username_input: "#test"`))
		} else {
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer server.Close()

	m, err := NewManagerWithRemote("", false, server.URL, 50*time.Millisecond, true)
	if err != nil {
		t.Fatalf("NewManagerWithRemote() error = %v", err)
	}
	defer m.Close()

	time.Sleep(150 * time.Millisecond)

	stats := m.Stats()

	if stats.RemoteSuccesses < 1 {
		t.Errorf("Expected at least 1 remote success, got %d", stats.RemoteSuccesses)
	}

	if stats.RemoteFailures < 1 {
		t.Errorf("Expected at least 1 remote failure, got %d", stats.RemoteFailures)
	}

	if stats.LastRemoteFetch.IsZero() {
		t.Error("Expected LastRemoteFetch to be set")
	}
}
