package captcha

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mohamed-ali0/truckportal-bridge/internal/types"
)

func TestCapSolverSolver_Name(t *testing.T) {
	solver := NewCapSolverSolver(CapSolverConfig{})
	if got := solver.Name(); got != "capsolver" {
		t.Errorf("Name() = %q, want %q", got, "capsolver")
	}
}

func TestCapSolverSolver_IsConfigured(t *testing.T) {
	tests := []struct {
		name   string
		apiKey string
		want   bool
	}{
		{name: "configured with key", apiKey: "test-api-key", want: true},
		{name: "not configured without key", apiKey: "", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			solver := NewCapSolverSolver(CapSolverConfig{APIKey: tt.apiKey})
			if got := solver.IsConfigured(); got != tt.want {
				t.Errorf("IsConfigured() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCapSolverSolver_SolveAudio_NotConfigured(t *testing.T) {
	solver := NewCapSolverSolver(CapSolverConfig{})

	_, err := solver.SolveAudio(context.Background(), &AudioRequest{
		AudioURL: "https://example.com/audio.mp3",
	})

	if err == nil {
		t.Error("expected error for unconfigured solver")
	}
}

func TestCapSolverSolver_SolveAudio_Success(t *testing.T) {
	taskID := "task-abc-123"
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/createTask":
			json.NewEncoder(w).Encode(capSolverCreateTaskResponse{
				ErrorID: 0,
				TaskID:  taskID,
			})
		case "/getTaskResult":
			json.NewEncoder(w).Encode(capSolverGetResultResponse{
				ErrorID: 0,
				Status:  "ready",
				Solution: &capSolverAudioSolution{
					Text: "four one eight",
				},
			})
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	solver := NewCapSolverSolver(CapSolverConfig{
		APIKey:  "test-key",
		BaseURL: server.URL,
		Timeout: 10 * time.Second,
	})

	result, err := solver.SolveAudio(context.Background(), &AudioRequest{
		AudioURL: "https://example.com/audio.mp3",
		Language: "en",
	})

	if err != nil {
		t.Fatalf("SolveAudio() error = %v", err)
	}

	if result.Text != "four one eight" {
		t.Errorf("Text = %q, want %q", result.Text, "four one eight")
	}

	if result.Provider != "capsolver" {
		t.Errorf("Provider = %q, want %q", result.Provider, "capsolver")
	}
}

func TestCapSolverSolver_SolveAudio_RequestCarriesAudioURL(t *testing.T) {
	var receivedTask capSolverAudioTask
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/createTask":
			var req capSolverCreateTaskRequest
			json.NewDecoder(r.Body).Decode(&req)
			receivedTask = req.Task
			json.NewEncoder(w).Encode(capSolverCreateTaskResponse{
				ErrorID: 0,
				TaskID:  "task-123",
			})
		case "/getTaskResult":
			json.NewEncoder(w).Encode(capSolverGetResultResponse{
				ErrorID:  0,
				Status:   "ready",
				Solution: &capSolverAudioSolution{Text: "nine five two"},
			})
		}
	}))
	defer server.Close()

	solver := NewCapSolverSolver(CapSolverConfig{
		APIKey:  "test-key",
		BaseURL: server.URL,
		Timeout: 10 * time.Second,
	})

	_, err := solver.SolveAudio(context.Background(), &AudioRequest{
		AudioURL: "https://portal.example.com/captcha/audio.mp3",
		Language: "en",
	})

	if err != nil {
		t.Fatalf("SolveAudio() error = %v", err)
	}

	if receivedTask.AudioURL != "https://portal.example.com/captcha/audio.mp3" {
		t.Errorf("AudioURL = %q, want the submitted audio URL", receivedTask.AudioURL)
	}

	if receivedTask.Lang != "en" {
		t.Errorf("Lang = %q, want %q", receivedTask.Lang, "en")
	}
}

func TestCapSolverSolver_SolveAudio_Failed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/createTask":
			json.NewEncoder(w).Encode(capSolverCreateTaskResponse{
				ErrorID: 0,
				TaskID:  "task-123",
			})
		case "/getTaskResult":
			json.NewEncoder(w).Encode(capSolverGetResultResponse{
				ErrorID: 0,
				Status:  "failed",
			})
		}
	}))
	defer server.Close()

	solver := NewCapSolverSolver(CapSolverConfig{
		APIKey:  "test-key",
		BaseURL: server.URL,
		Timeout: 10 * time.Second,
	})

	_, err := solver.SolveAudio(context.Background(), &AudioRequest{
		AudioURL: "https://example.com/audio.mp3",
	})

	if err == nil {
		t.Fatal("expected error for failed task")
	}
}

func TestCapSolverSolver_SolveAudio_ZeroBalance(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(capSolverCreateTaskResponse{
			ErrorID:          1,
			ErrorCode:        "ERROR_ZERO_BALANCE",
			ErrorDescription: "Insufficient balance",
		})
	}))
	defer server.Close()

	solver := NewCapSolverSolver(CapSolverConfig{
		APIKey:  "test-key",
		BaseURL: server.URL,
		Timeout: 10 * time.Second,
	})

	_, err := solver.SolveAudio(context.Background(), &AudioRequest{
		AudioURL: "https://example.com/audio.mp3",
	})

	if err == nil {
		t.Fatal("expected error for zero balance")
	}

	var captchaErr *types.CaptchaError
	if !containsCaptchaError(err, &captchaErr) {
		t.Errorf("expected CaptchaError, got %T", err)
	}
}

func TestCapSolverSolver_Balance(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(capSolverBalanceResponse{
			ErrorID: 0,
			Balance: 10.25,
		})
	}))
	defer server.Close()

	solver := NewCapSolverSolver(CapSolverConfig{
		APIKey:  "test-key",
		BaseURL: server.URL,
	})

	balance, err := solver.Balance(context.Background())
	if err != nil {
		t.Fatalf("Balance() error = %v", err)
	}

	if balance != 10.25 {
		t.Errorf("Balance() = %f, want %f", balance, 10.25)
	}
}

func TestCapSolverSolver_Balance_NotConfigured(t *testing.T) {
	solver := NewCapSolverSolver(CapSolverConfig{})

	_, err := solver.Balance(context.Background())
	if err == nil {
		t.Error("expected error for unconfigured solver")
	}
}

func TestCapSolverSolver_HandleError(t *testing.T) {
	tests := []struct {
		name        string
		code        string
		description string
		wantErr     error
	}{
		{name: "zero balance", code: "ERROR_ZERO_BALANCE", wantErr: types.ErrCaptchaSolverBalance},
		{name: "no workers", code: "ERROR_NO_AVAILABLE_WORKERS", wantErr: types.ErrCaptchaSolverRejected},
		{name: "invalid key", code: "ERROR_INVALID_CLIENTKEY", wantErr: types.ErrCaptchaSolverRejected},
		{name: "unknown error", code: "UNKNOWN_ERROR", description: "Something went wrong", wantErr: types.ErrCaptchaSolverRejected},
	}

	solver := NewCapSolverSolver(CapSolverConfig{APIKey: "test"})

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := solver.handleError(tt.code, tt.description, "task-123")

			var captchaErr *types.CaptchaError
			if !containsCaptchaError(err, &captchaErr) {
				t.Fatalf("expected CaptchaError, got %T", err)
			}

			if captchaErr.Err != tt.wantErr {
				t.Errorf("Err = %v, want %v", captchaErr.Err, tt.wantErr)
			}
		})
	}
}
