package config

import (
	"os"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	envVars := []string{
		"HOST", "PORT", "HEADLESS", "BROWSER_PATH",
		"MAX_SESSIONS", "SESSION_REFRESH_INTERVAL", "SESSION_POOL_TIMEOUT",
		"APPT_TTL", "ARTIFACT_ROOT", "FILE_TTL", "JANITOR_INTERVAL",
		"PROXY_HOST", "PROXY_PORT", "PROXY_USERNAME", "PROXY_PASSWORD",
		"CAPTCHA_DEFAULT_KEY", "CAPTCHA_FALLBACK_ENABLED", "TWOCAPTCHA_API_KEY",
		"LOG_LEVEL", "RATE_LIMIT_ENABLED", "RATE_LIMIT_RPM", "API_KEY_ENABLED", "API_KEY",
	}
	for _, env := range envVars {
		os.Unsetenv(env)
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg := Load()

	if cfg.Host != "0.0.0.0" {
		t.Errorf("Host = %q, want 0.0.0.0", cfg.Host)
	}
	if cfg.Port != 8080 {
		t.Errorf("Port = %d, want 8080", cfg.Port)
	}
	if cfg.MaxSessions != 10 {
		t.Errorf("MaxSessions = %d, want 10", cfg.MaxSessions)
	}
	if cfg.SessionRefreshInterval != 300*time.Second {
		t.Errorf("SessionRefreshInterval = %v, want 300s", cfg.SessionRefreshInterval)
	}
	if cfg.ApptTTL != 600*time.Second {
		t.Errorf("ApptTTL = %v, want 600s", cfg.ApptTTL)
	}
	if cfg.FileTTL != 86400*time.Second {
		t.Errorf("FileTTL = %v, want 86400s", cfg.FileTTL)
	}
	if cfg.JanitorInterval != 3600*time.Second {
		t.Errorf("JanitorInterval = %v, want 3600s", cfg.JanitorInterval)
	}
	if !cfg.Headless {
		t.Error("Headless should default to true")
	}
}

func TestLoadFromEnv(t *testing.T) {
	clearEnv(t)
	os.Setenv("MAX_SESSIONS", "25")
	os.Setenv("APPT_TTL", "120s")
	defer clearEnv(t)

	cfg := Load()
	if cfg.MaxSessions != 25 {
		t.Errorf("MaxSessions = %d, want 25", cfg.MaxSessions)
	}
	if cfg.ApptTTL != 120*time.Second {
		t.Errorf("ApptTTL = %v, want 120s", cfg.ApptTTL)
	}
}

func TestValidateClampsOutOfRange(t *testing.T) {
	cfg := &Config{
		Port:                   99999,
		MaxSessions:            -1,
		SessionRefreshInterval: time.Second,
		ApptTTL:                time.Second,
		FileTTL:                time.Second,
		JanitorInterval:        time.Second,
		ArtifactRoot:           "../escape",
		LogLevel:               "bogus",
		RateLimitRPM:           5,
	}
	cfg.Validate()

	if cfg.Port != 8080 {
		t.Errorf("Port = %d, want clamped to 8080", cfg.Port)
	}
	if cfg.MaxSessions != 10 {
		t.Errorf("MaxSessions = %d, want clamped to 10", cfg.MaxSessions)
	}
	if cfg.ArtifactRoot != "./data" {
		t.Errorf("ArtifactRoot = %q, want reset to ./data after traversal attempt", cfg.ArtifactRoot)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want clamped to info", cfg.LogLevel)
	}
}

func TestHasProxy(t *testing.T) {
	cfg := &Config{}
	if cfg.HasProxy() {
		t.Error("HasProxy() = true, want false for empty config")
	}
	cfg.ProxyHost = "proxy.example.com"
	if !cfg.HasProxy() {
		t.Error("HasProxy() = false, want true once ProxyHost is set")
	}
}

func TestHasCaptchaFallback(t *testing.T) {
	cfg := &Config{CaptchaFallbackEnabled: true}
	if cfg.HasCaptchaFallback() {
		t.Error("HasCaptchaFallback() = true, want false with no API keys configured")
	}
	cfg.Captcha2CaptchaAPIKey = "key"
	if !cfg.HasCaptchaFallback() {
		t.Error("HasCaptchaFallback() = false, want true once an API key is set")
	}
}
