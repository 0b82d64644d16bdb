// Package config provides application configuration management.
package config

import (
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mohamed-ali0/truckportal-bridge/internal/security"
)

// Configuration upper bounds to prevent resource exhaustion.
const (
	maxMaxSessions  = 1000
	maxTimeout      = 10 * time.Minute
	maxRateLimitRPM = 10000
	minAPIKeyLength = 16
)

// Config holds all application configuration, loaded from environment variables at
// startup. Field names mirror the environment variable they come from.
type Config struct {
	// Server settings
	Host string
	Port int

	// Browser settings
	Headless    bool
	BrowserPath string

	// Session pool settings (spec §6 configuration knobs)
	MaxSessions            int
	SessionRefreshInterval time.Duration // default 300s: keep-alive refresh cadence
	SessionPoolTimeout     time.Duration // bound on a credentials Acquire() waiting for a busy session of the same identity

	// Appointment sub-session lifetime
	ApptTTL time.Duration // default 600s

	// Artifact lifecycle
	ArtifactRoot    string
	FileTTL         time.Duration // default 86400s
	JanitorInterval time.Duration // default 3600s

	// Timeouts (spec §5)
	NavTimeout       time.Duration // 45s
	ScrollIdle       time.Duration // 0.7s
	PhaseTransition  time.Duration // 15s
	DownloadTimeout  time.Duration // 60-120s
	ApptPhaseTimeout time.Duration // 60s

	// Proxy defaults — used by AuthFlow to build the proxy credential extension.
	ProxyHost            string
	ProxyPort            int
	ProxyUsername        string
	ProxyPassword        string
	ProxyAllowPrivateIPs bool // local/LAN proxies are a common deployment, so default true
	ProxyExtensionMV2    bool // emit a manifest-v2 extension for older Chrome builds

	// BlockHeavyResources drops image/font/media requests at the CDP layer.
	// The portal is driven for its text and form state, so shedding the
	// heavy assets cuts page-load time on slow proxies.
	BlockHeavyResources bool

	// Captcha
	CaptchaDefaultKey      string
	CaptchaNativeAttempts  int
	CaptchaFallbackEnabled bool
	Captcha2CaptchaAPIKey  string
	CaptchaCapSolverAPIKey string
	CaptchaSolverTimeout   time.Duration

	// Logging
	LogLevel string

	// Security
	RateLimitEnabled   bool
	RateLimitRPM       int
	TrustProxy         bool
	CORSAllowedOrigins []string
	APIKeyEnabled      bool
	APIKey             string

	// Row-identifier / selector overrides (spec §9 Open Questions: keep configurable)
	SelectorsPath               string
	SelectorsHotReload          bool
	SelectorsRemoteURL          string        // optional: periodically refetch selectors from a remote source
	SelectorsRemoteInterval     time.Duration // 0 disables remote fetch
	SelectorsRemoteAllowPrivate bool          // allow internal/LAN hosts for the remote selectors source

	// Portal addressing. The portal's DOM selectors are out of scope (spec §1),
	// and so is its exact URL layout — these are the one seam callers must
	// supply for a live deployment; defaults point at a placeholder host so
	// the binary still starts for local/dev use.
	PortalBaseURL         string
	PortalLoginPath       string
	PortalContainersPath  string
	PortalAppointmentsPath string
}

// Load loads configuration from environment variables.
func Load() *Config {
	return &Config{
		Host: getEnvString("HOST", "0.0.0.0"),
		Port: getEnvInt("PORT", 8080),

		Headless:    getEnvBool("HEADLESS", true),
		BrowserPath: getEnvString("BROWSER_PATH", ""),

		MaxSessions:            getEnvInt("MAX_SESSIONS", 10),
		SessionRefreshInterval: getEnvDuration("SESSION_REFRESH_INTERVAL", 300*time.Second),
		SessionPoolTimeout:     getEnvDuration("SESSION_POOL_TIMEOUT", 30*time.Second),

		ApptTTL: getEnvDuration("APPT_TTL", 600*time.Second),

		ArtifactRoot:    getEnvString("ARTIFACT_ROOT", "./data"),
		FileTTL:         getEnvDuration("FILE_TTL", 86400*time.Second),
		JanitorInterval: getEnvDuration("JANITOR_INTERVAL", 3600*time.Second),

		NavTimeout:       getEnvDuration("NAV_TIMEOUT", 45*time.Second),
		ScrollIdle:       getEnvDuration("SCROLL_IDLE", 700*time.Millisecond),
		PhaseTransition:  getEnvDuration("PHASE_TRANSITION_TIMEOUT", 15*time.Second),
		DownloadTimeout:  getEnvDuration("DOWNLOAD_TIMEOUT", 90*time.Second),
		ApptPhaseTimeout: getEnvDuration("APPT_PHASE_TIMEOUT", 60*time.Second),

		ProxyHost:            getEnvString("PROXY_HOST", ""),
		ProxyPort:            getEnvInt("PROXY_PORT", 0),
		ProxyUsername:        getEnvString("PROXY_USERNAME", ""),
		ProxyPassword:        getEnvString("PROXY_PASSWORD", ""),
		ProxyAllowPrivateIPs: getEnvBool("PROXY_ALLOW_PRIVATE_IPS", true),
		ProxyExtensionMV2:    getEnvBool("PROXY_EXTENSION_MV2", false),

		BlockHeavyResources: getEnvBool("BLOCK_HEAVY_RESOURCES", false),

		CaptchaDefaultKey:      getEnvString("CAPTCHA_DEFAULT_KEY", ""),
		CaptchaNativeAttempts:  getEnvInt("CAPTCHA_NATIVE_ATTEMPTS", 3),
		CaptchaFallbackEnabled: getEnvBool("CAPTCHA_FALLBACK_ENABLED", false),
		Captcha2CaptchaAPIKey:  getEnvString("TWOCAPTCHA_API_KEY", ""),
		CaptchaCapSolverAPIKey: getEnvString("CAPSOLVER_API_KEY", ""),
		CaptchaSolverTimeout:   getEnvDuration("CAPTCHA_SOLVER_TIMEOUT", 120*time.Second),

		LogLevel: getEnvString("LOG_LEVEL", "info"),

		RateLimitEnabled:   getEnvBool("RATE_LIMIT_ENABLED", true),
		RateLimitRPM:       getEnvInt("RATE_LIMIT_RPM", 60),
		TrustProxy:         getEnvBool("TRUST_PROXY", false),
		CORSAllowedOrigins: getEnvStringSlice("CORS_ALLOWED_ORIGINS", nil),
		APIKeyEnabled:      getEnvBool("API_KEY_ENABLED", false),
		APIKey:             getEnvString("API_KEY", ""),

		SelectorsPath:               getEnvString("SELECTORS_PATH", ""),
		SelectorsHotReload:          getEnvBool("SELECTORS_HOT_RELOAD", false),
		SelectorsRemoteURL:          getEnvString("SELECTORS_REMOTE_URL", ""),
		SelectorsRemoteInterval:     getEnvDuration("SELECTORS_REMOTE_INTERVAL", 0),
		SelectorsRemoteAllowPrivate: getEnvBool("SELECTORS_REMOTE_ALLOW_PRIVATE", false),

		PortalBaseURL:          getEnvString("PORTAL_BASE_URL", "https://portal.example.com"),
		PortalLoginPath:        getEnvString("PORTAL_LOGIN_PATH", "/login"),
		PortalContainersPath:   getEnvString("PORTAL_CONTAINERS_PATH", "/containers"),
		PortalAppointmentsPath: getEnvString("PORTAL_APPOINTMENTS_PATH", "/appointments"),
	}
}

// LoginURL joins the portal base URL with the configured login path.
func (c *Config) LoginURL() string {
	return strings.TrimRight(c.PortalBaseURL, "/") + c.PortalLoginPath
}

// ContainersURL joins the portal base URL with the configured containers path.
func (c *Config) ContainersURL() string {
	return strings.TrimRight(c.PortalBaseURL, "/") + c.PortalContainersPath
}

// AppointmentsURL joins the portal base URL with the configured appointments path.
func (c *Config) AppointmentsURL() string {
	return strings.TrimRight(c.PortalBaseURL, "/") + c.PortalAppointmentsPath
}

// HasProxy returns true if a default proxy is configured.
func (c *Config) HasProxy() bool {
	return c.ProxyHost != ""
}

// HasCaptchaFallback returns true if external CAPTCHA fallback is configured.
func (c *Config) HasCaptchaFallback() bool {
	return c.CaptchaFallbackEnabled && (c.Captcha2CaptchaAPIKey != "" || c.CaptchaCapSolverAPIKey != "")
}

// Validate checks configuration values and logs warnings for invalid values. Invalid
// values are corrected to sensible defaults rather than failing startup.
func (c *Config) Validate() {
	if c.Port < 0 || c.Port > 65535 {
		log.Warn().Int("port", c.Port).Msg("Invalid port, using default 8080")
		c.Port = 8080
	}

	if c.MaxSessions < 1 {
		log.Warn().Int("max_sessions", c.MaxSessions).Msg("Invalid MAX_SESSIONS, using 10")
		c.MaxSessions = 10
	} else if c.MaxSessions > maxMaxSessions {
		log.Warn().Int("max_sessions", c.MaxSessions).Int("max", maxMaxSessions).Msg("MAX_SESSIONS too high, capping")
		c.MaxSessions = maxMaxSessions
	}

	if c.SessionRefreshInterval < 10*time.Second {
		log.Warn().Dur("interval", c.SessionRefreshInterval).Msg("SESSION_REFRESH_INTERVAL too short, using 300s")
		c.SessionRefreshInterval = 300 * time.Second
	}

	if c.ApptTTL < time.Minute {
		log.Warn().Dur("ttl", c.ApptTTL).Msg("APPT_TTL too short, using 600s")
		c.ApptTTL = 600 * time.Second
	}

	if c.FileTTL < time.Minute {
		log.Warn().Dur("ttl", c.FileTTL).Msg("FILE_TTL too short, using 86400s")
		c.FileTTL = 86400 * time.Second
	}

	if c.JanitorInterval < time.Minute {
		log.Warn().Dur("interval", c.JanitorInterval).Msg("JANITOR_INTERVAL too short, using 3600s")
		c.JanitorInterval = 3600 * time.Second
	}

	if c.NavTimeout > maxTimeout {
		log.Warn().Dur("timeout", c.NavTimeout).Msg("NAV_TIMEOUT too long, capping")
		c.NavTimeout = maxTimeout
	}

	if c.ArtifactRoot == "" {
		log.Warn().Msg("ARTIFACT_ROOT empty, using ./data")
		c.ArtifactRoot = "./data"
	}
	if strings.Contains(c.ArtifactRoot, "..") {
		log.Error().Str("path", c.ArtifactRoot).Msg("ARTIFACT_ROOT contains path traversal sequence, ignoring override")
		c.ArtifactRoot = "./data"
	}

	if c.BrowserPath != "" && strings.Contains(c.BrowserPath, "..") {
		log.Error().Str("path", c.BrowserPath).Msg("BROWSER_PATH contains path traversal sequence, ignoring")
		c.BrowserPath = ""
	}

	if c.ProxyUsername != "" && c.ProxyPassword == "" {
		log.Warn().Msg("PROXY_USERNAME set but PROXY_PASSWORD is empty - authentication may fail")
	}
	if c.ProxyPassword != "" && c.ProxyUsername == "" {
		log.Warn().Msg("PROXY_PASSWORD set but PROXY_USERNAME is empty - authentication may fail")
	}

	if c.ProxyHost != "" {
		proxyURL := "http://" + net.JoinHostPort(c.ProxyHost, strconv.Itoa(c.ProxyPort))
		if err := security.ValidateProxyURL(proxyURL, c.ProxyAllowPrivateIPs); err != nil {
			log.Error().Str("proxy_host", c.ProxyHost).Err(err).Msg("PROXY_HOST rejected by SSRF validation, disabling proxy")
			c.ProxyHost = ""
			c.ProxyPort = 0
		}
	}

	if c.RateLimitEnabled {
		if c.RateLimitRPM < 1 {
			log.Warn().Int("rpm", c.RateLimitRPM).Msg("Invalid RATE_LIMIT_RPM, using 60")
			c.RateLimitRPM = 60
		} else if c.RateLimitRPM > maxRateLimitRPM {
			log.Warn().Int("rpm", c.RateLimitRPM).Msg("RATE_LIMIT_RPM too high, capping")
			c.RateLimitRPM = maxRateLimitRPM
		}
	}

	validLogLevels := map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "error": true, "fatal": true}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		log.Warn().Str("level", c.LogLevel).Msg("Invalid LOG_LEVEL, using 'info'")
		c.LogLevel = "info"
	}

	if len(c.CORSAllowedOrigins) == 0 {
		log.Warn().Msg("CORS_ALLOWED_ORIGINS not set - allowing all origins")
	}

	c.validateCaptchaConfig()

	if c.APIKeyEnabled {
		switch {
		case c.APIKey == "":
			log.Error().Msg("API_KEY_ENABLED is true but API_KEY is empty - authentication will always fail")
		case len(c.APIKey) < minAPIKeyLength:
			log.Error().Int("length", len(c.APIKey)).Int("min_required", minAPIKeyLength).Msg("API_KEY is too short for secure authentication")
		}
	}

	if c.SelectorsHotReload && c.SelectorsPath == "" {
		log.Warn().Msg("SELECTORS_HOT_RELOAD enabled but SELECTORS_PATH not set - hot-reload disabled")
		c.SelectorsHotReload = false
	}
}

func (c *Config) validateCaptchaConfig() {
	if c.CaptchaNativeAttempts < 1 {
		log.Warn().Int("attempts", c.CaptchaNativeAttempts).Msg("CAPTCHA_NATIVE_ATTEMPTS too low, using 1")
		c.CaptchaNativeAttempts = 1
	} else if c.CaptchaNativeAttempts > 10 {
		log.Warn().Int("attempts", c.CaptchaNativeAttempts).Msg("CAPTCHA_NATIVE_ATTEMPTS too high, capping at 10")
		c.CaptchaNativeAttempts = 10
	}

	const minSolverTimeout = 30 * time.Second
	const maxSolverTimeout = 300 * time.Second
	if c.CaptchaSolverTimeout < minSolverTimeout {
		c.CaptchaSolverTimeout = minSolverTimeout
	} else if c.CaptchaSolverTimeout > maxSolverTimeout {
		c.CaptchaSolverTimeout = maxSolverTimeout
	}

	if c.CaptchaFallbackEnabled && c.Captcha2CaptchaAPIKey == "" && c.CaptchaCapSolverAPIKey == "" {
		log.Warn().Msg("CAPTCHA_FALLBACK_ENABLED is true but no API keys configured (TWOCAPTCHA_API_KEY or CAPSOLVER_API_KEY)")
	}
}

// Helper functions for environment variable parsing.

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		intValue, err := strconv.ParseInt(value, 10, 32)
		if err == nil {
			return int(intValue)
		}
		log.Warn().Str("key", key).Str("value", value).Err(err).Int("default", defaultValue).Msg("Invalid integer in environment variable, using default")
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		boolValue, err := strconv.ParseBool(value)
		if err == nil {
			return boolValue
		}
		log.Warn().Str("key", key).Str("value", value).Err(err).Bool("default", defaultValue).Msg("Invalid boolean in environment variable, using default")
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		duration, err := time.ParseDuration(value)
		if err == nil && duration > 0 {
			return duration
		}
		log.Warn().Str("key", key).Str("value", value).Dur("default", defaultValue).Msg("Invalid duration in environment variable, using default")
	}
	return defaultValue
}

func getEnvStringSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		result := make([]string, 0, len(parts))
		for _, part := range parts {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return defaultValue
}
