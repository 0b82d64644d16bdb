// Package ratelimit detects rate-limiting, session-expiry, and access-denied
// signals in responses returned by the portal, so the caller can back off or
// force a re-login instead of misinterpreting an empty page as "no data".
package ratelimit

import (
	"regexp"
)

// maxBodyLenForRegex limits the body size for regex matching to prevent ReDoS attacks.
// 100KB is sufficient for detecting these messages while preventing abuse.
const maxBodyLenForRegex = 100 * 1024

// ErrorCategory represents the broad category of a detected error.
type ErrorCategory string

// Error categories.
const (
	CategoryRateLimit      ErrorCategory = "rate_limit"
	CategoryAccessDenied   ErrorCategory = "access_denied"
	CategoryCaptcha        ErrorCategory = "captcha"
	CategorySessionExpired ErrorCategory = "session_expired"
)

// ErrorPattern defines a detection pattern and its metadata.
type ErrorPattern struct {
	Pattern     *regexp.Regexp
	ErrorCode   string
	Category    ErrorCategory
	BaseDelayMs int
	Description string
}

// Info contains detected rate limit information.
type Info struct {
	Detected       bool
	ErrorCode      string
	Category       ErrorCategory
	SuggestedDelay int
	Description    string
}

// patterns contains all detection patterns, ordered by specificity.
// Patterns use [^<]{0,N} instead of .{0,N} to prevent backtracking on HTML content
// and reduce ReDoS vulnerability while still matching across element boundaries.
var patterns = []ErrorPattern{
	{
		Pattern:     regexp.MustCompile(`(?i)session[^<]{0,15}(expired|timed\s{0,3}out|has\s{0,3}ended)`),
		ErrorCode:   "SESSION_EXPIRED",
		Category:    CategorySessionExpired,
		BaseDelayMs: 0,
		Description: "Portal session expired, re-login required",
	},
	{
		Pattern:     regexp.MustCompile(`(?i)(please\s{1,5}log[^<]{0,5}in\s{1,5}again|your\s{1,5}session\s{1,5}is\s{1,5}no\s{1,5}longer\s{1,5}valid)`),
		ErrorCode:   "SESSION_EXPIRED",
		Category:    CategorySessionExpired,
		BaseDelayMs: 0,
		Description: "Portal session expired, re-login required",
	},
	{
		Pattern:     regexp.MustCompile(`(?i)access\s{1,5}denied`),
		ErrorCode:   "ACCESS_DENIED",
		Category:    CategoryAccessDenied,
		BaseDelayMs: 5000,
		Description: "Generic access denied",
	},
	{
		Pattern:     regexp.MustCompile(`(?i)rate\s{0,3}limit`),
		ErrorCode:   "RATE_LIMITED",
		Category:    CategoryRateLimit,
		BaseDelayMs: 10000,
		Description: "Generic rate limit",
	},
	{
		Pattern:     regexp.MustCompile(`(?i)too\s{1,5}many\s{1,5}requests`),
		ErrorCode:   "TOO_MANY_REQUESTS",
		Category:    CategoryRateLimit,
		BaseDelayMs: 10000,
		Description: "Too many requests",
	},
	{
		Pattern:     regexp.MustCompile(`(?i)you\s{1,5}(have\s{1,5}been\s{1,5})?blocked`),
		ErrorCode:   "BLOCKED",
		Category:    CategoryAccessDenied,
		BaseDelayMs: 15000,
		Description: "Request blocked",
	},
	{
		Pattern:     regexp.MustCompile(`(?i)(captcha|recaptcha|verify\s{1,5}you[^<]{0,5}re\s{1,5}human)`),
		ErrorCode:   "CAPTCHA_REQUIRED",
		Category:    CategoryCaptcha,
		BaseDelayMs: 0,
		Description: "CAPTCHA or human-verification challenge required",
	},
}

// Detect analyzes HTTP status code and response body for rate limiting,
// session-expiry, or access-denied indicators. It returns a suggested delay
// before retrying. Body is truncated to maxBodyLenForRegex to prevent ReDoS
// attacks with large inputs.
func Detect(statusCode int, body string) Info {
	info := Info{}

	if len(body) > maxBodyLenForRegex {
		body = body[:maxBodyLenForRegex]
	}

	switch statusCode {
	case 429:
		info = Info{
			Detected:       true,
			ErrorCode:      "HTTP_429",
			Category:       CategoryRateLimit,
			SuggestedDelay: 60000,
			Description:    "HTTP 429 Too Many Requests",
		}
	case 503:
		info = Info{
			Detected:       true,
			ErrorCode:      "HTTP_503",
			Category:       CategoryRateLimit,
			SuggestedDelay: 30000,
			Description:    "HTTP 503 Service Unavailable",
		}
	}

	// Body patterns may override HTTP status detection with more specific info.
	for _, pattern := range patterns {
		if pattern.Pattern.MatchString(body) {
			info = Info{
				Detected:       true,
				ErrorCode:      pattern.ErrorCode,
				Category:       pattern.Category,
				SuggestedDelay: pattern.BaseDelayMs,
				Description:    pattern.Description,
			}
			break
		}
	}

	return info
}

// AdjustDelay clamps a suggested delay to the caller's configured bounds.
func AdjustDelay(baseDelay, minDelay, maxDelay int) int {
	if baseDelay < minDelay {
		return minDelay
	}
	if baseDelay > maxDelay {
		return maxDelay
	}
	return baseDelay
}
