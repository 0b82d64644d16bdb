// Package captcha provides external CAPTCHA solver integration for the
// portal login page's audio-challenge fallback (spec §4.2 step 4). Only the
// audio path is solved externally; the visual image-grid challenge is never
// attempted (spec §4.2, §9 Open Questions) and surfaces as CAPTCHA_FAILED.
package captcha

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mohamed-ali0/truckportal-bridge/internal/types"
)

// CaptchaSolver defines the interface for external CAPTCHA solving providers.
type CaptchaSolver interface {
	// Name returns the provider name (e.g., "2captcha", "capsolver").
	Name() string

	// SolveAudio submits an audio challenge URL and returns the provider's
	// transcription of the spoken characters.
	SolveAudio(ctx context.Context, req *AudioRequest) (*AudioResult, error)

	// Balance retrieves the current account balance from the provider.
	Balance(ctx context.Context) (float64, error)

	// IsConfigured returns true if the provider has valid API credentials.
	IsConfigured() bool
}

// AudioRequest contains the parameters needed to solve an audio challenge.
type AudioRequest struct {
	AudioURL string // Direct URL to the audio challenge asset
	Language string // BCP-47 language hint, e.g. "en"
}

// AudioResult contains the transcription returned by a CAPTCHA solver.
type AudioResult struct {
	Text      string        // The transcribed answer to type into the challenge input
	SolveTime time.Duration // How long the solve took
	Cost      float64       // Cost in USD for this solve
	Provider  string        // Which provider solved it
}

// SolverChain orchestrates native and external CAPTCHA solving. The "native"
// path is AuthFlow's own checkbox click (spec §4.2 step 4a); this chain is
// only consulted once that path reports the audio-challenge affordance.
type SolverChain struct {
	nativeAttempts int             // Number of native checkbox attempts before the audio fallback
	providers      []CaptchaSolver // External solver providers in order of preference
	metrics        *Metrics        // Usage metrics tracking
	enabled        bool            // Whether external fallback is enabled
}

// SolverChainConfig contains configuration for the SolverChain.
type SolverChainConfig struct {
	NativeAttempts  int             // Native attempts before fallback (default: 3)
	Providers       []CaptchaSolver // External providers in priority order
	Metrics         *Metrics        // Metrics tracker (optional)
	FallbackEnabled bool            // Whether external fallback is enabled
}

// NewSolverChain creates a new SolverChain with the given configuration.
func NewSolverChain(cfg SolverChainConfig) *SolverChain {
	nativeAttempts := cfg.NativeAttempts
	if nativeAttempts < 1 {
		nativeAttempts = 3
	}
	if nativeAttempts > 10 {
		nativeAttempts = 10
	}

	return &SolverChain{
		nativeAttempts: nativeAttempts,
		providers:      cfg.Providers,
		metrics:        cfg.Metrics,
		enabled:        cfg.FallbackEnabled,
	}
}

// ShouldFallback returns true if native solving has been exhausted
// and external solving should be attempted.
func (c *SolverChain) ShouldFallback(attempts int) bool {
	if !c.enabled {
		return false
	}
	return attempts >= c.nativeAttempts
}

// IsEnabled returns true if external CAPTCHA solving is enabled.
func (c *SolverChain) IsEnabled() bool {
	return c.enabled
}

// NativeAttempts returns the configured number of native attempts.
func (c *SolverChain) NativeAttempts() int {
	return c.nativeAttempts
}

// HasProviders returns true if at least one provider is configured.
func (c *SolverChain) HasProviders() bool {
	for _, p := range c.providers {
		if p.IsConfigured() {
			return true
		}
	}
	return false
}

// SolveResult contains the outcome of an audio CAPTCHA solve attempt.
type SolveResult struct {
	Text      string        // The transcribed answer
	Provider  string        // Which provider solved it
	SolveTime time.Duration // How long the solve took
	Cost      float64       // Cost in USD
}

// Solve submits the audio challenge URL to each configured provider in order
// until one returns a transcription. Captcha failures never retry
// automatically once every provider has been tried (spec §7 propagation
// policy: captcha failures cost money and are not retried).
func (c *SolverChain) Solve(ctx context.Context, audioURL, language string) (*SolveResult, error) {
	if !c.enabled {
		return nil, fmt.Errorf("external CAPTCHA solving is not enabled")
	}

	startTime := time.Now()
	req := &AudioRequest{AudioURL: audioURL, Language: language}

	var lastErr error
	for _, provider := range c.providers {
		if !provider.IsConfigured() {
			continue
		}

		providerStart := time.Now()
		result, err := provider.SolveAudio(ctx, req)
		providerDuration := time.Since(providerStart)

		if err != nil {
			log.Warn().
				Err(err).
				Str("provider", provider.Name()).
				Dur("duration", providerDuration).
				Msg("audio solver failed, trying next provider")
			lastErr = err
			if c.metrics != nil {
				c.metrics.RecordAttempt(provider.Name(), false, 0, providerDuration)
			}
			continue
		}

		log.Info().
			Str("provider", provider.Name()).
			Dur("solve_time", result.SolveTime).
			Float64("cost", result.Cost).
			Msg("audio solver succeeded")

		if c.metrics != nil {
			c.metrics.RecordAttempt(provider.Name(), true, result.Cost, result.SolveTime)
		}

		return &SolveResult{
			Text:      result.Text,
			Provider:  provider.Name(),
			SolveTime: time.Since(startTime),
			Cost:      result.Cost,
		}, nil
	}

	if lastErr != nil {
		return nil, fmt.Errorf("all audio solver providers failed, last error: %w", lastErr)
	}

	return nil, types.ErrCaptchaNoProviders
}

// GetMetrics returns the current metrics for all providers.
func (c *SolverChain) GetMetrics() map[string]interface{} {
	if c.metrics == nil {
		return nil
	}
	return c.metrics.ToJSON()
}
