// Package main provides the entry point for the trucking-portal bridge
// service: it wires the session pool, engines, artifact store and janitor
// into a Server and serves the HTTP surface described in spec §6.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mohamed-ali0/truckportal-bridge/internal/appointment"
	"github.com/mohamed-ali0/truckportal-bridge/internal/artifact"
	"github.com/mohamed-ali0/truckportal-bridge/internal/auth"
	"github.com/mohamed-ali0/truckportal-bridge/internal/captcha"
	"github.com/mohamed-ali0/truckportal-bridge/internal/config"
	"github.com/mohamed-ali0/truckportal-bridge/internal/detail"
	"github.com/mohamed-ali0/truckportal-bridge/internal/handlers"
	"github.com/mohamed-ali0/truckportal-bridge/internal/listing"
	"github.com/mohamed-ali0/truckportal-bridge/internal/metrics"
	"github.com/mohamed-ali0/truckportal-bridge/internal/middleware"
	"github.com/mohamed-ali0/truckportal-bridge/internal/selectors"
	"github.com/mohamed-ali0/truckportal-bridge/internal/sessionpool"
	"github.com/mohamed-ali0/truckportal-bridge/pkg/version"
)

func main() {
	// Handle --version flag early, before any initialization
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("truckportal-bridge %s\n", version.Full())
		return
	}

	// Load configuration
	cfg := config.Load()

	// Setup logging first so validation warnings are visible
	setupLogging(cfg.LogLevel)

	// Validate configuration bounds
	cfg.Validate()

	// Print banner
	printBanner()

	selMgr, err := selectors.NewManagerWithRemote(
		cfg.SelectorsPath, cfg.SelectorsHotReload,
		cfg.SelectorsRemoteURL, cfg.SelectorsRemoteInterval, cfg.SelectorsRemoteAllowPrivate,
	)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize selectors manager")
	}
	defer selMgr.Close()

	chain := captcha.NewSolverChain(captcha.SolverChainConfig{
		NativeAttempts:  cfg.CaptchaNativeAttempts,
		Providers:       buildCaptchaProviders(cfg),
		Metrics:         captcha.NewMetrics(),
		FallbackEnabled: cfg.HasCaptchaFallback(),
	})

	log.Info().Msg("Initializing auth flow...")
	authFlow, err := auth.New(cfg, chain, selMgr.Get)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize auth flow")
	}
	defer authFlow.Close()

	// Initialize session pool and start its background keep-alive refresher
	// (spec §4.1): refreshing never re-authenticates, only re-verifies.
	pool := sessionpool.New(cfg)
	pool.StartRefresher(authFlow.VerifyStillLoggedIn)
	defer pool.Stop()

	listingEngine := listing.New(cfg, selMgr.Get)
	detailEngine := detail.New(cfg, selMgr.Get, listingEngine)
	apptStore := appointment.NewStore(cfg.ApptTTL)
	apptFSM := appointment.New(cfg, selMgr.Get, apptStore)

	artifacts, err := artifact.New(cfg.ArtifactRoot)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize artifact store")
	}
	janitor := artifact.NewJanitor(artifacts, cfg.FileTTL, cfg.JanitorInterval)
	janitor.Start()
	defer janitor.Stop()

	metrics.SetBuildInfo(version.Full(), version.GoVersion())
	memStop := make(chan struct{})
	metrics.StartMemoryCollector(30*time.Second, memStop)
	defer close(memStop)

	srv := handlers.New(cfg, pool, authFlow, listingEngine, detailEngine, apptFSM, artifacts, janitor)
	mux := handlers.NewRouter(srv)

	// Build the middleware chain: recovery outermost, then logging, rate
	// limiting, API key auth, security headers, CORS, and finally a request
	// deadline sized so a slow export download still completes inside it.
	mwChain := []func(http.Handler) http.Handler{
		middleware.Recovery,
		middleware.Logging,
	}

	var rateLimiter *middleware.RateLimiterMiddleware
	if cfg.RateLimitEnabled {
		log.Info().
			Int("requests_per_minute", cfg.RateLimitRPM).
			Bool("trust_proxy", cfg.TrustProxy).
			Msg("Rate limiting enabled")
		rateLimiter = middleware.NewRateLimitMiddleware(cfg.RateLimitRPM, cfg.TrustProxy)
		mwChain = append(mwChain, rateLimiter.Handler())
	}

	if cfg.APIKeyEnabled {
		log.Info().Msg("API key authentication enabled")
		mwChain = append(mwChain, middleware.APIKey(cfg))
	}

	mwChain = append(mwChain,
		middleware.SecurityHeaders,
		middleware.CORS(middleware.CORSConfig{
			AllowedOrigins: cfg.CORSAllowedOrigins,
		}),
		middleware.Timeout(cfg.NavTimeout+cfg.DownloadTimeout+30*time.Second),
	)

	finalHandler := middleware.Chain(mwChain...)(mux)

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           finalHandler,
		ReadTimeout:       cfg.DownloadTimeout + 10*time.Second,
		WriteTimeout:      cfg.DownloadTimeout + 10*time.Second,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 10 * time.Second, // Prevent slowloris attacks
	}

	go func() {
		log.Info().
			Str("address", addr).
			Int("max_sessions", cfg.MaxSessions).
			Bool("rate_limit_enabled", cfg.RateLimitEnabled).
			Msg("truckportal-bridge is ready to accept requests")

		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	signal.Stop(quit)

	log.Info().Msg("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpSrv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server shutdown error")
	}
	if rateLimiter != nil {
		rateLimiter.Close()
	}
	if err := pool.CloseAll(ctx); err != nil {
		log.Error().Err(err).Msg("session pool close error")
	}

	log.Info().Msg("Shutdown complete")
}

// buildCaptchaProviders wires the external captcha fallback providers
// (spec §4.2 step 4b) in priority order, skipping any without an API key.
func buildCaptchaProviders(cfg *config.Config) []captcha.CaptchaSolver {
	var providers []captcha.CaptchaSolver
	if cfg.CaptchaCapSolverAPIKey != "" {
		providers = append(providers, captcha.NewCapSolverSolver(captcha.CapSolverConfig{
			APIKey:  cfg.CaptchaCapSolverAPIKey,
			Timeout: cfg.CaptchaSolverTimeout,
		}))
	}
	if cfg.Captcha2CaptchaAPIKey != "" {
		providers = append(providers, captcha.NewTwoCaptchaSolver(captcha.TwoCaptchaConfig{
			APIKey:  cfg.Captcha2CaptchaAPIKey,
			Timeout: cfg.CaptchaSolverTimeout,
		}))
	}
	return providers
}

// setupLogging configures zerolog based on the log level.
func setupLogging(level string) {
	log.Logger = log.Output(zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	})

	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

// printBanner prints the startup banner.
func printBanner() {
	banner := `
 _____                _      ____           _        _
|_   _| __ _   _  ___| | __ |  _ \ ___  _ __| |_ __ _| |
  | || '__| | | |/ __| |/ / | |_) / _ \| '__| __/ _' | |
  | || |  | |_| | (__|   <  |  __/ (_) | |  | || (_| | |
  |_||_|   \__,_|\___|_|\_\ |_|   \___/|_|   \__\__,_|_|
                                              Bridge
`
	fmt.Println(banner)
	log.Info().
		Str("version", version.Full()).
		Str("go_version", version.GoVersion()).
		Msg("Starting truckportal-bridge")
}
