// Package browser provides anti-detection browser process management. Each
// BrowserSession in the session pool owns exactly one browser launched through
// NewLauncher/Spawn — there is no shared pool of anonymous instances to check
// in and out of.
package browser

import (
	"context"
	"fmt"
	"runtime"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/rs/zerolog/log"

	"github.com/mohamed-ali0/truckportal-bridge/internal/config"
	"github.com/mohamed-ali0/truckportal-bridge/internal/security"
)

// NewLauncher builds a configured Rod launcher with anti-detection flags tuned
// for a bot-gated portal. proxyServer sets --proxy-server (empty = no
// proxy). extensionDir, if non-empty, loads an unpacked extension directory —
// used to carry an authenticated-proxy extension, since Chrome has no
// command-line way to supply proxy credentials.
func NewLauncher(cfg *config.Config, proxyServer, extensionDir string) *launcher.Launcher {
	l := launcher.New()

	if cfg.BrowserPath != "" {
		l = l.Bin(cfg.BrowserPath)
	}

	// HEADLESS=false runs under Xvfb: a real headed browser, full GPU/WebGL
	// pipeline, nothing reading "HeadlessChrome" anywhere. HEADLESS=true uses
	// --headless=new for environments without a virtual display.
	if cfg.Headless {
		l = l.Set("headless", "new")
	} else {
		l = l.Headless(false)
	}

	l = l.Set("no-sandbox").
		Set("disable-setuid-sandbox").
		Set("disable-dev-shm-usage")

	if proxyServer != "" {
		l = l.Set("proxy-server", proxyServer)
		log.Debug().Str("proxy", security.RedactProxyURL(proxyServer)).Msg("browser proxy configured")
	}

	if extensionDir != "" {
		l = l.Set("load-extension", extensionDir)
		l = l.Set("disable-extensions-except", extensionDir)
	}

	// WebRTC can leak the real egress IP via ICE candidates even when a proxy
	// is set for HTTP traffic, so this is unconditional.
	l = l.Set("force-webrtc-ip-handling-policy", "disable_non_proxied_udp")

	// navigator.webdriver === true is the single most common headless tell.
	l = l.Set("disable-blink-features", "AutomationControlled")
	l = l.Delete("enable-automation")
	l = l.Set("disable-features", "Translate,TranslateUI,BlinkGenPropertyTrees,WebRtcHideLocalIpsWithMdns")
	l = l.Set("enable-features", "NetworkService,NetworkServiceInProcess")

	// SwiftShader gives WebGL a real (software) fingerprint instead of the
	// null/empty values a GPU-less headless Chrome returns by default.
	l = l.Set("use-gl", "swiftshader").
		Set("use-angle", "swiftshader").
		Set("enable-unsafe-swiftshader").
		Set("enable-webgl").
		Set("enable-webgl2")

	l = l.Set("accept-lang", "en-US,en;q=0.9")
	l = l.Set("no-first-run").
		Set("no-default-browser-check").
		Set("disable-infobars").
		Set("disable-search-engine-choice-screen")
	l = l.Set("window-size", "1920,1080")

	l = l.Set("disable-background-networking").
		Set("disable-default-apps").
		Set("disable-sync").
		Set("mute-audio").
		Set("no-zygote").
		Set("safebrowsing-disable-auto-update")

	l = l.Set("js-flags", "--max-old-space-size=256").
		Set("disable-ipc-flooding-protection").
		Set("disable-renderer-backgrounding")

	l = l.Set("disable-gpu-sandbox")

	if isARM() {
		// --disable-gpu breaks SwiftShader WebGL on ARM; compositing is the
		// piece that still needs a software fallback there.
		l = l.Set("disable-gpu-compositing")
	}

	return l
}

// Spawn launches and connects to a fresh browser process. Each BrowserSession
// calls this exactly once at creation; there is no return-to-pool step, since
// a session owns its browser for its full lifetime.
func Spawn(ctx context.Context, cfg *config.Config, proxyServer, extensionDir string) (*rod.Browser, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	l := NewLauncher(cfg, proxyServer, extensionDir)
	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("connect to browser: %w", err)
	}

	log.Debug().Str("control_url", controlURL).Msg("browser spawned")
	return browser, nil
}

// IsHealthy runs a cheap liveness probe against a browser: create a page,
// navigate it to about:blank, close it. Login runs it right after Spawn, on
// a throwaway page rather than a session's live page.
func IsHealthy(browser *rod.Browser, timeout context.Context) bool {
	page, err := browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return false
	}
	defer page.Close()

	if err := page.Context(timeout).Navigate("about:blank"); err != nil {
		return false
	}
	return true
}

func isARM() bool {
	arch := runtime.GOARCH
	return arch == "arm" || arch == "arm64"
}
