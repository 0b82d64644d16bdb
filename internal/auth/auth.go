// Package auth drives the portal login form: browser startup, human-paced
// field entry, the checkbox/audio captcha branches, and post-login landing
// verification. The output is a fresh *sessionpool.BrowserSession ready to be
// inserted into the pool.
package auth

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/rs/zerolog/log"
	"github.com/ysmood/gson"

	"github.com/mohamed-ali0/truckportal-bridge/internal/browser"
	"github.com/mohamed-ali0/truckportal-bridge/internal/captcha"
	"github.com/mohamed-ali0/truckportal-bridge/internal/config"
	"github.com/mohamed-ali0/truckportal-bridge/internal/humanize"
	"github.com/mohamed-ali0/truckportal-bridge/internal/ratelimit"
	"github.com/mohamed-ali0/truckportal-bridge/internal/security"
	"github.com/mohamed-ali0/truckportal-bridge/internal/selectors"
	"github.com/mohamed-ali0/truckportal-bridge/internal/sessionpool"
	"github.com/mohamed-ali0/truckportal-bridge/internal/types"
	"github.com/mohamed-ali0/truckportal-bridge/pkg/version"
)

// invalidCredentialsMarker is the substring the post-submit check looks for;
// stuckSpinnerWait and stuckSpinnerRetries pace the captcha stuck-spinner
// retry. All three are compile-time constants, not read from configuration.
const (
	invalidCredentialsMarker = "error"
	stuckSpinnerWait         = 2 * time.Second
	stuckSpinnerRetries      = 3
)

// proxyExtension abstracts over the two manifest generations so the rest of
// the flow doesn't care which one a deployment runs.
type proxyExtension interface {
	Dir() string
	Cleanup()
}

// Authenticator owns the one proxy-credential extension generated at process
// startup (spec: "a pure function of the proxy config") and reuses it for
// every login on every session — the extension answers proxy-auth challenges
// in-process so no UI interaction is needed.
type Authenticator struct {
	cfg   *config.Config
	chain *captcha.SolverChain
	sel   func() *selectors.Selectors

	ext proxyExtension
}

// New builds an Authenticator. If cfg has no proxy configured, ext stays nil
// and sessions launch without --load-extension. PROXY_EXTENSION_MV2 selects
// the manifest-v2 bundle for deployments still on a pre-MV3 Chrome.
func New(cfg *config.Config, chain *captcha.SolverChain, sel func() *selectors.Selectors) (*Authenticator, error) {
	a := &Authenticator{cfg: cfg, chain: chain, sel: sel}

	if cfg.HasProxy() {
		var (
			ext proxyExtension
			err error
		)
		if cfg.ProxyExtensionMV2 {
			ext, err = browser.NewProxyExtensionMV2(cfg.ProxyHost, strconv.Itoa(cfg.ProxyPort), cfg.ProxyUsername, cfg.ProxyPassword)
		} else {
			ext, err = browser.NewProxyExtension(cfg.ProxyHost, strconv.Itoa(cfg.ProxyPort), cfg.ProxyUsername, cfg.ProxyPassword)
		}
		if err != nil {
			return nil, fmt.Errorf("building proxy extension: %w", err)
		}
		a.ext = ext
		if err := a.archiveExtension(); err != nil {
			log.Warn().Err(err).Msg("failed to archive proxy extension for diagnostics")
		}
	}

	return a, nil
}

// archiveExtension zips the generated extension directory to
// <artifact_root>/proxy_extension.zip, a stable diagnostic record of the
// credentials baked into the running process (spec artifact layout). This is
// not reloaded by Chrome; the live extension is always loaded from a.ext.Dir().
func (a *Authenticator) archiveExtension() error {
	if err := os.MkdirAll(a.cfg.ArtifactRoot, 0o755); err != nil {
		return err
	}
	dst := filepath.Join(a.cfg.ArtifactRoot, "proxy_extension.zip")
	f, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	defer zw.Close()

	return filepath.Walk(a.ext.Dir(), func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return err
		}
		rel, err := filepath.Rel(a.ext.Dir(), path)
		if err != nil {
			return err
		}
		w, err := zw.Create(rel)
		if err != nil {
			return err
		}
		src, err := os.Open(path)
		if err != nil {
			return err
		}
		defer src.Close()
		_, err = io.Copy(w, src)
		return err
	})
}

// Close releases the process-lifetime proxy extension. Called on server
// shutdown only.
func (a *Authenticator) Close() {
	if a.ext != nil {
		a.ext.Cleanup()
	}
}

// VerifyStillLoggedIn is the background refresher's keep-alive probe (spec
// §4.1): navigate to a stable authenticated page and check the landing URL
// doesn't show the invalid-credentials marker, reusing submitAndVerify's
// check rather than a fresh login. A rate-limit or access-denied page (as
// opposed to a session-expired one) is reported as still logged in rather
// than evicted, since the portal is throttling, not rejecting the session.
func (a *Authenticator) VerifyStillLoggedIn(ctx context.Context, s *sessionpool.BrowserSession) bool {
	if s.Page == nil {
		return false
	}
	waitCtx, cancel := context.WithTimeout(ctx, a.cfg.NavTimeout)
	defer cancel()

	if err := s.Page.Context(waitCtx).Navigate(a.cfg.ContainersURL()); err != nil {
		return false
	}
	if err := s.Page.Context(waitCtx).WaitLoad(); err != nil {
		return false
	}

	if info := detectPortalThrottle(waitCtx, s.Page); info.Detected {
		switch info.Category {
		case ratelimit.CategoryRateLimit, ratelimit.CategoryAccessDenied:
			backoff := ratelimit.AdjustDelay(info.SuggestedDelay, 1000, 60000)
			log.Warn().Str("session_id", s.ID).Str("error_code", info.ErrorCode).
				Int("backoff_ms", backoff).Msg("refresh probe throttled, keeping session")
			return true
		case ratelimit.CategorySessionExpired:
			return false
		}
	}

	href, err := evalJSON(s.Page.Context(waitCtx), `() => window.location.href`)
	if err != nil {
		return false
	}
	return !containsAny(href.Str(), invalidCredentialsMarker)
}

// detectPortalThrottle reads the page body text and runs it through the
// rate-limit/access-denied/session-expiry pattern detector. Eval failures are
// reported as "nothing detected" rather than propagated, since this is only
// ever used to refine a probe result, not to fail one.
func detectPortalThrottle(ctx context.Context, page *rod.Page) ratelimit.Info {
	body, err := evalJSON(page.Context(ctx), `() => document.body ? document.body.innerText : ""`)
	if err != nil {
		return ratelimit.Info{}
	}
	return ratelimit.Detect(0, body.Str())
}

// Login runs the full procedure: driver startup, navigation, human-paced
// field entry, captcha solving, submission, and landing verification. The
// returned BrowserSession has ID, Browser, Page, CreatedAt, DownloadDir, and
// ScreenshotDir populated; sessionpool.Pool.Acquire fills in the rest
// (CredentialsHash, Username, profileDir, KeepAlive).
func (a *Authenticator) Login(ctx context.Context, creds types.Credentials, profileDir string) (*sessionpool.BrowserSession, error) {
	sessionID, err := security.GenerateSessionID()
	if err != nil {
		return nil, fmt.Errorf("generating session id: %w", err)
	}

	downloadDir, screenshotDir, err := sessionpool.DirsFor(a.cfg.ArtifactRoot, sessionID)
	if err != nil {
		return nil, fmt.Errorf("preparing session directories: %w", err)
	}

	var proxyServer, extDir string
	if a.cfg.HasProxy() {
		proxyServer = a.cfg.ProxyHost + ":" + strconv.Itoa(a.cfg.ProxyPort)
		if a.ext != nil {
			extDir = a.ext.Dir()
		}
	}

	launchCtx, cancel := context.WithTimeout(ctx, a.cfg.NavTimeout)
	defer cancel()

	b, err := browser.Spawn(launchCtx, a.cfg, proxyServer, extDir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrDriverStartup, err)
	}
	if !browser.IsHealthy(b, launchCtx) {
		b.Close()
		return nil, fmt.Errorf("%w: browser unresponsive after launch", types.ErrDriverStartup)
	}

	page, err := stealth.Page(b)
	if err != nil {
		b.Close()
		return nil, fmt.Errorf("%w: stealth page creation failed: %v", types.ErrDriverStartup, err)
	}
	if err := browser.ApplyStealthToPage(page); err != nil {
		b.Close()
		return nil, fmt.Errorf("%w: %v", types.ErrDriverStartup, err)
	}
	if err := browser.SetUserAgent(page, version.UserAgent); err != nil {
		log.Debug().Err(err).Msg("user agent override skipped")
	}
	if err := browser.SetViewport(page, 1920, 1080); err != nil {
		log.Debug().Err(err).Msg("viewport override skipped")
	}
	var blockCleanup func()
	if a.cfg.BlockHeavyResources {
		blockCleanup, err = browser.BlockResources(ctx, page, true, false, true, true)
		if err != nil {
			log.Warn().Err(err).Msg("resource blocking unavailable, continuing without it")
			blockCleanup = nil
		}
	}
	suppressDialogs(page)

	sel := a.sel()

	if err := a.navigateToLogin(ctx, page); err != nil {
		b.Close()
		return nil, err
	}

	if err := a.fillCredentials(ctx, page, sel, creds); err != nil {
		b.Close()
		return nil, err
	}

	if err := a.solveCaptcha(ctx, page, sel); err != nil {
		snapshotFailure(page, screenshotDir, "captcha_failed")
		b.Close()
		return nil, err
	}

	if err := a.submitAndVerify(ctx, page, sel); err != nil {
		snapshotFailure(page, screenshotDir, "login_failed")
		b.Close()
		return nil, err
	}

	dismissPostLoginPopups(page)

	return &sessionpool.BrowserSession{
		ID:            sessionID,
		Browser:       b,
		Page:          page,
		CreatedAt:     time.Now(),
		DownloadDir:   downloadDir,
		ScreenshotDir: screenshotDir,
		OnDestroy:     blockCleanup,
	}, nil
}

func (a *Authenticator) navigateToLogin(ctx context.Context, page *rod.Page) error {
	navCtx, cancel := context.WithTimeout(ctx, a.cfg.NavTimeout)
	defer cancel()
	if err := page.Context(navCtx).Navigate(a.cfg.LoginURL()); err != nil {
		return fmt.Errorf("%w: %v", types.ErrNavTimeout, err)
	}
	if err := page.Context(navCtx).WaitLoad(); err != nil {
		return fmt.Errorf("%w: %v", types.ErrNavTimeout, err)
	}
	return nil
}

// fillCredentials types into the login fields with per-keystroke jitter and a
// short pause between fields, per the human-paced-input requirement.
func (a *Authenticator) fillCredentials(ctx context.Context, page *rod.Page, sel *selectors.Selectors, creds types.Credentials) error {
	userEl, err := page.Context(ctx).Timeout(a.cfg.NavTimeout).Element(sel.LoginUsernameInput)
	if err != nil {
		return fmt.Errorf("%w: username field %s", types.ErrElementNotFound, sel.LoginUsernameInput)
	}
	if err := typeHumanLike(ctx, userEl, creds.Username); err != nil {
		return err
	}

	humanize.RandomWait(ctx, 200, 500)

	passEl, err := page.Context(ctx).Timeout(a.cfg.NavTimeout).Element(sel.LoginPasswordInput)
	if err != nil {
		return fmt.Errorf("%w: password field %s", types.ErrElementNotFound, sel.LoginPasswordInput)
	}
	return typeHumanLike(ctx, passEl, creds.Password)
}

func (a *Authenticator) submitAndVerify(ctx context.Context, page *rod.Page, sel *selectors.Selectors) error {
	submitEl, err := page.Context(ctx).Timeout(a.cfg.NavTimeout).Element(sel.LoginSubmitButton)
	if err != nil {
		return fmt.Errorf("%w: submit button %s", types.ErrElementNotFound, sel.LoginSubmitButton)
	}
	if err := submitEl.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("%w: clicking submit: %v", types.ErrElementNotFound, err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, a.cfg.NavTimeout)
	defer cancel()
	if err := page.Context(waitCtx).WaitLoad(); err != nil {
		return fmt.Errorf("%w: waiting for post-login navigation: %v", types.ErrLoginTimeout, err)
	}

	href, err := evalJSON(page.Context(waitCtx), `() => window.location.href`)
	if err != nil {
		return fmt.Errorf("%w: %v", types.ErrLoginTimeout, err)
	}
	if containsAny(href.Str(), invalidCredentialsMarker) {
		return types.ErrInvalidCredentials
	}
	return nil
}

// snapshotFailure best-effort captures the page for post-mortem before the
// browser is torn down; the file lands in the session's screenshots dir
// where the DebugBundler and /files handler can reach it.
func snapshotFailure(page *rod.Page, dir, tag string) {
	if name, err := browser.CapturePage(page, dir, tag); err != nil {
		log.Debug().Err(err).Str("tag", tag).Msg("failure screenshot skipped")
	} else {
		log.Info().Str("screenshot", name).Str("tag", tag).Msg("captured failure screenshot")
	}
}

func containsAny(haystack string, needles ...string) bool {
	lower := strings.ToLower(haystack)
	for _, n := range needles {
		if n != "" && strings.Contains(lower, strings.ToLower(n)) {
			return true
		}
	}
	return false
}

// suppressDialogs auto-dismisses JS alert/confirm/prompt dialogs for the life
// of the page, so a surprise popup never blocks the automation. Runs until
// the page closes and EachEvent's underlying event stream ends.
func suppressDialogs(page *rod.Page) {
	go page.EachEvent(func(e *proto.PageJavascriptDialogOpening) {
		_ = proto.PageHandleJavaScriptDialog{Accept: false}.Call(page)
	})()
}

// dismissPostLoginPopups best-effort closes password-manager-offer and
// notification-permission popups that browsers inject as native UI outside
// the page's own DOM; failures are logged, never fatal, since most logins
// never show one.
func dismissPostLoginPopups(page *rod.Page) {
	_, err := page.Eval(`() => {
		const sel = ['[aria-label="Never"]', '[aria-label="No thanks"]', '.notification-dismiss'];
		for (const s of sel) {
			const el = document.querySelector(s);
			if (el) el.click();
		}
	}`)
	if err != nil {
		log.Debug().Err(err).Msg("post-login popup dismissal had no effect")
	}
}

// evalJSON pulls a page.Eval result through gson so callers read typed
// fields off it without repeating the result-value cast.
func evalJSON(page *rod.Page, js string) (gson.JSON, error) {
	res, err := page.Eval(js)
	if err != nil {
		return gson.JSON{}, err
	}
	return res.Value, nil
}
