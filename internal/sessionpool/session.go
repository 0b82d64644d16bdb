// Package sessionpool manages the pool of long-lived browser sessions that
// back every portal operation. Unlike a classic connection pool, a
// BrowserSession is not returned and reused by unrelated callers once
// checked out — it is bound to one credentials identity for its entire
// life, keeping cookies and login state intact across requests. Capacity is
// enforced by evicting the least-recently-used idle session, not by
// recycling anonymous browser instances.
package sessionpool

import (
	"container/list"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-rod/rod"
	"github.com/rs/zerolog/log"

	"github.com/mohamed-ali0/truckportal-bridge/internal/browser"
	"github.com/mohamed-ali0/truckportal-bridge/internal/types"
)

// maxPageReferences bounds AcquirePage concurrency per session as a guard
// against runaway callers, not an expected operating condition.
const maxPageReferences = 100

// BrowserSession is one named, reference-counted browser + page pair. Lock
// ordering mirrors the teacher pattern this is adapted from: OpMu (coarse,
// serializes engine operations) must be acquired before mu (fine, guards
// Page access) whenever both are needed.
type BrowserSession struct {
	ID              string
	Username        string
	CredentialsHash string
	Browser         *rod.Browser
	Page            *rod.Page
	CreatedAt       time.Time
	KeepAlive       bool // true once AuthFlow has completed a login on this session

	DownloadDir   string
	ScreenshotDir string

	// OnDestroy, when set, runs before the browser is closed — used to tear
	// down page-scoped CDP listeners (e.g. resource-block interception).
	OnDestroy func()

	lastUsed      atomic.Int64
	lastRefreshed atomic.Int64
	refCount      atomic.Int32
	closing       atomic.Bool
	inUse         atomic.Bool

	mu   sync.Mutex
	OpMu sync.Mutex

	profileDir string
	lruElem    *list.Element // owned by Pool, guarded by Pool.mu
}

// Touch refreshes the last-used timestamp, used both by explicit Acquire
// calls and by any read that should count as activity for LRU purposes.
func (s *BrowserSession) Touch() {
	s.lastUsed.Store(time.Now().UnixNano())
}

// LastUsedTime returns the last recorded activity time.
func (s *BrowserSession) LastUsedTime() time.Time {
	return time.Unix(0, s.lastUsed.Load())
}

// touchRefreshed records a successful keep-alive refresh (spec §4.1).
func (s *BrowserSession) touchRefreshed() {
	s.lastRefreshed.Store(time.Now().UnixNano())
}

func (s *BrowserSession) lastRefreshedTime() time.Time {
	return time.Unix(0, s.lastRefreshed.Load())
}

// InUse reports the pool-level advisory flag set by Acquire/Release — a
// session in use is skipped by both LRU eviction and the background
// refresher. Distinct from the page reference count used by
// AcquirePage/ReleasePage, which only guards concurrent access to the
// underlying *rod.Page within a single "in use" window.
func (s *BrowserSession) InUse() bool {
	return s.inUse.Load()
}

// SetInUse sets the pool-level advisory flag; called by Pool.Acquire/Release.
func (s *BrowserSession) SetInUse(v bool) {
	s.inUse.Store(v)
}

// destroy releases the browser, its profile directory, and marks the session
// closing so no further AcquirePage calls succeed. Does not touch disk
// artifacts under DownloadDir/ScreenshotDir — those persist until the
// Janitor reaps them.
func (s *BrowserSession) destroy() {
	s.closing.Store(true)
	s.waitForReferences(5 * time.Second)
	if s.OnDestroy != nil {
		s.OnDestroy()
	}
	if s.Browser != nil {
		if err := s.Browser.Close(); err != nil {
			log.Debug().Err(err).Str("session_id", s.ID).Msg("error closing browser")
		}
	}
	if s.profileDir != "" {
		os.RemoveAll(s.profileDir)
	}
}

// AcquirePage returns the session's page with reference counting, or nil if
// the session is closing, has no page, or is at the reference-count ceiling.
func (s *BrowserSession) AcquirePage() *rod.Page {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closing.Load() || s.Page == nil {
		return nil
	}
	if s.refCount.Load() >= maxPageReferences {
		return nil
	}
	s.refCount.Add(1)
	return s.Page
}

// AcquirePageWithRelease is the safer AcquirePage variant: the returned
// release func is idempotent via sync.Once, so a deferred call is always
// correct even along an early-return error path.
func (s *BrowserSession) AcquirePageWithRelease() (page *rod.Page, release func()) {
	page = s.AcquirePage()
	if page == nil {
		return nil, func() {}
	}
	var once sync.Once
	return page, func() { once.Do(s.ReleasePage) }
}

// ReleasePage decrements the reference count after AcquirePage.
func (s *BrowserSession) ReleasePage() {
	if n := s.refCount.Add(-1); n < 0 {
		s.refCount.Store(0)
	}
}

func (s *BrowserSession) waitForReferences(timeout time.Duration) bool {
	if s.refCount.Load() <= 0 {
		return true
	}
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		select {
		case <-deadline.C:
			return false
		case <-ticker.C:
			if s.refCount.Load() <= 0 {
				return true
			}
		}
	}
}

// CaptureScreenshot writes a forensic screenshot into the session's
// screenshots directory, returning the bare filename for /files resolution.
func (s *BrowserSession) CaptureScreenshot(tag string) (string, error) {
	page, release := s.AcquirePageWithRelease()
	if page == nil {
		return "", types.ErrSessionDead
	}
	defer release()
	return browser.CapturePage(page, s.ScreenshotDir, tag)
}

// Summary renders the session as the public SessionSummary shape returned by
// GET /sessions.
func (s *BrowserSession) Summary() types.SessionSummary {
	return types.SessionSummary{
		SessionID:  s.ID,
		Username:   s.Username,
		CreatedAt:  s.CreatedAt.Unix(),
		LastUsedAt: s.LastUsedTime().Unix(),
		InUse:      s.InUse(),
		KeepAlive:  s.KeepAlive,
	}
}
