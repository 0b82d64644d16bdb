package sessionpool

import (
	"container/list"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/mohamed-ali0/truckportal-bridge/internal/config"
	"github.com/mohamed-ali0/truckportal-bridge/internal/types"
)

// HashCredentials derives the pool's identity key: equality of username and
// password (not captcha_key, which is per-login and forwarded to the solver
// only) defines a user identity, per spec §3.
func HashCredentials(username, password string) string {
	sum := sha256.Sum256([]byte(username + "\x00" + password))
	return hex.EncodeToString(sum[:])
}

// Pool owns the set of live BrowserSessions: bounded by MaxSessions, keyed by
// session ID and by credentials hash, LRU-evicted, periodically refreshed.
// Locking discipline: Pool.mu guards only the pool's own maps/LRU list — it
// is never held while an engine operation runs against a session's OpMu. The
// refresher takes Pool.mu briefly (to evict) while holding a session's OpMu;
// no path takes OpMu while holding Pool.mu.
type Pool struct {
	cfg *config.Config

	mu       sync.Mutex
	byID     map[string]*BrowserSession
	byCreds  map[string]*BrowserSession // credentials hash -> session, dedup per spec invariant 2
	creating map[string]struct{}        // credentials hashes with a login in flight, so two misses never build two sessions
	lru      *list.List                 // list.Element.Value is *BrowserSession, front = most-recently-used

	stopRefresh chan struct{}
	refreshWG   sync.WaitGroup

	// livenessProbe is the hand-off health check (spec invariant 3),
	// defaulting to a current-URL read on the live page. A field so tests
	// can exercise Acquire without a browser behind the session.
	livenessProbe func(ctx context.Context, s *BrowserSession) bool
}

// New constructs an empty Pool and starts its background refresher.
func New(cfg *config.Config) *Pool {
	p := &Pool{
		cfg:         cfg,
		byID:        make(map[string]*BrowserSession),
		byCreds:     make(map[string]*BrowserSession),
		creating:    make(map[string]struct{}),
		lru:         list.New(),
		stopRefresh: make(chan struct{}),
	}
	p.livenessProbe = probeSession
	return p
}

// StartRefresher launches the periodic keep-alive refresher (spec §4.1). It
// takes a probe func (main wires AuthFlow's VerifyStillLoggedIn) to confirm a
// session is still logged in; the refresher never performs a fresh login.
func (p *Pool) StartRefresher(refresh func(ctx context.Context, s *BrowserSession) bool) {
	p.refreshWG.Add(1)
	go func() {
		defer p.refreshWG.Done()
		ticker := time.NewTicker(60 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-p.stopRefresh:
				return
			case <-ticker.C:
				p.refreshRound(refresh)
			}
		}
	}()
}

// refreshRound iterates every keep_alive session not in use whose
// last_refreshed_at is older than SessionRefreshInterval. Per spec §4.1/§5,
// it takes each session's mutex non-blockingly and skips on contention
// rather than starving a live request.
func (p *Pool) refreshRound(refresh func(ctx context.Context, s *BrowserSession) bool) {
	candidates := p.snapshotEligibleForRefresh()
	for _, s := range candidates {
		if !s.OpMu.TryLock() {
			continue // busy this round; refresher never blocks on a live request
		}
		func() {
			defer s.OpMu.Unlock()
			if s.InUse() {
				return
			}
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if refresh(ctx, s) {
				s.touchRefreshed()
				log.Debug().Str("session_id", s.ID).Msg("session refreshed")
				return
			}
			log.Warn().Str("session_id", s.ID).Msg("session failed refresh probe, evicting")
			p.removeDead(s.ID)
		}()
	}
}

func (p *Pool) snapshotEligibleForRefresh() []*BrowserSession {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*BrowserSession, 0, len(p.byID))
	cutoff := time.Now().Add(-p.cfg.SessionRefreshInterval)
	for _, s := range p.byID {
		if s.KeepAlive && s.lastRefreshedTime().Before(cutoff) {
			out = append(out, s)
		}
	}
	return out
}

// Stop halts the refresher and waits for the in-flight round to finish.
func (p *Pool) Stop() {
	close(p.stopRefresh)
	p.refreshWG.Wait()
}

// acquireWaitPoll is how often a credentials-based Acquire re-checks a
// session that is busy serving another request for the same identity.
const acquireWaitPoll = 200 * time.Millisecond

// Acquire resolves sessionID if given, else the credentials hash; creates a
// new session via login() on miss. Always marks the returned session in_use
// and touches last_used_at. login is supplied by the caller (RequestRouter),
// which owns the Authenticator, to keep this package free of the
// auth/browser-launch dependency graph.
func (p *Pool) Acquire(ctx context.Context, sessionID string, creds types.Credentials, login func(ctx context.Context, profileDir string) (*BrowserSession, error)) (*BrowserSession, bool, error) {
	if sessionID != "" {
		return p.acquireByID(ctx, sessionID)
	}
	if !creds.HasCredentials() {
		return nil, false, types.ErrInvalidRequest
	}
	return p.acquireByCreds(ctx, creds, login)
}

func (p *Pool) acquireByID(ctx context.Context, sessionID string) (*BrowserSession, bool, error) {
	p.mu.Lock()
	s, ok := p.byID[sessionID]
	if ok {
		p.touchLocked(s)
	}
	p.mu.Unlock()
	if !ok {
		return nil, false, types.ErrSessionNotFound
	}
	if !p.livenessProbe(ctx, s) {
		p.removeDead(sessionID)
		return nil, false, types.ErrSessionDead
	}
	s.SetInUse(true)
	return s, false, nil
}

// acquireByCreds enforces spec invariant 2 (at most one live session per
// credentials hash): a hit that is busy is waited on rather than duplicated,
// and a miss claims the hash in p.creating before the slow login so two
// concurrent misses never build two sessions for the same identity. The wait
// is bounded by SessionPoolTimeout; exceeding it fails with ErrSessionInUse.
func (p *Pool) acquireByCreds(ctx context.Context, creds types.Credentials, login func(ctx context.Context, profileDir string) (*BrowserSession, error)) (*BrowserSession, bool, error) {
	hash := HashCredentials(creds.Username, creds.Password)
	deadline := time.Now().Add(p.cfg.SessionPoolTimeout)

	for {
		p.mu.Lock()
		if s, ok := p.byCreds[hash]; ok {
			if !s.InUse() {
				// Claim under the pool lock so a concurrent Acquire for the
				// same identity cannot also see the session as idle.
				s.SetInUse(true)
				p.touchLocked(s)
				p.mu.Unlock()
				if p.livenessProbe(ctx, s) {
					return s, false, nil
				}
				p.removeDead(s.ID)
				continue // slot is free now; next pass creates a replacement
			}
			p.mu.Unlock()
		} else if _, inFlight := p.creating[hash]; inFlight {
			p.mu.Unlock()
		} else {
			p.creating[hash] = struct{}{}
			p.mu.Unlock()

			s, err := p.createSession(ctx, hash, creds, login)

			p.mu.Lock()
			delete(p.creating, hash)
			p.mu.Unlock()
			if err != nil {
				return nil, false, err
			}
			return s, true, nil
		}

		if time.Now().After(deadline) {
			return nil, false, types.ErrSessionInUse
		}
		select {
		case <-ctx.Done():
			return nil, false, ctx.Err()
		case <-time.After(acquireWaitPoll):
		}
	}
}

// createSession runs the slow path: make capacity, log in, insert. The
// caller must hold the p.creating claim for hash.
func (p *Pool) createSession(ctx context.Context, hash string, creds types.Credentials, login func(ctx context.Context, profileDir string) (*BrowserSession, error)) (*BrowserSession, error) {
	if err := p.ensureCapacity(); err != nil {
		return nil, err
	}

	profileDir, err := os.MkdirTemp("", "truckportal-profile-*")
	if err != nil {
		return nil, err
	}
	s, err := login(ctx, profileDir)
	if err != nil {
		os.RemoveAll(profileDir)
		return nil, types.ErrInvalidCredentials
	}
	s.CredentialsHash = hash
	s.Username = creds.Username
	s.profileDir = profileDir
	s.KeepAlive = true
	s.touchRefreshed()
	s.SetInUse(true)

	p.insert(s)
	return s, nil
}

// ensureCapacity evicts the idle LRU session when the pool is full. Per spec
// §4.1, if every session is in use the request fails with CAPACITY — chosen
// to be pathological, not a normal operating condition.
func (p *Pool) ensureCapacity() error {
	p.mu.Lock()
	if len(p.byID) < p.cfg.MaxSessions {
		p.mu.Unlock()
		return nil
	}
	victim := p.lruVictimLocked()
	p.mu.Unlock()

	if victim == nil {
		return types.ErrCapacityExceeded
	}
	p.Close(victim.ID)
	return nil
}

// lruVictimLocked finds the not-in-use session with the smallest
// last_used_at, walking from the back (least-recently-touched) of the LRU
// list. Must be called with p.mu held.
func (p *Pool) lruVictimLocked() *BrowserSession {
	for e := p.lru.Back(); e != nil; e = e.Prev() {
		s := e.Value.(*BrowserSession)
		if !s.InUse() {
			return s
		}
	}
	return nil
}

func (p *Pool) insert(s *BrowserSession) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.byID[s.ID] = s
	p.byCreds[s.CredentialsHash] = s
	s.lruElem = p.lru.PushFront(s)
}

func (p *Pool) touchLocked(s *BrowserSession) {
	s.Touch()
	if s.lruElem != nil {
		p.lru.MoveToFront(s.lruElem)
	}
}

// Release marks a session idle again. Never closes it.
func (p *Pool) Release(s *BrowserSession) {
	if s == nil {
		return
	}
	s.SetInUse(false)
}

// Close evicts and destroys a session by ID, releasing its browser and
// profile dir. Safe to call for an already-absent ID.
func (p *Pool) Close(sessionID string) {
	p.mu.Lock()
	s, ok := p.byID[sessionID]
	if !ok {
		p.mu.Unlock()
		return
	}
	delete(p.byID, sessionID)
	if p.byCreds[s.CredentialsHash] == s {
		delete(p.byCreds, s.CredentialsHash)
	}
	if s.lruElem != nil {
		p.lru.Remove(s.lruElem)
	}
	p.mu.Unlock()

	s.destroy()
}

// removeDead is Close with an eviction log line; kept distinct for call-site
// clarity between explicit DELETE /sessions/{id} and internal liveness
// failures.
func (p *Pool) removeDead(sessionID string) {
	log.Info().Str("session_id", sessionID).Msg("removing dead session from pool")
	p.Close(sessionID)
}

// probeSession is the default liveness check (read current URL) required at
// hand-off by spec invariant 3.
func probeSession(ctx context.Context, s *BrowserSession) bool {
	page := s.AcquirePage()
	if page == nil {
		return false
	}
	defer s.ReleasePage()
	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := page.Context(probeCtx).Eval(`() => window.location.href`)
	return err == nil
}

// Snapshot renders every live session for GET /sessions and /health.
func (p *Pool) Snapshot() []types.SessionSummary {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]types.SessionSummary, 0, len(p.byID))
	for _, s := range p.byID {
		out = append(out, s.Summary())
	}
	return out
}

// Len reports the current number of live sessions.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.byID)
}

// MaxSessions exposes the configured capacity for the health endpoint.
func (p *Pool) MaxSessions() int { return p.cfg.MaxSessions }

// CloseAll shuts every session down in parallel (bounded by errgroup),
// used on server shutdown.
func (p *Pool) CloseAll(ctx context.Context) error {
	p.mu.Lock()
	ids := make([]string, 0, len(p.byID))
	for id := range p.byID {
		ids = append(ids, id)
	}
	p.mu.Unlock()

	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			p.Close(id)
			return nil
		})
	}
	return g.Wait()
}

// DirsFor returns (and lazily creates) a session's download and screenshot
// directories, namespaced under the artifact root by session ID.
func DirsFor(artifactRoot, sessionID string) (downloadDir, screenshotDir string, err error) {
	downloadDir = filepath.Join(artifactRoot, sessionID, "downloads")
	screenshotDir = filepath.Join(artifactRoot, sessionID, "screenshots")
	if err = os.MkdirAll(downloadDir, 0o755); err != nil {
		return "", "", err
	}
	if err = os.MkdirAll(screenshotDir, 0o755); err != nil {
		return "", "", err
	}
	return downloadDir, screenshotDir, nil
}
