package sessionpool

import (
	"context"
	"testing"
	"time"

	"github.com/mohamed-ali0/truckportal-bridge/internal/config"
	"github.com/mohamed-ali0/truckportal-bridge/internal/types"
)

func newTestPool(maxSessions int) *Pool {
	return New(&config.Config{
		MaxSessions:            maxSessions,
		SessionRefreshInterval: 5 * time.Minute,
	})
}

func newTestSession(id, credsHash string) *BrowserSession {
	s := &BrowserSession{
		ID:              id,
		Username:        "user-" + id,
		CredentialsHash: credsHash,
		CreatedAt:       time.Now(),
	}
	s.Touch()
	return s
}

func TestHashCredentialsDeterministicAndDistinguishesIdentity(t *testing.T) {
	a1 := HashCredentials("alice", "pw1")
	a2 := HashCredentials("alice", "pw1")
	if a1 != a2 {
		t.Fatal("HashCredentials is not deterministic for identical inputs")
	}

	if HashCredentials("alice", "pw1") == HashCredentials("alice", "pw2") {
		t.Fatal("different passwords must hash differently")
	}
	if HashCredentials("alice", "pw1") == HashCredentials("bob", "pw1") {
		t.Fatal("different usernames must hash differently")
	}
}

func TestInsertRegistersByIDAndByCreds(t *testing.T) {
	p := newTestPool(4)
	s := newTestSession("s1", "hash1")
	p.insert(s)

	if p.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", p.Len())
	}
	p.mu.Lock()
	got, ok := p.byCreds["hash1"]
	p.mu.Unlock()
	if !ok || got != s {
		t.Fatal("session not registered under its credentials hash")
	}
}

func TestEnsureCapacityAllowsUnderLimit(t *testing.T) {
	p := newTestPool(2)
	p.insert(newTestSession("s1", "h1"))

	if err := p.ensureCapacity(); err != nil {
		t.Fatalf("ensureCapacity() under limit: %v", err)
	}
	if p.Len() != 1 {
		t.Fatalf("ensureCapacity should not evict under capacity, Len() = %d", p.Len())
	}
}

func TestEnsureCapacityEvictsLRUWhenFull(t *testing.T) {
	p := newTestPool(2)
	oldest := newTestSession("oldest", "h-oldest")
	newest := newTestSession("newest", "h-newest")

	p.insert(oldest)
	time.Sleep(2 * time.Millisecond)
	p.insert(newest)

	if err := p.ensureCapacity(); err != nil {
		t.Fatalf("ensureCapacity() at limit: %v", err)
	}
	if p.Len() != 1 {
		t.Fatalf("Len() = %d, want 1 after eviction", p.Len())
	}
	p.mu.Lock()
	_, oldestStillPresent := p.byID["oldest"]
	_, newestStillPresent := p.byID["newest"]
	p.mu.Unlock()
	if oldestStillPresent {
		t.Error("least-recently-used session should have been evicted")
	}
	if !newestStillPresent {
		t.Error("most-recently-used session should not have been evicted")
	}
}

func TestEnsureCapacitySkipsInUseSessions(t *testing.T) {
	p := newTestPool(1)
	s := newTestSession("busy", "h-busy")
	s.SetInUse(true)
	p.insert(s)

	err := p.ensureCapacity()
	if err == nil {
		t.Fatal("ensureCapacity() should fail with capacity exceeded when the only session is in use")
	}
	if p.Len() != 1 {
		t.Fatalf("in-use session must not be evicted, Len() = %d", p.Len())
	}
}

func TestLRUVictimLockedPicksLeastRecentlyUsed(t *testing.T) {
	p := newTestPool(10)
	a := newTestSession("a", "ha")
	b := newTestSession("b", "hb")
	c := newTestSession("c", "hc")
	p.insert(a)
	p.insert(b)
	p.insert(c)

	// Touching a moves it to the front, leaving b as the least-recently-used.
	p.mu.Lock()
	p.touchLocked(a)
	victim := p.lruVictimLocked()
	p.mu.Unlock()

	if victim == nil || victim.ID != "b" {
		got := "nil"
		if victim != nil {
			got = victim.ID
		}
		t.Fatalf("lruVictimLocked() = %s, want b", got)
	}
}

func TestCloseRemovesFromAllIndexes(t *testing.T) {
	p := newTestPool(4)
	s := newTestSession("s1", "hash1")
	p.insert(s)

	p.Close("s1")

	if p.Len() != 0 {
		t.Fatalf("Len() = %d after Close, want 0", p.Len())
	}
	p.mu.Lock()
	_, byIDOk := p.byID["s1"]
	_, byCredsOk := p.byCreds["hash1"]
	p.mu.Unlock()
	if byIDOk || byCredsOk {
		t.Fatal("Close did not remove the session from both indexes")
	}
}

func TestCloseOfAbsentIDIsNoop(t *testing.T) {
	p := newTestPool(4)
	p.Close("does-not-exist") // must not panic
}

func TestSnapshotReflectsLiveSessions(t *testing.T) {
	p := newTestPool(4)
	p.insert(newTestSession("s1", "h1"))
	p.insert(newTestSession("s2", "h2"))

	snap := p.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("Snapshot() returned %d entries, want 2", len(snap))
	}
}

func TestCloseAllClearsPool(t *testing.T) {
	p := newTestPool(4)
	p.insert(newTestSession("s1", "h1"))
	p.insert(newTestSession("s2", "h2"))

	if err := p.CloseAll(context.Background()); err != nil {
		t.Fatalf("CloseAll: %v", err)
	}
	if p.Len() != 0 {
		t.Fatalf("Len() = %d after CloseAll, want 0", p.Len())
	}
}

func TestReleaseMarksSessionIdle(t *testing.T) {
	s := newTestSession("s1", "h1")
	s.SetInUse(true)

	p := newTestPool(4)
	p.Release(s)

	if s.InUse() {
		t.Fatal("Release should clear the in-use flag")
	}
}

func TestReleaseOfNilSessionIsNoop(t *testing.T) {
	p := newTestPool(4)
	p.Release(nil) // must not panic
}

// alwaysAlive replaces the page-URL probe so Acquire can be exercised
// without a browser behind the session.
func alwaysAlive(context.Context, *BrowserSession) bool { return true }

func noLogin(t *testing.T) func(context.Context, string) (*BrowserSession, error) {
	t.Helper()
	return func(context.Context, string) (*BrowserSession, error) {
		t.Fatal("login must not run on this path")
		return nil, nil
	}
}

func TestAcquireUnknownSessionID(t *testing.T) {
	p := newTestPool(4)
	_, _, err := p.Acquire(context.Background(), "missing", types.Credentials{}, noLogin(t))
	if err != types.ErrSessionNotFound {
		t.Fatalf("Acquire(unknown id) error = %v, want ErrSessionNotFound", err)
	}
}

func TestAcquireRequiresSessionIDOrCredentials(t *testing.T) {
	p := newTestPool(4)
	_, _, err := p.Acquire(context.Background(), "", types.Credentials{}, noLogin(t))
	if err != types.ErrInvalidRequest {
		t.Fatalf("Acquire(nothing) error = %v, want ErrInvalidRequest", err)
	}
}

func TestAcquireReusesIdleCredentialsMatch(t *testing.T) {
	p := newTestPool(4)
	p.livenessProbe = alwaysAlive

	hash := HashCredentials("alice", "pw")
	existing := newTestSession("s1", hash)
	p.insert(existing)

	got, isNew, err := p.Acquire(context.Background(), "", types.Credentials{Username: "alice", Password: "pw"}, noLogin(t))
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if got != existing {
		t.Fatal("Acquire must return the existing session for the same identity")
	}
	if isNew {
		t.Fatal("is_new must be false when an idle session is reused")
	}
	if !got.InUse() {
		t.Fatal("Acquire must mark the session in use")
	}
}

func TestAcquireSameCredentialsRoundTrip(t *testing.T) {
	p := newTestPool(4)
	p.livenessProbe = alwaysAlive

	logins := 0
	login := func(context.Context, string) (*BrowserSession, error) {
		logins++
		s := newTestSession("fresh1", "")
		return s, nil
	}
	creds := types.Credentials{Username: "bob", Password: "pw"}

	first, isNew, err := p.Acquire(context.Background(), "", creds, login)
	if err != nil || !isNew {
		t.Fatalf("first Acquire = (%v, isNew=%v), want a fresh session", err, isNew)
	}
	p.Release(first)

	second, isNew, err := p.Acquire(context.Background(), "", creds, login)
	if err != nil {
		t.Fatalf("second Acquire: %v", err)
	}
	if isNew || second.ID != first.ID {
		t.Fatalf("second Acquire = (id=%s, isNew=%v), want the same session back", second.ID, isNew)
	}
	if logins != 1 {
		t.Fatalf("logins = %d, want exactly 1 for acquire-release-acquire", logins)
	}
}

func TestAcquireBusyCredentialsMatchNeverDuplicates(t *testing.T) {
	p := newTestPool(4)
	p.cfg.SessionPoolTimeout = 50 * time.Millisecond

	hash := HashCredentials("carol", "pw")
	busy := newTestSession("s1", hash)
	p.insert(busy)
	busy.SetInUse(true)

	_, _, err := p.Acquire(context.Background(), "", types.Credentials{Username: "carol", Password: "pw"}, noLogin(t))
	if err != types.ErrSessionInUse {
		t.Fatalf("Acquire(busy identity) error = %v, want ErrSessionInUse", err)
	}
	if p.Len() != 1 {
		t.Fatalf("pool size = %d, want 1 — a busy identity must never grow a duplicate", p.Len())
	}
}

func TestAcquireBusyIdentityWaitsForRelease(t *testing.T) {
	p := newTestPool(4)
	p.livenessProbe = alwaysAlive
	p.cfg.SessionPoolTimeout = 5 * time.Second

	hash := HashCredentials("dave", "pw")
	busy := newTestSession("s1", hash)
	p.insert(busy)
	busy.SetInUse(true)

	go func() {
		time.Sleep(300 * time.Millisecond)
		p.Release(busy)
	}()

	got, isNew, err := p.Acquire(context.Background(), "", types.Credentials{Username: "dave", Password: "pw"}, noLogin(t))
	if err != nil {
		t.Fatalf("Acquire after release: %v", err)
	}
	if got != busy || isNew {
		t.Fatalf("Acquire = (id=%s, isNew=%v), want the released session reused", got.ID, isNew)
	}
}

func TestAcquireReplacesDeadIdleSession(t *testing.T) {
	p := newTestPool(4)
	// Default probe: a session with no page is dead.

	hash := HashCredentials("erin", "pw")
	dead := newTestSession("old", hash)
	p.insert(dead)

	login := func(context.Context, string) (*BrowserSession, error) {
		return newTestSession("replacement", ""), nil
	}
	got, isNew, err := p.Acquire(context.Background(), "", types.Credentials{Username: "erin", Password: "pw"}, login)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if !isNew || got.ID != "replacement" {
		t.Fatalf("Acquire = (id=%s, isNew=%v), want a fresh replacement session", got.ID, isNew)
	}
	if p.Len() != 1 {
		t.Fatalf("pool size = %d, want 1 after replacing the dead session", p.Len())
	}
	p.mu.Lock()
	current := p.byCreds[hash]
	p.mu.Unlock()
	if current != got {
		t.Fatal("credentials hash must map to the replacement, never two sessions at once")
	}
}

func TestAcquireLoginFailureLeavesNoResidue(t *testing.T) {
	p := newTestPool(4)

	login := func(context.Context, string) (*BrowserSession, error) {
		return nil, types.ErrInvalidCredentials
	}
	_, _, err := p.Acquire(context.Background(), "", types.Credentials{Username: "frank", Password: "pw"}, login)
	if err != types.ErrInvalidCredentials {
		t.Fatalf("Acquire error = %v, want ErrInvalidCredentials", err)
	}
	if p.Len() != 0 {
		t.Fatalf("pool size = %d, want 0 after a failed login", p.Len())
	}
	p.mu.Lock()
	inFlight := len(p.creating)
	p.mu.Unlock()
	if inFlight != 0 {
		t.Fatalf("creating set size = %d, want 0 — a failed login must release its claim", inFlight)
	}
}
