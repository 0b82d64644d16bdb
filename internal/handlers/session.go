package handlers

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mohamed-ali0/truckportal-bridge/internal/sessionpool"
	"github.com/mohamed-ali0/truckportal-bridge/internal/types"
)

// acquireSession resolves a SessionRef via SessionPool.Acquire, wiring
// AuthFlow.Login as the capacity-miss path (spec §4.6 step 2).
func (s *Server) acquireSession(ctx context.Context, ref types.SessionRef) (*sessionpool.BrowserSession, bool, error) {
	if err := ref.Resolve(); err != nil {
		return nil, false, err
	}
	login := func(ctx context.Context, profileDir string) (*sessionpool.BrowserSession, error) {
		return s.authFlow.Login(ctx, ref.Credentials, profileDir)
	}
	return s.pool.Acquire(ctx, ref.SessionID, ref.Credentials, login)
}

// withSession acquires a session, serializes engine work on it via OpMu, and
// always releases it back to the pool (spec §4.6 step 3/6). fn receives the
// locked session and returns only an error; callers capture any results in
// the closure.
func (s *Server) withSession(ctx context.Context, ref types.SessionRef, fn func(sess *sessionpool.BrowserSession) error) (sess *sessionpool.BrowserSession, isNew bool, err error) {
	sess, isNew, err = s.acquireSession(ctx, ref)
	if err != nil {
		return nil, false, err
	}
	sess.OpMu.Lock()
	defer sess.OpMu.Unlock()
	defer s.pool.Release(sess)

	sess.Touch()
	err = fn(sess)
	return sess, isNew, err
}

// maybeBundle invokes DebugBundler when the caller requested debug mode,
// swallowing bundling errors into a log line rather than failing an
// otherwise-successful request (spec §4.6 step 5).
func (s *Server) maybeBundle(sess *sessionpool.BrowserSession, debug bool, tag string) string {
	if !debug {
		return ""
	}
	name, err := s.artifacts.Bundle(sess.ID, tag, time.Now().Unix())
	if err != nil {
		log.Warn().Err(err).Str("session_id", sess.ID).Msg("debug bundle failed")
		return ""
	}
	return "/files/" + name
}
