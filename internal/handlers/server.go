// Package handlers implements RequestRouter (spec §4.6): JSON validation,
// session resolution via SessionPool, dispatch to the engines, and response
// assembly including optional debug bundles.
package handlers

import (
	"time"

	"github.com/mohamed-ali0/truckportal-bridge/internal/appointment"
	"github.com/mohamed-ali0/truckportal-bridge/internal/artifact"
	"github.com/mohamed-ali0/truckportal-bridge/internal/auth"
	"github.com/mohamed-ali0/truckportal-bridge/internal/config"
	"github.com/mohamed-ali0/truckportal-bridge/internal/detail"
	"github.com/mohamed-ali0/truckportal-bridge/internal/listing"
	"github.com/mohamed-ali0/truckportal-bridge/internal/sessionpool"
)

// Server holds every component RequestRouter dispatches to. One Server value
// is built at startup and shared across every request (spec §9: no
// module-level mutable state — everything lives here, passed explicitly).
// The selectors manager is not held here: each engine carries its own
// hot-reloading selector source.
type Server struct {
	cfg       *config.Config
	pool      *sessionpool.Pool
	authFlow  *auth.Authenticator
	listing   *listing.Engine
	detail    *detail.Engine
	appt      *appointment.FSM
	artifacts *artifact.Store
	janitor   *artifact.Janitor
	startedAt time.Time
}

// New builds a Server from its already-constructed dependencies.
func New(
	cfg *config.Config,
	pool *sessionpool.Pool,
	authFlow *auth.Authenticator,
	listingEngine *listing.Engine,
	detailEngine *detail.Engine,
	appt *appointment.FSM,
	artifacts *artifact.Store,
	janitor *artifact.Janitor,
) *Server {
	return &Server{
		cfg:       cfg,
		pool:      pool,
		authFlow:  authFlow,
		listing:   listingEngine,
		detail:    detailEngine,
		appt:      appt,
		artifacts: artifacts,
		janitor:   janitor,
		startedAt: time.Now(),
	}
}
