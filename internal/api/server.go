package api

import (
	"fmt"

	"github.com/gin-gonic/gin"

	"github.com/bigdegenenergy/open-cloud-ops/tutor/internal/middleware"
)

// EngineOptions configure client IP resolution and session verification.
type EngineOptions struct {
	// TrustedPlatform names a header set by the edge, e.g. CF-Connecting-IP.
	TrustedPlatform string
	// TrustedProxies are the peers whose X-Forwarded-For is honored. Empty
	// means the client IP is always the TCP peer.
	TrustedProxies []string
	JWTSecret      string
}

// NewEngine builds the gin engine with the gateway middleware and mounts h.
func NewEngine(h *Handlers, opts EngineOptions) (*gin.Engine, error) {
	r := gin.New()
	r.TrustedPlatform = opts.TrustedPlatform
	if err := r.SetTrustedProxies(opts.TrustedProxies); err != nil {
		return nil, fmt.Errorf("api: trusted proxies: %w", err)
	}
	r.Use(middleware.Recovery())
	r.Use(middleware.Logging())
	r.Use(middleware.CORS(), middleware.Preflight())
	r.Use(middleware.Identity(opts.JWTSecret))
	h.Register(r)
	return r, nil
}
