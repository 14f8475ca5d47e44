// Package httpapi exposes a waanauth Engine over HTTP with gin. Tokens travel
// in cookies and, for non-browser clients, in JSON bodies and the
// Authorization header.
package httpapi

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/waanverse/waanauth"
)

// Options configures the HTTP layer.
type Options struct {
	Logger *zap.Logger
	// RateLimit caps requests per client IP. A zero RPS disables it.
	RateLimit RateLimitOptions
	// Metrics records per-route request metrics when set.
	Metrics *HTTPMetrics
	// Extra registers additional routes, such as /metrics, on the router.
	Extra func(r *gin.Engine)
}

// Server holds the engine and the request plumbing shared by handlers.
type Server struct {
	engine  *waanauth.Engine
	logger  *zap.Logger
	cfg     waanauth.Config
	proxies *trustedProxies
}

// NewRouter builds a gin engine serving every auth endpoint.
func NewRouter(engine *waanauth.Engine, opts Options) (*gin.Engine, error) {
	if engine == nil {
		return nil, fmt.Errorf("httpapi: engine is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg := engine.Config()
	proxies, err := parseTrustedProxies(cfg.Security.TrustedProxies)
	if err != nil {
		return nil, err
	}
	s := &Server{
		engine:  engine,
		logger:  logger,
		cfg:     cfg,
		proxies: proxies,
	}

	r := gin.New()
	r.ContextWithFallback = true
	r.Use(gin.Recovery())
	r.Use(s.requestContext())
	r.Use(Logger(logger))
	r.Use(opts.Metrics.Handler())
	if opts.RateLimit.RPS > 0 {
		r.Use(NewIPRateLimiter(opts.RateLimit).Handler())
	}

	r.GET("/healthz", s.health)

	r.POST("/login", s.login)
	r.POST("/login/code", s.requestLoginCode)
	r.POST("/login/code/verify", s.loginWithCode)
	r.POST("/mfa/login", s.mfaLogin)
	r.POST("/token/refresh", s.refresh)
	r.POST("/logout", s.logout)

	r.POST("/signup", s.signup)
	r.POST("/verify/email", s.verifyEmail)
	r.POST("/verify/phone", s.verifyPhone)
	r.POST("/verify/email/resend", s.resendEmailVerification)

	r.POST("/password/reset/initiate", s.initiatePasswordReset)
	r.POST("/password/reset/confirm", s.confirmPasswordReset)

	authed := r.Group("/")
	authed.Use(s.requireAuth())
	{
		authed.GET("/me", s.me)
		authed.GET("/device-info", s.deviceInfo)

		authed.GET("/sessions", s.listSessions)
		authed.DELETE("/sessions/:id", s.revokeSession)

		authed.POST("/mfa/enroll", s.mfaEnroll)
		authed.POST("/mfa/activate", s.mfaActivate)
		authed.POST("/mfa/deactivate", s.mfaDeactivate)
		authed.POST("/mfa/recovery-codes", s.mfaRecoveryCodes)
		authed.GET("/mfa/status", s.mfaStatus)
	}

	if opts.Extra != nil {
		opts.Extra(r)
	}
	return r, nil
}

func (s *Server) health(c *gin.Context) {
	status := s.engine.Health(c.Request.Context())
	if !status.RedisAvailable {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":           "ok",
		"redis_latency_ms": status.RedisLatency.Milliseconds(),
	})
}
