package httpapi

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/waanverse/waanauth"
)

const (
	principalKey = "waanauth.principal"
	clientIPKey  = "waanauth.client_ip"
)

// requestContext copies client metadata into the request context so engine
// calls can record it on sessions and devices.
func (s *Server) requestContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := s.proxies.clientIP(c.Request)
		c.Set(clientIPKey, ip)

		ctx := waanauth.WithClientIP(c.Request.Context(), ip)
		if ua := c.Request.UserAgent(); ua != "" {
			ctx = waanauth.WithUserAgent(ctx, ua)
		}
		if platform := strings.Trim(c.GetHeader("Sec-CH-UA-Platform"), `" `); platform != "" {
			ctx = waanauth.WithPlatform(ctx, platform)
		}
		if deviceID := cookieValue(c, s.cfg.Cookies.DeviceName); deviceID != "" {
			ctx = waanauth.WithDeviceID(ctx, deviceID)
		}
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// requireAuth accepts the access token from the Authorization header or the
// access cookie.
func (s *Server) requireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			token = cookieValue(c, s.cfg.Cookies.AccessName)
		}
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{
				Code:    "unauthenticated",
				Message: "Authentication required.",
			})
			return
		}
		principal, err := s.engine.Authenticate(c.Request.Context(), token)
		if err != nil {
			s.respondAuthError(c, err)
			return
		}
		c.Set(principalKey, principal)
		c.Next()
	}
}

func bearerToken(c *gin.Context) string {
	h := c.GetHeader("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

func principalFrom(c *gin.Context) *waanauth.Principal {
	v, ok := c.Get(principalKey)
	if !ok {
		return nil
	}
	p, _ := v.(*waanauth.Principal)
	return p
}

// Logger emits one access log line per request.
func Logger(log *zap.Logger) gin.HandlerFunc {
	if log == nil {
		log = zap.NewNop()
	}
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		fields := []zap.Field{
			zap.Int("status", c.Writer.Status()),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.GetString(clientIPKey)),
		}
		if ua := c.Request.UserAgent(); ua != "" {
			fields = append(fields, zap.String("user_agent", ua))
		}
		if len(c.Errors) > 0 {
			log.Error("request failed", append(fields, zap.String("errors", c.Errors.String()))...)
			return
		}
		log.Info("request completed", fields...)
	}
}

// RateLimitOptions configures the per-IP token bucket.
type RateLimitOptions struct {
	RPS   float64
	Burst int
	// IdleTTL is how long an unused bucket is kept.
	IdleTTL time.Duration
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// IPRateLimiter keeps one token bucket per client IP.
type IPRateLimiter struct {
	mu       sync.Mutex
	opts     RateLimitOptions
	visitors map[string]*visitor
	lastGC   time.Time
	now      func() time.Time
}

// NewIPRateLimiter builds a limiter; Burst defaults to ceil(RPS).
func NewIPRateLimiter(opts RateLimitOptions) *IPRateLimiter {
	if opts.Burst <= 0 {
		opts.Burst = int(opts.RPS + 0.999)
		if opts.Burst < 1 {
			opts.Burst = 1
		}
	}
	if opts.IdleTTL <= 0 {
		opts.IdleTTL = 10 * time.Minute
	}
	return &IPRateLimiter{
		opts:     opts,
		visitors: make(map[string]*visitor),
		now:      time.Now,
	}
}

// Allow reports whether ip may make a request now.
func (l *IPRateLimiter) Allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastGC) > l.opts.IdleTTL {
		for k, v := range l.visitors {
			if now.Sub(v.lastSeen) > l.opts.IdleTTL {
				delete(l.visitors, k)
			}
		}
		l.lastGC = now
	}

	v, ok := l.visitors[ip]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rate.Limit(l.opts.RPS), l.opts.Burst)}
		l.visitors[ip] = v
	}
	v.lastSeen = now
	return v.limiter.AllowN(now, 1)
}

// Handler rejects requests over the limit with 429.
func (l *IPRateLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.GetString(clientIPKey)
		if ip == "" {
			ip = c.ClientIP()
		}
		if !l.Allow(ip) {
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, ErrorResponse{
				Code:       "too_many_requests",
				Message:    "Too many requests.",
				RetryAfter: 1,
			})
			return
		}
		c.Next()
	}
}
