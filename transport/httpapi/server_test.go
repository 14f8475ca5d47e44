package httpapi

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/waanverse/waanauth"
	"github.com/waanverse/waanauth/dispatch"
	"github.com/waanverse/waanauth/mfa"
	"github.com/waanverse/waanauth/store/memory"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type harness struct {
	t       *testing.T
	engine  *waanauth.Engine
	router  *gin.Engine
	outbox  *dispatch.ChannelSender
	metrics *HTTPMetrics
	// jar holds cookies set by previous responses, keyed by name.
	jar map[string]*http.Cookie
}

func newHarness(t *testing.T, mutate func(*waanauth.Config)) *harness {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	mfaKey := make([]byte, 32)
	_, err = rand.Read(mfaKey)
	require.NoError(t, err)

	cfg := waanauth.DefaultConfig()
	cfg.JWT.PrivateKey = priv
	cfg.MFA.EncryptionKey = mfaKey
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.Password.MinScore = 0
	cfg.Dispatch.LoginAlerts = false
	cfg.Cookies.Secure = false
	if mutate != nil {
		mutate(&cfg)
	}

	outbox := dispatch.NewChannelSender(64)
	engine, err := waanauth.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithLogger(zaptest.NewLogger(t)).
		WithIdentityStore(memory.NewIdentityStore()).
		WithMFAStore(memory.NewMFAStore()).
		WithResetTokenStore(memory.NewResetTokenStore()).
		WithDeviceStore(memory.NewDeviceStore()).
		WithSender(outbox).
		Build()
	require.NoError(t, err)
	t.Cleanup(engine.Close)

	reg := prometheus.NewRegistry()
	metrics, err := NewHTTPMetrics(reg, "test")
	require.NoError(t, err)

	router, err := NewRouter(engine, Options{
		Logger:  zaptest.NewLogger(t),
		Metrics: metrics,
	})
	require.NoError(t, err)

	return &harness{
		t:       t,
		engine:  engine,
		router:  router,
		outbox:  outbox,
		metrics: metrics,
		jar:     map[string]*http.Cookie{},
	}
}

func (h *harness) do(method, path string, body any, mutate ...func(*http.Request)) *httptest.ResponseRecorder {
	h.t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(h.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for _, c := range h.jar {
		req.AddCookie(c)
	}
	for _, fn := range mutate {
		fn(req)
	}

	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)

	for _, c := range rec.Result().Cookies() {
		if c.MaxAge < 0 || c.Value == "" {
			delete(h.jar, c.Name)
			continue
		}
		h.jar[c.Name] = c
	}
	return rec
}

func (h *harness) nextMessage(kind dispatch.Kind) dispatch.Message {
	h.t.Helper()

	timeout := time.After(2 * time.Second)
	for {
		select {
		case msg := <-h.outbox.Messages():
			if msg.Kind == kind {
				return msg
			}
		case <-timeout:
			h.t.Fatalf("no %s message", kind)
		}
	}
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

// signupAndLogin registers and activates an identity, then logs it in.
func (h *harness) signupAndLogin(username, email, password string) loginResponse {
	h.t.Helper()

	rec := h.do(http.MethodPost, "/signup", gin.H{"username": username, "email": email, "password": password})
	require.Equal(h.t, http.StatusCreated, rec.Code, rec.Body.String())
	msg := h.nextMessage(dispatch.KindEmailVerification)

	rec = h.do(http.MethodPost, "/verify/email", gin.H{"email": email, "code": msg.Code})
	require.Equal(h.t, http.StatusOK, rec.Code, rec.Body.String())

	rec = h.do(http.MethodPost, "/login", gin.H{"identifier": username, "password": password})
	require.Equal(h.t, http.StatusOK, rec.Code, rec.Body.String())
	return decode[loginResponse](h.t, rec)
}

func TestSignupLoginSessionLifecycle(t *testing.T) {
	h := newHarness(t, nil)

	login := h.signupAndLogin("alice", "alice@example.com", "correct-password-123")
	require.NotNil(t, login.Tokens)
	assert.False(t, login.MFARequired)
	assert.Contains(t, h.jar, "access_token")
	assert.Contains(t, h.jar, "refresh_token")
	assert.Contains(t, h.jar, "device_id")

	rec := h.do(http.MethodGet, "/me", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	me := decode[identityResponse](t, rec)
	assert.Equal(t, "alice", me.Username)
	assert.True(t, me.IsActive)
	assert.NotNil(t, me.LastLogin)

	rec = h.do(http.MethodGet, "/sessions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	sessions := decode[struct {
		Sessions []sessionResponse `json:"sessions"`
	}](t, rec)
	require.Len(t, sessions.Sessions, 1)
	assert.True(t, sessions.Sessions[0].Current)

	oldRefresh := h.jar["refresh_token"].Value
	rec = h.do(http.MethodPost, "/token/refresh", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NotEqual(t, oldRefresh, h.jar["refresh_token"].Value)

	rec = h.do(http.MethodGet, "/device-info", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, login.DeviceID, decode[map[string]any](t, rec)["device_id"])

	rec = h.do(http.MethodPost, "/logout", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.NotContains(t, h.jar, "access_token")
	assert.Contains(t, h.jar, "device_id")

	rec = h.do(http.MethodGet, "/me", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	assert.Equal(t, float64(1), testutil.ToFloat64(h.metrics.Requests.WithLabelValues(http.MethodPost, "/login", "200")))
	assert.Equal(t, float64(0), testutil.ToFloat64(h.metrics.InFlight))
}

func TestLoginErrorsAreMapped(t *testing.T) {
	h := newHarness(t, func(cfg *waanauth.Config) {
		cfg.Login.MaxAttempts = 2
	})

	for i := 0; i < 2; i++ {
		rec := h.do(http.MethodPost, "/login", gin.H{"identifier": "ghost", "password": "nope-nope-nope"})
		require.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, "invalid_credentials", decode[ErrorResponse](t, rec).Code)
	}

	rec := h.do(http.MethodPost, "/login", gin.H{"identifier": "ghost", "password": "nope-nope-nope"})
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	body := decode[ErrorResponse](t, rec)
	assert.Equal(t, "too_many_requests", body.Code)
	assert.Positive(t, body.RetryAfter)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	rec = h.do(http.MethodPost, "/login", gin.H{"identifier": "ghost"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRefreshFailureClearsCookies(t *testing.T) {
	h := newHarness(t, nil)
	h.signupAndLogin("bob_1", "bob@example.com", "correct-password-123")

	rec := h.do(http.MethodPost, "/token/refresh", gin.H{"refresh_token": "garbage"})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "invalid_refresh_token", decode[ErrorResponse](t, rec).Code)
	assert.NotContains(t, h.jar, "access_token")
	assert.NotContains(t, h.jar, "refresh_token")
}

func TestSignupDoesNotRevealWhichIdentifierExists(t *testing.T) {
	h := newHarness(t, nil)
	h.signupAndLogin("carol", "carol@example.com", "correct-password-123")

	rec := h.do(http.MethodPost, "/signup", gin.H{"username": "carol2", "email": "carol@example.com", "password": "correct-password-123"})
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "identifier_unavailable", decode[ErrorResponse](t, rec).Code)

	rec = h.do(http.MethodPost, "/signup", gin.H{"username": "admin", "email": "x@example.com", "password": "correct-password-123"})
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "identifier_unavailable", decode[ErrorResponse](t, rec).Code)
}

func TestMFALoginOverHTTP(t *testing.T) {
	h := newHarness(t, nil)
	h.signupAndLogin("dave", "dave@example.com", "correct-password-123")

	rec := h.do(http.MethodPost, "/mfa/enroll", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	secret := decode[map[string]any](t, rec)["secret"].(string)

	cfg := h.engine.Config().MFA
	totp, err := mfa.NewTOTP(mfa.Config{
		Issuer:    cfg.Issuer,
		Digits:    cfg.Digits,
		Period:    cfg.Period,
		Skew:      cfg.Skew,
		Algorithm: cfg.Algorithm,
		QRSize:    cfg.QRSize,
	})
	require.NoError(t, err)
	code, err := totp.Code(secret, time.Now())
	require.NoError(t, err)

	rec = h.do(http.MethodPost, "/mfa/activate", gin.H{"code": code})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	recovery := decode[struct {
		RecoveryCodes []string `json:"recovery_codes"`
	}](t, rec).RecoveryCodes
	require.NotEmpty(t, recovery)

	h.do(http.MethodPost, "/logout", nil)

	rec = h.do(http.MethodPost, "/login", gin.H{"identifier": "dave@example.com", "password": "correct-password-123"})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	pending := decode[loginResponse](t, rec)
	assert.True(t, pending.MFARequired)
	assert.Nil(t, pending.Tokens)
	require.Contains(t, h.jar, "mfa_pending")
	assert.NotContains(t, h.jar, "access_token")

	rec = h.do(http.MethodPost, "/mfa/login", gin.H{"code": recovery[0]})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NotContains(t, h.jar, "mfa_pending")
	assert.Contains(t, h.jar, "access_token")

	rec = h.do(http.MethodGet, "/mfa/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	status := decode[map[string]any](t, rec)
	assert.Equal(t, true, status["activated"])
	assert.Equal(t, float64(len(recovery)-1), status["recovery_codes_remaining"])
}

func TestPasswordResetOverHTTP(t *testing.T) {
	h := newHarness(t, nil)
	h.signupAndLogin("erin", "erin@example.com", "correct-password-123")

	rec := h.do(http.MethodPost, "/password/reset/initiate", gin.H{"identifier": "ghost@example.com"})
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = h.do(http.MethodPost, "/password/reset/initiate", gin.H{"identifier": "erin"})
	require.Equal(t, http.StatusAccepted, rec.Code)
	msg := h.nextMessage(dispatch.KindPasswordReset)

	rec = h.do(http.MethodPost, "/password/reset/confirm", gin.H{"identifier": "erin", "code": msg.Code, "new_password": "new-password-456"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = h.do(http.MethodGet, "/me", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = h.do(http.MethodPost, "/login", gin.H{"identifier": "erin", "password": "new-password-456"})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRevokeForeignSessionIsNotFound(t *testing.T) {
	h := newHarness(t, nil)
	h.signupAndLogin("frank", "frank@example.com", "correct-password-123")

	rec := h.do(http.MethodDelete, "/sessions/not-mine", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "session_not_found", decode[ErrorResponse](t, rec).Code)
}

func TestClientIPHonoursTrustedProxiesOnly(t *testing.T) {
	tp, err := parseTrustedProxies([]string{"10.0.0.0/8", "192.0.2.1"})
	require.NoError(t, err)

	newReq := func(remote string, headers map[string]string) *http.Request {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = remote
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		return req
	}

	cases := []struct {
		name    string
		remote  string
		headers map[string]string
		want    string
	}{
		{"untrusted peer ignores headers", "203.0.113.5:1234", map[string]string{"CF-Connecting-IP": "198.51.100.1", "X-Forwarded-For": "198.51.100.2"}, "203.0.113.5"},
		{"trusted peer prefers cloudflare", "10.1.2.3:443", map[string]string{"CF-Connecting-IP": "198.51.100.1", "X-Forwarded-For": "198.51.100.2"}, "198.51.100.1"},
		{"trusted peer falls back to first xff", "192.0.2.1:443", map[string]string{"X-Forwarded-For": "198.51.100.2, 10.0.0.1"}, "198.51.100.2"},
		{"trusted peer with junk headers", "10.1.2.3:443", map[string]string{"X-Forwarded-For": "not-an-ip"}, "10.1.2.3"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tp.clientIP(newReq(tc.remote, tc.headers)))
		})
	}

	_, err = parseTrustedProxies([]string{"nonsense"})
	assert.Error(t, err)
}

func TestIPRateLimiter(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	l := NewIPRateLimiter(RateLimitOptions{RPS: 1, Burst: 2})
	l.now = func() time.Time { return now }

	assert.True(t, l.Allow("203.0.113.1"))
	assert.True(t, l.Allow("203.0.113.1"))
	assert.False(t, l.Allow("203.0.113.1"))
	assert.True(t, l.Allow("203.0.113.2"))

	now = now.Add(time.Second)
	assert.True(t, l.Allow("203.0.113.1"))
}

func TestRequireAuthRejectsMissingToken(t *testing.T) {
	h := newHarness(t, nil)

	rec := h.do(http.MethodGet, "/me", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "unauthenticated", decode[ErrorResponse](t, rec).Code)

	rec = h.do(http.MethodGet, "/me", nil, func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer junk")
	})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "token_invalid", decode[ErrorResponse](t, rec).Code)
}

func TestLogoutAfterAccessTokenExpiry(t *testing.T) {
	h := newHarness(t, func(cfg *waanauth.Config) {
		cfg.JWT.AccessTTL = time.Second
		cfg.JWT.Leeway = 0
	})
	login := h.signupAndLogin("ivy", "ivy@example.com", "correct-password-123")
	require.NotNil(t, login.Tokens)
	sid := login.Tokens.SessionID

	time.Sleep(2100 * time.Millisecond)

	rec := h.do(http.MethodGet, "/me", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	// /me cleared the cookies; present the lapsed access token directly.
	rec = h.do(http.MethodPost, "/logout", nil, func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+login.Tokens.AccessToken)
	})
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	_, active, err := h.engine.SessionActive(context.Background(), sid)
	require.NoError(t, err)
	assert.False(t, active)
}

func TestLogoutFallsBackToRefreshCookie(t *testing.T) {
	h := newHarness(t, nil)
	login := h.signupAndLogin("jay", "jay@example.com", "correct-password-123")
	require.NotNil(t, login.Tokens)

	h.jar["access_token"].Value = "junk"
	rec := h.do(http.MethodPost, "/logout", nil)
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())
	assert.NotContains(t, h.jar, "refresh_token")

	_, active, err := h.engine.SessionActive(context.Background(), login.Tokens.SessionID)
	require.NoError(t, err)
	assert.False(t, active)
}

func TestLogoutWithOnlyInvalidTokensFails(t *testing.T) {
	h := newHarness(t, nil)

	rec := h.do(http.MethodPost, "/logout", nil, func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer junk")
	})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "token_invalid", decode[ErrorResponse](t, rec).Code)
}

func TestRequireAuthUnknownSessionIsUnauthorized(t *testing.T) {
	h := newHarness(t, nil)
	login := h.signupAndLogin("kim", "kim@example.com", "correct-password-123")
	claims, err := h.engine.VerifyToken(login.Tokens.AccessToken)
	require.NoError(t, err)

	pair, err := h.engine.IssueTokens(claims.Subject, "AAAAAAAAAAAAAAAAAAAAAA")
	require.NoError(t, err)

	rec := h.do(http.MethodGet, "/me", nil, func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+pair.AccessToken)
	})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "session_invalid", decode[ErrorResponse](t, rec).Code)

	cleared := map[string]bool{}
	for _, c := range rec.Result().Cookies() {
		if c.MaxAge < 0 {
			cleared[c.Name] = true
		}
	}
	assert.True(t, cleared["access_token"])
	assert.True(t, cleared["refresh_token"])
}

func TestDeviceBindingRejectsForeignDeviceCookie(t *testing.T) {
	h := newHarness(t, func(cfg *waanauth.Config) {
		cfg.DeviceBinding.Enabled = true
		cfg.DeviceBinding.EnforceDeviceID = true
	})
	h.signupAndLogin("lee", "lee@example.com", "correct-password-123")

	rec := h.do(http.MethodGet, "/me", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	swapped := *h.jar["device_id"]
	swapped.Value = "some-other-device"
	h.jar["device_id"] = &swapped

	rec = h.do(http.MethodGet, "/me", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "device_rejected", decode[ErrorResponse](t, rec).Code)
	assert.NotContains(t, h.jar, "access_token")
}

func TestHealthzReportsRedis(t *testing.T) {
	h := newHarness(t, nil)

	rec := h.do(http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.Contains(t, body, "redis_latency_ms")
}
