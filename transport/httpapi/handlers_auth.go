package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/waanverse/waanauth"
)

type loginRequest struct {
	Identifier string `json:"identifier" binding:"required,max=320"`
	Password   string `json:"password" binding:"required,max=1024"`
}

type loginCodeRequest struct {
	Identifier string `json:"identifier" binding:"required,max=320"`
}

type loginCodeVerifyRequest struct {
	Identifier string `json:"identifier" binding:"required,max=320"`
	Code       string `json:"code" binding:"required,max=32"`
}

type mfaLoginRequest struct {
	Code string `json:"code" binding:"required,max=32"`
	// Challenge may be omitted when the mfa_pending cookie is sent.
	Challenge string `json:"challenge"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type tokenResponse struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
	SessionID        string    `json:"session_id"`
}

type loginResponse struct {
	IdentityID   string         `json:"identity_id,omitempty"`
	Method       string         `json:"method,omitempty"`
	DeviceID     string         `json:"device_id,omitempty"`
	Tokens       *tokenResponse `json:"tokens,omitempty"`
	MFARequired  bool           `json:"mfa_required"`
	MFAChallenge string         `json:"mfa_challenge,omitempty"`
}

func newTokenResponse(t *waanauth.TokenPair) *tokenResponse {
	return &tokenResponse{
		AccessToken:      t.AccessToken,
		RefreshToken:     t.RefreshToken,
		AccessExpiresAt:  t.AccessExpiresAt,
		RefreshExpiresAt: t.RefreshExpiresAt,
		SessionID:        t.SessionID,
	}
}

func (s *Server) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	res, err := s.engine.Login(c.Request.Context(), req.Identifier, req.Password)
	if err != nil {
		s.respondError(c, err)
		return
	}
	s.writeLogin(c, res)
}

func (s *Server) requestLoginCode(c *gin.Context) {
	var req loginCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := s.engine.RequestLoginCode(c.Request.Context(), req.Identifier); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "sent"})
}

func (s *Server) loginWithCode(c *gin.Context) {
	var req loginCodeVerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	res, err := s.engine.LoginWithCode(c.Request.Context(), req.Identifier, req.Code)
	if err != nil {
		s.respondError(c, err)
		return
	}
	s.writeLogin(c, res)
}

func (s *Server) mfaLogin(c *gin.Context) {
	var req mfaLoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	challenge := req.Challenge
	if challenge == "" {
		challenge = cookieValue(c, s.cfg.Cookies.MFAName)
	}
	res, err := s.engine.CompleteMFALogin(c.Request.Context(), challenge, req.Code)
	if err != nil {
		s.respondError(c, err)
		return
	}
	s.clearCookie(c, s.cfg.Cookies.MFAName)
	s.writeLogin(c, res)
}

// writeLogin answers 202 with the challenge when a second factor is
// pending, 200 with tokens otherwise.
func (s *Server) writeLogin(c *gin.Context, res *waanauth.LoginResult) {
	if res.MFARequired {
		s.setCookie(c, s.cfg.Cookies.MFAName, res.MFAChallenge, s.cfg.MFA.ChallengeTTL)
		c.JSON(http.StatusAccepted, loginResponse{
			MFARequired:  true,
			MFAChallenge: res.MFAChallenge,
		})
		return
	}
	s.setTokenCookies(c, res.Tokens, res.DeviceID)
	c.JSON(http.StatusOK, loginResponse{
		IdentityID: res.Identity.ID,
		Method:     string(res.Method),
		DeviceID:   res.DeviceID,
		Tokens:     newTokenResponse(res.Tokens),
	})
}

func (s *Server) refresh(c *gin.Context) {
	var req refreshRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
	}
	token := req.RefreshToken
	if token == "" {
		token = cookieValue(c, s.cfg.Cookies.RefreshName)
	}
	tokens, err := s.engine.Refresh(c.Request.Context(), token)
	if err != nil {
		s.respondError(c, err)
		return
	}
	s.setTokenCookies(c, tokens, "")
	c.JSON(http.StatusOK, newTokenResponse(tokens))
}

// logout revokes the session named by whichever token the caller holds and
// always clears the cookies.
func (s *Server) logout(c *gin.Context) {
	var tokens []string
	for _, t := range []string{
		bearerToken(c),
		cookieValue(c, s.cfg.Cookies.AccessName),
		cookieValue(c, s.cfg.Cookies.RefreshName),
	} {
		if t != "" {
			tokens = append(tokens, t)
		}
	}
	s.clearAuthCookies(c)
	if len(tokens) == 0 {
		c.Status(http.StatusNoContent)
		return
	}

	var firstErr error
	for _, t := range tokens {
		err := s.engine.LogoutToken(c.Request.Context(), t)
		if err == nil {
			c.Status(http.StatusNoContent)
			return
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	s.respondError(c, firstErr)
}
