package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/waanverse/waanauth"
)

type signupRequest struct {
	Username string `json:"username" binding:"required,max=64"`
	Email    string `json:"email" binding:"omitempty,email,max=320"`
	Phone    string `json:"phone" binding:"omitempty,max=32"`
	Password string `json:"password" binding:"required,max=1024"`
}

type verifyEmailRequest struct {
	Email string `json:"email" binding:"required,email"`
	Code  string `json:"code" binding:"required,max=32"`
}

type verifyPhoneRequest struct {
	Phone string `json:"phone" binding:"required,max=32"`
	Code  string `json:"code" binding:"required,max=32"`
}

type resendRequest struct {
	Email string `json:"email" binding:"required,email"`
}

type resetInitiateRequest struct {
	Identifier string `json:"identifier" binding:"required,max=320"`
}

type resetConfirmRequest struct {
	Identifier  string `json:"identifier" binding:"required,max=320"`
	Code        string `json:"code" binding:"required,max=32"`
	NewPassword string `json:"new_password" binding:"required,max=1024"`
}

type identityResponse struct {
	ID            string     `json:"id"`
	Username      string     `json:"username"`
	Email         string     `json:"email,omitempty"`
	Phone         string     `json:"phone,omitempty"`
	EmailVerified bool       `json:"email_verified"`
	PhoneVerified bool       `json:"phone_verified"`
	IsActive      bool       `json:"is_active"`
	LastLogin     *time.Time `json:"last_login,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

func newIdentityResponse(id *waanauth.Identity) identityResponse {
	out := identityResponse{
		ID:            id.ID,
		Username:      id.Username,
		Email:         id.Email,
		Phone:         id.Phone,
		EmailVerified: id.EmailVerified,
		PhoneVerified: id.PhoneVerified,
		IsActive:      id.IsActive,
		CreatedAt:     id.CreatedAt,
	}
	if !id.LastLogin.IsZero() {
		last := id.LastLogin
		out.LastLogin = &last
	}
	return out
}

type sessionResponse struct {
	ID          string     `json:"id"`
	DeviceID    string     `json:"device_id,omitempty"`
	IPAddress   string     `json:"ip_address,omitempty"`
	UserAgent   string     `json:"user_agent,omitempty"`
	LoginMethod string     `json:"login_method,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	LastUsed    time.Time  `json:"last_used"`
	RevokedAt   *time.Time `json:"revoked_at,omitempty"`
	Active      bool       `json:"active"`
	Current     bool       `json:"current"`
}

func newSessionResponse(sess *waanauth.Session, currentID string) sessionResponse {
	out := sessionResponse{
		ID:          sess.ID,
		DeviceID:    sess.DeviceID,
		IPAddress:   sess.IPAddress,
		UserAgent:   sess.UserAgent,
		LoginMethod: sess.LoginMethod,
		CreatedAt:   sess.CreatedAt,
		LastUsed:    sess.LastUsed,
		Active:      sess.IsActive,
		Current:     sess.ID == currentID,
	}
	if !sess.RevokedAt.IsZero() {
		revoked := sess.RevokedAt
		out.RevokedAt = &revoked
	}
	return out
}

func (s *Server) signup(c *gin.Context) {
	var req signupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	res, err := s.engine.Signup(c.Request.Context(), waanauth.SignupRequest{
		Username: req.Username,
		Email:    req.Email,
		Phone:    req.Phone,
		Password: req.Password,
	})
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"identity":        newIdentityResponse(res.Identity),
		"channel":         res.Channel,
		"code_expires_at": res.CodeExpires,
	})
}

func (s *Server) verifyEmail(c *gin.Context) {
	var req verifyEmailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	identity, err := s.engine.VerifyEmail(c.Request.Context(), req.Email, req.Code)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newIdentityResponse(identity))
}

func (s *Server) verifyPhone(c *gin.Context) {
	var req verifyPhoneRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	identity, err := s.engine.VerifyPhone(c.Request.Context(), req.Phone, req.Code)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newIdentityResponse(identity))
}

func (s *Server) resendEmailVerification(c *gin.Context) {
	var req resendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := s.engine.ResendEmailVerification(c.Request.Context(), req.Email); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "sent"})
}

func (s *Server) initiatePasswordReset(c *gin.Context) {
	var req resetInitiateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := s.engine.RequestPasswordReset(c.Request.Context(), req.Identifier); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "sent"})
}

func (s *Server) confirmPasswordReset(c *gin.Context) {
	var req resetConfirmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := s.engine.ConfirmPasswordReset(c.Request.Context(), req.Identifier, req.Code, req.NewPassword); err != nil {
		s.respondError(c, err)
		return
	}
	s.clearAuthCookies(c)
	c.JSON(http.StatusOK, gin.H{"status": "password_changed"})
}

func (s *Server) me(c *gin.Context) {
	p := principalFrom(c)
	identity, err := s.engine.GetIdentity(c.Request.Context(), p.IdentityID)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newIdentityResponse(identity))
}

func (s *Server) deviceInfo(c *gin.Context) {
	p := principalFrom(c)
	resp := gin.H{
		"device_id":  cookieValue(c, s.cfg.Cookies.DeviceName),
		"client_ip":  c.GetString(clientIPKey),
		"user_agent": c.Request.UserAgent(),
		"session_id": p.SessionID,
	}
	if p.Session != nil {
		resp["session"] = newSessionResponse(p.Session, p.SessionID)
		if resp["device_id"] == "" {
			resp["device_id"] = p.Session.DeviceID
		}
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) listSessions(c *gin.Context) {
	p := principalFrom(c)
	sessions, err := s.engine.ListSessions(c.Request.Context(), p.IdentityID)
	if err != nil {
		s.respondError(c, err)
		return
	}
	out := make([]sessionResponse, 0, len(sessions))
	for i := range sessions {
		out = append(out, newSessionResponse(&sessions[i], p.SessionID))
	}
	c.JSON(http.StatusOK, gin.H{"sessions": out})
}

func (s *Server) revokeSession(c *gin.Context) {
	p := principalFrom(c)
	id := c.Param("id")
	if err := s.engine.RevokeSession(c.Request.Context(), p.IdentityID, id); err != nil {
		s.respondError(c, err)
		return
	}
	if id == p.SessionID {
		s.clearAuthCookies(c)
	}
	c.Status(http.StatusNoContent)
}
