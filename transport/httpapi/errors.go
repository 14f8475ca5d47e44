package httpapi

import (
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/waanverse/waanauth"
)

// ErrorResponse is the JSON body of every failed request.
type ErrorResponse struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	RetryAfter int    `json:"retry_after,omitempty"`
}

// errorCase maps a sentinel error to a status and a stable code.
type errorCase struct {
	Err     error
	Status  int
	Code    string
	Message string
	// ClearCookies drops every auth cookie; set for token failures.
	ClearCookies bool
}

var errorCases = []errorCase{
	{waanauth.ErrInvalidCredentials, http.StatusUnauthorized, "invalid_credentials", "Invalid credentials.", false},
	{waanauth.ErrInactiveAccount, http.StatusForbidden, "account_inactive", "Account is not active.", false},
	{waanauth.ErrInvalidPassword, http.StatusUnauthorized, "invalid_password", "Password is incorrect.", false},
	{waanauth.ErrPasswordPolicy, http.StatusUnprocessableEntity, "password_policy", "Password does not meet the policy.", false},
	{waanauth.ErrCodeExpired, http.StatusBadRequest, "code_expired", "Code has expired.", false},
	{waanauth.ErrCodeInvalid, http.StatusBadRequest, "code_invalid", "Code is invalid.", false},
	{waanauth.ErrTooManyRequests, http.StatusTooManyRequests, "too_many_requests", "Too many requests.", false},
	{waanauth.ErrReusedRefreshToken, http.StatusUnauthorized, "refresh_token_reused", "Refresh token was already used.", true},
	{waanauth.ErrInvalidRefreshToken, http.StatusUnauthorized, "invalid_refresh_token", "Refresh token is invalid.", true},
	{waanauth.ErrTokenExpired, http.StatusUnauthorized, "token_expired", "Token has expired.", true},
	{waanauth.ErrTokenBadSignature, http.StatusUnauthorized, "token_invalid", "Token is invalid.", true},
	{waanauth.ErrTokenMalformed, http.StatusUnauthorized, "token_invalid", "Token is invalid.", true},
	{waanauth.ErrSessionRevoked, http.StatusUnauthorized, "session_revoked", "Session has been revoked.", true},
	{waanauth.ErrDeviceBindingRejected, http.StatusUnauthorized, "device_rejected", "Request does not match the signed-in device.", true},
	{waanauth.ErrSessionNotFound, http.StatusNotFound, "session_not_found", "Session not found.", false},
	{waanauth.ErrMFARequired, http.StatusUnauthorized, "mfa_required", "A second factor is required.", false},
	{waanauth.ErrMFAInvalidCode, http.StatusUnauthorized, "mfa_invalid_code", "Authentication code is invalid.", false},
	{waanauth.ErrMFAChallengeInvalid, http.StatusUnauthorized, "mfa_challenge_invalid", "Login attempt expired; sign in again.", false},
	{waanauth.ErrMFANotActive, http.StatusConflict, "mfa_not_active", "Two-factor authentication is not active.", false},
	{waanauth.ErrMFAAlreadyActive, http.StatusConflict, "mfa_already_active", "Two-factor authentication is already active.", false},
	{waanauth.ErrSignupDisabled, http.StatusForbidden, "signup_disabled", "Signup is disabled.", false},
	{waanauth.ErrIdentifierReserved, http.StatusConflict, "identifier_unavailable", "Identifier is unavailable.", false},
	{waanauth.ErrIdentifierTaken, http.StatusConflict, "identifier_unavailable", "Identifier is unavailable.", false},
	{waanauth.ErrInvalidRequest, http.StatusBadRequest, "invalid_request", "Request is invalid.", false},
	{waanauth.ErrIdentityNotFound, http.StatusNotFound, "not_found", "Not found.", false},
	{waanauth.ErrEngineNotReady, http.StatusNotImplemented, "not_available", "Feature is not available.", false},
}

// authErrorCases take precedence on routes behind requireAuth, where a
// missing session means the presented token is dead rather than that a
// resource is absent.
var authErrorCases = []errorCase{
	{waanauth.ErrSessionNotFound, http.StatusUnauthorized, "session_invalid", "Session is no longer valid.", true},
}

func (s *Server) respondError(c *gin.Context, err error) {
	if cs, ok := matchErrorCase(errorCases, err); ok {
		s.writeErrorCase(c, cs, err)
		return
	}

	s.logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	_ = c.Error(err)
	c.AbortWithStatusJSON(http.StatusInternalServerError, ErrorResponse{
		Code:    "internal_error",
		Message: "Something went wrong.",
	})
}

func (s *Server) respondAuthError(c *gin.Context, err error) {
	if cs, ok := matchErrorCase(authErrorCases, err); ok {
		s.writeErrorCase(c, cs, err)
		return
	}
	s.respondError(c, err)
}

func matchErrorCase(cases []errorCase, err error) (errorCase, bool) {
	for _, cs := range cases {
		if errors.Is(err, cs.Err) {
			return cs, true
		}
	}
	return errorCase{}, false
}

func (s *Server) writeErrorCase(c *gin.Context, cs errorCase, err error) {
	if cs.ClearCookies {
		s.clearAuthCookies(c)
	}
	body := ErrorResponse{Code: cs.Code, Message: cs.Message}
	if retry, ok := waanauth.RetryAfter(err); ok {
		seconds := int(math.Ceil(retry.Seconds()))
		if seconds < 1 {
			seconds = 1
		}
		body.RetryAfter = seconds
		c.Header("Retry-After", strconv.Itoa(seconds))
	}
	if cs.Code == "password_policy" {
		body.Message = err.Error()
	}
	c.AbortWithStatusJSON(cs.Status, body)
}

func badRequest(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{
		Code:    "invalid_request",
		Message: err.Error(),
	})
}
