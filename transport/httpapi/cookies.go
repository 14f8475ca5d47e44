package httpapi

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/waanverse/waanauth"
)

func (s *Server) setCookie(c *gin.Context, name, value string, maxAge time.Duration) {
	cc := s.cfg.Cookies
	c.SetSameSite(cc.SameSite)
	c.SetCookie(name, value, int(maxAge.Seconds()), cc.Path, cc.Domain, cc.Secure, cc.HTTPOnly)
}

func (s *Server) clearCookie(c *gin.Context, name string) {
	cc := s.cfg.Cookies
	c.SetSameSite(cc.SameSite)
	c.SetCookie(name, "", -1, cc.Path, cc.Domain, cc.Secure, cc.HTTPOnly)
}

// setTokenCookies writes the access, refresh and device cookies.
func (s *Server) setTokenCookies(c *gin.Context, tokens *waanauth.TokenPair, deviceID string) {
	now := time.Now()
	s.setCookie(c, s.cfg.Cookies.AccessName, tokens.AccessToken, tokens.AccessExpiresAt.Sub(now))
	if tokens.RefreshToken != "" {
		s.setCookie(c, s.cfg.Cookies.RefreshName, tokens.RefreshToken, tokens.RefreshExpiresAt.Sub(now))
	}
	if deviceID != "" {
		s.setCookie(c, s.cfg.Cookies.DeviceName, deviceID, s.cfg.Cookies.DeviceMaxAge)
	}
}

// clearAuthCookies drops the token and MFA cookies. The device cookie is
// kept so the next login reuses the device id.
func (s *Server) clearAuthCookies(c *gin.Context) {
	s.clearCookie(c, s.cfg.Cookies.AccessName)
	s.clearCookie(c, s.cfg.Cookies.RefreshName)
	s.clearCookie(c, s.cfg.Cookies.MFAName)
}

func cookieValue(c *gin.Context, name string) string {
	v, err := c.Cookie(name)
	if err != nil {
		return ""
	}
	return v
}
