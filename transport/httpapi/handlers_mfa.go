package httpapi

import (
	"encoding/base64"
	"net/http"

	"github.com/gin-gonic/gin"
)

type mfaCodeRequest struct {
	Code string `json:"code" binding:"required,max=32"`
}

type mfaDeactivateRequest struct {
	Password string `json:"password" binding:"required,max=1024"`
	Code     string `json:"code" binding:"required,max=32"`
}

func (s *Server) mfaEnroll(c *gin.Context) {
	p := principalFrom(c)
	enrollment, err := s.engine.BeginMFAEnrollment(c.Request.Context(), p.IdentityID)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"secret":           enrollment.Secret,
		"provisioning_uri": enrollment.ProvisioningURI,
		"qr_png":           base64.StdEncoding.EncodeToString(enrollment.QRPNG),
	})
}

func (s *Server) mfaActivate(c *gin.Context) {
	var req mfaCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	p := principalFrom(c)
	codes, err := s.engine.ActivateMFA(c.Request.Context(), p.IdentityID, req.Code)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"recovery_codes": codes})
}

func (s *Server) mfaDeactivate(c *gin.Context) {
	var req mfaDeactivateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	p := principalFrom(c)
	if err := s.engine.DeactivateMFA(c.Request.Context(), p.IdentityID, req.Password, req.Code); err != nil {
		s.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) mfaRecoveryCodes(c *gin.Context) {
	var req mfaCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	p := principalFrom(c)
	codes, err := s.engine.RegenerateRecoveryCodes(c.Request.Context(), p.IdentityID, req.Code)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"recovery_codes": codes})
}

func (s *Server) mfaStatus(c *gin.Context) {
	p := principalFrom(c)
	status, err := s.engine.MFAStatus(c.Request.Context(), p.IdentityID)
	if err != nil {
		s.respondError(c, err)
		return
	}
	resp := gin.H{
		"activated":                status.Activated,
		"recovery_codes_remaining": status.RecoveryCodesRemaining,
	}
	if !status.ActivatedAt.IsZero() {
		resp["activated_at"] = status.ActivatedAt
	}
	c.JSON(http.StatusOK, resp)
}
