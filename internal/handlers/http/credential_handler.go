package http

import (
	"net/http"
	"strings"
	"time"

	"overlaycast/internal/core/ports"
	"overlaycast/pkg/errors"
	"overlaycast/pkg/validation"

	"github.com/gin-gonic/gin"
)

// CredentialHandler issues and inspects session credentials.
type CredentialHandler struct {
	issuer     ports.CredentialIssuer
	defaultTTL time.Duration
}

func NewCredentialHandler(issuer ports.CredentialIssuer, defaultTTL time.Duration) *CredentialHandler {
	return &CredentialHandler{
		issuer:     issuer,
		defaultTTL: defaultTTL,
	}
}

func (h *CredentialHandler) SetupRoutes(router *gin.Engine) {
	api := router.Group("/api/v1/credentials")
	{
		api.POST("", h.Issue)
		api.POST("/verify", h.Verify)
	}
}

type IssueCredentialRequest struct {
	SessionName  string  `json:"session_name" binding:"required"`
	Role         int     `json:"role"`
	ExpiresHours float64 `json:"expires_hours"`
}

type VerifyCredentialRequest struct {
	Token string `json:"token" binding:"required,max=4096"`
}

func (h *CredentialHandler) Issue(c *gin.Context) {
	var req IssueCredentialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errors.NewInvalidInputError("invalid request format"))
		return
	}
	req.SessionName = strings.TrimSpace(req.SessionName)

	ttl := h.defaultTTL
	if req.ExpiresHours != 0 {
		if err := validation.ValidateExpiryHours(req.ExpiresHours); err != nil {
			c.Error(errors.NewInvalidInputError(err.Error()))
			return
		}
		ttl = time.Duration(req.ExpiresHours * float64(time.Hour))
	}

	token, cred, err := h.issuer.Issue(req.SessionName, req.Role, ttl)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"token":        token,
		"session_name": cred.Topic,
		"role":         cred.RoleType,
		"issued_at":    cred.IssuedAt,
		"expires_at":   cred.ExpiresAt,
		"expires_in":   int64(cred.Lifetime().Seconds()),
	})
}

func (h *CredentialHandler) Verify(c *gin.Context) {
	var req VerifyCredentialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errors.NewInvalidInputError("invalid request format"))
		return
	}

	cred, err := h.issuer.Validate(req.Token)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"valid":      true,
		"credential": cred,
	})
}
