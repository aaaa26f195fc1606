package middleware

import (
	"net/http"
	"strings"

	"overlaycast/internal/core/domain"
	"overlaycast/internal/core/ports"

	"github.com/gin-gonic/gin"
)

const credentialKey = "credential"

func bearerToken(c *gin.Context) (string, bool) {
	parts := strings.Split(c.GetHeader("Authorization"), " ")
	if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

// AuthMiddleware requires a valid session credential as a bearer token.
func AuthMiddleware(issuer ports.CredentialIssuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetHeader("Authorization") == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "authorization header required"})
			c.Abort()
			return
		}

		token, ok := bearerToken(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization header format"})
			c.Abort()
			return
		}

		cred, err := issuer.Validate(token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			c.Abort()
			return
		}

		c.Set(credentialKey, cred)
		c.Set("session_name", cred.Topic)
		c.Next()
	}
}

func OptionalAuthMiddleware(issuer ports.CredentialIssuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token, ok := bearerToken(c); ok {
			if cred, err := issuer.Validate(token); err == nil {
				c.Set(credentialKey, cred)
				c.Set("session_name", cred.Topic)
			}
		}
		c.Next()
	}
}

// CredentialFromContext returns the credential stored by AuthMiddleware.
func CredentialFromContext(c *gin.Context) (*domain.Credential, bool) {
	v, ok := c.Get(credentialKey)
	if !ok {
		return nil, false
	}
	cred, ok := v.(*domain.Credential)
	return cred, ok
}

// SessionPermissionMiddleware admits credentials issued for the joined
// session whose role is at most maxRole. Lower role numbers carry more
// privilege; RoleHost is 0.
func SessionPermissionMiddleware(session ports.SessionService, maxRole int) gin.HandlerFunc {
	return func(c *gin.Context) {
		cred, ok := CredentialFromContext(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			c.Abort()
			return
		}

		joined := session.Session()
		if joined == nil {
			c.JSON(http.StatusConflict, gin.H{"error": domain.ErrSessionNotJoined.Error()})
			c.Abort()
			return
		}

		if cred.Topic != joined.Name || cred.RoleType > maxRole {
			c.JSON(http.StatusForbidden, gin.H{"error": "insufficient permissions"})
			c.Abort()
			return
		}

		c.Next()
	}
}
