package middleware

import (
	stderrors "errors"
	"net/http"

	"overlaycast/internal/core/domain"
	"overlaycast/pkg/errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// domainStatus maps session sentinels that reach handlers unwrapped.
var domainStatus = []struct {
	err    error
	status int
}{
	{domain.ErrSessionNotJoined, http.StatusConflict},
	{domain.ErrAlreadyJoined, http.StatusConflict},
	{domain.ErrSessionBusy, http.StatusConflict},
	{domain.ErrInvalidCredential, http.StatusUnauthorized},
	{domain.ErrExpiredCredential, http.StatusUnauthorized},
	{domain.ErrChannelClosed, http.StatusServiceUnavailable},
	{domain.ErrPipelineStopped, http.StatusServiceUnavailable},
}

// ErrorHandlerMiddleware handles application errors and returns appropriate HTTP responses
func ErrorHandlerMiddleware(logger *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}
		err := c.Errors.Last().Err

		if appErr := errors.GetAppError(err); appErr != nil {
			logger.Errorw("Application error",
				"code", appErr.Code,
				"message", appErr.Message,
				"status", appErr.HTTPStatus,
				"path", c.Request.URL.Path,
				"method", c.Request.Method,
				"context", appErr.Context,
			)

			c.JSON(appErr.HTTPStatus, gin.H{
				"error":   string(appErr.Code),
				"message": appErr.Message,
				"details": appErr.Context,
			})
			return
		}

		for _, m := range domainStatus {
			if stderrors.Is(err, m.err) {
				logger.Warnw("Request rejected",
					"error", err.Error(),
					"status", m.status,
					"path", c.Request.URL.Path,
				)
				c.JSON(m.status, gin.H{"error": err.Error()})
				return
			}
		}

		logger.Errorw("Unhandled error",
			"error", err.Error(),
			"path", c.Request.URL.Path,
			"method", c.Request.Method,
		)

		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   string(errors.ErrCodeInternal),
			"message": "Internal server error",
		})
	}
}

// RecoveryMiddleware recovers from panics and returns proper error responses
func RecoveryMiddleware(logger *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				logger.Errorw("Panic recovered",
					"error", err,
					"path", c.Request.URL.Path,
					"method", c.Request.Method,
				)

				c.JSON(http.StatusInternalServerError, gin.H{
					"error":   string(errors.ErrCodeInternal),
					"message": "Internal server error",
				})
				c.Abort()
			}
		}()

		c.Next()
	}
}
