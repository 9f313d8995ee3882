package api

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/missioncontrol/core/internal/common/apperr"
)

// BearerAuth enforces the shared bearer token from section 6/7: missing
// token -> 401, mismatch -> 403. A blank configured token disables auth
// entirely (used for local development).
func BearerAuth(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token == "" {
			c.Next()
			return
		}
		header := c.GetHeader("Authorization")
		if header == "" {
			writeAppError(c, apperr.Unauthorized("missing bearer token"))
			c.Abort()
			return
		}
		const prefix = "Bearer "
		if !strings.HasPrefix(header, prefix) || strings.TrimPrefix(header, prefix) != token {
			writeAppError(c, apperr.Forbidden("invalid bearer token"))
			c.Abort()
			return
		}
		c.Next()
	}
}

func writeAppError(c *gin.Context, appErr *apperr.AppError) {
	if appErr.Code == "VALIDATION_ERROR" {
		c.JSON(appErr.HTTPStatus, apperr.NewDetailBody(appErr.Errors))
		return
	}
	c.JSON(appErr.HTTPStatus, gin.H{"code": appErr.Code, "message": appErr.Message})
}

func respondError(c *gin.Context, err error) {
	appErr, ok := err.(*apperr.AppError)
	if !ok {
		writeAppError(c, apperr.Internal("internal error", err))
		return
	}
	writeAppError(c, appErr)
}
