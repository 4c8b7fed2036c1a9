package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mescon/cadence/internal/logger"
)

// Standard error messages (don't leak internal details)
const (
	ErrMsgNotFound        = "Not found"
	ErrMsgInternalError   = "Internal server error"
	ErrMsgTooManyRequests = "Too many requests"
)

// respondWithError sends a JSON error response and logs the underlying error.
func respondWithError(c *gin.Context, status int, publicMsg string, err error) {
	if err != nil {
		logger.Debugf("%s: %v", publicMsg, err)
	}
	c.AbortWithStatusJSON(status, gin.H{"error": publicMsg})
}

func respondNotFound(c *gin.Context, resource string) {
	c.JSON(http.StatusNotFound, gin.H{"error": resource + " not found"})
}
