package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/agentarena/agentarena/internal/common/logger"
	"github.com/agentarena/agentarena/internal/group/store"
)

// handleStoreError maps store errors onto HTTP status codes. Unknown
// errors are logged and reported as a generic 500.
func handleStoreError(c *gin.Context, log *logger.Logger, err error, fallback string) {
	if errors.Is(err, store.ErrGroupNotFound) || errors.Is(err, store.ErrMemberNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": fallback})
		return
	}
	log.Error("request failed", zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "request failed"})
}

func isGroupNotFound(err error) bool {
	return errors.Is(err, store.ErrGroupNotFound)
}
