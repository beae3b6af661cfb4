package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tallyhr/accesscore/internal/access"
	"github.com/tallyhr/accesscore/pkg/errors"
	"github.com/tallyhr/accesscore/pkg/response"
)

// SessionHandler exposes administrative control over live permission sessions.
type SessionHandler struct {
	manager *access.Manager
}

// NewSessionHandler constructs a SessionHandler.
func NewSessionHandler(manager *access.Manager) *SessionHandler {
	return &SessionHandler{manager: manager}
}

// DELETE /api/sessions/:user_id
//
// Drops the user's session so the next check rebuilds it from scratch.
func (h *SessionHandler) Evict(c *gin.Context) {
	userID := c.Param("user_id")
	if userID == "" {
		response.Error(c, errors.NewBadRequest("missing user identifier"))
		return
	}

	h.manager.Evict(userID)
	response.Success(c, http.StatusOK, gin.H{"user_id": userID})
}
