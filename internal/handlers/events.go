package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tallyhr/accesscore/internal/access"
	"github.com/tallyhr/accesscore/internal/events"
	"github.com/tallyhr/accesscore/internal/realtime"
	"github.com/tallyhr/accesscore/pkg/errors"
	"github.com/tallyhr/accesscore/pkg/response"
)

// EventHandler accepts domain events from upstream services and turns them
// into cache invalidations.
type EventHandler struct {
	invalidator *events.Invalidator
	feed        *realtime.LocalFeed
}

// NewEventHandler constructs an EventHandler. The feed is optional; when nil,
// permission invalidation pushes are rejected.
func NewEventHandler(invalidator *events.Invalidator, feed *realtime.LocalFeed) *EventHandler {
	return &EventHandler{invalidator: invalidator, feed: feed}
}

type domainEventRequest struct {
	Event   string            `json:"event" validate:"required,min=3,max=64"`
	Context map[string]string `json:"context,omitempty"`
}

type invalidationRequest struct {
	UserID     string `json:"user_id" validate:"required"`
	Permission string `json:"permission,omitempty"`
}

// POST /api/events
func (h *EventHandler) Publish(c *gin.Context) {
	var body domainEventRequest
	if !bindAndValidate(c, &body) {
		return
	}

	if err := h.invalidator.InvalidateByEvent(c.Request.Context(), body.Event, events.Context(body.Context)); err != nil {
		response.Error(c, errors.Wrap(err, "event processing failed"))
		return
	}

	response.Success(c, http.StatusAccepted, gin.H{"event": body.Event})
}

// POST /api/invalidations
//
// Pushes a permission invalidation to the user's live sessions.
func (h *EventHandler) PushInvalidation(c *gin.Context) {
	if h.feed == nil {
		response.Error(c, errors.New("FEED_DISABLED", "realtime feed is not enabled", http.StatusConflict))
		return
	}

	var body invalidationRequest
	if !bindAndValidate(c, &body) {
		return
	}

	if body.Permission != "" {
		if err := access.Permission(body.Permission).Validate(); err != nil {
			response.Error(c, errors.NewBadRequest("invalid permission name"))
			return
		}
	}

	h.feed.Publish(access.InvalidationEvent{
		UserID:     body.UserID,
		Permission: access.Permission(body.Permission),
	})
	response.Success(c, http.StatusAccepted, gin.H{"user_id": body.UserID})
}
