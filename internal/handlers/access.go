package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tallyhr/accesscore/internal/access"
	"github.com/tallyhr/accesscore/internal/middleware"
	"github.com/tallyhr/accesscore/pkg/errors"
	"github.com/tallyhr/accesscore/pkg/response"
)

// AccessHandler exposes permission and resource checks for the authenticated
// caller.
type AccessHandler struct {
	manager *access.Manager
}

// NewAccessHandler constructs an AccessHandler over the session manager.
func NewAccessHandler(manager *access.Manager) *AccessHandler {
	return &AccessHandler{manager: manager}
}

type checkRequest struct {
	Permission string `json:"permission" validate:"required,min=3,max=128"`
}

type checkBatchRequest struct {
	Permissions []string `json:"permissions" validate:"required,min=1,max=50,dive,min=3,max=128"`
}

type resourceCheckRequest struct {
	Action       string `json:"action" validate:"required,min=2,max=64"`
	ResourceType string `json:"resource_type" validate:"required"`
	ResourceID   string `json:"resource_id" validate:"required"`
	Scope        string `json:"scope" validate:"required,oneof=own department all"`
}

type resourceFilterRequest struct {
	Action       string   `json:"action" validate:"required,min=2,max=64"`
	ResourceType string   `json:"resource_type" validate:"required"`
	ResourceIDs  []string `json:"resource_ids" validate:"required,min=1,max=200"`
	Scope        string   `json:"scope" validate:"required,oneof=own department all"`
}

type decisionPayload struct {
	Permission  string    `json:"permission,omitempty"`
	Allowed     bool      `json:"allowed"`
	Reason      string    `json:"reason,omitempty"`
	EvaluatedAt time.Time `json:"evaluated_at"`
}

func decisionFrom(permission access.Permission, result access.PermissionResult) decisionPayload {
	return decisionPayload{
		Permission:  string(permission),
		Allowed:     result.Allowed,
		Reason:      result.Reason,
		EvaluatedAt: result.EvaluatedAt,
	}
}

func (h *AccessHandler) session(c *gin.Context) (*access.Session, bool) {
	id, ok := middleware.CallerIdentity(c)
	if !ok {
		response.Error(c, errors.ErrUnauthorized)
		return nil, false
	}

	session, err := h.manager.Session(c.Request.Context(), id)
	if err != nil {
		response.Error(c, errors.Wrap(err, "session unavailable"))
		return nil, false
	}
	return session, true
}

// POST /api/access/check
func (h *AccessHandler) Check(c *gin.Context) {
	var body checkRequest
	if !bindAndValidate(c, &body) {
		return
	}

	session, ok := h.session(c)
	if !ok {
		return
	}

	result, err := session.CheckPermission(c.Request.Context(), access.Permission(body.Permission))
	if err != nil {
		response.Error(c, errors.Wrap(err, "permission check failed"))
		return
	}

	response.Success(c, http.StatusOK, decisionFrom(access.Permission(body.Permission), result))
}

// POST /api/access/check-batch
func (h *AccessHandler) CheckBatch(c *gin.Context) {
	var body checkBatchRequest
	if !bindAndValidate(c, &body) {
		return
	}

	session, ok := h.session(c)
	if !ok {
		return
	}

	permissions := make([]access.Permission, 0, len(body.Permissions))
	for _, p := range body.Permissions {
		permissions = append(permissions, access.Permission(p))
	}

	results, err := session.CheckMultiplePermissions(c.Request.Context(), permissions)
	if err != nil {
		response.Error(c, errors.Wrap(err, "permission check failed"))
		return
	}

	payload := make(map[string]decisionPayload, len(results))
	for permission, result := range results {
		payload[string(permission)] = decisionFrom("", result)
	}
	response.Success(c, http.StatusOK, payload)
}

// GET /api/access/grants/:permission
//
// Answers from the session cache only; it never calls the policy backend.
func (h *AccessHandler) Granted(c *gin.Context) {
	permission := access.Permission(c.Param("permission"))
	if err := permission.Validate(); err != nil {
		response.Error(c, errors.NewBadRequest("invalid permission name"))
		return
	}

	session, ok := h.session(c)
	if !ok {
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"permission": string(permission),
		"granted":    session.HasPermission(permission),
	})
}

// POST /api/access/resource-check
func (h *AccessHandler) ResourceCheck(c *gin.Context) {
	var body resourceCheckRequest
	if !bindAndValidate(c, &body) {
		return
	}

	session, ok := h.session(c)
	if !ok {
		return
	}

	result, err := session.CheckResourceAccess(c.Request.Context(),
		body.Action, access.ResourceType(body.ResourceType), body.ResourceID, access.Scope(body.Scope))
	if err != nil {
		response.Error(c, errors.Wrap(err, "resource access check failed"))
		return
	}

	response.Success(c, http.StatusOK, decisionFrom("", result))
}

// POST /api/access/resource-filter
func (h *AccessHandler) ResourceFilter(c *gin.Context) {
	var body resourceFilterRequest
	if !bindAndValidate(c, &body) {
		return
	}

	session, ok := h.session(c)
	if !ok {
		return
	}

	ids, err := session.AccessibleIDs(c.Request.Context(),
		body.Action, access.ResourceType(body.ResourceType), body.ResourceIDs, access.Scope(body.Scope))
	if err != nil {
		response.Error(c, errors.Wrap(err, "resource filter failed"))
		return
	}

	response.Success(c, http.StatusOK, gin.H{"resource_ids": ids})
}
