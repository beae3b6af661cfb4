package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/tallyhr/accesscore/internal/access"
	"github.com/tallyhr/accesscore/pkg/errors"
	"github.com/tallyhr/accesscore/pkg/response"
)

// RequirePermission checks that the authenticated user holds the permission
// before letting the request through.
func RequirePermission(manager *access.Manager, permission access.Permission) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := CallerIdentity(c)
		if !ok {
			response.Error(c, errors.ErrUnauthorized)
			c.Abort()
			return
		}

		session, err := manager.Session(c.Request.Context(), id)
		if err != nil {
			response.Error(c, errors.Wrap(err, "permission check failed"))
			c.Abort()
			return
		}

		result, err := session.CheckPermission(c.Request.Context(), permission)
		if err != nil {
			response.Error(c, errors.Wrap(err, "permission check failed"))
			c.Abort()
			return
		}
		if !result.Allowed {
			response.Error(c, errors.ErrForbidden)
			c.Abort()
			return
		}

		c.Next()
	}
}

// RequireResourceAccess guards a route on a scoped resource check. The
// resource ID is read from the named route parameter.
func RequireResourceAccess(manager *access.Manager, action string, resourceType access.ResourceType, scope access.Scope, param string) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := CallerIdentity(c)
		if !ok {
			response.Error(c, errors.ErrUnauthorized)
			c.Abort()
			return
		}

		resourceID := c.Param(param)
		if resourceID == "" {
			response.Error(c, errors.NewBadRequest("missing resource identifier"))
			c.Abort()
			return
		}

		session, err := manager.Session(c.Request.Context(), id)
		if err != nil {
			response.Error(c, errors.Wrap(err, "resource access check failed"))
			c.Abort()
			return
		}

		result, err := session.CheckResourceAccess(c.Request.Context(), action, resourceType, resourceID, scope)
		if err != nil {
			response.Error(c, errors.Wrap(err, "resource access check failed"))
			c.Abort()
			return
		}
		if !result.Allowed {
			response.Error(c, errors.ErrForbidden)
			c.Abort()
			return
		}

		c.Next()
	}
}
