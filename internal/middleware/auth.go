package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tallyhr/accesscore/internal/access"
	"github.com/tallyhr/accesscore/internal/identity"
	"github.com/tallyhr/accesscore/pkg/errors"
	"github.com/tallyhr/accesscore/pkg/response"
)

const (
	CtxIdentityKey = "accessIdentity"
	CtxUserIDKey   = "userID"
)

// Auth enforces JWT authentication and stores the caller's identity on the
// request context.
func Auth(tokens *identity.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		authz := c.GetHeader("Authorization")
		if len(authz) < 8 || !strings.EqualFold(authz[:7], "Bearer ") {
			response.Error(c, errors.ErrUnauthorized)
			c.Abort()
			return
		}

		token := strings.TrimSpace(authz[7:])
		claims, err := tokens.Validate(token)
		if err != nil {
			// Normalise all validation failures to 401
			c.Header("WWW-Authenticate", "Bearer")
			response.Error(c, errors.ErrUnauthorized)
			c.Abort()
			return
		}

		c.Set(CtxIdentityKey, claims.Identity())
		c.Set(CtxUserIDKey, claims.UserID)

		c.Next()
	}
}

// CallerIdentity extracts the identity stored by Auth.
func CallerIdentity(c *gin.Context) (access.Identity, bool) {
	v, ok := c.Get(CtxIdentityKey)
	if !ok {
		return access.Identity{}, false
	}
	id, ok := v.(access.Identity)
	return id, ok
}
