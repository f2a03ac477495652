// File: internal/common/context_helpers.go
package common

import (
	"strings"

	"github.com/gin-gonic/gin"
)

// GetTokenFromContext retrieves the bearer token from the Authorization header, falling
// back to the access_token query parameter. Returns an empty string if not found.
func GetTokenFromContext(c *gin.Context) string {
	authHeader := c.GetHeader(AuthorizationHeader)
	if authHeader == "" {
		return c.Query(AccessTokenQueryParam)
	}
	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || !strings.EqualFold(parts[0], AuthorizationTypeBearer) {
		return ""
	}
	return parts[1]
}

// GetUserIDFromContext retrieves the authenticated user ID from the Gin context.
// Returns an empty string if not found.
func GetUserIDFromContext(c *gin.Context) string {
	return getString(c, UserIDKey)
}

// GetUserEmailFromContext retrieves the authenticated user's email.
func GetUserEmailFromContext(c *gin.Context) string {
	return getString(c, UserEmailKey)
}

// GetUserNameFromContext retrieves the display name claim.
func GetUserNameFromContext(c *gin.Context) string {
	return getString(c, UserNameKey)
}

// GetUserPictureFromContext retrieves the avatar URL claim.
func GetUserPictureFromContext(c *gin.Context) string {
	return getString(c, UserPictureKey)
}

func getString(c *gin.Context, key string) string {
	val, exists := c.Get(key)
	if !exists {
		return ""
	}
	s, ok := val.(string)
	if !ok {
		return ""
	}
	return s
}
