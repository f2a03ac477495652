// File: internal/common/context_keys.go
package common

const (
	// AuthorizationHeader is the header name for authorization token
	AuthorizationHeader = "Authorization"
	// AuthorizationTypeBearer is the prefix for Bearer tokens
	AuthorizationTypeBearer = "Bearer"
	// AccessTokenQueryParam carries the token for WebSocket upgrades, where browsers cannot set headers
	AccessTokenQueryParam = "access_token"
	// UserIDKey is the context key for storing the authenticated user's ID
	UserIDKey = "userID"
	// UserEmailKey is the context key for storing the authenticated user's email
	UserEmailKey = "userEmail"
	// UserNameKey is the context key for the display name claim
	UserNameKey = "userName"
	// UserPictureKey is the context key for the avatar URL claim
	UserPictureKey = "userPicture"
	// LoggerKey is the context key for the request-scoped logger
	LoggerKey = "logger"
)
