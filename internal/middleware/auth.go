// File: internal/middleware/auth.go
package middleware

import (
	"context"

	"matrimony_sync_backend/internal/common"

	"firebase.google.com/go/v4/auth"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// TokenVerifier verifies Firebase ID tokens. Satisfied by *firebase.FirebaseService.
type TokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*auth.Token, error)
}

// AuthMiddleware verifies the bearer token and stores the caller's identity in the context.
// The token may also arrive as the access_token query parameter for WebSocket upgrades.
func AuthMiddleware(verifier TokenVerifier, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := common.GetTokenFromContext(c)
		if tokenString == "" {
			logger.Debug("Bearer token missing or malformed")
			common.RespondWithError(c, common.ErrUnauthorized.WithDetails("Authorization header format must be 'Bearer <token>'."))
			return
		}

		token, err := verifier.VerifyIDToken(c.Request.Context(), tokenString)
		if err != nil {
			logger.Warn("Token validation failed", zap.Error(err))
			common.RespondWithError(c, common.ErrUnauthorized.WithDetails("Invalid or expired token."))
			return
		}

		c.Set(common.UserIDKey, token.UID)
		c.Set(common.UserEmailKey, claimString(token, "email"))
		c.Set(common.UserNameKey, claimString(token, "name"))
		c.Set(common.UserPictureKey, claimString(token, "picture"))

		logger.Debug("User authenticated successfully", zap.String("userID", token.UID))
		c.Next()
	}
}

func claimString(token *auth.Token, key string) string {
	if token.Claims == nil {
		return ""
	}
	s, _ := token.Claims[key].(string)
	return s
}
