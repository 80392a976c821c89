package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/civicworks/civic-ops-api/internal/models"
	"github.com/civicworks/civic-ops-api/internal/service"
	appErrors "github.com/civicworks/civic-ops-api/pkg/errors"
	"github.com/civicworks/civic-ops-api/pkg/response"
)

// ContextUserKey is the gin context key storing JWT claims.
const ContextUserKey = "currentUser"

// JWT protects routes by requiring a valid access token.
func JWT(authService *service.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			response.Error(c, appErrors.Clone(appErrors.ErrUnauthorized, "invalid authorization header"))
			c.Abort()
			return
		}

		claims, err := authService.ValidateToken(parts[1])
		if err != nil {
			response.Error(c, err)
			c.Abort()
			return
		}

		c.Set(ContextUserKey, claims)
		c.Next()
	}
}

// CurrentActor returns the display name of the authenticated user, or
// "system" when the route runs without authentication.
func CurrentActor(c *gin.Context) string {
	claimsValue, exists := c.Get(ContextUserKey)
	if !exists {
		return "system"
	}
	claims, ok := claimsValue.(*models.JWTClaims)
	if !ok || claims.FullName == "" {
		return "system"
	}
	return claims.FullName
}
