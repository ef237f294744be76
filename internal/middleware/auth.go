package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/smartstay/booking-core/internal/models"
	"github.com/smartstay/booking-core/pkg/jwt"
)

// IdentityKey is the gin context key holding the caller's models.Identity
const IdentityKey = "identity"

// AuthMiddleware requires a valid bearer access token
func AuthMiddleware(jwtService *jwt.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			abortUnauthorized(c, "MISSING_AUTH_HEADER", "Authorization header is required")
			return
		}

		if !authenticate(c, jwtService, authHeader) {
			return
		}
		c.Next()
	}
}

// OptionalAuth attaches an identity when a token is sent and lets anonymous
// guests through. A token that is sent but invalid is still rejected so the
// client can refresh it instead of silently checking out as a guest.
func OptionalAuth(jwtService *jwt.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.Next()
			return
		}

		if !authenticate(c, jwtService, authHeader) {
			return
		}
		c.Next()
	}
}

func authenticate(c *gin.Context, jwtService *jwt.Service, authHeader string) bool {
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" || strings.TrimSpace(parts[1]) == "" {
		abortUnauthorized(c, "INVALID_AUTH_FORMAT", "Authorization header must be: Bearer <token>")
		return false
	}
	token := strings.TrimSpace(parts[1])

	claims, err := jwtService.ValidateAccessToken(token)
	if err != nil {
		if errors.Is(err, jwtlib.ErrTokenExpired) {
			abortUnauthorized(c, "TOKEN_EXPIRED", "Access token has expired")
			return false
		}
		abortUnauthorized(c, "INVALID_TOKEN", "Invalid access token")
		return false
	}

	identity := models.Identity{
		UserID: claims.UserID,
		Name:   claims.Name,
		Phone:  claims.Phone,
		Email:  claims.Email,
		Roles:  claims.Roles,
		Token:  token,
	}

	c.Set(IdentityKey, identity)
	c.Set("user_id", claims.UserID.String())
	c.Set("roles", claims.Roles)
	return true
}

// RequireRole allows the request only if the identity has one of the roles.
// Must be used after AuthMiddleware.
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, exists := GetIdentity(c)
		if !exists {
			abortUnauthorized(c, "MISSING_USER_CONTEXT", "User context not found")
			return
		}

		if !identity.HasRole(roles...) {
			c.JSON(http.StatusForbidden, gin.H{
				"error":   "forbidden",
				"message": "Insufficient permissions",
				"code":    "INSUFFICIENT_PERMISSIONS",
			})
			c.Abort()
			return
		}

		c.Next()
	}
}

// GetIdentity returns the identity set by the auth middleware
func GetIdentity(c *gin.Context) (models.Identity, bool) {
	value, exists := c.Get(IdentityKey)
	if !exists {
		return models.Identity{}, false
	}
	identity, ok := value.(models.Identity)
	if !ok {
		return models.Identity{}, false
	}
	return identity, true
}

// IdentityOrGuest returns the attached identity, or an anonymous guest
func IdentityOrGuest(c *gin.Context) models.Identity {
	identity, _ := GetIdentity(c)
	return identity
}

// MustGetIdentity panics when no identity is attached
func MustGetIdentity(c *gin.Context) models.Identity {
	identity, exists := GetIdentity(c)
	if !exists {
		panic("identity not found in gin context")
	}
	return identity
}

func abortUnauthorized(c *gin.Context, code, message string) {
	c.JSON(http.StatusUnauthorized, gin.H{
		"error":   "unauthorized",
		"message": message,
		"code":    code,
	})
	c.Abort()
}
