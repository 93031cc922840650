package auth

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/pawmatch/pkg/models"
)

// ContextKey represents keys for context values
type ContextKey string

const (
	// Context keys
	UserContextKey    ContextKey = "user"
	ShelterContextKey ContextKey = "shelter_id"
)

// RequireAuth is authentication middleware for user-protected routes
func RequireAuth(tokenService *TokenService) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			// Extract token from Authorization header
			authHeader := c.Request().Header.Get("Authorization")
			if authHeader == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "Authorization header required")
			}

			// Check Bearer token format
			tokenParts := strings.Split(authHeader, " ")
			if len(tokenParts) != 2 || tokenParts[0] != "Bearer" {
				return echo.NewHTTPError(http.StatusUnauthorized, "Invalid authorization header format")
			}

			tokenString := tokenParts[1]

			// Validate token
			user, err := tokenService.ValidateAccessToken(tokenString)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "Invalid or expired token")
			}

			// Add user to context
			c.Set(string(UserContextKey), user)

			return next(c)
		}
	}
}

// RequireShelter is authentication middleware for shelter-protected routes
func RequireShelter(tokenService *TokenService) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			tokenString := strings.TrimSpace(c.Request().Header.Get("X-Shelter-Token"))
			if tokenString == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "X-Shelter-Token header required")
			}

			shelterID, err := tokenService.ValidateShelterToken(tokenString)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "Invalid or expired shelter token")
			}

			c.Set(string(ShelterContextKey), shelterID)

			return next(c)
		}
	}
}

// GetUserFromContext returns the authenticated user set by RequireAuth
func GetUserFromContext(c echo.Context) (*models.User, bool) {
	userInterface := c.Get(string(UserContextKey))
	if userInterface == nil {
		return nil, false
	}
	user, ok := userInterface.(*models.User)
	return user, ok
}

// GetShelterIDFromContext returns the shelter id set by RequireShelter
func GetShelterIDFromContext(c echo.Context) (int64, bool) {
	v := c.Get(string(ShelterContextKey))
	if v == nil {
		return 0, false
	}
	shelterID, ok := v.(int64)
	return shelterID, ok
}
