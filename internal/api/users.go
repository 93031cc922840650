package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"

	"github.com/pawmatch/internal/api/auth"
	"github.com/pawmatch/pkg/models"
)

type registerUserInput struct {
	Name      string     `json:"name" validate:"required"`
	Email     string     `json:"email" validate:"required,email"`
	Password  string     `json:"password" validate:"required,min=8"`
	Birthdate *time.Time `json:"birthdate"`
	Region    *string    `json:"region"`
}

// registerUser handles POST /users
func (s *Server) registerUser(c echo.Context) error {
	var input registerUserInput
	if err := c.Bind(&input); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}
	if err := c.Validate(&input); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Missing required fields: name, email, password")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcrypt.DefaultCost)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Server error")
	}

	user := &models.User{
		Name:         input.Name,
		Email:        strings.ToLower(strings.TrimSpace(input.Email)),
		PasswordHash: string(hash),
		Birthdate:    input.Birthdate,
		Region:       input.Region,
	}

	if err := s.users.Create(c.Request().Context(), user); err != nil {
		if err != ErrEmailInUse {
			log.Error().Err(err).Msg("user registration failed")
		}
		return httpError(err)
	}

	return c.JSON(http.StatusCreated, user)
}

type loginInput struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// loginUser handles POST /users/login
func (s *Server) loginUser(c echo.Context) error {
	var input loginInput
	if err := c.Bind(&input); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}
	if err := c.Validate(&input); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Email and password are required")
	}

	ctx := c.Request().Context()

	user, err := s.users.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(input.Email)))
	if err != nil {
		// Same response for unknown email and wrong password
		return echo.NewHTTPError(http.StatusUnauthorized, "Invalid email or password")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(input.Password)); err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "Invalid email or password")
	}

	pair, err := s.tokenService.CreateTokenPair(user, c.Request().UserAgent(), c.RealIP())
	if err != nil {
		log.Error().Err(err).Int64("user_id", user.ID).Msg("token pair creation failed")
		return echo.NewHTTPError(http.StatusInternalServerError, "Server error")
	}

	if err := s.users.TouchLastLogin(ctx, user.ID); err != nil {
		log.Warn().Err(err).Int64("user_id", user.ID).Msg("last login update failed")
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"user":   user,
		"tokens": pair,
	})
}

type refreshInput struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

// refreshUserToken handles POST /users/refresh
func (s *Server) refreshUserToken(c echo.Context) error {
	var input refreshInput
	if err := c.Bind(&input); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}
	if err := c.Validate(&input); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "refresh_token is required")
	}

	pair, err := s.tokenService.RefreshTokenPair(input.RefreshToken, c.Request().UserAgent(), c.RealIP())
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "Invalid or expired refresh token")
	}

	return c.JSON(http.StatusOK, pair)
}

type logoutInput struct {
	RefreshToken string `json:"refresh_token,omitempty"`
	LogoutAll    bool   `json:"logout_all,omitempty"`
}

// logoutUser handles POST /users/logout. Without a body it revokes the
// current session; logout_all revokes every active token for the user.
func (s *Server) logoutUser(c echo.Context) error {
	authHeader := c.Request().Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return echo.NewHTTPError(http.StatusBadRequest, "Authorization header required")
	}
	tokenString := strings.TrimPrefix(authHeader, "Bearer ")

	user, err := s.tokenService.ValidateAccessToken(tokenString)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "Invalid token")
	}

	var input logoutInput
	// The body is optional
	_ = c.Bind(&input)

	if input.LogoutAll {
		if err := s.tokenService.RevokeAllUserTokens(user.ID); err != nil {
			log.Error().Err(err).Int64("user_id", user.ID).Msg("logout all failed")
			return echo.NewHTTPError(http.StatusInternalServerError, "Failed to log out from all devices")
		}
		return c.JSON(http.StatusOK, map[string]string{"message": "Logged out from all devices"})
	}

	if err := s.tokenService.RevokeSession(tokenString); err != nil {
		log.Error().Err(err).Int64("user_id", user.ID).Msg("session revocation failed")
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to revoke session")
	}

	if input.RefreshToken != "" {
		if err := s.tokenService.RevokeRefreshToken(input.RefreshToken); err != nil {
			log.Warn().Err(err).Int64("user_id", user.ID).Msg("refresh token revocation failed")
		}
	}

	return c.JSON(http.StatusOK, map[string]string{"message": "Logged out successfully"})
}

// getUser handles GET /users/:id
func (s *Server) getUser(c echo.Context) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return err
	}

	user, err := s.users.GetByID(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}

	return c.JSON(http.StatusOK, user)
}

// listUsers handles GET /users
func (s *Server) listUsers(c echo.Context) error {
	users, err := s.users.List(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, users)
}

// getUserPreferences handles GET /users/:id/preferences
func (s *Server) getUserPreferences(c echo.Context) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return err
	}

	user, err := s.users.GetByID(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"preferences": jsonBlob(user.Preferences),
	})
}

// getUserHome handles GET /users/:id/home
func (s *Server) getUserHome(c echo.Context) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return err
	}

	user, err := s.users.GetByID(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"home": jsonBlob(user.Lifestyle),
	})
}

// jsonBlob re-emits a stored JSON document verbatim instead of as an
// escaped string. A missing blob encodes to null.
func jsonBlob(value *string) interface{} {
	if value == nil {
		return nil
	}
	return json.RawMessage(*value)
}

// requireSelf ensures the authenticated user is operating on their own
// account
func requireSelf(c echo.Context, id int64) error {
	user, ok := auth.GetUserFromContext(c)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "Authentication required")
	}
	if user.ID != id {
		return echo.NewHTTPError(http.StatusForbidden, "Cannot modify another user's account")
	}
	return nil
}

type updateProfileInput struct {
	Name         *string `json:"name"`
	Region       *string `json:"region"`
	ProfileImage *string `json:"profileImage"`
}

// updateUserProfile handles PATCH /users/:id/profile
func (s *Server) updateUserProfile(c echo.Context) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return err
	}
	if err := requireSelf(c, id); err != nil {
		return err
	}

	var input updateProfileInput
	if err := c.Bind(&input); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}

	user, err := s.users.UpdateProfile(c.Request().Context(), id, UserPatch{
		Name:         input.Name,
		Region:       input.Region,
		ProfileImage: input.ProfileImage,
	})
	if err != nil {
		return httpError(err)
	}

	return c.JSON(http.StatusOK, user)
}

type jsonBlobInput struct {
	Value string `json:"value" validate:"required,json"`
}

// updateUserPreferences handles PATCH /users/:id/preferences
func (s *Server) updateUserPreferences(c echo.Context) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return err
	}
	if err := requireSelf(c, id); err != nil {
		return err
	}

	var input jsonBlobInput
	if err := c.Bind(&input); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}
	if err := c.Validate(&input); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "value must be a JSON document")
	}

	user, err := s.users.UpdatePreferences(c.Request().Context(), id, input.Value)
	if err != nil {
		return httpError(err)
	}

	return c.JSON(http.StatusOK, user)
}

// updateUserHome handles PATCH /users/:id/home (lifestyle details)
func (s *Server) updateUserHome(c echo.Context) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return err
	}
	if err := requireSelf(c, id); err != nil {
		return err
	}

	var input jsonBlobInput
	if err := c.Bind(&input); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}
	if err := c.Validate(&input); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "value must be a JSON document")
	}

	user, err := s.users.UpdateLifestyle(c.Request().Context(), id, input.Value)
	if err != nil {
		return httpError(err)
	}

	return c.JSON(http.StatusOK, user)
}
