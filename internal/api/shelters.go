package api

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"

	"github.com/pawmatch/internal/api/auth"
	"github.com/pawmatch/pkg/models"
)

type registerShelterInput struct {
	Name          string  `json:"name" validate:"required"`
	Email         string  `json:"email" validate:"required,email"`
	Password      string  `json:"password" validate:"required,min=8"`
	Address       *string `json:"address"`
	Phone         *string `json:"phone"`
	Region        *string `json:"region"`
	Capacity      *int    `json:"capacity"`
	OpeningHours  *string `json:"openingHours"`
	ContactPerson *string `json:"contactPerson"`
}

// registerShelter handles POST /shelters
func (s *Server) registerShelter(c echo.Context) error {
	var input registerShelterInput
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

	shelter := &models.Shelter{
		Name:          input.Name,
		Email:         strings.ToLower(strings.TrimSpace(input.Email)),
		PasswordHash:  string(hash),
		Address:       input.Address,
		Phone:         input.Phone,
		Region:        input.Region,
		Capacity:      input.Capacity,
		OpeningHours:  input.OpeningHours,
		ContactPerson: input.ContactPerson,
	}

	if err := s.shelters.Create(c.Request().Context(), shelter); err != nil {
		if err != ErrEmailInUse {
			log.Error().Err(err).Msg("shelter registration failed")
		}
		return httpError(err)
	}

	return c.JSON(http.StatusCreated, shelter)
}

// loginShelter handles POST /shelters/login and issues the signed
// shelter token
func (s *Server) loginShelter(c echo.Context) error {
	var input loginInput
	if err := c.Bind(&input); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}
	if err := c.Validate(&input); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Email and password are required")
	}

	ctx := c.Request().Context()

	shelter, err := s.shelters.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(input.Email)))
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "Invalid email or password")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(shelter.PasswordHash), []byte(input.Password)); err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "Invalid email or password")
	}

	token, err := s.tokenService.CreateShelterToken(shelter)
	if err != nil {
		log.Error().Err(err).Int64("shelter_id", shelter.ID).Msg("shelter token creation failed")
		return echo.NewHTTPError(http.StatusInternalServerError, "Server error")
	}

	if err := s.shelters.TouchLastLogin(ctx, shelter.ID); err != nil {
		log.Warn().Err(err).Int64("shelter_id", shelter.ID).Msg("last login update failed")
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"message": "Login successful",
		"token":   token,
		"shelter": shelter,
	})
}

// listShelters handles GET /shelters
func (s *Server) listShelters(c echo.Context) error {
	shelters, err := s.shelters.List(c.Request().Context())
	if err != nil {
		log.Error().Err(err).Msg("shelter list failed")
		return httpError(err)
	}

	return c.JSON(http.StatusOK, shelters)
}

// getShelter handles GET /shelters/:id
func (s *Server) getShelter(c echo.Context) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return err
	}

	shelter, err := s.shelters.GetByID(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}

	return c.JSON(http.StatusOK, shelter)
}

type updateShelterInput struct {
	Name          *string `json:"name"`
	Address       *string `json:"address"`
	Phone         *string `json:"phone"`
	Region        *string `json:"region"`
	Capacity      *int    `json:"capacity"`
	OpeningHours  *string `json:"openingHours"`
	ContactPerson *string `json:"contactPerson"`
	ProfileImage  *string `json:"profileImage"`
}

// updateShelter handles PATCH /shelters/:id; a shelter may only update
// its own record
func (s *Server) updateShelter(c echo.Context) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return err
	}

	shelterID, ok := auth.GetShelterIDFromContext(c)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "Shelter authentication required")
	}
	if shelterID != id {
		return echo.NewHTTPError(http.StatusForbidden, "Cannot modify another shelter's account")
	}

	var input updateShelterInput
	if err := c.Bind(&input); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}

	shelter, err := s.shelters.Update(c.Request().Context(), id, ShelterPatch{
		Name:          input.Name,
		Address:       input.Address,
		Phone:         input.Phone,
		Region:        input.Region,
		Capacity:      input.Capacity,
		OpeningHours:  input.OpeningHours,
		ContactPerson: input.ContactPerson,
		ProfileImage:  input.ProfileImage,
	})
	if err != nil {
		return httpError(err)
	}

	return c.JSON(http.StatusOK, shelter)
}
