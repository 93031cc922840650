package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/pawmatch/internal/api/auth"
	"github.com/pawmatch/pkg/models"
)

type createAnimalInput struct {
	Name        string     `json:"name" validate:"required"`
	Birthdate   *time.Time `json:"birthdate"`
	Photo       *string    `json:"photo"`
	Description string     `json:"description" validate:"required"`
	Status      string     `json:"status" validate:"omitempty,oneof=available adopted fostered pending"`
	Attributes  *string    `json:"attributes"`
}

// createAnimal handles POST /animals; listings are shelter-authored
func (s *Server) createAnimal(c echo.Context) error {
	shelterID, ok := auth.GetShelterIDFromContext(c)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "Shelter authentication required")
	}

	var input createAnimalInput
	if err := c.Bind(&input); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}
	if err := c.Validate(&input); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Missing required fields: name, description")
	}

	animal := &models.Animal{
		ShelterID:   &shelterID,
		Name:        input.Name,
		Birthdate:   input.Birthdate,
		Photo:       input.Photo,
		Description: input.Description,
		Status:      input.Status,
		Attributes:  input.Attributes,
	}

	if err := s.animals.Create(c.Request().Context(), animal); err != nil {
		log.Error().Err(err).Int64("shelter_id", shelterID).Msg("animal creation failed")
		return httpError(err)
	}

	return c.JSON(http.StatusCreated, animal)
}

// listAnimals handles GET /animals with optional status/shelterId filters
func (s *Server) listAnimals(c echo.Context) error {
	var filter ListFilter

	if v := c.QueryParam("shelterId"); v != "" {
		shelterID, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "Invalid shelterId")
		}
		filter.ShelterID = &shelterID
	}
	filter.Status = c.QueryParam("status")
	if v := c.QueryParam("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "Invalid limit")
		}
		filter.Limit = limit
	}

	animals, err := s.animals.List(c.Request().Context(), filter)
	if err != nil {
		log.Error().Err(err).Msg("animal list failed")
		return httpError(err)
	}

	return c.JSON(http.StatusOK, animals)
}

// getAnimal handles GET /animals/:id
func (s *Server) getAnimal(c echo.Context) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return err
	}

	animal, err := s.animals.GetByID(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}

	return c.JSON(http.StatusOK, animal)
}

type updateAnimalInput struct {
	Name        *string `json:"name"`
	Photo       *string `json:"photo"`
	Description *string `json:"description"`
	Status      *string `json:"status" validate:"omitempty,oneof=available adopted fostered pending"`
	Attributes  *string `json:"attributes"`
}

// updateAnimal handles PATCH /animals/:id, scoped to the owning shelter
func (s *Server) updateAnimal(c echo.Context) error {
	shelterID, ok := auth.GetShelterIDFromContext(c)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "Shelter authentication required")
	}

	id, err := parseIDParam(c, "id")
	if err != nil {
		return err
	}

	var input updateAnimalInput
	if err := c.Bind(&input); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}
	if err := c.Validate(&input); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid status")
	}

	animal, err := s.animals.Update(c.Request().Context(), id, shelterID, AnimalPatch{
		Name:        input.Name,
		Photo:       input.Photo,
		Description: input.Description,
		Status:      input.Status,
		Attributes:  input.Attributes,
	})
	if err != nil {
		return httpError(err)
	}

	return c.JSON(http.StatusOK, animal)
}

// deleteAnimal handles DELETE /animals/:id, scoped to the owning shelter
func (s *Server) deleteAnimal(c echo.Context) error {
	shelterID, ok := auth.GetShelterIDFromContext(c)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "Shelter authentication required")
	}

	id, err := parseIDParam(c, "id")
	if err != nil {
		return err
	}

	if err := s.animals.Delete(c.Request().Context(), id, shelterID); err != nil {
		return httpError(err)
	}

	return c.NoContent(http.StatusNoContent)
}
