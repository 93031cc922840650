package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/pawmatch/internal/api/auth"
	"github.com/pawmatch/pkg/models"
)

// Shelter inbox handlers operate on conversations by primary id, scoped
// to the calling shelter via RequireShelter middleware.

// getShelterConversationMessages handles GET /shelter/conversations/:id/messages
func (s *Server) getShelterConversationMessages(c echo.Context) error {
	shelterID, ok := auth.GetShelterIDFromContext(c)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "Shelter authentication required")
	}

	conversationID, err := parseIDParam(c, "id")
	if err != nil {
		return err
	}

	ctx := c.Request().Context()

	conv, err := s.conversations.FindByID(ctx, conversationID, shelterID)
	if err != nil {
		if !errors.Is(err, ErrConversationNotFound) {
			log.Error().Err(err).
				Int64("shelter_id", shelterID).
				Int64("conversation_id", conversationID).
				Msg("shelter conversation lookup failed")
		}
		return httpError(err)
	}

	messages, err := s.messages.ListByConversation(ctx, conv.ID)
	if err != nil {
		log.Error().Err(err).Int64("conversation_id", conv.ID).Msg("message list failed")
		return httpError(err)
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"conversation": conv,
		"messages":     messages,
	})
}

// postShelterConversationMessage handles POST /shelter/conversations/:id/messages.
// Unlike participant replies, the conversation must already exist.
func (s *Server) postShelterConversationMessage(c echo.Context) error {
	shelterID, ok := auth.GetShelterIDFromContext(c)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "Shelter authentication required")
	}

	conversationID, err := parseIDParam(c, "id")
	if err != nil {
		return err
	}

	var input postMessageInput
	if err := c.Bind(&input); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}
	if err := c.Validate(&input); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Text is required")
	}

	ctx := c.Request().Context()

	conv, err := s.conversations.FindByID(ctx, conversationID, shelterID)
	if err != nil {
		return httpError(err)
	}

	displayName, err := s.shelters.GetName(ctx, shelterID)
	if err != nil && !errors.Is(err, ErrShelterNotFound) {
		log.Error().Err(err).Int64("shelter_id", shelterID).Msg("shelter name lookup failed")
		return httpError(err)
	}

	msg, err := s.messages.Append(ctx, conv, Sender{Kind: models.KindShelter, ID: shelterID}, input.Text, displayName)
	if err != nil {
		if !IsValidationError(err) {
			log.Error().Err(err).
				Int64("shelter_id", shelterID).
				Int64("conversation_id", conv.ID).
				Msg("shelter message append failed")
		}
		return httpError(err)
	}

	return c.JSON(http.StatusCreated, msg)
}

// markShelterConversationRead handles POST /shelter/conversations/:id/read,
// flagging all messages addressed to the shelter as read
func (s *Server) markShelterConversationRead(c echo.Context) error {
	shelterID, ok := auth.GetShelterIDFromContext(c)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "Shelter authentication required")
	}

	conversationID, err := parseIDParam(c, "id")
	if err != nil {
		return err
	}

	ctx := c.Request().Context()

	conv, err := s.conversations.FindByID(ctx, conversationID, shelterID)
	if err != nil {
		return httpError(err)
	}

	updated, err := s.messages.MarkRead(ctx, conv.ID, models.KindShelter)
	if err != nil {
		log.Error().Err(err).Int64("conversation_id", conv.ID).Msg("mark read failed")
		return httpError(err)
	}

	return c.JSON(http.StatusOK, map[string]int64{"updated": updated})
}
