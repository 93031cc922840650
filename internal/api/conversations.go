package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/pawmatch/internal/api/auth"
	"github.com/pawmatch/pkg/models"
)

// httpError maps core errors onto HTTP status codes
func httpError(err error) error {
	switch {
	case errors.Is(err, auth.ErrUnauthorized):
		return echo.NewHTTPError(http.StatusUnauthorized, "Unauthorized")
	case errors.Is(err, ErrAnimalNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "Animal not found")
	case errors.Is(err, ErrConversationNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "Conversation not found")
	case errors.Is(err, ErrShelterNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "Shelter not found")
	case errors.Is(err, ErrUserNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "User not found")
	case errors.Is(err, ErrEmailInUse):
		return echo.NewHTTPError(http.StatusConflict, "Email already in use")
	case IsValidationError(err):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "Server error")
	}
}

// resolveIdentity resolves the request credentials or fails with 401
func (s *Server) resolveIdentity(c echo.Context) (auth.Identity, error) {
	identity, err := s.resolver.Resolve(c.Request().Context(), auth.CredentialsFromRequest(c))
	if err != nil {
		return auth.Identity{}, httpError(err)
	}
	return identity, nil
}

func parseIDParam(c echo.Context, name string) (int64, error) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "Invalid "+name)
	}
	return id, nil
}

type startConversationInput struct {
	AnimalID    int64  `json:"animalId" validate:"required,gt=0"`
	SendIntro   bool   `json:"sendIntro"`
	AutoMessage string `json:"autoMessage"`
	UserID      int64  `json:"userId"` // shelter-on-behalf flows only
}

// startConversation handles POST /conversations: locate or create the
// conversation for (identity, animal), optionally triggering the opening
// message
func (s *Server) startConversation(c echo.Context) error {
	identity, err := s.resolveIdentity(c)
	if err != nil {
		return err
	}

	var input startConversationInput
	if err := c.Bind(&input); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}
	if err := c.Validate(&input); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Valid animalId is required")
	}

	ctx := c.Request().Context()

	// A shelter starts conversations on behalf of a user by supplying an
	// explicit user id; for filter purposes that is a user identity. The
	// user slot of an already claimed conversation is never overwritten.
	filterIdentity := identity
	if identity.IsShelter() {
		if input.UserID <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "userId is required for shelter-started conversations")
		}
		exists, err := s.users.Exists(ctx, input.UserID)
		if err != nil {
			log.Error().Err(err).Int64("user_id", input.UserID).Msg("user existence check failed")
			return httpError(err)
		}
		if !exists {
			return httpError(ErrUserNotFound)
		}
		filterIdentity = auth.Identity{Kind: auth.IdentityUser, UserID: input.UserID}
	}

	conv, _, err := s.conversations.Upsert(ctx, filterIdentity, input.AnimalID)
	if err != nil {
		if !errors.Is(err, ErrAnimalNotFound) && !IsValidationError(err) {
			log.Error().Err(err).
				Str("identity_kind", string(identity.Kind)).
				Int64("animal_id", input.AnimalID).
				Msg("conversation upsert failed")
		}
		return httpError(err)
	}

	var message *models.Message
	if input.SendIntro || input.AutoMessage != "" {
		message, err = s.autoMessenger.EnsureOpeningMessage(ctx, conv, identity, input.AutoMessage)
		if err != nil {
			log.Error().Err(err).
				Int64("conversation_id", conv.ID).
				Int64("animal_id", conv.AnimalID).
				Msg("opening message failed")
			return httpError(err)
		}
	}

	status := http.StatusOK
	if message != nil {
		status = http.StatusCreated
	}

	return c.JSON(status, map[string]interface{}{
		"conversation": conv,
		"message":      message,
	})
}

// conversationListItem is the participant-facing list projection
type conversationListItem struct {
	ID            int64      `json:"id"`
	AnimalID      int64      `json:"animalId"`
	Name          string     `json:"name"`
	LastMessage   string     `json:"lastMessage"`
	LastMessageAt *time.Time `json:"lastMessageAt,omitempty"`
	MatchedAt     time.Time  `json:"matchedAt"`
	Avatar        *string    `json:"avatar,omitempty"`
}

// listConversations handles GET /conversations for participants and
// shelters alike; shelters get the scoped list with optional filters
func (s *Server) listConversations(c echo.Context) error {
	identity, err := s.resolveIdentity(c)
	if err != nil {
		return err
	}

	ctx := c.Request().Context()

	if identity.IsShelter() {
		var filter ShelterListFilter
		if v := c.QueryParam("animalId"); v != "" {
			animalID, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return echo.NewHTTPError(http.StatusBadRequest, "Invalid animalId")
			}
			filter.AnimalID = &animalID
		}
		if v := c.QueryParam("userId"); v != "" {
			userID, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return echo.NewHTTPError(http.StatusBadRequest, "Invalid userId")
			}
			filter.UserID = &userID
		}

		summaries, err := s.conversations.ListForShelter(ctx, identity.ShelterID, filter)
		if err != nil {
			log.Error().Err(err).Int64("shelter_id", identity.ShelterID).Msg("shelter conversation list failed")
			return httpError(err)
		}
		return c.JSON(http.StatusOK, summaries)
	}

	conversations, err := s.conversations.ListForParticipant(ctx, identity)
	if err != nil {
		log.Error().Err(err).Str("identity_kind", string(identity.Kind)).Msg("conversation list failed")
		return httpError(err)
	}

	items := make([]conversationListItem, 0, len(conversations))
	for _, conv := range conversations {
		item := conversationListItem{
			ID:            conv.ID,
			AnimalID:      conv.AnimalID,
			Name:          "Unknown animal",
			LastMessageAt: conv.LastMessageAt,
			MatchedAt:     conv.MatchedAt,
			Avatar:        conv.AnimalPhoto,
		}
		if conv.AnimalName != nil && *conv.AnimalName != "" {
			item.Name = *conv.AnimalName
		}
		if conv.LastMessage != nil {
			item.LastMessage = *conv.LastMessage
		}
		items = append(items, item)
	}

	return c.JSON(http.StatusOK, items)
}

// getConversationMessages handles GET /conversations/:animalId/messages
// for participants; the lookup claims an unclaimed device conversation
// when the caller authenticated with a known device key
func (s *Server) getConversationMessages(c echo.Context) error {
	identity, err := s.resolveIdentity(c)
	if err != nil {
		return err
	}
	if identity.IsShelter() {
		return echo.NewHTTPError(http.StatusBadRequest, "Shelters read history by conversation id")
	}

	animalID, err := parseIDParam(c, "animalId")
	if err != nil {
		return err
	}

	ctx := c.Request().Context()

	conv, err := s.conversations.FindExisting(ctx, identity, animalID)
	if err != nil {
		if !errors.Is(err, ErrConversationNotFound) {
			log.Error().Err(err).
				Str("identity_kind", string(identity.Kind)).
				Int64("animal_id", animalID).
				Msg("conversation lookup failed")
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

type postMessageInput struct {
	Text string `json:"text" validate:"required"`
}

// postConversationMessage handles POST /conversations/:animalId/messages:
// a participant reply, creating (or claiming) the conversation as needed
func (s *Server) postConversationMessage(c echo.Context) error {
	identity, err := s.resolveIdentity(c)
	if err != nil {
		return err
	}
	if identity.IsShelter() {
		return echo.NewHTTPError(http.StatusBadRequest, "Shelters reply by conversation id")
	}

	animalID, err := parseIDParam(c, "animalId")
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

	conv, _, err := s.conversations.Upsert(ctx, identity, animalID)
	if err != nil {
		if !errors.Is(err, ErrAnimalNotFound) {
			log.Error().Err(err).
				Str("identity_kind", string(identity.Kind)).
				Int64("animal_id", animalID).
				Msg("conversation upsert failed")
		}
		return httpError(err)
	}

	sender := Sender{Kind: models.KindUser}
	if identity.IsUser() {
		sender.ID = identity.UserID
	}

	msg, err := s.messages.Append(ctx, conv, sender, input.Text, identity.UserName)
	if err != nil {
		if !IsValidationError(err) {
			log.Error().Err(err).Int64("conversation_id", conv.ID).Msg("message append failed")
		}
		return httpError(err)
	}

	return c.JSON(http.StatusCreated, msg)
}

// deleteConversation handles DELETE /conversations/:id, authorized for
// the owning shelter or the attached participant. The cascade removes the
// conversation's messages with it.
func (s *Server) deleteConversation(c echo.Context) error {
	identity, err := s.resolveIdentity(c)
	if err != nil {
		return err
	}

	conversationID, err := parseIDParam(c, "id")
	if err != nil {
		return err
	}

	ctx := c.Request().Context()

	if identity.IsShelter() {
		if _, err := s.conversations.FindByID(ctx, conversationID, identity.ShelterID); err != nil {
			return httpError(err)
		}
	} else {
		conv, err := s.conversations.GetByID(ctx, conversationID)
		if err != nil {
			return httpError(err)
		}
		owns := false
		switch {
		case identity.IsUser() && conv.UserID != nil && *conv.UserID == identity.UserID:
			owns = true
		case identity.IsDevice() && conv.DeviceKey != nil && *conv.DeviceKey == identity.DeviceKey:
			owns = true
		}
		if !owns {
			return httpError(ErrConversationNotFound)
		}
	}

	if err := s.conversations.DeleteCascade(ctx, conversationID); err != nil {
		log.Error().Err(err).
			Str("identity_kind", string(identity.Kind)).
			Int64("conversation_id", conversationID).
			Msg("conversation delete failed")
		return httpError(err)
	}

	return c.NoContent(http.StatusNoContent)
}
