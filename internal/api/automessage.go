package api

import (
	"context"
	"math/rand"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/pawmatch/internal/api/auth"
	"github.com/pawmatch/pkg/models"
)

// AutoMessenger sends the scripted opening message of a conversation at
// most once. The conversation's auto_message_sent flag is one-way:
// NotSent → Sent, no other transitions.
type AutoMessenger struct {
	conversations *ConversationsRepo
	messages      *MessagesRepo
	shelters      *SheltersRepo
	animals       *AnimalsRepo

	IntroLines []string
	Suffix     string
}

// NewAutoMessenger creates an auto messenger with the given text pool
func NewAutoMessenger(conversations *ConversationsRepo, messages *MessagesRepo, shelters *SheltersRepo, animals *AnimalsRepo, introLines []string, suffix string) *AutoMessenger {
	return &AutoMessenger{
		conversations: conversations,
		messages:      messages,
		shelters:      shelters,
		animals:       animals,
		IntroLines:    introLines,
		Suffix:        suffix,
	}
}

// ComposeText builds the default opening text: one intro line picked
// uniformly at random, the fixed suffix paragraph, joined by a blank
// line. An empty pool falls back to the suffix alone; with both empty
// there is no message to send.
func (a *AutoMessenger) ComposeText() string {
	var parts []string
	if len(a.IntroLines) > 0 {
		parts = append(parts, a.IntroLines[rand.Intn(len(a.IntroLines))])
	}
	if strings.TrimSpace(a.Suffix) != "" {
		parts = append(parts, a.Suffix)
	}
	return strings.Join(parts, "\n\n")
}

// resolveShelterID finds the shelter to attribute the opening message to:
// the conversation's stored reference, then the caller's shelter
// identity, then the animal's owning shelter (backfilled onto the
// conversation). Zero means no shelter could be resolved.
func (a *AutoMessenger) resolveShelterID(ctx context.Context, conv *models.Conversation, identity auth.Identity) (int64, error) {
	if conv.ShelterID != nil {
		return *conv.ShelterID, nil
	}

	if identity.IsShelter() {
		if err := a.conversations.SetShelter(ctx, conv.ID, identity.ShelterID); err != nil {
			return 0, err
		}
		conv.ShelterID = &identity.ShelterID
		return identity.ShelterID, nil
	}

	snap, err := a.animals.GetSnapshot(ctx, conv.AnimalID)
	if err != nil {
		if err == ErrAnimalNotFound {
			return 0, nil
		}
		return 0, err
	}
	if snap.ShelterID == nil {
		return 0, nil
	}

	if err := a.conversations.SetShelter(ctx, conv.ID, *snap.ShelterID); err != nil {
		return 0, err
	}
	conv.ShelterID = snap.ShelterID

	return *snap.ShelterID, nil
}

// EnsureOpeningMessage appends the scripted shelter-authored opening
// message to the conversation exactly once. It returns nil without error
// when the message has already been sent, when no text is available, or
// when no shelter can be attributed as the sender. Concurrent duplicate
// calls are serialized by the conditional flag flip: the loser observes
// zero matched rows and backs off.
func (a *AutoMessenger) EnsureOpeningMessage(ctx context.Context, conv *models.Conversation, identity auth.Identity, overrideText string) (*models.Message, error) {
	if conv.AutoMessageSent {
		return nil, nil
	}

	text := strings.TrimSpace(overrideText)
	if text == "" {
		text = a.ComposeText()
	}
	if text == "" {
		return nil, nil
	}

	shelterID, err := a.resolveShelterID(ctx, conv, identity)
	if err != nil {
		return nil, err
	}
	if shelterID == 0 {
		// An auto-message cannot be sent without an attributable sender
		log.Debug().
			Int64("conversation_id", conv.ID).
			Int64("animal_id", conv.AnimalID).
			Msg("auto message skipped: no shelter to attribute")
		return nil, nil
	}

	won, err := a.conversations.MarkAutoMessageSent(ctx, conv.ID)
	if err != nil {
		return nil, err
	}
	if !won {
		// A concurrent call got there first; benign
		conv.AutoMessageSent = true
		return nil, nil
	}
	conv.AutoMessageSent = true

	displayName, err := a.shelters.GetName(ctx, shelterID)
	if err != nil && err != ErrShelterNotFound {
		return nil, err
	}

	msg, err := a.messages.Append(ctx, conv, Sender{Kind: models.KindShelter, ID: shelterID}, text, displayName)
	if err != nil {
		log.Error().Err(err).
			Int64("conversation_id", conv.ID).
			Int64("shelter_id", shelterID).
			Msg("auto message append failed after flag flip")
		return nil, err
	}

	return msg, nil
}
