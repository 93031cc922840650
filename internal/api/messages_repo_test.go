package api

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pawmatch/internal/api/auth"
	"github.com/pawmatch/pkg/models"
)

func TestMessagesRepoAppend(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	animals := NewAnimalsRepo(db)
	conversations := NewConversationsRepo(db, animals)
	messages := NewMessagesRepo(db)

	shelterID := insertTestShelter(t, db, "Ledger Shelter")
	userID := insertTestUser(t, db, "Dorothy")
	animalID := insertTestAnimal(t, db, shelterID, "Toto")

	t.Run("UserMessageRoutesToShelter", func(t *testing.T) {
		conv, _, err := conversations.Upsert(ctx, auth.Identity{Kind: auth.IdentityUser, UserID: userID}, animalID)
		require.NoError(t, err)

		msg, err := messages.Append(ctx, conv, Sender{Kind: models.KindUser, ID: userID}, "  hello  ", "Dorothy")
		require.NoError(t, err)

		assert.Equal(t, "hello", msg.Text, "text is stored trimmed")
		assert.Equal(t, models.KindUser, msg.FromKind)
		assert.Equal(t, models.KindShelter, msg.ToKind)
		require.NotNil(t, msg.FromID)
		assert.Equal(t, userID, *msg.FromID)
		require.NotNil(t, msg.ToID)
		assert.Equal(t, shelterID, *msg.ToID)
		require.NotNil(t, msg.AuthorDisplayName)
		assert.Equal(t, "Dorothy", *msg.AuthorDisplayName)
		assert.False(t, msg.Read)
		assert.Equal(t, fmt.Sprintf("user:%d:%d", userID, animalID), msg.ConversationKey)

		// Last-message projection lands on the conversation
		got, err := conversations.GetByID(ctx, conv.ID)
		require.NoError(t, err)
		require.NotNil(t, got.LastMessage)
		assert.Equal(t, "hello", *got.LastMessage)
		require.NotNil(t, got.LastMessageAt)
	})

	t.Run("ShelterMessageRoutesToUser", func(t *testing.T) {
		conv, _, err := conversations.Upsert(ctx, auth.Identity{Kind: auth.IdentityUser, UserID: userID}, animalID)
		require.NoError(t, err)

		msg, err := messages.Append(ctx, conv, Sender{Kind: models.KindShelter, ID: shelterID}, "Toto says hi!", "Ledger Shelter")
		require.NoError(t, err)
		assert.Equal(t, models.KindShelter, msg.FromKind)
		assert.Equal(t, models.KindUser, msg.ToKind)
		require.NotNil(t, msg.ToID)
		assert.Equal(t, userID, *msg.ToID)
	})

	t.Run("EmptyTextRejected", func(t *testing.T) {
		conv, _, err := conversations.Upsert(ctx, auth.Identity{Kind: auth.IdentityUser, UserID: userID}, animalID)
		require.NoError(t, err)

		_, err = messages.Append(ctx, conv, Sender{Kind: models.KindUser, ID: userID}, "   ", "")
		assert.True(t, IsValidationError(err))
	})

	t.Run("InvalidSenderKindRejected", func(t *testing.T) {
		conv, _, err := conversations.Upsert(ctx, auth.Identity{Kind: auth.IdentityUser, UserID: userID}, animalID)
		require.NoError(t, err)

		_, err = messages.Append(ctx, conv, Sender{Kind: "ghost"}, "boo", "")
		assert.True(t, IsValidationError(err))
	})

	t.Run("UserReplyClaimsAnonymousConversation", func(t *testing.T) {
		deviceKey := "device-" + uniqueSuffix()
		otherAnimal := insertTestAnimal(t, db, shelterID, "Scraps")
		claimer := insertTestUser(t, db, "Barbara")

		conv, _, err := conversations.Upsert(ctx, auth.Identity{Kind: auth.IdentityDevice, DeviceKey: deviceKey}, otherAnimal)
		require.NoError(t, err)
		require.Nil(t, conv.UserID)

		msg, err := messages.Append(ctx, conv, Sender{Kind: models.KindUser, ID: claimer}, "I want to adopt!", "Barbara")
		require.NoError(t, err)

		require.NotNil(t, conv.UserID, "reply attaches the conversation to the user")
		assert.Equal(t, claimer, *conv.UserID)
		assert.Equal(t, fmt.Sprintf("user:%d:%d", claimer, otherAnimal), msg.ConversationKey)

		got, err := conversations.GetByID(ctx, conv.ID)
		require.NoError(t, err)
		require.NotNil(t, got.UserID)
		assert.Equal(t, claimer, *got.UserID)
	})
}

func TestMessagesRepoListOrder(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	animals := NewAnimalsRepo(db)
	conversations := NewConversationsRepo(db, animals)
	messages := NewMessagesRepo(db)

	shelterID := insertTestShelter(t, db, "Order Shelter")
	userID := insertTestUser(t, db, "Alan")
	animalID := insertTestAnimal(t, db, shelterID, "Pixel")

	conv, _, err := conversations.Upsert(ctx, auth.Identity{Kind: auth.IdentityUser, UserID: userID}, animalID)
	require.NoError(t, err)

	texts := []string{"first", "second", "third", "fourth"}
	for _, text := range texts {
		_, err := messages.Append(ctx, conv, Sender{Kind: models.KindUser, ID: userID}, text, "")
		require.NoError(t, err)
	}

	list, err := messages.ListByConversation(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, list, len(texts))
	for i, text := range texts {
		assert.Equal(t, text, list[i].Text, "messages come back in creation order")
	}

	// The projection tracks the latest message
	got, err := conversations.GetByID(ctx, conv.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastMessage)
	assert.Equal(t, "fourth", *got.LastMessage)
}

func TestMessagesRepoMarkRead(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	animals := NewAnimalsRepo(db)
	conversations := NewConversationsRepo(db, animals)
	messages := NewMessagesRepo(db)

	shelterID := insertTestShelter(t, db, "Read Shelter")
	userID := insertTestUser(t, db, "Edsger")
	animalID := insertTestAnimal(t, db, shelterID, "Dij")

	conv, _, err := conversations.Upsert(ctx, auth.Identity{Kind: auth.IdentityUser, UserID: userID}, animalID)
	require.NoError(t, err)

	_, err = messages.Append(ctx, conv, Sender{Kind: models.KindUser, ID: userID}, "one", "")
	require.NoError(t, err)
	_, err = messages.Append(ctx, conv, Sender{Kind: models.KindUser, ID: userID}, "two", "")
	require.NoError(t, err)
	_, err = messages.Append(ctx, conv, Sender{Kind: models.KindShelter, ID: shelterID}, "reply", "")
	require.NoError(t, err)

	// Only the two user-authored messages are addressed to the shelter
	updated, err := messages.MarkRead(ctx, conv.ID, models.KindShelter)
	require.NoError(t, err)
	assert.Equal(t, int64(2), updated)

	// Repeat is a no-op
	updated, err = messages.MarkRead(ctx, conv.ID, models.KindShelter)
	require.NoError(t, err)
	assert.Zero(t, updated)

	list, err := messages.ListByConversation(ctx, conv.ID)
	require.NoError(t, err)
	for _, msg := range list {
		if msg.ToKind == models.KindShelter {
			assert.True(t, msg.Read)
		} else {
			assert.False(t, msg.Read)
		}
	}
}
