package api

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pawmatch/internal/api/auth"
	"github.com/pawmatch/pkg/models"
)

func TestComposeText(t *testing.T) {
	t.Run("IntroPlusSuffix", func(t *testing.T) {
		a := &AutoMessenger{
			IntroLines: []string{"Hi there!"},
			Suffix:     "A caretaker will reply soon.",
		}
		text := a.ComposeText()
		assert.Equal(t, "Hi there!\n\nA caretaker will reply soon.", text)
	})

	t.Run("PicksFromPool", func(t *testing.T) {
		pool := []string{"one", "two", "three"}
		a := &AutoMessenger{IntroLines: pool, Suffix: "suffix"}
		for i := 0; i < 20; i++ {
			text := a.ComposeText()
			parts := strings.SplitN(text, "\n\n", 2)
			assert.Contains(t, pool, parts[0])
			assert.Equal(t, "suffix", parts[1])
		}
	})

	t.Run("EmptyPoolFallsBackToSuffix", func(t *testing.T) {
		a := &AutoMessenger{Suffix: "just the suffix"}
		assert.Equal(t, "just the suffix", a.ComposeText())
	})

	t.Run("BlankSuffixSkipped", func(t *testing.T) {
		a := &AutoMessenger{IntroLines: []string{"hello"}, Suffix: "   "}
		assert.Equal(t, "hello", a.ComposeText())
	})

	t.Run("NothingConfigured", func(t *testing.T) {
		a := &AutoMessenger{}
		assert.Empty(t, a.ComposeText())
	})
}

func TestEnsureOpeningMessage(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	animals := NewAnimalsRepo(db)
	conversations := NewConversationsRepo(db, animals)
	messages := NewMessagesRepo(db)
	shelters := NewSheltersRepo(db)

	messenger := NewAutoMessenger(conversations, messages, shelters, animals,
		[]string{"Want to meet me?"}, "A caretaker will reply soon.")

	shelterID := insertTestShelter(t, db, "Auto Shelter")
	userID := insertTestUser(t, db, "Opening User")
	animalID := insertTestAnimal(t, db, shelterID, "Biscuit")

	identity := auth.Identity{Kind: auth.IdentityUser, UserID: userID}

	conv, _, err := conversations.Upsert(ctx, identity, animalID)
	require.NoError(t, err)

	t.Run("SendsOnce", func(t *testing.T) {
		msg, err := messenger.EnsureOpeningMessage(ctx, conv, identity, "")
		require.NoError(t, err)
		require.NotNil(t, msg)
		assert.Equal(t, models.KindShelter, msg.FromKind)
		require.NotNil(t, msg.FromID)
		assert.Equal(t, shelterID, *msg.FromID)
		require.NotNil(t, msg.AuthorDisplayName)
		assert.Equal(t, "Auto Shelter", *msg.AuthorDisplayName)
		assert.Equal(t, "Want to meet me?\n\nA caretaker will reply soon.", msg.Text)
		assert.True(t, conv.AutoMessageSent)
	})

	t.Run("SecondCallIsNoOp", func(t *testing.T) {
		msg, err := messenger.EnsureOpeningMessage(ctx, conv, identity, "")
		require.NoError(t, err)
		assert.Nil(t, msg)

		list, err := messages.ListByConversation(ctx, conv.ID)
		require.NoError(t, err)
		assert.Len(t, list, 1, "the opening message must exist exactly once")
	})

	t.Run("StaleFlagLosesRace", func(t *testing.T) {
		// A caller holding a stale snapshot with the flag unset still
		// loses to the conditional update
		stale, err := conversations.GetByID(ctx, conv.ID)
		require.NoError(t, err)
		stale.AutoMessageSent = false

		msg, err := messenger.EnsureOpeningMessage(ctx, stale, identity, "")
		require.NoError(t, err)
		assert.Nil(t, msg)
		assert.True(t, stale.AutoMessageSent)
	})

	t.Run("DeviceConversation", func(t *testing.T) {
		// An anonymous match gets the opening message too: addressed to a
		// user slot that is still empty, attributed via the device key.
		deviceIdentity := auth.Identity{Kind: auth.IdentityDevice, DeviceKey: "device-" + uniqueSuffix()}
		other := insertTestAnimal(t, db, shelterID, "Noodle")

		anon, _, err := conversations.Upsert(ctx, deviceIdentity, other)
		require.NoError(t, err)
		require.Nil(t, anon.UserID)

		msg, err := messenger.EnsureOpeningMessage(ctx, anon, deviceIdentity, "")
		require.NoError(t, err)
		require.NotNil(t, msg)
		assert.Equal(t, models.KindShelter, msg.FromKind)
		require.NotNil(t, msg.FromID)
		assert.Equal(t, shelterID, *msg.FromID)
		assert.Equal(t, models.KindUser, msg.ToKind)
		assert.Nil(t, msg.ToID, "an unclaimed conversation has no user to address")
		require.NotNil(t, msg.DeviceKey)
		assert.Equal(t, deviceIdentity.DeviceKey, *msg.DeviceKey)
		assert.True(t, anon.AutoMessageSent)

		stored, err := conversations.GetByID(ctx, anon.ID)
		require.NoError(t, err)
		assert.True(t, stored.AutoMessageSent)
	})

	t.Run("OverrideText", func(t *testing.T) {
		other := insertTestAnimal(t, db, shelterID, "Waffle")
		conv2, _, err := conversations.Upsert(ctx, identity, other)
		require.NoError(t, err)

		msg, err := messenger.EnsureOpeningMessage(ctx, conv2, identity, "Custom greeting")
		require.NoError(t, err)
		require.NotNil(t, msg)
		assert.Equal(t, "Custom greeting", msg.Text)
	})
}
