package api

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pawmatch/internal/api/auth"
	"github.com/pawmatch/pkg/models"
)

func TestConversationsRepoUpsert(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	animals := NewAnimalsRepo(db)
	repo := NewConversationsRepo(db, animals)

	shelterID := insertTestShelter(t, db, "Happy Tails")
	userID := insertTestUser(t, db, "Ada")
	animalID := insertTestAnimal(t, db, shelterID, "Rex")

	t.Run("UserUpsertIdempotent", func(t *testing.T) {
		identity := auth.Identity{Kind: auth.IdentityUser, UserID: userID}

		first, snap, err := repo.Upsert(ctx, identity, animalID)
		require.NoError(t, err)
		require.NotNil(t, first.UserID)
		assert.Equal(t, userID, *first.UserID)
		assert.Equal(t, animalID, snap.ID)
		require.NotNil(t, first.ShelterID)
		assert.Equal(t, shelterID, *first.ShelterID)
		assert.False(t, first.AutoMessageSent)

		second, _, err := repo.Upsert(ctx, identity, animalID)
		require.NoError(t, err)
		assert.Equal(t, first.ID, second.ID, "repeat upsert must return the same conversation")
		assert.True(t, second.MatchedAt.Equal(first.MatchedAt), "matched_at must not move on repeat upsert")
	})

	t.Run("DeviceUpsertIdempotent", func(t *testing.T) {
		identity := auth.Identity{Kind: auth.IdentityDevice, DeviceKey: "device-" + uniqueSuffix()}

		first, _, err := repo.Upsert(ctx, identity, animalID)
		require.NoError(t, err)
		assert.Nil(t, first.UserID)
		require.NotNil(t, first.DeviceKey)
		assert.Equal(t, identity.DeviceKey, *first.DeviceKey)

		second, _, err := repo.Upsert(ctx, identity, animalID)
		require.NoError(t, err)
		assert.Equal(t, first.ID, second.ID)
	})

	t.Run("UnknownAnimal", func(t *testing.T) {
		identity := auth.Identity{Kind: auth.IdentityUser, UserID: userID}
		_, _, err := repo.Upsert(ctx, identity, -1)
		assert.ErrorIs(t, err, ErrAnimalNotFound)
	})

	t.Run("ConcurrentUpsertsSingleRow", func(t *testing.T) {
		otherAnimal := insertTestAnimal(t, db, shelterID, "Luna")
		identity := auth.Identity{Kind: auth.IdentityUser, UserID: userID}

		const workers = 8
		ids := make([]int64, workers)
		errs := make([]error, workers)

		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				conv, _, err := repo.Upsert(ctx, identity, otherAnimal)
				if err == nil {
					ids[i] = conv.ID
				}
				errs[i] = err
			}(i)
		}
		wg.Wait()

		for i := 0; i < workers; i++ {
			require.NoError(t, errs[i])
			assert.Equal(t, ids[0], ids[i], "all concurrent upserts must land on one row")
		}
	})
}

func TestConversationClaim(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	animals := NewAnimalsRepo(db)
	repo := NewConversationsRepo(db, animals)

	shelterID := insertTestShelter(t, db, "Second Chance")
	animalID := insertTestAnimal(t, db, shelterID, "Milo")

	t.Run("UserUpsertClaimsDeviceConversation", func(t *testing.T) {
		deviceKey := "device-" + uniqueSuffix()
		userID := insertTestUser(t, db, "Grace")

		anon, _, err := repo.Upsert(ctx, auth.Identity{Kind: auth.IdentityDevice, DeviceKey: deviceKey}, animalID)
		require.NoError(t, err)
		require.Nil(t, anon.UserID)

		claimed, _, err := repo.Upsert(ctx, auth.Identity{
			Kind:      auth.IdentityUser,
			UserID:    userID,
			DeviceKey: deviceKey,
		}, animalID)
		require.NoError(t, err)
		assert.Equal(t, anon.ID, claimed.ID, "claim must reuse the anonymous conversation")
		require.NotNil(t, claimed.UserID)
		assert.Equal(t, userID, *claimed.UserID)
	})

	t.Run("ExistingUserConversationWins", func(t *testing.T) {
		// A user who already has their own conversation and also carries a
		// stale device key must get their own row back, not a claim error
		// from the per-user uniqueness index.
		deviceKey := "device-" + uniqueSuffix()
		userID := insertTestUser(t, db, "Barbara")
		animal := insertTestAnimal(t, db, shelterID, "Pepper")

		own, _, err := repo.Upsert(ctx, auth.Identity{Kind: auth.IdentityUser, UserID: userID}, animal)
		require.NoError(t, err)

		anon, _, err := repo.Upsert(ctx, auth.Identity{Kind: auth.IdentityDevice, DeviceKey: deviceKey}, animal)
		require.NoError(t, err)
		require.NotEqual(t, own.ID, anon.ID)

		got, _, err := repo.Upsert(ctx, auth.Identity{
			Kind:      auth.IdentityUser,
			UserID:    userID,
			DeviceKey: deviceKey,
		}, animal)
		require.NoError(t, err)
		assert.Equal(t, own.ID, got.ID, "the user's own conversation takes precedence over a claim")
		assert.True(t, got.MatchedAt.Equal(own.MatchedAt))

		// The anonymous row stays unclaimed
		stale, err := repo.GetByID(ctx, anon.ID)
		require.NoError(t, err)
		assert.Nil(t, stale.UserID)
	})

	t.Run("ClaimHasOneWinner", func(t *testing.T) {
		deviceKey := "device-" + uniqueSuffix()
		firstUser := insertTestUser(t, db, "Linus")
		secondUser := insertTestUser(t, db, "Margaret")

		otherAnimal := insertTestAnimal(t, db, shelterID, "Bella")
		anon, _, err := repo.Upsert(ctx, auth.Identity{Kind: auth.IdentityDevice, DeviceKey: deviceKey}, otherAnimal)
		require.NoError(t, err)

		won, err := repo.ClaimForUser(ctx, anon.ID, firstUser)
		require.NoError(t, err)
		assert.True(t, won)

		won, err = repo.ClaimForUser(ctx, anon.ID, secondUser)
		require.NoError(t, err)
		assert.False(t, won, "a claimed conversation must not be re-claimed")

		conv, err := repo.GetByID(ctx, anon.ID)
		require.NoError(t, err)
		require.NotNil(t, conv.UserID)
		assert.Equal(t, firstUser, *conv.UserID)
	})
}

func TestMarkAutoMessageSent(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	animals := NewAnimalsRepo(db)
	repo := NewConversationsRepo(db, animals)

	shelterID := insertTestShelter(t, db, "Paws Inc")
	animalID := insertTestAnimal(t, db, shelterID, "Coco")

	conv, _, err := repo.Upsert(ctx, auth.Identity{Kind: auth.IdentityDevice, DeviceKey: "device-" + uniqueSuffix()}, animalID)
	require.NoError(t, err)

	won, err := repo.MarkAutoMessageSent(ctx, conv.ID)
	require.NoError(t, err)
	assert.True(t, won)

	won, err = repo.MarkAutoMessageSent(ctx, conv.ID)
	require.NoError(t, err)
	assert.False(t, won, "the flag is one-way, the second flip must lose")
}

func TestFindByIDShelterScope(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	animals := NewAnimalsRepo(db)
	repo := NewConversationsRepo(db, animals)

	ownerID := insertTestShelter(t, db, "Owner Shelter")
	strangerID := insertTestShelter(t, db, "Other Shelter")
	animalID := insertTestAnimal(t, db, ownerID, "Daisy")

	conv, _, err := repo.Upsert(ctx, auth.Identity{Kind: auth.IdentityDevice, DeviceKey: "device-" + uniqueSuffix()}, animalID)
	require.NoError(t, err)

	t.Run("OwnerSees", func(t *testing.T) {
		got, err := repo.FindByID(ctx, conv.ID, ownerID)
		require.NoError(t, err)
		assert.Equal(t, conv.ID, got.ID)
	})

	t.Run("StrangerGetsNotFound", func(t *testing.T) {
		_, err := repo.FindByID(ctx, conv.ID, strangerID)
		assert.ErrorIs(t, err, ErrConversationNotFound)
	})

	t.Run("BackfillsMissingShelterViaAnimal", func(t *testing.T) {
		_, err := db.ExecContext(ctx,
			"UPDATE public.conversations SET shelter_id = NULL WHERE id = $1", conv.ID)
		require.NoError(t, err)

		got, err := repo.FindByID(ctx, conv.ID, ownerID)
		require.NoError(t, err)
		require.NotNil(t, got.ShelterID)
		assert.Equal(t, ownerID, *got.ShelterID)
	})
}

func TestListForShelter(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	animals := NewAnimalsRepo(db)
	repo := NewConversationsRepo(db, animals)

	shelterID := insertTestShelter(t, db, "List Shelter")
	userID := insertTestUser(t, db, "Katherine")
	animalA := insertTestAnimal(t, db, shelterID, "Alpha")
	animalB := insertTestAnimal(t, db, shelterID, "Beta")

	_, _, err := repo.Upsert(ctx, auth.Identity{Kind: auth.IdentityUser, UserID: userID}, animalA)
	require.NoError(t, err)
	_, _, err = repo.Upsert(ctx, auth.Identity{Kind: auth.IdentityDevice, DeviceKey: "device-" + uniqueSuffix()}, animalB)
	require.NoError(t, err)

	t.Run("All", func(t *testing.T) {
		list, err := repo.ListForShelter(ctx, shelterID, ShelterListFilter{})
		require.NoError(t, err)
		assert.Len(t, list, 2)
	})

	t.Run("FilterByAnimal", func(t *testing.T) {
		list, err := repo.ListForShelter(ctx, shelterID, ShelterListFilter{AnimalID: &animalA})
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, animalA, list[0].AnimalID)
		require.NotNil(t, list[0].UserName, "claimed conversations resolve the user name")
		assert.Equal(t, "Katherine", *list[0].UserName)
	})

	t.Run("FilterByUser", func(t *testing.T) {
		list, err := repo.ListForShelter(ctx, shelterID, ShelterListFilter{UserID: &userID})
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, animalA, list[0].AnimalID)
	})

	t.Run("AnonymousHasNoUserName", func(t *testing.T) {
		list, err := repo.ListForShelter(ctx, shelterID, ShelterListFilter{AnimalID: &animalB})
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Nil(t, list[0].UserName)
	})
}

func TestDeleteCascade(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	animals := NewAnimalsRepo(db)
	repo := NewConversationsRepo(db, animals)
	messages := NewMessagesRepo(db)

	shelterID := insertTestShelter(t, db, "Delete Shelter")
	animalID := insertTestAnimal(t, db, shelterID, "Ghost")

	conv, _, err := repo.Upsert(ctx, auth.Identity{Kind: auth.IdentityDevice, DeviceKey: "device-" + uniqueSuffix()}, animalID)
	require.NoError(t, err)

	_, err = messages.Append(ctx, conv, Sender{Kind: models.KindUser}, "is Ghost still available?", "")
	require.NoError(t, err)

	require.NoError(t, repo.DeleteCascade(ctx, conv.ID))

	_, err = repo.GetByID(ctx, conv.ID)
	assert.ErrorIs(t, err, ErrConversationNotFound)

	var count int
	require.NoError(t, db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM public.messages WHERE conversation_id = $1", conv.ID).Scan(&count))
	assert.Zero(t, count, "messages must go with the conversation")
}
