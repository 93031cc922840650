package api

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pawmatch/internal/api/auth"
	"github.com/pawmatch/pkg/models"
)

// ConversationsRepo handles database operations for conversations. All
// correctness under concurrent requests comes from single-statement
// upserts and conditional updates; there are no in-process locks.
type ConversationsRepo struct {
	db      *sql.DB
	animals *AnimalsRepo
}

// NewConversationsRepo creates a new conversations repository
func NewConversationsRepo(db *sql.DB, animals *AnimalsRepo) *ConversationsRepo {
	return &ConversationsRepo{db: db, animals: animals}
}

const conversationColumns = `id, user_id, device_key, animal_id, shelter_id, animal_name, animal_photo, matched_at, auto_message_sent, last_message, last_message_at, created_at, updated_at`

func scanConversation(row interface{ Scan(...interface{}) error }) (*models.Conversation, error) {
	conv := &models.Conversation{}
	err := row.Scan(
		&conv.ID,
		&conv.UserID,
		&conv.DeviceKey,
		&conv.AnimalID,
		&conv.ShelterID,
		&conv.AnimalName,
		&conv.AnimalPhoto,
		&conv.MatchedAt,
		&conv.AutoMessageSent,
		&conv.LastMessage,
		&conv.LastMessageAt,
		&conv.CreatedAt,
		&conv.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return conv, nil
}

// Upsert locates or creates the single conversation for (identity,
// animal) and refreshes the animal snapshot on it. For a user identity
// that also presents a device key, an unclaimed device conversation for
// the same animal is claimed instead of creating a duplicate. matched_at
// is set only on insert (column default), never on the conflict path.
func (r *ConversationsRepo) Upsert(ctx context.Context, identity auth.Identity, animalID int64) (*models.Conversation, *models.AnimalSnapshot, error) {
	snap, err := r.animals.GetSnapshot(ctx, animalID)
	if err != nil {
		return nil, nil, err
	}

	switch identity.Kind {
	case auth.IdentityUser:
		if identity.DeviceKey != "" {
			// Only claim when the user has no conversation for this animal
			// yet; claiming on top of one would collide with the per-user
			// uniqueness of (user_id, animal_id).
			var hasOwn bool
			err := r.db.QueryRowContext(ctx,
				`SELECT EXISTS(SELECT 1 FROM public.conversations WHERE user_id = $1 AND animal_id = $2)`,
				identity.UserID, animalID).Scan(&hasOwn)
			if err != nil {
				return nil, nil, fmt.Errorf("failed to check existing user conversation: %w", err)
			}
			if !hasOwn {
				conv, err := r.claimDeviceConversation(ctx, identity.UserID, identity.DeviceKey, snap)
				if err == nil {
					return conv, snap, nil
				}
				// A unique violation means a user conversation appeared
				// between the check and the claim; the upsert below returns it.
				if err != sql.ErrNoRows && !isUniqueViolation(err) {
					return nil, nil, fmt.Errorf("failed to claim device conversation: %w", err)
				}
			}
			// nothing to claim, fall through to the user upsert
		}

		conv, err := scanConversation(r.db.QueryRowContext(ctx, `
			INSERT INTO public.conversations (user_id, animal_id, shelter_id, animal_name, animal_photo)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (user_id, animal_id) WHERE user_id IS NOT NULL DO UPDATE
			SET shelter_id = EXCLUDED.shelter_id,
			    animal_name = EXCLUDED.animal_name,
			    animal_photo = EXCLUDED.animal_photo,
			    updated_at = NOW()
			RETURNING `+conversationColumns,
			identity.UserID, snap.ID, snap.ShelterID, snap.Name, snap.Photo))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to upsert user conversation: %w", err)
		}
		return conv, snap, nil

	case auth.IdentityDevice:
		conv, err := scanConversation(r.db.QueryRowContext(ctx, `
			INSERT INTO public.conversations (device_key, animal_id, shelter_id, animal_name, animal_photo)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (device_key, animal_id) WHERE device_key IS NOT NULL DO UPDATE
			SET shelter_id = EXCLUDED.shelter_id,
			    animal_name = EXCLUDED.animal_name,
			    animal_photo = EXCLUDED.animal_photo,
			    updated_at = NOW()
			RETURNING `+conversationColumns,
			identity.DeviceKey, snap.ID, snap.ShelterID, snap.Name, snap.Photo))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to upsert device conversation: %w", err)
		}
		return conv, snap, nil

	default:
		// Shelters never upsert directly; they attach through an explicit
		// user id, which the handler translates into a user identity
		return nil, nil, NewValidationError("identity", "shelter identity cannot start a conversation without a user id")
	}
}

// claimDeviceConversation atomically attaches a previously anonymous
// conversation to a user, guarded by the user slot being unset. Returns
// sql.ErrNoRows when there is nothing to claim (absent, or already claimed).
func (r *ConversationsRepo) claimDeviceConversation(ctx context.Context, userID int64, deviceKey string, snap *models.AnimalSnapshot) (*models.Conversation, error) {
	return scanConversation(r.db.QueryRowContext(ctx, `
		UPDATE public.conversations
		SET user_id = $1,
		    shelter_id = COALESCE($4, shelter_id),
		    animal_name = $5,
		    animal_photo = $6,
		    updated_at = NOW()
		WHERE device_key = $2 AND animal_id = $3 AND user_id IS NULL
		RETURNING `+conversationColumns,
		userID, deviceKey, snap.ID, snap.ShelterID, snap.Name, snap.Photo))
}

// FindExisting locates the conversation for (identity, animal) without
// creating one. For a user identity it first looks up by user; if absent
// and a device key is known, it claims an unclaimed device conversation.
func (r *ConversationsRepo) FindExisting(ctx context.Context, identity auth.Identity, animalID int64) (*models.Conversation, error) {
	switch identity.Kind {
	case auth.IdentityUser:
		conv, err := scanConversation(r.db.QueryRowContext(ctx,
			`SELECT `+conversationColumns+` FROM public.conversations WHERE user_id = $1 AND animal_id = $2`,
			identity.UserID, animalID))
		if err == nil {
			return conv, nil
		}
		if err != sql.ErrNoRows {
			return nil, fmt.Errorf("failed to find user conversation: %w", err)
		}

		if identity.DeviceKey != "" {
			conv, err := scanConversation(r.db.QueryRowContext(ctx, `
				UPDATE public.conversations
				SET user_id = $1, updated_at = NOW()
				WHERE device_key = $2 AND animal_id = $3 AND user_id IS NULL
				RETURNING `+conversationColumns,
				identity.UserID, identity.DeviceKey, animalID))
			if err == nil {
				return conv, nil
			}
			if isUniqueViolation(err) {
				// A user conversation appeared concurrently; read it instead
				conv, err := scanConversation(r.db.QueryRowContext(ctx,
					`SELECT `+conversationColumns+` FROM public.conversations WHERE user_id = $1 AND animal_id = $2`,
					identity.UserID, animalID))
				if err != nil {
					return nil, fmt.Errorf("failed to find user conversation: %w", err)
				}
				return conv, nil
			}
			if err != sql.ErrNoRows {
				return nil, fmt.Errorf("failed to claim device conversation: %w", err)
			}
		}

		return nil, ErrConversationNotFound

	case auth.IdentityDevice:
		conv, err := scanConversation(r.db.QueryRowContext(ctx,
			`SELECT `+conversationColumns+` FROM public.conversations WHERE device_key = $1 AND animal_id = $2`,
			identity.DeviceKey, animalID))
		if err != nil {
			if err == sql.ErrNoRows {
				return nil, ErrConversationNotFound
			}
			return nil, fmt.Errorf("failed to find device conversation: %w", err)
		}
		return conv, nil

	default:
		return nil, ErrConversationNotFound
	}
}

// FindByID is the shelter-scoped lookup. When the stored shelter
// reference is absent it verifies ownership through the animal's shelter
// and backfills the reference on the conversation. A conversation the
// calling shelter does not own (by either path) reads as not found.
func (r *ConversationsRepo) FindByID(ctx context.Context, conversationID, shelterID int64) (*models.Conversation, error) {
	conv, err := scanConversation(r.db.QueryRowContext(ctx,
		`SELECT `+conversationColumns+` FROM public.conversations WHERE id = $1`, conversationID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrConversationNotFound
		}
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}

	if conv.ShelterID != nil {
		if *conv.ShelterID != shelterID {
			return nil, ErrConversationNotFound
		}
		return conv, nil
	}

	// Shelter reference missing: verify via the transitive animal link
	snap, err := r.animals.GetSnapshot(ctx, conv.AnimalID)
	if err != nil {
		if err == ErrAnimalNotFound {
			return nil, ErrConversationNotFound
		}
		return nil, err
	}
	if snap.ShelterID == nil || *snap.ShelterID != shelterID {
		return nil, ErrConversationNotFound
	}

	if err := r.SetShelter(ctx, conv.ID, shelterID); err != nil {
		return nil, err
	}
	conv.ShelterID = &shelterID

	return conv, nil
}

// GetByID retrieves a conversation without ownership scoping. Callers are
// responsible for authorization.
func (r *ConversationsRepo) GetByID(ctx context.Context, conversationID int64) (*models.Conversation, error) {
	conv, err := scanConversation(r.db.QueryRowContext(ctx,
		`SELECT `+conversationColumns+` FROM public.conversations WHERE id = $1`, conversationID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrConversationNotFound
		}
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	return conv, nil
}

// SetShelter backfills the denormalized shelter reference
func (r *ConversationsRepo) SetShelter(ctx context.Context, conversationID, shelterID int64) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE public.conversations SET shelter_id = $2, updated_at = NOW() WHERE id = $1 AND shelter_id IS NULL`,
		conversationID, shelterID)
	if err != nil {
		return fmt.Errorf("failed to set conversation shelter: %w", err)
	}
	return nil
}

// ClaimForUser atomically fills the user slot of an unclaimed
// conversation. Returns false when the slot was already taken; the caller
// treats that as a benign race and re-reads.
func (r *ConversationsRepo) ClaimForUser(ctx context.Context, conversationID, userID int64) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE public.conversations
		SET user_id = $2, updated_at = NOW()
		WHERE id = $1 AND user_id IS NULL
	`, conversationID, userID)
	if err != nil {
		return false, fmt.Errorf("failed to claim conversation: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read claim result: %w", err)
	}

	return rowsAffected > 0, nil
}

// MarkAutoMessageSent flips the one-way auto-message flag. The update is
// conditional on the prior value so concurrent duplicate triggers resolve
// to exactly one winner.
func (r *ConversationsRepo) MarkAutoMessageSent(ctx context.Context, conversationID int64) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE public.conversations
		SET auto_message_sent = true, updated_at = NOW()
		WHERE id = $1 AND auto_message_sent = false
	`, conversationID)
	if err != nil {
		return false, fmt.Errorf("failed to mark auto message sent: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read auto message result: %w", err)
	}

	return rowsAffected > 0, nil
}

// ListForParticipant returns the participant's conversations, most
// recently active first
func (r *ConversationsRepo) ListForParticipant(ctx context.Context, identity auth.Identity) ([]*models.Conversation, error) {
	var rows *sql.Rows
	var err error

	switch identity.Kind {
	case auth.IdentityUser:
		rows, err = r.db.QueryContext(ctx,
			`SELECT `+conversationColumns+` FROM public.conversations WHERE user_id = $1 ORDER BY updated_at DESC`,
			identity.UserID)
	case auth.IdentityDevice:
		rows, err = r.db.QueryContext(ctx,
			`SELECT `+conversationColumns+` FROM public.conversations WHERE device_key = $1 ORDER BY updated_at DESC`,
			identity.DeviceKey)
	default:
		return nil, NewValidationError("identity", "participant identity required")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query conversations: %w", err)
	}
	defer rows.Close()

	// Initialize as empty slice so JSON encodes to [] rather than null
	conversations := make([]*models.Conversation, 0)
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}
		conversations = append(conversations, conv)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating conversations: %w", err)
	}

	return conversations, nil
}

// ShelterListFilter narrows the shelter-facing conversation list
type ShelterListFilter struct {
	AnimalID *int64
	UserID   *int64
}

// ListForShelter returns the shelter's conversations with the
// participant's name resolved for claimed conversations
func (r *ConversationsRepo) ListForShelter(ctx context.Context, shelterID int64, filter ShelterListFilter) ([]*models.ConversationSummary, error) {
	query := `
		SELECT c.id, c.user_id, c.device_key, c.animal_id, c.shelter_id, c.animal_name, c.animal_photo,
		       c.matched_at, c.auto_message_sent, c.last_message, c.last_message_at, c.created_at, c.updated_at,
		       u.name
		FROM public.conversations c
		LEFT JOIN public.users u ON u.id = c.user_id
		WHERE c.shelter_id = $1
	`
	args := []interface{}{shelterID}
	argCount := 1

	if filter.AnimalID != nil {
		argCount++
		query += fmt.Sprintf(" AND c.animal_id = $%d", argCount)
		args = append(args, *filter.AnimalID)
	}
	if filter.UserID != nil {
		argCount++
		query += fmt.Sprintf(" AND c.user_id = $%d", argCount)
		args = append(args, *filter.UserID)
	}

	query += " ORDER BY c.updated_at DESC"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query shelter conversations: %w", err)
	}
	defer rows.Close()

	// Initialize as empty slice so JSON encodes to [] rather than null
	summaries := make([]*models.ConversationSummary, 0)
	for rows.Next() {
		s := &models.ConversationSummary{}
		err := rows.Scan(
			&s.ID,
			&s.UserID,
			&s.DeviceKey,
			&s.AnimalID,
			&s.ShelterID,
			&s.AnimalName,
			&s.AnimalPhoto,
			&s.MatchedAt,
			&s.AutoMessageSent,
			&s.LastMessage,
			&s.LastMessageAt,
			&s.CreatedAt,
			&s.UpdatedAt,
			&s.UserName,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan shelter conversation: %w", err)
		}
		summaries = append(summaries, s)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating shelter conversations: %w", err)
	}

	return summaries, nil
}

// DeleteCascade removes a conversation and all its messages as one
// logical operation. Messages go first inside the transaction so a retry
// after a partial failure stays safe.
func (r *ConversationsRepo) DeleteCascade(ctx context.Context, conversationID int64) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin delete transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM public.messages WHERE conversation_id = $1`, conversationID); err != nil {
		return fmt.Errorf("failed to delete conversation messages: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM public.conversations WHERE id = $1`, conversationID); err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit conversation delete: %w", err)
	}

	return nil
}
