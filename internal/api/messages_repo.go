package api

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/pawmatch/pkg/models"
)

// MessagesRepo handles database operations for the per-conversation
// message ledger
type MessagesRepo struct {
	db *sql.DB
}

// NewMessagesRepo creates a new messages repository
func NewMessagesRepo(db *sql.DB) *MessagesRepo {
	return &MessagesRepo{db: db}
}

// Sender identifies who authored a message
type Sender struct {
	Kind string // models.KindUser, models.KindShelter or models.KindAnimal
	ID   int64  // zero for anonymous device participants
}

// conversationKey derives the redundant lookup/debugging key stored on
// every message: "user:<id>:<animal>" once claimed, "device:<key>:<animal>"
// before that
func conversationKey(conv *models.Conversation) string {
	if conv.UserID != nil {
		return fmt.Sprintf("user:%d:%d", *conv.UserID, conv.AnimalID)
	}
	if conv.DeviceKey != nil {
		return fmt.Sprintf("device:%s:%d", *conv.DeviceKey, conv.AnimalID)
	}
	return fmt.Sprintf("conversation:%d", conv.ID)
}

// recipientKind derives the recipient from the sender by fixed rule:
// user→shelter, shelter→user, animal→user when the conversation has a
// user attached, otherwise shelter
func recipientKind(senderKind string, conv *models.Conversation) string {
	switch senderKind {
	case models.KindShelter:
		return models.KindUser
	case models.KindAnimal:
		if conv.UserID != nil {
			return models.KindUser
		}
		return models.KindShelter
	default:
		return models.KindShelter
	}
}

// Append adds a message to the conversation's ledger and refreshes the
// conversation's last-message projection, in one transaction. A user
// sender replying into an unclaimed device conversation claims it as a
// side effect, guarded by the user slot being unset.
func (r *MessagesRepo) Append(ctx context.Context, conv *models.Conversation, sender Sender, text, displayName string) (*models.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, NewValidationError("text", "text required")
	}

	switch sender.Kind {
	case models.KindUser, models.KindShelter, models.KindAnimal:
	default:
		return nil, NewValidationError("sender", fmt.Sprintf("invalid sender kind %q", sender.Kind))
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin message transaction: %w", err)
	}
	defer tx.Rollback()

	// Implicit claim: any user reply attaches an unclaimed conversation
	// to that user
	if sender.Kind == models.KindUser && conv.UserID == nil && sender.ID > 0 {
		result, err := tx.ExecContext(ctx, `
			UPDATE public.conversations
			SET user_id = $2, updated_at = NOW()
			WHERE id = $1 AND user_id IS NULL
		`, conv.ID, sender.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to claim conversation on reply: %w", err)
		}
		if n, _ := result.RowsAffected(); n > 0 {
			userID := sender.ID
			conv.UserID = &userID
		} else {
			// Lost a claim race; pick up whoever won
			if err := tx.QueryRowContext(ctx,
				`SELECT user_id FROM public.conversations WHERE id = $1`, conv.ID).Scan(&conv.UserID); err != nil {
				return nil, fmt.Errorf("failed to re-read conversation owner: %w", err)
			}
		}
	}

	fromKind := sender.Kind
	toKind := recipientKind(fromKind, conv)

	var fromID *int64
	if sender.ID > 0 {
		fromID = &sender.ID
	}

	var toID *int64
	switch toKind {
	case models.KindUser:
		toID = conv.UserID
	case models.KindShelter:
		toID = conv.ShelterID
	}

	var author *string
	if displayName != "" {
		author = &displayName
	}

	msg := &models.Message{
		ConversationID:    conv.ID,
		ConversationKey:   conversationKey(conv),
		UserID:            conv.UserID,
		DeviceKey:         conv.DeviceKey,
		AnimalID:          &conv.AnimalID,
		ShelterID:         conv.ShelterID,
		FromKind:          fromKind,
		FromID:            fromID,
		ToKind:            toKind,
		ToID:              toID,
		Text:              text,
		AuthorDisplayName: author,
	}

	err = tx.QueryRowContext(ctx, `
		INSERT INTO public.messages (conversation_id, conversation_key, user_id, device_key, animal_id, shelter_id,
		                             from_kind, from_id, to_kind, to_id, text, author_display_name)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id, read, created_at
	`,
		msg.ConversationID,
		msg.ConversationKey,
		msg.UserID,
		msg.DeviceKey,
		msg.AnimalID,
		msg.ShelterID,
		msg.FromKind,
		msg.FromID,
		msg.ToKind,
		msg.ToID,
		msg.Text,
		msg.AuthorDisplayName,
	).Scan(&msg.ID, &msg.Read, &msg.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert message: %w", err)
	}

	// Denormalized last-message projection
	_, err = tx.ExecContext(ctx, `
		UPDATE public.conversations
		SET last_message = $2, last_message_at = $3, updated_at = NOW()
		WHERE id = $1
	`, conv.ID, msg.Text, msg.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to update last message projection: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit message: %w", err)
	}

	conv.LastMessage = &msg.Text
	conv.LastMessageAt = &msg.CreatedAt

	return msg, nil
}

// ListByConversation returns the conversation's messages in creation
// order. The bigserial id breaks timestamp ties so the order is stable
// across repeated calls.
func (r *MessagesRepo) ListByConversation(ctx context.Context, conversationID int64) ([]*models.Message, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, conversation_id, conversation_key, user_id, device_key, animal_id, shelter_id,
		       from_kind, from_id, to_kind, to_id, text, author_display_name, read, created_at
		FROM public.messages
		WHERE conversation_id = $1
		ORDER BY created_at ASC, id ASC
	`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	// Initialize as empty slice so JSON encodes to [] rather than null
	messages := make([]*models.Message, 0)
	for rows.Next() {
		msg := &models.Message{}
		err := rows.Scan(
			&msg.ID,
			&msg.ConversationID,
			&msg.ConversationKey,
			&msg.UserID,
			&msg.DeviceKey,
			&msg.AnimalID,
			&msg.ShelterID,
			&msg.FromKind,
			&msg.FromID,
			&msg.ToKind,
			&msg.ToID,
			&msg.Text,
			&msg.AuthorDisplayName,
			&msg.Read,
			&msg.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, msg)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating messages: %w", err)
	}

	return messages, nil
}

// MarkRead flags all messages addressed to the given recipient kind as
// read. This is the only mutation a message ever sees.
func (r *MessagesRepo) MarkRead(ctx context.Context, conversationID int64, recipientKind string) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE public.messages
		SET read = true
		WHERE conversation_id = $1 AND to_kind = $2 AND read = false
	`, conversationID, recipientKind)
	if err != nil {
		return 0, fmt.Errorf("failed to mark messages read: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read mark-read result: %w", err)
	}

	return rowsAffected, nil
}
