package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/avetikov/ProLinkBack/internal/models"
)

type ConversationRepository struct {
	db DBTX
}

func NewConversationRepository(db DBTX) *ConversationRepository {
	return &ConversationRepository{db: db}
}

// Upsert records a message exchange between two users, creating the
// conversation row on first contact and advancing last_message_at otherwise.
// Participants are stored in canonical order so either direction maps to the
// same row.
func (r *ConversationRepository) Upsert(
	ctx context.Context,
	userA int64,
	userB int64,
	lastMessageAt time.Time,
) (*models.Conversation, error) {
	if userA > userB {
		userA, userB = userB, userA
	}

	query := `
		INSERT INTO conversations (participant1_id, participant2_id, last_message_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (participant1_id, participant2_id)
		DO UPDATE SET last_message_at = GREATEST(conversations.last_message_at, EXCLUDED.last_message_at)
		RETURNING id, participant1_id, participant2_id, last_message_at, created_at
	`

	var conversation models.Conversation
	err := r.db.QueryRow(ctx, query, userA, userB, lastMessageAt).Scan(
		&conversation.ID,
		&conversation.Participant1ID,
		&conversation.Participant2ID,
		&conversation.LastMessageAt,
		&conversation.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	return &conversation, nil
}

func (r *ConversationRepository) ListForParticipant(
	ctx context.Context,
	participantID int64,
) ([]models.Conversation, error) {
	query := `
		SELECT id, participant1_id, participant2_id, last_message_at, created_at
		FROM conversations
		WHERE participant1_id = $1 OR participant2_id = $1
		ORDER BY last_message_at DESC, id DESC
	`
	rows, err := r.db.Query(ctx, query, participantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanConversations(rows)
}

// ListAll returns every conversation, newest activity first. Used for the
// admin view; unpaginated.
func (r *ConversationRepository) ListAll(ctx context.Context) ([]models.Conversation, error) {
	query := `
		SELECT id, participant1_id, participant2_id, last_message_at, created_at
		FROM conversations
		ORDER BY last_message_at DESC, id DESC
	`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanConversations(rows)
}

func scanConversations(rows pgx.Rows) ([]models.Conversation, error) {
	conversations := make([]models.Conversation, 0)
	for rows.Next() {
		var conversation models.Conversation
		if err := rows.Scan(
			&conversation.ID,
			&conversation.Participant1ID,
			&conversation.Participant2ID,
			&conversation.LastMessageAt,
			&conversation.CreatedAt,
		); err != nil {
			return nil, err
		}
		conversations = append(conversations, conversation)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return conversations, nil
}
