package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/avetikov/ProLinkBack/internal/models"
)

type MessageRepository struct {
	db DBTX
}

func NewMessageRepository(db DBTX) *MessageRepository {
	return &MessageRepository{db: db}
}

const messageColumns = `
	id, sender_id, receiver_id, content, message_type,
	is_read, is_flagged, flagged_keywords,
	file_url, file_name, file_type, metadata, created_at
`

func (r *MessageRepository) Insert(ctx context.Context, draft *models.MessageDraft) (*models.Message, error) {
	query := `
		INSERT INTO messages (
			id, sender_id, receiver_id, content, message_type,
			is_read, is_flagged, flagged_keywords,
			file_url, file_name, file_type, metadata
		)
		VALUES ($1, $2, $3, $4, $5, FALSE, $6, $7, $8, $9, $10, $11)
		RETURNING ` + messageColumns

	row := r.db.QueryRow(ctx, query,
		uuid.NewString(),
		draft.SenderID,
		draft.ReceiverID,
		draft.Content,
		draft.MessageType,
		draft.IsFlagged,
		draft.FlaggedKeywords,
		draft.FileURL,
		draft.FileName,
		draft.FileType,
		draft.Metadata,
	)

	return scanMessage(row)
}

// ListBetween returns the full thread between two users, oldest first.
func (r *MessageRepository) ListBetween(ctx context.Context, userA, userB int64) ([]models.Message, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE (sender_id = $1 AND receiver_id = $2)
		   OR (sender_id = $2 AND receiver_id = $1)
		ORDER BY created_at ASC, id ASC
	`
	rows, err := r.db.Query(ctx, query, userA, userB)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanMessages(rows)
}

func (r *MessageRepository) UpdateMetadata(
	ctx context.Context,
	messageID string,
	metadata []byte,
) (*models.Message, error) {
	query := `
		UPDATE messages
		SET metadata = $2
		WHERE id = $1
		RETURNING ` + messageColumns

	return scanMessage(r.db.QueryRow(ctx, query, messageID, metadata))
}

// MarkRead flips every unread message from senderID to receiverID in one
// statement and returns the affected rows so change events can be published
// for them.
func (r *MessageRepository) MarkRead(
	ctx context.Context,
	senderID int64,
	receiverID int64,
) ([]models.Message, error) {
	query := `
		UPDATE messages
		SET is_read = TRUE
		WHERE sender_id = $1
		  AND receiver_id = $2
		  AND is_read = FALSE
		RETURNING ` + messageColumns

	rows, err := r.db.Query(ctx, query, senderID, receiverID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanMessages(rows)
}

// UnreadCountsBySender returns the receiver's unread totals grouped by
// sender, for every sender, in one round trip.
func (r *MessageRepository) UnreadCountsBySender(
	ctx context.Context,
	receiverID int64,
) (map[int64]int, error) {
	query := `
		SELECT sender_id, COUNT(*)
		FROM messages
		WHERE receiver_id = $1
		  AND is_read = FALSE
		GROUP BY sender_id
	`
	rows, err := r.db.Query(ctx, query, receiverID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[int64]int)
	for rows.Next() {
		var senderID int64
		var count int
		if err := rows.Scan(&senderID, &count); err != nil {
			return nil, err
		}
		counts[senderID] = count
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return counts, nil
}

// LastMessagesAmong returns the latest message content for every participant
// pair within the given id set, keyed by models.PairKey, in one round trip.
func (r *MessageRepository) LastMessagesAmong(
	ctx context.Context,
	participantIDs []int64,
) (map[string]string, error) {
	previews := make(map[string]string)
	if len(participantIDs) == 0 {
		return previews, nil
	}

	query := `
		SELECT DISTINCT ON (LEAST(sender_id, receiver_id), GREATEST(sender_id, receiver_id))
			sender_id, receiver_id, content
		FROM messages
		WHERE sender_id = ANY($1)
		  AND receiver_id = ANY($1)
		ORDER BY LEAST(sender_id, receiver_id), GREATEST(sender_id, receiver_id),
			created_at DESC, id DESC
	`
	rows, err := r.db.Query(ctx, query, participantIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var senderID, receiverID int64
		var content string
		if err := rows.Scan(&senderID, &receiverID, &content); err != nil {
			return nil, err
		}
		previews[models.PairKey(senderID, receiverID)] = content
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return previews, nil
}

func scanMessage(row pgx.Row) (*models.Message, error) {
	var message models.Message
	err := row.Scan(
		&message.ID,
		&message.SenderID,
		&message.ReceiverID,
		&message.Content,
		&message.MessageType,
		&message.IsRead,
		&message.IsFlagged,
		&message.FlaggedKeywords,
		&message.FileURL,
		&message.FileName,
		&message.FileType,
		&message.Metadata,
		&message.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &message, nil
}

func scanMessages(rows pgx.Rows) ([]models.Message, error) {
	messages := make([]models.Message, 0)
	for rows.Next() {
		message, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, *message)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return messages, nil
}
