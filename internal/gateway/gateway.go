// Package gateway abstracts the backing store for the messaging engine:
// queries, writes, attachment upload and a subscribe primitive for message
// change events. The engine only ever talks to this interface; the Postgres
// and NATS implementations live alongside it.
package gateway

import (
	"context"
	"io"

	"github.com/avetikov/ProLinkBack/internal/models"
)

type EventType string

const (
	EventInsert EventType = "insert"
	EventUpdate EventType = "update"
)

// MessageEvent is a change notification carrying the full row after the
// change was committed.
type MessageEvent struct {
	Type    EventType      `json:"type"`
	Message models.Message `json:"message"`
}

// EventFilter scopes a subscription. A zero SenderID or ReceiverID acts as a
// wildcard, so either side of a message can be filtered independently.
type EventFilter struct {
	Type       EventType
	SenderID   int64
	ReceiverID int64
}

type Gateway interface {
	GetUser(ctx context.Context, id int64) (*models.User, error)
	GetProfile(ctx context.Context, id int64) (*models.Profile, error)

	// ListConversations returns the user's conversations ordered by most
	// recent activity; with asAdmin set it returns all conversations.
	ListConversations(ctx context.Context, forUserID int64, asAdmin bool) ([]models.Conversation, error)
	BatchGetProfiles(ctx context.Context, ids []int64) (map[int64]models.Profile, error)
	// UnreadCountsBySender returns every unread total for the receiver
	// grouped by sender in a single round trip.
	UnreadCountsBySender(ctx context.Context, receiverID int64) (map[int64]int, error)
	// LastMessagesAmong returns the latest message content for every pair
	// within the id set, keyed by models.PairKey, in a single round trip.
	LastMessagesAmong(ctx context.Context, participantIDs []int64) (map[string]string, error)

	ListMessages(ctx context.Context, userA, userB int64) ([]models.Message, error)
	InsertMessage(ctx context.Context, draft *models.MessageDraft) (*models.Message, error)
	UpdateMessageMetadata(ctx context.Context, messageID string, metadata []byte) (*models.Message, error)
	// MarkRead bulk-flips unread messages from senderID to receiverID and
	// reports how many rows changed.
	MarkRead(ctx context.Context, senderID, receiverID int64) (int, error)

	UploadAttachment(ctx context.Context, file io.Reader, filename string) (*models.Attachment, error)
	DeleteAttachment(ctx context.Context, fileURL string) error

	// SubscribeMessageEvents delivers committed change events matching the
	// filter until the returned unsubscribe function is called.
	SubscribeMessageEvents(filter EventFilter, handler func(MessageEvent)) (func(), error)
}
