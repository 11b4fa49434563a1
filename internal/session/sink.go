package session

import "github.com/avetikov/ProLinkBack/internal/models"

const (
	NotificationNewMessage = "new_message"
	NotificationError      = "error"
)

// Notification is an ephemeral user-facing event. The session never renders
// anything; presentation belongs to whoever implements the Sink.
type Notification struct {
	Kind       string `json:"kind"`
	SenderName string `json:"sender_name,omitempty"`
	Preview    string `json:"preview,omitempty"`
	Detail     string `json:"detail,omitempty"`
}

// Sink receives state pushed out of a session: appended and updated thread
// messages, refreshed conversation lists and notifications. Implementations
// must not block; the websocket client buffers, tests record.
type Sink interface {
	MessageAppended(message models.Message)
	MessageUpdated(message models.Message)
	ConversationsRefreshed(conversations []models.ConversationView, totalUnread int)
	Notify(notification Notification)
}

type nopSink struct{}

func (nopSink) MessageAppended(models.Message) {}

func (nopSink) MessageUpdated(models.Message) {}

func (nopSink) ConversationsRefreshed([]models.ConversationView, int) {}

func (nopSink) Notify(Notification) {}
