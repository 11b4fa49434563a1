package chatws

import (
	"context"
	"encoding/json"
	"time"

	websocket "github.com/gofiber/contrib/websocket"
	"github.com/rs/zerolog"

	"github.com/avetikov/ProLinkBack/internal/models"
	"github.com/avetikov/ProLinkBack/internal/services"
	"github.com/avetikov/ProLinkBack/internal/session"
)

// Frame is the outbound wire format pushed to the UI.
type Frame struct {
	Type          string                    `json:"type"`
	Message       *models.Message           `json:"message,omitempty"`
	Messages      []models.Message          `json:"messages,omitempty"`
	Conversations []models.ConversationView `json:"conversations,omitempty"`
	UnreadCount   *int                      `json:"unread_count,omitempty"`
	Notification  *session.Notification     `json:"notification,omitempty"`
	Error         string                    `json:"error,omitempty"`
	Timestamp     string                    `json:"timestamp"`
}

// command is the inbound wire format from the UI.
type command struct {
	Type        string             `json:"type"`
	OtherUserID int64              `json:"other_user_id,omitempty"`
	ReceiverID  int64              `json:"receiver_id,omitempty"`
	SenderID    int64              `json:"sender_id,omitempty"`
	Content     string             `json:"content,omitempty"`
	MessageType string             `json:"message_type,omitempty"`
	MessageID   string             `json:"message_id,omitempty"`
	Metadata    json.RawMessage    `json:"metadata,omitempty"`
	Attachment  *models.Attachment `json:"attachment,omitempty"`
}

type Client struct {
	hub     *Hub
	conn    *websocket.Conn
	userID  int64
	send    chan []byte
	session *session.Session
	logger  zerolog.Logger
}

func NewClient(hub *Hub, conn *websocket.Conn, userID int64, logger zerolog.Logger) *Client {
	return &Client{
		hub:    hub,
		conn:   conn,
		userID: userID,
		send:   make(chan []byte, 32),
		logger: logger,
	}
}

// Bind attaches the live session whose sink this client is.
func (c *Client) Bind(sess *session.Session) {
	c.session = sess
}

// The client is the session's sink: engine state changes become frames fanned
// out to every socket the user has open.

func (c *Client) MessageAppended(message models.Message) {
	c.push(Frame{Type: "message", Message: &message})
}

func (c *Client) MessageUpdated(message models.Message) {
	c.push(Frame{Type: "message_updated", Message: &message})
}

func (c *Client) ConversationsRefreshed(conversations []models.ConversationView, totalUnread int) {
	c.push(Frame{Type: "conversations", Conversations: conversations, UnreadCount: &totalUnread})
}

func (c *Client) Notify(notification session.Notification) {
	c.push(Frame{Type: "notification", Notification: &notification})
}

func (c *Client) push(frame Frame) {
	frame.Timestamp = time.Now().UTC().Format(time.RFC3339)
	payload, err := json.Marshal(frame)
	if err != nil {
		c.logger.Error().Err(err).Str("frame_type", frame.Type).Msg("encode frame")
		return
	}
	c.hub.Push(c.userID, payload)
}

// ReadPump dispatches inbound commands to the session until the socket
// closes, then tears the session down.
func (c *Client) ReadPump() {
	defer func() {
		if c.session != nil {
			c.session.Close()
		}
		c.hub.Unregister(c)
		_ = c.conn.Close()
	}()

	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var cmd command
		if err := json.Unmarshal(payload, &cmd); err != nil {
			c.writeError("invalid command payload")
			continue
		}

		c.dispatch(cmd)
	}
}

func (c *Client) dispatch(cmd command) {
	ctx := context.Background()

	switch cmd.Type {
	case "open_thread":
		messages, err := c.session.FetchMessages(ctx, cmd.OtherUserID)
		if err != nil {
			c.writeError("failed to load thread")
			return
		}
		c.push(Frame{Type: "thread", Messages: messages})
	case "send":
		_, err := c.session.SendMessage(ctx, services.SendInput{
			ReceiverID:  cmd.ReceiverID,
			Content:     cmd.Content,
			MessageType: cmd.MessageType,
			Attachment:  cmd.Attachment,
			Metadata:    cmd.Metadata,
		})
		if err != nil {
			c.writeError("failed to send message")
		}
	case "mark_read":
		c.session.MarkAsRead(ctx, cmd.SenderID)
	case "update_status":
		c.session.UpdateMessageStatus(ctx, cmd.MessageID, cmd.MessageType, cmd.Metadata)
	case "fetch_conversations":
		conversations, totalUnread, err := c.session.FetchConversations(ctx)
		if err != nil {
			c.writeError("failed to load conversations")
			return
		}
		c.push(Frame{Type: "conversations", Conversations: conversations, UnreadCount: &totalUnread})
	default:
		c.writeError("unsupported command type")
	}
}

func (c *Client) WritePump() {
	defer func() {
		_ = c.conn.Close()
	}()

	for payload := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			return
		}
	}
}

// writeError targets only this socket, not the user's other tabs.
func (c *Client) writeError(detail string) {
	payload, err := json.Marshal(Frame{
		Type:      "error",
		Error:     detail,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return
	}
	select {
	case c.send <- payload:
	default:
		c.hub.Unregister(c)
	}
}
