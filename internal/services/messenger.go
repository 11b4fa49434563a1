package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/avetikov/ProLinkBack/internal/compliance"
	"github.com/avetikov/ProLinkBack/internal/gateway"
	"github.com/avetikov/ProLinkBack/internal/models"
)

var (
	ErrUnauthenticated    = errors.New("unauthenticated")
	ErrInvalidInput       = errors.New("invalid input")
	ErrRecipientNotFound  = errors.New("recipient not found")
	ErrInvalidMetadata    = errors.New("invalid message metadata")
	ErrUnknownMessageType = errors.New("unknown message type")
)

// Messenger implements the write operations of the messaging engine on top
// of the gateway: compliance-filtered send, metadata status updates, bulk
// read receipts and attachment upload. It holds no per-viewer state; live
// session state belongs to the session package.
type Messenger struct {
	gw     gateway.Gateway
	logger zerolog.Logger
}

func NewMessenger(gw gateway.Gateway, logger zerolog.Logger) *Messenger {
	return &Messenger{gw: gw, logger: logger}
}

type SendInput struct {
	ReceiverID  int64
	Content     string
	MessageType string
	Attachment  *models.Attachment
	Metadata    json.RawMessage
}

// Send persists a message from senderID. Text content is run through the
// compliance filter first; a failed check flags the message and stores the
// sanitized text, but never blocks the send. Empty content is replaced with
// a readable placeholder so conversation previews are never blank.
func (m *Messenger) Send(ctx context.Context, senderID int64, in SendInput) (*models.Message, error) {
	if senderID <= 0 {
		return nil, ErrUnauthenticated
	}
	if in.ReceiverID <= 0 || in.ReceiverID == senderID {
		return nil, ErrInvalidInput
	}

	messageType := in.MessageType
	if messageType == "" {
		messageType = models.MessageTypeText
	}
	if !validMessageType(messageType) {
		return nil, ErrUnknownMessageType
	}

	if _, err := m.gw.GetProfile(ctx, in.ReceiverID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRecipientNotFound
		}
		return nil, err
	}

	content := strings.TrimSpace(in.Content)
	var flagged bool
	var flaggedKeywords []string
	if messageType == models.MessageTypeText && content != "" {
		result := compliance.Check(content)
		if !result.Passed {
			flagged = true
			flaggedKeywords = result.DetectedTerms
			content = compliance.Sanitize(content)
		}
	}

	if content == "" {
		placeholder, err := placeholderContent(messageType, in.Attachment)
		if err != nil {
			return nil, err
		}
		content = placeholder
	}

	draft := &models.MessageDraft{
		SenderID:        senderID,
		ReceiverID:      in.ReceiverID,
		Content:         content,
		MessageType:     messageType,
		IsFlagged:       flagged,
		FlaggedKeywords: flaggedKeywords,
		Metadata:        in.Metadata,
	}
	if in.Attachment != nil {
		draft.FileURL = &in.Attachment.URL
		draft.FileName = &in.Attachment.Name
		draft.FileType = &in.Attachment.Type
	}

	message, err := m.gw.InsertMessage(ctx, draft)
	if err != nil {
		return nil, err
	}

	if flagged {
		m.logger.Warn().
			Str("message_id", message.ID).
			Int64("sender_id", senderID).
			Strs("terms", flaggedKeywords).
			Msg("message flagged by compliance filter")
	}

	return message, nil
}

func placeholderContent(messageType string, attachment *models.Attachment) (string, error) {
	if attachment != nil {
		return fmt.Sprintf("Sent a file: %s", attachment.Name), nil
	}

	switch messageType {
	case models.MessageTypeProposal:
		return "Sent a booking offer", nil
	case models.MessageTypeSystem:
		return "System notification", nil
	case models.MessageTypeImage:
		return "Sent an image", nil
	case models.MessageTypeFile:
		return "Sent a file", nil
	default:
		return "", ErrInvalidInput
	}
}

func validMessageType(messageType string) bool {
	switch messageType {
	case models.MessageTypeText, models.MessageTypeProposal, models.MessageTypeSystem,
		models.MessageTypeImage, models.MessageTypeFile:
		return true
	default:
		return false
	}
}

// UpdateStatus patches a message's metadata, validating the payload against
// the shape its message type requires (e.g. the offer state machine on
// proposals).
func (m *Messenger) UpdateStatus(
	ctx context.Context,
	viewerID int64,
	messageID string,
	messageType string,
	metadata json.RawMessage,
) (*models.Message, error) {
	if viewerID <= 0 {
		return nil, ErrUnauthenticated
	}
	if messageID == "" {
		return nil, ErrInvalidInput
	}
	if err := validateMetadata(messageType, metadata); err != nil {
		return nil, err
	}

	return m.gw.UpdateMessageMetadata(ctx, messageID, metadata)
}

func validateMetadata(messageType string, metadata json.RawMessage) error {
	switch messageType {
	case models.MessageTypeProposal:
		var proposal models.ProposalMetadata
		if err := json.Unmarshal(metadata, &proposal); err != nil {
			return ErrInvalidMetadata
		}
		switch proposal.Status {
		case models.OfferStatusPending, models.OfferStatusAccepted, models.OfferStatusDeclined:
			return nil
		default:
			return ErrInvalidMetadata
		}
	case models.MessageTypeSystem:
		var system models.SystemMetadata
		if err := json.Unmarshal(metadata, &system); err != nil || system.Event == "" {
			return ErrInvalidMetadata
		}
		return nil
	case models.MessageTypeText, models.MessageTypeImage, models.MessageTypeFile:
		if len(metadata) == 0 {
			return nil
		}
		if !json.Valid(metadata) {
			return ErrInvalidMetadata
		}
		return nil
	default:
		return ErrUnknownMessageType
	}
}

// MarkAsRead bulk-flips every unread message from senderID to the viewer and
// reports how many rows changed.
func (m *Messenger) MarkAsRead(ctx context.Context, viewerID, senderID int64) (int, error) {
	if viewerID <= 0 {
		return 0, ErrUnauthenticated
	}
	if senderID <= 0 {
		return 0, ErrInvalidInput
	}
	return m.gw.MarkRead(ctx, senderID, viewerID)
}

// FetchThread returns the full thread between the viewer and the other user,
// oldest first. An unauthenticated read degrades to an empty result.
func (m *Messenger) FetchThread(ctx context.Context, viewerID, otherUserID int64) ([]models.Message, error) {
	if viewerID <= 0 {
		return []models.Message{}, nil
	}
	if otherUserID <= 0 {
		return nil, ErrInvalidInput
	}
	return m.gw.ListMessages(ctx, viewerID, otherUserID)
}

func (m *Messenger) UploadAttachment(
	ctx context.Context,
	viewerID int64,
	file io.Reader,
	filename string,
) (*models.Attachment, error) {
	if viewerID <= 0 {
		return nil, ErrUnauthenticated
	}
	if filename == "" {
		return nil, ErrInvalidInput
	}
	return m.gw.UploadAttachment(ctx, file, filename)
}

// DeleteAttachment removes an uploaded blob, typically after a cancelled
// send. Message rows keep their file URLs; deletion is storage-only.
func (m *Messenger) DeleteAttachment(ctx context.Context, viewerID int64, fileURL string) error {
	if viewerID <= 0 {
		return ErrUnauthenticated
	}
	if strings.TrimSpace(fileURL) == "" {
		return ErrInvalidInput
	}
	return m.gw.DeleteAttachment(ctx, fileURL)
}
