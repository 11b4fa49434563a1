package models

import (
	"encoding/json"
	"time"
)

const (
	MessageTypeText     = "text"
	MessageTypeProposal = "proposal"
	MessageTypeSystem   = "system"
	MessageTypeImage    = "image"
	MessageTypeFile     = "file"
)

type Message struct {
	ID              string          `json:"id"`
	SenderID        int64           `json:"sender_id"`
	ReceiverID      int64           `json:"receiver_id"`
	Content         string          `json:"content"`
	MessageType     string          `json:"message_type"`
	IsRead          bool            `json:"is_read"`
	IsFlagged       bool            `json:"is_flagged"`
	FlaggedKeywords []string        `json:"flagged_keywords,omitempty"`
	FileURL         *string         `json:"file_url,omitempty"`
	FileName        *string         `json:"file_name,omitempty"`
	FileType        *string         `json:"file_type,omitempty"`
	Metadata        json.RawMessage `json:"metadata,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

// MessageDraft carries the client-supplied fields of a message; the store
// assigns ID and CreatedAt on insert.
type MessageDraft struct {
	SenderID        int64
	ReceiverID      int64
	Content         string
	MessageType     string
	IsFlagged       bool
	FlaggedKeywords []string
	FileURL         *string
	FileName        *string
	FileType        *string
	Metadata        json.RawMessage
}

// Offer states carried in proposal metadata.
const (
	OfferStatusPending  = "pending"
	OfferStatusAccepted = "accepted"
	OfferStatusDeclined = "declined"
)

type ProposalMetadata struct {
	BookingID   *int64  `json:"booking_id,omitempty"`
	ServiceName string  `json:"service_name"`
	Price       float64 `json:"price"`
	Status      string  `json:"status"`
}

type SystemMetadata struct {
	Event string `json:"event"`
}

type Attachment struct {
	URL  string `json:"url"`
	Name string `json:"name"`
	Type string `json:"type"`
}
