package models

import (
	"fmt"
	"time"
)

// Conversation rows store the participant pair in canonical order
// (participant1_id < participant2_id) so each unordered pair maps to at most
// one row.
type Conversation struct {
	ID             int64     `json:"id"`
	Participant1ID int64     `json:"participant1_id"`
	Participant2ID int64     `json:"participant2_id"`
	LastMessageAt  time.Time `json:"last_message_at"`
	CreatedAt      time.Time `json:"created_at"`
}

type Profile struct {
	ID          int64   `json:"id"`
	DisplayName string  `json:"display_name"`
	AvatarURL   *string `json:"avatar_url,omitempty"`
	Role        string  `json:"role"`
}

// ConversationView is the per-viewer projection the UI renders: the raw
// conversation plus the other party's profile, the viewer's unread count and
// a preview of the latest message between the pair.
type ConversationView struct {
	Conversation
	OtherUser          Profile `json:"other_user"`
	UnreadCount        int     `json:"unread_count"`
	LastMessagePreview string  `json:"last_message_preview"`
}

// PairKey builds a direction-independent lookup key for a participant pair.
// Messages between the same two users carry the ids in either order; both
// orders resolve to the same key.
func PairKey(a, b int64) string {
	if a > b {
		a, b = b, a
	}
	return fmt.Sprintf("%d:%d", a, b)
}
