package session

import (
	"context"

	"github.com/avetikov/ProLinkBack/internal/gateway"
	"github.com/avetikov/ProLinkBack/internal/models"
)

// Aggregator materializes a viewer's conversation list with every derived
// field populated in a fixed number of gateway round trips: one conversation
// listing, one batched profile fetch, one batched unread-count fetch and one
// batched last-message fetch, regardless of how many conversations exist.
type Aggregator struct {
	gw gateway.Gateway
}

func NewAggregator(gw gateway.Gateway) *Aggregator {
	return &Aggregator{gw: gw}
}

type AggregateResult struct {
	Conversations []models.ConversationView
	TotalUnread   int
}

func (a *Aggregator) Aggregate(ctx context.Context, viewer models.Profile) (*AggregateResult, error) {
	isAdmin := viewer.Role == models.RoleAdmin

	conversations, err := a.gw.ListConversations(ctx, viewer.ID, isAdmin)
	if err != nil {
		return nil, err
	}

	participantIDs := collectParticipantIDs(conversations, viewer.ID)

	profiles, err := a.gw.BatchGetProfiles(ctx, participantIDs)
	if err != nil {
		return nil, err
	}

	var unreadBySender map[int64]int
	if !isAdmin {
		unreadBySender, err = a.gw.UnreadCountsBySender(ctx, viewer.ID)
		if err != nil {
			return nil, err
		}
	}

	previews, err := a.gw.LastMessagesAmong(ctx, participantIDs)
	if err != nil {
		return nil, err
	}

	result := &AggregateResult{
		Conversations: make([]models.ConversationView, 0, len(conversations)),
	}
	seenPairs := make(map[string]struct{}, len(conversations))

	for _, conversation := range conversations {
		pairKey := models.PairKey(conversation.Participant1ID, conversation.Participant2ID)
		if _, dup := seenPairs[pairKey]; dup {
			continue
		}
		seenPairs[pairKey] = struct{}{}

		otherUserID := conversation.Participant2ID
		if !isAdmin && conversation.Participant1ID != viewer.ID {
			otherUserID = conversation.Participant1ID
		}

		view := models.ConversationView{
			Conversation:       conversation,
			OtherUser:          profiles[otherUserID],
			LastMessagePreview: previews[pairKey],
		}
		if !isAdmin {
			view.UnreadCount = unreadBySender[otherUserID]
		}

		result.TotalUnread += view.UnreadCount
		result.Conversations = append(result.Conversations, view)
	}

	return result, nil
}

func collectParticipantIDs(conversations []models.Conversation, viewerID int64) []int64 {
	seen := map[int64]struct{}{viewerID: {}}
	ids := []int64{viewerID}
	for _, conversation := range conversations {
		for _, id := range [2]int64{conversation.Participant1ID, conversation.Participant2ID} {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	return ids
}
