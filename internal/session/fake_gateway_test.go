package session

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/avetikov/ProLinkBack/internal/gateway"
	"github.com/avetikov/ProLinkBack/internal/models"
)

// fakeGateway is an in-memory Gateway with per-method call counting and
// fault injection, shared by the aggregator and session tests.
type fakeGateway struct {
	mu            sync.Mutex
	profiles      map[int64]models.Profile
	conversations []models.Conversation
	messages      []models.Message
	nextID        int
	calls         map[string]int
	failNext      map[string]error
	subs          []*fakeSubscription
}

type fakeSubscription struct {
	filter  gateway.EventFilter
	handler func(gateway.MessageEvent)
	closed  bool
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		profiles: make(map[int64]models.Profile),
		calls:    make(map[string]int),
		failNext: make(map[string]error),
	}
}

func (f *fakeGateway) addProfile(profile models.Profile) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.profiles[profile.ID] = profile
}

func (f *fakeGateway) addConversation(a, b int64, lastMessageAt time.Time) {
	if a > b {
		a, b = b, a
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.conversations = append(f.conversations, models.Conversation{
		ID:             int64(len(f.conversations) + 1),
		Participant1ID: a,
		Participant2ID: b,
		LastMessageAt:  lastMessageAt,
		CreatedAt:      lastMessageAt,
	})
}

func (f *fakeGateway) addMessage(message models.Message) models.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	if message.ID == "" {
		f.nextID++
		message.ID = fmt.Sprintf("msg-%d", f.nextID)
	}
	if message.CreatedAt.IsZero() {
		message.CreatedAt = time.Now().UTC()
	}
	f.messages = append(f.messages, message)
	return message
}

func (f *fakeGateway) callCount(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

func (f *fakeGateway) totalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := 0
	for _, count := range f.calls {
		total += count
	}
	return total
}

func (f *fakeGateway) failOnce(method string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failNext[method] = err
}

// emit delivers an event to every live subscription whose filter matches,
// the way the NATS bus would.
func (f *fakeGateway) emit(event gateway.MessageEvent) {
	f.mu.Lock()
	subs := make([]*fakeSubscription, 0, len(f.subs))
	for _, sub := range f.subs {
		if !sub.closed && matchesFilter(sub.filter, event) {
			subs = append(subs, sub)
		}
	}
	f.mu.Unlock()

	for _, sub := range subs {
		sub.handler(event)
	}
}

func matchesFilter(filter gateway.EventFilter, event gateway.MessageEvent) bool {
	if filter.Type != event.Type {
		return false
	}
	if filter.SenderID != 0 && filter.SenderID != event.Message.SenderID {
		return false
	}
	if filter.ReceiverID != 0 && filter.ReceiverID != event.Message.ReceiverID {
		return false
	}
	return true
}

func (f *fakeGateway) enter(method string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[method]++
	if err, ok := f.failNext[method]; ok {
		delete(f.failNext, method)
		return err
	}
	return nil
}

func (f *fakeGateway) GetUser(_ context.Context, id int64) (*models.User, error) {
	if err := f.enter("GetUser"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	profile, ok := f.profiles[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return &models.User{ID: profile.ID, Role: profile.Role, DisplayName: profile.DisplayName}, nil
}

func (f *fakeGateway) GetProfile(_ context.Context, id int64) (*models.Profile, error) {
	if err := f.enter("GetProfile"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	profile, ok := f.profiles[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return &profile, nil
}

func (f *fakeGateway) ListConversations(_ context.Context, forUserID int64, asAdmin bool) ([]models.Conversation, error) {
	if err := f.enter("ListConversations"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.Conversation, 0, len(f.conversations))
	for _, conversation := range f.conversations {
		if asAdmin || conversation.Participant1ID == forUserID || conversation.Participant2ID == forUserID {
			out = append(out, conversation)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].LastMessageAt.After(out[j].LastMessageAt)
	})
	return out, nil
}

func (f *fakeGateway) BatchGetProfiles(_ context.Context, ids []int64) (map[int64]models.Profile, error) {
	if err := f.enter("BatchGetProfiles"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[int64]models.Profile, len(ids))
	for _, id := range ids {
		if profile, ok := f.profiles[id]; ok {
			out[id] = profile
		}
	}
	return out, nil
}

func (f *fakeGateway) UnreadCountsBySender(_ context.Context, receiverID int64) (map[int64]int, error) {
	if err := f.enter("UnreadCountsBySender"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	counts := make(map[int64]int)
	for _, message := range f.messages {
		if message.ReceiverID == receiverID && !message.IsRead {
			counts[message.SenderID]++
		}
	}
	return counts, nil
}

func (f *fakeGateway) LastMessagesAmong(_ context.Context, participantIDs []int64) (map[string]string, error) {
	if err := f.enter("LastMessagesAmong"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	inSet := make(map[int64]struct{}, len(participantIDs))
	for _, id := range participantIDs {
		inSet[id] = struct{}{}
	}
	previews := make(map[string]string)
	for _, message := range f.messages {
		if _, ok := inSet[message.SenderID]; !ok {
			continue
		}
		if _, ok := inSet[message.ReceiverID]; !ok {
			continue
		}
		previews[models.PairKey(message.SenderID, message.ReceiverID)] = message.Content
	}
	return previews, nil
}

func (f *fakeGateway) ListMessages(_ context.Context, userA, userB int64) ([]models.Message, error) {
	if err := f.enter("ListMessages"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.Message, 0)
	for _, message := range f.messages {
		if (message.SenderID == userA && message.ReceiverID == userB) ||
			(message.SenderID == userB && message.ReceiverID == userA) {
			out = append(out, message)
		}
	}
	return out, nil
}

func (f *fakeGateway) InsertMessage(_ context.Context, draft *models.MessageDraft) (*models.Message, error) {
	if err := f.enter("InsertMessage"); err != nil {
		return nil, err
	}
	message := f.addMessage(models.Message{
		SenderID:        draft.SenderID,
		ReceiverID:      draft.ReceiverID,
		Content:         draft.Content,
		MessageType:     draft.MessageType,
		IsFlagged:       draft.IsFlagged,
		FlaggedKeywords: draft.FlaggedKeywords,
		FileURL:         draft.FileURL,
		FileName:        draft.FileName,
		FileType:        draft.FileType,
		Metadata:        draft.Metadata,
	})
	return &message, nil
}

func (f *fakeGateway) UpdateMessageMetadata(_ context.Context, messageID string, metadata []byte) (*models.Message, error) {
	if err := f.enter("UpdateMessageMetadata"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.messages {
		if f.messages[i].ID == messageID {
			f.messages[i].Metadata = metadata
			updated := f.messages[i]
			return &updated, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (f *fakeGateway) MarkRead(_ context.Context, senderID, receiverID int64) (int, error) {
	if err := f.enter("MarkRead"); err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	flipped := 0
	for i := range f.messages {
		if f.messages[i].SenderID == senderID && f.messages[i].ReceiverID == receiverID && !f.messages[i].IsRead {
			f.messages[i].IsRead = true
			flipped++
		}
	}
	return flipped, nil
}

func (f *fakeGateway) UploadAttachment(_ context.Context, _ io.Reader, filename string) (*models.Attachment, error) {
	if err := f.enter("UploadAttachment"); err != nil {
		return nil, err
	}
	return &models.Attachment{
		URL:  "https://files.test/attachments/" + filename,
		Name: filename,
		Type: "application/octet-stream",
	}, nil
}

func (f *fakeGateway) DeleteAttachment(_ context.Context, _ string) error {
	return f.enter("DeleteAttachment")
}

func (f *fakeGateway) SubscribeMessageEvents(filter gateway.EventFilter, handler func(gateway.MessageEvent)) (func(), error) {
	if err := f.enter("SubscribeMessageEvents"); err != nil {
		return nil, err
	}
	sub := &fakeSubscription{filter: filter, handler: handler}
	f.mu.Lock()
	f.subs = append(f.subs, sub)
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		sub.closed = true
		f.mu.Unlock()
	}, nil
}

func (f *fakeGateway) openSubscriptions() []gateway.EventFilter {
	f.mu.Lock()
	defer f.mu.Unlock()
	filters := make([]gateway.EventFilter, 0, len(f.subs))
	for _, sub := range f.subs {
		if !sub.closed {
			filters = append(filters, sub.filter)
		}
	}
	return filters
}
