package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/avetikov/ProLinkBack/internal/gateway"
	"github.com/avetikov/ProLinkBack/internal/models"
	"github.com/avetikov/ProLinkBack/internal/services"
)

type recordingSink struct {
	mu            sync.Mutex
	appended      []models.Message
	updated       []models.Message
	refreshes     int
	notifications []Notification
}

func (r *recordingSink) MessageAppended(message models.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.appended = append(r.appended, message)
}

func (r *recordingSink) MessageUpdated(message models.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updated = append(r.updated, message)
}

func (r *recordingSink) ConversationsRefreshed([]models.ConversationView, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refreshes++
}

func (r *recordingSink) Notify(notification Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notifications = append(r.notifications, notification)
}

func (r *recordingSink) appendedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.appended)
}

func (r *recordingSink) updatedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.updated)
}

func (r *recordingSink) refreshCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.refreshes
}

func (r *recordingSink) lastNotification() (Notification, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.notifications) == 0 {
		return Notification{}, false
	}
	return r.notifications[len(r.notifications)-1], true
}

// newLiveSession builds a session with the viewer already resolved, skipping
// Start so tests control exactly which subscriptions and timers exist.
func newLiveSession(gw *fakeGateway, viewer models.Profile) (*Session, *recordingSink) {
	sink := &recordingSink{}
	s := New(gw, services.NewMessenger(gw, zerolog.Nop()), zerolog.Nop(), sink)
	s.mu.Lock()
	s.viewer = viewer
	s.alive = true
	s.mu.Unlock()
	return s, sink
}

func seedPair(gw *fakeGateway) (alice, bob models.Profile) {
	alice = models.Profile{ID: 1, DisplayName: "Alice", Role: models.RoleClient}
	bob = models.Profile{ID: 2, DisplayName: "Bob", Role: models.RoleProvider}
	gw.addProfile(alice)
	gw.addProfile(bob)
	gw.addConversation(1, 2, time.Now())
	return alice, bob
}

func TestStartRegistersRealtimeSubscriptions(t *testing.T) {
	gw := newFakeGateway()
	seedPair(gw)

	s := New(gw, services.NewMessenger(gw, zerolog.Nop()), zerolog.Nop(), nil)
	if err := s.Start(context.Background(), 1); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	defer s.Close()

	filters := gw.openSubscriptions()
	if len(filters) != 3 {
		t.Fatalf("expected 3 subscriptions, got %d", len(filters))
	}
	want := []gateway.EventFilter{
		{Type: gateway.EventInsert, ReceiverID: 1},
		{Type: gateway.EventUpdate, SenderID: 1},
		{Type: gateway.EventUpdate, ReceiverID: 1},
	}
	for i, filter := range filters {
		if filter != want[i] {
			t.Errorf("subscription %d: got %+v, want %+v", i, filter, want[i])
		}
	}

	s.Close()
	if remaining := gw.openSubscriptions(); len(remaining) != 0 {
		t.Errorf("expected all subscriptions closed after Close, %d still open", len(remaining))
	}
}

func TestStartRejectsAnonymousViewer(t *testing.T) {
	gw := newFakeGateway()
	s := New(gw, services.NewMessenger(gw, zerolog.Nop()), zerolog.Nop(), nil)

	if err := s.Start(context.Background(), 0); !errors.Is(err, services.ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
	if total := gw.totalCalls(); total != 0 {
		t.Errorf("expected no gateway calls for anonymous start, got %d", total)
	}
}

func TestStartUnknownViewerFails(t *testing.T) {
	gw := newFakeGateway()
	s := New(gw, services.NewMessenger(gw, zerolog.Nop()), zerolog.Nop(), nil)

	if err := s.Start(context.Background(), 42); err == nil {
		t.Fatal("expected error for unknown viewer")
	}
	if len(gw.openSubscriptions()) != 0 {
		t.Error("expected no subscriptions after failed start")
	}
}

func TestSendMessageDeduplicatesRealtimeEcho(t *testing.T) {
	gw := newFakeGateway()
	alice, _ := seedPair(gw)
	s, sink := newLiveSession(gw, alice)
	defer s.Close()

	if _, err := s.FetchMessages(context.Background(), 2); err != nil {
		t.Fatalf("FetchMessages returned error: %v", err)
	}

	sent, err := s.SendMessage(context.Background(), services.SendInput{
		ReceiverID: 2,
		Content:    "see you at noon",
	})
	if err != nil {
		t.Fatalf("SendMessage returned error: %v", err)
	}
	if len(s.Messages()) != 1 {
		t.Fatalf("expected 1 message after optimistic append, got %d", len(s.Messages()))
	}

	// The same row arriving again over the realtime channel must collapse
	// into the optimistic entry.
	s.handleInsert(gateway.MessageEvent{Type: gateway.EventInsert, Message: *sent})

	messages := s.Messages()
	if len(messages) != 1 {
		t.Fatalf("expected echo to deduplicate, got %d messages", len(messages))
	}
	if messages[0].ID != sent.ID {
		t.Errorf("expected stored id %q, got %q", sent.ID, messages[0].ID)
	}
	if sink.appendedCount() != 1 {
		t.Errorf("expected exactly 1 append pushed to sink, got %d", sink.appendedCount())
	}
}

func TestInboundMessageOutsideThreadNotifies(t *testing.T) {
	gw := newFakeGateway()
	alice, _ := seedPair(gw)
	gw.addProfile(models.Profile{ID: 3, DisplayName: "Cara", Role: models.RoleProvider})
	s, sink := newLiveSession(gw, alice)
	defer s.Close()

	if _, err := s.FetchMessages(context.Background(), 2); err != nil {
		t.Fatalf("FetchMessages returned error: %v", err)
	}

	inbound := gw.addMessage(models.Message{
		SenderID:   3,
		ReceiverID: 1,
		Content:    "are you still looking for a plumber?",
	})
	s.handleInsert(gateway.MessageEvent{Type: gateway.EventInsert, Message: inbound})

	if len(s.Messages()) != 0 {
		t.Errorf("expected message outside open thread not appended, got %d", len(s.Messages()))
	}
	notification, ok := sink.lastNotification()
	if !ok {
		t.Fatal("expected a notification for the foreign-thread message")
	}
	if notification.Kind != NotificationNewMessage {
		t.Errorf("expected kind %q, got %q", NotificationNewMessage, notification.Kind)
	}
	if notification.SenderName != "Cara" {
		t.Errorf("expected sender name Cara, got %q", notification.SenderName)
	}
	if notification.Preview != inbound.Content {
		t.Errorf("expected preview %q, got %q", inbound.Content, notification.Preview)
	}
}

func TestInsertBurstCollapsesIntoOneRefresh(t *testing.T) {
	gw := newFakeGateway()
	alice, _ := seedPair(gw)
	gw.addProfile(models.Profile{ID: 3, DisplayName: "Cara", Role: models.RoleProvider})
	s, sink := newLiveSession(gw, alice)
	defer s.Close()

	before := gw.callCount("ListConversations")
	for i := 0; i < 5; i++ {
		message := gw.addMessage(models.Message{SenderID: 3, ReceiverID: 1, Content: "ping"})
		s.handleInsert(gateway.MessageEvent{Type: gateway.EventInsert, Message: message})
	}

	time.Sleep(refreshDebounce + 250*time.Millisecond)

	if delta := gw.callCount("ListConversations") - before; delta != 1 {
		t.Errorf("expected 5 inserts to collapse into 1 refresh, got %d", delta)
	}
	if sink.refreshCount() != 1 {
		t.Errorf("expected 1 refreshed push to sink, got %d", sink.refreshCount())
	}
}

func TestCloseCancelsPendingRefresh(t *testing.T) {
	gw := newFakeGateway()
	alice, _ := seedPair(gw)
	gw.addProfile(models.Profile{ID: 3, DisplayName: "Cara", Role: models.RoleProvider})
	s, sink := newLiveSession(gw, alice)

	message := gw.addMessage(models.Message{SenderID: 3, ReceiverID: 1, Content: "ping"})
	s.handleInsert(gateway.MessageEvent{Type: gateway.EventInsert, Message: message})

	s.Close()
	callsAfterClose := gw.totalCalls()

	time.Sleep(refreshDebounce + 250*time.Millisecond)

	if total := gw.totalCalls(); total != callsAfterClose {
		t.Errorf("expected no gateway calls after Close, got %d extra", total-callsAfterClose)
	}
	if sink.refreshCount() != 0 {
		t.Errorf("expected no refresh pushed after Close, got %d", sink.refreshCount())
	}
	if len(s.Conversations()) != 0 || s.UnreadCount() != 0 {
		t.Error("expected no state mutation after Close")
	}
}

func TestFetchConversationsErrorKeepsPreviousState(t *testing.T) {
	gw := newFakeGateway()
	alice, _ := seedPair(gw)
	gw.addMessage(models.Message{SenderID: 2, ReceiverID: 1, Content: "hello"})
	s, _ := newLiveSession(gw, alice)
	defer s.Close()

	conversations, totalUnread, err := s.FetchConversations(context.Background())
	if err != nil {
		t.Fatalf("FetchConversations returned error: %v", err)
	}
	if len(conversations) != 1 || totalUnread != 1 {
		t.Fatalf("expected 1 conversation with 1 unread, got %d/%d", len(conversations), totalUnread)
	}

	gw.failOnce("ListConversations", errors.New("connection reset"))
	if _, _, err := s.FetchConversations(context.Background()); err == nil {
		t.Fatal("expected error from failing refresh")
	}

	if len(s.Conversations()) != 1 {
		t.Errorf("expected previous conversation list preserved, got %d entries", len(s.Conversations()))
	}
	if s.UnreadCount() != 1 {
		t.Errorf("expected previous unread count preserved, got %d", s.UnreadCount())
	}
}

func TestOpeningThreadMarksInboundRead(t *testing.T) {
	gw := newFakeGateway()
	alice, _ := seedPair(gw)
	for i := 0; i < 3; i++ {
		gw.addMessage(models.Message{SenderID: 2, ReceiverID: 1, Content: "unread"})
	}
	s, _ := newLiveSession(gw, alice)
	defer s.Close()

	if _, _, err := s.FetchConversations(context.Background()); err != nil {
		t.Fatalf("FetchConversations returned error: %v", err)
	}
	if s.UnreadCount() != 3 {
		t.Fatalf("expected 3 unread before opening thread, got %d", s.UnreadCount())
	}

	messages, err := s.FetchMessages(context.Background(), 2)
	if err != nil {
		t.Fatalf("FetchMessages returned error: %v", err)
	}
	if len(messages) != 3 {
		t.Fatalf("expected 3 messages in thread, got %d", len(messages))
	}
	for _, message := range s.Messages() {
		if !message.IsRead {
			t.Errorf("expected message %s mirrored as read", message.ID)
		}
	}
	if s.UnreadCount() != 0 {
		t.Errorf("expected unread badge cleared after opening thread, got %d", s.UnreadCount())
	}

	remaining, err := gw.UnreadCountsBySender(context.Background(), 1)
	if err != nil {
		t.Fatalf("UnreadCountsBySender returned error: %v", err)
	}
	if len(remaining) != 0 {
		t.Errorf("expected store rows flipped to read, %d senders still unread", len(remaining))
	}
}

func TestUpdateMessageStatusMirrorsPatch(t *testing.T) {
	gw := newFakeGateway()
	alice, _ := seedPair(gw)
	pending, _ := json.Marshal(models.ProposalMetadata{ServiceName: "Deep clean", Price: 120, Status: models.OfferStatusPending})
	proposal := gw.addMessage(models.Message{
		SenderID:    2,
		ReceiverID:  1,
		Content:     "Sent a booking offer",
		MessageType: models.MessageTypeProposal,
		Metadata:    pending,
	})
	s, sink := newLiveSession(gw, alice)
	defer s.Close()

	if _, err := s.FetchMessages(context.Background(), 2); err != nil {
		t.Fatalf("FetchMessages returned error: %v", err)
	}

	accepted, _ := json.Marshal(models.ProposalMetadata{ServiceName: "Deep clean", Price: 120, Status: models.OfferStatusAccepted})
	s.UpdateMessageStatus(context.Background(), proposal.ID, models.MessageTypeProposal, accepted)

	messages := s.Messages()
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}
	var got models.ProposalMetadata
	if err := json.Unmarshal(messages[0].Metadata, &got); err != nil {
		t.Fatalf("unmarshal mirrored metadata: %v", err)
	}
	if got.Status != models.OfferStatusAccepted {
		t.Errorf("expected mirrored status %q, got %q", models.OfferStatusAccepted, got.Status)
	}
	if sink.updatedCount() != 1 {
		t.Errorf("expected 1 update pushed to sink, got %d", sink.updatedCount())
	}
}

func TestUpdateMessageStatusFailureLeavesThreadUntouched(t *testing.T) {
	gw := newFakeGateway()
	alice, _ := seedPair(gw)
	pending, _ := json.Marshal(models.ProposalMetadata{ServiceName: "Deep clean", Price: 120, Status: models.OfferStatusPending})
	proposal := gw.addMessage(models.Message{
		SenderID:    2,
		ReceiverID:  1,
		Content:     "Sent a booking offer",
		MessageType: models.MessageTypeProposal,
		Metadata:    pending,
	})
	s, sink := newLiveSession(gw, alice)
	defer s.Close()

	if _, err := s.FetchMessages(context.Background(), 2); err != nil {
		t.Fatalf("FetchMessages returned error: %v", err)
	}

	gw.failOnce("UpdateMessageMetadata", errors.New("connection reset"))
	accepted, _ := json.Marshal(models.ProposalMetadata{ServiceName: "Deep clean", Price: 120, Status: models.OfferStatusAccepted})
	s.UpdateMessageStatus(context.Background(), proposal.ID, models.MessageTypeProposal, accepted)

	var got models.ProposalMetadata
	if err := json.Unmarshal(s.Messages()[0].Metadata, &got); err != nil {
		t.Fatalf("unmarshal metadata: %v", err)
	}
	if got.Status != models.OfferStatusPending {
		t.Errorf("expected status to stay %q after failed update, got %q", models.OfferStatusPending, got.Status)
	}
	if sink.updatedCount() != 0 {
		t.Errorf("expected no update pushed to sink on failure, got %d", sink.updatedCount())
	}
}

func TestHandleUpdateIgnoresUnknownMessage(t *testing.T) {
	gw := newFakeGateway()
	alice, _ := seedPair(gw)
	s, sink := newLiveSession(gw, alice)
	defer s.Close()

	s.handleUpdate(gateway.MessageEvent{
		Type:    gateway.EventUpdate,
		Message: models.Message{ID: "not-in-thread", SenderID: 2, ReceiverID: 1},
	})

	if sink.updatedCount() != 0 {
		t.Errorf("expected unknown update ignored, got %d sink pushes", sink.updatedCount())
	}
}

func TestEventsRouteThroughSubscriptionFilters(t *testing.T) {
	gw := newFakeGateway()
	alice, _ := seedPair(gw)
	gw.addProfile(models.Profile{ID: 3, DisplayName: "Cara", Role: models.RoleProvider})

	s := New(gw, services.NewMessenger(gw, zerolog.Nop()), zerolog.Nop(), &recordingSink{})
	if err := s.Start(context.Background(), alice.ID); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	defer s.Close()

	if _, err := s.FetchMessages(context.Background(), 2); err != nil {
		t.Fatalf("FetchMessages returned error: %v", err)
	}

	// Inbound insert for the open thread lands in the message list.
	inbound := gw.addMessage(models.Message{SenderID: 2, ReceiverID: 1, Content: "delivered"})
	gw.emit(gateway.MessageEvent{Type: gateway.EventInsert, Message: inbound})
	if len(s.Messages()) != 1 {
		t.Fatalf("expected inbound insert appended, got %d messages", len(s.Messages()))
	}

	// An insert addressed to someone else never reaches this session.
	foreign := gw.addMessage(models.Message{SenderID: 2, ReceiverID: 3, Content: "not for alice"})
	gw.emit(gateway.MessageEvent{Type: gateway.EventInsert, Message: foreign})
	if len(s.Messages()) != 1 {
		t.Errorf("expected foreign insert filtered out, got %d messages", len(s.Messages()))
	}
}
