// Package session holds the live, per-viewer messaging state: the open
// thread's message list, the aggregated conversation view and the realtime
// subscriptions that keep both reconciled with the store. One Session exists
// per connected viewer and owns its state exclusively; the store remains the
// source of truth and a full refetch can always reproduce merged state.
package session

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/avetikov/ProLinkBack/internal/gateway"
	"github.com/avetikov/ProLinkBack/internal/models"
	"github.com/avetikov/ProLinkBack/internal/services"
)

const (
	// refreshDebounce collapses bursts of insert events into one aggregator
	// refresh. A single timer slot is reset on every trigger, never stacked.
	refreshDebounce = 500 * time.Millisecond
	// initialLoadDelay defers the first conversation load so session startup
	// is not blocked on a network round trip.
	initialLoadDelay = 150 * time.Millisecond
	refreshTimeout   = 10 * time.Second
	previewLimit     = 80
)

// Messenger is the slice of the messaging service the session drives;
// *services.Messenger satisfies it.
type Messenger interface {
	Send(ctx context.Context, senderID int64, in services.SendInput) (*models.Message, error)
	UpdateStatus(ctx context.Context, viewerID int64, messageID, messageType string, metadata json.RawMessage) (*models.Message, error)
	MarkAsRead(ctx context.Context, viewerID, senderID int64) (int, error)
	FetchThread(ctx context.Context, viewerID, otherUserID int64) ([]models.Message, error)
	UploadAttachment(ctx context.Context, viewerID int64, file io.Reader, filename string) (*models.Attachment, error)
}

type Session struct {
	gw         gateway.Gateway
	messenger  Messenger
	aggregator *Aggregator
	logger     zerolog.Logger
	sink       Sink

	mu            sync.Mutex
	alive         bool
	viewer        models.Profile
	activeThread  int64
	messages      []models.Message
	conversations []models.ConversationView
	totalUnread   int
	loading       bool
	sending       bool
	refreshTimer  *time.Timer
	unsubscribes  []func()
}

func New(gw gateway.Gateway, messenger Messenger, logger zerolog.Logger, sink Sink) *Session {
	if sink == nil {
		sink = nopSink{}
	}
	return &Session{
		gw:         gw,
		messenger:  messenger,
		aggregator: NewAggregator(gw),
		logger:     logger,
		sink:       sink,
		messages:   []models.Message{},
	}
}

// Start resolves the viewer, opens the realtime subscriptions and schedules
// the deferred initial load. One insert subscription covers inbound messages;
// two update subscriptions cover status changes regardless of which side
// mutated them.
func (s *Session) Start(ctx context.Context, userID int64) error {
	if userID <= 0 {
		return services.ErrUnauthenticated
	}

	viewer, err := s.gw.GetProfile(ctx, userID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.viewer = *viewer
	s.alive = true
	s.mu.Unlock()

	filters := []gateway.EventFilter{
		{Type: gateway.EventInsert, ReceiverID: userID},
		{Type: gateway.EventUpdate, SenderID: userID},
		{Type: gateway.EventUpdate, ReceiverID: userID},
	}
	handlers := []func(gateway.MessageEvent){
		s.handleInsert,
		s.handleUpdate,
		s.handleUpdate,
	}

	for i, filter := range filters {
		unsubscribe, err := s.gw.SubscribeMessageEvents(filter, handlers[i])
		if err != nil {
			s.Close()
			return err
		}
		s.mu.Lock()
		s.unsubscribes = append(s.unsubscribes, unsubscribe)
		s.mu.Unlock()
	}

	s.mu.Lock()
	s.resetTimerLocked(initialLoadDelay)
	s.mu.Unlock()

	return nil
}

// Close tears the session down: subscriptions are unsubscribed and the
// pending refresh timer is cancelled. No callback mutates state afterwards;
// every handler re-checks the liveness flag before touching anything.
func (s *Session) Close() {
	s.mu.Lock()
	if !s.alive && len(s.unsubscribes) == 0 {
		s.mu.Unlock()
		return
	}
	s.alive = false
	if s.refreshTimer != nil {
		s.refreshTimer.Stop()
		s.refreshTimer = nil
	}
	unsubscribes := s.unsubscribes
	s.unsubscribes = nil
	s.mu.Unlock()

	for _, unsubscribe := range unsubscribes {
		unsubscribe()
	}
}

// FetchConversations rebuilds the aggregated conversation list. On failure
// the previous list is left untouched and the error is returned; the next
// realtime-triggered refresh acts as the retry.
func (s *Session) FetchConversations(ctx context.Context) ([]models.ConversationView, int, error) {
	viewer := s.viewerSnapshot()
	if viewer.ID == 0 {
		return []models.ConversationView{}, 0, nil
	}

	s.setLoading(true)
	defer s.setLoading(false)

	result, err := s.aggregator.Aggregate(ctx, viewer)
	if err != nil {
		return nil, 0, err
	}

	s.mu.Lock()
	if s.alive {
		s.conversations = result.Conversations
		s.totalUnread = result.TotalUnread
	}
	s.mu.Unlock()

	return result.Conversations, result.TotalUnread, nil
}

// FetchMessages loads the thread with otherUserID, makes it the active
// thread and marks its inbound messages read as a side effect.
func (s *Session) FetchMessages(ctx context.Context, otherUserID int64) ([]models.Message, error) {
	viewer := s.viewerSnapshot()
	if viewer.ID == 0 {
		return []models.Message{}, nil
	}

	s.setLoading(true)
	defer s.setLoading(false)

	messages, err := s.messenger.FetchThread(ctx, viewer.ID, otherUserID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.activeThread = otherUserID
	s.messages = messages
	s.mu.Unlock()

	s.MarkAsRead(ctx, otherUserID)

	return s.Messages(), nil
}

// SendMessage runs the compliance filter, persists through the gateway and
// optimistically appends the stored row to the local thread. The conversation
// list refresh is fire-and-forget and may race with realtime events; the
// append path de-duplicates by message id.
func (s *Session) SendMessage(ctx context.Context, in services.SendInput) (*models.Message, error) {
	viewer := s.viewerSnapshot()

	s.setSending(true)
	defer s.setSending(false)

	message, err := s.messenger.Send(ctx, viewer.ID, in)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	appended := s.appendLocked(*message)
	s.mu.Unlock()
	if appended {
		s.sink.MessageAppended(*message)
	}

	go s.refreshConversations()

	return message, nil
}

// UpdateMessageStatus patches a message's metadata remotely and mirrors the
// patch into the local thread. This path carries secondary state (offer
// accept/decline), so failures are logged and never block the caller.
func (s *Session) UpdateMessageStatus(ctx context.Context, messageID, messageType string, metadata json.RawMessage) {
	viewer := s.viewerSnapshot()

	updated, err := s.messenger.UpdateStatus(ctx, viewer.ID, messageID, messageType, metadata)
	if err != nil {
		s.logger.Error().Err(err).Str("message_id", messageID).Msg("update message status")
		return
	}

	s.mu.Lock()
	var mirrored bool
	for i := range s.messages {
		if s.messages[i].ID == updated.ID {
			s.messages[i] = *updated
			mirrored = true
			break
		}
	}
	s.mu.Unlock()

	if mirrored {
		s.sink.MessageUpdated(*updated)
	}
}

// MarkAsRead bulk-flips unread messages from senderID, mirrors the flip into
// the local thread and conversation badges immediately, then refreshes the
// aggregated list in the background. Read-receipt bookkeeping never
// propagates errors.
func (s *Session) MarkAsRead(ctx context.Context, senderID int64) {
	viewer := s.viewerSnapshot()
	if viewer.ID == 0 {
		return
	}

	flipped, err := s.messenger.MarkAsRead(ctx, viewer.ID, senderID)
	if err != nil {
		s.logger.Error().Err(err).Int64("sender_id", senderID).Msg("mark messages read")
		return
	}
	if flipped == 0 {
		return
	}

	s.mu.Lock()
	for i := range s.messages {
		if s.messages[i].SenderID == senderID && s.messages[i].ReceiverID == viewer.ID {
			s.messages[i].IsRead = true
		}
	}
	for i := range s.conversations {
		if s.conversations[i].OtherUser.ID == senderID {
			s.totalUnread -= s.conversations[i].UnreadCount
			s.conversations[i].UnreadCount = 0
		}
	}
	s.mu.Unlock()

	go s.refreshConversations()
}

func (s *Session) UploadAttachment(ctx context.Context, file io.Reader, filename string) (*models.Attachment, error) {
	return s.messenger.UploadAttachment(ctx, s.viewerSnapshot().ID, file, filename)
}

// handleInsert merges an inbound message event. The sender profile lookup
// happens before the state mutation, so the liveness flag is re-checked after
// it. Messages outside the open thread do not touch the thread list but still
// raise a notification and schedule the debounced refresh.
func (s *Session) handleInsert(event gateway.MessageEvent) {
	if !s.isAlive() {
		return
	}

	message := event.Message
	senderName := ""
	ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
	sender, err := s.gw.GetProfile(ctx, message.SenderID)
	cancel()
	if err != nil {
		s.logger.Warn().Err(err).Int64("sender_id", message.SenderID).Msg("resolve sender profile")
	} else {
		senderName = sender.DisplayName
	}

	s.mu.Lock()
	if !s.alive {
		s.mu.Unlock()
		return
	}
	relevant := s.activeThread != 0 &&
		(message.SenderID == s.activeThread || message.ReceiverID == s.activeThread)
	var appended bool
	if relevant {
		appended = s.appendLocked(message)
	}
	s.resetTimerLocked(refreshDebounce)
	s.mu.Unlock()

	if appended {
		s.sink.MessageAppended(message)
	}
	if !relevant {
		s.sink.Notify(Notification{
			Kind:       NotificationNewMessage,
			SenderName: senderName,
			Preview:    truncate(message.Content, previewLimit),
		})
	}
}

// handleUpdate merges an updated row into the local thread by id. Updates
// for threads that are not open are ignored.
func (s *Session) handleUpdate(event gateway.MessageEvent) {
	if !s.isAlive() {
		return
	}

	s.mu.Lock()
	if !s.alive {
		s.mu.Unlock()
		return
	}
	var merged *models.Message
	for i := range s.messages {
		if s.messages[i].ID == event.Message.ID {
			s.messages[i] = event.Message
			merged = &s.messages[i]
			break
		}
	}
	s.mu.Unlock()

	if merged != nil {
		s.sink.MessageUpdated(*merged)
	}
}

// refreshConversations is the debounced (or fire-and-forget) aggregation
// path. Failures log and leave the last-known-good snapshot in place.
func (s *Session) refreshConversations() {
	if !s.isAlive() {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
	defer cancel()

	result, err := s.aggregator.Aggregate(ctx, s.viewerSnapshot())
	if err != nil {
		s.logger.Error().Err(err).Msg("refresh conversations")
		return
	}

	s.mu.Lock()
	if !s.alive {
		s.mu.Unlock()
		return
	}
	s.conversations = result.Conversations
	s.totalUnread = result.TotalUnread
	s.mu.Unlock()

	s.sink.ConversationsRefreshed(result.Conversations, result.TotalUnread)
}

// appendLocked appends in server order, treating the id as the
// de-duplication key: an optimistic append and its later realtime echo
// collapse into one entry.
func (s *Session) appendLocked(message models.Message) bool {
	for i := range s.messages {
		if s.messages[i].ID == message.ID {
			s.messages[i] = message
			return false
		}
	}
	s.messages = append(s.messages, message)
	return true
}

func (s *Session) resetTimerLocked(delay time.Duration) {
	if s.refreshTimer != nil {
		s.refreshTimer.Stop()
	}
	s.refreshTimer = time.AfterFunc(delay, s.refreshConversations)
}

func (s *Session) isAlive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.alive
}

func (s *Session) viewerSnapshot() models.Profile {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewer
}

func (s *Session) setLoading(loading bool) {
	s.mu.Lock()
	s.loading = loading
	s.mu.Unlock()
}

func (s *Session) setSending(sending bool) {
	s.mu.Lock()
	s.sending = sending
	s.mu.Unlock()
}

func (s *Session) Messages() []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

func (s *Session) Conversations() []models.ConversationView {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.ConversationView, len(s.conversations))
	copy(out, s.conversations)
	return out
}

func (s *Session) UnreadCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totalUnread
}

func (s *Session) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading
}

func (s *Session) Sending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sending
}

func truncate(content string, limit int) string {
	runes := []rune(content)
	if len(runes) <= limit {
		return content
	}
	return string(runes[:limit]) + "…"
}
