package gateway

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

const subjectPrefix = "messages"

// EventBus relays message change events over core NATS. Events are ephemeral
// echoes of committed rows; the store stays the source of truth, so no
// durability or replay is needed.
type EventBus struct {
	nc     *nats.Conn
	logger zerolog.Logger
}

func NewEventBus(nc *nats.Conn, logger zerolog.Logger) *EventBus {
	return &EventBus{nc: nc, logger: logger}
}

func (b *EventBus) Publish(event MessageEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal message event: %w", err)
	}

	subject := eventSubject(event.Type, event.Message.SenderID, event.Message.ReceiverID)
	if err := b.nc.Publish(subject, payload); err != nil {
		return fmt.Errorf("publish to %s: %w", subject, err)
	}
	return nil
}

func (b *EventBus) Subscribe(filter EventFilter, handler func(MessageEvent)) (func(), error) {
	subject := filterSubject(filter)
	sub, err := b.nc.Subscribe(subject, func(msg *nats.Msg) {
		var event MessageEvent
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			b.logger.Error().Err(err).Str("subject", msg.Subject).Msg("drop undecodable message event")
			return
		}
		handler(event)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe to %s: %w", subject, err)
	}

	return func() {
		if err := sub.Unsubscribe(); err != nil {
			b.logger.Warn().Err(err).Str("subject", subject).Msg("unsubscribe failed")
		}
	}, nil
}

// Subjects encode direction so subscriptions can filter on either side:
// messages.<type>.<sender_id>.<receiver_id>.
func eventSubject(eventType EventType, senderID, receiverID int64) string {
	return fmt.Sprintf("%s.%s.%d.%d", subjectPrefix, eventType, senderID, receiverID)
}

func filterSubject(filter EventFilter) string {
	return fmt.Sprintf("%s.%s.%s.%s",
		subjectPrefix,
		filter.Type,
		wildcardToken(filter.SenderID),
		wildcardToken(filter.ReceiverID),
	)
}

func wildcardToken(id int64) string {
	if id == 0 {
		return "*"
	}
	return strconv.FormatInt(id, 10)
}
