package gateway

import (
	"context"
	"fmt"
	"io"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/avetikov/ProLinkBack/internal/models"
	"github.com/avetikov/ProLinkBack/internal/repository"
	"github.com/avetikov/ProLinkBack/internal/storage"
)

// PostgresGateway backs the Gateway interface with pgx repositories, the
// attachment store and the NATS event bus. Writes publish their committed
// rows as change events so connected sessions observe them.
type PostgresGateway struct {
	db               *pgxpool.Pool
	userRepo         *repository.UserRepository
	conversationRepo *repository.ConversationRepository
	messageRepo      *repository.MessageRepository
	attachments      storage.Store
	bus              *EventBus
	logger           zerolog.Logger
}

func NewPostgresGateway(
	db *pgxpool.Pool,
	attachments storage.Store,
	bus *EventBus,
	logger zerolog.Logger,
) *PostgresGateway {
	return &PostgresGateway{
		db:               db,
		userRepo:         repository.NewUserRepository(db),
		conversationRepo: repository.NewConversationRepository(db),
		messageRepo:      repository.NewMessageRepository(db),
		attachments:      attachments,
		bus:              bus,
		logger:           logger,
	}
}

func (g *PostgresGateway) GetUser(ctx context.Context, id int64) (*models.User, error) {
	return g.userRepo.GetByID(ctx, id)
}

func (g *PostgresGateway) GetProfile(ctx context.Context, id int64) (*models.Profile, error) {
	return g.userRepo.GetProfile(ctx, id)
}

func (g *PostgresGateway) ListConversations(
	ctx context.Context,
	forUserID int64,
	asAdmin bool,
) ([]models.Conversation, error) {
	if asAdmin {
		return g.conversationRepo.ListAll(ctx)
	}
	return g.conversationRepo.ListForParticipant(ctx, forUserID)
}

func (g *PostgresGateway) BatchGetProfiles(ctx context.Context, ids []int64) (map[int64]models.Profile, error) {
	return g.userRepo.BatchGetProfiles(ctx, ids)
}

func (g *PostgresGateway) UnreadCountsBySender(ctx context.Context, receiverID int64) (map[int64]int, error) {
	return g.messageRepo.UnreadCountsBySender(ctx, receiverID)
}

func (g *PostgresGateway) LastMessagesAmong(ctx context.Context, participantIDs []int64) (map[string]string, error) {
	return g.messageRepo.LastMessagesAmong(ctx, participantIDs)
}

func (g *PostgresGateway) ListMessages(ctx context.Context, userA, userB int64) ([]models.Message, error) {
	return g.messageRepo.ListBetween(ctx, userA, userB)
}

// InsertMessage writes the message and advances the pair's conversation in
// one transaction, then publishes the committed row as an insert event.
func (g *PostgresGateway) InsertMessage(ctx context.Context, draft *models.MessageDraft) (*models.Message, error) {
	tx, err := g.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	txMessageRepo := repository.NewMessageRepository(tx)
	txConversationRepo := repository.NewConversationRepository(tx)

	message, err := txMessageRepo.Insert(ctx, draft)
	if err != nil {
		return nil, err
	}

	if _, err := txConversationRepo.Upsert(ctx, message.SenderID, message.ReceiverID, message.CreatedAt); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	g.publish(MessageEvent{Type: EventInsert, Message: *message})
	return message, nil
}

func (g *PostgresGateway) UpdateMessageMetadata(
	ctx context.Context,
	messageID string,
	metadata []byte,
) (*models.Message, error) {
	message, err := g.messageRepo.UpdateMetadata(ctx, messageID, metadata)
	if err != nil {
		return nil, err
	}

	g.publish(MessageEvent{Type: EventUpdate, Message: *message})
	return message, nil
}

func (g *PostgresGateway) MarkRead(ctx context.Context, senderID, receiverID int64) (int, error) {
	updated, err := g.messageRepo.MarkRead(ctx, senderID, receiverID)
	if err != nil {
		return 0, err
	}

	for _, message := range updated {
		g.publish(MessageEvent{Type: EventUpdate, Message: message})
	}
	return len(updated), nil
}

func (g *PostgresGateway) UploadAttachment(
	ctx context.Context,
	file io.Reader,
	filename string,
) (*models.Attachment, error) {
	if g.attachments == nil {
		return nil, fmt.Errorf("attachment storage is not configured")
	}
	return g.attachments.Upload(ctx, file, filename)
}

func (g *PostgresGateway) DeleteAttachment(ctx context.Context, fileURL string) error {
	if g.attachments == nil {
		return fmt.Errorf("attachment storage is not configured")
	}
	return g.attachments.Delete(ctx, fileURL)
}

func (g *PostgresGateway) SubscribeMessageEvents(
	filter EventFilter,
	handler func(MessageEvent),
) (func(), error) {
	return g.bus.Subscribe(filter, handler)
}

// Event publication failures are logged, never surfaced: the row is already
// committed and a later refetch reconciles any missed echo.
func (g *PostgresGateway) publish(event MessageEvent) {
	if err := g.bus.Publish(event); err != nil {
		g.logger.Error().Err(err).
			Str("event_type", string(event.Type)).
			Str("message_id", event.Message.ID).
			Msg("publish message event")
	}
}
