package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strconv"
	"strings"

	websocket "github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/avetikov/ProLinkBack/internal/gateway"
	"github.com/avetikov/ProLinkBack/internal/models"
	"github.com/avetikov/ProLinkBack/internal/services"
	"github.com/avetikov/ProLinkBack/internal/session"
	chatws "github.com/avetikov/ProLinkBack/internal/websocket"
	"github.com/avetikov/ProLinkBack/pkg/utils"
)

type messagingService interface {
	Send(ctx context.Context, senderID int64, in services.SendInput) (*models.Message, error)
	UpdateStatus(ctx context.Context, viewerID int64, messageID, messageType string, metadata json.RawMessage) (*models.Message, error)
	MarkAsRead(ctx context.Context, viewerID, senderID int64) (int, error)
	FetchThread(ctx context.Context, viewerID, otherUserID int64) ([]models.Message, error)
	UploadAttachment(ctx context.Context, viewerID int64, file io.Reader, filename string) (*models.Attachment, error)
	DeleteAttachment(ctx context.Context, viewerID int64, fileURL string) error
}

type conversationAggregator interface {
	Aggregate(ctx context.Context, viewer models.Profile) (*session.AggregateResult, error)
}

type MessagingHandler struct {
	service    messagingService
	aggregator conversationAggregator
	gw         gateway.Gateway
	hub        *chatws.Hub
	jwtSecret  string
	logger     zerolog.Logger
}

func NewMessagingHandler(
	service messagingService,
	aggregator conversationAggregator,
	gw gateway.Gateway,
	hub *chatws.Hub,
	jwtSecret string,
	logger zerolog.Logger,
) *MessagingHandler {
	return &MessagingHandler{
		service:    service,
		aggregator: aggregator,
		gw:         gw,
		hub:        hub,
		jwtSecret:  jwtSecret,
		logger:     logger,
	}
}

type sendMessageRequest struct {
	ReceiverID  int64              `json:"receiver_id"`
	Content     string             `json:"content"`
	MessageType string             `json:"message_type"`
	Metadata    json.RawMessage    `json:"metadata,omitempty"`
	Attachment  *models.Attachment `json:"attachment,omitempty"`
}

type updateStatusRequest struct {
	MessageType string          `json:"message_type"`
	Metadata    json.RawMessage `json:"metadata"`
}

func (h *MessagingHandler) ListConversations(c *fiber.Ctx) error {
	viewer, err := viewerFromLocals(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	result, err := h.aggregator.Aggregate(c.Context(), viewer)
	if err != nil {
		return mapMessagingError(c, err)
	}

	return c.JSON(fiber.Map{
		"conversations": result.Conversations,
		"unread_count":  result.TotalUnread,
	})
}

func (h *MessagingHandler) GetThread(c *fiber.Ctx) error {
	viewer, err := viewerFromLocals(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	otherUserID, err := strconv.ParseInt(c.Params("otherUserId"), 10, 64)
	if err != nil || otherUserID <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid user id"})
	}

	messages, err := h.service.FetchThread(c.Context(), viewer.ID, otherUserID)
	if err != nil {
		return mapMessagingError(c, err)
	}

	// loading a thread doubles as the read receipt; bookkeeping failures
	// must not fail the request
	if _, err := h.service.MarkAsRead(c.Context(), viewer.ID, otherUserID); err != nil {
		h.logger.Error().Err(err).Int64("sender_id", otherUserID).Msg("mark thread read")
	}

	page := parsePositiveInt(c.Query("page"), 1)
	limit := parsePositiveInt(c.Query("limit"), defaultPageLimit)
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	pageMessages := paginateMessages(messages, page, limit)

	return c.JSON(fiber.Map{
		"messages":   pageMessages,
		"pagination": buildPaginationMeta(page, limit, len(messages)),
	})
}

func (h *MessagingHandler) SendMessage(c *fiber.Ctx) error {
	viewer, err := viewerFromLocals(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	var req sendMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}

	message, err := h.service.Send(c.Context(), viewer.ID, services.SendInput{
		ReceiverID:  req.ReceiverID,
		Content:     req.Content,
		MessageType: req.MessageType,
		Metadata:    req.Metadata,
		Attachment:  req.Attachment,
	})
	if err != nil {
		return mapMessagingError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"message": message})
}

func (h *MessagingHandler) UpdateMessageStatus(c *fiber.Ctx) error {
	viewer, err := viewerFromLocals(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	messageID := strings.TrimSpace(c.Params("id"))
	if messageID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid message id"})
	}

	var req updateStatusRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}

	message, err := h.service.UpdateStatus(c.Context(), viewer.ID, messageID, req.MessageType, req.Metadata)
	if err != nil {
		return mapMessagingError(c, err)
	}

	return c.JSON(fiber.Map{"message": message})
}

func (h *MessagingHandler) MarkRead(c *fiber.Ctx) error {
	viewer, err := viewerFromLocals(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	senderID, err := strconv.ParseInt(c.Params("otherUserId"), 10, 64)
	if err != nil || senderID <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid user id"})
	}

	updated, err := h.service.MarkAsRead(c.Context(), viewer.ID, senderID)
	if err != nil {
		return mapMessagingError(c, err)
	}

	return c.JSON(fiber.Map{"updated": updated})
}

func (h *MessagingHandler) UploadAttachment(c *fiber.Ctx) error {
	viewer, err := viewerFromLocals(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Missing file"})
	}

	file, err := fileHeader.Open()
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Unreadable file"})
	}
	defer file.Close()

	attachment, err := h.service.UploadAttachment(c.Context(), viewer.ID, file, fileHeader.Filename)
	if err != nil {
		return mapMessagingError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"attachment": attachment})
}

func (h *MessagingHandler) DeleteAttachment(c *fiber.Ctx) error {
	viewer, err := viewerFromLocals(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	fileURL := strings.TrimSpace(c.Query("url"))
	if fileURL == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Missing url"})
	}

	if err := h.service.DeleteAttachment(c.Context(), viewer.ID, fileURL); err != nil {
		return mapMessagingError(c, err)
	}

	return c.JSON(fiber.Map{"deleted": true})
}

func (h *MessagingHandler) WebSocketAuth(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return c.Status(fiber.StatusUpgradeRequired).JSON(fiber.Map{"error": "WebSocket upgrade required"})
	}

	claims, err := h.parseWSClaims(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid or expired token"})
	}

	c.Locals("user_id", claims.UserID)
	c.Locals("role", claims.Role)
	return c.Next()
}

// HandleWebSocket owns one viewer connection: it builds the live session
// with the client as its sink, starts the realtime subscriptions and pumps
// frames until the socket closes.
func (h *MessagingHandler) HandleWebSocket(conn *websocket.Conn) {
	userIDString, _ := conn.Locals("user_id").(string)
	userID, err := strconv.ParseInt(userIDString, 10, 64)
	if err != nil || userID <= 0 {
		_ = conn.Close()
		return
	}

	client := chatws.NewClient(h.hub, conn, userID, h.logger)
	sess := session.New(h.gw, h.service, h.logger, client)
	client.Bind(sess)

	if err := sess.Start(context.Background(), userID); err != nil {
		h.logger.Error().Err(err).Int64("user_id", userID).Msg("start messaging session")
		_ = conn.Close()
		return
	}

	h.hub.Register(client)
	go client.WritePump()
	client.ReadPump()
}

func (h *MessagingHandler) parseWSClaims(c *fiber.Ctx) (*utils.Claims, error) {
	tokenString := strings.TrimSpace(c.Query("token"))
	if tokenString == "" {
		authHeader := strings.TrimSpace(c.Get("Authorization"))
		if authHeader != "" {
			parts := strings.Split(authHeader, " ")
			if len(parts) == 2 && parts[0] == "Bearer" {
				tokenString = parts[1]
			}
		}
	}

	if tokenString == "" {
		return nil, errors.New("missing token")
	}

	return utils.ValidateToken(tokenString, h.jwtSecret)
}

func viewerFromLocals(c *fiber.Ctx) (models.Profile, error) {
	userIDString, _ := c.Locals("user_id").(string)
	userID, err := strconv.ParseInt(userIDString, 10, 64)
	if err != nil || userID <= 0 {
		return models.Profile{}, errors.New("invalid user id")
	}
	role, _ := c.Locals("role").(string)
	return models.Profile{ID: userID, Role: role}, nil
}

func paginateMessages(messages []models.Message, page, limit int) []models.Message {
	start := (page - 1) * limit
	if start >= len(messages) {
		return []models.Message{}
	}
	end := start + limit
	if end > len(messages) {
		end = len(messages)
	}
	return messages[start:end]
}

func mapMessagingError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, services.ErrUnauthenticated):
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Unauthenticated"})
	case errors.Is(err, services.ErrInvalidInput),
		errors.Is(err, services.ErrInvalidMetadata),
		errors.Is(err, services.ErrUnknownMessageType):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request"})
	case errors.Is(err, services.ErrRecipientNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Recipient not found"})
	case errors.Is(err, pgx.ErrNoRows):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Not found"})
	default:
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to process messaging request"})
	}
}
