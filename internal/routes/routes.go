package routes

import (
	websocket "github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/avetikov/ProLinkBack/internal/config"
	"github.com/avetikov/ProLinkBack/internal/gateway"
	"github.com/avetikov/ProLinkBack/internal/handlers"
	"github.com/avetikov/ProLinkBack/internal/middleware"
	"github.com/avetikov/ProLinkBack/internal/services"
	"github.com/avetikov/ProLinkBack/internal/session"
	"github.com/avetikov/ProLinkBack/internal/storage"
	chatws "github.com/avetikov/ProLinkBack/internal/websocket"
)

func RegisterRoutes(
	app *fiber.App,
	cfg *config.Config,
	db *pgxpool.Pool,
	nc *nats.Conn,
	logger zerolog.Logger,
) {
	var attachments storage.Store
	if cfg.SupabaseURL != "" && cfg.SupabaseBucket != "" && cfg.SupabaseServiceKey != "" {
		attachments = storage.NewSupabaseStore(cfg.SupabaseURL, cfg.SupabaseBucket, cfg.SupabaseServiceKey)
	}

	bus := gateway.NewEventBus(nc, logger)
	gw := gateway.NewPostgresGateway(db, attachments, bus, logger)
	messenger := services.NewMessenger(gw, logger)
	aggregator := session.NewAggregator(gw)

	hub := chatws.NewHub(logger)
	go hub.Run()

	messagingHandler := handlers.NewMessagingHandler(messenger, aggregator, gw, hub, cfg.JWTSecret, logger)

	api := app.Group("/api/v1", middleware.AuthRequired(cfg.JWTSecret))

	api.Get("/conversations", messagingHandler.ListConversations)
	api.Get("/conversations/:otherUserId/messages", messagingHandler.GetThread)
	api.Post("/conversations/:otherUserId/read", messagingHandler.MarkRead)
	api.Post("/messages", messagingHandler.SendMessage)
	api.Patch("/messages/:id/status", messagingHandler.UpdateMessageStatus)
	api.Post("/attachments", messagingHandler.UploadAttachment)
	api.Delete("/attachments", messagingHandler.DeleteAttachment)

	ws := app.Group("/ws", messagingHandler.WebSocketAuth)
	ws.Get("/messaging", websocket.New(messagingHandler.HandleWebSocket))
}
