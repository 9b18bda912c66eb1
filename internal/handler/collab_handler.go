package handler

import (
	"context"
	"errors"

	"annotation-collab-be/internal/pkg/logger"
	"annotation-collab-be/internal/pkg/serverutils"
	"annotation-collab-be/internal/service"
	internalWS "annotation-collab-be/internal/websocket"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
)

type CollabHandler struct {
	hub       *internalWS.Hub
	jwtSecret string
	logger    logger.ILogger
}

func NewCollabHandler(hub *internalWS.Hub, jwtSecret string, log logger.ILogger) *CollabHandler {
	return &CollabHandler{
		hub:       hub,
		jwtSecret: jwtSecret,
		logger:    log,
	}
}

// ServeWs authenticates the peer, makes sure the document can be loaded and
// then hands the upgraded connection to the document's room.
func (h *CollabHandler) ServeWs(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}

	// Browsers cannot set headers on a websocket handshake.
	tokenStr := c.Query("token")
	if tokenStr == "" {
		tokenStr = serverutils.BearerToken(c)
	}
	if tokenStr == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(serverutils.ErrorResponse(fiber.StatusUnauthorized, "Missing token (query 'token' or Authorization header)"))
	}
	identity, err := serverutils.ParseIdentity(h.jwtSecret, tokenStr)
	if err != nil {
		h.logger.Warn("CollabHandler", "Invalid token in WS handshake", map[string]interface{}{"error": err.Error()})
		return c.Status(fiber.StatusUnauthorized).JSON(serverutils.ErrorResponse(fiber.StatusUnauthorized, "Invalid token"))
	}

	documentID := c.Params("id")
	if _, err := h.hub.Room(c.UserContext(), documentID); err != nil {
		switch {
		case errors.Is(err, service.ErrDocumentNotFound):
			return c.Status(fiber.StatusNotFound).JSON(serverutils.ErrorResponse(fiber.StatusNotFound, err.Error()))
		case errors.Is(err, service.ErrInvalidDocumentID):
			return c.Status(fiber.StatusBadRequest).JSON(serverutils.ErrorResponse(fiber.StatusBadRequest, err.Error()))
		}
		return err
	}

	clientID := c.Query("client_id")
	if clientID == "" {
		clientID = uuid.NewString()
	}
	p := internalWS.Participant{
		DocumentID: documentID,
		ClientID:   clientID,
		UserID:     identity.UserID,
		Name:       identity.Name,
		Color:      internalWS.ColorFor(identity.UserID),
	}

	return websocket.New(func(conn *websocket.Conn) {
		h.logger.Info("CollabHandler", "Starting collab session", map[string]interface{}{
			"document_id": p.DocumentID,
			"client_id":   p.ClientID,
			"user_id":     p.UserID,
		})
		if err := internalWS.ServeWs(context.Background(), h.hub, conn, p); err != nil {
			h.logger.Warn("CollabHandler", "Collab session refused", map[string]interface{}{
				"document_id": p.DocumentID,
				"error":       err.Error(),
			})
			return
		}
		h.logger.Info("CollabHandler", "Collab session ended", map[string]interface{}{
			"document_id": p.DocumentID,
			"client_id":   p.ClientID,
		})
	})(c)
}

func (h *CollabHandler) RegisterRoutes(router fiber.Router) {
	router.Get("/ws/documents/:id", h.ServeWs)
}
