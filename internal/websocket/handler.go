package websocket

import (
	"context"
	"time"

	"ai-research-be/internal/dto"
	"ai-research-be/internal/entity"
	"ai-research-be/pkg/research"

	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
)

// ServeWs runs one research connection until the peer goes away.
func ServeWs(hub *Hub, c *websocket.Conn, identity entity.Identity) {
	client := &Client{
		ID:     uuid.NewString(),
		UserID: identity.UserID,
		Hub:    hub,
		Conn:   c,
		Send:   make(chan []byte, sendBufferSize),
		logger: hub.logger,
	}

	ctx, cancel := context.WithTimeout(context.Background(), resolveTimeout)
	protocol, err := NewProtocol(ctx, hub.deps, identity, client.enqueue, hub.logger)
	cancel()
	if err != nil {
		hub.logger.Error("Hub", "Failed to start research session", map[string]interface{}{
			"user_id": identity.UserID,
			"error":   err.Error(),
		})
		if frame, encErr := EncodeFrame(dto.EventError, dto.ErrorResponse{Message: "failed to resolve subscription", Code: research.ErrorCode(err)}); encErr == nil {
			c.SetWriteDeadline(time.Now().Add(writeWait))
			c.WriteMessage(websocket.TextMessage, frame)
		}
		c.Close()
		return
	}
	client.protocol = protocol

	if !hub.add(client) {
		protocol.Close()
		c.Close()
		return
	}

	go client.writePump()
	client.readPump() // Run readPump in current goroutine (handler)
}
