// internal/handler/websocket_handler.go
package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"pulsepal-service/internal/driver"
	"pulsepal-service/internal/service"
	"pulsepal-service/internal/utils"
)

const (
	pongWait     = 60 * time.Second
	pingInterval = 54 * time.Second
	writeWait    = 10 * time.Second
)

// WebSocketHandler streams session lifecycle events to WebSocket clients
type WebSocketHandler struct {
	upgrader        websocket.Upgrader
	connections     *ConnectionManager
	pulsePalService *service.PulsePalService
	logger          *utils.ServiceLogger
}

// NewWebSocketHandler creates a new WebSocket handler. allowedOrigins limits
// browser clients; an empty list accepts any origin.
func NewWebSocketHandler(pulsePalService *service.PulsePalService, allowedOrigins []string, logger *zap.Logger) *WebSocketHandler {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || len(allowedOrigins) == 0 {
				return true
			}
			for _, allowed := range allowedOrigins {
				if allowed == "*" || allowed == origin {
					return true
				}
			}
			return false
		},
	}

	return &WebSocketHandler{
		upgrader:        upgrader,
		connections:     NewConnectionManager(),
		pulsePalService: pulsePalService,
		logger:          utils.NewServiceLogger(logger, "websocket-handler"),
	}
}

// RegisterRoutes registers WebSocket routes
func (h *WebSocketHandler) RegisterRoutes(router *gin.RouterGroup) {
	// All session events, optionally filtered by subscription
	router.GET("/events", h.HandleEventConnection)

	// Events of a single device
	router.GET("/devices/:name", h.HandleDeviceConnection)
}

// HandleDeviceConnection handles device-specific WebSocket connections
func (h *WebSocketHandler) HandleDeviceConnection(c *gin.Context) {
	name := c.Param("name")
	if name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "device name is required"})
		return
	}

	client := h.upgrade(c, "device")
	if client == nil {
		return
	}
	client.Device = &name

	h.connections.Register(client)
	h.logger.Info("Device WebSocket client connected",
		zap.String("client_id", client.ID),
		zap.String("device", name),
		zap.String("remote_addr", client.RemoteAddr),
	)

	h.sendSessions(client, name)

	go h.handleClientRead(client)
	go h.handleClientWrite(client)
}

// HandleEventConnection handles general event WebSocket connections
func (h *WebSocketHandler) HandleEventConnection(c *gin.Context) {
	client := h.upgrade(c, "events")
	if client == nil {
		return
	}

	h.connections.Register(client)
	h.logger.Info("Event WebSocket client connected",
		zap.String("client_id", client.ID),
	)

	h.sendSessions(client, "")

	go h.handleClientRead(client)
	go h.handleClientWrite(client)
}

func (h *WebSocketHandler) upgrade(c *gin.Context, clientType string) *Client {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade WebSocket connection", zap.Error(err))
		return nil
	}

	return &Client{
		ID:          uuid.New().String(),
		Connection:  conn,
		Send:        make(chan []byte, 256),
		Type:        clientType,
		UserAgent:   c.Request.UserAgent(),
		RemoteAddr:  c.Request.RemoteAddr,
		ConnectedAt: time.Now(),
	}
}

// handleClientRead handles reading messages from WebSocket client
func (h *WebSocketHandler) handleClientRead(client *Client) {
	defer func() {
		h.connections.Unregister(client)
		client.Connection.Close()
	}()

	client.Connection.SetReadDeadline(time.Now().Add(pongWait))
	client.Connection.SetPongHandler(func(string) error {
		client.Connection.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, messageBytes, err := client.Connection.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Error("WebSocket read error",
					zap.Error(err),
					zap.String("client_id", client.ID),
				)
			}
			break
		}

		var message WebSocketMessage
		if err := json.Unmarshal(messageBytes, &message); err != nil {
			h.logger.Error("Failed to parse WebSocket message",
				zap.Error(err),
				zap.String("client_id", client.ID),
			)
			continue
		}

		h.handleClientMessage(client, &message)
	}
}

// handleClientWrite handles writing messages to WebSocket client
func (h *WebSocketHandler) handleClientWrite(client *Client) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		client.Connection.Close()
	}()

	for {
		select {
		case message, ok := <-client.Send:
			client.Connection.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				client.Connection.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := client.Connection.WriteMessage(websocket.TextMessage, message); err != nil {
				h.logger.Error("WebSocket write error",
					zap.Error(err),
					zap.String("client_id", client.ID),
				)
				return
			}

		case <-ticker.C:
			client.Connection.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.Connection.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleClientMessage handles incoming client messages
func (h *WebSocketHandler) handleClientMessage(client *Client, message *WebSocketMessage) {
	switch message.Type {
	case "subscribe", "unsubscribe":
		h.handleSubscription(client, message)
	case "sessions":
		filter := ""
		if client.Device != nil {
			filter = *client.Device
		}
		h.sendSessions(client, filter)
	case "ping":
		h.sendMessage(client, &WebSocketMessage{
			Type:      "pong",
			RequestID: message.RequestID,
			Timestamp: time.Now(),
		})
	default:
		h.logger.Warn("Unknown message type",
			zap.String("type", message.Type),
			zap.String("client_id", client.ID),
		)
		h.sendError(client, "unknown message type: "+message.Type)
	}
}

// handleSubscription adds or removes a device filter on an event client
func (h *WebSocketHandler) handleSubscription(client *Client, message *WebSocketMessage) {
	if client.Device != nil {
		h.sendError(client, "device connections cannot change subscriptions")
		return
	}

	data, ok := message.Data.(map[string]interface{})
	if !ok {
		h.sendError(client, "subscription data is required")
		return
	}
	device, ok := data["device"].(string)
	if !ok || device == "" {
		h.sendError(client, "device is required")
		return
	}

	if message.Type == "subscribe" {
		client.Subscribe(device)
	} else {
		client.Unsubscribe(device)
	}
	h.logger.Info("Client subscription changed",
		zap.String("client_id", client.ID),
		zap.String("action", message.Type),
		zap.String("device", device),
	)

	h.sendMessage(client, &WebSocketMessage{
		Type:      message.Type + "_confirmed",
		Data:      map[string]interface{}{"device": device},
		RequestID: message.RequestID,
		Timestamp: time.Now(),
	})
}

// sendSessions sends the current session snapshot, filtered to one device
// when device is set.
func (h *WebSocketHandler) sendSessions(client *Client, device string) {
	sessions := h.pulsePalService.Sessions()
	if device != "" {
		filtered := make([]driver.SessionInfo, 0, 1)
		for _, s := range sessions {
			if s.Name == device {
				filtered = append(filtered, s)
			}
		}
		sessions = filtered
	}

	h.sendMessage(client, &WebSocketMessage{
		Type:      "sessions",
		Data:      sessions,
		Timestamp: time.Now(),
	})
}

// sendMessage sends a message to a client
func (h *WebSocketHandler) sendMessage(client *Client, message *WebSocketMessage) {
	messageBytes, err := json.Marshal(message)
	if err != nil {
		h.logger.Error("Failed to marshal WebSocket message", zap.Error(err))
		return
	}

	select {
	case client.Send <- messageBytes:
	default:
		h.logger.Warn("Client send channel full, dropping message",
			zap.String("client_id", client.ID),
		)
	}
}

// sendError sends an error message to a client
func (h *WebSocketHandler) sendError(client *Client, errorMsg string) {
	h.sendMessage(client, &WebSocketMessage{
		Type: "error",
		Data: map[string]interface{}{
			"error": errorMsg,
		},
		Timestamp: time.Now(),
	})
}

// ForwardEvents broadcasts session events from bus until the bus stops. Call
// before bus.Start.
func (h *WebSocketHandler) ForwardEvents(bus *EventBus) {
	for _, eventType := range []string{EventSessionOpened, EventSessionClosed, EventSessionFailed} {
		events := bus.Subscribe(eventType)
		go func() {
			for event := range events {
				h.BroadcastDeviceEvent(event.Source, event.Type, event.Data)
			}
		}()
	}
}

// BroadcastDeviceEvent broadcasts device events to relevant clients
func (h *WebSocketHandler) BroadcastDeviceEvent(device string, eventType string, data interface{}) {
	message := &WebSocketMessage{
		Type: "device_event",
		Data: map[string]interface{}{
			"device":     device,
			"event_type": eventType,
			"data":       data,
		},
		Timestamp: time.Now(),
	}

	messageBytes, err := json.Marshal(message)
	if err != nil {
		h.logger.Error("Failed to marshal broadcast message", zap.Error(err))
		return
	}

	for _, id := range h.connections.Broadcast(device, messageBytes) {
		h.logger.Warn("Client send channel full during broadcast",
			zap.String("client_id", id),
		)
	}
}

// GetConnectionStats returns connection statistics
func (h *WebSocketHandler) GetConnectionStats() *ConnectionStats {
	return h.connections.GetStats()
}
