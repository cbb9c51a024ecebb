// Package handlers provides HTTP request handlers for the portscout API.
// This file implements the WebSocket feed that announces scans as they start
// and complete.
package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/anstrom/portscout/internal/api/middleware"
	"github.com/anstrom/portscout/internal/logging"
	"github.com/anstrom/portscout/internal/metrics"
	"github.com/anstrom/portscout/internal/scanning"
)

const (
	writeWait       = 10 * time.Second                                   // Time allowed to write a message to the peer
	pongWait        = 60 * time.Second                                   // Time to read next pong message from peer
	pingPeriodRatio = 0.9                                                // Ratio of pongWait for pingPeriod
	pingPeriod      = time.Duration(float64(pongWait) * pingPeriodRatio) // Send pings to peer (must be < pongWait)
	maxMessageSize  = 512                                                // Maximum message size allowed from peer
	bufferSize      = 256                                                // Size of the broadcast and client send buffers
)

// Message types sent on the scan feed.
const (
	MessageScanStarted   = "scan_started"
	MessageScanCompleted = "scan_completed"
)

// WebSocketMessage represents a WebSocket message structure.
type WebSocketMessage struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

// ScanStartedMessage announces a scan that acquired its slot.
type ScanStartedMessage struct {
	ScanID     string `json:"scan_id"`
	Target     string `json:"target"`
	ResolvedIP string `json:"resolved_ip"`
	PortRange  string `json:"port_range"`
	Traversal  string `json:"traversal"`
	Threads    int    `json:"threads"`
}

// ScanCompletedMessage summarizes a finished scan.
type ScanCompletedMessage struct {
	ScanID         string             `json:"scan_id"`
	Target         string             `json:"target"`
	ResolvedIP     string             `json:"resolved_ip"`
	OpenPorts      []int              `json:"open_ports"`
	OpenPortsCount int                `json:"open_ports_count"`
	RiskLevel      scanning.RiskLevel `json:"risk_level"`
	ScanDuration   float64            `json:"scan_duration"`
}

// wsClient is one connected peer. The hub owns send; writePump is the
// only goroutine writing to conn.
type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// WebSocketHandler fans scan events out to connected clients. It implements
// scanning.Observer so the engine can publish to it directly.
type WebSocketHandler struct {
	logger   *logging.Logger
	metrics  metrics.MetricsRegistry
	upgrader websocket.Upgrader

	clients    map[*wsClient]bool
	broadcast  chan []byte
	register   chan *wsClient
	unregister chan *wsClient
	shutdown   chan struct{}
	closeOnce  sync.Once
	mutex      sync.RWMutex
}

var _ scanning.Observer = (*WebSocketHandler)(nil)

// NewWebSocketHandler creates the hub and starts its loop.
func NewWebSocketHandler(logger *logging.Logger, metricsRegistry metrics.MetricsRegistry) *WebSocketHandler {
	if logger == nil {
		logger = logging.Default()
	}
	if metricsRegistry == nil {
		metricsRegistry = metrics.Default()
	}
	h := &WebSocketHandler{
		logger:  logger.WithComponent("websocket"),
		metrics: metricsRegistry,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		clients:    make(map[*wsClient]bool),
		broadcast:  make(chan []byte, bufferSize),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		shutdown:   make(chan struct{}),
	}

	go h.run()

	return h
}

// ScanWebSocket godoc
// @Summary Scan event feed
// @Description Upgrades to a WebSocket that receives scan_started and scan_completed messages
// @Tags Scans
// @Success 101 {string} string "Switching Protocols"
// @Router /ws/scans [get]
func (h *WebSocketHandler) ScanWebSocket(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade WebSocket connection", "request_id", requestID, "error", err)
		return
	}

	client := &wsClient{conn: conn, send: make(chan []byte, bufferSize)}
	select {
	case h.register <- client:
	case <-h.shutdown:
		_ = conn.Close()
		return
	}
	h.logger.Info("New scan WebSocket connection", "request_id", requestID, "remote_addr", r.RemoteAddr)

	go h.writePump(client, requestID)
	h.readPump(client, requestID)
}

// run manages client registration and broadcasts.
func (h *WebSocketHandler) run() {
	for {
		select {
		case <-h.shutdown:
			h.mutex.Lock()
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.mutex.Unlock()
			return

		case client := <-h.register:
			h.mutex.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mutex.Unlock()
			h.logger.Debug("Client registered", "total_clients", total)

		case client := <-h.unregister:
			h.mutex.Lock()
			if h.clients[client] {
				delete(h.clients, client)
				close(client.send)
			}
			total := len(h.clients)
			h.mutex.Unlock()
			h.logger.Debug("Client unregistered", "total_clients", total)

		case message := <-h.broadcast:
			h.mutex.Lock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					// A client that cannot keep up is dropped.
					delete(h.clients, client)
					close(client.send)
				}
			}
			h.mutex.Unlock()
			h.metrics.Counter("websocket_messages_sent_total", metrics.Labels{"type": "scan"})
		}
	}
}

// readPump consumes control frames until the peer goes away.
func (h *WebSocketHandler) readPump(client *wsClient, requestID string) {
	defer func() {
		select {
		case h.unregister <- client:
		case <-h.shutdown:
		}
		_ = client.conn.Close()
	}()

	client.conn.SetReadLimit(maxMessageSize)
	if err := client.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		h.logger.Error("Failed to set read deadline", "request_id", requestID, "error", err)
		return
	}
	client.conn.SetPongHandler(func(string) error {
		return client.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Error("WebSocket unexpected close", "request_id", requestID, "error", err)
			}
			return
		}
		// Client messages carry no meaning on this feed.
	}
}

// writePump delivers queued messages and keeps the connection alive.
func (h *WebSocketHandler) writePump(client *wsClient, requestID string) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = client.conn.Close()
	}()

	for {
		select {
		case message, ok := <-client.send:
			if err := client.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if !ok {
				_ = client.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				h.logger.Debug("Write failed, closing connection", "request_id", requestID, "error", err)
				return
			}
		case <-ticker.C:
			if err := client.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.logger.Debug("Ping failed, closing connection", "request_id", requestID, "error", err)
				return
			}
		}
	}
}

// ScanStarted implements scanning.Observer.
func (h *WebSocketHandler) ScanStarted(scanID string, req scanning.ScanRequest, resolvedIP string) {
	_ = h.publish(MessageScanStarted, ScanStartedMessage{
		ScanID:     scanID,
		Target:     req.Target,
		ResolvedIP: resolvedIP,
		PortRange:  fmt.Sprintf("%d-%d", req.StartPort, req.EndPort),
		Traversal:  req.Traversal,
		Threads:    req.Threads,
	})
}

// ScanCompleted implements scanning.Observer.
func (h *WebSocketHandler) ScanCompleted(result *scanning.ScanResult) {
	_ = h.publish(MessageScanCompleted, ScanCompletedMessage{
		ScanID:         result.ScanID,
		Target:         result.Target,
		ResolvedIP:     result.ResolvedIP,
		OpenPorts:      result.OpenPorts,
		OpenPortsCount: result.OpenPortsCount,
		RiskLevel:      result.RiskLevel,
		ScanDuration:   result.ScanDuration,
	})
}

// publish queues a message for every client without blocking the caller.
func (h *WebSocketHandler) publish(messageType string, data any) error {
	payload, err := json.Marshal(WebSocketMessage{
		Type:      messageType,
		Timestamp: time.Now().UTC(),
		Data:      data,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal %s message: %w", messageType, err)
	}

	select {
	case h.broadcast <- payload:
		return nil
	default:
		h.logger.Warn("Broadcast channel full, dropping message", "type", messageType)
		return fmt.Errorf("broadcast channel full")
	}
}

// GetConnectedClients returns the number of connected clients.
func (h *WebSocketHandler) GetConnectedClients() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// Close disconnects every client and stops the hub.
func (h *WebSocketHandler) Close() error {
	h.closeOnce.Do(func() {
		close(h.shutdown)
		h.logger.Info("WebSocket handler closed")
	})
	return nil
}
