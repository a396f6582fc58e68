// Package ws streams sweep lifecycle events and engine status
// snapshots to WebSocket subscribers.
package ws

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// SnapshotFunc produces the current engine status for the periodic
// broadcast and the initial message on subscribe.
type SnapshotFunc func() StatusSnapshotPayload

// Hub manages all WebSocket clients and broadcasts.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]bool

	register   chan *Client
	unregister chan *Client

	snapshot SnapshotFunc
	log      *logrus.Logger

	stopCh chan struct{}
}

// NewHub creates a hub that answers status subscriptions with the given
// snapshot function.
func NewHub(snapshot SnapshotFunc, log *logrus.Logger) *Hub {
	if log == nil {
		log = logrus.New()
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		snapshot:   snapshot,
		log:        log,
		stopCh:     make(chan struct{}),
	}
}

// Run starts the hub's main event loop. Call in a goroutine.
func (h *Hub) Run() {
	// Periodic status snapshot
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-h.stopCh:
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			h.log.WithField("total", total).Debug("websocket client connected")

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			h.log.WithField("total", total).Debug("websocket client disconnected")

		case <-ticker.C:
			h.broadcastStatusSnapshot()
		}
	}
}

// Stop shuts down the hub.
func (h *Hub) Stop() {
	close(h.stopCh)
}

// ServeWS handles the WebSocket upgrade and creates a client.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("websocket upgrade failed")
		return
	}

	client := NewClient(h, conn)
	h.register <- client

	go client.writePump()
	go client.readPump()
}

// HandleClientMessage processes a parsed message from a client.
func (h *Hub) HandleClientMessage(client *Client, env Envelope) {
	switch env.Type {
	case TypeSubscribe:
		var payload SubscribePayload
		if err := unmarshalPayload(env.Payload, &payload); err != nil {
			return
		}
		client.Subscribe(payload.Channel)

		// If subscribing to status, send an initial snapshot
		if payload.Channel == ChannelStatus && h.snapshot != nil {
			if msg, err := MakeEnvelope(TypeStatusSnapshot, h.snapshot()); err == nil {
				client.Send(msg)
			}
		}

	case TypeUnsubscribe:
		var payload UnsubscribePayload
		if err := unmarshalPayload(env.Payload, &payload); err != nil {
			return
		}
		client.Unsubscribe(payload.Channel)
	}
}

// PublishSweepStarted announces a new evaluation pass to sweep
// subscribers.
func (h *Hub) PublishSweepStarted(p SweepStartedPayload) {
	h.publish(ChannelSweeps, TypeSweepStarted, p)
}

// PublishSweepCompleted announces a finished pass to sweep subscribers.
func (h *Hub) PublishSweepCompleted(p SweepCompletedPayload) {
	h.publish(ChannelSweeps, TypeSweepCompleted, p)
}

// PublishWorkspaceStopped announces a single stop action to sweep
// subscribers.
func (h *Hub) PublishWorkspaceStopped(p WorkspaceStoppedPayload) {
	h.publish(ChannelSweeps, TypeWorkspaceStopped, p)
}

func (h *Hub) publish(channel, msgType string, payload interface{}) {
	msg, err := MakeEnvelope(msgType, payload)
	if err != nil {
		return
	}
	h.broadcastToSubscribers(channel, msg)
}

func (h *Hub) broadcastToSubscribers(channel string, msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		if client.IsSubscribed(channel) {
			select {
			case client.send <- msg:
			default:
				// Client too slow, will be cleaned up
			}
		}
	}
}

func (h *Hub) broadcastStatusSnapshot() {
	if h.snapshot == nil {
		return
	}
	msg, err := MakeEnvelope(TypeStatusSnapshot, h.snapshot())
	if err != nil {
		return
	}
	h.broadcastToSubscribers(ChannelStatus, msg)
}

// unmarshalPayload is a helper to unmarshal a JSON payload.
func unmarshalPayload(data json.RawMessage, v interface{}) error {
	return json.Unmarshal(data, v)
}
