package websocket

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/player-leaderboard/internal/domain"
)

// Message types
const (
	MessageTypePlayerEvent        = "player_event"
	MessageTypeLeaderboardChanged = "leaderboard_changed"
	MessageTypeSubscribe          = "subscribe"
	MessageTypeUnsubscribe        = "unsubscribe"
	MessageTypePing               = "ping"
	MessageTypePong               = "pong"
	MessageTypeError              = "error"
)

// Topics clients can subscribe to
const (
	// TopicPlayers carries every player mutation with the player record
	TopicPlayers = "players"
	// TopicLeaderboard carries a hint that the ranking may have changed
	TopicLeaderboard = "leaderboard"
)

var knownTopics = map[string]struct{}{
	TopicPlayers:     {},
	TopicLeaderboard: {},
}

// Message represents a WebSocket message
type Message struct {
	Type      string    `json:"type"`
	Topic     string    `json:"topic,omitempty"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// LeaderboardChange tells subscribers to refetch the ranking
type LeaderboardChange struct {
	Reason   domain.PlayerEventType `json:"reason"`
	PlayerID string                 `json:"player_id"`
}

// Hub maintains the set of active clients and fans out player events
type Hub struct {
	// Subscribed clients by topic
	clients map[string]map[*Client]bool

	// All connected clients
	allClients map[*Client]bool

	register    chan *Client
	unregister  chan *Client
	broadcast   chan *Message
	subscribe   chan *subscriptionRequest
	unsubscribe chan *subscriptionRequest

	mu     sync.RWMutex
	logger *slog.Logger

	// allowedOrigin restricts upgrades; empty allows any origin
	allowedOrigin string

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

type subscriptionRequest struct {
	client *Client
	topic  string
}

// NewHub creates a new Hub
func NewHub(logger *slog.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients:     make(map[string]map[*Client]bool),
		allClients:  make(map[*Client]bool),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		broadcast:   make(chan *Message, 256),
		subscribe:   make(chan *subscriptionRequest, 64),
		unsubscribe: make(chan *subscriptionRequest, 64),
		logger:      logger,
		ctx:         ctx,
		cancel:      cancel,
		done:        make(chan struct{}),
	}
}

// SetAllowedOrigin restricts which Origin header may open a connection
func (h *Hub) SetAllowedOrigin(origin string) {
	h.allowedOrigin = origin
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	defer close(h.done)
	h.logger.Info("websocket hub started")
	for {
		select {
		case <-h.ctx.Done():
			h.closeAll()
			h.logger.Info("websocket hub stopped")
			return

		case client := <-h.register:
			h.mu.Lock()
			h.allClients[client] = true
			h.mu.Unlock()
			h.logger.Debug("client registered", "client_id", client.id)

		case client := <-h.unregister:
			h.mu.Lock()
			h.removeLocked(client)
			h.mu.Unlock()
			h.logger.Debug("client unregistered", "client_id", client.id)

		case req := <-h.subscribe:
			h.mu.Lock()
			if _, ok := h.allClients[req.client]; ok {
				if _, ok := h.clients[req.topic]; !ok {
					h.clients[req.topic] = make(map[*Client]bool)
				}
				h.clients[req.topic][req.client] = true
			}
			h.mu.Unlock()
			h.logger.Debug("client subscribed", "client_id", req.client.id, "topic", req.topic)

		case req := <-h.unsubscribe:
			h.mu.Lock()
			if clients, ok := h.clients[req.topic]; ok {
				delete(clients, req.client)
				if len(clients) == 0 {
					delete(h.clients, req.topic)
				}
			}
			h.mu.Unlock()
			h.logger.Debug("client unsubscribed", "client_id", req.client.id, "topic", req.topic)

		case message := <-h.broadcast:
			h.broadcastMessage(message)
		}
	}
}

// Stop stops the hub and disconnects every client
func (h *Hub) Stop() {
	h.cancel()
	<-h.done
}

func (h *Hub) removeLocked(client *Client) {
	if _, ok := h.allClients[client]; !ok {
		return
	}
	delete(h.allClients, client)
	for topic, clients := range h.clients {
		if _, ok := clients[client]; ok {
			delete(clients, client)
			if len(clients) == 0 {
				delete(h.clients, topic)
			}
		}
	}
	client.closeSend()
}

// closeAll drops every client and closes its connection so the read pump
// exits on its own
func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.allClients {
		h.removeLocked(client)
		if client.conn != nil {
			client.conn.Close()
		}
	}
}

// broadcastMessage sends a message to the clients subscribed to its topic
func (h *Hub) broadcastMessage(message *Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	data, err := json.Marshal(message)
	if err != nil {
		h.logger.Error("failed to marshal message", "error", err)
		return
	}

	for client := range h.clients[message.Topic] {
		if !client.trySend(data) {
			h.logger.Warn("client buffer full, skipping", "client_id", client.id)
		}
	}
}

func (h *Hub) enqueue(message *Message) {
	select {
	case h.broadcast <- message:
	default:
		h.logger.Warn("broadcast channel full, dropping message", "type", message.Type, "topic", message.Topic)
	}
}

// PublishPlayerEvent fans a committed player mutation out to the players
// topic and signals leaderboard subscribers. It never blocks the caller.
func (h *Hub) PublishPlayerEvent(event domain.PlayerEvent) {
	now := time.Now()
	h.enqueue(&Message{
		Type:      MessageTypePlayerEvent,
		Topic:     TopicPlayers,
		Data:      event,
		Timestamp: now,
	})
	h.enqueue(&Message{
		Type:  MessageTypeLeaderboardChanged,
		Topic: TopicLeaderboard,
		Data: LeaderboardChange{
			Reason:   event.Type,
			PlayerID: event.PlayerID,
		},
		Timestamp: now,
	})
}

// Register adds a client to the hub
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.ctx.Done():
	}
}

// Unregister removes a client from the hub
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.ctx.Done():
	}
}

// Subscribe adds a client to a topic
func (h *Hub) Subscribe(client *Client, topic string) {
	select {
	case h.subscribe <- &subscriptionRequest{client: client, topic: topic}:
	case <-h.ctx.Done():
	}
}

// Unsubscribe removes a client from a topic
func (h *Hub) Unsubscribe(client *Client, topic string) {
	select {
	case h.unsubscribe <- &subscriptionRequest{client: client, topic: topic}:
	case <-h.ctx.Done():
	}
}

// GetSubscriberCount returns the number of subscribers for a topic
func (h *Hub) GetSubscriberCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[topic])
}

// GetTotalConnections returns the total number of connected clients
func (h *Hub) GetTotalConnections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.allClients)
}
