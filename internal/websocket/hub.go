package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	ErrClientDisconnected = fmt.Errorf("client disconnected")
)

// fanoutChannel carries envelopes between hub instances via Redis PubSub.
const fanoutChannel = "chat:fanout"

type ClientMessage struct {
	Client  *Client
	Message *Message
}

// MessageHandler processes inbound envelopes that are not transport
// concerns (sends, acks, read-all, typing). Implemented outside this
// package so the hub stays free of store dependencies.
type MessageHandler interface {
	Handle(ctx context.Context, client *Client, msg *Message) error
}

// fanoutEnvelope is the Redis PubSub payload for cross-instance delivery.
type fanoutEnvelope struct {
	Origin string          `json:"origin"`
	UserID uint            `json:"userId"`
	Data   json.RawMessage `json:"data"`
}

// Hub owns the set of live clients and routes envelopes to devices. Local
// devices are written directly; a Redis PubSub channel fans out to clients
// connected to other instances.
type Hub struct {
	id string

	// Registered clients
	clients map[*Client]bool

	// Client lookup by user ID
	userClients map[uint]map[*Client]bool

	// Register requests from the clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	// Handle messages from clients
	handleMessage chan *ClientMessage

	registry *ConnectionRegistry
	handler  MessageHandler

	// Redis client for cross-instance PubSub, optional
	redis  *redis.Client
	pubsub *redis.PubSub

	ctx    context.Context
	cancel context.CancelFunc

	mu sync.RWMutex
}

func NewHub(registry *ConnectionRegistry, redisClient *redis.Client) *Hub {
	ctx, cancel := context.WithCancel(context.Background())

	return &Hub{
		id:            uuid.New().String(),
		clients:       make(map[*Client]bool),
		userClients:   make(map[uint]map[*Client]bool),
		register:      make(chan *Client),
		unregister:    make(chan *Client),
		handleMessage: make(chan *ClientMessage, 64),
		registry:      registry,
		redis:         redisClient,
		ctx:           ctx,
		cancel:        cancel,
	}
}

// SetHandler wires the inbound dispatcher. Must be called before Run.
func (h *Hub) SetHandler(handler MessageHandler) {
	h.handler = handler
}

func (h *Hub) Run() {
	h.subscribeFanout()

	for {
		select {
		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case clientMsg := <-h.handleMessage:
			h.handleClientMessage(clientMsg)

		case <-h.ctx.Done():
			slog.Info("WebSocket hub shutting down")
			return
		}
	}
}

func (h *Hub) Stop() {
	if h.pubsub != nil {
		h.pubsub.Close()
	}
	h.cancel()
}

func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	h.clients[client] = true
	if h.userClients[client.userID] == nil {
		h.userClients[client.userID] = make(map[*Client]bool)
	}
	h.userClients[client.userID][client] = true
	h.mu.Unlock()

	count := h.registry.Register(client.id, client.userID)
	slog.Info("Client registered", "clientID", client.id, "userID", client.userID, "activeCount", count)

	ack := NewMessage(uuid.New().String(), MessageTypeSetup, client.userID, map[string]interface{}{
		"connection_id": client.id,
		"status":        "connected",
	})
	client.SendMessage(ack)
}

func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, client)
	if clients := h.userClients[client.userID]; clients != nil {
		delete(clients, client)
		if len(clients) == 0 {
			delete(h.userClients, client.userID)
		}
	}
	h.mu.Unlock()

	client.closeSendChannel()
	count := h.registry.Unregister(client.id)
	slog.Info("Client unregistered", "clientID", client.id, "userID", client.userID, "activeCount", count)
}

func (h *Hub) handleClientMessage(clientMsg *ClientMessage) {
	client := clientMsg.Client
	msg := clientMsg.Message

	if err := msg.Validate(); err != nil {
		client.sendError("INVALID_MESSAGE", err.Error())
		return
	}

	switch msg.Type {
	case MessageTypeSetup:
		// The upgrade request already bound the user; just ack.
		client.SendMessage(NewMessage(msg.ID, MessageTypeSetup, client.userID, map[string]interface{}{
			"connection_id": client.id,
			"status":        "connected",
		}))

	case MessageTypeHeartbeat:
		h.registry.Heartbeat(client.id)
		// Forward so presence can refresh last-seen at its own rate.
		if h.handler != nil {
			h.handler.Handle(h.ctx, client, msg)
		}

	default:
		if h.handler == nil {
			client.sendError("NOT_SUPPORTED", "no handler configured")
			return
		}
		if err := h.handler.Handle(h.ctx, client, msg); err != nil {
			slog.Error("Message handling failed", "type", msg.Type, "userID", client.userID, "error", err)
			client.sendError("HANDLER_ERROR", err.Error())
		}
	}
}

// SendToUser delivers raw bytes to every active device of a user: local
// clients directly, remote ones via the fanout channel. Zero local clients
// is not an error; the user may be connected elsewhere or offline.
func (h *Hub) SendToUser(userID uint, data []byte) {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.userClients[userID]))
	for client := range h.userClients[userID] {
		targets = append(targets, client)
	}
	h.mu.RUnlock()

	for _, client := range targets {
		if err := client.Send(data); err != nil {
			slog.Debug("Dropped message for closed client", "clientID", client.id, "userID", userID)
		}
	}

	h.publishFanout(userID, data)
}

// SendToUsers fans raw bytes out to several users.
func (h *Hub) SendToUsers(userIDs []uint, data []byte) {
	for _, id := range userIDs {
		h.SendToUser(id, data)
	}
}

// BroadcastAll delivers raw bytes to every connected device, local and
// remote. Used for presence edges, which every peer renders.
func (h *Hub) BroadcastAll(data []byte) {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		targets = append(targets, client)
	}
	h.mu.RUnlock()

	for _, client := range targets {
		client.Send(data)
	}

	h.publishFanout(0, data)
}

// LocalConnectionCount reports connected devices on this instance, for
// health reporting.
func (h *Hub) LocalConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) publishFanout(userID uint, data []byte) {
	if h.redis == nil {
		return
	}

	payload, err := json.Marshal(fanoutEnvelope{Origin: h.id, UserID: userID, Data: data})
	if err != nil {
		return
	}
	if err := h.redis.Publish(h.ctx, fanoutChannel, payload).Err(); err != nil {
		slog.Error("Failed to publish fanout message", "userID", userID, "error", err)
	}
}

func (h *Hub) subscribeFanout() {
	if h.redis == nil {
		return
	}

	h.pubsub = h.redis.Subscribe(h.ctx, fanoutChannel)
	ch := h.pubsub.Channel()

	go func() {
		for {
			select {
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var env fanoutEnvelope
				if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
					slog.Error("Invalid fanout payload", "error", err)
					continue
				}
				if env.Origin == h.id {
					continue // our own publish, already delivered locally
				}
				if env.UserID == 0 {
					h.broadcastLocal(env.Data)
				} else {
					h.deliverLocal(env.UserID, env.Data)
				}

			case <-h.ctx.Done():
				return
			}
		}
	}()
}

func (h *Hub) broadcastLocal(data []byte) {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		targets = append(targets, client)
	}
	h.mu.RUnlock()

	for _, client := range targets {
		client.Send(data)
	}
}

func (h *Hub) deliverLocal(userID uint, data []byte) {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.userClients[userID]))
	for client := range h.userClients[userID] {
		targets = append(targets, client)
	}
	h.mu.RUnlock()

	for _, client := range targets {
		client.Send(data)
	}
}
