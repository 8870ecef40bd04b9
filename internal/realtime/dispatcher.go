package realtime

import (
	"context"
	"encoding/json"
	"fmt"

	"chat-realtime/internal/delivery"
	"chat-realtime/internal/models"
	"chat-realtime/internal/presence"
	"chat-realtime/internal/websocket"

	"github.com/google/uuid"
)

// Dispatcher routes inbound socket envelopes to the domain services. It
// implements websocket.MessageHandler; transport concerns (setup,
// registration, pings) never reach it.
type Dispatcher struct {
	tracker  *delivery.Tracker
	presence *presence.PresenceService
	repo     delivery.Repository
	hub      *websocket.Hub
}

func NewDispatcher(tracker *delivery.Tracker, presenceService *presence.PresenceService, repo delivery.Repository, hub *websocket.Hub) *Dispatcher {
	return &Dispatcher{
		tracker:  tracker,
		presence: presenceService,
		repo:     repo,
		hub:      hub,
	}
}

func (d *Dispatcher) Handle(ctx context.Context, client *websocket.Client, msg *websocket.Message) error {
	switch msg.Type {
	case websocket.MessageTypeHeartbeat:
		d.presence.RefreshLastSeen(client.UserID())
		return nil

	case websocket.MessageTypeSend:
		return d.handleSend(ctx, client, msg)

	case websocket.MessageTypeDelivered:
		messageID, err := messageIDFrom(msg.Data)
		if err != nil {
			return err
		}
		return d.tracker.MarkDelivered(ctx, messageID, client.UserID())

	case websocket.MessageTypeRead:
		messageID, err := messageIDFrom(msg.Data)
		if err != nil {
			return err
		}
		return d.tracker.MarkRead(ctx, messageID, client.UserID())

	case websocket.MessageTypeReadAll:
		channelID, err := uintFrom(msg.Data, "channel_id")
		if err != nil {
			return err
		}
		_, err = d.tracker.MarkAllRead(ctx, channelID, client.UserID())
		return err

	case websocket.MessageTypeTyping, websocket.MessageTypeStopTyping:
		return d.relayTyping(ctx, client, msg)

	default:
		return fmt.Errorf("unsupported message type: %s", msg.Type)
	}
}

func (d *Dispatcher) handleSend(ctx context.Context, client *websocket.Client, msg *websocket.Message) error {
	raw, err := json.Marshal(msg.Data)
	if err != nil {
		return fmt.Errorf("invalid send payload: %w", err)
	}
	var req models.SendMessageRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return fmt.Errorf("invalid send payload: %w", err)
	}
	if req.ChannelID == 0 {
		return fmt.Errorf("channelId is required")
	}

	stored, err := d.tracker.Send(ctx, client.UserID(), req)
	if err != nil {
		return err
	}

	// Echo the persisted message back so the sender learns the id/status.
	ack := websocket.NewMessage(msg.ID, websocket.MessageTypeSend, client.UserID(), map[string]interface{}{
		"message": stored.ToResponse(),
	})
	return client.SendMessage(ack)
}

// relayTyping forwards typing indicators to the other channel members.
// Indicators are ephemeral: nothing persists, unreachable members are
// skipped.
func (d *Dispatcher) relayTyping(ctx context.Context, client *websocket.Client, msg *websocket.Message) error {
	channelID, err := uintFrom(msg.Data, "channel_id")
	if err != nil {
		return err
	}

	memberIDs, err := d.repo.ChannelMemberIDs(ctx, channelID)
	if err != nil {
		return err
	}

	relay := websocket.NewMessage(uuid.New().String(), msg.Type, client.UserID(), map[string]interface{}{
		"channel_id": channelID,
		"user_id":    client.UserID(),
	})
	data := relay.Encode()
	for _, id := range memberIDs {
		if id == client.UserID() {
			continue
		}
		d.hub.SendToUser(id, data)
	}
	return nil
}

func messageIDFrom(data map[string]interface{}) (uint, error) {
	return uintFrom(data, "message_id")
}

func uintFrom(data map[string]interface{}, key string) (uint, error) {
	value, ok := data[key]
	if !ok {
		return 0, fmt.Errorf("%s is required", key)
	}
	number, ok := value.(float64)
	if !ok || number < 0 {
		return 0, fmt.Errorf("%s must be a non-negative number", key)
	}
	return uint(number), nil
}
