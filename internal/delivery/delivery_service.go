package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"chat-realtime/internal/adapters/kafka"
	"chat-realtime/internal/models"
	"chat-realtime/internal/websocket"

	"github.com/google/uuid"
)

var (
	ErrNotChannelMember = errors.New("user is not a member of the channel")
	ErrEmptyMessage     = errors.New("message has no content")
)

// Notifier pushes an envelope to every active device of a user. A user
// with zero connections is silently skipped; transport unavailability is
// never a failure of the transition itself.
type Notifier interface {
	SendToUser(userID uint, data []byte)
}

// Reachability answers whether a user currently has any live connection.
type Reachability interface {
	IsReachable(userID uint) bool
}

// Tracker advances messages through sending -> sent -> {delivered, offline,
// failed} -> read. Transitions persist first; notification fan-out happens
// only after the store confirms, so no status is ever silently dropped.
type Tracker struct {
	repo     Repository
	notifier Notifier
	reach    Reachability
	events   *kafka.EventPublisher
}

func NewTracker(repo Repository, notifier Notifier, reach Reachability, events *kafka.EventPublisher) *Tracker {
	return &Tracker{
		repo:     repo,
		notifier: notifier,
		reach:    reach,
		events:   events,
	}
}

// Send persists a new message and fans it out to reachable channel
// members. When nobody is reachable the message parks in `offline` for the
// reconciler to replay.
func (t *Tracker) Send(ctx context.Context, senderID uint, req models.SendMessageRequest) (*models.Message, error) {
	if req.Text == nil && req.URL == nil {
		return nil, ErrEmptyMessage
	}

	member, err := t.repo.IsChannelMember(ctx, req.ChannelID, senderID)
	if err != nil {
		return nil, err
	}
	if !member {
		return nil, ErrNotChannelMember
	}

	var clientKey *string
	if req.ClientKey != "" {
		clientKey = &req.ClientKey
	}
	msg := &models.Message{
		SenderID:  senderID,
		ChannelID: req.ChannelID,
		Text:      req.Text,
		URL:       req.URL,
		FileName:  req.FileName,
		Status:    models.MessageStatusSending,
		ClientKey: clientKey,
	}
	if err := t.repo.CreateMessage(ctx, msg); err != nil {
		return nil, err
	}

	if msg.Status == models.MessageStatusSending {
		if err := t.repo.MarkSent(ctx, msg.ID); err != nil {
			return nil, err
		}
		msg.Status = models.MessageStatusSent
	}

	memberIDs, err := t.repo.ChannelMemberIDs(ctx, req.ChannelID)
	if err != nil {
		return nil, err
	}

	reachable := 0
	payload := t.newMessageEnvelope(msg)
	for _, id := range memberIDs {
		if id == senderID {
			continue
		}
		if t.reach != nil && !t.reach.IsReachable(id) {
			continue
		}
		reachable++
		t.notifier.SendToUser(id, payload)
	}

	if reachable == 0 && len(memberIDs) > 1 {
		if err := t.repo.SetOffline(ctx, msg.ID); err != nil {
			slog.Error("Failed to park message offline", "messageID", msg.ID, "error", err)
		} else {
			msg.Status = models.MessageStatusOffline
		}
	}

	t.events.Publish("message.sent", fmt.Sprintf("%d", msg.ChannelID), msg.ToResponse())
	return msg, nil
}

// MarkDelivered records recipientID's delivery ack. Repeated acks from the
// same recipient are no-ops and do not re-notify. The sender hears the
// receipt on every one of their devices.
func (t *Tracker) MarkDelivered(ctx context.Context, messageID, recipientID uint) error {
	msg, err := t.repo.GetMessage(ctx, messageID)
	if err != nil {
		return err
	}
	if msg.SenderID == recipientID {
		// A sender cannot ack their own message.
		return nil
	}

	inserted, err := t.repo.AddReceipt(ctx, messageID, recipientID, models.ReceiptDelivered)
	if err != nil {
		return err
	}
	if !inserted {
		return nil
	}

	// First delivery advances sent/offline to delivered; a message already
	// read must not regress.
	if _, err := t.repo.AdvanceStatus(ctx, messageID, models.MessageStatusDelivered); err != nil {
		return err
	}

	t.notifySender(msg.SenderID, websocket.MessageTypeDeliveredAck, map[string]interface{}{
		"message_id": messageID,
		"by":         recipientID,
	})
	t.events.Publish("message.delivered", fmt.Sprintf("%d", msg.ChannelID), map[string]interface{}{
		"messageId": messageID,
		"by":        recipientID,
	})
	return nil
}

// MarkRead records recipientID's read ack; read implies delivered. The
// status advance and both receipts commit atomically per message.
func (t *Tracker) MarkRead(ctx context.Context, messageID, readerID uint) error {
	msg, err := t.repo.GetMessage(ctx, messageID)
	if err != nil {
		return err
	}
	if msg.SenderID == readerID {
		return nil
	}

	inserted, err := t.repo.MarkReadTx(ctx, messageID, readerID)
	if err != nil {
		return err
	}
	if !inserted {
		return nil
	}

	t.notifySender(msg.SenderID, websocket.MessageTypeReadAck, map[string]interface{}{
		"message_id": messageID,
		"by":         readerID,
	})
	t.events.Publish("message.read", fmt.Sprintf("%d", msg.ChannelID), map[string]interface{}{
		"messageId": messageID,
		"by":        readerID,
	})
	return nil
}

// MarkAllRead marks every unread message in the channel as read by
// readerID, one atomic transition per message. A failure on one message
// does not stop the rest; the count of applied transitions is returned.
func (t *Tracker) MarkAllRead(ctx context.Context, channelID, readerID uint) (int, error) {
	member, err := t.repo.IsChannelMember(ctx, channelID, readerID)
	if err != nil {
		return 0, err
	}
	if !member {
		return 0, ErrNotChannelMember
	}

	msgs, err := t.repo.UnreadInChannel(ctx, channelID, readerID)
	if err != nil {
		return 0, err
	}

	applied := 0
	for _, msg := range msgs {
		if err := t.MarkRead(ctx, msg.ID, readerID); err != nil {
			slog.Error("Failed to mark message read in bulk pass",
				"messageID", msg.ID, "readerID", readerID, "error", err)
			continue
		}
		applied++
	}
	return applied, nil
}

func (t *Tracker) notifySender(senderID uint, msgType websocket.MessageType, data map[string]interface{}) {
	if t.notifier == nil {
		return
	}
	msg := websocket.NewMessage(uuid.New().String(), msgType, senderID, data)
	t.notifier.SendToUser(senderID, msg.Encode())
}

func (t *Tracker) newMessageEnvelope(msg *models.Message) []byte {
	resp := msg.ToResponse()
	env := websocket.NewMessage(uuid.New().String(), websocket.MessageTypeNewMessage, msg.SenderID, map[string]interface{}{
		"message": resp,
	})
	return env.Encode()
}
