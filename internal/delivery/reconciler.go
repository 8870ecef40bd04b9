package delivery

import (
	"context"
	"log/slog"
	"time"

	"chat-realtime/internal/websocket"

	"github.com/google/uuid"
)

// Reconciler replays messages that never got a delivery ack to a user who
// just came online. It is a catch-up job hooked to presence online edges,
// not a subscription: one pass per transition.
type Reconciler struct {
	repo     Repository
	tracker  *Tracker
	notifier Notifier
}

func NewReconciler(repo Repository, tracker *Tracker, notifier Notifier) *Reconciler {
	return &Reconciler{
		repo:     repo,
		tracker:  tracker,
		notifier: notifier,
	}
}

// OnUserOnline finds undelivered messages addressed to userID and replays
// them as if freshly delivered. A failure on one message does not prevent
// processing the next.
func (r *Reconciler) OnUserOnline(userID uint) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	msgs, err := r.repo.UndeliveredTo(ctx, userID)
	if err != nil {
		slog.Error("Reconciler failed to load undelivered messages", "userID", userID, "error", err)
		return
	}
	if len(msgs) == 0 {
		return
	}

	slog.Info("Replaying delayed messages", "userID", userID, "count", len(msgs))

	delivered := 0
	for _, msg := range msgs {
		deliveredAt := time.Now()

		// Push to the now-connected device(s) first, then ack on the
		// recipient's behalf.
		resp := msg.ToResponse()
		push := websocket.NewMessage(uuid.New().String(), websocket.MessageTypeNewMessage, msg.SenderID, map[string]interface{}{
			"message": resp,
			"delayed": true,
		})
		r.notifier.SendToUser(userID, push.Encode())

		if err := r.tracker.MarkDelivered(ctx, msg.ID, userID); err != nil {
			slog.Error("Reconciler failed to mark message delivered",
				"messageID", msg.ID, "userID", userID, "error", err)
			continue
		}
		delivered++

		// The original sender can render the latency from both timestamps.
		delayedNote := websocket.NewMessage(uuid.New().String(), websocket.MessageTypeDelayed, msg.SenderID, map[string]interface{}{
			"message_id":   msg.ID,
			"recipient":    userID,
			"original_ts":  msg.CreatedAt.Unix(),
			"delivered_ts": deliveredAt.Unix(),
		})
		r.notifier.SendToUser(msg.SenderID, delayedNote.Encode())
	}

	slog.Info("Delayed replay finished", "userID", userID, "delivered", delivered, "total", len(msgs))
}
