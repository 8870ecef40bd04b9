package delivery

import (
	"context"
	"testing"

	"chat-realtime/internal/models"
	"chat-realtime/internal/websocket"
)

// TestReconcilerReplaysOfflineMessages tests the offline-send then
// come-online catch-up flow end to end
func TestReconcilerReplaysOfflineMessages(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepo()
	repo.setMembers(10, 1, 2)
	notifier := newFakeNotifier()
	reach := newFakeReach()
	tracker := NewTracker(repo, notifier, reach, nil)
	reconciler := NewReconciler(repo, tracker, notifier)

	// Two messages sent while user 2 has no connections.
	first, err := tracker.Send(ctx, 1, models.SendMessageRequest{ChannelID: 10, Text: str("while away 1")})
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	second, err := tracker.Send(ctx, 1, models.SendMessageRequest{ChannelID: 10, Text: str("while away 2")})
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if repo.status(first.ID) != models.MessageStatusOffline {
		t.Fatalf("Expected first message parked offline, got %s", repo.status(first.ID))
	}

	// User 2 comes online and the presence hook fires.
	reach.set(2, true)
	reconciler.OnUserOnline(2)

	t.Run("RecipientGetsDelayedPush", func(t *testing.T) {
		if got := notifier.countFor(2, websocket.MessageTypeNewMessage); got != 2 {
			t.Errorf("Expected 2 replayed pushes, got %d", got)
		}
		for _, msg := range notifier.sent[2] {
			if msg.Type != websocket.MessageTypeNewMessage {
				continue
			}
			if delayed, ok := msg.Data["delayed"].(bool); !ok || !delayed {
				t.Error("Replayed push should be flagged delayed")
			}
		}
	})

	t.Run("StatusAdvancesToDelivered", func(t *testing.T) {
		for _, id := range []uint{first.ID, second.ID} {
			if got := repo.status(id); got != models.MessageStatusDelivered {
				t.Errorf("Message %d expected delivered, got %s", id, got)
			}
		}
	})

	t.Run("SenderGetsDelayedNotes", func(t *testing.T) {
		if got := notifier.countFor(1, websocket.MessageTypeDelayed); got != 2 {
			t.Errorf("Expected 2 delayed notes to the sender, got %d", got)
		}
		for _, msg := range notifier.sent[1] {
			if msg.Type != websocket.MessageTypeDelayed {
				continue
			}
			if _, ok := msg.Data["original_ts"]; !ok {
				t.Error("Delayed note should carry original_ts")
			}
			if _, ok := msg.Data["delivered_ts"]; !ok {
				t.Error("Delayed note should carry delivered_ts")
			}
		}
	})

	t.Run("SecondPassIsEmpty", func(t *testing.T) {
		reconciler.OnUserOnline(2)
		if got := notifier.countFor(2, websocket.MessageTypeNewMessage); got != 2 {
			t.Errorf("Second pass replayed again: %d pushes", got)
		}
		if got := notifier.countFor(1, websocket.MessageTypeDeliveredAck); got != 2 {
			t.Errorf("Expected 2 delivered acks total, got %d", got)
		}
	})
}

// TestReconcilerSkipsAckedMessages tests that messages already delivered
// or read are not replayed
func TestReconcilerSkipsAckedMessages(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepo()
	repo.setMembers(10, 1, 2)
	notifier := newFakeNotifier()
	reach := newFakeReach(2)
	tracker := NewTracker(repo, notifier, reach, nil)
	reconciler := NewReconciler(repo, tracker, notifier)

	msg, err := tracker.Send(ctx, 1, models.SendMessageRequest{ChannelID: 10, Text: str("seen live")})
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if err := tracker.MarkDelivered(ctx, msg.ID, 2); err != nil {
		t.Fatalf("MarkDelivered failed: %v", err)
	}
	pushes := notifier.countFor(2, websocket.MessageTypeNewMessage)

	// Reconnecting must not replay a message that already has an ack.
	reconciler.OnUserOnline(2)
	if got := notifier.countFor(2, websocket.MessageTypeNewMessage); got != pushes {
		t.Errorf("Acked message was replayed: %d pushes, expected %d", got, pushes)
	}
	if got := notifier.countFor(1, websocket.MessageTypeDelayed); got != 0 {
		t.Errorf("Expected no delayed notes, got %d", got)
	}
}

// TestReconcilerIgnoresOwnMessages tests that a sender coming online does
// not receive their own parked messages
func TestReconcilerIgnoresOwnMessages(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepo()
	repo.setMembers(10, 1, 2)
	notifier := newFakeNotifier()
	tracker := NewTracker(repo, notifier, newFakeReach(), nil)
	reconciler := NewReconciler(repo, tracker, notifier)

	if _, err := tracker.Send(ctx, 1, models.SendMessageRequest{ChannelID: 10, Text: str("mine")}); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	reconciler.OnUserOnline(1)
	if got := notifier.countFor(1, websocket.MessageTypeNewMessage); got != 0 {
		t.Errorf("Sender received their own replay: %d pushes", got)
	}
}
