package presence

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"chat-realtime/internal/adapters/kafka"
	"chat-realtime/internal/websocket"

	"github.com/google/uuid"
)

// Broadcaster pushes presence edges to every connected peer.
type Broadcaster interface {
	BroadcastAll(data []byte)
}

// ConnectionCounter exposes the registry's live connection count. The
// count carried by a change notification can arrive out of order when
// registrations race, so transitions re-read the authoritative count
// instead of trusting the notification payload.
type ConnectionCounter interface {
	ActiveCountFor(userID uint) int
}

// StatusStore mirrors presence into a shared store so other instances and
// plain HTTP callers can query it. Mirror failures never fail a transition.
type StatusStore interface {
	SetUserOnline(ctx context.Context, userID uint) error
	SetUserOffline(ctx context.Context, userID uint, lastSeen time.Time) error
}

// OnlineHook observes online edges. Hooks run in their own goroutine so a
// slow consumer (the reconciler hits the store) cannot stall transitions.
type OnlineHook func(userID uint)

type userState struct {
	count           int
	isOnline        bool
	lastSeenAt      time.Time
	lastSeenWriteAt time.Time
}

// PresenceService turns raw connection counts into the single source of
// truth for "is this user online" and broadcasts transitions exactly once
// per edge. The invariant is isOnline == (count > 0); heartbeats never
// force a transition the count alone does not justify.
type PresenceService struct {
	mu     sync.Mutex
	states map[uint]*userState

	counts      ConnectionCounter
	broadcaster Broadcaster
	store       StatusStore
	events      *kafka.EventPublisher
	hooks       []OnlineHook

	// Minimum gap between heartbeat-driven lastSeen refreshes
	lastSeenRefresh time.Duration
}

func NewPresenceService(counts ConnectionCounter, broadcaster Broadcaster, store StatusStore, events *kafka.EventPublisher, lastSeenRefresh time.Duration) *PresenceService {
	if lastSeenRefresh <= 0 {
		lastSeenRefresh = time.Minute
	}
	return &PresenceService{
		states:          make(map[uint]*userState),
		counts:          counts,
		broadcaster:     broadcaster,
		store:           store,
		events:          events,
		lastSeenRefresh: lastSeenRefresh,
	}
}

// RegisterOnlineHook adds an observer for online edges. Not safe to call
// after traffic starts.
func (s *PresenceService) RegisterOnlineHook(hook OnlineHook) {
	s.hooks = append(s.hooks, hook)
}

// OnConnectionCountChanged recomputes presence for one user. The
// registry fires this after releasing its own lock, so two racing
// notifications can arrive with their counts swapped; when a counter
// is wired the count is re-read under the service mutex, and the last
// notification to run always settles on the registry's current value.
func (s *PresenceService) OnConnectionCountChanged(userID uint, newCount int) {
	now := time.Now()

	s.mu.Lock()
	if s.counts != nil {
		newCount = s.counts.ActiveCountFor(userID)
	}
	if newCount < 0 {
		// Registry guarantees non-negative counts; guard anyway.
		newCount = 0
	}
	shouldBeOnline := newCount > 0

	state, ok := s.states[userID]
	if !ok {
		state = &userState{}
		s.states[userID] = state
	}
	state.count = newCount

	edge := state.isOnline != shouldBeOnline
	if !edge {
		s.mu.Unlock()
		return
	}

	state.isOnline = shouldBeOnline
	if !shouldBeOnline {
		state.lastSeenAt = now
	}
	lastSeen := state.lastSeenAt
	s.mu.Unlock()

	// Broadcast and mirror outside the lock.
	if shouldBeOnline {
		slog.Info("User transitioned online", "userID", userID, "activeCount", newCount)
		s.broadcast(websocket.MessageTypeUserOnline, userID, map[string]interface{}{
			"userId":      userID,
			"status_text": "Online",
		})
		if s.store != nil {
			if err := s.store.SetUserOnline(context.Background(), userID); err != nil {
				slog.Error("Failed to mirror online status", "userID", userID, "error", err)
			}
		}
		s.events.Publish("presence.online", fmt.Sprintf("%d", userID), map[string]interface{}{"userId": userID})
		for _, hook := range s.hooks {
			go hook(userID)
		}
	} else {
		slog.Info("User transitioned offline", "userID", userID, "lastSeen", lastSeen)
		s.broadcast(websocket.MessageTypeUserOffline, userID, map[string]interface{}{
			"userId":      userID,
			"last_seen":   lastSeen.Unix(),
			"status_text": StatusText(false, lastSeen),
		})
		if s.store != nil {
			if err := s.store.SetUserOffline(context.Background(), userID, lastSeen); err != nil {
				slog.Error("Failed to mirror offline status", "userID", userID, "error", err)
			}
		}
		s.events.Publish("presence.offline", fmt.Sprintf("%d", userID), map[string]interface{}{
			"userId":   userID,
			"lastSeen": lastSeen.Unix(),
		})
	}
}

// RefreshLastSeen silently updates lastSeen for an online user, at most
// once per refresh window, so "last seen" stays accurate if the process
// crashes without offline transitions. No broadcast happens here.
func (s *PresenceService) RefreshLastSeen(userID uint) {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.states[userID]
	if !ok || !state.isOnline {
		return
	}
	if now.Sub(state.lastSeenWriteAt) < s.lastSeenRefresh {
		return
	}
	state.lastSeenAt = now
	state.lastSeenWriteAt = now
}

// Get returns the derived presence state for a user. Users never seen
// report offline with a zero lastSeen.
func (s *PresenceService) Get(userID uint) UserPresenceState {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.states[userID]
	if !ok {
		return UserPresenceState{UserID: userID}
	}
	return UserPresenceState{
		UserID:            userID,
		ActiveConnections: state.count,
		IsOnline:          state.isOnline,
		LastSeenAt:        state.lastSeenAt,
	}
}

// IsOnline reports the broadcast online state for a user.
func (s *PresenceService) IsOnline(userID uint) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.states[userID]
	return ok && state.isOnline
}

func (s *PresenceService) broadcast(msgType websocket.MessageType, userID uint, data map[string]interface{}) {
	if s.broadcaster == nil {
		return
	}
	msg := websocket.NewMessage(uuid.New().String(), msgType, userID, data)
	s.broadcaster.BroadcastAll(msg.Encode())
}

// StatusText renders the human-readable presence line clients display.
func StatusText(isOnline bool, lastSeen time.Time) string {
	if isOnline {
		return "Online"
	}
	if lastSeen.IsZero() {
		return "Offline"
	}

	elapsed := time.Since(lastSeen)
	switch {
	case elapsed < time.Minute:
		return "Last seen just now"
	case elapsed < time.Hour:
		minutes := int(elapsed.Minutes())
		if minutes == 1 {
			return "Last seen 1 minute ago"
		}
		return fmt.Sprintf("Last seen %d minutes ago", minutes)
	case elapsed < 24*time.Hour:
		hours := int(elapsed.Hours())
		if hours == 1 {
			return "Last seen 1 hour ago"
		}
		return fmt.Sprintf("Last seen %d hours ago", hours)
	default:
		days := int(elapsed.Hours() / 24)
		if days == 1 {
			return "Last seen 1 day ago"
		}
		return fmt.Sprintf("Last seen %d days ago", days)
	}
}
