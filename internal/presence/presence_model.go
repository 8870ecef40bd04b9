package presence

import "time"

// UserPresenceState is the derived presence of one user. It is recomputed
// from connection counts, never mutated directly.
type UserPresenceState struct {
	UserID            uint      `json:"userId"`
	ActiveConnections int       `json:"activeConnections"`
	IsOnline          bool      `json:"isOnline"`
	LastSeenAt        time.Time `json:"lastSeenAt"`
}
