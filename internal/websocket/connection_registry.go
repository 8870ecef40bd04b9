package websocket

import (
	"log/slog"
	"sync"
	"time"
)

// ConnectionRecord stores liveness information for one transport socket.
type ConnectionRecord struct {
	ConnectionID    string    `json:"connectionId"`
	UserID          uint      `json:"userId"`
	ConnectedAt     time.Time `json:"connectedAt"`
	LastHeartbeatAt time.Time `json:"lastHeartbeatAt"`
}

// RegistrySweepConfig defines configuration for the stale-connection sweep
type RegistrySweepConfig struct {
	// How often to run the sweep routine
	SweepInterval time.Duration

	// Maximum time a connection can go without a heartbeat before being
	// force-unregistered, as if a disconnect occurred
	StaleTimeout time.Duration
}

// DefaultRegistrySweepConfig returns the default sweep configuration
func DefaultRegistrySweepConfig() RegistrySweepConfig {
	return RegistrySweepConfig{
		SweepInterval: 30 * time.Second,
		StaleTimeout:  60 * time.Second,
	}
}

// CountListener observes per-user connection count changes. Invoked
// outside the registry lock, so callbacks from racing register and
// unregister calls may be delivered out of order; consumers that need
// the exact current value should re-read ActiveCountFor.
type CountListener func(userID uint, newCount int)

// ConnectionRegistry is the authoritative mapping of userID to its set of
// live connections. All operations are idempotent for unknown ids:
// heartbeat/unregister of a removed connection is treated as already
// applied, never an error.
type ConnectionRegistry struct {
	mu        sync.RWMutex
	conns     map[string]*ConnectionRecord
	userConns map[uint]map[string]*ConnectionRecord

	listener CountListener

	sweepConfig  RegistrySweepConfig
	stopSweep    chan struct{}
	sweepRunning bool
}

// NewConnectionRegistry creates a registry with the default sweep configuration
func NewConnectionRegistry() *ConnectionRegistry {
	return NewConnectionRegistryWithConfig(DefaultRegistrySweepConfig())
}

// NewConnectionRegistryWithConfig creates a registry with a custom sweep configuration
func NewConnectionRegistryWithConfig(config RegistrySweepConfig) *ConnectionRegistry {
	return &ConnectionRegistry{
		conns:       make(map[string]*ConnectionRecord),
		userConns:   make(map[uint]map[string]*ConnectionRecord),
		sweepConfig: config,
		stopSweep:   make(chan struct{}),
	}
}

// SetCountListener registers the callback driven on every count change.
// Must be called before traffic starts; the registry does not lock around it.
func (r *ConnectionRegistry) SetCountListener(listener CountListener) {
	r.listener = listener
}

// Register adds a connection record and returns the new per-user count.
func (r *ConnectionRegistry) Register(connectionID string, userID uint) int {
	now := time.Now()

	r.mu.Lock()
	record := &ConnectionRecord{
		ConnectionID:    connectionID,
		UserID:          userID,
		ConnectedAt:     now,
		LastHeartbeatAt: now,
	}
	r.conns[connectionID] = record
	if r.userConns[userID] == nil {
		r.userConns[userID] = make(map[string]*ConnectionRecord)
	}
	r.userConns[userID][connectionID] = record
	count := len(r.userConns[userID])
	r.mu.Unlock()

	slog.Debug("Connection registered", "connectionId", connectionID, "userId", userID, "activeCount", count)

	if r.listener != nil {
		r.listener(userID, count)
	}
	return count
}

// Heartbeat refreshes the liveness timestamp for a connection. Unknown
// connections are a logged no-op: the heartbeat may have raced a disconnect.
func (r *ConnectionRegistry) Heartbeat(connectionID string) {
	r.mu.Lock()
	record, ok := r.conns[connectionID]
	if ok {
		record.LastHeartbeatAt = time.Now()
	}
	r.mu.Unlock()

	if !ok {
		slog.Debug("Heartbeat for unknown connection", "connectionId", connectionID)
	}
}

// Unregister removes a connection record and returns the post-removal
// per-user count. Unregistering an already-removed id returns the current
// count without error.
func (r *ConnectionRegistry) Unregister(connectionID string) int {
	r.mu.Lock()
	record, ok := r.conns[connectionID]
	if !ok {
		// Already applied; no listener fires and no state changes.
		r.mu.Unlock()
		return 0
	}
	delete(r.conns, connectionID)
	userID := record.UserID
	if conns := r.userConns[userID]; conns != nil {
		delete(conns, connectionID)
		if len(conns) == 0 {
			delete(r.userConns, userID)
		}
	}
	count := len(r.userConns[userID])
	r.mu.Unlock()

	slog.Debug("Connection unregistered", "connectionId", connectionID, "userId", userID, "activeCount", count)

	if r.listener != nil {
		r.listener(userID, count)
	}
	return count
}

// ActiveCountFor returns the number of live connections for a user.
func (r *ConnectionRegistry) ActiveCountFor(userID uint) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.userConns[userID])
}

// IsReachable reports whether the user has at least one live connection.
func (r *ConnectionRegistry) IsReachable(userID uint) bool {
	return r.ActiveCountFor(userID) > 0
}

// ConnectionsFor returns the connection ids of a user's live sockets.
func (r *ConnectionRegistry) ConnectionsFor(userID uint) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conns := r.userConns[userID]
	if len(conns) == 0 {
		return nil
	}
	ids := make([]string, 0, len(conns))
	for id := range conns {
		ids = append(ids, id)
	}
	return ids
}

// Record returns a copy of the record for a connection, if known.
func (r *ConnectionRegistry) Record(connectionID string) (ConnectionRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	record, ok := r.conns[connectionID]
	if !ok {
		return ConnectionRecord{}, false
	}
	return *record, true
}

// StartSweep launches the background sweep that force-unregisters
// connections whose last heartbeat is older than the stale timeout. Clients
// that crash without a disconnect frame are caught here.
func (r *ConnectionRegistry) StartSweep() {
	r.mu.Lock()
	if r.sweepRunning {
		r.mu.Unlock()
		return
	}
	r.sweepRunning = true
	r.mu.Unlock()

	go func() {
		ticker := time.NewTicker(r.sweepConfig.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if n := r.sweepStaleConnections(); n > 0 {
					slog.Info("Swept stale connections", "count", n)
				}
			case <-r.stopSweep:
				return
			}
		}
	}()
}

// StopSweep stops the background sweep routine.
func (r *ConnectionRegistry) StopSweep() {
	r.mu.Lock()
	if !r.sweepRunning {
		r.mu.Unlock()
		return
	}
	r.sweepRunning = false
	r.mu.Unlock()
	close(r.stopSweep)
}

// sweepStaleConnections collects stale ids under the read lock, then
// unregisters each one through the normal path so listeners fire.
func (r *ConnectionRegistry) sweepStaleConnections() int {
	cutoff := time.Now().Add(-r.sweepConfig.StaleTimeout)

	r.mu.RLock()
	var stale []string
	for id, record := range r.conns {
		if record.LastHeartbeatAt.Before(cutoff) {
			stale = append(stale, id)
		}
	}
	r.mu.RUnlock()

	for _, id := range stale {
		slog.Warn("Force-unregistering stale connection", "connectionId", id)
		r.Unregister(id)
	}
	return len(stale)
}

// setLastHeartbeat is a test hook for driving the sweep deterministically.
func (r *ConnectionRegistry) setLastHeartbeat(connectionID string, t time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if record, ok := r.conns[connectionID]; ok {
		record.LastHeartbeatAt = t
	}
}
