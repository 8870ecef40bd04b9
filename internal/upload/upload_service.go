package upload

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sync"
	"time"

	"chat-realtime/internal/adapters/kafka"
	"chat-realtime/internal/websocket"

	"github.com/google/uuid"
)

var (
	ErrSessionNotFound = errors.New("upload session not found")
	ErrBatchNotFound   = errors.New("batch not found")
)

// Notifier pushes upload progress envelopes to the owner's devices.
type Notifier interface {
	SendToUser(userID uint, data []byte)
}

// SweepConfig defines configuration for the abandoned-session sweep
type SweepConfig struct {
	// How often to run the sweep routine
	SweepInterval time.Duration

	// Maximum time a live session can go without an update before it is
	// cancelled and evicted
	InactivityTimeout time.Duration

	// How long a finished session remains queryable for late polling
	// clients before eviction
	RetentionWindow time.Duration
}

// DefaultSweepConfig returns the default sweep configuration
func DefaultSweepConfig() SweepConfig {
	return SweepConfig{
		SweepInterval:     5 * time.Minute,
		InactivityTimeout: time.Hour,
		RetentionWindow:   5 * time.Minute,
	}
}

// Manager owns all upload session state. Sessions are keyed by opaque
// upload id; batch members additionally index under their batch id.
// Mutations serialize on the manager mutex; notification and abort
// callbacks run outside it.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session
	batches  map[string]map[string]*Session

	notifier Notifier
	events   *kafka.EventPublisher

	config       SweepConfig
	stopSweep    chan struct{}
	sweepRunning bool
}

func NewManager(notifier Notifier, events *kafka.EventPublisher) *Manager {
	return NewManagerWithConfig(notifier, events, DefaultSweepConfig())
}

func NewManagerWithConfig(notifier Notifier, events *kafka.EventPublisher, config SweepConfig) *Manager {
	return &Manager{
		sessions:  make(map[string]*Session),
		batches:   make(map[string]map[string]*Session),
		notifier:  notifier,
		events:    events,
		config:    config,
		stopSweep: make(chan struct{}),
	}
}

// Begin registers a new session in `starting` state. The cancel handle
// aborts the in-flight transfer when the session is cancelled or swept.
func (m *Manager) Begin(ownerID uint, totalBytes int64, batchID string, fileIndex int, cancel context.CancelFunc) Session {
	now := time.Now()
	session := &Session{
		UploadID:   uuid.New().String(),
		BatchID:    batchID,
		FileIndex:  fileIndex,
		OwnerID:    ownerID,
		Status:     StatusStarting,
		TotalBytes: totalBytes,
		CreatedAt:  now,
		UpdatedAt:  now,
		cancel:     cancel,
	}

	m.mu.Lock()
	m.sessions[session.UploadID] = session
	if batchID != "" {
		if m.batches[batchID] == nil {
			m.batches[batchID] = make(map[string]*Session)
		}
		m.batches[batchID][session.UploadID] = session
	}
	snap := session.snapshot()
	m.mu.Unlock()

	slog.Debug("Upload session started", "uploadId", snap.UploadID, "batchId", batchID, "totalBytes", totalBytes)
	return snap
}

// ReportProgress updates transferred bytes and recomputes the percent.
// Progress for an unknown or already-terminal session is not honored.
func (m *Manager) ReportProgress(uploadID string, bytesTransferred, totalBytes int64) error {
	m.mu.Lock()
	session, ok := m.sessions[uploadID]
	if !ok {
		m.mu.Unlock()
		return ErrSessionNotFound
	}
	if session.Status.IsTerminal() {
		m.mu.Unlock()
		return nil
	}

	session.Status = StatusUploading
	session.BytesTransferred = bytesTransferred
	if totalBytes > 0 {
		session.TotalBytes = totalBytes
	}
	session.ProgressPercent = percentOf(bytesTransferred, session.TotalBytes)
	session.UpdatedAt = time.Now()

	snap := session.snapshot()
	batch, batchOK := m.batchProgressLocked(session.BatchID)
	m.mu.Unlock()

	m.notifyProgress(snap)
	if batchOK {
		m.notifyBatchProgress(snap.OwnerID, batch)
	}
	return nil
}

// Complete marks the session done and records the stored object reference.
// The session remains queryable for the retention window.
func (m *Manager) Complete(uploadID, resultURL, thumbnailURL string) error {
	return m.finish(uploadID, func(session *Session) {
		session.Status = StatusComplete
		session.ProgressPercent = 100
		session.BytesTransferred = session.TotalBytes
		session.ResultURL = resultURL
		session.ThumbnailURL = thumbnailURL
	})
}

// Fail marks the session errored; it is retained for inspection until the
// sweep evicts it.
func (m *Manager) Fail(uploadID, reason string) error {
	return m.finish(uploadID, func(session *Session) {
		session.Status = StatusError
		session.Reason = reason
	})
}

func (m *Manager) finish(uploadID string, apply func(*Session)) error {
	m.mu.Lock()
	session, ok := m.sessions[uploadID]
	if !ok {
		m.mu.Unlock()
		return ErrSessionNotFound
	}
	if session.Status.IsTerminal() {
		m.mu.Unlock()
		return nil
	}

	apply(session)
	session.UpdatedAt = time.Now()

	snap := session.snapshot()
	batch, batchOK := m.batchProgressLocked(session.BatchID)
	m.mu.Unlock()

	m.notifyProgress(snap)
	if batchOK {
		m.notifyBatchProgress(snap.OwnerID, batch)
	}
	m.events.Publish("upload."+string(snap.Status), snap.UploadID, snap)
	return nil
}

// Cancel aborts and removes sessions matched by the request: one upload,
// an entire batch, or one file within a batch. The returned count covers
// sessions that were still active; cancelling what is already finished or
// already removed is "nothing to cancel", never an error. Safe to call
// twice: the second call reports zero affected sessions.
func (m *Manager) Cancel(req CancelRequest) int {
	m.mu.Lock()
	var targets []*Session

	switch {
	case req.UploadID != "":
		if session, ok := m.sessions[req.UploadID]; ok {
			targets = append(targets, session)
		}
	case req.BatchID != "" && req.FileIndex != nil:
		for _, session := range m.batches[req.BatchID] {
			if session.FileIndex == *req.FileIndex {
				targets = append(targets, session)
			}
		}
	case req.BatchID != "":
		for _, session := range m.batches[req.BatchID] {
			targets = append(targets, session)
		}
	}

	affected := 0
	var aborts []context.CancelFunc
	for _, session := range targets {
		if !session.Status.IsTerminal() {
			affected++
			if session.cancel != nil {
				aborts = append(aborts, session.cancel)
			}
			session.Status = StatusCancelled
		}
		m.removeLocked(session)
	}
	m.mu.Unlock()

	// Abort handles are cooperative and may fire after the transfer
	// already finished; that is fine.
	for _, abort := range aborts {
		abort()
	}

	if len(targets) > 0 {
		slog.Info("Upload sessions cancelled", "affected", affected, "removed", len(targets))
	}
	return affected
}

// Remove evicts a single session without aborting anything, the explicit
// cleanup call clients make after consuming a final progress state.
func (m *Manager) Remove(uploadID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[uploadID]
	if !ok {
		return false
	}
	m.removeLocked(session)
	return true
}

// ProgressOf returns the current session state.
func (m *Manager) ProgressOf(uploadID string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[uploadID]
	if !ok {
		return Session{}, ErrSessionNotFound
	}
	return session.snapshot(), nil
}

// BatchProgressOf returns the aggregate over all member sessions.
func (m *Manager) BatchProgressOf(batchID string) (BatchProgress, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	progress, ok := m.batchProgressLocked(batchID)
	if !ok {
		return BatchProgress{}, ErrBatchNotFound
	}
	return progress, nil
}

// ActiveSessions counts sessions not yet in a terminal state.
func (m *Manager) ActiveSessions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, session := range m.sessions {
		if !session.Status.IsTerminal() {
			n++
		}
	}
	return n
}

// StartSweep launches the background sweep evicting abandoned and expired
// sessions.
func (m *Manager) StartSweep() {
	m.mu.Lock()
	if m.sweepRunning {
		m.mu.Unlock()
		return
	}
	m.sweepRunning = true
	m.mu.Unlock()

	go func() {
		ticker := time.NewTicker(m.config.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if n := m.sweep(); n > 0 {
					slog.Info("Swept upload sessions", "count", n)
				}
			case <-m.stopSweep:
				return
			}
		}
	}()
}

// StopSweep stops the background sweep routine.
func (m *Manager) StopSweep() {
	m.mu.Lock()
	if !m.sweepRunning {
		m.mu.Unlock()
		return
	}
	m.sweepRunning = false
	m.mu.Unlock()
	close(m.stopSweep)
}

// sweep evicts finished sessions past the retention window and cancels
// then evicts live sessions inactive beyond the timeout.
func (m *Manager) sweep() int {
	now := time.Now()

	m.mu.Lock()
	var evicted []*Session
	var aborts []context.CancelFunc
	for _, session := range m.sessions {
		age := now.Sub(session.UpdatedAt)
		if session.Status.IsTerminal() {
			if age > m.config.RetentionWindow {
				evicted = append(evicted, session)
			}
			continue
		}
		if age > m.config.InactivityTimeout {
			if session.cancel != nil {
				aborts = append(aborts, session.cancel)
			}
			session.Status = StatusCancelled
			evicted = append(evicted, session)
		}
	}
	for _, session := range evicted {
		m.removeLocked(session)
	}
	m.mu.Unlock()

	for _, abort := range aborts {
		abort()
	}
	return len(evicted)
}

func (m *Manager) removeLocked(session *Session) {
	delete(m.sessions, session.UploadID)
	if session.BatchID != "" {
		if members := m.batches[session.BatchID]; members != nil {
			delete(members, session.UploadID)
			if len(members) == 0 {
				delete(m.batches, session.BatchID)
			}
		}
	}
}

// batchProgressLocked aggregates a batch. Aggregate percent is the
// arithmetic mean of member percents.
func (m *Manager) batchProgressLocked(batchID string) (BatchProgress, bool) {
	if batchID == "" {
		return BatchProgress{}, false
	}
	members, ok := m.batches[batchID]
	if !ok || len(members) == 0 {
		return BatchProgress{}, false
	}

	progress := BatchProgress{BatchID: batchID, TotalFiles: len(members)}
	sum := 0
	for _, session := range members {
		sum += session.ProgressPercent
		switch session.Status {
		case StatusComplete:
			progress.CompletedFiles++
		case StatusError:
			progress.FailedFiles++
		case StatusCancelled:
			progress.CancelledFiles++
		}
	}
	progress.AggregatePercent = int(math.Round(float64(sum) / float64(len(members))))
	return progress, true
}

func (m *Manager) notifyProgress(snap Session) {
	if m.notifier == nil {
		return
	}
	msg := websocket.NewMessage(uuid.New().String(), websocket.MessageTypeUploadProgress, snap.OwnerID, map[string]interface{}{
		"upload_id":        snap.UploadID,
		"progress_percent": snap.ProgressPercent,
		"status":           snap.Status,
	})
	m.notifier.SendToUser(snap.OwnerID, msg.Encode())
}

func (m *Manager) notifyBatchProgress(ownerID uint, batch BatchProgress) {
	if m.notifier == nil {
		return
	}
	msg := websocket.NewMessage(uuid.New().String(), websocket.MessageTypeBatchProgress, ownerID, map[string]interface{}{
		"batch_id":         batch.BatchID,
		"progress_percent": batch.AggregatePercent,
		"completed_files":  batch.CompletedFiles,
		"total_files":      batch.TotalFiles,
	})
	m.notifier.SendToUser(ownerID, msg.Encode())
}

func percentOf(transferred, total int64) int {
	if total <= 0 {
		return 0
	}
	percent := int(math.Round(float64(transferred) / float64(total) * 100))
	if percent > 100 {
		percent = 100
	}
	return percent
}
