package upload

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"chat-realtime/internal/websocket"
)

type fakeNotifier struct {
	mu   sync.Mutex
	sent map[uint][]websocket.Message
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{sent: make(map[uint][]websocket.Message)}
}

func (f *fakeNotifier) SendToUser(userID uint, data []byte) {
	var msg websocket.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		panic(err)
	}
	f.mu.Lock()
	f.sent[userID] = append(f.sent[userID], msg)
	f.mu.Unlock()
}

func (f *fakeNotifier) progressValues(userID uint) []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []int
	for _, msg := range f.sent[userID] {
		if msg.Type != websocket.MessageTypeUploadProgress {
			continue
		}
		if percent, ok := msg.Data["progress_percent"].(float64); ok {
			out = append(out, int(percent))
		}
	}
	return out
}

// TestUploadProgressLifecycle tests the begin/progress/complete/remove flow
func TestUploadProgressLifecycle(t *testing.T) {
	notifier := newFakeNotifier()
	manager := NewManager(notifier, nil)

	session := manager.Begin(1, 1000, "", 0, nil)
	if session.Status != StatusStarting {
		t.Fatalf("Expected starting status, got %s", session.Status)
	}

	for _, transferred := range []int64{100, 550, 1000} {
		if err := manager.ReportProgress(session.UploadID, transferred, 1000); err != nil {
			t.Fatalf("ReportProgress failed: %v", err)
		}
	}

	t.Run("ProgressSequenceReachesOwner", func(t *testing.T) {
		values := notifier.progressValues(1)
		expected := []int{10, 55, 100}
		if len(values) != len(expected) {
			t.Fatalf("Expected %d progress messages, got %d", len(expected), len(values))
		}
		for i, want := range expected {
			if values[i] != want {
				t.Errorf("Progress %d: expected %d percent, got %d", i, want, values[i])
			}
		}
	})

	t.Run("CompleteRecordsResult", func(t *testing.T) {
		if err := manager.Complete(session.UploadID, "http://store/obj", ""); err != nil {
			t.Fatalf("Complete failed: %v", err)
		}
		got, err := manager.ProgressOf(session.UploadID)
		if err != nil {
			t.Fatalf("ProgressOf failed: %v", err)
		}
		if got.Status != StatusComplete || got.ProgressPercent != 100 || got.ResultURL != "http://store/obj" {
			t.Errorf("Unexpected final session: %+v", got)
		}
	})

	t.Run("ProgressAfterTerminalIsIgnored", func(t *testing.T) {
		if err := manager.ReportProgress(session.UploadID, 500, 1000); err != nil {
			t.Fatalf("ReportProgress errored on terminal session: %v", err)
		}
		got, _ := manager.ProgressOf(session.UploadID)
		if got.Status != StatusComplete || got.ProgressPercent != 100 {
			t.Errorf("Terminal session mutated: %+v", got)
		}
	})

	t.Run("RemoveEvictsTracking", func(t *testing.T) {
		if !manager.Remove(session.UploadID) {
			t.Fatal("Remove should report true for a tracked session")
		}
		if _, err := manager.ProgressOf(session.UploadID); err != ErrSessionNotFound {
			t.Errorf("Expected ErrSessionNotFound after removal, got %v", err)
		}
		if manager.Remove(session.UploadID) {
			t.Error("Second Remove should report false")
		}
	})
}

// TestUploadCancel tests the three cancellation addressing modes
func TestUploadCancel(t *testing.T) {
	t.Run("SingleUpload", func(t *testing.T) {
		manager := NewManager(nil, nil)
		aborted := false
		_, cancel := context.WithCancel(context.Background())
		session := manager.Begin(1, 100, "", 0, func() { aborted = true; cancel() })

		if affected := manager.Cancel(CancelRequest{UploadID: session.UploadID}); affected != 1 {
			t.Fatalf("Expected 1 affected session, got %d", affected)
		}
		if !aborted {
			t.Error("Cancel should fire the abort handle")
		}
		if _, err := manager.ProgressOf(session.UploadID); err != ErrSessionNotFound {
			t.Errorf("Cancelled session should be evicted, got %v", err)
		}

		// Safe-to-call-twice: nothing left to cancel.
		if affected := manager.Cancel(CancelRequest{UploadID: session.UploadID}); affected != 0 {
			t.Errorf("Second cancel affected %d sessions, expected 0", affected)
		}
	})

	t.Run("WholeBatch", func(t *testing.T) {
		manager := NewManager(nil, nil)
		for i := 0; i < 3; i++ {
			manager.Begin(1, 100, "batch-1", i, nil)
		}

		if affected := manager.Cancel(CancelRequest{BatchID: "batch-1"}); affected != 3 {
			t.Fatalf("Expected 3 affected sessions, got %d", affected)
		}
		if _, err := manager.BatchProgressOf("batch-1"); err != ErrBatchNotFound {
			t.Errorf("Cancelled batch should be gone, got %v", err)
		}
		if affected := manager.Cancel(CancelRequest{BatchID: "batch-1"}); affected != 0 {
			t.Errorf("Second batch cancel affected %d sessions, expected 0", affected)
		}
	})

	t.Run("SingleFileInBatch", func(t *testing.T) {
		manager := NewManager(nil, nil)
		for i := 0; i < 3; i++ {
			manager.Begin(1, 100, "batch-2", i, nil)
		}

		index := 1
		if affected := manager.Cancel(CancelRequest{BatchID: "batch-2", FileIndex: &index}); affected != 1 {
			t.Fatalf("Expected 1 affected session, got %d", affected)
		}
		progress, err := manager.BatchProgressOf("batch-2")
		if err != nil {
			t.Fatalf("BatchProgressOf failed: %v", err)
		}
		if progress.TotalFiles != 2 {
			t.Errorf("Expected 2 remaining members, got %d", progress.TotalFiles)
		}
	})

	t.Run("FinishedSessionNotCounted", func(t *testing.T) {
		manager := NewManager(nil, nil)
		session := manager.Begin(1, 100, "", 0, nil)
		if err := manager.Complete(session.UploadID, "url", ""); err != nil {
			t.Fatalf("Complete failed: %v", err)
		}

		// The entry is still removed, but a finished upload is "nothing to
		// cancel" for the affected count.
		if affected := manager.Cancel(CancelRequest{UploadID: session.UploadID}); affected != 0 {
			t.Errorf("Cancelling a finished session affected %d, expected 0", affected)
		}
		if _, err := manager.ProgressOf(session.UploadID); err != ErrSessionNotFound {
			t.Errorf("Entry should still be evicted, got %v", err)
		}
	})

	t.Run("UnknownTargets", func(t *testing.T) {
		manager := NewManager(nil, nil)
		if affected := manager.Cancel(CancelRequest{UploadID: "nope"}); affected != 0 {
			t.Errorf("Unknown upload id affected %d, expected 0", affected)
		}
		if affected := manager.Cancel(CancelRequest{BatchID: "nope"}); affected != 0 {
			t.Errorf("Unknown batch id affected %d, expected 0", affected)
		}
	})
}

// TestBatchAggregation tests the derived batch progress
func TestBatchAggregation(t *testing.T) {
	notifier := newFakeNotifier()
	manager := NewManager(notifier, nil)

	a := manager.Begin(1, 1000, "batch", 0, nil)
	b := manager.Begin(1, 1000, "batch", 1, nil)
	c := manager.Begin(1, 1000, "batch", 2, nil)

	if err := manager.ReportProgress(a.UploadID, 1000, 1000); err != nil {
		t.Fatal(err)
	}
	if err := manager.ReportProgress(b.UploadID, 500, 1000); err != nil {
		t.Fatal(err)
	}
	if err := manager.ReportProgress(c.UploadID, 100, 1000); err != nil {
		t.Fatal(err)
	}

	progress, err := manager.BatchProgressOf("batch")
	if err != nil {
		t.Fatalf("BatchProgressOf failed: %v", err)
	}
	if progress.TotalFiles != 3 {
		t.Errorf("Expected 3 members, got %d", progress.TotalFiles)
	}
	// (100 + 50 + 10) / 3 rounds to 53.
	if progress.AggregatePercent != 53 {
		t.Errorf("Expected aggregate 53, got %d", progress.AggregatePercent)
	}

	t.Run("CompletionCounts", func(t *testing.T) {
		if err := manager.Complete(a.UploadID, "url-a", ""); err != nil {
			t.Fatal(err)
		}
		if err := manager.Fail(b.UploadID, "disk full"); err != nil {
			t.Fatal(err)
		}

		progress, err := manager.BatchProgressOf("batch")
		if err != nil {
			t.Fatalf("BatchProgressOf failed: %v", err)
		}
		if progress.CompletedFiles != 1 || progress.FailedFiles != 1 {
			t.Errorf("Expected 1 completed and 1 failed, got %d/%d", progress.CompletedFiles, progress.FailedFiles)
		}
	})

	t.Run("BatchEnvelopesReachOwner", func(t *testing.T) {
		notifier.mu.Lock()
		defer notifier.mu.Unlock()
		batchMsgs := 0
		for _, msg := range notifier.sent[1] {
			if msg.Type == websocket.MessageTypeBatchProgress {
				batchMsgs++
			}
		}
		if batchMsgs == 0 {
			t.Error("Expected batch progress envelopes alongside per-file ones")
		}
	})
}

// TestUploadSweep tests eviction of abandoned and expired sessions
func TestUploadSweep(t *testing.T) {
	manager := NewManagerWithConfig(nil, nil, SweepConfig{
		SweepInterval:     time.Hour,
		InactivityTimeout: time.Minute,
		RetentionWindow:   time.Minute,
	})

	abandoned := manager.Begin(1, 100, "", 0, nil)
	finished := manager.Begin(1, 100, "", 0, nil)
	fresh := manager.Begin(1, 100, "", 0, nil)

	if err := manager.Complete(finished.UploadID, "url", ""); err != nil {
		t.Fatal(err)
	}

	// Age the first two past their windows.
	manager.mu.Lock()
	manager.sessions[abandoned.UploadID].UpdatedAt = time.Now().Add(-2 * time.Minute)
	manager.sessions[finished.UploadID].UpdatedAt = time.Now().Add(-2 * time.Minute)
	manager.mu.Unlock()

	if n := manager.sweep(); n != 2 {
		t.Fatalf("Expected 2 evicted sessions, got %d", n)
	}
	if _, err := manager.ProgressOf(abandoned.UploadID); err != ErrSessionNotFound {
		t.Error("Abandoned session should be evicted")
	}
	if _, err := manager.ProgressOf(finished.UploadID); err != ErrSessionNotFound {
		t.Error("Expired finished session should be evicted")
	}
	if _, err := manager.ProgressOf(fresh.UploadID); err != nil {
		t.Errorf("Fresh session should survive the sweep: %v", err)
	}
}

// TestActiveSessions tests the active session count
func TestActiveSessions(t *testing.T) {
	manager := NewManager(nil, nil)
	a := manager.Begin(1, 100, "", 0, nil)
	manager.Begin(1, 100, "", 0, nil)

	if got := manager.ActiveSessions(); got != 2 {
		t.Fatalf("Expected 2 active sessions, got %d", got)
	}
	if err := manager.Complete(a.UploadID, "url", ""); err != nil {
		t.Fatal(err)
	}
	if got := manager.ActiveSessions(); got != 1 {
		t.Errorf("Expected 1 active session after completion, got %d", got)
	}
}
