package websocket

import (
	"sync"
	"testing"
	"time"
)

// TestRegistryCountTracking tests per-user connection counting
func TestRegistryCountTracking(t *testing.T) {
	registry := NewConnectionRegistry()

	t.Run("RegisterIncrementsCount", func(t *testing.T) {
		if count := registry.Register("conn-1", 1); count != 1 {
			t.Errorf("Expected count 1 after first register, got %d", count)
		}
		if count := registry.Register("conn-2", 1); count != 2 {
			t.Errorf("Expected count 2 after second register, got %d", count)
		}
		if count := registry.Register("conn-3", 2); count != 1 {
			t.Errorf("Expected count 1 for a different user, got %d", count)
		}
	})

	t.Run("UnregisterDecrementsCount", func(t *testing.T) {
		if count := registry.Unregister("conn-1"); count != 1 {
			t.Errorf("Expected count 1 after unregister, got %d", count)
		}
		if count := registry.Unregister("conn-2"); count != 0 {
			t.Errorf("Expected count 0 after last unregister, got %d", count)
		}
		if registry.IsReachable(1) {
			t.Error("User 1 should not be reachable with zero connections")
		}
		if !registry.IsReachable(2) {
			t.Error("User 2 should still be reachable")
		}
	})

	t.Run("UnregisterUnknownIsIdempotent", func(t *testing.T) {
		// Second removal of the same id must not drive the count negative
		// and must not fire the listener again.
		fired := 0
		registry.SetCountListener(func(userID uint, newCount int) {
			fired++
			if newCount < 0 {
				t.Errorf("Count went negative: %d", newCount)
			}
		})

		registry.Unregister("conn-1")
		registry.Unregister("never-registered")
		if fired != 0 {
			t.Errorf("Listener fired %d times for unknown ids, expected 0", fired)
		}
		registry.SetCountListener(nil)
	})
}

// TestRegistryListener tests that count changes reach the listener with
// the post-change count
func TestRegistryListener(t *testing.T) {
	registry := NewConnectionRegistry()

	type change struct {
		userID uint
		count  int
	}
	var mu sync.Mutex
	var changes []change
	registry.SetCountListener(func(userID uint, newCount int) {
		mu.Lock()
		changes = append(changes, change{userID, newCount})
		mu.Unlock()
	})

	registry.Register("a", 7)
	registry.Register("b", 7)
	registry.Unregister("a")
	registry.Unregister("b")

	expected := []change{{7, 1}, {7, 2}, {7, 1}, {7, 0}}
	mu.Lock()
	defer mu.Unlock()
	if len(changes) != len(expected) {
		t.Fatalf("Expected %d listener calls, got %d", len(expected), len(changes))
	}
	for i, want := range expected {
		if changes[i] != want {
			t.Errorf("Change %d: expected %+v, got %+v", i, want, changes[i])
		}
	}
}

// TestRegistryHeartbeat tests heartbeat bookkeeping
func TestRegistryHeartbeat(t *testing.T) {
	registry := NewConnectionRegistry()
	registry.Register("conn-1", 1)

	before, _ := registry.Record("conn-1")
	time.Sleep(10 * time.Millisecond)
	registry.Heartbeat("conn-1")

	after, ok := registry.Record("conn-1")
	if !ok {
		t.Fatal("Connection record should exist")
	}
	if !after.LastHeartbeatAt.After(before.LastHeartbeatAt) {
		t.Error("LastHeartbeatAt should advance on heartbeat")
	}

	// Heartbeat for a connection that already disconnected is a no-op.
	registry.Heartbeat("gone")
}

// TestRegistryStaleSweep tests that connections without recent heartbeats
// are force-unregistered through the normal path
func TestRegistryStaleSweep(t *testing.T) {
	registry := NewConnectionRegistryWithConfig(RegistrySweepConfig{
		SweepInterval: time.Hour,
		StaleTimeout:  time.Minute,
	})

	var mu sync.Mutex
	var lastCount = -1
	registry.SetCountListener(func(userID uint, newCount int) {
		mu.Lock()
		lastCount = newCount
		mu.Unlock()
	})

	registry.Register("stale", 1)
	registry.Register("fresh", 1)
	registry.setLastHeartbeat("stale", time.Now().Add(-2*time.Minute))

	if n := registry.sweepStaleConnections(); n != 1 {
		t.Fatalf("Expected 1 swept connection, got %d", n)
	}
	if registry.ActiveCountFor(1) != 1 {
		t.Errorf("Expected 1 remaining connection, got %d", registry.ActiveCountFor(1))
	}
	mu.Lock()
	if lastCount != 1 {
		t.Errorf("Listener should see count 1 after sweep, got %d", lastCount)
	}
	mu.Unlock()

	if _, ok := registry.Record("stale"); ok {
		t.Error("Swept connection record should be gone")
	}
	if _, ok := registry.Record("fresh"); !ok {
		t.Error("Fresh connection record should remain")
	}
}

// TestRegistryConnectionsFor tests the per-user connection id listing
func TestRegistryConnectionsFor(t *testing.T) {
	registry := NewConnectionRegistry()
	registry.Register("x", 3)
	registry.Register("y", 3)

	ids := registry.ConnectionsFor(3)
	if len(ids) != 2 {
		t.Fatalf("Expected 2 connection ids, got %d", len(ids))
	}
	seen := map[string]bool{}
	for _, id := range ids {
		seen[id] = true
	}
	if !seen["x"] || !seen["y"] {
		t.Errorf("Expected ids x and y, got %v", ids)
	}

	if ids := registry.ConnectionsFor(99); ids != nil {
		t.Errorf("Expected nil for unknown user, got %v", ids)
	}
}

// TestRegistryConcurrentChurn exercises register/unregister races
func TestRegistryConcurrentChurn(t *testing.T) {
	registry := NewConnectionRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id := string(rune('a'+n%26)) + "-conn"
			registry.Register(id, uint(n%5))
			registry.Heartbeat(id)
			registry.Unregister(id)
			registry.Unregister(id)
		}(i)
	}
	wg.Wait()

	for userID := uint(0); userID < 5; userID++ {
		if count := registry.ActiveCountFor(userID); count < 0 {
			t.Errorf("User %d count went negative: %d", userID, count)
		}
	}
}
