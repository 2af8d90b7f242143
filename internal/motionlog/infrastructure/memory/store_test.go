package memory

import (
	"fmt"
	"sync"
	"testing"

	motionlog "hemlarm-relay/internal/motionlog/domain"
)

func entry(i int) motionlog.Entry {
	return motionlog.Entry{DeviceID: fmt.Sprintf("E%d", i), Distance: float64(i)}
}

func TestStoreKeepsLastWindowInReceiptOrder(t *testing.T) {
	store := NewStore(50)
	for i := 1; i <= 60; i++ {
		store.Append(entry(i))
	}

	recent := store.Recent(50)
	if len(recent) != 50 {
		t.Fatalf("expected 50 entries, got %d", len(recent))
	}
	for i, got := range recent {
		want := fmt.Sprintf("E%d", i+11)
		if got.DeviceID != want {
			t.Fatalf("position %d: expected %s, got %s", i, want, got.DeviceID)
		}
	}
}

func TestStoreRecentLimits(t *testing.T) {
	store := NewStore(5)
	if got := store.Recent(10); len(got) != 0 {
		t.Fatalf("expected empty store, got %d", len(got))
	}
	for i := 1; i <= 3; i++ {
		store.Append(entry(i))
	}
	if got := store.Recent(10); len(got) != 3 || got[0].DeviceID != "E1" {
		t.Fatalf("expected all 3 entries oldest first, got %+v", got)
	}
	if got := store.Recent(2); len(got) != 2 || got[0].DeviceID != "E2" || got[1].DeviceID != "E3" {
		t.Fatalf("expected newest 2 oldest first, got %+v", got)
	}
	if got := store.Recent(0); len(got) != 3 {
		t.Fatalf("expected non-positive limit to return window, got %d", len(got))
	}
}

func TestStoreNeverExceedsWindow(t *testing.T) {
	store := NewStore(0)
	for i := 0; i < 500; i++ {
		store.Append(entry(i))
		if store.Len() > motionlog.DefaultWindow {
			t.Fatalf("store grew past window: %d", store.Len())
		}
	}
	if got := len(store.Recent(1000)); got != motionlog.DefaultWindow {
		t.Fatalf("expected %d entries, got %d", motionlog.DefaultWindow, got)
	}
}

func TestStoreClear(t *testing.T) {
	store := NewStore(3)
	for i := 0; i < 7; i++ {
		store.Append(entry(i))
	}
	store.Clear()
	if got := store.Recent(50); len(got) != 0 {
		t.Fatalf("expected empty after clear, got %d", len(got))
	}
	store.Append(entry(42))
	if got := store.Recent(50); len(got) != 1 || got[0].DeviceID != "E42" {
		t.Fatalf("expected store usable after clear, got %+v", got)
	}
}

func TestStoreConcurrentAppends(t *testing.T) {
	store := NewStore(1000)
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			store.Append(entry(i))
		}(i)
	}
	wg.Wait()
	if got := store.Len(); got != 100 {
		t.Fatalf("expected 100 entries, got %d", got)
	}
}
