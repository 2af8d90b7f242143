package memory

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	devices "hemlarm-relay/internal/devices/domain"
)

func TestRegistryRegisterKeepsExistingName(t *testing.T) {
	registry := NewRegistry()
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	device, created, err := registry.Register("sensor-1", "", at)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if !created {
		t.Fatalf("expected created on first register")
	}
	if device.Name != "sensor-1" {
		t.Fatalf("expected name to default to id, got %q", device.Name)
	}

	again, created, err := registry.Register("sensor-1", "Hallway", at.Add(time.Second))
	if err != nil {
		t.Fatalf("register again: %v", err)
	}
	if created {
		t.Fatalf("expected created=false for known device")
	}
	if again.Name != "sensor-1" {
		t.Fatalf("expected stored name unchanged, got %q", again.Name)
	}
	if !again.LastSeen.Equal(at.Add(time.Second)) {
		t.Fatalf("expected last seen refreshed, got %s", again.LastSeen)
	}
}

func TestRegistryRejectsEmptyID(t *testing.T) {
	registry := NewRegistry()
	if _, err := registry.Upsert(devices.Update{ID: "  "}); !errors.Is(err, devices.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if _, _, err := registry.Register("", "x", time.Now()); !errors.Is(err, devices.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if registry.Len() != 0 {
		t.Fatalf("expected empty registry")
	}
}

func TestRegistryUpsertUpdatesOnlySuppliedFields(t *testing.T) {
	registry := NewRegistry()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	if _, err := registry.Upsert(devices.Update{
		ID:     "pico-2",
		Name:   "Garage",
		Motion: &devices.MotionSample{Distance: 21.5, At: base},
		SeenAt: base,
	}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	updated, err := registry.Upsert(devices.Update{ID: "pico-2", Status: "sleeping", SeenAt: base.Add(5 * time.Second)})
	if err != nil {
		t.Fatalf("upsert status: %v", err)
	}
	if updated.Name != "Garage" {
		t.Fatalf("expected name kept, got %q", updated.Name)
	}
	if updated.Status != "sleeping" {
		t.Fatalf("expected status sleeping, got %q", updated.Status)
	}
	if updated.LastMotionDistance == nil || *updated.LastMotionDistance != 21.5 {
		t.Fatalf("expected motion distance kept, got %v", updated.LastMotionDistance)
	}
}

func TestRegistryLastSeenIsMonotonic(t *testing.T) {
	registry := NewRegistry()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	_, _ = registry.Upsert(devices.Update{ID: "pico-3", SeenAt: base})
	device, _ := registry.Upsert(devices.Update{ID: "pico-3", SeenAt: base.Add(-time.Minute)})
	if !device.LastSeen.Equal(base) {
		t.Fatalf("expected last seen to stay at %s, got %s", base, device.LastSeen)
	}
}

func TestRegistryMarkStaleOnlyDemotesLiveDevices(t *testing.T) {
	registry := NewRegistry()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	_, _ = registry.Upsert(devices.Update{ID: "live", SeenAt: base})
	_, _ = registry.Upsert(devices.Update{ID: "sleeping", Status: "sleeping", SeenAt: base})
	_, _ = registry.Upsert(devices.Update{ID: "fresh", SeenAt: base.Add(time.Minute)})

	cutoff := base.Add(30 * time.Second)
	if device, ok := registry.MarkStale("live", cutoff); !ok || device.Status != devices.StatusDisconnected {
		t.Fatalf("expected live device demoted, got %+v ok=%v", device, ok)
	}
	if device, ok := registry.MarkStale("sleeping", cutoff); ok || device.Status != "sleeping" {
		t.Fatalf("expected explicit status kept, got %+v ok=%v", device, ok)
	}
	if _, ok := registry.MarkStale("fresh", cutoff); ok {
		t.Fatalf("expected fresh device to stay live")
	}
	if _, ok := registry.MarkStale("missing", cutoff); ok {
		t.Fatalf("expected unknown device ignored")
	}
}

func TestRegistryListKeepsInsertionOrderAndCopies(t *testing.T) {
	registry := NewRegistry()
	for _, id := range []string{"c", "a", "b"} {
		_, _ = registry.Upsert(devices.Update{ID: id, Motion: &devices.MotionSample{Distance: 1}})
	}
	list := registry.List()
	if len(list) != 3 || list[0].ID != "c" || list[1].ID != "a" || list[2].ID != "b" {
		t.Fatalf("unexpected order: %+v", list)
	}
	*list[0].LastMotionDistance = 99
	stored, _ := registry.Get("c")
	if *stored.LastMotionDistance != 1 {
		t.Fatalf("expected registry state isolated from returned copies")
	}

	registry.Clear()
	if got := registry.List(); len(got) != 0 {
		t.Fatalf("expected empty list after clear, got %d", len(got))
	}
}

func TestRegistryToggleArmed(t *testing.T) {
	registry := NewRegistry()
	if _, err := registry.ToggleArmed("nope"); !errors.Is(err, devices.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	_, _, _ = registry.Register("pico-9", "", time.Now())
	device, err := registry.ToggleArmed("pico-9")
	if err != nil {
		t.Fatalf("toggle: %v", err)
	}
	if device.Armed {
		t.Fatalf("expected disarmed after first toggle")
	}
}

func TestRegistryRestoreSkipsKnownDevices(t *testing.T) {
	registry := NewRegistry()
	_, _, _ = registry.Register("pico-1", "Live Name", time.Now())
	restored := registry.Restore([]devices.Device{
		{ID: "pico-1", Name: "Stored Name"},
		{ID: "pico-2", Status: devices.StatusDisconnected},
		{ID: ""},
	})
	if restored != 1 {
		t.Fatalf("expected 1 restored, got %d", restored)
	}
	device, _ := registry.Get("pico-1")
	if device.Name != "Live Name" {
		t.Fatalf("expected live record kept, got %q", device.Name)
	}
	device, _ = registry.Get("pico-2")
	if device.Name != "pico-2" {
		t.Fatalf("expected restored name default, got %q", device.Name)
	}
}

func TestRegistryConcurrentUpserts(t *testing.T) {
	registry := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("pico-%03d", i)
			for j := 0; j < 10; j++ {
				_, _ = registry.Upsert(devices.Update{ID: id, Motion: &devices.MotionSample{Distance: float64(j)}})
			}
		}(i)
	}
	wg.Wait()
	if got := registry.Len(); got != 100 {
		t.Fatalf("expected 100 devices, got %d", got)
	}
	if got := len(registry.List()); got != 100 {
		t.Fatalf("expected 100 listed devices, got %d", got)
	}
}
