package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	devices "hemlarm-relay/internal/devices/domain"
	motionlog "hemlarm-relay/internal/motionlog/domain"
)

func openTestSink(t *testing.T) *Sink {
	t.Helper()
	sink, err := Open(filepath.Join(t.TempDir(), "relay.db"))
	if err != nil {
		t.Fatalf("open sink: %v", err)
	}
	t.Cleanup(func() { _ = sink.Close() })
	return sink
}

func TestSinkSaveAndLoadDevices(t *testing.T) {
	sink := openTestSink(t)
	ctx := context.Background()
	seen := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	distance := 42.5

	device := devices.Device{
		ID:                 "sensor-1",
		Name:               "Porch",
		Status:             devices.StatusConnected,
		Armed:              false,
		LastMotionDistance: &distance,
		LastMotionTime:     &seen,
		LastSeen:           seen,
	}
	if err := sink.SaveDevice(ctx, device); err != nil {
		t.Fatalf("save device: %v", err)
	}
	if err := sink.SaveDevice(ctx, devices.Device{ID: "sensor-0", Name: "Hall", Status: devices.StatusDisconnected, Armed: true, LastSeen: seen}); err != nil {
		t.Fatalf("save device: %v", err)
	}

	loaded, err := sink.LoadDevices(ctx)
	if err != nil {
		t.Fatalf("load devices: %v", err)
	}
	if len(loaded) != 2 || loaded[0].ID != "sensor-0" || loaded[1].ID != "sensor-1" {
		t.Fatalf("unexpected devices: %+v", loaded)
	}
	got := loaded[1]
	if got.Name != "Porch" || got.Armed || got.Status != devices.StatusConnected {
		t.Fatalf("unexpected device: %+v", got)
	}
	if got.LastMotionDistance == nil || *got.LastMotionDistance != distance {
		t.Fatalf("unexpected distance: %v", got.LastMotionDistance)
	}
	if got.LastMotionTime == nil || !got.LastMotionTime.Equal(seen) {
		t.Fatalf("unexpected motion time: %v", got.LastMotionTime)
	}
	if !got.LastSeen.Equal(seen) {
		t.Fatalf("unexpected last seen: %v", got.LastSeen)
	}
	if loaded[0].LastMotionDistance != nil || loaded[0].LastMotionTime != nil {
		t.Fatalf("expected no motion for sensor-0: %+v", loaded[0])
	}
}

func TestSinkIgnoresOlderDeviceWrites(t *testing.T) {
	sink := openTestSink(t)
	ctx := context.Background()
	seen := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	if err := sink.SaveDevice(ctx, devices.Device{ID: "sensor-1", Name: "Porch", Status: devices.StatusConnected, Armed: true, LastSeen: seen}); err != nil {
		t.Fatalf("save device: %v", err)
	}
	if err := sink.SaveDevice(ctx, devices.Device{ID: "sensor-1", Name: "Porch", Status: devices.StatusDisconnected, Armed: true, LastSeen: seen.Add(-time.Minute)}); err != nil {
		t.Fatalf("save older device: %v", err)
	}
	loaded, err := sink.LoadDevices(ctx)
	if err != nil {
		t.Fatalf("load devices: %v", err)
	}
	if len(loaded) != 1 || loaded[0].Status != devices.StatusConnected {
		t.Fatalf("expected newer write to win, got %+v", loaded)
	}

	if err := sink.SaveDevice(ctx, devices.Device{ID: "sensor-1", Name: "Porch", Status: devices.StatusDisconnected, Armed: true, LastSeen: seen}); err != nil {
		t.Fatalf("save same-time device: %v", err)
	}
	loaded, err = sink.LoadDevices(ctx)
	if err != nil {
		t.Fatalf("load devices: %v", err)
	}
	if loaded[0].Status != devices.StatusDisconnected {
		t.Fatalf("expected equal last_seen to apply liveness demotion, got %s", loaded[0].Status)
	}
}

func TestSinkAppendAndClear(t *testing.T) {
	sink := openTestSink(t)
	ctx := context.Background()
	device := devices.Device{ID: "sensor-1", Name: "Porch"}
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	entry := motionlog.NewEntry("entry-1", device, 12, true, at)
	for i := 0; i < 2; i++ {
		if err := sink.AppendLog(ctx, entry); err != nil {
			t.Fatalf("append log: %v", err)
		}
	}
	if err := sink.AppendLog(ctx, motionlog.NewEntry("entry-2", device, 30, false, at.Add(time.Second))); err != nil {
		t.Fatalf("append log: %v", err)
	}
	count, err := sink.CountLogs(ctx)
	if err != nil {
		t.Fatalf("count logs: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 log rows, got %d", count)
	}
	if err := sink.AppendLog(ctx, motionlog.Entry{}); err == nil {
		t.Fatalf("expected error for empty entry")
	}

	if err := sink.ClearLogs(ctx); err != nil {
		t.Fatalf("clear logs: %v", err)
	}
	if count, _ := sink.CountLogs(ctx); count != 0 {
		t.Fatalf("expected logs cleared, got %d", count)
	}

	if err := sink.SaveDevice(ctx, devices.Device{ID: "sensor-1", Status: devices.StatusConnected, LastSeen: at}); err != nil {
		t.Fatalf("save device: %v", err)
	}
	if err := sink.ClearDevices(ctx); err != nil {
		t.Fatalf("clear devices: %v", err)
	}
	loaded, err := sink.LoadDevices(ctx)
	if err != nil {
		t.Fatalf("load devices: %v", err)
	}
	if len(loaded) != 0 {
		t.Fatalf("expected no devices, got %+v", loaded)
	}
}

func TestOpenRequiresPath(t *testing.T) {
	if _, err := Open(""); err == nil {
		t.Fatalf("expected error for empty path")
	}
}

func TestSinkRecentLogsReturnsNewestWindowOldestFirst(t *testing.T) {
	sink := openTestSink(t)
	ctx := context.Background()
	device := devices.Device{ID: "sensor-1", Name: "Porch"}
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	// Inserted out of order so ordering comes from received_at.
	entries := []motionlog.Entry{
		motionlog.NewEntry("entry-3", device, 10, true, at.Add(3*time.Second)),
		motionlog.NewEntry("entry-1", device, 11, false, at.Add(time.Second)),
		motionlog.NewEntry("entry-2", device, 12, false, at.Add(2*time.Second)),
	}
	for _, entry := range entries {
		if err := sink.AppendLog(ctx, entry); err != nil {
			t.Fatalf("append log: %v", err)
		}
	}

	recent, err := sink.RecentLogs(ctx, 2)
	if err != nil {
		t.Fatalf("recent logs: %v", err)
	}
	if len(recent) != 2 || recent[0].ID != "entry-2" || recent[1].ID != "entry-3" {
		t.Fatalf("unexpected recent logs: %+v", recent)
	}
	last := recent[1]
	if !last.ReceivedAt.Equal(at.Add(3*time.Second)) || !last.AlarmActive || last.Message == "" {
		t.Fatalf("unexpected entry fields: %+v", last)
	}
	if last.Timestamp != last.ReceivedAt.Local().Format(devices.DisplayTimeLayout) {
		t.Fatalf("unexpected display timestamp %q", last.Timestamp)
	}

	all, err := sink.RecentLogs(ctx, 0)
	if err != nil {
		t.Fatalf("recent logs default window: %v", err)
	}
	if len(all) != 3 || all[0].ID != "entry-1" {
		t.Fatalf("expected all entries oldest first, got %+v", all)
	}
}
