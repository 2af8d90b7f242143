package dynamo

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	devices "hemlarm-relay/internal/devices/domain"
	motionlog "hemlarm-relay/internal/motionlog/domain"
)

// fakeAPI keeps items per table and splits scans into single-item pages.
type fakeAPI struct {
	mu        sync.Mutex
	updates   []*dynamodb.UpdateItemInput
	puts      []*dynamodb.PutItemInput
	deletes   []*dynamodb.DeleteItemInput
	scanned   int
	tables    map[string][]map[string]types.AttributeValue
	updateErr error
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{tables: make(map[string][]map[string]types.AttributeValue)}
}

func (f *fakeAPI) UpdateItem(_ context.Context, params *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, params)
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	return &dynamodb.UpdateItemOutput{}, nil
}

func (f *fakeAPI) PutItem(_ context.Context, params *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.puts = append(f.puts, params)
	table := aws.ToString(params.TableName)
	f.tables[table] = append(f.tables[table], params.Item)
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeAPI) DeleteItem(_ context.Context, params *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, params)
	return &dynamodb.DeleteItemOutput{}, nil
}

func (f *fakeAPI) Scan(_ context.Context, params *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scanned++
	items := f.tables[aws.ToString(params.TableName)]
	start := 0
	if params.ExclusiveStartKey != nil {
		if cursor, ok := params.ExclusiveStartKey["cursor"].(*types.AttributeValueMemberN); ok {
			start, _ = strconv.Atoi(cursor.Value)
		}
	}
	if start >= len(items) {
		return &dynamodb.ScanOutput{}, nil
	}
	out := &dynamodb.ScanOutput{Items: items[start : start+1]}
	if start+1 < len(items) {
		out.LastEvaluatedKey = map[string]types.AttributeValue{
			"cursor": &types.AttributeValueMemberN{Value: strconv.Itoa(start + 1)},
		}
	}
	return out, nil
}

func TestSaveDeviceBuildsConditionalUpdate(t *testing.T) {
	api := newFakeAPI()
	sink, err := NewSink(api, "devices", "motion")
	if err != nil {
		t.Fatalf("new sink: %v", err)
	}
	seen := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	distance := 21.5
	device := devices.Device{
		ID:                 "sensor-1",
		Name:               "Porch",
		Status:             devices.StatusConnected,
		Armed:              true,
		LastMotionDistance: &distance,
		LastMotionTime:     &seen,
		LastSeen:           seen,
	}
	if err := sink.SaveDevice(context.Background(), device); err != nil {
		t.Fatalf("save device: %v", err)
	}
	if len(api.updates) != 1 {
		t.Fatalf("expected 1 update, got %d", len(api.updates))
	}
	input := api.updates[0]
	if aws.ToString(input.TableName) != "devices" {
		t.Fatalf("unexpected table: %s", aws.ToString(input.TableName))
	}
	if aws.ToString(input.ConditionExpression) != "attribute_not_exists(last_seen_at) OR last_seen_at <= :last_seen" {
		t.Fatalf("unexpected condition: %s", aws.ToString(input.ConditionExpression))
	}
	key, ok := input.Key["device_id"].(*types.AttributeValueMemberS)
	if !ok || key.Value != "sensor-1" {
		t.Fatalf("unexpected key: %#v", input.Key)
	}
	lastSeen, ok := input.ExpressionAttributeValues[":last_seen"].(*types.AttributeValueMemberN)
	if !ok || lastSeen.Value != strconv.FormatInt(seen.UnixMilli(), 10) {
		t.Fatalf("unexpected last_seen value: %#v", input.ExpressionAttributeValues[":last_seen"])
	}
	dist, ok := input.ExpressionAttributeValues[":distance"].(*types.AttributeValueMemberN)
	if !ok || dist.Value != "21.5" {
		t.Fatalf("unexpected distance value: %#v", input.ExpressionAttributeValues[":distance"])
	}
}

func TestSaveDeviceWithoutMotionOmitsMotionFields(t *testing.T) {
	api := newFakeAPI()
	sink, _ := NewSink(api, "devices", "motion")
	if err := sink.SaveDevice(context.Background(), devices.Device{ID: "sensor-2", Status: devices.StatusConnected, LastSeen: time.Now()}); err != nil {
		t.Fatalf("save device: %v", err)
	}
	if _, ok := api.updates[0].ExpressionAttributeValues[":distance"]; ok {
		t.Fatalf("expected no distance for device without motion")
	}
}

func TestSaveDeviceIgnoresStaleWrite(t *testing.T) {
	api := newFakeAPI()
	api.updateErr = &types.ConditionalCheckFailedException{Message: aws.String("stale")}
	sink, _ := NewSink(api, "devices", "motion")
	if err := sink.SaveDevice(context.Background(), devices.Device{ID: "sensor-1", LastSeen: time.Now()}); err != nil {
		t.Fatalf("expected stale write to be ignored, got %v", err)
	}

	api.updateErr = errors.New("throttled")
	if err := sink.SaveDevice(context.Background(), devices.Device{ID: "sensor-1", LastSeen: time.Now()}); err == nil {
		t.Fatalf("expected error to surface")
	}
	if err := sink.SaveDevice(context.Background(), devices.Device{}); !errors.Is(err, devices.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestAppendLogPutsItem(t *testing.T) {
	api := newFakeAPI()
	sink, _ := NewSink(api, "devices", "motion")
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	entry := motionlog.NewEntry("entry-1", devices.Device{ID: "sensor-1", Name: "Porch"}, 30, true, at)
	if err := sink.AppendLog(context.Background(), entry); err != nil {
		t.Fatalf("append log: %v", err)
	}
	if len(api.puts) != 1 || aws.ToString(api.puts[0].TableName) != "motion" {
		t.Fatalf("unexpected puts: %+v", api.puts)
	}
	var item logItem
	if err := attributevalue.UnmarshalMap(api.puts[0].Item, &item); err != nil {
		t.Fatalf("unmarshal item: %v", err)
	}
	if item.ID != "entry-1" || item.DeviceID != "sensor-1" || !item.AlarmActive || item.ReceivedAt != at.UnixMilli() {
		t.Fatalf("unexpected item: %+v", item)
	}
	if item.Message != "ALARM: Porch detected motion at 30.0 cm" {
		t.Fatalf("unexpected message: %q", item.Message)
	}
}

func TestLoadDevicesPaginates(t *testing.T) {
	api := newFakeAPI()
	sink, _ := NewSink(api, "devices", "motion")
	seen := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	distance := 5.0
	motion := seen.UnixMilli()
	for _, item := range []deviceItem{
		{DeviceID: "a", Name: "A", Status: devices.StatusConnected, Armed: true, LastSeenAt: seen.UnixMilli()},
		{DeviceID: "b", Name: "B", Status: devices.StatusDisconnected, LastMotionDistance: &distance, LastMotionTime: &motion, LastSeenAt: seen.UnixMilli()},
	} {
		av, err := attributevalue.MarshalMap(item)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		api.tables["devices"] = append(api.tables["devices"], av)
	}

	loaded, err := sink.LoadDevices(context.Background())
	if err != nil {
		t.Fatalf("load devices: %v", err)
	}
	if len(loaded) != 2 {
		t.Fatalf("expected 2 devices, got %d", len(loaded))
	}
	if api.scanned < 2 {
		t.Fatalf("expected paginated scan, got %d calls", api.scanned)
	}
	if loaded[0].LastMotionTime != nil || loaded[0].LastMotionDistance != nil {
		t.Fatalf("expected no motion on a: %+v", loaded[0])
	}
	if loaded[1].LastMotionTime == nil || !loaded[1].LastMotionTime.Equal(seen) || *loaded[1].LastMotionDistance != distance {
		t.Fatalf("unexpected motion on b: %+v", loaded[1])
	}
	if !loaded[0].LastSeen.Equal(seen) {
		t.Fatalf("unexpected last seen: %v", loaded[0].LastSeen)
	}
}

func TestClearLogsDeletesEveryKey(t *testing.T) {
	api := newFakeAPI()
	sink, _ := NewSink(api, "devices", "motion")
	device := devices.Device{ID: "sensor-1", Name: "Porch"}
	for i := 0; i < 3; i++ {
		entry := motionlog.NewEntry("entry-"+strconv.Itoa(i), device, 10, false, time.Now())
		if err := sink.AppendLog(context.Background(), entry); err != nil {
			t.Fatalf("append log: %v", err)
		}
	}
	if err := sink.ClearLogs(context.Background()); err != nil {
		t.Fatalf("clear logs: %v", err)
	}
	if len(api.deletes) != 3 {
		t.Fatalf("expected 3 deletes, got %d", len(api.deletes))
	}
	for i, input := range api.deletes {
		key, ok := input.Key["id"].(*types.AttributeValueMemberS)
		if !ok || key.Value != "entry-"+strconv.Itoa(i) {
			t.Fatalf("unexpected delete key: %#v", input.Key)
		}
	}
}

func TestNewSinkValidates(t *testing.T) {
	if _, err := NewSink(nil, "d", "l"); err == nil {
		t.Fatalf("expected error for nil client")
	}
	if _, err := NewSink(newFakeAPI(), "", "l"); err == nil {
		t.Fatalf("expected error for missing table")
	}
}
