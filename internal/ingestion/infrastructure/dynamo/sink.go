package dynamo

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	devices "hemlarm-relay/internal/devices/domain"
	motionlog "hemlarm-relay/internal/motionlog/domain"
)

const (
	deviceKey = "device_id"
	logKey    = "id"
)

// API is the subset of the DynamoDB client the sink uses.
type API interface {
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// NewClient builds a DynamoDB client from the default AWS credential chain.
func NewClient(ctx context.Context) (*dynamodb.Client, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("dynamo sink: load aws config: %w", err)
	}
	return dynamodb.NewFromConfig(cfg), nil
}

// Sink mirrors device state and motion events into two DynamoDB tables.
type Sink struct {
	client      API
	deviceTable string
	logTable    string
	now         func() time.Time
}

// NewSink constructs a sink. Both tables are required.
func NewSink(client API, deviceTable, logTable string) (*Sink, error) {
	if client == nil {
		return nil, errors.New("dynamo sink: nil client")
	}
	if deviceTable == "" || logTable == "" {
		return nil, errors.New("dynamo sink: device and log tables required")
	}
	return &Sink{client: client, deviceTable: deviceTable, logTable: logTable, now: time.Now}, nil
}

type deviceItem struct {
	DeviceID           string   `dynamodbav:"device_id"`
	Name               string   `dynamodbav:"name"`
	Status             string   `dynamodbav:"status"`
	Armed              bool     `dynamodbav:"armed"`
	LastMotionDistance *float64 `dynamodbav:"last_motion_distance,omitempty"`
	LastMotionTime     *int64   `dynamodbav:"last_motion_time,omitempty"`
	LastSeenAt         int64    `dynamodbav:"last_seen_at"`
}

type logItem struct {
	ID          string  `dynamodbav:"id"`
	DeviceID    string  `dynamodbav:"device_id"`
	Distance    float64 `dynamodbav:"distance"`
	AlarmActive bool    `dynamodbav:"alarm_active"`
	Message     string  `dynamodbav:"message"`
	ReceivedAt  int64   `dynamodbav:"received_at"`
}

// SaveDevice writes the device unless the table already holds a newer sighting.
func (s *Sink) SaveDevice(ctx context.Context, device devices.Device) error {
	if err := device.Validate(); err != nil {
		return err
	}
	update := "SET #name = :name, #status = :status, armed = :armed, last_seen_at = :last_seen, updated_at = :updated_at"
	values := map[string]types.AttributeValue{
		":name":       &types.AttributeValueMemberS{Value: device.Name},
		":status":     &types.AttributeValueMemberS{Value: device.Status},
		":armed":      &types.AttributeValueMemberBOOL{Value: device.Armed},
		":last_seen":  &types.AttributeValueMemberN{Value: strconv.FormatInt(device.LastSeen.UnixMilli(), 10)},
		":updated_at": &types.AttributeValueMemberN{Value: strconv.FormatInt(s.now().UnixMilli(), 10)},
	}
	if device.LastMotionDistance != nil && device.LastMotionTime != nil {
		update += ", last_motion_distance = :distance, last_motion_time = :motion_time"
		values[":distance"] = &types.AttributeValueMemberN{Value: strconv.FormatFloat(*device.LastMotionDistance, 'f', -1, 64)}
		values[":motion_time"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(device.LastMotionTime.UnixMilli(), 10)}
	}

	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.deviceTable),
		Key: map[string]types.AttributeValue{
			deviceKey: &types.AttributeValueMemberS{Value: device.ID},
		},
		ConditionExpression: aws.String("attribute_not_exists(last_seen_at) OR last_seen_at <= :last_seen"),
		UpdateExpression:    aws.String(update),
		ExpressionAttributeNames: map[string]string{
			"#name":   "name",
			"#status": "status",
		},
		ExpressionAttributeValues: values,
	})
	if err != nil {
		var conditionFailed *types.ConditionalCheckFailedException
		if errors.As(err, &conditionFailed) {
			return nil
		}
		return fmt.Errorf("dynamo sink: update device %s: %w", device.ID, err)
	}
	return nil
}

// AppendLog stores one motion event keyed by its id.
func (s *Sink) AppendLog(ctx context.Context, entry motionlog.Entry) error {
	if entry.ID == "" || entry.DeviceID == "" {
		return errors.New("dynamo sink: entry id and device id required")
	}
	item, err := attributevalue.MarshalMap(logItem{
		ID:          entry.ID,
		DeviceID:    entry.DeviceID,
		Distance:    entry.Distance,
		AlarmActive: entry.AlarmActive,
		Message:     entry.Message,
		ReceivedAt:  entry.ReceivedAt.UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("dynamo sink: marshal entry: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.logTable),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("dynamo sink: put entry %s: %w", entry.ID, err)
	}
	return nil
}

// ClearDevices removes every item from the device table.
func (s *Sink) ClearDevices(ctx context.Context) error {
	return s.deleteAll(ctx, s.deviceTable, deviceKey)
}

// ClearLogs removes every item from the log table.
func (s *Sink) ClearLogs(ctx context.Context) error {
	return s.deleteAll(ctx, s.logTable, logKey)
}

// LoadDevices scans the device table.
func (s *Sink) LoadDevices(ctx context.Context) ([]devices.Device, error) {
	var result []devices.Device
	paginator := dynamodb.NewScanPaginator(s.client, &dynamodb.ScanInput{TableName: aws.String(s.deviceTable)})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("dynamo sink: scan devices: %w", err)
		}
		var items []deviceItem
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &items); err != nil {
			return nil, fmt.Errorf("dynamo sink: unmarshal devices: %w", err)
		}
		for _, item := range items {
			result = append(result, item.toDevice())
		}
	}
	return result, nil
}

func (s *Sink) deleteAll(ctx context.Context, table, key string) error {
	paginator := dynamodb.NewScanPaginator(s.client, &dynamodb.ScanInput{
		TableName:                aws.String(table),
		ProjectionExpression:     aws.String("#k"),
		ExpressionAttributeNames: map[string]string{"#k": key},
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("dynamo sink: scan %s: %w", table, err)
		}
		for _, item := range page.Items {
			value, ok := item[key]
			if !ok {
				continue
			}
			_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
				TableName: aws.String(table),
				Key:       map[string]types.AttributeValue{key: value},
			})
			if err != nil {
				return fmt.Errorf("dynamo sink: delete from %s: %w", table, err)
			}
		}
	}
	return nil
}

func (item deviceItem) toDevice() devices.Device {
	device := devices.Device{
		ID:                 item.DeviceID,
		Name:               item.Name,
		Status:             item.Status,
		Armed:              item.Armed,
		LastMotionDistance: item.LastMotionDistance,
		LastSeen:           time.UnixMilli(item.LastSeenAt),
	}
	if item.LastMotionTime != nil {
		at := time.UnixMilli(*item.LastMotionTime)
		device.LastMotionTime = &at
	}
	return device
}
