package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pot-code/training-progress/internal/infrastructure/driver"
	"github.com/pot-code/training-progress/internal/infrastructure/logging"
	"github.com/pot-code/training-progress/internal/infrastructure/uuid"
	"go.uber.org/zap"
)

// Event envelope of every published progress event
type Event struct {
	ID      string          `json:"id"`
	UserID  string          `json:"user_id"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
	At      time.Time       `json:"at"`
}

// Channel name of the per user event channel
func Channel(prefix, userID string) string {
	return fmt.Sprintf("%s.%s", prefix, userID)
}

// KVNotifier publishes events on the pub/sub channel of the key-value store
type KVNotifier struct {
	kv     driver.KeyValueDB
	uuid   uuid.Generator
	prefix string
	now    func() time.Time
}

// NewKVNotifier create a KVNotifier publishing to "<prefix>.<user id>"
func NewKVNotifier(kv driver.KeyValueDB, UUID uuid.Generator, prefix string) *KVNotifier {
	return &KVNotifier{
		kv:     kv,
		uuid:   UUID,
		prefix: prefix,
		now:    time.Now,
	}
}

// Notify publish one event
func (kn *KVNotifier) Notify(ctx context.Context, userID string, eventType string, payload interface{}) error {
	id, err := kn.uuid.Generate()
	if err != nil {
		return fmt.Errorf("failed to generate event id: %w", err)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode event payload: %w", err)
	}
	msg, err := json.Marshal(&Event{
		ID:      id,
		UserID:  userID,
		Type:    eventType,
		Payload: body,
		At:      kn.now().UTC(),
	})
	if err != nil {
		return err
	}

	channel := Channel(kn.prefix, userID)
	if err := kn.kv.Publish(ctx, channel, string(msg)); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", channel, err)
	}
	logging.ExtractLoggerFromContext(ctx).Debug("event published",
		zap.String("event.id", id),
		zap.String("event.type", eventType),
		zap.String("event.channel", channel),
	)
	return nil
}

// LogNotifier writes events to the log, used when no key-value store is configured
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier ...
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger}
}

// Notify log the event at info level
func (ln *LogNotifier) Notify(ctx context.Context, userID string, eventType string, payload interface{}) error {
	ln.logger.Info("progress event",
		zap.String("user.id", userID),
		zap.String("event.type", eventType),
		zap.Any("event.payload", payload),
	)
	return nil
}
