package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type published struct {
	channel string
	message string
}

type fakeKV struct {
	published []published
	err       error
}

func (f *fakeKV) SetEX(ctx context.Context, key string, value string, expiration time.Duration) error {
	return nil
}

func (f *fakeKV) Exists(ctx context.Context, key string) (bool, error) {
	return false, nil
}

func (f *fakeKV) Publish(ctx context.Context, channel string, message string) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, published{channel, message})
	return nil
}

func (f *fakeKV) Subscribe(ctx context.Context, channel string) (<-chan string, func() error, error) {
	return nil, nil, errors.New("not supported")
}

func (f *fakeKV) Ping(ctx context.Context) error {
	return nil
}

type staticID string

func (s staticID) Generate() (string, error) {
	return string(s), nil
}

func TestKVNotifier_Notify(t *testing.T) {
	kv := new(fakeKV)
	n := NewKVNotifier(kv, staticID("evt-1"), "training.events")
	n.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }

	err := n.Notify(context.Background(), "u1", "training_completed", map[string]interface{}{
		"training_id": "t1",
		"score":       80,
	})
	require.NoError(t, err)
	require.Len(t, kv.published, 1)
	assert.Equal(t, "training.events.u1", kv.published[0].channel)

	var evt Event
	require.NoError(t, json.Unmarshal([]byte(kv.published[0].message), &evt))
	assert.Equal(t, "evt-1", evt.ID)
	assert.Equal(t, "u1", evt.UserID)
	assert.Equal(t, "training_completed", evt.Type)
	assert.True(t, evt.At.Equal(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)))
	assert.JSONEq(t, `{"training_id":"t1","score":80}`, string(evt.Payload))
}

func TestKVNotifier_PublishFailure(t *testing.T) {
	kv := &fakeKV{err: errors.New("connection refused")}
	n := NewKVNotifier(kv, staticID("evt-1"), "training.events")

	err := n.Notify(context.Background(), "u1", "training_completed", nil)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "training.events.u1")
}

func TestLogNotifier_Notify(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	n := NewLogNotifier(zap.New(core))

	require.NoError(t, n.Notify(context.Background(), "u1", "training_completed", map[string]int{"score": 100}))
	entries := logs.FilterField(zap.String("event.type", "training_completed")).All()
	assert.Len(t, entries, 1)
}
