package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dhxmo/CultureQ/internal/clock"
	"github.com/dhxmo/CultureQ/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2025, 10, 21, 10, 0, 0, 0, time.UTC)

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) handle(ctx context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func TestManager_PublishDeliversToSubscribers(t *testing.T) {
	m := NewManager(true, clock.NewFixed(testNow))
	rec := &recorder{}
	m.Subscribe(EventConversationProcessed, rec.handle)
	m.Subscribe(EventUsageRecorded, func(ctx context.Context, e Event) error {
		return errors.New("sink down")
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	m.PublishConversationProcessed(ctx, ConversationProcessedData{UserID: "u-1", ConversationID: "c-1", MatchedBrands: 2})
	m.PublishUsageRecorded(ctx, models.UsageRecord{CampaignID: "camp-1"})
	m.Wait()

	require.Len(t, rec.events, 1)
	assert.Equal(t, EventConversationProcessed, rec.events[0].Type)
	assert.Equal(t, "u-1", rec.events[0].Key)
	assert.Equal(t, testNow, rec.events[0].Timestamp)
}

func TestManager_Disabled(t *testing.T) {
	m := NewManager(false, nil)
	rec := &recorder{}
	m.SubscribeAll(rec.handle)

	m.PublishTransactionsSynced(context.Background(), TransactionsSyncedData{UserID: "u-1"})
	m.Wait()
	assert.Empty(t, rec.events)
}

func TestManager_Shutdown(t *testing.T) {
	m := NewManager(true, nil)
	rec := &recorder{}
	m.SubscribeAll(rec.handle)

	m.PublishBrandsRefreshed(context.Background(), BrandsRefreshedData{UserID: "u-1", Merchants: 3})
	m.Shutdown()
	require.Len(t, rec.events, 1)

	m.PublishBrandsRefreshed(context.Background(), BrandsRefreshedData{UserID: "u-1"})
	m.Wait()
	assert.Len(t, rec.events, 1)
}

func TestEncodeMessage(t *testing.T) {
	event := Event{
		Type:      EventTransactionsSynced,
		Key:       "u-1",
		Timestamp: testNow,
		Data:      TransactionsSyncedData{UserID: "u-1", Added: 4},
	}

	msg, err := encodeMessage(event)
	require.NoError(t, err)
	assert.Equal(t, []byte("u-1"), msg.Key)
	assert.Equal(t, testNow, msg.Time)
	require.Len(t, msg.Headers, 1)
	assert.Equal(t, "transactions.synced", string(msg.Headers[0].Value))

	var decoded struct {
		Type string                 `json:"type"`
		Data TransactionsSyncedData `json:"data"`
	}
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, "transactions.synced", decoded.Type)
	assert.Equal(t, 4, decoded.Data.Added)
}

func TestNewKafkaSink_RequiresConfig(t *testing.T) {
	_, err := NewKafkaSink(nil, "events")
	assert.Error(t, err)

	_, err = NewKafkaSink([]string{"localhost:9092"}, "")
	assert.Error(t, err)

	sink, err := NewKafkaSink([]string{"localhost:9092"}, "cultureq.events")
	require.NoError(t, err)
	assert.NoError(t, sink.Close())
}
