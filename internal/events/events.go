package events

import (
	"context"
	"sync"
	"time"

	"github.com/dhxmo/CultureQ/internal/clock"
	"github.com/dhxmo/CultureQ/internal/models"
	"go.uber.org/zap"
)

// EventType represents the type of event.
type EventType string

const (
	// EventConversationProcessed is emitted after extraction and matching finish for a conversation.
	EventConversationProcessed EventType = "conversation.processed"
	// EventTransactionsSynced is emitted after a bank sync is stored.
	EventTransactionsSynced EventType = "transactions.synced"
	// EventBrandsRefreshed is emitted after a user's attached brands are refreshed.
	EventBrandsRefreshed EventType = "brands.refreshed"
	// EventUsageRecorded is emitted after a campaign redemption is recorded.
	EventUsageRecorded EventType = "usage.recorded"
)

// Event represents an event in the system. Key groups related events, e.g.
// by user, and is used as the partition key by sinks.
type Event struct {
	Type      EventType   `json:"type"`
	Key       string      `json:"key"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

type ConversationProcessedData struct {
	UserID         string              `json:"userId"`
	ConversationID string              `json:"conversationId"`
	ChatType       models.ChatType     `json:"chatType"`
	ParseOutcome   models.ParseOutcome `json:"parseOutcome"`
	MatchedBrands  int                 `json:"matchedBrands"`
	TotalMatches   int                 `json:"totalMatches"`
}

type TransactionsSyncedData struct {
	UserID   string `json:"userId"`
	Added    int    `json:"added"`
	Modified int    `json:"modified"`
	Removed  int    `json:"removed"`
	Polls    int    `json:"polls"`
}

type BrandsRefreshedData struct {
	UserID    string `json:"userId"`
	Merchants int    `json:"merchants"`
}

type UsageRecordedData struct {
	Record models.UsageRecord `json:"record"`
}

// Handler is a function that handles events.
type Handler func(ctx context.Context, event Event) error

// Manager manages event handlers and event publishing.
type Manager struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
	enabled  bool
	clock    clock.Clock
	wg       sync.WaitGroup
}

// NewManager creates a new event manager. A disabled manager drops every
// subscription and publish.
func NewManager(enabled bool, clk clock.Clock) *Manager {
	if clk == nil {
		clk = clock.NewReal()
	}
	return &Manager{
		handlers: make(map[EventType][]Handler),
		enabled:  enabled,
		clock:    clk,
	}
}

// Subscribe subscribes a handler to a specific event type.
func (m *Manager) Subscribe(eventType EventType, handler Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.enabled {
		return
	}
	m.handlers[eventType] = append(m.handlers[eventType], handler)
}

// SubscribeAll subscribes a handler to every event type.
func (m *Manager) SubscribeAll(handler Handler) {
	for _, t := range []EventType{EventConversationProcessed, EventTransactionsSynced, EventBrandsRefreshed, EventUsageRecorded} {
		m.Subscribe(t, handler)
	}
}

// Publish publishes an event to all subscribed handlers. Handlers run
// asynchronously and outlive the request that published the event.
func (m *Manager) Publish(ctx context.Context, eventType EventType, key string, data interface{}) {
	m.mu.RLock()
	enabled := m.enabled
	handlers := m.handlers[eventType]
	m.mu.RUnlock()

	if !enabled || len(handlers) == 0 {
		return
	}

	event := Event{
		Type:      eventType,
		Key:       key,
		Timestamp: m.clock.Now(),
		Data:      data,
	}

	ctx = context.WithoutCancel(ctx)
	for _, handler := range handlers {
		m.wg.Add(1)
		go func(h Handler) {
			defer m.wg.Done()
			if err := h(ctx, event); err != nil {
				zap.L().Warn("Event handler failed",
					zap.String("event_type", string(event.Type)),
					zap.String("key", event.Key),
					zap.Error(err))
			}
		}(handler)
	}
}

func (m *Manager) PublishConversationProcessed(ctx context.Context, data ConversationProcessedData) {
	m.Publish(ctx, EventConversationProcessed, data.UserID, data)
}

func (m *Manager) PublishTransactionsSynced(ctx context.Context, data TransactionsSyncedData) {
	m.Publish(ctx, EventTransactionsSynced, data.UserID, data)
}

func (m *Manager) PublishBrandsRefreshed(ctx context.Context, data BrandsRefreshedData) {
	m.Publish(ctx, EventBrandsRefreshed, data.UserID, data)
}

func (m *Manager) PublishUsageRecorded(ctx context.Context, record models.UsageRecord) {
	m.Publish(ctx, EventUsageRecorded, record.CampaignID, UsageRecordedData{Record: record})
}

// Wait blocks until every handler started so far has returned.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// Shutdown stops accepting events and waits for running handlers.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	m.enabled = false
	m.handlers = make(map[EventType][]Handler)
	m.mu.Unlock()

	m.wg.Wait()
}
