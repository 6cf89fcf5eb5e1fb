package events

import (
	"sync"
	"time"
)

// EventType represents different types of events in the system
type EventType string

const (
	EventSignalGenerated EventType = "SIGNAL_GENERATED"
	EventSignalSkipped   EventType = "SIGNAL_SKIPPED"
	EventVerdictIssued   EventType = "VERDICT_ISSUED"
	EventOrderPlaced     EventType = "ORDER_PLACED"
	EventTradeOpened     EventType = "TRADE_OPENED"
	EventTradeClosed     EventType = "TRADE_CLOSED"
	EventBarReceived     EventType = "BAR_RECEIVED"
	EventEngineStarted   EventType = "ENGINE_STARTED"
	EventEngineStopped   EventType = "ENGINE_STOPPED"
	EventError           EventType = "ERROR"
)

// Event represents a system event
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Subscriber is a function that handles events
type Subscriber func(Event)

// Bus manages event publishing and subscriptions. Subscribers run in their
// own goroutines so a slow consumer never blocks the decision loop.
type Bus struct {
	mu          sync.RWMutex
	nextID      int
	subscribers map[EventType]map[int]Subscriber
	allSubs     map[int]Subscriber
}

// NewBus creates a new event bus
func NewBus() *Bus {
	return &Bus{
		subscribers: make(map[EventType]map[int]Subscriber),
		allSubs:     make(map[int]Subscriber),
	}
}

// Subscribe registers a subscriber for a specific event type. The returned
// function removes the subscription; transient consumers must call it or
// they stay registered for the life of the bus.
func (b *Bus) Subscribe(eventType EventType, subscriber Subscriber) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	if b.subscribers[eventType] == nil {
		b.subscribers[eventType] = make(map[int]Subscriber)
	}
	b.subscribers[eventType][id] = subscriber

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subscribers[eventType], id)
	}
}

// SubscribeAll registers a subscriber for all events. The returned function
// removes the subscription.
func (b *Bus) SubscribeAll(subscriber Subscriber) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	b.allSubs[id] = subscriber

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.allSubs, id)
	}
}

// Publish sends an event to all subscribers
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	for _, sub := range b.subscribers[event.Type] {
		go sub(event)
	}
	for _, sub := range b.allSubs {
		go sub(event)
	}
}

// PublishSignal publishes a signal generated event
func (b *Bus) PublishSignal(symbol, direction string, strength, price float64) {
	b.Publish(Event{
		Type: EventSignalGenerated,
		Data: map[string]interface{}{
			"symbol":    symbol,
			"direction": direction,
			"strength":  strength,
			"price":     price,
		},
	})
}

// PublishVerdict publishes an advisory verdict event
func (b *Bus) PublishVerdict(symbol, source, recommendation string, confidence float64) {
	b.Publish(Event{
		Type: EventVerdictIssued,
		Data: map[string]interface{}{
			"symbol":         symbol,
			"source":         source,
			"recommendation": recommendation,
			"confidence":     confidence,
		},
	})
}

// PublishTradeOpened publishes a trade opened event
func (b *Bus) PublishTradeOpened(symbol, direction string, entryPrice, sizeUSD float64) {
	b.Publish(Event{
		Type: EventTradeOpened,
		Data: map[string]interface{}{
			"symbol":      symbol,
			"direction":   direction,
			"entry_price": entryPrice,
			"size_usd":    sizeUSD,
		},
	})
}

// PublishTradeClosed publishes a trade closed event
func (b *Bus) PublishTradeClosed(symbol, reason string, entryPrice, exitPrice, pnl float64) {
	b.Publish(Event{
		Type: EventTradeClosed,
		Data: map[string]interface{}{
			"symbol":      symbol,
			"reason":      reason,
			"entry_price": entryPrice,
			"exit_price":  exitPrice,
			"pnl":         pnl,
		},
	})
}

// PublishError publishes an error event
func (b *Bus) PublishError(source, message string, err error) {
	data := map[string]interface{}{
		"source":  source,
		"message": message,
	}
	if err != nil {
		data["error"] = err.Error()
	}
	b.Publish(Event{
		Type: EventError,
		Data: data,
	})
}
