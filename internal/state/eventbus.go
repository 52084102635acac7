package state

import (
	"sync"

	log "github.com/sirupsen/logrus"
)

type EventType int

const (
	EVENT_CHAN_LENGTH = 16
)

const (
	EventUnkown EventType = iota
	TransactionQueued
	TransactionUpdated
	SyncCompleted
	ScanPerformance
	AssetMetadataFetched
	VaultStateChanged
)

// NotificationEvents are forwarded to UI subscribers
var NotificationEvents = []EventType{
	TransactionQueued,
	TransactionUpdated,
	SyncCompleted,
	AssetMetadataFetched,
	VaultStateChanged,
}

func (e EventType) String() string {
	return [...]string{"EventUnkown", "TransactionQueued", "TransactionUpdated", "SyncCompleted", "ScanPerformance", "AssetMetadataFetched", "VaultStateChanged"}[e]
}

// Event is delivered to subscribers of every event type
type Event struct {
	Type EventType
	Data interface{}
}

type EventBus struct {
	subscribers map[EventType][]chan interface{}
	mu          sync.RWMutex
}

func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[EventType][]chan interface{}),
	}
}

// Subscribe registers ch for eventType, ch should be buffered
func (eb *EventBus) Subscribe(eventType EventType, ch chan interface{}) {
	if ch == nil {
		panic("channel == nil")
	}
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.subscribers[eventType] = append(eb.subscribers[eventType], ch)
}

// Publish never blocks, a subscriber with a full channel misses the event
func (eb *EventBus) Publish(eventType EventType, data interface{}) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	for _, ch := range eb.subscribers[eventType] {
		select {
		case ch <- Event{Type: eventType, Data: data}:
		default:
			log.Debugf("EventBus drop %s event, subscriber is full", eventType)
		}
	}
}

func (eb *EventBus) Unsubscribe(eventType EventType, ch chan interface{}) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	subscribers, ok := eb.subscribers[eventType]
	if !ok {
		return
	}

	for i, subscriber := range subscribers {
		if subscriber == ch {
			eb.subscribers[eventType] = append(subscribers[:i:i], subscribers[i+1:]...)
			break
		}
	}
	if len(eb.subscribers[eventType]) == 0 {
		delete(eb.subscribers, eventType)
	}
}
