// Package events provides the in-process event bus connecting the decision
// core to observers (metrics, logging). The dashboard reads state by polling
// the API; nothing is pushed outside the process.
package events

import (
	"sync"
	"time"
)

// EventType identifies the kind of event published on the bus.
type EventType string

const (
	EventDecisionApproved  EventType = "DECISION_APPROVED"
	EventDecisionRejected  EventType = "DECISION_REJECTED"
	EventDecisionHold      EventType = "DECISION_HOLD"
	EventExecutionFailed   EventType = "EXECUTION_FAILED"
	EventExecutionPending  EventType = "EXECUTION_PENDING"
	EventEmergencyStop     EventType = "EMERGENCY_STOP"
	EventEmergencyCleared  EventType = "EMERGENCY_CLEARED"
	EventCampaignCreated   EventType = "CAMPAIGN_CREATED"
	EventCampaignActivated EventType = "CAMPAIGN_ACTIVATED"
	EventCampaignPaused    EventType = "CAMPAIGN_PAUSED"
	EventCampaignResumed   EventType = "CAMPAIGN_RESUMED"
	EventCampaignCompleted EventType = "CAMPAIGN_COMPLETED"
	EventCampaignFailed    EventType = "CAMPAIGN_FAILED"
	EventGoalUpdated       EventType = "GOAL_UPDATED"
	EventBotStarted        EventType = "BOT_STARTED"
	EventBotStopped        EventType = "BOT_STOPPED"
	EventLedgerReset       EventType = "LEDGER_RESET"
)

// Event is a single published occurrence with free-form payload.
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Subscriber handles published events.
type Subscriber func(Event)

// Bus fans events out to subscribers. Delivery is asynchronous; a slow
// subscriber never blocks the publisher (the decision path must not stall
// on observers).
type Bus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]Subscriber
	allSubs     []Subscriber
}

// NewBus creates an empty event bus.
func NewBus() *Bus {
	return &Bus{
		subscribers: make(map[EventType][]Subscriber),
	}
}

// Subscribe registers a subscriber for one event type.
func (b *Bus) Subscribe(t EventType, s Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[t] = append(b.subscribers[t], s)
}

// SubscribeAll registers a subscriber for every event type.
func (b *Bus) SubscribeAll(s Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.allSubs = append(b.allSubs, s)
}

// Publish delivers the event to all matching subscribers asynchronously.
func (b *Bus) Publish(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, s := range b.subscribers[e.Type] {
		go s(e)
	}
	for _, s := range b.allSubs {
		go s(e)
	}
}

// Emit is shorthand for publishing a typed event with payload fields.
func (b *Bus) Emit(t EventType, data map[string]interface{}) {
	b.Publish(Event{Type: t, Data: data})
}
