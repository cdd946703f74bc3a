package events

import (
	"testing"
	"time"
)

// ============================================================================
// TEST: Typed and catch-all delivery
// ============================================================================

func TestBus_DeliversToTypedSubscriber(t *testing.T) {
	b := NewBus()
	got := make(chan Event, 1)

	b.Subscribe(EventEmergencyStop, func(e Event) { got <- e })
	b.Emit(EventEmergencyStop, map[string]interface{}{"reason": "test"})

	select {
	case e := <-got:
		if e.Type != EventEmergencyStop {
			t.Errorf("unexpected type %s", e.Type)
		}
		if e.Data["reason"] != "test" {
			t.Errorf("unexpected payload %v", e.Data)
		}
		if e.Timestamp.IsZero() {
			t.Error("expected a timestamp to be stamped")
		}
	case <-time.After(time.Second):
		t.Fatal("event was not delivered")
	}
}

func TestBus_TypedSubscriberIgnoresOtherTypes(t *testing.T) {
	b := NewBus()
	got := make(chan Event, 1)

	b.Subscribe(EventEmergencyStop, func(e Event) { got <- e })
	b.Emit(EventDecisionApproved, nil)

	select {
	case e := <-got:
		t.Fatalf("unexpected delivery: %v", e)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBus_CatchAllReceivesEverything(t *testing.T) {
	b := NewBus()
	got := make(chan EventType, 2)

	b.SubscribeAll(func(e Event) { got <- e.Type })
	b.Emit(EventDecisionApproved, nil)
	b.Emit(EventCampaignPaused, nil)

	seen := make(map[EventType]bool)
	for i := 0; i < 2; i++ {
		select {
		case ty := <-got:
			seen[ty] = true
		case <-time.After(time.Second):
			t.Fatal("missing event delivery")
		}
	}
	if !seen[EventDecisionApproved] || !seen[EventCampaignPaused] {
		t.Errorf("expected both event types, got %v", seen)
	}
}
