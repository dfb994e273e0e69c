package events

import (
	"testing"
	"time"
)

func TestMemoryPublisherDelivers(t *testing.T) {
	t.Parallel()

	pub := NewMemoryPublisher()
	defer pub.Close()

	ch := pub.Subscribe("s1")
	pub.Publish(NewEvent(EventScenarioMutated, "s1", nil))

	select {
	case ev := <-ch:
		if ev.Type != EventScenarioMutated || ev.ScenarioID != "s1" {
			t.Errorf("unexpected event: %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestMemoryPublisherScenarioScoping(t *testing.T) {
	t.Parallel()

	pub := NewMemoryPublisher()
	defer pub.Close()

	other := pub.Subscribe("s2")
	pub.Publish(NewEvent(EventScenarioMutated, "s1", nil))

	select {
	case ev := <-other:
		t.Errorf("subscriber for s2 received event for %s", ev.ScenarioID)
	default:
	}
}

func TestMemoryPublisherGlobalSubscription(t *testing.T) {
	t.Parallel()

	pub := NewMemoryPublisher()
	defer pub.Close()

	global := pub.Subscribe(GlobalScenarioID)
	pub.Publish(NewEvent(EventApprovalRequested, "s1", ApprovalUpdate{ApprovalID: "a1"}))

	select {
	case ev := <-global:
		if ev.Type != EventApprovalRequested {
			t.Errorf("unexpected event: %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("global subscriber missed event")
	}
}

func TestMemoryPublisherUnsubscribeCloses(t *testing.T) {
	t.Parallel()

	pub := NewMemoryPublisher()
	defer pub.Close()

	ch := pub.Subscribe("s1")
	pub.Unsubscribe("s1", ch)

	if _, ok := <-ch; ok {
		t.Error("channel should be closed after unsubscribe")
	}

	// Publishing after unsubscribe must not panic.
	pub.Publish(NewEvent(EventScenarioMutated, "s1", nil))
}

func TestMemoryPublisherClosedSubscribe(t *testing.T) {
	t.Parallel()

	pub := NewMemoryPublisher()
	pub.Close()

	ch := pub.Subscribe("s1")
	if _, ok := <-ch; ok {
		t.Error("subscribe after close should return a closed channel")
	}
}
