package events

import (
	"errors"
	"testing"
	"time"
)

// TestPublishSubscribe verifies basic publish/subscribe functionality.
func TestPublishSubscribe(t *testing.T) {
	bus := NewEventBus()
	defer bus.Close()

	ch := bus.Subscribe(TopicTask, 10)

	bus.Publish(TaskStartedEvent{
		Key:       "task-1",
		Label:     "load",
		Index:     0,
		Timestamp: time.Now(),
	})

	select {
	case received := <-ch:
		if received.TaskKey() != "task-1" {
			t.Errorf("expected task key 'task-1', got '%s'", received.TaskKey())
		}
		if received.EventType() != EventTypeTaskStarted {
			t.Errorf("expected event type '%s', got '%s'", EventTypeTaskStarted, received.EventType())
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timeout waiting for event")
	}
}

// TestMultipleSubscribers verifies multiple subscribers receive the same event.
func TestMultipleSubscribers(t *testing.T) {
	bus := NewEventBus()
	defer bus.Close()

	ch1 := bus.Subscribe(TopicTask, 10)
	ch2 := bus.Subscribe(TopicTask, 10)

	bus.Publish(TaskCompletedEvent{
		Key:       "task-2",
		Target:    true,
		Duration:  100 * time.Millisecond,
		Timestamp: time.Now(),
	})

	for i, ch := range []<-chan Event{ch1, ch2} {
		select {
		case received := <-ch:
			if received.TaskKey() != "task-2" {
				t.Errorf("subscriber %d: expected task key 'task-2', got '%s'", i+1, received.TaskKey())
			}
		case <-time.After(100 * time.Millisecond):
			t.Fatalf("subscriber %d: timeout waiting for event", i+1)
		}
	}
}

// TestNonBlockingSend verifies that publishing doesn't block when channels are full.
func TestNonBlockingSend(t *testing.T) {
	bus := NewEventBus()
	defer bus.Close()

	ch := bus.Subscribe(TopicValue, 1)

	done := make(chan bool)
	go func() {
		for i := 0; i < 10; i++ {
			bus.Publish(ValueEvictedEvent{Key: "v", Index: i, Timestamp: time.Now()})
		}
		done <- true
	}()

	select {
	case <-done:
	case <-time.After(100 * time.Millisecond):
		t.Fatal("publisher blocked (expected non-blocking behavior)")
	}

	select {
	case received := <-ch:
		if received.(ValueEvictedEvent).Index != 0 {
			t.Errorf("expected the first event to be kept, got %+v", received)
		}
	default:
		t.Error("expected at least one event in buffer")
	}

	if got := bus.Dropped(); got != 9 {
		t.Errorf("expected 9 dropped deliveries, got %d", got)
	}
}

// TestCloseSignalsSubscribers verifies that closing the bus closes subscriber channels.
func TestCloseSignalsSubscribers(t *testing.T) {
	bus := NewEventBus()
	ch := bus.Subscribe(TopicTask, 10)
	all := bus.SubscribeAll(10)

	bus.Close()
	bus.Close()

	for _, c := range []<-chan Event{ch, all} {
		received := 0
		for range c {
			received++
		}
		if received != 0 {
			t.Errorf("expected 0 events after close, got %d", received)
		}
	}

	late := bus.Subscribe(TopicRun, 1)
	if _, ok := <-late; ok {
		t.Error("subscription after close should be closed")
	}
}

// TestPublishAfterClose verifies publishing after close doesn't panic.
func TestPublishAfterClose(t *testing.T) {
	bus := NewEventBus()
	ch := bus.Subscribe(TopicTask, 10)
	bus.Close()

	defer func() {
		if r := recover(); r != nil {
			t.Errorf("publishing after close caused panic: %v", r)
		}
	}()

	bus.Publish(TaskFailedEvent{Key: "task-1", Err: errors.New("boom"), Timestamp: time.Now()})

	select {
	case _, ok := <-ch:
		if ok {
			t.Error("received event after bus was closed")
		}
	default:
	}
}

// TestNilBusPublish verifies a nil bus swallows events.
func TestNilBusPublish(t *testing.T) {
	var bus *EventBus
	bus.Publish(RunProgressEvent{Total: 1})
}

// TestTopicRouting verifies events land on their own topic only.
func TestTopicRouting(t *testing.T) {
	bus := NewEventBus()
	defer bus.Close()

	taskCh := bus.Subscribe(TopicTask, 10)
	runCh := bus.Subscribe(TopicRun, 10)
	valueCh := bus.Subscribe(TopicValue, 10)

	bus.Publish(TaskStartedEvent{Key: "task-1", Timestamp: time.Now()})
	bus.Publish(RunProgressEvent{Total: 10, Completed: 5, Timestamp: time.Now()})

	select {
	case received := <-taskCh:
		if received.EventType() != EventTypeTaskStarted {
			t.Errorf("task channel: expected task event, got %s", received.EventType())
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("task channel: timeout waiting for event")
	}

	select {
	case received := <-runCh:
		if received.EventType() != EventTypeRunProgress {
			t.Errorf("run channel: expected progress event, got %s", received.EventType())
		}
		if received.TaskKey() != "" {
			t.Errorf("progress events carry no task key, got %q", received.TaskKey())
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("run channel: timeout waiting for event")
	}

	for name, ch := range map[string]<-chan Event{"task": taskCh, "run": runCh, "value": valueCh} {
		select {
		case e := <-ch:
			t.Errorf("%s channel received unexpected event %s", name, e.EventType())
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// TestSubscribeAll verifies that SubscribeAll receives events from all topics.
func TestSubscribeAll(t *testing.T) {
	bus := NewEventBus()
	defer bus.Close()

	allCh := bus.SubscribeAll(20)

	bus.Publish(TaskStartedEvent{Key: "task-1", Timestamp: time.Now()})
	bus.Publish(ValueEvictedEvent{Key: "task-0", Timestamp: time.Now()})
	bus.Publish(RunProgressEvent{Total: 3, Completed: 1, Timestamp: time.Now()})

	receivedTypes := make(map[string]bool)
	for i := 0; i < 3; i++ {
		select {
		case received := <-allCh:
			receivedTypes[received.EventType()] = true
		case <-time.After(100 * time.Millisecond):
			t.Fatal("timeout waiting for event")
		}
	}

	for _, typ := range []string{EventTypeTaskStarted, EventTypeValueEvicted, EventTypeRunProgress} {
		if !receivedTypes[typ] {
			t.Errorf("SubscribeAll did not receive %s", typ)
		}
	}

	select {
	case <-allCh:
		t.Error("received unexpected extra event")
	case <-time.After(10 * time.Millisecond):
	}
}
