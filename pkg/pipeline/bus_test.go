package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestEventBusBasicPublishSubscribe(t *testing.T) {
	bus := NewEventBus()
	ch := make(chan Event, 1)

	bus.Subscribe(EventError, ch)

	evt := Event{
		Type:      EventError,
		Timestamp: time.Now(),
		Payload:   "test error",
	}
	bus.Publish(evt)

	received := <-ch
	if received.Type != EventError {
		t.Errorf("Expected event type %v, got %v", EventError, received.Type)
	}
	if received.Payload.(string) != "test error" {
		t.Errorf("Expected payload 'test error', got %v", received.Payload)
	}
}

func TestEventBusUnsubscribe(t *testing.T) {
	bus := NewEventBus()
	ch := make(chan Event, 1)

	bus.Subscribe(EventTranscriptFinal, ch)
	bus.Unsubscribe(EventTranscriptFinal, ch)

	bus.Publish(Event{
		Type:      EventTranscriptFinal,
		Timestamp: time.Now(),
	})

	select {
	case <-ch:
		t.Error("Should not receive event after unsubscribe")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestEventBusMultipleSubscribers(t *testing.T) {
	bus := NewEventBus()
	ch1 := make(chan Event, 1)
	ch2 := make(chan Event, 1)

	bus.Subscribe(EventTranscriptPartial, ch1)
	bus.Subscribe(EventTranscriptPartial, ch2)

	bus.Publish(Event{
		Type:      EventTranscriptPartial,
		Timestamp: time.Now(),
		Payload:   TranscriptPayload{Text: "hel"},
	})

	for _, ch := range []chan Event{ch1, ch2} {
		select {
		case received := <-ch:
			if received.Type != EventTranscriptPartial {
				t.Errorf("Expected event type %v, got %v", EventTranscriptPartial, received.Type)
			}
		case <-time.After(100 * time.Millisecond):
			t.Error("Timeout waiting for event")
		}
	}
}

func TestEventBusFullSubscriberDoesNotBlock(t *testing.T) {
	bus := NewEventBus()
	full := make(chan Event) // unbuffered, never drained
	bus.Subscribe(EventVADSpeechStart, full)

	done := make(chan struct{})
	go func() {
		bus.Publish(Event{Type: EventVADSpeechStart, Timestamp: time.Now()})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}
}

func TestEventBusConcurrentPublish(t *testing.T) {
	bus := NewEventBus()
	ch := make(chan Event, 100)
	bus.Subscribe(EventVADSpeechEnd, ch)

	if err := bus.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start event bus: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			bus.Publish(Event{Type: EventVADSpeechEnd, Timestamp: time.Now()})
		}()
	}
	wg.Wait()

	if got := len(ch); got != 50 {
		t.Errorf("Expected 50 events, got %d", got)
	}

	bus.Stop()
}

func TestEventTypeWireNames(t *testing.T) {
	cases := map[EventType]string{
		EventASRConnected:      "asr.connected",
		EventASRDisconnected:   "asr.disconnected",
		EventTranscriptPartial: "transcript.partial",
		EventTranscriptFinal:   "transcript.final",
		EventVADSpeechStart:    "speech.detected",
		EventVADSpeechEnd:      "speech.ended",
		EventAudioDone:         "audio.done",
		EventAudioStopped:      "audio.stopped",
		EventEscalate:          "escalate",
		EventError:             "error",
	}
	for et, want := range cases {
		if got := et.String(); got != want {
			t.Errorf("EventType(%d).String() = %q, want %q", et, got, want)
		}
	}
}
