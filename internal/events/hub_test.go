package events

import (
	"testing"
	"time"

	"github.com/crossmesh/ferry/internal/loggers"
	"github.com/crossmesh/ferry/pkg/model"
	"github.com/stretchr/testify/require"
)

func TestHub_PublishReachesAllSubscribers(t *testing.T) {
	hub := NewHub(loggers.NewWithModule("events_test"))

	ch1, cancel1 := hub.Subscribe(8)
	defer cancel1()
	ch2, cancel2 := hub.Subscribe(8)
	defer cancel2()

	hub.Publish(Event{Type: TransferLocked, TransferID: "t1", Phase: model.PhaseLocked})

	for _, ch := range []<-chan Event{ch1, ch2} {
		select {
		case event := <-ch:
			require.Equal(t, TransferLocked, event.Type)
			require.Equal(t, "t1", event.TransferID)
			require.False(t, event.Timestamp.IsZero())
		case <-time.After(time.Second):
			t.Fatal("event not delivered")
		}
	}
}

func TestHub_SlowSubscriberDoesNotBlockPublish(t *testing.T) {
	hub := NewHub(loggers.NewWithModule("events_test"))

	// buffer of 1, never drained
	_, cancel := hub.Subscribe(1)
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			hub.Publish(Event{Type: SignatureReceived, TransferID: "t1"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on slow subscriber")
	}
}

func TestHub_CancelClosesChannel(t *testing.T) {
	hub := NewHub(loggers.NewWithModule("events_test"))

	ch, cancel := hub.Subscribe(1)
	cancel()

	_, open := <-ch
	require.False(t, open)

	// double cancel is harmless
	cancel()

	// publishing after cancel reaches nobody and does not panic
	hub.Publish(Event{Type: QuorumReached, TransferID: "t1"})
}
