package events

import (
	"sync"
	"time"

	"github.com/crossmesh/ferry/pkg/model"
	"github.com/sirupsen/logrus"
)

// Type names a lifecycle event.
type Type string

const (
	TransferInitiated Type = "transfer-initiated"
	TransferLocked    Type = "locked"
	SecretRevealed    Type = "secret-revealed"
	TransferClaimed   Type = "claimed"
	TransferExpired   Type = "expired"
	TransferRefunded  Type = "refunded"
	SignatureReceived Type = "signature-received"
	QuorumReached     Type = "quorum-reached"
)

// Event is one lifecycle notification. Delivery is fire-and-forget,
// at-least-once per live subscriber.
type Event struct {
	Type       Type            `json:"type"`
	TransferID string          `json:"transfer_id"`
	Phase      model.SwapPhase `json:"phase,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
}

type subscriber struct {
	ch chan Event
}

// Hub fans lifecycle events out to subscribers. Publish never blocks:
// a subscriber that falls behind its buffer loses events rather than
// stalling the state machine.
type Hub struct {
	mu     sync.RWMutex
	subs   map[*subscriber]struct{}
	logger logrus.FieldLogger
}

func NewHub(logger logrus.FieldLogger) *Hub {
	return &Hub{
		subs:   make(map[*subscriber]struct{}),
		logger: logger,
	}
}

// Subscribe registers an observer. The returned cancel func drops the
// subscription and closes the channel.
func (h *Hub) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}

	sub := &subscriber{ch: make(chan Event, buffer)}

	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		if _, ok := h.subs[sub]; ok {
			delete(h.subs, sub)
			close(sub.ch)
		}
		h.mu.Unlock()
	}

	return sub.ch, cancel
}

// Publish delivers the event to every subscriber without blocking.
func (h *Hub) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for sub := range h.subs {
		select {
		case sub.ch <- event:
		default:
			h.logger.WithFields(logrus.Fields{
				"type":     event.Type,
				"transfer": event.TransferID,
			}).Warn("Dropped event for slow subscriber")
		}
	}
}
