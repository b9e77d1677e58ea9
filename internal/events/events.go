// Package events fans monitor records out to any number of subscribers.
package events

import (
	"sync"

	"github.com/j-veylop/tokenwatch/internal/models"
)

type (
	// SampleCollected is emitted after a usage sample is stored.
	SampleCollected struct {
		Sample models.UsageSample
		// BudgetUsed is the quota consumed in the current window, this sample included.
		BudgetUsed int64
		Quota      int64
	}

	// PredictionUpdated is emitted after a prediction cycle stores its results.
	PredictionUpdated struct {
		Exhaustion *models.Prediction
		Daily      []models.Prediction
	}

	// AlertCreated is emitted for every stored alert.
	AlertCreated struct {
		Alert models.Alert
	}
)

// Event is the interface implemented by all monitor events.
type Event interface {
	isEvent()
}

func (SampleCollected) isEvent()   {}
func (PredictionUpdated) isEvent() {}
func (AlertCreated) isEvent()      {}

const subscriberBuffer = 50

// Bus delivers events to subscribers without ever blocking the publisher.
type Bus struct {
	mu          sync.RWMutex
	subscribers []chan Event
	closed      bool
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{}
}

// Publish sends event to every subscriber. Subscribers whose buffer is full
// miss the event.
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subscribers {
		select {
		case sub <- event:
		default:
			// Subscriber channel full, skip
		}
	}
}

// Subscribe returns a buffered channel receiving every future event. The
// channel is closed by Unsubscribe or Close.
func (b *Bus) Subscribe() chan Event {
	ch := make(chan Event, subscriberBuffer)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch
	}
	b.subscribers = append(b.subscribers, ch)
	return ch
}

// Unsubscribe removes and closes a subscriber channel.
func (b *Bus) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, sub := range b.subscribers {
		if sub == ch {
			b.subscribers = append(b.subscribers[:i], b.subscribers[i+1:]...)
			close(ch)
			break
		}
	}
}

// Close closes every subscriber channel. Later publishes are dropped.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for _, sub := range b.subscribers {
		close(sub)
	}
	b.subscribers = nil
}
