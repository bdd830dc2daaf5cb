package service

import (
	"context"
	"errors"
	"sync"
)

const eventStreamBuffer = 16

// EventHub fans lifecycle events out to in-process subscribers keyed by user.
// Slow subscribers drop events rather than block the publisher.
type EventHub struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan ActionEvent]struct{}
}

// NewEventHub constructs an empty hub.
func NewEventHub() *EventHub {
	return &EventHub{subscribers: make(map[string]map[chan ActionEvent]struct{})}
}

// Publish delivers the event to every subscriber of the event's user.
func (h *EventHub) Publish(_ context.Context, event ActionEvent) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for ch := range h.subscribers[event.UserID] {
		select {
		case ch <- event:
		default:
		}
	}
	return nil
}

// Subscribe registers a stream for userID. The returned cancel func closes it.
func (h *EventHub) Subscribe(userID string) (<-chan ActionEvent, func()) {
	ch := make(chan ActionEvent, eventStreamBuffer)

	h.mu.Lock()
	if _, ok := h.subscribers[userID]; !ok {
		h.subscribers[userID] = make(map[chan ActionEvent]struct{})
	}
	h.subscribers[userID][ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if subscribers, ok := h.subscribers[userID]; ok {
				delete(subscribers, ch)
				if len(subscribers) == 0 {
					delete(h.subscribers, userID)
				}
			}
			close(ch)
		})
	}
}

// Subscribers reports the number of open streams for userID.
func (h *EventHub) Subscribers(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers[userID])
}

type multiPublisher []EventPublisher

// MultiPublisher publishes every event to each non-nil publisher in turn.
func MultiPublisher(publishers ...EventPublisher) EventPublisher {
	var out multiPublisher
	for _, p := range publishers {
		if p != nil {
			out = append(out, p)
		}
	}
	return out
}

func (m multiPublisher) Publish(ctx context.Context, event ActionEvent) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
