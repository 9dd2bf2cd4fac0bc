// Package events provides in-process publishing and subscription for
// session lifecycle and transfer notifications.
package events

import (
	"sync"
	"time"
)

// Type classifies an event.
type Type string

const (
	// TypeSessionOpened fires when a device session reaches raw-exec
	// mode for the first time.
	TypeSessionOpened Type = "session.opened"

	// TypeSessionClosed fires when a session ends, normally or not.
	TypeSessionClosed Type = "session.closed"

	// TypeInteractiveStarted fires when a bridge takes over the
	// transport.
	TypeInteractiveStarted Type = "interactive.started"

	// TypeInteractiveEnded fires when the bridge returns the transport.
	TypeInteractiveEnded Type = "interactive.ended"

	// TypeTransferProgress fires once per file boundary during a
	// multi-file transfer.
	TypeTransferProgress Type = "transfer.progress"

	// TypeDeviceError fires when the transport or protocol fails in a
	// way that ends the operation.
	TypeDeviceError Type = "device.error"
)

// Event is one notification. Payload content depends on the type and is
// never interpreted by the publisher.
type Event struct {
	Type      Type
	SessionID string
	Payload   any
	Time      time.Time
}

// Handler is a callback invoked for every event matching a
// subscription's filter. Handlers run on the publishing goroutine and
// must not block.
type Handler func(event *Event)

// Filter selects the events a subscription receives.
type Filter struct {
	// Types filters by event type (nil = all types).
	Types []Type

	// SessionID filters to one session (empty = all).
	SessionID string
}

// Matches reports whether the event passes the filter.
func (f *Filter) Matches(event *Event) bool {
	if event == nil {
		return false
	}

	if len(f.Types) > 0 {
		matched := false
		for _, t := range f.Types {
			if event.Type == t {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}

	if f.SessionID != "" && event.SessionID != f.SessionID {
		return false
	}

	return true
}

type subscription struct {
	id      string
	filter  Filter
	handler Handler
}

// Publisher is the event publishing and subscription interface.
type Publisher interface {
	// Publish sends an event to all matching subscribers.
	Publish(event *Event)

	// Subscribe registers a handler for events matching the filter.
	Subscribe(id string, filter Filter, handler Handler) error

	// Unsubscribe removes a subscription by ID.
	Unsubscribe(id string) error

	// SubscriberCount returns the number of active subscriptions.
	SubscriberCount() int
}

// InMemoryPublisher implements Publisher with in-process fan-out.
type InMemoryPublisher struct {
	mu            sync.RWMutex
	subscriptions map[string]*subscription
}

// NewInMemoryPublisher creates an empty publisher.
func NewInMemoryPublisher() *InMemoryPublisher {
	return &InMemoryPublisher{
		subscriptions: make(map[string]*subscription),
	}
}

// Publish sends an event to all matching subscribers. A zero Time is
// stamped with the current time.
func (p *InMemoryPublisher) Publish(event *Event) {
	if event == nil {
		return
	}
	if event.Time.IsZero() {
		event.Time = time.Now()
	}

	p.mu.RLock()
	var handlers []Handler
	for _, sub := range p.subscriptions {
		if sub.filter.Matches(event) {
			handlers = append(handlers, sub.handler)
		}
	}
	p.mu.RUnlock()

	// Handlers run outside the lock so they may subscribe or
	// unsubscribe without deadlocking.
	for _, handler := range handlers {
		handler(event)
	}
}

// Subscribe registers a handler for events matching the filter.
func (p *InMemoryPublisher) Subscribe(id string, filter Filter, handler Handler) error {
	if id == "" {
		return ErrInvalidSubscriptionID
	}
	if handler == nil {
		return ErrNilHandler
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.subscriptions[id]; exists {
		return ErrSubscriptionExists
	}

	p.subscriptions[id] = &subscription{id: id, filter: filter, handler: handler}
	return nil
}

// Unsubscribe removes a subscription by ID.
func (p *InMemoryPublisher) Unsubscribe(id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.subscriptions[id]; !exists {
		return ErrSubscriptionNotFound
	}

	delete(p.subscriptions, id)
	return nil
}

// SubscriberCount returns the number of active subscriptions.
func (p *InMemoryPublisher) SubscriberCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.subscriptions)
}

// Close removes all subscriptions.
func (p *InMemoryPublisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subscriptions = make(map[string]*subscription)
}

// Errors for publisher operations.
var (
	ErrInvalidSubscriptionID = &PublisherError{Message: "subscription ID is required"}
	ErrNilHandler            = &PublisherError{Message: "handler cannot be nil"}
	ErrSubscriptionExists    = &PublisherError{Message: "subscription with this ID already exists"}
	ErrSubscriptionNotFound  = &PublisherError{Message: "subscription not found"}
)

// PublisherError represents an error from publisher operations.
type PublisherError struct {
	Message string
}

func (e *PublisherError) Error() string {
	return e.Message
}
