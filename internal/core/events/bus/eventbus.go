package bus

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// NewEvent builds an Event stamped with the current time.
func NewEvent(typ, source string, data any) Event {
	return Event{Type: typ, Source: source, Timestamp: time.Now(), Data: data}
}

// subscription implements Subscription.
type subscription struct {
	id        string
	eventType string
	active    bool
	cancel    func()
}

func (s *subscription) ID() string        { return s.id }
func (s *subscription) EventType() string { return s.eventType }
func (s *subscription) IsActive() bool    { return s.active }

func (s *subscription) Cancel() error {
	if s.cancel != nil {
		s.cancel()
	}
	s.active = false
	return nil
}

// inMemoryBus is the default EventBus implementation.
type inMemoryBus struct {
	mu sync.RWMutex
	// handlers: eventType -> subID -> handler
	handlers map[string]map[string]*handlerEntry
}

type handlerEntry struct {
	sub     *subscription
	handler EventHandler
}

// New creates a new EventBus instance.
func New() EventBus {
	return &inMemoryBus{
		handlers: make(map[string]map[string]*handlerEntry),
	}
}

func (b *inMemoryBus) Publish(event Event) error {
	b.mu.RLock()
	entries := make([]*handlerEntry, 0, len(b.handlers[event.Type]))
	for _, e := range b.handlers[event.Type] {
		entries = append(entries, e)
	}
	b.mu.RUnlock()

	var errs []error
	for _, e := range entries {
		if !e.sub.active {
			continue
		}
		if err := e.handler(event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (b *inMemoryBus) Subscribe(eventType string, handler EventHandler) (Subscription, error) {
	if handler == nil {
		return nil, errors.New("bus: nil handler")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.handlers[eventType] == nil {
		b.handlers[eventType] = make(map[string]*handlerEntry)
	}
	id := uuid.NewString()
	sub := &subscription{id: id, eventType: eventType, active: true}
	sub.cancel = func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.handlers[eventType], id)
	}
	b.handlers[eventType][id] = &handlerEntry{sub: sub, handler: handler}
	return sub, nil
}

func (b *inMemoryBus) Unsubscribe(sub Subscription) error {
	if sub == nil {
		return nil
	}
	return sub.Cancel()
}
