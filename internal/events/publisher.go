// Package events fans synchronizer diagnostics out to in-process
// subscribers and, optionally, to a persistent log.
package events

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
	"github.com/tOgg1/scrollsync/internal/logging"
	"github.com/tOgg1/scrollsync/internal/models"
)

// EventHandler is invoked when an event matches a subscription.
type EventHandler func(event *models.SyncEvent)

// Repository persists published events. *db.EventRepository satisfies it.
type Repository interface {
	Create(ctx context.Context, event *models.SyncEvent) error
}

// Filter defines criteria for matching events. Zero fields match anything.
type Filter struct {
	// Types filters by event type.
	Types []models.SyncEventType

	// InstanceID filters to one synchronizer instance.
	InstanceID string

	// InstrumentID filters to viewports showing one instrument.
	InstrumentID string

	// Granularity filters to viewports at one granularity.
	Granularity models.Granularity
}

// Matches returns true if the event matches the filter criteria.
func (f *Filter) Matches(event *models.SyncEvent) bool {
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

	if f.InstanceID != "" && event.InstanceID != f.InstanceID {
		return false
	}
	if f.InstrumentID != "" && event.Key.InstrumentID != f.InstrumentID {
		return false
	}
	if f.Granularity != "" && event.Key.Granularity != f.Granularity {
		return false
	}
	return true
}

type subscription struct {
	id      string
	filter  Filter
	handler EventHandler
}

// InMemoryPublisher is an in-process pub/sub hub. Publish
// is called from every viewport context, so handlers must be quick and must
// not call back into a synchronizer.
type InMemoryPublisher struct {
	mu            sync.RWMutex
	subscriptions map[string]*subscription
	repo          Repository
	logger        zerolog.Logger

	historyMu sync.Mutex
	history   []*models.SyncEvent
	historyAt int
	capacity  int
}

// PublisherOption configures an InMemoryPublisher.
type PublisherOption func(*InMemoryPublisher)

// WithRepository also persists every published event to repo.
func WithRepository(repo Repository) PublisherOption {
	return func(p *InMemoryPublisher) {
		p.repo = repo
	}
}

// WithHistory keeps the last n published events for Recent.
func WithHistory(n int) PublisherOption {
	return func(p *InMemoryPublisher) {
		if n > 0 {
			p.capacity = n
			p.history = make([]*models.SyncEvent, 0, n)
		}
	}
}

// WithLogger overrides the component logger.
func WithLogger(logger zerolog.Logger) PublisherOption {
	return func(p *InMemoryPublisher) {
		p.logger = logger
	}
}

// NewInMemoryPublisher creates a new in-memory event publisher.
func NewInMemoryPublisher(opts ...PublisherOption) *InMemoryPublisher {
	p := &InMemoryPublisher{
		subscriptions: make(map[string]*subscription),
		logger:        logging.Component("events"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Publish persists the event if a repository is configured, records it in
// the history ring, and then invokes matching handlers synchronously.
// Persistence failures are logged, never returned: diagnostics must not
// disturb synchronization.
func (p *InMemoryPublisher) Publish(ctx context.Context, event *models.SyncEvent) {
	if event == nil {
		return
	}
	p.persist(ctx, event)
	p.record(event)

	p.mu.RLock()
	var handlers []EventHandler
	for _, sub := range p.subscriptions {
		if sub.filter.Matches(event) {
			handlers = append(handlers, sub.handler)
		}
	}
	p.mu.RUnlock()

	// Handlers run outside the lock so they may subscribe or unsubscribe.
	for _, handler := range handlers {
		handler(event)
	}
}

func (p *InMemoryPublisher) persist(ctx context.Context, event *models.SyncEvent) {
	if p.repo == nil {
		return
	}
	if err := p.repo.Create(ctx, event); err != nil {
		p.logger.Warn().
			Err(err).
			Str("event_type", string(event.Type)).
			Str("instance_id", event.InstanceID).
			Msg("failed to persist sync event")
	}
}

func (p *InMemoryPublisher) record(event *models.SyncEvent) {
	if p.capacity == 0 {
		return
	}
	p.historyMu.Lock()
	defer p.historyMu.Unlock()

	if len(p.history) < p.capacity {
		p.history = append(p.history, event)
		return
	}
	p.history[p.historyAt] = event
	p.historyAt = (p.historyAt + 1) % p.capacity
}

// Recent returns the retained events, oldest first. It is empty unless the
// publisher was created WithHistory.
func (p *InMemoryPublisher) Recent() []*models.SyncEvent {
	p.historyMu.Lock()
	defer p.historyMu.Unlock()

	out := make([]*models.SyncEvent, 0, len(p.history))
	out = append(out, p.history[p.historyAt:]...)
	out = append(out, p.history[:p.historyAt]...)
	return out
}

// Subscribe registers a handler to receive events matching the filter.
func (p *InMemoryPublisher) Subscribe(id string, filter Filter, handler EventHandler) error {
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
