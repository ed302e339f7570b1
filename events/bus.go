// Package events delivers chain notifications to subscribers.
//
// Delivery is lossless and ordered per subscriber: every subscriber sees
// every matching event exactly in publish order. A slow subscriber only
// grows its own queue and never delays publishers or other subscribers.
package events

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// Common errors returned by the Bus.
var (
	ErrBusNotRunning      = errors.New("event bus is not running")
	ErrSubscriberExists   = errors.New("subscriber already exists for this query")
	ErrSubscriberNotFound = errors.New("subscriber not found")
	ErrTooManySubscribers = errors.New("maximum number of subscribers reached")
)

// Bus is an in-memory publish/subscribe bus.
type Bus struct {
	config Config

	// subscriptions maps subscriber+query to subscription
	subscriptions map[string]*subscription
	mu            sync.Mutex

	seq     uint64
	running atomic.Bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// subscription queues events for one subscriber and pumps them into its
// channel from a dedicated goroutine.
type subscription struct {
	subscriber string
	query      Query
	out        chan Event

	mu     sync.Mutex
	queue  []Event
	notify chan struct{}
	done   chan struct{}
	closed bool
}

// NewBus creates a bus with the default configuration.
func NewBus() *Bus {
	return NewBusWithConfig(DefaultConfig())
}

// NewBusWithConfig creates a bus with the given configuration.
func NewBusWithConfig(config Config) *Bus {
	if config.BufferSize <= 0 {
		config.BufferSize = 100
	}
	return &Bus{
		config:        config,
		subscriptions: make(map[string]*subscription),
		stopCh:        make(chan struct{}),
	}
}

func subscriptionKey(subscriber string, query Query) string {
	return subscriber + ":" + query.String()
}

// Start starts the bus.
func (b *Bus) Start() error {
	if b.running.Swap(true) {
		return nil
	}
	b.mu.Lock()
	b.stopCh = make(chan struct{})
	b.mu.Unlock()
	return nil
}

// Stop stops the bus and closes all subscription channels. Events still
// queued for a subscriber are discarded.
func (b *Bus) Stop() error {
	if !b.running.Swap(false) {
		return nil
	}

	b.mu.Lock()
	close(b.stopCh)
	for _, sub := range b.subscriptions {
		sub.cancel()
	}
	b.subscriptions = make(map[string]*subscription)
	b.mu.Unlock()

	b.wg.Wait()
	return nil
}

// IsRunning returns true if the bus is running.
func (b *Bus) IsRunning() bool {
	return b.running.Load()
}

// Subscribe creates a subscription for events matching query. The
// returned channel is closed when the subscription is cancelled, ctx is
// done or the bus stops.
func (b *Bus) Subscribe(ctx context.Context, subscriber string, query Query) (<-chan Event, error) {
	if !b.running.Load() {
		return nil, ErrBusNotRunning
	}

	key := subscriptionKey(subscriber, query)

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.subscriptions[key]; exists {
		return nil, ErrSubscriberExists
	}
	if b.config.MaxSubscribers > 0 && len(b.subscriptions) >= b.config.MaxSubscribers {
		return nil, ErrTooManySubscribers
	}

	sub := &subscription{
		subscriber: subscriber,
		query:      query,
		out:        make(chan Event, b.config.BufferSize),
		notify:     make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
	b.subscriptions[key] = sub

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		sub.pump()
	}()

	if ctx != nil && ctx.Done() != nil {
		stopCh := b.stopCh
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			select {
			case <-ctx.Done():
				_ = b.Unsubscribe(context.Background(), subscriber, query)
			case <-stopCh:
			case <-sub.done:
			}
		}()
	}

	return sub.out, nil
}

// Unsubscribe removes a subscription.
func (b *Bus) Unsubscribe(_ context.Context, subscriber string, query Query) error {
	key := subscriptionKey(subscriber, query)

	b.mu.Lock()
	defer b.mu.Unlock()

	sub, exists := b.subscriptions[key]
	if !exists {
		return ErrSubscriberNotFound
	}
	sub.cancel()
	delete(b.subscriptions, key)
	return nil
}

// UnsubscribeAll removes all subscriptions of a subscriber.
func (b *Bus) UnsubscribeAll(_ context.Context, subscriber string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for key, sub := range b.subscriptions {
		if sub.subscriber == subscriber {
			sub.cancel()
			delete(b.subscriptions, key)
		}
	}
	return nil
}

// Publish queues an event for every matching subscriber and returns the
// sequence number assigned to it. It never blocks on subscribers.
func (b *Bus) Publish(_ context.Context, event Event) (uint64, error) {
	if !b.running.Load() {
		return 0, ErrBusNotRunning
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.seq++
	event.Seq = b.seq
	for _, sub := range b.subscriptions {
		if sub.query.Matches(event) {
			sub.push(event)
		}
	}
	return event.Seq, nil
}

// NumSubscribers returns the number of active subscriptions.
func (b *Bus) NumSubscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscriptions)
}

func (s *subscription) push(event Event) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, event)
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *subscription) cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		s.queue = nil
		close(s.done)
	}
}

// pump moves queued events into the subscriber channel until cancelled.
func (s *subscription) pump() {
	defer close(s.out)
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.mu.Unlock()
			select {
			case <-s.notify:
				continue
			case <-s.done:
				return
			}
		}
		event := s.queue[0]
		s.queue[0] = Event{}
		s.queue = s.queue[1:]
		s.mu.Unlock()

		select {
		case s.out <- event:
		case <-s.done:
			return
		}
	}
}
