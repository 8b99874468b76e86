package bus

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/agentarena/agentarena/internal/common/logger"
)

// MemoryEventBus implements EventBus with in-process dispatch. It supports
// NATS-style subject wildcards so the same subjects work against either
// implementation.
type MemoryEventBus struct {
	mu          sync.RWMutex
	subscribers []*memorySubscription
	queues      map[string]*queueGroup
	logger      *logger.Logger
	closed      bool
}

// memorySubscription is one registered handler, optionally part of a queue group.
type memorySubscription struct {
	bus     *MemoryEventBus
	subject string
	pattern *regexp.Regexp // nil when the subject has no wildcards
	handler EventHandler
	queue   string // empty for regular subscriptions
	active  bool
	mu      sync.Mutex
}

// queueGroup delivers each event to exactly one of its members (round-robin).
type queueGroup struct {
	members   []*memorySubscription
	nextIndex int
	mu        sync.Mutex
}

// NewMemoryEventBus creates a new in-memory event bus
func NewMemoryEventBus(log *logger.Logger) *MemoryEventBus {
	return &MemoryEventBus{
		queues: make(map[string]*queueGroup),
		logger: log,
	}
}

func (s *memorySubscription) matches(subject string) bool {
	if s.pattern != nil {
		return s.pattern.MatchString(subject)
	}
	return s.subject == subject
}

func (s *memorySubscription) isActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

func (s *memorySubscription) queueKey() string {
	return s.queue + ":" + s.subject
}

// Unsubscribe removes the subscription
func (s *memorySubscription) Unsubscribe() error {
	s.mu.Lock()
	s.active = false
	s.mu.Unlock()

	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()

	for i, sub := range s.bus.subscribers {
		if sub == s {
			s.bus.subscribers = append(s.bus.subscribers[:i], s.bus.subscribers[i+1:]...)
			break
		}
	}

	if s.queue != "" {
		if qg, ok := s.bus.queues[s.queueKey()]; ok {
			qg.mu.Lock()
			for i, sub := range qg.members {
				if sub == s {
					qg.members = append(qg.members[:i], qg.members[i+1:]...)
					break
				}
			}
			qg.mu.Unlock()
		}
	}

	return nil
}

// IsValid returns whether the subscription is still active
func (s *memorySubscription) IsValid() bool {
	return s.isActive()
}

// Publish sends an event to all matching subscribers. Handlers run on their
// own goroutines; a failing handler is logged and never affects the publisher.
func (b *MemoryEventBus) Publish(ctx context.Context, subject string, event *Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return fmt.Errorf("event bus is closed")
	}

	// Each queue group receives the event at most once.
	deliveredQueues := make(map[string]bool)

	for _, sub := range b.subscribers {
		if !sub.isActive() || !sub.matches(subject) {
			continue
		}

		if sub.queue != "" {
			key := sub.queueKey()
			if !deliveredQueues[key] {
				deliveredQueues[key] = true
				b.deliverToQueue(ctx, key, subject, event)
			}
			continue
		}

		go func(s *memorySubscription, e *Event) {
			if err := s.handler(ctx, e); err != nil {
				b.logger.Error("Event handler error",
					zap.String("subject", subject),
					zap.Error(err))
			}
		}(sub, event)
	}

	b.logger.Debug("Published event",
		zap.String("subject", subject),
		zap.String("event_id", event.ID),
		zap.String("event_type", event.Type))

	return nil
}

// Subscribe creates a subscription to a subject pattern
func (b *MemoryEventBus) Subscribe(subject string, handler EventHandler) (Subscription, error) {
	return b.subscribe(subject, "", handler)
}

// QueueSubscribe creates a queue subscription for load balancing.
// Only one subscriber in the queue group receives each event.
func (b *MemoryEventBus) QueueSubscribe(subject, queue string, handler EventHandler) (Subscription, error) {
	return b.subscribe(subject, queue, handler)
}

func (b *MemoryEventBus) subscribe(subject, queue string, handler EventHandler) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, fmt.Errorf("event bus is closed")
	}

	sub := &memorySubscription{
		bus:     b,
		subject: subject,
		pattern: compilePattern(subject),
		handler: handler,
		queue:   queue,
		active:  true,
	}
	b.subscribers = append(b.subscribers, sub)

	if queue != "" {
		key := sub.queueKey()
		if _, ok := b.queues[key]; !ok {
			b.queues[key] = &queueGroup{}
		}
		b.queues[key].members = append(b.queues[key].members, sub)
	}

	b.logger.Debug("Subscribed to subject",
		zap.String("subject", subject),
		zap.String("queue", queue))
	return sub, nil
}

// Close closes the event bus
func (b *MemoryEventBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true

	for _, sub := range b.subscribers {
		sub.mu.Lock()
		sub.active = false
		sub.mu.Unlock()
	}

	b.subscribers = nil
	b.queues = make(map[string]*queueGroup)

	b.logger.Info("Memory event bus closed")
}

// IsConnected returns true (always connected for in-memory)
func (b *MemoryEventBus) IsConnected() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return !b.closed
}

// compilePattern converts a NATS-style pattern to a regex.
// * matches a single token, > matches one or more trailing tokens.
func compilePattern(pattern string) *regexp.Regexp {
	if !strings.Contains(pattern, "*") && !strings.Contains(pattern, ">") {
		return nil
	}

	escaped := regexp.QuoteMeta(pattern)
	escaped = strings.ReplaceAll(escaped, `\*`, `[^.]+`)
	escaped = strings.ReplaceAll(escaped, `\>`, `.+`)

	regex, err := regexp.Compile("^" + escaped + "$")
	if err != nil {
		return nil
	}
	return regex
}

// deliverToQueue hands the event to one active member of the queue group.
func (b *MemoryEventBus) deliverToQueue(ctx context.Context, key, subject string, event *Event) {
	qg, ok := b.queues[key]
	if !ok {
		return
	}

	qg.mu.Lock()
	defer qg.mu.Unlock()

	if len(qg.members) == 0 {
		return
	}

	startIndex := qg.nextIndex
	for i := 0; i < len(qg.members); i++ {
		idx := (startIndex + i) % len(qg.members)
		sub := qg.members[idx]

		if sub.isActive() {
			qg.nextIndex = (idx + 1) % len(qg.members)

			go func(s *memorySubscription, e *Event) {
				if err := s.handler(ctx, e); err != nil {
					b.logger.Error("Queue event handler error",
						zap.String("subject", subject),
						zap.String("queue", key),
						zap.Error(err))
				}
			}(sub, event)
			return
		}
	}
}
