package testutil

import (
	"context"
	"fmt"
	"slices"
	"sync"
)

// Message is one payload captured by MockPublisher.
type Message struct {
	Subject string
	Data    []byte
	// Stream is true when the message went through PublishToStream.
	Stream bool
}

// MockPublisher is an in-memory stand-in for natsclient.Client's publish
// side. It records every message, delivers to subject handlers and can be
// told to fail. Safe for concurrent use.
type MockPublisher struct {
	mu            sync.RWMutex
	messages      []Message
	subscriptions map[string][]func(context.Context, []byte)
	failures      int
	failErr       error
	closed        bool
}

// NewMockPublisher creates an empty MockPublisher.
func NewMockPublisher() *MockPublisher {
	return &MockPublisher{subscriptions: make(map[string][]func(context.Context, []byte))}
}

// FailNext makes the next n publishes return err.
func (p *MockPublisher) FailNext(n int, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures = n
	p.failErr = err
}

// Publish records a core NATS publish.
func (p *MockPublisher) Publish(ctx context.Context, subject string, data []byte) error {
	return p.record(ctx, Message{Subject: subject, Data: data})
}

// PublishToStream records a JetStream publish.
func (p *MockPublisher) PublishToStream(ctx context.Context, subject string, data []byte) error {
	return p.record(ctx, Message{Subject: subject, Data: data, Stream: true})
}

func (p *MockPublisher) record(ctx context.Context, m Message) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return fmt.Errorf("publisher is closed")
	}
	if p.failures > 0 {
		p.failures--
		err := p.failErr
		p.mu.Unlock()
		return err
	}

	m.Data = append([]byte(nil), m.Data...)
	p.messages = append(p.messages, m)
	handlers := slices.Clone(p.subscriptions[m.Subject])
	p.mu.Unlock()

	// Handlers run outside the lock so they may publish.
	for _, handler := range handlers {
		handler(ctx, m.Data)
	}
	return nil
}

// Subscribe registers handler for an exact subject.
func (p *MockPublisher) Subscribe(subject string, handler func(context.Context, []byte)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subscriptions[subject] = append(p.subscriptions[subject], handler)
}

// Messages returns a copy of everything published, in order.
func (p *MockPublisher) Messages() []Message {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]Message(nil), p.messages...)
}

// Count returns the number of messages published on subject.
func (p *MockPublisher) Count(subject string) int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	n := 0
	for _, m := range p.messages {
		if m.Subject == subject {
			n++
		}
	}
	return n
}

// Clear forgets recorded messages.
func (p *MockPublisher) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = nil
}

// Close makes later publishes fail.
func (p *MockPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}
