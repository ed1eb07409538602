package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/kjall/promptfold/pkg/logging"
)

// TopicConfig controls replay behavior for one topic. A buffer size of
// zero disables replay entirely; with ReplayAll false only the latest
// buffered event is handed to a new subscriber, which is what the stats
// stream wants.
type TopicConfig struct {
	BufferSize int
	ReplayAll  bool
}

// SSEPublisher fans events out to SSE subscribers. Publishing never
// blocks: a subscriber that cannot keep up loses events rather than
// stalling the transform path.
type SSEPublisher struct {
	mu     sync.RWMutex
	subs   map[string]map[*sseSubscription]bool
	seq    map[string]int
	buffer map[string][]Event
	config map[string]TopicConfig
	closed bool
}

// NewSSEPublisher creates an empty publisher. Topics come into existence
// on first use; ConfigureTopic is only needed when replay is wanted.
func NewSSEPublisher() *SSEPublisher {
	return &SSEPublisher{
		subs:   make(map[string]map[*sseSubscription]bool),
		seq:    make(map[string]int),
		buffer: make(map[string][]Event),
		config: make(map[string]TopicConfig),
	}
}

// ConfigureTopic sets the replay configuration for a topic.
func (p *SSEPublisher) ConfigureTopic(topic string, cfg TopicConfig) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.config[topic] = cfg
}

// Subscribe registers a subscriber on a topic and replays buffered
// events per the topic configuration. Cancelling ctx closes the
// subscription.
func (p *SSEPublisher) Subscribe(ctx context.Context, topic string) (Subscription, error) {
	p.mu.Lock()

	if p.closed {
		p.mu.Unlock()
		return nil, fmt.Errorf("publisher is closed")
	}

	sub := &sseSubscription{
		topic:     topic,
		events:    make(chan Event, 100),
		publisher: p,
	}
	if p.subs[topic] == nil {
		p.subs[topic] = make(map[*sseSubscription]bool)
	}
	p.subs[topic][sub] = true

	cfg := p.config[topic]
	replay := make([]Event, len(p.buffer[topic]))
	copy(replay, p.buffer[topic])

	p.mu.Unlock()

	if len(replay) > 0 {
		if !cfg.ReplayAll {
			replay = replay[len(replay)-1:]
		}
		for _, event := range replay {
			select {
			case sub.events <- event:
			default:
				logging.Warn("could not replay event to new subscriber", "topic", topic)
			}
		}
		logging.Debug("replayed events to new subscriber", "count", len(replay), "topic", topic)
	}

	go func() {
		<-ctx.Done()
		sub.Close()
	}()

	return sub, nil
}

// Publish marshals data and sends it to every subscriber of the topic.
// Events carry a per-topic sequence number so clients can detect drops.
func (p *SSEPublisher) Publish(topic string, eventType string, data interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return fmt.Errorf("publisher is closed")
	}

	p.seq[topic]++

	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal event data: %w", err)
	}
	event := Event{
		Topic:   topic,
		Type:    eventType,
		Data:    payload,
		Version: p.seq[topic],
	}

	if cfg := p.config[topic]; cfg.BufferSize > 0 {
		buf := append(p.buffer[topic], event)
		if len(buf) > cfg.BufferSize {
			buf = buf[len(buf)-cfg.BufferSize:]
		}
		p.buffer[topic] = buf
	}

	for sub := range p.subs[topic] {
		select {
		case sub.events <- event:
		default:
			logging.Warn("subscription channel full, dropping event", "topic", topic)
		}
	}
	return nil
}

// Close shuts down the publisher and every subscription.
func (p *SSEPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	for _, subs := range p.subs {
		for sub := range subs {
			close(sub.events)
		}
	}
	p.subs = make(map[string]map[*sseSubscription]bool)
	return nil
}

func (p *SSEPublisher) unsubscribe(sub *sseSubscription) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if subs := p.subs[sub.topic]; subs != nil {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(p.subs, sub.topic)
		}
	}
}

type sseSubscription struct {
	topic     string
	events    chan Event
	publisher *SSEPublisher
	closed    bool
	mu        sync.Mutex
}

func (s *sseSubscription) Topic() string { return s.topic }

func (s *sseSubscription) Events() <-chan Event { return s.events }

func (s *sseSubscription) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.publisher.unsubscribe(s)
	return nil
}

// WriteSSE writes one event in wire format: "data: {json}\n\n".
func WriteSSE(w io.Writer, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", payload)
	return err
}
