// Package eventbus publishes engine events (idle alerts, recalculation progress)
// to Kafka so downstream collaborators can consume them.
package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

var ErrPublisherClosed = errors.New("publisher closed")

// Publisher sends a keyed JSON payload to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic, key string, payload any) error
	Close() error
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Config struct {
	Brokers      []string
	WriteTimeout time.Duration
}

// KafkaPublisher writes one message per Publish call. Writers are created lazily per topic.
type KafkaPublisher struct {
	cfg       Config
	newWriter func(topic string) messageWriter

	mu      sync.Mutex
	writers map[string]messageWriter
	closed  bool
}

func NewKafkaPublisher(cfg Config) (*KafkaPublisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("at least one broker is required")
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	p := newPublisher(cfg, func(topic string) messageWriter {
		return &kafka.Writer{
			Addr:                   kafka.TCP(cfg.Brokers...),
			Topic:                  topic,
			RequiredAcks:           kafka.RequireOne,
			Balancer:               &kafka.Hash{},
			AllowAutoTopicCreation: true,
			BatchTimeout:           50 * time.Millisecond,
			WriteTimeout:           cfg.WriteTimeout,
		}
	})
	slog.Info("Kafka publisher configured", "brokers", strings.Join(cfg.Brokers, ","))
	return p, nil
}

func newPublisher(cfg Config, factory func(topic string) messageWriter) *KafkaPublisher {
	return &KafkaPublisher{
		cfg:       cfg,
		newWriter: factory,
		writers:   make(map[string]messageWriter),
	}
}

func (p *KafkaPublisher) writer(topic string) (messageWriter, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrPublisherClosed
	}
	w, ok := p.writers[topic]
	if !ok {
		w = p.newWriter(topic)
		p.writers[topic] = w
	}
	return w, nil
}

// Publish implements Publisher.
func (p *KafkaPublisher) Publish(ctx context.Context, topic, key string, payload any) error {
	if strings.TrimSpace(topic) == "" {
		return fmt.Errorf("topic must not be empty")
	}
	value, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	w, err := p.writer(topic)
	if err != nil {
		return err
	}
	msg := kafka.Message{Key: []byte(key), Value: value, Time: time.Now().UTC()}
	if err := w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	return nil
}

// Close flushes and closes every topic writer.
func (p *KafkaPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	var errs []error
	for topic, w := range p.writers {
		if err := w.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close writer %s: %w", topic, err))
		}
	}
	return errors.Join(errs...)
}

// Noop drops every event. Used when no brokers are configured.
type Noop struct{}

func (Noop) Publish(context.Context, string, string, any) error { return nil }
func (Noop) Close() error                                       { return nil }

// New returns a Kafka publisher when brokers are configured, Noop otherwise.
func New(cfg Config) (Publisher, error) {
	if len(cfg.Brokers) == 0 {
		slog.Info("Kafka brokers not configured, event publishing disabled")
		return Noop{}, nil
	}
	return NewKafkaPublisher(cfg)
}
