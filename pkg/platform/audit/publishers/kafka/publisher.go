// Package kafka publishes audit events to a Kafka topic with franz-go.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	audit "github.com/grupoexnihilo/nexus-ecclesia/pkg/platform/audit"
)

// ErrCircuitOpen is returned while produce attempts are suspended.
var ErrCircuitOpen = errors.New("audit kafka publisher: circuit open")

const defaultProduceTimeout = 5 * time.Second

// Publisher produces one record per audit event, keyed by user id so a user's
// events stay ordered within a partition.
type Publisher struct {
	client  *kgo.Client
	topic   string
	timeout time.Duration
	breaker *circuitBreaker
	logger  *slog.Logger
}

type Option func(*Publisher)

func WithProduceTimeout(d time.Duration) Option {
	return func(p *Publisher) {
		if d > 0 {
			p.timeout = d
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

// WithCircuitBreaker overrides the failure threshold and cooldown.
func WithCircuitBreaker(threshold int, cooldown time.Duration) Option {
	return func(p *Publisher) {
		p.breaker = newCircuitBreaker(threshold, cooldown)
	}
}

// New connects a producer to brokers. Call Close when shutting down.
func New(brokers []string, topic string, opts ...Option) (*Publisher, error) {
	if len(brokers) == 0 {
		return nil, errors.New("audit kafka publisher: no brokers")
	}
	if topic == "" {
		return nil, errors.New("audit kafka publisher: topic is required")
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.ProducerLinger(10*time.Millisecond),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	p := &Publisher{
		client:  client,
		topic:   topic,
		timeout: defaultProduceTimeout,
		breaker: newCircuitBreaker(5, 30*time.Second),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// EnsureTopic creates the audit topic if it does not exist yet.
func (p *Publisher) EnsureTopic(ctx context.Context, partitions int32, replicationFactor int16) error {
	adm := kadm.NewClient(p.client)
	resp, err := adm.CreateTopic(ctx, partitions, replicationFactor, nil, p.topic)
	if err != nil {
		return fmt.Errorf("create audit topic: %w", err)
	}
	if resp.Err != nil && !errors.Is(resp.Err, kerr.TopicAlreadyExists) {
		return fmt.Errorf("create audit topic %s: %w", p.topic, resp.Err)
	}
	return nil
}

// Emit produces the event synchronously.
func (p *Publisher) Emit(ctx context.Context, event audit.Event) error {
	if !p.breaker.Allow() {
		return ErrCircuitOpen
	}
	rec, err := newRecord(p.topic, audit.Enrich(ctx, event))
	if err != nil {
		return err
	}

	produceCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	if err := p.client.ProduceSync(produceCtx, rec).FirstErr(); err != nil {
		p.breaker.RecordFailure()
		if p.breaker.IsOpen() {
			p.logger.WarnContext(ctx, "audit kafka circuit opened", "topic", p.topic, "error", err)
		}
		return fmt.Errorf("produce audit event: %w", err)
	}
	p.breaker.RecordSuccess()
	return nil
}

// Close flushes buffered records and closes the client.
func (p *Publisher) Close() {
	p.client.Close()
}

func newRecord(topic string, event audit.Event) (*kgo.Record, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("marshal audit event: %w", err)
	}
	return &kgo.Record{
		Topic: topic,
		Key:   []byte(event.UserID),
		Value: payload,
		Headers: []kgo.RecordHeader{
			{Key: "action", Value: []byte(event.Action)},
			{Key: "category", Value: []byte(event.Category)},
		},
		Timestamp: event.Timestamp,
	}, nil
}
