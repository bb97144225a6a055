// Package queryevents publishes one Kafka event per answered query.
package queryevents

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"

	"github.com/mohammed-shakir/feature-aggregator/internal/cache/keys"
	"github.com/mohammed-shakir/feature-aggregator/internal/core/observability"
)

const DefaultQueueSize = 1024

type Event struct {
	Layer      string    `json:"layer"`
	Feature    string    `json:"feature"`
	Metric     string    `json:"metric"`
	Class      string    `json:"class,omitempty"`
	Path       string    `json:"path,omitempty"`
	Groups     int       `json:"groups"`
	Records    int       `json:"records"`
	DurationMS float64   `json:"duration_ms"`
	Outcome    string    `json:"outcome"`
	RequestID  string    `json:"request_id,omitempty"`
	TS         time.Time `json:"ts"`
}

// Sink accepts events without blocking the caller.
type Sink interface {
	Publish(ev Event)
	Close() error
}

type Nop struct{}

func (Nop) Publish(Event) {}

func (Nop) Close() error { return nil }

type Publisher struct {
	topic   string
	events  chan Event
	prod    sarama.AsyncProducer
	log     *slog.Logger
	stopped chan struct{}
	errDone chan struct{}
}

func NewPublisher(brokers []string, topic string, queueSize int, logger *slog.Logger) (*Publisher, error) {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_5_0_0
	cfg.ClientID = "feature-aggregator"
	cfg.Producer.Return.Errors = true
	cfg.Producer.Return.Successes = false
	cfg.Producer.RequiredAcks = sarama.WaitForLocal

	prod, err := sarama.NewAsyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("queryevents: create async producer: %w", err)
	}
	return NewWithProducer(prod, topic, queueSize, logger), nil
}

// NewWithProducer starts a publisher on an existing producer. The
// producer must return errors and must not return successes.
func NewWithProducer(prod sarama.AsyncProducer, topic string, queueSize int, logger *slog.Logger) *Publisher {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	p := &Publisher{
		topic:   topic,
		events:  make(chan Event, queueSize),
		prod:    prod,
		log:     logger,
		stopped: make(chan struct{}),
		errDone: make(chan struct{}),
	}

	go func() {
		defer close(p.stopped)
		for ev := range p.events {
			b, err := json.Marshal(ev)
			if err != nil {
				p.log.Warn("queryevents: marshal", "err", err)
				observability.IncQueryEvent("marshal_error")
				continue
			}
			p.prod.Input() <- &sarama.ProducerMessage{
				Topic: p.topic,
				Key:   sarama.StringEncoder(keys.QueryKey(ev.Layer, ev.Feature, ev.Metric, ev.Class)),
				Value: sarama.ByteEncoder(b),
			}
		}
	}()

	go func() {
		defer close(p.errDone)
		for err := range p.prod.Errors() {
			if err != nil {
				p.log.Warn("queryevents: producer error", "err", err.Err, "topic", p.topic)
				observability.IncQueryEvent("error")
			}
		}
	}()

	return p
}

// Publish enqueues ev, dropping it when the queue is full.
func (p *Publisher) Publish(ev Event) {
	if ev.TS.IsZero() {
		ev.TS = time.Now().UTC()
	}
	select {
	case p.events <- ev:
		observability.IncQueryEvent("enqueued")
	default:
		observability.IncQueryEvent("dropped")
	}
}

// Close flushes queued events and shuts the producer down. Publish must
// not be called afterwards.
func (p *Publisher) Close() error {
	close(p.events)
	<-p.stopped

	err := p.prod.Close()
	<-p.errDone
	if err != nil {
		return fmt.Errorf("queryevents: close producer: %w", err)
	}
	return nil
}
