package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"tokenexchange/config"
	"tokenexchange/core/events"
	"tokenexchange/core/types"
)

// ErrClosed is returned by Run after Close.
var ErrClosed = errors.New("publisher: closed")

// MessageWriter is the subset of *kafka.Writer the publisher uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Envelope is the JSON value written for each committed event.
type Envelope struct {
	Type        string            `json:"type"`
	Attributes  map[string]string `json:"attributes"`
	PublishedAt time.Time         `json:"publishedAt"`
}

// KafkaPublisher streams committed events to a topic. Emit never blocks the
// executor; events are queued and written by Run.
type KafkaPublisher struct {
	writer MessageWriter
	logger *slog.Logger
	queue  chan kafka.Message
	now    func() time.Time

	mu      sync.Mutex
	closed  bool
	dropped uint64
}

// NewKafkaPublisher builds a publisher over a kafka-go writer for cfg.
func NewKafkaPublisher(cfg config.Kafka, logger *slog.Logger) *KafkaPublisher {
	batch := cfg.BatchTimeout.Duration
	if batch <= 0 {
		batch = 50 * time.Millisecond
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: batch,
		Transport:    &kafka.Transport{ClientID: cfg.ClientID},
	}
	return New(writer, logger, 1024)
}

// New wraps writer with a queue of the given capacity.
func New(writer MessageWriter, logger *slog.Logger, capacity int) *KafkaPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	if capacity <= 0 {
		capacity = 1024
	}
	return &KafkaPublisher{
		writer: writer,
		logger: logger,
		queue:  make(chan kafka.Message, capacity),
		now:    time.Now,
	}
}

// Emit implements events.Emitter.
func (p *KafkaPublisher) Emit(ev events.Event) {
	if p == nil || ev == nil {
		return
	}
	msg, err := p.encode(ev.Event())
	if err != nil {
		p.logger.Warn("encode event", slog.String("type", ev.EventType()), slog.Any("error", err))
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	select {
	case p.queue <- msg:
	default:
		p.dropped++
		p.logger.Warn("event queue full, dropping event", slog.String("type", ev.EventType()))
	}
}

// Dropped reports how many events were discarded because the queue was full.
func (p *KafkaPublisher) Dropped() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dropped
}

func (p *KafkaPublisher) encode(ev *types.Event) (kafka.Message, error) {
	if ev == nil {
		return kafka.Message{}, fmt.Errorf("nil event")
	}
	now := p.now().UTC()
	value, err := json.Marshal(Envelope{Type: ev.Type, Attributes: ev.Attributes, PublishedAt: now})
	if err != nil {
		return kafka.Message{}, err
	}
	return kafka.Message{
		Key:   []byte(messageKey(ev)),
		Value: value,
		Time:  now,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(ev.Type)},
		},
	}, nil
}

// messageKey keeps events of one contract on one partition.
func messageKey(ev *types.Event) string {
	for _, attr := range []string{"exchange", "token", "feed"} {
		if v := ev.Attr(attr); v != "" {
			return v
		}
	}
	return ev.Type
}

// Run drains the queue into the writer until ctx is cancelled or Close is
// called. Queued messages are flushed before returning.
func (p *KafkaPublisher) Run(ctx context.Context) error {
	for {
		select {
		case msg, ok := <-p.queue:
			if !ok {
				return ErrClosed
			}
			p.write(ctx, msg)
		case <-ctx.Done():
			p.drain()
			return ctx.Err()
		}
	}
}

func (p *KafkaPublisher) write(ctx context.Context, msg kafka.Message) {
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Error("kafka write failed", slog.String("key", string(msg.Key)), slog.Any("error", err))
	}
}

func (p *KafkaPublisher) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		select {
		case msg, ok := <-p.queue:
			if !ok {
				return
			}
			p.write(ctx, msg)
		default:
			return
		}
	}
}

// Close stops accepting events and closes the writer.
func (p *KafkaPublisher) Close() error {
	if p == nil {
		return nil
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()
	return p.writer.Close()
}
