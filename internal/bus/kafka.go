package bus

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

// Envelope is the wire format of events forwarded to Kafka.
type Envelope struct {
	ID        string    `json:"id"`
	Type      Topic     `json:"type"`
	Source    string    `json:"source,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Payload   Event     `json:"payload"`
}

// MessageWriter is the part of *kafka.Writer the sink needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewKafkaWriter builds a synchronous writer for a comma-separated broker list.
func NewKafkaWriter(brokers, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(strings.Split(brokers, ",")...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		Async:        false,
		BatchTimeout: 50 * time.Millisecond,
	}
}

// KafkaSink forwards bus events to a Kafka topic. Events are buffered so that
// a slow broker never blocks bus delivery; when the buffer is full, events are
// dropped and logged.
type KafkaSink struct {
	w       MessageWriter
	source  string
	buf     chan kafka.Message
	logger  *slog.Logger
	dropped int
	mu      sync.Mutex

	// FlushTimeout bounds how long Run keeps writing buffered events after
	// its context is cancelled.
	FlushTimeout time.Duration
}

// DefaultFlushTimeout is the FlushTimeout of a new sink.
const DefaultFlushTimeout = 5 * time.Second

// NewKafkaSink creates a sink. source is stamped on every envelope.
func NewKafkaSink(w MessageWriter, source string, bufSize int) *KafkaSink {
	if bufSize <= 0 {
		bufSize = 256
	}
	return &KafkaSink{
		w:      w,
		source: source,
		buf:    make(chan kafka.Message, bufSize),
		logger: slog.Default(),

		FlushTimeout: DefaultFlushTimeout,
	}
}

// Attach subscribes the sink to every topic of b.
func (s *KafkaSink) Attach(b *Bus) func() {
	return b.SubscribeAll(s.handle)
}

func (s *KafkaSink) handle(ev Event) {
	env := Envelope{
		ID:        uuid.NewString(),
		Type:      ev.Topic(),
		Source:    s.source,
		Timestamp: time.Now().UTC(),
		Payload:   ev,
	}
	value, err := json.Marshal(env)
	if err != nil {
		s.logger.Warn("KafkaSink: marshal envelope", "topic", ev.Topic(), "error", err)
		return
	}
	msg := kafka.Message{
		Value:   value,
		Headers: []kafka.Header{{Key: "type", Value: []byte(ev.Topic())}},
		Time:    env.Timestamp,
	}
	if scoped, ok := ev.(scriptScoped); ok {
		msg.Key = []byte(scoped.scriptKey())
	}

	select {
	case s.buf <- msg:
	default:
		s.drop(1)
		s.logger.Warn("KafkaSink: buffer full, dropping event", "topic", ev.Topic())
	}
}

func (s *KafkaSink) drop(n int) {
	s.mu.Lock()
	s.dropped += n
	s.mu.Unlock()
}

// Run writes buffered events until ctx is cancelled, then writes what is
// still buffered for at most FlushTimeout. It should be run as a goroutine.
func (s *KafkaSink) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			s.flush()
			return ctx.Err()
		case msg := <-s.buf:
			if err := s.w.WriteMessages(ctx, msg); err != nil {
				if ctx.Err() != nil {
					s.flush(msg)
					return ctx.Err()
				}
				s.drop(1)
				s.logger.Warn("KafkaSink: write failed", "error", err)
			}
		}
	}
}

// flush writes pending and whatever is buffered in one batch. Events that
// cannot be written before the deadline count as dropped.
func (s *KafkaSink) flush(pending ...kafka.Message) {
collect:
	for {
		select {
		case msg := <-s.buf:
			pending = append(pending, msg)
		default:
			break collect
		}
	}
	if len(pending) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.FlushTimeout)
	defer cancel()
	if err := s.w.WriteMessages(ctx, pending...); err != nil {
		s.drop(len(pending))
		s.logger.Warn("KafkaSink: flush on shutdown failed", "events", len(pending), "error", err)
	}
}

// Dropped returns the number of events that never reached Kafka, because the
// buffer was full or a write failed.
func (s *KafkaSink) Dropped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Close closes the underlying writer.
func (s *KafkaSink) Close() error {
	return s.w.Close()
}
