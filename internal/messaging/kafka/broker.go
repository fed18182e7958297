// Package kafka carries order events over Kafka with segmentio/kafka-go.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"
	"golang.org/x/sync/errgroup"

	"github.com/nsridhar76/orderpulse/internal/messaging"
)

const correlationHeader = "orderpulse-correlation-id"

type Config struct {
	Brokers           []string
	Partitions        int
	ReplicationFactor int
}

// Broker owns one async writer for fire-and-forget publishing and one
// synchronous writer for PublishSync. Readers are created per Subscribe.
type Broker struct {
	cfg   Config
	log   *slog.Logger
	async *kafka.Writer
	syncw *kafka.Writer

	seq     atomic.Uint64
	pending sync.Map // correlation id -> func(messaging.Message, error)
}

var _ messaging.Broker = (*Broker)(nil)

func NewBroker(cfg Config, log *slog.Logger) *Broker {
	if log == nil {
		log = slog.Default()
	}
	if cfg.Partitions < 1 {
		cfg.Partitions = 3
	}
	if cfg.ReplicationFactor < 1 {
		cfg.ReplicationFactor = 1
	}
	b := &Broker{cfg: cfg, log: log.With("component", "kafka")}
	b.async = &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 10 * time.Millisecond,
		Async:        true,
		Completion:   b.complete,
	}
	b.syncw = &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 10 * time.Millisecond,
		Completion:   b.complete,
	}
	return b
}

// EnsureTopic creates topic on the cluster controller if it does not exist.
func (b *Broker) EnsureTopic(ctx context.Context, topic string) error {
	if len(b.cfg.Brokers) == 0 {
		return errors.New("kafka: no brokers configured")
	}
	conn, err := kafka.DialContext(ctx, "tcp", b.cfg.Brokers[0])
	if err != nil {
		return fmt.Errorf("dial kafka: %w", err)
	}
	defer conn.Close()

	controller, err := conn.Controller()
	if err != nil {
		return fmt.Errorf("find kafka controller: %w", err)
	}
	cc, err := kafka.DialContext(ctx, "tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	if err != nil {
		return fmt.Errorf("dial kafka controller: %w", err)
	}
	defer cc.Close()

	err = cc.CreateTopics(kafka.TopicConfig{
		Topic:             topic,
		NumPartitions:     b.cfg.Partitions,
		ReplicationFactor: b.cfg.ReplicationFactor,
	})
	if err != nil && !errors.Is(err, kafka.TopicAlreadyExists) {
		return fmt.Errorf("create topic %s: %w", topic, err)
	}
	b.log.InfoContext(ctx, "topic ready", "topic", topic, "partitions", b.cfg.Partitions)
	return nil
}

func (b *Broker) Publish(ctx context.Context, msg messaging.Message, done func(messaging.Message, error)) {
	km := toKafka(msg)
	if done != nil {
		b.pending.Store(b.correlate(&km), done)
	}
	// With Async set, WriteMessages only fails on invalid input or a closed
	// writer; delivery errors arrive through complete.
	if err := b.async.WriteMessages(ctx, km); err != nil {
		b.finish(km, err)
	}
}

func (b *Broker) complete(msgs []kafka.Message, err error) {
	for _, m := range msgs {
		b.finish(m, err)
	}
}

func (b *Broker) finish(m kafka.Message, err error) {
	for _, h := range m.Headers {
		if h.Key != correlationHeader {
			continue
		}
		if cb, ok := b.pending.LoadAndDelete(string(h.Value)); ok {
			cb.(func(messaging.Message, error))(fromKafka(m), err)
		}
		return
	}
}

// PublishSync returns the message as acknowledged, with its partition and
// offset. kafka-go only records those on its own batch copies, which reach
// Completion before WriteMessages returns.
func (b *Broker) PublishSync(ctx context.Context, msg messaging.Message) (messaging.Message, error) {
	km := toKafka(msg)
	id := b.correlate(&km)
	acked := make(chan messaging.Message, 1)
	b.pending.Store(id, func(m messaging.Message, err error) {
		if err == nil {
			acked <- m
		}
	})
	if err := b.syncw.WriteMessages(ctx, km); err != nil {
		b.pending.Delete(id)
		return msg, fmt.Errorf("kafka write: %w", err)
	}
	select {
	case m := <-acked:
		return m, nil
	default:
		b.pending.Delete(id)
		return fromKafka(km), nil
	}
}

// correlate tags km with a fresh id that complete uses to find its callback.
func (b *Broker) correlate(km *kafka.Message) string {
	id := strconv.FormatUint(b.seq.Add(1), 10)
	km.Headers = append(km.Headers, kafka.Header{Key: correlationHeader, Value: []byte(id)})
	return id
}

// partitionCount reads the topic's partition count, falling back to the
// configured value when metadata is unavailable.
func (b *Broker) partitionCount(ctx context.Context, topic string) int {
	conn, err := kafka.DialContext(ctx, "tcp", b.cfg.Brokers[0])
	if err != nil {
		return b.cfg.Partitions
	}
	defer conn.Close()
	parts, err := conn.ReadPartitions(topic)
	if err != nil || len(parts) == 0 {
		return b.cfg.Partitions
	}
	return len(parts)
}

// Subscribe starts one group member per worker. Kafka's group protocol gives
// each member a disjoint set of partitions, and members beyond the
// partition count would sit idle, so workers is capped there.
func (b *Broker) Subscribe(ctx context.Context, topic, group string, concurrency int, h messaging.Handler) error {
	if len(b.cfg.Brokers) == 0 {
		return errors.New("kafka: no brokers configured")
	}
	workers := min(max(concurrency, 1), b.partitionCount(ctx, topic))

	g, ctx := errgroup.WithContext(ctx)
	for w := 0; w < workers; w++ {
		r := kafka.NewReader(kafka.ReaderConfig{
			Brokers:        b.cfg.Brokers,
			GroupID:        group,
			Topic:          topic,
			MinBytes:       1,
			MaxBytes:       10e6,
			MaxWait:        500 * time.Millisecond,
			StartOffset:    kafka.FirstOffset,
			CommitInterval: 0,
		})
		w := w
		g.Go(func() error {
			defer r.Close()
			return b.consume(ctx, r, w, h)
		})
	}
	return g.Wait()
}

func (b *Broker) consume(ctx context.Context, r *kafka.Reader, worker int, h messaging.Handler) error {
	log := b.log.With("worker", worker)
	for {
		m, err := r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.ErrorContext(ctx, "fetch failed", "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}
		h(ctx, fromKafka(m))
		if err := r.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
			log.ErrorContext(ctx, "commit failed", "partition", m.Partition, "offset", m.Offset, "error", err)
		}
	}
}

func (b *Broker) Close() error {
	return errors.Join(b.async.Close(), b.syncw.Close())
}

func toKafka(m messaging.Message) kafka.Message {
	return kafka.Message{Topic: m.Topic, Key: m.Key, Value: m.Value, Time: m.Time}
}

func fromKafka(m kafka.Message) messaging.Message {
	return messaging.Message{
		Topic:     m.Topic,
		Key:       m.Key,
		Value:     m.Value,
		Partition: m.Partition,
		Offset:    m.Offset,
		Time:      m.Time,
	}
}
