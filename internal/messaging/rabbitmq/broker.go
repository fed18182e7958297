// Package rabbitmq carries order events over RabbitMQ. A topic is a direct
// exchange; each consumer group gets one queue per partition, bound by the
// routing key "p<n>". Single-active-consumer on those queues keeps per-key
// ordering when several processes join the same group.
package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"golang.org/x/sync/errgroup"

	"github.com/nsridhar76/orderpulse/internal/messaging"
)

type Config struct {
	URL        string
	Partitions int
}

type Broker struct {
	cfg  Config
	log  *slog.Logger
	conn *amqp.Connection

	mu  sync.Mutex // serializes publishes on pub so confirms stay ordered
	pub *amqp.Channel

	inflight sync.WaitGroup
}

var _ messaging.Broker = (*Broker)(nil)

// Dial connects with a short retry loop so the service can start alongside
// its broker container.
func Dial(ctx context.Context, cfg Config, log *slog.Logger) (*Broker, error) {
	if log == nil {
		log = slog.Default()
	}
	if cfg.Partitions < 1 {
		cfg.Partitions = 3
	}
	log = log.With("component", "rabbitmq")

	var conn *amqp.Connection
	var err error
	for i := 0; i < 5; i++ {
		conn, err = amqp.Dial(cfg.URL)
		if err == nil {
			break
		}
		log.WarnContext(ctx, "failed to connect to RabbitMQ", "attempt", i+1, "error", err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
	if err != nil {
		return nil, fmt.Errorf("could not connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("could not open channel: %w", err)
	}
	if err := ch.Confirm(false); err != nil {
		conn.Close()
		return nil, fmt.Errorf("could not enable publisher confirms: %w", err)
	}
	return &Broker{cfg: cfg, log: log, conn: conn, pub: ch}, nil
}

func routingKey(partition int) string { return "p" + strconv.Itoa(partition) }

func queueName(topic, group string, partition int) string {
	return topic + "." + group + "." + routingKey(partition)
}

// EnsureTopic declares the exchange for topic and the partition queues of
// every listed group. Messages published before a group's queues exist are
// not retained for it.
func (b *Broker) EnsureTopic(_ context.Context, topic string, groups ...string) error {
	ch, err := b.conn.Channel()
	if err != nil {
		return fmt.Errorf("could not open channel: %w", err)
	}
	defer ch.Close()

	if err := ch.ExchangeDeclare(topic, amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
		return fmt.Errorf("could not declare exchange: %w", err)
	}
	for _, g := range groups {
		if err := b.declareGroup(ch, topic, g); err != nil {
			return err
		}
	}
	return nil
}

func (b *Broker) declareGroup(ch *amqp.Channel, topic, group string) error {
	for p := 0; p < b.cfg.Partitions; p++ {
		q, err := ch.QueueDeclare(
			queueName(topic, group, p),
			true,  // durable
			false, // delete when unused
			false, // exclusive
			false, // no-wait
			amqp.Table{"x-single-active-consumer": true},
		)
		if err != nil {
			return fmt.Errorf("could not declare queue: %w", err)
		}
		if err := ch.QueueBind(q.Name, routingKey(p), topic, false, nil); err != nil {
			return fmt.Errorf("could not bind queue: %w", err)
		}
	}
	return nil
}

func (b *Broker) publish(ctx context.Context, msg messaging.Message) (*amqp.DeferredConfirmation, messaging.Message, error) {
	msg.Partition = messaging.PartitionFor(msg.Key, b.cfg.Partitions)
	if msg.Time.IsZero() {
		msg.Time = time.Now().UTC()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	dc, err := b.pub.PublishWithDeferredConfirmWithContext(ctx,
		msg.Topic,
		routingKey(msg.Partition),
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    string(msg.Key),
			Timestamp:    msg.Time,
			Body:         msg.Value,
		},
	)
	if err != nil {
		return nil, msg, fmt.Errorf("rabbitmq publish: %w", err)
	}
	msg.Offset = int64(dc.DeliveryTag)
	return dc, msg, nil
}

func (b *Broker) Publish(ctx context.Context, msg messaging.Message, done func(messaging.Message, error)) {
	dc, m, err := b.publish(ctx, msg)
	if err != nil {
		if done != nil {
			done(m, err)
		}
		return
	}
	b.inflight.Add(1)
	go func() {
		defer b.inflight.Done()
		err := awaitConfirm(context.WithoutCancel(ctx), dc)
		if done != nil {
			done(m, err)
		}
	}()
}

func (b *Broker) PublishSync(ctx context.Context, msg messaging.Message) (messaging.Message, error) {
	dc, m, err := b.publish(ctx, msg)
	if err != nil {
		return m, err
	}
	return m, awaitConfirm(ctx, dc)
}

func awaitConfirm(ctx context.Context, dc *amqp.DeferredConfirmation) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	ok, err := dc.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("rabbitmq confirm: %w", err)
	}
	if !ok {
		return errors.New("rabbitmq: message nacked by broker")
	}
	return nil
}

type delivery struct {
	d         amqp.Delivery
	partition int
}

// Subscribe runs min(concurrency, partitions) workers. Worker w owns the
// queues of partitions p with p % workers == w and handles them on a single
// goroutine, acknowledging each delivery after the handler returns.
func (b *Broker) Subscribe(ctx context.Context, topic, group string, concurrency int, h messaging.Handler) error {
	if err := b.EnsureTopic(ctx, topic, group); err != nil {
		return err
	}
	workers := min(max(concurrency, 1), b.cfg.Partitions)

	g, ctx := errgroup.WithContext(ctx)
	for w := 0; w < workers; w++ {
		var owned []int
		for p := w; p < b.cfg.Partitions; p += workers {
			owned = append(owned, p)
		}
		g.Go(func() error { return b.work(ctx, topic, group, owned, h) })
	}
	return g.Wait()
}

func (b *Broker) work(ctx context.Context, topic, group string, owned []int, h messaging.Handler) error {
	ch, err := b.conn.Channel()
	if err != nil {
		return fmt.Errorf("could not open channel: %w", err)
	}
	defer ch.Close()
	if err := ch.Qos(1, 0, false); err != nil {
		return fmt.Errorf("could not set qos: %w", err)
	}

	in := make(chan delivery)
	var fwd sync.WaitGroup
	for _, p := range owned {
		msgs, err := ch.Consume(queueName(topic, group, p), "", false, false, false, false, nil)
		if err != nil {
			return fmt.Errorf("could not start consume: %w", err)
		}
		p := p
		fwd.Add(1)
		go func() {
			defer fwd.Done()
			for d := range msgs {
				select {
				case in <- delivery{d: d, partition: p}:
				case <-ctx.Done():
					return
				}
			}
		}()
	}
	closed := make(chan struct{})
	go func() { fwd.Wait(); close(closed) }()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-closed:
			if ctx.Err() != nil {
				return nil
			}
			return errors.New("rabbitmq: delivery channel closed")
		case dl := <-in:
			d := dl.d
			h(ctx, messaging.Message{
				Topic:     topic,
				Key:       []byte(d.MessageId),
				Value:     d.Body,
				Partition: dl.partition,
				Offset:    int64(d.DeliveryTag),
				Time:      d.Timestamp,
			})
			if err := d.Ack(false); err != nil {
				b.log.ErrorContext(ctx, "ack failed", "partition", dl.partition, "error", err)
			}
		}
	}
}

func (b *Broker) Close() error {
	b.inflight.Wait()
	return errors.Join(b.pub.Close(), b.conn.Close())
}
