// Package memory is an in-process partitioned broker. It keeps every message
// and a committed offset per consumer group, so resubscribing resumes where
// the group left off.
package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nsridhar76/orderpulse/internal/messaging"
)

var ErrClosed = errors.New("memory broker: closed")

type topic struct {
	logs    [][]messaging.Message
	wakers  map[int][]chan struct{}
	offsets map[string][]int64 // group -> next offset per partition
}

type Broker struct {
	partitions int

	mu     sync.Mutex
	topics map[string]*topic
	rr     int
	closed bool
}

var _ messaging.Broker = (*Broker)(nil)

func NewBroker(partitions int) *Broker {
	if partitions < 1 {
		partitions = 1
	}
	return &Broker{partitions: partitions, topics: make(map[string]*topic)}
}

func (b *Broker) topicLocked(name string) *topic {
	t, ok := b.topics[name]
	if !ok {
		t = &topic{
			logs:    make([][]messaging.Message, b.partitions),
			wakers:  make(map[int][]chan struct{}),
			offsets: make(map[string][]int64),
		}
		b.topics[name] = t
	}
	return t
}

func (b *Broker) partitionFor(key []byte) int {
	if len(key) == 0 {
		b.rr++
		return b.rr % b.partitions
	}
	return messaging.PartitionFor(key, b.partitions)
}

func (b *Broker) append(msg messaging.Message) (messaging.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return msg, ErrClosed
	}
	t := b.topicLocked(msg.Topic)
	p := b.partitionFor(msg.Key)
	msg.Partition = p
	msg.Offset = int64(len(t.logs[p]))
	if msg.Time.IsZero() {
		msg.Time = time.Now().UTC()
	}
	t.logs[p] = append(t.logs[p], msg)
	for _, w := range t.wakers[p] {
		select {
		case w <- struct{}{}:
		default:
		}
	}
	return msg, nil
}

func (b *Broker) Publish(_ context.Context, msg messaging.Message, done func(messaging.Message, error)) {
	m, err := b.append(msg)
	if done != nil {
		done(m, err)
	}
}

func (b *Broker) PublishSync(ctx context.Context, msg messaging.Message) (messaging.Message, error) {
	if err := ctx.Err(); err != nil {
		return msg, err
	}
	return b.append(msg)
}

// next returns the group's next undelivered message on partition p.
func (b *Broker) next(name, group string, p int) (messaging.Message, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	t := b.topicLocked(name)
	off := t.offsets[group][p]
	if off >= int64(len(t.logs[p])) {
		return messaging.Message{}, false
	}
	return t.logs[p][off], true
}

func (b *Broker) commit(name, group string, p int, next int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.topicLocked(name).offsets[group][p] = next
}

func (b *Broker) register(name, group string, owned []int, wake chan struct{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	t := b.topicLocked(name)
	if _, ok := t.offsets[group]; !ok {
		t.offsets[group] = make([]int64, b.partitions)
	}
	for _, p := range owned {
		t.wakers[p] = append(t.wakers[p], wake)
	}
}

func (b *Broker) unregister(name string, owned []int, wake chan struct{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	t := b.topicLocked(name)
	for _, p := range owned {
		ws := t.wakers[p]
		for i, w := range ws {
			if w == wake {
				t.wakers[p] = append(ws[:i], ws[i+1:]...)
				break
			}
		}
	}
}

// Subscribe assigns partition p to worker p % workers, where workers is
// concurrency capped at the partition count.
func (b *Broker) Subscribe(ctx context.Context, name, group string, concurrency int, h messaging.Handler) error {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return ErrClosed
	}

	workers := min(max(concurrency, 1), b.partitions)
	g, ctx := errgroup.WithContext(ctx)
	for w := 0; w < workers; w++ {
		var owned []int
		for p := w; p < b.partitions; p += workers {
			owned = append(owned, p)
		}
		g.Go(func() error {
			b.work(ctx, name, group, owned, h)
			return nil
		})
	}
	return g.Wait()
}

func (b *Broker) work(ctx context.Context, name, group string, owned []int, h messaging.Handler) {
	wake := make(chan struct{}, 1)
	b.register(name, group, owned, wake)
	defer b.unregister(name, owned, wake)

	for {
		for _, p := range owned {
			for ctx.Err() == nil {
				msg, ok := b.next(name, group, p)
				if !ok {
					break
				}
				h(ctx, msg)
				b.commit(name, group, p, msg.Offset+1)
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-wake:
		}
	}
}

func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}
