package notification

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Hub fans payloads out to live subscribers of a topic. Delivery is
// best-effort: a subscriber that falls behind misses payloads.
type Hub interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	// Subscribe returns a channel that is closed once ctx ends.
	Subscribe(ctx context.Context, topic string) (<-chan []byte, error)
}

const subscriberBuffer = 16

type MemoryHub struct {
	mu   sync.Mutex
	subs map[string]map[chan []byte]struct{}
}

func NewMemoryHub() *MemoryHub {
	return &MemoryHub{subs: make(map[string]map[chan []byte]struct{})}
}

func (h *MemoryHub) Publish(_ context.Context, topic string, payload []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs[topic] {
		select {
		case ch <- payload:
		default:
		}
	}
	return nil
}

func (h *MemoryHub) Subscribe(ctx context.Context, topic string) (<-chan []byte, error) {
	ch := make(chan []byte, subscriberBuffer)
	h.mu.Lock()
	if h.subs[topic] == nil {
		h.subs[topic] = make(map[chan []byte]struct{})
	}
	h.subs[topic][ch] = struct{}{}
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.mu.Lock()
		delete(h.subs[topic], ch)
		h.mu.Unlock()
		close(ch)
	}()
	return ch, nil
}

// RedisHub broadcasts over Redis pub/sub so every instance's live clients see
// every event.
type RedisHub struct {
	client *redis.Client
	prefix string
}

func NewRedisHub(client *redis.Client, prefix string) *RedisHub {
	return &RedisHub{client: client, prefix: prefix + ":live:"}
}

func (h *RedisHub) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := h.client.Publish(ctx, h.prefix+topic, payload).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", topic, err)
	}
	return nil
}

func (h *RedisHub) Subscribe(ctx context.Context, topic string) (<-chan []byte, error) {
	ps := h.client.Subscribe(ctx, h.prefix+topic)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("redis subscribe %s: %w", topic, err)
	}

	out := make(chan []byte, subscriberBuffer)
	go func() {
		defer close(out)
		defer ps.Close()
		in := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-in:
				if !ok {
					return
				}
				select {
				case out <- []byte(m.Payload):
				default:
				}
			}
		}
	}()
	return out, nil
}
