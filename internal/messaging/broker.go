package messaging

import (
	"context"
	"hash/fnv"
	"time"
)

// Message is one record on a partitioned, key-ordered topic. Partition and
// Offset are filled in by the broker.
type Message struct {
	Topic     string
	Key       []byte
	Value     []byte
	Partition int
	Offset    int64
	Time      time.Time
}

// Handler processes one delivered message. The broker acknowledges the
// message once Handler returns, whatever happened inside it.
type Handler func(ctx context.Context, msg Message)

// Broker is an at-least-once, partitioned transport that preserves order per
// key within a partition.
type Broker interface {
	// Publish hands msg to the broker without waiting. done, if non-nil, is
	// called once with the acknowledged message or the delivery error.
	Publish(ctx context.Context, msg Message, done func(Message, error))
	// PublishSync blocks until the broker acknowledges msg.
	PublishSync(ctx context.Context, msg Message) (Message, error)
	// Subscribe runs up to concurrency workers for group, each owning a
	// disjoint set of partitions, until ctx is cancelled.
	Subscribe(ctx context.Context, topic, group string, concurrency int, h Handler) error
	Close() error
}

// PartitionFor maps key onto one of n partitions the way kafka-go's Hash
// balancer does: FNV-1a read as a signed 32-bit value, modulo n, sign
// dropped.
func PartitionFor(key []byte, n int) int {
	h := fnv.New32a()
	_, _ = h.Write(key)
	p := int32(h.Sum32()) % int32(n)
	if p < 0 {
		p = -p
	}
	return int(p)
}
