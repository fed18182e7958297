package search

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nsridhar76/orderpulse/internal/domain"
)

// RedisIndex stores each document as JSON, keeps one set of ids per status,
// and one sorted set of ids scored by creation time in unix milliseconds.
type RedisIndex struct {
	client *redis.Client
	prefix string
}

var _ Index = (*RedisIndex)(nil)

func NewRedisIndex(client *redis.Client, prefix string) *RedisIndex {
	return &RedisIndex{client: client, prefix: prefix + ":search"}
}

func (r *RedisIndex) docKey(id string) string { return r.prefix + ":doc:" + id }

func (r *RedisIndex) statusKey(s domain.OrderStatus) string { return r.prefix + ":status:" + string(s) }

func (r *RedisIndex) createdKey() string { return r.prefix + ":created" }

func (r *RedisIndex) Upsert(ctx context.Context, doc domain.SearchDocument) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode search document %s: %w", doc.ID, err)
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, s := range domain.Statuses {
			pipe.SRem(ctx, r.statusKey(s), doc.ID)
		}
		pipe.SAdd(ctx, r.statusKey(doc.Status), doc.ID)
		pipe.ZAdd(ctx, r.createdKey(), redis.Z{Score: float64(doc.CreatedAt.UnixMilli()), Member: doc.ID})
		pipe.Set(ctx, r.docKey(doc.ID), raw, 0)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis index %s: %w", doc.ID, err)
	}
	return nil
}

func (r *RedisIndex) Delete(ctx context.Context, id string) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, s := range domain.Statuses {
			pipe.SRem(ctx, r.statusKey(s), id)
		}
		pipe.ZRem(ctx, r.createdKey(), id)
		pipe.Del(ctx, r.docKey(id))
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis unindex %s: %w", id, err)
	}
	return nil
}

// load fetches documents for ids, skipping ids whose document has vanished
// between the two reads.
func (r *RedisIndex) load(ctx context.Context, ids []string) ([]domain.SearchDocument, error) {
	if len(ids) == 0 {
		return []domain.SearchDocument{}, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.docKey(id)
	}
	vals, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis mget: %w", err)
	}
	out := make([]domain.SearchDocument, 0, len(vals))
	for _, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue
		}
		var d domain.SearchDocument
		if err := json.Unmarshal([]byte(s), &d); err != nil {
			continue
		}
		out = append(out, d)
	}
	domain.SortDocuments(out)
	return out, nil
}

func (r *RedisIndex) All(ctx context.Context) ([]domain.SearchDocument, error) {
	ids, err := r.client.ZRange(ctx, r.createdKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis zrange: %w", err)
	}
	return r.load(ctx, ids)
}

func (r *RedisIndex) ByStatus(ctx context.Context, status domain.OrderStatus) ([]domain.SearchDocument, error) {
	ids, err := r.client.SMembers(ctx, r.statusKey(status)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis smembers: %w", err)
	}
	return r.load(ctx, ids)
}

func (r *RedisIndex) ByCreatedBetween(ctx context.Context, start, end time.Time) ([]domain.SearchDocument, error) {
	ids, err := r.client.ZRangeByScore(ctx, r.createdKey(), &redis.ZRangeBy{
		Min: strconv.FormatInt(start.UnixMilli(), 10),
		Max: strconv.FormatInt(end.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("redis zrangebyscore: %w", err)
	}
	docs, err := r.load(ctx, ids)
	if err != nil {
		return nil, err
	}
	// Scores are millisecond-truncated; trim to the exact bounds.
	out := docs[:0]
	for _, d := range docs {
		if !d.CreatedAt.Before(start) && !d.CreatedAt.After(end) {
			out = append(out, d)
		}
	}
	return out, nil
}

func (r *RedisIndex) Reset(ctx context.Context) error {
	var keys []string
	iter := r.client.Scan(ctx, 0, r.prefix+":*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("redis scan: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}
