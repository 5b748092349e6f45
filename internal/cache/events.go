package cache

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"stylemate-rest-api/internal/model"

	"github.com/redis/go-redis/v9"
)

// Buffer configuration
const (
	MaxBatchSize    = 50
	FlushTimeout    = 30 * time.Second
	ShutdownTimeout = 2 * time.Minute
)

// EventFlushFunc is called to persist buffered events to the database.
type EventFlushFunc func(ctx context.Context, events []*model.InferenceEvent) error

// RedisEventBuffer is a write-behind buffer for inference audit events.
// Events are pushed to a Redis list on the request path and drained to the
// database in batches, so audit writes never add latency to a chat request.
// Events are append-only and idempotent on id, so a crash between flush and
// trim at worst replays a batch.
type RedisEventBuffer struct {
	client      *redis.Client
	flushFunc   EventFlushFunc
	flushTicker *time.Ticker
	stopFlush   chan struct{}
	stopOnce    sync.Once
	listKey     string
}

// RedisEventBufferConfig holds configuration for the event buffer.
type RedisEventBufferConfig struct {
	FlushInterval time.Duration
	KeyPrefix     string
}

// NewRedisEventBuffer creates a Redis-backed event buffer on an existing
// client and starts its background flush loop.
func NewRedisEventBuffer(client *redis.Client, cfg RedisEventBufferConfig, flushFunc EventFlushFunc) *RedisEventBuffer {
	keyPrefix := cfg.KeyPrefix
	if keyPrefix == "" {
		keyPrefix = "stylemate:events"
	}
	interval := cfg.FlushInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}

	b := &RedisEventBuffer{
		client:      client,
		flushFunc:   flushFunc,
		flushTicker: time.NewTicker(interval),
		stopFlush:   make(chan struct{}),
		listKey:     keyPrefix + ":buffer",
	}

	go b.backgroundFlush()

	log.Printf("[RedisEventBuffer] Started - key:%s, flush:%v, batch:%d",
		b.listKey, interval, MaxBatchSize)
	return b
}

// Add buffers one event in Redis.
func (b *RedisEventBuffer) Add(ctx context.Context, ev *model.InferenceEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return b.client.RPush(ctx, b.listKey, data).Err()
}

// Record buffers one event. Alias for Add so the buffer satisfies the
// service layer's event sink.
func (b *RedisEventBuffer) Record(ctx context.Context, ev *model.InferenceEvent) error {
	return b.Add(ctx, ev)
}

// Count returns the number of buffered events.
func (b *RedisEventBuffer) Count(ctx context.Context) (int64, error) {
	return b.client.LLen(ctx, b.listKey).Result()
}

// FlushBatch writes up to MaxBatchSize events to the database and trims them
// from the buffer. Returns the number of events flushed.
func (b *RedisEventBuffer) FlushBatch(ctx context.Context) (int, error) {
	raws, err := b.client.LRange(ctx, b.listKey, 0, MaxBatchSize-1).Result()
	if err != nil {
		return 0, err
	}
	if len(raws) == 0 {
		return 0, nil
	}

	events := make([]*model.InferenceEvent, 0, len(raws))
	for _, raw := range raws {
		var ev model.InferenceEvent
		if err := json.Unmarshal([]byte(raw), &ev); err != nil {
			log.Printf("[RedisEventBuffer] Dropping undecodable event: %v", err)
			continue
		}
		events = append(events, &ev)
	}

	if len(events) > 0 {
		if err := b.flushFunc(ctx, events); err != nil {
			log.Printf("[RedisEventBuffer] Flush error: %v", err)
			return 0, err
		}
	}

	if err := b.client.LTrim(ctx, b.listKey, int64(len(raws)), -1).Err(); err != nil {
		log.Printf("[RedisEventBuffer] Error trimming buffer: %v", err)
	}

	return len(events), nil
}

func (b *RedisEventBuffer) backgroundFlush() {
	for {
		select {
		case <-b.flushTicker.C:
			ctx, cancel := context.WithTimeout(context.Background(), FlushTimeout)
			if _, err := b.FlushBatch(ctx); err != nil {
				log.Printf("[RedisEventBuffer] Background flush error: %v", err)
			}
			cancel()
		case <-b.stopFlush:
			log.Printf("[RedisEventBuffer] Shutdown: flushing remaining events...")
			ctx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
			for {
				flushed, err := b.FlushBatch(ctx)
				if err != nil {
					log.Printf("[RedisEventBuffer] Shutdown flush error: %v", err)
					break
				}
				if flushed == 0 {
					break
				}
			}
			cancel()
			log.Printf("[RedisEventBuffer] Shutdown flush complete")
			return
		}
	}
}

// Close stops the buffer and performs a final flush.
func (b *RedisEventBuffer) Close() error {
	b.stopOnce.Do(func() {
		b.flushTicker.Stop()
		close(b.stopFlush)
	})
	return nil
}
