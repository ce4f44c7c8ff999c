package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	redisutil "lifestyle-studio-server/modules/common/redis"
)

// Kind - 알림 종류 (어떤 webhook으로 보낼지)
type Kind string

const (
	KindImageGenerate   Kind = "image_generate"
	KindImageRegenerate Kind = "image_regenerate"
	KindVideoGenerate   Kind = "video_generate"
)

// IsVideo reports whether the notification targets a video job.
func (k Kind) IsVideo() bool {
	return k == KindVideoGenerate
}

// Notification is a best-effort webhook call whose outcome is observed later
// through job status changes.
type Notification struct {
	Kind    Kind            `json:"kind"`
	JobID   string          `json:"job_id"`
	Payload json.RawMessage `json:"payload"`
}

// Dispatcher hands a notification off without waiting for delivery.
type Dispatcher interface {
	Dispatch(ctx context.Context, n Notification) error
}

// RedisDispatcher - jobs:notify 큐에 LPUSH
type RedisDispatcher struct {
	rdb *redis.Client
}

func NewRedisDispatcher(rdb *redis.Client) *RedisDispatcher {
	return &RedisDispatcher{rdb: rdb}
}

func (d *RedisDispatcher) Dispatch(ctx context.Context, n Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}
	if err := d.rdb.LPush(ctx, redisutil.NotifyQueue, payload).Err(); err != nil {
		return fmt.Errorf("redis LPUSH failed: %w", err)
	}

	queueLen, _ := d.rdb.LLen(ctx, redisutil.NotifyQueue).Result()
	log.Info().Msgf("📥 [Dispatch] %s for job %s enqueued (position: %d)", n.Kind, n.JobID, queueLen)
	return nil
}

// InlineDispatcher runs the processor in a goroutine; used when Redis is unavailable.
type InlineDispatcher struct {
	processor *Processor
}

func NewInlineDispatcher(p *Processor) *InlineDispatcher {
	return &InlineDispatcher{processor: p}
}

func (d *InlineDispatcher) Dispatch(ctx context.Context, n Notification) error {
	log.Info().Msgf("📥 [Dispatch] %s for job %s processing in-process", n.Kind, n.JobID)
	// detached from the request context, the webhook may outlive the HTTP call
	go d.processor.Process(context.Background(), n)
	return nil
}
