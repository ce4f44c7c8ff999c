package redis

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"lifestyle-studio-server/modules/common/config"
	"lifestyle-studio-server/modules/common/model"
)

const (
	// NotifyQueue holds pending webhook notifications (LPUSH / BRPOP).
	NotifyQueue = "jobs:notify"
	// EventsChannel carries row change events between server instances.
	EventsChannel = "jobs:events"
)

// Connect - Redis 연결 생성. 연결 실패 시 nil 반환
func Connect(cfg *config.Config) *redis.Client {
	if !cfg.RedisEnabled {
		log.Info().Msg("ℹ️  Redis disabled, running with in-process dispatch")
		return nil
	}
	log.Info().Msgf("🔌 Connecting to Redis: %s", cfg.GetRedisAddr())

	var tlsConfig *tls.Config
	if cfg.RedisUseTLS {
		tlsConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.GetRedisAddr(),
		Username:     cfg.RedisUsername,
		Password:     cfg.RedisPassword,
		TLSConfig:    tlsConfig,
		DB:           0,
		DialTimeout:  10 * time.Second,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	})

	// 연결 테스트
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Error().Err(err).Msg("❌ Redis ping failed")
		_ = rdb.Close()
		return nil
	}

	log.Info().Msg("✅ Redis connected successfully")
	return rdb
}

// Publisher pushes row change events onto the shared events channel.
type Publisher struct {
	rdb *redis.Client
}

func NewPublisher(rdb *redis.Client) *Publisher {
	return &Publisher{rdb: rdb}
}

// Publish - 이벤트를 jobs:events 채널로 발행
func (p *Publisher) Publish(ctx context.Context, ev model.JobEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal job event: %w", err)
	}
	if err := p.rdb.Publish(ctx, EventsChannel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish job event: %w", err)
	}
	return nil
}

// SubscribeEvents relays events from the shared channel to handle until ctx is done.
func SubscribeEvents(ctx context.Context, rdb *redis.Client, handle func(model.JobEvent)) {
	sub := rdb.Subscribe(ctx, EventsChannel)
	defer sub.Close()

	log.Info().Msgf("👀 Subscribed to %s", EventsChannel)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var ev model.JobEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				log.Warn().Err(err).Msg("⚠️  Dropping malformed job event")
				continue
			}
			handle(ev)
		}
	}
}
