package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	redisutil "lifestyle-studio-server/modules/common/redis"
)

// popTimeout bounds each BRPOP so shutdown is noticed.
var popTimeout = 5 * time.Second

// StartWorker - Redis Queue Worker 시작. ctx가 끝날 때까지 jobs:notify 감시
func StartWorker(ctx context.Context, rdb *redis.Client, p *Processor) {
	log.Info().Msgf("👀 Watching queue: %s", redisutil.NotifyQueue)

	for {
		if ctx.Err() != nil {
			log.Info().Msg("🛑 Queue worker stopped")
			return
		}

		result, err := rdb.BRPop(ctx, popTimeout, redisutil.NotifyQueue).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || ctx.Err() != nil {
				continue
			}
			log.Error().Err(err).Msg("❌ Redis BRPOP error")
			sleep(ctx, 5*time.Second)
			continue
		}

		// result[0]은 큐 이름, result[1]이 실제 payload
		var n Notification
		if err := json.Unmarshal([]byte(result[1]), &n); err != nil {
			log.Error().Err(err).Msg("❌ Dropping malformed notification")
			continue
		}
		log.Info().Msgf("🎯 Received %s for job %s", n.Kind, n.JobID)

		go func(n Notification) {
			if err := p.Process(context.Background(), n); err != nil {
				log.Error().Err(err).Msgf("❌ %s for job %s failed", n.Kind, n.JobID)
			}
		}(n)
	}
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
