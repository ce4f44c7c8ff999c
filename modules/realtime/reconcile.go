package realtime

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"lifestyle-studio-server/modules/common/model"
)

// IdleTopicTTL is how long an unwatched topic survives before the sweep.
const IdleTopicTTL = 5 * time.Minute

// Run refetches every subscribed row each interval and pushes rows that changed
// behind the hub's back (direct table edits, other instances without Redis).
// Idle topics are swept every IdleTopicTTL. Run blocks until ctx is done.
func (h *Hub) Run(ctx context.Context, interval time.Duration) {
	poll := time.NewTicker(interval)
	defer poll.Stop()
	sweep := time.NewTicker(IdleTopicTTL)
	defer sweep.Stop()

	log.Info().Msgf("🔄 Started realtime reconciler (poll: %s, sweep: %s)", interval, IdleTopicTTL)

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("🛑 Realtime reconciler stopped")
			return
		case <-poll.C:
			h.Reconcile(ctx)
		case <-sweep.C:
			h.sweepIdle(IdleTopicTTL)
		}
	}
}

// Reconcile fetches each subscribed row once and delivers the changed ones.
// It returns how many updates were broadcast.
func (h *Hub) Reconcile(ctx context.Context) int {
	delivered := 0
	for _, sub := range h.subscriptions() {
		if ctx.Err() != nil {
			return delivered
		}

		fetchCtx, cancel := context.WithTimeout(ctx, fetchTimeout)
		ev, err := h.Fetch(fetchCtx, sub[0], sub[1])
		cancel()
		if err != nil {
			if !errors.Is(err, model.ErrNotFound) {
				log.Warn().Err(err).Msgf("⚠️  Reconcile fetch failed for %s", model.Topic(sub[0], sub[1]))
			}
			continue
		}
		if h.Deliver(ev) {
			delivered++
		}
	}
	return delivered
}

func splitTopic(key string) (table, id string, ok bool) {
	return strings.Cut(key, ":")
}
