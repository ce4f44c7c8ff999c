package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"lifestyle-studio-server/modules/common/model"
)

// Message types on the socket.
const (
	TypeSnapshot = "snapshot"
	TypeUpdate   = "update"
	TypeRefetch  = "refetch"
	TypeError    = "error"
)

// Message - 클라이언트와 주고받는 메시지
type Message struct {
	Type   string       `json:"type"`
	Table  string       `json:"table,omitempty"`
	ID     string       `json:"id,omitempty"`
	Status model.Status `json:"status,omitempty"`
	Record any          `json:"record,omitempty"`
	Error  string       `json:"error,omitempty"`
}

// RowStore reads the rows clients subscribe to.
type RowStore interface {
	FetchImageJob(ctx context.Context, id string) (*model.ImageJob, error)
	FetchVideoJob(ctx context.Context, id string) (*model.VideoJob, error)
}

// client - 구독 중인 웹소켓 연결
type client struct {
	conn  *websocket.Conn
	topic string
	send  chan []byte
}

// topic - 한 row의 구독자 모음
type topic struct {
	table        string
	id           string
	clients      map[*client]struct{}
	status       model.Status
	updatedAt    time.Time
	createdAt    time.Time
	lastActivity time.Time
}

// Stats - /metrics 응답용
type Stats struct {
	ActiveTopics     int       `json:"activeTopics"`
	CurrentClients   int       `json:"currentClients"`
	TotalConnections int       `json:"totalConnections"`
	EventsDelivered  int       `json:"eventsDelivered"`
	StartTime        time.Time `json:"startTime"`
	Uptime           string    `json:"uptime"`
}

// Hub routes row changes to the sockets subscribed to that row.
type Hub struct {
	store  RowStore
	mu     sync.Mutex
	topics map[string]*topic

	totalConnections int
	eventsDelivered  int
	startTime        time.Time
}

func NewHub(store RowStore) *Hub {
	return &Hub{
		store:     store,
		topics:    make(map[string]*topic),
		startTime: time.Now(),
	}
}

// Publish delivers ev to the row's subscribers. It never fails; it satisfies the
// job service's publisher interface.
func (h *Hub) Publish(ctx context.Context, ev model.JobEvent) error {
	h.Deliver(ev)
	return nil
}

// Deliver broadcasts ev when it differs from the last state sent for the row.
// Events for rows nobody watches are dropped.
func (h *Hub) Deliver(ev model.JobEvent) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	t, ok := h.topics[ev.Topic()]
	if !ok || len(t.clients) == 0 {
		return false
	}
	if t.status == ev.Status && t.updatedAt.Equal(ev.UpdatedAt) {
		return false
	}
	t.status = ev.Status
	t.updatedAt = ev.UpdatedAt

	msg, err := json.Marshal(Message{Type: TypeUpdate, Table: ev.Table, ID: ev.ID, Status: ev.Status, Record: ev.Record})
	if err != nil {
		log.Error().Err(err).Str("topic", ev.Topic()).Msg("Error marshaling event")
		return false
	}
	h.broadcastLocked(t, msg)
	h.eventsDelivered++
	log.Debug().Str("topic", ev.Topic()).Int("clients", len(t.clients)).Msgf("📢 Broadcast %s", ev.Status)
	return true
}

// Fetch loads the current row as an event.
func (h *Hub) Fetch(ctx context.Context, table, id string) (model.JobEvent, error) {
	switch table {
	case model.TableImageJobs:
		job, err := h.store.FetchImageJob(ctx, id)
		if err != nil {
			return model.JobEvent{}, err
		}
		return model.NewImageEvent(job), nil
	case model.TableVideoJobs:
		job, err := h.store.FetchVideoJob(ctx, id)
		if err != nil {
			return model.JobEvent{}, err
		}
		return model.NewVideoEvent(job), nil
	}
	return model.JobEvent{}, fmt.Errorf("unknown table %q", table)
}

// Stats - 현재 구독 현황
func (h *Hub) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients := 0
	for _, t := range h.topics {
		clients += len(t.clients)
	}
	return Stats{
		ActiveTopics:     len(h.topics),
		CurrentClients:   clients,
		TotalConnections: h.totalConnections,
		EventsDelivered:  h.eventsDelivered,
		StartTime:        h.startTime,
		Uptime:           time.Since(h.startTime).Round(time.Second).String(),
	}
}

// register adds c and records snapshot as the topic's last state unless the
// topic already holds a newer one.
func (h *Hub) register(c *client, snapshot model.JobEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := time.Now()
	t, ok := h.topics[c.topic]
	if !ok {
		t = &topic{
			table:     snapshot.Table,
			id:        snapshot.ID,
			clients:   make(map[*client]struct{}),
			createdAt: now,
		}
		h.topics[c.topic] = t
		log.Info().Msgf("✅ Created new topic: %s (Active: %d)", c.topic, len(h.topics))
	}
	t.clients[c] = struct{}{}
	t.lastActivity = now
	// a slow snapshot fetch must not rewind what earlier subscribers already saw
	if !ok || snapshot.UpdatedAt.After(t.updatedAt) {
		t.status = snapshot.Status
		t.updatedAt = snapshot.UpdatedAt
	}
	h.totalConnections++

	log.Info().Msgf("👤 Client subscribed to %s (Clients: %d, Total Connections: %d)", c.topic, len(t.clients), h.totalConnections)
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	t, ok := h.topics[c.topic]
	if !ok {
		return
	}
	if _, ok := t.clients[c]; !ok {
		return
	}
	delete(t.clients, c)
	close(c.send)
	t.lastActivity = time.Now()

	log.Info().Msgf("👋 Client left %s (Remaining: %d)", c.topic, len(t.clients))
}

// sendTo queues msg for one client if it is still subscribed.
func (h *Hub) sendTo(c *client, msg []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	t, ok := h.topics[c.topic]
	if !ok {
		return
	}
	if _, ok := t.clients[c]; !ok {
		return
	}
	select {
	case c.send <- msg:
	default:
		delete(t.clients, c)
		close(c.send)
	}
}

// broadcastLocked drops clients whose send buffer is full. h.mu must be held.
func (h *Hub) broadcastLocked(t *topic, msg []byte) {
	t.lastActivity = time.Now()
	for c := range t.clients {
		select {
		case c.send <- msg:
		default:
			delete(t.clients, c)
			close(c.send)
			log.Warn().Msgf("⚠️  Dropped slow client on %s", c.topic)
		}
	}
}

// subscriptions lists rows that currently have subscribers.
func (h *Hub) subscriptions() [][2]string {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs := make([][2]string, 0, len(h.topics))
	for _, t := range h.topics {
		if len(t.clients) > 0 {
			subs = append(subs, [2]string{t.table, t.id})
		}
	}
	return subs
}

// sweepIdle removes topics that have had no subscribers for at least idle.
func (h *Hub) sweepIdle(idle time.Duration) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := time.Now()
	cleaned := 0
	for key, t := range h.topics {
		if len(t.clients) == 0 && now.Sub(t.lastActivity) >= idle {
			delete(h.topics, key)
			cleaned++
		}
	}
	if cleaned > 0 {
		log.Info().Msgf("🧹 Cleaned up %d idle topics (Active: %d)", cleaned, len(h.topics))
	}
	return cleaned
}
