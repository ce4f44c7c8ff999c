package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"lifestyle-studio-server/modules/common/apierror"
	"lifestyle-studio-server/modules/common/model"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBuffer     = 256
	fetchTimeout   = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// 브라우저 클라이언트 - 모든 origin 허용 (CORS와 동일)
	CheckOrigin: func(r *http.Request) bool { return true },
}

// RegisterRoutes - GET /ws
func (h *Hub) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/ws", h.ServeWS).Methods(http.MethodGet)
	log.Info().Msg("✅ Realtime route registered: /ws")
}

// ServeWS subscribes a socket to one row: /ws?table=image_jobs&id=<uuid>.
// The current row is sent first as a snapshot.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	table := r.URL.Query().Get("table")
	id := r.URL.Query().Get("id")

	if table != model.TableImageJobs && table != model.TableVideoJobs {
		apierror.Write(w, apierror.Validation("table", "must be image_jobs or video_jobs"))
		return
	}
	if id == "" {
		apierror.Write(w, apierror.Validation("id", "failed on 'required' validation"))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), fetchTimeout)
	snapshot, err := h.Fetch(ctx, table, id)
	cancel()
	if err != nil {
		apierror.Write(w, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already answered the request
		log.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	c := &client{
		conn:  conn,
		topic: snapshot.Topic(),
		send:  make(chan []byte, sendBuffer),
	}
	log.Info().Msgf("🔍 New WebSocket connection - Topic: %s", c.topic)

	h.register(c, snapshot)
	h.sendTo(c, encode(snapshotMessage(snapshot)))

	go h.writePump(c)
	go h.readPump(c)
}

// readPump handles client requests until the connection closes.
func (h *Hub) readPump(c *client) {
	defer func() {
		h.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Warn().Err(err).Msg("WebSocket error")
			}
			return
		}

		switch msg.Type {
		case TypeRefetch:
			h.refetch(c)
		default:
			h.sendTo(c, encode(Message{Type: TypeError, Error: "unsupported message type: " + msg.Type}))
		}
	}
}

// writePump - send 채널을 소켓으로 흘려보내고 주기적으로 ping
func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Warn().Err(err).Msg("WebSocket write error")
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) refetch(c *client) {
	t, id, ok := splitTopic(c.topic)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
	defer cancel()

	ev, err := h.Fetch(ctx, t, id)
	if err != nil {
		h.sendTo(c, encode(Message{Type: TypeError, Table: t, ID: id, Error: apierror.Message(err)}))
		return
	}
	log.Debug().Str("topic", c.topic).Msg("🔄 Manual refetch")
	h.sendTo(c, encode(snapshotMessage(ev)))
}

func snapshotMessage(ev model.JobEvent) Message {
	return Message{Type: TypeSnapshot, Table: ev.Table, ID: ev.ID, Status: ev.Status, Record: ev.Record}
}

func encode(m Message) []byte {
	b, err := json.Marshal(m)
	if err != nil {
		log.Error().Err(err).Msg("Error marshaling message")
		return []byte(`{"type":"error","error":"unexpected error"}`)
	}
	return b
}
