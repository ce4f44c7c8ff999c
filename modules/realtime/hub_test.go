package realtime

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"lifestyle-studio-server/modules/common/model"
)

type rowStore struct {
	mu     sync.Mutex
	images map[string]model.ImageJob
}

func (s *rowStore) FetchImageJob(ctx context.Context, id string) (*model.ImageJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.images[id]
	if !ok {
		return nil, fmt.Errorf("%w: image job %s", model.ErrNotFound, id)
	}
	return &job, nil
}

func (s *rowStore) FetchVideoJob(ctx context.Context, id string) (*model.VideoJob, error) {
	return nil, fmt.Errorf("%w: video job %s", model.ErrNotFound, id)
}

func (s *rowStore) set(job model.ImageJob) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.images[job.ID] = job
}

func imageJob(id string, status model.Status, updated time.Time) model.ImageJob {
	return model.ImageJob{ID: id, UserID: "u", Prompt: "rug", AspectRatio: model.AspectPortrait, Status: status, CreatedAt: updated, UpdatedAt: updated}
}

func newTestServer(t *testing.T) (*Hub, *rowStore, *httptest.Server) {
	t.Helper()
	store := &rowStore{images: map[string]model.ImageJob{}}
	hub := NewHub(store)
	r := mux.NewRouter()
	hub.RegisterRoutes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return hub, store, srv
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func read(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg Message
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	return msg
}

// waitForClients blocks until the hub has registered n clients.
func waitForClients(t *testing.T, hub *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.Stats().CurrentClients != n {
		if time.Now().After(deadline) {
			t.Fatalf("clients = %d, want %d", hub.Stats().CurrentClients, n)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestSnapshotThenUpdate(t *testing.T) {
	hub, store, srv := newTestServer(t)
	t0 := time.Now().UTC()
	store.set(imageJob("img-1", model.StatusQueued, t0))

	conn := dial(t, srv, "table=image_jobs&id=img-1")
	if msg := read(t, conn); msg.Type != TypeSnapshot || msg.ID != "img-1" || msg.Status != model.StatusQueued {
		t.Fatalf("first message = %+v", msg)
	}

	job := imageJob("img-1", model.StatusProcessing, t0.Add(time.Second))
	if err := hub.Publish(context.Background(), model.NewImageEvent(&job)); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if msg := read(t, conn); msg.Type != TypeUpdate || msg.Status != model.StatusProcessing {
		t.Fatalf("update = %+v", msg)
	}
}

func TestDeliverSkipsUnchangedAndUnwatched(t *testing.T) {
	hub, store, srv := newTestServer(t)
	t0 := time.Now().UTC()
	job := imageJob("img-1", model.StatusQueued, t0)
	store.set(job)

	other := imageJob("img-2", model.StatusDone, t0)
	if hub.Deliver(model.NewImageEvent(&other)) {
		t.Fatal("event for unwatched row must be dropped")
	}

	conn := dial(t, srv, "table=image_jobs&id=img-1")
	read(t, conn)

	// same status and timestamp as the snapshot, e.g. our own event echoed back by Redis
	if hub.Deliver(model.NewImageEvent(&job)) {
		t.Fatal("unchanged event must not be broadcast")
	}
	next := imageJob("img-1", model.StatusDone, t0.Add(time.Second))
	if !hub.Deliver(model.NewImageEvent(&next)) {
		t.Fatal("changed event must be broadcast")
	}
	if hub.Deliver(model.NewImageEvent(&next)) {
		t.Fatal("duplicate must not be broadcast twice")
	}
}

func TestLateSnapshotDoesNotRewindTopic(t *testing.T) {
	hub, store, srv := newTestServer(t)
	t0 := time.Now().UTC()
	store.set(imageJob("img-1", model.StatusQueued, t0))

	conn := dial(t, srv, "table=image_jobs&id=img-1")
	read(t, conn)
	waitForClients(t, hub, 1)

	done := imageJob("img-1", model.StatusDone, t0.Add(time.Second))
	store.set(done)
	if !hub.Deliver(model.NewImageEvent(&done)) {
		t.Fatal("done must be broadcast")
	}

	// a second subscriber whose snapshot was read before the row finished
	stale := imageJob("img-1", model.StatusQueued, t0)
	late := &client{topic: model.Topic(model.TableImageJobs, "img-1"), send: make(chan []byte, sendBuffer)}
	hub.register(late, model.NewImageEvent(&stale))

	if hub.Deliver(model.NewImageEvent(&done)) {
		t.Fatal("done was already sent, a stale snapshot must not make it look new")
	}
	if n := hub.Reconcile(context.Background()); n != 0 {
		t.Fatalf("Reconcile() = %d, want 0", n)
	}
}

func TestReconcilePushesOutOfBandChanges(t *testing.T) {
	hub, store, srv := newTestServer(t)
	t0 := time.Now().UTC()
	store.set(imageJob("img-1", model.StatusQueued, t0))

	conn := dial(t, srv, "table=image_jobs&id=img-1")
	read(t, conn)
	waitForClients(t, hub, 1)

	if n := hub.Reconcile(context.Background()); n != 0 {
		t.Fatalf("Reconcile() = %d with no changes, want 0", n)
	}

	store.set(imageJob("img-1", model.StatusDone, t0.Add(time.Minute)))
	if n := hub.Reconcile(context.Background()); n != 1 {
		t.Fatalf("Reconcile() = %d, want 1", n)
	}
	if msg := read(t, conn); msg.Type != TypeUpdate || msg.Status != model.StatusDone {
		t.Fatalf("update = %+v", msg)
	}
}

func TestRefetch(t *testing.T) {
	_, store, srv := newTestServer(t)
	t0 := time.Now().UTC()
	store.set(imageJob("img-1", model.StatusQueued, t0))

	conn := dial(t, srv, "table=image_jobs&id=img-1")
	read(t, conn)

	store.set(imageJob("img-1", model.StatusProcessing, t0.Add(time.Second)))
	if err := conn.WriteJSON(Message{Type: TypeRefetch}); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}
	if msg := read(t, conn); msg.Type != TypeSnapshot || msg.Status != model.StatusProcessing {
		t.Fatalf("refetch answer = %+v", msg)
	}

	if err := conn.WriteJSON(Message{Type: "subscribe"}); err != nil {
		t.Fatal(err)
	}
	if msg := read(t, conn); msg.Type != TypeError {
		t.Fatalf("unknown type answer = %+v", msg)
	}
}

func TestServeWSRejectsBadSubscriptions(t *testing.T) {
	_, _, srv := newTestServer(t)

	tests := []struct {
		query string
		want  int
	}{
		{"table=users&id=1", http.StatusBadRequest},
		{"table=image_jobs", http.StatusBadRequest},
		{"table=image_jobs&id=missing", http.StatusNotFound},
	}
	for _, tc := range tests {
		t.Run(tc.query, func(t *testing.T) {
			url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?" + tc.query
			_, resp, err := websocket.DefaultDialer.Dial(url, nil)
			if err == nil {
				t.Fatal("Dial() succeeded, want handshake failure")
			}
			if resp == nil || resp.StatusCode != tc.want {
				t.Fatalf("resp = %v, want status %d", resp, tc.want)
			}
		})
	}
}

func TestSweepIdle(t *testing.T) {
	hub, store, srv := newTestServer(t)
	store.set(imageJob("img-1", model.StatusQueued, time.Now().UTC()))

	conn := dial(t, srv, "table=image_jobs&id=img-1")
	read(t, conn)
	waitForClients(t, hub, 1)

	if n := hub.sweepIdle(0); n != 0 {
		t.Fatalf("sweepIdle() = %d with a subscriber, want 0", n)
	}

	conn.Close()
	waitForClients(t, hub, 0)
	if n := hub.sweepIdle(0); n != 1 {
		t.Fatalf("sweepIdle() = %d, want 1", n)
	}
	if hub.Stats().ActiveTopics != 0 {
		t.Fatal("topic not removed")
	}
}
