package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"lifestyle-studio-server/modules/common/model"
	"lifestyle-studio-server/modules/worker"
)

// memStore keeps rows in maps and applies updates through JSON like the REST store does.
type memStore struct {
	mu     sync.Mutex
	images map[string]model.ImageJob
	videos map[string]model.VideoJob
}

func newMemStore() *memStore {
	return &memStore{images: map[string]model.ImageJob{}, videos: map[string]model.VideoJob{}}
}

func (s *memStore) CreateImageJob(ctx context.Context, job *model.ImageJob) (*model.ImageJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.images[job.ID] = *job
	out := *job
	return &out, nil
}

func (s *memStore) FetchImageJob(ctx context.Context, id string) (*model.ImageJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.images[id]
	if !ok {
		return nil, fmt.Errorf("%w: image job %s", model.ErrNotFound, id)
	}
	return &job, nil
}

func (s *memStore) ListImageJobsByUser(ctx context.Context, userID string, limit int) ([]model.ImageJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.ImageJob
	for _, job := range s.images {
		if job.UserID == userID {
			out = append(out, job)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) UpdateImageJob(ctx context.Context, id string, expected model.Status, fields map[string]interface{}) (*model.ImageJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.images[id]
	if !ok {
		return nil, fmt.Errorf("%w: image job %s", model.ErrNotFound, id)
	}
	if expected != "" && job.Status != expected {
		return nil, fmt.Errorf("%w: image job %s is no longer %s", model.ErrInvalidTransition, id, expected)
	}
	if err := patch(&job, fields); err != nil {
		return nil, err
	}
	job.UpdatedAt = time.Now().UTC()
	s.images[id] = job
	return &job, nil
}

func (s *memStore) CreateVideoJob(ctx context.Context, job *model.VideoJob) (*model.VideoJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.videos[job.ID] = *job
	out := *job
	return &out, nil
}

func (s *memStore) FetchVideoJob(ctx context.Context, id string) (*model.VideoJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.videos[id]
	if !ok {
		return nil, fmt.Errorf("%w: video job %s", model.ErrNotFound, id)
	}
	return &job, nil
}

func (s *memStore) ListVideoJobsByImage(ctx context.Context, imageJobID string) ([]model.VideoJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.VideoJob
	for _, job := range s.videos {
		if job.ImageJobID == imageJobID {
			out = append(out, job)
		}
	}
	return out, nil
}

func (s *memStore) UpdateVideoJob(ctx context.Context, id string, expected model.Status, fields map[string]interface{}) (*model.VideoJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.videos[id]
	if !ok {
		return nil, fmt.Errorf("%w: video job %s", model.ErrNotFound, id)
	}
	if expected != "" && job.Status != expected {
		return nil, fmt.Errorf("%w: video job %s is no longer %s", model.ErrInvalidTransition, id, expected)
	}
	if err := patch(&job, fields); err != nil {
		return nil, err
	}
	job.UpdatedAt = time.Now().UTC()
	s.videos[id] = job
	return &job, nil
}

func patch(dst any, fields map[string]interface{}) error {
	b, err := json.Marshal(fields)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, dst)
}

type recordingDispatcher struct {
	mu   sync.Mutex
	sent []worker.Notification
}

func (d *recordingDispatcher) Dispatch(ctx context.Context, n worker.Notification) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sent = append(d.sent, n)
	return nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []model.JobEvent
}

func (p *recordingPublisher) Publish(ctx context.Context, ev model.JobEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

type stubResolver struct{ url string }

func (r stubResolver) ToURL(ctx context.Context, ref, userID string) string { return r.url }

type fixture struct {
	store      *memStore
	dispatcher *recordingDispatcher
	publisher  *recordingPublisher
	service    *Service
}

func newFixture() *fixture {
	f := &fixture{
		store:      newMemStore(),
		dispatcher: &recordingDispatcher{},
		publisher:  &recordingPublisher{},
	}
	f.service = NewService(f.store, f.publisher, stubResolver{url: "https://cdn.example/input.webp"}, "https://api.example/")
	f.service.UseDispatcher(f.dispatcher)
	return f
}

// seedImage stores an image job in the given status.
func (f *fixture) seedImage(id, userID string, status model.Status) {
	now := time.Now().UTC()
	job := model.ImageJob{ID: id, UserID: userID, Prompt: "sofa in a loft", AspectRatio: model.AspectPortrait, Status: status, CreatedAt: now, UpdatedAt: now}
	if status == model.StatusDone {
		url := "https://cdn.example/" + id + ".png"
		job.GeneratedImageURL = &url
	}
	f.store.images[id] = job
}
