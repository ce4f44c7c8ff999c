package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"lifestyle-studio-server/modules/common/apierror"
	"lifestyle-studio-server/modules/common/auth"
	"lifestyle-studio-server/modules/common/model"
	"lifestyle-studio-server/modules/common/validate"
	"lifestyle-studio-server/modules/worker"
)

// CancelledMessage is stored on jobs stopped by their owner.
const CancelledMessage = "cancelled by user"

// maxApplyAttempts bounds rechecks when a status write loses a race.
const maxApplyAttempts = 3

// Store persists job rows.
type Store interface {
	CreateImageJob(ctx context.Context, job *model.ImageJob) (*model.ImageJob, error)
	FetchImageJob(ctx context.Context, id string) (*model.ImageJob, error)
	ListImageJobsByUser(ctx context.Context, userID string, limit int) ([]model.ImageJob, error)
	// UpdateImageJob writes fields only while the row's status is still expected,
	// returning model.ErrInvalidTransition when it is not.
	UpdateImageJob(ctx context.Context, id string, expected model.Status, fields map[string]interface{}) (*model.ImageJob, error)
	CreateVideoJob(ctx context.Context, job *model.VideoJob) (*model.VideoJob, error)
	FetchVideoJob(ctx context.Context, id string) (*model.VideoJob, error)
	ListVideoJobsByImage(ctx context.Context, imageJobID string) ([]model.VideoJob, error)
	UpdateVideoJob(ctx context.Context, id string, expected model.Status, fields map[string]interface{}) (*model.VideoJob, error)
}

// Publisher fans row changes out to realtime subscribers.
type Publisher interface {
	Publish(ctx context.Context, ev model.JobEvent) error
}

// ImageResolver turns an uploaded image reference into a URL.
type ImageResolver interface {
	ToURL(ctx context.Context, ref, userID string) string
}

type Service struct {
	store        Store
	publisher    Publisher
	resolver     ImageResolver
	dispatcher   worker.Dispatcher
	callbackBase string
	now          func() time.Time
}

// NewService - publisher, resolver는 nil 가능
func NewService(store Store, publisher Publisher, resolver ImageResolver, callbackBase string) *Service {
	return &Service{
		store:        store,
		publisher:    publisher,
		resolver:     resolver,
		callbackBase: strings.TrimRight(callbackBase, "/"),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// UseDispatcher sets where webhook notifications go.
func (s *Service) UseDispatcher(d worker.Dispatcher) {
	s.dispatcher = d
}

// CreateImageJobRequest - POST /api/image-jobs 본문
type CreateImageJobRequest struct {
	UserID      string `json:"user_id" validate:"max=128"`
	Prompt      string `json:"prompt" validate:"required,max=2000"`
	AspectRatio string `json:"aspect_ratio"`
	InputImage  string `json:"input_image"`
}

// RegenerateRequest - POST /api/image-jobs/{id}/regenerate 본문
type RegenerateRequest struct {
	Prompt      string `json:"prompt" validate:"max=2000"`
	AspectRatio string `json:"aspect_ratio"`
}

// GeneratePayload is what the automation service receives for image work.
type GeneratePayload struct {
	JobID       string            `json:"job_id"`
	SourceJobID string            `json:"source_job_id,omitempty"`
	UserID      string            `json:"user_id"`
	Prompt      string            `json:"prompt"`
	AspectRatio model.AspectRatio `json:"aspect_ratio"`
	ImageURL    string            `json:"image_url,omitempty"`
	CallbackURL string            `json:"callback_url,omitempty"`
}

// VideoPayload is what the automation service receives for video work.
type VideoPayload struct {
	JobID       string            `json:"job_id"`
	ImageJobID  string            `json:"image_job_id"`
	UserID      string            `json:"user_id"`
	ImageURL    string            `json:"image_url"`
	Prompt      string            `json:"prompt"`
	AspectRatio model.AspectRatio `json:"aspect_ratio"`
	CallbackURL string            `json:"callback_url,omitempty"`
}

// CreateImageJob validates the request, stores a queued job and notifies the
// automation service. The notification is best-effort; its outcome arrives later
// through callbacks.
func (s *Service) CreateImageJob(ctx context.Context, req CreateImageJobRequest) (*model.ImageJob, error) {
	req.Prompt = strings.TrimSpace(req.Prompt)
	if userID, ok := auth.UserIDFromContext(ctx); ok {
		req.UserID = userID
	}
	req.UserID = strings.TrimSpace(req.UserID)

	if err := validate.Struct(req); err != nil {
		return nil, err
	}
	if req.UserID == "" {
		return nil, apierror.Validation("user_id", "failed on 'required' validation")
	}
	aspect, err := model.ParseAspectRatio(req.AspectRatio)
	if err != nil {
		return nil, apierror.Validation("aspect_ratio", err.Error())
	}

	now := s.now()
	job := &model.ImageJob{
		ID:          uuid.NewString(),
		UserID:      req.UserID,
		Prompt:      req.Prompt,
		AspectRatio: aspect,
		Status:      model.StatusQueued,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if ref := s.resolveImage(ctx, req.InputImage, req.UserID); ref != "" {
		job.InputImageURL = &ref
	}

	created, err := s.store.CreateImageJob(ctx, job)
	if err != nil {
		return nil, err
	}
	log.Ctx(ctx).Info().Str("job_id", created.ID).Str("aspect_ratio", string(created.AspectRatio)).Msg("🖼️  Image job queued")

	s.publish(ctx, model.NewImageEvent(created))
	s.notify(ctx, worker.KindImageGenerate, created.ID, s.generatePayload(created, ""))
	return created, nil
}

// RegenerateImageJob queues a new image job from an existing one, keeping its
// input image and, unless overridden, its prompt and aspect ratio.
func (s *Service) RegenerateImageJob(ctx context.Context, sourceID string, req RegenerateRequest) (*model.ImageJob, error) {
	if err := validate.Struct(req); err != nil {
		return nil, err
	}
	source, err := s.GetImageJob(ctx, sourceID)
	if err != nil {
		return nil, err
	}

	prompt := source.Prompt
	if p := strings.TrimSpace(req.Prompt); p != "" {
		prompt = p
	}
	aspect := source.AspectRatio
	if req.AspectRatio != "" {
		if aspect, err = model.ParseAspectRatio(req.AspectRatio); err != nil {
			return nil, apierror.Validation("aspect_ratio", err.Error())
		}
	}

	now := s.now()
	job := &model.ImageJob{
		ID:            uuid.NewString(),
		UserID:        source.UserID,
		Prompt:        prompt,
		AspectRatio:   aspect,
		InputImageURL: source.InputImageURL,
		SourceJobID:   &source.ID,
		Status:        model.StatusQueued,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	created, err := s.store.CreateImageJob(ctx, job)
	if err != nil {
		return nil, err
	}
	log.Ctx(ctx).Info().Str("job_id", created.ID).Str("source_job_id", source.ID).Msg("🔁 Regeneration queued")

	s.publish(ctx, model.NewImageEvent(created))
	s.notify(ctx, worker.KindImageRegenerate, created.ID, s.generatePayload(created, source.ID))
	return created, nil
}

// CreateVideoJob queues a video for a finished image job.
func (s *Service) CreateVideoJob(ctx context.Context, imageJobID string) (*model.VideoJob, error) {
	image, err := s.GetImageJob(ctx, imageJobID)
	if err != nil {
		return nil, err
	}
	if image.Status != model.StatusDone {
		return nil, apierror.Conflict(fmt.Sprintf("image job is %s, a video needs a done image", image.Status))
	}

	now := s.now()
	job := &model.VideoJob{
		ID:         uuid.NewString(),
		ImageJobID: image.ID,
		UserID:     image.UserID,
		Status:     model.StatusQueued,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	created, err := s.store.CreateVideoJob(ctx, job)
	if err != nil {
		return nil, err
	}
	log.Ctx(ctx).Info().Str("job_id", created.ID).Str("image_job_id", image.ID).Msg("🎬 Video job queued")

	s.publish(ctx, model.NewVideoEvent(created))
	s.notify(ctx, worker.KindVideoGenerate, created.ID, s.videoPayload(created, image))
	return created, nil
}

// GetImageJob returns a job visible to the caller.
func (s *Service) GetImageJob(ctx context.Context, id string) (*model.ImageJob, error) {
	job, err := s.store.FetchImageJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if !visibleTo(ctx, job.UserID) {
		return nil, fmt.Errorf("%w: image job %s", model.ErrNotFound, id)
	}
	return job, nil
}

// ListImageJobs returns the newest jobs of a user.
func (s *Service) ListImageJobs(ctx context.Context, userID string, limit int) ([]model.ImageJob, error) {
	if authUser, ok := auth.UserIDFromContext(ctx); ok {
		userID = authUser
	}
	if userID == "" {
		return nil, apierror.Validation("user_id", "failed on 'required' validation")
	}
	return s.store.ListImageJobsByUser(ctx, userID, limit)
}

// GetVideoJob returns a video job visible to the caller.
func (s *Service) GetVideoJob(ctx context.Context, id string) (*model.VideoJob, error) {
	job, err := s.store.FetchVideoJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if !visibleTo(ctx, job.UserID) {
		return nil, fmt.Errorf("%w: video job %s", model.ErrNotFound, id)
	}
	return job, nil
}

// ListVideoJobs returns the video jobs created from an image job.
func (s *Service) ListVideoJobs(ctx context.Context, imageJobID string) ([]model.VideoJob, error) {
	if _, err := s.GetImageJob(ctx, imageJobID); err != nil {
		return nil, err
	}
	return s.store.ListVideoJobsByImage(ctx, imageJobID)
}

// ApplyImageUpdate records progress on an image job. Status only moves forward;
// repeating a terminal status is a no-op. The write only lands if the row still
// has the status the transition was checked against; otherwise the check is
// repeated against the newer row.
func (s *Service) ApplyImageUpdate(ctx context.Context, id string, u model.JobUpdate) (*model.ImageJob, error) {
	fields := map[string]interface{}{"status": u.Status}
	if u.ResultURL != "" {
		fields["generated_image_url"] = u.ResultURL
	}
	if u.Analysis != "" {
		fields["analysis"] = u.Analysis
	}
	if u.ErrorMessage != "" {
		fields["error_message"] = u.ErrorMessage
	}

	var lastErr error
	for attempt := 0; attempt < maxApplyAttempts; attempt++ {
		current, err := s.store.FetchImageJob(ctx, id)
		if err != nil {
			return nil, err
		}
		changed, err := model.CheckTransition(current.Status, u.Status)
		if err != nil {
			return nil, err
		}
		if !changed {
			return current, nil
		}

		updated, err := s.store.UpdateImageJob(ctx, id, current.Status, fields)
		if errors.Is(err, model.ErrInvalidTransition) {
			log.Ctx(ctx).Debug().Err(err).Str("job_id", id).Msg("image job changed underneath, rechecking")
			lastErr = err
			continue
		}
		if err != nil {
			return nil, err
		}
		log.Ctx(ctx).Info().Str("job_id", id).Msgf("📝 Image job %s → %s", current.Status, updated.Status)

		s.publish(ctx, model.NewImageEvent(updated))
		return updated, nil
	}
	return nil, lastErr
}

// ApplyVideoUpdate records progress on a video job, with the same rules as
// ApplyImageUpdate.
func (s *Service) ApplyVideoUpdate(ctx context.Context, id string, u model.JobUpdate) (*model.VideoJob, error) {
	fields := map[string]interface{}{"status": u.Status}
	if u.ResultURL != "" {
		fields["video_url"] = u.ResultURL
	}
	if u.ErrorMessage != "" {
		fields["error_message"] = u.ErrorMessage
	}

	var lastErr error
	for attempt := 0; attempt < maxApplyAttempts; attempt++ {
		current, err := s.store.FetchVideoJob(ctx, id)
		if err != nil {
			return nil, err
		}
		changed, err := model.CheckTransition(current.Status, u.Status)
		if err != nil {
			return nil, err
		}
		if !changed {
			return current, nil
		}

		updated, err := s.store.UpdateVideoJob(ctx, id, current.Status, fields)
		if errors.Is(err, model.ErrInvalidTransition) {
			log.Ctx(ctx).Debug().Err(err).Str("job_id", id).Msg("video job changed underneath, rechecking")
			lastErr = err
			continue
		}
		if err != nil {
			return nil, err
		}
		log.Ctx(ctx).Info().Str("job_id", id).Msgf("📝 Video job %s → %s", current.Status, updated.Status)

		s.publish(ctx, model.NewVideoEvent(updated))
		return updated, nil
	}
	return nil, lastErr
}

// CancelJob fails a job that has not finished yet.
func (s *Service) CancelJob(ctx context.Context, kind, id string) (any, error) {
	update := model.JobUpdate{Status: model.StatusFailed, ErrorMessage: CancelledMessage}
	switch kind {
	case KindImage:
		if _, err := s.GetImageJob(ctx, id); err != nil {
			return nil, err
		}
		return s.ApplyImageUpdate(ctx, id, update)
	case KindVideo:
		if _, err := s.GetVideoJob(ctx, id); err != nil {
			return nil, err
		}
		return s.ApplyVideoUpdate(ctx, id, update)
	}
	return nil, apierror.Validation("kind", "must be image or video")
}

// Renotify sends the webhook notification for an unfinished job again.
func (s *Service) Renotify(ctx context.Context, kind, id string) error {
	switch kind {
	case KindImage:
		job, err := s.GetImageJob(ctx, id)
		if err != nil {
			return err
		}
		if job.Status.IsTerminal() {
			return apierror.Conflict(fmt.Sprintf("image job is already %s", job.Status))
		}
		if job.SourceJobID != nil {
			return s.dispatch(ctx, worker.KindImageRegenerate, job.ID, s.generatePayload(job, *job.SourceJobID))
		}
		return s.dispatch(ctx, worker.KindImageGenerate, job.ID, s.generatePayload(job, ""))
	case KindVideo:
		job, err := s.GetVideoJob(ctx, id)
		if err != nil {
			return err
		}
		if job.Status.IsTerminal() {
			return apierror.Conflict(fmt.Sprintf("video job is already %s", job.Status))
		}
		image, err := s.store.FetchImageJob(ctx, job.ImageJobID)
		if err != nil {
			return err
		}
		return s.dispatch(ctx, worker.KindVideoGenerate, job.ID, s.videoPayload(job, image))
	}
	return apierror.Validation("kind", "must be image or video")
}

func (s *Service) resolveImage(ctx context.Context, ref, userID string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" || s.resolver == nil {
		return ref
	}
	return s.resolver.ToURL(ctx, ref, userID)
}

func (s *Service) generatePayload(job *model.ImageJob, sourceID string) GeneratePayload {
	p := GeneratePayload{
		JobID:       job.ID,
		SourceJobID: sourceID,
		UserID:      job.UserID,
		Prompt:      job.Prompt,
		AspectRatio: job.AspectRatio,
		CallbackURL: s.callbackURL("image-jobs", job.ID),
	}
	if job.InputImageURL != nil {
		p.ImageURL = *job.InputImageURL
	}
	return p
}

func (s *Service) videoPayload(job *model.VideoJob, image *model.ImageJob) VideoPayload {
	p := VideoPayload{
		JobID:       job.ID,
		ImageJobID:  image.ID,
		UserID:      job.UserID,
		Prompt:      image.Prompt,
		AspectRatio: image.AspectRatio,
		CallbackURL: s.callbackURL("video-jobs", job.ID),
	}
	if image.GeneratedImageURL != nil {
		p.ImageURL = *image.GeneratedImageURL
	}
	return p
}

func (s *Service) callbackURL(collection, id string) string {
	if s.callbackBase == "" {
		return ""
	}
	return fmt.Sprintf("%s/api/callbacks/%s/%s", s.callbackBase, collection, id)
}

// notify dispatches without failing the caller.
func (s *Service) notify(ctx context.Context, kind worker.Kind, jobID string, payload any) {
	if err := s.dispatch(ctx, kind, jobID, payload); err != nil {
		log.Ctx(ctx).Warn().Err(err).Str("job_id", jobID).Msgf("⚠️  %s notification not dispatched", kind)
	}
}

func (s *Service) dispatch(ctx context.Context, kind worker.Kind, jobID string, payload any) error {
	if s.dispatcher == nil {
		return fmt.Errorf("no dispatcher configured")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", kind, err)
	}
	return s.dispatcher.Dispatch(ctx, worker.Notification{Kind: kind, JobID: jobID, Payload: body})
}

func (s *Service) publish(ctx context.Context, ev model.JobEvent) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, ev); err != nil {
		log.Ctx(ctx).Warn().Err(err).Str("topic", ev.Topic()).Msg("⚠️  Failed to publish job event")
	}
}

// visibleTo hides other users' jobs from authenticated callers.
func visibleTo(ctx context.Context, ownerID string) bool {
	userID, ok := auth.UserIDFromContext(ctx)
	return !ok || userID == ownerID
}
