package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"lifestyle-studio-server/modules/common/fallback"
	"lifestyle-studio-server/modules/common/model"
	"lifestyle-studio-server/modules/webhook"
)

// StatusApplier records job progress observed while notifying.
type StatusApplier interface {
	ApplyImageUpdate(ctx context.Context, id string, u model.JobUpdate) (*model.ImageJob, error)
	ApplyVideoUpdate(ctx context.Context, id string, u model.JobUpdate) (*model.VideoJob, error)
}

// Sender is the part of webhook.Forwarder the processor needs.
type Sender interface {
	Configured() bool
	Forward(ctx context.Context, body []byte, contentType string) (*webhook.Response, error)
}

// Processor delivers notifications to the automation service.
type Processor struct {
	senders map[Kind]Sender
	applier StatusApplier
}

func NewProcessor(senders map[Kind]Sender) *Processor {
	return &Processor{senders: senders}
}

// Attach sets the job updater. Construction is two-step because the job
// service itself dispatches through this processor.
func (p *Processor) Attach(a StatusApplier) {
	p.applier = a
}

// Process forwards n and records the outcome: processing on acceptance, done when
// the response already carries a result URL, failed once retries are exhausted.
func (p *Processor) Process(ctx context.Context, n Notification) error {
	sender, ok := p.senders[n.Kind]
	if !ok || sender == nil || !sender.Configured() {
		log.Warn().Msgf("⚠️  [Worker] No webhook configured for %s, job %s left for the automation service", n.Kind, n.JobID)
		return nil
	}

	log.Info().Msgf("🚀 [Worker] Notifying %s for job %s", n.Kind, n.JobID)

	resp, err := sender.Forward(ctx, n.Payload, "application/json")
	if err != nil {
		p.apply(ctx, n, model.JobUpdate{
			Status:       model.StatusFailed,
			ErrorMessage: fmt.Sprintf("webhook delivery failed: %v", err),
		})
		return err
	}

	fields := fallback.ImageURLFields
	if n.Kind.IsVideo() {
		fields = fallback.VideoURLFields
	}

	update := model.JobUpdate{Status: model.StatusProcessing}
	if url := fallback.FirstStringJSON(resp.Body, fields...); url != "" {
		update = model.JobUpdate{
			Status:    model.StatusDone,
			ResultURL: url,
			Analysis:  fallback.FirstStringJSON(resp.Body, fallback.AnalysisFields...),
		}
	}
	p.apply(ctx, n, update)

	log.Info().Msgf("✅ [Worker] %s for job %s delivered (status %d → %s)", n.Kind, n.JobID, resp.StatusCode, update.Status)
	return nil
}

func (p *Processor) apply(ctx context.Context, n Notification, u model.JobUpdate) {
	if p.applier == nil {
		return
	}

	var err error
	if n.Kind.IsVideo() {
		_, err = p.applier.ApplyVideoUpdate(ctx, n.JobID, u)
	} else {
		_, err = p.applier.ApplyImageUpdate(ctx, n.JobID, u)
	}

	switch {
	case err == nil:
	case errors.Is(err, model.ErrInvalidTransition):
		// a callback already moved the job further along
		log.Debug().Err(err).Str("job_id", n.JobID).Msg("skipping stale status from notifier")
	default:
		log.Error().Err(err).Str("job_id", n.JobID).Msg("❌ [Worker] Failed to record job status")
	}
}
