package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Table names in the managed database.
const (
	TableImageJobs = "image_jobs"
	TableVideoJobs = "video_jobs"
)

// Status - job lifecycle status
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusDone       Status = "done"
	StatusFailed     Status = "failed"
)

// AspectRatio - output shape selector
type AspectRatio string

const (
	AspectPortrait  AspectRatio = "portrait"
	AspectLandscape AspectRatio = "landscape"
)

var (
	ErrNotFound          = errors.New("job not found")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// ImageJob - image_jobs 테이블 구조
type ImageJob struct {
	ID                string      `json:"id"`
	UserID            string      `json:"user_id"`
	Prompt            string      `json:"prompt"`
	AspectRatio       AspectRatio `json:"aspect_ratio"`
	InputImageURL     *string     `json:"input_image_url"`
	SourceJobID       *string     `json:"source_job_id,omitempty"`
	Status            Status      `json:"status"`
	GeneratedImageURL *string     `json:"generated_image_url"`
	Analysis          *string     `json:"analysis"`
	ErrorMessage      *string     `json:"error_message"`
	CreatedAt         time.Time   `json:"created_at"`
	UpdatedAt         time.Time   `json:"updated_at"`
}

// VideoJob - video_jobs 테이블 구조
type VideoJob struct {
	ID           string    `json:"id"`
	ImageJobID   string    `json:"image_job_id"`
	UserID       string    `json:"user_id"`
	Status       Status    `json:"status"`
	VideoURL     *string   `json:"video_url"`
	ErrorMessage *string   `json:"error_message"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// JobUpdate is a status change reported by the automation service or the notifier.
// ResultURL lands in generated_image_url for image jobs and video_url for video jobs.
type JobUpdate struct {
	Status       Status `json:"status"`
	ResultURL    string `json:"result_url,omitempty"`
	Analysis     string `json:"analysis,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// JobEvent is a row change pushed to realtime subscribers.
type JobEvent struct {
	Table     string    `json:"table"`
	ID        string    `json:"id"`
	Status    Status    `json:"status"`
	UpdatedAt time.Time `json:"updated_at"`
	Record    any       `json:"record"`
}

// Topic is the subscription key for a single row.
func Topic(table, id string) string {
	return table + ":" + id
}

// Topic returns the subscription key of the changed row.
func (e JobEvent) Topic() string {
	return Topic(e.Table, e.ID)
}

// NewImageEvent wraps an image job row into a change event.
func NewImageEvent(job *ImageJob) JobEvent {
	return JobEvent{Table: TableImageJobs, ID: job.ID, Status: job.Status, UpdatedAt: job.UpdatedAt, Record: job}
}

// NewVideoEvent wraps a video job row into a change event.
func NewVideoEvent(job *VideoJob) JobEvent {
	return JobEvent{Table: TableVideoJobs, ID: job.ID, Status: job.Status, UpdatedAt: job.UpdatedAt, Record: job}
}

// ParseStatus validates a status string.
func ParseStatus(s string) (Status, error) {
	switch st := Status(strings.ToLower(strings.TrimSpace(s))); st {
	case StatusQueued, StatusProcessing, StatusDone, StatusFailed:
		return st, nil
	}
	return "", fmt.Errorf("unknown status %q", s)
}

// ParseAspectRatio validates an aspect ratio, defaulting to portrait when empty.
func ParseAspectRatio(s string) (AspectRatio, error) {
	switch ar := AspectRatio(strings.ToLower(strings.TrimSpace(s))); ar {
	case "":
		return AspectPortrait, nil
	case AspectPortrait, AspectLandscape:
		return ar, nil
	}
	return "", fmt.Errorf("unknown aspect ratio %q", s)
}

func (s Status) rank() int {
	switch s {
	case StatusQueued:
		return 0
	case StatusProcessing:
		return 1
	case StatusDone, StatusFailed:
		return 2
	}
	return -1
}

// IsTerminal reports whether no further transitions are allowed.
func (s Status) IsTerminal() bool {
	return s == StatusDone || s == StatusFailed
}

// CheckTransition enforces monotonic progress toward a terminal state.
// It returns changed=false for an idempotent repeat of a terminal status.
func CheckTransition(from, to Status) (changed bool, err error) {
	if to.rank() < 0 {
		return false, fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, to)
	}
	if from.IsTerminal() {
		if from == to {
			return false, nil
		}
		return false, fmt.Errorf("%w: %s is terminal", ErrInvalidTransition, from)
	}
	if to.rank() < from.rank() {
		return false, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return true, nil
}
