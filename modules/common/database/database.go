package database

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	postgrest "github.com/supabase-community/postgrest-go"
	"github.com/supabase-community/supabase-go"

	"lifestyle-studio-server/modules/common/config"
	"lifestyle-studio-server/modules/common/model"
)

type Client struct {
	supabase *supabase.Client
}

// NewClient - Database 클라이언트 생성
func NewClient(cfg *config.Config) (*Client, error) {
	supabaseClient, err := supabase.NewClient(cfg.SupabaseURL, cfg.SupabaseKey(), &supabase.ClientOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to create Supabase client: %w", err)
	}
	return &Client{supabase: supabaseClient}, nil
}

// CreateImageJob - image_jobs 테이블에 레코드 생성
func (c *Client) CreateImageJob(ctx context.Context, job *model.ImageJob) (*model.ImageJob, error) {
	log.Debug().Str("job_id", job.ID).Msg("💾 Inserting image job")

	data, _, err := c.supabase.From(model.TableImageJobs).
		Insert(job, false, "", "representation", "").
		Execute()
	if err != nil {
		return nil, fmt.Errorf("failed to insert image job: %w", err)
	}

	var jobs []model.ImageJob
	if err := json.Unmarshal(data, &jobs); err != nil {
		return nil, fmt.Errorf("failed to parse image job response: %w", err)
	}
	if len(jobs) == 0 {
		return nil, fmt.Errorf("no image job returned")
	}

	log.Info().Str("job_id", jobs[0].ID).Msg("✅ Image job created")
	return &jobs[0], nil
}

// FetchImageJob - image_jobs 단건 조회
func (c *Client) FetchImageJob(ctx context.Context, id string) (*model.ImageJob, error) {
	var jobs []model.ImageJob
	if err := c.selectByID(model.TableImageJobs, id, &jobs); err != nil {
		return nil, err
	}
	if len(jobs) == 0 {
		return nil, fmt.Errorf("%w: image job %s", model.ErrNotFound, id)
	}
	return &jobs[0], nil
}

// ListImageJobsByUser - 사용자별 최근 image job 목록
func (c *Client) ListImageJobsByUser(ctx context.Context, userID string, limit int) ([]model.ImageJob, error) {
	data, _, err := c.supabase.From(model.TableImageJobs).
		Select("*", "", false).
		Eq("user_id", userID).
		Order("created_at", &postgrest.OrderOpts{Ascending: false}).
		Limit(limit, "").
		Execute()
	if err != nil {
		return nil, fmt.Errorf("failed to list image jobs: %w", err)
	}

	jobs := []model.ImageJob{}
	if err := json.Unmarshal(data, &jobs); err != nil {
		return nil, fmt.Errorf("failed to parse image jobs: %w", err)
	}
	return jobs, nil
}

// UpdateImageJob - status가 expected일 때만 필드 업데이트 후 갱신된 레코드 반환
func (c *Client) UpdateImageJob(ctx context.Context, id string, expected model.Status, fields map[string]interface{}) (*model.ImageJob, error) {
	var jobs []model.ImageJob
	if err := c.updateByID(model.TableImageJobs, id, expected, fields, &jobs); err != nil {
		return nil, err
	}
	if len(jobs) == 0 {
		return nil, staleOrMissing("image", id, expected)
	}
	log.Info().Str("job_id", id).Str("status", string(jobs[0].Status)).Msg("✅ Image job updated")
	return &jobs[0], nil
}

// CreateVideoJob - video_jobs 테이블에 레코드 생성
func (c *Client) CreateVideoJob(ctx context.Context, job *model.VideoJob) (*model.VideoJob, error) {
	data, _, err := c.supabase.From(model.TableVideoJobs).
		Insert(job, false, "", "representation", "").
		Execute()
	if err != nil {
		return nil, fmt.Errorf("failed to insert video job: %w", err)
	}

	var jobs []model.VideoJob
	if err := json.Unmarshal(data, &jobs); err != nil {
		return nil, fmt.Errorf("failed to parse video job response: %w", err)
	}
	if len(jobs) == 0 {
		return nil, fmt.Errorf("no video job returned")
	}

	log.Info().Str("job_id", jobs[0].ID).Str("image_job_id", jobs[0].ImageJobID).Msg("✅ Video job created")
	return &jobs[0], nil
}

// FetchVideoJob - video_jobs 단건 조회
func (c *Client) FetchVideoJob(ctx context.Context, id string) (*model.VideoJob, error) {
	var jobs []model.VideoJob
	if err := c.selectByID(model.TableVideoJobs, id, &jobs); err != nil {
		return nil, err
	}
	if len(jobs) == 0 {
		return nil, fmt.Errorf("%w: video job %s", model.ErrNotFound, id)
	}
	return &jobs[0], nil
}

// ListVideoJobsByImage - image job에 연결된 video job 목록
func (c *Client) ListVideoJobsByImage(ctx context.Context, imageJobID string) ([]model.VideoJob, error) {
	data, _, err := c.supabase.From(model.TableVideoJobs).
		Select("*", "", false).
		Eq("image_job_id", imageJobID).
		Order("created_at", &postgrest.OrderOpts{Ascending: false}).
		Execute()
	if err != nil {
		return nil, fmt.Errorf("failed to list video jobs: %w", err)
	}

	jobs := []model.VideoJob{}
	if err := json.Unmarshal(data, &jobs); err != nil {
		return nil, fmt.Errorf("failed to parse video jobs: %w", err)
	}
	return jobs, nil
}

// UpdateVideoJob - status가 expected일 때만 필드 업데이트 후 갱신된 레코드 반환
func (c *Client) UpdateVideoJob(ctx context.Context, id string, expected model.Status, fields map[string]interface{}) (*model.VideoJob, error) {
	var jobs []model.VideoJob
	if err := c.updateByID(model.TableVideoJobs, id, expected, fields, &jobs); err != nil {
		return nil, err
	}
	if len(jobs) == 0 {
		return nil, staleOrMissing("video", id, expected)
	}
	log.Info().Str("job_id", id).Str("status", string(jobs[0].Status)).Msg("✅ Video job updated")
	return &jobs[0], nil
}

// Ping checks the PostgREST endpoint with a cheap count query.
func (c *Client) Ping(ctx context.Context) error {
	_, _, err := c.supabase.From(model.TableImageJobs).
		Select("id", "exact", true).
		Limit(1, "").
		Execute()
	if err != nil {
		return fmt.Errorf("supabase unreachable: %w", err)
	}
	return nil
}

func (c *Client) selectByID(table, id string, out interface{}) error {
	data, _, err := c.supabase.From(table).
		Select("*", "", false).
		Eq("id", id).
		Execute()
	if err != nil {
		return fmt.Errorf("failed to query %s: %w", table, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse %s response: %w", table, err)
	}
	return nil
}

// staleOrMissing - 조건부 업데이트가 아무 행도 바꾸지 못한 경우
func staleOrMissing(kind, id string, expected model.Status) error {
	if expected == "" {
		return fmt.Errorf("%w: %s job %s", model.ErrNotFound, kind, id)
	}
	return fmt.Errorf("%w: %s job %s is no longer %s", model.ErrInvalidTransition, kind, id, expected)
}

// updateByID - expected가 비어있지 않으면 현재 status가 일치하는 행만 갱신
func (c *Client) updateByID(table, id string, expected model.Status, fields map[string]interface{}, out interface{}) error {
	updateData := make(map[string]interface{}, len(fields)+1)
	for k, v := range fields {
		updateData[k] = v
	}
	updateData["updated_at"] = time.Now().UTC().Format(time.RFC3339Nano)

	query := c.supabase.From(table).
		Update(updateData, "representation", "").
		Eq("id", id)
	if expected != "" {
		query = query.Eq("status", string(expected))
	}
	data, _, err := query.Execute()
	if err != nil {
		return fmt.Errorf("failed to update %s %s: %w", table, id, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse %s update response: %w", table, err)
	}
	return nil
}

// ClampLimit bounds list sizes coming from query strings.
func ClampLimit(raw string, def, max int) int {
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}
