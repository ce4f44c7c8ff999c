package webhook

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"lifestyle-studio-server/modules/common/apierror"
)

// maxResponseBytes caps how much of an upstream body is buffered.
const maxResponseBytes = 32 << 20

// Forwarder re-POSTs a request body to a fixed external URL with a fixed-count,
// fixed-delay retry loop.
type Forwarder struct {
	Name     string
	URL      string
	Attempts int
	Delay    time.Duration

	client *http.Client
	sleep  func(ctx context.Context, d time.Duration) error
}

// Response - 외부 서비스 응답
type Response struct {
	StatusCode  int
	ContentType string
	Body        []byte
	Attempts    int
}

// NewForwarder builds a forwarder; timeout bounds each attempt.
func NewForwarder(name, url string, timeout time.Duration, attempts int, delay time.Duration) *Forwarder {
	if attempts < 1 {
		attempts = 1
	}
	return &Forwarder{
		Name:     name,
		URL:      url,
		Attempts: attempts,
		Delay:    delay,
		client:   &http.Client{Timeout: timeout},
		sleep:    sleepCtx,
	}
}

// Configured reports whether a target URL is set.
func (f *Forwarder) Configured() bool {
	return f != nil && f.URL != ""
}

// Forward POSTs body to the target. A 2xx response returns immediately. Network
// failures and non-2xx responses are retried after Delay until Attempts is used up;
// the final non-2xx response is returned together with an upstream error.
func (f *Forwarder) Forward(ctx context.Context, body []byte, contentType string) (*Response, error) {
	if !f.Configured() {
		return nil, &apierror.Error{Kind: apierror.KindUnexpected, Message: fmt.Sprintf("%s webhook URL is not configured", f.Name)}
	}

	var lastErr error
	var lastResp *Response

	for attempt := 1; attempt <= f.Attempts; attempt++ {
		if attempt > 1 {
			log.Info().Msgf("   ⏳ [%s] Waiting %s before retry %d/%d", f.Name, f.Delay, attempt, f.Attempts)
			if err := f.sleep(ctx, f.Delay); err != nil {
				return lastResp, apierror.Network(err)
			}
		}

		resp, err := f.do(ctx, body, contentType)
		if err != nil {
			log.Warn().Err(err).Msgf("⚠️  [%s] Attempt %d/%d failed", f.Name, attempt, f.Attempts)
			lastErr, lastResp = apierror.Network(err), nil
			continue
		}
		resp.Attempts = attempt

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			log.Info().Msgf("✅ [%s] Delivered on attempt %d/%d (status %d)", f.Name, attempt, f.Attempts, resp.StatusCode)
			return resp, nil
		}

		log.Warn().Msgf("⚠️  [%s] Attempt %d/%d returned status %d", f.Name, attempt, f.Attempts, resp.StatusCode)
		lastErr, lastResp = apierror.Upstream(resp.StatusCode, truncate(resp.Body, 512)), resp
	}

	log.Error().Err(lastErr).Msgf("❌ [%s] Giving up after %d attempts", f.Name, f.Attempts)
	return lastResp, lastErr
}

func (f *Forwarder) do(ctx context.Context, body []byte, contentType string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if contentType == "" {
		contentType = "application/json"
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return &Response{
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        respBody,
	}, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
