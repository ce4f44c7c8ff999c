package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"lifestyle-studio-server/modules/common/config"
	"lifestyle-studio-server/modules/common/utils"
)

type Client struct {
	baseURL    string
	apiKey     string
	bucket     string
	httpClient *http.Client
	// encode is swapped in tests; nil skips re-encoding
	encode func([]byte, float32) ([]byte, error)
}

// NewClient - Storage 클라이언트 생성
func NewClient(cfg *config.Config) *Client {
	return &Client{
		baseURL:    cfg.SupabaseURL,
		apiKey:     cfg.SupabaseKey(),
		bucket:     cfg.StorageBucket,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		encode:     utils.ConvertToWebP,
	}
}

// UploadProductImage - 상품 이미지를 WebP로 변환 후 Supabase Storage에 업로드, public URL 반환
func (c *Client) UploadProductImage(ctx context.Context, data []byte, mime, userID string) (string, error) {
	mime = utils.ResolveImageMIME(mime, data)
	body, contentType := data, mime
	if c.encode != nil && mime != "image/webp" {
		if webpData, err := c.encode(data, 90.0); err != nil {
			log.Warn().Err(err).Msg("⚠️  WebP conversion failed, uploading original bytes")
		} else {
			body, contentType = webpData, "image/webp"
		}
	}

	if userID == "" {
		userID = "anonymous"
	}
	fileName := fmt.Sprintf("%d_%d.%s", time.Now().UnixMilli(), rand.Intn(999999), utils.ExtensionFor(contentType))
	filePath := fmt.Sprintf("user-%s/%s", userID, fileName)

	uploadURL := fmt.Sprintf("%s/storage/v1/object/%s/%s", c.baseURL, c.bucket, filePath)
	log.Info().Msgf("📤 Uploading product image to storage: %s (%d bytes)", filePath, len(body))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, uploadURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create upload request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Content-Type", contentType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to upload image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		respBody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("upload failed with status %d: %s", resp.StatusCode, string(respBody))
	}

	publicURL := c.PublicURL(filePath)
	log.Info().Msgf("✅ Product image uploaded: %s", publicURL)
	return publicURL, nil
}

// PublicURL - 버킷 내 경로의 공개 URL
func (c *Client) PublicURL(filePath string) string {
	return fmt.Sprintf("%s/storage/v1/object/public/%s/%s", c.baseURL, c.bucket, filePath)
}
