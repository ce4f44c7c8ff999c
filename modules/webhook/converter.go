package webhook

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"net/textproto"
	"strings"

	"github.com/rs/zerolog/log"

	"lifestyle-studio-server/modules/common/fallback"
	"lifestyle-studio-server/modules/common/utils"
)

// Uploader stores image bytes and returns a public URL.
type Uploader interface {
	UploadProductImage(ctx context.Context, data []byte, mime, userID string) (string, error)
}

// Converter turns a data URL into a hosted URL the automation service can fetch.
type Converter struct {
	forwarder *Forwarder
	uploader  Uploader
}

// NewConverter - forwarder나 uploader는 nil 가능
func NewConverter(forwarder *Forwarder, uploader Uploader) *Converter {
	return &Converter{forwarder: forwarder, uploader: uploader}
}

// ToURL resolves an image reference. http(s) references pass through. Data URLs go
// to the converter endpoint, then to storage, and fall back to the original data URL.
func (c *Converter) ToURL(ctx context.Context, ref, userID string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" || !utils.IsDataURL(ref) {
		return ref
	}

	mime, data, err := utils.ParseDataURL(ref)
	if err != nil {
		log.Warn().Err(err).Msg("⚠️  Invalid data URL, keeping it as-is")
		return ref
	}
	mime = utils.ResolveImageMIME(mime, data)

	if c.forwarder.Configured() {
		url, err := c.convert(ctx, mime, data)
		if err == nil {
			log.Info().Msgf("✅ Image converted to URL: %s", url)
			return url
		}
		log.Warn().Err(err).Msg("⚠️  Image converter failed")
	}

	if c.uploader != nil {
		url, err := c.uploader.UploadProductImage(ctx, data, mime, userID)
		if err == nil {
			return url
		}
		log.Warn().Err(err).Msg("⚠️  Storage upload failed")
	}

	log.Info().Msg("ℹ️  Falling back to original data URL")
	return ref
}

func (c *Converter) convert(ctx context.Context, mime string, data []byte) (string, error) {
	body, contentType, err := MultipartImage(mime, data)
	if err != nil {
		return "", err
	}

	resp, err := c.forwarder.Forward(ctx, body, contentType)
	if err != nil {
		return "", err
	}

	url := fallback.FirstStringJSON(resp.Body, fallback.ImageURLFields...)
	if url == "" {
		return "", fmt.Errorf("converter response has no URL field: %s", truncate(resp.Body, 200))
	}
	return url, nil
}

// MultipartImage encodes data as a single "file" part.
func MultipartImage(mime string, data []byte) ([]byte, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="upload.%s"`, utils.ExtensionFor(mime)))
	header.Set("Content-Type", mime)

	part, err := mw.CreatePart(header)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create multipart part: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, "", fmt.Errorf("failed to write multipart part: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close multipart writer: %w", err)
	}
	return buf.Bytes(), mw.FormDataContentType(), nil
}
