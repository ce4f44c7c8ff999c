package utils

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg" // JPEG 디코더 등록
	_ "image/png"  // PNG 디코더 등록
	"net/http"
	"strings"

	_ "github.com/kolesa-team/go-webp/decoder" // WebP 디코더 등록
	"github.com/kolesa-team/go-webp/encoder"
	"github.com/kolesa-team/go-webp/webp"
	"github.com/rs/zerolog/log"
)

// DetectImageType sniffs the MIME type of raw image bytes.
func DetectImageType(data []byte) string {
	return http.DetectContentType(data)
}

// ResolveImageMIME - 선언된 MIME이 없거나 범용 타입이면 바이트에서 감지한 이미지 타입 사용
func ResolveImageMIME(declared string, data []byte) string {
	generic := declared == "" ||
		declared == "application/octet-stream" ||
		strings.HasPrefix(declared, "text/plain")
	if !generic {
		return declared
	}
	if sniffed := DetectImageType(data); strings.HasPrefix(sniffed, "image/") {
		return sniffed
	}
	return declared
}

// ConvertToWebP - JPEG/PNG/WebP 바이너리를 lossy WebP로 변환
func ConvertToWebP(data []byte, quality float32) ([]byte, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	options, err := encoder.NewLossyEncoderOptions(encoder.PresetPhoto, quality)
	if err != nil {
		return nil, fmt.Errorf("failed to create WebP encoder options: %w", err)
	}

	var buf bytes.Buffer
	if err := webp.Encode(&buf, img, options); err != nil {
		return nil, fmt.Errorf("failed to encode WebP: %w", err)
	}

	out := buf.Bytes()
	log.Debug().Msgf("🔄 %s converted to WebP: %d bytes → %d bytes", format, len(data), len(out))
	return out, nil
}
