package webhook

import (
	"io"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"lifestyle-studio-server/modules/common/apierror"
	"lifestyle-studio-server/modules/common/middleware"
)

// maxRequestBytes caps incoming bodies; product photos arrive as data URLs or multipart.
const maxRequestBytes = 25 << 20

// Handler relays browser requests to the automation service.
type Handler struct {
	generate   *Forwarder
	regenerate *Forwarder
	converter  *Forwarder
}

func NewHandler(generate, regenerate, converter *Forwarder) *Handler {
	return &Handler{generate: generate, regenerate: regenerate, converter: converter}
}

// RegisterRoutes - 라우트 등록
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.Handle("/api/webhook-generate", Relay(h.generate))
	r.Handle("/api/webhook-regenerate", Relay(h.regenerate))
	r.Handle("/api/image-converter", Relay(h.converter))
	log.Info().Msg("✅ Webhook routes registered: /api/webhook-generate, /api/webhook-regenerate, /api/image-converter")
}

// Relay answers OPTIONS with an empty 200, forwards POST bodies verbatim and
// mirrors the external status code and body back to the caller.
func Relay(f *Forwarder) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		middleware.SetCORSHeaders(w)

		switch r.Method {
		case http.MethodOptions:
			w.WriteHeader(http.StatusOK)
			return
		case http.MethodPost:
		default:
			apierror.WriteJSON(w, http.StatusMethodNotAllowed, apierror.Body{Error: "method not allowed"})
			return
		}

		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBytes))
		if err != nil {
			apierror.Write(w, apierror.Validation("body", "unreadable or too large"))
			return
		}

		log.Ctx(r.Context()).Info().Msgf("📨 [%s] Forwarding %d bytes", f.Name, len(body))

		resp, err := f.Forward(r.Context(), body, r.Header.Get("Content-Type"))
		if resp != nil {
			if resp.ContentType != "" {
				w.Header().Set("Content-Type", resp.ContentType)
			}
			w.WriteHeader(resp.StatusCode)
			_, _ = w.Write(resp.Body)
			return
		}
		apierror.Write(w, err)
	})
}
