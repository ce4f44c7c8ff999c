package jobs

import (
	"crypto/subtle"
	"encoding/json"
	"io"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"lifestyle-studio-server/modules/common/apierror"
	"lifestyle-studio-server/modules/common/database"
	"lifestyle-studio-server/modules/common/model"
)

// Path values of {kind} on the control routes.
const (
	KindImage = "image"
	KindVideo = "video"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100

	// data URLs of product photos arrive inline
	maxRequestBody  = 25 << 20
	maxCallbackBody = 1 << 20
)

// Handler - Job API 핸들러
type Handler struct {
	service        *Service
	callbackSecret string
}

// NewHandler - callbackSecret이 비어있으면 콜백 인증 생략
func NewHandler(service *Service, callbackSecret string) *Handler {
	return &Handler{service: service, callbackSecret: callbackSecret}
}

// RegisterRoutes - 라우트 등록
func (h *Handler) RegisterRoutes(r *mux.Router) {
	api := r.PathPrefix("/api").Subrouter()

	api.HandleFunc("/image-jobs", h.HandleCreateImageJob).Methods(http.MethodPost)
	api.HandleFunc("/image-jobs", h.HandleListImageJobs).Methods(http.MethodGet)
	api.HandleFunc("/image-jobs/{id}", h.HandleGetImageJob).Methods(http.MethodGet)
	api.HandleFunc("/image-jobs/{id}/regenerate", h.HandleRegenerate).Methods(http.MethodPost)
	api.HandleFunc("/image-jobs/{id}/videos", h.HandleCreateVideoJob).Methods(http.MethodPost)
	api.HandleFunc("/image-jobs/{id}/videos", h.HandleListVideoJobs).Methods(http.MethodGet)
	api.HandleFunc("/video-jobs/{id}", h.HandleGetVideoJob).Methods(http.MethodGet)

	api.HandleFunc("/jobs/{kind}/{id}/cancel", h.HandleCancel).Methods(http.MethodPost)
	api.HandleFunc("/jobs/{kind}/{id}/notify", h.HandleRenotify).Methods(http.MethodPost)

	api.HandleFunc("/callbacks/image-jobs/{id}", h.HandleImageCallback).Methods(http.MethodPost)
	api.HandleFunc("/callbacks/video-jobs/{id}", h.HandleVideoCallback).Methods(http.MethodPost)

	log.Info().Msg("✅ Job routes registered: /api/image-jobs, /api/video-jobs, /api/jobs, /api/callbacks")
}

// HandleCreateImageJob - POST /api/image-jobs
func (h *Handler) HandleCreateImageJob(w http.ResponseWriter, r *http.Request) {
	var req CreateImageJobRequest
	if err := decodeJSON(w, r, &req, maxRequestBody); err != nil {
		apierror.Write(w, err)
		return
	}

	job, err := h.service.CreateImageJob(r.Context(), req)
	if err != nil {
		apierror.Write(w, err)
		return
	}
	apierror.WriteJSON(w, http.StatusCreated, job)
}

// HandleListImageJobs - GET /api/image-jobs?user_id=&limit=
func (h *Handler) HandleListImageJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := database.ClampLimit(q.Get("limit"), defaultListLimit, maxListLimit)

	jobs, err := h.service.ListImageJobs(r.Context(), q.Get("user_id"), limit)
	if err != nil {
		apierror.Write(w, err)
		return
	}
	if jobs == nil {
		jobs = []model.ImageJob{}
	}
	apierror.WriteJSON(w, http.StatusOK, jobs)
}

// HandleGetImageJob - GET /api/image-jobs/{id}
func (h *Handler) HandleGetImageJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.service.GetImageJob(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		apierror.Write(w, err)
		return
	}
	apierror.WriteJSON(w, http.StatusOK, job)
}

// HandleRegenerate - POST /api/image-jobs/{id}/regenerate (본문 생략 가능)
func (h *Handler) HandleRegenerate(w http.ResponseWriter, r *http.Request) {
	var req RegenerateRequest
	if err := decodeOptionalJSON(w, r, &req); err != nil {
		apierror.Write(w, err)
		return
	}

	job, err := h.service.RegenerateImageJob(r.Context(), mux.Vars(r)["id"], req)
	if err != nil {
		apierror.Write(w, err)
		return
	}
	apierror.WriteJSON(w, http.StatusCreated, job)
}

// HandleCreateVideoJob - POST /api/image-jobs/{id}/videos
func (h *Handler) HandleCreateVideoJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.service.CreateVideoJob(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		apierror.Write(w, err)
		return
	}
	apierror.WriteJSON(w, http.StatusCreated, job)
}

// HandleListVideoJobs - GET /api/image-jobs/{id}/videos
func (h *Handler) HandleListVideoJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.service.ListVideoJobs(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		apierror.Write(w, err)
		return
	}
	if jobs == nil {
		jobs = []model.VideoJob{}
	}
	apierror.WriteJSON(w, http.StatusOK, jobs)
}

// HandleGetVideoJob - GET /api/video-jobs/{id}
func (h *Handler) HandleGetVideoJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.service.GetVideoJob(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		apierror.Write(w, err)
		return
	}
	apierror.WriteJSON(w, http.StatusOK, job)
}

// HandleCancel - POST /api/jobs/{kind}/{id}/cancel
func (h *Handler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	job, err := h.service.CancelJob(r.Context(), vars["kind"], vars["id"])
	if err != nil {
		apierror.Write(w, err)
		return
	}
	log.Ctx(r.Context()).Info().Str("job_id", vars["id"]).Msgf("🛑 %s job cancelled", vars["kind"])
	apierror.WriteJSON(w, http.StatusOK, job)
}

// HandleRenotify - POST /api/jobs/{kind}/{id}/notify
func (h *Handler) HandleRenotify(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := h.service.Renotify(r.Context(), vars["kind"], vars["id"]); err != nil {
		apierror.Write(w, err)
		return
	}
	apierror.WriteJSON(w, http.StatusAccepted, map[string]string{
		"message": "notification dispatched",
		"job_id":  vars["id"],
	})
}

// HandleImageCallback - POST /api/callbacks/image-jobs/{id}
func (h *Handler) HandleImageCallback(w http.ResponseWriter, r *http.Request) {
	u, ok := h.readCallback(w, r, false)
	if !ok {
		return
	}
	job, err := h.service.ApplyImageUpdate(r.Context(), mux.Vars(r)["id"], u)
	if err != nil {
		apierror.Write(w, err)
		return
	}
	apierror.WriteJSON(w, http.StatusOK, job)
}

// HandleVideoCallback - POST /api/callbacks/video-jobs/{id}
func (h *Handler) HandleVideoCallback(w http.ResponseWriter, r *http.Request) {
	u, ok := h.readCallback(w, r, true)
	if !ok {
		return
	}
	job, err := h.service.ApplyVideoUpdate(r.Context(), mux.Vars(r)["id"], u)
	if err != nil {
		apierror.Write(w, err)
		return
	}
	apierror.WriteJSON(w, http.StatusOK, job)
}

func (h *Handler) readCallback(w http.ResponseWriter, r *http.Request, video bool) (model.JobUpdate, bool) {
	if !h.authorizedCallback(r) {
		apierror.Write(w, apierror.Unauthorized("invalid callback secret"))
		return model.JobUpdate{}, false
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxCallbackBody))
	if err != nil {
		apierror.Write(w, apierror.Validation("body", "could not be read"))
		return model.JobUpdate{}, false
	}
	u, err := ParseCallback(body, video)
	if err != nil {
		apierror.Write(w, err)
		return model.JobUpdate{}, false
	}
	return u, true
}

func (h *Handler) authorizedCallback(r *http.Request) bool {
	if h.callbackSecret == "" {
		return true
	}
	got := r.Header.Get("X-Callback-Secret")
	return subtle.ConstantTimeCompare([]byte(got), []byte(h.callbackSecret)) == 1
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any, limit int64) error {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, limit)).Decode(v); err != nil {
		return apierror.Validation("body", "invalid JSON")
	}
	return nil
}

func decodeOptionalJSON(w http.ResponseWriter, r *http.Request, v any) error {
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxCallbackBody)).Decode(v)
	if err == nil || err == io.EOF {
		return nil
	}
	return apierror.Validation("body", "invalid JSON")
}
