package jobs

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"

	"lifestyle-studio-server/modules/common/apierror"
	"lifestyle-studio-server/modules/common/model"
)

func newTestRouter(f *fixture, secret string) *mux.Router {
	r := mux.NewRouter()
	NewHandler(f.service, secret).RegisterRoutes(r)
	return r
}

func serve(r http.Handler, method, target, body string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestCreateThenFetchOverHTTP(t *testing.T) {
	f := newFixture()
	r := newTestRouter(f, "")

	rec := serve(r, http.MethodPost, "/api/image-jobs", `{"user_id":"u1","prompt":"linen bedding","aspect_ratio":"portrait"}`, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body = %s", rec.Code, rec.Body)
	}
	var created model.ImageJob
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}

	rec = serve(r, http.MethodGet, "/api/image-jobs/"+created.ID, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}
	var fetched model.ImageJob
	_ = json.Unmarshal(rec.Body.Bytes(), &fetched)
	if fetched.ID != created.ID || fetched.Status != model.StatusQueued {
		t.Fatalf("fetched = %+v", fetched)
	}
}

func TestHandlerErrors(t *testing.T) {
	f := newFixture()
	f.seedImage("img-q", "u", model.StatusQueued)
	r := newTestRouter(f, "")

	tests := []struct {
		name       string
		method     string
		target     string
		body       string
		wantStatus int
	}{
		{name: "malformed json", method: http.MethodPost, target: "/api/image-jobs", body: `{"prompt":`, wantStatus: http.StatusBadRequest},
		{name: "missing prompt", method: http.MethodPost, target: "/api/image-jobs", body: `{"user_id":"u"}`, wantStatus: http.StatusBadRequest},
		{name: "unknown job", method: http.MethodGet, target: "/api/image-jobs/nope", wantStatus: http.StatusNotFound},
		{name: "unknown video job", method: http.MethodGet, target: "/api/video-jobs/nope", wantStatus: http.StatusNotFound},
		{name: "video before done", method: http.MethodPost, target: "/api/image-jobs/img-q/videos", wantStatus: http.StatusConflict},
		{name: "list without user", method: http.MethodGet, target: "/api/image-jobs", wantStatus: http.StatusBadRequest},
		{name: "bad kind", method: http.MethodPost, target: "/api/jobs/audio/img-q/cancel", wantStatus: http.StatusBadRequest},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := serve(r, tc.method, tc.target, tc.body, nil)
			if rec.Code != tc.wantStatus {
				t.Fatalf("status = %d, want %d, body = %s", rec.Code, tc.wantStatus, rec.Body)
			}
			var body apierror.Body
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil || body.Error == "" {
				t.Fatalf("body = %s, want {\"error\": ...}", rec.Body)
			}
		})
	}
}

func TestRegenerateWithoutBody(t *testing.T) {
	f := newFixture()
	f.seedImage("img-1", "u", model.StatusFailed)
	r := newTestRouter(f, "")

	rec := serve(r, http.MethodPost, "/api/image-jobs/img-1/regenerate", "", nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
}

func TestVideoRoutes(t *testing.T) {
	f := newFixture()
	f.seedImage("img-1", "u", model.StatusDone)
	r := newTestRouter(f, "")

	rec := serve(r, http.MethodPost, "/api/image-jobs/img-1/videos", "", nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body = %s", rec.Code, rec.Body)
	}
	var video model.VideoJob
	_ = json.Unmarshal(rec.Body.Bytes(), &video)

	rec = serve(r, http.MethodGet, "/api/image-jobs/img-1/videos", "", nil)
	var list []model.VideoJob
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil || len(list) != 1 || list[0].ID != video.ID {
		t.Fatalf("list = %s", rec.Body)
	}

	rec = serve(r, http.MethodGet, "/api/video-jobs/"+video.ID, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}
}

func TestCallbackSecret(t *testing.T) {
	f := newFixture()
	f.seedImage("img-1", "u", model.StatusQueued)
	r := newTestRouter(f, "s3cret")
	body := `{"status":"completed","imageUrl":"https://cdn/out.png"}`

	rec := serve(r, http.MethodPost, "/api/callbacks/image-jobs/img-1", body, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("no secret: status = %d", rec.Code)
	}
	rec = serve(r, http.MethodPost, "/api/callbacks/image-jobs/img-1", body, http.Header{"X-Callback-Secret": {"wrong"}})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong secret: status = %d", rec.Code)
	}
	if f.store.images["img-1"].Status != model.StatusQueued {
		t.Fatal("rejected callback must not update the job")
	}

	rec = serve(r, http.MethodPost, "/api/callbacks/image-jobs/img-1", body, http.Header{"X-Callback-Secret": {"s3cret"}})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	if f.store.images["img-1"].Status != model.StatusDone {
		t.Fatalf("job = %+v", f.store.images["img-1"])
	}

	// a late processing callback after completion
	rec = serve(r, http.MethodPost, "/api/callbacks/image-jobs/img-1", `{"status":"processing"}`, http.Header{"X-Callback-Secret": {"s3cret"}})
	if rec.Code != http.StatusConflict {
		t.Fatalf("stale callback status = %d, want 409", rec.Code)
	}
}

func TestCancelAndNotifyRoutes(t *testing.T) {
	f := newFixture()
	f.seedImage("img-1", "u", model.StatusQueued)
	r := newTestRouter(f, "")

	rec := serve(r, http.MethodPost, "/api/jobs/image/img-1/notify", "", nil)
	if rec.Code != http.StatusAccepted || len(f.dispatcher.sent) != 1 {
		t.Fatalf("notify status = %d, sent = %d", rec.Code, len(f.dispatcher.sent))
	}

	rec = serve(r, http.MethodPost, "/api/jobs/image/img-1/cancel", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("cancel status = %d, body = %s", rec.Code, rec.Body)
	}
	if f.store.images["img-1"].Status != model.StatusFailed {
		t.Fatal("job not cancelled")
	}
}
