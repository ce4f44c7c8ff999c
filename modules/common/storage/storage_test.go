package storage

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newTestClient(baseURL string, encode func([]byte, float32) ([]byte, error)) *Client {
	return &Client{
		baseURL:    baseURL,
		apiKey:     "key",
		bucket:     "product-images",
		httpClient: http.DefaultClient,
		encode:     encode,
	}
}

func TestUploadProductImage(t *testing.T) {
	var gotPath, gotType, gotAuth string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotType = r.Header.Get("Content-Type")
		gotAuth = r.Header.Get("Authorization")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"Key":"ok"}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, func(b []byte, q float32) ([]byte, error) {
		return []byte("webp:" + string(b)), nil
	})

	url, err := c.UploadProductImage(context.Background(), []byte("png"), "image/png", "u1")
	if err != nil {
		t.Fatalf("UploadProductImage() error = %v", err)
	}
	if !strings.HasPrefix(gotPath, "/storage/v1/object/product-images/user-u1/") || !strings.HasSuffix(gotPath, ".webp") {
		t.Fatalf("upload path = %q", gotPath)
	}
	if gotType != "image/webp" || string(gotBody) != "webp:png" {
		t.Fatalf("uploaded %q as %q", gotBody, gotType)
	}
	if gotAuth != "Bearer key" {
		t.Fatalf("Authorization = %q", gotAuth)
	}
	if !strings.HasPrefix(url, srv.URL+"/storage/v1/object/public/product-images/user-u1/") {
		t.Fatalf("public URL = %q", url)
	}
}

func TestUploadProductImageKeepsOriginalWhenEncodeFails(t *testing.T) {
	var gotType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotType = r.Header.Get("Content-Type")
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, func([]byte, float32) ([]byte, error) { return nil, errors.New("boom") })
	if _, err := c.UploadProductImage(context.Background(), []byte("jpg"), "image/jpeg", ""); err != nil {
		t.Fatalf("UploadProductImage() error = %v", err)
	}
	if gotType != "image/jpeg" {
		t.Fatalf("Content-Type = %q, want original", gotType)
	}
}

func TestUploadProductImageSniffsGenericMIME(t *testing.T) {
	var gotPath, gotType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotType = r.Header.Get("Content-Type")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")
	c := newTestClient(srv.URL, func([]byte, float32) ([]byte, error) { return nil, errors.New("boom") })
	if _, err := c.UploadProductImage(context.Background(), png, "application/octet-stream", "u1"); err != nil {
		t.Fatalf("UploadProductImage() error = %v", err)
	}
	if gotType != "image/png" || !strings.HasSuffix(gotPath, ".png") {
		t.Fatalf("uploaded %s as %q, want .png image/png", gotPath, gotType)
	}
}

func TestUploadProductImageRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"bucket not found"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, nil)
	_, err := c.UploadProductImage(context.Background(), []byte("x"), "image/png", "u1")
	if err == nil || !strings.Contains(err.Error(), "404") {
		t.Fatalf("err = %v, want status 404", err)
	}
}
