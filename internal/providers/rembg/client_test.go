package rembg

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gateway/internal/domain"
)

func TestRemoveUploadsMultipartFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/remove", r.URL.Path)
		file, _, err := r.FormFile("file")
		if !assert.NoError(t, err) {
			return
		}
		defer file.Close()
		data, _ := io.ReadAll(file)
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(append([]byte("cut:"), data...))
	}))
	defer srv.Close()

	out, err := NewClient(Options{BaseURL: srv.URL + "/"}).Remove(context.Background(), []byte("photo"))
	require.NoError(t, err)
	assert.Equal(t, "cut:photo", string(out))
}

func TestRemoveNotConfigured(t *testing.T) {
	_, err := NewClient(Options{}).Remove(context.Background(), []byte("photo"))
	var notConfigured *domain.NotConfiguredError
	require.True(t, errors.As(err, &notConfigured))
}

func TestRemoveRemoteError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad image", http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := NewClient(Options{BaseURL: srv.URL}).Remove(context.Background(), []byte("photo"))
	var remote *domain.RemoteRequestError
	require.True(t, errors.As(err, &remote), "got %v", err)
	assert.Equal(t, http.StatusBadRequest, remote.StatusCode)
}

func TestRemoveEmptyResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	_, err := NewClient(Options{BaseURL: srv.URL}).Remove(context.Background(), []byte("photo"))
	var empty *domain.EmptyResultError
	require.True(t, errors.As(err, &empty), "got %v", err)
}
