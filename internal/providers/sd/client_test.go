package sd

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"gateway/internal/domain"
	"gateway/internal/infra"
	"gateway/internal/storage"
)

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	store, err := storage.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	client, err := NewClient(Options{Backend: infra.NewBackendURL(baseURL), Store: store})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return client
}

func TestGenerateSendsDefaultsAndStoresPNG(t *testing.T) {
	pngBytes := []byte("\x89PNG fake image")
	var captured txt2imgRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/sdapi/v1/txt2img" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"images": []string{base64.StdEncoding.EncodeToString(pngBytes), "second"},
		})
	}))
	defer srv.Close()

	art, err := newTestClient(t, srv.URL).Generate(context.Background(), "red fox in snow")
	if err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}
	want := txt2imgRequest{Prompt: "red fox in snow", Width: 1024, Height: 576, Steps: 24, CFGScale: 7}
	if captured != want {
		t.Fatalf("payload = %+v, want %+v", captured, want)
	}
	if art.Provider != "sd" {
		t.Fatalf("provider = %q, want sd", art.Provider)
	}
	if filepath.Ext(art.LocalPath) != ".png" {
		t.Fatalf("local path %q should end in .png", art.LocalPath)
	}
	if !strings.HasPrefix(art.PreviewURL, "file:///") || strings.Contains(art.PreviewURL, `\`) {
		t.Fatalf("preview url = %q", art.PreviewURL)
	}
	data, err := os.ReadFile(art.LocalPath)
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}
	if string(data) != string(pngBytes) {
		t.Fatalf("artifact bytes mismatch")
	}
}

func TestGenerateEmptyImages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"images":[]}`)
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL).Generate(context.Background(), "x")
	var empty *domain.EmptyResultError
	if !errors.As(err, &empty) {
		t.Fatalf("expected EmptyResultError, got %v", err)
	}
}

func TestGenerateRemoteError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "CUDA out of memory", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL).Generate(context.Background(), "x")
	var remote *domain.RemoteRequestError
	if !errors.As(err, &remote) {
		t.Fatalf("expected RemoteRequestError, got %v", err)
	}
	if remote.StatusCode != http.StatusInternalServerError || !strings.Contains(remote.BodyDigest, "CUDA") {
		t.Fatalf("unexpected remote error: %+v", remote)
	}
}

func TestGenerateFollowsSwappedBaseURL(t *testing.T) {
	var hits atomic.Int32
	second := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = io.WriteString(w, `{"images":["`+base64.StdEncoding.EncodeToString([]byte("img"))+`"]}`)
	}))
	defer second.Close()

	client := newTestClient(t, "http://127.0.0.1:1")
	if err := client.backend.Set(second.URL); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if _, err := client.Generate(context.Background(), "x"); err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}
	if hits.Load() != 1 {
		t.Fatalf("swapped backend hits = %d, want 1", hits.Load())
	}
}

func TestPassthroughsRelayJSON(t *testing.T) {
	var optionsBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/sdapi/v1/sd-models":
			_, _ = io.WriteString(w, `[{"title":"v1-5.safetensors"}]`)
		case "/sdapi/v1/options":
			raw, _ := io.ReadAll(r.Body)
			optionsBody = string(raw)
			_, _ = io.WriteString(w, `null`)
		case "/controlnet/model_list":
			_, _ = io.WriteString(w, `{"model_list":["canny"]}`)
		case "/controlnet/module_list":
			_, _ = io.WriteString(w, `{"module_list":["none"]}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()
	client := newTestClient(t, srv.URL)
	ctx := context.Background()

	models, err := client.Models(ctx)
	if err != nil || string(models) != `[{"title":"v1-5.safetensors"}]` {
		t.Fatalf("Models = %s, %v", models, err)
	}
	if _, err := client.SwapModel(ctx, json.RawMessage(`{"sd_model_checkpoint":"v1-5"}`)); err != nil {
		t.Fatalf("SwapModel returned error: %v", err)
	}
	if optionsBody != `{"sd_model_checkpoint":"v1-5"}` {
		t.Fatalf("options body = %q", optionsBody)
	}
	cnModels, err := client.ControlNetModels(ctx)
	if err != nil || !strings.Contains(string(cnModels), "canny") {
		t.Fatalf("ControlNetModels = %s, %v", cnModels, err)
	}
	cnModules, err := client.ControlNetModules(ctx)
	if err != nil || !strings.Contains(string(cnModules), "none") {
		t.Fatalf("ControlNetModules = %s, %v", cnModules, err)
	}
}

func TestDecodeImageAcceptsDataURL(t *testing.T) {
	data, err := decodeImage("data:image/png;base64," + base64.StdEncoding.EncodeToString([]byte("abc")))
	if err != nil || string(data) != "abc" {
		t.Fatalf("decodeImage = %q, %v", data, err)
	}
	if _, err := decodeImage("%%%"); err == nil {
		t.Fatal("expected error for invalid base64")
	}
}
