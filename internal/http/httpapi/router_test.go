package httpapi

import (
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gateway/internal/fetch"
	"gateway/internal/generation"
	"gateway/internal/http/handlers"
	"gateway/internal/infra"
	"gateway/internal/providers/prompt"
	"gateway/internal/providers/proxy"
	"gateway/internal/providers/rembg"
	"gateway/internal/providers/sd"
	"gateway/internal/storage"
)

type backends struct {
	sd       *httptest.Server
	mj       *httptest.Server
	suno     *httptest.Server
	mjHits   atomic.Int32
	sdHits   atomic.Int32
	sunoHits atomic.Int32

	mu           sync.Mutex
	sunoPrompt   string
	sunoDuration float64
	mjStatus     string
}

func newBackends(t *testing.T) *backends {
	t.Helper()
	b := &backends{mjStatus: `{"status":"success","image_url":"{base}/files/mj.png"}`}
	b.sd = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b.sdHits.Add(1)
		_ = json.NewEncoder(w).Encode(map[string]any{"images": []string{base64.StdEncoding.EncodeToString([]byte("fox-png"))}})
	}))
	b.mj = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b.mjHits.Add(1)
		switch {
		case r.URL.Path == "/imagine":
			_, _ = io.WriteString(w, `{"task_id":"mj-1"}`)
		case strings.HasPrefix(r.URL.Path, "/tasks/"):
			b.mu.Lock()
			status := b.mjStatus
			b.mu.Unlock()
			_, _ = io.WriteString(w, strings.ReplaceAll(status, "{base}", "http://"+r.Host))
		default:
			w.Header().Set("Content-Type", "image/png")
			_, _ = io.WriteString(w, "mj-png")
		}
	}))
	b.suno = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b.sunoHits.Add(1)
		switch {
		case r.URL.Path == "/generate":
			var body map[string]any
			_ = json.NewDecoder(r.Body).Decode(&body)
			b.mu.Lock()
			b.sunoPrompt, _ = body["prompt"].(string)
			b.sunoDuration, _ = body["duration"].(float64)
			b.mu.Unlock()
			_, _ = io.WriteString(w, `{"id":"s-1"}`)
		case strings.HasPrefix(r.URL.Path, "/tasks/"):
			_, _ = io.WriteString(w, `{"status":"done","audio_url":"http://`+r.Host+`/files/song.mp3"}`)
		default:
			w.Header().Set("Content-Type", "audio/mpeg")
			_, _ = io.WriteString(w, "mp3")
		}
	}))
	t.Cleanup(func() {
		b.sd.Close()
		b.mj.Close()
		b.suno.Close()
	})
	return b
}

func newTestRouter(t *testing.T, b *backends, sunoURL string) http.Handler {
	t.Helper()
	logger := zerolog.Nop()
	store, err := storage.NewFileStore(t.TempDir())
	require.NoError(t, err)
	fetcher, err := fetch.NewFetcher(fetch.Options{Store: store})
	require.NoError(t, err)
	backend := infra.NewBackendURL(b.sd.URL)
	sdClient, err := sd.NewClient(sd.Options{Backend: backend, Store: store})
	require.NoError(t, err)
	mj, err := proxy.NewImageDriver(proxy.ImageProxyConfig(time.Millisecond), proxy.Options{BaseURL: b.mj.URL, Resolver: fetcher})
	require.NoError(t, err)
	suno, err := proxy.NewAudioDriver(proxy.AudioProxyConfig(time.Millisecond), proxy.Options{BaseURL: sunoURL, Resolver: fetcher})
	require.NoError(t, err)

	svc, err := generation.NewService(generation.Options{
		Refiner: prompt.NewStaticRefiner(),
		SD:      sdClient,
		MJ:      mj,
		Suno:    suno,
		Remover: rembg.NewClient(rembg.Options{}),
		Store:   store,
	})
	require.NoError(t, err)
	app, err := handlers.NewApp(svc, sdClient, backend, &logger)
	require.NoError(t, err)
	return NewRouter(app, RouterOptions{Logger: logger, CORSOrigins: []string{"*"}})
}

func post(t *testing.T, h http.Handler, path, body string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return rec.Code, out
}

func TestGenerateImageWithLocalBackend(t *testing.T) {
	b := newBackends(t)
	h := newTestRouter(t, b, b.suno.URL)

	code, out := post(t, h, "/generate/image", `{"provider":"sd","prompt":"a red fox"}`)
	require.Equal(t, http.StatusOK, code, out)
	localPath, _ := out["local_path"].(string)
	assert.True(t, strings.HasSuffix(localPath, ".png"))
	assert.True(t, strings.HasPrefix(out["preview_url"].(string), "file:///"))
	data, err := os.ReadFile(localPath)
	require.NoError(t, err)
	assert.Equal(t, "fox-png", string(data))
}

func TestGenerateAudioSubmitsFallbackPrompt(t *testing.T) {
	b := newBackends(t)
	h := newTestRouter(t, b, b.suno.URL)

	code, out := post(t, h, "/generate/audio", `{"provider":"suno","prompt":"calm piano","duration":30}`)
	require.Equal(t, http.StatusOK, code, out)
	b.mu.Lock()
	defer b.mu.Unlock()
	assert.Equal(t, "[fallback refined audio] calm piano", b.sunoPrompt)
	assert.Equal(t, float64(30), b.sunoDuration)
	assert.Equal(t, "[fallback refined audio] calm piano", out["prompt"])
	assert.Equal(t, "suno", out["provider"])
}

func TestAsyncImageTaskFailure(t *testing.T) {
	b := newBackends(t)
	b.mjStatus = `{"status":"failed","reason":"nsfw"}`
	h := newTestRouter(t, b, b.suno.URL)

	code, out := post(t, h, "/generate/image", `{"provider":"mj","prompt":"x"}`)
	assert.Equal(t, http.StatusBadGateway, code)
	assert.Contains(t, out["error"], "nsfw")
}

func TestUnsupportedImageProviderMakesNoCalls(t *testing.T) {
	b := newBackends(t)
	h := newTestRouter(t, b, b.suno.URL)

	code, out := post(t, h, "/generate/image", `{"provider":"dalle","prompt":"x"}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "unsupported image provider: dalle", out["error"])
	assert.Zero(t, b.sdHits.Load()+b.mjHits.Load())
}

func TestAudioWithoutProxyFailsFast(t *testing.T) {
	b := newBackends(t)
	h := newTestRouter(t, b, "")

	code, out := post(t, h, "/generate/audio", `{"prompt":"calm piano"}`)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "SUNO_PROXY_BASE_URL not configured", out["error"])
	assert.Zero(t, b.sunoHits.Load())
}

func TestChangeURLRedirectsGeneration(t *testing.T) {
	b := newBackends(t)
	h := newTestRouter(t, b, b.suno.URL)

	other := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"images":["`+base64.StdEncoding.EncodeToString([]byte("other"))+`"]}`)
	}))
	defer other.Close()

	code, _ := post(t, h, "/change_url", `{"sd_url":"`+other.URL+`"}`)
	require.Equal(t, http.StatusOK, code)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Contains(t, rec.Body.String(), other.URL)

	code, out := post(t, h, "/generate/image", `{"provider":"sd","prompt":"x"}`)
	require.Equal(t, http.StatusOK, code)
	data, err := os.ReadFile(out["local_path"].(string))
	require.NoError(t, err)
	assert.Equal(t, "other", string(data))
	assert.Zero(t, b.sdHits.Load())
}

func TestPreflightAndRequestID(t *testing.T) {
	b := newBackends(t)
	h := newTestRouter(t, b, b.suno.URL)

	req := httptest.NewRequest(http.MethodOptions, "/generate/image", nil)
	req.Header.Set("Origin", "null")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestUnknownRouteAndWrongMethodAnswerJSON(t *testing.T) {
	b := newBackends(t)
	h := newTestRouter(t, b, b.suno.URL)

	code, out := post(t, h, "/nope", `{}`)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Contains(t, out["error"], "/nope")

	code, out = post(t, h, "/health", `{}`)
	assert.Equal(t, http.StatusMethodNotAllowed, code)
	assert.Contains(t, out["error"], "POST")
}

func TestRefineRejectsUnknownTarget(t *testing.T) {
	b := newBackends(t)
	h := newTestRouter(t, b, b.suno.URL)

	code, out := post(t, h, "/ai/refine_prompt", `{"text":"hello","target":"video"}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, map[string]any{"error": "target must be image or audio"}, out)
}

func TestText2ImageRendersThroughLocalBackend(t *testing.T) {
	b := newBackends(t)
	h := newTestRouter(t, b, b.suno.URL)

	code, out := post(t, h, "/text2image", `{"prompt":"castle","steps":20}`)
	require.Equal(t, http.StatusOK, code, out)
	assert.Nil(t, out["seed"])
	data, err := os.ReadFile(out["imagePath"].(string))
	require.NoError(t, err)
	assert.Equal(t, "fox-png", string(data))
	assert.EqualValues(t, 1, b.sdHits.Load())

	code, out = post(t, h, "/image2image", `{"prompt":"castle"}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, out["error"], "images")
	assert.EqualValues(t, 1, b.sdHits.Load())
}
