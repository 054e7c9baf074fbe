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
	"regexp"
	"testing"

	"gateway/internal/domain"
)

func renderServer(t *testing.T, info string, captured *map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if captured != nil {
			if err := json.NewDecoder(r.Body).Decode(captured); err != nil {
				t.Errorf("decode request: %v", err)
			}
			(*captured)["_path"] = r.URL.Path
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"images": []string{base64.StdEncoding.EncodeToString([]byte("rendered"))},
			"info":   info,
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestTxt2ImgForwardsPayloadAndNamesBySeed(t *testing.T) {
	var captured map[string]any
	srv := renderServer(t, `{"seed": 1234567890, "steps": 30}`, &captured)
	client := newTestClient(t, srv.URL)

	res, err := client.Txt2Img(context.Background(), json.RawMessage(`{"prompt":"castle","steps":30,"sampler_name":"Euler a"}`))
	if err != nil {
		t.Fatalf("Txt2Img returned error: %v", err)
	}
	if captured["_path"] != "/sdapi/v1/txt2img" || captured["sampler_name"] != "Euler a" || captured["prompt"] != "castle" {
		t.Fatalf("payload not forwarded verbatim: %v", captured)
	}
	if res.Seed == nil || res.Seed.String() != "1234567890" {
		t.Fatalf("seed = %v", res.Seed)
	}
	if filepath.Base(res.ImagePath) != "image_1234567890.png" {
		t.Fatalf("image path = %q", res.ImagePath)
	}
	data, err := os.ReadFile(res.ImagePath)
	if err != nil || string(data) != "rendered" {
		t.Fatalf("read image = %q, %v", data, err)
	}

	out, err := json.Marshal(res)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var wire map[string]any
	_ = json.Unmarshal(out, &wire)
	if wire["seed"] != float64(1234567890) || wire["imagePath"] != res.ImagePath {
		t.Fatalf("wire shape = %s", out)
	}
}

func TestTxt2ImgWithoutSeedUsesGeneratedName(t *testing.T) {
	srv := renderServer(t, "", nil)

	res, err := newTestClient(t, srv.URL).Txt2Img(context.Background(), nil)
	if err != nil {
		t.Fatalf("Txt2Img returned error: %v", err)
	}
	if res.Seed != nil {
		t.Fatalf("seed = %v, want nil", res.Seed)
	}
	if !regexp.MustCompile(`^asset_\d+_[a-z0-9]{6}\.png$`).MatchString(filepath.Base(res.ImagePath)) {
		t.Fatalf("image path = %q", res.ImagePath)
	}
	out, _ := json.Marshal(res)
	if !regexp.MustCompile(`"seed":null`).Match(out) {
		t.Fatalf("seed should render as null: %s", out)
	}
}

func TestTxt2ImgEmptyImages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"images":[],"info":"{}"}`)
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL).Txt2Img(context.Background(), json.RawMessage(`{}`))
	var empty *domain.EmptyResultError
	if !errors.As(err, &empty) {
		t.Fatalf("expected EmptyResultError, got %v", err)
	}
}

func TestImg2ImgInlinesInitImageAndMask(t *testing.T) {
	dir := t.TempDir()
	framePath := filepath.Join(dir, "frame.png")
	maskPath := filepath.Join(dir, "mask.png")
	if err := os.WriteFile(framePath, []byte("frame"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(maskPath, []byte("mask"), 0o644); err != nil {
		t.Fatal(err)
	}
	var captured map[string]any
	srv := renderServer(t, `{"seed": 42}`, &captured)
	client := newTestClient(t, srv.URL)

	payload := `{"prompt":"sunset","denoising_strength":0.35,"images":{"path":"` + filepath.ToSlash(framePath) + `"},"mask":{"path":"` + filepath.ToSlash(maskPath) + `"}}`
	res, err := client.Img2Img(context.Background(), json.RawMessage(payload))
	if err != nil {
		t.Fatalf("Img2Img returned error: %v", err)
	}
	if captured["_path"] != "/sdapi/v1/img2img" {
		t.Fatalf("path = %v", captured["_path"])
	}
	inits, _ := captured["init_images"].([]any)
	if len(inits) != 1 || inits[0] != base64.StdEncoding.EncodeToString([]byte("frame")) {
		t.Fatalf("init_images = %v", captured["init_images"])
	}
	if captured["mask"] != base64.StdEncoding.EncodeToString([]byte("mask")) {
		t.Fatalf("mask = %v", captured["mask"])
	}
	if _, ok := captured["images"]; ok {
		t.Fatal("path document should not be forwarded")
	}
	if captured["denoising_strength"] != 0.35 || captured["prompt"] != "sunset" {
		t.Fatalf("other fields must pass through: %v", captured)
	}
	if res.Seed == nil || res.Seed.String() != "42" {
		t.Fatalf("seed = %v", res.Seed)
	}
	if filepath.Base(res.ImagePath) == "image_42.png" {
		t.Fatal("img2img results must not reuse the seed-only name")
	}
}

func TestImg2ImgRequiresReadableInitImage(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { hits++ }))
	defer srv.Close()
	client := newTestClient(t, srv.URL)

	for name, payload := range map[string]string{
		"missing images": `{"prompt":"x"}`,
		"missing path":   `{"images":{}}`,
		"unreadable":     `{"images":{"path":"` + filepath.ToSlash(filepath.Join(t.TempDir(), "nope.png")) + `"}}`,
	} {
		_, err := client.Img2Img(context.Background(), json.RawMessage(payload))
		var ve *domain.ValidationError
		if !errors.As(err, &ve) {
			t.Fatalf("%s: expected ValidationError, got %v", name, err)
		}
	}
	if hits != 0 {
		t.Fatalf("backend hits = %d, want 0", hits)
	}
}
