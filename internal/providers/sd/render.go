package sd

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"gateway/internal/domain"
)

// Render is the result of a raw txt2img or img2img call made on behalf of
// the panel: where the first image landed and the seed the backend used.
type Render struct {
	ImagePath string       `json:"imagePath"`
	Seed      *json.Number `json:"seed"`
}

type renderResponse struct {
	Images []string `json:"images"`
	Info   string   `json:"info"`
}

// Txt2Img forwards a full txt2img payload verbatim. The first image is stored
// as image_<seed>.png, replacing an earlier render with the same seed.
func (c *Client) Txt2Img(ctx context.Context, payload json.RawMessage) (Render, error) {
	return c.render(ctx, txt2imgPath, payload, true)
}

// Img2Img forwards an img2img payload after inlining local files. The init
// image is read from images.path and an optional mask from mask.path; both
// are sent base64 encoded. The result gets a fresh, unique file name.
func (c *Client) Img2Img(ctx context.Context, payload json.RawMessage) (Render, error) {
	body, err := inlineImagePaths(payload)
	if err != nil {
		return Render{}, err
	}
	return c.render(ctx, img2imgPath, body, false)
}

func (c *Client) render(ctx context.Context, path string, payload []byte, nameBySeed bool) (Render, error) {
	base := c.backend.Get()
	if base == "" {
		return Render{}, &domain.NotConfiguredError{Setting: "SD_URL"}
	}
	if len(bytes.TrimSpace(payload)) == 0 {
		payload = []byte("{}")
	}
	if !json.Valid(payload) {
		return Render{}, domain.NewValidationError("body", "request body must be valid JSON")
	}

	ctx, cancel := context.WithTimeout(ctx, c.generateTimeout)
	defer cancel()

	started := time.Now()
	raw, err := c.do(ctx, http.MethodPost, base+path, payload)
	if err != nil {
		return Render{}, err
	}
	var decoded renderResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return Render{}, &domain.ProviderProtocolError{Provider: providerName, Detail: "decode " + path + " response: " + err.Error()}
	}
	if len(decoded.Images) == 0 || strings.TrimSpace(decoded.Images[0]) == "" {
		return Render{}, &domain.EmptyResultError{Provider: providerName, Detail: "no images returned"}
	}
	data, err := decodeImage(decoded.Images[0])
	if err != nil {
		return Render{}, &domain.ProviderProtocolError{Provider: providerName, Detail: "decode image: " + err.Error()}
	}
	seed := parseSeed(decoded.Info)

	var saved string
	if nameBySeed && seed != nil {
		saved, err = c.store.SaveAs(ctx, "image_"+seed.String()+".png", data)
	} else {
		saved, err = c.store.Save(ctx, data, ".png")
	}
	if err != nil {
		return Render{}, fmt.Errorf("sd: save image: %w", err)
	}
	c.logger.Debug().
		Str("endpoint", path).
		Dur("elapsed", time.Since(started)).
		Str("path", saved).
		Msg("sd: rendered image")
	return Render{ImagePath: saved, Seed: seed}, nil
}

// parseSeed reads the seed out of the info document, which the backend sends
// as a JSON string. A missing or unparsable info yields nil.
func parseSeed(info string) *json.Number {
	if strings.TrimSpace(info) == "" {
		return nil
	}
	dec := json.NewDecoder(strings.NewReader(info))
	dec.UseNumber()
	var parsed struct {
		Seed json.Number `json:"seed"`
	}
	if err := dec.Decode(&parsed); err != nil || parsed.Seed == "" {
		return nil
	}
	if _, err := parsed.Seed.Int64(); err != nil {
		return nil
	}
	return &parsed.Seed
}

func inlineImagePaths(payload json.RawMessage) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	var doc map[string]any
	if err := dec.Decode(&doc); err != nil || doc == nil {
		return nil, domain.NewValidationError("body", "request body must be a JSON object")
	}

	initPath := pathField(doc["images"])
	if initPath == "" {
		return nil, domain.NewValidationError("images.path", "images.path is required")
	}
	encoded, err := encodeFile(initPath)
	if err != nil {
		return nil, domain.NewValidationError("images.path", "could not read init image: "+err.Error())
	}
	delete(doc, "images")
	doc["init_images"] = []string{encoded}

	if mask, ok := doc["mask"]; ok {
		if maskPath := pathField(mask); maskPath != "" {
			encoded, err := encodeFile(maskPath)
			if err != nil {
				return nil, domain.NewValidationError("mask.path", "could not read mask: "+err.Error())
			}
			doc["mask"] = encoded
		}
	}

	body, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("sd: encode img2img request: %w", err)
	}
	return body, nil
}

func pathField(v any) string {
	obj, ok := v.(map[string]any)
	if !ok {
		return ""
	}
	path, _ := obj["path"].(string)
	return strings.TrimSpace(path)
}

func encodeFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(data), nil
}
