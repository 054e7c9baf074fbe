package sd

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"gateway/internal/domain"
	"gateway/internal/infra"
)

const (
	providerName = "sd"

	txt2imgPath          = "/sdapi/v1/txt2img"
	img2imgPath          = "/sdapi/v1/img2img"
	modelsPath           = "/sdapi/v1/sd-models"
	optionsPath          = "/sdapi/v1/options"
	controlNetModelPath  = "/controlnet/model_list"
	controlNetModulePath = "/controlnet/module_list"

	defaultGenerateTimeout    = 240 * time.Second
	defaultPassthroughTimeout = 120 * time.Second
)

// Saver persists decoded image bytes, either under a generated name or under
// a caller-chosen one.
type Saver interface {
	Save(ctx context.Context, data []byte, suffix string) (string, error)
	SaveAs(ctx context.Context, name string, data []byte) (string, error)
}

// Options configures the Stable Diffusion WebUI client.
type Options struct {
	Backend            *infra.BackendURL
	Store              Saver
	Width              int
	Height             int
	Steps              int
	CFGScale           float64
	HTTPClient         *http.Client
	Logger             *infra.Logger
	GenerateTimeout    time.Duration
	PassthroughTimeout time.Duration
}

// Client talks to a local Stable Diffusion WebUI. Generation is a single
// blocking call; the base URL is re-read from the shared cell on every call.
type Client struct {
	backend            *infra.BackendURL
	store              Saver
	params             txt2imgParams
	httpClient         *http.Client
	logger             *infra.Logger
	generateTimeout    time.Duration
	passthroughTimeout time.Duration
}

type txt2imgParams struct {
	Width    int
	Height   int
	Steps    int
	CFGScale float64
}

type txt2imgRequest struct {
	Prompt   string  `json:"prompt"`
	Width    int     `json:"width"`
	Height   int     `json:"height"`
	Steps    int     `json:"steps"`
	CFGScale float64 `json:"cfg_scale"`
}

type txt2imgResponse struct {
	Images []string `json:"images"`
}

// NewClient constructs a client with defaults for omitted options.
func NewClient(opts Options) (*Client, error) {
	if opts.Backend == nil {
		return nil, errors.New("sd: backend url is required")
	}
	if opts.Store == nil {
		return nil, errors.New("sd: store is required")
	}
	params := txt2imgParams{Width: opts.Width, Height: opts.Height, Steps: opts.Steps, CFGScale: opts.CFGScale}
	if params.Width <= 0 {
		params.Width = 1024
	}
	if params.Height <= 0 {
		params.Height = 576
	}
	if params.Steps <= 0 {
		params.Steps = 24
	}
	if params.CFGScale <= 0 {
		params.CFGScale = 7
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	generateTimeout := opts.GenerateTimeout
	if generateTimeout <= 0 {
		generateTimeout = defaultGenerateTimeout
	}
	passthroughTimeout := opts.PassthroughTimeout
	if passthroughTimeout <= 0 {
		passthroughTimeout = defaultPassthroughTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = infra.DiscardLogger()
	}
	return &Client{
		backend:            opts.Backend,
		store:              opts.Store,
		params:             params,
		httpClient:         httpClient,
		logger:             logger,
		generateTimeout:    generateTimeout,
		passthroughTimeout: passthroughTimeout,
	}, nil
}

// BaseURL returns the backend address currently in effect.
func (c *Client) BaseURL() string {
	return c.backend.Get()
}

// Generate renders prompt into a single PNG and stores it locally.
func (c *Client) Generate(ctx context.Context, prompt string) (domain.Artifact, error) {
	base := c.backend.Get()
	if base == "" {
		return domain.Artifact{}, &domain.NotConfiguredError{Setting: "SD_URL"}
	}
	payload := txt2imgRequest{
		Prompt:   prompt,
		Width:    c.params.Width,
		Height:   c.params.Height,
		Steps:    c.params.Steps,
		CFGScale: c.params.CFGScale,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return domain.Artifact{}, fmt.Errorf("sd: encode request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.generateTimeout)
	defer cancel()

	started := time.Now()
	raw, err := c.do(ctx, http.MethodPost, base+txt2imgPath, body)
	if err != nil {
		return domain.Artifact{}, err
	}
	var decoded txt2imgResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return domain.Artifact{}, &domain.ProviderProtocolError{Provider: providerName, Detail: "decode txt2img response: " + err.Error()}
	}
	if len(decoded.Images) == 0 || strings.TrimSpace(decoded.Images[0]) == "" {
		return domain.Artifact{}, &domain.EmptyResultError{Provider: providerName, Detail: "no images returned"}
	}
	data, err := decodeImage(decoded.Images[0])
	if err != nil {
		return domain.Artifact{}, &domain.ProviderProtocolError{Provider: providerName, Detail: "decode image: " + err.Error()}
	}
	path, err := c.store.Save(ctx, data, ".png")
	if err != nil {
		return domain.Artifact{}, fmt.Errorf("sd: save image: %w", err)
	}
	c.logger.Debug().
		Str("base_url", base).
		Int("bytes", len(data)).
		Dur("elapsed", time.Since(started)).
		Str("path", path).
		Msg("sd: generated image")
	return domain.Artifact{Provider: providerName, LocalPath: path, PreviewURL: domain.FileURL(path)}, nil
}

// Models lists the checkpoints known to the backend.
func (c *Client) Models(ctx context.Context) (json.RawMessage, error) {
	return c.relay(ctx, http.MethodGet, modelsPath, nil)
}

// SwapModel forwards an options document, typically {"sd_model_checkpoint": ...}.
func (c *Client) SwapModel(ctx context.Context, options json.RawMessage) (json.RawMessage, error) {
	if len(bytes.TrimSpace(options)) == 0 {
		options = json.RawMessage("{}")
	}
	return c.relay(ctx, http.MethodPost, optionsPath, options)
}

// ControlNetModels lists installed ControlNet models.
func (c *Client) ControlNetModels(ctx context.Context) (json.RawMessage, error) {
	return c.relay(ctx, http.MethodGet, controlNetModelPath, nil)
}

// ControlNetModules lists available ControlNet preprocessors.
func (c *Client) ControlNetModules(ctx context.Context) (json.RawMessage, error) {
	return c.relay(ctx, http.MethodGet, controlNetModulePath, nil)
}

func (c *Client) relay(ctx context.Context, method, path string, body []byte) (json.RawMessage, error) {
	base := c.backend.Get()
	if base == "" {
		return nil, &domain.NotConfiguredError{Setting: "SD_URL"}
	}
	ctx, cancel := context.WithTimeout(ctx, c.passthroughTimeout)
	defer cancel()

	raw, err := c.do(ctx, method, base+path, body)
	if err != nil {
		return nil, err
	}
	if !json.Valid(raw) {
		return nil, &domain.ProviderProtocolError{Provider: providerName, Detail: path + " returned invalid JSON"}
	}
	return json.RawMessage(raw), nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("sd: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sd: http request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("sd: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &domain.RemoteRequestError{URL: endpoint, StatusCode: resp.StatusCode, BodyDigest: domain.BodyDigest(raw)}
	}
	return raw, nil
}

// decodeImage accepts bare base64 or a data URL.
func decodeImage(encoded string) ([]byte, error) {
	encoded = strings.TrimSpace(encoded)
	if strings.HasPrefix(encoded, "data:") {
		if idx := strings.Index(encoded, ","); idx >= 0 {
			encoded = encoded[idx+1:]
		}
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, errors.New("empty image payload")
	}
	return data, nil
}
