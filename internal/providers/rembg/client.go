package rembg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"gateway/internal/domain"
	"gateway/internal/infra"
)

const (
	providerName   = "rembg"
	removePath     = "/api/remove"
	defaultTimeout = 120 * time.Second
)

// Options configures the background-removal client.
type Options struct {
	BaseURL    string
	HTTPClient *http.Client
	Logger     *infra.Logger
	Timeout    time.Duration
}

// Client calls a rembg HTTP server. The image is uploaded as a multipart file
// and the cut-out PNG comes back as the raw response body.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *infra.Logger
	timeout    time.Duration
}

func NewClient(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = infra.DiscardLogger()
	}
	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/"),
		httpClient: httpClient,
		logger:     logger,
		timeout:    timeout,
	}
}

// Remove returns image with its background stripped.
func (c *Client) Remove(ctx context.Context, image []byte) ([]byte, error) {
	if c.baseURL == "" {
		return nil, &domain.NotConfiguredError{Setting: "REMBG_URL"}
	}
	if len(image) == 0 {
		return nil, errors.New("rembg: image is empty")
	}

	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	part, err := form.CreateFormFile("file", "input.png")
	if err != nil {
		return nil, fmt.Errorf("rembg: build form: %w", err)
	}
	if _, err := part.Write(image); err != nil {
		return nil, fmt.Errorf("rembg: build form: %w", err)
	}
	if err := form.Close(); err != nil {
		return nil, fmt.Errorf("rembg: build form: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	endpoint := c.baseURL + removePath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return nil, fmt.Errorf("rembg: build request: %w", err)
	}
	req.Header.Set("Content-Type", form.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rembg: http request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("rembg: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &domain.RemoteRequestError{URL: endpoint, StatusCode: resp.StatusCode, BodyDigest: domain.BodyDigest(raw)}
	}
	if len(raw) == 0 {
		return nil, &domain.EmptyResultError{Provider: providerName, Detail: "empty image returned"}
	}
	c.logger.Debug().Int("in_bytes", len(image)).Int("out_bytes", len(raw)).Msg("rembg: background removed")
	return raw, nil
}
