package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"gateway/internal/domain"
	"gateway/internal/infra"
)

// DefaultTimeout bounds a single artifact download.
const DefaultTimeout = 120 * time.Second

var suffixByContentType = map[string]string{
	"image/png":   ".png",
	"image/jpeg":  ".jpg",
	"image/jpg":   ".jpg",
	"image/webp":  ".webp",
	"audio/mpeg":  ".mp3",
	"audio/mp3":   ".mp3",
	"audio/wav":   ".wav",
	"audio/x-wav": ".wav",
	"audio/wave":  ".wav",
}

// Saver is the artifact store the fetcher delegates persistence to.
type Saver interface {
	Save(ctx context.Context, data []byte, suffix string) (string, error)
}

// Options configures a Fetcher.
type Options struct {
	Store      Saver
	HTTPClient *http.Client
	Logger     *infra.Logger
	Timeout    time.Duration
}

// Fetcher downloads a remote artifact and hands the bytes to the store.
type Fetcher struct {
	store      Saver
	httpClient *http.Client
	logger     *infra.Logger
	timeout    time.Duration
}

// NewFetcher constructs a Fetcher with defaults for any omitted option.
func NewFetcher(opts Options) (*Fetcher, error) {
	if opts.Store == nil {
		return nil, errors.New("fetch: store is required")
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = infra.DiscardLogger()
	}
	return &Fetcher{store: opts.Store, httpClient: httpClient, logger: logger, timeout: timeout}, nil
}

// Fetch GETs rawURL and saves the body locally. The file suffix follows the
// response content type, or fallbackSuffix when the type is unknown.
func (f *Fetcher) Fetch(ctx context.Context, rawURL, fallbackSuffix string) (string, error) {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return "", fmt.Errorf("fetch: invalid url %q", rawURL)
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, parsed.String(), nil)
	if err != nil {
		return "", fmt.Errorf("fetch: build request: %w", err)
	}
	resp, err := f.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch: download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return "", &domain.RemoteRequestError{
			URL:        parsed.String(),
			StatusCode: resp.StatusCode,
			BodyDigest: domain.BodyDigest(raw),
		}
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("fetch: read body: %w", err)
	}

	suffix := SuffixFor(resp.Header.Get("Content-Type"), fallbackSuffix)
	path, err := f.store.Save(ctx, data, suffix)
	if err != nil {
		return "", fmt.Errorf("fetch: save: %w", err)
	}
	f.logger.Debug().
		Str("url", parsed.String()).
		Int("bytes", len(data)).
		Str("path", path).
		Msg("fetch: artifact stored")
	return path, nil
}

// SuffixFor maps a Content-Type header onto a file suffix.
func SuffixFor(contentType, fallback string) string {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.TrimSpace(strings.Split(contentType, ";")[0])
	}
	if suffix, ok := suffixByContentType[strings.ToLower(mediaType)]; ok {
		return suffix
	}
	if strings.TrimSpace(fallback) == "" {
		return ".bin"
	}
	return fallback
}
