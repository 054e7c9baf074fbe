package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/text/cases"

	"gateway/internal/domain"
	"gateway/internal/infra"
)

// Config describes one submit-then-poll provider. Field lists are ordered and
// the first non-empty value wins.
type Config struct {
	Name            string
	Kind            domain.Modality
	BaseURLSetting  string
	SubmitPath      string
	StatusPath      string
	TaskIDFields    []string
	ResultFields    []string
	Interval        time.Duration
	MaxPolls        int
	SuccessStatuses []string
	FailureStatuses []string
	SubmitTimeout   time.Duration
	PollTimeout     time.Duration
	FallbackSuffix  string
	PreviewRemote   bool
}

// Resolver materialises a remote result URL as a local file.
type Resolver interface {
	Fetch(ctx context.Context, rawURL, fallbackSuffix string) (string, error)
}

// Options carries the per-deployment settings of a driver.
type Options struct {
	BaseURL    string
	APIKey     string
	Resolver   Resolver
	HTTPClient *http.Client
	Logger     *infra.Logger
}

// Driver runs the submit, poll and resolve protocol shared by the proxies.
// A Driver is safe for concurrent use; each call owns its own Task.
type Driver struct {
	cfg        Config
	baseURL    string
	apiKey     string
	resolver   Resolver
	httpClient *http.Client
	logger     *infra.Logger
	success    map[string]struct{}
	failure    map[string]struct{}
	now        func() time.Time
}

// NewDriver builds a driver. An empty base URL is accepted; such a driver
// reports NotConfiguredError from every operation.
func NewDriver(cfg Config, opts Options) (*Driver, error) {
	if opts.Resolver == nil {
		return nil, fmt.Errorf("proxy: %s: resolver is required", cfg.Name)
	}
	if cfg.StatusPath == "" {
		cfg.StatusPath = "/tasks/{id}"
	}
	if len(cfg.TaskIDFields) == 0 {
		cfg.TaskIDFields = []string{"task_id", "id"}
	}
	if len(cfg.ResultFields) == 0 {
		cfg.ResultFields = []string{"url"}
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Second
	}
	if cfg.MaxPolls <= 0 {
		cfg.MaxPolls = 60
	}
	if len(cfg.SuccessStatuses) == 0 {
		cfg.SuccessStatuses = []string{"success", "done", "completed"}
	}
	if len(cfg.FailureStatuses) == 0 {
		cfg.FailureStatuses = []string{"failed", "error", "canceled"}
	}
	if cfg.SubmitTimeout <= 0 {
		cfg.SubmitTimeout = 120 * time.Second
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 60 * time.Second
	}
	if cfg.FallbackSuffix == "" {
		cfg.FallbackSuffix = ".bin"
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = infra.DiscardLogger()
	}
	return &Driver{
		cfg:        cfg,
		baseURL:    strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/"),
		apiKey:     strings.TrimSpace(opts.APIKey),
		resolver:   opts.Resolver,
		httpClient: httpClient,
		logger:     logger,
		success:    statusSet(cfg.SuccessStatuses),
		failure:    statusSet(cfg.FailureStatuses),
		now:        time.Now,
	}, nil
}

// Name returns the provider identifier.
func (d *Driver) Name() string { return d.cfg.Name }

// Configured reports whether the driver has a base URL.
func (d *Driver) Configured() bool { return d.baseURL != "" }

// CheckConfigured returns a NotConfiguredError when the base URL is missing.
func (d *Driver) CheckConfigured() error {
	if d.Configured() {
		return nil
	}
	setting := d.cfg.BaseURLSetting
	if setting == "" {
		setting = d.cfg.Name + " base url"
	}
	return &domain.NotConfiguredError{Setting: setting}
}

// Run submits payload, polls the task to a terminal status and resolves the
// result into a local artifact.
func (d *Driver) Run(ctx context.Context, payload map[string]any) (domain.Artifact, error) {
	task, err := d.Submit(ctx, payload)
	if err != nil {
		return domain.Artifact{}, err
	}
	task, err = d.Await(ctx, task)
	if err != nil {
		return domain.Artifact{}, err
	}
	return d.Resolve(ctx, task)
}

// Submit creates the remote task and returns it in the pending state.
func (d *Driver) Submit(ctx context.Context, payload map[string]any) (domain.Task, error) {
	if err := d.CheckConfigured(); err != nil {
		return domain.Task{}, err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return domain.Task{}, fmt.Errorf("proxy: %s: encode submit: %w", d.cfg.Name, err)
	}

	ctx, cancel := context.WithTimeout(ctx, d.cfg.SubmitTimeout)
	defer cancel()

	doc, err := d.call(ctx, http.MethodPost, d.baseURL+d.cfg.SubmitPath, body)
	if err != nil {
		return domain.Task{}, err
	}
	id := firstString(doc, d.cfg.TaskIDFields)
	if id == "" {
		return domain.Task{}, &domain.ProviderProtocolError{
			Provider: d.cfg.Name,
			Detail:   "submit response has no " + strings.Join(d.cfg.TaskIDFields, " or "),
		}
	}
	task := domain.Task{
		ID:        id,
		Provider:  d.cfg.Name,
		Kind:      d.cfg.Kind,
		CreatedAt: d.now(),
		Status:    domain.TaskStatusPending,
	}
	d.logger.Info().
		Str("provider", d.cfg.Name).
		Str("task_id", id).
		Msg("proxy: task submitted")
	return task, nil
}

// Await polls task until the provider reports a terminal status or the poll
// budget is exhausted. Each poll is preceded by the configured interval.
func (d *Driver) Await(ctx context.Context, task domain.Task) (domain.Task, error) {
	if task.Status.Terminal() {
		return task, nil
	}
	statusURL := d.baseURL + strings.ReplaceAll(d.cfg.StatusPath, "{id}", url.PathEscape(task.ID))
	timer := time.NewTimer(d.cfg.Interval)
	defer timer.Stop()

	for task.Polls < d.cfg.MaxPolls {
		select {
		case <-ctx.Done():
			return task, ctx.Err()
		case <-timer.C:
		}
		task.Polls++

		doc, err := d.poll(ctx, statusURL)
		if err != nil {
			return task, err
		}
		status := foldStatus(doc["status"])
		d.logger.Debug().
			Str("provider", d.cfg.Name).
			Str("task_id", task.ID).
			Int("poll", task.Polls).
			Str("status", status).
			Msg("proxy: task polled")

		if _, ok := d.success[status]; ok {
			resultURL := firstString(doc, d.cfg.ResultFields)
			if resultURL == "" {
				return task, &domain.ProviderProtocolError{
					Provider: d.cfg.Name,
					Detail:   fmt.Sprintf("task %s succeeded without %s", task.ID, strings.Join(d.cfg.ResultFields, " or ")),
				}
			}
			task.Status = domain.TaskStatusSucceeded
			task.ResultURL = resultURL
			return task, nil
		}
		if _, ok := d.failure[status]; ok {
			task.Status = domain.TaskStatusFailed
			return task, &domain.ProviderTaskFailedError{
				Provider: d.cfg.Name,
				TaskID:   task.ID,
				Status:   status,
				Payload:  doc,
			}
		}
		timer.Reset(d.cfg.Interval)
	}

	task.Status = domain.TaskStatusTimedOut
	return task, &domain.ProviderTimeoutError{
		Provider: d.cfg.Name,
		TaskID:   task.ID,
		Polls:    task.Polls,
		Elapsed:  d.now().Sub(task.CreatedAt),
	}
}

// Resolve downloads the result of a succeeded task.
func (d *Driver) Resolve(ctx context.Context, task domain.Task) (domain.Artifact, error) {
	if task.Status != domain.TaskStatusSucceeded || task.ResultURL == "" {
		return domain.Artifact{}, &domain.ProviderProtocolError{
			Provider: d.cfg.Name,
			Detail:   fmt.Sprintf("task %s is not resolvable in status %s", task.ID, task.Status),
		}
	}
	path, err := d.resolver.Fetch(ctx, task.ResultURL, d.cfg.FallbackSuffix)
	if err != nil {
		return domain.Artifact{}, err
	}
	art := domain.Artifact{Provider: d.cfg.Name, LocalPath: path}
	if d.cfg.PreviewRemote {
		art.PreviewURL = task.ResultURL
	}
	d.logger.Info().
		Str("provider", d.cfg.Name).
		Str("task_id", task.ID).
		Int("polls", task.Polls).
		Str("path", path).
		Msg("proxy: task resolved")
	return art, nil
}

func (d *Driver) poll(ctx context.Context, statusURL string) (map[string]any, error) {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.PollTimeout)
	defer cancel()
	return d.call(ctx, http.MethodGet, statusURL, nil)
}

func (d *Driver) call(ctx context.Context, method, endpoint string, body []byte) (map[string]any, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("proxy: %s: build request: %w", d.cfg.Name, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if d.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+d.apiKey)
	}
	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("proxy: %s: http request: %w", d.cfg.Name, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("proxy: %s: read response: %w", d.cfg.Name, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &domain.RemoteRequestError{URL: endpoint, StatusCode: resp.StatusCode, BodyDigest: domain.BodyDigest(raw)}
	}
	doc, err := decodeObject(raw)
	if err != nil {
		return nil, &domain.ProviderProtocolError{Provider: d.cfg.Name, Detail: "invalid JSON response: " + err.Error()}
	}
	return doc, nil
}

func decodeObject(raw []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc map[string]any
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, errors.New("response is not an object")
	}
	return doc, nil
}

// firstString returns the first field holding a non-empty string or number.
func firstString(doc map[string]any, fields []string) string {
	for _, field := range fields {
		switch v := doc[field].(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case json.Number:
			return v.String()
		}
	}
	return ""
}

func foldStatus(v any) string {
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return cases.Fold().String(strings.TrimSpace(s))
}

func statusSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[cases.Fold().String(strings.TrimSpace(v))] = struct{}{}
	}
	return set
}
