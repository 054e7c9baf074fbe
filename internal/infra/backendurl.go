package infra

import (
	"errors"
	"net/url"
	"strings"
	"sync"
)

// BackendURL holds the base address of the local image backend. The admin
// endpoint swaps it at runtime while generation requests read it, so every
// access goes through the lock. Readers take one snapshot per request.
type BackendURL struct {
	mu  sync.RWMutex
	url string
}

// NewBackendURL seeds the cell with the configured address.
func NewBackendURL(initial string) *BackendURL {
	return &BackendURL{url: strings.TrimRight(strings.TrimSpace(initial), "/")}
}

// Get returns the current base URL.
func (b *BackendURL) Get() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.url
}

// Set replaces the base URL after validating it is an absolute http(s) URL.
func (b *BackendURL) Set(raw string) error {
	trimmed := strings.TrimRight(strings.TrimSpace(raw), "/")
	if trimmed == "" {
		return errors.New("backend url is empty")
	}
	parsed, err := url.Parse(trimmed)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return errors.New("backend url must be an absolute http(s) url")
	}
	b.mu.Lock()
	b.url = trimmed
	b.mu.Unlock()
	return nil
}
