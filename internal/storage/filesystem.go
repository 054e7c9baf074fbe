package storage

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io/fs"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	nameAlphabet   = "abcdefghijklmnopqrstuvwxyz0123456789"
	nameRandLength = 6
	nameAttempts   = 8
)

// FileStore persists generated artifacts in a local scratch directory. Files
// are never cleaned up by the gateway; ownership passes to the caller.
type FileStore struct {
	basePath string
	now      func() time.Time
	token    func(n int) (string, error)
}

// NewFileStore initializes a FileStore rooted at basePath. The directory is
// created when missing, and calling it repeatedly for the same path is safe.
func NewFileStore(basePath string) (*FileStore, error) {
	basePath = strings.TrimSpace(basePath)
	if basePath == "" {
		return nil, errors.New("storage: base path is required")
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("storage: ensure base path: %w", err)
	}
	if abs, err := filepath.Abs(basePath); err == nil {
		basePath = abs
	}
	return &FileStore{basePath: basePath, now: time.Now, token: randomToken}, nil
}

// BasePath returns the configured root directory.
func (s *FileStore) BasePath() string {
	if s == nil {
		return ""
	}
	return s.basePath
}

// Save writes data under a fresh asset_<unix>_<rand><suffix> name and returns
// the absolute path. The name is claimed with a hard link, so an existing
// file is never replaced and concurrent calls always produce distinct paths.
func (s *FileStore) Save(ctx context.Context, data []byte, suffix string) (string, error) {
	if s == nil {
		return "", errors.New("storage: no store configured")
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	suffix = normalizeSuffix(suffix)
	tmpPath, err := s.writeTemp(s.basePath, data)
	if err != nil {
		return "", err
	}
	defer os.Remove(tmpPath)

	for attempt := 0; attempt < nameAttempts; attempt++ {
		token, err := s.token(nameRandLength)
		if err != nil {
			return "", fmt.Errorf("storage: name token: %w", err)
		}
		full := filepath.Join(s.basePath, fmt.Sprintf("asset_%d_%s%s", s.now().Unix(), token, suffix))
		err = os.Link(tmpPath, full)
		if err == nil {
			return full, nil
		}
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		return "", fmt.Errorf("storage: claim file name: %w", err)
	}
	return "", errors.New("storage: could not allocate a unique file name")
}

// SaveAs writes data under the given name, replacing any previous file with
// that name, and returns the absolute path.
func (s *FileStore) SaveAs(ctx context.Context, name string, data []byte) (string, error) {
	key, err := s.Write(ctx, name, data)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.basePath, filepath.FromSlash(key)), nil
}

// Write persists the provided bytes at the given relative key and returns the
// canonicalized storage key. Keys are cleaned to prevent directory traversal.
// Bytes land in a temp file first and are renamed into place.
func (s *FileStore) Write(ctx context.Context, key string, data []byte) (string, error) {
	if s == nil {
		return "", errors.New("storage: no store configured")
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	cleanKey, err := sanitizeKey(key)
	if err != nil {
		return "", err
	}
	fullPath := filepath.Join(s.basePath, filepath.FromSlash(cleanKey))
	dir := filepath.Dir(fullPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("storage: ensure directory: %w", err)
	}
	tmpPath, err := s.writeTemp(dir, data)
	if err != nil {
		return "", err
	}
	if err := os.Rename(tmpPath, fullPath); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("storage: rename temp file: %w", err)
	}
	return cleanKey, nil
}

// writeTemp stores data in a hidden .partial file inside dir. The caller owns
// the returned path.
func (s *FileStore) writeTemp(dir string, data []byte) (string, error) {
	tmp, err := os.CreateTemp(dir, ".partial-*")
	if err != nil {
		return "", fmt.Errorf("storage: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	fail := func(verb string, err error) (string, error) {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("storage: %s: %w", verb, err)
	}
	if _, err := tmp.Write(data); err != nil {
		return fail("write file", err)
	}
	if err := tmp.Close(); err != nil {
		return fail("close file", err)
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		return fail("chmod file", err)
	}
	return tmpPath, nil
}

// sanitizeKey normalizes a key and prevents escaping the storage root.
func sanitizeKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", errors.New("storage: key is required")
	}
	key = strings.ReplaceAll(key, "\\", "/")
	key = strings.TrimPrefix(key, "./")
	key = strings.TrimLeft(key, "/")
	cleaned := filepath.Clean(key)
	cleaned = strings.ReplaceAll(cleaned, "\\", "/")
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", errors.New("storage: invalid key")
	}
	return cleaned, nil
}

func normalizeSuffix(suffix string) string {
	suffix = strings.TrimSpace(suffix)
	if suffix == "" {
		return ".bin"
	}
	if !strings.HasPrefix(suffix, ".") {
		suffix = "." + suffix
	}
	if strings.ContainsAny(suffix, `/\`) {
		return ".bin"
	}
	return suffix
}

func randomToken(n int) (string, error) {
	max := big.NewInt(int64(len(nameAlphabet)))
	out := make([]byte, n)
	for i := range out {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		out[i] = nameAlphabet[idx.Int64()]
	}
	return string(out), nil
}
