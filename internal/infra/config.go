package infra

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv    string
	Host      string
	Port      string
	AssetsDir string

	SDURL      string
	SDWidth    int
	SDHeight   int
	SDSteps    int
	SDCFGScale float64

	MJProxyBaseURL   string
	MJProxyAPIKey    string
	SunoProxyBaseURL string
	SunoProxyAPIKey  string
	PollInterval     time.Duration

	PromptProvider  string
	GeminiAPIKey    string
	GeminiModel     string
	GeminiBaseURL   string
	OpenAIAPIKey    string
	OpenAIModel     string
	OpenAIBaseURL   string
	RefineCacheSize int
	RefineCacheTTL  time.Duration

	RembgURL string

	CORSOrigins      []string
	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
// When GATEWAY_CONFIG points at a YAML file of KEY: value pairs, those values act as
// defaults underneath the process environment.
func LoadConfig() (*Config, error) {
	src := envSource{}
	if path := strings.TrimSpace(os.Getenv("GATEWAY_CONFIG")); path != "" {
		file, err := loadFileSource(path)
		if err != nil {
			return nil, err
		}
		src.file = file
	}

	cfg := &Config{
		AppEnv:    src.get("APP_ENV", "development"),
		Host:      src.get("HOST", "127.0.0.1"),
		Port:      src.get("PORT", "8000"),
		AssetsDir: src.get("ASSETS_DIR", filepath.Join(os.TempDir(), "after_ai_assets")),

		SDURL:      src.get("SD_URL", "http://127.0.0.1:7860"),
		SDWidth:    src.getInt("SD_WIDTH", 1024),
		SDHeight:   src.getInt("SD_HEIGHT", 576),
		SDSteps:    src.getInt("SD_STEPS", 24),
		SDCFGScale: src.getFloat("SD_CFG_SCALE", 7),

		MJProxyBaseURL:   src.get("MJ_PROXY_BASE_URL", ""),
		MJProxyAPIKey:    src.get("MJ_PROXY_API_KEY", ""),
		SunoProxyBaseURL: src.get("SUNO_PROXY_BASE_URL", ""),
		SunoProxyAPIKey:  src.get("SUNO_PROXY_API_KEY", ""),
		PollInterval:     src.getDuration("POLL_INTERVAL", 2*time.Second),

		PromptProvider:  strings.ToLower(src.get("PROMPT_PROVIDER", "gemini")),
		GeminiAPIKey:    src.get("GEMINI_API_KEY", ""),
		GeminiModel:     src.get("GEMINI_MODEL", "gemini-1.5-pro"),
		GeminiBaseURL:   src.get("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com/v1beta"),
		OpenAIAPIKey:    src.get("OPENAI_API_KEY", ""),
		OpenAIModel:     src.get("OPENAI_MODEL", "gpt-4o-mini"),
		OpenAIBaseURL:   src.get("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		RefineCacheSize: src.getInt("REFINE_CACHE_SIZE", 256),
		RefineCacheTTL:  src.getDuration("REFINE_CACHE_TTL", time.Hour),

		RembgURL: src.get("REMBG_URL", "http://127.0.0.1:7000"),

		CORSOrigins:      splitList(src.get("CORS_ORIGINS", "*")),
		HTTPReadTimeout:  time.Second * time.Duration(src.getInt("HTTP_READ_TIMEOUT_SECONDS", 30)),
		HTTPWriteTimeout: time.Second * time.Duration(src.getInt("HTTP_WRITE_TIMEOUT_SECONDS", 600)),
		HTTPIdleTimeout:  time.Second * time.Duration(src.getInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
	}

	switch cfg.PromptProvider {
	case "gemini", "openai":
	default:
		return nil, fmt.Errorf("PROMPT_PROVIDER must be gemini or openai, got %q", cfg.PromptProvider)
	}
	if cfg.PollInterval <= 0 {
		return nil, fmt.Errorf("POLL_INTERVAL must be positive")
	}

	return cfg, nil
}

type envSource struct {
	file map[string]string
}

func loadFileSource(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	values := map[string]string{}
	if err := yaml.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return values, nil
}

func (s envSource) lookup(key string) (string, bool) {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v), true
	}
	if v, ok := s.file[key]; ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v), true
	}
	return "", false
}

func (s envSource) get(key, fallback string) string {
	if v, ok := s.lookup(key); ok {
		return v
	}
	return fallback
}

func (s envSource) getInt(key string, fallback int) int {
	if v, ok := s.lookup(key); ok {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func (s envSource) getFloat(key string, fallback float64) float64 {
	if v, ok := s.lookup(key); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func (s envSource) getDuration(key string, fallback time.Duration) time.Duration {
	if v, ok := s.lookup(key); ok {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
