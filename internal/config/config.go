package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Image providers.
const (
	ProviderHTTP   = "http"
	ProviderGemini = "gemini"
	ProviderImagen = "imagen"
)

// Cache backends.
const (
	CacheMemory = "memory"
	CacheRedis  = "redis"
	CacheObject = "object"
)

// Config holds runtime configuration values.
type Config struct {
	Env         string
	Port        string
	DatabaseURL string
	RedisURL    string
	Image       ImageConfig
	Render      RenderConfig
	Cache       CacheConfig
	Vision      VisionConfig
	Media       MediaConfig
}

// ImageConfig selects and authenticates the upstream image API.
type ImageConfig struct {
	Provider string
	BaseURL  string
	APIKey   string
	Model    string

	GeminiAPIKey string

	ImagenProject            string
	ImagenLocation           string
	ImagenModel              string
	ImagenEditModel          string
	ImagenServiceAccountFile string
	ImagenServiceAccountJSON string
}

// RenderConfig tunes the orchestrator and the job tracker.
type RenderConfig struct {
	UpstreamTimeout  time.Duration
	RateLimitBackoff time.Duration
	RatePerSecond    float64
	RateBurst        int
	RefineThreshold  string
	RefineWeight     float64
	DisableRefine    bool
	JobStaleAfter    time.Duration
	JobTTL           time.Duration
}

// CacheConfig selects the content cache backend.
type CacheConfig struct {
	Backend string
	TTL     time.Duration
	Prefix  string
}

// VisionConfig configures the room analyzer. Analysis is disabled when
// neither a key nor service account JSON is present.
type VisionConfig struct {
	APIKey             string
	Model              string
	ServiceAccountJSON string
}

// MediaConfig describes S3/media related configuration.
type MediaConfig struct {
	Bucket          string
	Region          string
	Endpoint        string
	PublicURL       string
	KeyPrefix       string
	AccessKeyID     string
	SecretAccessKey string
	ForcePathStyle  bool
	PublicACL       bool
	LocalDir        string
	LocalPublicBase string
}

// S3Enabled reports whether the S3 store can be built.
func (m MediaConfig) S3Enabled() bool {
	return m.Bucket != "" && m.Region != ""
}

// Error is a configuration problem the process cannot start with.
type Error struct {
	Field   string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// FromEnv loads configuration from environment variables and applies
// defaults. A .env file in the working directory is read if present.
func FromEnv() Config {
	_ = godotenv.Load()

	return Config{
		Env:         getenv("APP_ENV", "development"),
		Port:        getenv("PORT", getenv("APP_PORT", "8080")),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		RedisURL:    os.Getenv("REDIS_URL"),
		Image: ImageConfig{
			Provider:                 strings.ToLower(getenv("IMAGE_PROVIDER", ProviderHTTP)),
			BaseURL:                  os.Getenv("IMAGE_API_BASE_URL"),
			APIKey:                   os.Getenv("IMAGE_API_KEY"),
			Model:                    os.Getenv("IMAGE_MODEL"),
			GeminiAPIKey:             os.Getenv("GEMINI_API_KEY"),
			ImagenProject:            os.Getenv("IMAGEN_PROJECT_ID"),
			ImagenLocation:           getenv("IMAGEN_LOCATION", "us-central1"),
			ImagenModel:              os.Getenv("IMAGEN_MODEL"),
			ImagenEditModel:          os.Getenv("IMAGEN_EDIT_MODEL"),
			ImagenServiceAccountFile: os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"),
			ImagenServiceAccountJSON: os.Getenv("IMAGEN_SERVICE_ACCOUNT_JSON"),
		},
		Render: RenderConfig{
			UpstreamTimeout:  getenvDuration("RENDER_UPSTREAM_TIMEOUT", 3*time.Minute),
			RateLimitBackoff: getenvDuration("RENDER_RATE_LIMIT_BACKOFF", 2*time.Second),
			RatePerSecond:    getenvFloat("RENDER_RATE_PER_SECOND", 0),
			RateBurst:        getenvInt("RENDER_RATE_BURST", 1),
			RefineThreshold:  getenv("RENDER_REFINE_THRESHOLD", "medium"),
			RefineWeight:     getenvFloat("RENDER_REFINE_WEIGHT", 0.85),
			DisableRefine:    getenvBool("RENDER_DISABLE_REFINE", false),
			JobStaleAfter:    getenvDuration("JOB_STALE_AFTER", 3*time.Minute),
			JobTTL:           getenvDuration("JOB_TTL", 24*time.Hour),
		},
		Cache: CacheConfig{
			Backend: strings.ToLower(os.Getenv("CACHE_BACKEND")),
			TTL:     getenvDuration("CACHE_TTL", 7*24*time.Hour),
			Prefix:  os.Getenv("CACHE_PREFIX"),
		},
		Vision: VisionConfig{
			APIKey:             getenv("VISION_API_KEY", os.Getenv("GEMINI_API_KEY")),
			Model:              os.Getenv("VISION_MODEL"),
			ServiceAccountJSON: os.Getenv("VISION_SERVICE_ACCOUNT_JSON"),
		},
		Media: MediaConfig{
			Bucket:          os.Getenv("S3_BUCKET"),
			Region:          os.Getenv("S3_REGION"),
			Endpoint:        os.Getenv("S3_ENDPOINT"),
			PublicURL:       os.Getenv("S3_PUBLIC_URL"),
			KeyPrefix:       strings.Trim(os.Getenv("S3_KEY_PREFIX"), "/"),
			AccessKeyID:     os.Getenv("S3_ACCESS_KEY_ID"),
			SecretAccessKey: os.Getenv("S3_SECRET_ACCESS_KEY"),
			ForcePathStyle:  getenvBool("S3_FORCE_PATH_STYLE", false),
			PublicACL:       getenvBool("S3_PUBLIC_ACL", false),
			LocalDir:        os.Getenv("LOCAL_MEDIA_DIR"),
			LocalPublicBase: getenv("LOCAL_MEDIA_PUBLIC_BASE", "/media/"),
		},
	}
}

// Validate reports missing or contradictory settings.
func (c Config) Validate() error {
	if c.Port == "" {
		return &Error{Field: "PORT", Message: "cannot be empty"}
	}
	switch c.Image.Provider {
	case ProviderHTTP:
		if c.Image.BaseURL == "" {
			return &Error{Field: "IMAGE_API_BASE_URL", Message: "required for the http provider"}
		}
		if c.Image.APIKey == "" {
			return &Error{Field: "IMAGE_API_KEY", Message: "required for the http provider"}
		}
	case ProviderGemini:
		if c.Image.GeminiAPIKey == "" {
			return &Error{Field: "GEMINI_API_KEY", Message: "required for the gemini provider"}
		}
	case ProviderImagen:
		if c.Image.ImagenProject == "" {
			return &Error{Field: "IMAGEN_PROJECT_ID", Message: "required for the imagen provider"}
		}
		if c.Image.ImagenServiceAccountJSON == "" && c.Image.ImagenServiceAccountFile == "" && c.Image.APIKey == "" {
			return &Error{Field: "IMAGEN_SERVICE_ACCOUNT_JSON", Message: "imagen needs service account credentials or IMAGE_API_KEY"}
		}
	default:
		return &Error{Field: "IMAGE_PROVIDER", Message: fmt.Sprintf("unknown provider %q", c.Image.Provider)}
	}
	switch c.Cache.Backend {
	case "", CacheMemory:
	case CacheRedis:
		if c.RedisURL == "" {
			return &Error{Field: "REDIS_URL", Message: "required for the redis cache backend"}
		}
	case CacheObject:
		if !c.Media.S3Enabled() && c.Media.LocalDir == "" {
			return &Error{Field: "S3_BUCKET", Message: "object cache backend needs S3 or LOCAL_MEDIA_DIR"}
		}
	default:
		return &Error{Field: "CACHE_BACKEND", Message: fmt.Sprintf("unknown backend %q", c.Cache.Backend)}
	}
	if c.Render.RefineWeight <= 0 || c.Render.RefineWeight > 1 {
		return &Error{Field: "RENDER_REFINE_WEIGHT", Message: "must be in (0, 1]"}
	}
	return nil
}

// CacheBackend resolves the effective backend: redis when a Redis URL is
// configured and no backend was chosen explicitly.
func (c Config) CacheBackend() string {
	if c.Cache.Backend != "" {
		return c.Cache.Backend
	}
	if c.RedisURL != "" {
		return CacheRedis
	}
	return CacheMemory
}

func getenv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}

	return fallback
}

func getenvBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}

	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}

	return parsed
}

func getenvInt(key string, fallback int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return fallback
}

func getenvFloat(key string, fallback float64) float64 {
	if v, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil {
		return v
	}
	return fallback
}

// getenvDuration accepts Go durations ("90s") or plain seconds.
func getenvDuration(key string, fallback time.Duration) time.Duration {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return fallback
	}
	if d, err := time.ParseDuration(val); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(val); err == nil {
		return time.Duration(secs) * time.Second
	}
	return fallback
}
