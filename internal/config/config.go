package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	VisionBackendAzure = "azure"
	VisionBackendGRPC  = "grpc"

	ImageStoreImgur      = "imgur"
	ImageStoreFilesystem = "filesystem"
)

// Config is the process configuration resolved from the environment.
type Config struct {
	HTTPAddr    string
	LogLevel    string
	DatabaseDSN string
	RedisAddr   string

	JWTSecret   string
	JWTAudience string

	VisionBackend       string
	AzureVisionEndpoint string
	AzureVisionKey      string
	AzureFaceEndpoint   string
	AzureFaceKey        string
	VisionGatewayAddr   string

	FaceGalleryID     string
	IdentityThreshold float64

	OCRPollInterval time.Duration
	OCRMaxAttempts  int
	OCRTimeout      time.Duration

	ImageStore       string
	ImgurClientID    string
	ImgurAccessToken string
	MediaDir         string
	MediaBaseURL     string
	WorkDir          string
}

// Load reads an optional .env file and then the process environment.
func Load(files ...string) (*Config, error) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load env file: %w", err)
	}
	return FromLookup(os.LookupEnv)
}

// FromLookup builds a Config from an arbitrary variable source.
func FromLookup(lookup func(string) (string, bool)) (*Config, error) {
	env := &reader{lookup: lookup}

	cfg := &Config{
		HTTPAddr:    env.str("HTTP_ADDR", ":8080"),
		LogLevel:    env.str("LOG_LEVEL", "info"),
		DatabaseDSN: env.str("DATABASE_DSN", "host=postgres user=postgres password=postgres dbname=snapshot port=5432 sslmode=disable"),
		RedisAddr:   env.str("REDIS_ADDR", "redis:6379"),

		JWTSecret:   env.str("JWT_SECRET", "dev-secret"),
		JWTAudience: env.str("JWT_AUDIENCE", ""),

		VisionBackend:       strings.ToLower(env.str("VISION_BACKEND", VisionBackendAzure)),
		AzureVisionEndpoint: env.str("AZURE_VISION_ENDPOINT", ""),
		AzureVisionKey:      env.str("AZURE_VISION_KEY", ""),
		AzureFaceEndpoint:   env.str("AZURE_FACE_ENDPOINT", ""),
		AzureFaceKey:        env.str("AZURE_FACE_KEY", ""),
		VisionGatewayAddr:   env.str("VISION_GATEWAY_ADDR", "vision-gateway:50051"),

		FaceGalleryID:     env.str("FACE_GALLERY_ID", ""),
		IdentityThreshold: env.float("IDENTITY_THRESHOLD", 0.5),

		OCRPollInterval: env.duration("OCR_POLL_INTERVAL", time.Second),
		OCRMaxAttempts:  env.int("OCR_MAX_ATTEMPTS", 60),
		OCRTimeout:      env.duration("OCR_TIMEOUT", 90*time.Second),

		ImageStore:       strings.ToLower(env.str("IMAGE_STORE", ImageStoreImgur)),
		ImgurClientID:    env.str("IMGUR_CLIENT_ID", ""),
		ImgurAccessToken: env.str("IMGUR_ACCESS_TOKEN", ""),
		MediaDir:         env.str("MEDIA_DIR", "media"),
		MediaBaseURL:     env.str("MEDIA_BASE_URL", "http://localhost:8080/media"),
		WorkDir:          env.str("WORK_DIR", os.TempDir()),
	}

	if len(env.errs) > 0 {
		return nil, errors.Join(env.errs...)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field requirements.
func (c *Config) Validate() error {
	var errs []error

	switch c.VisionBackend {
	case VisionBackendAzure:
		if c.AzureVisionEndpoint == "" || c.AzureVisionKey == "" {
			errs = append(errs, errors.New("AZURE_VISION_ENDPOINT and AZURE_VISION_KEY are required for the azure backend"))
		}
		if c.AzureFaceEndpoint == "" || c.AzureFaceKey == "" {
			errs = append(errs, errors.New("AZURE_FACE_ENDPOINT and AZURE_FACE_KEY are required for the azure backend"))
		}
	case VisionBackendGRPC:
		if c.VisionGatewayAddr == "" {
			errs = append(errs, errors.New("VISION_GATEWAY_ADDR is required for the grpc backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown VISION_BACKEND %q", c.VisionBackend))
	}

	switch c.ImageStore {
	case ImageStoreImgur:
		if c.ImgurClientID == "" && c.ImgurAccessToken == "" {
			errs = append(errs, errors.New("IMGUR_CLIENT_ID or IMGUR_ACCESS_TOKEN is required for the imgur store"))
		}
	case ImageStoreFilesystem:
		if c.MediaDir == "" || c.MediaBaseURL == "" {
			errs = append(errs, errors.New("MEDIA_DIR and MEDIA_BASE_URL are required for the filesystem store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown IMAGE_STORE %q", c.ImageStore))
	}

	if c.FaceGalleryID == "" {
		errs = append(errs, errors.New("FACE_GALLERY_ID is required"))
	}
	if c.IdentityThreshold <= 0 || c.IdentityThreshold > 1 {
		errs = append(errs, fmt.Errorf("IDENTITY_THRESHOLD must be within (0,1], got %v", c.IdentityThreshold))
	}
	if c.OCRPollInterval <= 0 {
		errs = append(errs, errors.New("OCR_POLL_INTERVAL must be positive"))
	}
	if c.OCRMaxAttempts <= 0 {
		errs = append(errs, errors.New("OCR_MAX_ATTEMPTS must be positive"))
	}
	if c.OCRTimeout <= 0 {
		errs = append(errs, errors.New("OCR_TIMEOUT must be positive"))
	}

	return errors.Join(errs...)
}

type reader struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (r *reader) str(key, fallback string) string {
	if value, ok := r.lookup(key); ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func (r *reader) float(key string, fallback float64) float64 {
	raw := r.str(key, "")
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return value
}

func (r *reader) int(key string, fallback int) int {
	raw := r.str(key, "")
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return value
}

func (r *reader) duration(key string, fallback time.Duration) time.Duration {
	raw := r.str(key, "")
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return value
}
