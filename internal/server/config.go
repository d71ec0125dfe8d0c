package server

import (
	"fmt"
	"log/slog"
	"math"
	"net/url"
	"strings"
	"time"

	"github.com/StricklySoft/stricklysoft-fstorage/pkg/clients/minio"
	"github.com/StricklySoft/stricklysoft-fstorage/pkg/clients/postgres"
	"github.com/StricklySoft/stricklysoft-fstorage/pkg/clients/redis"
	"github.com/StricklySoft/stricklysoft-fstorage/pkg/telemetry"
)

// Config is the complete fstorage configuration, loaded by pkg/config.
type Config struct {
	Port int `json:"port" yaml:"port" env:"API_PORT" envDefault:"8080"`

	// AuthBaseURL is the authority that publishes the signing key set.
	AuthBaseURL   string        `json:"auth_base_url" yaml:"auth_base_url" env:"AUTH_BASE_URL" required:"true"`
	KeySetTimeout time.Duration `json:"auth_jwks_timeout" yaml:"auth_jwks_timeout" env:"AUTH_JWKS_TIMEOUT" envDefault:"5s"`
	ClockSkew     time.Duration `json:"auth_clock_skew" yaml:"auth_clock_skew" env:"AUTH_CLOCK_SKEW"`

	// MaxUploadBytes limits each uploaded file.
	MaxUploadBytes    int64 `json:"max_upload_bytes" yaml:"max_upload_bytes" env:"MAX_UPLOAD_BYTES" envDefault:"52428800"`
	MaxFilesPerUpload int   `json:"max_files_per_upload" yaml:"max_files_per_upload" env:"MAX_FILES_PER_UPLOAD" envDefault:"10"`

	ReadHeaderTimeout time.Duration `json:"read_header_timeout" yaml:"read_header_timeout" env:"HTTP_READ_HEADER_TIMEOUT" envDefault:"10s"`
	ShutdownTimeout   time.Duration `json:"shutdown_timeout" yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT" envDefault:"15s"`

	LogLevel string `json:"log_level" yaml:"log_level" env:"LOG_LEVEL" envDefault:"info"`

	// CORSAllowedOrigins is a comma-separated allowlist; "*" allows any.
	CORSAllowedOrigins string `json:"cors_allowed_origins" yaml:"cors_allowed_origins" env:"CORS_ALLOWED_ORIGINS" envDefault:"*"`

	Storage   StorageConfig    `json:"storage" yaml:"storage" env:"STORAGE"`
	MinIO     minio.Config     `json:"minio" yaml:"minio" env:"MINIO"`
	Redis     redis.Config     `json:"redis" yaml:"redis" env:"REDIS"`
	Postgres  postgres.Config  `json:"postgres" yaml:"postgres" env:"POSTGRES"`
	Telemetry telemetry.Config `json:"telemetry" yaml:"telemetry" env:"OTEL"`
}

// StorageConfig selects the bucket and the address clients download from.
type StorageConfig struct {
	Bucket string `json:"bucket" yaml:"bucket" env:"BUCKET" envDefault:"fstorage"`

	// PublicBaseURL defaults to the MinIO endpoint URL.
	PublicBaseURL string `json:"public_base_url,omitempty" yaml:"public_base_url" env:"PUBLIC_BASE_URL"`
}

// Validate checks the top-level fields. Nested sections validate
// themselves.
func (c *Config) Validate() error {
	u, err := url.Parse(strings.TrimSpace(c.AuthBaseURL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("server: AUTH_BASE_URL must be an absolute http(s) URL, got %q", c.AuthBaseURL)
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("server: port must be between 1 and 65535, got %d", c.Port)
	}
	if c.KeySetTimeout <= 0 {
		return fmt.Errorf("server: key set timeout must be positive, got %s", c.KeySetTimeout)
	}
	if c.ClockSkew < 0 {
		return fmt.Errorf("server: clock skew must not be negative, got %s", c.ClockSkew)
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("server: max upload bytes must be positive, got %d", c.MaxUploadBytes)
	}
	if c.MaxFilesPerUpload <= 0 {
		return fmt.Errorf("server: max files per upload must be positive, got %d", c.MaxFilesPerUpload)
	}
	if c.MaxUploadBytes > (math.MaxInt64-multipartEnvelope)/int64(c.MaxFilesPerUpload) {
		return fmt.Errorf("server: max upload bytes %d times %d files overflows the request limit",
			c.MaxUploadBytes, c.MaxFilesPerUpload)
	}
	if strings.TrimSpace(c.Storage.Bucket) == "" {
		return fmt.Errorf("server: storage bucket is required")
	}
	if _, err := c.SlogLevel(); err != nil {
		return err
	}
	return nil
}

// SlogLevel parses LogLevel ("debug", "info", "warn", "error").
func (c *Config) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("server: invalid log level %q: %w", c.LogLevel, err)
	}
	return level, nil
}

// PublicBaseURL returns Storage.PublicBaseURL, or the MinIO endpoint when
// unset.
func (c *Config) PublicBaseURL() string {
	if c.Storage.PublicBaseURL != "" {
		return c.Storage.PublicBaseURL
	}
	return c.MinIO.EndpointURL()
}

// multipartEnvelope is the room left for multipart headers and fields.
const multipartEnvelope = 1 << 20

// maxRequestBytes bounds a whole upload request: every file at its limit
// plus the envelope. Validate keeps the product within int64.
func (c *Config) maxRequestBytes() int64 {
	return c.MaxUploadBytes*int64(c.MaxFilesPerUpload) + multipartEnvelope
}
