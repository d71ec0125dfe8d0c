package minio

import (
	"errors"
	"strings"
	"time"
)

// maxStatementTruncateLen bounds db.statement span attributes.
const maxStatementTruncateLen = 100

const (
	// DefaultEndpoint targets a MinIO instance on the local host.
	DefaultEndpoint = "localhost:9000"

	// DefaultRegion is used for bucket creation when Region is empty.
	DefaultRegion = "us-east-1"

	// DefaultHealthTimeout applies when the caller's context has no deadline.
	DefaultHealthTimeout = 5 * time.Second

	// healthProbeBucket is probed when HealthBucket is unset. It need not exist.
	healthProbeBucket = "health-check-probe"
)

// Secret is a string that redacts itself in logs and serialized config.
// Use [Secret.Value] to read it.
type Secret string

const redacted = "[REDACTED]"

// String returns "[REDACTED]".
func (s Secret) String() string { return redacted }

// GoString returns "[REDACTED]" for %#v.
func (s Secret) GoString() string { return redacted }

// Value returns the raw secret.
func (s Secret) Value() string { return string(s) }

// MarshalText keeps the secret out of JSON and YAML output.
func (s Secret) MarshalText() ([]byte, error) { return []byte(redacted), nil }

// Config holds the object storage connection settings. Env tags are
// relative; the service config nests it under MINIO.
type Config struct {
	// Endpoint is host:port without a scheme.
	Endpoint string `json:"endpoint,omitempty" yaml:"endpoint" env:"ENDPOINT" envDefault:"localhost:9000"`

	AccessKey string `json:"access_key,omitempty" yaml:"access_key" env:"ACCESS_KEY"`
	SecretKey Secret `json:"-" yaml:"-" env:"SECRET_KEY"`

	Region string `json:"region,omitempty" yaml:"region" env:"REGION" envDefault:"us-east-1"`

	// UseSSL selects https for both the client and generated public URLs.
	UseSSL bool `json:"use_ssl,omitempty" yaml:"use_ssl" env:"USE_SSL"`

	// HealthBucket is probed by Health. Empty means a probe name that need
	// not exist.
	HealthBucket string `json:"health_bucket,omitempty" yaml:"health_bucket" env:"HEALTH_BUCKET"`
}

// DefaultConfig returns a Config for a local MinIO.
func DefaultConfig() *Config {
	return &Config{
		Endpoint: DefaultEndpoint,
		Region:   DefaultRegion,
	}
}

// Validate checks required fields and fills Region. It mutates c.
func (c *Config) Validate() error {
	if c.Endpoint == "" {
		return errors.New("minio: config endpoint must not be empty")
	}
	if strings.Contains(c.Endpoint, "://") || strings.Contains(c.Endpoint, "/") {
		return errors.New("minio: config endpoint must be host:port without scheme or path")
	}
	if c.AccessKey == "" {
		return errors.New("minio: config access_key must not be empty")
	}
	if c.Region == "" {
		c.Region = DefaultRegion
	}
	return nil
}

// EndpointURL returns the endpoint with its scheme, e.g. "http://localhost:9000".
func (c *Config) EndpointURL() string {
	scheme := "http"
	if c.UseSSL {
		scheme = "https"
	}
	return scheme + "://" + c.Endpoint
}

func truncateStatement(s string) string {
	runes := []rune(s)
	if len(runes) <= maxStatementTruncateLen {
		return s
	}
	return string(runes[:maxStatementTruncateLen]) + "..."
}
