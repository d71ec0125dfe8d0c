package server

import (
	"log/slog"
	"math"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/StricklySoft/stricklysoft-fstorage/internal/testutil"
	"github.com/StricklySoft/stricklysoft-fstorage/pkg/config"
	sserr "github.com/StricklySoft/stricklysoft-fstorage/pkg/errors"
)

func baseEnv() map[string]string {
	return map[string]string{
		"AUTH_BASE_URL":    "http://auth.internal:4000",
		"MINIO_ACCESS_KEY": "minioadmin",
		"MINIO_SECRET_KEY": "minioadmin",
	}
}

func loadConfig(env map[string]string) (Config, error) {
	var cfg Config
	err := config.New().WithLookup(testutil.EnvMap(env)).Load(&cfg)
	return cfg, err
}

func TestConfig_Defaults(t *testing.T) {
	t.Parallel()
	cfg, err := loadConfig(baseEnv())
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 5*time.Second, cfg.KeySetTimeout)
	assert.Zero(t, cfg.ClockSkew)
	assert.EqualValues(t, 52428800, cfg.MaxUploadBytes)
	assert.Equal(t, 10, cfg.MaxFilesPerUpload)
	assert.Equal(t, 10*time.Second, cfg.ReadHeaderTimeout)
	assert.Equal(t, 15*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, "*", cfg.CORSAllowedOrigins)
	assert.Equal(t, "fstorage", cfg.Storage.Bucket)
	assert.Equal(t, "localhost:9000", cfg.MinIO.Endpoint)
	assert.False(t, cfg.Redis.Enabled)
	assert.False(t, cfg.Postgres.Enabled)
	assert.Equal(t, "fstorage", cfg.Telemetry.ServiceName)
	assert.Equal(t, "http://localhost:9000", cfg.PublicBaseURL())

	level, err := cfg.SlogLevel()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelInfo, level)
}

func TestConfig_Overrides(t *testing.T) {
	t.Parallel()
	env := baseEnv()
	env["API_PORT"] = "9090"
	env["AUTH_JWKS_TIMEOUT"] = "750ms"
	env["AUTH_CLOCK_SKEW"] = "30s"
	env["LOG_LEVEL"] = "debug"
	env["STORAGE_BUCKET"] = "uploads"
	env["STORAGE_PUBLIC_BASE_URL"] = "https://cdn.example.com"
	env["MINIO_ENDPOINT"] = "minio:9000"
	env["MINIO_USE_SSL"] = "true"
	env["REDIS_ENABLED"] = "true"
	env["REDIS_URI"] = "redis://redis:6379/0"
	env["POSTGRES_ENABLED"] = "true"
	env["POSTGRES_URI"] = "postgres://fstorage@db:5432/fstorage"
	env["OTEL_EXPORTER_OTLP_ENDPOINT"] = "collector:4318"
	env["OTEL_TRACES_SAMPLER"] = "always_on"

	cfg, err := loadConfig(env)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, 750*time.Millisecond, cfg.KeySetTimeout)
	assert.Equal(t, 30*time.Second, cfg.ClockSkew)
	assert.Equal(t, "uploads", cfg.Storage.Bucket)
	assert.Equal(t, "https://cdn.example.com", cfg.PublicBaseURL())
	assert.Equal(t, "minio:9000", cfg.MinIO.Endpoint)
	assert.True(t, cfg.MinIO.UseSSL)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, "redis://redis:6379/0", cfg.Redis.URI)
	assert.True(t, cfg.Postgres.Enabled)
	assert.Equal(t, "collector:4318", cfg.Telemetry.Endpoint)
	assert.Equal(t, "always_on", cfg.Telemetry.Sampler)

	level, err := cfg.SlogLevel()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, level)
}

func TestConfig_MissingAuthBaseURL(t *testing.T) {
	t.Parallel()
	env := baseEnv()
	delete(env, "AUTH_BASE_URL")

	_, err := loadConfig(env)
	testutil.RequireErrorCode(t, err, sserr.CodeValidationRequired)
}

func TestConfig_Invalid(t *testing.T) {
	t.Parallel()
	tests := map[string]map[string]string{
		"non-http authority":      {"AUTH_BASE_URL": "ftp://auth"},
		"relative authority":      {"AUTH_BASE_URL": "/auth"},
		"port out of range":       {"API_PORT": "70000"},
		"zero key set budget":     {"AUTH_JWKS_TIMEOUT": "0s"},
		"negative skew":           {"AUTH_CLOCK_SKEW": "-1s"},
		"zero upload limit":       {"MAX_UPLOAD_BYTES": "0"},
		"zero files":              {"MAX_FILES_PER_UPLOAD": "0"},
		"request limit overflows": {"MAX_UPLOAD_BYTES": "4611686018427387904", "MAX_FILES_PER_UPLOAD": "2"},
		"max int upload limit":    {"MAX_UPLOAD_BYTES": "9223372036854775807"},
		"blank bucket":            {"STORAGE_BUCKET": " "},
		"bad log level":           {"LOG_LEVEL": "chatty"},
		"minio url endpoint":      {"MINIO_ENDPOINT": "http://minio:9000"},
		"otel url endpoint":       {"OTEL_EXPORTER_OTLP_ENDPOINT": "http://collector:4318"},
	}
	for name, overrides := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			env := baseEnv()
			for k, v := range overrides {
				env[k] = v
			}
			_, err := loadConfig(env)
			require.Error(t, err)
			assert.True(t, sserr.IsValidation(err), "got %v", err)
		})
	}
}

func TestConfig_MaxRequestBytes(t *testing.T) {
	t.Parallel()
	cfg := Config{MaxUploadBytes: 100, MaxFilesPerUpload: 3}
	assert.EqualValues(t, 300+1<<20, cfg.maxRequestBytes())
}

func TestConfig_LargestUploadLimit(t *testing.T) {
	t.Parallel()
	env := baseEnv()
	env["MAX_FILES_PER_UPLOAD"] = "1"
	env["MAX_UPLOAD_BYTES"] = strconv.FormatInt(math.MaxInt64-multipartEnvelope, 10)

	cfg, err := loadConfig(env)
	require.NoError(t, err)
	assert.EqualValues(t, int64(math.MaxInt64), cfg.maxRequestBytes())
}
