package telemetry

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/StricklySoft/stricklysoft-fstorage/internal/testutil"
)

func quietLogger() *slog.Logger {
	logger, _ := testutil.NewLogger()
	return logger
}

func sampleDecision(s sdktrace.Sampler) sdktrace.SamplingDecision {
	return s.ShouldSample(sdktrace.SamplingParameters{
		ParentContext: context.Background(),
		TraceID:       oteltrace.TraceID{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16},
		Name:          "telemetry-test",
	}).Decision
}

func TestParseSampler(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name, arg string
		want      sdktrace.SamplingDecision
	}{
		{"always_off", "", sdktrace.Drop},
		{"always_on", "", sdktrace.RecordAndSample},
		{"traceidratio", "2", sdktrace.RecordAndSample},
		{"traceidratio", "-1", sdktrace.Drop},
		{"parentbased_always_off", "", sdktrace.Drop},
		{"parentbased_always_on", "", sdktrace.RecordAndSample},
		{"parentbased_traceidratio", "0", sdktrace.Drop},
		{"", "", sdktrace.RecordAndSample},
		{"bogus", "not-a-number", sdktrace.RecordAndSample},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, sampleDecision(parseSampler(tt.name, tt.arg)), "%s(%q)", tt.name, tt.arg)
	}
}

func TestParseHeaders(t *testing.T) {
	t.Parallel()
	assert.Equal(t, map[string]string{"k1": "v1", "k2": "v2"}, parseHeaders("k1=v1, k2 = v2,broken, =bad"))
	assert.Nil(t, parseHeaders("   "))
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()
	ok := Config{Endpoint: "collector:4318", Timeout: time.Second}
	require.NoError(t, ok.Validate())

	bad := Config{Endpoint: "http://collector:4318"}
	assert.Error(t, bad.Validate())

	neg := Config{Timeout: -time.Second}
	assert.Error(t, neg.Validate())
}

// Init mutates global otel state, so the Init tests do not run in parallel.

func TestInit_WithoutExporter(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{ServiceName: "  "}, quietLogger())
	require.NoError(t, err)
	require.NotNil(t, shutdown)

	_, span := otel.Tracer("test").Start(context.Background(), "op")
	assert.True(t, span.SpanContext().IsValid())
	span.End()

	require.NoError(t, shutdown(context.Background()))
}

func TestInit_OptionalExporterFailureFallsBack(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	shutdown, err := Init(ctx, Config{Endpoint: "localhost:4318"}, quietLogger())
	require.NoError(t, err)
	_ = shutdown(context.Background())
}

func TestInit_RequiredExporterFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	host := ln.Addr().String()
	require.NoError(t, ln.Close())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Init(ctx, Config{Endpoint: "http://" + host, Required: true}, quietLogger())
	assert.Error(t, err)
}

func TestInit_ExportsToCollector(t *testing.T) {
	received := make(chan string, 16)
	collector := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received <- r.Header.Get("X-Test")
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(collector.Close)
	u, err := url.Parse(collector.URL)
	require.NoError(t, err)

	cfg := Config{
		ServiceName: "fstorage-test",
		Endpoint:    u.Host,
		Headers:     "x-test=1",
		Insecure:    true,
		Timeout:     2 * time.Second,
		Required:    true,
		Sampler:     "always_on",
	}
	shutdown, err := Init(context.Background(), cfg, quietLogger())
	require.NoError(t, err)

	_, span := otel.Tracer("test").Start(context.Background(), "upload")
	span.End()
	require.NoError(t, shutdown(context.Background()))

	select {
	case got := <-received:
		assert.Equal(t, "1", got)
	case <-time.After(5 * time.Second):
		t.Fatal("collector received no export request")
	}
}

func TestHTTPMiddleware_SpanName(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	handler := HTTPMiddleware(" ")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusNoContent, rr.Code)
	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "GET /healthz", spans[0].Name())
	assert.Equal(t, oteltrace.SpanKindServer, spans[0].SpanKind())
}
